// Package relay implements the signaling plane of a screen sharing
// session: one host streams, many viewers watch, and every message
// between them passes through here as opaque payload.
package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ushalabs/beamcast/pkg/config"
	"github.com/ushalabs/beamcast/pkg/logger"
	"github.com/ushalabs/beamcast/pkg/network/httpx"
	"github.com/ushalabs/beamcast/pkg/service"
	"github.com/ushalabs/beamcast/pkg/storage"
)

type Relay struct {
	service.RunnableService

	Registry *Registry
	Metrics  *Metrics

	lifecycle *Lifecycle
	server    *httpx.Server
	log       *logger.Logger
}

func New(conf config.Config, sink EngagementSink, store storage.Store, log *logger.Logger) (*Relay, error) {
	registry := NewRegistry(log)
	metrics := NewMetrics(prometheus.DefaultRegisterer, registry)
	router := NewRouter(registry, sink, metrics, log)
	lifecycle := NewLifecycle(conf.Relay.Session, registry, router, store, log)

	r := &Relay{
		Registry:  registry,
		Metrics:   metrics,
		lifecycle: lifecycle,
		log:       log,
	}

	server, err := httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler {
			mux := http.NewServeMux()
			mux.HandleFunc("/signal/", lifecycle.HandleSignal)
			mux.HandleFunc("/healthz", func(w httpx.ResponseWriter, _ *httpx.Request) {
				w.WriteHeader(http.StatusOK)
			})
			return mux
		},
		httpx.WithServerConfig(conf.Relay.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	r.server = server
	return r, nil
}

func (r *Relay) Run() { r.server.Run() }

func (r *Relay) Shutdown(_ context.Context) error {
	// the listener close doesn't touch hijacked sockets, so the
	// registered connections are dropped explicitly
	err := r.server.Stop()
	for _, c := range r.Registry.All() {
		c.Disconnect()
	}
	return err
}

func (r *Relay) String() string { return fmt.Sprintf("relay::%s", r.server.Addr) }
