package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ushalabs/beamcast/pkg/config"
	"github.com/ushalabs/beamcast/pkg/engagement"
	"github.com/ushalabs/beamcast/pkg/logger"
	"github.com/ushalabs/beamcast/pkg/monitoring"
	"github.com/ushalabs/beamcast/pkg/os"
	"github.com/ushalabs/beamcast/pkg/relay"
	"github.com/ushalabs/beamcast/pkg/service"
	"github.com/ushalabs/beamcast/pkg/storage"
)

// Version is set at build time.
var Version = "dev"

func main() {
	conf, err := config.NewConfig("")
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config fail")
	}
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)
	log.Info().Msgf("beamcast [%v]", Version)
	log.Info().Msgf("conf: %+v", conf)

	store, err := newStore(conf.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage fail")
	}

	sink := engagement.NewSink(conf.Engagement.QueueSize, conf.Engagement.WriteTimeout, store, log)
	r, err := relay.New(conf, sink, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay fail")
	}
	sink.OnDrop = r.Metrics.EngagementDropped

	services := service.Group{}
	services.Add(sink, r)
	services.AddIf(conf.Monitoring.IsEnabled(), monitoring.New(conf.Monitoring, "r", log))
	services.Start()

	<-os.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("storage close fail")
	}
}

func newStore(conf config.Storage, log *logger.Logger) (storage.Store, error) {
	if conf.Sqlite == "" {
		log.Info().Msg("persistence is off")
		return storage.Noop{}, nil
	}
	if err := os.CheckCreateDir(filepath.Dir(conf.Sqlite)); err != nil {
		return nil, err
	}
	log.Info().Msgf("sqlite: %v", conf.Sqlite)
	return storage.NewSqlite(conf.Sqlite)
}
