package relay

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/config"
	"github.com/ushalabs/beamcast/pkg/logger"
	"github.com/ushalabs/beamcast/pkg/network/websocket"
	"github.com/ushalabs/beamcast/pkg/storage"
)

// session ids are externally issued and validated by format only
var sessionIdFormat = regexp.MustCompile(`^[A-Za-z0-9_-]{3,255}$`)

func ValidSessionId(sid string) bool { return sessionIdFormat.MatchString(sid) }

const persistTimeout = 2 * time.Second

// Lifecycle drives every connection through Connecting → Open → Closed:
// it validates the session id, assigns viewer identities, registers the
// connection, pumps its messages into the router, and on close emits
// the lifecycle notifications and garbage-collects empty sessions.
type Lifecycle struct {
	conf     config.Session
	registry *Registry
	router   *Router
	store    storage.Store
	upgrader *websocket.Upgrader
	log      *logger.Logger
}

func NewLifecycle(conf config.Session, registry *Registry, router *Router, store storage.Store, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		conf:     conf,
		registry: registry,
		router:   router,
		store:    store,
		upgrader: websocket.NewUpgrader(conf.Origin),
		log:      log,
	}
}

// HandleSignal serves the /signal/{sessionId} endpoint.
// The host=true query marker distinguishes the host from viewers.
func (l *Lifecycle) HandleSignal(w http.ResponseWriter, r *http.Request) {
	sid := sessionIdFromPath(r.URL.Path)
	if !ValidSessionId(sid) {
		l.log.Warn().Str("sid", sid).Str("ip", r.RemoteAddr).Msg("invalid session id")
		l.upgrader.Refuse(w, r, "invalid session id")
		return
	}

	role := RoleViewer
	if r.URL.Query().Get("host") == "true" {
		role = RoleHost
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Error().Err(err).Msg("couldn't upgrade the connection")
		return
	}
	sock, err := websocket.NewServerWithConn(conn, l.log)
	if err != nil {
		l.log.Error().Err(err).Msg("couldn't wrap the connection")
		return
	}

	c := NewConnection(sid, role, sock, l.log)
	sock.SetPingInterval(l.conf.PingInterval)
	sock.SetMessageHandler(func(message []byte, _ error) { l.handleMessage(c, message) })
	done := sock.Listen()

	if err := l.open(c, r); err != nil {
		_ = c.Send(api.Out{T: api.Error, Data: api.ErrorInfo{Reason: err.Error()}})
		sock.Close()
		<-done
		return
	}

	l.log.Info().
		Str("sid", sid).
		Str("cid", c.Id().Short()).
		Msgf("%v connected", c.Role())

	<-done
	l.close(c)
}

// open transitions Connecting → Open: register, acknowledge, report.
func (l *Lifecycle) open(c *Connection, r *http.Request) error {
	if err := l.registry.Register(c); err != nil {
		l.log.Warn().Str("sid", c.SessionId()).Err(err).Msg("registration refused")
		return err
	}
	c.open()

	ack := api.ConnectedInfo{SessionId: c.SessionId(), IsHost: c.IsHost()}
	if !c.IsHost() {
		ack.ViewerId = c.Tag()
	}
	if err := c.Send(api.Out{T: api.Connected, Data: ack}); err != nil {
		l.log.Warn().Err(err).Str("sid", c.SessionId()).Msg("couldn't ack the connection")
	}

	if !c.IsHost() {
		join := storage.ViewerJoin{
			SessionId:     c.SessionId(),
			ViewerId:      c.Tag(),
			UserAgent:     r.UserAgent(),
			RemoteControl: r.URL.Query().Get("control") == "true",
		}
		// best-effort, a persistence failure never blocks acceptance
		go l.reportViewerJoin(join)
	}
	return nil
}

func (l *Lifecycle) handleMessage(c *Connection, message []byte) {
	// nothing is routed for a connection that isn't registered:
	// a client may write right after the upgrade, before (or despite)
	// the registration verdict
	if !c.IsOpen() {
		l.log.Debug().Str("sid", c.SessionId()).Str("from", c.Tag()).Msg("message before open dropped")
		return
	}
	in, err := api.Decode(message)
	if err != nil || !in.T.Valid() {
		l.log.Warn().Str("sid", c.SessionId()).Str("from", c.Tag()).Msg("malformed message")
		_ = c.Send(api.Out{T: api.Error, Data: api.ErrorInfo{Reason: "invalid message format"}})
		return
	}
	l.router.Route(c, in)
}

// close transitions Open → Closed: deregister and notify the peers.
// When the host departs, every still-registered viewer gets exactly one
// session-ended notification; the session disappears with its last member.
func (l *Lifecycle) close(c *Connection) {
	if !c.close() {
		return
	}
	l.registry.Unregister(c)
	if c.IsHost() {
		for _, v := range l.registry.Viewers(c.SessionId()) {
			l.router.send(v, api.Out{T: api.SessionEnded, From: api.HostTag})
		}
	}
	l.log.Info().
		Str("sid", c.SessionId()).
		Str("cid", c.Id().Short()).
		Msgf("%v disconnected", c.Role())
}

func (l *Lifecycle) reportViewerJoin(join storage.ViewerJoin) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.store.RecordViewerJoin(ctx, join); err != nil {
		l.log.Error().Err(err).
			Str("sid", join.SessionId).
			Str("viewer", join.ViewerId).
			Msg("couldn't register the viewer")
	}
}

func sessionIdFromPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return ""
}
