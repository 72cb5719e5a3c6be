package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/config"
	"github.com/ushalabs/beamcast/pkg/logger"
	"github.com/ushalabs/beamcast/pkg/storage"
)

const testWait = 3 * time.Second

type recordingStore struct {
	joins chan storage.ViewerJoin
}

func (s *recordingStore) RecordViewerJoin(_ context.Context, join storage.ViewerJoin) error {
	s.joins <- join
	return nil
}
func (s *recordingStore) RecordEngagement(context.Context, api.EngagementEvent) error { return nil }
func (s *recordingStore) Close() error                                               { return nil }

type lifecycleEnv struct {
	registry *Registry
	sink     *fakeSink
	server   *httptest.Server
}

func newLifecycleEnv(t *testing.T, store storage.Store) *lifecycleEnv {
	t.Helper()
	log := logger.Default()
	registry := NewRegistry(log)
	sink := &fakeSink{}
	metrics := NewMetrics(prometheus.NewRegistry(), registry)
	router := NewRouter(registry, sink, metrics, log)
	lifecycle := NewLifecycle(config.Session{PingInterval: 48 * time.Second}, registry, router, store, log)

	server := httptest.NewServer(http.HandlerFunc(lifecycle.HandleSignal))
	t.Cleanup(server.Close)
	return &lifecycleEnv{registry: registry, sink: sink, server: server}
}

func (env *lifecycleEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %v: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) api.In {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in, err := api.Decode(data)
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return in
}

func connectedAck(t *testing.T, conn *websocket.Conn) api.ConnectedInfo {
	t.Helper()
	in := readEnvelope(t, conn)
	if in.T != api.Connected {
		t.Fatalf("first message is %v, want %v", in.T, api.Connected)
	}
	info := api.Unwrap[api.ConnectedInfo](in.Data)
	if info == nil {
		t.Fatalf("undecodable ack payload: %s", in.Data)
	}
	return *info
}

func TestSignalInvalidSessionId(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})
	for _, path := range []string{"/signal/ab", "/signal/bad%20id", "/signal/"} {
		conn, _, err := websocket.DefaultDialer.Dial(
			"ws"+strings.TrimPrefix(env.server.URL, "http")+path, nil)
		if err != nil {
			// a failed handshake is an acceptable refusal as well
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(testWait))
		_, _, err = conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("%v: got %v, want a policy violation close", path, err)
		}
		_ = conn.Close()
	}
	if n := env.registry.Sessions(); n != 0 {
		t.Fatalf("sessions: %v, want 0", n)
	}
}

func TestSignalConnectedAck(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})

	host := env.dial(t, "/signal/abc123?host=true")
	ack := connectedAck(t, host)
	if !ack.IsHost || ack.SessionId != "abc123" || ack.ViewerId != "" {
		t.Fatalf("host ack: %+v", ack)
	}

	viewer := env.dial(t, "/signal/abc123")
	vack := connectedAck(t, viewer)
	if vack.IsHost || vack.SessionId != "abc123" {
		t.Fatalf("viewer ack: %+v", vack)
	}
	if !strings.HasPrefix(vack.ViewerId, "viewer_") {
		t.Fatalf("viewer id %q has no viewer_ prefix", vack.ViewerId)
	}
}

func TestSignalSecondHostRefused(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})

	host := env.dial(t, "/signal/abc123?host=true")
	connectedAck(t, host)

	second := env.dial(t, "/signal/abc123?host=true")
	in := readEnvelope(t, second)
	if in.T != api.Error {
		t.Fatalf("second host got %v, want %v", in.T, api.Error)
	}
	reason := api.Unwrap[api.ErrorInfo](in.Data)
	if reason == nil || reason.Reason == "" {
		t.Fatalf("empty refusal reason: %s", in.Data)
	}
	_ = second.SetReadDeadline(time.Now().Add(testWait))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatal("second host connection was not closed")
	}

	// the session is undisturbed
	if n := env.registry.Connections(); n != 1 {
		t.Fatalf("connections: %v, want 1", n)
	}
}

func TestSignalSessionEndedOnHostExit(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})

	host := env.dial(t, "/signal/abc123?host=true")
	connectedAck(t, host)
	viewer := env.dial(t, "/signal/abc123")
	connectedAck(t, viewer)

	_ = host.Close()

	in := readEnvelope(t, viewer)
	if in.T != api.SessionEnded || in.From != api.HostTag {
		t.Fatalf("viewer got %+v, want %v", in, api.SessionEnded)
	}

	// the viewer connection outlives the host
	_ = viewer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := viewer.ReadMessage(); !isTimeout(err) {
		t.Fatalf("viewer read after session end: %v, want a timeout", err)
	}
}

func TestSignalSessionGCAfterLastLeave(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})

	host := env.dial(t, "/signal/abc123?host=true")
	connectedAck(t, host)
	viewer := env.dial(t, "/signal/abc123")
	connectedAck(t, viewer)

	_ = viewer.Close()
	_ = host.Close()

	deadline := time.Now().Add(testWait)
	for env.registry.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions: %v, want 0", env.registry.Sessions())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignalViewerJoinRecorded(t *testing.T) {
	store := &recordingStore{joins: make(chan storage.ViewerJoin, 1)}
	env := newLifecycleEnv(t, store)

	viewer := env.dial(t, "/signal/abc123?control=true")
	ack := connectedAck(t, viewer)

	select {
	case join := <-store.joins:
		if join.SessionId != "abc123" || join.ViewerId != ack.ViewerId || !join.RemoteControl {
			t.Fatalf("recorded join: %+v", join)
		}
	case <-time.After(testWait):
		t.Fatal("viewer join was not recorded")
	}
}

func TestSignalRefusedHostCannotRoute(t *testing.T) {
	log := logger.Default()
	registry := NewRegistry(log)
	sink := &fakeSink{}
	router := NewRouter(registry, sink, nil, log)
	lifecycle := NewLifecycle(config.Session{}, registry, router, storage.Noop{}, log)

	h, hs := newTestConn("abc123", RoleHost)
	v, vs := newTestConn("abc123", RoleViewer)
	mustRegister(t, registry, h, v)

	// a second host is refused by the registry and never reaches Open,
	// yet its read pump is already live and may deliver messages
	h2, hs2 := newTestConn("abc123", RoleHost)
	if err := registry.Register(h2); err != ErrSessionHasHost {
		t.Fatalf("second host: got %v, want %v", err, ErrSessionHasHost)
	}
	lifecycle.handleMessage(h2, []byte(`{"type":"offer","data":{"sdp":"x"}}`))

	if n := len(vs.outbox(t)); n != 0 {
		t.Fatalf("viewer received %d message(s) from a refused host", n)
	}
	if n := len(hs2.outbox(t)); n != 0 {
		t.Fatalf("refused host received %d message(s)", n)
	}

	// same for any connection past its close
	v.close()
	lifecycle.handleMessage(v, []byte(`{"type":"answer","data":{"sdp":"y"}}`))
	if n := len(hs.outbox(t)); n != 0 {
		t.Fatalf("host received %d message(s) from a closed connection", n)
	}
}

func TestSignalOriginRestricted(t *testing.T) {
	log := logger.Default()
	registry := NewRegistry(log)
	router := NewRouter(registry, &fakeSink{}, nil, log)
	lifecycle := NewLifecycle(config.Session{Origin: "https://beamcast.example"},
		registry, router, storage.Noop{}, log)
	server := httptest.NewServer(http.HandlerFunc(lifecycle.HandleSignal))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/signal/abc123"

	if conn, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		_ = conn.Close()
		t.Fatal("a foreign origin was accepted")
	}

	header := http.Header{"Origin": {"https://beamcast.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with the allowed origin: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	connectedAck(t, conn)
}

func TestSignalMalformedMessage(t *testing.T) {
	env := newLifecycleEnv(t, storage.Noop{})

	viewer := env.dial(t, "/signal/abc123")
	connectedAck(t, viewer)

	if err := viewer.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	in := readEnvelope(t, viewer)
	if in.T != api.Error {
		t.Fatalf("got %v, want %v", in.T, api.Error)
	}

	// the connection survives and keeps working
	if err := viewer.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer"}`)); err != nil {
		t.Fatalf("write after error: %v", err)
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}
