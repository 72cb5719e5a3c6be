package websocket

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ushalabs/beamcast/pkg/logger"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := DefaultUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws, err := NewServerWithConn(conn, logger.Default())
		if err != nil {
			t.Errorf("wrap: %v", err)
			return
		}
		ws.SetMessageHandler(func(message []byte, _ error) { _ = ws.Write(message) })
		<-ws.Listen()
	}))
	t.Cleanup(server.Close)
	return server
}

func wsAddress(t *testing.T, server *httptest.Server) url.URL {
	t.Helper()
	address, err := url.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	return *address
}

func TestWebsocketEcho(t *testing.T) {
	server := echoServer(t)
	client, err := NewClient(wsAddress(t, server), logger.Default())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	recv := make(chan []byte, 10)
	client.SetMessageHandler(func(message []byte, _ error) { recv <- message })
	done := client.Listen()

	for i := 0; i < 3; i++ {
		if err := client.Write([]byte("ping " + strconv.Itoa(i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case message := <-recv:
			if want := "ping " + strconv.Itoa(i); string(message) != want {
				t.Fatalf("got %q, want %q", message, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no echo for message %d", i)
		}
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("the pumps did not stop")
	}
}

func TestWebsocketWriteAfterClose(t *testing.T) {
	server := echoServer(t)
	client, err := NewClient(wsAddress(t, server), logger.Default())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	done := client.Listen()
	client.Close()
	<-done

	if err := client.Write([]byte("late")); err != ErrClosed {
		t.Fatalf("got %v, want %v", err, ErrClosed)
	}
}

func TestWebsocketBufferOverflow(t *testing.T) {
	server := echoServer(t)
	client, err := NewClient(wsAddress(t, server), logger.Default())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// the writer pump is not started, so the queue only fills up
	for i := 0; i < sendBuffer; i++ {
		if err := client.Write([]byte("x")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := client.Write([]byte("x")); err != ErrFullBuffer {
		t.Fatalf("got %v, want %v", err, ErrFullBuffer)
	}
	client.Close()
}

func TestWebsocketRefuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		DefaultUpgrader.Refuse(w, r, "not today")
	}))
	t.Cleanup(server.Close)

	address := wsAddress(t, server)
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "not today" {
		t.Fatalf("got %v, want a policy violation close", err)
	}
}
