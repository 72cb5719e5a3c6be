package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ushalabs/beamcast/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second

	// sendBuffer bounds the per-connection outbound queue; a peer that
	// cannot drain it in time loses messages instead of stalling senders.
	sendBuffer = 64
)

type WS struct {
	conn deadlinedConn
	send chan []byte

	onMessage MessageHandler

	pingPong bool
	server   bool
	ping     time.Duration
	pong     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	shutdown sync.WaitGroup
	done     chan struct{}
}

type MessageHandler func(message []byte, err error)

var (
	ErrClosed     = errors.New("connection closed")
	ErrFullBuffer = errors.New("full send buffer")
)

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin:     func(r *http.Request) bool { return true },
	},
}

func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// Refuse completes the handshake and immediately closes the connection
// with a policy violation close frame.
func (u *Upgrader) Refuse(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	_ = conn.Close()
}

// NewServerWithConn wraps an already upgraded server-side connection.
func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) (*WS, error) {
	if conn == nil {
		return nil, errors.New("no connection")
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, isServer bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: writeWait, log: log},
		send:     make(chan []byte, sendBuffer),
		pingPong: isServer,
		server:   isServer,
		ping:     pingTime,
		pong:     pongTime,
		stop:     make(chan struct{}),
		done:     make(chan struct{}, 1),
	}
}

// SetPingInterval overrides the keepalive period before Listen is called.
func (ws *WS) SetPingInterval(d time.Duration) {
	if d > 0 {
		ws.ping = d
		ws.pong = d * 10 / 9
	}
}

func (ws *WS) IsServer() bool { return ws.server }

func (ws *WS) SetMessageHandler(fn MessageHandler) { ws.onMessage = fn }

// Listen starts the read/write pumps and returns a channel that is
// closed after both pumps have finished.
func (ws *WS) Listen() chan struct{} {
	ws.shutdown.Add(2)
	go ws.writer()
	go ws.reader()
	go func() {
		ws.shutdown.Wait()
		_ = ws.conn.close()
		close(ws.done)
	}()
	return ws.done
}

// reader pumps messages from the websocket connection to the handler.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		ws.halt()
		ws.shutdown.Done()
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(ws.pong))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(ws.pong)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.conn.log.Debug().Err(err).Msg("ws read fail")
			}
			return
		}
		if ws.onMessage != nil {
			ws.onMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	var ticker *time.Ticker
	if ws.pingPong {
		ticker = time.NewTicker(ws.ping)
	} else {
		ticker = time.NewTicker(time.Hour)
		ticker.Stop()
	}
	defer func() {
		ticker.Stop()
		ws.halt()
		ws.shutdown.Done()
	}()
	for {
		select {
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.stop:
			// flush what was queued before the stop
			for {
				select {
				case message := <-ws.send:
					if err := ws.conn.write(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = ws.conn.write(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// Write queues a message for delivery without blocking the caller.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.stop:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	default:
		return ErrFullBuffer
	}
}

func (ws *WS) Close() { ws.halt() }

func (ws *WS) halt() {
	ws.stopOnce.Do(func() {
		close(ws.stop)
		// unblocks a reader stuck on a live socket
		_ = ws.conn.sock.SetReadDeadline(time.Now())
	})
}
