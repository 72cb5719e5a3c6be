package relay

import (
	"sync/atomic"
	"time"

	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/com"
	"github.com/ushalabs/beamcast/pkg/logger"
)

// Role tags a connection as the stream originator or a consumer.
type Role uint8

const (
	RoleHost Role = iota + 1
	RoleViewer
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

// connection states: Connecting → Open → Closed (terminal).
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosed
)

// Transport is the send handle of a connection.
// The transport layer owns the underlying socket.
type Transport interface {
	Write(data []byte) error
	Close()
}

// Connection is a single logical bidirectional channel bound to one session.
// Session id and role never change after creation.
type Connection struct {
	id   com.Uid
	tag  string
	sid  string
	role Role
	sock Transport

	state    atomic.Int32
	joined   time.Time
	lastSeen atomic.Int64

	log *logger.Logger
}

// NewConnection mints a connection with a fresh server-assigned id.
// For viewers the tag doubles as the externally visible viewer id;
// the host is addressed by its role only.
func NewConnection(sid string, role Role, sock Transport, log *logger.Logger) *Connection {
	id := com.NewUid()
	tag := api.HostTag
	if role == RoleViewer {
		tag = "viewer_" + id.String()
	}
	now := time.Now()
	dirLog := log.Extend(log.With().
		Str("sid", sid).
		Str("cid", id.Short()).
		Str(logger.DirectionField, "←"))
	c := &Connection{id: id, tag: tag, sid: sid, role: role, sock: sock, joined: now, log: dirLog}
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *Connection) Id() com.Uid        { return c.id }
func (c *Connection) Tag() string        { return c.tag }
func (c *Connection) SessionId() string  { return c.sid }
func (c *Connection) Role() Role         { return c.role }
func (c *Connection) IsHost() bool       { return c.role == RoleHost }
func (c *Connection) Joined() time.Time  { return c.joined }
func (c *Connection) String() string     { return c.tag }

func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// Touch stamps the last-activity time.
func (c *Connection) Touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *Connection) IsOpen() bool { return c.state.Load() == stateOpen }

func (c *Connection) open() bool  { return c.state.CompareAndSwap(stateConnecting, stateOpen) }
func (c *Connection) close() bool { return c.state.Swap(stateClosed) != stateClosed }

// Send queues one outbound message; it never blocks on a slow peer.
func (c *Connection) Send(out api.Out) error {
	data, err := api.Encode(out)
	if err != nil {
		return err
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", out.T)
	return c.sock.Write(data)
}

func (c *Connection) Disconnect() {
	if c.close() {
		c.sock.Close()
		c.log.Debug().Str(logger.DirectionField, "x").Msg("Close")
	}
}
