package relay

import (
	"time"

	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/com"
	"github.com/ushalabs/beamcast/pkg/logger"
)

// EngagementSink is an asynchronous outlet for viewer telemetry;
// Submit must never block the caller.
type EngagementSink interface {
	Submit(ev api.EngagementEvent) bool
}

// Router resolves the target set of every inbound message and performs
// the sends. All routing decisions are computed fresh from a registry
// snapshot; a failed delivery to one target never aborts the others.
type Router struct {
	registry *Registry
	sink     EngagementSink
	metrics  *Metrics
	log      *logger.Logger
}

func NewRouter(registry *Registry, sink EngagementSink, metrics *Metrics, log *logger.Logger) *Router {
	return &Router{registry: registry, sink: sink, metrics: metrics, log: log}
}

// Route dispatches one message from the sender connection.
func (rt *Router) Route(c *Connection, in api.In) {
	c.Touch()
	switch in.T {
	case api.Offer:
		if !c.IsHost() {
			rt.reject(c, "offer is allowed from the host only")
			return
		}
		rt.broadcastToViewers(c, in)
	case api.Answer, api.IceCandidate:
		if c.IsHost() {
			rt.sendToViewer(c, in)
		} else {
			rt.sendToHost(c, in, false)
		}
	case api.RemoteControl:
		if c.IsHost() {
			rt.reject(c, "remote-control is allowed from viewers only")
			return
		}
		// no host - drop, the event is not actionable and never queued
		rt.sendToHost(c, in, true)
	case api.Engagement:
		if c.IsHost() {
			rt.reject(c, "engagement is allowed from viewers only")
			return
		}
		rt.handleEngagement(c, in)
	default:
		rt.reject(c, "unknown message type")
	}
}

// broadcastToViewers delivers a host offer to the then-current viewer
// set, tagging each copy with the target viewer id so a multi-viewer
// population stays disambiguated.
func (rt *Router) broadcastToViewers(c *Connection, in api.In) {
	rt.metrics.MessageRouted(string(in.T))
	for _, v := range rt.registry.Viewers(c.SessionId()) {
		rt.send(v, api.Out{T: in.T, From: api.HostTag, To: v.Tag(), Data: in.Data})
	}
}

// sendToViewer unicasts a host negotiation message to the viewer
// addressed by the message. Negotiation data never reaches any viewer
// it wasn't addressed to.
func (rt *Router) sendToViewer(c *Connection, in api.In) {
	if in.To == "" {
		rt.reject(c, "missing target viewer id")
		return
	}
	rt.metrics.MessageRouted(string(in.T))
	v := rt.registry.Viewer(c.SessionId(), in.To)
	if v == nil {
		rt.log.Debug().Str("sid", c.SessionId()).Str("to", in.To).Msgf("%v target is gone", in.T)
		return
	}
	rt.send(v, api.Out{T: in.T, From: api.HostTag, To: in.To, Data: in.Data})
}

func (rt *Router) sendToHost(c *Connection, in api.In, silent bool) {
	rt.metrics.MessageRouted(string(in.T))
	h := rt.registry.Host(c.SessionId())
	if h == nil {
		if !silent {
			rt.log.Debug().Str("sid", c.SessionId()).Msgf("%v dropped, no host", in.T)
		}
		return
	}
	rt.send(h, api.Out{T: in.T, From: c.Tag(), Data: in.Data})
}

// handleEngagement hands the event over to the sink and forwards a live
// copy to the host. The viewer id is always the server-assigned one;
// a client-supplied id is discarded.
func (rt *Router) handleEngagement(c *Connection, in api.In) {
	ev := api.Unwrap[api.EngagementEvent](in.Data)
	if ev == nil {
		rt.reject(c, "malformed engagement event")
		return
	}
	ev.ViewerId = c.Tag()
	ev.SessionId = c.SessionId()
	if ev.Id == "" {
		ev.Id = com.NewUid().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	rt.metrics.MessageRouted(string(in.T))
	rt.sink.Submit(*ev)

	if h := rt.registry.Host(c.SessionId()); h != nil {
		rt.send(h, api.Out{T: api.Engagement, From: c.Tag(), Data: ev})
	}
}

// send performs one isolated delivery; a dead target is logged and skipped.
func (rt *Router) send(target *Connection, out api.Out) {
	if err := target.Send(out); err != nil {
		rt.metrics.SendFailed()
		rt.log.Warn().Err(err).
			Str("sid", target.SessionId()).
			Str("to", target.Tag()).
			Msgf("%v delivery failed", out.T)
	}
}

// reject acknowledges a bad message; the connection stays open.
func (rt *Router) reject(c *Connection, reason string) {
	rt.log.Warn().Str("sid", c.SessionId()).Str("from", c.Tag()).Msg(reason)
	rt.send(c, api.Out{T: api.Error, Data: api.ErrorInfo{Reason: reason}})
}
