// Package api defines the wire format spoken over a signal connection.
//
// Each message is a JSON-encoded envelope of the following structure:
//
//	type - (required) one of the predefined message types;
//	from - sender tag: "host" or the server-assigned viewer id;
//	  to - (optional) target viewer id, used by host-originated messages;
//	data - (optional) opaque payload, never interpreted by the relay.
//
// The envelope differentiates by its type only; payloads are forwarded
// verbatim so that WebRTC negotiation data (SDP, ICE) passes through
// untouched. Unknown types fall through to the error acknowledgement.
//
// Example:
//
//	{"type":"answer","from":"viewer_cfv68irdrc3ifu3jn6bg","data":{"sdp":"..."}}
package api

import (
	"time"

	"github.com/goccy/go-json"
)

// MT is a message type tag.
type MT string

const (
	Offer         MT = "offer"
	Answer        MT = "answer"
	IceCandidate  MT = "ice-candidate"
	RemoteControl MT = "remote-control"
	Engagement    MT = "engagement"

	// server-originated notifications
	Connected    MT = "connected"
	SessionEnded MT = "session-ended"
	Error        MT = "error"
)

// HostTag is the from/to tag of the host connection,
// which has no externally visible id.
const HostTag = "host"

// In is an inbound message envelope.
// Data stays raw for a 2-pass unmarshal of the few typed payloads.
type In struct {
	T    MT              `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Out is an outbound message envelope.
type Out struct {
	T    MT     `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Data any    `json:"data,omitempty"`
}

// ConnectedInfo acknowledges a registered connection.
type ConnectedInfo struct {
	SessionId string `json:"sessionId"`
	ViewerId  string `json:"viewerId,omitempty"`
	IsHost    bool   `json:"isHost"`
}

// ErrorInfo is sent back on malformed or rejected messages.
type ErrorInfo struct {
	Reason string `json:"error"`
}

// EngagementEvent is a viewer-side telemetry record.
type EngagementEvent struct {
	Id        string          `json:"id"`
	ViewerId  string          `json:"viewerId,omitempty"`
	SessionId string          `json:"sessionId,omitempty"`
	T         string          `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Engagement event types.
const (
	EventClick  = "click"
	EventScroll = "scroll"
	EventZoom   = "zoom"
	EventFocus  = "focus"
	EventIdle   = "idle"
)

func (t MT) Valid() bool {
	switch t {
	case Offer, Answer, IceCandidate, RemoteControl, Engagement, Connected, SessionEnded, Error:
		return true
	}
	return false
}

func Decode(data []byte) (In, error) {
	var in In
	err := json.Unmarshal(data, &in)
	return in, err
}

func Encode(out Out) ([]byte, error) { return json.Marshal(out) }

// Unwrap decodes a payload into T, nil on any error.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
