// Package storage is the persistence collaborator of the relay.
// Every call is best-effort from the relay's point of view; failures
// are reported to the caller and never propagate to a connection.
package storage

import (
	"context"

	"github.com/ushalabs/beamcast/pkg/api"
)

// ViewerJoin describes a viewer registration record.
type ViewerJoin struct {
	SessionId     string
	ViewerId      string
	UserAgent     string
	RemoteControl bool
}

type Store interface {
	RecordViewerJoin(ctx context.Context, join ViewerJoin) error
	RecordEngagement(ctx context.Context, ev api.EngagementEvent) error
	Close() error
}

// Noop is a dummy storage for the cases when no persistence is configured.
type Noop struct{}

func (n Noop) RecordViewerJoin(context.Context, ViewerJoin) error          { return nil }
func (n Noop) RecordEngagement(context.Context, api.EngagementEvent) error { return nil }
func (n Noop) Close() error                                                { return nil }
