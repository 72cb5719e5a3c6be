// Package engagement forwards viewer telemetry to persistence without
// ever blocking the message routing path.
package engagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/logger"
	"github.com/ushalabs/beamcast/pkg/service"
	"github.com/ushalabs/beamcast/pkg/storage"
)

type Sink struct {
	service.RunnableService

	queue   chan api.EngagementEvent
	store   storage.Store
	timeout time.Duration
	log     *logger.Logger

	// OnDrop is called when an event is discarded on queue overflow.
	OnDrop func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSink(queueSize int, writeTimeout time.Duration, store storage.Store, log *logger.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Sink{
		queue:   make(chan api.EngagementEvent, queueSize),
		store:   store,
		timeout: writeTimeout,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Submit enqueues an event for out-of-band persistence.
// It never blocks; on overflow the event is dropped and counted.
func (s *Sink) Submit(ev api.EngagementEvent) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.queue <- ev:
		return true
	default:
		s.log.Warn().Str("sid", ev.SessionId).Msg("engagement queue overflow")
		if s.OnDrop != nil {
			s.OnDrop()
		}
		return false
	}
}

func (s *Sink) Run() { go s.pump() }

func (s *Sink) pump() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			s.persist(ev)
		case <-s.stop:
			// drain what's been queued before the stop
			for {
				select {
				case ev := <-s.queue:
					s.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) persist(ev api.EngagementEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.RecordEngagement(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("sid", ev.SessionId).
			Str("viewer", ev.ViewerId).
			Msg("couldn't persist an engagement event")
	}
}

func (s *Sink) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) String() string { return fmt.Sprintf("engagement::%d", cap(s.queue)) }
