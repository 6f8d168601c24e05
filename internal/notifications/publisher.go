package notifications

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// Publisher delivers domain events. Publishing is best effort: callers log
// a failure and carry on, the booking state is already durable.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// LogPublisher writes events to the structured log. Used when Kafka is
// disabled.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(l *logger.Logger) *LogPublisher {
	return &LogPublisher{log: l}
}

func (p *LogPublisher) Publish(ctx context.Context, event *Event) error {
	p.log.InfoContext(ctx, "Domain Event",
		slog.String("event_id", event.ID.String()),
		slog.String("type", string(event.Type)),
		slog.String("aggregate_id", event.AggregateID),
		slog.String("unit_id", event.UnitID),
		slog.String("actor_id", event.ActorID),
		slog.Any("payload", event.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event *Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t in publish order.
func (r *Recorder) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// PublishOrLog is the helper services use: failures are logged, never
// returned.
func PublishOrLog(ctx context.Context, p Publisher, event *Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.GetDefault().WarnContext(ctx, "event publish failed",
			slog.String("type", string(event.Type)),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", err.Error()),
		)
	}
}
