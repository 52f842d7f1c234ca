package transport

import (
	"context"
	"log/slog"

	"stockwatch/internal/domain"
	"stockwatch/internal/metrics"

	"github.com/hashicorp/go-multierror"
)

// Sink publishes events toward real-time consumers.
// Params: context and event envelope.
// Returns: publish error; callers log it and keep going.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, domain.Event) error {
	return nil
}

// LogSink writes events to structured log at debug level.
// Params: logger.
// Returns: sink used when no outward transport is enabled.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(ctx context.Context, event domain.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "event published", "event", string(event.Kind), "id", eventID(event))
	metrics.EventsPublishedTotal.WithLabelValues("log", string(event.Kind), "success").Inc()
	return nil
}

// Fanout publishes every event to all sinks and aggregates failures.
// Params: child sinks (nil entries are ignored).
// Returns: composite sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds composite sink.
// Params: child sinks.
// Returns: fan-out sink.
func NewFanout(sinks ...Sink) *Fanout {
	out := &Fanout{sinks: make([]Sink, 0, len(sinks))}
	for _, sink := range sinks {
		if sink != nil {
			out.sinks = append(out.sinks, sink)
		}
	}
	return out
}

// Publish sends event to each child; one failing sink does not stop the others.
// Params: context and event.
// Returns: aggregated child errors or nil.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var result *multierror.Error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Len returns number of child sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// eventID extracts stable identifier of event payload for deduplication headers.
// Params: event envelope.
// Returns: alert or notification id, empty when payload has none.
func eventID(event domain.Event) string {
	switch payload := event.Payload.(type) {
	case domain.Alert:
		return payload.ID
	case *domain.Alert:
		if payload != nil {
			return payload.ID
		}
	case domain.InAppNotification:
		return payload.ID
	case *domain.InAppNotification:
		if payload != nil {
			return payload.ID
		}
	}
	return ""
}
