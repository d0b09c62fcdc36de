package chatmod

import (
	"context"
	"log/slog"
)

// EventRecorder is the narrow metrics capability the chat-event worker
// drives; it's satisfied by *metrics.Recorder without this package
// depending on it directly.
type EventRecorder interface {
	ObserveChatEvent(event string)
}

// EventWorker drains a Queue's subscription and records each event, giving
// the chat event stream a consumer even when no moderation dashboard is
// attached. Run blocks until ctx is cancelled.
type EventWorker struct {
	queue    Queue
	recorder EventRecorder
	logger   *slog.Logger
}

// NewEventWorker constructs an EventWorker. Queue must not be nil.
func NewEventWorker(queue Queue, recorder EventRecorder, logger *slog.Logger) *EventWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWorker{queue: queue, recorder: recorder, logger: logger}
}

// Run subscribes to the queue and records events until ctx is cancelled or
// the queue is closed.
func (w *EventWorker) Run(ctx context.Context) error {
	sub := w.queue.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if w.recorder != nil {
				w.recorder.ObserveChatEvent(string(event.Type))
			}
			w.logger.Debug("chat event", "type", event.Type, "tenant_id", event.TenantID, "stream_id", event.StreamID)
		}
	}
}
