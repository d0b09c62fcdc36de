package chatmod_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalmesh/internal/chatmod"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRecorder) ObserveChatEvent(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestEventWorkerRecordsPublishedEvents(t *testing.T) {
	queue := chatmod.NewMemoryQueue()
	recorder := &fakeRecorder{}
	worker := chatmod.NewEventWorker(queue, recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// give the worker a moment to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	queue.Publish(chatmod.Event{Type: chatmod.EventTypeMessage, TenantID: "tenant-a", StreamID: "stream-1"})
	queue.Publish(chatmod.Event{Type: chatmod.EventTypeJoin, TenantID: "tenant-a", StreamID: "stream-1"})

	deadline := time.Now().Add(time.Second)
	for recorder.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := recorder.count(); got != 2 {
		t.Fatalf("expected 2 recorded events, got %d", got)
	}

	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected Run to return ctx.Err() once cancelled")
	}
}
