package reaper_test

import (
	"context"
	"sync"
	"testing"

	"signalmesh/internal/reaper"
)

type fakeSupervisor struct {
	mu     sync.Mutex
	active map[string]bool
	tracked []string
	cleanedUp []string
}

func (f *fakeSupervisor) TrackedStreamIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tracked...)
}

func (f *fakeSupervisor) IsActive(streamID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[streamID]
}

func (f *fakeSupervisor) Cleanup(streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp = append(f.cleanedUp, streamID)
	return nil
}

type fakeEnder struct {
	mu     sync.Mutex
	ended []string
}

func (f *fakeEnder) EndStream(_ context.Context, streamID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, streamID)
	return true, nil
}

func TestSweepEndsAndCleansUpDeadStreams(t *testing.T) {
	sup := &fakeSupervisor{tracked: []string{"stream_1", "stream_2"}, active: map[string]bool{"stream_1": true, "stream_2": false}}
	ender := &fakeEnder{}

	r, err := reaper.New(reaper.Config{Supervisor: sup, Ender: ender})
	if err != nil {
		t.Fatalf("new reaper: %v", err)
	}
	r.Sweep(context.Background())

	if len(ender.ended) != 1 || ender.ended[0] != "stream_2" {
		t.Fatalf("expected only stream_2 to be ended, got %+v", ender.ended)
	}
	if len(sup.cleanedUp) != 1 || sup.cleanedUp[0] != "stream_2" {
		t.Fatalf("expected only stream_2 to be cleaned up, got %+v", sup.cleanedUp)
	}
}

func TestSweepSkipsActiveStreams(t *testing.T) {
	sup := &fakeSupervisor{tracked: []string{"stream_1"}, active: map[string]bool{"stream_1": true}}
	ender := &fakeEnder{}

	r, err := reaper.New(reaper.Config{Supervisor: sup, Ender: ender})
	if err != nil {
		t.Fatalf("new reaper: %v", err)
	}
	r.Sweep(context.Background())

	if len(ender.ended) != 0 {
		t.Fatalf("expected no streams ended, got %+v", ender.ended)
	}
}
