package events

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewUsesConfiguredWorkerCount(t *testing.T) {
	b := New(zap.NewNop(), Config{Workers: 2, BufferSize: 16})
	if b.workers != 2 {
		t.Fatalf("workers = %d, want 2", b.workers)
	}
}

func TestNewDefaultsWorkersWhenUnset(t *testing.T) {
	b := New(zap.NewNop(), Config{})
	if b.workers != 4 {
		t.Fatalf("workers = %d, want default 4", b.workers)
	}
}

func TestStartLaunchesConfiguredWorkerCount(t *testing.T) {
	b := New(zap.NewNop(), Config{Workers: 3, BufferSize: 16})

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	b.Subscribe(EventCircuitTransition, func(evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		id, _ := evt.Payload.(int)
		if !seen[id] {
			seen[id] = true
			wg.Done()
		}
		return nil
	})

	b.Start()
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Publish(string(EventCircuitTransition), i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all published events to be delivered")
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := New(zap.NewNop(), Config{Workers: 1, BufferSize: 1})

	blocking := make(chan struct{})
	b.Subscribe(EventCircuitReset, func(Event) error {
		<-blocking
		return nil
	})
	b.Start()
	defer b.Stop()
	defer close(blocking)

	b.Publish(string(EventCircuitReset), nil)
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 10; i++ {
		b.Publish(string(EventCircuitReset), nil)
	}
}

func TestSubscribeDeliversOnlyToMatchingType(t *testing.T) {
	b := New(zap.NewNop(), Config{Workers: 1, BufferSize: 16})

	var mu sync.Mutex
	var got []EventType
	done := make(chan struct{}, 1)
	b.Subscribe(EventTradeClosed, func(evt Event) error {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	b.Start()
	defer b.Stop()

	b.Publish(string(EventOrderRejected), nil)
	b.Publish(string(EventTradeClosed), nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the matching event to be delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != EventTradeClosed {
		t.Errorf("delivered = %v, want exactly one EventTradeClosed", got)
	}
}
