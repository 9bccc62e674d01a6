package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestDispatcher_FullQueueRunsInline(t *testing.T) {
	release := make(chan struct{})
	started := make(chan uuid.UUID, 3)
	var ran atomic.Int32
	d := NewDispatcher(func(ctx context.Context, id uuid.UUID) {
		started <- id
		<-release
		ran.Add(1)
	}, 1, 1, zerolog.Nop(), nil)
	d.Start(context.Background())

	waitStarted := func(want uuid.UUID) {
		t.Helper()
		select {
		case got := <-started:
			if got != want {
				t.Fatalf("expected %s to start, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never started", want)
		}
	}

	// The first job occupies the only worker, the second fills the queue.
	first, second, third := uuid.New(), uuid.New(), uuid.New()
	if !d.Submit(context.Background(), first) {
		t.Fatal("first submit should queue")
	}
	waitStarted(first)
	if !d.Submit(context.Background(), second) {
		t.Fatal("second submit should queue")
	}

	inline := make(chan bool, 1)
	go func() { inline <- d.Submit(context.Background(), third) }()
	waitStarted(third)
	close(release)

	if queued := <-inline; queued {
		t.Fatal("submit on a full queue must run inline")
	}
	d.Stop()
	if ran.Load() != 3 {
		t.Fatalf("expected every trigger to run, got %d", ran.Load())
	}
}

func TestDispatcher_InlineAfterStop(t *testing.T) {
	var mu sync.Mutex
	var seen []uuid.UUID
	d := NewDispatcher(func(ctx context.Context, id uuid.UUID) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}, 2, 4, zerolog.Nop(), nil)
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	id := uuid.New()
	if d.Submit(context.Background(), id) {
		t.Fatal("submit after Stop must run inline")
	}
	if len(seen) != 1 || seen[0] != id {
		t.Fatalf("expected inline run, got %v", seen)
	}
}

func TestDispatcher_WorkersUseStartContext(t *testing.T) {
	type key struct{}
	got := make(chan interface{}, 1)
	d := NewDispatcher(func(ctx context.Context, id uuid.UUID) {
		got <- ctx.Value(key{})
	}, 1, 1, zerolog.Nop(), nil)
	d.Start(context.WithValue(context.Background(), key{}, "worker"))
	defer d.Stop()

	reqCtx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "request"))
	d.Submit(reqCtx, uuid.New())
	cancel()

	select {
	case v := <-got:
		if v != "worker" {
			t.Errorf("queued job ran with %v context", v)
		}
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}
