package widget

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoller_ImmediateFirstRun(t *testing.T) {
	var runs atomic.Int32
	p, err := NewPoller(time.Hour, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start()
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle did not run immediately")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPoller_PeriodicRuns(t *testing.T) {
	var runs atomic.Int32
	p, err := NewPoller(50*time.Millisecond, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start()
	time.Sleep(300 * time.Millisecond)
	p.Stop()

	if n := runs.Load(); n < 3 {
		t.Errorf("expected at least 3 runs, got %d", n)
	}
}

func TestPoller_SkipsOverlappingCycles(t *testing.T) {
	var active, maxActive int32
	var mu sync.Mutex
	slow := func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(150 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	}

	p, err := NewPoller(20*time.Millisecond, slow, nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start()
	time.Sleep(400 * time.Millisecond)
	p.Stop()
	time.Sleep(200 * time.Millisecond) // let the in-flight cycle drain

	mu.Lock()
	defer mu.Unlock()
	if maxActive > 1 {
		t.Errorf("cycles overlapped: max concurrent = %d", maxActive)
	}
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	p, err := NewPoller(time.Hour, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start()
	p.Start()
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("immediate run fired %d times, want 1", n)
	}
}

func TestPoller_StopThenRestart(t *testing.T) {
	var runs atomic.Int32
	p, err := NewPoller(30*time.Millisecond, func() { runs.Add(1) }, nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start()
	time.Sleep(100 * time.Millisecond)
	p.Stop()
	if p.Running() {
		t.Error("Running() = true after Stop")
	}

	settled := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != settled {
		t.Error("poller kept running after Stop")
	}

	p.Start()
	time.Sleep(100 * time.Millisecond)
	if runs.Load() <= settled {
		t.Error("poller did not resume after restart")
	}
	p.Stop()
}
