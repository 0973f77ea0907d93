package widget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller runs one function at a fixed interval with an immediate first
// execution. A slow cycle never overlaps the next one: if a run is still in
// flight when the interval fires, that tick is skipped.
type Poller struct {
	mu      sync.Mutex
	cron    *cron.Cron
	job     cron.Job
	logger  *slog.Logger
	running bool
}

// NewPoller schedules fn every interval.
func NewPoller(interval time.Duration, fn func(), logger *slog.Logger) (*Poller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(fmt.Sprintf("@every %s", interval), fn)
	if err != nil {
		return nil, fmt.Errorf("poller: schedule: %w", err)
	}
	return &Poller{
		cron:   c,
		job:    c.Entry(id).WrappedJob,
		logger: logger,
	}, nil
}

// Start begins polling. The first cycle runs right away; it goes through the
// same overlap guard as scheduled ticks. Calling Start on a running poller
// is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.job.Run()
	p.cron.Start()
	p.logger.Debug("poller started")
}

// Stop halts scheduling. An in-flight cycle finishes on its own.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cron.Stop()
	p.logger.Debug("poller stopped")
}

// Running reports whether the poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
