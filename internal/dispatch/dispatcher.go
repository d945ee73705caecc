package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/cron"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// RunFunc executes one dispatch for job and blocks until it completes (or
// ctx is cancelled via Abort). A nil error means success; wrap transient
// failures with Retryable so the dispatcher backs off instead of dropping
// the group's remaining queue.
type RunFunc func(ctx context.Context, job Job) error

// GiveUpFunc is invoked once per job still queued when a group exhausts
// its retry budget, so the caller can emit a visible chat error.
type GiveUpFunc func(job Job, cause error)

// Config configures a Dispatcher.
type Config struct {
	// Concurrency bounds the number of groups with an agent run in flight
	// at once, across the whole process. Default 5.
	Concurrency int
	Retry       cron.RetryConfig
	Clock       store.Clock
	PollEvery   time.Duration // background wake tick, default 200ms
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.Clock == nil {
		c.Clock = store.RealClock{}
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 200 * time.Millisecond
	}
	return c
}

type groupState struct {
	mu           sync.Mutex
	queue        []Job
	inFlight     bool
	retryCount   int
	backoffUntil time.Time
	cancelRun    context.CancelFunc
}

// Dispatcher owns every group's FIFO queue and the global concurrency cap.
// Submit never blocks; the background loop started by Run drains eligible
// groups up to the concurrency cap.
type Dispatcher struct {
	cfg Config
	run RunFunc

	mu     sync.Mutex
	groups map[string]*groupState

	sem  chan struct{}
	wake chan struct{}

	active sync.WaitGroup
	count  int64
	countMu sync.Mutex

	onGiveUp GiveUpFunc
}

// New builds a Dispatcher that calls run for every eligible job.
func New(cfg Config, run RunFunc, onGiveUp GiveUpFunc) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		run:      run,
		groups:   make(map[string]*groupState),
		sem:      make(chan struct{}, cfg.Concurrency),
		wake:     make(chan struct{}, 1),
		onGiveUp: onGiveUp,
	}
}

func (d *Dispatcher) groupFor(key string) *groupState {
	d.mu.Lock()
	defer d.mu.Unlock()
	gs, ok := d.groups[key]
	if !ok {
		gs = &groupState{}
		d.groups[key] = gs
	}
	return gs
}

// Submit enqueues job for its group. It never blocks. A KindMessage job is
// coalesced with any already-queued KindMessage job for the same group,
// since neither carries text that would otherwise need preserving.
func (d *Dispatcher) Submit(job Job) {
	gs := d.groupFor(job.GroupKey)
	gs.mu.Lock()
	if job.Kind == KindMessage {
		for _, q := range gs.queue {
			if q.Kind == KindMessage {
				gs.mu.Unlock()
				d.signalWake()
				return
			}
		}
	}
	gs.queue = append(gs.queue, job)
	gs.mu.Unlock()
	d.signalWake()
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Abort terminates any in-flight run for groupKey and discards its queue.
// The run's RunFunc should observe ctx.Done() and return ErrCancelled (or
// anything wrapping it) promptly.
func (d *Dispatcher) Abort(groupKey string) {
	gs := d.groupFor(groupKey)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.queue = nil
	if gs.cancelRun != nil {
		gs.cancelRun()
	}
}

// RunningCount returns how many groups currently have an agent run in flight.
func (d *Dispatcher) RunningCount() int64 {
	d.countMu.Lock()
	defer d.countMu.Unlock()
	return d.count
}

// QueueDepth returns the number of jobs queued (not yet running) for a group.
func (d *Dispatcher) QueueDepth(groupKey string) int {
	gs := d.groupFor(groupKey)
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.queue)
}

// Run starts the background scan loop. It returns when ctx is cancelled,
// after every in-flight run has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.active.Wait()
			return
		case <-d.wake:
			d.scan(ctx)
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

func (d *Dispatcher) scan(ctx context.Context) {
	now := d.cfg.Clock.Now()

	d.mu.Lock()
	keys := make([]string, 0, len(d.groups))
	for k := range d.groups {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	for _, key := range keys {
		gs := d.groupFor(key)
		gs.mu.Lock()
		eligible := !gs.inFlight && len(gs.queue) > 0 && !now.Before(gs.backoffUntil)
		gs.mu.Unlock()
		if !eligible {
			continue
		}
		select {
		case d.sem <- struct{}{}:
			d.startWorker(ctx, key, gs)
		default:
			return // global cap reached; remaining groups wait for the next scan
		}
	}
}

func (d *Dispatcher) startWorker(parent context.Context, key string, gs *groupState) {
	gs.mu.Lock()
	if len(gs.queue) == 0 || gs.inFlight {
		gs.mu.Unlock()
		<-d.sem
		return
	}
	job := gs.queue[0]
	gs.queue = gs.queue[1:]
	gs.inFlight = true
	runCtx, cancel := context.WithCancel(parent)
	gs.cancelRun = cancel
	gs.mu.Unlock()

	d.countMu.Lock()
	d.count++
	d.countMu.Unlock()

	d.active.Add(1)
	go func() {
		defer d.active.Done()
		defer func() { <-d.sem }()
		defer cancel()

		err := d.run(runCtx, job)

		d.countMu.Lock()
		d.count--
		d.countMu.Unlock()

		d.finishRun(key, gs, job, err)
	}()
}

func (d *Dispatcher) finishRun(key string, gs *groupState, job Job, err error) {
	gs.mu.Lock()
	gs.inFlight = false
	gs.cancelRun = nil

	switch {
	case err == nil:
		gs.retryCount = 0
	case isCancelled(err):
		gs.queue = nil
		gs.retryCount = 0
	case IsRetryable(err):
		gs.retryCount++
		gs.queue = append([]Job{job}, gs.queue...)
		if gs.retryCount > d.cfg.Retry.MaxRetries {
			slog.Error("dispatch: group exhausted retries, giving up", "group", key, "error", err)
			failed := gs.queue
			gs.queue = nil
			gs.retryCount = 0
			gs.mu.Unlock()
			if d.onGiveUp != nil {
				for _, j := range failed {
					d.onGiveUp(j, err)
				}
			}
			d.signalWake()
			return
		}
		gs.backoffUntil = d.cfg.Clock.Now().Add(d.cfg.Retry.BackoffFor(gs.retryCount))
		slog.Warn("dispatch: retrying group after backoff", "group", key, "attempt", gs.retryCount, "error", err)
	default:
		// Terminal, non-retryable failure: the runner already handled the
		// user-facing side (apology message + cursor advance). The queue
		// proceeds normally.
		gs.retryCount = 0
		slog.Error("dispatch: run failed terminally", "group", key, "error", err)
	}
	hasMore := len(gs.queue) > 0
	gs.mu.Unlock()
	if hasMore {
		d.signalWake()
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
