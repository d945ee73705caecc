package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/cron"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSerializesWithinGroup(t *testing.T) {
	var running atomic.Int32
	var maxConcurrentSameGroup atomic.Int32
	var runCount atomic.Int32

	run := func(ctx context.Context, job Job) error {
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxConcurrentSameGroup.Load() {
			maxConcurrentSameGroup.Store(n)
		}
		runCount.Add(1)
		time.Sleep(30 * time.Millisecond)
		return nil
	}

	d := New(Config{Concurrency: 5, Retry: cron.DefaultRetryConfig(), PollEvery: 5 * time.Millisecond}, run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 5; i++ {
		d.Submit(Job{GroupKey: "g1", Kind: KindMessage})
	}
	waitFor(t, func() bool { return runCount.Load() >= 1 })
	time.Sleep(150 * time.Millisecond)

	if got := maxConcurrentSameGroup.Load(); got > 1 {
		t.Fatalf("expected at most one in-flight run per group, saw %d", got)
	}
}

func TestCrossGroupParallelism(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	started := make(chan string, 3)

	run := func(ctx context.Context, job Job) error {
		started <- job.GroupKey
		wg.Done()
		wg.Wait() // all three must be running concurrently to pass
		return nil
	}

	d := New(Config{Concurrency: 5, Retry: cron.DefaultRetryConfig(), PollEvery: 5 * time.Millisecond}, run, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(Job{GroupKey: "a", Kind: KindMessage})
	d.Submit(Job{GroupKey: "b", Kind: KindMessage})
	d.Submit(Job{GroupKey: "c", Kind: KindMessage})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("groups did not run in parallel")
	}
}

func TestRetryBackoffThenGiveUp(t *testing.T) {
	var attempts atomic.Int32
	run := func(ctx context.Context, job Job) error {
		attempts.Add(1)
		return Retryable(context.DeadlineExceeded)
	}
	var gaveUp atomic.Int32
	onGiveUp := func(job Job, cause error) { gaveUp.Add(1) }

	retry := cron.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	d := New(Config{Concurrency: 5, Retry: retry, PollEvery: time.Millisecond}, run, onGiveUp)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(Job{GroupKey: "g1", Kind: KindMessage})
	waitFor(t, func() bool { return gaveUp.Load() > 0 })
	if attempts.Load() < 3 {
		t.Fatalf("expected at least 3 attempts before giving up, got %d", attempts.Load())
	}
}

func TestMessageJobsCoalesce(t *testing.T) {
	d := New(Config{Concurrency: 5, Retry: cron.DefaultRetryConfig()}, func(ctx context.Context, job Job) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}, nil)

	d.Submit(Job{GroupKey: "g1", Kind: KindMessage})
	d.Submit(Job{GroupKey: "g1", Kind: KindMessage})
	d.Submit(Job{GroupKey: "g1", Kind: KindMessage})

	if depth := d.QueueDepth("g1"); depth != 1 {
		t.Fatalf("expected coalesced queue depth 1, got %d", depth)
	}
}
