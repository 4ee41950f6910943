package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"presale_sniper/internal/config"
	"presale_sniper/internal/logbus"
	"presale_sniper/internal/model"
)

// JobStore is the claim side of the task store.
type JobStore interface {
	ClaimDue(ctx context.Context, now time.Time) (*model.Task, error)
	SetState(ctx context.Context, id string, state model.TaskState, lastErr string) error
	MarkRetried(ctx context.Context, id string, fireAt time.Time, lastErr string) error
}

type Runner interface {
	Run(ctx context.Context, task model.Task) error
}

type Options struct {
	Store  JobStore
	Runner Runner
	Bus    *logbus.Bus
	Config config.WorkerConfig
}

type Stats struct {
	Running  bool  `json:"running"`
	Workers  int   `json:"workers"`
	InFlight int64 `json:"inFlight"`
	Claimed  int64 `json:"claimed"`
	Finished int64 `json:"finished"`
	Retried  int64 `json:"retried"`
	Failed   int64 `json:"failed"`
}

// Pool runs a fixed number of workers that claim due tasks and record their outcome.
type Pool struct {
	store  JobStore
	runner Runner
	bus    *logbus.Bus

	count      int
	minSleep   time.Duration
	maxSleep   time.Duration
	sleepStep  time.Duration
	retryDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	inFlight atomic.Int64
	claimed  atomic.Int64
	finished atomic.Int64
	retried  atomic.Int64
	failed   atomic.Int64
}

func New(opts Options) *Pool {
	count := opts.Config.Count
	if count <= 0 {
		count = 10
	}
	return &Pool{
		store:      opts.Store,
		runner:     opts.Runner,
		bus:        opts.Bus,
		count:      count,
		minSleep:   opts.Config.MinSleep(),
		maxSleep:   opts.Config.MaxSleep(),
		sleepStep:  opts.Config.SleepStep(),
		retryDelay: opts.Config.RetryDelay(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Start launches the workers. Cancelling ctx has the same effect as Stop without the wait.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < p.count; i++ {
		g.Go(func() error {
			p.loop(gctx, i)
			return nil
		})
	}
	done := p.done
	go func() {
		_ = g.Wait()
		close(done)
	}()

	p.log("info", "worker pool started", map[string]any{"workers": p.count})
	return nil
}

// Stop ends claiming and waits for in-flight executions until ctx expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done, wasRunning := p.cancel, p.done, p.running
	p.cancel = nil
	p.running = false
	p.mu.Unlock()

	if !wasRunning {
		return nil
	}
	cancel()

	select {
	case <-done:
		p.log("info", "worker pool stopped", nil)
		return nil
	case <-ctx.Done():
		p.log("warn", "worker pool stop timed out", map[string]any{"inFlight": p.inFlight.Load()})
		return ctx.Err()
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return Stats{
		Running:  running,
		Workers:  p.count,
		InFlight: p.inFlight.Load(),
		Claimed:  p.claimed.Load(),
		Finished: p.finished.Load(),
		Retried:  p.retried.Load(),
		Failed:   p.failed.Load(),
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	wait := p.minSleep
	for {
		if err := p.sleep(ctx, wait); err != nil {
			return
		}
		if p.runOnce(ctx, id) {
			wait = p.minSleep
			continue
		}
		wait = p.nextSleep(wait)
	}
}

func (p *Pool) nextSleep(cur time.Duration) time.Duration {
	next := cur + p.sleepStep
	if next > p.maxSleep {
		return p.maxSleep
	}
	return next
}

// runOnce claims at most one due task and executes it. It reports whether a task was claimed.
func (p *Pool) runOnce(ctx context.Context, id int) bool {
	task, err := p.store.ClaimDue(ctx, p.now())
	if err != nil {
		if ctx.Err() == nil {
			p.log("warn", "claim failed", map[string]any{"worker": id, "error": err.Error()})
		}
		return false
	}
	if task == nil {
		return false
	}
	p.claimed.Add(1)
	p.log("info", "task claimed", map[string]any{
		"worker":  id,
		"taskId":  task.ID,
		"saleId":  task.SaleID,
		"attempt": task.Attempts,
	})

	// Shutdown stops claiming but never interrupts a claimed task.
	p.execute(context.WithoutCancel(ctx), id, *task)
	return true
}

func (p *Pool) execute(ctx context.Context, id int, task model.Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	runErr := p.safeRun(ctx, task)
	switch {
	case runErr == nil:
		if err := p.store.SetState(ctx, task.ID, model.TaskFinished, ""); err != nil {
			p.log("error", "record outcome failed", map[string]any{"taskId": task.ID, "error": err.Error()})
			return
		}
		p.finished.Add(1)
		p.log("info", "task finished", map[string]any{"worker": id, "taskId": task.ID})
	case task.Attempts <= task.MaxRetries:
		fireAt := p.now().Add(p.retryDelay)
		if err := p.store.MarkRetried(ctx, task.ID, fireAt, runErr.Error()); err != nil {
			p.log("error", "record outcome failed", map[string]any{"taskId": task.ID, "error": err.Error()})
			return
		}
		p.retried.Add(1)
		p.log("warn", "task will be retried", map[string]any{
			"worker":  id,
			"taskId":  task.ID,
			"attempt": task.Attempts,
			"fireAt":  fireAt.Format(time.RFC3339Nano),
			"error":   runErr.Error(),
		})
	default:
		if err := p.store.SetState(ctx, task.ID, model.TaskFailed, runErr.Error()); err != nil {
			p.log("error", "record outcome failed", map[string]any{"taskId": task.ID, "error": err.Error()})
			return
		}
		p.failed.Add(1)
		p.log("error", "task failed", map[string]any{
			"worker":  id,
			"taskId":  task.ID,
			"attempt": task.Attempts,
			"error":   runErr.Error(),
		})
	}
}

func (p *Pool) safeRun(ctx context.Context, task model.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log("error", "task panicked", map[string]any{
				"taskId": task.ID,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.runner.Run(ctx, task)
}

func (p *Pool) log(level, msg string, fields map[string]any) {
	if p.bus != nil {
		p.bus.Log(level, msg, fields)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
