package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"basegraph.app/integrations/common/logger"
)

// Task is one detached unit of work.
type Task func(ctx context.Context) error

type Config struct {
	// MaxConcurrency bounds how many tasks run at once. Tasks beyond it wait for a slot
	// in their own goroutine, never in the caller.
	MaxConcurrency int64
}

type unit struct {
	startedAt time.Time
	name      string
}

// Dispatcher runs tasks in the background and tracks them until they finish so that
// shutdown can drain in-flight work. Tasks run concurrently with no ordering between them.
type Dispatcher struct {
	sem      *semaphore.Weighted
	inFlight map[uint64]unit
	wg       sync.WaitGroup
	mu       sync.Mutex
	nextID   uint64
	draining bool
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	return &Dispatcher{
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		inFlight: make(map[uint64]unit),
	}
}

// Dispatch starts task in the background and returns immediately. The task's context
// keeps ctx's values but not its cancellation, so it outlives the request that started
// it. Returns false once Drain has been called.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, task Task) bool {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		slog.WarnContext(ctx, "dispatcher draining, task refused", "task", name)
		return false
	}
	d.nextID++
	id := d.nextID
	d.inFlight[id] = unit{name: name, startedAt: time.Now()}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(context.WithoutCancel(ctx), id, name, task)
	return true
}

func (d *Dispatcher) run(ctx context.Context, id uint64, name string, task Task) {
	defer d.wg.Done()
	defer d.remove(id)

	// ctx is never cancelled, so Acquire only returns once a slot is free.
	_ = d.sem.Acquire(ctx, 1)
	defer d.sem.Release(1)

	sc := logger.StartSpan(ctx, "dispatch."+name, trace.WithSpanKind(trace.SpanKindInternal))
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		Task:      logger.Ptr(name),
		Component: "integrations.worker.dispatcher",
	})

	start := time.Now()
	if err := runSafe(ctx, task); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "dispatched task failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.DebugContext(ctx, "dispatched task completed",
		"duration_ms", time.Since(start).Milliseconds())
}

func runSafe(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in dispatched task", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

// InFlight returns the number of tasks dispatched and not yet finished.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Drain refuses new tasks and waits for in-flight ones until ctx is done. It returns
// the number of tasks still running when it gave up.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0, nil
	case <-ctx.Done():
		abandoned := d.InFlight()
		d.mu.Lock()
		for _, u := range d.inFlight {
			slog.WarnContext(ctx, "abandoning dispatched task",
				"task", u.name,
				"running_for_ms", time.Since(u.startedAt).Milliseconds())
		}
		d.mu.Unlock()
		return abandoned, ctx.Err()
	}
}
