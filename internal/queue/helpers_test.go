package queue_test

import (
	"context"
	"fmt"
	"sync"

	"basegraph.app/integrations/internal/queue"
)

func fmtAny(v any) string {
	return fmt.Sprint(v)
}

type recordingProducer struct {
	mu        sync.Mutex
	tasks     []queue.RepoTask
	enqueueFn func(ctx context.Context, task queue.RepoTask) error
}

func (p *recordingProducer) Enqueue(ctx context.Context, task queue.RepoTask) error {
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	if p.enqueueFn != nil {
		return p.enqueueFn(ctx, task)
	}
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) Tasks() []queue.RepoTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.RepoTask(nil), p.tasks...)
}
