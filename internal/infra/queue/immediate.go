package queue

import (
	"context"
	"sync"

	"github.com/yanqian/sunspot/internal/domain/precompute"
)

// HandlerQueue supports setting a handler for job delivery.
type HandlerQueue interface {
	precompute.JobQueue
	SetHandler(handler Handler)
	Close()
}

// Handler executes one job.
type Handler func(ctx context.Context, name string, payload map[string]any)

// ImmediateQueue calls the handler in a goroutine on enqueue.
type ImmediateQueue struct {
	mu      sync.RWMutex
	handler Handler
	wg      sync.WaitGroup
}

// NewImmediateQueue constructs the queue.
func NewImmediateQueue(handler Handler) *ImmediateQueue {
	return &ImmediateQueue{handler: handler}
}

// SetHandler replaces the handler used for queued jobs.
func (q *ImmediateQueue) SetHandler(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Enqueue invokes the handler asynchronously. The job outlives the enqueuing request.
func (q *ImmediateQueue) Enqueue(ctx context.Context, name string, payload any) error {
	typed, ok := payload.(map[string]any)
	if !ok {
		typed = map[string]any{}
	}
	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()
	if handler == nil {
		return nil
	}
	jobCtx := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		handler(jobCtx, name, typed)
	}()
	return nil
}

// Close waits for in-flight jobs.
func (q *ImmediateQueue) Close() {
	q.wg.Wait()
}

var _ HandlerQueue = (*ImmediateQueue)(nil)
