package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrQueueFull indicates the dispatch queue has no room; the document stays
// pending and can be enqueued again later.
var ErrQueueFull = errors.New("processing queue is full")

// ErrDispatcherClosed indicates Enqueue was called after Close.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

const defaultQueueSize = 256

// Runner processes one document to a terminal state. Implemented by
// Processor.
type Runner interface {
	Process(ctx context.Context, documentID uuid.UUID) error
}

// Dispatcher feeds document IDs to a fixed pool of workers. Each document
// is handed to exactly one worker; the Processor's claim step makes a
// duplicate enqueue harmless.
type Dispatcher struct {
	runner  Runner
	logger  *slog.Logger
	workers int

	jobs chan uuid.UUID
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher with the given worker count.
// logger may be nil.
func NewDispatcher(runner Runner, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner:  runner,
		logger:  logger,
		workers: workers,
		jobs:    make(chan uuid.UUID, defaultQueueSize),
	}
}

// Start launches the worker pool. Workers exit when the queue is closed or
// ctx is canceled, whichever comes first.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.logger.Info("dispatcher started", "workers", d.workers)
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case docID, ok := <-d.jobs:
			if !ok {
				return
			}
			if err := d.runner.Process(ctx, docID); err != nil {
				// Claim losses land here; pipeline failures are already
				// recorded on the document.
				d.logger.Warn("document not processed",
					"worker", id, "document_id", docID, "error", err)
			}
		}
	}
}

// Enqueue hands a document to the pool without blocking.
func (d *Dispatcher) Enqueue(documentID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- documentID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for in-flight documents to reach a
// terminal state.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}
