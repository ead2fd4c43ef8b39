package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

const defaultDeliveryTimeout = 10 * time.Second

// Queue hands notifications to a single background worker so callers never
// wait on delivery. Close drains what is already queued.
type Queue struct {
	sink   Dispatcher
	logger *slog.Logger
	ch     chan Notification

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewQueue(sink Dispatcher, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sink:   sink,
		logger: logger,
		ch:     make(chan Notification, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Dispatch enqueues n without blocking.
func (q *Queue) Dispatch(_ context.Context, n Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for n := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
		if err := q.sink.Dispatch(ctx, n); err != nil {
			q.logger.Warn("notification delivery failed",
				slog.String("event", n.Event),
				slog.String("recipient_id", n.RecipientID),
				slog.String("project_id", n.ProjectID),
				slog.Any("error", err))
		}
		cancel()
	}
}

// Close stops accepting work and waits for queued notifications to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
}
