// Package inproc schedules document processing inside the current process.
// It backs the memory mode where api and worker run as one binary.
package inproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Options struct {
	Buffer int

	// MaxDeliver bounds handler runs per trigger, counting the first.
	MaxDeliver int
	RetryDelay time.Duration

	Logger *slog.Logger
}

func (o Options) normalize() Options {
	if o.Buffer <= 0 {
		o.Buffer = 128
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type delivery struct {
	documentID string
	attempt    int
}

// Scheduler hands due triggers to a single handler loop. A failed handler
// run is delivered again after RetryDelay until MaxDeliver is reached.
type Scheduler struct {
	opts Options

	mu      sync.Mutex
	pending chan delivery
	done    chan struct{}
	timers  map[*time.Timer]struct{}
	closed  bool
	logger  *slog.Logger
}

func New(opts Options) *Scheduler {
	opts = opts.normalize()
	return &Scheduler{
		opts:    opts,
		pending: make(chan delivery, opts.Buffer),
		done:    make(chan struct{}),
		timers:  make(map[*time.Timer]struct{}),
		logger:  opts.Logger.With("component", "inproc_scheduler"),
	}
}

func (s *Scheduler) PublishDocumentUploaded(ctx context.Context, documentID string, delay time.Duration) error {
	return s.enqueue(ctx, delivery{documentID: documentID, attempt: 1}, delay)
}

func (s *Scheduler) enqueue(ctx context.Context, d delivery, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("inproc scheduler closed")
	}
	if delay <= 0 {
		select {
		case s.pending <- d:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Buffer full: hand off asynchronously so callers never block on the loop.
		}
	}

	var timer *time.Timer
	timer = time.AfterFunc(max(delay, 0), func() {
		s.mu.Lock()
		delete(s.timers, timer)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		select {
		case s.pending <- d:
		case <-s.done:
		}
	})
	s.timers[timer] = struct{}{}
	return nil
}

// SubscribeDocumentUploaded runs handler for each due document until ctx is done.
func (s *Scheduler) SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return nil
		case d := <-s.pending:
			err := handler(ctx, d.documentID)
			if err == nil {
				continue
			}
			log := s.logger.With("document_id", d.documentID, "attempt", d.attempt)
			if d.attempt >= s.opts.MaxDeliver {
				log.Error("worker_handler_gave_up", "error", err)
				continue
			}
			log.Warn("worker_handler_failed", "error", err, "retry_in_ms", s.opts.RetryDelay.Milliseconds())
			next := delivery{documentID: d.documentID, attempt: d.attempt + 1}
			if err := s.enqueue(context.WithoutCancel(ctx), next, s.opts.RetryDelay); err != nil {
				log.Error("worker_redelivery_failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for timer := range s.timers {
		timer.Stop()
	}
	clear(s.timers)
}
