package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/infrastructure/queue"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
)

type Queue struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	subject  string
	opts     Options
	executor *resilience.Executor
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor

	Stream     string
	Group      string
	AckWait    time.Duration
	MaxDeliver int
	RetryDelay time.Duration

	Logger *slog.Logger

	// LagObserver receives the delay between a message becoming due and its handling.
	LagObserver func(time.Duration)
}

func (o Options) normalize() Options {
	out := o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 2 * time.Second
	}
	if out.ReconnectWait <= 0 {
		out.ReconnectWait = 2 * time.Second
	}
	if out.MaxReconnects <= 0 {
		out.MaxReconnects = 60
	}
	if out.Stream == "" {
		out.Stream = "DOCUMENTS"
	}
	if out.Group == "" {
		out.Group = "workers"
	}
	if out.AckWait <= 0 {
		out.AckWait = 10 * time.Minute
	}
	if out.MaxDeliver <= 0 {
		out.MaxDeliver = 20
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 15 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	opts := options.normalize()
	retryOnFailedConnect := true
	if opts.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *opts.RetryOnFailedConnect
	}
	logger := opts.Logger.With("component", "nats_queue")

	conn, err := nats.Connect(
		url,
		nats.Name("docdesk"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats jetstream context: %w", err)
	}
	if err := ensureStream(js, opts.Stream, subject); err != nil {
		conn.Close()
		return nil, err
	}

	return &Queue{
		conn:     conn,
		js:       js,
		subject:  subject,
		opts:     opts,
		executor: opts.ResilienceExecutor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats stream info: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("nats add stream: %w", err)
	}
	return nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentUploaded(ctx context.Context, documentID string, delay time.Duration) error {
	payload, err := queue.Encode(queue.NewDocumentUploaded(documentID, q.now(), delay))
	if err != nil {
		return err
	}

	call := func(callCtx context.Context) error {
		if _, err := q.js.Publish(q.subject, payload, nats.Context(callCtx)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, publishOperation, call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return resilience.MarkTemporary(publishOperation, err, classifyPublishError)
}

func (q *Queue) SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.js.QueueSubscribe(q.subject, q.opts.Group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		q.deliver(ctx, msg, msg.Data, handler)
	},
		nats.Durable(q.opts.Group),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(q.opts.AckWait),
		nats.MaxDeliver(q.opts.MaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// acker is the subset of *nats.Msg used to settle a delivery.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

func (q *Queue) deliver(ctx context.Context, msg acker, data []byte, handler func(context.Context, string) error) {
	decoded, err := queue.Decode(data)
	if err != nil {
		q.logger.Error("queue_message_rejected", "error", err)
		q.settle(msg.Term(), "term")
		return
	}

	now := q.now()
	if wait := decoded.Wait(now); wait > 0 {
		q.settle(msg.NakWithDelay(wait), "nak_delay")
		return
	}
	if q.opts.LagObserver != nil {
		q.opts.LagObserver(decoded.Lag(now))
	}

	if err := handler(ctx, decoded.DocumentID); err != nil {
		q.logger.Error("worker_handler_failed", "document_id", decoded.DocumentID, "error", err)
		if domain.IsKind(err, domain.ErrTemporary) || errors.Is(err, context.DeadlineExceeded) {
			q.settle(msg.NakWithDelay(q.opts.RetryDelay), "nak_delay")
			return
		}
		q.settle(msg.Nak(), "nak")
		return
	}
	q.settle(msg.Ack(), "ack")
}

func (q *Queue) settle(err error, action string) {
	if err != nil {
		q.logger.Warn("queue_settle_failed", "action", action, "error", err)
	}
}
