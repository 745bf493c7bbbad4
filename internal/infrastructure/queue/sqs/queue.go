package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/infrastructure/queue"
	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
)

// maxDelay is the SQS limit for DelaySeconds.
const maxDelay = 15 * time.Minute

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type Options struct {
	Region             string
	Endpoint           string
	VisibilityTimeout  time.Duration
	WaitTime           time.Duration
	Concurrency        int
	ShutdownTimeout    time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger

	// LagObserver receives the delay between a message becoming due and its handling.
	LagObserver func(time.Duration)
}

func (o Options) normalize() Options {
	out := o
	if out.VisibilityTimeout <= 0 {
		out.VisibilityTimeout = 10 * time.Minute
	}
	if out.WaitTime <= 0 || out.WaitTime > 20*time.Second {
		out.WaitTime = 20 * time.Second
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

type Queue struct {
	client   sqsAPI
	queueURL string
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func New(ctx context.Context, queueURL string, options Options) (*Queue, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if options.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(options.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if options.Endpoint != "" {
			o.BaseEndpoint = aws.String(options.Endpoint)
		}
	})
	return newQueue(client, queueURL, options), nil
}

func newQueue(client sqsAPI, queueURL string, options Options) *Queue {
	opts := options.normalize()
	return &Queue{
		client:   client,
		queueURL: queueURL,
		opts:     opts,
		logger:   opts.Logger.With("component", "sqs_queue"),
		now:      time.Now,
	}
}

func (q *Queue) PublishDocumentUploaded(ctx context.Context, documentID string, delay time.Duration) error {
	msg := queue.NewDocumentUploaded(documentID, q.now(), delay)
	payload, err := queue.Encode(msg)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(payload)),
		DelaySeconds: delaySeconds(delay),
	}
	call := func(callCtx context.Context) error {
		if _, err := q.client.SendMessage(callCtx, input); err != nil {
			return domain.WrapError(domain.ErrTemporary, "sqs send message", err)
		}
		return nil
	}
	if q.opts.ResilienceExecutor != nil {
		return q.opts.ResilienceExecutor.Execute(ctx, "sqs.send", call, resilience.TemporaryClassifier)
	}
	return call(ctx)
}

// delaySeconds rounds up to whole seconds within the SQS limit. Anything past
// the limit is held back by the consumer using the message not_before.
func delaySeconds(delay time.Duration) int32 {
	if delay <= 0 {
		return 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return int32((delay + time.Second - 1) / time.Second)
}

func (q *Queue) SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	sem := make(chan struct{}, q.opts.Concurrency)
	var wg sync.WaitGroup

	q.logger.Info("sqs_subscribe_started", "queue_url", q.queueURL, "concurrency", q.opts.Concurrency)

pollLoop:
	for {
		if ctx.Err() != nil {
			break
		}

		resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     int32(q.opts.WaitTime / time.Second),
			VisibilityTimeout:   int32(q.opts.VisibilityTimeout / time.Second),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			q.logger.Error("sqs_receive_failed", "error", err)
			select {
			case <-ctx.Done():
				break pollLoop
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				q.handleMessage(ctx, m, handler)
			}(msg)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(q.opts.ShutdownTimeout):
		q.logger.Warn("sqs_shutdown_timeout", "timeout", q.opts.ShutdownTimeout)
	}
	return nil
}

func (q *Queue) handleMessage(ctx context.Context, msg sqstypes.Message, handler func(context.Context, string) error) {
	logger := q.logger.With(
		"sqs_message_id", aws.ToString(msg.MessageId),
		"receive_count", receiveCount(msg),
	)

	decoded, err := queue.Decode([]byte(aws.ToString(msg.Body)))
	if err != nil {
		logger.Error("queue_message_rejected", "error", err)
		q.deleteMessage(ctx, logger, msg)
		return
	}

	now := q.now()
	if wait := decoded.Wait(now); wait > 0 {
		q.postpone(ctx, logger, msg, wait)
		return
	}
	if q.opts.LagObserver != nil {
		q.opts.LagObserver(decoded.Lag(now))
	}

	if err := handler(ctx, decoded.DocumentID); err != nil {
		// Left undeleted, the message returns after the visibility timeout.
		logger.Error("worker_handler_failed", "document_id", decoded.DocumentID, "error", err)
		return
	}
	q.deleteMessage(ctx, logger, msg)
}

func (q *Queue) postpone(ctx context.Context, logger *slog.Logger, msg sqstypes.Message, wait time.Duration) {
	if _, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: delaySeconds(wait),
	}); err != nil {
		logger.Warn("sqs_postpone_failed", "error", err)
	}
}

func (q *Queue) deleteMessage(ctx context.Context, logger *slog.Logger, msg sqstypes.Message) {
	if aws.ToString(msg.ReceiptHandle) == "" {
		logger.Error("sqs_delete_failed", "error", "missing receipt handle")
		return
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		logger.Error("sqs_delete_failed", "error", err)
	}
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return count
}
