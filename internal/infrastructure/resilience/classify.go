package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

// Verdict is a backend's judgement of one failed call.
type Verdict int

const (
	// Permanent failures count against the breaker and are not retried.
	Permanent Verdict = iota
	// Transient failures are retried and count against the breaker.
	Transient
	// Rejected calls were the caller's fault: no retry, no breaker count.
	Rejected
)

// Classify builds an ErrorClassifier from a backend judgement. Cancellation
// is never retried or counted, open circuits are always retryable, and a nil
// judge treats everything else as Permanent.
func Classify(judge func(error) Verdict) ErrorClassifier {
	return func(err error) ErrorClassification {
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ErrorClassification{}
		case IsCircuitOpen(err):
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}

		verdict := Permanent
		if judge != nil {
			verdict = judge(err)
		}
		switch verdict {
		case Transient:
			return ErrorClassification{Retryable: true, RecordFailure: true}
		case Rejected:
			return ErrorClassification{}
		default:
			return ErrorClassification{RecordFailure: true}
		}
	}
}

// MarkTemporary wraps err in domain.ErrTemporary when classifier would have
// retried it, so the caller can answer 503 or let the scheduler redeliver.
func MarkTemporary(op string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}

// TemporaryClassifier retries errors already marked domain.ErrTemporary.
var TemporaryClassifier = Classify(func(err error) Verdict {
	if domain.IsKind(err, domain.ErrTemporary) {
		return Transient
	}
	return Permanent
})
