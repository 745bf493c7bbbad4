package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docdesk/internal/infrastructure/resilience"
)

const publishOperation = "nats.publish"

var classifyPublishError = resilience.Classify(judgePublishError)

// judgePublishError retries connection loss and a JetStream that is not
// answering yet. Malformed publishes are the caller's fault.
func judgePublishError(err error) resilience.Verdict {
	for _, transient := range []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		nats.ErrConnectionClosed,
		nats.ErrConnectionReconnecting,
		nats.ErrDisconnected,
		nats.ErrNoResponders,
		nats.ErrJetStreamNotEnabled,
	} {
		if errors.Is(err, transient) {
			return resilience.Transient
		}
	}
	if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
		return resilience.Rejected
	}
	return resilience.Permanent
}
