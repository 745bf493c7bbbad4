// Package queue holds the wire format shared by the scheduler backends.
package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

const messageVersion = 1

// DocumentUploaded asks a worker to process one document.
type DocumentUploaded struct {
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	Version    int       `json:"version"`
}

func NewDocumentUploaded(documentID string, now time.Time, delay time.Duration) DocumentUploaded {
	msg := DocumentUploaded{
		DocumentID: documentID,
		EnqueuedAt: now.UTC(),
		Version:    messageVersion,
	}
	if delay > 0 {
		msg.NotBefore = msg.EnqueuedAt.Add(delay)
	}
	return msg
}

func Encode(msg DocumentUploaded) ([]byte, error) {
	if strings.TrimSpace(msg.DocumentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode queue message", fmt.Errorf("document id is required"))
	}
	if msg.Version == 0 {
		msg.Version = messageVersion
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}
	return payload, nil
}

// Decode parses a message body. Bodies that are not JSON objects are read as
// a bare document id.
func Decode(data []byte) (DocumentUploaded, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return DocumentUploaded{}, domain.WrapError(domain.ErrInvalidInput, "decode queue message", fmt.Errorf("empty body"))
	}
	if trimmed[0] != '{' {
		return DocumentUploaded{DocumentID: string(trimmed)}, nil
	}

	var msg DocumentUploaded
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return DocumentUploaded{}, domain.WrapError(domain.ErrInvalidInput, "decode queue message", err)
	}
	msg.DocumentID = strings.TrimSpace(msg.DocumentID)
	if msg.DocumentID == "" {
		return DocumentUploaded{}, domain.WrapError(domain.ErrInvalidInput, "decode queue message", fmt.Errorf("document id is required"))
	}
	return msg, nil
}

// Wait returns how long the message must still be held back at now.
func (m DocumentUploaded) Wait(now time.Time) time.Duration {
	if m.NotBefore.IsZero() {
		return 0
	}
	if d := m.NotBefore.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Lag is the time between when the message became due and now.
func (m DocumentUploaded) Lag(now time.Time) time.Duration {
	due := m.EnqueuedAt
	if m.NotBefore.After(due) {
		due = m.NotBefore
	}
	if due.IsZero() {
		return 0
	}
	return now.Sub(due)
}
