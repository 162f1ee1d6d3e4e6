package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries is the retry ceiling after which a failed message becomes
// a permanent dead letter.
const DefaultMaxRetries = 3

// MessageStatus represents the send-attempt state of one recipient message.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

func (s MessageStatus) String() string { return string(s) }

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusFailed:
		return true
	}
	return false
}

func ParseMessageStatusFromString(s string) (MessageStatus, error) {
	st := MessageStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid message status %q", ErrValidation, s)
	}
	return st, nil
}

// Message is one per-recipient unit of work within a Job. Attempt bookkeeping
// lives here; channel-reported delivery state lives in DeliveryStatus.
type Message struct {
	ID                string
	JobID             string
	ToNumber          string
	Status            MessageStatus
	Attempts          int
	LastError         *string
	ProviderMessageID *string
	ClaimedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Job is the owning campaign, populated on reads that join the parent.
	Job *Job
}

// IsDeadLetter reports whether the message has exhausted its retry budget and
// must never be attempted again.
func (m *Message) IsDeadLetter() bool {
	return m.Status == MessageStatusFailed && m.Attempts >= DefaultMaxRetries
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("%w: job id is required", ErrValidation)
	}
	if strings.TrimSpace(m.ToNumber) == "" {
		return fmt.Errorf("%w: recipient number is required", ErrValidation)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: invalid message status %q", ErrValidation, m.Status)
	}
	if m.Attempts < 0 {
		return fmt.Errorf("%w: attempts must not be negative", ErrValidation)
	}
	return nil
}
