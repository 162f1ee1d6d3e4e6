package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelStatus is the channel-reported lifecycle state of a sent message,
// fed by inbound delivery receipts.
type ChannelStatus string

const (
	ChannelStatusPending   ChannelStatus = "pending"
	ChannelStatusSent      ChannelStatus = "sent"
	ChannelStatusDelivered ChannelStatus = "delivered"
	ChannelStatusRead      ChannelStatus = "read"
	ChannelStatusFailed    ChannelStatus = "failed"
)

func (s ChannelStatus) String() string { return string(s) }

func (s ChannelStatus) IsValid() bool {
	switch s {
	case ChannelStatusPending, ChannelStatusSent, ChannelStatusDelivered, ChannelStatusRead, ChannelStatusFailed:
		return true
	}
	return false
}

func ParseChannelStatusFromString(s string) (ChannelStatus, error) {
	st := ChannelStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid channel status %q", ErrValidation, s)
	}
	return st, nil
}

// SupersededBy reports whether next may overwrite the current status. Receipts
// arrive out of order; the one known stale case is a late "delivered" after
// "read" has already been recorded. Everything else overwrites unconditionally.
func (s ChannelStatus) SupersededBy(next ChannelStatus) bool {
	if s == ChannelStatusRead && next == ChannelStatusDelivered {
		return false
	}
	return true
}

// DeliveryStatus tracks the channel-reported state of one Message. At most one
// row exists per message; receipts upsert it idempotently. It is kept apart
// from Message so high-churn webhook writes do not contend with the send path.
type DeliveryStatus struct {
	ID        string
	MessageID string
	Status    ChannelStatus
	LastError *string
	UpdatedAt time.Time
}
