package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// ErrorKind classifies a failure so callers can branch on kind instead of
// matching raw provider error text.
type ErrorKind string

const (
	ErrorKindNetworkTimeout    ErrorKind = "network_timeout"
	ErrorKindChannelRejected   ErrorKind = "channel_rejected"
	ErrorKindChannelThrottled  ErrorKind = "channel_throttled"
	ErrorKindSignatureInvalid  ErrorKind = "signature_invalid"
	ErrorKindPersistenceFailed ErrorKind = "persistence_failed"
	ErrorKindUnknown           ErrorKind = "unknown"
)

func (k ErrorKind) String() string { return string(k) }
