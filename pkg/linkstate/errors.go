package linkstate

import (
	"errors"
	"fmt"
)

// ErrorCode classifies recovery store failures.
type ErrorCode int

const (
	// ErrNotFound indicates no record is retained for the key.
	ErrNotFound ErrorCode = iota + 1

	// ErrInvalidRecord indicates a record failed validation before storage.
	ErrInvalidRecord

	// ErrCorrupt indicates a stored record could not be decoded.
	ErrCorrupt

	// ErrClosed indicates the store was used after Close.
	ErrClosed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrInvalidRecord:
		return "InvalidRecord"
	case ErrCorrupt:
		return "Corrupt"
	case ErrClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StoreError is returned by RecoveryStore implementations.
type StoreError struct {
	Code    ErrorCode
	Message string
	Key     string
	Err     error
}

func (e *StoreError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(key Key) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "no retained state", Key: key.String()}
}

// NewInvalidRecordError reports a record that cannot be stored.
func NewInvalidRecordError(msg string) *StoreError {
	return &StoreError{Code: ErrInvalidRecord, Message: msg}
}

// NewCorruptError wraps a decode failure.
func NewCorruptError(key string, err error) *StoreError {
	return &StoreError{Code: ErrCorrupt, Message: "corrupt link record", Key: key, Err: err}
}

// NewClosedError reports use after Close.
func NewClosedError() *StoreError {
	return &StoreError{Code: ErrClosed, Message: "recovery store is closed"}
}

// IsNotFoundError reports whether err is a NotFound store error.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsClosedError reports whether err is a Closed store error.
func IsClosedError(err error) bool {
	return hasCode(err, ErrClosed)
}

func hasCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// Validate checks that rec can be stored.
func Validate(rec *Record) error {
	if rec == nil {
		return NewInvalidRecordError("nil record")
	}
	if rec.LinkName == "" {
		return NewInvalidRecordError("record has no link name")
	}
	seen := make(map[string]struct{}, len(rec.Deliveries))
	for _, d := range rec.Deliveries {
		if len(d.DeliveryTag) == 0 {
			return NewInvalidRecordError(fmt.Sprintf("delivery %d has no tag", d.DeliveryID))
		}
		if _, dup := seen[d.DeliveryTag.Key()]; dup {
			return NewInvalidRecordError(fmt.Sprintf("duplicate delivery tag %s", d.DeliveryTag))
		}
		seen[d.DeliveryTag.Key()] = struct{}{}
	}
	return nil
}
