package link

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// ErrorCode classifies link failures.
type ErrorCode int

const (
	// ErrDuplicateDelivery indicates a delivery id is already live on the
	// link. Protocol violation; never retried.
	ErrDuplicateDelivery ErrorCode = iota + 1

	// ErrProtocolViolation indicates a malformed performative, such as a
	// disposition range whose last id precedes its first.
	ErrProtocolViolation

	// ErrCreditExhausted indicates the sender has no link credit. The caller
	// retries after a flow update.
	ErrCreditExhausted

	// ErrLinkDetached indicates the link is detaching or detached.
	ErrLinkDetached

	// ErrInvalidState indicates the operation does not apply to the
	// endpoint's role or attach state.
	ErrInvalidState

	// ErrUnknownLink indicates a handle or name that maps to no endpoint.
	ErrUnknownLink
)

func (c ErrorCode) String() string {
	switch c {
	case ErrDuplicateDelivery:
		return "DuplicateDelivery"
	case ErrProtocolViolation:
		return "ProtocolViolation"
	case ErrCreditExhausted:
		return "CreditExhausted"
	case ErrLinkDetached:
		return "LinkDetached"
	case ErrInvalidState:
		return "InvalidState"
	case ErrUnknownLink:
		return "UnknownLink"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by endpoint operations.
type Error struct {
	Code       ErrorCode
	Message    string
	Link       string
	DeliveryID *types.DeliveryID
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Link != "" {
		msg += fmt.Sprintf(" (link=%s", e.Link)
		if e.DeliveryID != nil {
			msg += fmt.Sprintf(" delivery=%d", *e.DeliveryID)
		}
		msg += ")"
	}
	return msg
}

// Is matches on error code so errors.Is(err, &Error{Code: ErrLinkDetached})
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Condition maps the error to the AMQP error condition carried on a
// detach or close.
func (e *Error) Condition() *types.ErrorInfo {
	cond := types.ConditionInternalError
	switch e.Code {
	case ErrDuplicateDelivery, ErrProtocolViolation:
		cond = types.ConditionInvalidField
	case ErrCreditExhausted:
		cond = types.ConditionTransferLimit
	case ErrLinkDetached:
		cond = types.ConditionDetachForced
	case ErrInvalidState:
		cond = types.ConditionIllegalState
	case ErrUnknownLink:
		cond = types.ConditionSessionUnattached
	}
	return &types.ErrorInfo{Condition: cond, Description: e.Error()}
}

func newError(code ErrorCode, link, format string, args ...any) *Error {
	return &Error{Code: code, Link: link, Message: fmt.Sprintf(format, args...)}
}

func newDeliveryError(code ErrorCode, link string, id types.DeliveryID, format string, args ...any) *Error {
	return &Error{Code: code, Link: link, DeliveryID: &id, Message: fmt.Sprintf(format, args...)}
}

// IsDuplicateDelivery reports whether err is a duplicate delivery error.
func IsDuplicateDelivery(err error) bool { return hasCode(err, ErrDuplicateDelivery) }

// IsProtocolViolation reports whether err is a protocol violation.
func IsProtocolViolation(err error) bool { return hasCode(err, ErrProtocolViolation) }

// IsCreditExhausted reports whether err is a credit exhaustion signal.
func IsCreditExhausted(err error) bool { return hasCode(err, ErrCreditExhausted) }

// IsLinkDetached reports whether err indicates a detached link.
func IsLinkDetached(err error) bool { return hasCode(err, ErrLinkDetached) }

// IsUnknownLink reports whether err names a link that does not exist.
func IsUnknownLink(err error) bool { return hasCode(err, ErrUnknownLink) }

// IsFatal reports whether err must terminate the link and connection.
func IsFatal(err error) bool {
	return IsDuplicateDelivery(err) || IsProtocolViolation(err)
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func hasCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}
