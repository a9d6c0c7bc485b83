package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DeliveryID is the per-link, per-direction delivery sequence number.
//
// Delivery ids are RFC-1982 serial numbers: they wrap at 2^32 and must be
// compared with SerialLess, never with the native < operator.
type DeliveryID uint32

// SerialLess reports whether a precedes b in serial-number order.
func SerialLess(a, b uint32) bool {
	return a != b && int32(a-b) < 0
}

// SerialDiff returns a-b in serial-number arithmetic.
func SerialDiff(a, b uint32) int32 {
	return int32(a - b)
}

// DeliveryTag is the opaque correlation value chosen by the sender.
type DeliveryTag []byte

// String returns the tag as lowercase hex.
func (t DeliveryTag) String() string {
	return hex.EncodeToString(t)
}

// Key returns the tag as a comparable map key.
func (t DeliveryTag) Key() string {
	return string(t)
}

// Equal reports whether two tags carry the same bytes.
func (t DeliveryTag) Equal(o DeliveryTag) bool {
	return string(t) == string(o)
}

// ParseDeliveryTag decodes a hex string produced by DeliveryTag.String.
func ParseDeliveryTag(s string) (DeliveryTag, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid delivery tag %q: %w", s, err)
	}
	return DeliveryTag(b), nil
}

// StateKind enumerates delivery states.
type StateKind uint8

const (
	StateUnsettled StateKind = iota
	StateAccepted
	StateRejected
	StateReleased
	StateModified
)

// String returns the AMQP name of the state.
func (k StateKind) String() string {
	switch k {
	case StateUnsettled:
		return "unsettled"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateReleased:
		return "released"
	case StateModified:
		return "modified"
	default:
		return fmt.Sprintf("state(%d)", uint8(k))
	}
}

// ParseStateKind parses the name returned by StateKind.String.
func ParseStateKind(s string) (StateKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unsettled":
		return StateUnsettled, nil
	case "accepted":
		return StateAccepted, nil
	case "rejected":
		return StateRejected, nil
	case "released":
		return StateReleased, nil
	case "modified":
		return StateModified, nil
	default:
		return StateUnsettled, fmt.Errorf("unknown delivery state %q", s)
	}
}

// DeliveryState is the outcome carried by transfers and dispositions.
//
// Rejected carries an optional error; modified carries the delivery-failed
// and undeliverable-here flags.
type DeliveryState struct {
	Kind StateKind `json:"kind" yaml:"kind"`

	// Rejected
	Error *ErrorInfo `json:"error,omitempty" yaml:"error,omitempty"`

	// Modified
	DeliveryFailed    bool `json:"delivery_failed,omitempty" yaml:"delivery_failed,omitempty"`
	UndeliverableHere bool `json:"undeliverable_here,omitempty" yaml:"undeliverable_here,omitempty"`
}

// Outcome constructors.
var (
	Unsettled = DeliveryState{Kind: StateUnsettled}
	Accepted  = DeliveryState{Kind: StateAccepted}
	Released  = DeliveryState{Kind: StateReleased}
)

// Rejected returns a rejected outcome carrying err.
func Rejected(err *ErrorInfo) DeliveryState {
	return DeliveryState{Kind: StateRejected, Error: err}
}

// Modified returns a modified outcome.
func Modified(deliveryFailed, undeliverableHere bool) DeliveryState {
	return DeliveryState{Kind: StateModified, DeliveryFailed: deliveryFailed, UndeliverableHere: undeliverableHere}
}

// IsTerminal reports whether the state is an outcome.
func (s DeliveryState) IsTerminal() bool {
	return s.Kind != StateUnsettled
}

// Same reports whether two states describe the same outcome kind.
func (s DeliveryState) Same(o DeliveryState) bool {
	return s.Kind == o.Kind
}

func (s DeliveryState) String() string {
	return s.Kind.String()
}

// ErrorInfo is the AMQP error type: a symbolic condition and description.
type ErrorInfo struct {
	Condition   string `json:"condition" yaml:"condition"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e.Description == "" {
		return e.Condition
	}
	return e.Condition + ": " + e.Description
}

// Standard AMQP error conditions used by the link layer.
const (
	ConditionInternalError      = "amqp:internal-error"
	ConditionNotFound           = "amqp:not-found"
	ConditionInvalidField       = "amqp:invalid-field"
	ConditionIllegalState       = "amqp:illegal-state"
	ConditionResourceLimit      = "amqp:resource-limit-exceeded"
	ConditionDetachForced       = "amqp:link:detach-forced"
	ConditionTransferLimit      = "amqp:link:transfer-limit-exceeded"
	ConditionMessageSizeExceed  = "amqp:link:message-size-exceeded"
	ConditionStolen             = "amqp:link:stolen"
	ConditionSessionUnattached  = "amqp:session:unattached-handle"
	ConditionSessionErrantLink  = "amqp:session:errant-link"
	ConditionConnectionForced   = "amqp:connection:forced"
	ConditionFramingError       = "amqp:connection:framing-error"
	ConditionPreconditionFailed = "amqp:precondition-failed"
)
