package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently so link, session and store logs can be joined
// on the same attributes.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Connection & Session
	// ========================================================================
	KeyConnectionID = "connection_id"
	KeySessionID    = "session_id"
	KeyPrincipal    = "principal"
	KeyVirtualHost  = "vhost"

	// ========================================================================
	// Link
	// ========================================================================
	KeyLink          = "link"       // Link name
	KeyLinkID        = "link_id"    // Generated link identifier
	KeyHandle        = "handle"     // Session-local link handle
	KeyRole          = "role"       // sender or receiver
	KeyLinkState     = "link_state" // ATTACHING, ATTACHED, DETACHING, DETACHED
	KeyCredit        = "credit"     // Available link credit
	KeyDeliveryCount = "delivery_count"
	KeyDrain         = "drain"
	KeyClosed        = "closed" // Detach is permanent

	// ========================================================================
	// Delivery
	// ========================================================================
	KeyDeliveryID   = "delivery_id"
	KeyDeliveryTag  = "delivery_tag"
	KeyFirst        = "first" // Disposition range start
	KeyLast         = "last"  // Disposition range end
	KeySettled      = "settled"
	KeyOutcome      = "outcome"  // Outcome recorded locally
	KeyReported     = "reported" // Outcome reported by the peer
	KeyUnsettled    = "unsettled"
	KeyAction       = "action" // Recovery decision
	KeyPerformative = "performative"

	// ========================================================================
	// Recovery Store
	// ========================================================================
	KeyStoreType = "store_type" // memory, badger, sqlite, postgres
	KeyStorePath = "store_path"
	KeyRecords   = "records"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyCondition  = "condition" // AMQP error condition
	KeyPath       = "path"
)

// ============================================================================
// Field constructors
// ============================================================================

// Link returns a slog.Attr for a link name.
func Link(name string) slog.Attr {
	return slog.String(KeyLink, name)
}

// DeliveryID returns a slog.Attr for a delivery id.
func DeliveryID(id uint32) slog.Attr {
	return slog.Uint64(KeyDeliveryID, uint64(id))
}

// DeliveryTag returns a slog.Attr for a delivery tag rendered as hex.
func DeliveryTag(hex string) slog.Attr {
	return slog.String(KeyDeliveryTag, hex)
}

// Principal returns a slog.Attr for the acting principal.
func Principal(name string) slog.Attr {
	return slog.String(KeyPrincipal, name)
}

// Err returns a slog.Attr for an error; nil errors produce an empty attr
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Condition returns a slog.Attr for an AMQP error condition.
func Condition(c string) slog.Attr {
	return slog.String(KeyCondition, c)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}
