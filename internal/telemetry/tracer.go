package telemetry

import (
	"context"
	"encoding/hex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for messaging spans. Generic keys follow the OpenTelemetry
// messaging conventions; AMQP link details use the "amqp." prefix.
const (
	AttrMessagingSystem = "messaging.system"
	AttrConnectionID    = "messaging.client.id"
	AttrPrincipal       = "enduser.id"

	AttrPerformative = "amqp.performative"
	AttrLinkName     = "amqp.link.name"
	AttrLinkRole     = "amqp.link.role"
	AttrHandle       = "amqp.link.handle"
	AttrDeliveryID   = "amqp.delivery.id"
	AttrDeliveryTag  = "amqp.delivery.tag"
	AttrFirst        = "amqp.disposition.first"
	AttrLast         = "amqp.disposition.last"
	AttrSettled      = "amqp.settled"
	AttrOutcome      = "amqp.outcome"
	AttrCredit       = "amqp.link.credit"
	AttrClosed       = "amqp.detach.closed"

	AttrResumed      = "link.recovery.resumed"
	AttrRedelivered  = "link.recovery.redelivered"
	AttrAppliedCount = "link.recovery.settled"
	AttrDiscarded    = "link.recovery.discarded"

	AttrStoreType = "store.type"
)

// Span names.
const (
	SpanDispatch    = "amqp.dispatch"
	SpanAttach      = "amqp.attach"
	SpanDetach      = "amqp.detach"
	SpanTransfer    = "amqp.transfer"
	SpanDisposition = "amqp.disposition"
	SpanFlow        = "amqp.flow"
	SpanSend        = "amqp.send"

	SpanRecover    = "link.recover"
	SpanSweepStale = "link.sweep_stale"

	SpanStoreGet    = "linkstate.get"
	SpanStorePut    = "linkstate.put"
	SpanStoreDelete = "linkstate.delete"
)

// Performative returns an attribute naming the AMQP performative.
func Performative(name string) attribute.KeyValue {
	return attribute.String(AttrPerformative, name)
}

// LinkName returns an attribute for the link name.
func LinkName(name string) attribute.KeyValue {
	return attribute.String(AttrLinkName, name)
}

// LinkRole returns an attribute for the local link role.
func LinkRole(role string) attribute.KeyValue {
	return attribute.String(AttrLinkRole, role)
}

// Handle returns an attribute for the link handle.
func Handle(h uint32) attribute.KeyValue {
	return attribute.Int64(AttrHandle, int64(h))
}

// DeliveryID returns an attribute for a delivery id.
func DeliveryID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrDeliveryID, int64(id))
}

// DeliveryTag returns an attribute for a delivery tag, hex-encoded.
func DeliveryTag(tag []byte) attribute.KeyValue {
	return attribute.String(AttrDeliveryTag, hex.EncodeToString(tag))
}

// Range returns the first/last attributes of a disposition.
func Range(first, last uint32) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrFirst, int64(first)),
		attribute.Int64(AttrLast, int64(last)),
	}
}

// Settled returns an attribute for the settled flag.
func Settled(settled bool) attribute.KeyValue {
	return attribute.Bool(AttrSettled, settled)
}

// Outcome returns an attribute for a delivery outcome.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// Credit returns an attribute for link credit.
func Credit(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrCredit, int64(n))
}

// ConnectionID returns an attribute for the connection id.
func ConnectionID(id string) attribute.KeyValue {
	return attribute.String(AttrConnectionID, id)
}

// Principal returns an attribute for the acting principal.
func Principal(p string) attribute.KeyValue {
	return attribute.String(AttrPrincipal, p)
}

// StoreType returns an attribute for the recovery store backend.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// StartPerformativeSpan starts a span for handling one inbound
// performative, named "amqp.<performative>".
func StartPerformativeSpan(ctx context.Context, performative string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all, attribute.String(AttrMessagingSystem, "amqp"), Performative(performative))
	all = append(all, attrs...)
	return StartSpan(ctx, "amqp."+performative,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...))
}
