// Package link implements reliable-delivery tracking for AMQP 1.0 link
// endpoints: the unsettled delivery table, credit accounting, disposition
// application and settlement-state reconciliation on reattach.
//
// Concurrency model: every Endpoint owns one mutex guarding its credit,
// delivery-count, unsettled table and redelivery queue. Coordinator and
// RecoveryManager take that same mutex while they operate on an endpoint.
// Different endpoints share no state. Nothing in this package blocks on I/O;
// outbound performatives are handed to an EventSink after the endpoint lock
// is released.
package link
