// Package types defines the decoded AMQP 1.0 link performatives consumed and
// produced by the delivery tracking core.
//
// Wire encoding is handled elsewhere; values in this package are plain Go
// structs that a codec fills in (inbound) or serializes (outbound).
package types
