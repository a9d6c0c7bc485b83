// Package session routes inbound link performatives for one AMQP session
// to the link endpoints attached on it.
//
// A Session owns the handle to endpoint map, builds endpoints on attach,
// retains their unsettled state in a linkstate.RecoveryStore on detach and
// reconciles it on reattach. Performatives are applied one at a time, in
// arrival order, by Dispatch or by the Run loop.
//
// Locking: the endpoint map is guarded by an RWMutex; each endpoint guards
// its own state. Recovery store I/O happens with no endpoint lock held.
package session
