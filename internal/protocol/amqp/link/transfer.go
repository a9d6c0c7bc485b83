package link

import (
	"time"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// UnsettledTransfer pairs a delivery with the endpoint that owns it.
//
// It is live in its endpoint's Registry while the delivery is unsettled and
// is removed exactly once when settlement happens. The record remains
// readable after removal and reports the final outcome.
//
// Fields are guarded by the owning endpoint's mutex; the exported accessors
// take it.
type UnsettledTransfer struct {
	owner    *Endpoint
	transfer *types.Transfer

	state       types.DeliveryState
	settled     bool
	redelivered bool
	createdAt   time.Time
}

func newUnsettledTransfer(t *types.Transfer, owner *Endpoint, now time.Time) *UnsettledTransfer {
	return &UnsettledTransfer{
		owner:     owner,
		transfer:  t,
		state:     t.State,
		createdAt: now,
	}
}

func (u *UnsettledTransfer) lock() func() {
	if u.owner == nil {
		return func() {}
	}
	u.owner.mu.Lock()
	return u.owner.mu.Unlock
}

// DeliveryID returns the delivery id. Immutable.
func (u *UnsettledTransfer) DeliveryID() types.DeliveryID {
	return u.transfer.DeliveryID
}

// DeliveryTag returns the delivery tag. Immutable.
func (u *UnsettledTransfer) DeliveryTag() types.DeliveryTag {
	return u.transfer.DeliveryTag
}

// Owner returns the endpoint the delivery belongs to.
func (u *UnsettledTransfer) Owner() *Endpoint {
	return u.owner
}

// CreatedAt returns when the delivery was registered.
func (u *UnsettledTransfer) CreatedAt() time.Time {
	return u.createdAt
}

// State returns the current delivery state.
func (u *UnsettledTransfer) State() types.DeliveryState {
	defer u.lock()()
	return u.state
}

// Settled reports whether the delivery has been settled.
func (u *UnsettledTransfer) Settled() bool {
	defer u.lock()()
	return u.settled
}

// Redelivered reports whether this is a redelivery after recovery.
func (u *UnsettledTransfer) Redelivered() bool {
	defer u.lock()()
	return u.redelivered
}

// Transfer returns a copy of the transfer, including all payload fragments
// received so far.
func (u *UnsettledTransfer) Transfer() *types.Transfer {
	defer u.lock()()
	c := u.transfer.Clone()
	c.State = u.state
	c.Settled = u.settled
	return c
}

// setOutcome records a terminal outcome. A second, different outcome is
// refused and reported as a mismatch; the first outcome stands.
func (u *UnsettledTransfer) setOutcome(s types.DeliveryState) (changed, mismatch bool) {
	if !s.IsTerminal() {
		return false, false
	}
	if u.state.IsTerminal() {
		return false, !u.state.Same(s)
	}
	u.state = s
	return true, false
}
