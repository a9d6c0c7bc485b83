package link

import (
	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// CreditController tracks link credit and delivery-count for one endpoint.
//
// Credit is held as the last granted link-credit together with the
// delivery-count the grant was relative to. Available credit is
//
//	limit - (deliveryCount - snapshot)
//
// evaluated in serial arithmetic and clamped to [0, limit]. Transfers sent
// after the peer took its snapshot but before the flow arrived are therefore
// charged against the new grant exactly once, whichever order the flow and
// the sends are observed in.
//
// Not safe for concurrent use; guarded by the owning Endpoint.
type CreditController struct {
	deliveryCount uint32
	limit         uint32
	snapshot      uint32
	drain         bool

	// window is the credit a receiver keeps outstanding; 0 disables
	// automatic replenishment.
	window uint32
}

// NewCreditController creates a controller with no credit.
func NewCreditController(initialDeliveryCount, window uint32) *CreditController {
	return &CreditController{
		deliveryCount: initialDeliveryCount,
		snapshot:      initialDeliveryCount,
		window:        window,
	}
}

// Available returns the remaining link credit.
func (c *CreditController) Available() uint32 {
	used := types.SerialDiff(c.deliveryCount, c.snapshot)
	if used <= 0 {
		return c.limit
	}
	if uint32(used) >= c.limit {
		return 0
	}
	return c.limit - uint32(used)
}

// DeliveryCount returns the local delivery-count.
func (c *CreditController) DeliveryCount() uint32 {
	return c.deliveryCount
}

// Draining reports whether the last flow asked the sender to drain.
func (c *CreditController) Draining() bool {
	return c.drain
}

// OnFlow applies a flow received from the peer. snapshot is the
// delivery-count the peer based newLinkCredit on. Returns the credit now
// available.
func (c *CreditController) OnFlow(newLinkCredit, snapshot uint32) uint32 {
	c.limit = newLinkCredit
	c.snapshot = snapshot
	return c.Available()
}

// consume charges one transfer. Returns false when no credit remains.
func (c *CreditController) consume() bool {
	if c.Available() == 0 {
		return false
	}
	c.deliveryCount++
	return true
}

// count advances delivery-count for a received transfer. Receiving never
// fails on credit here; overruns are the session's to report.
func (c *CreditController) count() {
	c.deliveryCount++
}

// Grant issues n credits relative to the current delivery-count and
// returns the flow that carries them to the sender.
func (c *CreditController) Grant(n uint32, drain bool) types.Flow {
	c.limit = n
	c.snapshot = c.deliveryCount
	c.drain = drain
	dc := c.deliveryCount
	return types.Flow{DeliveryCount: &dc, LinkCredit: n, Drain: drain}
}

// needsReplenish reports whether a receiver has used half its window.
func (c *CreditController) needsReplenish() bool {
	return c.window > 0 && c.Available() <= c.window/2
}

// drainRemaining advances delivery-count past all unused credit, as a
// sender does to complete a drain, and returns how much was consumed.
func (c *CreditController) drainRemaining() uint32 {
	n := c.Available()
	c.deliveryCount += n
	c.drain = false
	return n
}

// advanceTo moves a receiver's delivery-count forward to the sender's,
// which happens when the sender completes a drain.
func (c *CreditController) advanceTo(peerCount uint32) {
	if types.SerialLess(c.deliveryCount, peerCount) {
		c.deliveryCount = peerCount
	}
}

// flow describes the current state as a flow performative.
func (c *CreditController) flow() types.Flow {
	dc := c.deliveryCount
	return types.Flow{DeliveryCount: &dc, LinkCredit: c.Available(), Drain: c.drain}
}
