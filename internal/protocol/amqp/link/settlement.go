package link

import (
	"context"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// Coordinator applies dispositions received from the peer to an
// endpoint's unsettled table.
//
// Thread-safe: holds no state of its own and takes the endpoint lock for
// the duration of each disposition, so dispositions for one link are
// ordered with respect to sends and receives on it.
type Coordinator struct {
	metrics *Metrics
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(m *Metrics) *Coordinator {
	return &Coordinator{metrics: m}
}

// Result summarises one applied disposition.
type Result struct {
	// Matched counts live deliveries in the range.
	Matched int

	// Settled counts deliveries released from the unsettled table.
	Settled int

	// Ignored counts ids in the range that were not live.
	Ignored uint64

	// Mismatched counts deliveries whose recorded outcome differed from
	// the disposition's; the recorded outcome was kept.
	Mismatched int

	// Echoes holds the settled dispositions sent back to the peer.
	Echoes []types.Disposition

	// Deliveries lists the matched records in id order.
	Deliveries []*UnsettledTransfer
}

// ApplyDisposition applies d to e.
//
// For each live delivery in the range the outcome, if any, is recorded
// unless a different outcome was recorded before, in which case the
// mismatch is logged and the first outcome stands. With d.Settled the
// delivery is released. Without it, an endpoint in receiver-settle-mode
// second settles the delivery itself once an outcome is known and echoes a
// settled disposition to the peer.
//
// Ids that are not live, including those settled by an earlier overlapping
// disposition, are ignored. A range that matches nothing is logged and
// dropped. A range whose last id precedes its first is a ProtocolViolation.
func (c *Coordinator) ApplyDisposition(ctx context.Context, e *Endpoint, d *types.Disposition) (*Result, error) {
	first, last := d.Range()
	if types.SerialLess(uint32(last), uint32(first)) {
		c.metrics.recordProtocolViolation(ReasonMalformedRange)
		return nil, newDeliveryError(ErrProtocolViolation, e.name, first,
			"disposition range ends at %d", last)
	}
	if d.Role == e.role {
		c.metrics.recordProtocolViolation(ReasonRoleMismatch)
		return nil, newError(ErrProtocolViolation, e.name,
			"disposition from a %s applied to a %s link", d.Role, e.role)
	}

	res := &Result{}
	span := uint64(uint32(last)-uint32(first)) + 1

	e.mu.Lock()
	if e.state >= StateDetaching {
		e.mu.Unlock()
		c.metrics.recordBenignRace(ReasonAfterDetach)
		logger.DebugCtx(ctx, "disposition after detach dropped",
			logger.KeyLink, e.name, logger.KeyFirst, first, logger.KeyLast, last)
		res.Ignored = span
		return res, nil
	}

	var echoIDs []types.DeliveryID
	var echoStates []types.DeliveryState
	for _, id := range e.idsInRangeLocked(first, last) {
		entry, _ := e.unsettled.Lookup(id)
		res.Matched++
		res.Deliveries = append(res.Deliveries, entry)

		if _, mismatch := entry.setOutcome(d.State); mismatch {
			res.Mismatched++
			c.metrics.recordMismatch()
			logger.WarnCtx(ctx, "conflicting delivery outcome ignored",
				logger.KeyLink, e.name,
				logger.KeyDeliveryID, id,
				logger.KeyOutcome, entry.state.String(),
				logger.KeyReported, d.State.String())
		}

		switch {
		case d.Settled:
			e.settleLocked(entry)
			res.Settled++
		case entry.state.IsTerminal() && e.rcvMode == types.ReceiverSettleSecond:
			e.settleLocked(entry)
			res.Settled++
			echoIDs = append(echoIDs, id)
			echoStates = append(echoStates, entry.state)
		}
	}
	e.mu.Unlock()

	res.Ignored = span - uint64(res.Matched)
	if res.Matched == 0 {
		c.metrics.recordBenignRace(ReasonUnknownDelivery)
		logger.DebugCtx(ctx, "disposition for unknown deliveries dropped",
			logger.KeyLink, e.name, logger.KeyFirst, first, logger.KeyLast, last)
		return res, nil
	}
	if res.Ignored > 0 {
		c.metrics.recordBenignRace(ReasonAlreadySettled)
	}

	res.Echoes = coalesce(e.handle, e.role, echoIDs, echoStates)
	for _, echo := range res.Echoes {
		e.emit(DispositionEvent{Link: e.name, Disposition: echo})
	}
	return res, nil
}

// settleLocked releases entry from the unsettled table and marks it settled.
func (e *Endpoint) settleLocked(entry *UnsettledTransfer) {
	if _, ok := e.unsettled.Release(entry.transfer.DeliveryID); !ok {
		return
	}
	entry.settled = true
	if e.partial == entry {
		e.partial = nil
	}
	e.metrics.recordSettled(e.role, entry.state)
}

// coalesce folds ascending ids into settled dispositions covering
// contiguous runs that share an outcome kind.
func coalesce(handle types.Handle, role types.Role, ids []types.DeliveryID, states []types.DeliveryState) []types.Disposition {
	var out []types.Disposition
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 && states[j+1].Same(states[i]) {
			j++
		}
		d := types.Disposition{Handle: handle, Role: role, First: ids[i], Settled: true, State: states[i]}
		if j > i {
			l := ids[j]
			d.Last = &l
		}
		out = append(out, d)
		i = j + 1
	}
	return out
}
