package link

import (
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// Action is the reconciliation decision for one retained delivery.
type Action int

const (
	// ActionResume keeps the delivery unsettled on the new attachment; the
	// normal disposition flow settles it.
	ActionResume Action = iota

	// ActionApplyOutcome adopts the terminal outcome the peer reported and
	// settles the delivery. The peer is told so it can settle too: a sender
	// queues a settled resume transfer, a receiver sends a settled
	// disposition.
	ActionApplyOutcome

	// ActionRedeliver retransmits the delivery with its original tag so the
	// peer can deduplicate. Senders only.
	ActionRedeliver

	// ActionDiscard forgets the delivery. Receivers only; the sender has
	// no record of it and will not settle it.
	ActionDiscard
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionApplyOutcome:
		return "apply_outcome"
	case ActionRedeliver:
		return "redeliver"
	case ActionDiscard:
		return "discard"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// RemoteUnsettled is the peer's unsettled map from its attach, keyed by
// delivery tag. A nil state means unsettled without an outcome. Incomplete
// marks a truncated map.
type RemoteUnsettled struct {
	Deliveries map[string]*types.DeliveryState
	Incomplete bool
}

// RemoteFromAttach extracts the peer's unsettled map from an attach.
func RemoteFromAttach(a *types.Attach) RemoteUnsettled {
	return RemoteUnsettled{Deliveries: a.Unsettled, Incomplete: a.IncompleteUnsettled}
}

// Decision is the plan for one retained delivery.
type Decision struct {
	Action   Action
	Delivery linkstate.Delivery

	// Outcome is the peer's outcome for ActionApplyOutcome.
	Outcome types.DeliveryState
}

// Plan is the result of reconciling a recovery record. Decisions are in
// delivery id order.
type Plan struct {
	LinkName  string
	Role      types.Role
	Decisions []Decision
}

// IDs returns the delivery ids assigned action, in order.
func (p *Plan) IDs(action Action) []types.DeliveryID {
	var ids []types.DeliveryID
	for _, d := range p.Decisions {
		if d.Action == action {
			ids = append(ids, d.Delivery.DeliveryID)
		}
	}
	return ids
}

// Count returns how many decisions have the given action.
func (p *Plan) Count(action Action) int {
	n := 0
	for _, d := range p.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

// RecoveryManager reconciles retained link state on reattach.
type RecoveryManager struct {
	metrics *Metrics
}

// NewRecoveryManager creates a recovery manager. m may be nil.
func NewRecoveryManager(m *Metrics) *RecoveryManager {
	return &RecoveryManager{metrics: m}
}

// Reconcile classifies every retained delivery against the peer's
// unsettled map:
//
//   - peer reports it without an outcome: Resume
//   - peer reports a terminal outcome: ApplyOutcome
//   - peer has no record, local side sends: Redeliver
//   - peer has no record, local side receives: Discard
//
// When the peer's map is incomplete an absent delivery may simply have been
// left out, so it is resumed rather than redelivered or discarded.
//
// Reconcile is a pure function of its inputs.
func (m *RecoveryManager) Reconcile(rec *linkstate.Record, remote RemoteUnsettled) *Plan {
	plan := &Plan{LinkName: rec.LinkName, Role: rec.Role}

	deliveries := slices.Clone(rec.Deliveries)
	slices.SortStableFunc(deliveries, func(a, b linkstate.Delivery) int {
		return compareIDs(a.DeliveryID, b.DeliveryID)
	})

	for _, d := range deliveries {
		dec := Decision{Delivery: d}
		state, known := remote.Deliveries[d.DeliveryTag.Key()]
		switch {
		case known && state != nil && state.IsTerminal():
			dec.Action = ActionApplyOutcome
			dec.Outcome = *state
		case known:
			dec.Action = ActionResume
		case remote.Incomplete:
			dec.Action = ActionResume
		case rec.Role == types.RoleSender:
			dec.Action = ActionRedeliver
		default:
			dec.Action = ActionDiscard
		}
		plan.Decisions = append(plan.Decisions, dec)
	}
	return plan
}

// Summary reports what applying a plan did.
type Summary struct {
	// Resumed are the deliveries registered as unsettled on the new
	// endpoint under their original ids.
	Resumed []*UnsettledTransfer

	// Settled are the deliveries finalised with the peer's outcome.
	Settled []*UnsettledTransfer

	// Resumes counts settled resume transfers queued for the peer.
	Resumes int

	// Echoes holds the settled dispositions sent for adopted outcomes on a
	// receiver.
	Echoes []types.Disposition

	// Redeliveries counts deliveries queued for retransmission.
	Redeliveries int

	// Discarded counts deliveries dropped.
	Discarded int
}

// Apply carries out plan on the endpoint that replaces the detached one.
// The endpoint must be ATTACHING or ATTACHED and have the plan's role.
//
// Queued resumes and redeliveries are sent by FlushRedeliveries, or by
// OnFlow, as credit allows.
func (m *RecoveryManager) Apply(ctx context.Context, plan *Plan, e *Endpoint) (*Summary, error) {
	e.mu.Lock()
	sum, err := m.applyLocked(plan, e)
	e.mu.Unlock()
	if err != nil {
		return sum, err
	}

	for _, echo := range sum.Echoes {
		e.emit(DispositionEvent{Link: e.name, Disposition: echo})
	}
	logger.InfoCtx(ctx, "link state recovered",
		logger.KeyLink, e.name,
		logger.KeyRole, e.role.String(),
		"resumed", len(sum.Resumed),
		"settled", len(sum.Settled),
		"resumes_queued", sum.Resumes,
		"redelivered", sum.Redeliveries,
		"discarded", sum.Discarded)
	return sum, nil
}

func (m *RecoveryManager) applyLocked(plan *Plan, e *Endpoint) (*Summary, error) {
	if e.state >= StateDetaching {
		return nil, newError(ErrLinkDetached, e.name, "link is %s", e.state)
	}
	if e.role != plan.Role {
		return nil, newError(ErrInvalidState, e.name, "recovery plan for a %s applied to a %s", plan.Role, e.role)
	}
	for _, d := range plan.Decisions {
		if d.Action != ActionResume {
			continue
		}
		if _, live := e.unsettled.Lookup(d.Delivery.DeliveryID); live {
			return nil, newDeliveryError(ErrDuplicateDelivery, e.name, d.Delivery.DeliveryID,
				"resumed delivery already unsettled")
		}
	}

	sum := &Summary{}
	var echoIDs []types.DeliveryID
	var echoStates []types.DeliveryState
	for _, d := range plan.Decisions {
		t := d.Delivery.Transfer()
		switch d.Action {
		case ActionResume:
			entry, err := e.unsettled.Register(t, e)
			if err != nil {
				return sum, err
			}
			entry.redelivered = d.Delivery.Redelivered
			entry.createdAt = d.Delivery.CreatedAt
			sum.Resumed = append(sum.Resumed, entry)
			e.metrics.recordTransfer(e.role, false)
			if !types.SerialLess(uint32(t.DeliveryID), uint32(e.nextID)) {
				e.nextID = t.DeliveryID + 1
			}

		case ActionApplyOutcome:
			entry := newUnsettledTransfer(t, e, e.now())
			entry.state = d.Outcome
			entry.settled = true
			entry.createdAt = d.Delivery.CreatedAt
			sum.Settled = append(sum.Settled, entry)
			e.metrics.recordRecoveredOutcome(e.role, d.Outcome)
			if e.role == types.RoleSender {
				e.resumes = append(e.resumes, entry)
				sum.Resumes++
			} else {
				echoIDs = append(echoIDs, t.DeliveryID)
				echoStates = append(echoStates, d.Outcome)
			}

		case ActionRedeliver:
			t.Settled = false
			entry := newUnsettledTransfer(t, e, e.now())
			entry.state = types.Unsettled
			entry.transfer.State = types.Unsettled
			e.redeliveries = append(e.redeliveries, entry)
			sum.Redeliveries++

		case ActionDiscard:
			sum.Discarded++
		}
		m.metrics.recordRecovery(d.Action)
	}
	sum.Echoes = coalesce(e.handle, e.role, echoIDs, echoStates)
	return sum, nil
}
