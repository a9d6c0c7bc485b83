package link

import (
	"encoding/binary"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// State is the attach state of an endpoint.
type State int

const (
	StateAttaching State = iota
	StateAttached
	StateDetaching
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateAttaching:
		return "ATTACHING"
	case StateAttached:
		return "ATTACHED"
	case StateDetaching:
		return "DETACHING"
	case StateDetached:
		return "DETACHED"
	default:
		return "UNKNOWN"
	}
}

// Options configures a new Endpoint.
type Options struct {
	Name   string
	ID     string
	Handle types.Handle
	Role   types.Role

	SenderSettleMode   types.SenderSettleMode
	ReceiverSettleMode types.ReceiverSettleMode

	// InitialDeliveryCount seeds delivery-count. A sender chooses it; a
	// receiver takes it from the sender's attach.
	InitialDeliveryCount uint32

	// NextDeliveryID is the first delivery id a sender assigns.
	NextDeliveryID types.DeliveryID

	// CreditWindow is the credit a receiver keeps granted. When at least
	// half has been used the endpoint issues a new grant. 0 disables it.
	CreditWindow uint32

	Sink    EventSink
	Metrics *Metrics

	// Now overrides the clock used to timestamp deliveries.
	Now func() time.Time
}

// DetachOptions describes how a link is going away.
type DetachOptions struct {
	// Closed means the link will not be reattached; unsettled state is
	// released. Otherwise it is retained for recovery.
	Closed bool
	Error  *types.ErrorInfo
}

// DetachResult reports what became of the unsettled table.
type DetachResult struct {
	// Record holds the retained deliveries when the detach expects a
	// reattach; nil when closed.
	Record *linkstate.Record

	// Abandoned lists deliveries released by a permanent close.
	Abandoned []*UnsettledTransfer
}

// Endpoint is one side of a single link attachment.
//
// Thread-safe: all methods acquire e.mu. Name, ID, Handle, Role and the
// settle modes are fixed at construction.
type Endpoint struct {
	name    string
	id      string
	handle  types.Handle
	role    types.Role
	sndMode types.SenderSettleMode
	rcvMode types.ReceiverSettleMode

	sink    EventSink
	metrics *Metrics
	now     func() time.Time

	mu           sync.Mutex
	state        State
	credit       *CreditController
	unsettled    *Registry
	nextID       types.DeliveryID
	partial      *UnsettledTransfer
	redeliveries []*UnsettledTransfer
	resumes      []*UnsettledTransfer
	creditWait   chan struct{}
}

// NewEndpoint creates an endpoint in the ATTACHING state.
func NewEndpoint(opts Options) *Endpoint {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sink := opts.Sink
	if sink == nil {
		sink = Discard
	}
	reg := NewRegistry()
	reg.now = now

	return &Endpoint{
		name:      opts.Name,
		id:        opts.ID,
		handle:    opts.Handle,
		role:      opts.Role,
		sndMode:   opts.SenderSettleMode,
		rcvMode:   opts.ReceiverSettleMode,
		sink:      sink,
		metrics:   opts.Metrics,
		now:       now,
		state:     StateAttaching,
		credit:    NewCreditController(opts.InitialDeliveryCount, opts.CreditWindow),
		unsettled: reg,
		nextID:    opts.NextDeliveryID,
	}
}

func (e *Endpoint) Name() string                                 { return e.name }
func (e *Endpoint) ID() string                                   { return e.id }
func (e *Endpoint) Handle() types.Handle                         { return e.handle }
func (e *Endpoint) Role() types.Role                             { return e.role }
func (e *Endpoint) SenderSettleMode() types.SenderSettleMode     { return e.sndMode }
func (e *Endpoint) ReceiverSettleMode() types.ReceiverSettleMode { return e.rcvMode }

// State returns the current attach state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Attach completes the attach handshake.
func (e *Endpoint) Attach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAttaching {
		return newError(ErrInvalidState, e.name, "attach in state %s", e.state)
	}
	e.state = StateAttached
	return nil
}

// Available returns the link credit currently available.
func (e *Endpoint) Available() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credit.Available()
}

// DeliveryCount returns the local delivery-count.
func (e *Endpoint) DeliveryCount() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credit.DeliveryCount()
}

// Unsettled returns the number of live unsettled deliveries.
func (e *Endpoint) Unsettled() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsettled.Len()
}

// Lookup returns the live unsettled delivery with the given id.
func (e *Endpoint) Lookup(id types.DeliveryID) (*UnsettledTransfer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsettled.Lookup(id)
}

// Entries yields the live unsettled deliveries in delivery id order. Each
// iteration takes a fresh snapshot under the endpoint lock and yields with
// the lock released.
func (e *Endpoint) Entries() iter.Seq[*UnsettledTransfer] {
	return func(yield func(*UnsettledTransfer) bool) {
		e.mu.Lock()
		snapshot := slices.Collect(e.unsettled.EntriesForLink(e))
		e.mu.Unlock()
		for _, u := range snapshot {
			if !yield(u) {
				return
			}
		}
	}
}

// PendingRedeliveries returns the number of recovered deliveries waiting
// for credit.
func (e *Endpoint) PendingRedeliveries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redeliveries)
}

// PendingResumes returns the number of settled resumes waiting for credit.
func (e *Endpoint) PendingResumes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resumes)
}

// CreditNotify returns a channel that is closed when credit becomes
// available or the link detaches. If credit is available now the channel
// is already closed.
func (e *Endpoint) CreditNotify() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.credit.Available() > 0 || e.state >= StateDetaching {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if e.creditWait == nil {
		e.creditWait = make(chan struct{})
	}
	return e.creditWait
}

func (e *Endpoint) wakeCreditWaiters() {
	if e.creditWait != nil {
		close(e.creditWait)
		e.creditWait = nil
	}
}

// ============================================================================
// Sending
// ============================================================================

// Send transmits t on a sender link.
//
// It assigns the next delivery id, charges one credit and registers the
// delivery as unsettled. A transfer settled on send (per the sender settle
// mode, or t.Settled in mixed mode) is never registered; the returned record
// is already settled. An empty delivery tag defaults to the big-endian
// delivery id.
//
// Fails with CreditExhausted when no credit is available and with
// LinkDetached once detach has begun. On failure nothing is changed.
func (e *Endpoint) Send(t *types.Transfer) (*UnsettledTransfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(t, false)
}

func (e *Endpoint) sendLocked(t *types.Transfer, redelivery bool) (*UnsettledTransfer, error) {
	if e.role != types.RoleSender {
		return nil, newError(ErrInvalidState, e.name, "send on a receiver link")
	}
	if err := e.checkAttachedLocked(); err != nil {
		return nil, err
	}
	if e.credit.Available() == 0 {
		e.metrics.recordCreditExhausted()
		return nil, newError(ErrCreditExhausted, e.name, "no link credit (delivery-count=%d)", e.credit.DeliveryCount())
	}

	out := t.Clone()
	out.Handle = e.handle
	out.DeliveryID = e.nextID
	out.State = types.Unsettled
	out.More = false
	out.Resume = false
	out.Aborted = false
	if len(out.DeliveryTag) == 0 {
		out.DeliveryTag = binary.BigEndian.AppendUint32(nil, uint32(out.DeliveryID))
	}
	out.Settled = e.settleOnSend(t)

	var entry *UnsettledTransfer
	if out.Settled {
		entry = newUnsettledTransfer(out, e, e.now())
		entry.settled = true
	} else {
		var err error
		if entry, err = e.unsettled.Register(out, e); err != nil {
			e.metrics.recordProtocolViolation(ReasonDuplicateID)
			return nil, err
		}
	}
	entry.redelivered = redelivery

	e.credit.consume()
	e.nextID++
	e.metrics.recordTransfer(e.role, out.Settled)
	return entry, nil
}

func (e *Endpoint) settleOnSend(t *types.Transfer) bool {
	switch e.sndMode {
	case types.SenderSettleSettled:
		return true
	case types.SenderSettleMixed:
		return t.Settled
	default:
		return false
	}
}

func (e *Endpoint) checkAttachedLocked() error {
	switch e.state {
	case StateAttached:
		return nil
	case StateDetaching, StateDetached:
		return newError(ErrLinkDetached, e.name, "link is %s", e.state)
	default:
		return newError(ErrInvalidState, e.name, "link is %s", e.state)
	}
}

// FlushRedeliveries sends queued recovery transfers while credit lasts and
// returns them in the order sent.
//
// Resumes go first: each is a settled transfer with resume set, carrying
// the outcome adopted for a delivery the peer still holds unsettled, and
// raises a ResumeEvent. Redeliveries follow, each raising a RedeliverEvent.
// Both keep the original delivery tag and take a fresh delivery id.
func (e *Endpoint) FlushRedeliveries() ([]*UnsettledTransfer, error) {
	e.mu.Lock()
	redelivered, resumed, events, err := e.flushLocked()
	e.mu.Unlock()

	e.emit(events...)
	return append(resumed, redelivered...), err
}

func (e *Endpoint) flushLocked() (redelivered, resumed []*UnsettledTransfer, events []Event, err error) {
	if len(e.redeliveries) == 0 && len(e.resumes) == 0 {
		return nil, nil, nil, nil
	}
	if err := e.checkAttachedLocked(); err != nil {
		return nil, nil, nil, err
	}

	for len(e.resumes) > 0 && e.credit.Available() > 0 {
		entry := e.resumeLocked(e.resumes[0])
		e.resumes = e.resumes[1:]
		resumed = append(resumed, entry)
		events = append(events, ResumeEvent{Link: e.name, Transfer: entry.transfer.Clone()})
	}
	for len(e.redeliveries) > 0 && e.credit.Available() > 0 {
		queued := e.redeliveries[0]
		entry, err := e.sendLocked(queued.transfer, true)
		if err != nil {
			return redelivered, resumed, events, err
		}
		e.redeliveries = e.redeliveries[1:]
		redelivered = append(redelivered, entry)
		events = append(events, RedeliverEvent{Link: e.name, Transfer: entry.transfer.Clone()})
	}
	return redelivered, resumed, events, nil
}

// resumeLocked sends the settled resume for a queued delivery. The caller
// has checked credit.
func (e *Endpoint) resumeLocked(queued *UnsettledTransfer) *UnsettledTransfer {
	src := queued.transfer.Clone()
	out := &types.Transfer{
		Handle:        e.handle,
		DeliveryID:    e.nextID,
		DeliveryTag:   src.DeliveryTag,
		MessageFormat: src.MessageFormat,
		Settled:       true,
		State:         queued.state,
		Resume:        true,
	}
	entry := newUnsettledTransfer(out, e, e.now())
	entry.settled = true
	entry.redelivered = true
	entry.createdAt = queued.createdAt

	e.credit.consume()
	e.nextID++
	e.metrics.recordTransfer(e.role, true)
	return entry
}

// ============================================================================
// Receiving
// ============================================================================

// Receive records an incoming transfer on a receiver link.
//
// The first frame of an unsettled delivery registers it; continuation
// frames of the same delivery (More on the previous frame) append payload.
// delivery-count advances once per delivery. Credit is not consumed here;
// the endpoint replenishes its grant once half its credit window is used.
//
// Returns nil for an aborted delivery.
func (e *Endpoint) Receive(t *types.Transfer) (*UnsettledTransfer, error) {
	e.mu.Lock()
	entry, events, err := e.receiveLocked(t)
	e.mu.Unlock()

	e.emit(events...)
	return entry, err
}

func (e *Endpoint) receiveLocked(t *types.Transfer) (*UnsettledTransfer, []Event, error) {
	if e.role != types.RoleReceiver {
		return nil, nil, newError(ErrInvalidState, e.name, "receive on a sender link")
	}
	if err := e.checkAttachedLocked(); err != nil {
		return nil, nil, err
	}

	if e.partial != nil {
		return e.continueLocked(t)
	}

	// A resumed delivery already restored from the recovery record.
	if t.Resume {
		if entry, ok := e.unsettled.Lookup(t.DeliveryID); ok && entry.transfer.DeliveryTag.Equal(t.DeliveryTag) {
			return entry, nil, nil
		}
	}

	if e.credit.Available() == 0 {
		e.metrics.recordBenignRace(ReasonCreditOverrun)
		logger.Debug("transfer beyond granted credit",
			logger.KeyLink, e.name, logger.KeyDeliveryID, t.DeliveryID)
	}

	if t.Aborted {
		e.credit.count()
		return nil, e.replenishLocked(), nil
	}

	in := t.Clone()
	in.Handle = e.handle
	in.More = false

	var entry *UnsettledTransfer
	if in.Settled {
		entry = newUnsettledTransfer(in, e, e.now())
		entry.settled = true
	} else {
		var err error
		if entry, err = e.unsettled.Register(in, e); err != nil {
			e.metrics.recordProtocolViolation(ReasonDuplicateID)
			return nil, nil, err
		}
	}
	entry.redelivered = t.Resume
	e.credit.count()
	if t.More {
		e.partial = entry
	}
	e.metrics.recordTransfer(e.role, in.Settled)
	return entry, e.replenishLocked(), nil
}

// continueLocked handles a frame of the in-progress multi-frame delivery.
func (e *Endpoint) continueLocked(t *types.Transfer) (*UnsettledTransfer, []Event, error) {
	entry := e.partial
	id := entry.transfer.DeliveryID
	if !t.ContinuationOf(id, entry.transfer.DeliveryTag) {
		e.metrics.recordProtocolViolation(ReasonInterleavedFrame)
		return nil, nil, newDeliveryError(ErrProtocolViolation, e.name, t.DeliveryID,
			"transfer interleaved with incomplete delivery %d", id)
	}

	if t.Aborted {
		e.partial = nil
		if !entry.settled {
			e.unsettled.Release(id)
			e.metrics.recordReleased(e.role, 1)
		}
		logger.Debug("multi-frame delivery aborted", logger.KeyLink, e.name, logger.KeyDeliveryID, id)
		return nil, nil, nil
	}

	for _, f := range t.Payload {
		entry.transfer.Payload = append(entry.transfer.Payload, append([]byte(nil), f...))
	}
	if !t.More {
		e.partial = nil
	}
	if t.Settled && !entry.settled {
		e.unsettled.Release(id)
		entry.settled = true
		e.metrics.recordSettled(e.role, entry.state)
	}
	return entry, nil, nil
}

// replenishLocked issues a new grant when a receiver has used half its
// credit window.
func (e *Endpoint) replenishLocked() []Event {
	if !e.credit.needsReplenish() {
		return nil
	}
	f := e.credit.Grant(e.credit.window, false)
	f.Handle = e.handle
	return []Event{FlowEvent{Link: e.name, Flow: f}}
}

// ============================================================================
// Flow control
// ============================================================================

// GrantCredit issues n credits to the remote sender and emits the flow.
func (e *Endpoint) GrantCredit(n uint32, drain bool) (types.Flow, error) {
	e.mu.Lock()
	if e.role != types.RoleReceiver {
		e.mu.Unlock()
		return types.Flow{}, newError(ErrInvalidState, e.name, "credit is granted by receivers")
	}
	if e.state >= StateDetaching {
		e.mu.Unlock()
		return types.Flow{}, newError(ErrLinkDetached, e.name, "link is %s", e.state)
	}
	f := e.credit.Grant(n, drain)
	f.Handle = e.handle
	e.mu.Unlock()

	e.emit(FlowEvent{Link: e.name, Flow: f})
	return f, nil
}

// FlowResult reports what a received flow caused.
type FlowResult struct {
	Available   uint32
	Redelivered []*UnsettledTransfer
	Resumed     []*UnsettledTransfer
	Reply       *types.Flow
}

// OnFlow applies a flow from the peer.
//
// On a sender it recomputes credit from the peer's link-credit and
// delivery-count snapshot, wakes CreditNotify waiters, sends queued
// redeliveries, and completes a requested drain by advancing
// delivery-count past the unused credit. On a receiver it adopts the
// sender's delivery-count when it moved forward.
func (e *Endpoint) OnFlow(f types.Flow) (*FlowResult, error) {
	e.mu.Lock()
	res, events, err := e.onFlowLocked(f)
	e.mu.Unlock()

	e.emit(events...)
	return res, err
}

func (e *Endpoint) onFlowLocked(f types.Flow) (*FlowResult, []Event, error) {
	if e.state >= StateDetaching {
		e.metrics.recordBenignRace(ReasonAfterDetach)
		return &FlowResult{}, nil, nil
	}

	res := &FlowResult{}
	var events []Event

	if e.role == types.RoleReceiver {
		if f.DeliveryCount != nil {
			e.credit.advanceTo(*f.DeliveryCount)
		}
		res.Available = e.credit.Available()
	} else {
		snapshot := e.credit.snapshot
		if f.DeliveryCount != nil {
			snapshot = *f.DeliveryCount
		}
		res.Available = e.credit.OnFlow(f.LinkCredit, snapshot)
		e.credit.drain = f.Drain
		if res.Available > 0 {
			e.wakeCreditWaiters()
		}

		if e.state == StateAttached {
			redelivered, resumed, flushed, err := e.flushLocked()
			if err != nil {
				return nil, flushed, err
			}
			res.Redelivered = redelivered
			res.Resumed = resumed
			events = append(events, flushed...)
		}

		if e.credit.Draining() && len(e.redeliveries) == 0 && len(e.resumes) == 0 {
			e.credit.drainRemaining()
			reply := e.credit.flow()
			reply.Handle = e.handle
			res.Reply = &reply
		}
		res.Available = e.credit.Available()
	}

	if f.Echo && res.Reply == nil {
		reply := e.credit.flow()
		reply.Handle = e.handle
		res.Reply = &reply
	}
	if res.Reply != nil {
		events = append(events, FlowEvent{Link: e.name, Flow: *res.Reply})
	}
	return res, events, nil
}

// ============================================================================
// Local settlement
// ============================================================================

// Dispose records a local outcome for the deliveries in [first, last] and
// emits the disposition for the peer. With settled the deliveries are
// released from the unsettled table.
//
// A receiver in receiver-settle-mode second does not settle first: the
// outcome is sent unsettled and the delivery stays live until the sender
// settles it.
//
// Returns nil when no live delivery falls in the range.
func (e *Endpoint) Dispose(first, last types.DeliveryID, state types.DeliveryState, settled bool) (*types.Disposition, error) {
	if types.SerialLess(uint32(last), uint32(first)) {
		e.metrics.recordProtocolViolation(ReasonMalformedRange)
		return nil, newDeliveryError(ErrProtocolViolation, e.name, first, "disposition range ends at %d", last)
	}

	e.mu.Lock()
	if e.state == StateDetached {
		e.mu.Unlock()
		return nil, newError(ErrLinkDetached, e.name, "link is %s", e.state)
	}
	if e.role == types.RoleReceiver && e.rcvMode == types.ReceiverSettleSecond {
		settled = false
	}

	matched := 0
	for _, id := range e.idsInRangeLocked(first, last) {
		entry, _ := e.unsettled.Lookup(id)
		matched++
		if _, mismatch := entry.setOutcome(state); mismatch {
			e.metrics.recordMismatch()
		}
		if settled {
			e.settleLocked(entry)
		}
	}
	e.mu.Unlock()

	if matched == 0 {
		return nil, nil
	}
	d := types.Disposition{Handle: e.handle, Role: e.role, First: first, Settled: settled, State: state}
	if last != first {
		l := last
		d.Last = &l
	}
	e.emit(DispositionEvent{Link: e.name, Disposition: d})
	return &d, nil
}

// Expire settles live deliveries registered before cutoff with the given
// outcome and emits settled dispositions for them.
func (e *Endpoint) Expire(cutoff time.Time, outcome types.DeliveryState) []*UnsettledTransfer {
	e.mu.Lock()
	var expired []*UnsettledTransfer
	for entry := range e.unsettled.EntriesForLink(e) {
		if !entry.createdAt.Before(cutoff) {
			continue
		}
		expired = append(expired, entry)
	}
	ids := make([]types.DeliveryID, len(expired))
	states := make([]types.DeliveryState, len(expired))
	for i, entry := range expired {
		entry.setOutcome(outcome)
		e.settleLocked(entry)
		ids[i] = entry.transfer.DeliveryID
		states[i] = entry.state
	}
	e.mu.Unlock()

	for _, d := range coalesce(e.handle, e.role, ids, states) {
		e.emit(DispositionEvent{Link: e.name, Disposition: d})
	}
	return expired
}

// idsInRangeLocked returns the live ids in [first, last] in order. It
// walks whichever is smaller: the range or the table.
func (e *Endpoint) idsInRangeLocked(first, last types.DeliveryID) []types.DeliveryID {
	span := uint64(uint32(last)-uint32(first)) + 1
	var ids []types.DeliveryID
	if span <= uint64(e.unsettled.Len()) {
		for i := uint64(0); i < span; i++ {
			id := first + types.DeliveryID(i)
			if _, ok := e.unsettled.Lookup(id); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	for _, id := range e.unsettled.IDs() {
		if inRange(id, first, last) {
			ids = append(ids, id)
		}
	}
	return ids
}

func inRange(id, first, last types.DeliveryID) bool {
	return types.SerialDiff(uint32(id), uint32(first)) >= 0 && types.SerialDiff(uint32(last), uint32(id)) >= 0
}

// ============================================================================
// Detach
// ============================================================================

// Detach ends the attachment.
//
// Without Closed the unsettled deliveries, including an incomplete
// multi-frame delivery and queued redeliveries and resumes, are moved into a recovery
// record for the next attach with the same name. With Closed they are
// released; a sender marks them modified with delivery-failed set.
//
// Either way the unsettled table is empty afterwards, pending CreditNotify
// channels are closed and later sends fail with LinkDetached.
func (e *Endpoint) Detach(opts DetachOptions) (*DetachResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state >= StateDetaching {
		return nil, newError(ErrLinkDetached, e.name, "link is %s", e.state)
	}
	e.state = StateDetaching

	entries := slices.Collect(e.unsettled.EntriesForLink(e))
	for _, entry := range entries {
		e.unsettled.Release(entry.transfer.DeliveryID)
	}

	res := &DetachResult{}
	if opts.Closed {
		for _, entry := range entries {
			if e.role == types.RoleSender && !entry.state.IsTerminal() {
				entry.state = types.Modified(true, false)
			}
			entry.settled = true
			e.metrics.recordSettled(e.role, entry.state)
		}
		res.Abandoned = entries
	} else {
		rec := &linkstate.Record{
			LinkName:           e.name,
			LinkID:             e.id,
			Role:               e.role,
			SenderSettleMode:   e.sndMode,
			ReceiverSettleMode: e.rcvMode,
			DeliveryCount:      e.credit.DeliveryCount(),
			NextDeliveryID:     e.nextID,
			DetachedAt:         e.now(),
		}
		for _, entry := range entries {
			rec.Deliveries = append(rec.Deliveries, retain(entry))
		}
		for _, queued := range e.redeliveries {
			rec.Deliveries = append(rec.Deliveries, retain(queued))
		}
		for _, queued := range e.resumes {
			rec.Deliveries = append(rec.Deliveries, retain(queued))
		}
		rec.Sort()
		res.Record = rec
		e.metrics.recordReleased(e.role, len(entries))
	}

	e.partial = nil
	e.redeliveries = nil
	e.resumes = nil
	e.state = StateDetached
	e.wakeCreditWaiters()
	e.metrics.recordDetach(opts.Closed)
	return res, nil
}

func retain(u *UnsettledTransfer) linkstate.Delivery {
	t := u.transfer.Clone()
	return linkstate.Delivery{
		DeliveryID:    t.DeliveryID,
		DeliveryTag:   t.DeliveryTag,
		MessageFormat: t.MessageFormat,
		State:         u.state,
		Payload:       t.Payload,
		Redelivered:   u.redelivered,
		CreatedAt:     u.createdAt,
	}
}

func (e *Endpoint) emit(events ...Event) {
	for _, ev := range events {
		e.sink.Emit(ev)
	}
}
