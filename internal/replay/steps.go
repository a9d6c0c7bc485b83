package replay

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/protocol/amqp/session"
	"github.com/marmos91/dittomq/pkg/amqp/types"
)

type runner struct {
	s     *session.Session
	clock *clock
}

func (r *runner) apply(ctx context.Context, step *Step) (string, error) {
	switch {
	case step.Attach != nil:
		return r.attach(ctx, step.Attach)
	case step.Transfer != nil:
		return r.transfer(ctx, step.Transfer)
	case step.Disposition != nil:
		return r.disposition(ctx, step.Disposition)
	case step.Flow != nil:
		return r.flow(ctx, step.Flow)
	case step.Detach != nil:
		return r.detach(ctx, step.Detach)
	case step.Send != nil:
		return r.send(ctx, step.Send)
	case step.Settle != nil:
		return r.settle(step.Settle)
	case step.Grant != nil:
		return r.grant(step.Grant)
	case step.Sweep != nil:
		n := r.s.SweepStale(ctx, step.Sweep.OlderThan)
		return fmt.Sprintf("expired=%d", n), nil
	case step.Advance != 0:
		r.clock.advance(step.Advance)
		return "+" + step.Advance.String(), nil
	case step.Expect != nil:
		return "", r.expect(step.Expect)
	default:
		return "", fmt.Errorf("empty step")
	}
}

func (r *runner) endpoint(h types.Handle) (*link.Endpoint, error) {
	e, ok := r.s.Endpoint(h)
	if !ok {
		return nil, &link.Error{Code: link.ErrUnknownLink, Message: fmt.Sprintf("no link on handle %d", h)}
	}
	return e, nil
}

func (r *runner) attach(ctx context.Context, st *AttachStep) (string, error) {
	role, err := types.ParseRole(st.Role)
	if err != nil {
		return "", err
	}
	snd, err := parseSenderSettleMode(st.SenderSettleMode)
	if err != nil {
		return "", err
	}
	rcv, err := parseReceiverSettleMode(st.ReceiverSettleMode)
	if err != nil {
		return "", err
	}
	a := &types.Attach{
		Name:                 st.Name,
		Handle:               st.Handle,
		Role:                 role,
		SenderSettleMode:     snd,
		ReceiverSettleMode:   rcv,
		IncompleteUnsettled:  st.IncompleteUnsettled,
		InitialDeliveryCount: st.InitialDeliveryCount,
	}
	if st.Unsettled != nil {
		a.Unsettled = make(map[string]*types.DeliveryState, len(st.Unsettled))
		for tag, ss := range st.Unsettled {
			state, err := ss.State()
			if err != nil {
				return "", fmt.Errorf("unsettled %q: %w", tag, err)
			}
			if state.IsTerminal() {
				a.Unsettled[tag] = &state
			} else {
				a.Unsettled[tag] = nil
			}
		}
	}

	res, err := r.s.Dispatch(ctx, a)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("link=%s role=%s", st.Name, role.Peer())
	if plan := res.Attach.Plan; plan != nil {
		detail += fmt.Sprintf(" resume=%d apply=%d redeliver=%d discard=%d",
			plan.Count(link.ActionResume), plan.Count(link.ActionApplyOutcome),
			plan.Count(link.ActionRedeliver), plan.Count(link.ActionDiscard))
	}
	return detail, nil
}

func (r *runner) transfer(ctx context.Context, st *TransferStep) (string, error) {
	state, err := st.State.State()
	if err != nil {
		return "", err
	}
	t := &types.Transfer{
		Handle:      st.Handle,
		DeliveryID:  st.DeliveryID,
		DeliveryTag: types.DeliveryTag(st.Tag),
		Settled:     st.Settled,
		State:       state,
		More:        st.More,
		Aborted:     st.Aborted,
	}
	if st.Payload != "" {
		t.Payload = [][]byte{[]byte(st.Payload)}
	}
	if _, err := r.s.Dispatch(ctx, t); err != nil {
		return "", err
	}
	return fmt.Sprintf("id=%d tag=%s", st.DeliveryID, st.Tag), nil
}

func (r *runner) disposition(ctx context.Context, st *DispositionStep) (string, error) {
	role, err := types.ParseRole(st.Role)
	if err != nil {
		return "", err
	}
	state, err := st.State.State()
	if err != nil {
		return "", err
	}
	d := &types.Disposition{Handle: st.Handle, Role: role, First: st.First, Last: st.Last, Settled: st.Settled, State: state}
	res, err := r.s.Dispatch(ctx, d)
	if err != nil {
		return "", err
	}
	dr := res.Disposition
	return fmt.Sprintf("matched=%d settled=%d ignored=%d", dr.Matched, dr.Settled, dr.Ignored), nil
}

func (r *runner) flow(ctx context.Context, st *FlowStep) (string, error) {
	f := &types.Flow{
		Handle:        st.Handle,
		DeliveryCount: st.DeliveryCount,
		LinkCredit:    st.LinkCredit,
		Available:     st.Available,
		Drain:         st.Drain,
		Echo:          st.Echo,
	}
	res, err := r.s.Dispatch(ctx, f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("available=%d resumed=%d redelivered=%d",
		res.Flow.Available, len(res.Flow.Resumed), len(res.Flow.Redelivered)), nil
}

func (r *runner) detach(ctx context.Context, st *DetachStep) (string, error) {
	d := &types.Detach{Handle: st.Handle, Closed: st.Closed}
	if st.Condition != "" {
		d.Error = &types.ErrorInfo{Condition: st.Condition}
	}
	res, err := r.s.Dispatch(ctx, d)
	if err != nil {
		return "", err
	}
	dr := res.Detach
	retained := 0
	if dr.Record != nil {
		retained = len(dr.Record.Deliveries)
	}
	return fmt.Sprintf("closed=%t retained=%d abandoned=%d", st.Closed, retained, len(dr.Abandoned)), nil
}

func (r *runner) send(ctx context.Context, st *SendStep) (string, error) {
	var first, last types.DeliveryID
	for i, tag := range st.Tags {
		t := &types.Transfer{DeliveryTag: types.DeliveryTag(tag), Settled: st.Settled}
		payload := st.Payload
		if payload == "" {
			payload = tag
		}
		t.Payload = [][]byte{[]byte(payload)}

		entry, err := r.s.Send(ctx, st.Handle, t)
		if err != nil {
			return fmt.Sprintf("sent=%d", i), err
		}
		if i == 0 {
			first = entry.DeliveryID()
		}
		last = entry.DeliveryID()
	}
	if len(st.Tags) == 0 {
		return "sent=0", nil
	}
	return fmt.Sprintf("sent=%d ids=%d..%d", len(st.Tags), first, last), nil
}

func (r *runner) settle(st *SettleStep) (string, error) {
	e, err := r.endpoint(st.Handle)
	if err != nil {
		return "", err
	}
	state, err := st.State.State()
	if err != nil {
		return "", err
	}
	last := st.First
	if st.Last != nil {
		last = *st.Last
	}
	d, err := e.Dispose(st.First, last, state, st.Settled)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "matched=0", nil
	}
	return fmt.Sprintf("state=%s settled=%t", d.State, d.Settled), nil
}

func (r *runner) grant(st *GrantStep) (string, error) {
	e, err := r.endpoint(st.Handle)
	if err != nil {
		return "", err
	}
	f, err := e.GrantCredit(st.Credit, st.Drain)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("credit=%d drain=%t", f.LinkCredit, f.Drain), nil
}

func (r *runner) expect(x *Expectation) error {
	e, ok := r.s.Endpoint(x.Handle)
	if x.Attached != nil && *x.Attached != ok {
		return fmt.Errorf("handle %d: attached=%t, want %t", x.Handle, ok, *x.Attached)
	}
	if !ok {
		if x.Attached != nil {
			return nil
		}
		return fmt.Errorf("handle %d: no link attached", x.Handle)
	}
	if x.Unsettled != nil && e.Unsettled() != *x.Unsettled {
		return fmt.Errorf("link %s: unsettled=%d, want %d", e.Name(), e.Unsettled(), *x.Unsettled)
	}
	if x.Available != nil && e.Available() != *x.Available {
		return fmt.Errorf("link %s: available=%d, want %d", e.Name(), e.Available(), *x.Available)
	}
	if x.DeliveryCount != nil && e.DeliveryCount() != *x.DeliveryCount {
		return fmt.Errorf("link %s: delivery_count=%d, want %d", e.Name(), e.DeliveryCount(), *x.DeliveryCount)
	}
	if x.PendingRedeliveries != nil && e.PendingRedeliveries() != *x.PendingRedeliveries {
		return fmt.Errorf("link %s: pending_redeliveries=%d, want %d", e.Name(), e.PendingRedeliveries(), *x.PendingRedeliveries)
	}
	if x.PendingResumes != nil && e.PendingResumes() != *x.PendingResumes {
		return fmt.Errorf("link %s: pending_resumes=%d, want %d", e.Name(), e.PendingResumes(), *x.PendingResumes)
	}
	return nil
}
