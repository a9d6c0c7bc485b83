package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/auth"
	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/linkstate/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession(t *testing.T, opts ...func(*Options)) (*Session, *link.Recorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
	rec := &link.Recorder{}
	o := Options{
		ConnectionID: "conn-1",
		SessionID:    "0",
		VirtualHost:  "default",
		Store:        memory.New(),
		Sink:         rec,
		Now:          clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o), rec, clock
}

func aliceCtx() context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{Username: "alice", Mechanism: "PLAIN"})
}

// peerReceiver is the attach a consuming peer sends.
func peerReceiver(name string, h types.Handle) *types.Attach {
	return &types.Attach{Name: name, Handle: h, Role: types.RoleReceiver}
}

// peerSender is the attach a producing peer sends.
func peerSender(name string, h types.Handle) *types.Attach {
	return &types.Attach{Name: name, Handle: h, Role: types.RoleSender}
}

func credit(h types.Handle, n, snapshot uint32) *types.Flow {
	return &types.Flow{Handle: h, LinkCredit: n, DeliveryCount: &snapshot}
}

func send(t *testing.T, s *Session, h types.Handle, tags ...string) {
	t.Helper()
	for _, tag := range tags {
		_, err := s.Send(context.Background(), h, &types.Transfer{
			DeliveryTag: types.DeliveryTag(tag),
			Payload:     [][]byte{[]byte("body-" + tag)},
		})
		require.NoError(t, err)
	}
}

func statePtr(st types.DeliveryState) *types.DeliveryState { return &st }

func TestSession_AttachCreatesEndpoint(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSession(t)

	res, err := s.Dispatch(context.Background(), peerReceiver("orders", 0))
	require.NoError(t, err)
	require.NotNil(t, res.Attach)
	assert.Equal(t, "attach", res.Performative)

	e := res.Attach.Endpoint
	assert.Equal(t, types.RoleSender, e.Role())
	assert.Equal(t, link.StateAttached, e.State())
	assert.NotEmpty(t, e.ID())
	assert.Nil(t, res.Attach.Plan)

	reply := res.Attach.Reply
	assert.Equal(t, "orders", reply.Name)
	assert.Equal(t, types.RoleSender, reply.Role)
	assert.Empty(t, reply.Unsettled)

	got, ok := s.Endpoint(0)
	require.True(t, ok)
	assert.Same(t, e, got)
}

func TestSession_ReservedNamesGetStableIDs(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestSession(t)
	b, _, _ := newTestSession(t)

	ra, err := a.Attach(context.Background(), peerReceiver("amq.status", 0))
	require.NoError(t, err)
	rb, err := b.Attach(context.Background(), peerReceiver("amq.status", 0))
	require.NoError(t, err)
	assert.Equal(t, ra.Endpoint.ID(), rb.Endpoint.ID())

	ca, err := a.Attach(context.Background(), peerReceiver("orders", 1))
	require.NoError(t, err)
	cb, err := b.Attach(context.Background(), peerReceiver("orders", 1))
	require.NoError(t, err)
	assert.NotEqual(t, ca.Endpoint.ID(), cb.Endpoint.ID())
}

func TestSession_ReattachRecoversUnsettled(t *testing.T) {
	t.Parallel()
	ctx := aliceCtx()
	s, rec, _ := newTestSession(t)

	_, err := s.Dispatch(ctx, peerReceiver("orders", 0))
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, credit(0, 10, 0))
	require.NoError(t, err)
	send(t, s, 0, "t0", "t1", "t2", "t3", "t4", "t5")

	res, err := s.Dispatch(ctx, &types.Detach{Handle: 0})
	require.NoError(t, err)
	require.NotNil(t, res.Detach.Record)
	_, ok := s.Endpoint(0)
	assert.False(t, ok)

	key := linkstate.Key{Name: "orders", Role: types.RoleSender}
	stored, err := s.Store().Get(ctx, key)
	require.NoError(t, err)
	assert.Len(t, stored.Deliveries, 6)
	assert.Equal(t, "alice", stored.Principal)
	assert.Equal(t, types.DeliveryID(6), stored.NextDeliveryID)

	// The peer saw outcomes for t0..t2, still holds t3 unsettled, and
	// never received t4 and t5.
	again := peerReceiver("orders", 3)
	again.Unsettled = map[string]*types.DeliveryState{
		types.DeliveryTag("t0").Key(): statePtr(types.Accepted),
		types.DeliveryTag("t1").Key(): statePtr(types.Accepted),
		types.DeliveryTag("t2").Key(): statePtr(types.Accepted),
		types.DeliveryTag("t3").Key(): nil,
	}
	res, err = s.Dispatch(ctx, again)
	require.NoError(t, err)
	att := res.Attach
	require.NotNil(t, att.Plan)
	assert.Equal(t, stored.LinkID, att.Endpoint.ID())
	assert.Len(t, att.Reply.Unsettled, 6)
	assert.Equal(t, []types.DeliveryID{0, 1, 2}, att.Plan.IDs(link.ActionApplyOutcome))
	assert.Equal(t, []types.DeliveryID{3}, att.Plan.IDs(link.ActionResume))
	assert.Equal(t, []types.DeliveryID{4, 5}, att.Plan.IDs(link.ActionRedeliver))
	assert.Len(t, att.Summary.Settled, 3)
	assert.Equal(t, 3, att.Endpoint.PendingResumes())
	assert.Equal(t, 2, att.Endpoint.PendingRedeliveries())

	// Retained state is consumed by the attach.
	_, err = s.Store().Get(ctx, key)
	assert.True(t, linkstate.IsNotFoundError(err))

	res, err = s.Dispatch(ctx, credit(3, 10, att.Endpoint.DeliveryCount()))
	require.NoError(t, err)

	// Settled resumes for t0..t2 go out first so the peer can settle them.
	resumed := res.Flow.Resumed
	require.Len(t, resumed, 3)
	for i, u := range resumed {
		assert.Equal(t, types.DeliveryID(6+i), u.DeliveryID())
		assert.Equal(t, fmt.Sprintf("t%d", i), string(u.DeliveryTag()))
		assert.True(t, u.Transfer().Resume)
		assert.True(t, u.Settled())
		assert.Equal(t, types.StateAccepted, u.State().Kind)
	}
	assert.Len(t, rec.Resumes(), 3)

	redelivered := res.Flow.Redelivered
	require.Len(t, redelivered, 2)
	assert.Equal(t, types.DeliveryID(9), redelivered[0].DeliveryID())
	assert.Equal(t, "t4", string(redelivered[0].DeliveryTag()))
	assert.Equal(t, types.DeliveryID(10), redelivered[1].DeliveryID())
	assert.Equal(t, "t5", string(redelivered[1].DeliveryTag()))
	assert.True(t, redelivered[0].Redelivered())
	assert.Len(t, rec.Redeliveries(), 2)

	// t3 plus the two redeliveries remain open.
	assert.Equal(t, 3, att.Endpoint.Unsettled())

	// The peer settles everything; ids keep counting from where the first
	// attachment left off.
	last := types.DeliveryID(10)
	res, err = s.Dispatch(ctx, &types.Disposition{Handle: 3, Role: types.RoleReceiver, First: 3, Last: &last, Settled: true, State: types.Accepted})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Disposition.Settled)
	assert.Equal(t, 0, att.Endpoint.Unsettled())
}

func TestSession_ClosedDetachDropsRetainedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, _ := newTestSession(t)
	key := linkstate.Key{Name: "orders", Role: types.RoleSender}

	_, err := s.Attach(ctx, peerReceiver("orders", 0))
	require.NoError(t, err)
	_, err = s.Flow(ctx, credit(0, 2, 0))
	require.NoError(t, err)
	send(t, s, 0, "a", "b")

	res, err := s.Detach(ctx, &types.Detach{Handle: 0, Closed: true})
	require.NoError(t, err)
	assert.Nil(t, res.Record)
	require.Len(t, res.Abandoned, 2)
	assert.Equal(t, types.StateModified, res.Abandoned[0].State().Kind)
	assert.True(t, res.Abandoned[0].State().DeliveryFailed)

	_, err = s.Store().Get(ctx, key)
	assert.True(t, linkstate.IsNotFoundError(err))

	// A fresh attach starts without recovery.
	att, err := s.Attach(ctx, peerReceiver("orders", 0))
	require.NoError(t, err)
	assert.Nil(t, att.Plan)
}

func TestSession_ReceiverGrantsInitialCredit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, rec, _ := newTestSession(t, func(o *Options) {
		o.Link = LinkDefaults{InitialCredit: 5, CreditWindow: 5}
	})

	att := peerSender("inbox", 1)
	att.InitialDeliveryCount = 40
	res, err := s.Dispatch(ctx, att)
	require.NoError(t, err)
	e := res.Attach.Endpoint
	assert.Equal(t, types.RoleReceiver, e.Role())
	assert.Equal(t, uint32(40), e.DeliveryCount())

	flows := rec.Flows()
	require.Len(t, flows, 1)
	assert.Equal(t, uint32(5), flows[0].Flow.LinkCredit)
	require.NotNil(t, flows[0].Flow.DeliveryCount)
	assert.Equal(t, uint32(40), *flows[0].Flow.DeliveryCount)

	res, err = s.Dispatch(ctx, &types.Transfer{Handle: 1, DeliveryID: 0, DeliveryTag: types.DeliveryTag("m0")})
	require.NoError(t, err)
	require.NotNil(t, res.Delivery)
	assert.Equal(t, "m0", string(res.Delivery.DeliveryTag()))
	assert.Equal(t, 1, e.Unsettled())
}

// failingPutStore fails every Put with err while err is set.
type failingPutStore struct {
	linkstate.RecoveryStore
	err error
}

func (f *failingPutStore) Put(ctx context.Context, rec *linkstate.Record) error {
	if f.err != nil {
		return f.err
	}
	return f.RecoveryStore.Put(ctx, rec)
}

func TestSession_Failures(t *testing.T) {
	t.Parallel()

	t.Run("UnknownHandle", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		for _, p := range []types.Performative{
			&types.Transfer{Handle: 9},
			&types.Disposition{Handle: 9, Role: types.RoleReceiver},
			&types.Flow{Handle: 9},
			&types.Detach{Handle: 9},
		} {
			_, err := s.Dispatch(context.Background(), p)
			assert.True(t, link.IsUnknownLink(err), p.Performative())
			assert.False(t, link.IsFatal(err))
		}
	})

	t.Run("HandleInUse", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		_, err := s.Attach(context.Background(), peerReceiver("a", 0))
		require.NoError(t, err)
		_, err = s.Attach(context.Background(), peerReceiver("b", 0))
		assert.True(t, link.IsProtocolViolation(err))
		assert.Len(t, s.Endpoints(), 1)
	})

	t.Run("NameAlreadyAttached", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		_, err := s.Attach(context.Background(), peerReceiver("a", 0))
		require.NoError(t, err)
		_, err = s.Attach(context.Background(), peerReceiver("a", 1))
		require.Error(t, err)
		assert.False(t, link.IsFatal(err))

		// Same name, other direction, is a different link.
		_, err = s.Attach(context.Background(), peerSender("a", 2))
		assert.NoError(t, err)
	})

	t.Run("FailedAttachKeepsRetainedState", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s, _, _ := newTestSession(t)
		_, err := s.Attach(ctx, peerReceiver("orders", 0))
		require.NoError(t, err)
		_, err = s.Flow(ctx, credit(0, 1, 0))
		require.NoError(t, err)
		send(t, s, 0, "a")
		_, err = s.Detach(ctx, &types.Detach{Handle: 0})
		require.NoError(t, err)

		_, err = s.Attach(ctx, peerReceiver("other", 1))
		require.NoError(t, err)
		_, err = s.Attach(ctx, peerReceiver("orders", 1))
		require.True(t, link.IsProtocolViolation(err))

		rec, err := s.Store().Get(ctx, linkstate.Key{Name: "orders", Role: types.RoleSender})
		require.NoError(t, err)
		assert.Len(t, rec.Deliveries, 1)
	})

	t.Run("RetainFailureReturnsRecord", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := &failingPutStore{RecoveryStore: memory.New(), err: errors.New("disk full")}
		s, _, _ := newTestSession(t, func(o *Options) { o.Store = store })
		_, err := s.Attach(ctx, peerReceiver("orders", 0))
		require.NoError(t, err)
		_, err = s.Flow(ctx, credit(0, 2, 0))
		require.NoError(t, err)
		send(t, s, 0, "a", "b")

		res, err := s.Detach(ctx, &types.Detach{Handle: 0})
		require.ErrorIs(t, err, store.err)
		require.NotNil(t, res)
		require.NotNil(t, res.Record)
		assert.Len(t, res.Record.Deliveries, 2)
		assert.Equal(t, []string{"61", "62"}, res.Record.Tags())
		_, ok := s.Endpoint(0)
		assert.False(t, ok)

		// The caller can retry the write once the store recovers.
		store.err = nil
		require.NoError(t, store.Put(ctx, res.Record))
		rec, err := store.Get(ctx, res.Record.Key())
		require.NoError(t, err)
		assert.Len(t, rec.Deliveries, 2)
	})

	t.Run("SendOnUnknownHandle", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		_, err := s.Send(context.Background(), 4, &types.Transfer{})
		assert.True(t, link.IsUnknownLink(err))
	})

	t.Run("AttachAfterClose", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		require.NoError(t, s.Close(context.Background()))
		_, err := s.Attach(context.Background(), peerReceiver("a", 0))
		assert.Error(t, err)
	})
}

func TestSession_SweepStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, rec, clock := newTestSession(t)

	_, err := s.Attach(ctx, peerSender("inbox", 0))
	require.NoError(t, err)
	_, err = s.Transfer(ctx, &types.Transfer{Handle: 0, DeliveryID: 0, DeliveryTag: types.DeliveryTag("old")})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = s.Transfer(ctx, &types.Transfer{Handle: 0, DeliveryID: 1, DeliveryTag: types.DeliveryTag("new")})
	require.NoError(t, err)

	assert.Equal(t, 1, s.SweepStale(ctx, time.Minute))
	e, _ := s.Endpoint(0)
	assert.Equal(t, 1, e.Unsettled())

	ds := rec.Dispositions()
	require.Len(t, ds, 1)
	assert.Equal(t, types.DeliveryID(0), ds[0].Disposition.First)
	assert.True(t, ds[0].Disposition.Settled)
	assert.Equal(t, types.StateReleased, ds[0].Disposition.State.Kind)

	assert.Equal(t, 0, s.SweepStale(ctx, time.Minute))
}

func TestSession_CloseRetainsEveryLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, _ := newTestSession(t)

	for i := range 3 {
		h := types.Handle(i)
		_, err := s.Attach(ctx, peerReceiver(fmt.Sprintf("q%d", i), h))
		require.NoError(t, err)
		_, err = s.Flow(ctx, credit(h, 1, 0))
		require.NoError(t, err)
		send(t, s, h, "m")
	}

	require.NoError(t, s.Close(ctx))
	assert.Empty(t, s.Endpoints())
	require.NoError(t, s.Close(ctx))

	records, err := s.Store().List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Len(t, r.Deliveries, 1)
		assert.Equal(t, auth.DefaultPlaceholder, r.Principal)
	}
}

func TestSession_Run(t *testing.T) {
	t.Parallel()

	t.Run("ContinuesPastLinkErrors", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		in := make(chan types.Performative, 4)
		in <- peerSender("inbox", 0)
		in <- &types.Flow{Handle: 7}
		in <- &types.Transfer{Handle: 0, DeliveryID: 0, DeliveryTag: types.DeliveryTag("x")}
		close(in)

		require.NoError(t, s.Run(context.Background(), in))
		e, ok := s.Endpoint(0)
		require.True(t, ok)
		assert.Equal(t, 1, e.Unsettled())
	})

	t.Run("StopsOnFatalError", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		in := make(chan types.Performative, 4)
		in <- peerSender("inbox", 0)
		in <- &types.Transfer{Handle: 0, DeliveryID: 0, DeliveryTag: types.DeliveryTag("x")}
		in <- &types.Transfer{Handle: 0, DeliveryID: 0, DeliveryTag: types.DeliveryTag("x")}

		err := s.Run(context.Background(), in)
		assert.True(t, link.IsDuplicateDelivery(err))
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Run(ctx, make(chan types.Performative))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSession_ConcurrentLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, _ := newTestSession(t)

	const links = 8
	done := make(chan error, links)
	for i := range links {
		go func() {
			h := types.Handle(i)
			if _, err := s.Attach(ctx, peerReceiver(fmt.Sprintf("q%d", i), h)); err != nil {
				done <- err
				return
			}
			if _, err := s.Flow(ctx, credit(h, 20, 0)); err != nil {
				done <- err
				return
			}
			for j := range 20 {
				if _, err := s.Send(ctx, h, &types.Transfer{DeliveryTag: types.DeliveryTag(fmt.Sprintf("m%d", j))}); err != nil {
					done <- err
					return
				}
			}
			last := types.DeliveryID(19)
			_, err := s.Disposition(ctx, &types.Disposition{Handle: h, Role: types.RoleReceiver, First: 0, Last: &last, Settled: true, State: types.Accepted})
			done <- err
		}()
	}
	for range links {
		require.NoError(t, <-done)
	}
	for _, e := range s.Endpoints() {
		assert.Equal(t, 0, e.Unsettled())
	}
}
