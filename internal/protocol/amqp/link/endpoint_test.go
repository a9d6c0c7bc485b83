package link

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

func TestEndpointStateMachine(t *testing.T) {
	t.Parallel()
	e := NewEndpoint(Options{Name: "orders", Role: types.RoleSender})
	assert.Equal(t, StateAttaching, e.State())

	_, err := e.Send(msg("a"))
	assert.ErrorIs(t, err, &Error{Code: ErrInvalidState}, "no transfers before attach")

	require.NoError(t, e.Attach())
	assert.Equal(t, StateAttached, e.State())
	assert.Error(t, e.Attach(), "attach twice")

	_, err = e.Detach(DetachOptions{Closed: true})
	require.NoError(t, err)
	assert.Equal(t, StateDetached, e.State())

	_, err = e.Detach(DetachOptions{})
	assert.True(t, IsLinkDetached(err))
}

// Scenario A: a sender without credit is refused until a flow arrives.
func TestScenarioCreditExhaustedThenFlow(t *testing.T) {
	t.Parallel()
	e, _ := newSender(t, 0)

	_, err := e.Send(msg("a"))
	require.Error(t, err)
	assert.True(t, IsCreditExhausted(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, e.Unsettled(), "refused send leaves nothing registered")

	res, err := e.OnFlow(flow(5, e.DeliveryCount()))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.Available)
	assert.Equal(t, uint32(5), e.Available())
}

func TestSendAssignsIDsAndConsumesCredit(t *testing.T) {
	t.Parallel()
	e, _ := newSender(t, 3, func(o *Options) {
		o.InitialDeliveryCount = 100
		o.NextDeliveryID = 40
	})

	sent := sendN(t, e, 3)
	assert.Equal(t, []types.DeliveryID{40, 41, 42}, ids(sent))
	assert.Equal(t, uint32(0), e.Available())
	assert.Equal(t, uint32(103), e.DeliveryCount())
	assert.Equal(t, 3, e.Unsettled())

	_, err := e.Send(msg("x"))
	assert.True(t, IsCreditExhausted(err))
	assert.Equal(t, uint32(103), e.DeliveryCount(), "refused send does not advance delivery-count")
}

func TestSendDefaultsTagToDeliveryID(t *testing.T) {
	t.Parallel()
	e, _ := newSender(t, 1, func(o *Options) { o.NextDeliveryID = 0x01020304 })
	u, err := e.Send(&types.Transfer{})
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryTag{1, 2, 3, 4}, u.DeliveryTag())
}

func TestSettleOnSend(t *testing.T) {
	t.Parallel()

	t.Run("SettledMode", func(t *testing.T) {
		e, _ := newSender(t, 2, func(o *Options) { o.SenderSettleMode = types.SenderSettleSettled })
		u, err := e.Send(msg("a"))
		require.NoError(t, err)
		assert.True(t, u.Settled())
		assert.Equal(t, 0, e.Unsettled(), "presettled transfers are never registered")
		assert.Equal(t, uint32(1), e.Available(), "presettled transfers still consume credit")
	})

	t.Run("MixedModeHonoursTransfer", func(t *testing.T) {
		e, _ := newSender(t, 2, func(o *Options) { o.SenderSettleMode = types.SenderSettleMixed })
		pre := msg("a")
		pre.Settled = true
		_, err := e.Send(pre)
		require.NoError(t, err)
		_, err = e.Send(msg("b"))
		require.NoError(t, err)
		assert.Equal(t, 1, e.Unsettled())
	})

	t.Run("UnsettledModeIgnoresFlag", func(t *testing.T) {
		e, _ := newSender(t, 1)
		pre := msg("a")
		pre.Settled = true
		u, err := e.Send(pre)
		require.NoError(t, err)
		assert.False(t, u.Settled())
		assert.Equal(t, 1, e.Unsettled())
	})
}

func TestSendDoesNotAliasCallerTransfer(t *testing.T) {
	t.Parallel()
	e, _ := newSender(t, 1)
	in := msg("a")
	u, err := e.Send(in)
	require.NoError(t, err)

	in.Payload[0][0] = 'X'
	in.DeliveryTag[0] = 'Z'
	assert.Equal(t, "body-a", string(u.Transfer().Payload[0]))
	assert.Equal(t, types.DeliveryTag("a"), u.DeliveryTag())
}

func TestRoleChecks(t *testing.T) {
	t.Parallel()
	s, _ := newSender(t, 1)
	_, err := s.Receive(incoming(1))
	assert.ErrorIs(t, err, &Error{Code: ErrInvalidState})
	_, err = s.GrantCredit(5, false)
	assert.ErrorIs(t, err, &Error{Code: ErrInvalidState})

	r, _ := newReceiver(t)
	_, err = r.Send(msg("a"))
	assert.ErrorIs(t, err, &Error{Code: ErrInvalidState})
}

// Credit after a flow of N followed by k sends is N-k whichever of those
// sends happen before the flow is applied.
func TestCreditFormulaRaceSafety(t *testing.T) {
	t.Parallel()
	const n = 20
	for k := 0; k <= 10; k++ {
		for before := 0; before <= k; before++ {
			e, _ := newSender(t, 100, func(o *Options) { o.InitialDeliveryCount = 0xFFFFFFFC })
			snapshot := e.DeliveryCount()

			sendN(t, e, before)
			_, err := e.OnFlow(flow(n, snapshot))
			require.NoError(t, err)
			sendN(t, e, k-before)

			require.Equal(t, uint32(n-k), e.Available(), "k=%d before=%d", k, before)
		}
	}
}

func TestCreditClampsAtZero(t *testing.T) {
	t.Parallel()
	e, _ := newSender(t, 10)
	snapshot := e.DeliveryCount()
	sendN(t, e, 6)

	res, err := e.OnFlow(flow(4, snapshot))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.Available)

	res, err = e.OnFlow(flow(4, e.DeliveryCount()+3))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), res.Available, "snapshot ahead of local count never exceeds the grant")
}

func TestConcurrentSendsSerialise(t *testing.T) {
	t.Parallel()
	const workers, each = 8, 100
	e, _ := newSender(t, workers*each)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[types.DeliveryID]bool{}
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				u, err := e.Send(msg("m"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[u.DeliveryID()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*each, "delivery ids are unique")
	assert.Equal(t, uint32(workers*each), e.DeliveryCount())
	assert.Equal(t, uint32(0), e.Available())
	assert.Equal(t, workers*each, e.Unsettled())
}

func TestCreditNotify(t *testing.T) {
	t.Parallel()

	t.Run("ClosedWhenCreditArrives", func(t *testing.T) {
		e, _ := newSender(t, 0)
		ch := e.CreditNotify()
		select {
		case <-ch:
			t.Fatal("notified without credit")
		default:
		}
		_, err := e.OnFlow(flow(1, e.DeliveryCount()))
		require.NoError(t, err)
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("not notified after flow")
		}
	})

	t.Run("AlreadyAvailable", func(t *testing.T) {
		e, _ := newSender(t, 1)
		select {
		case <-e.CreditNotify():
		default:
			t.Fatal("expected closed channel")
		}
	})

	t.Run("DetachFailsWaitingSenders", func(t *testing.T) {
		e, _ := newSender(t, 0)
		errs := make(chan error, 4)
		for range 4 {
			go func() {
				<-e.CreditNotify()
				_, err := e.Send(msg("late"))
				errs <- err
			}()
		}
		_, err := e.Detach(DetachOptions{})
		require.NoError(t, err)
		for range 4 {
			select {
			case err := <-errs:
				assert.True(t, IsLinkDetached(err), "got %v", err)
			case <-time.After(time.Second):
				t.Fatal("sender not woken by detach")
			}
		}
		assert.Equal(t, 0, e.Unsettled())
	})
}

func TestDrain(t *testing.T) {
	t.Parallel()
	e, rec := newSender(t, 0)
	sendBefore := e.DeliveryCount()

	f := flow(5, sendBefore)
	f.Drain = true
	res, err := e.OnFlow(f)
	require.NoError(t, err)

	require.NotNil(t, res.Reply)
	assert.Equal(t, uint32(0), res.Reply.LinkCredit)
	assert.Equal(t, sendBefore+5, *res.Reply.DeliveryCount)
	assert.Equal(t, uint32(0), e.Available())
	require.Len(t, rec.Flows(), 1)
}

func TestFlowEcho(t *testing.T) {
	t.Parallel()
	e, rec := newSender(t, 0)
	f := flow(3, e.DeliveryCount())
	f.Echo = true
	res, err := e.OnFlow(f)
	require.NoError(t, err)
	require.NotNil(t, res.Reply)
	assert.Equal(t, uint32(3), res.Reply.LinkCredit)
	assert.Len(t, rec.Flows(), 1)
}

func TestReceive(t *testing.T) {
	t.Parallel()

	t.Run("RegistersUnsettled", func(t *testing.T) {
		e, _ := newReceiver(t)
		_, err := e.GrantCredit(10, false)
		require.NoError(t, err)

		u, err := e.Receive(incoming(3))
		require.NoError(t, err)
		assert.False(t, u.Settled())
		assert.Equal(t, 1, e.Unsettled())
		assert.Equal(t, uint32(1), e.DeliveryCount())
		assert.Equal(t, uint32(9), e.Available())
	})

	t.Run("DuplicateIsFatal", func(t *testing.T) {
		e, _ := newReceiver(t)
		_, err := e.Receive(incoming(3))
		require.NoError(t, err)
		_, err = e.Receive(incoming(3))
		assert.True(t, IsDuplicateDelivery(err))
	})

	t.Run("PresettledNotRegistered", func(t *testing.T) {
		e, _ := newReceiver(t)
		in := incoming(1)
		in.Settled = true
		u, err := e.Receive(in)
		require.NoError(t, err)
		assert.True(t, u.Settled())
		assert.Equal(t, 0, e.Unsettled())
		assert.Equal(t, uint32(1), e.DeliveryCount())
	})

	t.Run("MultiFrame", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(8)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)

		second := &types.Transfer{DeliveryID: 8, Payload: [][]byte{[]byte("-more")}, More: true}
		_, err = e.Receive(second)
		require.NoError(t, err)

		last := &types.Transfer{DeliveryID: 8, Payload: [][]byte{[]byte("-end")}}
		u, err := e.Receive(last)
		require.NoError(t, err)

		assert.Equal(t, uint32(1), e.DeliveryCount(), "delivery-count advances once per delivery")
		assert.Len(t, u.Transfer().Payload, 3)
		assert.Equal(t, len("payload-more-end"), u.Transfer().PayloadSize())
	})

	t.Run("MultiFrameOmitsID", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(8)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)

		_, err = e.Receive(&types.Transfer{Payload: [][]byte{[]byte("-more")}, More: true})
		require.NoError(t, err)

		u, err := e.Receive(&types.Transfer{DeliveryTag: first.DeliveryTag, Payload: [][]byte{[]byte("-end")}})
		require.NoError(t, err)
		assert.Equal(t, types.DeliveryID(8), u.DeliveryID())
		assert.Equal(t, len("payload-more-end"), u.Transfer().PayloadSize())
		assert.Equal(t, uint32(1), e.DeliveryCount())
		assert.Equal(t, 1, e.Unsettled())
	})

	t.Run("ContinuationWithOtherTagIsViolation", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(8)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)
		_, err = e.Receive(&types.Transfer{DeliveryTag: types.DeliveryTag("other"), Payload: [][]byte{[]byte("x")}})
		assert.True(t, IsProtocolViolation(err))
	})

	t.Run("InterleavedFrameIsViolation", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(8)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)
		_, err = e.Receive(incoming(9))
		assert.True(t, IsProtocolViolation(err))
	})

	t.Run("AbortDropsDelivery", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(8)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)

		u, err := e.Receive(&types.Transfer{DeliveryID: 8, Aborted: true})
		require.NoError(t, err)
		assert.Nil(t, u)
		assert.Equal(t, 0, e.Unsettled())

		_, err = e.Receive(incoming(9))
		assert.NoError(t, err, "next delivery accepted after abort")
	})

	t.Run("CreditWindowReplenishes", func(t *testing.T) {
		e, rec := newReceiver(t, func(o *Options) { o.CreditWindow = 4 })
		_, err := e.GrantCredit(4, false)
		require.NoError(t, err)
		rec.Reset()

		_, err = e.Receive(incoming(0))
		require.NoError(t, err)
		assert.Empty(t, rec.Flows())

		_, err = e.Receive(incoming(1))
		require.NoError(t, err)
		flows := rec.Flows()
		require.Len(t, flows, 1)
		assert.Equal(t, uint32(4), flows[0].Flow.LinkCredit)
		assert.Equal(t, uint32(2), *flows[0].Flow.DeliveryCount)
		assert.Equal(t, uint32(4), e.Available())
	})

	t.Run("AdoptsSenderCountAfterDrain", func(t *testing.T) {
		e, _ := newReceiver(t)
		_, err := e.GrantCredit(5, true)
		require.NoError(t, err)
		_, err = e.OnFlow(flow(0, 5))
		require.NoError(t, err)
		assert.Equal(t, uint32(5), e.DeliveryCount())
		assert.Equal(t, uint32(0), e.Available())
	})
}

func TestDispose(t *testing.T) {
	t.Parallel()

	t.Run("ReceiverSettlesFirst", func(t *testing.T) {
		e, rec := newReceiver(t)
		for id := types.DeliveryID(0); id < 3; id++ {
			_, err := e.Receive(incoming(id))
			require.NoError(t, err)
		}
		d, err := e.Dispose(0, 1, types.Accepted, true)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, types.RoleReceiver, d.Role)
		assert.True(t, d.Settled)
		assert.Equal(t, 1, e.Unsettled())
		assert.Len(t, rec.Dispositions(), 1)
	})

	t.Run("ReceiverSettleSecondWaitsForSender", func(t *testing.T) {
		e, _ := newReceiver(t, func(o *Options) { o.ReceiverSettleMode = types.ReceiverSettleSecond })
		u, err := e.Receive(incoming(0))
		require.NoError(t, err)

		d, err := e.Dispose(0, 0, types.Accepted, true)
		require.NoError(t, err)
		assert.False(t, d.Settled)
		assert.Equal(t, 1, e.Unsettled())
		assert.Equal(t, types.StateAccepted, u.State().Kind)
	})

	t.Run("NothingMatched", func(t *testing.T) {
		e, rec := newReceiver(t)
		d, err := e.Dispose(4, 9, types.Accepted, true)
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.Empty(t, rec.Events())
	})

	t.Run("MalformedRange", func(t *testing.T) {
		e, _ := newReceiver(t)
		_, err := e.Dispose(9, 4, types.Accepted, true)
		assert.True(t, IsProtocolViolation(err))
	})
}

func TestExpire(t *testing.T) {
	t.Parallel()
	clock := newClock()
	e, rec := newSender(t, 10, func(o *Options) { o.Now = clock.Now })

	sendN(t, e, 2)
	clock.Advance(time.Minute)
	sendN(t, e, 1)
	rec.Reset()

	expired := e.Expire(clock.Now().Add(-30*time.Second), types.Released)
	assert.Equal(t, []types.DeliveryID{0, 1}, ids(expired))
	assert.Equal(t, 1, e.Unsettled())
	for _, u := range expired {
		assert.True(t, u.Settled())
		assert.Equal(t, types.StateReleased, u.State().Kind)
	}

	ds := rec.Dispositions()
	require.Len(t, ds, 1)
	first, last := ds[0].Disposition.Range()
	assert.Equal(t, types.DeliveryID(0), first)
	assert.Equal(t, types.DeliveryID(1), last)
}

func TestDetach(t *testing.T) {
	t.Parallel()

	t.Run("RetainedForReattach", func(t *testing.T) {
		e, _ := newSender(t, 10, func(o *Options) { o.NextDeliveryID = 10 })
		sendN(t, e, 3)

		res, err := e.Detach(DetachOptions{})
		require.NoError(t, err)
		require.NotNil(t, res.Record)
		assert.Empty(t, res.Abandoned)
		assert.Equal(t, "orders", res.Record.LinkName)
		assert.Equal(t, types.DeliveryID(13), res.Record.NextDeliveryID)
		assert.Equal(t, uint32(3), res.Record.DeliveryCount)
		require.Len(t, res.Record.Deliveries, 3)
		assert.Equal(t, types.DeliveryTag("t0"), res.Record.Deliveries[0].DeliveryTag)
		assert.Equal(t, "body-t0", string(res.Record.Deliveries[0].Payload[0]))
		assert.Equal(t, 0, e.Unsettled(), "no entries outlive the endpoint")
	})

	t.Run("ClosedAbandonsAsModified", func(t *testing.T) {
		e, _ := newSender(t, 10)
		sendN(t, e, 2)

		res, err := e.Detach(DetachOptions{Closed: true})
		require.NoError(t, err)
		assert.Nil(t, res.Record)
		require.Len(t, res.Abandoned, 2)
		for _, u := range res.Abandoned {
			assert.True(t, u.Settled())
			st := u.State()
			assert.Equal(t, types.StateModified, st.Kind)
			assert.True(t, st.DeliveryFailed)
		}
		assert.Equal(t, 0, e.Unsettled())
	})

	t.Run("SendAfterDetachFails", func(t *testing.T) {
		e, _ := newSender(t, 10)
		_, err := e.Detach(DetachOptions{})
		require.NoError(t, err)
		_, err = e.Send(msg("a"))
		assert.True(t, IsLinkDetached(err))
		assert.Equal(t, types.ConditionDetachForced, err.(*Error).Condition().Condition)
	})

	t.Run("IncompleteDeliveryRetained", func(t *testing.T) {
		e, _ := newReceiver(t)
		first := incoming(4)
		first.More = true
		_, err := e.Receive(first)
		require.NoError(t, err)

		res, err := e.Detach(DetachOptions{})
		require.NoError(t, err)
		require.Len(t, res.Record.Deliveries, 1)
		assert.Equal(t, types.DeliveryID(4), res.Record.Deliveries[0].DeliveryID)
	})
}
