package link

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// newSender returns an attached sender with the given credit.
func newSender(t *testing.T, credit uint32, opts ...func(*Options)) (*Endpoint, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	o := Options{Name: "orders", Role: types.RoleSender, Sink: rec}
	for _, fn := range opts {
		fn(&o)
	}
	e := NewEndpoint(o)
	require.NoError(t, e.Attach())
	if credit > 0 {
		_, err := e.OnFlow(flow(credit, e.DeliveryCount()))
		require.NoError(t, err)
	}
	return e, rec
}

// newReceiver returns an attached receiver.
func newReceiver(t *testing.T, opts ...func(*Options)) (*Endpoint, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	o := Options{Name: "orders", Role: types.RoleReceiver, Sink: rec}
	for _, fn := range opts {
		fn(&o)
	}
	e := NewEndpoint(o)
	require.NoError(t, e.Attach())
	return e, rec
}

func flow(credit, snapshot uint32) types.Flow {
	return types.Flow{LinkCredit: credit, DeliveryCount: &snapshot}
}

func msg(tag string) *types.Transfer {
	return &types.Transfer{DeliveryTag: types.DeliveryTag(tag), Payload: [][]byte{[]byte("body-" + tag)}}
}

func incoming(id types.DeliveryID) *types.Transfer {
	return &types.Transfer{
		DeliveryID:  id,
		DeliveryTag: types.DeliveryTag(fmt.Sprintf("t%d", id)),
		Payload:     [][]byte{[]byte("payload")},
	}
}

// fromReceiver builds a disposition as a receiving peer sends it.
func fromReceiver(first, last types.DeliveryID, settled bool, state types.DeliveryState) *types.Disposition {
	return &types.Disposition{Role: types.RoleReceiver, First: first, Last: &last, Settled: settled, State: state}
}

// fromSender builds a disposition as a sending peer sends it.
func fromSender(first, last types.DeliveryID, settled bool, state types.DeliveryState) *types.Disposition {
	return &types.Disposition{Role: types.RoleSender, First: first, Last: &last, Settled: settled, State: state}
}

// sendN sends n transfers tagged t0..t(n-1).
func sendN(t *testing.T, e *Endpoint, n int) []*UnsettledTransfer {
	t.Helper()
	out := make([]*UnsettledTransfer, n)
	for i := range n {
		u, err := e.Send(msg(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		out[i] = u
	}
	return out
}

func ids(entries []*UnsettledTransfer) []types.DeliveryID {
	out := make([]types.DeliveryID, len(entries))
	for i, u := range entries {
		out[i] = u.DeliveryID()
	}
	return out
}
