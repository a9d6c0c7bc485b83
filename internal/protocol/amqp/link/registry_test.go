package link

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

func TestRegistryRegisterLookupRelease(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	u, err := r.Register(incoming(1), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryID(1), u.DeliveryID())

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, u, got)

	_, ok = r.Lookup(2)
	assert.False(t, ok, "absent id is not an error")

	released, ok := r.Release(1)
	require.True(t, ok)
	assert.Same(t, u, released)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Release(1)
	assert.False(t, ok, "second release is a no-op")
	assert.True(t, r.consistent())
}

func TestRegistryDuplicateDelivery(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.Register(incoming(7), nil)
	require.NoError(t, err)

	_, err = r.Register(incoming(7), nil)
	require.Error(t, err)
	assert.True(t, IsDuplicateDelivery(err))
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, r.Len())

	r.Release(7)
	_, err = r.Register(incoming(7), nil)
	assert.NoError(t, err, "id may be reused once released")
}

func TestRegistryReusesSlots(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for i := range 4 {
		_, err := r.Register(incoming(types.DeliveryID(i)), nil)
		require.NoError(t, err)
	}
	r.Release(1)
	r.Release(2)
	_, err := r.Register(incoming(10), nil)
	require.NoError(t, err)

	assert.Len(t, r.slots, 4)
	assert.Len(t, r.free, 1)
	assert.True(t, r.consistent())
}

// Membership equals registered-but-not-released for any sequence of
// register and release calls.
func TestRegistryMembershipProperty(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 50; round++ {
		r := NewRegistry()
		model := map[types.DeliveryID]bool{}

		for step := 0; step < 500; step++ {
			id := types.DeliveryID(rng.IntN(64))
			if rng.IntN(2) == 0 {
				_, err := r.Register(incoming(id), nil)
				if model[id] {
					require.True(t, IsDuplicateDelivery(err))
				} else {
					require.NoError(t, err)
					model[id] = true
				}
			} else {
				_, ok := r.Release(id)
				require.Equal(t, model[id], ok)
				delete(model, id)
			}
		}

		want := make([]types.DeliveryID, 0, len(model))
		for id := range model {
			want = append(want, id)
		}
		slices.Sort(want)
		require.Equal(t, want, r.IDs(), "round %d", round)
		require.Equal(t, len(model), r.Len())
		require.True(t, r.consistent())
	}
}

func TestRegistryEntriesForLink(t *testing.T) {
	t.Parallel()

	a := NewEndpoint(Options{Name: "a"})
	b := NewEndpoint(Options{Name: "b"})
	r := NewRegistry()
	for _, id := range []types.DeliveryID{5, 1, 3} {
		_, err := r.Register(incoming(id), a)
		require.NoError(t, err)
	}
	_, err := r.Register(incoming(2), b)
	require.NoError(t, err)

	t.Run("OrderedAndFiltered", func(t *testing.T) {
		assert.Equal(t, []types.DeliveryID{1, 3, 5}, ids(slices.Collect(r.EntriesForLink(a))))
		assert.Equal(t, []types.DeliveryID{2}, ids(slices.Collect(r.EntriesForLink(b))))
	})

	t.Run("Restartable", func(t *testing.T) {
		seq := r.EntriesForLink(a)
		first := ids(slices.Collect(seq))
		second := ids(slices.Collect(seq))
		assert.Equal(t, first, second)
	})

	t.Run("ReleaseDuringIteration", func(t *testing.T) {
		var seen []types.DeliveryID
		for u := range r.EntriesForLink(a) {
			seen = append(seen, u.DeliveryID())
			if u.DeliveryID() == 1 {
				r.Release(3)
			}
		}
		assert.Equal(t, []types.DeliveryID{1, 5}, seen)
	})

	t.Run("EarlyBreak", func(t *testing.T) {
		n := 0
		for range r.EntriesForLink(a) {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})
}

func TestRegistrySerialOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, id := range []types.DeliveryID{1, 0xFFFFFFFF, 0, 0xFFFFFFFE} {
		_, err := r.Register(incoming(id), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []types.DeliveryID{0xFFFFFFFE, 0xFFFFFFFF, 0, 1}, r.IDs())
}
