// Package linkstatetest provides a conformance suite for
// linkstate.RecoveryStore implementations.
package linkstatetest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// StoreFactory creates a fresh RecoveryStore for each test. The factory
// receives *testing.T so it can use t.TempDir() and t.Cleanup().
type StoreFactory func(t *testing.T) linkstate.RecoveryStore

// RunConformanceSuite runs every conformance test against stores built by
// factory. Each test gets its own store.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("PutReplaces", func(t *testing.T) { testPutReplaces(t, factory(t)) })
	t.Run("KeyIncludesRole", func(t *testing.T) { testKeyIncludesRole(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("Take", func(t *testing.T) { testTake(t, factory(t)) })
	t.Run("List", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("PurgeBefore", func(t *testing.T) { testPurgeBefore(t, factory(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, factory(t)) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, factory(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory(t)) })
}

// NewRecord builds a record with n retained deliveries tagged t0..t(n-1).
// Deliveries alternate between unsettled and accepted so stores are checked
// for preserving outcomes.
func NewRecord(name string, role types.Role, n int, detachedAt time.Time) *linkstate.Record {
	rec := &linkstate.Record{
		LinkName:           name,
		LinkID:             "id-" + name,
		Role:               role,
		SenderSettleMode:   types.SenderSettleMixed,
		ReceiverSettleMode: types.ReceiverSettleSecond,
		DeliveryCount:      uint32(n),
		NextDeliveryID:     types.DeliveryID(100 + n),
		DetachedAt:         detachedAt.UTC().Truncate(time.Millisecond),
		Principal:          "guest",
	}
	for i := range n {
		d := linkstate.Delivery{
			DeliveryID:    types.DeliveryID(100 + i),
			DeliveryTag:   types.DeliveryTag(fmt.Sprintf("t%d", i)),
			MessageFormat: 0,
			Payload:       [][]byte{[]byte(fmt.Sprintf("body-%d", i))},
			CreatedAt:     detachedAt.UTC().Add(-time.Duration(n-i) * time.Second).Truncate(time.Millisecond),
		}
		if i%2 == 1 {
			d.State = types.Accepted
		}
		rec.Deliveries = append(rec.Deliveries, d)
	}
	return rec
}

// AssertRecordEqual compares records field by field; timestamps are
// compared as instants.
func AssertRecordEqual(t *testing.T, want, got *linkstate.Record) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.LinkName, got.LinkName)
	assert.Equal(t, want.LinkID, got.LinkID)
	assert.Equal(t, want.Role, got.Role)
	assert.Equal(t, want.SenderSettleMode, got.SenderSettleMode)
	assert.Equal(t, want.ReceiverSettleMode, got.ReceiverSettleMode)
	assert.Equal(t, want.DeliveryCount, got.DeliveryCount)
	assert.Equal(t, want.NextDeliveryID, got.NextDeliveryID)
	assert.Equal(t, want.Principal, got.Principal)
	assert.True(t, want.DetachedAt.Equal(got.DetachedAt), "detached_at %v != %v", want.DetachedAt, got.DetachedAt)
	require.Len(t, got.Deliveries, len(want.Deliveries))
	for i := range want.Deliveries {
		w, g := want.Deliveries[i], got.Deliveries[i]
		assert.Equal(t, w.DeliveryID, g.DeliveryID)
		assert.True(t, w.DeliveryTag.Equal(g.DeliveryTag), "tag %s != %s", w.DeliveryTag, g.DeliveryTag)
		assert.Equal(t, w.State, g.State)
		assert.Equal(t, w.Payload, g.Payload)
		assert.Equal(t, w.Redelivered, g.Redelivered)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
	}
}

func testPutGet(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	rec := NewRecord("orders", types.RoleSender, 4, time.Now())
	rec.Deliveries[1].State = types.Rejected(&types.ErrorInfo{Condition: types.ConditionInvalidField, Description: "bad"})
	rec.Deliveries[2].State = types.Modified(true, true)
	rec.Deliveries[3].Redelivered = true

	require.NoError(t, s.Put(ctx, rec))
	got, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	AssertRecordEqual(t, rec, got)
}

func testGetMissing(t *testing.T, s linkstate.RecoveryStore) {
	_, err := s.Get(t.Context(), linkstate.Key{Name: "nope", Role: types.RoleSender})
	require.Error(t, err)
	assert.True(t, linkstate.IsNotFoundError(err))
}

func testPutReplaces(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	now := time.Now()
	require.NoError(t, s.Put(ctx, NewRecord("orders", types.RoleSender, 5, now)))
	second := NewRecord("orders", types.RoleSender, 2, now.Add(time.Minute))
	require.NoError(t, s.Put(ctx, second))

	got, err := s.Get(ctx, second.Key())
	require.NoError(t, err)
	AssertRecordEqual(t, second, got)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testKeyIncludesRole(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	now := time.Now()
	snd := NewRecord("orders", types.RoleSender, 1, now)
	rcv := NewRecord("orders", types.RoleReceiver, 3, now)
	require.NoError(t, s.Put(ctx, snd))
	require.NoError(t, s.Put(ctx, rcv))

	got, err := s.Get(ctx, snd.Key())
	require.NoError(t, err)
	assert.Len(t, got.Deliveries, 1)
	got, err = s.Get(ctx, rcv.Key())
	require.NoError(t, err)
	assert.Len(t, got.Deliveries, 3)
}

func testDelete(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	rec := NewRecord("orders", types.RoleSender, 1, time.Now())
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.Key()))

	_, err := s.Get(ctx, rec.Key())
	assert.True(t, linkstate.IsNotFoundError(err))

	// Deleting a missing key is not an error.
	require.NoError(t, s.Delete(ctx, rec.Key()))
}

func testTake(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	rec := NewRecord("orders", types.RoleReceiver, 2, time.Now())
	require.NoError(t, s.Put(ctx, rec))

	got, err := linkstate.Take(ctx, s, rec.Key())
	require.NoError(t, err)
	AssertRecordEqual(t, rec, got)

	_, err = linkstate.Take(ctx, s, rec.Key())
	assert.True(t, linkstate.IsNotFoundError(err))
}

func testList(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	now := time.Now()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, NewRecord(name, types.RoleSender, 1, now)))
	}
	require.NoError(t, s.Put(ctx, NewRecord("a", types.RoleReceiver, 1, now)))

	list, err = s.List(ctx)
	require.NoError(t, err)
	var keys []string
	for _, r := range list {
		keys = append(keys, r.Key().String())
	}
	assert.Equal(t, []string{"receiver/a", "sender/a", "sender/b", "sender/c"}, keys)
}

func testPurgeBefore(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, NewRecord("old", types.RoleSender, 1, base.Add(-2*time.Hour))))
	require.NoError(t, s.Put(ctx, NewRecord("older", types.RoleReceiver, 1, base.Add(-3*time.Hour))))
	require.NoError(t, s.Put(ctx, NewRecord("new", types.RoleSender, 1, base)))

	n, err := s.PurgeBefore(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].LinkName)

	n, err = s.PurgeBefore(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testRejectsInvalid(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	assert.Error(t, s.Put(ctx, nil))
	assert.Error(t, s.Put(ctx, &linkstate.Record{}))

	dup := NewRecord("dup", types.RoleSender, 2, time.Now())
	dup.Deliveries[1].DeliveryTag = dup.Deliveries[0].DeliveryTag
	assert.Error(t, s.Put(ctx, dup))

	_, err := s.Get(ctx, dup.Key())
	assert.True(t, linkstate.IsNotFoundError(err))
}

// Records handed to or returned from the store share no memory with it.
func testIsolation(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	rec := NewRecord("orders", types.RoleSender, 2, time.Now())
	require.NoError(t, s.Put(ctx, rec))
	rec.Deliveries[0].Payload[0][0] = 'X'
	rec.LinkID = "changed"

	got, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, "id-orders", got.LinkID)
	assert.Equal(t, []byte("body-0"), got.Deliveries[0].Payload[0])

	got.Deliveries[1].DeliveryTag[0] = 'Z'
	again, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryTag("t1"), again.Deliveries[1].DeliveryTag)
}

func testConcurrent(t *testing.T, s linkstate.RecoveryStore) {
	ctx := t.Context()
	const n = 16
	errs := make(chan error, n)
	for i := range n {
		go func() {
			rec := NewRecord(fmt.Sprintf("link-%02d", i), types.RoleSender, 3, time.Now())
			if err := s.Put(ctx, rec); err != nil {
				errs <- err
				return
			}
			_, err := s.Get(ctx, rec.Key())
			errs <- err
		}()
	}
	for range n {
		require.NoError(t, <-errs)
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, n)
}
