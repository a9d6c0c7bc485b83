package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/protocol/amqp/session"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/linkstate/memory"
)

var start = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func run(t *testing.T, path string, store linkstate.RecoveryStore) *Report {
	t.Helper()
	sc, err := Load(path)
	require.NoError(t, err)
	rep, err := Run(context.Background(), sc, Options{
		Session: session.Options{ConnectionID: "replay", Store: store},
		Start:   start,
	})
	require.NoError(t, err)
	require.False(t, rep.Failed())
	return rep
}

func TestRun_Testdata(t *testing.T) {
	t.Parallel()

	t.Run("CreditExhausted", func(t *testing.T) {
		t.Parallel()
		rep := run(t, "testdata/credit-exhausted.yaml", memory.New())
		assert.Equal(t, "credit exhausted", rep.Scenario)
		require.Len(t, rep.Links, 1)
		assert.Equal(t, uint32(3), rep.Links[0].Available)
		assert.Equal(t, "sender", rep.Links[0].Role)
	})

	t.Run("Settle", func(t *testing.T) {
		t.Parallel()
		rep := run(t, "testdata/settle.yaml", memory.New())

		// The receiver grants its initial credit on attach.
		require.NotEmpty(t, rep.Events)
		flow, ok := rep.Events[0].Event.(link.FlowEvent)
		require.True(t, ok)
		assert.Equal(t, 1, rep.Events[0].Step)
		assert.Equal(t, uint32(100), flow.Flow.LinkCredit)
		assert.Equal(t, "matched=1 settled=1 ignored=0", rep.Steps[3].Detail)
	})

	t.Run("Reattach", func(t *testing.T) {
		t.Parallel()
		rep := run(t, "testdata/reattach.yaml", memory.New())

		assert.Equal(t, "link=orders role=sender resume=0 apply=3 redeliver=3 discard=0", rep.Steps[7].Detail)

		assert.Equal(t, "available=0 resumed=3 redelivered=3", rep.Steps[9].Detail)

		var resumed, redelivered []*types.Transfer
		for _, ev := range rep.Events {
			switch r := ev.Event.(type) {
			case link.ResumeEvent:
				assert.Equal(t, 10, ev.Step)
				resumed = append(resumed, r.Transfer)
			case link.RedeliverEvent:
				assert.Equal(t, 10, ev.Step)
				redelivered = append(redelivered, r.Transfer)
			}
		}
		require.Len(t, resumed, 3)
		for i, tr := range resumed {
			assert.Equal(t, types.DeliveryID(16+i), tr.DeliveryID)
			assert.Equal(t, types.DeliveryTag("t1"+string(rune('0'+i))), tr.DeliveryTag)
			assert.True(t, tr.Settled)
			assert.True(t, tr.Resume)
			assert.Equal(t, types.StateAccepted, tr.State.Kind)
		}
		require.Len(t, redelivered, 3)
		for i, tr := range redelivered {
			assert.Equal(t, types.DeliveryID(19+i), tr.DeliveryID)
			assert.Equal(t, types.DeliveryTag("t1"+string(rune('3'+i))), tr.DeliveryTag)
		}
	})

	t.Run("Overlap", func(t *testing.T) {
		t.Parallel()
		rep := run(t, "testdata/overlap.yaml", memory.New())
		assert.Equal(t, "matched=6 settled=6 ignored=0", rep.Steps[3].Detail)
		assert.Equal(t, "matched=2 settled=2 ignored=3", rep.Steps[4].Detail)
	})
}

func TestRun_RetainsStateAcrossRuns(t *testing.T) {
	t.Parallel()
	store := memory.New()

	first, err := Parse([]byte(`
name: first connection
principal: alice
steps:
  - attach: {name: orders, handle: 0, role: receiver}
  - flow: {handle: 0, delivery_count: 0, link_credit: 2}
  - send: {handle: 0, tags: [a, b]}
`))
	require.NoError(t, err)
	_, err = Run(context.Background(), first, Options{Session: session.Options{Store: store}, Start: start})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), linkstate.Key{Name: "orders", Role: types.RoleSender})
	require.NoError(t, err)
	assert.Len(t, rec.Deliveries, 2)
	assert.Equal(t, "alice", rec.Principal)

	second, err := Parse([]byte(`
name: second connection
steps:
  - attach:
      name: orders
      handle: 3
      role: receiver
      unsettled: {a: accepted, b: null}
  - expect: {handle: 3, unsettled: 1, pending_resumes: 1, pending_redeliveries: 0}
`))
	require.NoError(t, err)
	rep, err := Run(context.Background(), second, Options{Session: session.Options{Store: store}, Start: start})
	require.NoError(t, err)
	assert.Contains(t, rep.Steps[0].Detail, "resume=1 apply=1")
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	t.Run("ExpectationMismatch", func(t *testing.T) {
		t.Parallel()
		sc, err := Parse([]byte(`
steps:
  - attach: {name: orders, handle: 0, role: receiver}
  - expect: {handle: 0, available: 7}
  - expect: {handle: 0, unsettled: 0}
`))
		require.NoError(t, err)
		rep, err := Run(context.Background(), sc, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step 2 (expect)")
		assert.True(t, rep.Failed())
		assert.Len(t, rep.Steps, 2)
	})

	t.Run("UnexpectedSuccess", func(t *testing.T) {
		t.Parallel()
		sc, err := Parse([]byte(`
steps:
  - attach: {name: orders, handle: 0, role: receiver}
    expect_error: ProtocolViolation
`))
		require.NoError(t, err)
		_, err = Run(context.Background(), sc, Options{})
		assert.ErrorContains(t, err, "expected ProtocolViolation error")
	})

	t.Run("ExpectedProtocolViolation", func(t *testing.T) {
		t.Parallel()
		sc, err := Parse([]byte(`
steps:
  - attach: {name: orders, handle: 0, role: receiver}
  - disposition: {handle: 0, role: receiver, first: 9, last: 3, settled: true, state: accepted}
    expect_error: ProtocolViolation
`))
		require.NoError(t, err)
		_, err = Run(context.Background(), sc, Options{})
		assert.NoError(t, err)
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		t.Parallel()
		sc, err := Parse([]byte(`
steps:
  - grant: {handle: 4, credit: 1}
    expect_error: UnknownLink
  - expect: {handle: 4, attached: false}
`))
		require.NoError(t, err)
		_, err = Run(context.Background(), sc, Options{})
		assert.NoError(t, err)
	})
}

func TestRun_SweepUsesScenarioClock(t *testing.T) {
	t.Parallel()
	sc, err := Parse([]byte(`
link: {initial_credit: 10, credit_window: 10}
steps:
  - attach: {name: inbox, handle: 0, role: sender}
  - transfer: {handle: 0, delivery_id: 0, tag: x0}
  - advance: 2m
  - transfer: {handle: 0, delivery_id: 1, tag: x1}
  - sweep: {older_than: 1m}
  - expect: {handle: 0, unsettled: 1}
`))
	require.NoError(t, err)
	rep, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "expired=1", rep.Steps[4].Detail)
	assert.Equal(t, "+2m0s", rep.Steps[2].Detail)
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("StateForms", func(t *testing.T) {
		t.Parallel()
		sc, err := Parse([]byte(`
steps:
  - disposition:
      handle: 0
      role: receiver
      first: 0
      state: {kind: rejected, condition: "amqp:decode-error", description: bad}
  - disposition: {handle: 0, role: receiver, first: 1, state: released}
  - disposition:
      handle: 0
      role: receiver
      first: 2
      state: {kind: modified, delivery_failed: true}
`))
		require.NoError(t, err)

		st, err := sc.Steps[0].Disposition.State.State()
		require.NoError(t, err)
		assert.Equal(t, types.StateRejected, st.Kind)
		require.NotNil(t, st.Error)
		assert.Equal(t, "amqp:decode-error", st.Error.Condition)

		st, err = sc.Steps[1].Disposition.State.State()
		require.NoError(t, err)
		assert.Equal(t, types.Released, st)

		st, err = sc.Steps[2].Disposition.State.State()
		require.NoError(t, err)
		assert.Equal(t, types.Modified(true, false), st)
	})

	t.Run("NilStateIsUnsettled", func(t *testing.T) {
		t.Parallel()
		var s *StateSpec
		st, err := s.State()
		require.NoError(t, err)
		assert.Equal(t, types.Unsettled, st)
	})

	tests := []struct {
		name string
		doc  string
	}{
		{"NoSteps", "name: empty\n"},
		{"TwoActions", "steps:\n  - advance: 1s\n    sweep: {older_than: 1s}\n"},
		{"NoAction", "steps:\n  - expect_error: UnknownLink\n"},
		{"UnknownField", "steps:\n  - attach: {name: a, handle: 0, role: receiver, colour: red}\n"},
		{"BadYAML", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "unnamed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - advance: 1s\n"), 0o644))
	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, sc.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReport_Rows(t *testing.T) {
	t.Parallel()

	rep := &Report{Steps: []StepResult{
		{Index: 1, Op: "attach", Detail: "link=a", Events: 0},
		{Index: 2, Op: "expect", Error: "boom"},
	}}
	assert.Equal(t, []string{"1", "attach", "0", "link=a", "-"}, rep.Rows()[0])
	assert.Equal(t, "boom", rep.Rows()[1][4])
	assert.True(t, rep.Failed())
}

func TestRun_AutomaticSweep(t *testing.T) {
	t.Parallel()
	sc, err := Parse([]byte(`
link: {initial_credit: 10, credit_window: 10}
steps:
  - attach: {name: inbox, handle: 0, role: sender}
  - transfer: {handle: 0, delivery_id: 0, tag: x0}
  - transfer: {handle: 0, delivery_id: 1, tag: x1}
  - advance: 90s
  - expect: {handle: 0, unsettled: 0}
`))
	require.NoError(t, err)
	rep, err := Run(context.Background(), sc, Options{StaleAfter: time.Minute, SweepInterval: 30 * time.Second, Start: start})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Swept)

	var disposed int
	for _, ev := range rep.Events {
		if d, ok := ev.Event.(link.DispositionEvent); ok {
			assert.Equal(t, types.Released, d.Disposition.State)
			assert.Equal(t, 5, ev.Step)
			disposed++
		}
	}
	assert.Positive(t, disposed)
}
