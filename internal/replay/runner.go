package replay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/protocol/amqp/session"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/auth"
)

// Event is an outbound link event tagged with the step that raised it.
type Event struct {
	Step  int        `json:"step" yaml:"step"`
	Event link.Event `json:"event" yaml:"event"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int    `json:"index" yaml:"index"`
	Op     string `json:"op" yaml:"op"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Events int    `json:"events" yaml:"events"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// LinkSnapshot is the state of one endpoint when the scenario finished.
type LinkSnapshot struct {
	Handle              types.Handle `json:"handle" yaml:"handle"`
	Name                string       `json:"name" yaml:"name"`
	ID                  string       `json:"id" yaml:"id"`
	Role                string       `json:"role" yaml:"role"`
	State               string       `json:"state" yaml:"state"`
	Unsettled           int          `json:"unsettled" yaml:"unsettled"`
	Available           uint32       `json:"available" yaml:"available"`
	DeliveryCount       uint32       `json:"delivery_count" yaml:"delivery_count"`
	PendingRedeliveries int          `json:"pending_redeliveries" yaml:"pending_redeliveries"`
	PendingResumes      int          `json:"pending_resumes" yaml:"pending_resumes"`
}

// Report is the result of a replay.
type Report struct {
	Scenario string         `json:"scenario" yaml:"scenario"`
	Steps    []StepResult   `json:"steps" yaml:"steps"`
	Events   []Event        `json:"events" yaml:"events"`
	Links    []LinkSnapshot `json:"links" yaml:"links"`
	Duration time.Duration  `json:"duration" yaml:"duration"`

	// Swept counts deliveries expired by automatic sweeps.
	Swept int `json:"swept,omitempty" yaml:"swept,omitempty"`
}

// LinkEvents returns the recorded events without step tags.
func (r *Report) LinkEvents() []link.Event {
	out := make([]link.Event, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Event
	}
	return out
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Headers and Rows render the step results as a table.
func (r *Report) Headers() []string {
	return []string{"STEP", "OP", "EVENTS", "DETAIL", "ERROR"}
}

func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		errText := s.Error
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{strconv.Itoa(s.Index), s.Op, strconv.Itoa(s.Events), s.Detail, errText})
	}
	return rows
}

type stepSink struct {
	mu     sync.Mutex
	step   int
	events []Event
}

func (s *stepSink) Emit(ev link.Event) {
	s.mu.Lock()
	s.events = append(s.events, Event{Step: s.step, Event: ev})
	s.mu.Unlock()
}

func (s *stepSink) begin(step int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = step
	return len(s.events)
}

func (s *stepSink) since(mark int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - mark
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Options configures a replay.
type Options struct {
	// Session is the base session configuration. Sink and Now are replaced
	// by the runner.
	Session session.Options

	// Start is the scenario clock's initial time. Defaults to time.Now.
	Start time.Time

	// StaleAfter enables automatic sweeping: before each step, once
	// SweepInterval of scenario time has passed, deliveries unsettled for
	// longer than StaleAfter are settled as released.
	StaleAfter time.Duration

	// SweepInterval defaults to StaleAfter.
	SweepInterval time.Duration
}

// Run executes sc on a fresh session and returns what happened.
//
// Every endpoint still attached when the steps finish is detached with
// its state retained, as on a lost connection, so a later scenario sharing
// the same store can reattach. Run stops at the first failing step and
// returns the partial report together with the error.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Report, error) {
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	clk := &clock{t: start}
	sink := &stepSink{}

	so := opts.Session
	so.Sink = sink
	so.Now = clk.Now
	if sc.VirtualHost != "" {
		so.VirtualHost = sc.VirtualHost
	}
	if sc.Link.InitialCredit != nil {
		so.Link.InitialCredit = *sc.Link.InitialCredit
	}
	if sc.Link.CreditWindow != nil {
		so.Link.CreditWindow = *sc.Link.CreditWindow
	}
	s := session.New(so)

	if sc.Principal != "" {
		ctx = auth.WithIdentity(ctx, &auth.Identity{Username: sc.Principal})
	}
	ctx = logger.WithContext(ctx, logger.NewLogContext(so.ConnectionID).WithPrincipal(sc.Principal))

	began := time.Now()
	rep := &Report{Scenario: sc.Name}
	r := &runner{s: s, clock: clk}

	interval := opts.SweepInterval
	if interval <= 0 {
		interval = opts.StaleAfter
	}
	nextSweep := start.Add(interval)

	var runErr error
	for i := range sc.Steps {
		step := &sc.Steps[i]
		mark := sink.begin(i + 1)

		if opts.StaleAfter > 0 && !clk.Now().Before(nextSweep) {
			rep.Swept += s.SweepStale(ctx, opts.StaleAfter)
			nextSweep = clk.Now().Add(interval)
		}

		detail, err := r.apply(ctx, step)
		err = checkExpectedError(step, err)

		res := StepResult{Index: i + 1, Op: step.Op(), Detail: detail, Events: sink.since(mark)}
		if err != nil {
			res.Error = err.Error()
			runErr = fmt.Errorf("step %d (%s): %w", i+1, step.Op(), err)
		}
		rep.Steps = append(rep.Steps, res)
		if runErr != nil {
			logger.WarnCtx(ctx, "replay step failed", "step", i+1, "op", step.Op(), logger.KeyError, err)
			break
		}
	}

	rep.Links = snapshot(s)
	if err := s.Close(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("close session: %w", err)
	}
	sink.mu.Lock()
	rep.Events = append([]Event(nil), sink.events...)
	sink.mu.Unlock()
	rep.Duration = time.Since(began)

	logger.InfoCtx(ctx, "replay finished",
		"scenario", sc.Name,
		"steps", len(rep.Steps),
		"events", len(rep.Events),
		"failed", runErr != nil)
	return rep, runErr
}

func checkExpectedError(step *Step, err error) error {
	if step.ExpectError == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected %s error, step succeeded", step.ExpectError)
	}
	le, ok := link.AsError(err)
	if !ok || le.Code.String() != step.ExpectError {
		return fmt.Errorf("expected %s error, got: %w", step.ExpectError, err)
	}
	return nil
}

func snapshot(s *session.Session) []LinkSnapshot {
	var out []LinkSnapshot
	for _, e := range s.Endpoints() {
		out = append(out, LinkSnapshot{
			Handle:              e.Handle(),
			Name:                e.Name(),
			ID:                  e.ID(),
			Role:                e.Role().String(),
			State:               e.State().String(),
			Unsettled:           e.Unsettled(),
			Available:           e.Available(),
			DeliveryCount:       e.DeliveryCount(),
			PendingRedeliveries: e.PendingRedeliveries(),
			PendingResumes:      e.PendingResumes(),
		})
	}
	return out
}
