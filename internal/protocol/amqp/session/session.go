package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/telemetry"
	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// Session tracks the links attached on one AMQP session.
//
// Thread-safe. Dispatch serialises performatives; the direct methods
// (Attach, Transfer, ...) may be called concurrently for different links.
type Session struct {
	opts     Options
	coord    *link.Coordinator
	recovery *link.RecoveryManager

	dispatchMu sync.Mutex

	mu       sync.RWMutex
	byHandle map[types.Handle]*link.Endpoint
	byName   map[linkstate.Key]*link.Endpoint
	closed   bool
}

// New creates a session.
func New(opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		opts:     opts,
		coord:    link.NewCoordinator(opts.Metrics),
		recovery: link.NewRecoveryManager(opts.Metrics),
		byHandle: make(map[types.Handle]*link.Endpoint),
		byName:   make(map[linkstate.Key]*link.Endpoint),
	}
}

// Store returns the recovery store.
func (s *Session) Store() linkstate.RecoveryStore {
	return s.opts.Store
}

// Endpoint returns the endpoint attached on handle.
func (s *Session) Endpoint(h types.Handle) (*link.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHandle[h]
	return e, ok
}

// Endpoints returns the attached endpoints ordered by handle.
func (s *Session) Endpoints() []*link.Endpoint {
	s.mu.RLock()
	out := make([]*link.Endpoint, 0, len(s.byHandle))
	for _, e := range s.byHandle {
		out = append(out, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *link.Endpoint) int {
		return int(a.Handle()) - int(b.Handle())
	})
	return out
}

func (s *Session) lookup(h types.Handle) (*link.Endpoint, error) {
	if e, ok := s.Endpoint(h); ok {
		return e, nil
	}
	return nil, &link.Error{Code: link.ErrUnknownLink, Message: fmt.Sprintf("no link attached on handle %d", h)}
}

func (s *Session) principal(ctx context.Context) string {
	return s.opts.Principals.Resolve(ctx)
}

// withLogContext attaches a LogContext describing this session to ctx.
func (s *Session) withLogContext(ctx context.Context, performative string) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(s.opts.ConnectionID)
	}
	lc = lc.WithSession(s.opts.SessionID).
		WithPrincipal(s.principal(ctx)).
		WithPerformative(performative).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	return logger.WithContext(ctx, lc)
}

// ============================================================================
// Attach / Detach
// ============================================================================

// AttachResult describes a completed attach.
type AttachResult struct {
	Endpoint *link.Endpoint

	// Reply is the local attach to send back. On reattach its unsettled map
	// lists the deliveries retained from the previous attachment.
	Reply *types.Attach

	// Plan and Summary are set when retained state was recovered.
	Plan    *link.Plan
	Summary *link.Summary
}

// Attach handles the peer's attach: the local endpoint takes the opposite
// role. Retained state for the same link name and role is loaded from the
// recovery store and reconciled against the peer's unsettled map.
func (s *Session) Attach(ctx context.Context, a *types.Attach) (*AttachResult, error) {
	role := a.Role.Peer()
	key := linkstate.Key{Name: a.Name, Role: role}

	if s.isClosed() {
		return nil, &link.Error{Code: link.ErrInvalidState, Link: a.Name, Message: "session is closed"}
	}
	rec, err := s.take(ctx, key)
	if err != nil {
		return nil, err
	}

	opts := link.Options{
		Name:               a.Name,
		Handle:             a.Handle,
		Role:               role,
		SenderSettleMode:   a.SenderSettleMode,
		ReceiverSettleMode: a.ReceiverSettleMode,
		Sink:               s.opts.Sink,
		Metrics:            s.opts.Metrics,
		Now:                s.opts.Now,
	}
	if role == types.RoleReceiver {
		opts.InitialDeliveryCount = a.InitialDeliveryCount
		opts.CreditWindow = s.opts.Link.CreditWindow
	}
	if rec != nil {
		opts.ID = rec.LinkID
		opts.NextDeliveryID = rec.NextDeliveryID
		if role == types.RoleSender {
			opts.InitialDeliveryCount = rec.DeliveryCount
		}
	}
	if opts.ID == "" {
		opts.ID = s.opts.IDs.ForName(a.Name, s.opts.VirtualHost).String()
	}
	e := link.NewEndpoint(opts)

	if err := s.register(e, key); err != nil {
		s.restore(ctx, rec)
		return nil, err
	}
	if err := e.Attach(); err != nil {
		s.unregister(e, key)
		s.restore(ctx, rec)
		return nil, err
	}

	res := &AttachResult{
		Endpoint: e,
		Reply: &types.Attach{
			Name:                 a.Name,
			Handle:               a.Handle,
			Role:                 role,
			SenderSettleMode:     a.SenderSettleMode,
			ReceiverSettleMode:   a.ReceiverSettleMode,
			InitialDeliveryCount: e.DeliveryCount(),
		},
	}

	if rec != nil {
		res.Reply.Unsettled = rec.Unsettled()
		res.Plan, res.Summary, err = s.recover(ctx, e, rec, link.RemoteFromAttach(a))
		if err != nil {
			_, _ = e.Detach(link.DetachOptions{Closed: true})
			s.unregister(e, key)
			s.restore(ctx, rec)
			return nil, err
		}
	}

	if role == types.RoleReceiver && s.opts.Link.InitialCredit > 0 {
		if _, err := e.GrantCredit(s.opts.Link.InitialCredit, false); err != nil {
			return res, err
		}
	}

	logger.InfoCtx(ctx, "link attached",
		logger.KeyLink, a.Name,
		logger.KeyLinkID, e.ID(),
		logger.KeyHandle, a.Handle,
		logger.KeyRole, role.String(),
		logger.KeyPrincipal, s.principal(ctx),
		"recovered", rec != nil)
	return res, nil
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) register(e *link.Endpoint, key linkstate.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &link.Error{Code: link.ErrInvalidState, Link: e.Name(), Message: "session is closed"}
	}
	if _, busy := s.byHandle[e.Handle()]; busy {
		return &link.Error{Code: link.ErrProtocolViolation, Link: e.Name(),
			Message: fmt.Sprintf("handle %d already in use", e.Handle())}
	}
	if _, busy := s.byName[key]; busy {
		return &link.Error{Code: link.ErrInvalidState, Link: e.Name(),
			Message: fmt.Sprintf("%s link already attached", key.Role)}
	}
	s.byHandle[e.Handle()] = e
	s.byName[key] = e
	return nil
}

func (s *Session) unregister(e *link.Endpoint, key linkstate.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byHandle[e.Handle()] == e {
		delete(s.byHandle, e.Handle())
	}
	if s.byName[key] == e {
		delete(s.byName, key)
	}
}

func (s *Session) recover(ctx context.Context, e *link.Endpoint, rec *linkstate.Record, remote link.RemoteUnsettled) (*link.Plan, *link.Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRecover,
		trace.WithAttributes(telemetry.LinkName(e.Name()), telemetry.LinkRole(e.Role().String())))
	defer span.End()

	plan := s.recovery.Reconcile(rec, remote)
	sum, err := s.recovery.Apply(ctx, plan, e)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrResumed, len(sum.Resumed)),
		attribute.Int(telemetry.AttrAppliedCount, len(sum.Settled)),
		attribute.Int(telemetry.AttrRedelivered, sum.Redeliveries),
		attribute.Int(telemetry.AttrDiscarded, sum.Discarded),
	)
	for _, d := range plan.Decisions {
		logger.DebugCtx(ctx, "recovery decision",
			logger.KeyLink, e.Name(),
			logger.KeyDeliveryID, d.Delivery.DeliveryID,
			logger.KeyDeliveryTag, d.Delivery.DeliveryTag.String(),
			logger.KeyAction, d.Action.String())
	}
	return plan, sum, nil
}

// Detach handles the peer's detach. A closing detach drops any retained
// state; otherwise the endpoint's unsettled state is written to the
// recovery store for the next attach. If that write fails the error is
// returned together with the result, and retrying res.Record is up to the
// caller.
func (s *Session) Detach(ctx context.Context, d *types.Detach) (*link.DetachResult, error) {
	e, err := s.lookup(d.Handle)
	if err != nil {
		return nil, err
	}
	return s.detach(ctx, e, link.DetachOptions{Closed: d.Closed, Error: d.Error})
}

func (s *Session) detach(ctx context.Context, e *link.Endpoint, opts link.DetachOptions) (*link.DetachResult, error) {
	key := linkstate.Key{Name: e.Name(), Role: e.Role()}
	res, err := e.Detach(opts)
	s.unregister(e, key)
	if err != nil {
		return nil, err
	}

	principal := s.principal(ctx)
	if res.Record != nil {
		res.Record.Principal = principal
		if err := s.put(ctx, res.Record); err != nil {
			// The endpoint is gone, so res.Record is the only copy left.
			logger.ErrorCtx(ctx, "failed to retain link state",
				logger.KeyLink, res.Record.LinkName,
				logger.KeyRole, res.Record.Role.String(),
				logger.KeyDeliveryCount, res.Record.DeliveryCount,
				logger.KeyUnsettled, res.Record.Tags(),
				logger.KeyError, err)
			return res, fmt.Errorf("retain link state for %s: %w", key, err)
		}
	} else if err := s.delete(ctx, key); err != nil {
		return res, fmt.Errorf("drop link state for %s: %w", key, err)
	}

	args := []any{
		logger.KeyLink, e.Name(),
		logger.KeyRole, e.Role().String(),
		logger.KeyClosed, opts.Closed,
		logger.KeyPrincipal, principal,
	}
	if res.Record != nil {
		args = append(args, logger.KeyUnsettled, len(res.Record.Deliveries))
	} else {
		args = append(args, "abandoned", len(res.Abandoned))
	}
	if opts.Error != nil {
		args = append(args, logger.KeyCondition, opts.Error.Condition)
	}
	logger.InfoCtx(ctx, "link detached", args...)
	return res, nil
}

// ============================================================================
// Transfers, dispositions, flow
// ============================================================================

// Transfer records an incoming transfer on the receiving endpoint.
func (s *Session) Transfer(ctx context.Context, t *types.Transfer) (*link.UnsettledTransfer, error) {
	e, err := s.lookup(t.Handle)
	if err != nil {
		return nil, err
	}
	return e.Receive(t)
}

// Disposition applies the peer's disposition to the endpoint on its handle.
func (s *Session) Disposition(ctx context.Context, d *types.Disposition) (*link.Result, error) {
	e, err := s.lookup(d.Handle)
	if err != nil {
		return nil, err
	}
	return s.coord.ApplyDisposition(ctx, e, d)
}

// Flow applies the peer's flow.
func (s *Session) Flow(ctx context.Context, f *types.Flow) (*link.FlowResult, error) {
	e, err := s.lookup(f.Handle)
	if err != nil {
		return nil, err
	}
	return e.OnFlow(*f)
}

// Send transmits an application message on the sending endpoint attached
// on handle.
func (s *Session) Send(ctx context.Context, h types.Handle, t *types.Transfer) (*link.UnsettledTransfer, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanSend, trace.WithAttributes(telemetry.Handle(uint32(h))))
	defer span.End()

	e, err := s.lookup(h)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	u, err := e.Send(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(telemetry.DeliveryID(uint32(u.DeliveryID())), telemetry.Settled(u.Settled()))
	return u, nil
}

// SweepStale settles, as released, every unsettled delivery older than
// age on every attached link, and returns how many were settled.
func (s *Session) SweepStale(ctx context.Context, age time.Duration) int {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSweepStale)
	defer span.End()

	cutoff := s.opts.Now().Add(-age)
	total := 0
	for _, e := range s.Endpoints() {
		expired := e.Expire(cutoff, types.Released)
		if len(expired) == 0 {
			continue
		}
		total += len(expired)
		logger.InfoCtx(ctx, "stale deliveries released",
			logger.KeyLink, e.Name(),
			logger.KeyRole, e.Role().String(),
			"count", len(expired))
	}
	span.SetAttributes(attribute.Int("link.sweep.released", total))
	return total
}

// Close suspends every attached link, retaining its state as a
// non-closing detach would, and refuses further attaches.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, e := range s.Endpoints() {
		if _, err := s.detach(ctx, e, link.DetachOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close session: %d links failed to detach: %w", len(errs), errs[0])
	}
	return nil
}

// ============================================================================
// Recovery store access
// ============================================================================

func (s *Session) take(ctx context.Context, key linkstate.Key) (*linkstate.Record, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreGet, trace.WithAttributes(telemetry.LinkName(key.Name)))
	defer span.End()

	rec, err := linkstate.Take(ctx, s.opts.Store, key)
	if linkstate.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("load link state for %s: %w", key, err)
	}
	return rec, nil
}

// restore puts back a record taken for an attach that failed.
func (s *Session) restore(ctx context.Context, rec *linkstate.Record) {
	if rec == nil {
		return
	}
	if err := s.put(ctx, rec); err != nil {
		logger.ErrorCtx(ctx, "failed to restore link state", logger.KeyLink, rec.LinkName, logger.KeyError, err)
	}
}

func (s *Session) put(ctx context.Context, rec *linkstate.Record) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStorePut, trace.WithAttributes(telemetry.LinkName(rec.LinkName)))
	defer span.End()

	if err := s.opts.Store.Put(ctx, rec); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

func (s *Session) delete(ctx context.Context, key linkstate.Key) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreDelete, trace.WithAttributes(telemetry.LinkName(key.Name)))
	defer span.End()

	if err := s.opts.Store.Delete(ctx, key); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}
