package session

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittomq/internal/logger"
	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/internal/telemetry"
	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// DispatchResult holds the outcome of one dispatched performative. Exactly
// one of the pointer fields is set on success.
type DispatchResult struct {
	Performative string

	Attach      *AttachResult
	Detach      *link.DetachResult
	Delivery    *link.UnsettledTransfer
	Disposition *link.Result
	Flow        *link.FlowResult
}

// Dispatch routes a performative received from the peer to the link it
// addresses. Performatives are handled one at a time in arrival order.
func (s *Session) Dispatch(ctx context.Context, p types.Performative) (*DispatchResult, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	name := p.Performative()
	ctx, span := telemetry.StartPerformativeSpan(ctx, name, telemetry.ConnectionID(s.opts.ConnectionID))
	defer span.End()
	ctx = s.withLogContext(ctx, name)

	start := time.Now()
	res := &DispatchResult{Performative: name}

	var err error
	switch v := p.(type) {
	case *types.Attach:
		span.SetAttributes(telemetry.LinkName(v.Name), telemetry.Handle(uint32(v.Handle)))
		res.Attach, err = s.Attach(ctx, v)
	case *types.Detach:
		span.SetAttributes(telemetry.Handle(uint32(v.Handle)))
		res.Detach, err = s.Detach(ctx, v)
	case *types.Transfer:
		span.SetAttributes(telemetry.Handle(uint32(v.Handle)), telemetry.DeliveryID(uint32(v.DeliveryID)))
		res.Delivery, err = s.Transfer(ctx, v)
	case *types.Disposition:
		first, last := v.Range()
		span.SetAttributes(telemetry.Range(uint32(first), uint32(last))...)
		span.SetAttributes(telemetry.Settled(v.Settled), telemetry.Outcome(v.State.String()))
		res.Disposition, err = s.Disposition(ctx, v)
	case *types.Flow:
		span.SetAttributes(telemetry.Handle(uint32(v.Handle)), telemetry.Credit(v.LinkCredit))
		res.Flow, err = s.Flow(ctx, v)
	default:
		err = &link.Error{Code: link.ErrProtocolViolation, Message: fmt.Sprintf("unexpected performative %s", name)}
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		telemetry.RecordError(ctx, err)
		args := []any{logger.KeyError, err, logger.KeyDurationMs, elapsed}
		if le, ok := link.AsError(err); ok {
			args = append(args, logger.KeyErrorCode, le.Code.String(), logger.KeyCondition, le.Condition().Condition)
		}
		if link.IsFatal(err) {
			logger.ErrorCtx(ctx, "performative failed", args...)
		} else {
			logger.WarnCtx(ctx, "performative rejected", args...)
		}
		return res, err
	}

	logger.DebugCtx(ctx, "performative handled", logger.KeyDurationMs, elapsed)
	return res, nil
}

// Run dispatches performatives from in until it is closed, ctx is done, or
// a performative fails with an error that ends the session. Errors scoped
// to a single link or delivery are logged and the loop carries on.
func (s *Session) Run(ctx context.Context, in <-chan types.Performative) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := s.Dispatch(ctx, p); err != nil && link.IsFatal(err) {
				return err
			}
		}
	}
}
