package session

import (
	"time"

	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/pkg/auth"
	"github.com/marmos91/dittomq/pkg/identity"
	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/linkstate/memory"
)

// LinkDefaults are applied to every endpoint the session creates.
type LinkDefaults struct {
	// InitialCredit is granted by receiving endpoints right after attach.
	InitialCredit uint32

	// CreditWindow is the credit receiving endpoints keep outstanding.
	CreditWindow uint32
}

// Options configures a Session.
type Options struct {
	// ConnectionID identifies the owning connection in logs and spans.
	ConnectionID string

	// SessionID identifies the session within the connection.
	SessionID string

	// VirtualHost is mixed into deterministic link ids.
	VirtualHost string

	// Store retains link state across detach. Defaults to an in-memory store.
	Store linkstate.RecoveryStore

	// IDs issues link ids. Defaults to the stock reserved names.
	IDs *identity.Generator

	// Principals names the acting principal in audit logs.
	Principals auth.PrincipalResolver

	Link    LinkDefaults
	Sink    link.EventSink
	Metrics *link.Metrics

	// Now overrides the clock.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Store == nil {
		o.Store = memory.New()
	}
	if o.IDs == nil {
		o.IDs = identity.NewGenerator(identity.DefaultConfig())
	}
	if o.Principals == nil {
		o.Principals = auth.NewChain("")
	}
	if o.Sink == nil {
		o.Sink = link.Discard
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
