package auth

import "context"

// Identity represents an authenticated identity in a protocol-neutral form.
type Identity struct {
	// Username is the broker user name, if resolved.
	Username string

	// Principal is the authenticated principal, e.g. the SASL
	// authorization id. Takes precedence over Username for audit.
	Principal string

	// Mechanism is the SASL mechanism that authenticated the connection
	// ("PLAIN", "ANONYMOUS", "EXTERNAL", ...).
	Mechanism string

	// ConnectionID identifies the AMQP connection the identity belongs to.
	ConnectionID string

	// Anonymous indicates an unauthenticated or guest identity.
	Anonymous bool

	// Attributes holds extensible mechanism-specific metadata.
	Attributes map[string]string
}

// Name returns the name to record for the identity: the principal if set,
// otherwise the username. Anonymous identities without either return "".
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	if i.Principal != "" {
		return i.Principal
	}
	return i.Username
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
