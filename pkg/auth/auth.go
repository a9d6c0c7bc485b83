package auth

import "context"

// DefaultPlaceholder is recorded when no principal can be resolved.
const DefaultPlaceholder = "<<unknown>>"

// PrincipalResolver names the principal acting in ctx.
//
// Resolve returns "" when it cannot tell. Thread safety: implementations
// must be safe for concurrent use.
type PrincipalResolver interface {
	Resolve(ctx context.Context) string
}

// ResolverFunc adapts a function to PrincipalResolver.
type ResolverFunc func(ctx context.Context) string

func (f ResolverFunc) Resolve(ctx context.Context) string { return f(ctx) }

// FromContext resolves the identity attached with WithIdentity.
var FromContext = ResolverFunc(func(ctx context.Context) string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return id.Name()
})

// Chain tries resolvers in order and falls back to a placeholder.
//
// Thread safety: safe for concurrent use (read-only after construction).
type Chain struct {
	resolvers   []PrincipalResolver
	placeholder string
}

// NewChain creates a chain. An empty placeholder uses DefaultPlaceholder.
// With no resolvers the chain uses FromContext.
func NewChain(placeholder string, resolvers ...PrincipalResolver) *Chain {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if len(resolvers) == 0 {
		resolvers = []PrincipalResolver{FromContext}
	}
	return &Chain{resolvers: resolvers, placeholder: placeholder}
}

// Resolve returns the first non-empty principal, or the placeholder.
func (c *Chain) Resolve(ctx context.Context) string {
	for _, r := range c.resolvers {
		if p := r.Resolve(ctx); p != "" {
			return p
		}
	}
	return c.placeholder
}

// Placeholder returns the fallback principal.
func (c *Chain) Placeholder() string {
	return c.placeholder
}
