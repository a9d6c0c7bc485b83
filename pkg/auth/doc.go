// Package auth carries the identity of the party acting on a connection so
// audit logs can name it.
//
// Authentication itself happens before attach (SASL) and is out of scope
// here. This package provides:
//
//   - Identity: protocol-neutral authenticated identity
//   - WithIdentity / IdentityFromContext: request-scoped propagation
//   - PrincipalResolver: resolves the acting principal for a request,
//     falling back to a configured placeholder
package auth
