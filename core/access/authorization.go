/*Package access provides principals, password accounts and access control

A Principal is the authenticated caller of a request. It carries a list of roles
which are checked against the permits of an entity kind.

Principals are added to a request context with

	ctx = access.ContextWithPrincipal(ctx, principal)

and retrieved with

	principal := access.PrincipalFromContext(ctx)

The bearer middleware of this package adds the principal for requests with a valid
"Authorization: Bearer <token>" header.
*/
package access

import (
	"context"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyPrincipal contextKey = "_principal_"
)

// RoleAdmin is always authorized
const RoleAdmin = "admin"

// Principal is an authenticated caller
type Principal struct {
	ID    int64    `json:"id"`
	Login string   `json:"login"`
	Roles []string `json:"roles"`
}

// HasRole returns true if the principal has the requested role;
// otherwise it returns false.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, hasRole := range p.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// IsAuthorized returns true if the principal may perform operation on a kind
// with the given permits.
//
// The "admin" role is always authorized. A kind without permits is open to every
// authenticated principal. A permit for the role "everybody" applies to all
// authenticated principals.
func (p *Principal) IsAuthorized(permits []fields.Permit, operation core.Operation) bool {
	if p == nil {
		return false
	}
	if p.HasRole(RoleAdmin) || len(permits) == 0 {
		return true
	}
	for _, permit := range permits {
		if permit.Role != "everybody" && !p.HasRole(permit.Role) {
			continue
		}
		for _, op := range permit.Operations {
			if op == operation {
				return true
			}
		}
	}
	return false
}

// ContextWithPrincipal returns a new context with the principal added to it
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFromContext retrieves the principal from the context
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(contextKeyPrincipal).(*Principal)
	if ok {
		return p
	}
	return nil
}
