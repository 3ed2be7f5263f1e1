// Package request provides the explicit environment a request is served in.
package request

import (
	"context"
	"strconv"
	"strings"

	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/schema"
	"github.com/relabs-tech/restful/core/store"
)

// Env is the environment translation, projection and the CRUD operations run
// in. It is created per request and never shared between requests.
type Env struct {
	// Store is the record store, usually guarded for the principal
	Store store.Store
	// Fields is the field type registry
	Fields *fields.Registry
	// Principal is the authenticated caller, nil before authentication
	Principal *access.Principal
	// Validator checks payloads of kinds with a schema id, optional
	Validator *schema.Validator
	// Debug adds tracebacks to internal errors
	Debug bool
	// BaseURL is the prefix of attachment download links
	BaseURL string
}

// New returns an environment for principal. The store is guarded for the principal.
func New(s store.Store, registry *fields.Registry, principal *access.Principal) *Env {
	return &Env{
		Store:     store.Guard(s, registry, principal),
		Fields:    registry,
		Principal: principal,
	}
}

// ContentURL returns the download link of an attachment
func (env *Env) ContentURL(id int64) string {
	return strings.TrimSuffix(env.BaseURL, "/") + "/web/content/" + strconv.FormatInt(id, 10)
}

type contextKey string

const contextKeyEnv contextKey = "_env_"

// ContextWithEnv returns a new context with the environment added to it
func ContextWithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, contextKeyEnv, env)
}

// FromContext retrieves the environment from the context, nil if there is none
func FromContext(ctx context.Context) *Env {
	env, _ := ctx.Value(contextKeyEnv).(*Env)
	return env
}
