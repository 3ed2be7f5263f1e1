package access

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/logger"
)

// TokenVerifier resolves a bearer credential to the id of its principal
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (int64, error)
}

// ErrorWriter writes an error as API response
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// BearerToken extracts the credential from an "Authorization: Bearer <token>"
// header. A missing header or a malformed prefix is an input error.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") || len(header) == len("Bearer ") {
		return "", core.InputError("Missing or Invalid Authorization Header")
	}
	return header[len("Bearer "):], nil
}

// NewBearerMiddleware returns a middleware which requires a valid bearer token.
//
// Requests that already carry a principal in their context pass through; this is
// how the in-process client injects principals in tests.
func NewBearerMiddleware(verifier TokenVerifier, accounts Accounts, writeError ErrorWriter) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())

			credential, err := BearerToken(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			id, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				rlog.WithError(err).Debugln("bearer token rejected")
				writeError(w, r, err)
				return
			}
			principal, err := accounts.Principal(r.Context(), id)
			if err != nil {
				rlog.WithError(err).Warnln("token of unknown principal", id)
				writeError(w, r, core.ErrAuthentication)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, principal.Login)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
