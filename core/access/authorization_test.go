package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
)

func TestIsAuthorized(t *testing.T) {
	permits := []fields.Permit{
		{Role: "user", Operations: []core.Operation{core.OperationRead, core.OperationList}},
		{Role: "everybody", Operations: []core.Operation{core.OperationAction}},
	}

	var nobody *Principal
	assert.False(t, nobody.IsAuthorized(permits, core.OperationRead))

	admin := &Principal{ID: 1, Login: "admin", Roles: []string{RoleAdmin}}
	assert.True(t, admin.IsAuthorized(permits, core.OperationDelete))

	user := &Principal{ID: 2, Login: "jane", Roles: []string{"user"}}
	assert.True(t, user.IsAuthorized(permits, core.OperationRead))
	assert.True(t, user.IsAuthorized(permits, core.OperationAction))
	assert.False(t, user.IsAuthorized(permits, core.OperationCreate))
	assert.True(t, user.IsAuthorized(nil, core.OperationCreate), "kinds without permits are open")

	guest := &Principal{ID: 3, Login: "guest"}
	assert.False(t, guest.IsAuthorized(permits, core.OperationRead))
	assert.True(t, guest.IsAuthorized(permits, core.OperationAction))
}

func TestMemoryAccounts(t *testing.T) {
	ctx := context.Background()
	accounts, err := NewMemoryAccounts(FunctionAccount{Login: "jane", Password: "secret", Roles: []string{"user"}})
	require.NoError(t, err)

	_, err = accounts.Add(FunctionAccount{Login: "jane", Password: "other"})
	assert.Equal(t, core.KindConstraint, core.KindOf(err))

	p, err := accounts.Authenticate(ctx, "jane", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jane", p.Login)
	assert.True(t, p.HasRole("user"))

	_, err = accounts.Authenticate(ctx, "jane", "wrong")
	assert.True(t, IsAuthenticationError(err))
	_, err = accounts.Authenticate(ctx, "john", "secret")
	assert.True(t, IsAuthenticationError(err))

	assert.Equal(t, core.KindInput, core.KindOf(accounts.ChangePassword(ctx, p.ID, "secret", "secret")))
	assert.Equal(t, core.KindInput, core.KindOf(accounts.ChangePassword(ctx, p.ID, "", "new")))
	assert.True(t, IsAuthenticationError(accounts.ChangePassword(ctx, p.ID, "wrong", "new")))
	require.NoError(t, accounts.ChangePassword(ctx, p.ID, "secret", "new"))
	_, err = accounts.Authenticate(ctx, "jane", "new")
	assert.NoError(t, err)

	_, err = accounts.Principal(ctx, 42)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

type verifierFunc func(ctx context.Context, credential string) (int64, error)

func (f verifierFunc) Verify(ctx context.Context, credential string) (int64, error) {
	return f(ctx, credential)
}

func TestBearerMiddleware(t *testing.T) {
	accounts, err := NewMemoryAccounts(FunctionAccount{Login: "jane", Password: "secret"})
	require.NoError(t, err)
	verifier := verifierFunc(func(ctx context.Context, credential string) (int64, error) {
		if credential == "good" {
			return 1, nil
		}
		if credential == "orphan" {
			return 99, nil
		}
		return 0, core.ErrAuthentication
	})
	var gotKind core.ErrorKind
	writeError := func(w http.ResponseWriter, r *http.Request, err error) {
		gotKind = core.KindOf(err)
		w.WriteHeader(http.StatusTeapot)
	}

	router := mux.NewRouter()
	router.Use(NewBearerMiddleware(verifier, accounts, writeError))
	router.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(PrincipalFromContext(r.Context()).Login))
	})

	for header, want := range map[string]core.ErrorKind{
		"":              core.KindInput,
		"Token good":    core.KindInput,
		"Bearer ":       core.KindInput,
		"Bearer bad":    core.KindAuthentication,
		"Bearer orphan": core.KindAuthentication,
	} {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusTeapot, rec.Code, header)
		assert.Equal(t, want, gotKind, header)
	}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jane", rec.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	r = r.WithContext(ContextWithPrincipal(r.Context(), &Principal{Login: "injected"}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, "injected", rec.Body.String())
}
