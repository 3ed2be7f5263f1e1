package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestContextWithLogger(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))

	ctx, rlog := ContextWithLogger(context.Background())
	id := RequestIDFromContext(ctx)
	assert.NotEmpty(t, id)

	again, same := ContextWithLogger(ctx)
	assert.Equal(t, rlog, same)
	assert.Equal(t, id, RequestIDFromContext(again))

	ctx, rlog = ContextWithLoggerIdentity(ctx, "jane")
	ctx, rlog = ContextWithLoggerKind(ctx, "partner")
	assert.Equal(t, "jane", rlog.Data[identityLoggerKey])
	assert.Equal(t, "partner", rlog.Data[kindLoggerKey])
	assert.Equal(t, id, RequestIDFromContext(ctx))
	assert.Equal(t, rlog, FromContext(ctx))
}

func TestLogRequests(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	LogRequests(router)
	var seen string
	router.HandleFunc("/teapot", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
