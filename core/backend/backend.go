package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/crud"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/request"
	"github.com/relabs-tech/restful/core/schema"
	"github.com/relabs-tech/restful/core/store"
	"github.com/relabs-tech/restful/core/tokens"
)

// Backend is the generic rest backend
type Backend struct {
	fields    *fields.Registry
	store     store.Store
	accounts  access.Accounts
	tokens    *tokens.Manager
	validator *schema.Validator
	router    *mux.Router
	crud      *crud.Orchestrator
	baseURL   string
	debug     bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Fields is the field type registry of all kinds. This is mandatory.
	Fields *fields.Registry
	// Store keeps the entities. This is mandatory.
	Store store.Store
	// Accounts authenticates logins. This is mandatory.
	Accounts access.Accounts
	// Tokens issues and verifies bearer tokens. This is mandatory.
	Tokens *tokens.Manager
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every successful write. This is optional.
	Notifier core.Notifier
	// Validator validates payloads of kinds with a schema id. This is optional.
	Validator *schema.Validator
	// BaseURL prefixes attachment download links. If empty, it is derived from the request.
	BaseURL string
	// Debug adds tracebacks to internal server errors
	Debug bool
}

// New realizes the actual backend and adds its routes to the router
func New(bb *Builder) *Backend {
	if bb.Fields == nil {
		panic("Fields is missing")
	}
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Accounts == nil {
		panic("Accounts is missing")
	}
	if bb.Tokens == nil {
		panic("Tokens is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	b := &Backend{
		fields:    bb.Fields,
		store:     bb.Store,
		accounts:  bb.Accounts,
		tokens:    bb.Tokens,
		validator: bb.Validator,
		router:    bb.Router,
		crud:      crud.New(bb.Notifier, crud.NewActions()),
		baseURL:   bb.BaseURL,
		debug:     bb.Debug,
	}

	logger.AddRequestID(b.router)
	logger.LogRequests(b.router)
	b.handleCORS()
	b.handleCompression()
	b.handleRoutes()
	return b
}

// Router returns the mux router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// HandleAction registers the action name for kind. Only registered actions can be invoked.
func (b *Backend) HandleAction(kind, name string, handler crud.ActionHandler) {
	if _, ok := b.fields.Kind(kind); !ok {
		logger.Default().Fatalf("handle action %s for %s: no such kind", name, kind)
	}
	logger.Default().Debugf("install action %s for %s", name, kind)
	b.crud.Actions().Register(kind, name, handler)
}

func (b *Backend) handleRoutes() {
	logger.Default().Debugln("backend: handle routes")
	b.handleVersion(b.router)

	b.router.HandleFunc("/api/v1/login", b.login).Methods(http.MethodOptions, http.MethodPost)

	bearer := access.NewBearerMiddleware(b.tokens, b.accounts, b.writeError)
	api := b.router.PathPrefix("/api/v1").Subrouter()
	api.Use(bearer)
	api.HandleFunc("/change_password", b.changePassword).Methods(http.MethodOptions, http.MethodPost)
	api.HandleFunc("/{kind}/create", b.create).Methods(http.MethodOptions, http.MethodPost)
	api.HandleFunc("/{kind}/update", b.update).Methods(http.MethodOptions, http.MethodPut)
	api.HandleFunc("/{kind}/delete/{id:[0-9]+}", b.delete).Methods(http.MethodOptions, http.MethodDelete)
	api.HandleFunc("/{kind}/search/all", b.searchAll).Methods(http.MethodOptions, http.MethodGet)
	api.HandleFunc("/{kind}/search/one/{id:[0-9]+}", b.searchOne).Methods(http.MethodOptions, http.MethodGet)
	api.HandleFunc("/{kind}/filter", b.filter).Methods(http.MethodOptions, http.MethodGet)
	api.HandleFunc("/{kind}/action/{id:[0-9]+}", b.action).Methods(http.MethodOptions, http.MethodPost)

	web := b.router.PathPrefix("/web").Subrouter()
	web.Use(bearer)
	web.HandleFunc("/content/{id:[0-9]+}", b.content).Methods(http.MethodOptions, http.MethodGet)

	for _, kind := range b.fields.Kinds() {
		logger.Default().Debugf("  serving kind %s under /api/v1/%s", kind, kind)
	}
}

// env returns the request environment for the principal of r
func (b *Backend) env(r *http.Request) *request.Env {
	env := request.New(b.store, b.fields, access.PrincipalFromContext(r.Context()))
	env.Validator = b.validator
	env.Debug = b.debug
	env.BaseURL = b.baseURL
	if env.BaseURL == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		env.BaseURL = scheme + "://" + r.Host
	}
	return env
}
