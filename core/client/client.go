// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice for unit tests. With NewWithURL it talks to a remote backend
over HTTP instead.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/restful/core/access"
)

// Response is the envelope of every API response
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body"`
}

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	principal  *access.Principal
	ctx        context.Context
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithPrincipal() adds a principal to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithToken returns a new client sending the bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminPrincipal returns a new client with an admin principal
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAdminPrincipal() Client {
	return c.WithPrincipal(&access.Principal{ID: 1, Login: "admin", Roles: []string{access.RoleAdmin}})
}

// WithPrincipal returns a new client with a specific principal
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithPrincipal(principal *access.Principal) Client {
	c.principal = principal
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.principal != nil {
		ctx = access.ContextWithPrincipal(ctx, c.principal)
	}
	return ctx
}

// Do sends a request and decodes the response envelope. body can be nil, a
// []byte or anything that marshals to JSON. If the response is successful and
// result is not nil, the envelope body is unmarshalled into result; result
// can also be a raw *[]byte.
//
// It returns an error for all status codes other than http.StatusOK.
func (c Client) Do(method, path string, body interface{}, result interface{}) (Response, error) {
	var reader io.Reader
	if body != nil {
		data, ok := body.([]byte)
		if !ok {
			var err error
			if data, err = json.Marshal(body); err != nil {
				return Response{}, err
			}
		}
		reader = bytes.NewReader(data)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return Response{}, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	var status int
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		status = rec.Code
		resBody = rec.Body.Bytes()
	} else {
		res, err := c.httpClient.Do(r)
		if err != nil {
			return Response{}, err
		}
		defer res.Body.Close()
		status = res.StatusCode
		if resBody, err = io.ReadAll(res.Body); err != nil {
			return Response{}, err
		}
	}

	response := Response{Code: status}
	if len(resBody) > 0 {
		if err := json.Unmarshal(resBody, &response); err != nil {
			return response, fmt.Errorf("handler returned invalid envelope with status %d: %s", status, strings.TrimSpace(string(resBody)))
		}
	}
	if status != http.StatusOK {
		return response, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, response.Message)
	}
	if result != nil && len(response.Body) > 0 {
		if raw, ok := result.(*[]byte); ok {
			*raw = response.Body
			return response, nil
		}
		err = json.Unmarshal(response.Body, result)
	}
	return response, err
}

// RawGet gets path without envelope decoding. It returns the status code, the
// response headers and the body.
func (c Client) RawGet(path string) (int, http.Header, []byte, error) {
	r, err := http.NewRequestWithContext(c.Context(), http.MethodGet, c.url+path, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Header(), rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return 0, nil, nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, data, err
}

// Login authenticates and returns a new client using the issued token
func (c Client) Login(username, password string) (Client, error) {
	var result struct {
		UserID int64  `json:"user_id"`
		Token  string `json:"token"`
	}
	_, err := c.Do(http.MethodPost, "/api/v1/login", map[string]string{"username": username, "password": password}, &result)
	if err != nil {
		return c, err
	}
	return c.WithToken(result.Token), nil
}

// ChangePassword changes the password of the authenticated principal
func (c Client) ChangePassword(oldPassword, newPassword string) (Response, error) {
	return c.Do(http.MethodPost, "/api/v1/change_password",
		map[string]string{"old_password": oldPassword, "new_password": newPassword}, nil)
}

// Kind returns a client for the entities of one kind
func (c Client) Kind(kind string) Kind {
	return Kind{client: c, kind: kind}
}

// Kind is a client for the entities of one kind
type Kind struct {
	client Client
	kind   string
}

func (k Kind) path(elements ...string) string {
	return "/api/v1/" + url.PathEscape(k.kind) + "/" + strings.Join(elements, "/")
}

func withFields(body map[string]interface{}, names []string) map[string]interface{} {
	if len(names) == 0 {
		return body
	}
	copied := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		copied[k] = v
	}
	copied["list_of_fields"] = names
	return copied
}

// Create creates a new entity and returns its projection restricted to names
func (k Kind) Create(body map[string]interface{}, result interface{}, names ...string) (Response, error) {
	return k.client.Do(http.MethodPost, k.path("create"), withFields(body, names), result)
}

// Update updates the entity identified by body["id"]
func (k Kind) Update(body map[string]interface{}, result interface{}, names ...string) (Response, error) {
	return k.client.Do(http.MethodPut, k.path("update"), withFields(body, names), result)
}

// Delete deletes one entity
func (k Kind) Delete(id int64) (Response, error) {
	return k.client.Do(http.MethodDelete, k.path("delete", strconv.FormatInt(id, 10)), nil, nil)
}

// Query is a search request
type Query struct {
	Domain interface{} `json:"domain,omitempty"`
	Limit  *int        `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
	Fields []string    `json:"list_of_fields,omitempty"`
}

// All searches all entities matching the query
func (k Kind) All(q Query, result interface{}) (Response, error) {
	return k.client.Do(http.MethodGet, k.path("search", "all"), q, result)
}

// One reads one entity
func (k Kind) One(id int64, result interface{}, names ...string) (Response, error) {
	return k.client.Do(http.MethodGet, k.path("search", "one", strconv.FormatInt(id, 10)),
		withFields(map[string]interface{}{}, names), result)
}

// Filter searches entities with keyword. Without keyword, it searches the domain.
func (k Kind) Filter(keyword string, domain interface{}, result interface{}, names ...string) (Response, error) {
	path := k.path("filter")
	if keyword != "" {
		path += "?query=" + url.QueryEscape(keyword)
	}
	body := map[string]interface{}{}
	if domain != nil {
		body["domain"] = domain
	}
	return k.client.Do(http.MethodGet, path, withFields(body, names), result)
}

// Action invokes a registered action on one entity
func (k Kind) Action(id int64, name string, result interface{}) (Response, error) {
	return k.client.Do(http.MethodPost, k.path("action", strconv.FormatInt(id, 10)),
		map[string]string{"action_name": name}, result)
}
