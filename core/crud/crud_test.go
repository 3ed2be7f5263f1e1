package crud

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/project"
	"github.com/relabs-tech/restful/core/request"
	"github.com/relabs-tech/restful/core/schema"
	"github.com/relabs-tech/restful/core/store"
)

const configuration = `{
  "kinds": [
    {
      "kind": "partner",
      "filter_fields": ["name", "email"],
      "fields": [
        {"name": "name", "type": "char", "required": true},
        {"name": "email", "type": "char"},
        {"name": "state", "type": "selection", "selection": ["draft", "done"]},
        {"name": "tag_ids", "type": "relation_to_many_shared", "kind": "tag"}
      ]
    },
    {
      "kind": "tag",
      "schema_id": "https://example.com/tag.json",
      "permits": [{"role": "user", "operations": ["read", "list"]}],
      "fields": [{"name": "name", "type": "char"}]
    },
    {
      "kind": "order",
      "fields": [
        {"name": "name", "type": "char"},
        {"name": "line_ids", "type": "relation_to_many_owned", "kind": "line", "inverse": "order_id"}
      ]
    },
    {
      "kind": "line",
      "fields": [
        {"name": "name", "type": "char", "required": true},
        {"name": "order_id", "type": "relation_to_one", "kind": "order", "required": true}
      ]
    }
  ]
}`

const tagSchema = `{
  "$id": "https://example.com/tag.json",
  "type": "object",
  "properties": {"name": {"type": "string", "minLength": 2}}
}`

type notification struct {
	kind      string
	operation core.Operation
	id        int64
	payload   string
}

type recorder struct {
	mutex         sync.Mutex
	notifications []notification
	fail          bool
}

func (r *recorder) Notify(ctx context.Context, kind string, operation core.Operation, id int64, payload []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifications = append(r.notifications, notification{kind, operation, id, string(payload)})
	if r.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func newEnv(t *testing.T, principal *access.Principal) *request.Env {
	registry := fields.MustParseConfiguration(configuration)
	validator, err := schema.NewValidator([]string{tagSchema}, nil)
	require.NoError(t, err)
	env := request.New(store.NewMemory(registry), registry, principal)
	env.Validator = validator
	return env
}

var admin = &access.Principal{ID: 1, Login: "admin", Roles: []string{access.RoleAdmin}}

func marshal(t *testing.T, v interface{}) string {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	notifier := &recorder{}
	o := New(notifier, nil)

	result, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": "Acme"}, project.Options{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"name":"Acme"}`, marshal(t, result))

	require.Len(t, notifier.notifications, 1)
	n := notifier.notifications[0]
	assert.Equal(t, "partner", n.kind)
	assert.Equal(t, core.OperationCreate, n.operation)
	assert.Equal(t, int64(1), n.id)
	assert.Equal(t, `{"id":1,"name":"Acme"}`, n.payload)

	_, err = o.Create(ctx, env, "partner", map[string]interface{}{"email": "x@example.com"}, project.Options{})
	assert.Equal(t, core.KindConstraint, core.KindOf(err))

	_, err = o.Create(ctx, env, "partner", map[string]interface{}{"name": "Acme", "state": "open"}, project.Options{})
	assert.Equal(t, core.KindInput, core.KindOf(err))

	_, err = o.Create(ctx, env, "tag", map[string]interface{}{"name": "x"}, project.Options{})
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	notifier.fail = true
	_, err = o.Create(ctx, env, "tag", map[string]interface{}{"name": "vip"}, project.Options{})
	assert.NoError(t, err, "notification failures are logged only")
}

func TestCreateNestedFailure(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	notifier := &recorder{}
	o := New(notifier, nil)

	_, err := o.Create(ctx, env, "order", map[string]interface{}{
		"name": "o",
		"line_ids": []interface{}{
			map[string]interface{}{"name": "ok"},
			map[string]interface{}{"name": ""},
		},
	}, project.Options{})
	assert.Equal(t, core.KindConstraint, core.KindOf(err))
	assert.Empty(t, notifier.notifications)

	for _, kind := range []string{"order", "line"} {
		left, err := o.SearchAll(ctx, env, kind, Query{})
		require.NoError(t, err)
		assert.Empty(t, left, kind)
	}

	// the nested update fails the same way and keeps the order as it was
	_, err = o.Create(ctx, env, "order", map[string]interface{}{
		"name":     "o",
		"line_ids": []interface{}{map[string]interface{}{"name": "first"}},
	}, project.Options{})
	require.NoError(t, err)
	_, _, err = o.Update(ctx, env, "order", map[string]interface{}{
		"id":       float64(1),
		"name":     "changed",
		"line_ids": []interface{}{map[string]interface{}{"name": ""}},
	}, project.Options{})
	assert.Equal(t, core.KindConstraint, core.KindOf(err))
	require.Len(t, notifier.notifications, 1)

	order, err := env.Store.Read(ctx, "order", 1)
	require.NoError(t, err)
	assert.Equal(t, "o", order.Values["name"])
	assert.Equal(t, []int64{1}, order.Values["line_ids"])
	lines, err := env.Store.Search(ctx, "line", nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, lines)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	notifier := &recorder{}
	o := New(notifier, nil)

	_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": "Acme"}, project.Options{})
	require.NoError(t, err)

	result, ok, err := o.Update(ctx, env, "partner", map[string]interface{}{"id": float64(1), "email": "info@acme.com"},
		project.Options{Fields: []string{"id", "name", "email"}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":1,"name":"Acme","email":"info@acme.com"}`, marshal(t, result))

	_, ok, err = o.Update(ctx, env, "partner", map[string]interface{}{"email": "info@acme.com"}, project.Options{})
	assert.NoError(t, err)
	assert.False(t, ok, "missing id")

	_, ok, err = o.Update(ctx, env, "partner", map[string]interface{}{"id": float64(42), "email": "info@acme.com"}, project.Options{})
	assert.NoError(t, err)
	assert.False(t, ok, "unknown record")

	_, ok, err = o.Update(ctx, env, "partner", map[string]interface{}{"id": float64(1), "state": "open"}, project.Options{})
	assert.Equal(t, core.KindInput, core.KindOf(err))
	assert.False(t, ok)

	require.Len(t, notifier.notifications, 2)
	assert.Equal(t, core.OperationUpdate, notifier.notifications[1].operation)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	notifier := &recorder{}
	o := New(notifier, nil)

	_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": "Acme"}, project.Options{})
	require.NoError(t, err)

	result, err := o.Delete(ctx, env, "partner", 1)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, marshal(t, result))
	assert.Equal(t, `{"id":1}`, notifier.notifications[1].payload)
	assert.Equal(t, core.OperationDelete, notifier.notifications[1].operation)

	_, err = o.Delete(ctx, env, "partner", 1)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.Equal(t, "Record not found.", err.Error())

	_, err = o.Delete(ctx, env, "partner", 0)
	assert.Equal(t, core.KindInput, core.KindOf(err))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	o := New(nil, nil)

	for _, name := range []string{"Acme", "Acme Labs", "Globex"} {
		_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": name, "email": "info@" + name + ".com"}, project.Options{})
		require.NoError(t, err)
	}

	all, err := o.SearchAll(ctx, env, "partner", Query{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, `{"id":1,"name":"Acme"}`, marshal(t, all[0]))

	some, err := o.SearchAll(ctx, env, "partner", Query{Limit: 1, Offset: 1, Fields: []string{"id", "name"}})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, `{"id":2,"name":"Acme Labs"}`, marshal(t, some[0]))

	domain, err := store.ParseDomain(`[["name", "=", "Globex"]]`)
	require.NoError(t, err)
	found, err := o.SearchAll(ctx, env, "partner", Query{Domain: domain, Fields: []string{"id", "name"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, `{"id":3,"name":"Globex"}`, marshal(t, found[0]))

	one, err := o.SearchOne(ctx, env, "partner", 2, project.Options{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Equal(t, `{"id":2,"name":"Acme Labs"}`, marshal(t, one))

	_, err = o.SearchOne(ctx, env, "partner", 7, project.Options{})
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	o := New(nil, nil)

	for _, name := range []string{"Acme", "Acme Labs", "Globex"} {
		_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": name}, project.Options{})
		require.NoError(t, err)
	}
	_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": "Initech", "email": "acme@initech.com"}, project.Options{})
	require.NoError(t, err)

	domain, err := store.ParseDomain(`[["name", "=", "Globex"]]`)
	require.NoError(t, err)

	matched, err := o.Filter(ctx, env, "partner", domain, "Acme", project.Options{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1,"name":"Acme"},{"id":2,"name":"Acme Labs"}]`, marshal(t, matched),
		"keyword ignores the domain and matches case-sensitively")

	matched, err = o.Filter(ctx, env, "partner", domain, "", project.Options{Fields: []string{"id", "name"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":3,"name":"Globex"}]`, marshal(t, matched))

	_, err = o.Filter(ctx, env, "invoice", nil, "Acme", project.Options{})
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, admin)
	actions := NewActions().
		Register("partner", "action_confirm", func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error) {
			return nil, env.Store.Write(ctx, kind, id, store.Values{"state": "done"})
		}).
		Register("partner", "action_count", func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error) {
			return 3, nil
		}).
		Register("partner", "action_fail", func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error) {
			return nil, core.InputError("cannot confirm")
		})
	o := New(nil, actions)
	assert.Equal(t, []string{"action_confirm", "action_count", "action_fail"}, o.Actions().Names("partner"))

	_, err := o.Create(ctx, env, "partner", map[string]interface{}{"name": "Acme"}, project.Options{})
	require.NoError(t, err)

	result, err := o.RunAction(ctx, env, "partner", 1, "action_confirm")
	require.NoError(t, err)
	assert.Equal(t, `{"error":false,"record_id":1,"action":"action_confirm","message":"Action 'action_confirm' executed successfully"}`,
		marshal(t, result))
	entity, err := env.Store.Read(ctx, "partner", 1)
	require.NoError(t, err)
	assert.Equal(t, "done", entity.Get("state"))

	result, err = o.RunAction(ctx, env, "partner", 1, "action_count")
	require.NoError(t, err)
	v, _ := result.Get("action_result")
	assert.Equal(t, 3, v)

	_, err = o.RunAction(ctx, env, "partner", 1, "")
	assert.Equal(t, "Missing action_name", err.Error())
	_, err = o.RunAction(ctx, env, "partner", 1, "unlink")
	assert.Equal(t, "Invalid action", err.Error())
	_, err = o.RunAction(ctx, env, "invoice", 1, "action_confirm")
	assert.Equal(t, "Invalid model", err.Error())
	_, err = o.RunAction(ctx, env, "partner", 9, "action_confirm")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	_, err = o.RunAction(ctx, env, "partner", 1, "action_fail")
	assert.Equal(t, core.KindInput, core.KindOf(err))
}

func TestActionPermits(t *testing.T) {
	ctx := context.Background()
	adminEnv := newEnv(t, admin)
	_, err := adminEnv.Store.Create(ctx, "tag", store.Values{"name": "vip"})
	require.NoError(t, err)

	user := &access.Principal{ID: 2, Login: "jane", Roles: []string{"user"}}
	env := request.New(adminEnv.Store, adminEnv.Fields, user)
	actions := NewActions().Register("tag", "action_touch", func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error) {
		return "touched", nil
	})
	o := New(nil, actions)

	_, err = o.RunAction(ctx, env, "tag", 1, "action_touch")
	assert.True(t, errors.Is(err, core.ErrAuthorization))

	_, err = o.Create(ctx, env, "tag", map[string]interface{}{"name": "gold"}, project.Options{})
	assert.True(t, errors.Is(err, core.ErrAuthorization))
}

func TestTruthy(t *testing.T) {
	for _, v := range []interface{}{nil, false, 0, 0.0, "", []interface{}{}, map[string]interface{}{}} {
		assert.False(t, truthy(v), "%v", v)
	}
	for _, v := range []interface{}{true, 1, -2.5, "ok", []int{1}, map[string]int{"a": 1}, struct{}{}} {
		assert.True(t, truthy(v), "%v", v)
	}
}
