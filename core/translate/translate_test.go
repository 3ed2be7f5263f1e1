package translate

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/request"
	"github.com/relabs-tech/restful/core/store"
)

const configuration = `{
  "kinds": [
    {
      "kind": "partner",
      "fields": [
        {"name": "name", "type": "char"},
        {"name": "due_date", "type": "date"},
        {"name": "meeting", "type": "datetime"},
        {"name": "payload", "type": "binary"},
        {"name": "meta", "type": "json"},
        {"name": "score", "type": "float"},
        {"name": "parent_id", "type": "relation_to_one", "kind": "partner"},
        {"name": "tag_ids", "type": "relation_to_many_shared", "kind": "tag"},
        {"name": "line_ids", "type": "relation_to_many_owned", "kind": "line", "inverse": "partner_id"},
        {"name": "attachment_ids", "type": "relation_to_many_shared", "kind": "attachment"}
      ]
    },
    {"kind": "tag", "fields": [{"name": "name", "type": "char"}]},
    {
      "kind": "line",
      "fields": [
        {"name": "name", "type": "char"},
        {"name": "partner_id", "type": "relation_to_one", "kind": "partner"},
        {"name": "attachment_ids", "type": "relation_to_many_owned", "kind": "attachment"}
      ]
    }
  ]
}`

func newEnv(t *testing.T) *request.Env {
	registry := fields.MustParseConfiguration(configuration)
	return request.New(store.NewMemory(registry), registry, &access.Principal{ID: 1, Roles: []string{access.RoleAdmin}})
}

func decode(t *testing.T, s string) map[string]interface{} {
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestTranslateScalars(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	values, err := Translate(ctx, env, "partner", decode(t, `{
		"id": 12,
		"name": "Acme",
		"unknown": "x",
		"due_date": "2024-12-31",
		"meeting": "2024-12-31 13:14:15",
		"payload": "aGVsbG8=",
		"meta": "{\"a\": [1, 2]}",
		"score": 1.5
	}`))
	require.NoError(t, err)
	assert.Equal(t, store.Values{
		"name":     "Acme",
		"due_date": time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		"meeting":  time.Date(2024, 12, 31, 13, 14, 15, 0, time.UTC),
		"payload":  "aGVsbG8=",
		"meta":     map[string]interface{}{"a": []interface{}{float64(1), float64(2)}},
		"score":    1.5,
	}, values)

	values, err = Translate(ctx, env, "partner", map[string]interface{}{"payload": []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", values["payload"])

	values, err = Translate(ctx, env, "partner", map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = Translate(ctx, env, "nope", map[string]interface{}{})
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestTranslateErrors(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	_, err := Translate(ctx, env, "partner", decode(t, `{"due_date": "31/12/2024"}`))
	require.Error(t, err)
	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, core.KindFormat, e.Kind)
	assert.Equal(t, "due_date", e.Field)
	assert.Equal(t, "31/12/2024", e.Value)
	assert.Contains(t, e.Error(), "due_date")
	assert.Contains(t, e.Error(), "31/12/2024")

	_, err = Translate(ctx, env, "partner", decode(t, `{"meeting": "2024-12-31T13:14:15Z"}`))
	assert.Equal(t, core.KindFormat, core.KindOf(err))

	_, err = Translate(ctx, env, "partner", decode(t, `{"meta": "{broken"}`))
	assert.Equal(t, core.KindFormat, core.KindOf(err))

	_, err = Translate(ctx, env, "partner", decode(t, `{"payload": 42}`))
	assert.Equal(t, core.KindType, core.KindOf(err))

	_, err = Translate(ctx, env, "partner", decode(t, `{"parent_id": 99}`))
	assert.Equal(t, core.KindReference, core.KindOf(err))
	assert.Equal(t, "Invalid ID 99 for field 'parent_id'", err.Error())

	_, err = Translate(ctx, env, "partner", decode(t, `{"parent_id": "one"}`))
	assert.Equal(t, core.KindType, core.KindOf(err))

	_, err = Translate(ctx, env, "partner", decode(t, `{"tag_ids": ["one"]}`))
	assert.Equal(t, core.KindInput, core.KindOf(err))

	_, err = Translate(ctx, env, "partner", decode(t, `{"tag_ids": "one"}`))
	assert.Equal(t, core.KindType, core.KindOf(err))
}

func TestTranslateRelations(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	parent, err := env.Store.Create(ctx, "partner", store.Values{"name": "Parent"})
	require.NoError(t, err)

	values, err := Translate(ctx, env, "partner", decode(t, `{
		"parent_id": 1,
		"tag_ids": [3, 3, {"id": 4}, {"id": 5, "name": "ignored"}, {"name": "new"}],
		"line_ids": [{"name": "first", "attachment_ids": "aGVsbG8="}, 7]
	}`))
	require.NoError(t, err)
	assert.Equal(t, parent, values["parent_id"])
	assert.Equal(t, []store.Command{
		store.Link(3), store.Link(3), store.Link(4), store.Link(5),
		store.CreateNested(store.Values{"name": "new"}),
	}, values["tag_ids"])
	assert.Equal(t, []store.Command{
		store.CreateNested(store.Values{
			"name": "first",
			"attachment_ids": []store.Command{store.CreateNested(store.Values{
				"name": "first", "datas": "aGVsbG8=", "type": "binary", "mimetype": "text/plain",
			})},
		}),
		store.Link(7),
	}, values["line_ids"])

	values, err = Translate(ctx, env, "partner", decode(t, `{"parent_id": false, "tag_ids": null}`))
	require.NoError(t, err)
	assert.Equal(t, store.Values{"parent_id": nil}, values)

	values, err = Translate(ctx, env, "partner", decode(t, `{"parent_id": {"id": 1, "name": "Parent"}}`))
	require.NoError(t, err)
	assert.Equal(t, parent, values["parent_id"])
}

func TestAttachments(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\x0D\x0A\x1A\x0A"))
	text := base64.StdEncoding.EncodeToString([]byte("hello"))

	var list []interface{}
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name": "a.pdf", "attachment": "`+text+`"},
		{"attachment_ids": [
			{"name": "image", "attachment": "`+png+`"},
			{"name": "a.pdf", "attachment": "`+text+`"}
		]},
		{"name": "b.pdf", "attachment": "`+text+`"},
		{"id": 9},
		9,
		"`+text+`"
	]`), &list))

	commands, err := Attachments(context.Background(), "attachment_ids", list, "")
	require.NoError(t, err)
	require.Len(t, commands, 6)
	assert.Equal(t, store.CreateNested(store.Values{
		"name": "a.pdf", "datas": text, "type": "binary", "mimetype": "application/pdf",
	}), commands[0])
	assert.Equal(t, "image", commands[1].Values["name"])
	assert.Equal(t, "image/png", commands[1].Values["mimetype"])
	assert.Equal(t, "b.pdf", commands[2].Values["name"])
	assert.Equal(t, store.Link(9), commands[3])
	assert.Equal(t, store.Link(9), commands[4])
	assert.Equal(t, "file", commands[5].Values["name"])
	assert.Equal(t, "text/plain", commands[5].Values["mimetype"])

	// an existing attachment is linked like any other relation, extra keys are ignored
	commands, err = Attachments(context.Background(), "attachment_ids",
		[]interface{}{map[string]interface{}{"id": float64(5), "name": "x"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []store.Command{store.Link(5)}, commands)

	commands, err = Attachments(context.Background(), "attachment_ids", text, "report.txt")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "report.txt", commands[0].Values["name"])

	for _, bad := range []interface{}{
		[]interface{}{map[string]interface{}{"name": "empty"}},
		[]interface{}{map[string]interface{}{"name": "empty", "attachment": ""}},
		[]interface{}{map[string]interface{}{"attachment_ids": "nope"}},
		[]interface{}{map[string]interface{}{"attachment_ids": []interface{}{"raw"}}},
		[]interface{}{true},
		[]interface{}{map[string]interface{}{"id": "5"}},
		[]interface{}{map[string]interface{}{"id": 1e19, "name": "x"}},
		42,
	} {
		_, err := Attachments(context.Background(), "attachment_ids", bad, "")
		assert.Error(t, err, bad)
	}
}

func TestAsID(t *testing.T) {
	for _, tc := range []struct {
		v  interface{}
		id int64
		ok bool
	}{
		{float64(42), 42, true},
		{float64(1 << 62), 1 << 62, true},
		{json.Number("7"), 7, true},
		{int64(3), 3, true},
		{1.5, 0, false},
		{-1.0, 0, false},
		{float64(1 << 63), 0, false},
		{1e19, 0, false},
		{"1", 0, false},
	} {
		id, ok := asID(tc.v)
		assert.Equal(t, tc.ok, ok, "%v", tc.v)
		if tc.ok {
			assert.Equal(t, tc.id, id, "%v", tc.v)
		}
	}
}
