package schema_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/schema"
)

const (
	refEmail = `{ "$id" : "http://some_host.com/email.json",
		"type" : "string", "pattern": "^[^@]+@[^@]+$" }`

	partnerSchema = `
	{ "$id" : "http://some_host.com/partner.json",
	  "type": "object",
	  "required": ["name"],
	  "properties": {
		"name": { "type": "string", "minLength": 1 },
		"email": { "$ref": "http://some_host.com/email.json" }
	  }
	}`
)

func TestValidatePayload(t *testing.T) {
	v, err := schema.NewValidator([]string{partnerSchema}, []string{refEmail})
	require.NoError(t, err)
	id := "http://some_host.com/partner.json"
	assert.True(t, v.HasSchema(id))
	assert.False(t, v.HasSchema("http://some_host.com/other.json"))

	assert.NoError(t, v.ValidatePayload(map[string]interface{}{"name": "Acme", "email": "a@b.c"}, id))

	err = v.ValidatePayload(map[string]interface{}{"email": "nope"}, id)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Contains(t, err.Error(), "name")

	assert.Error(t, v.ValidateString(`{"name": ""}`, id))
	assert.Error(t, v.ValidateString(`{}`, "unknown"))
}

func TestNewValidatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"partner.json":    {Data: []byte(partnerSchema)},
		"refs/email.json": {Data: []byte(refEmail)},
		"README.md":       {Data: []byte("ignored")},
	}
	v, err := schema.NewValidatorFromFS(fsys)
	require.NoError(t, err)
	assert.True(t, v.HasSchema("http://some_host.com/partner.json"))
}

func TestNewValidatorRejectsSchemaWithoutID(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type":"object"}`}, nil)
	assert.Error(t, err)
}
