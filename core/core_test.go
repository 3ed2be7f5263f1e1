package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestOperationUnmarshal(t *testing.T) {
	var ops []Operation
	err := json.Unmarshal([]byte(`["create","read","action"]`), &ops)
	assert.NoError(t, err)
	assert.Equal(t, []Operation{OperationCreate, OperationRead, OperationAction}, ops)

	err = json.Unmarshal([]byte(`["nope"]`), &ops)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	err := FormatError("due_date", "31/12/2024", "date")
	assert.Equal(t, KindFormat, KindOf(err))
	assert.Contains(t, err.Error(), "due_date")
	assert.Contains(t, err.Error(), "31/12/2024")

	wrapped := fmt.Errorf("translating partner: %w", err)
	assert.Equal(t, KindFormat, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, errors.Is(fmt.Errorf("x: %w", ErrAuthorization), ErrAuthorization))
	assert.False(t, errors.Is(ErrAuthentication, ErrAuthorization))
}

func TestTypeErrorNamesField(t *testing.T) {
	err := TypeError("image", 12.0)
	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "image", e.Field)
	assert.Equal(t, "Invalid number value for field 'image'", e.Error())
}
