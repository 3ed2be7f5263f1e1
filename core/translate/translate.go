/*
Package translate converts inbound JSON objects into store values.

Only keys that are registered fields of the kind are translated, everything
else is ignored. Absent keys are never defaulted. Relations to many become
relation commands: bare ids and objects carrying only an id link existing
entities, other objects create nested entities of the related kind.
*/
package translate

import (
	"context"
	"encoding/base64"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/request"
	"github.com/relabs-tech/restful/core/store"
)

// Translate converts input into store values for an entity of kind
func Translate(ctx context.Context, env *request.Env, kind string, input map[string]interface{}) (store.Values, error) {
	k, ok := env.Fields.Kind(kind)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", kind)
	}
	values := store.Values{}
	for i := range k.Fields {
		d := &k.Fields[i]
		v, ok := input[d.Name]
		if !ok || d.ReadOnly {
			continue
		}
		switch d.Type {
		case fields.TypeRelationToOne:
			id, err := toOne(ctx, env, d, v)
			if err != nil {
				return nil, err
			}
			if id == 0 {
				values[d.Name] = nil
			} else {
				values[d.Name] = id
			}
		case fields.TypeRelationToManyOwned, fields.TypeRelationToManyShared:
			commands, err := toMany(ctx, env, d, v, input)
			if err != nil {
				return nil, err
			}
			if len(commands) > 0 {
				values[d.Name] = commands
			}
		case fields.TypeDate, fields.TypeDatetime:
			s, ok := v.(string)
			if !ok {
				values[d.Name] = v
				continue
			}
			t, err := time.ParseInLocation(d.Type.Layout(), s, time.UTC)
			if err != nil {
				return nil, core.FormatError(d.Name, s, d.Type.String())
			}
			values[d.Name] = t
		case fields.TypeBinary:
			switch b := v.(type) {
			case nil, string:
				values[d.Name] = v
			case []byte:
				values[d.Name] = base64.StdEncoding.EncodeToString(b)
			case bool:
				if b {
					return nil, core.TypeError(d.Name, v)
				}
				values[d.Name] = nil
			default:
				return nil, core.TypeError(d.Name, v)
			}
		case fields.TypeJSON:
			s, ok := v.(string)
			if !ok {
				values[d.Name] = v
				continue
			}
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, core.FormatError(d.Name, s, "JSON")
			}
			values[d.Name] = parsed
		default:
			values[d.Name] = v
		}
	}
	return values, nil
}

// toOne resolves a relation to one. It returns 0 for values that clear the relation.
func toOne(ctx context.Context, env *request.Env, d *fields.Descriptor, v interface{}) (int64, error) {
	if v == nil || v == false {
		return 0, nil
	}
	if object, ok := v.(map[string]interface{}); ok {
		v = object[fields.FieldID]
	}
	id, ok := asID(v)
	if !ok {
		return 0, core.TypeError(d.Name, v)
	}
	if id == 0 {
		return 0, nil
	}
	exists, err := env.Store.Exists(ctx, d.Kind, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, core.ReferenceError(d.Name, v)
	}
	return id, nil
}

func toMany(ctx context.Context, env *request.Env, d *fields.Descriptor, v interface{}, input map[string]interface{}) ([]store.Command, error) {
	if v == nil || v == false {
		return nil, nil
	}
	if d.IsAttachmentRelation() {
		name, _ := input[fields.FieldName].(string)
		return Attachments(ctx, d.Name, v, name)
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, core.TypeError(d.Name, v)
	}
	commands := make([]store.Command, 0, len(list))
	for _, item := range list {
		if id, ok := asID(item); ok {
			commands = append(commands, store.Link(id))
			continue
		}
		object, ok := item.(map[string]interface{})
		if !ok {
			return nil, core.InputError("Invalid item %v for field '%s'", item, d.Name)
		}
		if raw, hasID := object[fields.FieldID]; hasID {
			id, ok := asID(raw)
			if !ok {
				return nil, core.InputError("Invalid item %v for field '%s'", item, d.Name)
			}
			if len(object) > 1 {
				logger.FromContext(ctx).Debugf("linking %s %d for field %s, ignoring keys %v", d.Kind, id, d.Name, extraKeys(object))
			}
			commands = append(commands, store.Link(id))
			continue
		}
		values, err := Translate(ctx, env, d.Kind, object)
		if err != nil {
			return nil, err
		}
		commands = append(commands, store.CreateNested(values))
	}
	return commands, nil
}

// maxID is 2^63, the first float64 beyond the int64 range
const maxID = float64(1 << 63)

// asID accepts integral JSON numbers and Go integers
func asID(v interface{}) (int64, bool) {
	switch i := v.(type) {
	case float64:
		if i == math.Trunc(i) && i >= 0 && i < maxID {
			return int64(i), true
		}
	case int:
		return int64(i), i >= 0
	case int64:
		return i, i >= 0
	case json.Number:
		id, err := i.Int64()
		return id, err == nil && id >= 0
	}
	return 0, false
}

func extraKeys(object map[string]interface{}) []string {
	keys := []string{}
	for key := range object {
		if key != fields.FieldID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
