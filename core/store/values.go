package store

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
)

// normalize converts v into the canonical store form of the field. A false or
// nil value clears every non-boolean field.
func normalize(d *fields.Descriptor, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.(bool); ok && !b && d.Type != fields.TypeBoolean {
		return nil, nil
	}
	switch d.Type {
	case fields.TypeChar, fields.TypeText, fields.TypeSelection, fields.TypeHTML:
		s, ok := v.(string)
		if !ok {
			return nil, core.TypeError(d.Name, v)
		}
		if d.Type == fields.TypeSelection && s != "" && len(d.Selection) > 0 && !contains(d.Selection, s) {
			return nil, core.InputError("Wrong value for %s: '%s'", d.Name, s)
		}
		return s, nil
	case fields.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, core.TypeError(d.Name, v)
		}
		return b, nil
	case fields.TypeInteger:
		return toInt64(d, v)
	case fields.TypeRelationToOne:
		id, err := toInt64(d, v)
		if err != nil || id == 0 {
			return nil, err
		}
		return id, nil
	case fields.TypeFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		case int:
			return float64(f), nil
		case int64:
			return float64(f), nil
		}
		return nil, core.TypeError(d.Name, v)
	case fields.TypeDate, fields.TypeDatetime:
		return toTime(d, v)
	case fields.TypeBinary:
		switch b := v.(type) {
		case string:
			return b, nil
		case []byte:
			return base64.StdEncoding.EncodeToString(b), nil
		}
		return nil, core.TypeError(d.Name, v)
	case fields.TypeJSON:
		return v, nil
	}
	return nil, core.TypeError(d.Name, v)
}

func toInt64(d *fields.Descriptor, v interface{}) (int64, error) {
	switch i := v.(type) {
	case int64:
		return i, nil
	case int:
		return int64(i), nil
	case int32:
		return int64(i), nil
	case float64:
		if i == math.Trunc(i) && i >= -(1<<63) && i < 1<<63 {
			return int64(i), nil
		}
	}
	return 0, core.TypeError(d.Name, v)
}

func toTime(d *fields.Descriptor, v interface{}) (time.Time, error) {
	var t time.Time
	switch s := v.(type) {
	case time.Time:
		t = s
	case string:
		var err error
		t, err = time.ParseInLocation(d.Type.Layout(), s, time.UTC)
		if err != nil && d.Type == fields.TypeDatetime {
			t, err = time.Parse(time.RFC3339, s)
		}
		if err != nil {
			return t, core.FormatError(d.Name, v, d.Type.String())
		}
	default:
		return t, core.TypeError(d.Name, v)
	}
	t = t.UTC()
	if d.Type == fields.TypeDate {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return t.Truncate(time.Second), nil
}

// toCommands accepts commands, or plain ids which become links
func toCommands(d *fields.Descriptor, v interface{}) ([]Command, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !c {
			return nil, nil
		}
	case []Command:
		return c, nil
	case []int64:
		commands := make([]Command, len(c))
		for i, id := range c {
			commands[i] = Link(id)
		}
		return commands, nil
	case []interface{}:
		commands := make([]Command, 0, len(c))
		for _, item := range c {
			id, err := toInt64(d, item)
			if err != nil {
				return nil, err
			}
			commands = append(commands, Link(id))
		}
		return commands, nil
	}
	return nil, core.TypeError(d.Name, v)
}

func isEmpty(v interface{}) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	}
	return false
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	result := make([]int64, 0, len(ids))
	for _, i := range ids {
		if i != id {
			result = append(result, i)
		}
	}
	return result
}

func copyValues(values Values) Values {
	c := make(Values, len(values))
	for k, v := range values {
		if ids, ok := v.([]int64); ok {
			v = append([]int64{}, ids...)
		}
		c[k] = v
	}
	return c
}
