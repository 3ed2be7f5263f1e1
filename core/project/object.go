package project

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Object is a JSON object which keeps the order of its keys
type Object struct {
	keys   []string
	values map[string]interface{}
}

// NewObject returns an empty object
func NewObject() *Object {
	return &Object{values: map[string]interface{}{}}
}

// Set sets a value. New keys are appended, existing keys keep their position.
func (o *Object) Set(key string, value interface{}) *Object {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get returns the value of key
func (o *Object) Get(key string) (interface{}, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in order
func (o *Object) Keys() []string {
	return append([]string{}, o.keys...)
}

// Len returns the number of keys
func (o *Object) Len() int {
	return len(o.keys)
}

// Map returns the object as plain map, nested objects included
func (o *Object) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(o.keys))
	for _, k := range o.keys {
		m[k] = plain(o.values[k])
	}
	return m
}

func plain(v interface{}) interface{} {
	switch x := v.(type) {
	case *Object:
		return x.Map()
	case []interface{}:
		list := make([]interface{}, len(x))
		for i, item := range x {
			list[i] = plain(item)
		}
		return list
	}
	return v
}

// MarshalJSON writes the keys in order
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
