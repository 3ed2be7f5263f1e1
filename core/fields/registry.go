// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package fields

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restful/core"
)

// AttachmentKind is the kind of file attachments. It is always registered.
const AttachmentKind = "attachment"

// the implicit fields every kind has
const (
	FieldID         = "id"
	FieldName       = "name"
	FieldCreateDate = "create_date"
	FieldWriteDate  = "write_date"
)

// Permit gives a role the right to perform operations on a kind
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
}

// Kind describes one entity kind
type Kind struct {
	Name        string `json:"kind"`
	Description string `json:"description"`
	// DisplayField is the field holding the display label, default "name"
	DisplayField string `json:"display_field"`
	// FilterFields are the fields a keyword filter searches, default the display field
	FilterFields []string `json:"filter_fields"`
	// SchemaID optionally names a JSON schema inbound payloads must satisfy
	SchemaID string       `json:"schema_id"`
	Permits  []Permit     `json:"permits"`
	Fields   []Descriptor `json:"fields"`

	index map[string]int
}

// Field returns the descriptor of the named field
func (k *Kind) Field(name string) (*Descriptor, bool) {
	i, ok := k.index[name]
	if !ok {
		return nil, false
	}
	return &k.Fields[i], true
}

// Describe returns the ordered field descriptors of the kind
func (k *Kind) Describe() []Descriptor {
	return k.Fields
}

// DisplayName returns the display label of an entity of this kind given its values
func (k *Kind) DisplayName(id int64, values map[string]interface{}) string {
	if v, ok := values[k.DisplayField]; ok && v != nil {
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case bool:
		default:
			return fmt.Sprint(s)
		}
	}
	return k.Name + "," + strconv.FormatInt(id, 10)
}

// Configuration is the JSON description of all kinds
type Configuration struct {
	Kinds []Kind `json:"kinds"`
}

// Registry is the field type registry. It is read-only once built.
type Registry struct {
	kinds map[string]*Kind
	order []string
}

// ParseConfiguration builds a registry from its JSON configuration
func ParseConfiguration(config string) (*Registry, error) {
	var c Configuration
	if err := json.Unmarshal([]byte(config), &c); err != nil {
		return nil, fmt.Errorf("parse error in kinds configuration: %w", err)
	}
	return New(c)
}

// MustParseConfiguration is ParseConfiguration but panics on error
func MustParseConfiguration(config string) *Registry {
	r, err := ParseConfiguration(config)
	if err != nil {
		panic(err)
	}
	return r
}

// New builds a registry from a configuration. It adds the implicit fields
// and the attachment kind, and checks that all relations resolve.
func New(c Configuration) (*Registry, error) {
	r := &Registry{kinds: map[string]*Kind{}}

	kinds := c.Kinds
	hasAttachment := false
	for _, k := range kinds {
		if k.Name == AttachmentKind {
			hasAttachment = true
		}
	}
	if !hasAttachment {
		kinds = append(kinds, attachmentKind())
	}

	for i := range kinds {
		k := kinds[i]
		if k.Name == "" {
			return nil, fmt.Errorf("kind without name")
		}
		if _, ok := r.kinds[k.Name]; ok {
			return nil, fmt.Errorf("kind %s declared twice", k.Name)
		}
		if k.DisplayField == "" {
			k.DisplayField = FieldName
		}
		descriptors := []Descriptor{{Name: FieldID, Type: TypeInteger, ReadOnly: true}}
		for _, d := range k.Fields {
			switch d.Name {
			case "":
				return nil, fmt.Errorf("kind %s: field without name", k.Name)
			case FieldID, FieldCreateDate, FieldWriteDate:
				return nil, fmt.Errorf("kind %s: field %s is implicit", k.Name, d.Name)
			}
			descriptors = append(descriptors, d)
		}
		descriptors = append(descriptors,
			Descriptor{Name: FieldCreateDate, Type: TypeDatetime, ReadOnly: true},
			Descriptor{Name: FieldWriteDate, Type: TypeDatetime, ReadOnly: true},
		)
		k.Fields = descriptors
		k.index = map[string]int{}
		for j, d := range k.Fields {
			if _, ok := k.index[d.Name]; ok {
				return nil, fmt.Errorf("kind %s: field %s declared twice", k.Name, d.Name)
			}
			k.index[d.Name] = j
		}
		if len(k.FilterFields) == 0 {
			k.FilterFields = []string{k.DisplayField}
		}
		r.kinds[k.Name] = &k
		r.order = append(r.order, k.Name)
	}

	for _, name := range r.order {
		if err := r.check(r.kinds[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) check(k *Kind) error {
	for _, d := range k.Fields {
		if !d.Type.IsRelation() {
			if d.Kind != "" || d.Inverse != "" {
				return fmt.Errorf("kind %s: field %s of type %s cannot have a target kind", k.Name, d.Name, d.Type)
			}
			continue
		}
		target, ok := r.kinds[d.Kind]
		if !ok {
			return fmt.Errorf("kind %s: field %s references unknown kind '%s'", k.Name, d.Name, d.Kind)
		}
		if d.Inverse == "" {
			continue
		}
		if d.Type != TypeRelationToManyOwned {
			return fmt.Errorf("kind %s: only owned relations have an inverse, field %s is %s", k.Name, d.Name, d.Type)
		}
		inverse, ok := target.Field(d.Inverse)
		if !ok || inverse.Type != TypeRelationToOne || inverse.Kind != k.Name {
			return fmt.Errorf("kind %s: inverse %s.%s of field %s must be a relation to %s", k.Name, d.Kind, d.Inverse, d.Name, k.Name)
		}
	}
	for _, f := range k.FilterFields {
		if _, ok := k.Field(f); !ok && f != FieldName {
			return fmt.Errorf("kind %s: unknown filter field %s", k.Name, f)
		}
	}
	return nil
}

// Kind returns the named kind
func (r *Registry) Kind(name string) (*Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Describe returns the ordered field descriptors of the named kind
func (r *Registry) Describe(kind string) ([]Descriptor, error) {
	k, ok := r.kinds[kind]
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", kind)
	}
	return k.Describe(), nil
}

// Kinds returns the names of all kinds in configuration order
func (r *Registry) Kinds() []string {
	return append([]string{}, r.order...)
}

func attachmentKind() Kind {
	return Kind{
		Name:        AttachmentKind,
		Description: "binary files attached to other entities",
		Fields: []Descriptor{
			{Name: "name", Type: TypeChar, Required: true},
			{Name: "datas", Type: TypeBinary},
			{Name: "mimetype", Type: TypeChar},
			{Name: "type", Type: TypeSelection, Selection: []string{"binary", "url"}},
			{Name: "file_size", Type: TypeInteger},
		},
	}
}
