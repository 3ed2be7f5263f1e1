// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package fields is the field type registry. It describes, for every entity kind,
the ordered set of fields and the semantic type of each field.

All translation between JSON and store values goes through the descriptors of
this package. Field names that are not registered for a kind are ignored on
input and skipped on output.
*/
package fields

import (
	"fmt"

	"github.com/goccy/go-json"
)

// FieldType is the semantic type of a field
type FieldType int

// all field types
const (
	TypeChar FieldType = iota
	TypeText
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeSelection
	TypeHTML
	TypeDate
	TypeDatetime
	TypeBinary
	TypeJSON
	TypeRelationToOne
	TypeRelationToManyOwned
	TypeRelationToManyShared
)

var typeNames = map[FieldType]string{
	TypeChar:                 "char",
	TypeText:                 "text",
	TypeBoolean:              "boolean",
	TypeInteger:              "integer",
	TypeFloat:                "float",
	TypeSelection:            "selection",
	TypeHTML:                 "html",
	TypeDate:                 "date",
	TypeDatetime:             "datetime",
	TypeBinary:               "binary",
	TypeJSON:                 "json",
	TypeRelationToOne:        "relation_to_one",
	TypeRelationToManyOwned:  "relation_to_many_owned",
	TypeRelationToManyShared: "relation_to_many_shared",
}

func (t FieldType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType parses the configuration name of a field type
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type '%s'", s)
}

// MarshalJSON writes the configuration name
func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses the configuration name
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsTextLike is true for types that project as trimmed strings
func (t FieldType) IsTextLike() bool {
	return t == TypeChar || t == TypeText || t == TypeSelection || t == TypeHTML
}

// IsRelation is true for all relation types
func (t FieldType) IsRelation() bool {
	return t == TypeRelationToOne || t.IsToMany()
}

// IsToMany is true for the owned and shared to-many relations
func (t FieldType) IsToMany() bool {
	return t == TypeRelationToManyOwned || t == TypeRelationToManyShared
}

// Descriptor describes one field of a kind
type Descriptor struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// Kind is the target kind of relation fields
	Kind string `json:"kind,omitempty"`
	// Inverse is the relation-to-one field on the target kind that points
	// back to the owner of a relation-to-many-owned field
	Inverse   string   `json:"inverse,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Selection []string `json:"selection,omitempty"`
	// ReadOnly fields are maintained by the store and never written from input
	ReadOnly bool `json:"read_only,omitempty"`
}

// IsAttachmentRelation is true for to-many fields whose target is the attachment kind
func (d *Descriptor) IsAttachmentRelation() bool {
	return d.Type.IsToMany() && d.Kind == AttachmentKind
}

// the fixed-width layouts of date and datetime values on the wire
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
)

// Layout returns the wire layout of a date or datetime field type
func (t FieldType) Layout() string {
	if t == TypeDate {
		return DateLayout
	}
	return DatetimeLayout
}
