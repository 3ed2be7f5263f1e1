package store

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
)

// Domain is a search filter. A nil Domain matches every entity.
type Domain interface {
	isDomain()
}

// Condition compares a field with a value
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

// And matches if all its members match
type And []Domain

// Or matches if any of its members matches
type Or []Domain

// Not negates a domain
type Not struct {
	Domain Domain
}

func (Condition) isDomain() {}
func (And) isDomain()       {}
func (Or) isDomain()        {}
func (Not) isDomain()       {}

// the supported condition operators. "like" and "ilike" are substring matches.
var operators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"like": true, "ilike": true, "in": true, "not in": true,
}

// Where returns a condition
func Where(field, operator string, value interface{}) Condition {
	return Condition{Field: field, Operator: operator, Value: value}
}

// ParseDomain parses a domain in prefix notation. raw is either a decoded JSON
// list or its string form. Terms are conditions [field, operator, value] and
// the logical operators "&" and "|" taking two terms and "!" taking one.
// Consecutive terms are joined with "&". An empty domain matches everything.
//
//	["|", ["name", "like", "Acme"], ["email", "=", "info@acme.com"]]
func ParseDomain(raw interface{}) (Domain, error) {
	var terms []interface{}
	switch r := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(r) == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(r), &terms); err != nil {
			return nil, core.InputError("Invalid domain %s", r)
		}
	case []interface{}:
		terms = r
	default:
		return nil, core.InputError("Invalid domain %v", raw)
	}

	p := parser{terms: terms}
	var result And
	for p.pos < len(p.terms) {
		d, err := p.parse()
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	switch len(result) {
	case 0:
		return nil, nil
	case 1:
		return result[0], nil
	}
	return result, nil
}

type parser struct {
	terms []interface{}
	pos   int
}

func (p *parser) parse() (Domain, error) {
	if p.pos >= len(p.terms) {
		return nil, core.InputError("Incomplete domain")
	}
	term := p.terms[p.pos]
	p.pos++
	switch t := term.(type) {
	case string:
		switch t {
		case "&", "|":
			a, err := p.parse()
			if err != nil {
				return nil, err
			}
			b, err := p.parse()
			if err != nil {
				return nil, err
			}
			if t == "&" {
				return And{a, b}, nil
			}
			return Or{a, b}, nil
		case "!":
			a, err := p.parse()
			if err != nil {
				return nil, err
			}
			return Not{a}, nil
		}
		return nil, core.InputError("Invalid domain operator '%s'", t)
	case []interface{}:
		if len(t) != 3 {
			return nil, core.InputError("Invalid domain term %v", t)
		}
		field, ok := t[0].(string)
		if !ok {
			return nil, core.InputError("Invalid domain term %v", t)
		}
		operator, _ := t[1].(string)
		operator = strings.ToLower(operator)
		if !operators[operator] {
			return nil, core.InputError("Invalid operator '%v' in domain", t[1])
		}
		return Condition{Field: field, Operator: operator, Value: t[2]}, nil
	}
	return nil, core.InputError("Invalid domain term %v", term)
}

// check verifies that all conditions name fields of the kind and use known operators
func check(k *fields.Kind, d Domain) error {
	switch d := d.(type) {
	case nil:
		return nil
	case Condition:
		if _, ok := k.Field(d.Field); !ok {
			return core.InputError("Invalid field %s.%s in domain", k.Name, d.Field)
		}
		if !operators[d.Operator] {
			return core.InputError("Invalid operator '%s' in domain", d.Operator)
		}
		if d.Operator == "in" || d.Operator == "not in" {
			if _, ok := asList(d.Value); !ok {
				return core.InputError("Operator '%s' requires a list for field %s", d.Operator, d.Field)
			}
		}
		return nil
	case And:
		for _, m := range d {
			if err := check(k, m); err != nil {
				return err
			}
		}
	case Or:
		for _, m := range d {
			if err := check(k, m); err != nil {
				return err
			}
		}
	case Not:
		return check(k, d.Domain)
	}
	return nil
}

func asList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case []string:
		result := make([]interface{}, len(l))
		for i, s := range l {
			result[i] = s
		}
		return result, true
	case []int64:
		result := make([]interface{}, len(l))
		for i, id := range l {
			result[i] = id
		}
		return result, true
	}
	return nil, false
}
