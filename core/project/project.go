// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package project converts entities into ordered JSON objects.

A projection emits id and name first, then the fields grouped by type in the
order char, text, boolean, float, integer, date, datetime, relation to one,
shared relation to many, owned relation to many, then everything else. Every
relation to many is followed by a "<field>_count" key. The name is always the
display label of the entity.

Each projection call carries a memo of the entities it has already visited;
an entity met a second time is projected as {id, name} only, which makes
self-referencing and cyclic relations safe.
*/
package project

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/request"
)

// Options control a projection. The zero value projects all fields, relations
// to one as {id, name} and suppresses noise fields.
type Options struct {
	// Fields restricts the projection to the named fields
	Fields []string
	// FlatToOne projects relations to one as bare ids
	FlatToOne bool
	// KeepNoise disables the suppression of noise fields
	KeepNoise bool
	// Recursive projects related entities in full instead of {id, name}
	Recursive bool
}

var typeOrder = []fields.FieldType{
	fields.TypeChar,
	fields.TypeText,
	fields.TypeBoolean,
	fields.TypeFloat,
	fields.TypeInteger,
	fields.TypeDate,
	fields.TypeDatetime,
	fields.TypeRelationToOne,
	fields.TypeRelationToManyShared,
	fields.TypeRelationToManyOwned,
}

type projector struct {
	env  *request.Env
	opts Options
	memo map[string]bool
}

func newProjector(env *request.Env, opts Options) *projector {
	return &projector{env: env, opts: opts, memo: map[string]bool{}}
}

// Project projects the entities of kind with the given ids in one call. It
// returns an empty object for no ids, an object for one id and a list of
// objects otherwise.
func Project(ctx context.Context, env *request.Env, kind string, ids []int64, opts Options) (interface{}, error) {
	p := newProjector(env, opts)
	switch len(ids) {
	case 0:
		return NewObject(), nil
	case 1:
		return p.entity(ctx, kind, ids[0], opts.Fields)
	}
	list := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		o, err := p.entity(ctx, kind, id, opts.Fields)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, nil
}

// One projects a single entity
func One(ctx context.Context, env *request.Env, kind string, id int64, opts Options) (*Object, error) {
	return newProjector(env, opts).entity(ctx, kind, id, opts.Fields)
}

// Each projects every entity in a call of its own
func Each(ctx context.Context, env *request.Env, kind string, ids []int64, opts Options) ([]*Object, error) {
	list := make([]*Object, 0, len(ids))
	for _, id := range ids {
		o, err := One(ctx, env, kind, id, opts)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, nil
}

func stub(id int64, name string) *Object {
	return NewObject().Set(fields.FieldID, id).Set(fields.FieldName, name)
}

func (p *projector) entity(ctx context.Context, kind string, id int64, names []string) (*Object, error) {
	k, ok := p.env.Fields.Kind(kind)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", kind)
	}
	e, err := p.env.Store.Read(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	display := k.DisplayName(id, e.Values)

	key := fmt.Sprintf("%s/%d", kind, id)
	if p.memo[key] {
		return stub(id, display), nil
	}
	p.memo[key] = true

	if len(names) == 0 {
		for _, d := range k.Fields {
			names = append(names, d.Name)
		}
	}
	res := NewObject()
	for _, name := range names {
		d, ok := k.Field(name)
		if !ok {
			continue
		}
		if !p.opts.KeepNoise && fields.IsNoise(name) {
			continue
		}
		if _, done := res.Get(name); done {
			continue
		}
		p.field(ctx, d, e.ID, e.Values[d.Name], res)
	}
	return order(k, res, display), nil
}

func (p *projector) field(ctx context.Context, d *fields.Descriptor, id int64, v interface{}, res *Object) {
	if d.Name == fields.FieldID {
		res.Set(d.Name, id)
		return
	}
	rlog := logger.FromContext(ctx)
	if d.Type.IsToMany() {
		items, err := p.toMany(ctx, d, v)
		if err != nil {
			rlog.WithError(err).Debugf("cannot project %s", d.Name)
			items = []interface{}{}
		}
		res.Set(d.Name, items)
		res.Set(d.Name+"_count", len(items))
		return
	}
	value, err := p.format(ctx, d, v)
	if err != nil {
		rlog.WithError(err).Debugf("cannot project %s", d.Name)
		value = empty(d)
	}
	res.Set(d.Name, value)
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case int64:
		return false
	case []int64:
		return len(x) == 0
	}
	return false
}

// empty returns the projection of an unset field
func empty(d *fields.Descriptor) interface{} {
	switch {
	case d.Type.IsTextLike():
		return ""
	case d.Type == fields.TypeRelationToOne:
		return NewObject()
	case d.Type.IsToMany():
		return []interface{}{}
	}
	return false
}

func (p *projector) format(ctx context.Context, d *fields.Descriptor, v interface{}) (interface{}, error) {
	if isEmpty(v) {
		return empty(d), nil
	}
	switch d.Type {
	case fields.TypeChar, fields.TypeText, fields.TypeSelection, fields.TypeHTML:
		s, ok := v.(string)
		if !ok {
			return nil, core.TypeError(d.Name, v)
		}
		s = clean(s)
		if d.Type == fields.TypeHTML {
			s = htmlToText(s)
		}
		return s, nil
	case fields.TypeDate, fields.TypeDatetime:
		if t, ok := v.(time.Time); ok {
			return t.Format(d.Type.Layout()), nil
		}
		return v, nil
	case fields.TypeBinary:
		if b, ok := v.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b), nil
		}
		return v, nil
	case fields.TypeRelationToOne:
		id, ok := v.(int64)
		if !ok {
			return nil, core.TypeError(d.Name, v)
		}
		if p.opts.FlatToOne {
			return id, nil
		}
		return p.related(ctx, d.Kind, id)
	}
	return v, nil
}

// related projects a related entity, {id, name} unless the projection is recursive
func (p *projector) related(ctx context.Context, kind string, id int64) (*Object, error) {
	if p.opts.Recursive {
		return p.entity(ctx, kind, id, nil)
	}
	k, ok := p.env.Fields.Kind(kind)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", kind)
	}
	e, err := p.env.Store.Read(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return stub(id, k.DisplayName(id, e.Values)), nil
}

func (p *projector) toMany(ctx context.Context, d *fields.Descriptor, v interface{}) ([]interface{}, error) {
	if isEmpty(v) {
		return []interface{}{}, nil
	}
	ids, ok := v.([]int64)
	if !ok {
		return nil, core.TypeError(d.Name, v)
	}
	items := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if d.IsAttachmentRelation() {
			a, err := p.attachment(ctx, id)
			if err != nil {
				return nil, err
			}
			items = append(items, a)
			continue
		}
		o, err := p.related(ctx, d.Kind, id)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, nil
}

// attachment projects an attachment with its mimetype and download link
func (p *projector) attachment(ctx context.Context, id int64) (*Object, error) {
	k, ok := p.env.Fields.Kind(fields.AttachmentKind)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", fields.AttachmentKind)
	}
	a, err := p.env.Store.Read(ctx, fields.AttachmentKind, id)
	if err != nil {
		return nil, err
	}
	mimetype, _ := a.Values["mimetype"].(string)
	return stub(id, k.DisplayName(id, a.Values)).
		Set("mimetype", mimetype).
		Set("url", p.env.ContentURL(id)), nil
}

// order arranges the projected fields. The display label always overwrites name.
func order(k *fields.Kind, res *Object, display string) *Object {
	ordered := NewObject()
	for _, key := range []string{fields.FieldID, fields.FieldName} {
		if v, ok := res.Get(key); ok {
			ordered.Set(key, v)
			res.Delete(key)
		}
	}
	for _, t := range typeOrder {
		for _, key := range res.Keys() {
			d, ok := k.Field(key)
			if !ok || d.Type != t {
				continue
			}
			v, _ := res.Get(key)
			ordered.Set(key, v)
			res.Delete(key)
			if !t.IsToMany() {
				continue
			}
			count := key + "_count"
			if v, ok := res.Get(count); ok {
				ordered.Set(count, v)
				res.Delete(count)
			}
		}
	}
	ordered.Set(fields.FieldName, display)
	for _, key := range res.Keys() {
		v, _ := res.Get(key)
		ordered.Set(key, v)
	}
	return ordered
}
