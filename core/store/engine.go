// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/kss"
	"github.com/relabs-tech/restful/core/logger"
)

// records is the raw record access of a backend or of one of its transactions
type records interface {
	insert(ctx context.Context, k *fields.Kind, values Values) (int64, error)
	replace(ctx context.Context, k *fields.Kind, id int64, values Values) error
	// fetch returns nil without error if the record does not exist
	fetch(ctx context.Context, k *fields.Kind, id int64) (Values, error)
	remove(ctx context.Context, k *fields.Kind, id int64) error
	find(ctx context.Context, k *fields.Kind, domain Domain, limit, offset int) ([]int64, error)
}

// backend holds the raw records of an Engine
type backend interface {
	records
	// begin starts a transaction. All records it writes are discarded by rollback.
	begin(ctx context.Context) (transaction, error)
}

type transaction interface {
	records
	commit() error
	rollback() error
}

// unit is one write operation of the engine. All record access goes through
// its transaction, so a failing nested write leaves nothing behind.
type unit struct {
	*Engine
	backend records
	// blobs stored by this unit, deleted again on rollback
	stored []string
	// blobs to delete once the unit is committed
	obsolete []string
}

// atomically runs fn in a transaction which is committed if fn succeeds and
// rolled back otherwise
func (e *Engine) atomically(ctx context.Context, fn func(u *unit) error) error {
	tx, err := e.backend.begin(ctx)
	if err != nil {
		return err
	}
	u := &unit{Engine: e, backend: tx}
	err = fn(u)
	if err == nil {
		err = tx.commit()
		if err == nil {
			u.dropObsoleteBlobs(ctx)
			return nil
		}
	} else if rerr := tx.rollback(); rerr != nil {
		logger.FromContext(ctx).WithError(rerr).Errorln("rollback failed")
	}
	u.discardBlobs(ctx)
	return err
}

// Engine implements Store on top of a backend. Writes are serialized.
type Engine struct {
	registry *fields.Registry
	backend  backend
	blobs    kss.Driver
	mutex    sync.Mutex
	now      func() time.Time
}

func newEngine(registry *fields.Registry, b backend) *Engine {
	return &Engine{
		registry: registry,
		backend:  b,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Registry returns the field registry of the store
func (e *Engine) Registry() *fields.Registry {
	return e.registry
}

func (e *Engine) kind(name string) (*fields.Kind, error) {
	k, ok := e.registry.Kind(name)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", name)
	}
	return k, nil
}

func recordNotFound(k *fields.Kind, id int64) error {
	return core.NotFoundError("Record does not exist or has been deleted. (Record: %s(%d))", k.Name, id)
}

// Create implements Store
func (e *Engine) Create(ctx context.Context, kind string, values Values) (int64, error) {
	k, err := e.kind(kind)
	if err != nil {
		return 0, err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	var id int64
	err = e.atomically(ctx, func(u *unit) (err error) {
		id, err = u.create(ctx, k, values)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

type pendingRelation struct {
	descriptor *fields.Descriptor
	commands   []Command
}

func (u *unit) create(ctx context.Context, k *fields.Kind, values Values) (int64, error) {
	record := Values{}
	relations, err := u.assign(ctx, k, record, values)
	if err != nil {
		return 0, err
	}
	if err := u.checkConstraints(ctx, k, 0, record); err != nil {
		return 0, err
	}
	now := u.now()
	record[fields.FieldCreateDate] = now
	record[fields.FieldWriteDate] = now

	blobs := u.extractBlobs(k, record)
	id, err := u.backend.insert(ctx, k, record)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Debugf("created %s %d", k.Name, id)
	if len(blobs) == 0 && len(relations) == 0 {
		return id, nil
	}

	if err := u.storeBlobs(ctx, k, id, record, blobs); err != nil {
		return id, err
	}
	for _, r := range relations {
		ids, err := u.apply(ctx, k, id, r.descriptor, nil, r.commands)
		if err != nil {
			return id, err
		}
		record[r.descriptor.Name] = ids
	}
	return id, u.backend.replace(ctx, k, id, record)
}

// assign normalizes values into record. Relations to many are returned as
// pending since they can only be applied once the owner exists.
func (u *unit) assign(ctx context.Context, k *fields.Kind, record, values Values) ([]pendingRelation, error) {
	var relations []pendingRelation
	for i := range k.Fields {
		d := &k.Fields[i]
		v, ok := values[d.Name]
		if !ok || d.ReadOnly {
			continue
		}
		if d.Type.IsToMany() {
			commands, err := toCommands(d, v)
			if err != nil {
				return nil, err
			}
			if len(commands) > 0 {
				relations = append(relations, pendingRelation{descriptor: d, commands: commands})
			}
			continue
		}
		n, err := normalize(d, v)
		if err != nil {
			return nil, err
		}
		if n == nil {
			delete(record, d.Name)
			continue
		}
		if d.Type == fields.TypeRelationToOne {
			if err := u.checkReference(ctx, d, n.(int64)); err != nil {
				return nil, err
			}
		}
		record[d.Name] = n
	}
	return relations, nil
}

func (u *unit) checkReference(ctx context.Context, d *fields.Descriptor, id int64) error {
	target, err := u.kind(d.Kind)
	if err != nil {
		return err
	}
	existing, err := u.backend.fetch(ctx, target, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return core.ConstraintError(fmt.Sprintf("Key (%s)=(%d) is not present in table \"%s\".", d.Name, id, target.Name), nil)
	}
	return nil
}

// checkConstraints verifies required and unique fields. id is 0 for new records.
func (u *unit) checkConstraints(ctx context.Context, k *fields.Kind, id int64, record Values) error {
	for i := range k.Fields {
		d := &k.Fields[i]
		if d.ReadOnly || d.Type.IsToMany() {
			continue
		}
		v := record[d.Name]
		if d.Required && isEmpty(v) {
			return core.ConstraintError(fmt.Sprintf("null value in column \"%s\" of relation \"%s\" violates not-null constraint", d.Name, k.Name), nil)
		}
		if !d.Unique || isEmpty(v) {
			continue
		}
		ids, err := u.backend.find(ctx, k, Where(d.Name, "=", v), 2, 0)
		if err != nil {
			return err
		}
		for _, other := range ids {
			if other != id {
				return core.ConstraintError(fmt.Sprintf("Key (%s)=(%v) already exists.", d.Name, v), nil)
			}
		}
	}
	return nil
}

// apply executes relation commands of field d of the owner and returns the new list of related ids
func (u *unit) apply(ctx context.Context, owner *fields.Kind, ownerID int64, d *fields.Descriptor, existing []int64, commands []Command) ([]int64, error) {
	target, err := u.kind(d.Kind)
	if err != nil {
		return nil, err
	}
	ids := append([]int64{}, existing...)
	for _, c := range commands {
		switch c.Op {
		case CommandLink:
			if err := u.checkReference(ctx, d, c.ID); err != nil {
				return nil, err
			}
			if d.Inverse != "" {
				if err := u.adopt(ctx, owner, ownerID, d, target, c.ID); err != nil {
					return nil, err
				}
			}
			if !containsID(ids, c.ID) {
				ids = append(ids, c.ID)
			}
		case CommandCreate:
			values := Values{}
			for key, v := range c.Values {
				values[key] = v
			}
			if d.Inverse != "" {
				values[d.Inverse] = ownerID
			}
			id, err := u.create(ctx, target, values)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		default:
			return nil, fmt.Errorf("unknown relation command %d", c.Op)
		}
	}
	return ids, nil
}

// adopt moves an owned child to a new owner and maintains its inverse field
func (u *unit) adopt(ctx context.Context, owner *fields.Kind, ownerID int64, d *fields.Descriptor, target *fields.Kind, childID int64) error {
	child, err := u.backend.fetch(ctx, target, childID)
	if err != nil || child == nil {
		return err
	}
	previous, _ := child[d.Inverse].(int64)
	if previous == ownerID {
		return nil
	}
	child[d.Inverse] = ownerID
	child[fields.FieldWriteDate] = u.now()
	if err := u.backend.replace(ctx, target, childID, child); err != nil {
		return err
	}
	if previous == 0 {
		return nil
	}
	old, err := u.backend.fetch(ctx, owner, previous)
	if err != nil || old == nil {
		return err
	}
	ids, _ := old[d.Name].([]int64)
	old[d.Name] = removeID(ids, childID)
	return u.backend.replace(ctx, owner, previous, old)
}

// Write implements Store
func (e *Engine) Write(ctx context.Context, kind string, id int64, values Values) error {
	k, err := e.kind(kind)
	if err != nil {
		return err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.atomically(ctx, func(u *unit) error {
		return u.write(ctx, k, id, values)
	})
}

func (u *unit) write(ctx context.Context, k *fields.Kind, id int64, values Values) error {
	record, err := u.backend.fetch(ctx, k, id)
	if err != nil {
		return err
	}
	if record == nil {
		return recordNotFound(k, id)
	}
	relations, err := u.assign(ctx, k, record, values)
	if err != nil {
		return err
	}
	if err := u.checkConstraints(ctx, k, id, record); err != nil {
		return err
	}
	for _, r := range relations {
		existing, _ := record[r.descriptor.Name].([]int64)
		ids, err := u.apply(ctx, k, id, r.descriptor, existing, r.commands)
		if err != nil {
			return err
		}
		record[r.descriptor.Name] = ids
	}
	if err := u.updateBlobs(ctx, k, id, record, values); err != nil {
		return err
	}
	record[fields.FieldWriteDate] = u.now()
	logger.FromContext(ctx).Debugf("updated %s %d", k.Name, id)
	return u.backend.replace(ctx, k, id, record)
}

// Read implements Store
func (e *Engine) Read(ctx context.Context, kind string, id int64) (*Entity, error) {
	k, err := e.kind(kind)
	if err != nil {
		return nil, err
	}
	record, err := e.backend.fetch(ctx, k, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, recordNotFound(k, id)
	}
	if err := e.loadBlobs(ctx, k, record); err != nil {
		return nil, err
	}
	return &Entity{Kind: k.Name, ID: id, Values: record}, nil
}

// Exists implements Store
func (e *Engine) Exists(ctx context.Context, kind string, id int64) (bool, error) {
	k, err := e.kind(kind)
	if err != nil {
		return false, err
	}
	record, err := e.backend.fetch(ctx, k, id)
	return record != nil, err
}

// Search implements Store
func (e *Engine) Search(ctx context.Context, kind string, domain Domain, limit, offset int) ([]int64, error) {
	k, err := e.kind(kind)
	if err != nil {
		return nil, err
	}
	if err := check(k, domain); err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, core.InputError("limit and offset must not be negative")
	}
	return e.backend.find(ctx, k, domain, limit, offset)
}

// Delete implements Store
func (e *Engine) Delete(ctx context.Context, kind string, id int64) error {
	k, err := e.kind(kind)
	if err != nil {
		return err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.atomically(ctx, func(u *unit) error {
		return u.delete(ctx, k, id, map[string]bool{})
	})
}

func (u *unit) delete(ctx context.Context, k *fields.Kind, id int64, deleting map[string]bool) error {
	key := fmt.Sprintf("%s/%d", k.Name, id)
	if deleting[key] {
		return nil
	}
	deleting[key] = true

	record, err := u.backend.fetch(ctx, k, id)
	if err != nil {
		return err
	}
	if record == nil {
		return recordNotFound(k, id)
	}

	owned := map[string]bool{}
	for _, d := range k.Fields {
		if d.Type != fields.TypeRelationToManyOwned {
			continue
		}
		ids, _ := record[d.Name].([]int64)
		for _, child := range ids {
			owned[fmt.Sprintf("%s/%d", d.Kind, child)] = true
		}
	}
	if err := u.checkRestrict(ctx, k, id, owned); err != nil {
		return err
	}

	for _, d := range k.Fields {
		if d.Type != fields.TypeRelationToManyOwned {
			continue
		}
		target, err := u.kind(d.Kind)
		if err != nil {
			return err
		}
		ids, _ := record[d.Name].([]int64)
		for _, child := range ids {
			if err := u.delete(ctx, target, child, deleting); err != nil && core.KindOf(err) != core.KindNotFound {
				return err
			}
		}
	}
	if err := u.clearReferences(ctx, k, id); err != nil {
		return err
	}
	u.deleteBlobs(k, record)
	logger.FromContext(ctx).Debugf("deleted %s %d", k.Name, id)
	return u.backend.remove(ctx, k, id)
}

// referrers calls fn for every relation field of any kind targeting k
func (e *Engine) referrers(k *fields.Kind, fn func(referrer *fields.Kind, d *fields.Descriptor) error) error {
	for _, name := range e.registry.Kinds() {
		referrer, _ := e.registry.Kind(name)
		for i := range referrer.Fields {
			d := &referrer.Fields[i]
			if d.Type.IsRelation() && d.Kind == k.Name {
				if err := fn(referrer, d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkRestrict refuses to delete an entity that is still required by another one
func (u *unit) checkRestrict(ctx context.Context, k *fields.Kind, id int64, owned map[string]bool) error {
	return u.referrers(k, func(referrer *fields.Kind, d *fields.Descriptor) error {
		if d.Type != fields.TypeRelationToOne || !d.Required {
			return nil
		}
		ids, err := u.backend.find(ctx, referrer, Where(d.Name, "=", id), 0, 0)
		if err != nil {
			return err
		}
		for _, ref := range ids {
			if !owned[fmt.Sprintf("%s/%d", referrer.Name, ref)] {
				return core.ConstraintError(fmt.Sprintf("Key (id)=(%d) is still referenced from table \"%s\".", id, referrer.Name), nil)
			}
		}
		return nil
	})
}

// clearReferences unsets relations to one and drops the id from relations to many
func (u *unit) clearReferences(ctx context.Context, k *fields.Kind, id int64) error {
	return u.referrers(k, func(referrer *fields.Kind, d *fields.Descriptor) error {
		ids, err := u.backend.find(ctx, referrer, Where(d.Name, "=", id), 0, 0)
		if err != nil {
			return err
		}
		for _, ref := range ids {
			record, err := u.backend.fetch(ctx, referrer, ref)
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}
			if d.Type == fields.TypeRelationToOne {
				delete(record, d.Name)
			} else {
				list, _ := record[d.Name].([]int64)
				record[d.Name] = removeID(list, id)
			}
			if err := u.backend.replace(ctx, referrer, ref, record); err != nil {
				return err
			}
		}
		return nil
	})
}
