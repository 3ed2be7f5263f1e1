package store

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/restful/core/fields"
)

// NewMemory returns a store keeping all entities in memory
func NewMemory(registry *fields.Registry) *Engine {
	return newEngine(registry, &memory{
		tables: map[string]map[int64]Values{},
		nextID: map[string]int64{},
	})
}

type memory struct {
	mutex  sync.RWMutex
	tables map[string]map[int64]Values
	nextID map[string]int64
}

func (m *memory) insert(ctx context.Context, k *fields.Kind, values Values) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.nextID[k.Name]++
	id := m.nextID[k.Name]
	table, ok := m.tables[k.Name]
	if !ok {
		table = map[int64]Values{}
		m.tables[k.Name] = table
	}
	table[id] = copyValues(values)
	return id, nil
}

func (m *memory) replace(ctx context.Context, k *fields.Kind, id int64, values Values) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.tables[k.Name][id]; !ok {
		return recordNotFound(k, id)
	}
	m.tables[k.Name][id] = copyValues(values)
	return nil
}

func (m *memory) fetch(ctx context.Context, k *fields.Kind, id int64) (Values, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	values, ok := m.tables[k.Name][id]
	if !ok {
		return nil, nil
	}
	return copyValues(values), nil
}

func (m *memory) remove(ctx context.Context, k *fields.Kind, id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.tables[k.Name], id)
	return nil
}

func (m *memory) begin(ctx context.Context) (transaction, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	nextID := make(map[string]int64, len(m.nextID))
	for kind, id := range m.nextID {
		nextID[kind] = id
	}
	return &memoryTx{memory: m, undo: map[string]map[int64]Values{}, nextID: nextID}, nil
}

// memoryTx writes straight into the memory tables and keeps the previous
// state of every record it touches, so rollback can restore it.
type memoryTx struct {
	*memory
	// undo holds the state before the first write per record, nil if the record did not exist
	undo   map[string]map[int64]Values
	nextID map[string]int64
}

func (t *memoryTx) remember(k *fields.Kind, id int64, previous Values) {
	records, ok := t.undo[k.Name]
	if !ok {
		records = map[int64]Values{}
		t.undo[k.Name] = records
	}
	if _, done := records[id]; !done {
		records[id] = previous
	}
}

func (t *memoryTx) current(k *fields.Kind, id int64) Values {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.tables[k.Name][id]
}

func (t *memoryTx) insert(ctx context.Context, k *fields.Kind, values Values) (int64, error) {
	id, err := t.memory.insert(ctx, k, values)
	if err == nil {
		t.remember(k, id, nil)
	}
	return id, err
}

func (t *memoryTx) replace(ctx context.Context, k *fields.Kind, id int64, values Values) error {
	t.remember(k, id, t.current(k, id))
	return t.memory.replace(ctx, k, id, values)
}

func (t *memoryTx) remove(ctx context.Context, k *fields.Kind, id int64) error {
	t.remember(k, id, t.current(k, id))
	return t.memory.remove(ctx, k, id)
}

func (t *memoryTx) commit() error {
	return nil
}

func (t *memoryTx) rollback() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for kind, records := range t.undo {
		for id, previous := range records {
			if previous == nil {
				delete(t.tables[kind], id)
			} else {
				t.tables[kind][id] = previous
			}
		}
	}
	t.memory.nextID = t.nextID
	return nil
}

func (m *memory) find(ctx context.Context, k *fields.Kind, domain Domain, limit, offset int) ([]int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	table := m.tables[k.Name]
	ids := make([]int64, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := []int64{}
	skipped := 0
	for _, id := range ids {
		ok, err := matches(k, id, table[id], domain)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, id)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func matches(k *fields.Kind, id int64, record Values, domain Domain) (bool, error) {
	switch d := domain.(type) {
	case nil:
		return true, nil
	case And:
		for _, m := range d {
			ok, err := matches(k, id, record, m)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, m := range d {
			ok, err := matches(k, id, record, m)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case Not:
		ok, err := matches(k, id, record, d.Domain)
		return !ok, err
	case Condition:
		descriptor, ok := k.Field(d.Field)
		if !ok {
			return false, nil
		}
		var have interface{} = record[d.Field]
		if d.Field == fields.FieldID {
			have = id
		}
		return compare(descriptor, have, d.Operator, d.Value)
	}
	return false, nil
}

func compare(d *fields.Descriptor, have interface{}, operator string, want interface{}) (bool, error) {
	switch operator {
	case "=":
		return equal(d, have, want)
	case "!=":
		eq, err := equal(d, have, want)
		return !eq, err
	case "in", "not in":
		list, _ := asList(want)
		found := false
		for _, w := range list {
			eq, err := equal(d, have, w)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		return found == (operator == "in"), nil
	case "like", "ilike":
		s, ok := have.(string)
		if !ok {
			return false, nil
		}
		pattern, _ := want.(string)
		if operator == "ilike" {
			s, pattern = strings.ToLower(s), strings.ToLower(pattern)
		}
		return strings.Contains(s, pattern), nil
	}

	if have == nil {
		return false, nil
	}
	w, err := normalize(d, want)
	if err != nil || w == nil {
		return false, err
	}
	c, ok := order(have, w)
	if !ok {
		return false, nil
	}
	switch operator {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, nil
}

func equal(d *fields.Descriptor, have, want interface{}) (bool, error) {
	if d.Type.IsToMany() {
		ids, _ := have.([]int64)
		if want == nil || want == false {
			return len(ids) == 0, nil
		}
		id, err := toInt64(d, want)
		if err != nil {
			return false, err
		}
		return containsID(ids, id), nil
	}
	w, err := normalize(d, want)
	if err != nil {
		return false, err
	}
	if w == nil || have == nil {
		return w == nil && have == nil, nil
	}
	if t, ok := have.(time.Time); ok {
		wt, ok := w.(time.Time)
		return ok && t.Equal(wt), nil
	}
	return reflect.DeepEqual(have, w), nil
}

// order compares two canonical values of the same field
func order(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp(float64(x), float64(y)), true
		case float64:
			return cmp(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmp(x, float64(y)), true
		case float64:
			return cmp(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func cmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
