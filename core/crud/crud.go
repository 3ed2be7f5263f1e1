/*
Package crud orchestrates create, update, delete, search and filter of
entities. Each operation translates its input with package translate, runs it
against the store of the request environment and projects the result with
package project.
*/
package crud

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/project"
	"github.com/relabs-tech/restful/core/request"
	"github.com/relabs-tech/restful/core/store"
	"github.com/relabs-tech/restful/core/translate"
)

// DefaultLimit bounds search results if the caller gives no limit
const DefaultLimit = 100

// Orchestrator runs the CRUD operations
type Orchestrator struct {
	notifier core.Notifier
	actions  *Actions
}

// New returns an orchestrator. notifier and actions are optional.
func New(notifier core.Notifier, actions *Actions) *Orchestrator {
	if actions == nil {
		actions = NewActions()
	}
	return &Orchestrator{notifier: notifier, actions: actions}
}

// Actions returns the action allow-list
func (o *Orchestrator) Actions() *Actions {
	return o.actions
}

// Query describes a search
type Query struct {
	Domain store.Domain
	// Limit 0 means DefaultLimit, a negative limit means no limit
	Limit  int
	Offset int
	Fields []string
}

func (o *Orchestrator) validate(env *request.Env, kind string, input map[string]interface{}) error {
	k, ok := env.Fields.Kind(kind)
	if !ok {
		return core.NotFoundError("Invalid model %s", kind)
	}
	if k.SchemaID == "" || !env.Validator.HasSchema(k.SchemaID) {
		return nil
	}
	return env.Validator.ValidatePayload(input, k.SchemaID)
}

func (o *Orchestrator) notify(ctx context.Context, kind string, operation core.Operation, id int64, payload interface{}) {
	if o.notifier == nil {
		return
	}
	rlog := logger.FromContext(ctx)
	data, err := json.Marshal(payload)
	if err != nil {
		rlog.WithError(err).Errorf("cannot marshal notification for %s %d", kind, id)
		return
	}
	if err := o.notifier.Notify(ctx, kind, operation, id, data); err != nil {
		rlog.WithError(err).Errorf("cannot notify %s on %s %d", operation, kind, id)
	}
}

// Create translates input, creates the entity and returns its projection
func (o *Orchestrator) Create(ctx context.Context, env *request.Env, kind string, input map[string]interface{}, opts project.Options) (*project.Object, error) {
	ctx, rlog := logger.ContextWithLoggerKind(ctx, kind)
	if err := o.validate(env, kind, input); err != nil {
		return nil, err
	}
	values, err := translate.Translate(ctx, env, kind, input)
	if err != nil {
		return nil, err
	}
	id, err := env.Store.Create(ctx, kind, values)
	if err != nil {
		return nil, err
	}
	rlog.Infoln("created", id)
	result, err := project.One(ctx, env, kind, id, opts)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, kind, core.OperationCreate, id, result)
	return result, nil
}

// Update writes the fields of input to the entity identified by input["id"].
// ok is false if there is no id or no such entity; nothing is written then.
func (o *Orchestrator) Update(ctx context.Context, env *request.Env, kind string, input map[string]interface{}, opts project.Options) (result *project.Object, ok bool, err error) {
	id, valid := identifier(input[fields.FieldID])
	if !valid {
		return nil, false, nil
	}
	ctx, rlog := logger.ContextWithLoggerKind(ctx, kind)
	exists, err := env.Store.Exists(ctx, kind, id)
	if err != nil || !exists {
		return nil, false, err
	}
	payload := make(map[string]interface{}, len(input))
	for k, v := range input {
		if k != fields.FieldID {
			payload[k] = v
		}
	}
	if err := o.validate(env, kind, payload); err != nil {
		return nil, false, err
	}
	values, err := translate.Translate(ctx, env, kind, payload)
	if err != nil {
		return nil, false, err
	}
	if err := env.Store.Write(ctx, kind, id, values); err != nil {
		return nil, false, err
	}
	rlog.Infoln("updated", id)
	result, err = project.One(ctx, env, kind, id, opts)
	if err != nil {
		return nil, false, err
	}
	o.notify(ctx, kind, core.OperationUpdate, id, result)
	return result, true, nil
}

// Delete deletes the entity and returns {"id": id}
func (o *Orchestrator) Delete(ctx context.Context, env *request.Env, kind string, id int64) (*project.Object, error) {
	if id <= 0 {
		return nil, core.InputError("Missing Record_id")
	}
	ctx, rlog := logger.ContextWithLoggerKind(ctx, kind)
	exists, err := env.Store.Exists(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.NotFoundError("Record not found.")
	}
	if err := env.Store.Delete(ctx, kind, id); err != nil {
		return nil, err
	}
	rlog.Infoln("deleted", id)
	result := project.NewObject().Set(fields.FieldID, id)
	o.notify(ctx, kind, core.OperationDelete, id, result)
	return result, nil
}

// SearchAll returns the projections of all entities matching the query
func (o *Orchestrator) SearchAll(ctx context.Context, env *request.Env, kind string, q Query) ([]*project.Object, error) {
	limit := q.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0:
		limit = 0
	}
	ids, err := env.Store.Search(ctx, kind, q.Domain, limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return project.Each(ctx, env, kind, ids, project.Options{Fields: q.Fields})
}

// SearchOne returns the projection of one entity
func (o *Orchestrator) SearchOne(ctx context.Context, env *request.Env, kind string, id int64, opts project.Options) (*project.Object, error) {
	exists, err := env.Store.Exists(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.NotFoundError("Record not found.")
	}
	return project.One(ctx, env, kind, id, opts)
}

// Filter searches with keyword in the filter fields of the kind, ignoring
// domain. Without keyword it searches with domain.
func (o *Orchestrator) Filter(ctx context.Context, env *request.Env, kind string, domain store.Domain, keyword string, opts project.Options) ([]*project.Object, error) {
	if keyword != "" {
		var err error
		if domain, err = KeywordDomain(env.Fields, kind, keyword); err != nil {
			return nil, err
		}
	}
	ids, err := env.Store.Search(ctx, kind, domain, 0, 0)
	if err != nil {
		return nil, err
	}
	return project.Each(ctx, env, kind, ids, opts)
}

// KeywordDomain returns the or-combination of "like" conditions on the filter fields of kind
func KeywordDomain(registry *fields.Registry, kind, keyword string) (store.Domain, error) {
	k, ok := registry.Kind(kind)
	if !ok {
		return nil, core.NotFoundError("Invalid model %s", kind)
	}
	conditions := make(store.Or, 0, len(k.FilterFields))
	for _, f := range k.FilterFields {
		conditions = append(conditions, store.Where(f, "like", keyword))
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return conditions, nil
}

// identifier accepts positive integral ids
func identifier(v interface{}) (int64, bool) {
	switch i := v.(type) {
	case float64:
		if i > 0 && i == float64(int64(i)) {
			return int64(i), true
		}
	case int64:
		return i, i > 0
	case int:
		return int64(i), i > 0
	case string:
		var id int64
		if err := json.Unmarshal([]byte(i), &id); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
