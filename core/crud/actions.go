package crud

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/project"
	"github.com/relabs-tech/restful/core/request"
)

// ActionHandler runs a named action on one entity. A non-empty result is
// reported to the caller.
type ActionHandler func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error)

// Actions is the allow-list of invocable actions per kind
type Actions struct {
	mutex    sync.RWMutex
	handlers map[string]map[string]ActionHandler
}

// NewActions returns an empty allow-list
func NewActions() *Actions {
	return &Actions{handlers: map[string]map[string]ActionHandler{}}
}

// Register allows action name on kind
func (a *Actions) Register(kind, name string, handler ActionHandler) *Actions {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.handlers[kind] == nil {
		a.handlers[kind] = map[string]ActionHandler{}
	}
	a.handlers[kind][name] = handler
	return a
}

// Lookup returns the handler of action name on kind
func (a *Actions) Lookup(kind, name string) (ActionHandler, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	h, ok := a.handlers[kind][name]
	return h, ok
}

// Names returns the sorted action names of kind
func (a *Actions) Names(kind string) []string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	names := []string{}
	for name := range a.handlers[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAction runs an allowed action on an existing entity
func (o *Orchestrator) RunAction(ctx context.Context, env *request.Env, kind string, id int64, name string) (*project.Object, error) {
	if name == "" {
		return nil, core.InputError("Missing action_name")
	}
	k, ok := env.Fields.Kind(kind)
	if !ok {
		return nil, core.InputError("Invalid model")
	}
	exists, err := env.Store.Exists(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.NotFoundError("Record not found")
	}
	handler, ok := o.actions.Lookup(kind, name)
	if !ok {
		return nil, core.InputError("Invalid action")
	}
	if !env.Principal.IsAuthorized(k.Permits, core.OperationAction) {
		return nil, core.ErrAuthorization
	}

	ctx, rlog := logger.ContextWithLoggerKind(ctx, kind)
	rlog.Infof("action %s on %d", name, id)
	result, err := handler(ctx, env, kind, id)
	if err != nil {
		return nil, err
	}
	response := project.NewObject().
		Set("error", false).
		Set("record_id", id).
		Set("action", name).
		Set("message", fmt.Sprintf("Action '%s' executed successfully", name))
	if truthy(result) {
		response.Set("action_result", result)
	}
	return response, nil
}

// truthy is false for nil, false, zero numbers and empty strings, lists and maps
func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	r := reflect.ValueOf(v)
	switch r.Kind() {
	case reflect.Bool:
		return r.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return r.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return r.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return r.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return r.Float() != 0
	case reflect.Ptr, reflect.Interface:
		return !r.IsNil()
	}
	return true
}
