package store

import (
	"context"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/fields"
)

// Guard returns a store that checks every operation against the permits of
// the kind for the given principal. Nested creations through relation
// commands require the create permit of the related kind.
func Guard(inner Store, registry *fields.Registry, principal *access.Principal) Store {
	return &guard{inner: inner, registry: registry, principal: principal}
}

type guard struct {
	inner     Store
	registry  *fields.Registry
	principal *access.Principal
}

func (g *guard) authorize(kind string, operation core.Operation) error {
	k, ok := g.registry.Kind(kind)
	if !ok {
		return core.NotFoundError("Invalid model %s", kind)
	}
	if !g.principal.IsAuthorized(k.Permits, operation) {
		return core.ErrAuthorization
	}
	return nil
}

func (g *guard) authorizeNested(kind string, values Values) error {
	k, ok := g.registry.Kind(kind)
	if !ok {
		return nil
	}
	for _, d := range k.Fields {
		commands, ok := values[d.Name].([]Command)
		if !ok || !d.Type.IsToMany() {
			continue
		}
		for _, c := range commands {
			if c.Op != CommandCreate {
				continue
			}
			if err := g.authorize(d.Kind, core.OperationCreate); err != nil {
				return err
			}
			if err := g.authorizeNested(d.Kind, c.Values); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *guard) Create(ctx context.Context, kind string, values Values) (int64, error) {
	if err := g.authorize(kind, core.OperationCreate); err != nil {
		return 0, err
	}
	if err := g.authorizeNested(kind, values); err != nil {
		return 0, err
	}
	return g.inner.Create(ctx, kind, values)
}

func (g *guard) Write(ctx context.Context, kind string, id int64, values Values) error {
	if err := g.authorize(kind, core.OperationUpdate); err != nil {
		return err
	}
	if err := g.authorizeNested(kind, values); err != nil {
		return err
	}
	return g.inner.Write(ctx, kind, id, values)
}

func (g *guard) Read(ctx context.Context, kind string, id int64) (*Entity, error) {
	if err := g.authorize(kind, core.OperationRead); err != nil {
		return nil, err
	}
	return g.inner.Read(ctx, kind, id)
}

func (g *guard) Exists(ctx context.Context, kind string, id int64) (bool, error) {
	if err := g.authorize(kind, core.OperationRead); err != nil {
		return false, err
	}
	return g.inner.Exists(ctx, kind, id)
}

func (g *guard) Search(ctx context.Context, kind string, domain Domain, limit, offset int) ([]int64, error) {
	if err := g.authorize(kind, core.OperationList); err != nil {
		return nil, err
	}
	return g.inner.Search(ctx, kind, domain, limit, offset)
}

func (g *guard) Delete(ctx context.Context, kind string, id int64) error {
	if err := g.authorize(kind, core.OperationDelete); err != nil {
		return err
	}
	return g.inner.Delete(ctx, kind, id)
}
