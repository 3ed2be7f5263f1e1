/*
Package store is the record store entities live in.

A Store creates, writes, reads, searches and deletes entities of the kinds
described by a field registry. Values are held in canonical forms:

	char, text, selection, html   string
	boolean                       bool
	integer                       int64
	float                         float64
	date, datetime                time.Time
	binary                        base64 encoded string
	json                          any decoded JSON value
	relation to one               int64 id, nil if unset
	relation to many              []int64 ids on read, []Command on write

The store enforces required and unique fields, referential integrity of
relations and the cascading delete of owned relations. Two backends exist,
an in-memory one and postgres.
*/
package store

import (
	"context"
	"fmt"
)

// Values maps field names to store values
type Values map[string]interface{}

// CommandOp is the operation of a relation command
type CommandOp int

// all relation command operations
const (
	// CommandLink associates an existing entity
	CommandLink CommandOp = iota
	// CommandCreate creates a new entity and associates it
	CommandCreate
)

// Command describes how to mutate a relation to many
type Command struct {
	Op     CommandOp
	ID     int64
	Values Values
}

// Link returns a command linking the existing entity id
func Link(id int64) Command {
	return Command{Op: CommandLink, ID: id}
}

// CreateNested returns a command creating a new related entity
func CreateNested(values Values) Command {
	return Command{Op: CommandCreate, Values: values}
}

func (c Command) String() string {
	if c.Op == CommandLink {
		return fmt.Sprintf("link(%d)", c.ID)
	}
	return fmt.Sprintf("create_nested(%v)", c.Values)
}

// Entity is one stored instance of a kind
type Entity struct {
	Kind   string
	ID     int64
	Values Values
}

// Get returns the value of a field, including the id
func (e *Entity) Get(field string) interface{} {
	if field == "id" {
		return e.ID
	}
	return e.Values[field]
}

// Store is the record store
type Store interface {
	// Create creates an entity and returns its id
	Create(ctx context.Context, kind string, values Values) (int64, error)
	// Write updates the given fields of an entity. Relation commands add to the existing relation.
	Write(ctx context.Context, kind string, id int64, values Values) error
	// Read returns the entity or a core.NotFoundError
	Read(ctx context.Context, kind string, id int64) (*Entity, error)
	// Exists is true if the entity exists
	Exists(ctx context.Context, kind string, id int64) (bool, error)
	// Search returns the ids of matching entities in ascending order. A limit of 0 means no limit.
	Search(ctx context.Context, kind string, domain Domain, limit, offset int) ([]int64, error)
	// Delete deletes the entity and everything it owns
	Delete(ctx context.Context, kind string, id int64) error
}
