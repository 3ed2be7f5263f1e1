package core

import "context"

// Notifier is an interface to receive write notifications. Payload is the
// JSON projection of the entity after the operation, or {"id":..} for deletes.
type Notifier interface {
	Notify(ctx context.Context, kind string, operation Operation, id int64, payload []byte) error
}
