package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/relabs-tech/restful/core"
)

// MemoryRepository keeps tokens in memory. This is go-routine safe.
type MemoryRepository struct {
	mutex  sync.RWMutex
	tokens map[string]Token
}

// NewMemoryRepository returns an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: map[string]Token{}}
}

// Insert implements Repository
func (r *MemoryRepository) Insert(ctx context.Context, t Token) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.tokens[t.Value]; ok {
		return core.ConstraintError("Key (value) already exists.", nil)
	}
	r.tokens[t.Value] = t
	return nil
}

// Lookup implements Repository
func (r *MemoryRepository) Lookup(ctx context.Context, value string) (*Token, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.tokens[value]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// DeleteExpired implements Repository
func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var n int64
	for value, t := range r.tokens {
		if t.Expired(now) {
			delete(r.tokens, value)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens
func (r *MemoryRepository) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.tokens)
}
