package cart

import (
	"context"
	"sync"
)

// Repository persists one cart snapshot per session. Implementations treat a
// corrupt stored payload as an empty cart and purge the bad entry rather than
// failing the load.
type Repository interface {
	Load(ctx context.Context, session string) (*Cart, error)
	Save(ctx context.Context, session string, c *Cart) error
	Delete(ctx context.Context, session string) error
}

// memoryRepo keeps carts in a map. Used in tests and as the "memory" storage
// backend.
type memoryRepo struct {
	mu    sync.RWMutex
	carts map[string][]Item
}

// NewMemoryRepo creates an in-memory Repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{carts: make(map[string][]Item)}
}

func (r *memoryRepo) Load(_ context.Context, session string) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items, ok := r.carts[session]
	if !ok {
		return &Cart{}, nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return &Cart{Items: out}, nil
}

func (r *memoryRepo) Save(_ context.Context, session string, c *Cart) error {
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	r.mu.Lock()
	r.carts[session] = items
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, session string) error {
	r.mu.Lock()
	delete(r.carts, session)
	r.mu.Unlock()
	return nil
}
