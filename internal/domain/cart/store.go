package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// Store serializes all mutations of one session's cart through a single
// mutex, persists the full item list after every change and notifies
// subscribers synchronously, in subscription order, with a snapshot of the
// new state. Last write wins between concurrent callers.
type Store struct {
	session string
	repo    Repository
	logger  zerolog.Logger

	mu      sync.Mutex
	cart    Cart
	subs    map[int]func(Cart)
	nextSub int
}

// NewStore creates a Store for a session, loading any persisted cart. A load
// error is not fatal: the store starts empty and logs the failure.
func NewStore(ctx context.Context, session string, repo Repository, logger zerolog.Logger) *Store {
	s := &Store{
		session: session,
		repo:    repo,
		logger:  logger.With().Str("component", "cart").Str("session", session).Logger(),
		subs:    make(map[int]func(Cart)),
	}

	loaded, err := repo.Load(ctx, session)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading persisted cart failed, starting empty")
		return s
	}
	s.cart = *loaded
	return s
}

// Session returns the session this store belongs to.
func (s *Store) Session() string {
	return s.session
}

// Cart returns a snapshot of the current cart.
func (s *Store) Cart() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Summary returns the derived view of the current cart.
func (s *Store) Summary() Summary {
	c := s.Cart()
	return c.Summarize()
}

// Subscribe registers fn to be called with a snapshot after every mutation.
// The returned function removes the subscription and is safe to call more
// than once.
func (s *Store) Subscribe(fn func(Cart)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// AddItem puts a medication in the cart. If the line already exists its
// quantity grows instead, clamped to MaxQuantity. A quantity below 1 counts
// as 1.
func (s *Store) AddItem(ctx context.Context, item Item) error {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.Quantity > MaxQuantity {
		item.Quantity = MaxQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	if idx := next.find(item.MedicationID); idx >= 0 {
		q := next.Items[idx].Quantity + item.Quantity
		if q > MaxQuantity {
			q = MaxQuantity
		}
		next.Items[idx].Quantity = q
		if item.Prescription != nil {
			next.Items[idx].Prescription = item.Prescription
		}
	} else {
		item.AddedAt = time.Now().UTC()
		next.Items = append(next.Items, item)
	}

	return s.commitLocked(ctx, next)
}

// UpdateQuantity sets the quantity of a line. Zero or negative removes the
// line; values above MaxQuantity are clamped. Unknown medication IDs are a
// no-op.
func (s *Store) UpdateQuantity(ctx context.Context, medicationID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	idx := next.find(medicationID)
	if idx < 0 {
		return nil
	}

	if quantity <= 0 {
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	} else {
		if quantity > MaxQuantity {
			quantity = MaxQuantity
		}
		next.Items[idx].Quantity = quantity
	}

	return s.commitLocked(ctx, next)
}

// RemoveItem deletes a line. Removing an absent medication is a no-op, so the
// call is idempotent.
func (s *Store) RemoveItem(ctx context.Context, medicationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	idx := next.find(medicationID)
	if idx < 0 {
		return nil
	}
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)

	return s.commitLocked(ctx, next)
}

// AttachPrescription links a prescription to an existing line. Unknown
// medication IDs are a no-op.
func (s *Store) AttachPrescription(ctx context.Context, medicationID int64, p *backend.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshotLocked()
	idx := next.find(medicationID)
	if idx < 0 {
		return nil
	}
	next.Items[idx].Prescription = p

	return s.commitLocked(ctx, next)
}

// Clear empties the cart and removes the persisted snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.session); err != nil {
		return err
	}
	s.cart = Cart{}
	s.notifyLocked()
	return nil
}

// commitLocked persists the candidate state and installs it as the current
// cart only once the save succeeded, so a failed save leaves the cart exactly
// as the caller found it and the retry starts clean. Callers hold the mutex.
func (s *Store) commitLocked(ctx context.Context, next Cart) error {
	if err := s.repo.Save(ctx, s.session, &next); err != nil {
		return err
	}
	s.cart = next
	s.notifyLocked()
	return nil
}

// notifyLocked delivers a snapshot to every subscriber in subscription order.
// Delivery is synchronous so a caller observes all side effects of its own
// mutation before the mutating method returns.
func (s *Store) notifyLocked() {
	snapshot := s.snapshotLocked()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	// map iteration order is random; deliver in subscription order
	sort.Ints(ids)
	for _, id := range ids {
		s.subs[id](snapshot)
	}
}

func (s *Store) snapshotLocked() Cart {
	items := make([]Item, len(s.cart.Items))
	copy(items, s.cart.Items)
	return Cart{Items: items}
}
