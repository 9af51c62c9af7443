package order

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// DefaultPollInterval is how often tracked orders are re-fetched.
const DefaultPollInterval = 3 * time.Second

// TrackerCallbacks receive order lifecycle events. All callbacks are optional
// and are invoked from the tracker's polling goroutine.
type TrackerCallbacks struct {
	// OnUpdate fires whenever the observed status changes, including the
	// first observation.
	OnUpdate func(backend.Order)
	// OnReady fires at most once per tracked order, when it becomes
	// available for pickup.
	OnReady func(backend.Order)
	// OnCompleted fires at most once per tracked order, when it completes.
	OnCompleted func(backend.Order)
}

// Tracker polls the backend for the status of watched orders. Each order gets
// its own goroutine that fetches immediately, then every interval, and stops
// on its own once the order reaches a terminal status. Fetch errors are
// logged and the poll continues.
type Tracker struct {
	orders    Backend
	interval  time.Duration
	callbacks TrackerCallbacks
	logger    zerolog.Logger

	mu       sync.Mutex
	watchers map[int64]*watcher
}

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}

	lastStatus    string
	readyOnce     sync.Once
	completedOnce sync.Once
}

func NewTracker(orders Backend, interval time.Duration, callbacks TrackerCallbacks, logger zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		orders:    orders,
		interval:  interval,
		callbacks: callbacks,
		logger:    logger.With().Str("component", "order-tracker").Logger(),
		watchers:  make(map[int64]*watcher),
	}
}

// Track starts polling the order. Tracking an already tracked order is a
// no-op.
func (t *Tracker) Track(ctx context.Context, orderID int64) {
	t.mu.Lock()
	if _, ok := t.watchers[orderID]; ok {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{cancel: cancel, done: make(chan struct{})}
	t.watchers[orderID] = w
	t.mu.Unlock()

	t.logger.Info().Int64("order_id", orderID).Msg("tracking order")
	go t.run(ctx, w, orderID)
}

// Stop cancels tracking of an order and waits for its poller to exit.
// Stopping an untracked order is a no-op.
func (t *Tracker) Stop(orderID int64) {
	t.mu.Lock()
	w, ok := t.watchers[orderID]
	if ok {
		delete(t.watchers, orderID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// StopAll cancels every active watch. Used at shutdown.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	watchers := t.watchers
	t.watchers = make(map[int64]*watcher)
	t.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
}

// Tracking reports whether the order currently has a poller.
func (t *Tracker) Tracking(orderID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.watchers[orderID]
	return ok
}

func (t *Tracker) run(ctx context.Context, w *watcher, orderID int64) {
	defer close(w.done)
	defer w.cancel()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if t.poll(ctx, w, orderID) {
			t.mu.Lock()
			delete(t.watchers, orderID)
			t.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches the order once and reports whether tracking should stop.
func (t *Tracker) poll(ctx context.Context, w *watcher, orderID int64) bool {
	o, err := t.orders.GetOrder(ctx, orderID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		t.logger.Warn().Err(err).Int64("order_id", orderID).Msg("order poll failed")
		return false
	}

	if o.Status != w.lastStatus {
		w.lastStatus = o.Status
		t.logger.Info().Int64("order_id", orderID).Str("status", o.Status).Msg("order status changed")
		if t.callbacks.OnUpdate != nil {
			t.callbacks.OnUpdate(*o)
		}
	}

	switch o.Status {
	case backend.StatusAvailable:
		if t.callbacks.OnReady != nil {
			w.readyOnce.Do(func() { t.callbacks.OnReady(*o) })
		}
	case backend.StatusCompleted:
		if t.callbacks.OnCompleted != nil {
			w.completedOnce.Do(func() { t.callbacks.OnCompleted(*o) })
		}
		return true
	case backend.StatusCancelled:
		return true
	}
	return false
}
