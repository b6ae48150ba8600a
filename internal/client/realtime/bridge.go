// Package realtime keeps one owner-scoped change subscription open while a
// user is signed in and turns the change events it delivers into habit
// refreshes.
package realtime

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/client/session"
	"github.com/atinyakov/HabitKeeper/internal/metrics"
	"github.com/atinyakov/HabitKeeper/internal/models"
)

// SessionSource is the part of the session store the bridge observes.
type SessionSource interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Subscriber opens a change subscription on a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(models.ChangeEvent)) (io.Closer, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, channel string, handler func(models.ChangeEvent)) (io.Closer, error)

// Subscribe calls f.
func (f SubscriberFunc) Subscribe(ctx context.Context, channel string, handler func(models.ChangeEvent)) (io.Closer, error) {
	return f(ctx, channel, handler)
}

// Refresher re-fetches the habit snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithDebounce collapses the refreshes triggered by events arriving
// within d of the first one into a single refresh fired when the window
// closes. Zero, the default, refreshes once per event.
func WithDebounce(d time.Duration) Option {
	return func(b *Bridge) { b.debounce = d }
}

// subscription is one open channel subscription for one owner.
type subscription struct {
	ownerID string
	closer  io.Closer
	once    sync.Once
}

// Bridge follows the session: subscribed while authenticated, otherwise
// not. It is started once with Start and stopped with Close.
type Bridge struct {
	sessions  SessionSource
	sub       Subscriber
	refresher Refresher
	channel   string
	log       *zap.Logger
	metrics   metrics.Recorder
	debounce  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	pending     *session.State
	current     *subscription
	timer       *time.Timer
	unsubscribe func()
	started     bool
	closed      bool
}

// New returns a Bridge that subscribes to channel and refreshes through
// refresher.
func New(sessions SessionSource, sub Subscriber, refresher Refresher, channel string, opts ...Option) *Bridge {
	b := &Bridge{
		sessions:  sessions,
		sub:       sub,
		refresher: refresher,
		channel:   channel,
		log:       zap.NewNop(),
		metrics:   metrics.Nop{},
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start begins following the session. Later calls are no-ops.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	unsubscribe := b.sessions.Subscribe(b.enqueue)
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
	b.enqueue(b.sessions.State())

	b.wg.Add(1)
	go b.run()
}

// Close releases the subscription and waits for triggered refreshes to
// finish. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	cancel := b.cancel
	if b.timer != nil && b.timer.Stop() {
		b.wg.Done()
	}
	b.timer = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	current := b.current
	b.current = nil
	b.mu.Unlock()
	b.release(current)
	return nil
}

// Subscribed reports the owner of the open subscription, if any.
func (b *Bridge) Subscribed() (ownerID string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return "", false
	}
	return b.current.ownerID, true
}

// enqueue records the latest session state for the run loop. Only the most
// recent state matters, so older pending states are overwritten.
func (b *Bridge) enqueue(st session.State) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = &st
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
			b.mu.Lock()
			st := b.pending
			b.pending = nil
			b.mu.Unlock()
			if st != nil {
				b.reconcile(*st)
			}
		}
	}
}

// reconcile moves the subscription to match st.
func (b *Bridge) reconcile(st session.State) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	if st.Authenticated() && current != nil && current.ownerID == st.Identity.ID {
		return
	}

	if current != nil {
		b.mu.Lock()
		b.current = nil
		b.mu.Unlock()
		b.release(current)
	}

	if !st.Authenticated() {
		return
	}

	ownerID := st.Identity.ID
	next := &subscription{ownerID: ownerID}
	closer, err := b.sub.Subscribe(b.ctx, b.channel, func(ev models.ChangeEvent) {
		b.handle(next, ev)
	})
	if err != nil {
		b.log.Warn("failed to open realtime subscription", zap.String("user_id", ownerID), zap.Error(err))
		return
	}
	next.closer = closer

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.release(next)
		return
	}
	b.current = next
	b.mu.Unlock()

	b.metrics.SubscriptionOpened()
	b.log.Info("realtime subscription opened", zap.String("user_id", ownerID), zap.String("channel", b.channel))
}

// release closes s exactly once.
func (b *Bridge) release(s *subscription) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.closer == nil {
			return
		}
		if err := s.closer.Close(); err != nil {
			b.log.Warn("failed to close realtime subscription", zap.Error(err))
		}
		b.metrics.SubscriptionClosed()
		b.log.Info("realtime subscription closed", zap.String("user_id", s.ownerID))
	})
}

// handle filters and classifies one event delivered on s.
func (b *Bridge) handle(s *subscription, ev models.ChangeEvent) {
	b.mu.Lock()
	active := b.current == s && !b.closed
	b.mu.Unlock()
	if !active {
		return
	}

	// Only an explicit, different owner makes an event foreign.
	if ev.HasOwner && ev.OwnerID != s.ownerID {
		b.metrics.RealtimeEvent(metrics.RealtimeForeign)
		b.log.Debug("dropping event for another user", zap.Strings("events", ev.Events))
		return
	}

	ev.Kind = Classify(ev.Events)
	b.metrics.RealtimeEvent(ev.Kind.String())
	if ev.Kind == models.EventUnknown {
		b.log.Debug("ignoring unrecognized event", zap.Strings("events", ev.Events))
		return
	}
	b.trigger()
}

// trigger schedules a refresh according to the debounce setting.
func (b *Bridge) trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if b.debounce <= 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.refresh()
		}()
		return
	}

	if b.timer != nil {
		return
	}
	b.wg.Add(1)
	b.timer = time.AfterFunc(b.debounce, func() {
		defer b.wg.Done()
		b.mu.Lock()
		fire := b.timer != nil && !b.closed
		b.timer = nil
		b.mu.Unlock()
		if fire {
			b.refresh()
		}
	})
}

func (b *Bridge) refresh() {
	if err := b.refresher.Refresh(b.ctx); err != nil {
		b.log.Warn("refresh after change event failed", zap.Error(err))
	}
}

// Classify derives the change kind from the event tags. The last dot
// segment of each tag is checked first ("...rows.42.create"); if no tag
// ends in a known action, the first tag containing one decides.
func Classify(events []string) models.EventKind {
	for _, tag := range events {
		action := tag
		if i := strings.LastIndexByte(tag, '.'); i >= 0 {
			action = tag[i+1:]
		}
		if kind, ok := actionKind(action, true); ok {
			return kind
		}
	}
	for _, tag := range events {
		if kind, ok := actionKind(tag, false); ok {
			return kind
		}
	}
	return models.EventUnknown
}

func actionKind(s string, exact bool) (models.EventKind, bool) {
	for _, a := range []struct {
		name string
		kind models.EventKind
	}{
		{"create", models.EventCreated},
		{"update", models.EventUpdated},
		{"delete", models.EventDeleted},
	} {
		if (exact && s == a.name) || (!exact && strings.Contains(s, a.name)) {
			return a.kind, true
		}
	}
	return models.EventUnknown, false
}
