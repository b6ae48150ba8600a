// Package session holds the authenticated identity of the client and the
// operations that change it: sign-up, sign-in, sign-out and the one-time
// start-up rehydration from an existing gateway session.
//
// The Store is the only writer of session state. Other components read it
// through State and Current, or observe transitions through Subscribe.
package session

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/metrics"
	"github.com/atinyakov/HabitKeeper/internal/models"
)

// Display fallbacks used when a gateway failure carries no usable message.
const (
	signUpFallback  = "An unknown error occurred during sign up."
	signInFallback  = "An unknown error occurred during sign in."
	signOutFallback = "An unknown error occurred during sign out."
)

// Status is the session status.
type Status int

const (
	// StatusUnknown holds only until start-up rehydration resolves.
	StatusUnknown Status = iota
	// StatusAuthenticated means an identity is cached.
	StatusAuthenticated
	// StatusUnauthenticated means there is no session.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is a snapshot of the session. Identity is zero unless Status is
// StatusAuthenticated.
type State struct {
	Status   Status
	Identity models.Identity
}

// Authenticated reports whether s carries an identity.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Gateway is the subset of the remote gateway the Store needs.
type Gateway interface {
	// CreateAccount registers an account without opening a session.
	CreateAccount(ctx context.Context, email, password string) (string, error)
	// CreateSession opens an email/password session.
	CreateSession(ctx context.Context, email, password string) error
	// CurrentIdentity returns the identity behind the current session.
	CurrentIdentity(ctx context.Context) (models.Identity, error)
	// DeleteSession ends the current session.
	DeleteSession(ctx context.Context) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

type listener struct {
	id int
	fn func(State)
}

// Store owns the session state.
type Store struct {
	gateway Gateway
	log     *zap.Logger
	metrics metrics.Recorder

	// opMu serializes rehydration and sign operations so transitions and
	// their notifications happen one at a time.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	epoch     uint64
	listeners []listener
	nextID    int

	rehydrateOnce sync.Once
}

// New returns a Store in StatusUnknown.
func New(gateway Gateway, opts ...Option) *Store {
	s := &Store{
		gateway: gateway,
		log:     zap.NewNop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the state together with its epoch. The epoch changes on
// every transition, so a caller that captured it before a slow call can
// tell whether the session changed meanwhile.
func (s *Store) Current() (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.epoch
}

// Loading reports whether start-up rehydration has not resolved yet.
func (s *Store) Loading() bool {
	return s.State().Status == StatusUnknown
}

// Subscribe registers fn to be called after every transition, in
// transition order, with the new state. It returns a function that
// removes the registration. fn runs on the goroutine that caused the
// transition and must not call back into SignUp, SignIn, SignOut or
// Rehydrate.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// transition sets the state and notifies listeners. Callers hold opMu.
func (s *Store) transition(next State) {
	s.mu.Lock()
	s.state = next
	s.epoch++
	fns := make([]func(State), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	s.mu.Unlock()

	s.metrics.SessionTransition(next.Status.String())
	s.log.Info("session transition",
		zap.Stringer("status", next.Status),
		zap.String("user_id", next.Identity.ID),
	)

	for _, fn := range fns {
		fn(next)
	}
}

// Rehydrate resolves StatusUnknown by asking the gateway for an existing
// session. It runs at most once per Store; later calls return immediately.
// Failures of any kind resolve to StatusUnauthenticated and are not
// returned.
func (s *Store) Rehydrate(ctx context.Context) {
	s.rehydrateOnce.Do(func() {
		s.opMu.Lock()
		defer s.opMu.Unlock()

		if s.State().Status != StatusUnknown {
			return
		}

		identity, err := s.gateway.CurrentIdentity(ctx)
		if err != nil {
			s.log.Info("no session to rehydrate", zap.Error(err))
			s.transition(State{Status: StatusUnauthenticated})
			return
		}
		s.transition(State{Status: StatusAuthenticated, Identity: identity})
	})
}

// SignUp creates an account and then signs in with the same credentials.
// The state changes only if the sign-in succeeds.
func (s *Store) SignUp(ctx context.Context, email, password string) error {
	if err := requireCredentials(email, password); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.gateway.CreateAccount(ctx, email, password); err != nil {
		s.log.Warn("sign up failed", zap.Error(err))
		return models.Normalize(err, signUpFallback)
	}
	if err := s.signIn(ctx, email, password); err != nil {
		return models.Normalize(err, signUpFallback)
	}
	return nil
}

// SignIn opens a session and caches the identity behind it. On failure the
// state is left unchanged.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	if err := requireCredentials(email, password); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.signIn(ctx, email, password); err != nil {
		return models.Normalize(err, signInFallback)
	}
	return nil
}

func (s *Store) signIn(ctx context.Context, email, password string) error {
	if err := s.gateway.CreateSession(ctx, email, password); err != nil {
		s.log.Warn("sign in failed", zap.Error(err))
		return err
	}
	identity, err := s.gateway.CurrentIdentity(ctx)
	if err != nil {
		s.log.Warn("failed to load identity after sign in", zap.Error(err))
		return err
	}
	s.transition(State{Status: StatusAuthenticated, Identity: identity})
	return nil
}

// SignOut ends the session. On success the state becomes
// StatusUnauthenticated whatever it was before; on failure it is left
// unchanged.
func (s *Store) SignOut(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.gateway.DeleteSession(ctx); err != nil {
		s.log.Warn("sign out failed", zap.Error(err))
		return models.Normalize(err, signOutFallback)
	}
	s.transition(State{Status: StatusUnauthenticated})
	return nil
}

func requireCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.NewValidationError("Please fill in all fields")
	}
	return nil
}

// MinPasswordLength is the shortest password the client accepts.
const MinPasswordLength = 6

// ValidateCredentials applies the client-side credential policy used by
// the sign-in screen before any gateway call. The Store itself only
// rejects empty values.
func ValidateCredentials(email, password string) error {
	if err := requireCredentials(email, password); err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return models.NewValidationError("Password must be at least 6 characters long")
	}
	return nil
}
