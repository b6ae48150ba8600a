// Package habits keeps the owner-scoped snapshot of the signed-in user's
// habits and performs the row mutations behind it.
//
// The snapshot is only ever replaced wholesale by Refresh. Create, Delete
// and Complete never patch it locally; the change comes back through the
// next refresh, usually triggered by the realtime bridge.
package habits

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/client/session"
	"github.com/atinyakov/HabitKeeper/internal/metrics"
	"github.com/atinyakov/HabitKeeper/internal/models"
)

// Display fallbacks used when a gateway failure carries no usable message.
const (
	createFallback   = "Something went wrong while adding the habit."
	fetchFallback    = "Something went wrong while fetching habits."
	deleteFallback   = "Something went wrong while deleting the habit."
	completeFallback = "Something went wrong while completing the habit."
)

// SessionSource exposes the session state and its epoch.
type SessionSource interface {
	Current() (session.State, uint64)
}

// Gateway is the subset of the remote gateway the Sync needs.
type Gateway interface {
	// CreateRow inserts a habit row.
	CreateRow(ctx context.Context, habit models.Habit) (models.Habit, error)
	// ListRows returns the rows owned by ownerID.
	ListRows(ctx context.Context, ownerID string) ([]models.Habit, error)
	// UpdateRow applies a partial update to one row.
	UpdateRow(ctx context.Context, id string, update models.HabitUpdate) (models.Habit, error)
	// DeleteRow removes one row.
	DeleteRow(ctx context.Context, id string) error
}

// Snapshot is the presentation view of the habit collection.
type Snapshot struct {
	// Habits is never nil.
	Habits []models.Habit
	// Loading is true while any refresh is in flight.
	Loading bool
	// Err is the error of the last failed refresh, nil after a success.
	Err error
}

// Option configures a Sync.
type Option func(*Sync)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sync) { s.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Sync) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sync) { s.now = now }
}

// Sync owns the habit snapshot of the current session.
type Sync struct {
	session SessionSource
	gateway Gateway
	log     *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time

	mu sync.Mutex
	// epoch is the session epoch habits and err belong to.
	epoch  uint64
	habits []models.Habit
	err    error
	// inFlight counts running refreshes per session epoch.
	inFlight map[uint64]int
}

// New returns a Sync reading the session from src.
func New(src SessionSource, gateway Gateway, opts ...Option) *Sync {
	s := &Sync{
		session:  src,
		gateway:  gateway,
		log:      zap.NewNop(),
		metrics:  metrics.Nop{},
		now:      time.Now,
		inFlight: make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current view. It is empty whenever the session is
// not authenticated or the stored rows belong to an earlier session.
func (s *Sync) Snapshot() Snapshot {
	st, epoch := s.session.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !st.Authenticated() {
		return Snapshot{Habits: []models.Habit{}}
	}
	snap := Snapshot{Habits: []models.Habit{}, Loading: s.inFlight[epoch] > 0}
	if s.epoch == epoch {
		snap.Habits = append(snap.Habits, s.habits...)
		snap.Err = s.err
	}
	return snap
}

// Refresh fetches the owner's rows and replaces the snapshot. Without an
// authenticated session it returns nil immediately. A failed fetch keeps
// the previous rows and records the error. A response that arrives after
// the session changed is dropped.
func (s *Sync) Refresh(ctx context.Context) error {
	st, epoch := s.session.Current()
	if !st.Authenticated() {
		return nil
	}
	ownerID := st.Identity.ID

	s.mu.Lock()
	if s.epoch != epoch {
		s.epoch = epoch
		s.habits = nil
	}
	s.err = nil
	s.inFlight[epoch]++
	s.mu.Unlock()

	rows, err := s.gateway.ListRows(ctx, ownerID)

	_, current := s.session.Current()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[epoch]--
	if s.inFlight[epoch] == 0 {
		delete(s.inFlight, epoch)
	}

	if current != epoch || s.epoch != epoch {
		s.metrics.Refresh(metrics.RefreshDiscarded)
		s.log.Debug("discarding refresh for a previous session", zap.String("user_id", ownerID))
		return nil
	}
	if err != nil {
		s.metrics.Refresh(metrics.RefreshError)
		s.log.Warn("failed to fetch habits", zap.String("user_id", ownerID), zap.Error(err))
		normalized := models.Normalize(err, fetchFallback)
		s.err = normalized
		return normalized
	}

	owned := make([]models.Habit, 0, len(rows))
	for _, row := range rows {
		if row.OwnerID != ownerID {
			s.log.Warn("dropping row owned by another user", zap.String("row_id", row.ID))
			continue
		}
		owned = append(owned, row)
	}
	s.habits = owned
	s.err = nil
	s.metrics.Refresh(metrics.RefreshOK)
	s.log.Debug("habits refreshed", zap.String("user_id", ownerID), zap.Int("count", len(owned)))
	return nil
}

// Create validates the input and inserts a new habit for the signed-in
// user with a zero streak. The snapshot is not touched.
func (s *Sync) Create(ctx context.Context, title, description string, frequency models.Frequency) error {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	switch {
	case title == "":
		return models.NewValidationError("Title is required")
	case description == "":
		return models.NewValidationError("Description is required")
	case !frequency.Valid():
		return models.NewValidationError("Frequency must be daily, weekly or monthly")
	}

	st, _ := s.session.Current()
	if !st.Authenticated() {
		return models.ErrNotSignedIn
	}

	habit := models.Habit{
		ID:            uuid.NewString(),
		OwnerID:       st.Identity.ID,
		Title:         title,
		Description:   description,
		Frequency:     frequency,
		StreakCount:   0,
		LastCompleted: s.now(),
	}
	if _, err := s.gateway.CreateRow(ctx, habit); err != nil {
		s.log.Warn("failed to create habit", zap.Error(err))
		return models.Normalize(err, createFallback)
	}
	s.log.Info("habit created", zap.String("row_id", habit.ID), zap.String("user_id", habit.OwnerID))
	return nil
}

// DeleteByID removes a row. Ownership is enforced by the gateway; the
// snapshot is not touched.
func (s *Sync) DeleteByID(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError("Habit id is required")
	}
	st, _ := s.session.Current()
	if !st.Authenticated() {
		return models.ErrNotSignedIn
	}

	if err := s.gateway.DeleteRow(ctx, id); err != nil {
		s.log.Warn("failed to delete habit", zap.String("row_id", id), zap.Error(err))
		return models.Normalize(err, deleteFallback)
	}
	s.log.Info("habit deleted", zap.String("row_id", id))
	return nil
}

// find returns the habit with id from the current session's snapshot.
func (s *Sync) find(epoch uint64, id string) (models.Habit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return models.Habit{}, false
	}
	for _, h := range s.habits {
		if h.ID == id {
			return h, true
		}
	}
	return models.Habit{}, false
}
