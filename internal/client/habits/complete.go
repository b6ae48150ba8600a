package habits

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

// ErrAlreadyCompleted is returned by Complete when the habit was already
// completed in its current period.
var ErrAlreadyCompleted = models.NewValidationError("Habit already completed for this period")

// Complete marks a habit from the current snapshot as done: the streak is
// incremented and the completion time set to now. A habit with a zero
// streak has never been completed, whatever its last_completed says.
func (s *Sync) Complete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError("Habit id is required")
	}
	st, epoch := s.session.Current()
	if !st.Authenticated() {
		return models.ErrNotSignedIn
	}

	habit, ok := s.find(epoch, id)
	if !ok {
		return &models.Error{Kind: models.KindNotFound, Message: "Habit not found"}
	}

	now := s.now()
	if habit.StreakCount > 0 && SamePeriod(habit.Frequency, habit.LastCompleted, now) {
		return ErrAlreadyCompleted
	}

	streak := habit.StreakCount + 1
	if _, err := s.gateway.UpdateRow(ctx, id, models.HabitUpdate{
		StreakCount:   &streak,
		LastCompleted: &now,
	}); err != nil {
		s.log.Warn("failed to complete habit", zap.String("row_id", id), zap.Error(err))
		return models.Normalize(err, completeFallback)
	}
	s.log.Info("habit completed", zap.String("row_id", id), zap.Int("streak", streak))
	return nil
}

// SamePeriod reports whether a and b fall into the same period of f, in
// b's location: the same calendar day, ISO week or calendar month.
func SamePeriod(f models.Frequency, a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	a = a.In(b.Location())
	switch f {
	case models.Daily:
		ay, am, ad := a.Date()
		by, bm, bd := b.Date()
		return ay == by && am == bm && ad == bd
	case models.Weekly:
		ay, aw := a.ISOWeek()
		by, bw := b.ISOWeek()
		return ay == by && aw == bw
	case models.Monthly:
		return a.Year() == b.Year() && a.Month() == b.Month()
	}
	return false
}
