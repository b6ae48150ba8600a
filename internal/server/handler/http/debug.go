// Package http exposes a read-only debug view of the running client:
// session status, the habit snapshot and Prometheus metrics.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/client/habits"
	"github.com/atinyakov/HabitKeeper/internal/client/session"
	"github.com/atinyakov/HabitKeeper/internal/models"
)

// SessionReader is the part of the session store the debug view reads.
type SessionReader interface {
	State() session.State
	Loading() bool
}

// HabitReader is the part of the habit sync the debug view reads.
type HabitReader interface {
	Snapshot() habits.Snapshot
}

// DebugHandler serves JSON views of the client state.
type DebugHandler struct {
	sessions SessionReader
	habits   HabitReader
	logger   *zap.Logger
}

// NewDebugHandler creates a new DebugHandler.
func NewDebugHandler(sessions SessionReader, habits HabitReader, logger *zap.Logger) *DebugHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugHandler{sessions: sessions, habits: habits, logger: logger}
}

// SessionResponse is the body of GET /session.
type SessionResponse struct {
	Status  string `json:"status"`
	Loading bool   `json:"loading"`
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
}

// HabitView is one habit in GET /habits.
type HabitView struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Frequency     models.Frequency `json:"frequency"`
	StreakCount   int              `json:"streak_count"`
	LastCompleted *time.Time       `json:"last_completed,omitempty"`
}

// HabitsResponse is the body of GET /habits.
type HabitsResponse struct {
	Habits  []HabitView `json:"habits"`
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// Health answers liveness probes.
func (h *DebugHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Session reports the current session state.
func (h *DebugHandler) Session(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.State()
	resp := SessionResponse{
		Status:  st.Status.String(),
		Loading: h.sessions.Loading(),
	}
	if st.Authenticated() {
		resp.UserID = st.Identity.ID
		resp.Email = st.Identity.Email
	}
	h.writeJSON(w, resp)
}

// Habits reports the current habit snapshot.
func (h *DebugHandler) Habits(w http.ResponseWriter, r *http.Request) {
	snap := h.habits.Snapshot()
	resp := HabitsResponse{
		Habits:  make([]HabitView, 0, len(snap.Habits)),
		Loading: snap.Loading,
	}
	for _, hb := range snap.Habits {
		v := HabitView{
			ID:          hb.ID,
			Title:       hb.Title,
			Description: hb.Description,
			Frequency:   hb.Frequency,
			StreakCount: hb.StreakCount,
		}
		if !hb.LastCompleted.IsZero() {
			lc := hb.LastCompleted
			v.LastCompleted = &lc
		}
		resp.Habits = append(resp.Habits, v)
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
		resp.Kind = string(models.KindOf(snap.Err))
	}
	h.writeJSON(w, resp)
}

func (h *DebugHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode debug response", zap.Error(err))
	}
}
