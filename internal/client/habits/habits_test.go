package habits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/HabitKeeper/internal/client/session"
	"github.com/atinyakov/HabitKeeper/internal/models"
)

// fakeSession is a SessionSource whose state the test sets directly.
type fakeSession struct {
	mu    sync.Mutex
	state session.State
	epoch uint64
}

func (f *fakeSession) Current() (session.State, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.epoch
}

func (f *fakeSession) set(st session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	f.epoch++
}

func signedIn(id string) *fakeSession {
	f := &fakeSession{}
	f.set(session.State{Status: session.StatusAuthenticated, Identity: models.Identity{ID: id}})
	return f
}

type mockGateway struct {
	CreateRowFunc func(ctx context.Context, habit models.Habit) (models.Habit, error)
	ListRowsFunc  func(ctx context.Context, ownerID string) ([]models.Habit, error)
	UpdateRowFunc func(ctx context.Context, id string, update models.HabitUpdate) (models.Habit, error)
	DeleteRowFunc func(ctx context.Context, id string) error

	mu    sync.Mutex
	calls int
}

func (m *mockGateway) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *mockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockGateway) CreateRow(ctx context.Context, habit models.Habit) (models.Habit, error) {
	m.count()
	return m.CreateRowFunc(ctx, habit)
}
func (m *mockGateway) ListRows(ctx context.Context, ownerID string) ([]models.Habit, error) {
	m.count()
	return m.ListRowsFunc(ctx, ownerID)
}
func (m *mockGateway) UpdateRow(ctx context.Context, id string, update models.HabitUpdate) (models.Habit, error) {
	m.count()
	return m.UpdateRowFunc(ctx, id, update)
}
func (m *mockGateway) DeleteRow(ctx context.Context, id string) error {
	m.count()
	return m.DeleteRowFunc(ctx, id)
}

type kindError struct {
	kind models.ErrorKind
	msg  string
}

func (e *kindError) Error() string               { return e.msg }
func (e *kindError) ErrorKind() models.ErrorKind { return e.kind }
func (e *kindError) DisplayMessage() string      { return e.msg }

func rows(owner string, ids ...string) []models.Habit {
	out := make([]models.Habit, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Habit{ID: id, OwnerID: owner, Title: "habit " + id, Frequency: models.Daily})
	}
	return out
}

func ids(habits []models.Habit) []string {
	out := make([]string, 0, len(habits))
	for _, h := range habits {
		out = append(out, h.ID)
	}
	return out
}

func TestRefresh_ReplacesSnapshot(t *testing.T) {
	src := signedIn("u1")
	page := rows("u1", "a", "b")
	gw := &mockGateway{
		ListRowsFunc: func(_ context.Context, ownerID string) ([]models.Habit, error) {
			assert.Equal(t, "u1", ownerID)
			return page, nil
		},
	}
	s := New(src, gw)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []string{"a", "b"}, ids(s.Snapshot().Habits))

	page = rows("u1", "c")
	require.NoError(t, s.Refresh(context.Background()))
	snap := s.Snapshot()
	assert.Equal(t, []string{"c"}, ids(snap.Habits))
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)
}

func TestRefresh_DropsForeignRows(t *testing.T) {
	src := signedIn("u1")
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			return append(rows("u1", "a"), rows("u2", "x")...), nil
		},
	}
	s := New(src, gw)

	require.NoError(t, s.Refresh(context.Background()))
	for _, h := range s.Snapshot().Habits {
		assert.Equal(t, "u1", h.OwnerID)
	}
	assert.Equal(t, []string{"a"}, ids(s.Snapshot().Habits))
}

func TestRefresh_FailureKeepsPreviousRows(t *testing.T) {
	src := signedIn("u1")
	fail := false
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return rows("u1", "a"), nil
		},
	}
	s := New(src, gw)
	require.NoError(t, s.Refresh(context.Background()))

	fail = true
	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Something went wrong while fetching habits.", err.Error())

	snap := s.Snapshot()
	assert.Equal(t, []string{"a"}, ids(snap.Habits))
	require.Error(t, snap.Err)
	assert.Equal(t, models.KindUnknown, models.KindOf(snap.Err))

	fail = false
	require.NoError(t, s.Refresh(context.Background()))
	assert.NoError(t, s.Snapshot().Err)
}

func TestRefresh_LoadingWhileInFlight(t *testing.T) {
	src := signedIn("u1")
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			close(started)
			<-release
			return rows("u1", "a"), nil
		},
	}
	s := New(src, gw)

	done := make(chan error)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started
	assert.True(t, s.Snapshot().Loading)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Snapshot().Loading)
}

func TestUnauthenticatedOperationsMakeNoGatewayCalls(t *testing.T) {
	for _, src := range []*fakeSession{
		{},
		{state: session.State{Status: session.StatusUnauthenticated}, epoch: 2},
	} {
		gw := &mockGateway{}
		s := New(src, gw)
		ctx := context.Background()

		assert.NoError(t, s.Refresh(ctx))
		assert.ErrorIs(t, s.Create(ctx, "Read", "Ten pages", models.Daily), models.ErrNotSignedIn)
		assert.ErrorIs(t, s.DeleteByID(ctx, "a"), models.ErrNotSignedIn)
		assert.ErrorIs(t, s.Complete(ctx, "a"), models.ErrNotSignedIn)

		assert.Zero(t, gw.Calls())
		snap := s.Snapshot()
		assert.NotNil(t, snap.Habits)
		assert.Empty(t, snap.Habits)
	}
}

func TestSnapshot_EmptyAfterSignOut(t *testing.T) {
	src := signedIn("u1")
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) { return rows("u1", "a"), nil },
	}
	s := New(src, gw)
	require.NoError(t, s.Refresh(context.Background()))

	src.set(session.State{Status: session.StatusUnauthenticated})
	assert.Empty(t, s.Snapshot().Habits)

	src.set(session.State{Status: session.StatusAuthenticated, Identity: models.Identity{ID: "u2"}})
	assert.Empty(t, s.Snapshot().Habits)
}

func TestRefresh_StaleResponseDiscarded(t *testing.T) {
	src := signedIn("u1")
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			close(started)
			<-release
			return rows("u1", "a", "b"), nil
		},
	}
	s := New(src, gw)

	done := make(chan error)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started

	src.set(session.State{Status: session.StatusUnauthenticated})
	close(release)
	require.NoError(t, <-done)

	src.set(session.State{Status: session.StatusAuthenticated, Identity: models.Identity{ID: "u1"}})
	assert.Empty(t, s.Snapshot().Habits)
}

func TestRefresh_LaterCompletionWins(t *testing.T) {
	src := signedIn("u1")
	slowRelease := make(chan struct{})
	var n int
	var mu sync.Mutex
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			mu.Lock()
			n++
			call := n
			mu.Unlock()
			if call == 1 {
				<-slowRelease
				return rows("u1", "old"), nil
			}
			return rows("u1", "new"), nil
		},
	}
	s := New(src, gw)

	done := make(chan error)
	go func() { done <- s.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []string{"new"}, ids(s.Snapshot().Habits))
	assert.True(t, s.Snapshot().Loading)

	close(slowRelease)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"old"}, ids(s.Snapshot().Habits))
}

func TestRefresh_LaterSuccessClearsEarlierError(t *testing.T) {
	src := signedIn("u1")
	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	var n int
	var mu sync.Mutex
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			mu.Lock()
			call := n
			n++
			mu.Unlock()
			<-gates[call]
			if call == 0 {
				return nil, errors.New("boom")
			}
			return rows("u1", "a"), nil
		},
	}
	s := New(src, gw)
	started := func(want int) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			return n == want
		}
	}

	first := make(chan error)
	go func() { first <- s.Refresh(context.Background()) }()
	require.Eventually(t, started(1), time.Second, time.Millisecond)
	second := make(chan error)
	go func() { second <- s.Refresh(context.Background()) }()
	require.Eventually(t, started(2), time.Second, time.Millisecond)

	close(gates[0])
	require.Error(t, <-first)
	assert.Error(t, s.Snapshot().Err)

	close(gates[1])
	require.NoError(t, <-second)
	snap := s.Snapshot()
	assert.Equal(t, []string{"a"}, ids(snap.Habits))
	assert.NoError(t, snap.Err)
	assert.False(t, snap.Loading)
}

func TestSnapshot_LoadingIgnoresPreviousSession(t *testing.T) {
	src := signedIn("u1")
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &mockGateway{
		ListRowsFunc: func(context.Context, string) ([]models.Habit, error) {
			close(started)
			<-release
			return rows("u1", "a"), nil
		},
	}
	s := New(src, gw)

	done := make(chan error)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started
	assert.True(t, s.Snapshot().Loading)

	src.set(session.State{Status: session.StatusUnauthenticated})
	src.set(session.State{Status: session.StatusAuthenticated, Identity: models.Identity{ID: "u1"}})
	assert.False(t, s.Snapshot().Loading)

	close(release)
	require.NoError(t, <-done)
	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Habits)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		frequency   models.Frequency
	}{
		{name: "empty title", title: "", description: "x", frequency: models.Daily},
		{name: "blank title", title: "   ", description: "x", frequency: models.Daily},
		{name: "empty description", title: "Read", description: "", frequency: models.Daily},
		{name: "bad frequency", title: "Read", description: "x", frequency: "hourly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{}
			s := New(signedIn("u1"), gw)

			err := s.Create(context.Background(), tt.title, tt.description, tt.frequency)
			require.Error(t, err)
			assert.Equal(t, models.KindValidation, models.KindOf(err))
			assert.Zero(t, gw.Calls())
		})
	}
}

func TestCreate_ValidationBeforeSessionCheck(t *testing.T) {
	gw := &mockGateway{}
	s := New(&fakeSession{}, gw)

	err := s.Create(context.Background(), "", "x", models.Daily)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestCreate_SubmitsRow(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var got models.Habit
	gw := &mockGateway{
		CreateRowFunc: func(_ context.Context, habit models.Habit) (models.Habit, error) {
			got = habit
			return habit, nil
		},
	}
	s := New(signedIn("u1"), gw, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Create(context.Background(), " Read ", "Ten pages", models.Weekly))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, "Read", got.Title)
	assert.Equal(t, "Ten pages", got.Description)
	assert.Equal(t, models.Weekly, got.Frequency)
	assert.Zero(t, got.StreakCount)
	assert.Equal(t, now, got.LastCompleted)
	assert.Empty(t, s.Snapshot().Habits)
}

func TestCreate_GatewayError(t *testing.T) {
	gw := &mockGateway{
		CreateRowFunc: func(context.Context, models.Habit) (models.Habit, error) {
			return models.Habit{}, &kindError{kind: models.KindForbidden, msg: "Missing write permission."}
		},
	}
	s := New(signedIn("u1"), gw)

	err := s.Create(context.Background(), "Read", "Ten pages", models.Daily)
	require.Error(t, err)
	assert.Equal(t, models.KindForbidden, models.KindOf(err))
	assert.Equal(t, "Missing write permission.", err.Error())
}

func TestDeleteByID(t *testing.T) {
	var deleted string
	gw := &mockGateway{
		ListRowsFunc:  func(context.Context, string) ([]models.Habit, error) { return rows("u1", "a"), nil },
		DeleteRowFunc: func(_ context.Context, id string) error {
			if id == "missing" {
				return &kindError{kind: models.KindNotFound, msg: "Row not found."}
			}
			deleted = id
			return nil
		},
	}
	s := New(signedIn("u1"), gw)
	require.NoError(t, s.Refresh(context.Background()))

	require.NoError(t, s.DeleteByID(context.Background(), "a"))
	assert.Equal(t, "a", deleted)
	assert.Equal(t, []string{"a"}, ids(s.Snapshot().Habits))

	err := s.DeleteByID(context.Background(), "missing")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))

	err = s.DeleteByID(context.Background(), "")
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestDeleteByID_UnclassifiedErrorUsesFallback(t *testing.T) {
	gw := &mockGateway{
		DeleteRowFunc: func(context.Context, string) error { return errors.New("boom") },
	}
	s := New(signedIn("u1"), gw)

	err := s.DeleteByID(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, "Something went wrong while deleting the habit.", err.Error())
}

// memoryBackend is an in-memory gateway serving both the session store and
// the habit sync for end-to-end tests.
type memoryBackend struct {
	mu       sync.Mutex
	accounts map[string]string
	current  string
	rows     map[string]models.Habit
	order    []string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{accounts: map[string]string{}, rows: map[string]models.Habit{}}
}

func (b *memoryBackend) CreateAccount(_ context.Context, email, password string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[email]; ok {
		return "", &kindError{kind: models.KindRejected, msg: "A user with the same email already exists."}
	}
	b.accounts[email] = password
	return "id-" + email, nil
}

func (b *memoryBackend) CreateSession(_ context.Context, email, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accounts[email] != password {
		return &kindError{kind: models.KindRejected, msg: "Invalid credentials."}
	}
	b.current = email
	return nil
}

func (b *memoryBackend) CurrentIdentity(context.Context) (models.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == "" {
		return models.Identity{}, &kindError{kind: models.KindRejected, msg: "No session."}
	}
	return models.Identity{ID: "id-" + b.current, Email: b.current}, nil
}

func (b *memoryBackend) DeleteSession(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = ""
	return nil
}

func (b *memoryBackend) CreateRow(_ context.Context, habit models.Habit) (models.Habit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[habit.ID] = habit
	b.order = append(b.order, habit.ID)
	return habit, nil
}

func (b *memoryBackend) ListRows(_ context.Context, ownerID string) ([]models.Habit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Habit
	for _, id := range b.order {
		if h, ok := b.rows[id]; ok && h.OwnerID == ownerID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (b *memoryBackend) UpdateRow(_ context.Context, id string, update models.HabitUpdate) (models.Habit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.rows[id]
	if !ok {
		return models.Habit{}, &kindError{kind: models.KindNotFound, msg: "Row not found."}
	}
	if update.StreakCount != nil {
		h.StreakCount = *update.StreakCount
	}
	if update.LastCompleted != nil {
		h.LastCompleted = *update.LastCompleted
	}
	b.rows[id] = h
	return h, nil
}

func (b *memoryBackend) DeleteRow(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rows[id]; !ok {
		return &kindError{kind: models.KindNotFound, msg: "Row not found."}
	}
	delete(b.rows, id)
	return nil
}

func TestEndToEnd_SignUpCreateRefreshDelete(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	store := session.New(backend)
	store.Rehydrate(ctx)
	require.Equal(t, session.StatusUnauthenticated, store.State().Status)

	s := New(store, backend)

	require.NoError(t, store.SignUp(ctx, "ann@example.com", "secret1"))
	require.Equal(t, session.StatusAuthenticated, store.State().Status)

	require.NoError(t, s.Create(ctx, "Read", "Ten pages", models.Daily))
	require.NoError(t, s.Refresh(ctx))

	snap := s.Snapshot()
	require.Len(t, snap.Habits, 1)
	created := snap.Habits[0]
	assert.Equal(t, "Read", created.Title)
	assert.Equal(t, "id-ann@example.com", created.OwnerID)
	assert.Zero(t, created.StreakCount)

	require.NoError(t, s.DeleteByID(ctx, created.ID))
	require.NoError(t, s.Refresh(ctx))
	assert.Empty(t, s.Snapshot().Habits)

	require.NoError(t, store.SignOut(ctx))
	assert.Empty(t, s.Snapshot().Habits)
}
