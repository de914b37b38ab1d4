package storage_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/concierge/internal/integrity"
	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/storage"
	"github.com/ashita-ai/concierge/internal/testutil"
	"github.com/ashita-ai/concierge/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	return m.Run()
}

func newSession(tenantID uuid.UUID) model.Session {
	now := time.Now().UTC()
	return model.Session{
		ID:           uuid.New(),
		TenantID:     tenantID,
		CurrentPhase: model.PhaseNotStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	for i := range 3 {
		v, err := testDB.AppendEvent(ctx, tenantID, model.EventStateUpdated,
			map[string]any{"phase": "DISCOVERY", "data": map[string]any{"step": float64(i)}}, int64(i))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v)
	}

	events, err := testDB.ListEvents(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version, "versions must be gapless and ordered")
		assert.Equal(t, tenantID, e.TenantID)
		assert.Equal(t, model.EventStateUpdated, e.Type)
		assert.Equal(t, "DISCOVERY", e.Payload["phase"])
		assert.True(t, integrity.Verify(e), "hash must survive the jsonb round trip")
	}

	current, err := testDB.CurrentVersion(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
}

func TestListEventsEmptyTenant(t *testing.T) {
	events, err := testDB.ListEvents(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppendStaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := testDB.AppendEvent(ctx, tenantID, model.EventDiscoveryCompleted, map[string]any{"data": map[string]any{}}, 0)
	require.NoError(t, err)

	for _, stale := range []int64{0, 2, 7} {
		_, err = testDB.AppendEvent(ctx, tenantID, model.EventStateUpdated, map[string]any{"phase": "SERVICES"}, stale)
		require.ErrorIs(t, err, storage.ErrVersionConflict, "expected version %d", stale)
	}

	current, err := testDB.CurrentVersion(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current, "rejected appends must not change the version")
}

func TestAppendUnknownEventType(t *testing.T) {
	_, err := testDB.AppendEvent(context.Background(), uuid.New(), model.EventType("BOGUS"), nil, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrVersionConflict)
}

func TestConcurrentAppendRace(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := testDB.AppendEvent(ctx, tenantID, model.EventStateUpdated, map[string]any{"phase": "DISCOVERY"}, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, storage.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one writer may win")
	assert.Equal(t, writers-1, conflicts)

	current, err := testDB.CurrentVersion(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestEventsAreImmutable(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	_, err := testDB.AppendEvent(ctx, tenantID, model.EventOnboardingCompleted, nil, 0)
	require.NoError(t, err)

	_, err = testDB.Pool().Exec(ctx, `UPDATE onboarding_events SET event_type = 'X' WHERE tenant_id = $1`, tenantID)
	require.Error(t, err)
	_, err = testDB.Pool().Exec(ctx, `DELETE FROM onboarding_events WHERE tenant_id = $1`, tenantID)
	require.Error(t, err)
}

func TestCommitTurn(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	s := newSession(tenantID)
	s.Messages = []model.Message{
		model.TextMessage(model.RoleUser, "hi", s.CreatedAt),
		model.TextMessage(model.RoleModel, "welcome", s.CreatedAt),
	}
	s.AgentSessionID = "adk-1"

	res, err := testDB.CommitTurn(ctx, model.TurnCommit{
		TenantID:        tenantID,
		ExpectedVersion: 0,
		Events: []model.NewEvent{
			{Type: model.EventStateUpdated, Payload: map[string]any{"phase": "DISCOVERY"}},
			{Type: model.EventDiscoveryCompleted, Payload: map[string]any{"data": map[string]any{"name": "Studio"}}},
		},
		Session: s,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewVersion)
	assert.Equal(t, int64(1), res.SessionRevision)
	require.Len(t, res.Events, 2)
	assert.Equal(t, int64(1), res.Events[0].Version)
	assert.Equal(t, int64(2), res.Events[1].Version)

	got, err := testDB.GetSession(ctx, tenantID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "adk-1", got.AgentSessionID)
	assert.Equal(t, int64(1), got.Revision)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "welcome", got.Messages[1].Text())

	// Second turn on the same session, no events.
	got.Messages = append(got.Messages, model.TextMessage(model.RoleUser, "more", time.Now()))
	got.UpdatedAt = time.Now()
	res, err = testDB.CommitTurn(ctx, model.TurnCommit{TenantID: tenantID, ExpectedVersion: 2, Session: got})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewVersion)
	assert.Equal(t, int64(2), res.SessionRevision)
}

func TestCommitTurnVersionConflictWritesNothing(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	_, err := testDB.AppendEvent(ctx, tenantID, model.EventStateUpdated, map[string]any{"phase": "DISCOVERY"}, 0)
	require.NoError(t, err)

	s := newSession(tenantID)
	_, err = testDB.CommitTurn(ctx, model.TurnCommit{
		TenantID:        tenantID,
		ExpectedVersion: 0, // stale
		Events:          []model.NewEvent{{Type: model.EventStateUpdated, Payload: map[string]any{"phase": "SERVICES"}}},
		Session:         s,
	})
	require.ErrorIs(t, err, storage.ErrVersionConflict)

	_, err = testDB.GetSession(ctx, tenantID, s.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "session must not be persisted when the events were rejected")
}

func TestCommitTurnSessionConflictRollsBackEvents(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	s := newSession(tenantID)
	_, err := testDB.CommitTurn(ctx, model.TurnCommit{TenantID: tenantID, Session: s})
	require.NoError(t, err)

	// Session revision is stale (0 means "new"), so the insert collides.
	_, err = testDB.CommitTurn(ctx, model.TurnCommit{
		TenantID: tenantID,
		Events:   []model.NewEvent{{Type: model.EventStateUpdated, Payload: map[string]any{"phase": "DISCOVERY"}}},
		Session:  s,
	})
	require.ErrorIs(t, err, storage.ErrSessionConflict)

	current, err := testDB.CurrentVersion(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current, "events must roll back with the session write")
}

func TestCommitTurnRejectsCrossTenantSession(t *testing.T) {
	s := newSession(uuid.New())
	_, err := testDB.CommitTurn(context.Background(), model.TurnCommit{TenantID: uuid.New(), Session: s})
	require.Error(t, err)
}

func TestGetSessionIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()
	s := newSession(tenantA)
	_, err := testDB.CommitTurn(ctx, model.TurnCommit{TenantID: tenantA, Session: s})
	require.NoError(t, err)

	_, err = testDB.GetSession(ctx, tenantA, s.ID)
	require.NoError(t, err)

	_, err = testDB.GetSession(ctx, tenantB, s.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLatestSession(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := testDB.LatestSession(ctx, tenantID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	older := newSession(tenantID)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := newSession(tenantID)
	for _, s := range []model.Session{older, newer} {
		_, err := testDB.CommitTurn(ctx, model.TurnCommit{TenantID: tenantID, Session: s})
		require.NoError(t, err)
	}

	got, err := testDB.LatestSession(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestTenantLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	ok, err := testDB.TenantExists(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, testDB.EnsureTenant(ctx, tenantID, "Acme Yoga"))
	ok, err = testDB.TenantExists(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, testDB.MarkTenantDeleted(ctx, tenantID))
	ok, err = testDB.TenantExists(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, testDB.MarkTenantDeleted(ctx, tenantID), storage.ErrNotFound)
}

func TestRunMigrationsIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestNULIsStrippedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	s := newSession(tenantID)
	s.Messages = []model.Message{model.TextMessage(model.RoleUser, "Bloom\x00 Studio", s.CreatedAt)}

	res, err := testDB.CommitTurn(ctx, model.TurnCommit{
		TenantID: tenantID,
		Events: []model.NewEvent{{
			Type:    model.EventDiscoveryCompleted,
			Payload: map[string]any{"data": map[string]any{"business\x00Name": "Bloom\x00", "tags": []any{"a\x00b"}}},
		}},
		Session: s,
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	events, err := testDB.ListEvents(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	data := events[0].Payload["data"].(map[string]any)
	assert.Equal(t, "Bloom", data["businessName"])
	assert.Equal(t, []any{"ab"}, data["tags"])
	assert.True(t, integrity.Verify(events[0]))
	assert.Equal(t, res.Events[0].ContentHash, events[0].ContentHash)

	got, err := testDB.GetSession(ctx, tenantID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bloom Studio", got.Messages[0].Text())
}
