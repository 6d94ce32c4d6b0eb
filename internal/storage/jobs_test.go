package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
	"github.com/cuongbtq/vault-pipeline/shared/database"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, Migrate(context.Background(), client.GetDB(), testLogger()))
	return client.GetDB()
}

func newTestJobStore(t *testing.T) (*JobStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewJobStore(newTestDB(t), testLogger(), WithClock(clock.Now)), clock
}

func newJob(key string) *domain.Job {
	return &domain.Job{
		ResourceKey:     key,
		ContentID:       "content-" + key,
		PipelineVersion: "v3",
		Metadata:        map[string]any{"title": "A talk", "content_type": "youtube"},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db, testLogger()))
}

func TestJobStore_Create(t *testing.T) {
	store, clock := newTestJobStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, newJob("yt:abc123"))
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.DataTierFull, job.DataTier)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.FinishedAt)
	assert.True(t, clock.Now().Equal(job.CreatedAt))

	stored, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, "yt:abc123", stored.ResourceKey)
	assert.Equal(t, "content-yt:abc123", stored.ContentID)
	assert.Equal(t, "v3", stored.PipelineVersion)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.FinishedAt)
	assert.Empty(t, stored.ErrorCode)
	assert.Equal(t, "A talk", stored.Metadata["title"])
	assert.True(t, job.CreatedAt.Equal(stored.CreatedAt))
}

func TestJobStore_Create_RejectsUnknownTier(t *testing.T) {
	store, _ := newTestJobStore(t)

	job := newJob("yt:tier")
	job.DataTier = "archive"

	_, err := store.Create(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestJobStore_Create_OneActiveJobPerResourceKey(t *testing.T) {
	store, _ := newTestJobStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, newJob("url:abcdefabcdefabcd"))
	require.NoError(t, err)

	_, err = store.Create(ctx, newJob("url:abcdefabcdefabcd"))
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveJob)

	// once the first job is terminal the key is free again
	_, err = store.UpdateStatus(ctx, first.ID, domain.JobStatusCancelled, domain.StatusUpdate{})
	require.NoError(t, err)

	second, err := store.Create(ctx, newJob("url:abcdefabcdefabcd"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestJobStore_Get_NotFound(t *testing.T) {
	store, _ := newTestJobStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_FindActiveByResourceKey(t *testing.T) {
	store, _ := newTestJobStore(t)
	ctx := context.Background()

	found, err := store.FindActiveByResourceKey(ctx, "yt:none")
	require.NoError(t, err)
	assert.Nil(t, found)

	job, err := store.Create(ctx, newJob("yt:active"))
	require.NoError(t, err)

	found, err = store.FindActiveByResourceKey(ctx, "yt:active")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)

	_, err = store.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)

	found, err = store.FindActiveByResourceKey(ctx, "yt:active")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.JobStatusProcessing, found.Status)

	_, err = store.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, domain.StatusUpdate{})
	require.NoError(t, err)

	found, err = store.FindActiveByResourceKey(ctx, "yt:active")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestJobStore_UpdateStatus_Timestamps(t *testing.T) {
	store, clock := newTestJobStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, newJob("yt:timestamps"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	processing, err := store.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)
	require.NotNil(t, processing.StartedAt)
	assert.Nil(t, processing.FinishedAt)
	startedAt := *processing.StartedAt

	clock.Advance(time.Second)
	again, err := store.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)
	require.NotNil(t, again.StartedAt)
	assert.True(t, startedAt.Equal(*again.StartedAt), "started_at must not move on a repeated start")

	clock.Advance(time.Second)
	completed, err := store.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, domain.StatusUpdate{})
	require.NoError(t, err)
	require.NotNil(t, completed.FinishedAt)
	assert.True(t, completed.FinishedAt.After(*completed.StartedAt))
	assert.Empty(t, completed.ErrorCode)
}

func TestJobStore_UpdateStatus_ErrorFields(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.JobStatus
		update    domain.StatusUpdate
		wantCode  string
		wantStage string
		wantMsg   string
	}{
		{
			name:      "failed records the stage failure",
			status:    domain.JobStatusFailed,
			update:    domain.StatusUpdate{ErrorCode: "LLM_TIMEOUT", ErrorStage: "llm_call", ErrorMessage: "timed out"},
			wantCode:  "LLM_TIMEOUT",
			wantStage: "llm_call",
			wantMsg:   "timed out",
		},
		{
			name:     "failed with only a code",
			status:   domain.JobStatusFailed,
			update:   domain.StatusUpdate{ErrorCode: domain.ErrorCodeNoResult},
			wantCode: domain.ErrorCodeNoResult,
		},
		{
			name:   "completed ignores error fields",
			status: domain.JobStatusCompleted,
			update: domain.StatusUpdate{ErrorCode: "IGNORED", ErrorStage: "ignored"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestJobStore(t)
			ctx := context.Background()

			job, err := store.Create(ctx, newJob("yt:errors"))
			require.NoError(t, err)
			_, err = store.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, domain.StatusUpdate{})
			require.NoError(t, err)

			updated, err := store.UpdateStatus(ctx, job.ID, tt.status, tt.update)
			require.NoError(t, err)

			assert.Equal(t, tt.status, updated.Status)
			assert.Equal(t, tt.wantCode, updated.ErrorCode)
			assert.Equal(t, tt.wantStage, updated.ErrorStage)
			assert.Equal(t, tt.wantMsg, updated.ErrorMessage)
			assert.NotNil(t, updated.FinishedAt)
		})
	}
}

func TestJobStore_UpdateStatus_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.JobStatus
		next    domain.JobStatus
		wantErr error
	}{
		{
			name:    "pending cannot complete",
			next:    domain.JobStatusCompleted,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "nothing moves back to pending",
			path:    []domain.JobStatus{domain.JobStatusProcessing},
			next:    domain.JobStatusPending,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "cancelled is terminal",
			path:    []domain.JobStatus{domain.JobStatusCancelled},
			next:    domain.JobStatusProcessing,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "completed cannot be cancelled",
			path:    []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusCompleted},
			next:    domain.JobStatusCancelled,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "failed cannot complete",
			path:    []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusFailed},
			next:    domain.JobStatusCompleted,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "unknown status",
			next:    domain.JobStatus("paused"),
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestJobStore(t)
			ctx := context.Background()

			job, err := store.Create(ctx, newJob("yt:transitions"))
			require.NoError(t, err)
			for _, st := range tt.path {
				_, err := store.UpdateStatus(ctx, job.ID, st, domain.StatusUpdate{})
				require.NoError(t, err)
			}
			before, err := store.Get(ctx, job.ID)
			require.NoError(t, err)

			_, err = store.UpdateStatus(ctx, job.ID, tt.next, domain.StatusUpdate{})
			assert.ErrorIs(t, err, tt.wantErr)

			after, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
		})
	}
}

func TestJobStore_UpdateStatus_NotFound(t *testing.T) {
	store, _ := newTestJobStore(t)

	_, err := store.UpdateStatus(context.Background(), "missing", domain.JobStatusProcessing, domain.StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_List(t *testing.T) {
	store, clock := newTestJobStore(t)
	ctx := context.Background()

	var ids []string
	for _, key := range []string{"yt:1", "yt:2", "yt:3", "yt:4"} {
		job := newJob(key)
		job.ContentID = "content-a"
		created, err := store.Create(ctx, job)
		require.NoError(t, err)
		ids = append(ids, created.ID)
		clock.Advance(time.Minute)
	}
	other, err := store.Create(ctx, newJob("yt:other"))
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, ids[0], domain.JobStatusCancelled, domain.StatusUpdate{})
	require.NoError(t, err)

	tests := []struct {
		name      string
		filter    domain.JobFilter
		wantIDs   []string
		wantTotal int
	}{
		{
			name:      "all jobs newest first",
			filter:    domain.JobFilter{},
			wantIDs:   []string{other.ID, ids[3], ids[2], ids[1], ids[0]},
			wantTotal: 5,
		},
		{
			name:      "by content",
			filter:    domain.JobFilter{ContentID: "content-a"},
			wantIDs:   []string{ids[3], ids[2], ids[1], ids[0]},
			wantTotal: 4,
		},
		{
			name:      "by content and status",
			filter:    domain.JobFilter{ContentID: "content-a", Status: domain.JobStatusCancelled},
			wantIDs:   []string{ids[0]},
			wantTotal: 1,
		},
		{
			name:      "paginated",
			filter:    domain.JobFilter{ContentID: "content-a", Limit: 2, Offset: 1},
			wantIDs:   []string{ids[2], ids[1]},
			wantTotal: 4,
		},
		{
			name:      "offset past the end",
			filter:    domain.JobFilter{Offset: 10},
			wantIDs:   []string{},
			wantTotal: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, total, err := store.List(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(jobs))
			for _, j := range jobs {
				got = append(got, j.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestJobStore_PurgeExpired(t *testing.T) {
	store, clock := newTestJobStore(t)
	ctx := context.Background()
	start := clock.Now()

	finish := func(key string, tier domain.DataTier, finishedAt time.Time, terminal domain.JobStatus) string {
		clock.Set(finishedAt)
		job := newJob(key)
		job.DataTier = tier
		created, err := store.Create(ctx, job)
		require.NoError(t, err)
		if terminal == domain.JobStatusCompleted {
			_, err = store.UpdateStatus(ctx, created.ID, domain.JobStatusProcessing, domain.StatusUpdate{})
			require.NoError(t, err)
		}
		if terminal != "" {
			_, err = store.UpdateStatus(ctx, created.ID, terminal, domain.StatusUpdate{})
			require.NoError(t, err)
		}
		return created.ID
	}

	// full tier keeps two months, compact keeps six
	fullOld := finish("yt:full-old", domain.DataTierFull, start.AddDate(0, -3, 0), domain.JobStatusCompleted)
	fullRecent := finish("yt:full-recent", domain.DataTierFull, start.AddDate(0, -1, 0), domain.JobStatusCompleted)
	compactOld := finish("yt:compact-old", domain.DataTierCompact, start.AddDate(0, -7, 0), domain.JobStatusCancelled)
	compactMid := finish("yt:compact-mid", domain.DataTierCompact, start.AddDate(0, -3, 0), domain.JobStatusCompleted)
	pendingOld := finish("yt:pending-old", domain.DataTierFull, start.AddDate(-1, 0, 0), "")

	clock.Set(start)
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[domain.DataTier]int64{
		domain.DataTierCompact: 1,
		domain.DataTierFull:    1,
	}, purged)

	for _, id := range []string{fullOld, compactOld} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	}
	for _, id := range []string{fullRecent, compactMid, pendingOld} {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err)
	}

	// a second sweep has nothing left to do
	purged, err = store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged[domain.DataTierCompact])
	assert.Equal(t, int64(0), purged[domain.DataTierFull])
}

func TestJobStore_PurgeExpired_CustomPolicy(t *testing.T) {
	clock := newFakeClock()
	store := NewJobStore(newTestDB(t), testLogger(),
		WithClock(clock.Now),
		WithRetention(domain.RetentionPolicy{CompactMonths: 1, FullMonths: 1}),
	)
	ctx := context.Background()
	start := clock.Now()

	clock.Set(start.AddDate(0, -2, 0))
	job := newJob("yt:custom")
	job.DataTier = domain.DataTierCompact
	created, err := store.Create(ctx, job)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, created.ID, domain.JobStatusCancelled, domain.StatusUpdate{})
	require.NoError(t, err)

	clock.Set(start)
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged[domain.DataTierCompact])
}
