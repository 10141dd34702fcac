//go:build integration

package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	incidentspostgres "github.com/bissquit/incident-repair/internal/incidents/postgres"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"github.com/bissquit/incident-repair/internal/pkg/keylock/redislock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createStored(t *testing.T, repo *incidentspostgres.Repository) *domain.Incident {
	t.Helper()
	sourceID := newSourceID("repo")
	incident := &domain.Incident{
		Severity:       domain.SeverityCritical,
		Title:          "queue backlog",
		SourceType:     domain.SourceTypeQueue,
		SourceID:       &sourceID,
		DetectedAt:     time.Now().UTC().Add(-time.Hour),
		Status:         domain.IncidentStatusOpen,
		ResolutionKind: domain.ResolutionNone,
	}
	require.NoError(t, repo.CreateIncident(context.Background(), incident))
	return incident
}

func TestPostgresRepository_ConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	repo := incidentspostgres.NewRepository(testDB)
	incident := createStored(t, repo)

	assert.Equal(t, int64(1), incident.Version)

	at := time.Now().UTC()
	updated, err := repo.RecordRepairAttempt(ctx, incident.ID, at, false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RepairAttempts)
	assert.Equal(t, int64(2), updated.Version)

	linked, err := repo.LinkTicket(ctx, incident.ID, "DESK-REPO-1", at)
	require.NoError(t, err)
	require.NotNil(t, linked.LinkedTicketID)
	assert.Equal(t, "DESK-REPO-1", *linked.LinkedTicketID)

	_, err = repo.LinkTicket(ctx, incident.ID, "DESK-REPO-2", at)
	assert.ErrorIs(t, err, incidents.ErrTicketAlreadyLinked)

	resolved, err := repo.Resolve(ctx, incident.ID, domain.ResolutionEscalated, "desk closed it", at)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, resolved.Status)
	require.NoError(t, resolved.Validate())

	_, err = repo.RecordRepairAttempt(ctx, incident.ID, at, false)
	assert.ErrorIs(t, err, incidents.ErrIncidentResolved)
	_, err = repo.Resolve(ctx, incident.ID, domain.ResolutionManual, "", at)
	assert.ErrorIs(t, err, incidents.ErrIncidentResolved)

	final, err := repo.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.RepairAttempts)
	assert.Equal(t, domain.ResolutionEscalated, final.ResolutionKind)
	assert.Equal(t, "DESK-REPO-1", *final.LinkedTicketID)
}

func TestPostgresRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := incidentspostgres.NewRepository(testDB)

	_, err := repo.GetIncident(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)

	_, err = repo.RecordRepairAttempt(ctx, "00000000-0000-0000-0000-0000000000ff", time.Now(), false)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestPostgresRepository_ConcurrentAttemptsAllCount(t *testing.T) {
	ctx := context.Background()
	repo := incidentspostgres.NewRepository(testDB)
	incident := createStored(t, repo)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RecordRepairAttempt(ctx, incident.ID, time.Now().UTC(), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.RepairAttempts)
	assert.Equal(t, int64(workers+1), got.Version)
}

func TestPostgresRepository_RejectsInconsistentRows(t *testing.T) {
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO incidents (severity, title, source_type, detected_at, status)
		VALUES ('info', 'bad', 'other', NOW(), 'resolved')
	`)
	assert.Error(t, err, "resolved status without resolved_at must be rejected")
}

func TestRedisLock_SerializesAcrossLockers(t *testing.T) {
	// Two lockers model two service replicas sharing one Redis.
	a := redislock.New(testRedis, redislock.Config{TTL: 10 * time.Second, Prefix: "test:lock:"})
	b := redislock.New(testRedis, redislock.Config{TTL: 10 * time.Second, Prefix: "test:lock:"})
	key := "incident:" + newSourceID("lock")

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		locker := a
		if i%2 == 1 {
			locker = b
		}
		wg.Add(1)
		go func(locker *redislock.Locker) {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}(locker)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestRedisLock_WaitTimeout(t *testing.T) {
	locker := redislock.New(testRedis, redislock.Config{
		TTL:         10 * time.Second,
		WaitTimeout: 200 * time.Millisecond,
		Prefix:      "test:lock:",
	})
	key := "incident:" + newSourceID("lock")

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), key)
	assert.ErrorIs(t, err, keylock.ErrNotAcquired)

	unlock()
	unlock2, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLock_ReleaseIgnoresForeignLease(t *testing.T) {
	ctx := context.Background()
	locker := redislock.New(testRedis, redislock.Config{TTL: 100 * time.Millisecond, Prefix: "test:lock:"})
	key := "incident:" + newSourceID("lock")

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	// The lease expires and another holder takes the key.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, testRedis.Set(ctx, "test:lock:"+key, "someone-else", time.Minute).Err())

	unlock()

	val, err := testRedis.Get(ctx, "test:lock:"+key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
