package incidents_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/incidents/memory"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*incidents.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	return incidents.NewService(repo, keylock.NewLocal(time.Second), 3), repo
}

func ingest(t *testing.T, svc *incidents.Service) *domain.Incident {
	t.Helper()
	sourceID := "asset-1"
	incident, err := svc.Ingest(context.Background(), incidents.IngestInput{
		Severity:   domain.SeverityError,
		Title:      "thumbnail missing",
		SourceType: domain.SourceTypeAsset,
		SourceID:   &sourceID,
	})
	require.NoError(t, err)
	return incident
}

func TestService_Ingest(t *testing.T) {
	svc, _ := newTestService(t)

	incident := ingest(t, svc)

	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
	assert.Equal(t, domain.ResolutionNone, incident.ResolutionKind)
	assert.Zero(t, incident.RepairAttempts)
	assert.Nil(t, incident.ResolvedAt)
	assert.False(t, incident.DetectedAt.IsZero())
	assert.NoError(t, incident.Validate())
}

func TestService_Ingest_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), incidents.IngestInput{
		Severity:   "fatal",
		Title:      "x",
		SourceType: domain.SourceTypeJob,
	})
	assert.ErrorIs(t, err, incidents.ErrInvalidSeverity)

	_, err = svc.Ingest(context.Background(), incidents.IngestInput{
		Severity:   domain.SeverityInfo,
		Title:      "x",
		SourceType: "printer",
	})
	assert.ErrorIs(t, err, incidents.ErrInvalidSourceType)
}

func TestService_Ingest_FutureDetectionClamped(t *testing.T) {
	svc, _ := newTestService(t)
	future := time.Now().Add(time.Hour)

	incident, err := svc.Ingest(context.Background(), incidents.IngestInput{
		Severity:   domain.SeverityWarning,
		Title:      "queue stalled",
		SourceType: domain.SourceTypeQueue,
		DetectedAt: &future,
	})
	require.NoError(t, err)
	assert.True(t, incident.DetectedAt.Before(future))
}

func TestService_Resolve(t *testing.T) {
	svc, _ := newTestService(t)
	incident := ingest(t, svc)

	result, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{Note: "fixed by hand"})
	require.NoError(t, err)

	assert.Equal(t, domain.ActionSucceeded, result.Status)
	assert.Equal(t, domain.IncidentStatusResolved, result.Incident.Status)
	assert.Equal(t, domain.ResolutionManual, result.Incident.ResolutionKind)
	assert.Equal(t, "fixed by hand", result.Incident.ResolutionNote)
	require.NotNil(t, result.Incident.ResolvedAt)
}

func TestService_Resolve_AlreadyResolvedIsConflict(t *testing.T) {
	svc, _ := newTestService(t)
	incident := ingest(t, svc)

	first, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{})
	require.NoError(t, err)

	second, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{})
	require.NoError(t, err)

	assert.Equal(t, domain.ActionConflict, second.Status)
	assert.Equal(t, domain.ReasonAlreadyResolved, second.Reason)
	assert.Equal(t, first.Incident.ResolvedAt, second.Incident.ResolvedAt)
}

func TestService_Resolve_Escalated(t *testing.T) {
	svc, repo := newTestService(t)
	incident := ingest(t, svc)

	_, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{Kind: domain.ResolutionEscalated})
	assert.ErrorIs(t, err, incidents.ErrTicketRequired)

	_, err = repo.LinkTicket(context.Background(), incident.ID, "T-1", time.Now().UTC())
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{Kind: domain.ResolutionEscalated})
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionEscalated, result.Incident.ResolutionKind)
}

func TestService_Resolve_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	incident := ingest(t, svc)

	_, err := svc.Resolve(context.Background(), "missing", incidents.ResolveInput{})
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)

	_, err = svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{Kind: domain.ResolutionAutoRecovered})
	assert.ErrorIs(t, err, incidents.ErrInvalidResolutionKind)
}

func TestService_Resolve_ConcurrentOnlyOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	incident := ingest(t, svc)

	const callers = 8
	results := make([]*incidents.ResolveResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Resolve(context.Background(), incident.ID, incidents.ResolveInput{})
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, result := range results {
		require.NotNil(t, result)
		if result.Status == domain.ActionSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestService_GetIncident_InvariantViolation(t *testing.T) {
	svc, repo := newTestService(t)
	now := time.Now().UTC()
	repo.Put(&domain.Incident{
		ID:             "broken",
		Severity:       domain.SeverityError,
		SourceType:     domain.SourceTypeJob,
		DetectedAt:     now,
		Status:         domain.IncidentStatusOpen,
		ResolvedAt:     &now,
		ResolutionKind: domain.ResolutionNone,
	})

	_, err := svc.GetIncident(context.Background(), "broken")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	_, err = svc.ListIncidents(context.Background(), incidents.IncidentFilters{})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestService_View_TicketSuggested(t *testing.T) {
	svc, _ := newTestService(t)
	ticket := "T-9"

	tests := []struct {
		name     string
		incident *domain.Incident
		want     bool
	}{
		{"below threshold", &domain.Incident{Status: domain.IncidentStatusOpen, RepairAttempts: 2}, false},
		{"at threshold", &domain.Incident{Status: domain.IncidentStatusOpen, RepairAttempts: 3}, true},
		{"resolved", &domain.Incident{Status: domain.IncidentStatusResolved, RepairAttempts: 5}, false},
		{"already ticketed", &domain.Incident{Status: domain.IncidentStatusOpen, RepairAttempts: 5, LinkedTicketID: &ticket}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.View(tt.incident).TicketSuggested)
		})
	}
}
