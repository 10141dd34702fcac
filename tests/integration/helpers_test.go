//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type incidentBody struct {
	ID                  string     `json:"id"`
	Severity            string     `json:"severity"`
	Title               string     `json:"title"`
	SourceType          string     `json:"source_type"`
	SourceID            *string    `json:"source_id"`
	DetectedAt          time.Time  `json:"detected_at"`
	Status              string     `json:"status"`
	ResolvedAt          *time.Time `json:"resolved_at"`
	ResolutionKind      string     `json:"resolution_kind"`
	ResolutionNote      string     `json:"resolution_note"`
	RepairAttempts      int        `json:"repair_attempts"`
	LastRepairAttemptAt *time.Time `json:"last_repair_attempt_at"`
	LinkedTicketID      *string    `json:"linked_ticket_id"`
	EscalatedAt         *time.Time `json:"escalated_at"`
	Version             int64      `json:"version"`
	TicketSuggested     bool       `json:"ticket_suggested"`
}

type incidentOption func(map[string]interface{})

func withSourceType(sourceType domain.SourceType) incidentOption {
	return func(m map[string]interface{}) {
		m["source_type"] = string(sourceType)
	}
}

func withDetectedAt(at time.Time) incidentOption {
	return func(m map[string]interface{}) {
		m["detected_at"] = at.UTC().Format(time.RFC3339Nano)
	}
}

// newSourceID returns a source id unique to the calling test.
func newSourceID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// ingestIncident records an asset incident as the detector and returns it.
func ingestIncident(t *testing.T, sourceID string, opts ...incidentOption) incidentBody {
	t.Helper()

	client := newTestClient(t)
	client.AsDetector(t)

	payload := map[string]interface{}{
		"severity":    "error",
		"title":       "Thumbnail generation failing",
		"description": "Renditions missing for new uploads",
		"source_type": "asset",
		"source_id":   sourceID,
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/incidents", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data incidentBody `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func getIncident(t *testing.T, id string) incidentBody {
	t.Helper()

	client := newTestClient(t)
	client.AsViewer(t)

	resp, err := client.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data incidentBody `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

type repairBody struct {
	Status          string       `json:"status"`
	Outcome         string       `json:"outcome"`
	Reason          string       `json:"reason"`
	Retryable       bool         `json:"retryable"`
	TicketSuggested bool         `json:"ticket_suggested"`
	Incident        incidentBody `json:"incident"`
}

func attemptRepair(t *testing.T, client *testutil.Client, id string) repairBody {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/"+id+"/repair", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data repairBody `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

type ticketBody struct {
	Created  bool         `json:"created"`
	TicketID string       `json:"ticket_id"`
	Status   string       `json:"status"`
	Reason   string       `json:"reason"`
	Incident incidentBody `json:"incident"`
}

func createTicket(t *testing.T, client *testutil.Client, id string) (int, ticketBody) {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/"+id+"/ticket", nil)
	require.NoError(t, err)

	var result struct {
		Data ticketBody `json:"data"`
	}
	status := resp.StatusCode
	testutil.DecodeJSON(t, resp, &result)
	return status, result.Data
}
