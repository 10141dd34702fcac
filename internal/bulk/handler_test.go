package bulk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBulkRouter() http.Handler {
	c := NewCoordinator(&mockRepairer{fn: succeedRepair}, nil, nil, Config{MaxBatchSize: 3})
	r := chi.NewRouter()
	NewHandler(c).RegisterOperatorRoutes(r)
	return r
}

func TestHandler_RunBulk(t *testing.T) {
	router := newBulkRouter()

	req := httptest.NewRequest(http.MethodPost, "/incidents/bulk",
		strings.NewReader(`{"action":"attempt_repair","incident_ids":["a","b","a"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ActionAttemptRepair, body.Data.Action)
	assert.Len(t, body.Data.Results, 2)
	assert.Equal(t, 2, body.Data.SucceededCount)
	assert.Equal(t, 2, body.Data.StatusCounts[domain.ActionSucceeded])
}

func TestHandler_RunBulk_BadRequests(t *testing.T) {
	router := newBulkRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown action", `{"action":"purge","incident_ids":["a"]}`},
		{"no ids", `{"action":"resolve","incident_ids":[]}`},
		{"too many", `{"action":"attempt_repair","incident_ids":["a","b","c","d"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/incidents/bulk", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
