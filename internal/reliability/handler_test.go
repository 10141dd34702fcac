package reliability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() http.Handler {
	agg := NewAggregator(memory.NewRepository(), nil, Config{MaxWindow: 7 * 24 * time.Hour})
	agg.now = func() time.Time { return windowEnd }

	r := chi.NewRouter()
	NewHandler(agg).RegisterRoutes(r)
	return r
}

func getReport(t *testing.T, router http.Handler, query string) (*httptest.ResponseRecorder, domain.ReliabilityReport) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/reliability"+query, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body struct {
		Data domain.ReliabilityReport `json:"data"`
	}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body.Data
}

func TestHandler_GetReport_Windows(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		name  string
		query string
		want  domain.Window
	}{
		{"default", "", domain.TrailingWindow(windowEnd, 24*time.Hour)},
		{"trailing", "?window=6h", domain.TrailingWindow(windowEnd, 6*time.Hour)},
		{"explicit", "?from=2026-04-01T00:00:00Z&to=2026-04-03T00:00:00Z", domain.Window{
			From: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, report := getReport(t, router, tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.True(t, tt.want.From.Equal(report.Window.From))
			assert.True(t, tt.want.To.Equal(report.Window.To))
			assert.Nil(t, report.MTTRMinutesAvg)
			assert.True(t, report.RecoveryRateNoData)
		})
	}
}

func TestHandler_GetReport_BadRequests(t *testing.T) {
	router := newTestRouter()

	for _, query := range []string{
		"?window=abc",
		"?window=-1h",
		"?from=2026-04-01T00:00:00Z",
		"?from=yesterday&to=2026-04-03T00:00:00Z",
		"?from=2026-04-03T00:00:00Z&to=2026-04-01T00:00:00Z",
		"?window=24h&from=2026-04-01T00:00:00Z&to=2026-04-03T00:00:00Z",
		"?window=720h",
	} {
		rec, _ := getReport(t, router, query)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
