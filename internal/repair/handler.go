package repair

import (
	"net/http"

	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
}

// Handler handles HTTP requests for repair attempts.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler creates a new repair handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents/{id}/repair", h.AttemptRepair)
}

// AttemptRepair handles POST /incidents/{id}/repair.
// Failed repairs and conflicts are reported in the body with 200.
func (h *Handler) AttemptRepair(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.orchestrator.AttemptRepair(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
