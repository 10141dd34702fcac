package bulk

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnknownAction, Status: http.StatusBadRequest},
	{Error: ErrEmptyBatch, Status: http.StatusBadRequest},
	{Error: ErrBatchTooLarge, Status: http.StatusBadRequest},
	{Error: ErrBlankIncidentID, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for bulk actions.
type Handler struct {
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler creates a new bulk handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{
		coordinator: coordinator,
		validator:   validator.New(),
	}
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents/bulk", h.RunBulk)
}

// RunBulkRequest represents the request body for a bulk action.
type RunBulkRequest struct {
	Action      string   `json:"action" validate:"required,oneof=attempt_repair create_ticket resolve"`
	IncidentIDs []string `json:"incident_ids" validate:"required,min=1"`
}

// RunBulk handles POST /incidents/bulk.
func (h *Handler) RunBulk(w http.ResponseWriter, r *http.Request) {
	var req RunBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	report, err := h.coordinator.RunBulk(r.Context(), Action(req.Action), req.IncidentIDs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}
