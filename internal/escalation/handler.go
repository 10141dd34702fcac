package escalation

import (
	"net/http"

	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
}

// Handler handles HTTP requests for ticket creation.
type Handler struct {
	service *Service
}

// NewHandler creates a new escalation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents/{id}/ticket", h.CreateTicket)
}

// CreateTicket handles POST /incidents/{id}/ticket.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.CreateTicket(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.Success(w, status, result)
}
