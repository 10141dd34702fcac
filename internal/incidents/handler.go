package incidents

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Pagination limits for incident listing.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
	{Error: ErrInvalidSourceType, Status: http.StatusBadRequest},
	{Error: ErrInvalidResolutionKind, Status: http.StatusBadRequest},
	{Error: ErrTicketRequired, Status: http.StatusBadRequest, Message: "escalated resolution requires a linked ticket"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers read-only incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/{id}", h.GetIncident)
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/incidents/{id}/resolve", h.ResolveIncident)
}

// RegisterDetectorRoutes registers the ingest route used by the problem detector.
func (h *Handler) RegisterDetectorRoutes(r chi.Router) {
	r.Post("/incidents", h.IngestIncident)
}

// IngestIncidentRequest represents the request body for reporting an incident.
type IngestIncidentRequest struct {
	Severity    string     `json:"severity" validate:"required,oneof=info warning error critical"`
	Title       string     `json:"title" validate:"required,min=1,max=500"`
	Description string     `json:"description"`
	SourceType  string     `json:"source_type" validate:"required,oneof=asset job scheduler queue other"`
	SourceID    *string    `json:"source_id" validate:"omitempty,min=1,max=255"`
	DetectedAt  *time.Time `json:"detected_at"`
}

// ResolveIncidentRequest represents the request body for resolving an incident.
type ResolveIncidentRequest struct {
	Kind string `json:"kind" validate:"omitempty,oneof=manual escalated"`
	Note string `json:"note" validate:"max=2000"`
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := IncidentFilters{Limit: DefaultListLimit}

	if v := query.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filters.Status = &status
	}

	if v := query.Get("source_type"); v != "" {
		sourceType := domain.SourceType(v)
		if !sourceType.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid source_type")
			return
		}
		filters.SourceType = &sourceType
	}

	if v := query.Get("severity"); v != "" {
		severity := domain.Severity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity")
			return
		}
		filters.Severity = &severity
	}

	if v := query.Get("min_attempts"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "min_attempts must be a non-negative integer")
			return
		}
		filters.MinAttempts = parsed
	}

	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > MaxListLimit {
			parsed = MaxListLimit
		}
		filters.Limit = parsed
	}

	if o := query.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filters.Offset = parsed
	}

	list, err := h.service.ListIncidents(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	views := make([]IncidentView, 0, len(list))
	for _, incident := range list {
		views = append(views, h.service.View(incident))
	}

	httputil.Success(w, http.StatusOK, views)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, h.service.View(incident))
}

// IngestIncident handles POST /incidents.
func (h *Handler) IngestIncident(w http.ResponseWriter, r *http.Request) {
	var req IngestIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Ingest(r.Context(), IngestInput{
		Severity:    domain.Severity(req.Severity),
		Title:       req.Title,
		Description: req.Description,
		SourceType:  domain.SourceType(req.SourceType),
		SourceID:    req.SourceID,
		DetectedAt:  req.DetectedAt,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, h.service.View(incident))
}

// ResolveIncident handles POST /incidents/{id}/resolve.
// An already resolved incident yields 200 with a conflict status in the body.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Resolve(r.Context(), id, ResolveInput{
		Kind: domain.ResolutionKind(req.Kind),
		Note: req.Note,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
