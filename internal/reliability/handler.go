package reliability

import (
	"net/http"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidWindow, Status: http.StatusBadRequest},
	{Error: ErrWindowTooLarge, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for reliability reports.
type Handler struct {
	aggregator *Aggregator
}

// NewHandler creates a new reliability handler.
func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// RegisterRoutes registers read-only reliability routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/reliability", h.GetReport)
}

// GetReport handles GET /reliability.
// Accepts either ?window=<duration> (trailing, ending now) or ?from=&to= in RFC3339.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	window, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	report, err := h.aggregator.ComputeMetrics(r.Context(), window)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

func (h *Handler) parseWindow(w http.ResponseWriter, r *http.Request) (domain.Window, bool) {
	query := r.URL.Query()
	from, to, length := query.Get("from"), query.Get("to"), query.Get("window")

	switch {
	case from != "" || to != "":
		if length != "" {
			httputil.Error(w, http.StatusBadRequest, "use either window or from/to, not both")
			return domain.Window{}, false
		}
		if from == "" || to == "" {
			httputil.Error(w, http.StatusBadRequest, "from and to must be given together")
			return domain.Window{}, false
		}
		fromT, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
			return domain.Window{}, false
		}
		toT, err := time.Parse(time.RFC3339, to)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "to must be an RFC3339 timestamp")
			return domain.Window{}, false
		}
		return domain.Window{From: fromT.UTC(), To: toT.UTC()}, true

	case length != "":
		d, err := time.ParseDuration(length)
		if err != nil || d <= 0 {
			httputil.Error(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return domain.Window{}, false
		}
		return domain.TrailingWindow(h.aggregator.now().UTC(), d), true

	default:
		return h.aggregator.DefaultWindow(), true
	}
}
