package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
)

// ErrorMapping maps an error (matched with errors.Is) to a response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // err.Error() when empty
}

// commonMappings apply to every handler after its own table.
var commonMappings = []ErrorMapping{
	{Error: keylock.ErrNotAcquired, Status: http.StatusServiceUnavailable, Message: "incident is busy, retry later"},
	{Error: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "request timed out"},
}

// HandleError writes the response for the first mapping err matches.
// Anything unmapped is logged and reported as 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	if m, ok := match(err, mappings); ok {
		writeMapped(w, err, m)
		return
	}
	if m, ok := match(err, commonMappings); ok {
		ctxlog.FromContext(ctx).Warn("request not completed", "error", err)
		writeMapped(w, err, m)
		return
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

func match(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

func writeMapped(w http.ResponseWriter, err error, m ErrorMapping) {
	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	Error(w, m.Status, msg)
}
