package escalation

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const bodyTemplate = "templates/ticket_body.tmpl"

// Renderer builds ticket requests from incidents.
type Renderer struct {
	body *template.Template
}

// NewRenderer parses the embedded ticket template.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"formatTime": formatTime,
	}

	content, err := templatesFS.ReadFile(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", bodyTemplate, err)
	}

	tmpl, err := template.New("ticket_body").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", bodyTemplate, err)
	}

	return &Renderer{body: tmpl}, nil
}

// Render returns the ticket request for an incident.
// The incident id doubles as the correlation id on the desk side.
func (r *Renderer) Render(incident *domain.Incident) (domain.TicketRequest, error) {
	var buf bytes.Buffer
	if err := r.body.Execute(&buf, incident); err != nil {
		return domain.TicketRequest{}, fmt.Errorf("execute ticket template: %w", err)
	}

	return domain.TicketRequest{
		CorrelationID:       incident.ID,
		Title:               fmt.Sprintf("[%s] %s", titleCase(string(incident.Severity)), incident.Title),
		Body:                strings.TrimSpace(buf.String()),
		Severity:            incident.Severity,
		SourceType:          incident.SourceType,
		SourceID:            incident.SourceRef(),
		RepairAttempts:      incident.RepairAttempts,
		LastRepairAttemptAt: incident.LastRepairAttemptAt,
		DetectedAt:          incident.DetectedAt,
	}, nil
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
