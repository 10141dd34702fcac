// Package escalation hands incidents over to the support desk as tickets.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/incidents"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName            = "github.com/bissquit/incident-repair/internal/escalation"
	defaultGatewayTimeout = 15 * time.Second
)

// Gateway creates tickets in the support desk.
// A duplicate is reported as ErrDuplicateTicket, ideally as *DuplicateError
// carrying the existing ticket id.
type Gateway interface {
	CreateTicket(ctx context.Context, req domain.TicketRequest) (ticketID string, err error)
}

// Result is the outcome of a ticket request.
type Result struct {
	Created  bool                `json:"created"`
	TicketID string              `json:"ticket_id,omitempty"`
	Status   domain.ActionStatus `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Incident *domain.Incident    `json:"incident"`
}

// Config holds escalation settings.
type Config struct {
	GatewayTimeout time.Duration
}

// Service creates support tickets for open incidents.
type Service struct {
	repo     incidents.Repository
	locker   keylock.Locker
	gateway  Gateway
	renderer *Renderer
	config   Config
	now      func() time.Time
}

// NewService creates a new escalation service.
func NewService(repo incidents.Repository, locker keylock.Locker, gateway Gateway, renderer *Renderer, config Config) *Service {
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = defaultGatewayTimeout
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		gateway:  gateway,
		renderer: renderer,
		config:   config,
		now:      time.Now,
	}
}

// CreateTicket opens at most one support ticket per incident.
// The chronic-failure threshold is advisory and not enforced here.
func (s *Service) CreateTicket(ctx context.Context, id string) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "escalation.CreateTicket",
		trace.WithAttributes(attribute.String("incident.id", id)))
	defer span.End()

	result, err := s.createTicket(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("ticket.status", string(result.Status)),
		attribute.Bool("ticket.created", result.Created),
	)
	return result, nil
}

func (s *Service) createTicket(ctx context.Context, id string) (*Result, error) {
	ctx, logger := ctxlog.With(ctx, "incident_id", id)

	unlock, err := s.locker.Lock(ctx, incidents.LockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	defer unlock()

	incident, err := incidents.Fetch(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}

	if incident.IsResolved() {
		recordTicket(resultSkipped)
		return closed(incident), nil
	}
	if incident.HasTicket() {
		recordTicket(resultSkipped)
		return alreadyTicketed(incident), nil
	}

	req, err := s.renderer.Render(incident)
	if err != nil {
		return nil, fmt.Errorf("render ticket: %w", err)
	}

	ticketID, err := s.callGateway(ctx, req)
	if err != nil {
		var dup *DuplicateError
		switch {
		case errors.As(err, &dup) && dup.TicketID != "":
			recordTicket(resultDuplicate)
			logger.Info("desk reported existing ticket, linking it", "ticket_id", dup.TicketID)
			return s.link(ctx, incident, dup.TicketID, false)
		case errors.Is(err, ErrDuplicateTicket):
			recordTicket(resultDuplicate)
			return &Result{
				Status:   domain.ActionAlreadyTicketed,
				Reason:   domain.ReasonTicketExists,
				Incident: incident,
			}, nil
		default:
			recordTicket(resultFailed)
			logger.Warn("ticket gateway call failed", "error", err)
			return &Result{
				Status:   domain.ActionError,
				Reason:   fmt.Sprintf("ticket gateway: %v", err),
				Incident: incident,
			}, nil
		}
	}

	recordTicket(resultCreated)
	return s.link(ctx, incident, ticketID, true)
}

func (s *Service) callGateway(ctx context.Context, req domain.TicketRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	ticketID, err := s.gateway.CreateTicket(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s: %w", s.config.GatewayTimeout, err)
		}
		return "", err
	}
	if ticketID == "" {
		return "", errors.New("desk returned an empty ticket id")
	}
	return ticketID, nil
}

// link stores the ticket on the incident. The first link wins: a ticket that
// arrives after the incident was closed or linked elsewhere is reported, not stored.
func (s *Service) link(ctx context.Context, incident *domain.Incident, ticketID string, created bool) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.FromContext(ctx)

	updated, err := s.repo.LinkTicket(ctx, incident.ID, ticketID, s.now().UTC())
	if err != nil {
		if !errors.Is(err, incidents.ErrIncidentResolved) && !errors.Is(err, incidents.ErrTicketAlreadyLinked) {
			return nil, fmt.Errorf("link ticket: %w", err)
		}

		current, fetchErr := incidents.Fetch(ctx, s.repo, incident.ID)
		if fetchErr != nil {
			return nil, fetchErr
		}
		logger.Warn("ticket not linked, incident changed concurrently",
			"ticket_id", ticketID,
			"error", err,
		)
		result := alreadyTicketed(current)
		if current.IsResolved() {
			result = closed(current)
		}
		result.Created = created
		if created {
			result.TicketID = ticketID
		}
		return result, nil
	}

	if created {
		logger.Info("ticket created", "ticket_id", ticketID)
		return &Result{
			Created:  true,
			TicketID: ticketID,
			Status:   domain.ActionSucceeded,
			Incident: updated,
		}, nil
	}

	return &Result{
		TicketID: ticketID,
		Status:   domain.ActionAlreadyTicketed,
		Reason:   domain.ReasonTicketExists,
		Incident: updated,
	}, nil
}

func closed(incident *domain.Incident) *Result {
	return &Result{
		Status:   domain.ActionConflict,
		Reason:   domain.ReasonIncidentClosed,
		Incident: incident,
	}
}

func alreadyTicketed(incident *domain.Incident) *Result {
	result := &Result{
		Status:   domain.ActionAlreadyTicketed,
		Reason:   domain.ReasonTicketExists,
		Incident: incident,
	}
	if incident.LinkedTicketID != nil {
		result.TicketID = *incident.LinkedTicketID
	}
	return result
}
