package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services"
	"github.com/huangang/claimwatch/pkg/logger"
)

const maxReleaseAttempts = 3

// Service turns platform webhook events into assignment records.
// Staleness itself is still found by polling; webhooks only open and close
// assignments and nudge the monitor when the assignee shows up.
type Service struct {
	store    *services.AssignmentStore
	queue    services.TaskQueue
	events   *services.SSEHub
	botLogin string
	Now      func() time.Time
}

// NewService creates a new webhook Service instance. botLogin is the account
// the monitor acts as; its own unassign events are ignored.
func NewService(store *services.AssignmentStore, queue services.TaskQueue, events *services.SSEHub, botLogin string) *Service {
	return &Service{
		store:    store,
		queue:    queue,
		events:   events,
		botLogin: botLogin,
		Now:      time.Now,
	}
}

// Result describes what an event did, for the webhook response and logs.
type Result struct {
	Event         string `json:"event"`
	Action        string `json:"action,omitempty"`
	Handled       bool   `json:"handled"`
	Reason        string `json:"reason,omitempty"`
	AssignmentIDs []uint `json:"assignment_ids,omitempty"`
}

func ignored(event, action, reason string) *Result {
	return &Result{Event: event, Action: action, Reason: reason}
}

func (s *Service) isBot(login string) bool {
	return s.botLogin != "" && strings.EqualFold(login, s.botLogin)
}

// track registers a new live assignment, or returns the existing one.
func (s *Service) track(ctx context.Context, repo string, issue int, assignee string, at time.Time) (*models.Assignment, error) {
	now := s.Now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	a, created, err := s.store.Create(ctx, &models.Assignment{
		Repository:  repo,
		IssueNumber: issue,
		Assignee:    assignee,
		AssignedAt:  at,
	})
	if err != nil {
		return nil, err
	}
	if created {
		log := logger.ForAssignment(a.ID, repo, issue)
		log.Info().Str("assignee", assignee).Msg("[Webhook] Tracking new assignment")
		s.events.Publish(services.NewAssignmentEvent(a, "", "assigned", now))
	}
	return a, nil
}

// release moves a live assignment to RELEASED. An assignment that is already
// closed is left alone.
func (s *Service) release(ctx context.Context, id uint, reason, actor string) error {
	var lastErr error
	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return nil
		}

		now := s.Now()
		out, err := s.store.ApplyTransition(ctx, services.Transition{
			AssignmentID:    a.ID,
			ExpectedVersion: a.Version,
			Status:          models.StatusReleased,
			LastThreshold:   &reason,
			Events: []models.ActivityEvent{{
				Timestamp: now.UTC(),
				Kind:      models.KindAssignment,
				Source:    models.SourceSystem,
				Actor:     actor,
				Payload:   "released: " + reason,
				DedupeKey: fmt.Sprintf("released:%d", now.UnixNano()),
			}},
		})
		switch {
		case errors.Is(err, services.ErrWriteConflict):
			lastErr = err
			continue
		case errors.Is(err, services.ErrAssignmentClosed):
			return nil
		case err != nil:
			return err
		}

		log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)
		log.Info().Str("reason", reason).Str("actor", actor).Msg("[Webhook] Assignment released")
		s.events.Publish(services.NewAssignmentEvent(out.Assignment, a.Status, reason, now))
		return nil
	}
	return lastErr
}
