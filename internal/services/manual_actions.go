package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/pkg/logger"
)

const (
	ActionMarkActive     = "mark_active"
	ActionExtendDeadline = "extend_deadline"
	ActionWhitelist      = "whitelist"
	ActionUnwhitelist    = "unwhitelist"
)

const (
	maxManualAttempts = 3
	leasePollInterval = 100 * time.Millisecond
)

// ManualActions applies maintainer overrides. Each one bypasses the policy
// until genuine activity shows up again.
type ManualActions struct {
	store  *AssignmentStore
	sink   NotificationSink
	events *SSEHub
	leases *LeaseManager
	Now    func() time.Time

	// LeaseTTL bounds how long an action holds the assignment lease.
	LeaseTTL time.Duration
	// LeaseWait is how long an action waits for a running check to finish.
	LeaseWait time.Duration
}

func NewManualActions(store *AssignmentStore, sink NotificationSink, events *SSEHub) *ManualActions {
	if sink == nil {
		sink = NopNotificationSink{}
	}
	return &ManualActions{store: store, sink: sink, events: events, Now: time.Now, LeaseTTL: time.Minute, LeaseWait: 10 * time.Second}
}

// WithLeases makes every action hold the assignment lease the monitor
// checks under, so an action never interleaves with a running check.
func (s *ManualActions) WithLeases(l *LeaseManager) *ManualActions {
	s.leases = l
	return s
}

// lock waits up to LeaseWait for the assignment lease. The returned func
// releases it.
func (s *ManualActions) lock(ctx context.Context, id uint) (func(), error) {
	if s.leases == nil {
		return func() {}, nil
	}
	deadline := time.Now().Add(s.LeaseWait)
	for {
		ok, err := s.leases.AcquireAssignment(ctx, id, s.LeaseTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := s.leases.ReleaseAssignment(context.WithoutCancel(ctx), id); err != nil {
					logger.Warn().Err(err).Uint("assignment_id", id).Msg("[ManualAction] Failed to release lease")
				}
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLeaseHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leasePollInterval):
		}
	}
}

// MarkActive resets the assignment to ACTIVE and restarts its clock.
func (s *ManualActions) MarkActive(ctx context.Context, id uint, actor string) (*models.Assignment, error) {
	return s.apply(ctx, id, actor, ActionMarkActive, nil, func(a *models.Assignment, now time.Time, tr *Transition) string {
		on := true
		tr.Status = models.StatusActive
		tr.ManualOverride = &on
		tr.Watermark = &now
		return fmt.Sprintf("marked active by %s", actor)
	})
}

// ExtendDeadline pushes the staleness clock forward by days, counted from
// now or from an existing extension, whichever is later.
func (s *ManualActions) ExtendDeadline(ctx context.Context, id uint, days int, actor string) (*models.Assignment, error) {
	if days <= 0 || days > 365 {
		return nil, fmt.Errorf("%w: days must be between 1 and 365, got %d", ErrInvalidInput, days)
	}
	return s.apply(ctx, id, actor, ActionExtendDeadline, map[string]interface{}{"days": days},
		func(a *models.Assignment, now time.Time, tr *Transition) string {
			base := now
			if a.DeadlineExtendedUntil != nil && a.DeadlineExtendedUntil.After(base) {
				base = *a.DeadlineExtendedUntil
			}
			until := base.Add(time.Duration(days) * day)
			on := true
			tr.Status = models.StatusManualOverride
			tr.ManualOverride = &on
			tr.DeadlineExtendedUntil = &until
			return fmt.Sprintf("deadline extended by %d days to %s by %s", days, until.UTC().Format("2006-01-02"), actor)
		})
}

// Whitelist exempts the assignment from automation.
func (s *ManualActions) Whitelist(ctx context.Context, id uint, actor string) (*models.Assignment, error) {
	return s.apply(ctx, id, actor, ActionWhitelist, nil, func(a *models.Assignment, now time.Time, tr *Transition) string {
		on := true
		tr.Status = models.StatusManualOverride
		tr.ManualOverride = &on
		tr.Whitelisted = &on
		return fmt.Sprintf("whitelisted by %s", actor)
	})
}

// Unwhitelist hands the assignment back to automation with a fresh clock.
func (s *ManualActions) Unwhitelist(ctx context.Context, id uint, actor string) (*models.Assignment, error) {
	return s.apply(ctx, id, actor, ActionUnwhitelist, nil, func(a *models.Assignment, now time.Time, tr *Transition) string {
		off := false
		tr.Status = models.StatusActive
		tr.ManualOverride = &off
		tr.Whitelisted = &off
		tr.Watermark = &now
		return fmt.Sprintf("removed from whitelist by %s", actor)
	})
}

type manualMutation func(a *models.Assignment, now time.Time, tr *Transition) string

func (s *ManualActions) apply(ctx context.Context, id uint, actor, action string, extra map[string]interface{}, mutate manualMutation) (*models.Assignment, error) {
	if actor == "" {
		actor = "maintainer"
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxManualAttempts; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Status.IsTerminal() {
			return nil, ErrAssignmentClosed
		}

		now := s.Now()
		tr := Transition{AssignmentID: a.ID, ExpectedVersion: a.Version}
		reason := mutate(a, now, &tr)
		tr.LastThreshold = &reason
		tr.Events = []models.ActivityEvent{manualEvent(action, actor, reason, extra, now)}

		meta := NewNotificationMetadata(a, reason)
		meta.Actor = actor
		meta.Status = tr.Status
		tr.Notifications = []models.Notification{{
			Type:           models.NotificationManual,
			Priority:       models.PriorityNormal,
			Title:          fmt.Sprintf("Manual action on %s#%d", a.Repository, a.IssueNumber),
			Message:        fmt.Sprintf("@%s: %s.", a.Assignee, reason),
			IdempotencyKey: fmt.Sprintf("%d:manual:%s:%d", a.ID, action, now.UnixNano()),
			Metadata:       meta.JSON(),
		}}

		out, err := s.store.ApplyTransition(ctx, tr)
		if errors.Is(err, ErrWriteConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.Info().Uint("assignment_id", a.ID).Str("action", action).Str("actor", actor).
			Str("status", string(out.Assignment.Status)).Msg("[ManualAction] Applied")
		s.events.Publish(NewAssignmentEvent(out.Assignment, a.Status, reason, now))
		for _, n := range out.Fresh() {
			derr := s.sink.Deliver(ctx, &n)
			if merr := s.store.MarkDelivered(ctx, n.ID, derr); merr != nil {
				logger.Warn().Err(merr).Uint("notification_id", n.ID).Msg("[ManualAction] Failed to record delivery")
			}
		}
		return out.Assignment, nil
	}
	return nil, lastErr
}

func manualEvent(action, actor, reason string, extra map[string]interface{}, now time.Time) models.ActivityEvent {
	body := map[string]interface{}{"action": action, "reason": reason}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	return models.ActivityEvent{
		Timestamp: now.UTC(),
		Kind:      models.KindManualAction,
		Source:    models.SourceSystem,
		Actor:     actor,
		Payload:   string(payload),
		DedupeKey: fmt.Sprintf("manual:%s:%d", action, now.UnixNano()),
	}
}
