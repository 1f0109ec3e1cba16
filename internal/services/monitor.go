package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/huangang/claimwatch/pkg/logger"
	"github.com/robfig/cron/v3"
)

// PlatformActions mutates the issue tracker. Both calls must be safe to
// repeat with the same idempotency key or user.
type PlatformActions interface {
	Unassign(ctx context.Context, repo string, issue int, user string) error
	PostComment(ctx context.Context, repo string, issue int, body, idempotencyKey string) error
}

type CheckOutcome string

const (
	OutcomeUnchanged     CheckOutcome = "unchanged"
	OutcomeTransitioned  CheckOutcome = "transitioned"
	OutcomeSkipped       CheckOutcome = "skipped"
	OutcomeSkippedLocked CheckOutcome = "skipped_locked"
	OutcomeDeferred      CheckOutcome = "deferred"
	OutcomeFailed        CheckOutcome = "failed"
	OutcomeConflict      CheckOutcome = "conflict"
	OutcomeError         CheckOutcome = "error"
)

// CheckResult describes what one evaluation of one assignment did.
type CheckResult struct {
	AssignmentID   uint                    `json:"assignment_id"`
	Outcome        CheckOutcome            `json:"outcome"`
	PreviousStatus models.AssignmentStatus `json:"previous_status,omitempty"`
	Status         models.AssignmentStatus `json:"status,omitempty"`
	SideEffect     SideEffect              `json:"side_effect,omitempty"`
	NewEvents      int                     `json:"new_events"`
	Reason         string                  `json:"reason,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

type RunReport struct {
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Skipped    bool                 `json:"skipped"` // another instance held the cycle lock
	Error      string               `json:"error,omitempty"`
	Total      int                  `json:"total"`
	Counts     map[CheckOutcome]int `json:"counts"`
	Results    []CheckResult        `json:"results,omitempty"`
}

type MonitorDeps struct {
	Store      *AssignmentStore
	Leases     *LeaseManager
	Merger     *ActivityMerger
	Classifier ActivityClassifier
	Policy     *ThresholdPolicy
	Platform   PlatformActions
	Sink       NotificationSink
	Events     *SSEHub
}

// Monitor runs the staleness pipeline over every trackable assignment.
type Monitor struct {
	store      *AssignmentStore
	leases     *LeaseManager
	merger     *ActivityMerger
	classifier ActivityClassifier
	policy     *ThresholdPolicy
	platform   PlatformActions
	sink       NotificationSink
	events     *SSEHub

	cfg  config.MonitorConfig
	cron *cron.Cron
	Now  func() time.Time

	mu         sync.Mutex
	lastReport *RunReport
}

const monitorCycleKey = "cycle"

func NewMonitor(deps MonitorDeps, cfg config.MonitorConfig) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.MaxTransientFailures <= 0 {
		cfg.MaxTransientFailures = 3
	}
	if cfg.MaxPermanentFailures <= 0 {
		cfg.MaxPermanentFailures = 2
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	sink := deps.Sink
	if sink == nil {
		sink = NopNotificationSink{}
	}
	return &Monitor{
		store:      deps.Store,
		leases:     deps.Leases,
		merger:     deps.Merger,
		classifier: deps.Classifier,
		policy:     deps.Policy,
		platform:   deps.Platform,
		sink:       sink,
		events:     deps.Events,
		cfg:        cfg,
		Now:        time.Now,
	}
}

func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(m.cfg.Schedule, func() {
		m.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.cron = c

	logger.Info().Str("schedule", m.cfg.Schedule).Int("concurrency", m.cfg.Concurrency).
		Str("regime", m.policy.Regime()).Str("clock", m.policy.Clock().Describe()).
		Msg("[Monitor] Scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.Info().Msg("[Monitor] Scheduler stopped")
}

// LastReport returns the most recent cycle report, or nil before the first run.
func (m *Monitor) LastReport() *RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastReport == nil {
		return nil
	}
	r := *m.lastReport
	return &r
}

// RunOnce performs one full cycle. Per-assignment failures are captured in
// the report; only failing to list assignments aborts the cycle.
func (m *Monitor) RunOnce(ctx context.Context) (report RunReport) {
	report = RunReport{StartedAt: m.Now(), Counts: make(map[CheckOutcome]int)}
	defer func() {
		report.FinishedAt = m.Now()
		m.mu.Lock()
		r := report
		m.lastReport = &r
		m.mu.Unlock()
	}()

	ok, err := m.leases.Acquire(ctx, models.LockMonitor, monitorCycleKey, m.cfg.RunDeadline+m.cfg.LeaseTTL)
	if err != nil {
		logger.Error().Err(err).Msg("[Monitor] Failed to take cycle lock")
		report.Error = err.Error()
		return report
	}
	if !ok {
		logger.Info().Msg("[Monitor] Another instance is running the cycle, skipping")
		report.Skipped = true
		return report
	}
	defer func() {
		if err := m.leases.Release(context.WithoutCancel(ctx), models.LockMonitor, monitorCycleKey); err != nil {
			logger.Warn().Err(err).Msg("[Monitor] Failed to release cycle lock")
		}
	}()

	list, err := m.store.ListTrackable(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Monitor] Failed to list trackable assignments, retrying next interval")
		report.Error = err.Error()
		return report
	}
	report.Total = len(list)

	var deadline time.Time
	if m.cfg.RunDeadline > 0 {
		deadline = report.StartedAt.Add(m.cfg.RunDeadline)
	}

	results := make([]CheckResult, len(list))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := m.cfg.Concurrency
	if workers > len(list) {
		workers = len(list)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				a := list[i]
				if ctx.Err() != nil || (!deadline.IsZero() && m.Now().After(deadline)) {
					results[i] = CheckResult{AssignmentID: a.ID, Outcome: OutcomeDeferred, PreviousStatus: a.Status, Status: a.Status}
					continue
				}
				results[i] = m.CheckAssignment(ctx, a.ID)
			}
		}()
	}
	for i := range list {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report.Results = results
	for _, r := range results {
		report.Counts[r.Outcome]++
	}

	logger.Info().Int("total", report.Total).
		Int("transitioned", report.Counts[OutcomeTransitioned]).
		Int("unchanged", report.Counts[OutcomeUnchanged]).
		Int("skipped", report.Counts[OutcomeSkipped]+report.Counts[OutcomeSkippedLocked]).
		Int("deferred", report.Counts[OutcomeDeferred]).
		Int("failed", report.Counts[OutcomeFailed]+report.Counts[OutcomeError]+report.Counts[OutcomeConflict]).
		Dur("took", m.Now().Sub(report.StartedAt)).
		Msg("[Monitor] Cycle finished")
	return report
}

// CheckAssignment evaluates one assignment under its lease. It never panics
// and never returns an error; the outcome is in the result.
func (m *Monitor) CheckAssignment(ctx context.Context, id uint) (res CheckResult) {
	res = CheckResult{AssignmentID: id}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Uint("assignment_id", id).Msg("[Monitor] Check panicked")
			res = CheckResult{AssignmentID: id, Outcome: OutcomeError, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if m.cfg.AssignmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AssignmentTimeout)
		defer cancel()
	}

	ok, err := m.leases.AcquireAssignment(ctx, id, m.cfg.LeaseTTL)
	if err != nil {
		res.Outcome = OutcomeError
		res.Error = err.Error()
		return res
	}
	if !ok {
		logger.Debugf("[Monitor] Assignment %d is being checked elsewhere, skipping", id)
		res.Outcome = OutcomeSkippedLocked
		return res
	}
	defer func() {
		if err := m.leases.ReleaseAssignment(context.WithoutCancel(ctx), id); err != nil {
			logger.Warn().Err(err).Uint("assignment_id", id).Msg("[Monitor] Failed to release lease")
		}
	}()

	for attempt := 1; ; attempt++ {
		r, err := m.check(ctx, id)
		if err == nil {
			return r
		}
		if errors.Is(err, ErrWriteConflict) && attempt < 2 {
			logger.Debugf("[Monitor] Write conflict on assignment %d, re-reading", id)
			continue
		}

		r.Error = err.Error()
		switch {
		case errors.Is(err, ErrWriteConflict):
			r.Outcome = OutcomeConflict
		case errors.Is(err, ErrAssignmentClosed):
			r.Outcome = OutcomeSkipped
		default:
			r.Outcome = OutcomeError
		}
		logger.Warn().Err(err).Uint("assignment_id", id).Str("outcome", string(r.Outcome)).Msg("[Monitor] Check did not complete")
		return r
	}
}

func (m *Monitor) check(ctx context.Context, id uint) (CheckResult, error) {
	res := CheckResult{AssignmentID: id}
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return res, err
	}
	res.PreviousStatus, res.Status = a.Status, a.Status
	if a.Status.IsTerminal() {
		res.Outcome = OutcomeSkipped
		res.Reason = "assignment is closed"
		return res, nil
	}

	log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)
	now := m.Now()

	merge, err := m.merger.Merge(ctx, a)
	if err != nil {
		return m.recordFailure(ctx, a, err, now)
	}

	tr := Transition{
		AssignmentID:    a.ID,
		ExpectedVersion: a.Version,
		Events:          merge.Events,
		CheckedAt:       &now,
	}
	if merge.ForkChanged {
		fork := merge.Fork
		tr.Fork = &fork
	}

	failures, lastErr := 0, ""
	if merge.MainNotFound {
		failures = a.ConsecutiveFailures + 1
		lastErr = "permanent failure: issue not found on the platform"
		if failures >= m.cfg.MaxPermanentFailures {
			return m.markUnknown(ctx, a, tr, failures, lastErr)
		}
	}
	tr.ConsecutiveFailures = &failures
	tr.LastError = &lastErr

	if !merge.MainNotFound && (merge.IssueClosed || !merge.StillAssigned) {
		if !merge.IssueClosed && !merge.HadNewActivity {
			if out, done, err := m.finishUnassign(ctx, a, tr, res, merge.NewWatermark, now); done {
				return out, err
			}
		}
		reason := "issue was closed"
		if !merge.IssueClosed {
			reason = "assignee was removed from the issue"
		}
		tr.Status = models.StatusReleased
		tr.LastThreshold = &reason
		log.Info().Str("reason", reason).Msg("[Monitor] Assignment released")
		return m.persist(ctx, a, tr, res, reason, SideEffectNone)
	}

	ai := a.AI
	if text := ClassifierText(merge.Events); text != "" {
		j, ok := SafeClassify(ctx, m.classifier, text)
		next := j.AIContext()
		next.AnalyzedAt = &now
		if !ok {
			next.Reasoning = "classifier unavailable, using neutral context"
		}
		tr.AI = &next
		tr.Events = append(tr.Events, aiAnalysisEvent(next, merge.NewWatermark))
		if ok && (next.WorkType != ai.WorkType || next.IsBlocked != ai.IsBlocked) {
			tr.Notifications = append(tr.Notifications, aiUpdateNotification(a, ai, next, merge.NewWatermark))
		}
		ai = next
	}

	current := a.Status
	if current == models.StatusUnknown {
		current = models.StatusActive
	}
	d := m.policy.Evaluate(PolicyInput{
		Status:                current,
		LastActivityAt:        merge.NewWatermark,
		Now:                   now,
		AI:                    ai,
		IsWhitelisted:         a.IsWhitelisted,
		ManualOverride:        a.ManualOverride,
		DeadlineExtendedUntil: a.DeadlineExtendedUntil,
		HadNewActivity:        merge.HadNewActivity,
	})

	if d.Skipped {
		log.Debug().Str("reason", d.SkipReason).Msg("[Monitor] Policy skipped")
		out, err := m.persist(ctx, a, tr, res, d.SkipReason, SideEffectNone)
		if err == nil && out.Outcome == OutcomeUnchanged {
			out.Outcome = OutcomeSkipped
		}
		return out, err
	}

	reason := d.Reason
	tr.LastThreshold = &reason
	if d.ClearOverride {
		off := false
		tr.ManualOverride = &off
	}
	if d.Status != a.Status {
		tr.Status = d.Status
	}

	if d.SideEffect != SideEffectNone {
		latest, err := m.store.Get(ctx, a.ID)
		if err != nil {
			return res, err
		}
		if latest.Version != a.Version {
			return res, ErrWriteConflict
		}
		key := transitionKey(a, d.Status, merge.NewWatermark)
		note, err := m.applySideEffect(ctx, a, d, key)
		if err != nil {
			return m.recordFailure(ctx, a, err, now)
		}
		if note != "" {
			log.Warn().Str("error", note).Msg("[Monitor] Side effect partially applied")
			tr.LastError = &note
		}
		tr.Notifications = append(tr.Notifications, tierNotification(a, d, key))
		log.Info().Str("status", string(d.Status)).Str("side_effect", string(d.SideEffect)).
			Str("reason", d.Reason).Msg("[Monitor] Escalated")
	}

	return m.persist(ctx, a, tr, res, reason, d.SideEffect)
}

func (m *Monitor) persist(ctx context.Context, a *models.Assignment, tr Transition, res CheckResult, reason string, effect SideEffect) (CheckResult, error) {
	out, err := m.store.ApplyTransition(ctx, tr)
	if err != nil {
		return res, err
	}

	res.Status = out.Assignment.Status
	res.NewEvents = out.AppendedEvents
	res.Reason = reason
	res.SideEffect = effect
	res.Outcome = OutcomeUnchanged
	if res.Status != res.PreviousStatus {
		res.Outcome = OutcomeTransitioned
		m.events.Publish(NewAssignmentEvent(out.Assignment, res.PreviousStatus, reason, m.Now()))
	}

	m.deliver(ctx, out.Fresh())
	return res, nil
}

// deliver hands fresh notifications to the sink and records the outcome.
func (m *Monitor) deliver(ctx context.Context, fresh []models.Notification) {
	if len(fresh) == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for i := range fresh {
		n := &fresh[i]
		err := m.sink.Deliver(dctx, n)
		if err != nil {
			logger.Warn().Err(err).Uint("notification_id", n.ID).Msg("[Monitor] Notification delivery failed")
		}
		if merr := m.store.MarkDelivered(dctx, n.ID, err); merr != nil {
			logger.Warn().Err(merr).Uint("notification_id", n.ID).Msg("[Monitor] Failed to record delivery")
		}
	}
}

// recordFailure counts a failed read or side effect. The assignment keeps
// its status until the failure limit for the error class is reached.
func (m *Monitor) recordFailure(ctx context.Context, a *models.Assignment, cause error, now time.Time) (CheckResult, error) {
	if errors.Is(cause, context.Canceled) {
		logger.Debugf("[Monitor] Check of assignment %d cancelled", a.ID)
		return CheckResult{
			AssignmentID:   a.ID,
			PreviousStatus: a.Status,
			Status:         a.Status,
			Outcome:        OutcomeSkipped,
			Reason:         "check cancelled",
		}, nil
	}
	class, limit := "permanent", m.cfg.MaxPermanentFailures
	if github.IsTransient(cause) {
		class, limit = "transient", m.cfg.MaxTransientFailures
	}
	failures := a.ConsecutiveFailures + 1
	msg := fmt.Sprintf("%s failure: %v", class, cause)

	log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)
	log.Warn().Err(cause).
		Str("class", class).Int("failures", failures).Int("limit", limit).
		Msg("[Monitor] Could not evaluate assignment")

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	tr := Transition{AssignmentID: a.ID, ExpectedVersion: a.Version, CheckedAt: &now}
	if failures >= limit {
		res, err := m.markUnknown(wctx, a, tr, failures, msg)
		if err == nil {
			res.Error = msg
			if res.Outcome == OutcomeUnchanged {
				res.Outcome = OutcomeFailed
			}
		}
		return res, err
	}

	tr.ConsecutiveFailures = &failures
	tr.LastError = &msg
	res := CheckResult{AssignmentID: a.ID, PreviousStatus: a.Status}
	out, err := m.persist(wctx, a, tr, res, "", SideEffectNone)
	if err != nil {
		return out, err
	}
	out.Outcome = OutcomeFailed
	out.Error = msg
	return out, nil
}

// markUnknown parks the assignment in UNKNOWN with a diagnostic notification.
func (m *Monitor) markUnknown(ctx context.Context, a *models.Assignment, tr Transition, failures int, msg string) (CheckResult, error) {
	reason := "automation could not evaluate this assignment: " + msg
	tr.Status = models.StatusUnknown
	tr.ConsecutiveFailures = &failures
	tr.LastError = &msg
	tr.LastThreshold = &reason

	if a.Status != models.StatusUnknown {
		meta := NewNotificationMetadata(a, reason)
		meta.Status = models.StatusUnknown
		tr.Notifications = append(tr.Notifications, models.Notification{
			Type:     models.NotificationDiagnostic,
			Priority: models.PriorityHigh,
			Title:    fmt.Sprintf("Assignment needs attention: %s#%d", a.Repository, a.IssueNumber),
			Message: fmt.Sprintf("%s after %d consecutive attempts. Status was %s; a maintainer should check the issue and use \"check now\" once it is reachable.",
				reason, failures, a.Status),
			IdempotencyKey: fmt.Sprintf("%d:%s:v%d", a.ID, models.StatusUnknown, a.Version),
			Metadata:       meta.JSON(),
		})
	}

	log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)
	log.Error().Str("error", msg).Int("failures", failures).
		Msg("[Monitor] Assignment marked UNKNOWN")
	res := CheckResult{AssignmentID: a.ID, PreviousStatus: a.Status}
	return m.persist(ctx, a, tr, res, reason, SideEffectNone)
}

// applySideEffect performs the platform action for d. Once the assignee
// has been removed the transition stands: a comment that still fails after
// a retry comes back as a note rather than an error.
func (m *Monitor) applySideEffect(ctx context.Context, a *models.Assignment, d Decision, key string) (string, error) {
	if m.platform == nil {
		return "", nil
	}
	body := commentFor(a, d)
	switch d.SideEffect {
	case SideEffectReminder, SideEffectAlertComment:
		return "", m.platform.PostComment(ctx, a.Repository, a.IssueNumber, body, key)
	case SideEffectUnassign:
		if err := m.platform.Unassign(ctx, a.Repository, a.IssueNumber, a.Assignee); err != nil {
			return "", fmt.Errorf("unassign %s: %w", a.Assignee, err)
		}
		return m.postUnassignComment(ctx, a, body, key), nil
	}
	return "", nil
}

func (m *Monitor) postUnassignComment(ctx context.Context, a *models.Assignment, body, key string) string {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = m.platform.PostComment(ctx, a.Repository, a.IssueNumber, body, key); err == nil {
			return ""
		}
	}
	return fmt.Sprintf("unassigned but comment not posted: %v", err)
}

// finishUnassign recognizes an assignee that is gone because an earlier
// check removed them and stopped before recording it. When the policy
// still calls for auto-unassign, the assignment ends AUTO_UNASSIGNED with
// the same notification key the interrupted check would have used.
func (m *Monitor) finishUnassign(ctx context.Context, a *models.Assignment, tr Transition, res CheckResult, watermark, now time.Time) (CheckResult, bool, error) {
	if a.Status != models.StatusAlert {
		return res, false, nil
	}
	d := m.policy.Evaluate(PolicyInput{
		Status:                a.Status,
		LastActivityAt:        watermark,
		Now:                   now,
		AI:                    a.AI,
		IsWhitelisted:         a.IsWhitelisted,
		ManualOverride:        a.ManualOverride,
		DeadlineExtendedUntil: a.DeadlineExtendedUntil,
	})
	if d.Skipped || d.Status != models.StatusAutoUnassigned {
		return res, false, nil
	}

	key := transitionKey(a, d.Status, watermark)
	reason := d.Reason
	tr.Status = d.Status
	tr.LastThreshold = &reason
	if m.platform != nil {
		if note := m.postUnassignComment(ctx, a, commentFor(a, d), key); note != "" {
			tr.LastError = &note
		}
	}
	tr.Notifications = append(tr.Notifications, tierNotification(a, d, key))
	log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)
	log.Info().Str("reason", reason).Msg("[Monitor] Completed earlier auto-unassign")
	out, err := m.persist(ctx, a, tr, res, reason, SideEffectUnassign)
	return out, true, err
}

// transitionKey identifies one escalation of one staleness episode. The
// episode starts at the later of the watermark and any deadline extension,
// so repeating the same transition reuses the key.
func transitionKey(a *models.Assignment, status models.AssignmentStatus, watermark time.Time) string {
	start := watermark
	if a.DeadlineExtendedUntil != nil && a.DeadlineExtendedUntil.After(start) {
		start = *a.DeadlineExtendedUntil
	}
	return fmt.Sprintf("%d:%s:%d", a.ID, status, start.Unix())
}

func commentFor(a *models.Assignment, d Decision) string {
	idle := FormatDuration(d.Elapsed)
	switch d.SideEffect {
	case SideEffectReminder:
		return fmt.Sprintf("Hi @%s, friendly check-in: there has been no activity on this issue for %s. "+
			"Are you still working on it? A comment here or a commit (on your fork too) keeps the assignment active.",
			a.Assignee, idle)
	case SideEffectAlertComment:
		left := FormatDuration(d.Thresholds.AutoUnassign - d.Elapsed)
		return fmt.Sprintf("@%s this issue has been idle for %s and will be unassigned in about %s unless there is new activity. "+
			"If you are blocked, say so here and a maintainer can help.", a.Assignee, idle, left)
	case SideEffectUnassign:
		return fmt.Sprintf("@%s you have been unassigned after %s without activity so someone else can pick this up. "+
			"Thanks for your interest; comment here if you would like it back.", a.Assignee, idle)
	}
	return ""
}

var tierNotificationKinds = map[models.AssignmentStatus]struct {
	typ      models.NotificationType
	priority models.NotificationPriority
	title    string
}{
	models.StatusWarning:        {models.NotificationWarning, models.PriorityNormal, "Assignment going stale"},
	models.StatusAlert:          {models.NotificationAlert, models.PriorityHigh, "Assignment about to be released"},
	models.StatusAutoUnassigned: {models.NotificationAutoUnassigned, models.PriorityUrgent, "Assignee removed for inactivity"},
}

func tierNotification(a *models.Assignment, d Decision, key string) models.Notification {
	kind := tierNotificationKinds[d.Status]
	meta := NewNotificationMetadata(a, d.Reason)
	meta.Status = d.Status
	return models.Notification{
		Type:           kind.typ,
		Priority:       kind.priority,
		Title:          fmt.Sprintf("%s: %s#%d", kind.title, a.Repository, a.IssueNumber),
		Message:        fmt.Sprintf("@%s: %s.", a.Assignee, d.Reason),
		IdempotencyKey: key,
		Metadata:       meta.JSON(),
	}
}

func aiAnalysisEvent(ai models.AIContext, watermark time.Time) models.ActivityEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"work_type":  ai.WorkType,
		"is_blocked": ai.IsBlocked,
		"confidence": ai.Confidence,
		"reasoning":  ai.Reasoning,
	})
	ts := watermark
	if ai.AnalyzedAt != nil {
		ts = *ai.AnalyzedAt
	}
	return models.ActivityEvent{
		Timestamp: ts.UTC(),
		Kind:      models.KindAIAnalysis,
		Source:    models.SourceSystem,
		Actor:     "classifier",
		Payload:   string(payload),
		DedupeKey: fmt.Sprintf("ai:%d", watermark.UnixNano()),
	}
}

func aiUpdateNotification(a *models.Assignment, prev, next models.AIContext, watermark time.Time) models.Notification {
	blocked := func(b bool) string {
		if b {
			return "blocked"
		}
		return "not blocked"
	}
	meta := NewNotificationMetadata(a, next.Reasoning)
	return models.Notification{
		Type:     models.NotificationAIUpdate,
		Priority: models.PriorityNormal,
		Title:    fmt.Sprintf("Work context changed: %s#%d", a.Repository, a.IssueNumber),
		Message: fmt.Sprintf("@%s now looks like %s (%s, confidence %.0f%%), was %s (%s). %s",
			a.Assignee, next.WorkType, blocked(next.IsBlocked), next.Confidence*100,
			prev.WorkType, blocked(prev.IsBlocked), next.Reasoning),
		IdempotencyKey: fmt.Sprintf("%d:ai:%d", a.ID, watermark.UnixNano()),
		Metadata:       meta.JSON(),
	}
}
