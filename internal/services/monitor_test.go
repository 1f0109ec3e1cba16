package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePlatform struct {
	mu         sync.Mutex
	comments   map[string]string
	posts      int
	unassigned []string
	err        error
	commentErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{comments: make(map[string]string)}
}

func (p *fakePlatform) Unassign(_ context.Context, _ string, _ int, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.unassigned = append(p.unassigned, user)
	return nil
}

func (p *fakePlatform) PostComment(_ context.Context, _ string, _ int, body, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.commentErr != nil {
		return p.commentErr
	}
	p.posts++
	if _, ok := p.comments[key]; !ok {
		p.comments[key] = body
	}
	return nil
}

func (p *fakePlatform) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePlatform) setCommentErr(err error) {
	p.mu.Lock()
	p.commentErr = err
	p.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []models.Notification
}

func (s *recordingSink) Deliver(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, *n)
	return nil
}

type monitorHarness struct {
	db       *gorm.DB
	clock    *fakeClock
	store    *AssignmentStore
	main     *fakeMain
	forks    *fakeForks
	platform *fakePlatform
	sink     *recordingSink
	monitor  *Monitor
}

func newMonitorHarness(t *testing.T, classifier ActivityClassifier, cfg config.MonitorConfig) *monitorHarness {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(day0)

	store := NewAssignmentStore(db)
	store.Now = clock.Now
	leases := NewLeaseManager(db)
	leases.Now = clock.Now
	cache := NewMemoryForkCache(time.Hour)
	cache.Now = clock.Now
	policy, err := NewThresholdPolicy(config.ThresholdsConfig{Regime: RegimeStrict, ConfidenceFloor: 0.5}, CalendarClock{})
	require.NoError(t, err)

	h := &monitorHarness{
		db:       db,
		clock:    clock,
		store:    store,
		main:     &fakeMain{},
		forks:    &fakeForks{},
		platform: newFakePlatform(),
		sink:     &recordingSink{},
	}
	h.monitor = NewMonitor(MonitorDeps{
		Store:      store,
		Leases:     leases,
		Merger:     NewActivityMerger(h.main, h.forks, cache),
		Classifier: classifier,
		Policy:     policy,
		Platform:   h.platform,
		Sink:       h.sink,
		Events:     NewSSEHub(),
	}, cfg)
	h.monitor.Now = clock.Now
	return h
}

func (h *monitorHarness) checkAt(t *testing.T, id uint, offset time.Duration) CheckResult {
	t.Helper()
	h.clock.Set(day0.Add(offset))
	return h.monitor.CheckAssignment(context.Background(), id)
}

func (h *monitorHarness) get(t *testing.T, id uint) *models.Assignment {
	t.Helper()
	a, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *monitorHarness) notifications(t *testing.T, id uint, typ models.NotificationType) []models.Notification {
	t.Helper()
	list, _, err := h.store.ListNotifications(context.Background(), NotificationFilter{AssignmentID: id, Type: string(typ), PageSize: 100})
	require.NoError(t, err)
	return list
}

func TestMonitor_StrictEscalationLadder(t *testing.T) {
	h := newMonitorHarness(t, KeywordClassifier{}, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)

	steps := []struct {
		at      time.Duration
		status  models.AssignmentStatus
		outcome CheckOutcome
		effect  SideEffect
	}{
		{2 * day, models.StatusActive, OutcomeUnchanged, SideEffectNone},
		{4 * day, models.StatusWarning, OutcomeTransitioned, SideEffectReminder},
		{4*day + 6*time.Hour, models.StatusWarning, OutcomeUnchanged, SideEffectNone},
		{8 * day, models.StatusAlert, OutcomeTransitioned, SideEffectAlertComment},
		{15 * day, models.StatusAutoUnassigned, OutcomeTransitioned, SideEffectUnassign},
	}
	for _, step := range steps {
		res := h.checkAt(t, a.ID, step.at)
		require.Empty(t, res.Error)
		assert.Equal(t, step.status, res.Status, "day %v", step.at/day)
		assert.Equal(t, step.outcome, res.Outcome, "day %v", step.at/day)
		assert.Equal(t, step.effect, res.SideEffect, "day %v", step.at/day)
	}

	res := h.checkAt(t, a.ID, 16*day)
	assert.Equal(t, OutcomeSkipped, res.Outcome, "terminal assignments are left alone")

	assert.Equal(t, []string{"octocat"}, h.platform.unassigned)
	assert.Equal(t, 3, h.platform.posts)
	assert.Len(t, h.platform.comments, 3)

	all := h.notifications(t, a.ID, "")
	require.Len(t, all, 3)
	urgent := h.notifications(t, a.ID, models.NotificationAutoUnassigned)
	require.Len(t, urgent, 1)
	assert.Equal(t, models.PriorityUrgent, urgent[0].Priority)
	assert.NotNil(t, urgent[0].DeliveredAt)
	assert.Len(t, h.sink.delivered, 3)

	final := h.get(t, a.ID)
	assert.Nil(t, final.LiveKey)
	assert.Contains(t, final.LastThreshold, "auto-unassign")
}

func TestMonitor_RunOnceIsIdempotent(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{Concurrency: 2})
	ctx := context.Background()
	mustCreate(t, h.store, "acme/widgets", 1, "octocat", day0)
	mustCreate(t, h.store, "acme/widgets", 2, "hubot", day0)
	assert.Nil(t, h.monitor.LastReport())

	h.clock.Set(day0.Add(4 * day))
	report := h.monitor.RunOnce(ctx)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Counts[OutcomeTransitioned])

	report = h.monitor.RunOnce(ctx)
	assert.Equal(t, 2, report.Counts[OutcomeUnchanged], "re-running the same cycle changes nothing")
	assert.Equal(t, 2, h.platform.posts)

	_, total, err := h.store.ListNotifications(ctx, NotificationFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	last := h.monitor.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Counts[OutcomeUnchanged])
}

func TestMonitor_ForkActivityKeepsAssignmentActive(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.forks.fork = octoFork
	h.forks.addCommit("f00d", day0.Add(12*day), "implement parser")

	res := h.checkAt(t, a.ID, 13*day)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status)
	assert.GreaterOrEqual(t, res.NewEvents, 1)

	got := h.get(t, a.ID)
	assert.True(t, got.LastActivityAt.Equal(day0.Add(12*day)))
	assert.Equal(t, *octoFork, got.Fork)
	assert.Zero(t, h.platform.posts)
	assert.Empty(t, h.notifications(t, a.ID, ""))
}

func TestMonitor_NewActivityDowngrades(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)

	res := h.checkAt(t, a.ID, 8*day)
	require.Equal(t, models.StatusAlert, res.Status)

	h.main.add(commentEvent("comment:1", day0.Add(8*day+time.Hour)))
	res = h.checkAt(t, a.ID, 9*day)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status)
	assert.Equal(t, SideEffectNone, res.SideEffect, "downgrades are silent")

	res = h.checkAt(t, a.ID, 12*day+2*time.Hour)
	assert.Equal(t, models.StatusWarning, res.Status)
	assert.Equal(t, SideEffectReminder, res.SideEffect, "a new staleness episode warns again")

	assert.Equal(t, 2, h.platform.posts)
	assert.Len(t, h.platform.comments, 2)
	assert.Len(t, h.notifications(t, a.ID, ""), 2)
}

func TestMonitor_ClassifierContext(t *testing.T) {
	blockedResearch := classifierFunc(func(context.Context, string) (Judgment, error) {
		return Judgment{WorkType: models.WorkTypeResearch, IsBlocked: true, Confidence: 0.9, Reasoning: "waiting on upstream"}, nil
	})
	failing := classifierFunc(func(context.Context, string) (Judgment, error) {
		return Judgment{}, errors.New("provider down")
	})

	t.Run("blocked research stretches thresholds", func(t *testing.T) {
		h := newMonitorHarness(t, blockedResearch, config.MonitorConfig{})
		a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		h.main.add(commentEvent("comment:1", day0.Add(day)))

		res := h.checkAt(t, a.ID, 5*day)
		assert.Equal(t, models.StatusActive, res.Status)

		got := h.get(t, a.ID)
		assert.Equal(t, models.WorkTypeResearch, got.AI.WorkType)
		assert.True(t, got.AI.IsBlocked)
		assert.NotNil(t, got.AI.AnalyzedAt)
		assert.Len(t, h.notifications(t, a.ID, models.NotificationAIUpdate), 1)

		h.checkAt(t, a.ID, 6*day)
		assert.Len(t, h.notifications(t, a.ID, models.NotificationAIUpdate), 1, "no new text, no new judgment")
	})

	t.Run("classifier failure falls back to neutral", func(t *testing.T) {
		h := newMonitorHarness(t, failing, config.MonitorConfig{})
		a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		h.main.add(commentEvent("comment:1", day0.Add(day)))

		res := h.checkAt(t, a.ID, 5*day)
		assert.Empty(t, res.Error)
		assert.Equal(t, models.StatusWarning, res.Status)

		got := h.get(t, a.ID)
		assert.Equal(t, models.WorkTypeUnknown, got.AI.WorkType)
		assert.Zero(t, got.AI.Confidence)
		assert.Contains(t, got.AI.Reasoning, "classifier unavailable")
		assert.Empty(t, h.notifications(t, a.ID, models.NotificationAIUpdate))
	})
}

func TestMonitor_TransientFailuresEndInUnknown(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	ctx := context.Background()
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.main.setErr(&github.APIError{StatusCode: 503, Message: "unavailable"})

	for i := 1; i <= 2; i++ {
		res := h.checkAt(t, a.ID, time.Duration(i)*time.Hour)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, models.StatusActive, res.Status)
		got := h.get(t, a.ID)
		assert.Equal(t, i, got.ConsecutiveFailures)
		assert.Contains(t, got.LastError, "transient failure")
	}

	res := h.checkAt(t, a.ID, 3*time.Hour)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, models.StatusUnknown, res.Status)
	assert.NotEmpty(t, res.Error)

	diag := h.notifications(t, a.ID, models.NotificationDiagnostic)
	require.Len(t, diag, 1)
	assert.Equal(t, models.PriorityHigh, diag[0].Priority)

	n, err := h.store.CountTrackable(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "UNKNOWN waits for a maintainer")

	res = h.checkAt(t, a.ID, 4*time.Hour)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, models.StatusUnknown, res.Status)
	assert.Len(t, h.notifications(t, a.ID, models.NotificationDiagnostic), 1, "one diagnostic per incident")

	h.main.setErr(nil)
	res = h.checkAt(t, a.ID, 5*time.Hour)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status)
	got := h.get(t, a.ID)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Empty(t, got.LastError)
}

func TestMonitor_MissingIssueIsPermanent(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.main.setErr(github.ErrNotFound)

	res := h.checkAt(t, a.ID, time.Hour)
	assert.Equal(t, models.StatusActive, res.Status)
	got := h.get(t, a.ID)
	assert.Equal(t, 1, got.ConsecutiveFailures)
	assert.Contains(t, got.LastError, "not found")

	res = h.checkAt(t, a.ID, 2*time.Hour)
	assert.Equal(t, models.StatusUnknown, res.Status)
	assert.Len(t, h.notifications(t, a.ID, models.NotificationDiagnostic), 1)
	assert.Zero(t, h.platform.posts)
}

func TestMonitor_ReleasesClosedOrReassignedIssues(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		h.main.closed = true

		res := h.checkAt(t, a.ID, 20*day)
		assert.Equal(t, OutcomeTransitioned, res.Outcome)
		assert.Equal(t, models.StatusReleased, res.Status)
		assert.Equal(t, "issue was closed", res.Reason)
		assert.Zero(t, h.platform.posts)
		assert.Empty(t, h.platform.unassigned)
	})

	t.Run("assignee removed", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		h.main.unassigned = true

		res := h.checkAt(t, a.ID, day)
		assert.Equal(t, models.StatusReleased, res.Status)
		assert.Equal(t, "assignee was removed from the issue", res.Reason)
	})
}

// escalateToAlert walks a fresh assignment up to ALERT.
func (h *monitorHarness) escalateToAlert(t *testing.T) *models.Assignment {
	t.Helper()
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.checkAt(t, a.ID, 4*day)
	res := h.checkAt(t, a.ID, 8*day)
	require.Equal(t, models.StatusAlert, res.Status)
	return a
}

func TestMonitor_UnassignStandsWhenCommentFails(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := h.escalateToAlert(t)
	h.platform.setCommentErr(&github.APIError{StatusCode: 502, Message: "bad gateway"})

	res := h.checkAt(t, a.ID, 15*day)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, models.StatusAutoUnassigned, res.Status)
	assert.Equal(t, []string{"octocat"}, h.platform.unassigned)

	urgent := h.notifications(t, a.ID, models.NotificationAutoUnassigned)
	require.Len(t, urgent, 1)
	assert.Equal(t, models.PriorityUrgent, urgent[0].Priority)

	got := h.get(t, a.ID)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Contains(t, got.LastError, "comment not posted")
}

func TestMonitor_FinishesInterruptedUnassign(t *testing.T) {
	t.Run("assignee gone past the unassign threshold", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := h.escalateToAlert(t)
		h.main.unassigned = true

		res := h.checkAt(t, a.ID, 15*day)
		assert.Equal(t, models.StatusAutoUnassigned, res.Status)
		assert.Equal(t, SideEffectUnassign, res.SideEffect)
		assert.Empty(t, h.platform.unassigned, "the assignee is already gone")
		assert.Equal(t, 3, h.platform.posts)
		require.Len(t, h.notifications(t, a.ID, models.NotificationAutoUnassigned), 1)
	})

	t.Run("assignee gone before the threshold", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := h.escalateToAlert(t)
		h.main.unassigned = true

		res := h.checkAt(t, a.ID, 9*day)
		assert.Equal(t, models.StatusReleased, res.Status)
		assert.Equal(t, "assignee was removed from the issue", res.Reason)
		assert.Empty(t, h.notifications(t, a.ID, models.NotificationAutoUnassigned))
	})
}

func TestMonitor_CancelledCheckIsNotAFailure(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.main.setErr(context.Canceled)

	for i := 1; i <= 3; i++ {
		res := h.checkAt(t, a.ID, day+time.Duration(i)*time.Hour)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, models.StatusActive, res.Status)
	}

	got := h.get(t, a.ID)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Empty(t, got.LastError)
	assert.Empty(t, h.notifications(t, a.ID, ""))
}

func TestMonitor_ManualActionDuringCheck(t *testing.T) {
	t.Run("action that lands mid-check wins", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := h.escalateToAlert(t)
		manual := NewManualActions(h.store, h.sink, NewSSEHub())
		manual.Now = h.clock.Now

		var once sync.Once
		h.main.onRead = func() {
			once.Do(func() {
				_, err := manual.MarkActive(context.Background(), a.ID, "lead")
				require.NoError(t, err)
			})
		}

		res := h.checkAt(t, a.ID, 15*day)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Equal(t, models.StatusActive, res.Status)
		assert.Empty(t, h.platform.unassigned)
		assert.Equal(t, 2, h.platform.posts)
		assert.Empty(t, h.notifications(t, a.ID, models.NotificationAutoUnassigned))
		assert.True(t, h.get(t, a.ID).ManualOverride)
	})

	t.Run("leased action waits for the check", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := h.escalateToAlert(t)
		leases := NewLeaseManager(h.db)
		leases.Now = h.clock.Now
		manual := NewManualActions(h.store, h.sink, NewSSEHub()).WithLeases(leases)
		manual.Now = h.clock.Now
		manual.LeaseWait = 0

		var midCheck error
		var once sync.Once
		h.main.onRead = func() {
			once.Do(func() {
				_, midCheck = manual.MarkActive(context.Background(), a.ID, "lead")
			})
		}

		res := h.checkAt(t, a.ID, 15*day)
		assert.ErrorIs(t, midCheck, ErrLeaseHeld)
		assert.Equal(t, models.StatusAutoUnassigned, res.Status)
		assert.Equal(t, []string{"octocat"}, h.platform.unassigned)

		_, err := manual.MarkActive(context.Background(), a.ID, "lead")
		assert.ErrorIs(t, err, ErrAssignmentClosed, "the lease is free again once the check ends")
	})
}

func TestMonitor_PlatformFailureIsRetried(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.platform.setErr(&github.APIError{StatusCode: 502, Message: "bad gateway"})

	res := h.checkAt(t, a.ID, 4*day)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status, "nothing escalates without the side effect")
	assert.Empty(t, h.notifications(t, a.ID, ""))
	assert.Equal(t, 1, h.get(t, a.ID).ConsecutiveFailures)

	h.platform.setErr(nil)
	res = h.checkAt(t, a.ID, 4*day+time.Hour)
	assert.Equal(t, models.StatusWarning, res.Status)
	assert.Equal(t, 1, h.platform.posts)
	assert.Len(t, h.notifications(t, a.ID, ""), 1)
	assert.Zero(t, h.get(t, a.ID).ConsecutiveFailures)
}

func TestMonitor_OverridesBypassPolicy(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	manual := NewManualActions(h.store, h.sink, NewSSEHub())
	manual.Now = h.clock.Now

	h.clock.Set(day0.Add(day))
	_, err := manual.Whitelist(context.Background(), a.ID, "maintainer")
	require.NoError(t, err)

	res := h.checkAt(t, a.ID, 20*day)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, models.StatusManualOverride, res.Status)

	h.main.add(commentEvent("comment:back", day0.Add(20*day+time.Hour)))
	res = h.checkAt(t, a.ID, 21*day)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status)
	got := h.get(t, a.ID)
	assert.False(t, got.ManualOverride, "genuine activity clears the override")
	assert.True(t, got.IsWhitelisted)

	res = h.checkAt(t, a.ID, 40*day)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, models.StatusActive, res.Status)
	assert.Zero(t, h.platform.posts)
}

func TestMonitor_LeasesAndDeadlines(t *testing.T) {
	t.Run("assignment lease held elsewhere", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		other := NewLeaseManager(h.db)
		other.Now = h.clock.Now
		ok, err := other.AcquireAssignment(context.Background(), a.ID, time.Hour)
		require.NoError(t, err)
		require.True(t, ok)

		res := h.checkAt(t, a.ID, 4*day)
		assert.Equal(t, OutcomeSkippedLocked, res.Outcome)
		assert.Zero(t, h.main.calls)
	})

	t.Run("cycle lock held elsewhere", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{})
		mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
		other := NewLeaseManager(h.db)
		other.Now = h.clock.Now
		ok, err := other.Acquire(context.Background(), models.LockMonitor, "cycle", time.Hour)
		require.NoError(t, err)
		require.True(t, ok)

		report := h.monitor.RunOnce(context.Background())
		assert.True(t, report.Skipped)
		assert.Zero(t, report.Total)
		assert.Zero(t, h.main.calls)
	})

	t.Run("work past the deadline is deferred", func(t *testing.T) {
		h := newMonitorHarness(t, nil, config.MonitorConfig{Concurrency: 1, RunDeadline: time.Hour})
		for i := 1; i <= 3; i++ {
			mustCreate(t, h.store, "acme/widgets", i, "octocat", day0)
		}
		h.main.onRead = func() { h.clock.Advance(2 * time.Hour) }

		report := h.monitor.RunOnce(context.Background())
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 1, report.Counts[OutcomeUnchanged])
		assert.Equal(t, 2, report.Counts[OutcomeDeferred])
		assert.Equal(t, 1, h.main.calls)
	})
}

func TestMonitor_ConcurrentChecksEscalateOnce(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.clock.Set(day0.Add(4 * day))

	var wg sync.WaitGroup
	results := make([]CheckResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.monitor.CheckAssignment(context.Background(), a.ID)
		}(i)
	}
	wg.Wait()

	transitioned := 0
	for _, r := range results {
		assert.Contains(t, []CheckOutcome{OutcomeTransitioned, OutcomeUnchanged, OutcomeSkippedLocked}, r.Outcome)
		if r.Outcome == OutcomeTransitioned {
			transitioned++
		}
	}
	assert.Equal(t, 1, transitioned)
	assert.Equal(t, 1, h.platform.posts)
	assert.Len(t, h.notifications(t, a.ID, models.NotificationWarning), 1)
}

func TestMonitor_ProcessCheckTask(t *testing.T) {
	h := newMonitorHarness(t, nil, config.MonitorConfig{})
	a := mustCreate(t, h.store, "acme/widgets", 42, "octocat", day0)
	h.clock.Set(day0.Add(4 * day))

	require.NoError(t, h.monitor.ProcessCheckTask(context.Background(), &CheckTask{AssignmentID: a.ID, RequestedBy: "maintainer"}))
	assert.Equal(t, models.StatusWarning, h.get(t, a.ID).Status)

	err := h.monitor.ProcessCheckTask(context.Background(), &CheckTask{AssignmentID: 999})
	assert.Error(t, err)
}

func TestMonitor_StartStop(t *testing.T) {
	bad := newMonitorHarness(t, nil, config.MonitorConfig{Schedule: "every banana"})
	assert.Error(t, bad.monitor.Start())

	h := newMonitorHarness(t, nil, config.MonitorConfig{Schedule: "@every 1h"})
	require.NoError(t, h.monitor.Start())
	require.NoError(t, h.monitor.Start(), "starting twice is a no-op")
	h.monitor.Stop()
	h.monitor.Stop()
}
