package services

import (
	"testing"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/models"
)

func newStrictPolicy(t *testing.T) *ThresholdPolicy {
	t.Helper()
	p, err := NewThresholdPolicy(config.ThresholdsConfig{Regime: "strict", ConfidenceFloor: 0.5}, nil)
	if err != nil {
		t.Fatalf("NewThresholdPolicy() error = %v", err)
	}
	return p
}

var day0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func TestEvaluate_StrictScenario(t *testing.T) {
	p := newStrictPolicy(t)

	steps := []struct {
		day        int
		wantStatus models.AssignmentStatus
		wantEffect SideEffect
	}{
		{2, models.StatusActive, SideEffectNone},
		{4, models.StatusWarning, SideEffectReminder},
		{8, models.StatusAlert, SideEffectAlertComment},
		{15, models.StatusAutoUnassigned, SideEffectUnassign},
	}

	status := models.StatusActive
	for _, step := range steps {
		d := p.Evaluate(PolicyInput{
			Status:         status,
			LastActivityAt: day0,
			Now:            day0.AddDate(0, 0, step.day),
			AI:             models.NeutralAIContext(),
		})
		if d.Status != step.wantStatus {
			t.Fatalf("day %d: status = %s, want %s", step.day, d.Status, step.wantStatus)
		}
		if d.SideEffect != step.wantEffect {
			t.Errorf("day %d: side effect = %s, want %s", step.day, d.SideEffect, step.wantEffect)
		}
		status = d.Status
	}
}

func TestEvaluate_SkippedTierFiresOnlyHighest(t *testing.T) {
	p := newStrictPolicy(t)
	d := p.Evaluate(PolicyInput{
		Status:         models.StatusActive,
		LastActivityAt: day0,
		Now:            day0.AddDate(0, 0, 9),
	})
	if d.Status != models.StatusAlert || d.SideEffect != SideEffectAlertComment {
		t.Errorf("got %s/%s, want ALERT/alert_comment", d.Status, d.SideEffect)
	}
}

func TestEvaluate_IdempotentReevaluation(t *testing.T) {
	p := newStrictPolicy(t)
	in := PolicyInput{Status: models.StatusWarning, LastActivityAt: day0, Now: day0.AddDate(0, 0, 5)}

	for i := 0; i < 2; i++ {
		d := p.Evaluate(in)
		if d.Status != models.StatusWarning || d.Changed || d.SideEffect != SideEffectNone {
			t.Fatalf("run %d: got status=%s changed=%v effect=%s", i, d.Status, d.Changed, d.SideEffect)
		}
	}
}

func TestEvaluate_DowngradeOnlyWithNewActivity(t *testing.T) {
	p := newStrictPolicy(t)
	now := day0.AddDate(0, 0, 10)

	// The context became "blocked", which doubles thresholds, but without new
	// activity the status must not go back down.
	blocked := models.AIContext{WorkType: models.WorkTypeCoding, IsBlocked: true, Confidence: 0.9}
	held := p.Evaluate(PolicyInput{Status: models.StatusAlert, LastActivityAt: day0, Now: now, AI: blocked})
	if held.Status != models.StatusAlert || held.Changed {
		t.Errorf("expected ALERT to be held, got %s", held.Status)
	}

	fresh := p.Evaluate(PolicyInput{
		Status:         models.StatusAlert,
		LastActivityAt: now.Add(-time.Hour),
		Now:            now,
		HadNewActivity: true,
	})
	if fresh.Status != models.StatusActive || !fresh.Changed || fresh.SideEffect != SideEffectNone {
		t.Errorf("expected downgrade to ACTIVE without side effect, got %s/%s", fresh.Status, fresh.SideEffect)
	}
}

func TestEvaluate_OverrideSuppression(t *testing.T) {
	p := newStrictPolicy(t)
	longAgo := day0
	now := day0.AddDate(0, 3, 0)

	tests := []struct {
		name          string
		in            PolicyInput
		wantSkipped   bool
		wantStatus    models.AssignmentStatus
		wantClearOver bool
	}{
		{
			name:        "manual override without activity",
			in:          PolicyInput{Status: models.StatusManualOverride, ManualOverride: true, LastActivityAt: longAgo, Now: now},
			wantSkipped: true,
			wantStatus:  models.StatusManualOverride,
		},
		{
			name:        "whitelisted",
			in:          PolicyInput{Status: models.StatusActive, IsWhitelisted: true, LastActivityAt: longAgo, Now: now},
			wantSkipped: true,
			wantStatus:  models.StatusActive,
		},
		{
			name:          "override cleared by genuine activity",
			in:            PolicyInput{Status: models.StatusManualOverride, ManualOverride: true, LastActivityAt: now, Now: now, HadNewActivity: true},
			wantStatus:    models.StatusActive,
			wantClearOver: true,
		},
		{
			name:        "closed assignment",
			in:          PolicyInput{Status: models.StatusAutoUnassigned, LastActivityAt: longAgo, Now: now},
			wantSkipped: true,
			wantStatus:  models.StatusAutoUnassigned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(tt.in)
			if d.Skipped != tt.wantSkipped || d.Status != tt.wantStatus || d.ClearOverride != tt.wantClearOver {
				t.Errorf("got skipped=%v status=%s clear=%v", d.Skipped, d.Status, d.ClearOverride)
			}
			if d.SideEffect != SideEffectNone {
				t.Errorf("override paths must not fire side effects, got %s", d.SideEffect)
			}
		})
	}
}

func TestThresholdsFor_ContextSensitivity(t *testing.T) {
	p := newStrictPolicy(t)
	base := p.Base()

	tests := []struct {
		name string
		ai   models.AIContext
		want float64
	}{
		{"neutral", models.NeutralAIContext(), 1.0},
		{"coding", models.AIContext{WorkType: models.WorkTypeCoding, Confidence: 0.8}, 1.0},
		{"blocked", models.AIContext{WorkType: models.WorkTypeCoding, IsBlocked: true, Confidence: 0.8}, 2.0},
		{"research", models.AIContext{WorkType: models.WorkTypeResearch, Confidence: 0.8}, 1.5},
		{"blocked research", models.AIContext{WorkType: models.WorkTypeResearch, IsBlocked: true, Confidence: 0.8}, 3.0},
		{"documentation", models.AIContext{WorkType: models.WorkTypeDocumentation, Confidence: 0.8}, 0.75},
		{"low confidence ignored", models.AIContext{WorkType: models.WorkTypeResearch, IsBlocked: true, Confidence: 0.2}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ThresholdsFor(tt.ai)
			want := base.Scale(tt.want)
			if got != want {
				t.Errorf("ThresholdsFor() = %+v, want %+v", got, want)
			}
		})
	}

	// Same elapsed time, differing only in the blocked flag.
	now := day0.AddDate(0, 0, 4)
	free := p.Evaluate(PolicyInput{Status: models.StatusActive, LastActivityAt: day0, Now: now,
		AI: models.AIContext{WorkType: models.WorkTypeCoding, Confidence: 0.9}})
	stuck := p.Evaluate(PolicyInput{Status: models.StatusActive, LastActivityAt: day0, Now: now,
		AI: models.AIContext{WorkType: models.WorkTypeCoding, IsBlocked: true, Confidence: 0.9}})
	if free.Status != models.StatusWarning || stuck.Status != models.StatusActive {
		t.Errorf("blocked flag should extend thresholds: free=%s blocked=%s", free.Status, stuck.Status)
	}
	if stuck.Thresholds.Warning <= free.Thresholds.Warning {
		t.Errorf("blocked warning threshold %v should exceed %v", stuck.Thresholds.Warning, free.Thresholds.Warning)
	}
}

func TestEvaluate_ExtendedDeadline(t *testing.T) {
	p := newStrictPolicy(t)
	now := day0.AddDate(0, 0, 10)
	until := day0.AddDate(0, 0, 9)

	d := p.Evaluate(PolicyInput{
		Status:                models.StatusActive,
		LastActivityAt:        day0,
		Now:                   now,
		DeadlineExtendedUntil: &until,
	})
	if d.Status != models.StatusActive || d.Elapsed != day {
		t.Errorf("extension should restart the clock, got %s elapsed %v", d.Status, d.Elapsed)
	}
}

func TestNewThresholdPolicy_Regimes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ThresholdsConfig
		want    Thresholds
		wantErr bool
	}{
		{"default is strict", config.ThresholdsConfig{}, Thresholds{3 * day, 7 * day, 14 * day}, false},
		{"lenient", config.ThresholdsConfig{Regime: "lenient"}, Thresholds{14 * day, 30 * day, 60 * day}, false},
		{"testing", config.ThresholdsConfig{Regime: "testing"}, Thresholds{3 * time.Minute, 7 * time.Minute, 14 * time.Minute}, false},
		{"custom", config.ThresholdsConfig{Regime: "custom", Warning: time.Hour, Alert: 2 * time.Hour, AutoUnassign: 3 * time.Hour},
			Thresholds{time.Hour, 2 * time.Hour, 3 * time.Hour}, false},
		{"custom not increasing", config.ThresholdsConfig{Regime: "custom", Warning: time.Hour, Alert: time.Hour, AutoUnassign: 3 * time.Hour}, Thresholds{}, true},
		{"unknown regime", config.ThresholdsConfig{Regime: "yolo"}, Thresholds{}, true},
		{"unknown multiplier key", config.ThresholdsConfig{Multipliers: map[string]float64{"gardening": 2}}, Thresholds{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewThresholdPolicy(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Base() != tt.want {
				t.Errorf("Base() = %+v, want %+v", p.Base(), tt.want)
			}
		})
	}
}

func TestNewThresholdPolicy_MultiplierOverrides(t *testing.T) {
	p, err := NewThresholdPolicy(config.ThresholdsConfig{
		Multipliers: map[string]float64{"blocked": 3, "testing": 0.5},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Multiplier(models.AIContext{WorkType: models.WorkTypeTesting, IsBlocked: true, Confidence: 1}); got != 1.5 {
		t.Errorf("Multiplier() = %v, want 1.5", got)
	}
}

func TestWorkdayClock(t *testing.T) {
	clock := NewWorkdayClock(NewHolidayService(), "NONE")
	friday := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 1, 13, 12, 0, 0, 0, time.UTC)

	// Friday noon to Monday noon spans half of Friday plus half of Monday.
	if got := clock.Elapsed(friday, monday); got != day {
		t.Errorf("Elapsed() = %v, want 24h", got)
	}
	if got := (CalendarClock{}).Elapsed(friday, monday); got != 3*day {
		t.Errorf("calendar Elapsed() = %v, want 72h", got)
	}
	if got := clock.Elapsed(monday, friday); got != 0 {
		t.Errorf("reversed range should be zero, got %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{8*day + 2*time.Hour, "8d 2h"},
		{5*time.Hour + 10*time.Minute, "5h 10m"},
		{3 * time.Minute, "3m"},
		{-time.Hour, "0m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
