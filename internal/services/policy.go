package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/models"
)

const (
	RegimeStrict  = "strict"
	RegimeLenient = "lenient"
	RegimeTesting = "testing"
	RegimeCustom  = "custom"
)

const day = 24 * time.Hour

// Thresholds are the elapsed times at which each tier is reached.
type Thresholds struct {
	Warning      time.Duration `json:"warning"`
	Alert        time.Duration `json:"alert"`
	AutoUnassign time.Duration `json:"auto_unassign"`
}

func (t Thresholds) Scale(f float64) Thresholds {
	return Thresholds{
		Warning:      time.Duration(float64(t.Warning) * f),
		Alert:        time.Duration(float64(t.Alert) * f),
		AutoUnassign: time.Duration(float64(t.AutoUnassign) * f),
	}
}

var regimePresets = map[string]Thresholds{
	RegimeStrict:  {Warning: 3 * day, Alert: 7 * day, AutoUnassign: 14 * day},
	RegimeLenient: {Warning: 14 * day, Alert: 30 * day, AutoUnassign: 60 * day},
	RegimeTesting: {Warning: 3 * time.Minute, Alert: 7 * time.Minute, AutoUnassign: 14 * time.Minute},
}

var defaultWorkMultipliers = map[models.WorkType]float64{
	models.WorkTypeUnknown:       1.0,
	models.WorkTypeCoding:        1.0,
	models.WorkTypeResearch:      1.5,
	models.WorkTypePlanning:      1.5,
	models.WorkTypeTesting:       0.75,
	models.WorkTypeDocumentation: 0.75,
}

const defaultBlockedMultiplier = 2.0

type contextKey struct {
	workType models.WorkType
	blocked  bool
}

type SideEffect string

const (
	SideEffectNone         SideEffect = "none"
	SideEffectReminder     SideEffect = "reminder"
	SideEffectAlertComment SideEffect = "alert_comment"
	SideEffectUnassign     SideEffect = "unassign"
)

var tierSideEffects = map[models.AssignmentStatus]SideEffect{
	models.StatusWarning:        SideEffectReminder,
	models.StatusAlert:          SideEffectAlertComment,
	models.StatusAutoUnassigned: SideEffectUnassign,
}

type PolicyInput struct {
	Status                models.AssignmentStatus
	LastActivityAt        time.Time
	Now                   time.Time
	AI                    models.AIContext
	IsWhitelisted         bool
	ManualOverride        bool
	DeadlineExtendedUntil *time.Time
	// HadNewActivity is true when genuine activity arrived this cycle.
	HadNewActivity bool
}

type Decision struct {
	Skipped       bool
	SkipReason    string
	Status        models.AssignmentStatus
	Changed       bool
	ClearOverride bool
	SideEffect    SideEffect
	Thresholds    Thresholds
	Multiplier    float64
	Elapsed       time.Duration
	Reason        string
}

// ThresholdPolicy maps (AI context, elapsed time) to a staleness state.
// It holds no mutable state and is safe for concurrent use.
type ThresholdPolicy struct {
	regime string
	base   Thresholds
	floor  float64
	table  map[contextKey]float64
	clock  ElapsedClock
}

func NewThresholdPolicy(cfg config.ThresholdsConfig, clock ElapsedClock) (*ThresholdPolicy, error) {
	regime := strings.ToLower(cfg.Regime)
	if regime == "" {
		regime = RegimeStrict
	}

	var base Thresholds
	if regime == RegimeCustom {
		base = Thresholds{Warning: cfg.Warning, Alert: cfg.Alert, AutoUnassign: cfg.AutoUnassign}
		if base.Warning <= 0 || base.Alert <= base.Warning || base.AutoUnassign <= base.Alert {
			return nil, fmt.Errorf("custom thresholds must be positive and increasing")
		}
	} else {
		preset, ok := regimePresets[regime]
		if !ok {
			return nil, fmt.Errorf("unknown threshold regime: %s", cfg.Regime)
		}
		base = preset
	}

	work := make(map[models.WorkType]float64, len(defaultWorkMultipliers))
	for wt, m := range defaultWorkMultipliers {
		work[wt] = m
	}
	blocked := defaultBlockedMultiplier
	for key, m := range cfg.Multipliers {
		if m <= 0 {
			return nil, fmt.Errorf("multiplier for %q must be positive", key)
		}
		if key == "blocked" {
			blocked = m
			continue
		}
		wt := models.ParseWorkType(key)
		if wt == models.WorkTypeUnknown && key != string(models.WorkTypeUnknown) {
			return nil, fmt.Errorf("unknown work type in multipliers: %q", key)
		}
		work[wt] = m
	}

	table := make(map[contextKey]float64, len(work)*2)
	for wt, m := range work {
		table[contextKey{wt, false}] = m
		table[contextKey{wt, true}] = m * blocked
	}

	floor := cfg.ConfidenceFloor
	if clock == nil {
		clock = CalendarClock{}
	}
	return &ThresholdPolicy{regime: regime, base: base, floor: floor, table: table, clock: clock}, nil
}

func (p *ThresholdPolicy) Regime() string           { return p.regime }
func (p *ThresholdPolicy) Base() Thresholds         { return p.base }
func (p *ThresholdPolicy) ConfidenceFloor() float64 { return p.floor }
func (p *ThresholdPolicy) Clock() ElapsedClock      { return p.clock }

// Multiplier is the context factor for ai; judgments below the confidence
// floor count as neutral.
func (p *ThresholdPolicy) Multiplier(ai models.AIContext) float64 {
	if ai.Confidence < p.floor {
		return 1.0
	}
	m, ok := p.table[contextKey{models.ParseWorkType(string(ai.WorkType)), ai.IsBlocked}]
	if !ok {
		return 1.0
	}
	return m
}

func (p *ThresholdPolicy) ThresholdsFor(ai models.AIContext) Thresholds {
	return p.base.Scale(p.Multiplier(ai))
}

// MultiplierTable lists every (work type, blocked) factor, for display.
func (p *ThresholdPolicy) MultiplierTable() map[string]float64 {
	out := make(map[string]float64, len(p.table))
	for k, m := range p.table {
		name := string(k.workType)
		if k.blocked {
			name += "+blocked"
		}
		out[name] = m
	}
	return out
}

// Evaluate computes the status for one cycle. Escalation never goes back
// down without new activity, and a side effect fires only when the status
// moves up the ladder.
func (p *ThresholdPolicy) Evaluate(in PolicyInput) Decision {
	d := Decision{Status: in.Status, SideEffect: SideEffectNone}

	if in.Status.IsTerminal() {
		d.Skipped = true
		d.SkipReason = "assignment is closed"
		return d
	}

	if in.ManualOverride || in.Status == models.StatusManualOverride {
		if in.HadNewActivity {
			d.ClearOverride = true
			d.Status = models.StatusActive
			d.Changed = in.Status != models.StatusActive
			d.Reason = "manual override cleared by new activity"
			return d
		}
		d.Skipped = true
		d.SkipReason = "manual override in effect"
		return d
	}

	if in.IsWhitelisted {
		d.Skipped = true
		d.SkipReason = "assignee is whitelisted"
		return d
	}

	d.Multiplier = p.Multiplier(in.AI)
	d.Thresholds = p.base.Scale(d.Multiplier)

	ref := in.LastActivityAt
	if in.DeadlineExtendedUntil != nil && in.DeadlineExtendedUntil.After(ref) {
		ref = *in.DeadlineExtendedUntil
	}
	d.Elapsed = p.clock.Elapsed(ref, in.Now)

	target, crossed, limit := models.StatusActive, "", time.Duration(0)
	switch {
	case d.Elapsed >= d.Thresholds.AutoUnassign:
		target, crossed, limit = models.StatusAutoUnassigned, "auto-unassign", d.Thresholds.AutoUnassign
	case d.Elapsed >= d.Thresholds.Alert:
		target, crossed, limit = models.StatusAlert, "alert", d.Thresholds.Alert
	case d.Elapsed >= d.Thresholds.Warning:
		target, crossed, limit = models.StatusWarning, "warning", d.Thresholds.Warning
	}

	held := false
	if !in.HadNewActivity && target.Tier() < in.Status.Tier() {
		target, held = in.Status, true
	}

	d.Status = target
	d.Changed = target != in.Status
	if d.Changed && target.Tier() > in.Status.Tier() {
		if se, ok := tierSideEffects[target]; ok {
			d.SideEffect = se
		}
	}

	desc := fmt.Sprintf("work type %s", in.AI.WorkType)
	if in.AI.WorkType == "" {
		desc = "work type unknown"
	}
	if in.AI.IsBlocked {
		desc += ", blocked"
	}
	switch {
	case held:
		d.Reason = fmt.Sprintf("holding %s until new activity, %s since last activity (%s, x%.2f)",
			in.Status, FormatDuration(d.Elapsed), desc, d.Multiplier)
	case crossed != "":
		d.Reason = fmt.Sprintf("no activity for %s, %s threshold is %s (%s, x%.2f)",
			FormatDuration(d.Elapsed), crossed, FormatDuration(limit), desc, d.Multiplier)
	default:
		d.Reason = fmt.Sprintf("active: %s since last activity, warning at %s (%s, x%.2f)",
			FormatDuration(d.Elapsed), FormatDuration(d.Thresholds.Warning), desc, d.Multiplier)
	}
	return d
}

// FormatDuration renders d as "8d 2h", "5h 10m" or "3m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / day)
	hours := int((d % day) / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
