package models

import "time"

type ActivityKind string

const (
	KindComment      ActivityKind = "comment"
	KindCommit       ActivityKind = "commit"
	KindForkCommit   ActivityKind = "fork_commit"
	KindManualAction ActivityKind = "manual_action"
	KindAIAnalysis   ActivityKind = "ai_analysis"
	KindAssignment   ActivityKind = "assignment"
)

// HasText reports whether events of this kind carry free text worth classifying.
func (k ActivityKind) HasText() bool {
	return k == KindComment || k == KindCommit || k == KindForkCommit
}

type ActivitySource string

const (
	SourceMainRepo ActivitySource = "main_repo"
	SourceFork     ActivitySource = "fork"
	SourceSystem   ActivitySource = "system"
)

// ActivityEvent is an append-only fact about an assignment.
// Ordered by Timestamp, ties by Sequence (ingestion order).
type ActivityEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AssignmentID uint           `gorm:"not null;uniqueIndex:idx_activity_dedupe;index:idx_activity_time" json:"assignment_id"`
	Timestamp    time.Time      `gorm:"not null;index:idx_activity_time" json:"timestamp"`
	Kind         ActivityKind   `gorm:"size:30;not null" json:"kind"`
	Source       ActivitySource `gorm:"size:20;not null" json:"source"`
	Actor        string         `gorm:"size:100" json:"actor"`
	Payload      string         `gorm:"type:text" json:"payload"`
	DedupeKey    string         `gorm:"size:200;not null;uniqueIndex:idx_activity_dedupe" json:"dedupe_key"`
	Sequence     int64          `gorm:"not null;default:0" json:"sequence"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (ActivityEvent) TableName() string { return "activity_events" }

// IsGenuine reports whether the event is work by the assignee rather than
// bookkeeping written by the system or a maintainer.
func (e *ActivityEvent) IsGenuine() bool {
	return e.Source == SourceMainRepo || e.Source == SourceFork
}
