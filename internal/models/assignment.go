package models

import (
	"fmt"
	"time"
)

// AssignmentStatus is the staleness state of an assignment
type AssignmentStatus string

const (
	StatusActive         AssignmentStatus = "ACTIVE"
	StatusWarning        AssignmentStatus = "WARNING"
	StatusAlert          AssignmentStatus = "ALERT"
	StatusAutoUnassigned AssignmentStatus = "AUTO_UNASSIGNED"
	StatusUnknown        AssignmentStatus = "UNKNOWN"
	StatusManualOverride AssignmentStatus = "MANUAL_OVERRIDE"
	StatusReleased       AssignmentStatus = "RELEASED" // assignee removed by a human or issue closed
)

// IsTerminal reports whether the status ends the lifecycle of the record.
func (s AssignmentStatus) IsTerminal() bool {
	return s == StatusAutoUnassigned || s == StatusReleased
}

// Tier orders the escalation ladder. Statuses outside the ladder return -1.
func (s AssignmentStatus) Tier() int {
	switch s {
	case StatusActive:
		return 0
	case StatusWarning:
		return 1
	case StatusAlert:
		return 2
	case StatusAutoUnassigned:
		return 3
	}
	return -1
}

// TrackableStatuses are picked up by every monitor cycle.
var TrackableStatuses = []AssignmentStatus{
	StatusActive,
	StatusWarning,
	StatusAlert,
	StatusManualOverride,
}

// WorkType is the classifier's view of what the assignee is doing
type WorkType string

const (
	WorkTypeUnknown       WorkType = "unknown"
	WorkTypeCoding        WorkType = "coding"
	WorkTypeResearch      WorkType = "research"
	WorkTypePlanning      WorkType = "planning"
	WorkTypeTesting       WorkType = "testing"
	WorkTypeDocumentation WorkType = "documentation"
)

// ParseWorkType maps free text to a known work type, defaulting to unknown.
func ParseWorkType(s string) WorkType {
	switch WorkType(s) {
	case WorkTypeCoding, WorkTypeResearch, WorkTypePlanning, WorkTypeTesting, WorkTypeDocumentation:
		return WorkType(s)
	}
	return WorkTypeUnknown
}

// AIContext is the latest classifier judgment stored on the assignment
type AIContext struct {
	WorkType   WorkType   `gorm:"size:30;default:unknown" json:"work_type"`
	IsBlocked  bool       `gorm:"default:false" json:"is_blocked"`
	Confidence float64    `gorm:"default:0" json:"confidence"`
	Reasoning  string     `gorm:"type:text" json:"reasoning"`
	AnalyzedAt *time.Time `json:"analyzed_at"`
}

// NeutralAIContext is used before the first classification and whenever the classifier fails
func NeutralAIContext() AIContext {
	return AIContext{WorkType: WorkTypeUnknown}
}

// ForkRef points at the assignee's fork of the repository
type ForkRef struct {
	Owner         string `gorm:"size:100" json:"owner"`
	Name          string `gorm:"size:200" json:"name"`
	DefaultBranch string `gorm:"size:200" json:"default_branch"`
}

func (f ForkRef) IsZero() bool { return f.Owner == "" || f.Name == "" }

// Assignment tracks one assignee working on one issue
type Assignment struct {
	ID                    uint             `gorm:"primaryKey" json:"id"`
	Repository            string           `gorm:"size:200;not null;index:idx_assignment_target" json:"repository"` // owner/name
	IssueNumber           int              `gorm:"not null;index:idx_assignment_target" json:"issue_number"`
	Assignee              string           `gorm:"size:100;not null;index" json:"assignee"`
	AssignedAt            time.Time        `gorm:"not null" json:"assigned_at"`
	LastActivityAt        time.Time        `gorm:"not null" json:"last_activity_at"`
	Status                AssignmentStatus `gorm:"size:30;not null;index;default:ACTIVE" json:"status"`
	IsWhitelisted         bool             `gorm:"default:false" json:"is_whitelisted"`
	ManualOverride        bool             `gorm:"default:false" json:"manual_override"`
	DeadlineExtendedUntil *time.Time       `json:"deadline_extended_until"`
	AI                    AIContext        `gorm:"embedded;embeddedPrefix:ai_" json:"ai_context"`
	Fork                  ForkRef          `gorm:"embedded;embeddedPrefix:fork_" json:"fork"`
	ConsecutiveFailures   int              `gorm:"default:0" json:"consecutive_failures"`
	LastError             string           `gorm:"type:text" json:"last_error"`
	LastCheckedAt         *time.Time       `json:"last_checked_at"`
	LastThreshold         string           `gorm:"type:text" json:"last_threshold"`
	LiveKey               *string          `gorm:"uniqueIndex;size:320" json:"-"`
	Version               int              `gorm:"not null;default:1" json:"version"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

func (Assignment) TableName() string { return "assignments" }

// AssignmentKey is the value stored in LiveKey while the assignment is live.
func AssignmentKey(repo string, issue int, assignee string) string {
	return fmt.Sprintf("%s#%d#%s", repo, issue, assignee)
}

// IssueURL returns the web URL of the tracked issue on github.com.
func (a *Assignment) IssueURL() string {
	return fmt.Sprintf("https://github.com/%s/issues/%d", a.Repository, a.IssueNumber)
}
