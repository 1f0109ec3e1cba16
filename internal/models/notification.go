package models

import "time"

type NotificationType string

const (
	NotificationWarning        NotificationType = "warning"
	NotificationAlert          NotificationType = "alert"
	NotificationAutoUnassigned NotificationType = "auto_unassigned"
	NotificationAIUpdate       NotificationType = "ai_update"
	NotificationDiagnostic     NotificationType = "diagnostic"
	NotificationManual         NotificationType = "manual"
)

type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is created once per triggered transition; delivery is tracked separately
type Notification struct {
	ID             uint                 `gorm:"primaryKey" json:"id"`
	AssignmentID   uint                 `gorm:"not null;index" json:"assignment_id"`
	Type           NotificationType     `gorm:"size:30;not null;index" json:"type"`
	Title          string               `gorm:"size:255;not null" json:"title"`
	Message        string               `gorm:"type:text" json:"message"`
	Priority       NotificationPriority `gorm:"size:20;not null;default:normal" json:"priority"`
	IdempotencyKey string               `gorm:"size:200;not null;uniqueIndex" json:"idempotency_key"`
	Metadata       string               `gorm:"type:text" json:"metadata"` // JSON
	DeliveredAt    *time.Time           `json:"delivered_at"`
	DeliveryError  string               `gorm:"type:text" json:"delivery_error"`
	CreatedAt      time.Time            `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
