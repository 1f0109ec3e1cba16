package models

import "time"

// IMBot is a chat channel that receives assignment notifications
type IMBot struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	Name        string               `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Type        string               `gorm:"size:50;not null" json:"type"` // wechat_work, dingtalk, feishu, slack, discord, teams, telegram, generic
	Webhook     string               `gorm:"size:500;not null" json:"webhook"`
	Secret      string               `gorm:"size:255" json:"-"`
	Extra       string               `gorm:"size:500" json:"extra"` // Extra config (e.g., Telegram chat_id)
	IsActive    bool                 `gorm:"default:true" json:"is_active"`
	MinPriority NotificationPriority `gorm:"size:20;default:normal" json:"min_priority"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func (IMBot) TableName() string { return "im_bots" }

var priorityRank = map[NotificationPriority]int{
	PriorityNormal: 0,
	PriorityHigh:   1,
	PriorityUrgent: 2,
}

// Accepts reports whether the bot wants notifications of priority p.
func (b *IMBot) Accepts(p NotificationPriority) bool {
	return priorityRank[p] >= priorityRank[b.MinPriority]
}
