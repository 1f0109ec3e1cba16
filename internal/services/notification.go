package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/pkg/logger"
	"gorm.io/gorm"
)

// NotificationSink delivers a stored notification to humans. Delivery is
// best effort; a failure never undoes the transition that produced it.
type NotificationSink interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// NotificationMetadata is stored as JSON on each notification.
type NotificationMetadata struct {
	Repository  string                  `json:"repository"`
	IssueNumber int                     `json:"issue_number"`
	IssueURL    string                  `json:"issue_url"`
	Assignee    string                  `json:"assignee"`
	Status      models.AssignmentStatus `json:"status"`
	Reason      string                  `json:"reason,omitempty"`
	Actor       string                  `json:"actor,omitempty"`
}

func NewNotificationMetadata(a *models.Assignment, reason string) NotificationMetadata {
	return NotificationMetadata{
		Repository:  a.Repository,
		IssueNumber: a.IssueNumber,
		IssueURL:    a.IssueURL(),
		Assignee:    a.Assignee,
		Status:      a.Status,
		Reason:      reason,
	}
}

func (m NotificationMetadata) JSON() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// IMNotificationSink fans a notification out to every active IM bot whose
// priority floor it clears.
type IMNotificationSink struct {
	db     *gorm.DB
	client *http.Client
}

func NewIMNotificationSink(db *gorm.DB) *IMNotificationSink {
	return &IMNotificationSink{db: db, client: &http.Client{Timeout: 10 * time.Second}}
}

// WithHTTPClient swaps the client used for webhook calls.
func (s *IMNotificationSink) WithHTTPClient(c *http.Client) *IMNotificationSink {
	s.client = c
	return s
}

func (s *IMNotificationSink) Deliver(ctx context.Context, n *models.Notification) error {
	var bots []models.IMBot
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&bots).Error; err != nil {
		return fmt.Errorf("load IM bots: %w", err)
	}

	meta, err := decodeMetadata(n)
	if err != nil {
		logger.Warn().Err(err).Uint("notification_id", n.ID).Msg("[Notification] bad metadata, sending without it")
	}

	var errs []error
	sent := 0
	for i := range bots {
		bot := &bots[i]
		if !bot.Accepts(n.Priority) {
			continue
		}
		if err := sendToBot(ctx, s.client, bot, n, meta); err != nil {
			logger.Warn().Err(err).Str("bot", bot.Name).Str("type", bot.Type).
				Uint("notification_id", n.ID).Msg("[Notification] delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", bot.Name, err))
			continue
		}
		sent++
	}

	if sent == 0 && len(errs) == 0 {
		logger.Debugf("[Notification] no IM bot accepts %s notification %d", n.Priority, n.ID)
		return nil
	}
	logger.Info().Uint("notification_id", n.ID).Str("type", string(n.Type)).
		Int("sent", sent).Int("failed", len(errs)).Msg("[Notification] delivered")
	return errors.Join(errs...)
}

// NopNotificationSink discards notifications; the stored row is the record.
type NopNotificationSink struct{}

func (NopNotificationSink) Deliver(context.Context, *models.Notification) error { return nil }
