package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignmentStore owns assignments, their activity trail and notifications.
// Every mutation runs in a single database transaction.
type AssignmentStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewAssignmentStore(db *gorm.DB) *AssignmentStore {
	return &AssignmentStore{db: db, Now: time.Now}
}

type AssignmentFilter struct {
	Status     string
	Repository string
	Assignee   string
	Page       int
	PageSize   int
}

type NotificationFilter struct {
	AssignmentID uint
	Type         string
	Undelivered  bool
	Page         int
	PageSize     int
}

// Transition is one atomic change to an assignment. Nil fields are left
// unchanged. ExpectedVersion 0 skips the optimistic check.
type Transition struct {
	AssignmentID    uint
	ExpectedVersion int

	Status models.AssignmentStatus
	Events []models.ActivityEvent
	// Watermark is a candidate activity time on top of the appended events;
	// the stored watermark only moves forward.
	Watermark *time.Time

	AI                    *models.AIContext
	Fork                  *models.ForkRef
	ManualOverride        *bool
	Whitelisted           *bool
	DeadlineExtendedUntil *time.Time
	ClearDeadline         bool
	LastThreshold         *string
	ConsecutiveFailures   *int
	LastError             *string
	CheckedAt             *time.Time

	Notifications []models.Notification
}

type TransitionResult struct {
	Assignment     *models.Assignment
	AppendedEvents int
	Notifications  []RecordedNotification
}

// RecordedNotification is a notification after insert; Created is false when
// the idempotency key was already present.
type RecordedNotification struct {
	Notification models.Notification
	Created      bool
}

// Fresh returns the notifications this transition created.
func (r *TransitionResult) Fresh() []models.Notification {
	var out []models.Notification
	for _, n := range r.Notifications {
		if n.Created {
			out = append(out, n.Notification)
		}
	}
	return out
}

// Create registers a live assignment. If one is already live for the same
// (repository, issue, assignee) it is returned unchanged with created=false.
func (s *AssignmentStore) Create(ctx context.Context, a *models.Assignment) (*models.Assignment, bool, error) {
	if a.Repository == "" || a.IssueNumber <= 0 || a.Assignee == "" {
		return nil, false, fmt.Errorf("%w: repository, issue number and assignee are required", ErrInvalidInput)
	}
	if existing, err := s.FindLive(ctx, a.Repository, a.IssueNumber, a.Assignee); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrAssignmentNotFound) {
		return nil, false, err
	}

	now := s.Now()
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}
	if a.LastActivityAt.Before(a.AssignedAt) {
		a.LastActivityAt = a.AssignedAt
	}
	a.ID = 0
	a.Status = models.StatusActive
	a.Version = 1
	if a.AI.WorkType == "" {
		a.AI = models.NeutralAIContext()
	}
	key := models.AssignmentKey(a.Repository, a.IssueNumber, a.Assignee)
	a.LiveKey = &key

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		ev := models.ActivityEvent{
			AssignmentID: a.ID,
			Timestamp:    a.AssignedAt,
			Kind:         models.KindAssignment,
			Source:       models.SourceSystem,
			Actor:        a.Assignee,
			DedupeKey:    fmt.Sprintf("assigned:%d", a.AssignedAt.Unix()),
			Sequence:     1,
		}
		return tx.Create(&ev).Error
	})
	if err != nil {
		// Lost a race on the live key: return the winner.
		if existing, findErr := s.FindLive(ctx, a.Repository, a.IssueNumber, a.Assignee); findErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create assignment: %w", err)
	}
	return a, true, nil
}

func (s *AssignmentStore) Get(ctx context.Context, id uint) (*models.Assignment, error) {
	var a models.Assignment
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *AssignmentStore) FindLive(ctx context.Context, repo string, issue int, assignee string) (*models.Assignment, error) {
	var a models.Assignment
	err := s.db.WithContext(ctx).
		Where("live_key = ?", models.AssignmentKey(repo, issue, assignee)).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindLiveByIssue returns every live assignment on an issue.
func (s *AssignmentStore) FindLiveByIssue(ctx context.Context, repo string, issue int) ([]models.Assignment, error) {
	var list []models.Assignment
	err := s.db.WithContext(ctx).
		Where("repository = ? AND issue_number = ? AND live_key IS NOT NULL", repo, issue).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (s *AssignmentStore) List(ctx context.Context, f AssignmentFilter) ([]models.Assignment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Assignment{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Repository != "" {
		query = query.Where("repository = ?", f.Repository)
	}
	if f.Assignee != "" {
		query = query.Where("assignee = ?", f.Assignee)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)
	var list []models.Assignment
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

// ListTrackable returns assignments the monitor must visit, least recently
// checked first.
func (s *AssignmentStore) ListTrackable(ctx context.Context) ([]models.Assignment, error) {
	var list []models.Assignment
	err := s.db.WithContext(ctx).
		Where("status IN ?", models.TrackableStatuses).
		Order("updated_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (s *AssignmentStore) CountTrackable(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("status IN ?", models.TrackableStatuses).
		Count(&n).Error
	return n, err
}

// ApplyTransition appends events, advances the watermark, updates state and
// records the notification in one transaction. A stale ExpectedVersion yields
// ErrWriteConflict and nothing is written.
func (s *AssignmentStore) ApplyTransition(ctx context.Context, tr Transition) (*TransitionResult, error) {
	result := &TransitionResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Assignment
		if err := tx.First(&cur, tr.AssignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssignmentNotFound
			}
			return err
		}
		if tr.ExpectedVersion > 0 && cur.Version != tr.ExpectedVersion {
			return ErrWriteConflict
		}
		if cur.Status.IsTerminal() && tr.Status != "" && tr.Status != cur.Status {
			return ErrAssignmentClosed
		}

		watermark := cur.LastActivityAt
		if tr.Watermark != nil && tr.Watermark.After(watermark) {
			watermark = *tr.Watermark
		}

		if len(tr.Events) > 0 {
			var seq int64
			if err := tx.Model(&models.ActivityEvent{}).
				Where("assignment_id = ?", cur.ID).
				Select("COALESCE(MAX(sequence), 0)").
				Scan(&seq).Error; err != nil {
				return err
			}
			for i := range tr.Events {
				ev := tr.Events[i]
				ev.ID = 0
				ev.AssignmentID = cur.ID
				seq++
				ev.Sequence = seq
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
				if res.Error != nil {
					return fmt.Errorf("append activity %s: %w", ev.DedupeKey, res.Error)
				}
				if res.RowsAffected == 0 {
					seq--
					continue
				}
				result.AppendedEvents++
				if ev.IsGenuine() && ev.Timestamp.After(watermark) {
					watermark = ev.Timestamp
				}
			}
		}
		if watermark.Before(cur.AssignedAt) {
			watermark = cur.AssignedAt
		}

		updates := map[string]interface{}{
			"last_activity_at": watermark,
			"version":          cur.Version + 1,
			"updated_at":       s.Now(),
		}
		if tr.Status != "" {
			updates["status"] = tr.Status
			if tr.Status.IsTerminal() {
				updates["live_key"] = nil
			}
		}
		if tr.AI != nil {
			updates["ai_work_type"] = tr.AI.WorkType
			updates["ai_is_blocked"] = tr.AI.IsBlocked
			updates["ai_confidence"] = tr.AI.Confidence
			updates["ai_reasoning"] = tr.AI.Reasoning
			updates["ai_analyzed_at"] = tr.AI.AnalyzedAt
		}
		if tr.Fork != nil {
			updates["fork_owner"] = tr.Fork.Owner
			updates["fork_name"] = tr.Fork.Name
			updates["fork_default_branch"] = tr.Fork.DefaultBranch
		}
		if tr.ManualOverride != nil {
			updates["manual_override"] = *tr.ManualOverride
		}
		if tr.Whitelisted != nil {
			updates["is_whitelisted"] = *tr.Whitelisted
		}
		if tr.DeadlineExtendedUntil != nil {
			updates["deadline_extended_until"] = *tr.DeadlineExtendedUntil
		} else if tr.ClearDeadline {
			updates["deadline_extended_until"] = nil
		}
		if tr.LastThreshold != nil {
			updates["last_threshold"] = *tr.LastThreshold
		}
		if tr.ConsecutiveFailures != nil {
			updates["consecutive_failures"] = *tr.ConsecutiveFailures
		}
		if tr.LastError != nil {
			updates["last_error"] = *tr.LastError
		}
		if tr.CheckedAt != nil {
			updates["last_checked_at"] = *tr.CheckedAt
		}

		res := tx.Model(&models.Assignment{}).
			Where("id = ? AND version = ?", cur.ID, cur.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrWriteConflict
		}

		for _, n := range tr.Notifications {
			n.ID = 0
			n.AssignmentID = cur.ID
			created, err := insertNotification(tx, &n)
			if err != nil {
				return err
			}
			result.Notifications = append(result.Notifications, RecordedNotification{Notification: n, Created: created})
		}

		var updated models.Assignment
		if err := tx.First(&updated, cur.ID).Error; err != nil {
			return err
		}
		result.Assignment = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordActivity appends one event. A duplicate DedupeKey is a no-op and
// returns false.
func (s *AssignmentStore) RecordActivity(ctx context.Context, id uint, ev models.ActivityEvent) (bool, error) {
	res, err := s.ApplyTransition(ctx, Transition{AssignmentID: id, Events: []models.ActivityEvent{ev}})
	if err != nil {
		return false, err
	}
	return res.AppendedEvents == 1, nil
}

// RecordNotification inserts n once per IdempotencyKey. On a replay the
// stored notification is returned with created=false.
func (s *AssignmentStore) RecordNotification(ctx context.Context, id uint, n models.Notification) (*models.Notification, bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, false, err
	}
	n.ID = 0
	n.AssignmentID = id
	created, err := insertNotification(s.db.WithContext(ctx), &n)
	if err != nil {
		return nil, false, err
	}
	return &n, created, nil
}

func insertNotification(tx *gorm.DB, n *models.Notification) (bool, error) {
	if n.IdempotencyKey == "" {
		return false, fmt.Errorf("notification idempotency key is required")
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return false, fmt.Errorf("record notification: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if err := tx.Where("idempotency_key = ?", n.IdempotencyKey).First(n).Error; err != nil {
		return false, err
	}
	return false, nil
}

// ListActivity returns events in [from, to]; zero bounds are open.
func (s *AssignmentStore) ListActivity(ctx context.Context, id uint, from, to time.Time) ([]models.ActivityEvent, error) {
	query := s.db.WithContext(ctx).Where("assignment_id = ?", id)
	if !from.IsZero() {
		query = query.Where("timestamp >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("timestamp <= ?", to)
	}
	var events []models.ActivityEvent
	err := query.Order("timestamp ASC, sequence ASC").Find(&events).Error
	return events, err
}

func (s *AssignmentStore) ListNotifications(ctx context.Context, f NotificationFilter) ([]models.Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{})
	if f.AssignmentID > 0 {
		query = query.Where("assignment_id = ?", f.AssignmentID)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Undelivered {
		query = query.Where("delivered_at IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)
	var list []models.Notification
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

// MarkDelivered records the outcome of a delivery attempt.
func (s *AssignmentStore) MarkDelivered(ctx context.Context, notificationID uint, deliveryErr error) error {
	updates := map[string]interface{}{}
	if deliveryErr != nil {
		updates["delivery_error"] = deliveryErr.Error()
	} else {
		updates["delivered_at"] = s.Now()
		updates["delivery_error"] = ""
	}
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Updates(updates).Error
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}
