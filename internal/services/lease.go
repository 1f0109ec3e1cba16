package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/claimwatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeaseManager hands out expiring locks stored in scheduler_locks so several
// instances can share one database. An expired lease can be taken over.
type LeaseManager struct {
	db       *gorm.DB
	holderID string
	Now      func() time.Time
}

func NewLeaseManager(db *gorm.DB) *LeaseManager {
	return &LeaseManager{db: db, holderID: uuid.NewString(), Now: time.Now}
}

// HolderID identifies this process in locked_by.
func (m *LeaseManager) HolderID() string { return m.holderID }

// Acquire returns false (and no error) when someone else holds a live lease.
func (m *LeaseManager) Acquire(ctx context.Context, name, key string, ttl time.Duration) (bool, error) {
	now := m.Now()
	db := m.db.WithContext(ctx)

	if err := db.Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, key, now).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		return false, fmt.Errorf("expire lease %s/%s: %w", name, key, err)
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  m.holderID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, fmt.Errorf("acquire lease %s/%s: %w", name, key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease if this process still holds it.
func (m *LeaseManager) Release(ctx context.Context, name, key string) error {
	return m.db.WithContext(ctx).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, key, m.holderID).
		Delete(&models.SchedulerLock{}).Error
}

// AcquireAssignment takes the per-assignment lease.
func (m *LeaseManager) AcquireAssignment(ctx context.Context, id uint, ttl time.Duration) (bool, error) {
	return m.Acquire(ctx, models.LockAssignment, strconv.FormatUint(uint64(id), 10), ttl)
}

func (m *LeaseManager) ReleaseAssignment(ctx context.Context, id uint) error {
	return m.Release(ctx, models.LockAssignment, strconv.FormatUint(uint64(id), 10))
}
