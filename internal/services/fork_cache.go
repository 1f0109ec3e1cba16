package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultForkCacheTTL bounds how long a fork lookup is trusted.
const DefaultForkCacheTTL = 12 * time.Hour

// ForkCache stores fork lookups keyed by (repository, fork owner), including
// negative results. Get reports fresh=false for missing or expired entries.
type ForkCache interface {
	Get(ctx context.Context, repo, owner string) (ref *models.ForkReference, fresh bool, err error)
	Put(ctx context.Context, ref models.ForkReference) error
}

// DBForkCache persists entries in fork_references.
type DBForkCache struct {
	db  *gorm.DB
	ttl time.Duration
	Now func() time.Time
}

func NewDBForkCache(db *gorm.DB, ttl time.Duration) *DBForkCache {
	if ttl <= 0 {
		ttl = DefaultForkCacheTTL
	}
	return &DBForkCache{db: db, ttl: ttl, Now: time.Now}
}

func (c *DBForkCache) Get(ctx context.Context, repo, owner string) (*models.ForkReference, bool, error) {
	var ref models.ForkReference
	err := c.db.WithContext(ctx).
		Where("repository = ? AND fork_owner = ?", repo, owner).
		First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &ref, c.Now().Before(ref.ExpiresAt), nil
}

func (c *DBForkCache) Put(ctx context.Context, ref models.ForkReference) error {
	ref.ID = 0
	if ref.ExpiresAt.IsZero() {
		ref.ExpiresAt = c.Now().Add(c.ttl)
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository"}, {Name: "fork_owner"}},
		DoUpdates: clause.AssignmentColumns([]string{"fork_name", "default_branch", "found", "expires_at", "updated_at"}),
	}).Create(&ref).Error
}

// MemoryForkCache keeps entries in process memory.
type MemoryForkCache struct {
	mu      sync.Mutex
	entries map[string]models.ForkReference
	ttl     time.Duration
	Now     func() time.Time
}

func NewMemoryForkCache(ttl time.Duration) *MemoryForkCache {
	if ttl <= 0 {
		ttl = DefaultForkCacheTTL
	}
	return &MemoryForkCache{entries: make(map[string]models.ForkReference), ttl: ttl, Now: time.Now}
}

func forkCacheKey(repo, owner string) string {
	return repo + "|" + strings.ToLower(owner)
}

func (c *MemoryForkCache) Get(_ context.Context, repo, owner string) (*models.ForkReference, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.entries[forkCacheKey(repo, owner)]
	if !ok {
		return nil, false, nil
	}
	return &ref, c.Now().Before(ref.ExpiresAt), nil
}

func (c *MemoryForkCache) Put(_ context.Context, ref models.ForkReference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref.ExpiresAt.IsZero() {
		ref.ExpiresAt = c.Now().Add(c.ttl)
	}
	c.entries[forkCacheKey(ref.Repository, ref.ForkOwner)] = ref
	return nil
}
