package models

import (
	"fmt"

	"github.com/huangang/claimwatch/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Assignment{},
		&ActivityEvent{},
		&Notification{},
		&ForkReference{},
		&SchedulerLock{},
		&LLMConfig{},
		&IMBot{},
	)
}

// SeedFromConfig upserts LLM providers and notification channels declared in
// the config file, keyed by name. Rows added by other means are left alone.
func SeedFromConfig(db *gorm.DB, cfg *config.Config) error {
	for _, p := range cfg.LLM {
		if p.Name == "" {
			continue
		}
		row := LLMConfig{
			Name:        p.Name,
			Provider:    p.Provider,
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			IsDefault:   p.IsDefault,
			IsActive:    true,
		}
		if row.Provider == "" {
			row.Provider = "openai"
		}
		if row.MaxTokens == 0 {
			row.MaxTokens = 512
		}
		var existing LLMConfig
		err := db.Where("name = ?", p.Name).First(&existing).Error
		if err == nil {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			if err := db.Save(&row).Error; err != nil {
				return fmt.Errorf("seed llm config %s: %w", p.Name, err)
			}
			continue
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("seed llm config %s: %w", p.Name, err)
		}
	}

	for _, ch := range cfg.Notifications.Channels {
		if ch.Name == "" || ch.Webhook == "" {
			continue
		}
		row := IMBot{
			Name:     ch.Name,
			Type:     ch.Type,
			Webhook:  ch.Webhook,
			Secret:   ch.Secret,
			Extra:    ch.Extra,
			IsActive: true,
		}
		var existing IMBot
		err := db.Where("name = ?", ch.Name).First(&existing).Error
		if err == nil {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
			row.MinPriority = existing.MinPriority
			if err := db.Save(&row).Error; err != nil {
				return fmt.Errorf("seed im bot %s: %w", ch.Name, err)
			}
			continue
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("seed im bot %s: %w", ch.Name, err)
		}
	}
	return nil
}
