package models

import "time"

// LLMConfig is one language model endpoint the classifier may call, tried in
// order: default first, then the rest by ID
type LLMConfig struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Provider    string    `gorm:"size:50;default:openai" json:"provider"` // openai, azure, anthropic, gemini, ollama
	BaseURL     string    `gorm:"size:500" json:"base_url"`
	APIKey      string    `gorm:"size:500" json:"-"`
	APIKeyMask  string    `gorm:"-" json:"api_key_mask"`
	Model       string    `gorm:"size:100" json:"model"`
	MaxTokens   int       `gorm:"default:512" json:"max_tokens"`
	Temperature float64   `gorm:"default:0" json:"temperature"`
	IsDefault   bool      `gorm:"default:false" json:"is_default"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (LLMConfig) TableName() string { return "llm_configs" }

// MaskAPIKey returns masked API key for display
func (l *LLMConfig) MaskAPIKey() string {
	if len(l.APIKey) <= 8 {
		return "****"
	}
	return l.APIKey[:4] + "****" + l.APIKey[len(l.APIKey)-4:]
}
