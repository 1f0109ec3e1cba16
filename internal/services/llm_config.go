package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangang/claimwatch/internal/models"
	"gorm.io/gorm"
)

var ErrLLMConfigNotFound = errors.New("llm config not found")

// LLMConfigService manages the models the classifier falls back through.
type LLMConfigService struct {
	db         *gorm.DB
	classifier *LLMClassifier
}

func NewLLMConfigService(db *gorm.DB, classifier *LLMClassifier) *LLMConfigService {
	return &LLMConfigService{db: db, classifier: classifier}
}

type LLMConfigListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Provider string `form:"provider"`
	IsActive *bool  `form:"is_active"`
}

type LLMConfigListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.LLMConfig `json:"items"`
}

type CreateLLMConfigRequest struct {
	Name        string  `json:"name" binding:"required"`
	Provider    string  `json:"provider" binding:"omitempty,oneof=openai azure anthropic gemini ollama"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model" binding:"required"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	IsDefault   bool    `json:"is_default"`
	IsActive    *bool   `json:"is_active"`
}

type UpdateLLMConfigRequest struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider" binding:"omitempty,oneof=openai azure anthropic gemini ollama"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	IsDefault   *bool    `json:"is_default"`
	IsActive    *bool    `json:"is_active"`
}

// TestLLMConfigRequest is sample activity text to classify.
type TestLLMConfigRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *LLMConfigService) List(ctx context.Context, req *LLMConfigListRequest) (*LLMConfigListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&models.LLMConfig{})
	if req.Name != "" {
		query = query.Where("name LIKE ? OR model LIKE ?", "%"+req.Name+"%", "%"+req.Name+"%")
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var configs []models.LLMConfig
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].APIKeyMask = configs[i].MaskAPIKey()
	}

	return &LLMConfigListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: configs}, nil
}

func (s *LLMConfigService) GetByID(ctx context.Context, id uint) (*models.LLMConfig, error) {
	var cfg models.LLMConfig
	if err := s.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLLMConfigNotFound
		}
		return nil, err
	}
	cfg.APIKeyMask = cfg.MaskAPIKey()
	return &cfg, nil
}

func (s *LLMConfigService) Create(ctx context.Context, req *CreateLLMConfigRequest) (*models.LLMConfig, error) {
	if req.Provider == "" {
		req.Provider = "openai"
	}
	if req.Provider != "ollama" && req.APIKey == "" {
		return nil, fmt.Errorf("%w: api_key is required for %s", ErrInvalidInput, req.Provider)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 512
	}

	cfg := models.LLMConfig{
		Name:        req.Name,
		Provider:    req.Provider,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		IsDefault:   req.IsDefault,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&cfg).Error; err != nil {
			return err
		}
		if !cfg.IsActive {
			return tx.Model(&cfg).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cfg.APIKeyMask = cfg.MaskAPIKey()
	return &cfg, nil
}

func (s *LLMConfigService) Update(ctx context.Context, id uint, req *UpdateLLMConfigRequest) (*models.LLMConfig, error) {
	cfg, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Provider != "" {
		updates["provider"] = req.Provider
	}
	if req.BaseURL != "" {
		updates["base_url"] = req.BaseURL
	}
	if req.APIKey != "" {
		updates["api_key"] = req.APIKey
	}
	if req.Model != "" {
		updates["model"] = req.Model
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault != nil && *req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ? AND id != ?", true, id).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(cfg).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *LLMConfigService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.LLMConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLLMConfigNotFound
	}
	return nil
}

// Test classifies text with exactly this model, so a new key or endpoint
// can be checked before it joins the fallback chain.
func (s *LLMConfigService) Test(ctx context.Context, id uint, text string) (*Judgment, error) {
	cfg, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.classifier == nil {
		return nil, errors.New("no classifier configured")
	}
	j, err := s.classifier.ClassifyWith(ctx, cfg, text)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
