package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"gorm.io/gorm"
)

var ErrIMBotNotFound = errors.New("im bot not found")

// IMBotService manages the notification channels the IM sink fans out to.
type IMBotService struct {
	db     *gorm.DB
	client *http.Client
	Now    func() time.Time
}

func NewIMBotService(db *gorm.DB) *IMBotService {
	return &IMBotService{db: db, client: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

// WithHTTPClient swaps the client used by SendTest.
func (s *IMBotService) WithHTTPClient(c *http.Client) *IMBotService {
	s.client = c
	return s
}

type IMBotListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Type     string `form:"type"`
	IsActive *bool  `form:"is_active"`
}

type IMBotListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.IMBot `json:"items"`
}

type CreateIMBotRequest struct {
	Name        string                      `json:"name" binding:"required"`
	Type        string                      `json:"type" binding:"required,oneof=wechat_work dingtalk feishu slack discord teams telegram generic"`
	Webhook     string                      `json:"webhook" binding:"required,url"`
	Secret      string                      `json:"secret"`
	Extra       string                      `json:"extra"`
	IsActive    *bool                       `json:"is_active"`
	MinPriority models.NotificationPriority `json:"min_priority" binding:"omitempty,oneof=normal high urgent"`
}

type UpdateIMBotRequest struct {
	Name        string                      `json:"name"`
	Type        string                      `json:"type" binding:"omitempty,oneof=wechat_work dingtalk feishu slack discord teams telegram generic"`
	Webhook     string                      `json:"webhook" binding:"omitempty,url"`
	Secret      string                      `json:"secret"`
	Extra       string                      `json:"extra"`
	IsActive    *bool                       `json:"is_active"`
	MinPriority models.NotificationPriority `json:"min_priority" binding:"omitempty,oneof=normal high urgent"`
}

func (s *IMBotService) List(ctx context.Context, req *IMBotListRequest) (*IMBotListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&models.IMBot{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var bots []models.IMBot
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("id ASC").Find(&bots).Error; err != nil {
		return nil, err
	}

	return &IMBotListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: bots}, nil
}

func (s *IMBotService) GetByID(ctx context.Context, id uint) (*models.IMBot, error) {
	var bot models.IMBot
	if err := s.db.WithContext(ctx).First(&bot, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIMBotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

func (s *IMBotService) Create(ctx context.Context, req *CreateIMBotRequest) (*models.IMBot, error) {
	bot := models.IMBot{
		Name:        req.Name,
		Type:        req.Type,
		Webhook:     req.Webhook,
		Secret:      req.Secret,
		Extra:       req.Extra,
		IsActive:    true,
		MinPriority: req.MinPriority,
	}
	if req.IsActive != nil {
		bot.IsActive = *req.IsActive
	}
	if bot.MinPriority == "" {
		bot.MinPriority = models.PriorityNormal
	}
	if bot.Type == "telegram" && bot.Extra == "" {
		return nil, fmt.Errorf("%w: telegram bots need the chat id in extra", ErrInvalidInput)
	}

	if err := s.db.WithContext(ctx).Create(&bot).Error; err != nil {
		return nil, err
	}
	// zero values are skipped by Create
	if !bot.IsActive {
		if err := s.db.WithContext(ctx).Model(&bot).Update("is_active", false).Error; err != nil {
			return nil, err
		}
	}
	return &bot, nil
}

func (s *IMBotService) Update(ctx context.Context, id uint, req *UpdateIMBotRequest) (*models.IMBot, error) {
	bot, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Type != "" {
		updates["type"] = req.Type
	}
	if req.Webhook != "" {
		updates["webhook"] = req.Webhook
	}
	if req.Secret != "" {
		updates["secret"] = req.Secret
	}
	if req.Extra != "" {
		updates["extra"] = req.Extra
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.MinPriority != "" {
		updates["min_priority"] = req.MinPriority
	}
	if len(updates) == 0 {
		return bot, nil
	}

	if err := s.db.WithContext(ctx).Model(bot).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *IMBotService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.IMBot{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIMBotNotFound
	}
	return nil
}

// SendTest posts a sample notification through the bot, ignoring its
// priority floor and active flag.
func (s *IMBotService) SendTest(ctx context.Context, id uint, actor string) error {
	bot, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	n := &models.Notification{
		Type:      models.NotificationManual,
		Priority:  models.PriorityNormal,
		Title:     "ClaimWatch test notification",
		Message:   fmt.Sprintf("Channel %q is wired up. Sent by %s.", bot.Name, actor),
		CreatedAt: s.Now(),
	}
	return sendToBot(ctx, s.client, bot, n, NotificationMetadata{Actor: actor})
}
