package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freelancehub/internal/metrics"
	"freelancehub/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CampaignRequest 创建邮件群发的请求
type CampaignRequest struct {
	UserID      uint       `json:"user_id"`
	Name        string     `json:"name" binding:"required"`
	Subject     string     `json:"subject" binding:"required"`
	Content     string     `json:"content"`
	FromAddress string     `json:"from_address"`
	Recipients  []string   `json:"recipients" binding:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// CampaignRunResult 一次群发的统计
type CampaignRunResult struct {
	CampaignID uint `json:"campaign_id"`
	Sent       int  `json:"sent"`
	Failed     int  `json:"failed"`
}

// CampaignService 邮件群发的创建、取消与定时执行
type CampaignService struct {
	db          *gorm.DB
	logger      *logrus.Logger
	retry       RetryPolicy
	mailer      Mailer
	renderer    *TemplateRenderer
	sendTimeout time.Duration
	now         func() time.Time
}

func NewCampaignService(db *gorm.DB, logger *logrus.Logger, retry RetryPolicy, mailer Mailer, renderer *TemplateRenderer, sendTimeout time.Duration) *CampaignService {
	if logger == nil {
		logger = logrus.New()
	}
	if renderer == nil {
		renderer = NewTemplateRenderer()
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &CampaignService{
		db:          db,
		logger:      logger,
		retry:       retry,
		mailer:      mailer,
		renderer:    renderer,
		sendTimeout: sendTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateCampaign 新建 SCHEDULED 群发，未指定时间时立即到期
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CampaignRequest) (*models.EmailCampaign, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if err := s.renderer.Validate(req.Content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	scheduled := s.now()
	if req.ScheduledAt != nil {
		scheduled = req.ScheduledAt.UTC()
	}
	campaign := &models.EmailCampaign{
		UserID:      req.UserID,
		Name:        req.Name,
		Subject:     req.Subject,
		Content:     req.Content,
		FromAddress: req.FromAddress,
		Recipients:  recipients,
		Status:      models.CampaignStatusScheduled,
		ScheduledAt: &scheduled,
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		campaign.ID = 0
		return s.db.WithContext(ctx).Create(campaign).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return campaign, nil
}

// ListCampaigns 按状态过滤，status 为空返回全部
func (s *CampaignService) ListCampaigns(ctx context.Context, status string) ([]models.EmailCampaign, error) {
	var campaigns []models.EmailCampaign
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Order("id DESC")
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q.Find(&campaigns).Error
	})
	return campaigns, err
}

// CancelCampaign 仅允许取消尚未开始的群发
func (s *CampaignService) CancelCampaign(ctx context.Context, id uint) error {
	affected, err := s.transition(ctx, id, models.CampaignStatusScheduled, models.CampaignStatusCancelled)
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.EmailCampaign{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrCampaignNotFound
	}
	return ErrCampaignNotScheduled
}

// SweepDueCampaigns 依 scheduled_at 升序执行到期群发；单个群发的致命错误会将其置为 CANCELLED
func (s *CampaignService) SweepDueCampaigns(ctx context.Context, now time.Time) ([]CampaignRunResult, error) {
	ctx, span := tracer.Start(ctx, "campaign.sweep")
	defer span.End()

	var due []models.EmailCampaign
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", models.CampaignStatusScheduled, now).
			Order("scheduled_at ASC").
			Find(&due).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load due campaigns: %w", err)
	}

	results := make([]CampaignRunResult, 0, len(due))
	for i := range due {
		c := &due[i]
		res, err := s.RunCampaign(ctx, c)
		if errors.Is(err, ErrCampaignNotScheduled) {
			continue
		}
		if err != nil {
			s.logger.WithField("campaign_id", c.ID).Errorf("campaign: run failed, cancelling: %v", err)
			if _, cerr := s.transition(context.WithoutCancel(ctx), c.ID, models.CampaignStatusRunning, models.CampaignStatusCancelled); cerr != nil {
				s.logger.WithField("campaign_id", c.ID).Errorf("campaign: cancel after failure: %v", cerr)
			}
			continue
		}
		results = append(results, *res)
	}
	span.SetAttributes(attribute.Int("campaigns.run", len(results)))
	return results, nil
}

// RunCampaign 认领一个 SCHEDULED 群发并逐个收件人发送
// 返回错误时群发停留在 RUNNING，由调用方决定是否取消
func (s *CampaignService) RunCampaign(ctx context.Context, c *models.EmailCampaign) (*CampaignRunResult, error) {
	affected, err := s.transition(ctx, c.ID, models.CampaignStatusScheduled, models.CampaignStatusRunning)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrCampaignNotScheduled
	}
	if len(c.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	cacheKey := fmt.Sprintf("campaign:%d", c.ID)
	if err := s.renderer.Validate(c.Content); err != nil {
		return nil, fmt.Errorf("campaign %d content: %w", c.ID, err)
	}

	log := s.logger.WithFields(logrus.Fields{"campaign_id": c.ID, "recipients": len(c.Recipients)})
	log.Info("campaign: sending")

	// 认领之后的记账写入不随调用方取消而丢失，群发总能离开 RUNNING
	bookCtx := context.WithoutCancel(ctx)
	result := &CampaignRunResult{CampaignID: c.ID}
	for _, to := range c.Recipients {
		entry := models.EmailLog{CampaignID: c.ID, Recipient: to}
		html, err := s.renderer.Render(cacheKey, c.Content, map[string]interface{}{
			"email":         to,
			"campaign_name": c.Name,
		})
		if err == nil {
			var sent *SendResult
			sent, err = s.send(ctx, EmailMessage{To: to, Subject: c.Subject, HTML: html, From: c.FromAddress})
			if err == nil && sent != nil {
				entry.MessageID = sent.MessageID
			}
		}
		if err != nil {
			entry.Status = models.EmailStatusFailed
			entry.Error = err.Error()
			result.Failed++
			metrics.IncEmail(models.EmailStatusFailed)
		} else {
			entry.Status = models.EmailStatusSent
			result.Sent++
			metrics.IncEmail(models.EmailStatusSent)
		}
		if err := s.retry.Do(bookCtx, func(ctx context.Context) error {
			entry.ID = 0
			return s.db.WithContext(ctx).Create(&entry).Error
		}); err != nil {
			return nil, fmt.Errorf("record email log for campaign %d: %w", c.ID, err)
		}
	}

	sentAt := s.now()
	err = s.retry.Do(bookCtx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&models.EmailCampaign{}).
			Where("id = ? AND status = ?", c.ID, models.CampaignStatusRunning).
			Updates(map[string]interface{}{
				"status":       models.CampaignStatusCompleted,
				"sent_at":      sentAt,
				"sent_count":   gorm.Expr("sent_count + ?", result.Sent),
				"bounce_count": gorm.Expr("bounce_count + ?", result.Failed),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("complete campaign %d: %w", c.ID, err)
	}
	log.WithFields(logrus.Fields{"sent": result.Sent, "failed": result.Failed}).Info("campaign: completed")
	return result, nil
}

func (s *CampaignService) send(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	if s.mailer == nil {
		return nil, errors.New("no mail transport configured")
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return s.mailer.SendEmail(sendCtx, msg)
}

func (s *CampaignService) transition(ctx context.Context, id uint, from, to string) (int64, error) {
	var affected int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.EmailCampaign{}).
			Where("id = ? AND status = ?", id, from).
			Update("status", to)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("campaign %d %s -> %s: %w", id, from, to, err)
	}
	return affected, nil
}
