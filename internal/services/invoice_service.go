package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"freelancehub/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// budgetPattern 第一个数字片段，允许千分位与小数
var budgetPattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`)

// ExtractBudget 从付款条款文本中提取第一个金额
func ExtractBudget(text string) (float64, bool) {
	match := budgetPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// InvoicePrefix 返回 INV-YYYYMM- 形式的月度前缀
func InvoicePrefix(t time.Time) string {
	return "INV-" + t.Format("200601") + "-"
}

// InvoiceSequencer 为给定前缀分配下一个序号
type InvoiceSequencer interface {
	Next(ctx context.Context, db *gorm.DB, prefix string) (int64, error)
}

// CountSequencer 以已有发票数 + 1 作为序号，仅适用于单进程
type CountSequencer struct{}

func (CountSequencer) Next(ctx context.Context, db *gorm.DB, prefix string) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("invoice_number LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count + 1, nil
}

// RedisInvoiceSequencer 基于 Redis INCR 的原子序号；首次使用某前缀时以数据库计数播种
type RedisInvoiceSequencer struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisInvoiceSequencer(client redis.UniversalClient) *RedisInvoiceSequencer {
	return &RedisInvoiceSequencer{client: client, ttl: 62 * 24 * time.Hour}
}

func (s *RedisInvoiceSequencer) Next(ctx context.Context, db *gorm.DB, prefix string) (int64, error) {
	key := "invoice:seq:" + strings.TrimSuffix(prefix, "-")
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis exists %s: %w", key, err)
	}
	if exists == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&models.Invoice{}).
			Where("invoice_number LIKE ?", prefix+"%").
			Count(&count).Error; err != nil {
			return 0, err
		}
		if err := s.client.SetNX(ctx, key, count, s.ttl).Err(); err != nil {
			return 0, fmt.Errorf("redis seed %s: %w", key, err)
		}
	}
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// InvoiceConfig 发票生成参数
type InvoiceConfig struct {
	DueDays      int
	DepositRatio float64
}

// InvoiceService 由已签署合同生成首期发票
type InvoiceService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	retry     RetryPolicy
	events    EventEmitter
	sequencer InvoiceSequencer
	cfg       InvoiceConfig
	now       func() time.Time
}

func NewInvoiceService(db *gorm.DB, logger *logrus.Logger, retry RetryPolicy, events EventEmitter, sequencer InvoiceSequencer, cfg InvoiceConfig) *InvoiceService {
	if logger == nil {
		logger = logrus.New()
	}
	if sequencer == nil {
		sequencer = CountSequencer{}
	}
	if cfg.DueDays <= 0 {
		cfg.DueDays = 7
	}
	if cfg.DepositRatio <= 0 {
		cfg.DepositRatio = 0.5
	}
	return &InvoiceService{
		db:        db,
		logger:    logger,
		retry:     retry,
		events:    events,
		sequencer: sequencer,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateForContract 为合同生成定金发票；已有发票时原样返回
// 第二个返回值表示本次是否新建
func (s *InvoiceService) GenerateForContract(ctx context.Context, contractID uint) (*models.Invoice, bool, error) {
	ctx, span := tracer.Start(ctx, "invoice.generate")
	defer span.End()
	span.SetAttributes(attribute.Int64("contract.id", int64(contractID)))

	var contract models.SmartContract
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&contract, contractID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrContractNotFound
		}
		return nil, false, fmt.Errorf("load contract %d: %w", contractID, err)
	}

	var existing []models.Invoice
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Where("contract_id = ?", contractID).Order("id ASC").Limit(1).Find(&existing).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("lookup invoice for contract %d: %w", contractID, err)
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	budget := contract.Budget
	if budget <= 0 {
		parsed, ok := ExtractBudget(contract.Terms.Payment)
		if !ok || parsed <= 0 {
			return nil, false, fmt.Errorf("%w: contract %d", ErrNoBudget, contractID)
		}
		budget = parsed
	}

	now := s.now()
	amount := roundCents(budget * s.cfg.DepositRatio)
	invoice := &models.Invoice{
		ContractID:   contract.ID,
		ClientID:     contract.ClientID,
		FreelancerID: contract.FreelancerID,
		Items: []models.InvoiceLineItem{{
			Description: fmt.Sprintf("Deposit (%d%%) for %s", int(s.cfg.DepositRatio*100), contract.Title),
			Quantity:    1,
			Rate:        amount,
			Amount:      amount,
		}},
		Subtotal: amount,
		Tax:      0,
		Total:    amount,
		DueDate:  now.AddDate(0, 0, s.cfg.DueDays),
		Status:   models.InvoiceStatusSent,
		Notes:    fmt.Sprintf("Auto-generated on signing of contract #%d", contract.ID),
	}

	prefix := InvoicePrefix(now)
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		seq, err := s.sequencer.Next(ctx, s.db, prefix)
		if err != nil {
			return err
		}
		invoice.ID = 0
		invoice.InvoiceNumber = fmt.Sprintf("%s%04d", prefix, seq)
		return s.db.WithContext(ctx).Create(invoice).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("create invoice for contract %d: %w", contractID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"invoice":     invoice.InvoiceNumber,
		"contract_id": contract.ID,
		"total":       invoice.Total,
	}).Info("invoice: auto-generated")

	if s.events != nil {
		s.events.Emit(ctx, EventInvoiceAutoGenerated, map[string]interface{}{
			"invoiceId":     invoice.ID,
			"invoiceNumber": invoice.InvoiceNumber,
			"contractId":    contract.ID,
			"clientId":      contract.ClientID,
			"freelancerId":  contract.FreelancerID,
			"total":         invoice.Total,
		})
	}
	return invoice, true, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
