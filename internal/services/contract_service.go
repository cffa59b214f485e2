package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freelancehub/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// categoryTags 职位分类到合同模板标签的映射，未命中时使用 SERVICE
var categoryTags = map[string]string{
	"web development":      "DEVELOPMENT",
	"software development": "DEVELOPMENT",
	"mobile development":   "DEVELOPMENT",
	"development":          "DEVELOPMENT",
	"design":               "DESIGN",
	"graphic design":       "DESIGN",
	"ui ux design":         "DESIGN",
	"writing":              "WRITING",
	"content writing":      "WRITING",
	"translation":          "WRITING",
	"marketing":            "MARKETING",
	"digital marketing":    "MARKETING",
	"sales":                "MARKETING",
	"consulting":           "CONSULTING",
	"business":             "CONSULTING",
	"data science":         "DATA",
	"data analysis":        "DATA",
}

const defaultTemplateTag = "SERVICE"

// TemplateTagForCategory 归一化分类名并查表
func TemplateTagForCategory(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	key = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	if tag, ok := categoryTags[key]; ok {
		return tag
	}
	return defaultTemplateTag
}

// defaultContractTemplate 无可用模板时的内置合同正文
const defaultContractTemplate = `SERVICE AGREEMENT: {{ title }}

Date: {{ date }}

Client: {{ client_name }} ({{ client_email }})
Freelancer: {{ freelancer_name }} ({{ freelancer_email }})

1. Scope of Work
{{ description }}

2. Compensation
The Client agrees to pay the Freelancer a total of ${{ budget }} for the work described above.

3. Timeline
{{ timeline }}

4. Intellectual Property
All deliverables become the property of the Client upon full payment.

5. Termination
Either party may terminate this agreement with written notice.

Reference: job #{{ job_id }}, proposal #{{ proposal_id }}
`

// ContractConfig 合同与发票生成参数
type ContractConfig struct {
	ExpiryDays   int
	DepositRatio float64
}

// ContractService 合同自动生成、签署与过期处理
type ContractService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	retry    RetryPolicy
	events   EventEmitter
	renderer *TemplateRenderer
	invoices *InvoiceService
	cfg      ContractConfig
	now      func() time.Time
}

func NewContractService(db *gorm.DB, logger *logrus.Logger, retry RetryPolicy, events EventEmitter, renderer *TemplateRenderer, invoices *InvoiceService, cfg ContractConfig) *ContractService {
	if logger == nil {
		logger = logrus.New()
	}
	if renderer == nil {
		renderer = NewTemplateRenderer()
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = 7
	}
	if cfg.DepositRatio <= 0 {
		cfg.DepositRatio = 0.5
	}
	return &ContractService{
		db:       db,
		logger:   logger,
		retry:    retry,
		events:   events,
		renderer: renderer,
		invoices: invoices,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GenerateFromProposal 为已接受的投标生成合同；同一 (job, freelancer) 已有未结束合同时原样返回
// 第二个返回值表示本次是否新建
func (s *ContractService) GenerateFromProposal(ctx context.Context, proposalID uint) (*models.SmartContract, bool, error) {
	ctx, span := tracer.Start(ctx, "contract.generate")
	defer span.End()
	span.SetAttributes(attribute.Int64("proposal.id", int64(proposalID)))

	var proposal models.Proposal
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Preload("Job").
			Preload("Job.Client").
			Preload("Freelancer").
			First(&proposal, proposalID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrProposalNotFound
		}
		return nil, false, fmt.Errorf("load proposal %d: %w", proposalID, err)
	}

	if proposal.Status != models.ProposalStatusAccepted {
		return nil, false, fmt.Errorf("%w: proposal %d is %s", ErrProposalNotAccepted, proposal.ID, proposal.Status)
	}

	existing, err := s.findOpenContract(ctx, proposal.JobID, proposal.FreelancerID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.logger.Infof("contract: reusing contract %d for job %d / freelancer %d", existing.ID, proposal.JobID, proposal.FreelancerID)
		return existing, false, nil
	}

	job := proposal.Job
	budget := 0.0
	switch {
	case proposal.ProposedRate != nil && *proposal.ProposedRate > 0:
		budget = *proposal.ProposedRate
	case job.Budget != nil && *job.Budget > 0:
		budget = *job.Budget
	}

	now := s.now()
	contract := &models.SmartContract{
		Title:        "Contract: " + job.Title,
		Description:  job.Description,
		JobID:        job.ID,
		FreelancerID: proposal.FreelancerID,
		ClientID:     job.ClientID,
		ProposalID:   &proposal.ID,
		Status:       models.ContractStatusPendingReview,
		Version:      1,
		Budget:       budget,
		Terms:        s.buildTerms(job, proposal, budget),
	}
	expires := now.AddDate(0, 0, s.cfg.ExpiryDays)
	contract.ExpiresAt = &expires

	bindings := map[string]interface{}{
		"title":            job.Title,
		"date":             now.Format("2006-01-02"),
		"client_name":      job.Client.Name,
		"client_email":     job.Client.Email,
		"freelancer_name":  proposal.Freelancer.Name,
		"freelancer_email": proposal.Freelancer.Email,
		"description":      job.Description,
		"budget":           formatAmount(budget),
		"timeline":         proposal.EstimatedDuration,
		"job_id":           job.ID,
		"proposal_id":      proposal.ID,
	}

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tpl, err := s.resolveTemplate(tx, TemplateTagForCategory(job.Category))
			if err != nil {
				return err
			}
			body, cacheKey := defaultContractTemplate, "contract:default"
			contract.TemplateID = nil
			if tpl != nil {
				body = tpl.Content
				cacheKey = fmt.Sprintf("contract:%d:%d", tpl.ID, tpl.UpdatedAt.UnixNano())
				contract.TemplateID = &tpl.ID
			}
			content, err := s.renderer.Render(cacheKey, body, bindings)
			if err != nil {
				return err
			}
			contract.ID = 0
			contract.Content = content
			return tx.Create(contract).Error
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("create contract for proposal %d: %w", proposalID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"contract_id": contract.ID,
		"job_id":      contract.JobID,
		"proposal_id": proposal.ID,
	}).Info("contract: auto-generated")

	if s.events != nil {
		s.events.Emit(ctx, EventContractAutoGenerated, map[string]interface{}{
			"contractId":   contract.ID,
			"jobId":        contract.JobID,
			"proposalId":   proposal.ID,
			"clientId":     contract.ClientID,
			"freelancerId": contract.FreelancerID,
		})
	}
	return contract, true, nil
}

func (s *ContractService) findOpenContract(ctx context.Context, jobID, freelancerID uint) (*models.SmartContract, error) {
	var contracts []models.SmartContract
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("job_id = ? AND freelancer_id = ? AND status IN ?", jobID, freelancerID, models.OpenContractStatuses).
			Order("id ASC").
			Limit(1).
			Find(&contracts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("lookup open contract: %w", err)
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	return &contracts[0], nil
}

// resolveTemplate 选择该标签下使用次数最多的公开启用模板并累加使用次数；无模板返回 nil
func (s *ContractService) resolveTemplate(tx *gorm.DB, tag string) (*models.ContractTemplate, error) {
	var templates []models.ContractTemplate
	if err := tx.Where("category = ? AND is_active = ? AND is_public = ?", tag, true, true).
		Order("usage_count DESC, id ASC").
		Limit(1).
		Find(&templates).Error; err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, nil
	}
	tpl := templates[0]
	if err := tx.Model(&models.ContractTemplate{}).
		Where("id = ?", tpl.ID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
		return nil, err
	}
	tpl.UsageCount++
	return &tpl, nil
}

func (s *ContractService) buildTerms(job models.Job, proposal models.Proposal, budget float64) models.ContractTerms {
	timeline := proposal.EstimatedDuration
	if timeline == "" {
		timeline = "To be agreed by both parties"
	}
	deposit := int(s.cfg.DepositRatio * 100)
	return models.ContractTerms{
		Description:          job.Description,
		Payment:              fmt.Sprintf("Total budget: $%s. %d%% deposit due on signing, balance on completion.", formatAmount(budget), deposit),
		Timeline:             timeline,
		Deliverables:         "As described in the job posting and accepted proposal.",
		IntellectualProperty: "All deliverables transfer to the client upon full payment.",
		Termination:          "Either party may terminate with written notice.",
	}
}

// SignContract 将待审合同置为 SIGNED，随后生成首期发票并发布 CONTRACT_SIGNED
// 发票生成失败只记录日志，不影响签署结果
func (s *ContractService) SignContract(ctx context.Context, contractID uint) (*models.SmartContract, error) {
	now := s.now()
	var affected int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.SmartContract{}).
			Where("id = ? AND status IN ?", contractID, []string{models.ContractStatusDraft, models.ContractStatusPendingReview}).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Updates(map[string]interface{}{
				"status":    models.ContractStatusSigned,
				"signed_at": now,
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return nil, fmt.Errorf("sign contract %d: %w", contractID, err)
	}

	contract, err := s.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: contract %d is %s", ErrContractNotSignable, contractID, contract.Status)
	}

	if s.invoices != nil {
		if _, _, err := s.invoices.GenerateForContract(ctx, contract.ID); err != nil {
			s.logger.WithField("contract_id", contract.ID).Warnf("contract: invoice auto-generation failed: %v", err)
		}
	}

	if s.events != nil {
		s.events.Emit(ctx, EventContractSigned, map[string]interface{}{
			"contractId":   contract.ID,
			"jobId":        contract.JobID,
			"clientId":     contract.ClientID,
			"freelancerId": contract.FreelancerID,
			"budget":       contract.Budget,
		})
	}
	return contract, nil
}

// GetContract 按 ID 查询合同
func (s *ContractService) GetContract(ctx context.Context, id uint) (*models.SmartContract, error) {
	var contract models.SmartContract
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&contract, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("load contract %d: %w", id, err)
	}
	return &contract, nil
}

// ExpirePendingContracts 将 expires_at 已过的 PENDING_REVIEW 合同置为 EXPIRED，每份发布一次 CONTRACT_EXPIRED
func (s *ContractService) ExpirePendingContracts(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "contract.expire_sweep")
	defer span.End()

	var due []models.SmartContract
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.ContractStatusPendingReview, now).
			Order("expires_at ASC").
			Find(&due).Error
	})
	if err != nil {
		return 0, fmt.Errorf("load expired contracts: %w", err)
	}

	expired := 0
	for _, c := range due {
		var affected int64
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			res := s.db.WithContext(ctx).Model(&models.SmartContract{}).
				Where("id = ? AND status = ?", c.ID, models.ContractStatusPendingReview).
				Update("status", models.ContractStatusExpired)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			s.logger.WithField("contract_id", c.ID).Warnf("contract: expire failed: %v", err)
			continue
		}
		if affected == 0 {
			continue
		}
		expired++
		if s.events != nil {
			s.events.Emit(ctx, EventContractExpired, map[string]interface{}{
				"contractId":   c.ID,
				"jobId":        c.JobID,
				"clientId":     c.ClientID,
				"freelancerId": c.FreelancerID,
			})
		}
	}
	span.SetAttributes(attribute.Int("contracts.expired", expired))
	if expired > 0 {
		s.logger.Infof("contract: expired %d pending contract(s)", expired)
	}
	return expired, nil
}
