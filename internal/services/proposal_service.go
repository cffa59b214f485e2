package services

import (
	"context"
	"errors"
	"fmt"

	"freelancehub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProposalService 投标状态流转；接受投标时联动合同生成
type ProposalService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	retry     RetryPolicy
	events    EventEmitter
	contracts *ContractService
}

func NewProposalService(db *gorm.DB, logger *logrus.Logger, retry RetryPolicy, events EventEmitter, contracts *ContractService) *ProposalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProposalService{db: db, logger: logger, retry: retry, events: events, contracts: contracts}
}

// AcceptResult 接受投标的结果；Contract 为空表示自动生成失败
type AcceptResult struct {
	Proposal *models.Proposal      `json:"proposal"`
	Contract *models.SmartContract `json:"contract,omitempty"`
}

// AcceptProposal 接受投标并将职位置为进行中
// 合同自动生成失败只记录日志，接受操作本身仍然成功
func (s *ProposalService) AcceptProposal(ctx context.Context, proposalID uint) (*AcceptResult, error) {
	var proposal models.Proposal
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Preload("Job").First(&proposal, proposalID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("load proposal %d: %w", proposalID, err)
	}
	if proposal.Status == models.ProposalStatusRejected {
		return nil, fmt.Errorf("proposal %d was rejected", proposalID)
	}

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Proposal{}).Where("id = ?", proposal.ID).
				Update("status", models.ProposalStatusAccepted).Error; err != nil {
				return err
			}
			return tx.Model(&models.Job{}).Where("id = ?", proposal.JobID).
				Update("status", models.JobStatusInProgress).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("accept proposal %d: %w", proposalID, err)
	}
	proposal.Status = models.ProposalStatusAccepted
	proposal.Job.Status = models.JobStatusInProgress

	result := &AcceptResult{Proposal: &proposal}
	if s.contracts != nil {
		contract, _, err := s.contracts.GenerateFromProposal(ctx, proposal.ID)
		if err != nil {
			s.logger.WithField("proposal_id", proposal.ID).Errorf("proposal: contract auto-generation failed: %v", err)
		} else {
			result.Contract = contract
		}
	}

	if s.events != nil {
		s.events.Emit(ctx, EventProposalAccepted, map[string]interface{}{
			"proposalId":   proposal.ID,
			"jobId":        proposal.JobID,
			"freelancerId": proposal.FreelancerID,
			"clientId":     proposal.Job.ClientID,
		})
	}
	return result, nil
}
