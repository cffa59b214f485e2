package models

import "time"

// SmartContract statuses.
const (
	ContractStatusDraft         = "DRAFT"
	ContractStatusPendingReview = "PENDING_REVIEW"
	ContractStatusSigned        = "SIGNED"
	ContractStatusActive        = "ACTIVE"
	ContractStatusCompleted     = "COMPLETED"
	ContractStatusExpired       = "EXPIRED"
	ContractStatusCancelled     = "CANCELLED"
)

// OpenContractStatuses are the states that block a second contract for the same job and freelancer.
var OpenContractStatuses = []string{
	ContractStatusDraft,
	ContractStatusPendingReview,
	ContractStatusSigned,
	ContractStatusActive,
}

// ContractTerms 合同结构化条款
type ContractTerms struct {
	Description          string `json:"description"`
	Payment              string `json:"payment"`
	Timeline             string `json:"timeline"`
	Deliverables         string `json:"deliverables"`
	IntellectualProperty string `json:"intellectual_property"`
	Termination          string `json:"termination"`
}

// SmartContract 自动生成的服务合同
type SmartContract struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Title        string        `gorm:"not null" json:"title"`
	Description  string        `gorm:"type:text" json:"description"`
	Content      string        `gorm:"type:text" json:"content"`
	JobID        uint          `gorm:"index:idx_contract_party" json:"job_id"`
	FreelancerID uint          `gorm:"index:idx_contract_party" json:"freelancer_id"`
	ClientID     uint          `gorm:"index" json:"client_id"`
	ProposalID   *uint         `gorm:"index" json:"proposal_id,omitempty"`
	TemplateID   *uint         `json:"template_id,omitempty"`
	Status       string        `gorm:"size:32;index" json:"status"`
	Version      int           `gorm:"not null;default:1" json:"version"`
	Terms        ContractTerms `gorm:"type:text;serializer:json" json:"terms"`
	Budget       float64       `json:"budget"`
	ExpiresAt    *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	SignedAt     *time.Time    `json:"signed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ContractTemplate 可复用的合同模板
type ContractTemplate struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	Category   string    `gorm:"size:32;index" json:"category"`
	Content    string    `gorm:"type:text" json:"content"`
	IsActive   bool      `gorm:"index" json:"is_active"`
	IsPublic   bool      `json:"is_public"`
	UsageCount int64     `gorm:"not null;default:0" json:"usage_count"`
	CreatedBy  uint      `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Invoice statuses.
const (
	InvoiceStatusDraft = "DRAFT"
	InvoiceStatusSent  = "SENT"
	InvoiceStatusPaid  = "PAID"
)

// InvoiceLineItem 发票明细行
type InvoiceLineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Rate        float64 `json:"rate"`
	Amount      float64 `json:"amount"`
}

// Invoice 由已签署合同生成的账单
type Invoice struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	InvoiceNumber string            `gorm:"size:32;uniqueIndex" json:"invoice_number"`
	ContractID    uint              `gorm:"index" json:"contract_id"`
	ClientID      uint              `gorm:"index" json:"client_id"`
	FreelancerID  uint              `gorm:"index" json:"freelancer_id"`
	Items         []InvoiceLineItem `gorm:"type:text;serializer:json" json:"items"`
	Subtotal      float64           `json:"subtotal"`
	Tax           float64           `json:"tax"`
	Total         float64           `json:"total"`
	DueDate       time.Time         `json:"due_date"`
	Status        string            `gorm:"size:16;index" json:"status"`
	Notes         string            `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
