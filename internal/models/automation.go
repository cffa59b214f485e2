package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Rule trigger kinds.
const (
	TriggerEventBased = "EVENT_BASED"
	TriggerScheduled  = "SCHEDULED"
)

// Execution outcomes recorded on AutomationLog.
const (
	LogStatusSuccess = "SUCCESS"
	LogStatusFailed  = "FAILED"
)

// ErrAuditLogImmutable is returned when something tries to rewrite an AutomationLog row.
var ErrAuditLogImmutable = errors.New("automation log is append-only")

// AutomationRule 自动化规则定义
// Conditions/Actions 以 JSON 文本存储，加载时解析为强类型结构
type AutomationRule struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	Name         string     `gorm:"not null" json:"name"`
	Trigger      string     `gorm:"column:trigger_type;size:16;index;not null" json:"trigger"` // EVENT_BASED, SCHEDULED
	Conditions   string     `gorm:"type:text" json:"conditions"`
	Actions      string     `gorm:"type:text" json:"actions"`
	IsActive     bool       `gorm:"index" json:"is_active"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `gorm:"index" json:"next_run,omitempty"`
	RunCount     int64      `gorm:"not null;default:0" json:"run_count"`
	SuccessCount int64      `gorm:"not null;default:0" json:"success_count"`
	ErrorCount   int64      `gorm:"not null;default:0" json:"error_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AutomationLog 每次执行尝试的审计记录（只追加）
type AutomationLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExecutionID string    `gorm:"size:36;uniqueIndex" json:"execution_id"`
	RuleID      *uint     `gorm:"index" json:"rule_id,omitempty"`
	UserID      uint      `gorm:"index" json:"user_id"`
	Source      string    `gorm:"size:16" json:"source"` // event, schedule, manual, adhoc
	EventType   string    `gorm:"size:64;index" json:"event_type,omitempty"`
	Status      string    `gorm:"size:16;index" json:"status"`
	Message     string    `gorm:"type:text" json:"message"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	Payload     string    `gorm:"type:text" json:"payload,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// BeforeUpdate rejects every update so audit rows stay as written.
func (l *AutomationLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}
