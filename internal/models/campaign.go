package models

import "time"

// EmailCampaign statuses.
const (
	CampaignStatusScheduled = "SCHEDULED"
	CampaignStatusRunning   = "RUNNING"
	CampaignStatusCompleted = "COMPLETED"
	CampaignStatusCancelled = "CANCELLED"
)

// EmailLog statuses.
const (
	EmailStatusSent   = "SENT"
	EmailStatusFailed = "FAILED"
)

// EmailCampaign 群发邮件任务
type EmailCampaign struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index" json:"user_id"`
	Name        string     `gorm:"not null" json:"name"`
	Subject     string     `gorm:"not null" json:"subject"`
	Content     string     `gorm:"type:text" json:"content"`
	FromAddress string     `json:"from_address,omitempty"`
	Recipients  []string   `gorm:"type:text;serializer:json" json:"recipients"`
	Status      string     `gorm:"size:16;index" json:"status"`
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	SentCount   int64      `gorm:"not null;default:0" json:"sent_count"`
	BounceCount int64      `gorm:"not null;default:0" json:"bounce_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EmailLog 单个收件人的投递记录
type EmailLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CampaignID uint      `gorm:"index" json:"campaign_id"`
	Recipient  string    `gorm:"not null" json:"recipient"`
	Status     string    `gorm:"size:16;index" json:"status"`
	MessageID  string    `json:"message_id,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
