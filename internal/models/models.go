package models

import (
	"time"

	"gorm.io/gorm"
)

// User 平台用户（客户或自由职业者）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Role      string         `gorm:"index" json:"role"` // CLIENT, FREELANCER, ADMIN
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Job 客户发布的项目
type Job struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ClientID    uint       `gorm:"index;not null" json:"client_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Category    string     `gorm:"index" json:"category"`
	Budget      *float64   `json:"budget,omitempty"`
	Status      string     `gorm:"index" json:"status"` // OPEN, IN_PROGRESS, COMPLETED, CANCELLED
	Deadline    *time.Time `json:"deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Client User `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

// Proposal 自由职业者对项目的投标
type Proposal struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	JobID             uint      `gorm:"index;not null" json:"job_id"`
	FreelancerID      uint      `gorm:"index;not null" json:"freelancer_id"`
	CoverLetter       string    `gorm:"type:text" json:"cover_letter"`
	ProposedRate      *float64  `json:"proposed_rate,omitempty"`
	EstimatedDuration string    `json:"estimated_duration"`
	Status            string    `gorm:"index" json:"status"` // PENDING, ACCEPTED, REJECTED, WITHDRAWN
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Job        Job  `gorm:"foreignKey:JobID" json:"job,omitempty"`
	Freelancer User `gorm:"foreignKey:FreelancerID" json:"freelancer,omitempty"`
}

const (
	JobStatusOpen       = "OPEN"
	JobStatusInProgress = "IN_PROGRESS"

	ProposalStatusPending  = "PENDING"
	ProposalStatusAccepted = "ACCEPTED"
	ProposalStatusRejected = "REJECTED"
)
