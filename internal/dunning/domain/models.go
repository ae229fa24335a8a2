// Package domain contains persistence models and the service contract for the
// collections engine: dunning cases, their action logs, and restoration.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CaseStatus represents dunning case lifecycle states. resolved and closed
// are terminal; a fresh overdue invoice opens a brand-new case.
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusPaused   CaseStatus = "paused"
	CaseStatusResolved CaseStatus = "resolved"
	CaseStatusClosed   CaseStatus = "closed"
)

// DunningCase tracks one account's progress through a policy's escalation
// steps. At most one case per account may be in {open, paused}.
// CurrentStep holds the day-offset of the last executed step.
type DunningCase struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	AccountID   snowflake.ID      `gorm:"not null;index"`
	PolicySetID snowflake.ID      `gorm:"not null;index"`
	Status      CaseStatus        `gorm:"type:text;not null;default:'open'"`
	CurrentStep *int              `gorm:""`
	Notes       *string           `gorm:"type:text"`
	StartedAt   time.Time         `gorm:"not null"`
	ResolvedAt  *time.Time        `gorm:""`
	ClosedAt    *time.Time        `gorm:""`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DunningCase) TableName() string { return "dunning_cases" }

// Active reports whether the case is still being worked.
func (c DunningCase) Active() bool {
	return c.Status == CaseStatusOpen || c.Status == CaseStatusPaused
}

// DunningActionLog is the append-only record of every action taken against a
// case. Rows are never updated after creation.
type DunningActionLog struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	CaseID          snowflake.ID      `gorm:"not null;index"`
	InvoiceID       *snowflake.ID     `gorm:"index"`
	StepDaysOverdue *int              `gorm:""`
	Action          string            `gorm:"type:text;not null"`
	Outcome         string            `gorm:"type:text;not null"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DunningActionLog) TableName() string { return "dunning_action_logs" }

// Action log kinds for non-step transitions.
const (
	LogActionOpened   = "opened"
	LogActionPaused   = "paused"
	LogActionResumed  = "resumed"
	LogActionClosed   = "closed"
	LogActionResolved = "resolved"
	LogActionNote     = "note"
)

// Executor outcomes.
const (
	OutcomeNotified                = "notified"
	OutcomeSuspended               = "suspended"
	OutcomeAlreadySuspended        = "already_suspended"
	OutcomeThrottled               = "throttled"
	OutcomeThrottleFailed          = "throttle_failed"
	OutcomeNoCredentialsToThrottle = "no_credentials_to_throttle"
	OutcomeRejected                = "rejected"
)
