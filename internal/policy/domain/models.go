// Package domain contains persistence models for dunning policies.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DunningAction is the escalation applied when a step's threshold is reached.
type DunningAction string

const (
	ActionNotify   DunningAction = "notify"
	ActionThrottle DunningAction = "throttle"
	ActionSuspend  DunningAction = "suspend"
	ActionReject   DunningAction = "reject"
)

// PolicySet is a named, ordered escalation ladder.
type PolicySet struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PolicySet) TableName() string { return "policy_sets" }

// PolicyDunningStep is one rung of the ladder. DaysOverdue values are unique
// and monotonic within a set; steps are immutable once referenced by an
// executed action.
type PolicyDunningStep struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	PolicySetID snowflake.ID  `gorm:"not null;index"`
	DaysOverdue int           `gorm:"not null"`
	Action      DunningAction `gorm:"type:text;not null"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PolicyDunningStep) TableName() string { return "policy_dunning_steps" }
