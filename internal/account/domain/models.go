// Package domain contains persistence models for subscriber accounts.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AccountStatus represents lifecycle states for a subscriber account.
type AccountStatus string

const (
	AccountStatusActive     AccountStatus = "active"
	AccountStatusSuspended  AccountStatus = "suspended"
	AccountStatusDelinquent AccountStatus = "delinquent"
	AccountStatusCanceled   AccountStatus = "canceled"
)

// Account is a billable subscriber. CreditBalance and MinBalance are in cents.
// The two prepaid timestamps are owned by the collections engine and cleared
// once balance recovers above threshold.
type Account struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	Name                  string            `gorm:"type:text;not null"`
	Email                 string            `gorm:"type:text;not null"`
	Phone                 *string           `gorm:"type:text"`
	Status                AccountStatus     `gorm:"type:text;not null;default:'active'"`
	GracePeriodDays       *int              `gorm:""`
	MinBalance            *int64            `gorm:""`
	CreditBalance         int64             `gorm:"not null;default:0"`
	PrepaidLowBalanceAt   *time.Time        `gorm:""`
	PrepaidDeactivationAt *time.Time        `gorm:""`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

var (
	ErrAccountNotFound = errors.New("account_not_found")
)
