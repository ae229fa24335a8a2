// Package domain contains persistence models for service subscriptions.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
)

// BillingMode distinguishes invoice-driven from balance-driven subscriptions.
type BillingMode string

const (
	BillingModePostpaid BillingMode = "postpaid"
	BillingModePrepaid  BillingMode = "prepaid"
)

// Subscription binds an account to a catalog offer version.
type Subscription struct {
	ID             snowflake.ID       `gorm:"primaryKey"`
	AccountID      snowflake.ID       `gorm:"not null;index"`
	OfferID        snowflake.ID       `gorm:"not null;index"`
	OfferVersionID *snowflake.ID      `gorm:"index"`
	Status         SubscriptionStatus `gorm:"type:text;not null"`
	BillingMode    BillingMode        `gorm:"type:text;not null"`
	ExpiresAt      *time.Time         `gorm:""`
	CreatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Expired reports whether the subscription has lapsed at the given instant.
func (s Subscription) Expired(at time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(at)
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
