// Package domain contains the notification outbox models and sink contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationStatus tracks outbox delivery state. Delivery itself happens in
// an external transport worker; the engine only enqueues.
type NotificationStatus string

const (
	NotificationStatusQueued NotificationStatus = "queued"
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)

// Message kinds recognized by the collections engine. The kind drives
// dedup cooldowns and template selection downstream.
const (
	KindDunningNotice      = "dunning_notice"
	KindSuspensionNotice   = "suspension_notice"
	KindThrottleNotice     = "throttle_notice"
	KindRejectionNotice    = "rejection_notice"
	KindLowBalanceWarning  = "low_balance_warning"
	KindDeactivationNotice = "deactivation_notice"
)

// Notification is one outbox row. Kind labels the business purpose
// (dunning_notice, low_balance_warning, ...) and drives dedup cooldowns.
type Notification struct {
	ID        snowflake.ID       `gorm:"primaryKey"`
	AccountID snowflake.ID       `gorm:"not null;index"`
	Kind      string             `gorm:"type:text;not null;index"`
	Channel   Channel            `gorm:"type:text;not null"`
	Recipient string             `gorm:"type:text;not null"`
	Subject   string             `gorm:"type:text;not null"`
	Body      string             `gorm:"type:text"`
	Status    NotificationStatus `gorm:"type:text;not null;default:'queued'"`
	Metadata  datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

// Message is what callers hand to the sink.
type Message struct {
	AccountID snowflake.ID
	Kind      string
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
	Metadata  map[string]any
}

// Sink enqueues outbound messages. Errors are returned (never swallowed) so
// call sites can log-and-continue; the engine does not wait for delivery.
type Sink interface {
	Enqueue(ctx context.Context, tx *gorm.DB, msg Message) error
	// EnqueuedSince reports whether a message of the given kind was enqueued
	// for the account at or after the cutoff. Used for warning cooldowns.
	EnqueuedSince(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, kind string, cutoff time.Time) (bool, error)
}

var (
	ErrMissingRecipient = errors.New("missing_recipient")
)
