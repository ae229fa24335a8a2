// Package domain contains the domain-event log consumed by audit and webhook
// subsystems.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event names emitted by the collections engine.
const (
	EventSubscriberSuspended   = "subscriber.suspended"
	EventSubscriberReactivated = "subscriber.reactivated"
	EventSubscriberDeactivated = "subscriber.deactivated"
	EventSubscriberThrottled   = "subscriber.throttled"
	EventSubscriptionSuspended = "subscription.suspended"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventDunningStarted        = "dunning.started"
	EventDunningActionExecuted = "dunning.action_executed"
	EventDunningResolved       = "dunning.resolved"
	EventDunningPaused         = "dunning.paused"
	EventDunningResumed        = "dunning.resumed"
	EventDunningClosed         = "dunning.closed"
)

// DomainEvent is one append-only event row.
type DomainEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	Name       string            `gorm:"type:text;not null;index"`
	AccountID  *snowflake.ID     `gorm:"index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DomainEvent) TableName() string { return "domain_events" }

// Event is the emit payload.
type Event struct {
	Name       string
	AccountID  *snowflake.ID
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Emitter records fire-and-forget domain events. Callers may ignore the
// returned error; a lost event never blocks a sweep.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event Event) error
}
