// Package domain contains persistence models for the service catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Offer is a sellable service plan. PolicySetID selects the dunning policy
// applied to overdue subscribers; RadiusProfileID is the network profile
// granted while the subscription is in good standing.
type Offer struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	Name            string        `gorm:"type:text;not null"`
	PolicySetID     *snowflake.ID `gorm:"index"`
	RadiusProfileID *snowflake.ID `gorm:"index"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Offer) TableName() string { return "offers" }

// OfferVersion is an immutable revision of an offer. A version may override
// the offer's policy set and RADIUS profile; nil means inherit.
type OfferVersion struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	OfferID         snowflake.ID  `gorm:"not null;index"`
	Version         int           `gorm:"not null"`
	PolicySetID     *snowflake.ID `gorm:"index"`
	RadiusProfileID *snowflake.ID `gorm:"index"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OfferVersion) TableName() string { return "offer_versions" }
