// Package domain contains persistence models for network access credentials.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CredentialStatus represents lifecycle states for an access credential.
type CredentialStatus string

const (
	CredentialStatusActive   CredentialStatus = "active"
	CredentialStatusDisabled CredentialStatus = "disabled"
)

// AccessCredential is a RADIUS login under an account. RadiusProfileID is the
// currently assigned bandwidth profile; nil means the NAS default applies.
type AccessCredential struct {
	ID              snowflake.ID     `gorm:"primaryKey"`
	AccountID       snowflake.ID     `gorm:"not null;index"`
	Username        string           `gorm:"type:text;not null;uniqueIndex"`
	Status          CredentialStatus `gorm:"type:text;not null;default:'active'"`
	RadiusProfileID *snowflake.ID    `gorm:"index"`
	CreatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AccessCredential) TableName() string { return "access_credentials" }

// RadiusProfile names a bandwidth/QoS profile provisioned on the NAS fleet.
type RadiusProfile struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	IsActive  bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RadiusProfile) TableName() string { return "radius_profiles" }
