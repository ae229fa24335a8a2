// Package domain contains the dynamic settings model and resolver contract.
package domain

import (
	"context"
	"time"
)

// Setting is one keyed override, scoped to a functional domain
// ("collections", "notifications", ...).
type Setting struct {
	Domain    string    `gorm:"primaryKey;type:text;column:domain"`
	Key       string    `gorm:"primaryKey;type:text;column:key"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Setting) TableName() string { return "settings" }

// Resolver looks up an explicit override for a domain-scoped key. Callers
// layer their own defaults behind it: explicit override, else domain default,
// else hard constant.
type Resolver interface {
	Resolve(ctx context.Context, domain, key string) (string, bool)
}
