// Package domain defines the prepaid enforcement contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// MarkerDomain is the run_markers namespace used by the prepaid engine.
const MarkerDomain = "prepaid_enforcement"

// RunMarker records that a scoped job already ran on a given local date.
// RunDate is the local calendar date in 2006-01-02 form.
type RunMarker struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Domain    string       `gorm:"type:text;not null;uniqueIndex:idx_run_markers_domain_date"`
	RunDate   string       `gorm:"type:text;not null;uniqueIndex:idx_run_markers_domain_date"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RunMarker) TableName() string { return "run_markers" }

// RunRequest triggers one prepaid enforcement pass. At overrides the run
// instant; DryRun suppresses writes; Force bypasses the calendar gates and
// the once-per-day marker.
type RunRequest struct {
	At     *time.Time
	DryRun bool
	Force  bool
}

// RunResult carries the pass counters. When the calendar gates blocked the
// pass, Skipped is set and SkipReason names the gate.
type RunResult struct {
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	AccountsScanned     int `json:"accounts_scanned"`
	AccountsWarned      int `json:"accounts_warned"`
	AccountsSuspended   int `json:"accounts_suspended"`
	AccountsDeactivated int `json:"accounts_deactivated"`
	AccountsSkipped     int `json:"accounts_skipped"`
}

//go:generate mockgen -source=models.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}
