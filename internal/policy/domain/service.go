package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ResolvedPolicy is a policy set with its steps ordered by ascending
// days-overdue.
type ResolvedPolicy struct {
	Set   PolicySet
	Steps []PolicyDunningStep
}

// StepFor returns the step with the greatest days-overdue threshold not
// exceeding the given overdue days, or nil when no step has been reached yet.
func (p ResolvedPolicy) StepFor(overdueDays int) *PolicyDunningStep {
	var selected *PolicyDunningStep
	for i := range p.Steps {
		if p.Steps[i].DaysOverdue <= overdueDays {
			selected = &p.Steps[i]
		}
	}
	return selected
}

// Resolver selects the policy set governing an account, by inspecting its
// subscriptions. Accounts without a qualifying subscription or without a
// referenced policy set resolve to ErrNoPolicy and are skipped from dunning.
type Resolver interface {
	ResolveForAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*ResolvedPolicy, error)
}

var (
	ErrNoPolicy          = errors.New("no_policy_assigned")
	ErrPolicySetNotFound = errors.New("policy_set_not_found")
)
