package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	invoicedomain "github.com/wirebill/wirebill/internal/invoice/domain"
	obsmetrics "github.com/wirebill/wirebill/internal/observability/metrics"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type workInvoice struct {
	ID        snowflake.ID
	AccountID snowflake.ID
	Status    invoicedomain.InvoiceStatus
	Balance   int64
	DueAt     time.Time
}

type workAccount struct {
	ID              snowflake.ID
	Status          accountdomain.AccountStatus
	Email           string
	GracePeriodDays *int
}

// Run implements domain.Service. One sweep commits once; per-account
// failures are logged and counted, never fatal to the run.
func (s *Service) Run(ctx context.Context, req dunningdomain.RunRequest) (dunningdomain.RunResult, error) {
	now := s.clock.Now()
	if req.At != nil {
		now = req.At.UTC()
	}

	var res dunningdomain.RunResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.runSweep(ctx, tx, now, req.DryRun, &res)
	})
	if err != nil {
		return dunningdomain.RunResult{}, err
	}

	s.log.Info("dunning sweep finished",
		zap.Time("run_at", now),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("accounts_scanned", res.AccountsScanned),
		zap.Int("cases_created", res.CasesCreated),
		zap.Int("actions_executed", res.ActionsExecuted),
		zap.Int("cases_resolved", res.CasesResolved),
		zap.Int("accounts_skipped", res.AccountsSkipped),
	)
	return res, nil
}

func (s *Service) runSweep(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, res *dunningdomain.RunResult) error {
	if !dryRun {
		if err := s.markInvoicesOverdue(ctx, tx, now); err != nil {
			return err
		}
	}

	invoices, err := s.fetchDueInvoices(ctx, tx, now)
	if err != nil {
		return err
	}

	byAccount := make(map[snowflake.ID][]workInvoice)
	accountOrder := make([]snowflake.ID, 0)
	for _, inv := range invoices {
		if _, seen := byAccount[inv.AccountID]; !seen {
			accountOrder = append(accountOrder, inv.AccountID)
		}
		byAccount[inv.AccountID] = append(byAccount[inv.AccountID], inv)
	}

	overdueSet := make(map[snowflake.ID]bool, len(accountOrder))
	for _, accountID := range accountOrder {
		res.AccountsScanned++
		// The account stays in the overdue set even when processing fails,
		// so a soft failure never resolves its case.
		overdueSet[accountID] = true
		if err := s.processOverdueAccount(ctx, tx, now, dryRun, accountID, byAccount[accountID], res); err != nil {
			s.log.Warn("dunning account processing failed",
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			res.AccountsSkipped++
		}
	}

	return s.resolveClearedCases(ctx, tx, now, dryRun, overdueSet, res)
}

func (s *Service) processOverdueAccount(
	ctx context.Context,
	tx *gorm.DB,
	now time.Time,
	dryRun bool,
	accountID snowflake.ID,
	invoices []workInvoice,
	res *dunningdomain.RunResult,
) error {
	postpaid, err := s.hasPostpaidSubscription(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if !postpaid {
		// Prepaid accounts are enforced by the prepaid engine instead.
		res.AccountsSkipped++
		return nil
	}

	policy, err := s.resolver.ResolveForAccount(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, policydomain.ErrNoPolicy) {
			res.AccountsSkipped++
			return nil
		}
		return err
	}

	account, err := s.loadAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}

	grace := 0
	if account.GracePeriodDays != nil {
		grace = *account.GracePeriodDays
	}
	maxOverdue := 0
	for _, inv := range invoices {
		if days := overdueDays(inv.DueAt, now, grace); days > maxOverdue {
			maxOverdue = days
		}
	}
	if maxOverdue <= 0 {
		// Fully inside the grace window.
		res.AccountsSkipped++
		return nil
	}

	dc, err := s.findActiveCase(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if dc == nil {
		dc, err = s.openCase(ctx, tx, now, dryRun, accountID, policy.Set.ID)
		if err != nil {
			return err
		}
		res.CasesCreated++
	} else if dc.PolicySetID != policy.Set.ID {
		// Policy is refreshed on every run, existing cases included.
		dc.PolicySetID = policy.Set.ID
		if !dryRun {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE dunning_cases SET policy_set_id = ?, updated_at = ? WHERE id = ?`,
				policy.Set.ID,
				now,
				dc.ID,
			).Error; err != nil {
				return err
			}
		}
	}

	if dc.Status == dunningdomain.CaseStatusPaused {
		// A paused case still blocks a duplicate, but escalation is held.
		return nil
	}

	step := policy.StepFor(maxOverdue)
	if step == nil {
		return nil
	}
	if dc.CurrentStep != nil && *dc.CurrentStep >= step.DaysOverdue {
		// Step already applied within this case.
		return nil
	}

	oldest := invoices[0]
	result, err := s.executeAction(ctx, tx, now, dryRun, account, *step)
	if err != nil {
		return err
	}

	if !dryRun {
		stepOffset := step.DaysOverdue
		if err := s.appendActionLog(ctx, tx, actionLogEntry{
			CaseID:          dc.ID,
			InvoiceID:       &oldest.ID,
			StepDaysOverdue: &stepOffset,
			Action:          string(step.Action),
			Outcome:         result.outcome,
			Metadata:        result.metadata,
		}); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE dunning_cases SET current_step = ?, updated_at = ? WHERE id = ?`,
			step.DaysOverdue,
			now,
			dc.ID,
		).Error; err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventDunningActionExecuted,
			AccountID:  &accountID,
			TargetType: "dunning_case",
			TargetID:   dc.ID.String(),
			Metadata: map[string]any{
				"action":       string(step.Action),
				"outcome":      result.outcome,
				"step_offset":  step.DaysOverdue,
				"overdue_days": maxOverdue,
			},
		})
		obsmetrics.Collections().IncActionExecuted(string(step.Action), result.outcome)
	}
	res.ActionsExecuted++
	return nil
}

func (s *Service) markInvoicesOverdue(ctx context.Context, tx *gorm.DB, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE deleted = ? AND balance > 0 AND due_at <= ? AND status IN (?, ?)`,
		invoicedomain.InvoiceStatusOverdue,
		now,
		false,
		now,
		invoicedomain.InvoiceStatusIssued,
		invoicedomain.InvoiceStatusPartiallyPaid,
	).Error
}

func (s *Service) fetchDueInvoices(ctx context.Context, tx *gorm.DB, now time.Time) ([]workInvoice, error) {
	var invoices []workInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, account_id, status, balance, due_at
		 FROM invoices
		 WHERE deleted = ? AND balance > 0 AND due_at <= ? AND status IN (?, ?, ?)
		 ORDER BY account_id, due_at ASC, id ASC`,
		false,
		now,
		invoicedomain.InvoiceStatusIssued,
		invoicedomain.InvoiceStatusPartiallyPaid,
		invoicedomain.InvoiceStatusOverdue,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Service) hasPostpaidSubscription(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE account_id = ? AND billing_mode = ?`,
		accountID,
		subscriptiondomain.BillingModePostpaid,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) loadAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (workAccount, error) {
	var account workAccount
	err := tx.WithContext(ctx).Raw(
		`SELECT id, status, email, grace_period_days FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&account).Error
	if err != nil {
		return workAccount{}, err
	}
	if account.ID == 0 {
		return workAccount{}, accountdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) findActiveCase(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*dunningdomain.DunningCase, error) {
	var dc dunningdomain.DunningCase
	err := tx.WithContext(ctx).Raw(
		`SELECT id, account_id, policy_set_id, status, current_step, started_at
		 FROM dunning_cases
		 WHERE account_id = ? AND status IN (?, ?)
		 LIMIT 1`,
		accountID,
		dunningdomain.CaseStatusOpen,
		dunningdomain.CaseStatusPaused,
	).Scan(&dc).Error
	if err != nil {
		return nil, err
	}
	if dc.ID == 0 {
		return nil, nil
	}
	return &dc, nil
}

func (s *Service) openCase(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, accountID, policySetID snowflake.ID) (*dunningdomain.DunningCase, error) {
	dc := &dunningdomain.DunningCase{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		PolicySetID: policySetID,
		Status:      dunningdomain.CaseStatusOpen,
		StartedAt:   now,
	}
	if dryRun {
		return dc, nil
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO dunning_cases (
			id, account_id, policy_set_id, status, current_step, started_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dc.ID,
		dc.AccountID,
		dc.PolicySetID,
		dc.Status,
		nil,
		now,
		now,
		now,
	).Error; err != nil {
		return nil, err
	}

	if err := s.appendActionLog(ctx, tx, actionLogEntry{
		CaseID:  dc.ID,
		Action:  dunningdomain.LogActionOpened,
		Outcome: "opened",
	}); err != nil {
		return nil, err
	}
	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventDunningStarted,
		AccountID:  &accountID,
		TargetType: "dunning_case",
		TargetID:   dc.ID.String(),
	})
	return dc, nil
}

func (s *Service) resolveClearedCases(
	ctx context.Context,
	tx *gorm.DB,
	now time.Time,
	dryRun bool,
	overdueSet map[snowflake.ID]bool,
	res *dunningdomain.RunResult,
) error {
	var cases []dunningdomain.DunningCase
	err := tx.WithContext(ctx).Raw(
		`SELECT id, account_id, policy_set_id, status, current_step, started_at
		 FROM dunning_cases
		 WHERE status IN (?, ?)
		 ORDER BY id`,
		dunningdomain.CaseStatusOpen,
		dunningdomain.CaseStatusPaused,
	).Scan(&cases).Error
	if err != nil {
		return err
	}

	for _, dc := range cases {
		if overdueSet[dc.AccountID] {
			continue
		}
		if err := s.restoreAccountTx(ctx, tx, now, dryRun, dc.AccountID); err != nil {
			s.log.Warn("dunning case auto-resolve failed",
				zap.String("case_id", dc.ID.String()),
				zap.String("account_id", dc.AccountID.String()),
				zap.Error(err),
			)
			continue
		}
		if !dryRun {
			obsmetrics.Collections().IncCaseResolved()
		}
		res.CasesResolved++
	}
	return nil
}
