package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	"github.com/wirebill/wirebill/internal/clock"
	"github.com/wirebill/wirebill/internal/config"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	invoicedomain "github.com/wirebill/wirebill/internal/invoice/domain"
	notificationdomain "github.com/wirebill/wirebill/internal/notification/domain"
	obsmetrics "github.com/wirebill/wirebill/internal/observability/metrics"
	prepaiddomain "github.com/wirebill/wirebill/internal/prepaid/domain"
	"github.com/wirebill/wirebill/internal/settings"
	settingsdomain "github.com/wirebill/wirebill/internal/settings/domain"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"github.com/wirebill/wirebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const settingsDomain = "prepaid"

// warningCooldown is how long a low-balance warning suppresses a repeat for
// the same account.
const warningCooldown = 24 * time.Hour

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	sink     notificationdomain.Sink
	emitter  eventdomain.Emitter
	settings settingsdomain.Resolver
	cfg      *config.CollectionsConfigHolder
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Sink     notificationdomain.Sink
	Emitter  eventdomain.Emitter
	Settings settingsdomain.Resolver
	Cfg      *config.CollectionsConfigHolder
}

func NewService(p Params) prepaiddomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("prepaid.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		sink:     p.Sink,
		emitter:  p.Emitter,
		settings: p.Settings,
		cfg:      p.Cfg,
	}
}

type prepaidAccount struct {
	ID                    snowflake.ID
	Status                accountdomain.AccountStatus
	Email                 string
	GracePeriodDays       *int
	MinBalance            *int64
	CreditBalance         int64
	PrepaidLowBalanceAt   *time.Time
	PrepaidDeactivationAt *time.Time
}

// Run implements domain.Service. A pass commits once; per-account failures
// are logged and counted, never fatal.
func (s *Service) Run(ctx context.Context, req prepaiddomain.RunRequest) (prepaiddomain.RunResult, error) {
	now := s.clock.Now()
	if req.At != nil {
		now = req.At.UTC()
	}

	local, err := s.localTime(ctx, now)
	if err != nil {
		return prepaiddomain.RunResult{}, err
	}
	if !req.Force {
		if reason := s.calendarGate(local); reason != "" {
			s.log.Info("prepaid pass gated", zap.String("reason", reason), zap.Time("local", local))
			return prepaiddomain.RunResult{Skipped: true, SkipReason: reason}, nil
		}
	}

	var res prepaiddomain.RunResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !req.Force {
			ran, err := s.alreadyRan(ctx, tx, local)
			if err != nil {
				return err
			}
			if ran {
				res.Skipped = true
				res.SkipReason = "already_ran_today"
				return nil
			}
		}
		if err := s.runPass(ctx, tx, now, req.DryRun, &res); err != nil {
			return err
		}
		// Forced runs skip the marker so they never collide with the
		// scheduled daily pass.
		if !req.DryRun && !req.Force {
			return s.writeMarker(ctx, tx, now, local)
		}
		return nil
	})
	if err != nil {
		return prepaiddomain.RunResult{}, err
	}

	if !res.Skipped {
		s.log.Info("prepaid pass finished",
			zap.Time("run_at", now),
			zap.Bool("dry_run", req.DryRun),
			zap.Int("accounts_scanned", res.AccountsScanned),
			zap.Int("accounts_warned", res.AccountsWarned),
			zap.Int("accounts_suspended", res.AccountsSuspended),
			zap.Int("accounts_deactivated", res.AccountsDeactivated),
			zap.Int("accounts_skipped", res.AccountsSkipped),
		)
	}
	return res, nil
}

// localTime maps the run instant into the operator's timezone. Enforcement
// calendars (weekends, holidays, the daily marker) are local, not UTC.
func (s *Service) localTime(ctx context.Context, now time.Time) (time.Time, error) {
	tz := settings.String(ctx, s.settings, settingsDomain, "timezone", s.cfg.Get().Timezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return now.In(loc), nil
}

// calendarGate returns the reason enforcement is blocked right now, or ""
// when the pass may proceed.
func (s *Service) calendarGate(local time.Time) string {
	cfg := s.cfg.Get()

	if cfg.BlockingTime != "" {
		if gate, err := time.Parse("15:04", cfg.BlockingTime); err == nil {
			minutes := local.Hour()*60 + local.Minute()
			gateMinutes := gate.Hour()*60 + gate.Minute()
			if minutes < gateMinutes {
				return "before_blocking_time"
			}
		}
	}
	if cfg.SkipWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return "weekend"
		}
	}
	day := local.Format("2006-01-02")
	for _, holiday := range cfg.Holidays {
		if holiday == day {
			return "holiday"
		}
	}
	return ""
}

func (s *Service) alreadyRan(ctx context.Context, tx *gorm.DB, local time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM run_markers WHERE domain = ? AND run_date = ?`,
		prepaiddomain.MarkerDomain,
		local.Format("2006-01-02"),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) writeMarker(ctx context.Context, tx *gorm.DB, now, local time.Time) error {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO run_markers (id, domain, run_date, created_at) VALUES (?, ?, ?, ?)`,
		s.genID.Generate(),
		prepaiddomain.MarkerDomain,
		local.Format("2006-01-02"),
		now,
	).Error
	// A concurrent replica may have marked the day first.
	if db.IsDuplicateKeyErr(err) {
		return nil
	}
	return err
}

func (s *Service) runPass(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, res *prepaiddomain.RunResult) error {
	accounts, err := s.fetchPrepaidAccounts(ctx, tx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		res.AccountsScanned++
		if err := s.enforceAccount(ctx, tx, now, dryRun, account, res); err != nil {
			s.log.Warn("prepaid enforcement failed for account",
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
			res.AccountsSkipped++
		}
	}
	return nil
}

// fetchPrepaidAccounts selects non-canceled accounts whose subscriptions are
// all prepaid. Mixed accounts belong to the dunning workflow.
func (s *Service) fetchPrepaidAccounts(ctx context.Context, tx *gorm.DB) ([]prepaidAccount, error) {
	var accounts []prepaidAccount
	err := tx.WithContext(ctx).Raw(
		`SELECT id, status, email, grace_period_days, min_balance, credit_balance,
		        prepaid_low_balance_at, prepaid_deactivation_at
		 FROM accounts a
		 WHERE a.status != ?
		   AND EXISTS (
		     SELECT 1 FROM subscriptions s
		     WHERE s.account_id = a.id AND s.billing_mode = ?
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM subscriptions s
		     WHERE s.account_id = a.id AND s.billing_mode = ?
		   )
		 ORDER BY a.id`,
		accountdomain.AccountStatusCanceled,
		subscriptiondomain.BillingModePrepaid,
		subscriptiondomain.BillingModePostpaid,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Service) enforceAccount(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, account prepaidAccount, res *prepaiddomain.RunResult) error {
	available, err := s.availableBalance(ctx, tx, account)
	if err != nil {
		return err
	}

	threshold := settings.Int64(ctx, s.settings, settingsDomain, "min_balance", s.cfg.Get().MinBalance)
	if account.MinBalance != nil {
		threshold = *account.MinBalance
	}

	if available >= threshold {
		if account.PrepaidLowBalanceAt != nil || account.PrepaidDeactivationAt != nil {
			if !dryRun {
				if err := tx.WithContext(ctx).Exec(
					`UPDATE accounts
					 SET prepaid_low_balance_at = NULL, prepaid_deactivation_at = NULL, updated_at = ?
					 WHERE id = ?`,
					now,
					account.ID,
				).Error; err != nil {
					return err
				}
			}
		}
		return nil
	}

	lowAt := account.PrepaidLowBalanceAt
	deactivationAt := account.PrepaidDeactivationAt
	if lowAt == nil {
		lowAt = &now
		deactivationDays := settings.Int(ctx, s.settings, settingsDomain, "deactivation_days", s.cfg.Get().DeactivationDays)
		if deactivationDays > 0 && deactivationAt == nil {
			deadline := now.AddDate(0, 0, deactivationDays)
			deactivationAt = &deadline
		}
		if !dryRun {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE accounts SET prepaid_low_balance_at = ?, prepaid_deactivation_at = ?, updated_at = ? WHERE id = ?`,
				lowAt,
				deactivationAt,
				now,
				account.ID,
			).Error; err != nil {
				return err
			}
		}
	}

	grace := settings.Int(ctx, s.settings, settingsDomain, "grace_days", s.cfg.Get().GraceDays)
	if account.GracePeriodDays != nil {
		grace = *account.GracePeriodDays
	}
	graceUntil := lowAt.AddDate(0, 0, grace)

	// An open grace window always warns, even past the deactivation deadline.
	if now.Before(graceUntil) {
		if !dryRun {
			s.warnLowBalance(ctx, tx, now, account, available, threshold)
		}
		res.AccountsWarned++
		if !dryRun {
			obsmetrics.Collections().IncPrepaidOutcome("warned")
		}
		return nil
	}

	if deactivationAt != nil && !now.Before(*deactivationAt) {
		if err := s.deactivateAccount(ctx, tx, now, dryRun, account); err != nil {
			return err
		}
		res.AccountsDeactivated++
		if !dryRun {
			obsmetrics.Collections().IncPrepaidOutcome("deactivated")
		}
		return nil
	}

	if account.Status == accountdomain.AccountStatusSuspended {
		if !dryRun {
			obsmetrics.Collections().IncPrepaidOutcome("already_suspended")
		}
		return nil
	}
	if !dryRun {
		if err := s.suspendAccount(ctx, tx, now, account); err != nil {
			return err
		}
		obsmetrics.Collections().IncPrepaidOutcome("suspended")
	}
	res.AccountsSuspended++
	return nil
}

// availableBalance is the credit balance less everything still owed on
// collectible invoices.
func (s *Service) availableBalance(ctx context.Context, tx *gorm.DB, account prepaidAccount) (int64, error) {
	var owed int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(balance), 0) FROM invoices
		 WHERE account_id = ? AND deleted = ? AND balance > 0 AND status IN (?, ?, ?)`,
		account.ID,
		false,
		invoicedomain.InvoiceStatusIssued,
		invoicedomain.InvoiceStatusPartiallyPaid,
		invoicedomain.InvoiceStatusOverdue,
	).Scan(&owed).Error
	if err != nil {
		return 0, err
	}
	return account.CreditBalance - owed, nil
}

// warnLowBalance enqueues at most one warning per cooldown window.
func (s *Service) warnLowBalance(ctx context.Context, tx *gorm.DB, now time.Time, account prepaidAccount, available, threshold int64) {
	if account.Email == "" {
		return
	}
	sent, err := s.sink.EnqueuedSince(ctx, tx, account.ID, notificationdomain.KindLowBalanceWarning, now.Add(-warningCooldown))
	if err != nil {
		s.log.Warn("warning dedup lookup failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		return
	}
	if sent {
		return
	}
	if err := s.sink.Enqueue(ctx, tx, notificationdomain.Message{
		AccountID: account.ID,
		Kind:      notificationdomain.KindLowBalanceWarning,
		Channel:   notificationdomain.ChannelEmail,
		Recipient: account.Email,
		Subject:   s.cfg.Get().LowBalanceSubject,
		Metadata: map[string]any{
			"available_cents": available,
			"threshold_cents": threshold,
		},
	}); err != nil {
		s.log.Warn("low balance warning enqueue failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) suspendAccount(ctx context.Context, tx *gorm.DB, now time.Time, account prepaidAccount) error {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		accountdomain.AccountStatusSuspended,
		now,
		account.ID,
	).Error; err != nil {
		return err
	}

	var subIDs []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions WHERE account_id = ? AND status IN (?, ?) ORDER BY id`,
		account.ID,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPending,
	).Scan(&subIDs).Error; err != nil {
		return err
	}
	for _, subID := range subIDs {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
			subscriptiondomain.SubscriptionStatusSuspended,
			now,
			subID,
		).Error; err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventSubscriptionSuspended,
			AccountID:  &account.ID,
			TargetType: "subscription",
			TargetID:   subID.String(),
		})
	}
	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventSubscriberSuspended,
		AccountID:  &account.ID,
		TargetType: "account",
		TargetID:   account.ID.String(),
	})

	s.notify(ctx, tx, account, notificationdomain.KindSuspensionNotice, s.cfg.Get().SuspensionSubject)
	return nil
}

// deactivateAccount cancels the account and its prepaid subscriptions once
// the deactivation deadline lapses.
func (s *Service) deactivateAccount(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, account prepaidAccount) error {
	if dryRun {
		return nil
	}

	var subIDs []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions WHERE account_id = ? AND status != ? ORDER BY id`,
		account.ID,
		subscriptiondomain.SubscriptionStatusCanceled,
	).Scan(&subIDs).Error; err != nil {
		return err
	}
	for _, subID := range subIDs {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
			subscriptiondomain.SubscriptionStatusCanceled,
			now,
			subID,
		).Error; err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventSubscriptionCanceled,
			AccountID:  &account.ID,
			TargetType: "subscription",
			TargetID:   subID.String(),
		})
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		accountdomain.AccountStatusCanceled,
		now,
		account.ID,
	).Error; err != nil {
		return err
	}
	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventSubscriberDeactivated,
		AccountID:  &account.ID,
		TargetType: "account",
		TargetID:   account.ID.String(),
	})

	s.notify(ctx, tx, account, notificationdomain.KindDeactivationNotice, s.cfg.Get().DeactivationSubject)
	return nil
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, account prepaidAccount, kind, subject string) {
	if account.Email == "" {
		return
	}
	if err := s.sink.Enqueue(ctx, tx, notificationdomain.Message{
		AccountID: account.ID,
		Kind:      kind,
		Channel:   notificationdomain.ChannelEmail,
		Recipient: account.Email,
		Subject:   subject,
	}); err != nil {
		s.log.Warn("notification enqueue failed",
			zap.String("account_id", account.ID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
