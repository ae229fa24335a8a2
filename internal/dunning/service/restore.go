package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	"github.com/wirebill/wirebill/internal/settings"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RestoreAccount implements domain.Service. It reverses every enforcement the
// engine may have applied: suspension, throttling, and any active case.
// Calling it on an account with nothing to restore is a no-op.
func (s *Service) RestoreAccount(ctx context.Context, req dunningdomain.RestoreAccountRequest) error {
	accountID, err := s.parseID(req.AccountID, dunningdomain.ErrInvalidAccount)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.restoreAccountTx(ctx, tx, s.clock.Now(), req.DryRun, accountID)
	})
}

// restoreAccountTx is shared by the manual operation and the sweep's
// auto-resolution pass. It always runs inside the caller's transaction.
func (s *Service) restoreAccountTx(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, accountID snowflake.ID) error {
	account, err := s.loadAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if account.Status == accountdomain.AccountStatusSuspended || account.Status == accountdomain.AccountStatusDelinquent {
		if !dryRun {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
				accountdomain.AccountStatusActive,
				now,
				accountID,
				accountdomain.AccountStatusSuspended,
				accountdomain.AccountStatusDelinquent,
			).Error; err != nil {
				return err
			}
			_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
				Name:       eventdomain.EventSubscriberReactivated,
				AccountID:  &accountID,
				TargetType: "account",
				TargetID:   accountID.String(),
			})
		}
	}

	if err := s.resumeSuspendedSubscriptions(ctx, tx, now, dryRun, accountID); err != nil {
		return err
	}
	if err := s.unthrottleCredentials(ctx, tx, now, dryRun, accountID); err != nil {
		return err
	}
	return s.resolveActiveCase(ctx, tx, now, dryRun, accountID)
}

// resumeSuspendedSubscriptions reactivates suspended subscriptions that have
// not lapsed past their expiry.
func (s *Service) resumeSuspendedSubscriptions(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, accountID snowflake.ID) error {
	type subRow struct {
		ID        snowflake.ID
		ExpiresAt *time.Time
	}
	var subs []subRow
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, expires_at FROM subscriptions WHERE account_id = ? AND status = ? ORDER BY id`,
		accountID,
		subscriptiondomain.SubscriptionStatusSuspended,
	).Scan(&subs).Error; err != nil {
		return err
	}

	for _, sub := range subs {
		if sub.ExpiresAt != nil && !sub.ExpiresAt.After(now) {
			continue
		}
		if dryRun {
			continue
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			subscriptiondomain.SubscriptionStatusActive,
			now,
			sub.ID,
			subscriptiondomain.SubscriptionStatusSuspended,
		).Error; err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventSubscriptionResumed,
			AccountID:  &accountID,
			TargetType: "subscription",
			TargetID:   sub.ID.String(),
		})
	}
	return nil
}

// unthrottleCredentials moves any credential still pinned to the throttle
// profile back to the service profile from the account's primary offer, or to
// the NAS default when no offer profile is set.
func (s *Service) unthrottleCredentials(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, accountID snowflake.ID) error {
	raw := settings.String(ctx, s.settings, settingsDomain, "throttle_profile_id", s.cfg.Get().ThrottleProfileID)
	if raw == "" {
		return nil
	}
	throttleProfileID, err := snowflake.ParseString(raw)
	if err != nil {
		s.log.Warn("malformed throttle profile id, skipping credential restore",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return nil
	}

	var credIDs []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM access_credentials WHERE account_id = ? AND radius_profile_id = ? ORDER BY id`,
		accountID,
		throttleProfileID,
	).Scan(&credIDs).Error; err != nil {
		return err
	}
	if len(credIDs) == 0 || dryRun {
		return nil
	}

	serviceProfileID, err := s.resolveServiceProfile(ctx, tx, accountID)
	if err != nil {
		return err
	}
	for _, credID := range credIDs {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE access_credentials SET radius_profile_id = ?, updated_at = ? WHERE id = ?`,
			serviceProfileID,
			now,
			credID,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

// resolveServiceProfile returns the RADIUS profile of the account's primary
// subscription's offer, version override first, nil when the offer carries
// none.
func (s *Service) resolveServiceProfile(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*snowflake.ID, error) {
	var row struct {
		ProfileID *snowflake.ID
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(ov.radius_profile_id, o.radius_profile_id) AS profile_id
		 FROM subscriptions s
		 JOIN offers o ON o.id = s.offer_id
		 LEFT JOIN offer_versions ov ON ov.id = s.offer_version_id
		 WHERE s.account_id = ? AND s.status IN (?, ?, ?)
		 ORDER BY CASE s.status WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END, s.created_at DESC, s.id DESC
		 LIMIT 1`,
		accountID,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusSuspended,
		subscriptiondomain.SubscriptionStatusPending,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusSuspended,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.ProfileID, nil
}

// resolveActiveCase marks the account's open or paused case resolved.
func (s *Service) resolveActiveCase(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, accountID snowflake.ID) error {
	dc, err := s.findActiveCase(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if dc == nil || dryRun {
		return nil
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE dunning_cases
		 SET status = ?, resolved_at = COALESCE(resolved_at, ?), updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		dunningdomain.CaseStatusResolved,
		now,
		now,
		dc.ID,
		dunningdomain.CaseStatusOpen,
		dunningdomain.CaseStatusPaused,
	).Error; err != nil {
		return err
	}
	if err := s.appendActionLog(ctx, tx, actionLogEntry{
		CaseID:  dc.ID,
		Action:  dunningdomain.LogActionResolved,
		Outcome: "resolved",
	}); err != nil {
		return err
	}
	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventDunningResolved,
		AccountID:  &accountID,
		TargetType: "dunning_case",
		TargetID:   dc.ID.String(),
	})
	return nil
}
