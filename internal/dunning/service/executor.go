package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	credentialdomain "github.com/wirebill/wirebill/internal/credential/domain"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	notificationdomain "github.com/wirebill/wirebill/internal/notification/domain"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	"github.com/wirebill/wirebill/internal/settings"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type actionResult struct {
	outcome  string
	metadata map[string]any
}

func (s *Service) executeAction(
	ctx context.Context,
	tx *gorm.DB,
	now time.Time,
	dryRun bool,
	account workAccount,
	step policydomain.PolicyDunningStep,
) (actionResult, error) {
	switch step.Action {
	case policydomain.ActionNotify:
		return s.actionNotify(ctx, tx, dryRun, account)
	case policydomain.ActionSuspend:
		return s.actionSuspend(ctx, tx, now, dryRun, account, false)
	case policydomain.ActionReject:
		return s.actionSuspend(ctx, tx, now, dryRun, account, true)
	case policydomain.ActionThrottle:
		return s.actionThrottle(ctx, tx, now, dryRun, account)
	default:
		return actionResult{}, fmt.Errorf("unknown dunning action %q", step.Action)
	}
}

// actionNotify enqueues a payment reminder. Delivery failure never blocks the
// sweep; the outcome is notified either way.
func (s *Service) actionNotify(ctx context.Context, tx *gorm.DB, dryRun bool, account workAccount) (actionResult, error) {
	if !dryRun {
		s.enqueueNotice(ctx, tx, account, notificationdomain.KindDunningNotice, s.cfg.Get().DunningSubject, nil)
	}
	return actionResult{outcome: dunningdomain.OutcomeNotified}, nil
}

// actionSuspend cuts service for the account. Reject shares the mechanics but
// records its own outcome and sends harsher copy; the NAS treats both as a
// hard deny.
func (s *Service) actionSuspend(
	ctx context.Context,
	tx *gorm.DB,
	now time.Time,
	dryRun bool,
	account workAccount,
	reject bool,
) (actionResult, error) {
	if account.Status == accountdomain.AccountStatusSuspended ||
		account.Status == accountdomain.AccountStatusCanceled {
		return actionResult{outcome: dunningdomain.OutcomeAlreadySuspended}, nil
	}

	outcome := dunningdomain.OutcomeSuspended
	kind := notificationdomain.KindSuspensionNotice
	if reject {
		outcome = dunningdomain.OutcomeRejected
		kind = notificationdomain.KindRejectionNotice
	}
	if dryRun {
		return actionResult{outcome: outcome}, nil
	}

	if err := s.suspendAccount(ctx, tx, now, account.ID); err != nil {
		return actionResult{}, err
	}
	s.enqueueNotice(ctx, tx, account, kind, s.cfg.Get().SuspensionSubject, nil)
	return actionResult{outcome: outcome}, nil
}

// suspendAccount moves the account and its non-canceled subscriptions to
// suspended. Safe to call for accounts in any non-suspended state.
func (s *Service) suspendAccount(ctx context.Context, tx *gorm.DB, now time.Time, accountID snowflake.ID) error {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		accountdomain.AccountStatusSuspended,
		now,
		accountID,
	).Error; err != nil {
		return err
	}

	var subIDs []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions WHERE account_id = ? AND status IN (?, ?) ORDER BY id`,
		accountID,
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
			AccountID:  &accountID,
			TargetType: "subscription",
			TargetID:   subID.String(),
		})
	}

	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventSubscriberSuspended,
		AccountID:  &accountID,
		TargetType: "account",
		TargetID:   accountID.String(),
	})
	return nil
}

// actionThrottle reassigns the account's active credentials to the configured
// slow RADIUS profile. Misconfiguration degrades to throttle_failed rather
// than aborting the account.
func (s *Service) actionThrottle(ctx context.Context, tx *gorm.DB, now time.Time, dryRun bool, account workAccount) (actionResult, error) {
	profileID, err := s.resolveThrottleProfile(ctx, tx)
	if err != nil {
		s.log.Warn("throttle profile unavailable",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		return actionResult{
			outcome:  dunningdomain.OutcomeThrottleFailed,
			metadata: map[string]any{"reason": err.Error()},
		}, nil
	}

	type credRow struct {
		ID              snowflake.ID
		Username        string
		RadiusProfileID *snowflake.ID
	}
	var creds []credRow
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, username, radius_profile_id
		 FROM access_credentials
		 WHERE account_id = ? AND status = ?
		 ORDER BY id`,
		account.ID,
		credentialdomain.CredentialStatusActive,
	).Scan(&creds).Error; err != nil {
		return actionResult{}, err
	}
	if len(creds) == 0 {
		return actionResult{outcome: dunningdomain.OutcomeNoCredentialsToThrottle}, nil
	}

	previous := make(map[string]any, len(creds))
	for _, cred := range creds {
		if cred.RadiusProfileID != nil {
			previous[cred.Username] = cred.RadiusProfileID.String()
		} else {
			previous[cred.Username] = nil
		}
	}
	if dryRun {
		return actionResult{
			outcome:  dunningdomain.OutcomeThrottled,
			metadata: map[string]any{"previous_profiles": previous},
		}, nil
	}

	for _, cred := range creds {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE access_credentials SET radius_profile_id = ?, updated_at = ? WHERE id = ?`,
			profileID,
			now,
			cred.ID,
		).Error; err != nil {
			return actionResult{}, err
		}
	}

	_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
		Name:       eventdomain.EventSubscriberThrottled,
		AccountID:  &account.ID,
		TargetType: "account",
		TargetID:   account.ID.String(),
		Metadata:   map[string]any{"radius_profile_id": profileID.String()},
	})
	s.enqueueNotice(ctx, tx, account, notificationdomain.KindThrottleNotice, s.cfg.Get().DunningSubject, map[string]any{
		"previous_profiles": previous,
	})
	return actionResult{
		outcome:  dunningdomain.OutcomeThrottled,
		metadata: map[string]any{"previous_profiles": previous},
	}, nil
}

// resolveThrottleProfile looks up the slow profile, settings table first, then
// the hot-reload config, and verifies it is provisioned and active.
func (s *Service) resolveThrottleProfile(ctx context.Context, tx *gorm.DB) (snowflake.ID, error) {
	raw := settings.String(ctx, s.settings, settingsDomain, "throttle_profile_id", s.cfg.Get().ThrottleProfileID)
	if raw == "" {
		return 0, fmt.Errorf("throttle profile not configured")
	}
	profileID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed throttle profile id %q: %w", raw, err)
	}

	var row struct {
		ID       snowflake.ID
		IsActive bool
	}
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, is_active FROM radius_profiles WHERE id = ?`,
		profileID,
	).Scan(&row).Error; err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, fmt.Errorf("throttle profile %s not provisioned", profileID)
	}
	if !row.IsActive {
		return 0, fmt.Errorf("throttle profile %s is inactive", profileID)
	}
	return profileID, nil
}

// enqueueNotice is best effort. A missing recipient or sink error is logged
// and swallowed so the surrounding action still lands.
func (s *Service) enqueueNotice(ctx context.Context, tx *gorm.DB, account workAccount, kind, subject string, metadata map[string]any) {
	if account.Email == "" {
		s.log.Warn("notification dropped, account has no email",
			zap.String("account_id", account.ID.String()),
			zap.String("kind", kind),
		)
		return
	}
	err := s.sink.Enqueue(ctx, tx, notificationdomain.Message{
		AccountID: account.ID,
		Kind:      kind,
		Channel:   notificationdomain.ChannelEmail,
		Recipient: account.Email,
		Subject:   subject,
		Metadata:  metadata,
	})
	if err != nil {
		s.log.Warn("notification enqueue failed",
			zap.String("account_id", account.ID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
