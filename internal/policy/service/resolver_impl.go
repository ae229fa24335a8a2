package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/wirebill/wirebill/internal/catalog/domain"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Resolver struct {
	log *zap.Logger
}

type ResolverParams struct {
	fx.In

	Log *zap.Logger
}

func NewResolver(p ResolverParams) policydomain.Resolver {
	return &Resolver{log: p.Log.Named("policy.resolver")}
}

type candidateSubscription struct {
	ID             snowflake.ID
	Status         subscriptiondomain.SubscriptionStatus
	OfferID        snowflake.ID
	OfferVersionID *snowflake.ID
	CreatedAt      time.Time
}

// ResolveForAccount implements domain.Resolver. Among the account's
// subscriptions in {active, suspended, pending} it picks the highest-priority
// one (active > suspended > pending, ties broken by most recent), then takes
// the offer version's policy set, falling back to the offer's own.
func (r *Resolver) ResolveForAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*policydomain.ResolvedPolicy, error) {
	var candidates []candidateSubscription
	err := tx.WithContext(ctx).Raw(
		`SELECT id, status, offer_id, offer_version_id, created_at
		 FROM subscriptions
		 WHERE account_id = ? AND status IN (?, ?, ?)
		 ORDER BY CASE status
		     WHEN ? THEN 0
		     WHEN ? THEN 1
		     ELSE 2
		   END,
		   created_at DESC,
		   id DESC`,
		accountID,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusSuspended,
		subscriptiondomain.SubscriptionStatusPending,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusSuspended,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, policydomain.ErrNoPolicy
	}

	policySetID, err := r.policySetForSubscription(ctx, tx, candidates[0])
	if err != nil {
		return nil, err
	}
	if policySetID == nil {
		return nil, policydomain.ErrNoPolicy
	}

	return r.loadPolicySet(ctx, tx, *policySetID)
}

func (r *Resolver) policySetForSubscription(ctx context.Context, tx *gorm.DB, sub candidateSubscription) (*snowflake.ID, error) {
	if sub.OfferVersionID != nil {
		var version catalogdomain.OfferVersion
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, policy_set_id FROM offer_versions WHERE id = ?`,
			*sub.OfferVersionID,
		).Scan(&version).Error; err != nil {
			return nil, err
		}
		if version.ID != 0 && version.PolicySetID != nil {
			return version.PolicySetID, nil
		}
	}

	var offer catalogdomain.Offer
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, policy_set_id FROM offers WHERE id = ?`,
		sub.OfferID,
	).Scan(&offer).Error; err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return offer.PolicySetID, nil
}

func (r *Resolver) loadPolicySet(ctx context.Context, tx *gorm.DB, policySetID snowflake.ID) (*policydomain.ResolvedPolicy, error) {
	var set policydomain.PolicySet
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, name, created_at, updated_at FROM policy_sets WHERE id = ?`,
		policySetID,
	).Scan(&set).Error; err != nil {
		return nil, err
	}
	if set.ID == 0 {
		return nil, policydomain.ErrPolicySetNotFound
	}

	var steps []policydomain.PolicyDunningStep
	if err := tx.WithContext(ctx).Raw(
		`SELECT id, policy_set_id, days_overdue, action, created_at
		 FROM policy_dunning_steps
		 WHERE policy_set_id = ?
		 ORDER BY days_overdue ASC`,
		policySetID,
	).Scan(&steps).Error; err != nil {
		return nil, err
	}

	return &policydomain.ResolvedPolicy{Set: set, Steps: steps}, nil
}
