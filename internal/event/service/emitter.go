package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/wirebill/wirebill/internal/clock"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Emitter struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewEmitter(p Params) eventdomain.Emitter {
	return &Emitter{
		log:   p.Log.Named("event.emitter"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Emit implements domain.Emitter.
func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, event eventdomain.Event) error {
	metadata := datatypes.JSONMap{}
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	err := tx.WithContext(ctx).Exec(
		`INSERT INTO domain_events (
			id, name, account_id, target_type, target_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.genID.Generate(),
		event.Name,
		event.AccountID,
		event.TargetType,
		event.TargetID,
		metadata,
		e.clock.Now(),
	).Error
	if err != nil {
		e.log.Warn("failed to emit domain event",
			zap.String("event", event.Name),
			zap.Error(err),
		)
	}
	return err
}
