package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wirebill/wirebill/internal/clock"
	notificationdomain "github.com/wirebill/wirebill/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outbox is the database-backed notification sink. Rows are drained by the
// external transport worker.
type Outbox struct {
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

func NewOutbox(p Params) notificationdomain.Sink {
	return &Outbox{
		log:   p.Log.Named("notification.outbox"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Enqueue implements domain.Sink.
func (o *Outbox) Enqueue(ctx context.Context, tx *gorm.DB, msg notificationdomain.Message) error {
	if strings.TrimSpace(msg.Recipient) == "" {
		return notificationdomain.ErrMissingRecipient
	}
	channel := msg.Channel
	if channel == "" {
		channel = notificationdomain.ChannelEmail
	}

	now := o.clock.Now()
	metadata := datatypes.JSONMap{}
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	err := tx.WithContext(ctx).Exec(
		`INSERT INTO notifications (
			id, account_id, kind, channel, recipient, subject, body, status, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.genID.Generate(),
		msg.AccountID,
		msg.Kind,
		channel,
		msg.Recipient,
		msg.Subject,
		msg.Body,
		notificationdomain.NotificationStatusQueued,
		metadata,
		now,
	).Error
	if err != nil {
		return err
	}

	o.log.Debug("notification enqueued",
		zap.String("account_id", msg.AccountID.String()),
		zap.String("kind", msg.Kind),
		zap.String("channel", string(channel)),
	)
	return nil
}

// EnqueuedSince implements domain.Sink.
func (o *Outbox) EnqueuedSince(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, kind string, cutoff time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM notifications
		 WHERE account_id = ? AND kind = ? AND created_at >= ?`,
		accountID,
		kind,
		cutoff,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
