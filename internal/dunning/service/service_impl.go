package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/wirebill/wirebill/internal/clock"
	"github.com/wirebill/wirebill/internal/config"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	eventdomain "github.com/wirebill/wirebill/internal/event/domain"
	invoicedomain "github.com/wirebill/wirebill/internal/invoice/domain"
	notificationdomain "github.com/wirebill/wirebill/internal/notification/domain"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	settingsdomain "github.com/wirebill/wirebill/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const settingsDomain = "collections"

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	resolver policydomain.Resolver
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

	Resolver policydomain.Resolver
	Sink     notificationdomain.Sink
	Emitter  eventdomain.Emitter
	Settings settingsdomain.Resolver
	Cfg      *config.CollectionsConfigHolder
}

func NewService(p Params) dunningdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("dunning.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		resolver: p.Resolver,
		sink:     p.Sink,
		emitter:  p.Emitter,
		settings: p.Settings,
		cfg:      p.Cfg,
	}
}

// PauseCase implements domain.Service. Only open cases can be paused.
func (s *Service) PauseCase(ctx context.Context, req dunningdomain.PauseCaseRequest) error {
	caseID, err := s.parseID(req.CaseID, dunningdomain.ErrInvalidCase)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dc, err := s.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if dc.Status != dunningdomain.CaseStatusOpen {
			return dunningdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE dunning_cases SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			dunningdomain.CaseStatusPaused,
			now,
			caseID,
			dunningdomain.CaseStatusOpen,
		).Error; err != nil {
			return err
		}

		if err := s.appendActionLog(ctx, tx, actionLogEntry{
			CaseID:  caseID,
			Action:  dunningdomain.LogActionPaused,
			Outcome: "paused",
		}); err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventDunningPaused,
			AccountID:  &dc.AccountID,
			TargetType: "dunning_case",
			TargetID:   caseID.String(),
		})
		return nil
	})
}

// ResumeCase implements domain.Service. Only paused cases can be resumed.
func (s *Service) ResumeCase(ctx context.Context, req dunningdomain.ResumeCaseRequest) error {
	caseID, err := s.parseID(req.CaseID, dunningdomain.ErrInvalidCase)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dc, err := s.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if dc.Status != dunningdomain.CaseStatusPaused {
			return dunningdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE dunning_cases SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			dunningdomain.CaseStatusOpen,
			now,
			caseID,
			dunningdomain.CaseStatusPaused,
		).Error; err != nil {
			return err
		}

		if err := s.appendActionLog(ctx, tx, actionLogEntry{
			CaseID:  caseID,
			Action:  dunningdomain.LogActionResumed,
			Outcome: "resumed",
		}); err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventDunningResumed,
			AccountID:  &dc.AccountID,
			TargetType: "dunning_case",
			TargetID:   caseID.String(),
		})
		return nil
	})
}

// CloseCase implements domain.Service. Closing is rejected with a conflict
// while the account still has unpaid collectible invoices, unless Force is
// passed.
func (s *Service) CloseCase(ctx context.Context, req dunningdomain.CloseCaseRequest) error {
	caseID, err := s.parseID(req.CaseID, dunningdomain.ErrInvalidCase)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dc, err := s.loadCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if !dc.Active() {
			return dunningdomain.ErrInvalidTransition
		}

		if !req.Force {
			unpaid, err := s.hasCollectibleInvoices(ctx, tx, dc.AccountID)
			if err != nil {
				return err
			}
			if unpaid {
				return dunningdomain.ErrUnpaidInvoices
			}
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE dunning_cases
			 SET status = ?, closed_at = COALESCE(closed_at, ?), updated_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			dunningdomain.CaseStatusClosed,
			now,
			now,
			caseID,
			dunningdomain.CaseStatusOpen,
			dunningdomain.CaseStatusPaused,
		).Error; err != nil {
			return err
		}

		metadata := map[string]any{}
		if req.Reason != "" {
			metadata["reason"] = req.Reason
		}
		if req.Force {
			metadata["forced"] = true
		}
		if err := s.appendActionLog(ctx, tx, actionLogEntry{
			CaseID:   caseID,
			Action:   dunningdomain.LogActionClosed,
			Outcome:  "closed",
			Metadata: metadata,
		}); err != nil {
			return err
		}
		_ = s.emitter.Emit(ctx, tx, eventdomain.Event{
			Name:       eventdomain.EventDunningClosed,
			AccountID:  &dc.AccountID,
			TargetType: "dunning_case",
			TargetID:   caseID.String(),
			Metadata:   metadata,
		})
		return nil
	})
}

// AddCaseNote implements domain.Service. Notes are appended to the action log
// so the case history stays immutable.
func (s *Service) AddCaseNote(ctx context.Context, req dunningdomain.AddCaseNoteRequest) error {
	caseID, err := s.parseID(req.CaseID, dunningdomain.ErrInvalidCase)
	if err != nil {
		return err
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return dunningdomain.ErrEmptyNote
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadCase(ctx, tx, caseID); err != nil {
			return err
		}
		return s.appendActionLog(ctx, tx, actionLogEntry{
			CaseID:  caseID,
			Action:  dunningdomain.LogActionNote,
			Outcome: note,
		})
	})
}

type actionLogEntry struct {
	CaseID          snowflake.ID
	InvoiceID       *snowflake.ID
	StepDaysOverdue *int
	Action          string
	Outcome         string
	Metadata        map[string]any
}

func (s *Service) appendActionLog(ctx context.Context, tx *gorm.DB, entry actionLogEntry) error {
	metadata := datatypes.JSONMap{}
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO dunning_action_logs (
			id, case_id, invoice_id, step_days_overdue, action, outcome, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		entry.CaseID,
		entry.InvoiceID,
		entry.StepDaysOverdue,
		entry.Action,
		entry.Outcome,
		metadata,
		s.clock.Now(),
	).Error
}

func (s *Service) loadCase(ctx context.Context, tx *gorm.DB, caseID snowflake.ID) (*dunningdomain.DunningCase, error) {
	var dc dunningdomain.DunningCase
	err := tx.WithContext(ctx).Raw(
		`SELECT id, account_id, policy_set_id, status, current_step, started_at, resolved_at, closed_at
		 FROM dunning_cases
		 WHERE id = ?`,
		caseID,
	).Scan(&dc).Error
	if err != nil {
		return nil, err
	}
	if dc.ID == 0 {
		return nil, dunningdomain.ErrCaseNotFound
	}
	return &dc, nil
}

func (s *Service) hasCollectibleInvoices(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices
		 WHERE account_id = ? AND deleted = ? AND balance > 0 AND status IN (?, ?, ?)`,
		accountID,
		false,
		invoicedomain.InvoiceStatusIssued,
		invoicedomain.InvoiceStatusPartiallyPaid,
		invoicedomain.InvoiceStatusOverdue,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) parseID(raw string, sentinel error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, sentinel
	}
	return id, nil
}
