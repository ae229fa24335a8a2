// Package scheduler drives the periodic collections jobs. Each tick runs the
// dunning sweep and the prepaid enforcement pass; the prepaid engine's own
// calendar gates decide whether the pass actually does anything.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wirebill/wirebill/internal/clock"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	obsmetrics "github.com/wirebill/wirebill/internal/observability/metrics"
	prepaiddomain "github.com/wirebill/wirebill/internal/prepaid/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	DunningSvc dunningdomain.Service
	PrepaidSvc prepaiddomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	dunningSvc dunningdomain.Service
	prepaidSvc prepaiddomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.DunningSvc == nil || p.PrepaidSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		dunningSvc: p.DunningSvc,
		prepaidSvc: p.PrepaidSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	metrics := obsmetrics.Collections()
	metrics.IncJobRun(name)

	err := fn(ctx)
	metrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline is a soft failure; the next tick picks the work back up.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		metrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	metrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"dunning_run", s.isJobEnabled("dunning_run"), func(ctx context.Context) error {
			return s.runJob(ctx, "dunning_run", s.cfg.JobTimeout, s.DunningJob)
		}},
		{"prepaid_run", s.isJobEnabled("prepaid_run"), func(ctx context.Context) error {
			return s.runJob(ctx, "prepaid_run", s.cfg.JobTimeout, s.PrepaidJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) DunningJob(ctx context.Context) error {
	res, err := s.dunningSvc.Run(ctx, dunningdomain.RunRequest{})
	if err != nil {
		return err
	}
	s.log.Debug("dunning job completed",
		zap.Int("accounts_scanned", res.AccountsScanned),
		zap.Int("actions_executed", res.ActionsExecuted),
	)
	return nil
}

func (s *Scheduler) PrepaidJob(ctx context.Context) error {
	res, err := s.prepaidSvc.Run(ctx, prepaiddomain.RunRequest{})
	if err != nil {
		return err
	}
	if res.Skipped {
		s.log.Debug("prepaid job gated", zap.String("reason", res.SkipReason))
	}
	return nil
}
