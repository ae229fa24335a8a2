package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wirebill/wirebill/internal/clock"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	prepaiddomain "github.com/wirebill/wirebill/internal/prepaid/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockDunningSvc struct {
	runs int
	err  error
}

func (m *mockDunningSvc) Run(ctx context.Context, req dunningdomain.RunRequest) (dunningdomain.RunResult, error) {
	m.runs++
	return dunningdomain.RunResult{}, m.err
}
func (m *mockDunningSvc) PauseCase(context.Context, dunningdomain.PauseCaseRequest) error   { return nil }
func (m *mockDunningSvc) ResumeCase(context.Context, dunningdomain.ResumeCaseRequest) error { return nil }
func (m *mockDunningSvc) CloseCase(context.Context, dunningdomain.CloseCaseRequest) error   { return nil }
func (m *mockDunningSvc) AddCaseNote(context.Context, dunningdomain.AddCaseNoteRequest) error {
	return nil
}
func (m *mockDunningSvc) RestoreAccount(context.Context, dunningdomain.RestoreAccountRequest) error {
	return nil
}

type mockPrepaidSvc struct {
	runs int
	err  error
}

func (m *mockPrepaidSvc) Run(ctx context.Context, req prepaiddomain.RunRequest) (prepaiddomain.RunResult, error) {
	m.runs++
	return prepaiddomain.RunResult{}, m.err
}

func newTestScheduler(t *testing.T, cfg Config, dunningSvc *mockDunningSvc, prepaidSvc *mockPrepaidSvc) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:        zaptest.NewLogger(t),
		Clock:      clock.NewFakeClock(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)),
		DunningSvc: dunningSvc,
		PrepaidSvc: prepaidSvc,
		Config:     cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceRunsBothJobs(t *testing.T) {
	dunningSvc := &mockDunningSvc{}
	prepaidSvc := &mockPrepaidSvc{}
	sched := newTestScheduler(t, Config{}, dunningSvc, prepaidSvc)

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, dunningSvc.runs)
	assert.Equal(t, 1, prepaidSvc.runs)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	dunningSvc := &mockDunningSvc{}
	prepaidSvc := &mockPrepaidSvc{}
	sched := newTestScheduler(t, Config{EnabledJobs: []string{"prepaid_run"}}, dunningSvc, prepaidSvc)

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 0, dunningSvc.runs)
	assert.Equal(t, 1, prepaidSvc.runs)
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	dunningSvc := &mockDunningSvc{err: errors.New("db down")}
	prepaidSvc := &mockPrepaidSvc{}
	sched := newTestScheduler(t, Config{}, dunningSvc, prepaidSvc)

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dunning_run")
	// A failing job never blocks the other one.
	assert.Equal(t, 1, prepaidSvc.runs)
}

func TestRunOnceTreatsTimeoutAsSoftFailure(t *testing.T) {
	dunningSvc := &mockDunningSvc{err: context.DeadlineExceeded}
	prepaidSvc := &mockPrepaidSvc{}
	sched := newTestScheduler(t, Config{}, dunningSvc, prepaidSvc)

	assert.NoError(t, sched.RunOnce(context.Background()))
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := New(Params{Log: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)

	custom := Config{RunInterval: time.Minute, JobTimeout: time.Second}.withDefaults()
	assert.Equal(t, time.Minute, custom.RunInterval)
	assert.Equal(t, time.Second, custom.JobTimeout)
}

func TestProvideConfigFromEnv(t *testing.T) {
	t.Setenv("SCHEDULER_RUN_INTERVAL", "15m")
	t.Setenv("SCHEDULER_ENABLED_JOBS", "dunning_run, prepaid_run")

	cfg := ProvideConfig()
	assert.Equal(t, 15*time.Minute, cfg.RunInterval)
	assert.Equal(t, []string{"dunning_run", "prepaid_run"}, cfg.EnabledJobs)
}
