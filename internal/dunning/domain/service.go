package domain

import (
	"context"
	"errors"
	"time"
)

// RunRequest triggers one dunning sweep. At overrides the run instant
// (defaults to the clock); DryRun performs all reads and decision logic but
// suppresses every write and side effect.
type RunRequest struct {
	At     *time.Time
	DryRun bool
}

// RunResult carries plain counters; a sweep has no other payload.
type RunResult struct {
	AccountsScanned int `json:"accounts_scanned"`
	CasesCreated    int `json:"cases_created"`
	ActionsExecuted int `json:"actions_executed"`
	CasesResolved   int `json:"cases_resolved"`
	AccountsSkipped int `json:"accounts_skipped"`
}

type PauseCaseRequest struct {
	CaseID string `json:"case_id"`
}

type ResumeCaseRequest struct {
	CaseID string `json:"case_id"`
}

// CloseCaseRequest closes a case manually. Force overrides the
// unpaid-invoice conflict check.
type CloseCaseRequest struct {
	CaseID string `json:"case_id"`
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

type AddCaseNoteRequest struct {
	CaseID string `json:"case_id"`
	Note   string `json:"note"`
}

// RestoreAccountRequest reverses suspension/throttle state, typically fired
// when a payment clears the account's overdue balance.
type RestoreAccountRequest struct {
	AccountID string `json:"account_id"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
	PauseCase(ctx context.Context, req PauseCaseRequest) error
	ResumeCase(ctx context.Context, req ResumeCaseRequest) error
	CloseCase(ctx context.Context, req CloseCaseRequest) error
	AddCaseNote(ctx context.Context, req AddCaseNoteRequest) error
	RestoreAccount(ctx context.Context, req RestoreAccountRequest) error
}

var (
	ErrInvalidCase       = errors.New("invalid_case_id")
	ErrCaseNotFound      = errors.New("dunning_case_not_found")
	ErrInvalidTransition = errors.New("invalid_case_transition")
	ErrUnpaidInvoices    = errors.New("account_has_unpaid_invoices")
	ErrEmptyNote         = errors.New("empty_note")
	ErrInvalidAccount    = errors.New("invalid_account_id")
)
