package service

import (
	"context"
	"testing"
	"time"

	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	"github.com/wirebill/wirebill/internal/config"
	dunningdomain "github.com/wirebill/wirebill/internal/dunning/domain"
	invoicedomain "github.com/wirebill/wirebill/internal/invoice/domain"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opsStart = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func seedCase(t *testing.T, env *testEnv, accountID snowflake.ID, status dunningdomain.CaseStatus) snowflake.ID {
	t.Helper()
	id := env.node.Generate()
	now := env.clock.Now()
	policyID := env.seedPolicy(t, map[int]policydomain.DunningAction{0: policydomain.ActionNotify})
	err := env.db.Exec(
		`INSERT INTO dunning_cases (id, account_id, policy_set_id, status, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, policyID, status, now, now, now,
	).Error
	require.NoError(t, err)
	return id
}

func TestPauseAndResumeCase(t *testing.T) {
	env := newTestEnv(t, "dunning_ops_pause", opsStart, config.DefaultCollectionsConfig())
	svc := env.svc
	ctx := context.Background()

	accountID := env.seedAccount(t, accountdomain.AccountStatusActive, nil)
	caseID := seedCase(t, env, accountID, dunningdomain.CaseStatusOpen)

	require.NoError(t, svc.PauseCase(ctx, dunningdomain.PauseCaseRequest{CaseID: caseID.String()}))
	status, _ := env.caseRow(t, accountID)
	assert.Equal(t, string(dunningdomain.CaseStatusPaused), status)

	// Pausing twice is a transition error, not a silent no-op.
	assert.ErrorIs(t, svc.PauseCase(ctx, dunningdomain.PauseCaseRequest{CaseID: caseID.String()}), dunningdomain.ErrInvalidTransition)

	require.NoError(t, svc.ResumeCase(ctx, dunningdomain.ResumeCaseRequest{CaseID: caseID.String()}))
	status, _ = env.caseRow(t, accountID)
	assert.Equal(t, string(dunningdomain.CaseStatusOpen), status)
	assert.ErrorIs(t, svc.ResumeCase(ctx, dunningdomain.ResumeCaseRequest{CaseID: caseID.String()}), dunningdomain.ErrInvalidTransition)

	assert.EqualValues(t, 1, env.countRows(t,
		`SELECT COUNT(1) FROM dunning_action_logs WHERE case_id = ? AND action = ?`, caseID, dunningdomain.LogActionPaused,
	))
	assert.EqualValues(t, 1, env.countRows(t,
		`SELECT COUNT(1) FROM dunning_action_logs WHERE case_id = ? AND action = ?`, caseID, dunningdomain.LogActionResumed,
	))

	t.Run("UnknownCase", func(t *testing.T) {
		assert.ErrorIs(t, svc.PauseCase(ctx, dunningdomain.PauseCaseRequest{CaseID: env.node.Generate().String()}), dunningdomain.ErrCaseNotFound)
	})
	t.Run("MalformedID", func(t *testing.T) {
		assert.ErrorIs(t, svc.PauseCase(ctx, dunningdomain.PauseCaseRequest{CaseID: "not-an-id"}), dunningdomain.ErrInvalidCase)
	})
}

func TestPausedCaseHoldsEscalation(t *testing.T) {
	env := newTestEnv(t, "dunning_ops_hold", opsStart, config.DefaultCollectionsConfig())
	svc := env.svc
	ctx := context.Background()

	policyID := env.seedPolicy(t, map[int]policydomain.DunningAction{
		0: policydomain.ActionNotify,
		7: policydomain.ActionSuspend,
	})
	offerID := env.seedOffer(t, &policyID, nil)
	accountID := env.seedAccount(t, accountdomain.AccountStatusActive, nil)
	env.seedSubscription(t, accountID, offerID, subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.BillingModePostpaid)
	invoiceID := env.seedInvoice(t, accountID, invoicedomain.InvoiceStatusOverdue, 3000, opsStart.AddDate(0, 0, -2))

	_, err := svc.Run(ctx, dunningdomain.RunRequest{})
	require.NoError(t, err)
	status, _ := env.caseRow(t, accountID)
	assert.Equal(t, string(dunningdomain.CaseStatusOpen), status)

	var caseID snowflake.ID
	require.NoError(t, env.db.Raw(`SELECT id FROM dunning_cases WHERE account_id = ?`, accountID).Scan(&caseID).Error)
	require.NoError(t, svc.PauseCase(ctx, dunningdomain.PauseCaseRequest{CaseID: caseID.String()}))

	// Ten more days pass; the 7-day step would fire if the case were open.
	env.clock.Advance(10 * 24 * time.Hour)
	res, err := svc.Run(ctx, dunningdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ActionsExecuted)
	assert.Equal(t, 0, res.CasesCreated)
	assert.Equal(t, string(accountdomain.AccountStatusActive), env.accountStatus(t, accountID))

	// Payment still resolves a paused case.
	require.NoError(t, env.db.Exec(
		`UPDATE invoices SET status = ?, balance = 0 WHERE id = ?`,
		invoicedomain.InvoiceStatusPaid, invoiceID,
	).Error)
	res, err = svc.Run(ctx, dunningdomain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CasesResolved)
	status, _ = env.caseRow(t, accountID)
	assert.Equal(t, string(dunningdomain.CaseStatusResolved), status)
}

func TestCloseCase(t *testing.T) {
	env := newTestEnv(t, "dunning_ops_close", opsStart, config.DefaultCollectionsConfig())
	svc := env.svc
	ctx := context.Background()

	t.Run("ConflictsOnUnpaidInvoices", func(t *testing.T) {
		accountID := env.seedAccount(t, accountdomain.AccountStatusActive, nil)
		caseID := seedCase(t, env, accountID, dunningdomain.CaseStatusOpen)
		env.seedInvoice(t, accountID, invoicedomain.InvoiceStatusOverdue, 800, opsStart.AddDate(0, 0, -5))

		err := svc.CloseCase(ctx, dunningdomain.CloseCaseRequest{CaseID: caseID.String(), Reason: "customer left"})
		assert.ErrorIs(t, err, dunningdomain.ErrUnpaidInvoices)

		require.NoError(t, svc.CloseCase(ctx, dunningdomain.CloseCaseRequest{CaseID: caseID.String(), Reason: "written off", Force: true}))
		status, _ := env.caseRow(t, accountID)
		assert.Equal(t, string(dunningdomain.CaseStatusClosed), status)
		assert.EqualValues(t, 1, env.countRows(t,
			`SELECT COUNT(1) FROM dunning_action_logs WHERE case_id = ? AND action = ?`, caseID, dunningdomain.LogActionClosed,
		))
	})

	t.Run("CleanCaseClosesWithoutForce", func(t *testing.T) {
		accountID := env.seedAccount(t, accountdomain.AccountStatusActive, nil)
		caseID := seedCase(t, env, accountID, dunningdomain.CaseStatusPaused)

		require.NoError(t, svc.CloseCase(ctx, dunningdomain.CloseCaseRequest{CaseID: caseID.String()}))
		status, _ := env.caseRow(t, accountID)
		assert.Equal(t, string(dunningdomain.CaseStatusClosed), status)

		// Closed is terminal.
		assert.ErrorIs(t, svc.CloseCase(ctx, dunningdomain.CloseCaseRequest{CaseID: caseID.String()}), dunningdomain.ErrInvalidTransition)
	})
}

func TestAddCaseNote(t *testing.T) {
	env := newTestEnv(t, "dunning_ops_note", opsStart, config.DefaultCollectionsConfig())
	svc := env.svc
	ctx := context.Background()

	accountID := env.seedAccount(t, accountdomain.AccountStatusActive, nil)
	caseID := seedCase(t, env, accountID, dunningdomain.CaseStatusOpen)

	require.NoError(t, svc.AddCaseNote(ctx, dunningdomain.AddCaseNoteRequest{CaseID: caseID.String(), Note: "  called, promised payment friday  "}))
	assert.ErrorIs(t, svc.AddCaseNote(ctx, dunningdomain.AddCaseNoteRequest{CaseID: caseID.String(), Note: "   "}), dunningdomain.ErrEmptyNote)

	var note string
	require.NoError(t, env.db.Raw(
		`SELECT outcome FROM dunning_action_logs WHERE case_id = ? AND action = ?`, caseID, dunningdomain.LogActionNote,
	).Scan(&note).Error)
	assert.Equal(t, "called, promised payment friday", note)
}

func TestRestoreAccount(t *testing.T) {
	cfg := config.DefaultCollectionsConfig()
	env := newTestEnv(t, "dunning_ops_restore", opsStart, cfg)
	throttleID := env.seedProfile(t, "throttle-512k", true)
	cfg.ThrottleProfileID = throttleID.String()
	env.svc.cfg = config.NewStaticCollectionsConfigHolder(cfg)
	svc := env.svc
	ctx := context.Background()

	serviceProfileID := env.seedProfile(t, "fiber-300m", true)
	policyID := env.seedPolicy(t, map[int]policydomain.DunningAction{0: policydomain.ActionNotify})
	offerID := env.seedOffer(t, &policyID, &serviceProfileID)

	accountID := env.seedAccount(t, accountdomain.AccountStatusSuspended, nil)
	subID := env.seedSubscription(t, accountID, offerID, subscriptiondomain.SubscriptionStatusSuspended, subscriptiondomain.BillingModePostpaid)
	credID := env.seedCredential(t, accountID, "user@pop3", &throttleID)
	caseID := seedCase(t, env, accountID, dunningdomain.CaseStatusOpen)

	require.NoError(t, svc.RestoreAccount(ctx, dunningdomain.RestoreAccountRequest{AccountID: accountID.String()}))

	assert.Equal(t, string(accountdomain.AccountStatusActive), env.accountStatus(t, accountID))
	var subStatus string
	require.NoError(t, env.db.Raw(`SELECT status FROM subscriptions WHERE id = ?`, subID).Scan(&subStatus).Error)
	assert.Equal(t, string(subscriptiondomain.SubscriptionStatusActive), subStatus)

	var assigned int64
	require.NoError(t, env.db.Raw(`SELECT radius_profile_id FROM access_credentials WHERE id = ?`, credID).Scan(&assigned).Error)
	assert.Equal(t, serviceProfileID.Int64(), assigned)

	status, _ := env.caseRow(t, accountID)
	assert.Equal(t, string(dunningdomain.CaseStatusResolved), status)
	assert.EqualValues(t, 1, env.countRows(t,
		`SELECT COUNT(1) FROM domain_events WHERE name = 'subscriber.reactivated'`,
	))
	assert.EqualValues(t, 1, env.countRows(t,
		`SELECT COUNT(1) FROM dunning_action_logs WHERE case_id = ? AND action = ?`, caseID, dunningdomain.LogActionResolved,
	))

	// A second restore is a no-op, not an error.
	require.NoError(t, svc.RestoreAccount(ctx, dunningdomain.RestoreAccountRequest{AccountID: accountID.String()}))
	assert.EqualValues(t, 1, env.countRows(t,
		`SELECT COUNT(1) FROM domain_events WHERE name = 'subscriber.reactivated'`,
	))

	t.Run("ExpiredSubscriptionStaysDown", func(t *testing.T) {
		acct2 := env.seedAccount(t, accountdomain.AccountStatusSuspended, nil)
		sub2 := env.seedSubscription(t, acct2, offerID, subscriptiondomain.SubscriptionStatusSuspended, subscriptiondomain.BillingModePostpaid)
		require.NoError(t, env.db.Exec(
			`UPDATE subscriptions SET expires_at = ? WHERE id = ?`,
			opsStart.AddDate(0, 0, -1), sub2,
		).Error)

		require.NoError(t, svc.RestoreAccount(ctx, dunningdomain.RestoreAccountRequest{AccountID: acct2.String()}))
		assert.Equal(t, string(accountdomain.AccountStatusActive), env.accountStatus(t, acct2))

		var st string
		require.NoError(t, env.db.Raw(`SELECT status FROM subscriptions WHERE id = ?`, sub2).Scan(&st).Error)
		assert.Equal(t, string(subscriptiondomain.SubscriptionStatusSuspended), st)
	})

	t.Run("MalformedID", func(t *testing.T) {
		assert.ErrorIs(t, svc.RestoreAccount(ctx, dunningdomain.RestoreAccountRequest{AccountID: "zz"}), dunningdomain.ErrInvalidAccount)
	})
}
