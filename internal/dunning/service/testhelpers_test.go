package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/wirebill/wirebill/internal/account/domain"
	"github.com/wirebill/wirebill/internal/clock"
	"github.com/wirebill/wirebill/internal/config"
	eventservice "github.com/wirebill/wirebill/internal/event/service"
	invoicedomain "github.com/wirebill/wirebill/internal/invoice/domain"
	notificationservice "github.com/wirebill/wirebill/internal/notification/service"
	policydomain "github.com/wirebill/wirebill/internal/policy/domain"
	policyservice "github.com/wirebill/wirebill/internal/policy/service"
	"github.com/wirebill/wirebill/internal/settings"
	subscriptiondomain "github.com/wirebill/wirebill/internal/subscription/domain"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		grace_period_days INTEGER,
		min_balance BIGINT,
		credit_balance BIGINT NOT NULL DEFAULT 0,
		prepaid_low_balance_at TIMESTAMP,
		prepaid_deactivation_at TIMESTAMP,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		offer_id BIGINT NOT NULL,
		offer_version_id BIGINT,
		status TEXT NOT NULL DEFAULT 'active',
		billing_mode TEXT NOT NULL DEFAULT 'postpaid',
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		policy_set_id BIGINT,
		radius_profile_id BIGINT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS offer_versions (
		id BIGINT PRIMARY KEY,
		offer_id BIGINT NOT NULL,
		policy_set_id BIGINT,
		radius_profile_id BIGINT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'issued',
		total BIGINT NOT NULL DEFAULT 0,
		balance BIGINT NOT NULL DEFAULT 0,
		issued_at TIMESTAMP,
		due_at TIMESTAMP NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS policy_sets (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS policy_dunning_steps (
		id BIGINT PRIMARY KEY,
		policy_set_id BIGINT NOT NULL,
		days_overdue INTEGER NOT NULL,
		action TEXT NOT NULL,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS dunning_cases (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		policy_set_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		current_step INTEGER,
		notes TEXT,
		started_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		closed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dunning_action_logs (
		id BIGINT PRIMARY KEY,
		case_id BIGINT NOT NULL,
		invoice_id BIGINT,
		step_days_overdue INTEGER,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_credentials (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		radius_profile_id BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS radius_profiles (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS domain_events (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		account_id BIGINT,
		target_type TEXT,
		target_id TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		domain TEXT NOT NULL,
		"key" TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (domain, "key")
	)`,
}

func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range testSchema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

type testEnv struct {
	db    *gorm.DB
	svc   *Service
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T, name string, at time.Time, cfg config.CollectionsConfig) *testEnv {
	t.Helper()
	db := openTestDB(t, name)
	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(at)

	holder := config.NewStaticCollectionsConfigHolder(cfg)
	svc := &Service{
		db:       db,
		log:      log,
		genID:    node,
		clock:    clk,
		resolver: policyservice.NewResolver(policyservice.ResolverParams{Log: log}),
		sink:     notificationservice.NewOutbox(notificationservice.Params{Log: log, GenID: node, Clock: clk}),
		emitter:  eventservice.NewEmitter(eventservice.Params{Log: log, GenID: node, Clock: clk}),
		settings: settings.NewResolver(settings.Params{DB: db, Log: log}),
		cfg:      holder,
	}
	return &testEnv{db: db, svc: svc, node: node, clock: clk}
}

func (e *testEnv) seedAccount(t *testing.T, status accountdomain.AccountStatus, grace *int) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now()
	err := e.db.Exec(
		`INSERT INTO accounts (id, email, status, grace_period_days, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, "subscriber@example.net", status, grace, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return id
}

func (e *testEnv) seedPolicy(t *testing.T, steps map[int]policydomain.DunningAction) snowflake.ID {
	t.Helper()
	setID := e.node.Generate()
	now := e.clock.Now()
	if err := e.db.Exec(
		`INSERT INTO policy_sets (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		setID, "residential", now, now,
	).Error; err != nil {
		t.Fatalf("seed policy set: %v", err)
	}
	for offset, action := range steps {
		if err := e.db.Exec(
			`INSERT INTO policy_dunning_steps (id, policy_set_id, days_overdue, action, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			e.node.Generate(), setID, offset, action, now,
		).Error; err != nil {
			t.Fatalf("seed policy step: %v", err)
		}
	}
	return setID
}

func (e *testEnv) seedOffer(t *testing.T, policySetID *snowflake.ID, profileID *snowflake.ID) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	if err := e.db.Exec(
		`INSERT INTO offers (id, name, policy_set_id, radius_profile_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, "fiber-100", policySetID, profileID, e.clock.Now(),
	).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return id
}

func (e *testEnv) seedSubscription(t *testing.T, accountID, offerID snowflake.ID, status subscriptiondomain.SubscriptionStatus, mode subscriptiondomain.BillingMode) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now()
	if err := e.db.Exec(
		`INSERT INTO subscriptions (id, account_id, offer_id, status, billing_mode, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, offerID, status, mode, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return id
}

func (e *testEnv) seedInvoice(t *testing.T, accountID snowflake.ID, status invoicedomain.InvoiceStatus, balance int64, dueAt time.Time) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now()
	if err := e.db.Exec(
		`INSERT INTO invoices (id, account_id, status, total, balance, issued_at, due_at, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, status, balance, balance, dueAt.AddDate(0, 0, -14), dueAt, false, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return id
}

func (e *testEnv) seedProfile(t *testing.T, name string, active bool) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	if err := e.db.Exec(
		`INSERT INTO radius_profiles (id, name, is_active, created_at) VALUES (?, ?, ?, ?)`,
		id, name, active, e.clock.Now(),
	).Error; err != nil {
		t.Fatalf("seed radius profile: %v", err)
	}
	return id
}

func (e *testEnv) seedCredential(t *testing.T, accountID snowflake.ID, username string, profileID *snowflake.ID) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	now := e.clock.Now()
	if err := e.db.Exec(
		`INSERT INTO access_credentials (id, account_id, username, status, radius_profile_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, username, "active", profileID, now, now,
	).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return id
}

func (e *testEnv) accountStatus(t *testing.T, accountID snowflake.ID) string {
	t.Helper()
	var status string
	if err := e.db.Raw(`SELECT status FROM accounts WHERE id = ?`, accountID).Scan(&status).Error; err != nil {
		t.Fatalf("read account status: %v", err)
	}
	return status
}

func (e *testEnv) caseRow(t *testing.T, accountID snowflake.ID) (status string, currentStep *int) {
	t.Helper()
	var row struct {
		Status      string
		CurrentStep *int
	}
	err := e.db.Raw(
		`SELECT status, current_step FROM dunning_cases WHERE account_id = ? ORDER BY id DESC LIMIT 1`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		t.Fatalf("read case: %v", err)
	}
	return row.Status, row.CurrentStep
}

func (e *testEnv) countRows(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := e.db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}
