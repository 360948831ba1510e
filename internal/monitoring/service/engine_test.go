package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	accountrepo "github.com/andora/tokenledger/internal/account/repository"
	"github.com/andora/tokenledger/internal/clock"
	"github.com/andora/tokenledger/internal/config"
	"github.com/andora/tokenledger/internal/monitoring/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMonitorDeductionHighUsage(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, _ := setupEngine(t)
	seedUser(t, db, userID, 10000)

	engine.MonitorDeduction(context.Background(), userID, 6000, "chat", true)

	alerts := engine.GetAlerts(userID)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.Type != domain.AlertHighUsage || alert.Severity != domain.SeverityWarning {
		t.Fatalf("expected high_usage warning, got %s/%s", alert.Type, alert.Severity)
	}
	if alert.Details["amount"] != int64(6000) {
		t.Fatalf("expected amount 6000 in details, got %v", alert.Details["amount"])
	}
}

func TestMonitorDeductionLowBalance(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, _ := setupEngine(t)
	seedUser(t, db, userID, 500)

	engine.MonitorDeduction(context.Background(), userID, 100, "chat", true)

	alerts := engine.GetAlerts(userID)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertLowBalance {
		t.Fatalf("expected a low_balance alert, got %+v", alerts)
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected warning severity, got %s", alerts[0].Severity)
	}
}

func TestMonitorDeductionNegativeBalance(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, _ := setupEngine(t)
	seedUser(t, db, userID, -300)

	engine.MonitorDeduction(context.Background(), userID, 100, "chat", true)

	alerts := engine.GetAlerts(userID)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertNegativeBalance {
		t.Fatalf("expected a negative_balance alert, got %+v", alerts)
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", alerts[0].Severity)
	}
}

func TestMonitorDeductionHealthyBalanceIsQuiet(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, _ := setupEngine(t)
	seedUser(t, db, userID, 5000)

	engine.MonitorDeduction(context.Background(), userID, 100, "chat", true)

	if alerts := engine.GetAlerts(0); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}

func TestMonitorDeductionUnknownUserIsNoop(t *testing.T) {
	node := mustNode(t)
	engine, _, _ := setupEngine(t)

	engine.MonitorDeduction(context.Background(), node.Generate(), 9000, "chat", true)

	if alerts := engine.GetAlerts(0); len(alerts) != 0 {
		t.Fatalf("expected no alerts for unknown user, got %+v", alerts)
	}
}

func TestAlertsExpireLazily(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, fake := setupEngine(t)
	seedUser(t, db, userID, 100)

	engine.MonitorDeduction(context.Background(), userID, 50, "chat", true)
	if len(engine.GetAlerts(userID)) != 1 {
		t.Fatalf("expected alert before retention window elapsed")
	}

	fake.Advance(25 * time.Hour)
	if alerts := engine.GetAlerts(userID); len(alerts) != 0 {
		t.Fatalf("expected alert expired after 25h, got %+v", alerts)
	}
}

func TestTrimExpiredAlerts(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, fake := setupEngine(t)
	seedUser(t, db, userID, 100)

	engine.MonitorDeduction(context.Background(), userID, 50, "chat", true)
	fake.Advance(25 * time.Hour)
	engine.MonitorDeduction(context.Background(), userID, 50, "chat", true)

	if removed := engine.TrimExpiredAlerts(); removed != 1 {
		t.Fatalf("expected 1 expired alert removed, got %d", removed)
	}
	if alerts := engine.GetAlerts(userID); len(alerts) != 1 {
		t.Fatalf("expected 1 live alert after trim, got %d", len(alerts))
	}
}

func TestAlertQueueTrimsToNewestHalf(t *testing.T) {
	q := newAlertQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < queueCap+1; i++ {
		q.append(domain.Alert{
			ID:        fmt.Sprintf("a-%d", i),
			Type:      domain.AlertLowBalance,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	live := q.snapshot(0, base.Add(-time.Hour))
	if len(live) != queueTrimTo {
		t.Fatalf("expected queue trimmed to %d, got %d", queueTrimTo, len(live))
	}
	// Newest first, and the newest entry must have survived the trim.
	if live[0].ID != fmt.Sprintf("a-%d", queueCap) {
		t.Fatalf("expected newest alert retained, got %s", live[0].ID)
	}
}

func TestAnalyzeUserPatternFlagsSpikes(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	brandID := node.Generate()

	engine, db, fake := setupEngine(t)
	seedUser(t, db, userID, 10000)
	seedBrand(t, db, brandID, userID)

	today := truncateToDay(fake.Now())
	seedUsage(t, db, node, brandID, today.AddDate(0, 0, -2), "chat", 100)
	seedUsage(t, db, node, brandID, today.AddDate(0, 0, -1), "chat", 100)
	seedUsage(t, db, node, brandID, today, "chat", 5000)

	report, err := engine.AnalyzeUserPattern(context.Background(), userID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.TotalTokens != 5200 || report.PeakDaily != 5000 || report.ActiveDays != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !report.Suspicious {
		t.Fatalf("expected suspicious flag, got %+v", report)
	}

	alerts := engine.GetAlerts(userID)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertSuspiciousPattern {
		t.Fatalf("expected suspicious_pattern alert, got %+v", alerts)
	}
}

func TestAnalyzeUserPatternSteadyUsageNotSuspicious(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()
	brandID := node.Generate()

	engine, db, fake := setupEngine(t)
	seedUser(t, db, userID, 10000)
	seedBrand(t, db, brandID, userID)

	today := truncateToDay(fake.Now())
	for i := 0; i < 5; i++ {
		seedUsage(t, db, node, brandID, today.AddDate(0, 0, -i), "chat", 400)
	}

	report, err := engine.AnalyzeUserPattern(context.Background(), userID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Suspicious {
		t.Fatalf("steady usage flagged suspicious: %+v", report)
	}
	if len(engine.GetAlerts(userID)) != 0 {
		t.Fatalf("expected no alerts for steady usage")
	}
}

func TestAnalyzeUserPatternNoBrandsIsZeroed(t *testing.T) {
	node := mustNode(t)
	userID := node.Generate()

	engine, db, _ := setupEngine(t)
	seedUser(t, db, userID, 10000)

	report, err := engine.AnalyzeUserPattern(context.Background(), userID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.TotalTokens != 0 || report.ActiveDays != 0 || report.Suspicious {
		t.Fatalf("expected zeroed report, got %+v", report)
	}
}

func TestGetSystemStats(t *testing.T) {
	node := mustNode(t)
	richUser := node.Generate()
	poorUser := node.Generate()
	brandID := node.Generate()

	engine, db, fake := setupEngine(t)
	seedUser(t, db, richUser, 9000)
	seedUser(t, db, poorUser, 200)
	seedBrand(t, db, brandID, richUser)
	seedUsage(t, db, node, brandID, truncateToDay(fake.Now()), "chat", 750)

	engine.MonitorDeduction(context.Background(), poorUser, 10, "chat", true)

	stats, err := engine.GetSystemStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUsers != 2 {
		t.Fatalf("expected 2 users, got %d", stats.TotalUsers)
	}
	if stats.MeanBalance != 4600 {
		t.Fatalf("expected mean balance 4600, got %v", stats.MeanBalance)
	}
	if stats.UsersLowBalance != 1 {
		t.Fatalf("expected 1 low-balance user, got %d", stats.UsersLowBalance)
	}
	if stats.TokensToday != 750 {
		t.Fatalf("expected 750 tokens today, got %d", stats.TokensToday)
	}
	if stats.ActiveAlerts != 1 {
		t.Fatalf("expected 1 active alert, got %d", stats.ActiveAlerts)
	}
}

// -- Helpers --

func setupEngine(t *testing.T) (*Engine, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	prepareMonitoringSchema(t, db)

	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	engine := NewEngine(EngineParam{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fake,
		Accounts: accountrepo.Provide(),
		Holder:   config.NewStaticMonitoringConfigHolder(config.DefaultMonitoringConfig()),
	})
	return engine, db, fake
}

func prepareMonitoringSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE users (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL,
		plan TEXT NOT NULL DEFAULT 'free',
		token_balance BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create users: %v", err)
	}
	if err := db.Exec(`CREATE TABLE brands (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create brands: %v", err)
	}
	if err := db.Exec(`CREATE TABLE usage_records (
		id BIGINT PRIMARY KEY,
		brand_id BIGINT NOT NULL,
		usage_date DATETIME NOT NULL,
		task_type TEXT NOT NULL,
		tokens_used BIGINT NOT NULL DEFAULT 0,
		metadata JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create usage_records: %v", err)
	}
}

func seedUser(t *testing.T, db *gorm.DB, id snowflake.ID, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO users (id, email, plan, token_balance, created_at, updated_at) VALUES (?, ?, 'pro', ?, ?, ?)`,
		id, fmt.Sprintf("user-%s@example.com", id), balance, now, now,
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedBrand(t *testing.T, db *gorm.DB, id, userID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO brands (id, user_id, name, created_at, updated_at) VALUES (?, ?, 'Test Brand', ?, ?)`,
		id, userID, now, now,
	).Error; err != nil {
		t.Fatalf("seed brand: %v", err)
	}
}

func seedUsage(t *testing.T, db *gorm.DB, node *snowflake.Node, brandID snowflake.ID, day time.Time, taskType string, tokens int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO usage_records (id, brand_id, usage_date, task_type, tokens_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		node.Generate(), brandID, day, taskType, tokens, now, now,
	).Error; err != nil {
		t.Fatalf("seed usage: %v", err)
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
