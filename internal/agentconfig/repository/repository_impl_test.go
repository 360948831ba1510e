package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	"github.com/andora/tokenledger/internal/clock"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestInsertPromptVersionKeepsSingleActive(t *testing.T) {
	repo, db, _ := setupRepo(t)
	ctx := context.Background()

	v1, err := repo.InsertPromptVersion(ctx, &agentdomain.AgentPrompt{
		AgentName: "writer", PromptKey: "greeting", Template: "Hello {{name}}",
	})
	if err != nil {
		t.Fatalf("first version: %v", err)
	}
	v2, err := repo.InsertPromptVersion(ctx, &agentdomain.AgentPrompt{
		AgentName: "writer", PromptKey: "greeting", Template: "Hi {{name}}",
		Variables: datatypes.NewJSONSlice([]string{"name", "count", "alerts"}),
	})
	if err != nil {
		t.Fatalf("second version: %v", err)
	}
	if v1 != 1 || v2 != 2 {
		t.Fatalf("expected versions 1 and 2, got %d and %d", v1, v2)
	}

	var activeCount int
	if err := db.Raw(
		`SELECT COUNT(1) FROM agent_prompts WHERE agent_name = 'writer' AND prompt_key = 'greeting' AND is_active = 1`,
	).Scan(&activeCount).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active version, got %d", activeCount)
	}

	active, err := repo.FindActivePrompt(ctx, "writer", "greeting")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active == nil || active.Version != 2 || active.Template != "Hi {{name}}" {
		t.Fatalf("expected newest version active, got %+v", active)
	}
	if len(active.Variables) != 3 || active.Variables[0] != "name" || active.Variables[2] != "alerts" {
		t.Fatalf("expected variables as an ordered list, got %v", active.Variables)
	}
}

func TestUpsertActivePromptOverwritesInPlace(t *testing.T) {
	repo, db, _ := setupRepo(t)
	ctx := context.Background()

	if _, err := repo.UpsertActivePrompt(ctx, &agentdomain.AgentPrompt{
		AgentName: "writer", PromptKey: "greeting", Template: "Hello", Notes: "v1",
	}); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}
	version, err := repo.UpsertActivePrompt(ctx, &agentdomain.AgentPrompt{
		AgentName: "writer", PromptKey: "greeting", Template: "Hello there", Notes: "edited",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected in-place overwrite to keep version 1, got %d", version)
	}

	var rowCount int
	if err := db.Raw(`SELECT COUNT(1) FROM agent_prompts`).Scan(&rowCount).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("expected single row, got %d", rowCount)
	}

	active, err := repo.FindActivePrompt(ctx, "writer", "greeting")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active.Template != "Hello there" || active.Notes != "edited" {
		t.Fatalf("expected overwrite applied, got %+v", active)
	}
}

func TestUpdateConfigAppliesPartialFields(t *testing.T) {
	repo, db, _ := setupRepo(t)
	ctx := context.Background()

	seedConfig(t, db, "writer")

	updated, err := repo.UpdateConfig(ctx, "writer", map[string]any{"default_model": "beta"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DefaultModel != "beta" {
		t.Fatalf("expected model updated, got %q", updated.DefaultModel)
	}
	if updated.DisplayName != "Writer" || updated.FallbackModel != "omega" || updated.Temperature != 0.7 {
		t.Fatalf("expected untouched fields preserved, got %+v", updated)
	}
}

func TestUpdateConfigPersistsCapabilitiesAndMetadata(t *testing.T) {
	repo, db, _ := setupRepo(t)
	ctx := context.Background()

	seedConfig(t, db, "writer")

	updated, err := repo.UpdateConfig(ctx, "writer", map[string]any{
		"display_name":   "Drafting Agent",
		"fallback_model": "gamma",
		"capabilities":   datatypes.NewJSONSlice([]string{"draft", "edit"}),
		"metadata":       datatypes.JSONMap{"team": "content"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DisplayName != "Drafting Agent" || updated.FallbackModel != "gamma" {
		t.Fatalf("expected renames applied, got %+v", updated)
	}
	if len(updated.Capabilities) != 2 || updated.Capabilities[0] != "draft" || updated.Capabilities[1] != "edit" {
		t.Fatalf("expected capabilities stored in order, got %v", updated.Capabilities)
	}
	if updated.Metadata["team"] != "content" {
		t.Fatalf("expected metadata stored, got %v", updated.Metadata)
	}

	// Round trip from the store, not the write path.
	reloaded, err := repo.FindConfig(ctx, "writer")
	if err != nil || reloaded == nil {
		t.Fatalf("reload: cfg=%v err=%v", reloaded, err)
	}
	if len(reloaded.Capabilities) != 2 || reloaded.Capabilities[0] != "draft" {
		t.Fatalf("expected capabilities round trip, got %v", reloaded.Capabilities)
	}
}

func TestUpdateConfigStampsClockTime(t *testing.T) {
	repo, db, fake := setupRepo(t)
	ctx := context.Background()

	seedConfig(t, db, "writer")
	fake.Advance(48 * time.Hour)

	updated, err := repo.UpdateConfig(ctx, "writer", map[string]any{"default_model": "beta"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.Equal(fake.Now()) {
		t.Fatalf("expected updated_at %v, got %v", fake.Now(), updated.UpdatedAt)
	}
}

func TestUpdateConfigMissingAgentIsAbsent(t *testing.T) {
	repo, _, _ := setupRepo(t)
	updated, err := repo.UpdateConfig(context.Background(), "ghost", map[string]any{"default_model": "beta"})
	if err != nil || updated != nil {
		t.Fatalf("expected absent result, got cfg=%v err=%v", updated, err)
	}
}

func TestAggregatePerformance(t *testing.T) {
	repo, _, _ := setupRepo(t)
	ctx := context.Background()

	cost := func(v float64) *float64 { return &v }
	samples := []*agentdomain.AgentPerformance{
		{AgentName: "writer", Model: "alpha", TaskType: "chat", TokensUsed: 100, ExecutionTimeMs: 200, Success: true, CostEstimate: cost(0.02), CreatedAt: time.Now().UTC()},
		{AgentName: "writer", Model: "alpha", TaskType: "chat", TokensUsed: 300, ExecutionTimeMs: 400, Success: false, Error: "timeout", CostEstimate: cost(0.04), CreatedAt: time.Now().UTC()},
		{AgentName: "writer", Model: "beta", TaskType: "chat", TokensUsed: 200, ExecutionTimeMs: 300, Success: true, CostEstimate: cost(0.10), CreatedAt: time.Now().UTC()},
	}
	for _, sample := range samples {
		if err := repo.InsertPerformance(ctx, sample); err != nil {
			t.Fatalf("insert sample: %v", err)
		}
	}

	analytics, err := repo.AggregatePerformance(ctx, "writer", time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if analytics.TotalCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", analytics.TotalCalls)
	}
	if analytics.AvgTokensUsed != 200 {
		t.Fatalf("expected avg tokens 200, got %v", analytics.AvgTokensUsed)
	}
	if analytics.TotalCost < 0.159 || analytics.TotalCost > 0.161 {
		t.Fatalf("expected total cost 0.16, got %v", analytics.TotalCost)
	}
	if len(analytics.ModelBreakdown) != 2 {
		t.Fatalf("expected 2 models, got %v", analytics.ModelBreakdown)
	}
	alpha := analytics.ModelBreakdown["alpha"]
	if alpha.Calls != 2 || alpha.SuccessRate != 0.5 {
		t.Fatalf("unexpected alpha stats: %+v", alpha)
	}
}

func TestAggregatePerformanceEmptyAgent(t *testing.T) {
	repo, _, _ := setupRepo(t)
	analytics, err := repo.AggregatePerformance(context.Background(), "ghost", time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if analytics.TotalCalls != 0 || len(analytics.ModelBreakdown) != 0 {
		t.Fatalf("expected zeroed analytics, got %+v", analytics)
	}
}

// -- Helpers --

func setupRepo(t *testing.T) (agentdomain.Repository, *gorm.DB, *clock.FakeClock) {
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
	prepareAgentSchema(t, db)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return Provide(db, mustNode(t), fake), db, fake
}

func seedConfig(t *testing.T, db *gorm.DB, agentName string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(`INSERT INTO agent_configurations
		(id, agent_name, display_name, is_active, default_model, fallback_model, max_tokens, temperature, created_at, updated_at)
		VALUES (?, ?, 'Writer', 1, 'alpha', 'omega', 2048, 0.7, ?, ?)`,
		mustNode(t).Generate(), agentName, now, now).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func prepareAgentSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE agent_configurations (
		id BIGINT PRIMARY KEY,
		agent_name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		default_model TEXT NOT NULL,
		fallback_model TEXT,
		max_tokens INTEGER NOT NULL DEFAULT 2048,
		temperature REAL NOT NULL DEFAULT 0.7,
		capabilities JSON,
		metadata JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create agent_configurations: %v", err)
	}
	if err := db.Exec(`CREATE TABLE agent_prompts (
		id BIGINT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		prompt_key TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		template TEXT NOT NULL,
		variables JSON,
		notes TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create agent_prompts: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_agent_prompt_key
		ON agent_prompts (agent_name, prompt_key, version)`).Error; err != nil {
		t.Fatalf("create prompt index: %v", err)
	}
	if err := db.Exec(`CREATE TABLE agent_performances (
		id BIGINT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		model TEXT NOT NULL,
		task_type TEXT NOT NULL,
		tokens_used BIGINT NOT NULL DEFAULT 0,
		execution_time_ms REAL NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT 1,
		error TEXT,
		quality_score REAL,
		cost_estimate REAL,
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create agent_performances: %v", err)
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
