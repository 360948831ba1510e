package domain

import (
	"context"
	"time"
)

// UpsertPromptRequest writes a prompt template. With CreateNewVersion set,
// the write allocates version max+1 and flips the active flag to it
// atomically; otherwise the currently active row is overwritten in place.
type UpsertPromptRequest struct {
	AgentName        string   `json:"agent_name"`
	PromptKey        string   `json:"prompt_key"`
	Template         string   `json:"template"`
	Variables        []string `json:"variables,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	CreateNewVersion bool     `json:"create_new_version"`
}

// TrackPerformanceRequest is one execution sample. Fire-and-forget: the
// service logs storage failures instead of raising them.
type TrackPerformanceRequest struct {
	AgentName       string   `json:"agent_name"`
	Model           string   `json:"model"`
	TaskType        string   `json:"task_type"`
	TokensUsed      int64    `json:"tokens_used"`
	ExecutionTimeMs float64  `json:"execution_time_ms"`
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	QualityScore    *float64 `json:"quality_score,omitempty"`
	CostEstimate    *float64 `json:"cost_estimate,omitempty"`
}

// Service is the configuration and prompt surface. Missing configs and
// prompts come back as (nil, nil), never as errors.
type Service interface {
	// GetConfig serves from the cache when useCache is set and the entry
	// is inside its expiry window. Cache population is fixed-window:
	// reads never renew the expiry.
	GetConfig(ctx context.Context, agentName string, useCache bool) (*AgentConfiguration, error)
	// UpdateConfig applies only the fields present in updates and evicts
	// the cache entry; the next read is a guaranteed miss.
	UpdateConfig(ctx context.Context, agentName string, updates map[string]any) (*AgentConfiguration, error)
	GetAllConfigs(ctx context.Context) ([]AgentConfiguration, error)

	GetPrompts(ctx context.Context, agentName string) ([]AgentPrompt, error)
	// GetPrompt returns the active version, cached until the next write
	// for the same key.
	GetPrompt(ctx context.Context, agentName, promptKey string) (*AgentPrompt, error)
	// UpsertPrompt returns the version the template landed on.
	UpsertPrompt(ctx context.Context, req UpsertPromptRequest) (int, error)

	TrackPerformance(ctx context.Context, req TrackPerformanceRequest)
	GetPerformanceAnalytics(ctx context.Context, agentName string, daysBack int) (PerformanceAnalytics, error)

	// ClearCaches empties the in-memory config and prompt caches only;
	// durable rows are untouched.
	ClearCaches()
}

// Repository is the durable-store access the service caches over. Kept as
// an interface so tests can count round trips.
type Repository interface {
	FindConfig(ctx context.Context, agentName string) (*AgentConfiguration, error)
	ListConfigs(ctx context.Context) ([]AgentConfiguration, error)
	UpdateConfig(ctx context.Context, agentName string, updates map[string]any) (*AgentConfiguration, error)

	ListPrompts(ctx context.Context, agentName string) ([]AgentPrompt, error)
	FindActivePrompt(ctx context.Context, agentName, promptKey string) (*AgentPrompt, error)
	InsertPromptVersion(ctx context.Context, prompt *AgentPrompt) (int, error)
	UpsertActivePrompt(ctx context.Context, prompt *AgentPrompt) (int, error)

	InsertPerformance(ctx context.Context, sample *AgentPerformance) error
	AggregatePerformance(ctx context.Context, agentName string, since time.Time) (PerformanceAnalytics, error)
}
