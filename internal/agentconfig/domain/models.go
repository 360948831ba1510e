// Package domain defines agent configuration, prompt and performance models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AgentConfiguration holds the runtime parameters for one named agent.
// Capabilities is a set: writes deduplicate while preserving first-seen order.
type AgentConfiguration struct {
	ID            snowflake.ID                `json:"id" gorm:"primaryKey"`
	AgentName     string                      `json:"agent_name" gorm:"type:text;not null;uniqueIndex:ux_agent_config_name"`
	DisplayName   string                      `json:"display_name" gorm:"type:text"`
	IsActive      bool                        `json:"is_active" gorm:"not null;default:true"`
	DefaultModel  string                      `json:"default_model" gorm:"type:text;not null"`
	FallbackModel string                      `json:"fallback_model" gorm:"type:text"`
	MaxTokens     int                         `json:"max_tokens" gorm:"not null;default:2048"`
	Temperature   float64                     `json:"temperature" gorm:"not null;default:0.7"`
	Capabilities  datatypes.JSONSlice[string] `json:"capabilities,omitempty" gorm:"type:json"`
	Metadata      datatypes.JSONMap           `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt     time.Time                   `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time                   `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AgentConfiguration) TableName() string { return "agent_configurations" }

// AgentPrompt is one version of a prompt template. Exactly one version per
// (agent_name, prompt_key) is active at a time.
type AgentPrompt struct {
	ID        snowflake.ID                `json:"id" gorm:"primaryKey"`
	AgentName string                      `json:"agent_name" gorm:"type:text;not null;uniqueIndex:ux_agent_prompt_key,priority:1"`
	PromptKey string                      `json:"prompt_key" gorm:"type:text;not null;uniqueIndex:ux_agent_prompt_key,priority:2"`
	Version   int                         `json:"version" gorm:"not null;default:1;uniqueIndex:ux_agent_prompt_key,priority:3"`
	Template  string                      `json:"template" gorm:"type:text;not null"`
	Variables datatypes.JSONSlice[string] `json:"variables,omitempty" gorm:"type:json"`
	Notes     string                      `json:"notes" gorm:"type:text"`
	IsActive  bool                        `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time                   `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time                   `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AgentPrompt) TableName() string { return "agent_prompts" }

// AgentPerformance is one append-only execution sample.
type AgentPerformance struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	AgentName       string       `json:"agent_name" gorm:"type:text;not null;index"`
	Model           string       `json:"model" gorm:"type:text;not null"`
	TaskType        string       `json:"task_type" gorm:"type:text;not null"`
	TokensUsed      int64        `json:"tokens_used" gorm:"not null;default:0"`
	ExecutionTimeMs float64      `json:"execution_time_ms" gorm:"not null;default:0"`
	Success         bool         `json:"success" gorm:"not null;default:true"`
	Error           string       `json:"error,omitempty" gorm:"type:text"`
	QualityScore    *float64     `json:"quality_score,omitempty"`
	CostEstimate    *float64     `json:"cost_estimate,omitempty"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AgentPerformance) TableName() string { return "agent_performances" }

// ModelStats is the per-model slice of performance analytics.
type ModelStats struct {
	Calls       int64   `json:"calls"`
	SuccessRate float64 `json:"success_rate"`
	AvgTokens   float64 `json:"avg_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// PerformanceAnalytics aggregates an agent's trailing execution samples.
type PerformanceAnalytics struct {
	AgentName        string                `json:"agent_name"`
	DaysBack         int                   `json:"days_back"`
	TotalCalls       int64                 `json:"total_calls"`
	SuccessRate      float64               `json:"success_rate"`
	AvgExecutionTime float64               `json:"avg_execution_time"`
	AvgTokensUsed    float64               `json:"avg_tokens_used"`
	TotalCost        float64               `json:"total_cost"`
	ModelBreakdown   map[string]ModelStats `json:"model_breakdown"`
}

var (
	ErrInvalidAgentName = errors.New("invalid_agent_name")
	ErrInvalidPromptKey = errors.New("invalid_prompt_key")
	ErrEmptyUpdate      = errors.New("empty_update")
)
