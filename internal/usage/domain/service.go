package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Skip reasons reported by RecordResult when an event is dropped as a
// validation no-op.
const (
	SkipReasonEmptyBrand    = "empty_brand"
	SkipReasonEmptyTaskType = "empty_task_type"
	SkipReasonInvalidAmount = "invalid_amount"
)

// RecordRequest is a completed-operation usage event. TokensUsed is the
// nominal token cost computed upstream.
type RecordRequest struct {
	BrandID    string         `json:"brand_id"`
	TaskType   string         `json:"task_type"`
	TokensUsed float64        `json:"tokens_used"`
	UsageDate  *time.Time     `json:"usage_date,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RecordResult reports what a Record call did. It exists so tests and the
// deduction observer can see the outcome; the HTTP boundary never surfaces
// it to callers, which treat Record as fire-and-forget.
type RecordResult struct {
	Applied    bool
	SkipReason string

	BrandID       snowflake.ID
	UserID        snowflake.ID
	TaskType      string
	AmountDebited int64
	NewBalance    int64

	Err error
}

// Service is the usage recorder write path.
type Service interface {
	// Record applies one usage event: upsert the aggregate and debit the
	// owning user's balance in a single transaction. Validation failures
	// and storage errors are absorbed into the result, never raised.
	Record(ctx context.Context, req RecordRequest) RecordResult
}

// DeductionObserver is notified after every attempted deduction with the
// post-deduction state. The monitoring engine implements it.
type DeductionObserver interface {
	ObserveDeduction(ctx context.Context, userID snowflake.ID, amountDeducted int64, taskType string, succeeded bool)
}
