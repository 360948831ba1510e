// Package domain defines the usage rollup projections. Both reports are
// pure reads over the ledger; neither mutates state.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// DailyUsage is one day of a rollup series. Date is formatted YYYY-MM-DD.
type DailyUsage struct {
	Date   string `json:"date"`
	Tokens int64  `json:"tokens"`
}

// MonthlySummary covers one brand over one calendar month. Months with no
// usage carry zero totals and empty collections, never an error.
type MonthlySummary struct {
	BrandID snowflake.ID     `json:"brand_id"`
	Month   int              `json:"month"`
	Year    int              `json:"year"`
	Total   int64            `json:"total"`
	ByTask  map[string]int64 `json:"by_task"`
	Daily   []DailyUsage     `json:"daily"`
}

// UsageBreakdown unions a user's usage across all their brands over the
// trailing window. Zero-brand users get empty structures.
type UsageBreakdown struct {
	UserID snowflake.ID     `json:"user_id"`
	Days   int              `json:"days"`
	Total  int64            `json:"total"`
	ByTask map[string]int64 `json:"by_task"`
	Daily  []DailyUsage     `json:"daily"`
}

// Service is the reporting read surface.
type Service interface {
	GetMonthlySummary(ctx context.Context, brandID snowflake.ID, month, year int) (MonthlySummary, error)
	GetUserUsageBreakdown(ctx context.Context, userID snowflake.ID, days int) (UsageBreakdown, error)
}

var (
	ErrInvalidMonth = errors.New("invalid_month")
	ErrInvalidID    = errors.New("invalid_id")
)
