// Package domain defines the monitoring engine's alert and report types.
// Alerts are ephemeral and in-memory only; they never touch durable storage.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Alert types.
const (
	AlertLowBalance        = "low_balance"
	AlertHighUsage         = "high_usage"
	AlertNegativeBalance   = "negative_balance"
	AlertSuspiciousPattern = "suspicious_pattern"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is an in-memory monitoring event. Entries expire after the retention
// window and are discarded when the queue overflows its cap.
type Alert struct {
	ID        string         `json:"id"`
	UserID    snowflake.ID   `json:"user_id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PatternReport summarizes a user's trailing usage across all their brands.
// A user with no brands or no history gets a zeroed report, not an error.
type PatternReport struct {
	UserID      snowflake.ID `json:"user_id"`
	WindowDays  int          `json:"window_days"`
	ActiveDays  int          `json:"active_days"`
	TotalTokens int64        `json:"total_tokens"`
	MeanDaily   float64      `json:"mean_daily"`
	PeakDaily   int64        `json:"peak_daily"`
	Suspicious  bool         `json:"suspicious_activity"`
}

// SystemStats is a read-only snapshot across all users.
type SystemStats struct {
	TotalUsers      int64   `json:"total_users"`
	MeanBalance     float64 `json:"mean_balance"`
	UsersLowBalance int64   `json:"users_low_balance"`
	TokensToday     int64   `json:"tokens_today"`
	ActiveAlerts    int     `json:"active_alerts"`
}

// Service is the monitoring surface. MonitorDeduction appends alerts; the
// rest are reads.
type Service interface {
	// MonitorDeduction inspects the post-deduction balance and recent
	// amount, appending threshold alerts as needed. It never fails; storage
	// errors are logged and absorbed.
	MonitorDeduction(ctx context.Context, userID snowflake.ID, amountDeducted int64, taskType string, succeeded bool)
	AnalyzeUserPattern(ctx context.Context, userID snowflake.ID) (PatternReport, error)
	// GetAlerts returns unexpired alerts, newest first. A zero userID
	// returns alerts for all users.
	GetAlerts(userID snowflake.ID) []Alert
	GetSystemStats(ctx context.Context) (SystemStats, error)
}
