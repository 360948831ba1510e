package service

import (
	"context"
	"fmt"
	"time"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	"github.com/andora/tokenledger/internal/clock"
	"github.com/andora/tokenledger/internal/config"
	"github.com/andora/tokenledger/internal/monitoring/domain"
	obsmetrics "github.com/andora/tokenledger/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const patternWindowDays = 7

type EngineParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Accounts   accountdomain.Repository
	Holder     *config.MonitoringConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Engine watches deductions and keeps the in-memory alert queue. One engine
// per process; its queue dies with the process.
type Engine struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	accounts   accountdomain.Repository
	holder     *config.MonitoringConfigHolder
	obsMetrics *obsmetrics.Metrics
	queue      *alertQueue
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		db:         p.DB,
		log:        p.Log.Named("monitoring.engine"),
		clock:      p.Clock,
		accounts:   p.Accounts,
		holder:     p.Holder,
		obsMetrics: p.ObsMetrics,
		queue:      newAlertQueue(),
	}
}

// ObserveDeduction satisfies the usage recorder's deduction observer.
func (e *Engine) ObserveDeduction(ctx context.Context, userID snowflake.ID, amountDeducted int64, taskType string, succeeded bool) {
	e.MonitorDeduction(ctx, userID, amountDeducted, taskType, succeeded)
}

func (e *Engine) MonitorDeduction(ctx context.Context, userID snowflake.ID, amountDeducted int64, taskType string, succeeded bool) {
	user, err := e.accounts.FindUser(ctx, e.db, userID)
	if err != nil {
		e.log.Error("monitor deduction: balance read failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	if user == nil {
		return
	}

	cfg := e.holder.Get()
	balance := user.TokenBalance

	switch {
	case balance < 0:
		// Unreachable through the recorder's clamp; catches direct
		// external mutations of the balance column.
		e.raise(ctx, domain.Alert{
			UserID:   userID,
			Type:     domain.AlertNegativeBalance,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("balance is negative: %d", balance),
			Details: map[string]any{
				"balance":   balance,
				"task_type": taskType,
				"succeeded": succeeded,
			},
		})
	case balance < cfg.LowBalanceThreshold:
		e.raise(ctx, domain.Alert{
			UserID:   userID,
			Type:     domain.AlertLowBalance,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("balance %d below threshold %d", balance, cfg.LowBalanceThreshold),
			Details: map[string]any{
				"balance":   balance,
				"threshold": cfg.LowBalanceThreshold,
				"task_type": taskType,
			},
		})
	}

	if amountDeducted > cfg.HighUsageThreshold {
		e.raise(ctx, domain.Alert{
			UserID:   userID,
			Type:     domain.AlertHighUsage,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("single deduction of %d exceeds threshold %d", amountDeducted, cfg.HighUsageThreshold),
			Details: map[string]any{
				"amount":    amountDeducted,
				"threshold": cfg.HighUsageThreshold,
				"task_type": taskType,
			},
		})
	}
}

func (e *Engine) AnalyzeUserPattern(ctx context.Context, userID snowflake.ID) (domain.PatternReport, error) {
	report := domain.PatternReport{UserID: userID, WindowDays: patternWindowDays}

	brandIDs, err := e.accounts.BrandIDs(ctx, e.db, userID)
	if err != nil {
		return report, err
	}
	if len(brandIDs) == 0 {
		return report, nil
	}

	since := truncateToDay(e.clock.Now()).AddDate(0, 0, -(patternWindowDays - 1))
	var rows []struct {
		UsageDate time.Time `gorm:"column:usage_date"`
		Total     int64     `gorm:"column:total"`
	}
	err = e.db.WithContext(ctx).Raw(`
		SELECT usage_date, SUM(tokens_used) AS total
		FROM usage_records
		WHERE brand_id IN ? AND usage_date >= ?
		GROUP BY usage_date`, brandIDs, since).Scan(&rows).Error
	if err != nil {
		return report, err
	}
	if len(rows) == 0 {
		return report, nil
	}

	for _, row := range rows {
		report.TotalTokens += row.Total
		if row.Total > report.PeakDaily {
			report.PeakDaily = row.Total
		}
	}
	report.ActiveDays = len(rows)
	// Mean over the full window, zero days included; otherwise a single
	// spike could never clear the 5x bar.
	report.MeanDaily = float64(report.TotalTokens) / float64(patternWindowDays)
	report.Suspicious = report.ActiveDays >= 3 && float64(report.PeakDaily) > 5*report.MeanDaily

	if report.Suspicious {
		e.raise(ctx, domain.Alert{
			UserID:   userID,
			Type:     domain.AlertSuspiciousPattern,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("peak daily usage %d is over 5x the %0.1f mean", report.PeakDaily, report.MeanDaily),
			Details: map[string]any{
				"peak_daily":  report.PeakDaily,
				"mean_daily":  report.MeanDaily,
				"active_days": report.ActiveDays,
			},
		})
	}
	return report, nil
}

func (e *Engine) GetAlerts(userID snowflake.ID) []domain.Alert {
	return e.queue.snapshot(userID, e.retentionCutoff())
}

func (e *Engine) GetSystemStats(ctx context.Context) (domain.SystemStats, error) {
	cfg := e.holder.Get()
	stats := domain.SystemStats{ActiveAlerts: e.queue.countLive(e.retentionCutoff())}

	var userRow struct {
		Total int64   `gorm:"column:total"`
		Mean  float64 `gorm:"column:mean"`
		Low   int64   `gorm:"column:low"`
	}
	err := e.db.WithContext(ctx).Raw(`
		SELECT COUNT(1) AS total,
		       COALESCE(AVG(token_balance), 0) AS mean,
		       COALESCE(SUM(CASE WHEN token_balance < ? THEN 1 ELSE 0 END), 0) AS low
		FROM users`, cfg.LowBalanceThreshold).Scan(&userRow).Error
	if err != nil {
		return stats, err
	}
	stats.TotalUsers = userRow.Total
	stats.MeanBalance = userRow.Mean
	stats.UsersLowBalance = userRow.Low

	today := truncateToDay(e.clock.Now())
	var tokensToday int64
	err = e.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(tokens_used), 0)
		FROM usage_records
		WHERE usage_date = ?`, today).Scan(&tokensToday).Error
	if err != nil {
		return stats, err
	}
	stats.TokensToday = tokensToday
	return stats, nil
}

// TrimExpiredAlerts drops entries past the retention window and reports how
// many were removed. The scheduler calls this so a quiet queue does not hold
// stale alerts until the next read.
func (e *Engine) TrimExpiredAlerts() int {
	return e.queue.dropExpired(e.retentionCutoff())
}

func (e *Engine) raise(ctx context.Context, alert domain.Alert) {
	alert.ID = uuid.NewString()
	alert.CreatedAt = e.clock.Now()
	e.queue.append(alert)
	if e.obsMetrics != nil {
		e.obsMetrics.RecordAlert(ctx, alert.Type, alert.Severity)
	}
	e.log.Warn("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.Type),
		zap.String("severity", alert.Severity),
		zap.String("user_id", alert.UserID.String()),
		zap.String("message", alert.Message),
	)
}

func (e *Engine) retentionCutoff() time.Time {
	return e.clock.Now().Add(-e.holder.Get().AlertRetention)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
