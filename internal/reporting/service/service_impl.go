package service

import (
	"context"
	"time"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	"github.com/andora/tokenledger/internal/clock"
	reportingdomain "github.com/andora/tokenledger/internal/reporting/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Accounts accountdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	accounts accountdomain.Repository
}

func NewService(p ServiceParam) reportingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reporting.service"),
		clock:    p.Clock,
		accounts: p.Accounts,
	}
}

type usageRow struct {
	UsageDate time.Time `gorm:"column:usage_date"`
	TaskType  string    `gorm:"column:task_type"`
	Tokens    int64     `gorm:"column:tokens"`
}

func (s *Service) GetMonthlySummary(ctx context.Context, brandID snowflake.ID, month, year int) (reportingdomain.MonthlySummary, error) {
	summary := reportingdomain.MonthlySummary{
		BrandID: brandID,
		Month:   month,
		Year:    year,
		ByTask:  map[string]int64{},
		Daily:   []reportingdomain.DailyUsage{},
	}
	if brandID == 0 {
		return summary, reportingdomain.ErrInvalidID
	}
	if month < 1 || month > 12 || year < 1 {
		return summary, reportingdomain.ErrInvalidMonth
	}

	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var rows []usageRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT usage_date, task_type, SUM(tokens_used) AS tokens
		FROM usage_records
		WHERE brand_id = ? AND usage_date >= ? AND usage_date < ?
		GROUP BY usage_date, task_type
		ORDER BY usage_date ASC`, brandID, monthStart, monthEnd).Scan(&rows).Error
	if err != nil {
		return summary, err
	}

	fold(rows, &summary.Total, summary.ByTask, &summary.Daily)
	return summary, nil
}

func (s *Service) GetUserUsageBreakdown(ctx context.Context, userID snowflake.ID, days int) (reportingdomain.UsageBreakdown, error) {
	if days <= 0 {
		days = 30
	}
	breakdown := reportingdomain.UsageBreakdown{
		UserID: userID,
		Days:   days,
		ByTask: map[string]int64{},
		Daily:  []reportingdomain.DailyUsage{},
	}
	if userID == 0 {
		return breakdown, reportingdomain.ErrInvalidID
	}

	brandIDs, err := s.accounts.BrandIDs(ctx, s.db, userID)
	if err != nil {
		return breakdown, err
	}
	if len(brandIDs) == 0 {
		return breakdown, nil
	}

	now := s.clock.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	var rows []usageRow
	err = s.db.WithContext(ctx).Raw(`
		SELECT usage_date, task_type, SUM(tokens_used) AS tokens
		FROM usage_records
		WHERE brand_id IN ? AND usage_date >= ?
		GROUP BY usage_date, task_type
		ORDER BY usage_date ASC`, brandIDs, since).Scan(&rows).Error
	if err != nil {
		return breakdown, err
	}

	fold(rows, &breakdown.Total, breakdown.ByTask, &breakdown.Daily)
	return breakdown, nil
}

// fold rolls per-(day, task) rows into a total, a by-task map, and an
// ordered daily series. Rows arrive sorted by date, so consecutive rows for
// the same day collapse into one series point.
func fold(rows []usageRow, total *int64, byTask map[string]int64, daily *[]reportingdomain.DailyUsage) {
	for _, row := range rows {
		*total += row.Tokens
		byTask[row.TaskType] += row.Tokens

		date := row.UsageDate.UTC().Format("2006-01-02")
		if n := len(*daily); n > 0 && (*daily)[n-1].Date == date {
			(*daily)[n-1].Tokens += row.Tokens
			continue
		}
		*daily = append(*daily, reportingdomain.DailyUsage{Date: date, Tokens: row.Tokens})
	}
}
