package service

import (
	"context"
	"math"
	"strings"
	"time"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	"github.com/andora/tokenledger/internal/clock"
	obsmetrics "github.com/andora/tokenledger/internal/observability/metrics"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"github.com/andora/tokenledger/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Accounts   accountdomain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
	Observer   usagedomain.DeductionObserver `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	accounts   accountdomain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
	observer   usagedomain.DeductionObserver
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		accounts:   p.Accounts,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
		observer:   p.Observer,
	}
}

// Record applies a usage event as one transaction: upsert the aggregate for
// (brand, date, task type), then debit the owning user's balance clamped at
// zero. Either both mutations commit or neither does. Storage failures are
// logged and absorbed; validation failures are silent no-ops.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) usagedomain.RecordResult {
	result := usagedomain.RecordResult{TaskType: strings.TrimSpace(req.TaskType)}

	brandID := parseBrandID(req.BrandID)
	if brandID == 0 {
		return s.skip(ctx, result, usagedomain.SkipReasonEmptyBrand)
	}
	result.BrandID = brandID

	if result.TaskType == "" {
		return s.skip(ctx, result, usagedomain.SkipReasonEmptyTaskType)
	}

	tokens := normalizeTokens(req.TokensUsed)
	if tokens <= 0 {
		return s.skip(ctx, result, usagedomain.SkipReasonInvalidAmount)
	}

	usageDate := s.usageDate(req.UsageDate)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		brand, err := s.accounts.FindBrand(ctx, tx, brandID)
		if err != nil {
			return err
		}

		// Lock the owner row first so concurrent debits for the same user
		// serialize before either touches the aggregate.
		var user *accountdomain.User
		if brand != nil && brand.UserID != 0 {
			user, err = s.accounts.LockUser(ctx, tx, brand.UserID)
			if err != nil {
				return err
			}
		}

		if err := s.upsertAggregate(ctx, tx, brandID, usageDate, result.TaskType, tokens, req.Metadata); err != nil {
			return err
		}

		// Usage from a brand with no resolvable owner is still tracked for
		// analytics; there is just nothing to debit.
		if user == nil {
			return nil
		}

		newBalance := user.TokenBalance - tokens
		if newBalance < 0 {
			newBalance = 0
		}
		if err := s.accounts.UpdateBalance(ctx, tx, user.ID, newBalance); err != nil {
			return err
		}

		result.UserID = user.ID
		result.AmountDebited = tokens
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		result.Err = err
		s.log.Error("usage record failed, transaction rolled back",
			zap.String("brand_id", brandID.String()),
			zap.String("task_type", result.TaskType),
			zap.Int64("tokens", tokens),
			zap.Error(err),
		)
		if s.observer != nil && result.UserID != 0 {
			s.observer.ObserveDeduction(ctx, result.UserID, tokens, result.TaskType, false)
		}
		return result
	}

	result.Applied = true
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageRecorded(ctx, result.TaskType)
		s.obsMetrics.RecordTokensDebited(ctx, result.TaskType, result.AmountDebited)
	}
	if result.UserID != 0 {
		s.log.Info("tokens deducted",
			zap.String("user_id", result.UserID.String()),
			zap.String("brand_id", brandID.String()),
			zap.String("task_type", result.TaskType),
			zap.Int64("amount", tokens),
			zap.Int64("balance", result.NewBalance),
		)
		if s.observer != nil {
			s.observer.ObserveDeduction(ctx, result.UserID, tokens, result.TaskType, true)
		}
	}
	return result
}

func (s *Service) skip(ctx context.Context, result usagedomain.RecordResult, reason string) usagedomain.RecordResult {
	result.SkipReason = reason
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageRejected(ctx, reason)
	}
	s.log.Debug("usage event skipped", zap.String("reason", reason))
	return result
}

func (s *Service) upsertAggregate(
	ctx context.Context,
	tx *gorm.DB,
	brandID snowflake.ID,
	usageDate time.Time,
	taskType string,
	tokens int64,
	metadata map[string]any,
) error {
	existing, err := s.findAggregate(ctx, tx, brandID, usageDate, taskType)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if existing == nil {
		record := &usagedomain.UsageRecord{
			ID:         s.genID.Generate(),
			BrandID:    brandID,
			UsageDate:  usageDate,
			TaskType:   taskType,
			TokensUsed: tokens,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if len(metadata) > 0 {
			record.Metadata = datatypes.JSONMap(metadata)
		}
		err := tx.WithContext(ctx).Create(record).Error
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		// Lost the insert race to a concurrent writer; fold into its row.
		existing, err = s.findAggregate(ctx, tx, brandID, usageDate, taskType)
		if err != nil {
			return err
		}
		if existing == nil {
			return gorm.ErrRecordNotFound
		}
	}

	merged := mergeMetadata(existing.Metadata, metadata)
	return tx.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"tokens_used": existing.TokensUsed + tokens,
			"metadata":    merged,
			"updated_at":  now,
		}).Error
}

func (s *Service) findAggregate(
	ctx context.Context,
	tx *gorm.DB,
	brandID snowflake.ID,
	usageDate time.Time,
	taskType string,
) (*usagedomain.UsageRecord, error) {
	query := tx.WithContext(ctx)
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record usagedomain.UsageRecord
	err := query.
		Where("brand_id = ? AND usage_date = ? AND task_type = ?", brandID, usageDate, taskType).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) usageDate(requested *time.Time) time.Time {
	when := s.clock.Now()
	if requested != nil && !requested.IsZero() {
		when = requested.UTC()
	}
	return time.Date(when.Year(), when.Month(), when.Day(), 0, 0, 0, 0, time.UTC)
}

// mergeMetadata folds incoming keys over the stored map. Incoming keys win.
func mergeMetadata(existing datatypes.JSONMap, incoming map[string]any) datatypes.JSONMap {
	if len(existing) == 0 && len(incoming) == 0 {
		return existing
	}
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

func normalizeTokens(value float64) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0
	}
	return int64(math.Round(value))
}

func parseBrandID(value string) snowflake.ID {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0
	}
	return id
}
