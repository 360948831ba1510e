package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/andora/tokenledger/internal/clock"
	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidBrand    = errors.New("invalid_brand")
	ErrInvalidCacheKey = errors.New("invalid_cache_key")
	ErrInvalidPayload  = errors.New("invalid_payload")
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) eventdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("eventcache.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Put(ctx context.Context, req eventdomain.PutRequest) (*eventdomain.EventCacheEntry, error) {
	cacheKey := strings.TrimSpace(req.CacheKey)
	if req.BrandID == 0 {
		return nil, ErrInvalidBrand
	}
	if cacheKey == "" {
		return nil, ErrInvalidCacheKey
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	ttlHours := req.TTLHours
	if ttlHours <= 0 {
		ttlHours = eventdomain.DefaultTTLHours
	}
	now := s.clock.Now()

	entry := &eventdomain.EventCacheEntry{
		ID:          s.genID.Generate(),
		BrandID:     req.BrandID,
		CacheKey:    cacheKey,
		Payload:     datatypes.JSON(payload),
		GeneratedBy: req.GeneratedBy,
		ExpiresAt:   now.Add(time.Duration(ttlHours) * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Suggestions != nil {
		suggestions, err := json.Marshal(req.Suggestions)
		if err != nil {
			return nil, ErrInvalidPayload
		}
		entry.Suggestions = datatypes.JSON(suggestions)
	}

	// Re-putting the same key resets the expiry window.
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "brand_id"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "suggestions", "generated_by", "expires_at", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, req.BrandID, cacheKey)
}

func (s *Service) Get(ctx context.Context, brandID snowflake.ID, cacheKey string) (*eventdomain.EventCacheEntry, error) {
	cacheKey = strings.TrimSpace(cacheKey)
	if brandID == 0 || cacheKey == "" {
		return nil, nil
	}

	var entry eventdomain.EventCacheEntry
	err := s.db.WithContext(ctx).
		Where("brand_id = ? AND cache_key = ? AND expires_at > ?", brandID, cacheKey, s.clock.Now()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.clock.Now()).
		Delete(&eventdomain.EventCacheEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("expired event cache entries purged", zap.Int64("removed", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
