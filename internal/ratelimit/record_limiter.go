package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andora/tokenledger/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyRecordBrand = "usage:record:brand:%s"

// RecordLimiter throttles usage-record writes per brand. A nil limiter (rate
// limiting disabled) allows everything.
type RecordLimiter struct {
	enabled bool

	bucket *TokenBucket

	brandRate  float64
	brandBurst int
}

func NewRecordLimiter(cfg config.Config) (*RecordLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.RecordBrandRate <= 0 || limitCfg.RecordBrandBurst <= 0 {
		return nil, errors.New("record brand rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &RecordLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		brandRate:  limitCfg.RecordBrandRate,
		brandBurst: limitCfg.RecordBrandBurst,
	}, nil
}

func (l *RecordLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *RecordLimiter) AllowBrand(ctx context.Context, brandID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyRecordBrand, strings.TrimSpace(brandID)), l.brandRate, l.brandBurst)
}
