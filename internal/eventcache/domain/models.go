// Package domain defines the durable event-calendar cache. Unlike the
// in-memory config cache, entries here survive restarts; expiry is a stored
// timestamp checked on read and swept by the scheduler.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DefaultTTLHours applies when a Put request carries no TTL.
const DefaultTTLHours = 24

// EventCacheEntry is one cached calendar payload per (brand, cache key).
type EventCacheEntry struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	BrandID     snowflake.ID   `json:"brand_id" gorm:"not null;uniqueIndex:ux_event_cache_brand_key,priority:1"`
	CacheKey    string         `json:"cache_key" gorm:"type:text;not null;uniqueIndex:ux_event_cache_brand_key,priority:2"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:json;not null"`
	Suggestions datatypes.JSON `json:"suggestions,omitempty" gorm:"type:json"`
	GeneratedBy string         `json:"generated_by" gorm:"type:text"`
	ExpiresAt   time.Time      `json:"expires_at" gorm:"not null;index"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (EventCacheEntry) TableName() string { return "event_cache_entries" }

// PutRequest caches a generated calendar. TTLHours of zero means the
// default window.
type PutRequest struct {
	BrandID     snowflake.ID `json:"brand_id"`
	CacheKey    string       `json:"cache_key"`
	Payload     any          `json:"payload"`
	Suggestions any          `json:"suggestions,omitempty"`
	GeneratedBy string       `json:"generated_by,omitempty"`
	TTLHours    int          `json:"ttl_hours,omitempty"`
}

// Service is the event-calendar cache surface.
type Service interface {
	// Put upserts the entry for (brand, key) and resets its expiry.
	Put(ctx context.Context, req PutRequest) (*EventCacheEntry, error)
	// Get returns nil for missing or expired entries.
	Get(ctx context.Context, brandID snowflake.ID, cacheKey string) (*EventCacheEntry, error)
	// PurgeExpired deletes entries past their expiry and returns the count.
	PurgeExpired(ctx context.Context) (int64, error)
}
