// Package domain contains persistence models for metered token usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord is the per-(brand, date, task type) running total of tokens
// consumed. Events for an existing key add to TokensUsed and merge Metadata;
// the counter only grows.
type UsageRecord struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	BrandID    snowflake.ID      `json:"brand_id" gorm:"not null;uniqueIndex:ux_usage_brand_date_task,priority:1"`
	UsageDate  time.Time         `json:"usage_date" gorm:"type:date;not null;uniqueIndex:ux_usage_brand_date_task,priority:2"`
	TaskType   string            `json:"task_type" gorm:"type:text;not null;uniqueIndex:ux_usage_brand_date_task,priority:3"`
	TokensUsed int64             `json:"tokens_used" gorm:"not null;default:0"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
