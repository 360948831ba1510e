// Package domain contains the user and brand models the ledger reads.
// Accounts are owned by the auth subsystem; this core mutates only
// User.TokenBalance.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan tiers. The plan-to-allowance mapping is owned by the pricing catalog;
// the ledger only stores the current tier.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanAgency  = "agency"
)

// User holds the token balance the recorder debits. TokenBalance never goes
// below zero.
type User struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Email        string       `json:"email" gorm:"type:text;not null"`
	Plan         string       `json:"plan" gorm:"type:text;not null;default:free"`
	TokenBalance int64        `json:"token_balance" gorm:"not null;default:0"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Brand is a tenant-scoped workspace owned by exactly one user. It is the
// attribution key for usage aggregates.
type Brand struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Brand) TableName() string { return "brands" }

var (
	ErrUserNotFound  = errors.New("user_not_found")
	ErrBrandNotFound = errors.New("brand_not_found")
	ErrInvalidID     = errors.New("invalid_id")
)
