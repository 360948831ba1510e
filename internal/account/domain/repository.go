package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads and mutates account rows. Methods take the *gorm.DB so
// callers can pass an open transaction.
type Repository interface {
	FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	// LockUser reads the user row under a row-level write lock where the
	// backend supports one, so concurrent debits against the same user
	// serialize instead of losing an update.
	LockUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64) error
	FindBrand(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Brand, error)
	BrandIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]snowflake.ID, error)
}
