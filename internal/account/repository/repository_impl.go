package repository

import (
	"context"
	"errors"
	"strings"

	accountdomain "github.com/andora/tokenledger/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

// Provide returns the gorm-backed account repository.
func Provide() accountdomain.Repository {
	return &repository{}
}

func (r *repository) FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.User, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidID
	}
	var user accountdomain.User
	err := db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) LockUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.User, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidID
	}
	tx := db.WithContext(ctx)
	// sqlite has no FOR UPDATE; its single-writer lock serializes the
	// surrounding transaction instead.
	if !strings.EqualFold(db.Dialector.Name(), "sqlite") {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user accountdomain.User
	err := tx.First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance int64) error {
	if id == 0 {
		return accountdomain.ErrInvalidID
	}
	return db.WithContext(ctx).
		Model(&accountdomain.User{}).
		Where("id = ?", id).
		Update("token_balance", balance).Error
}

func (r *repository) FindBrand(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.Brand, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidID
	}
	var brand accountdomain.Brand
	err := db.WithContext(ctx).First(&brand, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &brand, nil
}

func (r *repository) BrandIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]snowflake.ID, error) {
	if userID == 0 {
		return nil, accountdomain.ErrInvalidID
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&accountdomain.Brand{}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
