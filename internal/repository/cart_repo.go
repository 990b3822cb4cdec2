package repository

import (
	"context"
	"errors"

	"steamshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCartItemNotFound = errors.New("购物车项不存在")

type CartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

// Add 重复加入同一账号时覆盖价格快照
func (r *CartRepository) Add(ctx context.Context, item *model.CartItem) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "steam_account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"unit_price"}),
		}).
		Create(item).Error
}

func (r *CartRepository) Remove(ctx context.Context, tx *gorm.DB, userID, steamAccountID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("user_id = ? AND steam_account_id = ?", userID, steamAccountID).
		Delete(&model.CartItem{}).Error
}

func (r *CartRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.CartItem, error) {
	var items []*model.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *CartRepository) Clear(ctx context.Context, tx *gorm.DB, userID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.CartItem{}).Error
}
