package repository

import (
	"context"
	"errors"

	"steamshop/internal/model"

	"gorm.io/gorm"
)

var ErrAccountInfoNotFound = errors.New("商品不存在")

type AccountInfoRepository struct {
	db *gorm.DB
}

func NewAccountInfoRepository(db *gorm.DB) *AccountInfoRepository {
	return &AccountInfoRepository{db: db}
}

func (r *AccountInfoRepository) Create(ctx context.Context, tx *gorm.DB, info *model.AccountInfo) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(info).Error
}

func (r *AccountInfoRepository) GetByID(ctx context.Context, id int64) (*model.AccountInfo, error) {
	var info model.AccountInfo
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&info).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountInfoNotFound
		}
		return nil, err
	}
	return &info, nil
}

func (r *AccountInfoRepository) Update(ctx context.Context, info *model.AccountInfo) error {
	result := r.db.WithContext(ctx).
		Model(&model.AccountInfo{}).
		Where("id = ?", info.ID).
		Updates(map[string]interface{}{
			"name":                info.Name,
			"description":         info.Description,
			"image_url":           info.ImageURL,
			"account_type":        info.AccountType,
			"price":               info.Price,
			"original_price":      info.OriginalPrice,
			"discount_percentage": info.DiscountPercentage,
			"game_ids":            info.GameIDs,
			"stock_quantity":      info.StockQuantity,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountInfoNotFound
	}
	return nil
}

func (r *AccountInfoRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Where("id = ?", id).Delete(&model.AccountInfo{}).Error
}

func (r *AccountInfoRepository) List(ctx context.Context, classify string, page, pageSize int) ([]*model.AccountInfo, int64, error) {
	var infos []*model.AccountInfo
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountInfo{})
	if classify != "" {
		query = query.Where("classify = ?", classify)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&infos).Error

	return infos, total, err
}
