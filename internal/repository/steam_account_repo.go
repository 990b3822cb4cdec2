package repository

import (
	"context"
	"errors"

	"steamshop/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound      = errors.New("账号不存在")
	ErrAccountClaimed       = errors.New("账号已被其他订单占用")
	ErrAccountNotClaimable  = errors.New("账号当前状态不可购买")
	ErrAccountStatusInvalid = errors.New("账号状态流转不合法")
)

type SteamAccountRepository struct {
	db *gorm.DB
}

func NewSteamAccountRepository(db *gorm.DB) *SteamAccountRepository {
	return &SteamAccountRepository{db: db}
}

func (r *SteamAccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.SteamAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

func (r *SteamAccountRepository) BatchCreate(ctx context.Context, tx *gorm.DB, accounts []*model.SteamAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&accounts).Error
}

func (r *SteamAccountRepository) GetByID(ctx context.Context, id int64) (*model.SteamAccount, error) {
	var account model.SteamAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *SteamAccountRepository) ListByAccountInfo(ctx context.Context, accountInfoID int64) ([]*model.SteamAccount, error) {
	var accounts []*model.SteamAccount
	err := r.db.WithContext(ctx).
		Where("account_info_id = ?", accountInfoID).
		Order("account_code ASC").
		Find(&accounts).Error
	return accounts, err
}

// Update 更新凭据和价格字段，状态字段只允许走 CAS 方法
func (r *SteamAccountRepository) Update(ctx context.Context, account *model.SteamAccount) error {
	result := r.db.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"account_code":   account.AccountCode,
			"username":       account.Username,
			"password":       account.Password,
			"steam_guard":    account.SteamGuard,
			"price":          account.Price,
			"original_price": account.OriginalPrice,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *SteamAccountRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SteamAccount{}).Error
}

// Claim 占用账号：单条 CAS 语句，status 必须还是可占用状态且无人持有。
// RowsAffected=0 即有人抢先，这是防止一号两卖的唯一机制
func (r *SteamAccountRepository) Claim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("id = ? AND status = ? AND claim_order_no = ''", id, fromStatus).
		Updates(map[string]interface{}{
			"status":         model.AccountStatusOrdering,
			"claim_order_no": orderNo,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountClaimed
	}
	return nil
}

// Unclaim 解除订单对账号的持有并流转状态。
// 只有当前持有者的解除才生效；重复解除 RowsAffected=0，按无操作处理（幂等）
func (r *SteamAccountRepository) Unclaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus, toStatus string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("id = ? AND status = ? AND claim_order_no = ?", id, fromStatus, orderNo).
		Updates(map[string]interface{}{
			"status":         toStatus,
			"claim_order_no": "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SettleClaim 占用落定：STOCK 变为 SOLD，ORDER 流水线保持 ORDERING 等待交付。
// claim_order_no 保留到订单完结，已支付取消还要凭它回收账号
func (r *SteamAccountRepository) SettleClaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("id = ? AND status = ? AND claim_order_no = ?", id, model.AccountStatusOrdering, orderNo).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountStatusInvalid
	}
	return nil
}

// UpdateStatus 非占用路径的状态流转（维护/恢复/交付），带流水线校验和 CAS
func (r *SteamAccountRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, pipeline, fromStatus, toStatus string) error {
	if !model.AccountCanTransitionTo(pipeline, fromStatus, toStatus) {
		return ErrAccountStatusInvalid
	}
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountStatusInvalid
	}
	return nil
}

// CountByStatus 统计商品下指定状态的账号数（available_stock 的数据来源）
func (r *SteamAccountRepository) CountByStatus(ctx context.Context, accountInfoID int64, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Where("account_info_id = ? AND status = ?", accountInfoID, status).
		Count(&count).Error
	return count, err
}

// NextAccountCode 生成组内递增的账号序号，如 A-000123 按商品独立编号
func (r *SteamAccountRepository) NextAccountCode(ctx context.Context, accountInfoID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SteamAccount{}).
		Unscoped().
		Where("account_info_id = ?", accountInfoID).
		Count(&count).Error
	return count + 1, err
}
