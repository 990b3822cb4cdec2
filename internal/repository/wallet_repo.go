package repository

import (
	"context"
	"errors"
	"time"

	"steamshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound   = errors.New("钱包不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
	ErrDepositNotFound  = errors.New("充值单不存在")

	ErrDepositStatusInvalid = errors.New("充值单状态不合法")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	var wallet model.WalletAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}

	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.WalletAccount{
		UserID:  userID,
		Balance: 0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Deduct 扣款：余额充足且版本匹配才生效，单条语句保证不会扣成负数
func (r *WalletRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		wallet, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *WalletRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}

	return nil
}

// SetBalance 重算余额时的覆盖写入
func (r *WalletRepository) SetBalance(ctx context.Context, userID int64, balance int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// ============================================================
// 充值单
// ============================================================

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, tx *gorm.DB, deposit *model.WalletDeposit) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(deposit).Error
}

func (r *DepositRepository) GetByDepositNo(ctx context.Context, depositNo string) (*model.WalletDeposit, error) {
	var deposit model.WalletDeposit
	err := r.db.WithContext(ctx).Where("deposit_no = ?", depositNo).First(&deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return &deposit, nil
}

// UpdateStatus CAS 流转；PAID 的流转只会成功一次，保证重复轮询只入账一次
func (r *DepositRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, depositNo string, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.DepositStatusPaid {
		now := time.Now()
		updates["paid_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.WalletDeposit{}).
		Where("deposit_no = ? AND status = ?", depositNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDepositStatusInvalid
	}
	return nil
}

func (r *DepositRepository) GetExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]*model.WalletDeposit, error) {
	var deposits []*model.WalletDeposit
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at <= ?", model.DepositStatusPending, now).
		Limit(limit).
		Find(&deposits).Error
	return deposits, err
}

// SumPaidByUserID 用户已到账充值总额（重算余额用）
func (r *DepositRepository) SumPaidByUserID(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletDeposit{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND status = ?", userID, model.DepositStatusPaid).
		Scan(&sum).Error
	return sum, err
}

// ============================================================
// 钱包流水
// ============================================================

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByRefNo(ctx context.Context, userID int64, refNo string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND ref_no = ?", userID, refNo).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByUserIDAndType 用户某类流水的金额合计（重算余额用；PAY 类本身为负数）
func (r *TransactionRepository) SumByUserIDAndType(ctx context.Context, userID int64, transType string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND type = ?", userID, transType).
		Scan(&sum).Error
	return sum, err
}
