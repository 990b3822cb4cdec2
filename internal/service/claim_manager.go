package service

import (
	"context"
	"fmt"

	"steamshop/internal/model"
	"steamshop/internal/repository"

	"gorm.io/gorm"
)

// ClaimManager 管理订单对序列化账号的独占持有。
//
// 占用依赖数据库单条 CAS 语句（steam_account_repo.Claim），
// 同一账号的并发抢购最多一人成功，这是防止一号两卖的唯一机制；
// 这里不做自动重试，冲突原样上抛，由调用方换号或提示用户。
type ClaimManager struct {
	accounts SteamAccountRepo
}

func NewClaimManager(accounts SteamAccountRepo) *ClaimManager {
	return &ClaimManager{accounts: accounts}
}

// TryClaim 尝试为订单占用账号。
// 账号必须处于所在流水线的可购状态（STOCK: IN_STOCK；ORDER: PRE_ORDER）
// 且未被其他订单持有，否则返回 ErrAccountClaimed
func (m *ClaimManager) TryClaim(ctx context.Context, tx *gorm.DB, account *model.SteamAccount, orderNo string) error {
	claimable := model.ClaimableStatus(account.Pipeline)
	if account.Status != claimable && account.Status != model.AccountStatusOrdering {
		// 维护中/已售出等状态直接拒绝，不进 CAS
		return repository.ErrAccountNotClaimable
	}
	return m.accounts.Claim(ctx, tx, account.ID, orderNo, claimable)
}

// Release 释放未支付订单的占用，恢复占用前状态（取消/过期路径）。
// 持有者不匹配或已释放过时返回 false，不报错（幂等）
func (m *ClaimManager) Release(ctx context.Context, tx *gorm.DB, account *model.SteamAccount, orderNo string) (bool, error) {
	restore := model.ClaimableStatus(account.Pipeline)
	return m.accounts.Unclaim(ctx, tx, account.ID, orderNo, model.AccountStatusOrdering, restore)
}

// Settle 支付确认后落定占用。
// STOCK 账号卖出（ORDERING -> SOLD）；
// ORDER 账号保持 ORDERING，等待管理员代购后交付
func (m *ClaimManager) Settle(ctx context.Context, tx *gorm.DB, account *model.SteamAccount, orderNo string) error {
	if account.Pipeline == model.ClassifyOrder {
		return nil
	}
	return m.accounts.SettleClaim(ctx, tx, account.ID, orderNo, model.AccountStatusSold)
}

// ReleaseSettled 已支付订单取消时回收账号。
// STOCK 账号回库再售（SOLD -> IN_STOCK）；
// ORDER 账号代购终止（ORDERING -> CANCELLED，终态）
func (m *ClaimManager) ReleaseSettled(ctx context.Context, tx *gorm.DB, account *model.SteamAccount, orderNo string) (bool, error) {
	switch account.Pipeline {
	case model.ClassifyOrder:
		return m.accounts.Unclaim(ctx, tx, account.ID, orderNo, model.AccountStatusOrdering, model.AccountStatusCancelled)
	case model.ClassifyStock:
		return m.accounts.Unclaim(ctx, tx, account.ID, orderNo, model.AccountStatusSold, model.AccountStatusInStock)
	default:
		return false, fmt.Errorf("未知流水线: %s", account.Pipeline)
	}
}
