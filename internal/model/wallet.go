package model

import (
	"time"
)

// WalletAccount 用户钱包表
// balance 为权威余额，version 用于乐观锁防止并发扣款超扣
type WalletAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletAccount) TableName() string {
	return "wallet_account"
}

const (
	TransactionTypeDeposit = "DEPOSIT" // 充值入账
	TransactionTypePay     = "PAY"     // 余额支付（出账）
	TransactionTypeRefund  = "REFUND"  // 取消退款（入账）
)

// WalletTransaction 钱包流水表
//
// 流水表设计原则：
// 1. 只追加，不修改，不删除，保证审计可追溯
// 2. 每笔流水关联订单号/充值单号，便于对账
// 3. 记录交易前后余额，便于校验余额一致性
type WalletTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	RefNo         string    `gorm:"type:varchar(64);index;not null" json:"ref_no"` // 关联订单号或充值单号
	Amount        int64     `gorm:"not null" json:"amount"`                        // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}

const (
	DepositStatusPending   = "PENDING"
	DepositStatusPaid      = "PAID"
	DepositStatusExpired   = "EXPIRED"
	DepositStatusCancelled = "CANCELLED"
)

// WalletDeposit 充值单表（扫码转账，轮询到账）
type WalletDeposit struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DepositNo string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"deposit_no"`
	UserID    int64      `gorm:"index;not null" json:"user_id"`
	Amount    int64      `gorm:"not null" json:"amount"`
	Status    string     `gorm:"type:varchar(20);index;not null" json:"status"`
	QRCodeURL string     `gorm:"type:varchar(512)" json:"qr_code_url"`
	ExpiredAt time.Time  `gorm:"not null" json:"expired_at"`
	PaidAt    *time.Time `json:"paid_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletDeposit) TableName() string {
	return "wallet_deposit"
}

// PendingExpired 待支付充值单是否已过 TTL，语义同订单
func (d *WalletDeposit) PendingExpired(now time.Time) bool {
	return d.Status == DepositStatusPending && !now.Before(d.ExpiredAt)
}
