package service

import (
	"context"
	"errors"
	"time"

	"steamshop/internal/model"

	"gorm.io/gorm"
)

// 业务错误：稳定的哨兵错误，handler 层映射为机器可读错误码
var (
	ErrAccountUnavailable    = errors.New("账号凭据校验未通过，已转入维护")
	ErrGuardedBlocked        = errors.New("该账号开启了令牌，暂不支持购买")
	ErrOrderExpired          = errors.New("订单已过支付时限")
	ErrDepositExpired        = errors.New("充值单已过支付时限")
	ErrCartEmpty             = errors.New("购物车为空")
	ErrInventoryInUse        = errors.New("存在未完结订单，禁止操作")
	ErrNotOwner              = errors.New("无权操作该记录")
	ErrPaymentMethodMismatch = errors.New("支付方式与订单不符")
)

// service 层依赖下面这些窄接口而不是具体仓储，
// 生产环境由 repository 包实现，测试用 testify mock / 内存假实现替换

type TxManager interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type SteamAccountRepo interface {
	GetByID(ctx context.Context, id int64) (*model.SteamAccount, error)
	Claim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus string) error
	Unclaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus, toStatus string) (bool, error)
	SettleClaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, toStatus string) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, pipeline, fromStatus, toStatus string) error
}

type AccountInfoRepo interface {
	GetByID(ctx context.Context, id int64) (*model.AccountInfo, error)
}

// 库存管理用的全量仓储视图，在订单侧窄接口上补管理动作

type InventoryAccountRepo interface {
	SteamAccountRepo
	Create(ctx context.Context, tx *gorm.DB, account *model.SteamAccount) error
	BatchCreate(ctx context.Context, tx *gorm.DB, accounts []*model.SteamAccount) error
	ListByAccountInfo(ctx context.Context, accountInfoID int64) ([]*model.SteamAccount, error)
	Update(ctx context.Context, account *model.SteamAccount) error
	Delete(ctx context.Context, id int64) error
	CountByStatus(ctx context.Context, accountInfoID int64, status string) (int64, error)
	NextAccountCode(ctx context.Context, accountInfoID int64) (int64, error)
}

type InventoryInfoRepo interface {
	AccountInfoRepo
	Create(ctx context.Context, tx *gorm.DB, info *model.AccountInfo) error
	Update(ctx context.Context, info *model.AccountInfo) error
	Delete(ctx context.Context, tx *gorm.DB, id int64) error
	List(ctx context.Context, classify string, page, pageSize int) ([]*model.AccountInfo, int64, error)
}

type InventoryOrderRepo interface {
	CountActiveBySteamAccounts(ctx context.Context, steamAccountIDs []int64) (int64, error)
}

type OrderRepo interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error
	SetQRCodeURL(ctx context.Context, orderNo, qrCodeURL string) error
	GetExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error)
	List(ctx context.Context, status, classification string, page, pageSize int) ([]*model.Order, int64, error)
}

type WalletRepo interface {
	GetByUserID(ctx context.Context, userID int64) (*model.WalletAccount, error)
	GetOrCreate(ctx context.Context, userID int64) (*model.WalletAccount, error)
	Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error
	Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error
	SetBalance(ctx context.Context, userID int64, balance int64) error
}

type DepositRepo interface {
	Create(ctx context.Context, tx *gorm.DB, deposit *model.WalletDeposit) error
	GetByDepositNo(ctx context.Context, depositNo string) (*model.WalletDeposit, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, depositNo string, fromStatus, toStatus string) error
	GetExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]*model.WalletDeposit, error)
	SumPaidByUserID(ctx context.Context, userID int64) (int64, error)
}

type TransactionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error
	ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error)
	SumByUserIDAndType(ctx context.Context, userID int64, transType string) (int64, error)
}

type CartRepo interface {
	Add(ctx context.Context, item *model.CartItem) error
	Remove(ctx context.Context, tx *gorm.DB, userID, steamAccountID int64) error
	ListByUserID(ctx context.Context, userID int64) ([]*model.CartItem, error)
	Clear(ctx context.Context, tx *gorm.DB, userID int64) error
}

type OutboxRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// CredentialValidator 外部凭据校验服务
type CredentialValidator interface {
	Validate(ctx context.Context, username, password, guardCode string) (string, error)
}

// PaymentGateway 外部扫码支付网关
type PaymentGateway interface {
	IssueQR(ctx context.Context, amount int64, reference string) (string, error)
	CheckSettlement(ctx context.Context, reference string) (string, error)
}

// Lock / LockFactory 对 redis 分布式锁的抽象
type Lock interface {
	Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error
	Unlock(ctx context.Context) error
}

type LockFactory interface {
	WalletLock(userID int64, holder string) Lock
	SettleLock(reference string, holder string) Lock
}
