package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"steamshop/internal/config"
	"steamshop/internal/model"
	"steamshop/internal/repository"
	"steamshop/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartService 购物车与组合结算。
// 结算是全有或全无：任何一个账号占用失败，整批订单一个都不建
type CartService struct {
	cfg       *config.Config
	tx        TxManager
	carts     CartRepo
	orders    OrderRepo
	accounts  SteamAccountRepo
	infos     AccountInfoRepo
	wallets   WalletRepo
	txns      TransactionRepo
	outbox    OutboxRepo
	claims    *ClaimManager
	validator CredentialValidator
	locks     LockFactory
}

func NewCartService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, validator CredentialValidator) *CartService {
	accounts := repository.NewSteamAccountRepository(db)
	return &CartService{
		cfg:       cfg,
		tx:        repository.NewTxManager(db),
		carts:     repository.NewCartRepository(db),
		orders:    repository.NewOrderRepository(db),
		accounts:  accounts,
		infos:     repository.NewAccountInfoRepository(db),
		wallets:   repository.NewWalletRepository(db),
		txns:      repository.NewTransactionRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		claims:    NewClaimManager(accounts),
		validator: validator,
		locks:     NewRedisLockFactory(redisClient),
	}
}

// AddItem 加购。只接受当前可售的账号，价格此刻快照；
// 加入购物车不占用库存，下单结算时才占用
func (s *CartService) AddItem(ctx context.Context, userID, steamAccountID int64) (*model.CartItem, error) {
	account, err := s.accounts.GetByID(ctx, steamAccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != model.ClaimableStatus(account.Pipeline) {
		if account.Status == model.AccountStatusOrdering {
			return nil, repository.ErrAccountClaimed
		}
		return nil, repository.ErrAccountNotClaimable
	}

	info, err := s.infos.GetByID(ctx, account.AccountInfoID)
	if err != nil {
		return nil, err
	}

	item := &model.CartItem{
		UserID:         userID,
		SteamAccountID: steamAccountID,
		Quantity:       1,
		UnitPrice:      account.EffectivePrice(info),
	}
	if err := s.carts.Add(ctx, item); err != nil {
		return nil, fmt.Errorf("加入购物车失败: %w", err)
	}
	return item, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, steamAccountID int64) error {
	return s.carts.Remove(ctx, nil, userID, steamAccountID)
}

func (s *CartService) ListCart(ctx context.Context, userID int64) ([]*model.CartItem, error) {
	return s.carts.ListByUserID(ctx, userID)
}

// CheckoutFailure 结算失败明细
type CheckoutFailure struct {
	SteamAccountID int64  `json:"steam_account_id"`
	Reason         string `json:"reason"`
}

// CheckoutResult 结算结果：要么全部成单，要么零成单并给出失败原因
type CheckoutResult struct {
	Orders   []*model.Order    `json:"orders"`
	Failures []CheckoutFailure `json:"failures"`
}

func (r *CheckoutResult) Succeeded() bool {
	return len(r.Failures) == 0
}

// CheckoutCart 购物车结算（扫码支付）。
// 两阶段：先逐项校验凭据——校验失败的账号转维护并移出购物车，
// 其余购物车项原样保留，本次结算不建任何订单；
// 全部通过后在单个事务里占用全部账号并建单，任何一个占用冲突
// 整批回滚，购物车不动
func (s *CartService) CheckoutCart(ctx context.Context, userID int64, paymentMethod string) (*CheckoutResult, error) {
	return s.checkout(ctx, userID, paymentMethod, true)
}

func (s *CartService) checkout(ctx context.Context, userID int64, paymentMethod string, clearCart bool) (*CheckoutResult, error) {
	if paymentMethod != model.PaymentMethodBalance && paymentMethod != model.PaymentMethodQR {
		return nil, fmt.Errorf("不支持的支付方式: %s", paymentMethod)
	}

	items, err := s.carts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrCartEmpty
	}

	result := &CheckoutResult{}
	accounts := make([]*model.SteamAccount, 0, len(items))
	infos := make(map[int64]*model.AccountInfo)

	// 第一阶段：逐项检查可售状态并校验凭据
	for _, item := range items {
		account, err := s.accounts.GetByID(ctx, item.SteamAccountID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				s.dropItem(ctx, userID, item.SteamAccountID)
				result.Failures = append(result.Failures, CheckoutFailure{
					SteamAccountID: item.SteamAccountID,
					Reason:         "账号不存在",
				})
				continue
			}
			return nil, err
		}

		if account.Status != model.ClaimableStatus(account.Pipeline) {
			result.Failures = append(result.Failures, CheckoutFailure{
				SteamAccountID: account.ID,
				Reason:         fmt.Sprintf("账号不可售: %s", account.Status),
			})
			continue
		}

		if account.Pipeline == model.ClassifyStock {
			if err := validateStockAccount(ctx, s.validator, s.accounts, s.cfg.Business.AllowGuardedAccounts, account); err != nil {
				reason := "凭据校验未通过"
				if errors.Is(err, ErrGuardedBlocked) {
					reason = "账号带令牌，暂不支持购买"
				} else {
					// 已转维护，移出购物车
					s.dropItem(ctx, userID, account.ID)
				}
				result.Failures = append(result.Failures, CheckoutFailure{
					SteamAccountID: account.ID,
					Reason:         reason,
				})
				continue
			}
		}

		info, err := s.infos.GetByID(ctx, account.AccountInfoID)
		if err != nil {
			return nil, err
		}
		infos[account.ID] = info
		accounts = append(accounts, account)
	}

	if len(result.Failures) > 0 {
		log.Printf("购物车结算校验未通过: userID=%d, failures=%d", userID, len(result.Failures))
		return result, nil
	}

	// 第二阶段：单事务内整批占用 + 建单，任何冲突整批回滚
	orders := make([]*model.Order, 0, len(accounts))
	now := time.Now()
	for _, account := range accounts {
		orders = append(orders, &model.Order{
			OrderNo:        idgen.GenerateOrderNo(),
			UserID:         userID,
			SteamAccountID: account.ID,
			Amount:         account.EffectivePrice(infos[account.ID]),
			PaymentMethod:  paymentMethod,
			Status:         model.OrderStatusPending,
			Classification: account.Pipeline,
			ExpiredAt:      now.Add(s.cfg.Business.OrderTTL()),
		})
	}

	var conflictID int64
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		for i, account := range accounts {
			if err := s.claims.TryClaim(ctx, tx, account, orders[i].OrderNo); err != nil {
				conflictID = account.ID
				return err
			}
			if err := s.orders.Create(ctx, tx, orders[i]); err != nil {
				return fmt.Errorf("创建订单失败: %w", err)
			}
		}
		if clearCart {
			return s.carts.Clear(ctx, tx, userID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountClaimed) || errors.Is(err, repository.ErrAccountNotClaimable) {
			result.Failures = append(result.Failures, CheckoutFailure{
				SteamAccountID: conflictID,
				Reason:         "账号已被他人抢先下单",
			})
			return result, nil
		}
		return nil, err
	}

	result.Orders = orders
	log.Printf("购物车结算成单: userID=%d, orders=%d", userID, len(orders))
	return result, nil
}

// CheckoutCartWithBalance 购物车结算并余额一次性付清。
// 钱包锁内整批建单、按总额一次扣款、逐单落定；
// 余额不足或任何占用冲突都整批回滚，零成单零扣款
func (s *CartService) CheckoutCartWithBalance(ctx context.Context, userID int64) (*CheckoutResult, error) {
	// 购物车留到付款成功才清空，支付失败回滚后购物车原样可重试
	result, err := s.checkout(ctx, userID, model.PaymentMethodBalance, false)
	if err != nil {
		return nil, err
	}
	if !result.Succeeded() {
		return result, nil
	}

	walletLock := s.locks.WalletLock(userID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		s.rollbackOrders(ctx, result.Orders)
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	var total int64
	for _, order := range result.Orders {
		total += order.Amount
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		s.rollbackOrders(ctx, result.Orders)
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}
	if wallet.Balance < total {
		s.rollbackOrders(ctx, result.Orders)
		return nil, repository.ErrBalanceNotEnough
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.wallets.Deduct(ctx, tx, userID, total, wallet.Version); err != nil {
			return err
		}

		running := wallet.Balance
		for _, order := range result.Orders {
			if err := s.orders.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusPending, model.OrderStatusPaid); err != nil {
				return fmt.Errorf("更新订单状态失败: %w", err)
			}

			trans := &model.WalletTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        userID,
				RefNo:         order.OrderNo,
				Amount:        -order.Amount,
				Type:          model.TransactionTypePay,
				BalanceBefore: running,
				BalanceAfter:  running - order.Amount,
				Remark:        fmt.Sprintf("余额支付-%s", order.OrderNo),
			}
			running -= order.Amount
			if err := s.txns.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
			if err != nil {
				return err
			}
			if err := settlePaidOrder(ctx, tx, s.claims, s.outbox,
				s.cfg.Kafka.Topic.OrderEvents, order, account); err != nil {
				return err
			}
		}
		return s.carts.Clear(ctx, tx, userID)
	})
	if err != nil {
		s.rollbackOrders(ctx, result.Orders)
		return nil, err
	}

	log.Printf("购物车余额付清: userID=%d, orders=%d, total=%d", userID, len(result.Orders), total)
	return result, nil
}

// rollbackOrders 支付阶段失败后的补偿：整批取消刚建出的订单并释放账号。
// 订单此时必然还是 PENDING，未发生任何资金变动
func (s *CartService) rollbackOrders(ctx context.Context, orders []*model.Order) {
	for _, order := range orders {
		err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.orders.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusPending, model.OrderStatusCancelled); err != nil {
				if errors.Is(err, repository.ErrOrderStatusInvalid) {
					return nil
				}
				return err
			}
			account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
			if err != nil {
				return err
			}
			if _, err := s.claims.Release(ctx, tx, account, order.OrderNo); err != nil {
				return err
			}
			return writeOrderEvent(ctx, tx, s.outbox, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderCancelled, order, nil)
		})
		if err != nil {
			log.Printf("结算回滚失败: orderNo=%s, err=%v", order.OrderNo, err)
		}
	}
}

func (s *CartService) dropItem(ctx context.Context, userID, steamAccountID int64) {
	if err := s.carts.Remove(ctx, nil, userID, steamAccountID); err != nil {
		log.Printf("移出购物车失败: userID=%d, accountID=%d, err=%v", userID, steamAccountID, err)
	}
}
