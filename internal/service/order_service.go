package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"steamshop/internal/client/payguard"
	"steamshop/internal/client/steamauth"
	"steamshop/internal/config"
	"steamshop/internal/model"
	"steamshop/internal/repository"
	"steamshop/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderService 订单生命周期引擎：
// 下单（校验凭据 -> 占用账号 -> 建单）、余额支付、扫码支付与轮询确认、
// 交付、取消退款、过期处理
type OrderService struct {
	cfg       *config.Config
	tx        TxManager
	orders    OrderRepo
	accounts  SteamAccountRepo
	infos     AccountInfoRepo
	wallets   WalletRepo
	txns      TransactionRepo
	outbox    OutboxRepo
	claims    *ClaimManager
	validator CredentialValidator
	gateway   PaymentGateway
	locks     LockFactory
}

func NewOrderService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *OrderService {
	accounts := repository.NewSteamAccountRepository(db)
	return &OrderService{
		cfg:       cfg,
		tx:        repository.NewTxManager(db),
		orders:    repository.NewOrderRepository(db),
		accounts:  accounts,
		infos:     repository.NewAccountInfoRepository(db),
		wallets:   repository.NewWalletRepository(db),
		txns:      repository.NewTransactionRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		claims:    NewClaimManager(accounts),
		validator: steamauth.NewClient(&cfg.SteamAuth),
		gateway:   payguard.NewClient(&cfg.PayGate),
		locks:     NewRedisLockFactory(redisClient),
	}
}

// CreateOrder 下单。
// 现货账号先过凭据校验（硬前置），校验不过转入维护且不建单；
// 校验通过后 CAS 占用账号，占用成功才建 PENDING 订单，金额此刻快照
func (s *OrderService) CreateOrder(ctx context.Context, userID, steamAccountID int64, paymentMethod string) (*model.Order, error) {
	if paymentMethod != model.PaymentMethodBalance && paymentMethod != model.PaymentMethodQR {
		return nil, fmt.Errorf("不支持的支付方式: %s", paymentMethod)
	}

	account, err := s.accounts.GetByID(ctx, steamAccountID)
	if err != nil {
		return nil, err
	}

	claimable := model.ClaimableStatus(account.Pipeline)
	if account.Status != claimable {
		if account.Status == model.AccountStatusOrdering {
			return nil, repository.ErrAccountClaimed
		}
		return nil, repository.ErrAccountNotClaimable
	}

	info, err := s.infos.GetByID(ctx, account.AccountInfoID)
	if err != nil {
		return nil, err
	}

	if account.Pipeline == model.ClassifyStock {
		if err := s.validateAccount(ctx, account); err != nil {
			return nil, err
		}
	}

	orderNo := idgen.GenerateOrderNo()
	order := &model.Order{
		OrderNo:        orderNo,
		UserID:         userID,
		SteamAccountID: account.ID,
		Amount:         account.EffectivePrice(info),
		PaymentMethod:  paymentMethod,
		Status:         model.OrderStatusPending,
		Classification: account.Pipeline,
		ExpiredAt:      time.Now().Add(s.cfg.Business.OrderTTL()),
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.claims.TryClaim(ctx, tx, account, orderNo); err != nil {
			return err
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("下单成功: orderNo=%s, userID=%d, accountID=%d, amount=%d", orderNo, userID, account.ID, order.Amount)
	return order, nil
}

func (s *OrderService) validateAccount(ctx context.Context, account *model.SteamAccount) error {
	return validateStockAccount(ctx, s.validator, s.accounts, s.cfg.Business.AllowGuardedAccounts, account)
}

// validateStockAccount 调用凭据校验服务，失败时把账号转入维护。
// 密码绝不落日志
func validateStockAccount(ctx context.Context, validator CredentialValidator, accounts SteamAccountRepo,
	allowGuarded bool, account *model.SteamAccount) error {
	result, err := validator.Validate(ctx, account.Username, account.Password, account.SteamGuard)
	if err != nil {
		result = steamauth.ResultError
	}

	switch result {
	case steamauth.ResultValid:
		return nil
	case steamauth.ResultValidGuarded:
		if !allowGuarded {
			return ErrGuardedBlocked
		}
		return nil
	default:
		// INVALID_PASSWORD / ERROR：转入维护下架，CAS 失败说明已被并发处理
		if err := accounts.UpdateStatus(ctx, nil, account.ID, account.Pipeline,
			model.AccountStatusInStock, model.AccountStatusMaintenance); err != nil {
			log.Printf("账号转入维护失败: accountID=%d, err=%v", account.ID, err)
		}
		log.Printf("账号凭据校验未通过: accountID=%d, result=%s", account.ID, result)
		return ErrAccountUnavailable
	}
}

// PayWithBalance 余额支付，同步完成。
// 钱包锁串行化同一用户的并发支付，数据库乐观锁兜底，余额不会扣成负数
func (s *OrderService) PayWithBalance(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.getOwnedOrder(ctx, userID, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.PaymentMethodBalance {
		return nil, ErrPaymentMethodMismatch
	}

	walletLock := s.locks.WalletLock(userID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	// 拿到锁后重读订单，防止并发支付/取消
	order, err = s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PendingExpired(time.Now()) {
		s.expireOrder(ctx, order)
		return nil, ErrOrderExpired
	}
	if order.Status != model.OrderStatusPending {
		return nil, repository.ErrOrderStatusInvalid
	}

	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.wallets.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}
	if wallet.Balance < order.Amount {
		return nil, repository.ErrBalanceNotEnough
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, orderNo, model.OrderStatusPending, model.OrderStatusPaid); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		if err := s.wallets.Deduct(ctx, tx, userID, order.Amount, wallet.Version); err != nil {
			return err
		}

		trans := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefNo:         orderNo,
			Amount:        -order.Amount,
			Type:          model.TransactionTypePay,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance - order.Amount,
			Remark:        fmt.Sprintf("余额支付-%s", orderNo),
		}
		if err := s.txns.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.settleOrder(ctx, tx, order, account)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("余额支付成功: orderNo=%s, userID=%d, amount=%d", orderNo, userID, order.Amount)
	return s.orders.GetByOrderNo(ctx, orderNo)
}

func (s *OrderService) settleOrder(ctx context.Context, tx *gorm.DB, order *model.Order, account *model.SteamAccount) error {
	return settlePaidOrder(ctx, tx, s.claims, s.outbox, s.cfg.Kafka.Topic.OrderEvents, order, account)
}

// settlePaidOrder 支付确认后的公共落定逻辑：落定占用、写事件。
// 必须在与扣款/状态流转相同的事务里执行。
// 订单停在 PAID：现货账号已 SOLD、凭据即刻可取，但订单留着取消退款的余地，
// 确认收货（Deliver）才进终态
func settlePaidOrder(ctx context.Context, tx *gorm.DB, claims *ClaimManager,
	outbox OutboxRepo, topic string, order *model.Order, account *model.SteamAccount) error {
	if err := claims.Settle(ctx, tx, account, order.OrderNo); err != nil {
		return fmt.Errorf("落定账号占用失败: %w", err)
	}
	return writeOrderEvent(ctx, tx, outbox, topic, model.EventOrderPaid, order, nil)
}

// PayWithQR 发起扫码支付：向网关为订单金额出码，订单保持 PENDING，
// 等客户端轮询 CheckOrderStatus 确认到账
func (s *OrderService) PayWithQR(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.getOwnedOrder(ctx, userID, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.PaymentMethodQR {
		return nil, ErrPaymentMethodMismatch
	}
	if order.PendingExpired(time.Now()) {
		s.expireOrder(ctx, order)
		return nil, ErrOrderExpired
	}
	if order.Status != model.OrderStatusPending {
		return nil, repository.ErrOrderStatusInvalid
	}

	// 已出过码直接复用，刷新页面不重复出码
	if order.QRCodeURL != "" {
		return order, nil
	}

	qrCodeURL, err := s.gateway.IssueQR(ctx, order.Amount, orderNo)
	if err != nil {
		return nil, fmt.Errorf("生成收款码失败: %w", err)
	}

	if err := s.orders.SetQRCodeURL(ctx, orderNo, qrCodeURL); err != nil {
		return nil, fmt.Errorf("保存收款码失败: %w", err)
	}

	order.QRCodeURL = qrCodeURL
	return order, nil
}

// CheckOrderStatus 订单状态轮询（客户端每 5 秒一次）。
// 对 PENDING 的扫码订单查一次网关到账；确认到账只会发生一次，
// 重复轮询和并发轮询都是幂等的。过期在这里惰性判定，不等清理任务
func (s *OrderService) CheckOrderStatus(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.getOwnedOrder(ctx, userID, orderNo)
	if err != nil {
		return nil, err
	}

	if order.PendingExpired(time.Now()) {
		s.expireOrder(ctx, order)
		return s.orders.GetByOrderNo(ctx, orderNo)
	}

	if order.Status != model.OrderStatusPending || order.PaymentMethod != model.PaymentMethodQR {
		return order, nil
	}

	// 结算锁：并发轮询只放一个进网关确认，其余直接返回当前状态
	settleLock := s.locks.SettleLock(orderNo, uuid.NewString())
	if err := settleLock.Lock(ctx, 0, 1); err != nil {
		return order, nil
	}
	defer settleLock.Unlock(ctx)

	settlement, err := s.gateway.CheckSettlement(ctx, orderNo)
	if err != nil {
		log.Printf("查询到账失败: orderNo=%s, err=%v", orderNo, err)
		return order, nil
	}
	if settlement != payguard.SettlementPaid {
		return order, nil
	}

	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		return nil, err
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, orderNo, model.OrderStatusPending, model.OrderStatusPaid); err != nil {
			// 已被并发确认过，按成功处理
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return nil
			}
			return err
		}
		return s.settleOrder(ctx, tx, order, account)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("扫码支付到账: orderNo=%s, userID=%d, amount=%d", orderNo, order.UserID, order.Amount)
	return s.orders.GetByOrderNo(ctx, orderNo)
}

// Deliver 交付确认，订单进终态。
// 预订流水线：代购完成、凭据已录入后由管理员调用，账号随之交付；
// 现货流水线：凭据付款后即可提取，这里只把订单收尾，之后不可再取消
func (s *OrderService) Deliver(ctx context.Context, orderNo string) (*model.Order, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPaid {
		return nil, repository.ErrOrderStatusInvalid
	}

	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		return nil, err
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, orderNo, model.OrderStatusPaid, model.OrderStatusDelivered); err != nil {
			return err
		}
		if account.Pipeline == model.ClassifyOrder {
			if err := s.accounts.UpdateStatus(ctx, tx, account.ID, account.Pipeline,
				model.AccountStatusOrdering, model.AccountStatusDelivered); err != nil {
				return fmt.Errorf("更新账号状态失败: %w", err)
			}
		}
		return s.writeOrderEvent(ctx, tx, model.EventOrderDelivered, order, nil)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("订单已交付: orderNo=%s", orderNo)
	return s.orders.GetByOrderNo(ctx, orderNo)
}

// Cancel 取消订单（管理员任意单，用户本人单；userID=0 表示管理员）。
// 终态订单按无操作处理，重复取消安全。
// PENDING：释放占用回库；
// PAID：回收账号，余额支付的退款到钱包；扫码支付的资金未入钱包账本，
// 事件里带 refund_required 标记，由后台线下对账处理
func (s *OrderService) Cancel(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, ErrNotOwner
	}

	if model.OrderStatusTerminal(order.Status) {
		return order, nil
	}

	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusPending {
		err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.orders.UpdateStatus(ctx, tx, orderNo, model.OrderStatusPending, model.OrderStatusCancelled); err != nil {
				if errors.Is(err, repository.ErrOrderStatusInvalid) {
					return nil
				}
				return err
			}
			if _, err := s.claims.Release(ctx, tx, account, orderNo); err != nil {
				return fmt.Errorf("释放账号占用失败: %w", err)
			}
			return s.writeOrderEvent(ctx, tx, model.EventOrderCancelled, order, nil)
		})
		if err != nil {
			return nil, err
		}
		log.Printf("订单已取消: orderNo=%s", orderNo)
		return s.orders.GetByOrderNo(ctx, orderNo)
	}

	// PAID 取消：退款路径要拿钱包锁
	walletLock := s.locks.WalletLock(order.UserID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, orderNo, model.OrderStatusPaid, model.OrderStatusCancelled); err != nil {
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return nil
			}
			return err
		}

		if _, err := s.claims.ReleaseSettled(ctx, tx, account, orderNo); err != nil {
			return fmt.Errorf("回收账号失败: %w", err)
		}

		if order.PaymentMethod == model.PaymentMethodBalance {
			wallet, err := s.wallets.GetOrCreate(ctx, order.UserID)
			if err != nil {
				return fmt.Errorf("获取钱包失败: %w", err)
			}
			if err := s.wallets.Increase(ctx, tx, order.UserID, order.Amount); err != nil {
				return fmt.Errorf("退款入账失败: %w", err)
			}
			trans := &model.WalletTransaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        order.UserID,
				RefNo:         orderNo,
				Amount:        order.Amount,
				Type:          model.TransactionTypeRefund,
				BalanceBefore: wallet.Balance,
				BalanceAfter:  wallet.Balance + order.Amount,
				Remark:        fmt.Sprintf("取消退款-%s", orderNo),
			}
			if err := s.txns.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			return s.writeOrderEvent(ctx, tx, model.EventOrderRefunded, order, nil)
		}

		return s.writeOrderEvent(ctx, tx, model.EventOrderCancelled, order, map[string]interface{}{
			"refund_required": true,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("已支付订单取消: orderNo=%s, method=%s", orderNo, order.PaymentMethod)
	return s.orders.GetByOrderNo(ctx, orderNo)
}

// expireOrder 过期处理：订单转 EXPIRED 并释放账号占用。
// 清理任务和所有惰性读路径共用，CAS 保证并发调用只有一个生效
func (s *OrderService) expireOrder(ctx context.Context, order *model.Order) {
	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		log.Printf("过期处理查询账号失败: orderNo=%s, err=%v", order.OrderNo, err)
		return
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusPending, model.OrderStatusExpired); err != nil {
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return nil
			}
			return err
		}
		if _, err := s.claims.Release(ctx, tx, account, order.OrderNo); err != nil {
			return err
		}
		return s.writeOrderEvent(ctx, tx, model.EventOrderExpired, order, nil)
	})
	if err != nil {
		log.Printf("订单过期处理失败: orderNo=%s, err=%v", order.OrderNo, err)
		return
	}
	log.Printf("订单已过期关闭: orderNo=%s", order.OrderNo)
}

// ExpireDueOrders 批量关闭过期订单，清理任务定时调用
func (s *OrderService) ExpireDueOrders(ctx context.Context, limit int) (int, error) {
	orders, err := s.orders.GetExpiredOrders(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	for _, order := range orders {
		s.expireOrder(ctx, order)
	}
	return len(orders), nil
}

// GetOrder 查询订单，userID=0 表示管理员跳过归属校验。
// PENDING 订单已过期时惰性转为 EXPIRED 再返回
func (s *OrderService) GetOrder(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, ErrNotOwner
	}
	if order.PendingExpired(time.Now()) {
		s.expireOrder(ctx, order)
		return s.orders.GetByOrderNo(ctx, orderNo)
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orders.ListByUserID(ctx, userID, page, pageSize)
}

func (s *OrderService) ListOrders(ctx context.Context, status, classification string, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orders.List(ctx, status, classification, page, pageSize)
}

// DeliveryInfo 交付给买家的凭据
type DeliveryInfo struct {
	AccountCode string `json:"account_code"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	SteamGuard  string `json:"steam_guard,omitempty"`
}

// GetDelivery 凭据提取，只有买家本人可见。
// 现货订单付款落定（账号 SOLD）后即可提取，不必等交付确认；
// 预订订单要等交付
func (s *OrderService) GetDelivery(ctx context.Context, userID int64, orderNo string) (*DeliveryInfo, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	fetchable := order.Status == model.OrderStatusDelivered ||
		(order.Status == model.OrderStatusPaid && order.Classification == model.ClassifyStock)
	if !fetchable {
		return nil, repository.ErrOrderStatusInvalid
	}

	account, err := s.accounts.GetByID(ctx, order.SteamAccountID)
	if err != nil {
		return nil, err
	}

	return &DeliveryInfo{
		AccountCode: account.AccountCode,
		Username:    account.Username,
		Password:    account.Password,
		SteamGuard:  account.SteamGuard,
	}, nil
}

func (s *OrderService) getOwnedOrder(ctx context.Context, userID int64, orderNo string) (*model.Order, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	return order, nil
}

func (s *OrderService) writeOrderEvent(ctx context.Context, tx *gorm.DB, event string, order *model.Order, extra map[string]interface{}) error {
	return writeOrderEvent(ctx, tx, s.outbox, s.cfg.Kafka.Topic.OrderEvents, event, order, extra)
}

// writeOrderEvent 生命周期事件写入发件箱，与业务变更同事务提交
func writeOrderEvent(ctx context.Context, tx *gorm.DB, outbox OutboxRepo, topic, event string, order *model.Order, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"event":            event,
		"order_no":         order.OrderNo,
		"user_id":          order.UserID,
		"steam_account_id": order.SteamAccountID,
		"amount":           order.Amount,
		"payment_method":   order.PaymentMethod,
		"occurred_at":      time.Now().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: order.OrderNo,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}
