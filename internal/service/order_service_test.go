package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"steamshop/internal/client/steamauth"
	"steamshop/internal/config"
	"steamshop/internal/model"
	"steamshop/internal/repository"
	"steamshop/pkg/idgen"

	"github.com/stretchr/testify/assert"
)

func init() {
	idgen.Init(1)
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				OrderEvents:  "order_events",
				WalletEvents: "wallet_events",
			},
		},
		Business: config.BusinessConfig{
			OrderTTLSeconds:      1800,
			DepositTTLSeconds:    1800,
			AllowGuardedAccounts: true,
			MaxRetryCount:        5,
		},
	}
}

type orderFixture struct {
	svc       *OrderService
	accounts  *fakeAccounts
	orders    *fakeOrders
	wallets   *fakeWallets
	txns      *fakeTxns
	outbox    *fakeOutbox
	validator *fakeValidator
	gateway   *fakeGateway
	cfg       *config.Config
}

func newOrderFixture(accounts ...*model.SteamAccount) *orderFixture {
	cfg := testConfig()
	fa := newFakeAccounts(accounts...)
	fo := newFakeOrders()
	fw := newFakeWallets()
	ft := &fakeTxns{}
	fb := &fakeOutbox{}
	fv := newFakeValidator()
	fg := newFakeGateway()

	svc := &OrderService{
		cfg:       cfg,
		tx:        fakeTxManager{},
		orders:    fo,
		accounts:  fa,
		infos:     newFakeInfos(&model.AccountInfo{ID: 1, Name: "测试商品", Classify: model.ClassifyStock, Price: 50000}),
		wallets:   fw,
		txns:      ft,
		outbox:    fb,
		claims:    NewClaimManager(fa),
		validator: fv,
		gateway:   fg,
		locks:     newFakeLockFactory(),
	}
	return &orderFixture{
		svc: svc, accounts: fa, orders: fo, wallets: fw,
		txns: ft, outbox: fb, validator: fv, gateway: fg, cfg: cfg,
	}
}

func TestCreateOrderClaimsAccount(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, int64(50000), order.Amount)
	assert.Equal(t, model.ClassifyStock, order.Classification)
	assert.Equal(t, model.AccountStatusOrdering, f.accounts.status(1))

	stored, err := f.orders.GetByOrderNo(ctx, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), stored.UserID)
}

func TestCreateOrderUsesUnitPriceOverride(t *testing.T) {
	account := stockAccount(1)
	price := int64(42000)
	account.Price = &price
	f := newOrderFixture(account)

	order, err := f.svc.CreateOrder(context.Background(), 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)
	assert.Equal(t, int64(42000), order.Amount)
}

func TestCreateOrderInvalidCredentials(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	f.validator.setResult("steam_user", steamauth.ResultInvalidPassword)

	_, err := f.svc.CreateOrder(context.Background(), 100, 1, model.PaymentMethodBalance)
	assert.ErrorIs(t, err, ErrAccountUnavailable)
	// 验证失败的账号转入维护下架，不建单
	assert.Equal(t, model.AccountStatusMaintenance, f.accounts.status(1))
	assert.Equal(t, 0, f.orders.count(model.OrderStatusPending))
}

func TestCreateOrderGuardedBlocked(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	f.cfg.Business.AllowGuardedAccounts = false
	f.validator.setResult("steam_user", steamauth.ResultValidGuarded)

	_, err := f.svc.CreateOrder(context.Background(), 100, 1, model.PaymentMethodBalance)
	assert.ErrorIs(t, err, ErrGuardedBlocked)
	// 带令牌不是故障，账号保持在售
	assert.Equal(t, model.AccountStatusInStock, f.accounts.status(1))
}

func TestCreateOrderGuardedAllowedByDefault(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	f.validator.setResult("steam_user", steamauth.ResultValidGuarded)

	order, err := f.svc.CreateOrder(context.Background(), 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
}

func TestCreateOrderDoubleSaleRejected(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, 200, 1, model.PaymentMethodBalance)
	assert.ErrorIs(t, err, repository.ErrAccountClaimed)
	assert.Equal(t, 1, f.orders.count(model.OrderStatusPending))
}

func TestOrderPipelineSkipsValidation(t *testing.T) {
	f := newOrderFixture(preOrderAccount(1))
	f.validator.setResult("steam_user", steamauth.ResultInvalidPassword)

	// 预订账号凭据尚不存在，不做校验
	order, err := f.svc.CreateOrder(context.Background(), 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	assert.Equal(t, model.ClassifyOrder, order.Classification)
	assert.Equal(t, 0, f.validator.calls)
}

func TestPayWithBalanceSettlesStock(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)

	paid, err := f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	// 账号落定卖出，订单停在 PAID 保留退款余地
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	assert.Equal(t, int64(100000), f.wallets.balance(100))
	assert.Equal(t, model.AccountStatusSold, f.accounts.status(1))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypePay))

	// 现货付款后凭据即刻可取
	delivery, err := f.svc.GetDelivery(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, "steam_user", delivery.Username)
}

func TestStockRefundRoundTrip(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	paid, err := f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	assert.Equal(t, int64(100000), f.wallets.balance(100))

	// 已支付的现货订单取消：全额退回钱包，账号回库再售
	cancelled, err := f.svc.Cancel(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(150000), f.wallets.balance(100))
	assert.Equal(t, model.AccountStatusInStock, f.accounts.status(1))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypeRefund))
}

func TestPayWithBalanceInsufficient(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 10000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)

	_, err = f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)
	// 订单和余额都不动，账号保持占用等待重试
	assert.Equal(t, int64(10000), f.wallets.balance(100))
	current, _ := f.orders.GetByOrderNo(ctx, order.OrderNo)
	assert.Equal(t, model.OrderStatusPending, current.Status)
	assert.Equal(t, model.AccountStatusOrdering, f.accounts.status(1))
}

func TestPayConcurrentSingleDeduct(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 50000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.PayWithBalance(ctx, 100, order.OrderNo); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "并发支付只允许一次成功")
	assert.Equal(t, int64(0), f.wallets.balance(100))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypePay))
}

func TestPayExpiredOrderLazyClose(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)

	// 把订单拨到支付时限之后
	f.orders.mu.Lock()
	f.orders.orders[order.OrderNo].ExpiredAt = time.Now().Add(-time.Second)
	f.orders.mu.Unlock()

	_, err = f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.ErrorIs(t, err, ErrOrderExpired)

	current, _ := f.orders.GetByOrderNo(ctx, order.OrderNo)
	assert.Equal(t, model.OrderStatusExpired, current.Status)
	assert.Equal(t, model.AccountStatusInStock, f.accounts.status(1))
	assert.Equal(t, int64(150000), f.wallets.balance(100))
}

func TestCancelPaidBalanceRefundRoundTrip(t *testing.T) {
	// 等待代购的预订单同样走已支付取消退款
	f := newOrderFixture(preOrderAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	_, err = f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, int64(100000), f.wallets.balance(100))

	// 管理员取消已支付订单：退款 + 代购终止
	cancelled, err := f.svc.Cancel(ctx, 0, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(150000), f.wallets.balance(100))
	assert.Equal(t, model.AccountStatusCancelled, f.accounts.status(1))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypeRefund))
}

func TestCancelDeliveredOrderNoop(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	_, err = f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)

	// 现货订单收尾交付，账号保持 SOLD
	delivered, err := f.svc.Deliver(ctx, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, model.AccountStatusSold, f.accounts.status(1))

	// 已交付是终态，取消不退款不改状态
	after, err := f.svc.Cancel(ctx, 0, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, after.Status)
	assert.Equal(t, int64(100000), f.wallets.balance(100))
	assert.Equal(t, model.AccountStatusSold, f.accounts.status(1))
}

func TestCancelPendingReleasesClaim(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, model.AccountStatusInStock, f.accounts.status(1))

	// 终态订单重复取消是无操作
	again, err := f.svc.Cancel(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, again.Status)
}

func TestCancelOtherUsersOrderForbidden(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)

	_, err = f.svc.Cancel(ctx, 200, order.OrderNo)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestQRPaymentPollConfirm(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)

	withQR, err := f.svc.PayWithQR(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.NotEmpty(t, withQR.QRCodeURL)

	// 未到账：轮询返回当前状态
	polled, err := f.svc.CheckOrderStatus(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, polled.Status)

	// 到账后轮询触发确认，账号卖出、订单转 PAID
	f.gateway.markPaid(order.OrderNo)
	polled, err = f.svc.CheckOrderStatus(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, polled.Status)
	assert.Equal(t, model.AccountStatusSold, f.accounts.status(1))

	// 重复轮询幂等
	polled, err = f.svc.CheckOrderStatus(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, polled.Status)
}

func TestDeliverOrderPipeline(t *testing.T) {
	f := newOrderFixture(preOrderAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	paid, err := f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	// 预订订单付款后停在 PAID，等管理员代购
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	assert.Equal(t, model.AccountStatusOrdering, f.accounts.status(1))

	delivered, err := f.svc.Deliver(ctx, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, model.AccountStatusDelivered, f.accounts.status(1))
}

func TestExpireDueOrders(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)

	f.orders.mu.Lock()
	f.orders.orders[order.OrderNo].ExpiredAt = time.Now().Add(-time.Minute)
	f.orders.mu.Unlock()

	n, err := f.svc.ExpireDueOrders(ctx, 100)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	current, _ := f.orders.GetByOrderNo(ctx, order.OrderNo)
	assert.Equal(t, model.OrderStatusExpired, current.Status)
	assert.Equal(t, model.AccountStatusInStock, f.accounts.status(1))
}

func TestGetDeliveryOwnerOnly(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()
	f.wallets.set(100, 150000)

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodBalance)
	assert.NoError(t, err)
	_, err = f.svc.PayWithBalance(ctx, 100, order.OrderNo)
	assert.NoError(t, err)

	delivery, err := f.svc.GetDelivery(ctx, 100, order.OrderNo)
	assert.NoError(t, err)
	assert.Equal(t, "steam_user", delivery.Username)
	assert.Equal(t, "secret", delivery.Password)

	// 非买家不可见
	_, err = f.svc.GetDelivery(ctx, 200, order.OrderNo)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestGetDeliveryBeforeDelivered(t *testing.T) {
	f := newOrderFixture(stockAccount(1))
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, 100, 1, model.PaymentMethodQR)
	assert.NoError(t, err)

	_, err = f.svc.GetDelivery(ctx, 100, order.OrderNo)
	assert.ErrorIs(t, err, repository.ErrOrderStatusInvalid)
}
