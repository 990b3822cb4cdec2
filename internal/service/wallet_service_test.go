package service

import (
	"context"
	"testing"
	"time"

	"steamshop/internal/config"
	"steamshop/internal/model"

	"github.com/stretchr/testify/assert"
)

type walletFixture struct {
	svc      *WalletService
	wallets  *fakeWallets
	deposits *fakeDeposits
	txns     *fakeTxns
	gateway  *fakeGateway
	cfg      *config.Config
}

func newWalletFixture() *walletFixture {
	cfg := testConfig()
	fw := newFakeWallets()
	fd := newFakeDeposits()
	ft := &fakeTxns{}
	fg := newFakeGateway()

	svc := &WalletService{
		cfg:      cfg,
		tx:       fakeTxManager{},
		wallets:  fw,
		deposits: fd,
		txns:     ft,
		outbox:   &fakeOutbox{},
		gateway:  fg,
		locks:    newFakeLockFactory(),
	}
	return &walletFixture{svc: svc, wallets: fw, deposits: fd, txns: ft, gateway: fg, cfg: cfg}
}

func TestCreateDepositIssuesQR(t *testing.T) {
	f := newWalletFixture()

	deposit, err := f.svc.CreateDeposit(context.Background(), 100, 30000)
	assert.NoError(t, err)
	assert.Equal(t, model.DepositStatusPending, deposit.Status)
	assert.Contains(t, deposit.QRCodeURL, deposit.DepositNo)
	assert.True(t, deposit.ExpiredAt.After(time.Now()))
}

func TestCreateDepositRejectsNonPositiveAmount(t *testing.T) {
	f := newWalletFixture()

	_, err := f.svc.CreateDeposit(context.Background(), 100, 0)
	assert.Error(t, err)
	_, err = f.svc.CreateDeposit(context.Background(), 100, -100)
	assert.Error(t, err)
}

func TestCheckDepositPollConfirm(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	deposit, err := f.svc.CreateDeposit(ctx, 100, 30000)
	assert.NoError(t, err)

	// 未到账：保持 PENDING，不入账
	polled, err := f.svc.CheckDeposit(ctx, 100, deposit.DepositNo)
	assert.NoError(t, err)
	assert.Equal(t, model.DepositStatusPending, polled.Status)
	assert.Equal(t, int64(0), f.wallets.balance(100))

	// 到账后轮询入账
	f.gateway.markPaid(deposit.DepositNo)
	polled, err = f.svc.CheckDeposit(ctx, 100, deposit.DepositNo)
	assert.NoError(t, err)
	assert.Equal(t, model.DepositStatusPaid, polled.Status)
	assert.Equal(t, int64(30000), f.wallets.balance(100))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypeDeposit))

	// 重复轮询不重复入账
	polled, err = f.svc.CheckDeposit(ctx, 100, deposit.DepositNo)
	assert.NoError(t, err)
	assert.Equal(t, model.DepositStatusPaid, polled.Status)
	assert.Equal(t, int64(30000), f.wallets.balance(100))
	assert.Equal(t, 1, f.txns.countByType(model.TransactionTypeDeposit))
}

func TestCheckDepositNotOwner(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	deposit, err := f.svc.CreateDeposit(ctx, 100, 30000)
	assert.NoError(t, err)

	_, err = f.svc.CheckDeposit(ctx, 200, deposit.DepositNo)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCheckDepositLazyExpire(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	deposit, err := f.svc.CreateDeposit(ctx, 100, 30000)
	assert.NoError(t, err)

	f.deposits.mu.Lock()
	f.deposits.deposits[deposit.DepositNo].ExpiredAt = time.Now().Add(-time.Minute)
	f.deposits.mu.Unlock()

	// 即使网关已到账，过期充值单也不再入账，留给人工退款流程
	f.gateway.markPaid(deposit.DepositNo)
	polled, err := f.svc.CheckDeposit(ctx, 100, deposit.DepositNo)
	assert.NoError(t, err)
	assert.Equal(t, model.DepositStatusExpired, polled.Status)
	assert.Equal(t, int64(0), f.wallets.balance(100))
}

func TestExpireDueDeposits(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	deposit, err := f.svc.CreateDeposit(ctx, 100, 30000)
	assert.NoError(t, err)

	f.deposits.mu.Lock()
	f.deposits.deposits[deposit.DepositNo].ExpiredAt = time.Now().Add(-time.Minute)
	f.deposits.mu.Unlock()

	n, err := f.svc.ExpireDueDeposits(ctx, 100)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	current, _ := f.deposits.GetByDepositNo(ctx, deposit.DepositNo)
	assert.Equal(t, model.DepositStatusExpired, current.Status)
}

func TestRecalculateRebuildsBalanceFromLedger(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	// 两笔到账充值 + 一笔支付 + 一笔退款
	d1, _ := f.svc.CreateDeposit(ctx, 100, 50000)
	d2, _ := f.svc.CreateDeposit(ctx, 100, 20000)
	f.gateway.markPaid(d1.DepositNo)
	f.gateway.markPaid(d2.DepositNo)
	_, err := f.svc.CheckDeposit(ctx, 100, d1.DepositNo)
	assert.NoError(t, err)
	_, err = f.svc.CheckDeposit(ctx, 100, d2.DepositNo)
	assert.NoError(t, err)

	f.txns.Create(ctx, nil, &model.WalletTransaction{
		TransactionNo: "TXN-PAY-1", UserID: 100, Amount: -30000, Type: model.TransactionTypePay,
	})
	f.txns.Create(ctx, nil, &model.WalletTransaction{
		TransactionNo: "TXN-RF-1", UserID: 100, Amount: 10000, Type: model.TransactionTypeRefund,
	})

	// 人为污染余额后对账修复
	f.wallets.set(100, 999999)

	wallet, err := f.svc.Recalculate(ctx, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(50000), wallet.Balance)
	assert.Equal(t, int64(50000), f.wallets.balance(100))
}

func TestListTransactionsScopedToUser(t *testing.T) {
	f := newWalletFixture()
	ctx := context.Background()

	f.txns.Create(ctx, nil, &model.WalletTransaction{TransactionNo: "T1", UserID: 100, Amount: 100, Type: model.TransactionTypeDeposit})
	f.txns.Create(ctx, nil, &model.WalletTransaction{TransactionNo: "T2", UserID: 200, Amount: 200, Type: model.TransactionTypeDeposit})

	list, total, err := f.svc.ListTransactions(ctx, 100, 1, 20)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
	assert.Equal(t, "T1", list[0].TransactionNo)
}
