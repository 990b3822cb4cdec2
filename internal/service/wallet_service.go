package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"steamshop/internal/client/payguard"
	"steamshop/internal/config"
	"steamshop/internal/model"
	"steamshop/internal/repository"
	"steamshop/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletService 钱包账本：余额查询、扫码充值、流水、余额重算。
// 余额只认账本，任何入账出账都有对应流水
type WalletService struct {
	cfg      *config.Config
	tx       TxManager
	wallets  WalletRepo
	deposits DepositRepo
	txns     TransactionRepo
	outbox   OutboxRepo
	gateway  PaymentGateway
	locks    LockFactory
}

func NewWalletService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WalletService {
	return &WalletService{
		cfg:      cfg,
		tx:       repository.NewTxManager(db),
		wallets:  repository.NewWalletRepository(db),
		deposits: repository.NewDepositRepository(db),
		txns:     repository.NewTransactionRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		gateway:  payguard.NewClient(&cfg.PayGate),
		locks:    NewRedisLockFactory(redisClient),
	}
}

func (s *WalletService) GetBalance(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	return s.wallets.GetOrCreate(ctx, userID)
}

// CreateDeposit 发起充值：生成充值单并向网关出码，等待客户端轮询确认
func (s *WalletService) CreateDeposit(ctx context.Context, userID, amount int64) (*model.WalletDeposit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("充值金额必须大于 0")
	}

	depositNo := idgen.GenerateDepositNo()
	qrCodeURL, err := s.gateway.IssueQR(ctx, amount, depositNo)
	if err != nil {
		return nil, fmt.Errorf("生成收款码失败: %w", err)
	}

	deposit := &model.WalletDeposit{
		DepositNo: depositNo,
		UserID:    userID,
		Amount:    amount,
		QRCodeURL: qrCodeURL,
		Status:    model.DepositStatusPending,
		ExpiredAt: time.Now().Add(s.cfg.Business.DepositTTL()),
	}
	if err := s.deposits.Create(ctx, nil, deposit); err != nil {
		return nil, fmt.Errorf("创建充值单失败: %w", err)
	}

	log.Printf("发起充值: depositNo=%s, userID=%d, amount=%d", depositNo, userID, amount)
	return deposit, nil
}

// CheckDeposit 充值单状态轮询。
// 到账确认只发生一次：结算锁挡并发轮询，状态 CAS 挡重复入账
func (s *WalletService) CheckDeposit(ctx context.Context, userID int64, depositNo string) (*model.WalletDeposit, error) {
	deposit, err := s.deposits.GetByDepositNo(ctx, depositNo)
	if err != nil {
		return nil, err
	}
	if deposit.UserID != userID {
		return nil, ErrNotOwner
	}

	if deposit.PendingExpired(time.Now()) {
		s.expireDeposit(ctx, deposit)
		return s.deposits.GetByDepositNo(ctx, depositNo)
	}

	if deposit.Status != model.DepositStatusPending {
		return deposit, nil
	}

	settleLock := s.locks.SettleLock(depositNo, uuid.NewString())
	if err := settleLock.Lock(ctx, 0, 1); err != nil {
		return deposit, nil
	}
	defer settleLock.Unlock(ctx)

	settlement, err := s.gateway.CheckSettlement(ctx, depositNo)
	if err != nil {
		log.Printf("查询充值到账失败: depositNo=%s, err=%v", depositNo, err)
		return deposit, nil
	}
	if settlement != payguard.SettlementPaid {
		return deposit, nil
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.deposits.UpdateStatus(ctx, tx, depositNo, model.DepositStatusPending, model.DepositStatusPaid); err != nil {
			if errors.Is(err, repository.ErrDepositStatusInvalid) {
				return nil
			}
			return err
		}

		wallet, err := s.wallets.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("获取钱包失败: %w", err)
		}
		if err := s.wallets.Increase(ctx, tx, userID, deposit.Amount); err != nil {
			return fmt.Errorf("充值入账失败: %w", err)
		}

		trans := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefNo:         depositNo,
			Amount:        deposit.Amount,
			Type:          model.TransactionTypeDeposit,
			BalanceBefore: wallet.Balance,
			BalanceAfter:  wallet.Balance + deposit.Amount,
			Remark:        fmt.Sprintf("扫码充值-%s", depositNo),
		}
		if err := s.txns.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.writeWalletEvent(ctx, tx, model.EventDepositPaid, deposit)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("充值到账: depositNo=%s, userID=%d, amount=%d", depositNo, userID, deposit.Amount)
	return s.deposits.GetByDepositNo(ctx, depositNo)
}

// expireDeposit 关闭过期充值单，CAS 失败说明已被并发处理
func (s *WalletService) expireDeposit(ctx context.Context, deposit *model.WalletDeposit) {
	err := s.deposits.UpdateStatus(ctx, nil, deposit.DepositNo, model.DepositStatusPending, model.DepositStatusExpired)
	if err != nil && !errors.Is(err, repository.ErrDepositStatusInvalid) {
		log.Printf("充值单过期处理失败: depositNo=%s, err=%v", deposit.DepositNo, err)
		return
	}
	log.Printf("充值单已过期关闭: depositNo=%s", deposit.DepositNo)
}

// ExpireDueDeposits 批量关闭过期充值单，清理任务定时调用
func (s *WalletService) ExpireDueDeposits(ctx context.Context, limit int) (int, error) {
	deposits, err := s.deposits.GetExpiredDeposits(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	for _, deposit := range deposits {
		s.expireDeposit(ctx, deposit)
	}
	return len(deposits), nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.txns.ListByUserID(ctx, userID, page, pageSize)
}

// Recalculate 余额重算（管理员对账工具）：
// 余额 = 已到账充值 + 退款流水 + 支付流水（支付为负数），以账本为准覆盖余额
func (s *WalletService) Recalculate(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	walletLock := s.locks.WalletLock(userID, uuid.NewString())
	if err := walletLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer walletLock.Unlock(ctx)

	depositTotal, err := s.deposits.SumPaidByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("汇总充值失败: %w", err)
	}
	refundTotal, err := s.txns.SumByUserIDAndType(ctx, userID, model.TransactionTypeRefund)
	if err != nil {
		return nil, fmt.Errorf("汇总退款失败: %w", err)
	}
	payTotal, err := s.txns.SumByUserIDAndType(ctx, userID, model.TransactionTypePay)
	if err != nil {
		return nil, fmt.Errorf("汇总支付失败: %w", err)
	}

	balance := depositTotal + refundTotal + payTotal
	if err := s.wallets.SetBalance(ctx, userID, balance); err != nil {
		return nil, fmt.Errorf("覆盖余额失败: %w", err)
	}

	log.Printf("余额重算完成: userID=%d, balance=%d", userID, balance)
	return s.wallets.GetByUserID(ctx, userID)
}

func (s *WalletService) writeWalletEvent(ctx context.Context, tx *gorm.DB, event string, deposit *model.WalletDeposit) error {
	payload := map[string]interface{}{
		"event":       event,
		"deposit_no":  deposit.DepositNo,
		"user_id":     deposit.UserID,
		"amount":      deposit.Amount,
		"occurred_at": time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: deposit.DepositNo,
		Topic:      s.cfg.Kafka.Topic.WalletEvents,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}
