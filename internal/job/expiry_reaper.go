package job

import (
	"context"
	"log"
	"time"

	"steamshop/internal/config"
	"steamshop/internal/service"
)

// ExpiryReaper 过期清理任务：定时关闭超过支付时限的订单和充值单。
// 读路径已有惰性过期兜底，这里负责把没人再查的单据清掉
type ExpiryReaper struct {
	orderSvc  *service.OrderService
	walletSvc *service.WalletService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewExpiryReaper(orderSvc *service.OrderService, walletSvc *service.WalletService, cfg *config.Config) *ExpiryReaper {
	return &ExpiryReaper{
		orderSvc:  orderSvc,
		walletSvc: walletSvc,
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.ReaperInterval(),
		batchSize: 100,
	}
}

func (j *ExpiryReaper) Start(ctx context.Context) {
	log.Println("[ExpiryReaper] 过期清理任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpiryReaper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpiryReaper] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ExpiryReaper) Stop() {
	close(j.stopCh)
}

func (j *ExpiryReaper) sweep(ctx context.Context) {
	orders, err := j.orderSvc.ExpireDueOrders(ctx, j.batchSize)
	if err != nil {
		log.Printf("[ExpiryReaper] 清理过期订单失败: %v", err)
	} else if orders > 0 {
		log.Printf("[ExpiryReaper] 本次关闭 %d 个过期订单", orders)
	}

	deposits, err := j.walletSvc.ExpireDueDeposits(ctx, j.batchSize)
	if err != nil {
		log.Printf("[ExpiryReaper] 清理过期充值单失败: %v", err)
	} else if deposits > 0 {
		log.Printf("[ExpiryReaper] 本次关闭 %d 个过期充值单", deposits)
	}
}
