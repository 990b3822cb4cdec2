package model

import (
	"time"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusExpired   = "EXPIRED"
)

const (
	PaymentMethodBalance = "BALANCE"
	PaymentMethodQR      = "QR"
)

var ValidOrderTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusPaid:    {OrderStatusDelivered, OrderStatusCancelled},
}

func OrderCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidOrderTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// OrderStatusTerminal 终态订单不再参与任何流转
func OrderStatusTerminal(status string) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Order 订单表
// amount 在下单时快照，商品后续调价不影响已有订单
type Order struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	SteamAccountID int64      `gorm:"index;not null" json:"steam_account_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	PaymentMethod  string     `gorm:"type:varchar(16);not null" json:"payment_method"`
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Classification string     `gorm:"type:varchar(16);index;not null" json:"classification"` // 冗余商品分类，便于后台筛选
	QRCodeURL      string     `gorm:"type:varchar(512)" json:"qr_code_url,omitempty"`
	ExpiredAt      time.Time  `gorm:"not null" json:"expired_at"`
	PaidAt         *time.Time `json:"paid_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "shop_order"
}

// PendingExpired 待支付订单是否已过 TTL，到点即过期（含恰好到点）。
// 清理任务的扫描间隔比 TTL 粗得多，所有读路径必须用它做惰性判断，
// 不能只信数据库里的 status
func (o *Order) PendingExpired(now time.Time) bool {
	return o.Status == OrderStatusPending && !now.Before(o.ExpiredAt)
}
