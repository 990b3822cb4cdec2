package model

import (
	"time"
)

const (
	AccountStatusInStock     = "IN_STOCK"
	AccountStatusSold        = "SOLD"
	AccountStatusMaintenance = "MAINTENANCE"
	AccountStatusPreOrder    = "PRE_ORDER"
	AccountStatusOrdering    = "ORDERING"
	AccountStatusDelivered   = "DELIVERED"
	AccountStatusCancelled   = "CANCELLED"
)

// 两条流水线共用一套状态枚举，流水线由 pipeline 字段区分：
//
//	STOCK: IN_STOCK -> ORDERING（被订单占用） -> SOLD
//	       IN_STOCK <-> MAINTENANCE（验证失败/人工恢复）
//	ORDER: PRE_ORDER -> ORDERING -> DELIVERED / CANCELLED
//
// ORDERING 即"被占用"，占用者记录在 claim_order_no
var accountStatusTransitions = map[string]map[string][]string{
	ClassifyStock: {
		AccountStatusInStock:     {AccountStatusOrdering, AccountStatusMaintenance},
		AccountStatusOrdering:    {AccountStatusSold, AccountStatusInStock},
		AccountStatusMaintenance: {AccountStatusInStock},
	},
	ClassifyOrder: {
		AccountStatusPreOrder: {AccountStatusOrdering},
		AccountStatusOrdering: {AccountStatusDelivered, AccountStatusCancelled, AccountStatusPreOrder},
	},
}

// AccountCanTransitionTo 校验指定流水线下的账号状态流转是否合法
func AccountCanTransitionTo(pipeline, currentStatus, targetStatus string) bool {
	transitions, ok := accountStatusTransitions[pipeline]
	if !ok {
		return false
	}
	for _, s := range transitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ClaimableStatus 返回流水线对应的可占用状态
func ClaimableStatus(pipeline string) string {
	if pipeline == ClassifyOrder {
		return AccountStatusPreOrder
	}
	return AccountStatusInStock
}

// InitialStatus 返回流水线对应的入库初始状态
func InitialStatus(pipeline string) string {
	return ClaimableStatus(pipeline)
}

// SteamAccount 序列化账号表（最小可售单元）
// 密码和令牌属于敏感字段，禁止写入日志，接口仅在交付时返回
type SteamAccount struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountInfoID int64     `gorm:"not null;uniqueIndex:uk_info_code,priority:1" json:"account_info_id"`
	AccountCode   string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_info_code,priority:2" json:"account_code"`
	Username      string    `gorm:"type:varchar(128);not null" json:"username"`
	Password      string    `gorm:"type:varchar(256)" json:"-"`
	SteamGuard    string    `gorm:"type:varchar(128)" json:"-"`
	Pipeline      string    `gorm:"type:varchar(16);not null;default:STOCK" json:"pipeline"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Price         *int64    `json:"price,omitempty"`          // 为空时取商品价格
	OriginalPrice *int64    `json:"original_price,omitempty"` // 为空时取商品原价
	ClaimOrderNo  string    `gorm:"type:varchar(64);index;not null;default:''" json:"-"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SteamAccount) TableName() string {
	return "steam_account"
}

// EffectivePrice 账号自身定价优先，否则回落到商品定价
func (a *SteamAccount) EffectivePrice(info *AccountInfo) int64 {
	if a.Price != nil {
		return *a.Price
	}
	return info.Price
}

// Claimed 账号当前是否被订单占用
func (a *SteamAccount) Claimed() bool {
	return a.Status == AccountStatusOrdering && a.ClaimOrderNo != ""
}

// Terminal 账号是否处于终态（不可再占用、不可再释放）
func (a *SteamAccount) Terminal() bool {
	switch a.Status {
	case AccountStatusSold, AccountStatusDelivered, AccountStatusCancelled:
		return true
	}
	return false
}
