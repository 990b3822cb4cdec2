package model

import (
	"time"
)

// CartItem 购物车项
// 每个序列化账号都是唯一单元，quantity 恒为 1；
// unit_price 为加入购物车时的价格快照
type CartItem struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"not null;uniqueIndex:uk_user_account,priority:1" json:"user_id"`
	SteamAccountID int64     `gorm:"not null;uniqueIndex:uk_user_account,priority:2" json:"steam_account_id"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	UnitPrice      int64     `gorm:"not null" json:"unit_price"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CartItem) TableName() string {
	return "cart_item"
}
