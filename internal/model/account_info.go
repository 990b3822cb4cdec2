package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AccountTypeOneGame    = "ONE_GAME"
	AccountTypeMultiGames = "MULTI_GAMES"
	AccountTypeDiscounted = "DISCOUNTED"
	AccountTypeOther      = "OTHER_ACCOUNT"
)

// 商品分类：STOCK 为现货（卡密已录入，付款后即可提取凭据），
// ORDER 为预订（付款后由管理员代购，之后交付）
const (
	ClassifyStock = "STOCK"
	ClassifyOrder = "ORDER"
)

// AccountInfo 商品表（一个商品对应多个可售的序列化账号）
type AccountInfo struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string         `gorm:"type:varchar(128);not null" json:"name"`
	Description        string         `gorm:"type:text" json:"description"`
	ImageURL           string         `gorm:"type:varchar(512)" json:"image_url"`
	AccountType        string         `gorm:"type:varchar(32);not null" json:"account_type"`
	Classify           string         `gorm:"type:varchar(16);index;not null;default:STOCK" json:"classify"`
	Price              int64          `gorm:"not null" json:"price"`
	OriginalPrice      *int64         `json:"original_price,omitempty"`
	DiscountPercentage int            `gorm:"not null;default:0" json:"discount_percentage"` // 0-90
	GameIDs            datatypes.JSON `gorm:"type:json" json:"game_ids"`
	StockQuantity      int            `gorm:"not null;default:0" json:"stock_quantity"` // 目标库存数
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	// 派生字段：status=IN_STOCK 的账号数，查询时填充，不落库
	AvailableStock int64 `gorm:"-" json:"available_stock"`
}

func (AccountInfo) TableName() string {
	return "account_info"
}

func IsValidAccountType(t string) bool {
	switch t {
	case AccountTypeOneGame, AccountTypeMultiGames, AccountTypeDiscounted, AccountTypeOther:
		return true
	}
	return false
}

func IsValidClassify(c string) bool {
	return c == ClassifyStock || c == ClassifyOrder
}
