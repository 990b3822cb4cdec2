package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxManager 封装 gorm 事务，service 层通过接口依赖它，测试可替换
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}
