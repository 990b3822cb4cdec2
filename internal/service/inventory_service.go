package service

import (
	"context"
	"fmt"
	"log"

	"steamshop/internal/model"
	"steamshop/internal/repository"

	"gorm.io/gorm"
)

// InventoryService 商品与库存管理（管理员），不依赖外部服务
type InventoryService struct {
	tx       TxManager
	infos    InventoryInfoRepo
	accounts InventoryAccountRepo
	orders   InventoryOrderRepo
}

func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{
		tx:       repository.NewTxManager(db),
		infos:    repository.NewAccountInfoRepository(db),
		accounts: repository.NewSteamAccountRepository(db),
		orders:   repository.NewOrderRepository(db),
	}
}

// SteamAccountInput 录入账号的凭据与定价
type SteamAccountInput struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required"`
	SteamGuard    string `json:"steam_guard"`
	Price         *int64 `json:"price"`
	OriginalPrice *int64 `json:"original_price"`
}

// CreateAccountInfo 创建商品，可同时批量录入序列化账号。
// 账号初始状态按分类决定：现货 IN_STOCK，预订 PRE_ORDER
func (s *InventoryService) CreateAccountInfo(ctx context.Context, info *model.AccountInfo, units []SteamAccountInput) (*model.AccountInfo, error) {
	if !model.IsValidAccountType(info.AccountType) {
		return nil, fmt.Errorf("无效的账号类型: %s", info.AccountType)
	}
	if info.Classify == "" {
		info.Classify = model.ClassifyStock
	}
	if !model.IsValidClassify(info.Classify) {
		return nil, fmt.Errorf("无效的商品分类: %s", info.Classify)
	}
	if info.Price <= 0 {
		return nil, fmt.Errorf("商品价格必须大于 0")
	}
	if info.DiscountPercentage < 0 || info.DiscountPercentage > 90 {
		return nil, fmt.Errorf("折扣比例超出范围: %d", info.DiscountPercentage)
	}

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.infos.Create(ctx, tx, info); err != nil {
			return fmt.Errorf("创建商品失败: %w", err)
		}
		if len(units) == 0 {
			return nil
		}

		accounts := make([]*model.SteamAccount, 0, len(units))
		for i, unit := range units {
			accounts = append(accounts, &model.SteamAccount{
				AccountInfoID: info.ID,
				AccountCode:   fmt.Sprintf("A-%06d", i+1),
				Username:      unit.Username,
				Password:      unit.Password,
				SteamGuard:    unit.SteamGuard,
				Pipeline:      info.Classify,
				Status:        model.InitialStatus(info.Classify),
				Price:         unit.Price,
				OriginalPrice: unit.OriginalPrice,
			})
		}
		if err := s.accounts.BatchCreate(ctx, tx, accounts); err != nil {
			return fmt.Errorf("录入账号失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("创建商品: infoID=%d, name=%s, units=%d", info.ID, info.Name, len(units))
	return s.GetAccountInfo(ctx, info.ID)
}

func (s *InventoryService) UpdateAccountInfo(ctx context.Context, info *model.AccountInfo) (*model.AccountInfo, error) {
	if info.AccountType != "" && !model.IsValidAccountType(info.AccountType) {
		return nil, fmt.Errorf("无效的账号类型: %s", info.AccountType)
	}
	if info.DiscountPercentage < 0 || info.DiscountPercentage > 90 {
		return nil, fmt.Errorf("折扣比例超出范围: %d", info.DiscountPercentage)
	}

	existing, err := s.infos.GetByID(ctx, info.ID)
	if err != nil {
		return nil, err
	}
	// 分类建好后不可改，两条流水线的账号状态机不同
	if info.Classify != "" && info.Classify != existing.Classify {
		return nil, fmt.Errorf("商品分类不可修改")
	}

	if err := s.infos.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("更新商品失败: %w", err)
	}
	return s.GetAccountInfo(ctx, info.ID)
}

// DeleteAccountInfo 删除商品及其全部账号。
// 任何账号还挂着活跃订单（PENDING/PAID）时拒绝删除
func (s *InventoryService) DeleteAccountInfo(ctx context.Context, id int64) error {
	if _, err := s.infos.GetByID(ctx, id); err != nil {
		return err
	}

	accounts, err := s.accounts.ListByAccountInfo(ctx, id)
	if err != nil {
		return err
	}

	if len(accounts) > 0 {
		ids := make([]int64, 0, len(accounts))
		for _, account := range accounts {
			if account.Claimed() {
				return ErrInventoryInUse
			}
			ids = append(ids, account.ID)
		}
		active, err := s.orders.CountActiveBySteamAccounts(ctx, ids)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrInventoryInUse
		}
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		for _, account := range accounts {
			if err := s.accounts.Delete(ctx, account.ID); err != nil {
				return err
			}
		}
		return s.infos.Delete(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("删除商品失败: %w", err)
	}

	log.Printf("删除商品: infoID=%d, units=%d", id, len(accounts))
	return nil
}

// GetAccountInfo 查询商品并填充可售库存数
func (s *InventoryService) GetAccountInfo(ctx context.Context, id int64) (*model.AccountInfo, error) {
	info, err := s.infos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillAvailableStock(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *InventoryService) ListAccountInfos(ctx context.Context, classify string, page, pageSize int) ([]*model.AccountInfo, int64, error) {
	infos, total, err := s.infos.List(ctx, classify, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	for _, info := range infos {
		if err := s.fillAvailableStock(ctx, info); err != nil {
			return nil, 0, err
		}
	}
	return infos, total, nil
}

func (s *InventoryService) fillAvailableStock(ctx context.Context, info *model.AccountInfo) error {
	status := model.ClaimableStatus(info.Classify)
	count, err := s.accounts.CountByStatus(ctx, info.ID, status)
	if err != nil {
		return err
	}
	info.AvailableStock = count
	return nil
}

// AddSteamAccount 给已有商品追加账号，序号按组内递增生成
func (s *InventoryService) AddSteamAccount(ctx context.Context, accountInfoID int64, input SteamAccountInput) (*model.SteamAccount, error) {
	info, err := s.infos.GetByID(ctx, accountInfoID)
	if err != nil {
		return nil, err
	}

	seq, err := s.accounts.NextAccountCode(ctx, accountInfoID)
	if err != nil {
		return nil, err
	}

	account := &model.SteamAccount{
		AccountInfoID: accountInfoID,
		AccountCode:   fmt.Sprintf("A-%06d", seq),
		Username:      input.Username,
		Password:      input.Password,
		SteamGuard:    input.SteamGuard,
		Pipeline:      info.Classify,
		Status:        model.InitialStatus(info.Classify),
		Price:         input.Price,
		OriginalPrice: input.OriginalPrice,
	}
	if err := s.accounts.Create(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("录入账号失败: %w", err)
	}

	log.Printf("追加账号: infoID=%d, accountID=%d, code=%s", accountInfoID, account.ID, account.AccountCode)
	return account, nil
}

// UpdateSteamAccount 更新账号凭据或定价。
// 被占用中的账号不允许改凭据，买家可能正要拿到它
func (s *InventoryService) UpdateSteamAccount(ctx context.Context, id int64, input SteamAccountInput) (*model.SteamAccount, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Claimed() {
		return nil, repository.ErrAccountClaimed
	}

	account.Username = input.Username
	account.Password = input.Password
	account.SteamGuard = input.SteamGuard
	account.Price = input.Price
	account.OriginalPrice = input.OriginalPrice

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("更新账号失败: %w", err)
	}
	return s.accounts.GetByID(ctx, id)
}

// DeleteSteamAccount 删除单个账号，被占用或有活跃订单时拒绝
func (s *InventoryService) DeleteSteamAccount(ctx context.Context, id int64) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if account.Claimed() {
		return ErrInventoryInUse
	}

	active, err := s.orders.CountActiveBySteamAccounts(ctx, []int64{id})
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrInventoryInUse
	}

	if err := s.accounts.Delete(ctx, id); err != nil {
		return fmt.Errorf("删除账号失败: %w", err)
	}
	log.Printf("删除账号: accountID=%d", id)
	return nil
}

func (s *InventoryService) ListSteamAccounts(ctx context.Context, accountInfoID int64) ([]*model.SteamAccount, error) {
	return s.accounts.ListByAccountInfo(ctx, accountInfoID)
}

// SetMaintenance 现货账号下架维护（IN_STOCK -> MAINTENANCE）
func (s *InventoryService) SetMaintenance(ctx context.Context, id int64) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.accounts.UpdateStatus(ctx, nil, id, account.Pipeline,
		model.AccountStatusInStock, model.AccountStatusMaintenance)
	if err != nil {
		return err
	}
	log.Printf("账号转入维护: accountID=%d", id)
	return nil
}

// Restore 维护账号恢复上架（MAINTENANCE -> IN_STOCK）
func (s *InventoryService) Restore(ctx context.Context, id int64) error {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.accounts.UpdateStatus(ctx, nil, id, account.Pipeline,
		model.AccountStatusMaintenance, model.AccountStatusInStock)
	if err != nil {
		return err
	}
	log.Printf("账号恢复上架: accountID=%d", id)
	return nil
}
