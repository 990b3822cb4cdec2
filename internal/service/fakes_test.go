package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"steamshop/internal/model"
	"steamshop/internal/repository"

	"gorm.io/gorm"
)

// 内存假实现：还原仓储层的 CAS 语义，事务降级为直通调用。
// 占用/扣款竞争只依赖单条 CAS，事务回滚对这些用例不是必要条件

type fakeTxManager struct{}

func (fakeTxManager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*model.SteamAccount
}

func newFakeAccounts(accounts ...*model.SteamAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[int64]*model.SteamAccount)}
	for _, a := range accounts {
		cp := *a
		f.accounts[a.ID] = &cp
	}
	return f
}

func (f *fakeAccounts) GetByID(ctx context.Context, id int64) (*model.SteamAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) Claim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != fromStatus || a.ClaimOrderNo != "" {
		return repository.ErrAccountClaimed
	}
	a.Status = model.AccountStatusOrdering
	a.ClaimOrderNo = orderNo
	return nil
}

func (f *fakeAccounts) Unclaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, fromStatus, toStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != fromStatus || a.ClaimOrderNo != orderNo {
		return false, nil
	}
	a.Status = toStatus
	a.ClaimOrderNo = ""
	return true, nil
}

func (f *fakeAccounts) SettleClaim(ctx context.Context, tx *gorm.DB, id int64, orderNo string, toStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != model.AccountStatusOrdering || a.ClaimOrderNo != orderNo {
		return repository.ErrAccountStatusInvalid
	}
	a.Status = toStatus
	return nil
}

func (f *fakeAccounts) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, pipeline, fromStatus, toStatus string) error {
	if !model.AccountCanTransitionTo(pipeline, fromStatus, toStatus) {
		return repository.ErrAccountStatusInvalid
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.Status != fromStatus {
		return repository.ErrAccountStatusInvalid
	}
	a.Status = toStatus
	return nil
}

func (f *fakeAccounts) Create(ctx context.Context, tx *gorm.DB, account *model.SteamAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.ID == 0 {
		account.ID = int64(len(f.accounts) + 1)
	}
	cp := *account
	f.accounts[account.ID] = &cp
	return nil
}

func (f *fakeAccounts) BatchCreate(ctx context.Context, tx *gorm.DB, accounts []*model.SteamAccount) error {
	for _, account := range accounts {
		if err := f.Create(ctx, tx, account); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAccounts) ListByAccountInfo(ctx context.Context, accountInfoID int64) ([]*model.SteamAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SteamAccount
	for _, a := range f.accounts {
		if a.AccountInfoID == accountInfoID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) Update(ctx context.Context, account *model.SteamAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.ID]; !ok {
		return repository.ErrAccountNotFound
	}
	cp := *account
	f.accounts[account.ID] = &cp
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
	return nil
}

func (f *fakeAccounts) CountByStatus(ctx context.Context, accountInfoID int64, status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.accounts {
		if a.AccountInfoID == accountInfoID && a.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) NextAccountCode(ctx context.Context, accountInfoID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.accounts {
		if a.AccountInfoID == accountInfoID {
			n++
		}
	}
	return n + 1, nil
}

func (f *fakeAccounts) has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[id]
	return ok
}

func (f *fakeAccounts) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].Status
}

type fakeInfos struct {
	infos map[int64]*model.AccountInfo
}

func newFakeInfos(infos ...*model.AccountInfo) *fakeInfos {
	f := &fakeInfos{infos: make(map[int64]*model.AccountInfo)}
	for _, i := range infos {
		f.infos[i.ID] = i
	}
	return f
}

func (f *fakeInfos) GetByID(ctx context.Context, id int64) (*model.AccountInfo, error) {
	info, ok := f.infos[id]
	if !ok {
		return nil, repository.ErrAccountInfoNotFound
	}
	return info, nil
}

func (f *fakeInfos) Create(ctx context.Context, tx *gorm.DB, info *model.AccountInfo) error {
	if info.ID == 0 {
		info.ID = int64(len(f.infos) + 1)
	}
	f.infos[info.ID] = info
	return nil
}

func (f *fakeInfos) Update(ctx context.Context, info *model.AccountInfo) error {
	existing, ok := f.infos[info.ID]
	if !ok {
		return repository.ErrAccountInfoNotFound
	}
	if info.Name != "" {
		existing.Name = info.Name
	}
	if info.Price > 0 {
		existing.Price = info.Price
	}
	existing.DiscountPercentage = info.DiscountPercentage
	return nil
}

func (f *fakeInfos) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	delete(f.infos, id)
	return nil
}

func (f *fakeInfos) List(ctx context.Context, classify string, page, pageSize int) ([]*model.AccountInfo, int64, error) {
	var out []*model.AccountInfo
	for _, info := range f.infos {
		if classify == "" || info.Classify == classify {
			out = append(out, info)
		}
	}
	return out, int64(len(out)), nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*model.Order)}
}

func (f *fakeOrders) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *order
	f.orders[order.OrderNo] = &cp
	return nil
}

func (f *fakeOrders) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderNo]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.OrderCanTransitionTo(fromStatus, toStatus) {
		return repository.ErrOrderStatusInvalid
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderNo]
	if !ok || o.Status != fromStatus {
		return repository.ErrOrderStatusInvalid
	}
	o.Status = toStatus
	if toStatus == model.OrderStatusPaid {
		now := time.Now()
		o.PaidAt = &now
	}
	return nil
}

func (f *fakeOrders) SetQRCodeURL(ctx context.Context, orderNo, qrCodeURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderNo]; ok {
		o.QRCodeURL = qrCodeURL
	}
	return nil
}

func (f *fakeOrders) GetExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Order
	for _, o := range f.orders {
		if o.Status == model.OrderStatusPending && !now.Before(o.ExpiredAt) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeOrders) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrders) List(ctx context.Context, status, classification string, page, pageSize int) ([]*model.Order, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Order
	for _, o := range f.orders {
		if (status == "" || o.Status == status) && (classification == "" || o.Classification == classification) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrders) CountActiveBySteamAccounts(ctx context.Context, steamAccountIDs []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[int64]bool, len(steamAccountIDs))
	for _, id := range steamAccountIDs {
		ids[id] = true
	}
	var n int64
	for _, o := range f.orders {
		if ids[o.SteamAccountID] && !model.OrderStatusTerminal(o.Status) {
			n++
		}
	}
	return n, nil
}

func (f *fakeOrders) count(status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.Status == status {
			n++
		}
	}
	return n
}

type fakeWallets struct {
	mu      sync.Mutex
	wallets map[int64]*model.WalletAccount
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{wallets: make(map[int64]*model.WalletAccount)}
}

func (f *fakeWallets) set(userID, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[userID] = &model.WalletAccount{UserID: userID, Balance: balance}
}

func (f *fakeWallets) GetByUserID(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWallets) GetOrCreate(ctx context.Context, userID int64) (*model.WalletAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		w = &model.WalletAccount{UserID: userID}
		f.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWallets) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return repository.ErrWalletNotFound
	}
	if w.Version != version {
		return repository.ErrOptimisticLock
	}
	if w.Balance < amount {
		return repository.ErrBalanceNotEnough
	}
	w.Balance -= amount
	w.Version++
	return nil
}

func (f *fakeWallets) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return repository.ErrWalletNotFound
	}
	w.Balance += amount
	w.Version++
	return nil
}

func (f *fakeWallets) SetBalance(ctx context.Context, userID int64, balance int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		w = &model.WalletAccount{UserID: userID}
		f.wallets[userID] = w
	}
	w.Balance = balance
	w.Version++
	return nil
}

// balance 查余额，还没开过钱包视为 0
func (f *fakeWallets) balance(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return 0
	}
	return w.Balance
}

type fakeDeposits struct {
	mu       sync.Mutex
	deposits map[string]*model.WalletDeposit
}

func newFakeDeposits() *fakeDeposits {
	return &fakeDeposits{deposits: make(map[string]*model.WalletDeposit)}
}

func (f *fakeDeposits) Create(ctx context.Context, tx *gorm.DB, deposit *model.WalletDeposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *deposit
	f.deposits[deposit.DepositNo] = &cp
	return nil
}

func (f *fakeDeposits) GetByDepositNo(ctx context.Context, depositNo string) (*model.WalletDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[depositNo]
	if !ok {
		return nil, repository.ErrDepositNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeposits) UpdateStatus(ctx context.Context, tx *gorm.DB, depositNo string, fromStatus, toStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[depositNo]
	if !ok || d.Status != fromStatus {
		return repository.ErrDepositStatusInvalid
	}
	d.Status = toStatus
	if toStatus == model.DepositStatusPaid {
		now := time.Now()
		d.PaidAt = &now
	}
	return nil
}

func (f *fakeDeposits) GetExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]*model.WalletDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WalletDeposit
	for _, d := range f.deposits {
		if d.Status == model.DepositStatusPending && !now.Before(d.ExpiredAt) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDeposits) SumPaidByUserID(ctx context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, d := range f.deposits {
		if d.UserID == userID && d.Status == model.DepositStatusPaid {
			sum += d.Amount
		}
	}
	return sum, nil
}

type fakeTxns struct {
	mu   sync.Mutex
	list []*model.WalletTransaction
}

func (f *fakeTxns) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *trans
	f.list = append(f.list, &cp)
	return nil
}

func (f *fakeTxns) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WalletTransaction
	for _, t := range f.list {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeTxns) SumByUserIDAndType(ctx context.Context, userID int64, transType string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, t := range f.list {
		if t.UserID == userID && t.Type == transType {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (f *fakeTxns) countByType(transType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.list {
		if t.Type == transType {
			n++
		}
	}
	return n
}

type fakeCarts struct {
	mu    sync.Mutex
	items map[int64][]*model.CartItem
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{items: make(map[int64][]*model.CartItem)}
}

func (f *fakeCarts) Add(ctx context.Context, item *model.CartItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items[item.UserID] {
		if it.SteamAccountID == item.SteamAccountID {
			it.UnitPrice = item.UnitPrice
			return nil
		}
	}
	cp := *item
	f.items[item.UserID] = append(f.items[item.UserID], &cp)
	return nil
}

func (f *fakeCarts) Remove(ctx context.Context, tx *gorm.DB, userID, steamAccountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.items[userID]
	for i, it := range items {
		if it.SteamAccountID == steamAccountID {
			f.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeCarts) ListByUserID(ctx context.Context, userID int64) ([]*model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.CartItem, 0, len(f.items[userID]))
	for _, it := range f.items[userID] {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCarts) Clear(ctx context.Context, tx *gorm.DB, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, userID)
	return nil
}

func (f *fakeCarts) size(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[userID])
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (f *fakeOutbox) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeOutbox) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		out = append(out, m.Payload)
	}
	return out
}

// fakeValidator 按用户名返回预设结果，未配置的账号默认校验通过
type fakeValidator struct {
	mu      sync.Mutex
	results map[string]string
	calls   int
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{results: make(map[string]string)}
}

func (f *fakeValidator) setResult(username, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[username] = result
}

func (f *fakeValidator) Validate(ctx context.Context, username, password, guardCode string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if r, ok := f.results[username]; ok {
		return r, nil
	}
	return "VALID", nil
}

// fakeGateway 可控的支付网关：settlement 字段决定轮询结果
type fakeGateway struct {
	mu         sync.Mutex
	settlement map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{settlement: make(map[string]string)}
}

func (f *fakeGateway) markPaid(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlement[reference] = "PAID"
}

func (f *fakeGateway) IssueQR(ctx context.Context, amount int64, reference string) (string, error) {
	return "https://pay.example.com/qr/" + reference, nil
}

func (f *fakeGateway) CheckSettlement(ctx context.Context, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settlement[reference]; ok {
		return s, nil
	}
	return "PENDING", nil
}

// fakeLockFactory 用进程内互斥量代替 redis 锁
type fakeLockFactory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLockFactory() *fakeLockFactory {
	return &fakeLockFactory{locks: make(map[string]*sync.Mutex)}
}

func (f *fakeLockFactory) get(key string) *fakeLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	return &fakeLock{mu: m}
}

func (f *fakeLockFactory) WalletLock(userID int64, holder string) Lock {
	return f.get("wallet:" + strconv.FormatInt(userID, 10))
}

func (f *fakeLockFactory) SettleLock(reference string, holder string) Lock {
	return f.get("settle:" + reference)
}

type fakeLock struct {
	mu *sync.Mutex
}

func (l *fakeLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	l.mu.Lock()
	return nil
}

func (l *fakeLock) Unlock(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}
