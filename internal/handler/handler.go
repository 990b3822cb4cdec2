package handler

import (
	"errors"
	"strconv"

	"steamshop/internal/client/steamauth"
	"steamshop/internal/config"
	"steamshop/internal/model"
	"steamshop/internal/repository"
	"steamshop/internal/service"
	"steamshop/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	inventoryService *service.InventoryService
	orderService     *service.OrderService
	walletService    *service.WalletService
	cartService      *service.CartService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		inventoryService: service.NewInventoryService(db),
		orderService:     service.NewOrderService(db, rdb, cfg),
		walletService:    service.NewWalletService(db, rdb, cfg),
		cartService:      service.NewCartService(db, rdb, cfg, steamauth.NewClient(&cfg.SteamAuth)),
	}
}

// handleError 把业务哨兵错误映射为机器可读错误码
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrOrderStatusInvalid):
		response.BusinessError(c, response.CodeOrderStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrAccountUnavailable), errors.Is(err, service.ErrGuardedBlocked):
		response.BusinessError(c, response.CodeAccountUnavailable, err.Error())
	case errors.Is(err, repository.ErrAccountClaimed), errors.Is(err, repository.ErrAccountNotClaimable):
		response.BusinessError(c, response.CodeAccountClaimed, err.Error())
	case errors.Is(err, service.ErrOrderExpired), errors.Is(err, service.ErrDepositExpired):
		response.BusinessError(c, response.CodeOrderExpired, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound), errors.Is(err, repository.ErrAccountInfoNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrDepositNotFound):
		response.BusinessError(c, response.CodeDepositNotFound, err.Error())
	case errors.Is(err, service.ErrInventoryInUse):
		response.BusinessError(c, response.CodeInventoryInUse, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrCartEmpty), errors.Is(err, service.ErrPaymentMethodMismatch):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// ============================================================
// 商品浏览（无需登录）
// ============================================================

// ListProducts 商品列表
// GET /api/v1/product/list?classify=STOCK&page=1&page_size=20
func (h *Handler) ListProducts(c *gin.Context) {
	classify := c.Query("classify")
	if classify != "" && !model.IsValidClassify(classify) {
		response.ParamError(c, "classify 参数错误")
		return
	}

	page, pageSize := parsePage(c)
	infos, total, err := h.inventoryService.ListAccountInfos(c.Request.Context(), classify, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  infos,
		"total": total,
	})
}

// GetProduct 商品详情（含可售库存数）
// GET /api/v1/product/detail?id=xxx
func (h *Handler) GetProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	info, err := h.inventoryService.GetAccountInfo(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, info)
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	SteamAccountID int64  `json:"steam_account_id" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required,oneof=BALANCE QR"`
}

// CreateOrder 创建订单（占用账号 + 建 PENDING 单）
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), currentUserID(c), req.SteamAccountID, req.PaymentMethod)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// GetOrder 订单详情
// GET /api/v1/order/detail?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), currentUserID(c), orderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 当前用户订单列表
// GET /api/v1/order/list?page=1&page_size=20
func (h *Handler) ListOrders(c *gin.Context) {
	page, pageSize := parsePage(c)
	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  orders,
		"total": total,
	})
}

// OrderNoRequest 仅携带订单号的请求体
type OrderNoRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
}

// PayWithBalance 余额支付
// POST /api/v1/order/pay/balance
func (h *Handler) PayWithBalance(c *gin.Context) {
	var req OrderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.PayWithBalance(c.Request.Context(), currentUserID(c), req.OrderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// PayWithQR 发起扫码支付（返回收款码）
// POST /api/v1/order/pay/qr
func (h *Handler) PayWithQR(c *gin.Context) {
	var req OrderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.PayWithQR(c.Request.Context(), currentUserID(c), req.OrderNo)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_no":    order.OrderNo,
		"amount":      order.Amount,
		"qr_code_url": order.QRCodeURL,
		"expired_at":  order.ExpiredAt,
	})
}

// CheckOrderStatus 订单状态轮询（扫码支付确认入口）
// GET /api/v1/order/status?order_no=xxx
func (h *Handler) CheckOrderStatus(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	order, err := h.orderService.CheckOrderStatus(c.Request.Context(), currentUserID(c), orderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 用户取消自己的订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req OrderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.Cancel(c.Request.Context(), currentUserID(c), req.OrderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// GetDelivery 提取订单的账号凭据（仅买家本人，现货付款后即可提取）
// GET /api/v1/order/delivery?order_no=xxx
func (h *Handler) GetDelivery(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	delivery, err := h.orderService.GetDelivery(c.Request.Context(), currentUserID(c), orderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, delivery)
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetBalance 查询余额
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	wallet, err := h.walletService.GetBalance(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": wallet.UserID,
		"balance": wallet.Balance,
	})
}

// CreateDepositRequest 充值请求
type CreateDepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// CreateDeposit 发起扫码充值
// POST /api/v1/wallet/deposit
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deposit, err := h.walletService.CreateDeposit(c.Request.Context(), currentUserID(c), req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, deposit)
}

// CheckDeposit 充值单状态轮询
// GET /api/v1/wallet/deposit/status?deposit_no=xxx
func (h *Handler) CheckDeposit(c *gin.Context) {
	depositNo := c.Query("deposit_no")
	if depositNo == "" {
		response.ParamError(c, "deposit_no 参数不能为空")
		return
	}

	deposit, err := h.walletService.CheckDeposit(c.Request.Context(), currentUserID(c), depositNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, deposit)
}

// ListTransactions 钱包流水
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := parsePage(c)
	txns, total, err := h.walletService.ListTransactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  txns,
		"total": total,
	})
}

// ============================================================
// 购物车相关接口
// ============================================================

// CartItemRequest 购物车增删请求
type CartItemRequest struct {
	SteamAccountID int64 `json:"steam_account_id" binding:"required"`
}

// AddCartItem 加购
// POST /api/v1/cart/add
func (h *Handler) AddCartItem(c *gin.Context) {
	var req CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	item, err := h.cartService.AddItem(c.Request.Context(), currentUserID(c), req.SteamAccountID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, item)
}

// RemoveCartItem 移出购物车
// POST /api/v1/cart/remove
func (h *Handler) RemoveCartItem(c *gin.Context) {
	var req CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.cartService.RemoveItem(c.Request.Context(), currentUserID(c), req.SteamAccountID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListCart 购物车列表
// GET /api/v1/cart/list
func (h *Handler) ListCart(c *gin.Context) {
	items, err := h.cartService.ListCart(c.Request.Context(), currentUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": items})
}

// CheckoutRequest 购物车结算请求
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,oneof=BALANCE QR"`
}

// CheckoutCart 购物车结算
// POST /api/v1/cart/checkout
// 余额方式走整批建单并一次付清；扫码方式只整批建单，逐单出码支付
func (h *Handler) CheckoutCart(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var result *service.CheckoutResult
	var err error
	if req.PaymentMethod == model.PaymentMethodBalance {
		result, err = h.cartService.CheckoutCartWithBalance(c.Request.Context(), currentUserID(c))
	} else {
		result, err = h.cartService.CheckoutCart(c.Request.Context(), currentUserID(c), req.PaymentMethod)
	}
	if err != nil {
		handleError(c, err)
		return
	}

	if !result.Succeeded() {
		response.ErrorWithData(c, response.CodeCheckoutFailed, "结算失败，本次未生成任何订单", result)
		return
	}
	response.Success(c, result)
}
