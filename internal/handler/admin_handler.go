package handler

import (
	"encoding/json"
	"strconv"

	"steamshop/internal/model"
	"steamshop/internal/service"
	"steamshop/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// ============================================================
// 管理端：商品与库存
// ============================================================

// CreateProductRequest 创建商品请求，可同时批量录入账号
type CreateProductRequest struct {
	Name               string                      `json:"name" binding:"required"`
	Description        string                      `json:"description"`
	ImageURL           string                      `json:"image_url"`
	AccountType        string                      `json:"account_type" binding:"required"`
	Classify           string                      `json:"classify"`
	Price              int64                       `json:"price" binding:"required,gt=0"`
	OriginalPrice      *int64                      `json:"original_price"`
	DiscountPercentage int                         `json:"discount_percentage"`
	GameIDs            []int64                     `json:"game_ids"`
	StockQuantity      int                         `json:"stock_quantity"`
	Units              []service.SteamAccountInput `json:"units"`
}

// CreateProduct 创建商品
// POST /api/v1/admin/product/create
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	gameIDs, err := marshalGameIDs(req.GameIDs)
	if err != nil {
		response.ParamError(c, "game_ids 参数错误")
		return
	}

	info := &model.AccountInfo{
		Name:               req.Name,
		Description:        req.Description,
		ImageURL:           req.ImageURL,
		AccountType:        req.AccountType,
		Classify:           req.Classify,
		Price:              req.Price,
		OriginalPrice:      req.OriginalPrice,
		DiscountPercentage: req.DiscountPercentage,
		GameIDs:            gameIDs,
		StockQuantity:      req.StockQuantity,
	}

	created, err := h.inventoryService.CreateAccountInfo(c.Request.Context(), info, req.Units)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, created)
}

// UpdateProductRequest 更新商品请求
type UpdateProductRequest struct {
	ID                 int64   `json:"id" binding:"required"`
	Name               string  `json:"name" binding:"required"`
	Description        string  `json:"description"`
	ImageURL           string  `json:"image_url"`
	AccountType        string  `json:"account_type" binding:"required"`
	Price              int64   `json:"price" binding:"required,gt=0"`
	OriginalPrice      *int64  `json:"original_price"`
	DiscountPercentage int     `json:"discount_percentage"`
	GameIDs            []int64 `json:"game_ids"`
	StockQuantity      int     `json:"stock_quantity"`
}

// UpdateProduct 更新商品（分类不可改）
// POST /api/v1/admin/product/update
func (h *Handler) UpdateProduct(c *gin.Context) {
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	gameIDs, err := marshalGameIDs(req.GameIDs)
	if err != nil {
		response.ParamError(c, "game_ids 参数错误")
		return
	}

	info := &model.AccountInfo{
		ID:                 req.ID,
		Name:               req.Name,
		Description:        req.Description,
		ImageURL:           req.ImageURL,
		AccountType:        req.AccountType,
		Price:              req.Price,
		OriginalPrice:      req.OriginalPrice,
		DiscountPercentage: req.DiscountPercentage,
		GameIDs:            gameIDs,
		StockQuantity:      req.StockQuantity,
	}

	updated, err := h.inventoryService.UpdateAccountInfo(c.Request.Context(), info)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, updated)
}

// DeleteProduct 删除商品及其账号（存在活跃订单时拒绝）
// POST /api/v1/admin/product/delete
func (h *Handler) DeleteProduct(c *gin.Context) {
	var req struct {
		ID int64 `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.inventoryService.DeleteAccountInfo(c.Request.Context(), req.ID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListAccounts 某商品下全部序列化账号（管理端视图，含状态与占用单号）
// GET /api/v1/admin/account/list?account_info_id=xxx
func (h *Handler) ListAccounts(c *gin.Context) {
	infoID, err := strconv.ParseInt(c.Query("account_info_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "account_info_id 参数错误")
		return
	}

	accounts, err := h.inventoryService.ListSteamAccounts(c.Request.Context(), infoID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"list": accounts})
}

// AddAccountRequest 追加账号请求
type AddAccountRequest struct {
	AccountInfoID int64                      `json:"account_info_id" binding:"required"`
	Unit          service.SteamAccountInput `json:"unit" binding:"required"`
}

// AddAccount 给商品追加账号
// POST /api/v1/admin/account/add
func (h *Handler) AddAccount(c *gin.Context) {
	var req AddAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.inventoryService.AddSteamAccount(c.Request.Context(), req.AccountInfoID, req.Unit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}

// UpdateAccountRequest 更新账号请求
type UpdateAccountRequest struct {
	ID   int64                      `json:"id" binding:"required"`
	Unit service.SteamAccountInput `json:"unit" binding:"required"`
}

// UpdateAccount 更新账号凭据或定价（被占用时拒绝）
// POST /api/v1/admin/account/update
func (h *Handler) UpdateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.inventoryService.UpdateSteamAccount(c.Request.Context(), req.ID, req.Unit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}

// AccountIDRequest 仅携带账号 ID 的请求体
type AccountIDRequest struct {
	ID int64 `json:"id" binding:"required"`
}

// DeleteAccount 删除单个账号
// POST /api/v1/admin/account/delete
func (h *Handler) DeleteAccount(c *gin.Context) {
	var req AccountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.inventoryService.DeleteSteamAccount(c.Request.Context(), req.ID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// SetMaintenance 账号下架维护
// POST /api/v1/admin/account/maintenance
func (h *Handler) SetMaintenance(c *gin.Context) {
	var req AccountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.inventoryService.SetMaintenance(c.Request.Context(), req.ID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// RestoreAccount 维护账号恢复上架
// POST /api/v1/admin/account/restore
func (h *Handler) RestoreAccount(c *gin.Context) {
	var req AccountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.inventoryService.Restore(c.Request.Context(), req.ID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, nil)
}

// ============================================================
// 管理端：订单与钱包
// ============================================================

// AdminListOrders 全量订单列表（可按状态、分类过滤）
// GET /api/v1/admin/order/list?status=PAID&classification=ORDER
func (h *Handler) AdminListOrders(c *gin.Context) {
	page, pageSize := parsePage(c)
	orders, total, err := h.orderService.ListOrders(c.Request.Context(),
		c.Query("status"), c.Query("classification"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  orders,
		"total": total,
	})
}

// DeliverOrder 交付收尾（预订：代购完成后调用；现货：确认收货进终态）
// POST /api/v1/admin/order/deliver
func (h *Handler) DeliverOrder(c *gin.Context) {
	var req OrderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.Deliver(c.Request.Context(), req.OrderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// AdminCancelOrder 管理员取消任意订单（已支付的触发退款路径）
// POST /api/v1/admin/order/cancel
func (h *Handler) AdminCancelOrder(c *gin.Context) {
	var req OrderNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.orderService.Cancel(c.Request.Context(), 0, req.OrderNo)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, order)
}

// RecalculateWallet 按账本重算某用户余额（对账工具）
// POST /api/v1/admin/wallet/recalculate
func (h *Handler) RecalculateWallet(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.walletService.Recalculate(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": wallet.UserID,
		"balance": wallet.Balance,
	})
}

func marshalGameIDs(ids []int64) (datatypes.JSON, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
