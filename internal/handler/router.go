package handler

import (
	"time"

	"steamshop/internal/config"
	"steamshop/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)
	jwtManager := auth.NewJWTManager(cfg.JWT.SigningKey, time.Duration(cfg.JWT.TTLHours)*time.Hour)

	api := r.Group("/api/v1")
	{
		// 商品浏览不需要登录
		product := api.Group("/product")
		{
			product.GET("/list", h.ListProducts)
			product.GET("/detail", h.GetProduct)
		}

		authed := api.Group("")
		authed.Use(AuthMiddleware(jwtManager))
		{
			order := authed.Group("/order")
			{
				order.POST("/create", h.CreateOrder)
				order.GET("/detail", h.GetOrder)
				order.GET("/list", h.ListOrders)
				order.GET("/status", h.CheckOrderStatus)
				order.POST("/pay/balance", h.PayWithBalance)
				order.POST("/pay/qr", h.PayWithQR)
				order.POST("/cancel", h.CancelOrder)
				order.GET("/delivery", h.GetDelivery)
			}

			wallet := authed.Group("/wallet")
			{
				wallet.GET("/balance", h.GetBalance)
				wallet.POST("/deposit", h.CreateDeposit)
				wallet.GET("/deposit/status", h.CheckDeposit)
				wallet.GET("/transactions", h.ListTransactions)
			}

			cart := authed.Group("/cart")
			{
				cart.POST("/add", h.AddCartItem)
				cart.POST("/remove", h.RemoveCartItem)
				cart.GET("/list", h.ListCart)
				cart.POST("/checkout", h.CheckoutCart)
			}
		}

		admin := api.Group("/admin")
		admin.Use(AuthMiddleware(jwtManager), AdminMiddleware())
		{
			admin.POST("/product/create", h.CreateProduct)
			admin.POST("/product/update", h.UpdateProduct)
			admin.POST("/product/delete", h.DeleteProduct)

			admin.GET("/account/list", h.ListAccounts)
			admin.POST("/account/add", h.AddAccount)
			admin.POST("/account/update", h.UpdateAccount)
			admin.POST("/account/delete", h.DeleteAccount)
			admin.POST("/account/maintenance", h.SetMaintenance)
			admin.POST("/account/restore", h.RestoreAccount)

			admin.GET("/order/list", h.AdminListOrders)
			admin.POST("/order/deliver", h.DeliverOrder)
			admin.POST("/order/cancel", h.AdminCancelOrder)

			admin.POST("/wallet/recalculate", h.RecalculateWallet)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
