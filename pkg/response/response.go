package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码：稳定的机器可读标识，前端按码分支
// （余额不足引导去充值、账号被占用引导换一个等）
const (
	CodeOrderNotFound      = 1001
	CodeOrderStatusInvalid = 1002
	CodeBalanceNotEnough   = 1003
	CodeAccountUnavailable = 1004 // 凭据校验失败，账号转入维护
	CodeAccountClaimed     = 1005 // 账号已被其他订单占用
	CodeOrderExpired       = 1006 // 订单/充值单已过支付时限
	CodeAccountNotFound    = 1007
	CodeDepositNotFound    = 1008
	CodeCheckoutFailed     = 1009 // 购物车批量结算失败（整体回滚）
	CodeInventoryInUse     = 1010 // 商品/账号存在未完结订单，禁止删除
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Code:    CodeForbidden,
		Message: message,
	})
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
