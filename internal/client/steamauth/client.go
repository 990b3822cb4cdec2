package steamauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"steamshop/internal/config"
)

// 凭据校验结果，与校验服务的返回值一一对应
const (
	ResultValid           = "VALID"
	ResultValidGuarded    = "VALID_GUARDED"
	ResultInvalidPassword = "INVALID_PASSWORD"
	ResultError           = "ERROR"
)

// Client 凭据校验服务客户端。
// 校验服务会对游戏平台做一次真实登录，秒级耗时，必须带超时；
// 超时视为瞬态故障，重试一次后折算为 ERROR
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.SteamAuthConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type validateRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	GuardCode string `json:"guard_code,omitempty"`
}

type validateResponse struct {
	Result string `json:"result"`
}

// Validate 校验一组凭据，返回 VALID / VALID_GUARDED / INVALID_PASSWORD / ERROR。
// 网络错误不向上抛，统一折算为 ERROR，由调用方决定是否把账号转入维护
func (c *Client) Validate(ctx context.Context, username, password, guardCode string) (string, error) {
	result, err := c.doValidate(ctx, username, password, guardCode)
	if err == nil {
		return result, nil
	}

	// 只对超时做一次有界重试
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		result, err = c.doValidate(ctx, username, password, guardCode)
		if err == nil {
			return result, nil
		}
	}

	return ResultError, nil
}

func (c *Client) doValidate(ctx context.Context, username, password, guardCode string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/validate", c.baseURL)

	reqBodyJSON, err := json.Marshal(validateRequest{
		Username:  username,
		Password:  password,
		GuardCode: guardCode,
	})
	if err != nil {
		return "", fmt.Errorf("序列化校验请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBodyJSON))
	if err != nil {
		return "", fmt.Errorf("创建校验请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用校验服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("校验服务返回异常状态: %s", resp.Status)
	}

	var body validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("解析校验响应失败: %w", err)
	}

	switch body.Result {
	case ResultValid, ResultValidGuarded, ResultInvalidPassword, ResultError:
		return body.Result, nil
	default:
		return "", fmt.Errorf("校验服务返回未知结果: %s", body.Result)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
