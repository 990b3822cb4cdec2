package payguard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"steamshop/internal/config"
)

// 到账查询结果
const (
	SettlementPending = "PENDING"
	SettlementPaid    = "PAID"
)

// Client 银行扫码支付网关客户端。
// 网关只有两个能力：按金额和参考号出二维码、查询某参考号是否到账。
// 没有回调，到账靠客户端轮询
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.PayGateConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type issueQRResponse struct {
	QRCodeURL string `json:"qr_code_url"`
}

// IssueQR 为指定金额和参考号（订单号/充值单号）生成收款二维码
func (c *Client) IssueQR(ctx context.Context, amount int64, reference string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/qr?amount=%d&reference=%s", c.baseURL, amount, url.QueryEscape(reference))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建出码请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用支付网关失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("支付网关返回异常状态: %s", resp.Status)
	}

	var body issueQRResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("解析出码响应失败: %w", err)
	}
	if body.QRCodeURL == "" {
		return "", fmt.Errorf("支付网关未返回二维码")
	}

	return body.QRCodeURL, nil
}

type settlementResponse struct {
	Status string `json:"status"`
}

// CheckSettlement 查询参考号是否到账，返回 PENDING 或 PAID
func (c *Client) CheckSettlement(ctx context.Context, reference string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/settlement?reference=%s", c.baseURL, url.QueryEscape(reference))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建查询请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用支付网关失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("支付网关返回异常状态: %s", resp.Status)
	}

	var body settlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("解析查询响应失败: %w", err)
	}

	switch body.Status {
	case SettlementPending, SettlementPaid:
		return body.Status, nil
	default:
		return "", fmt.Errorf("支付网关返回未知状态: %s", body.Status)
	}
}
