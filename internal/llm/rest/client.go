package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 2048
)

// Config 描述了通过 HTTP 调用模型运行时所需的信息。
type Config struct {
	BaseURL string
	// APIKey 非空时以 Bearer 方式写入 Authorization 头。
	APIKey  string
	Timeout time.Duration
}

// Client 以 POST {base}/model/{model_id}/invoke 的形式调用兼容 Bedrock Runtime 的 HTTP 服务。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建 HTTP 客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未提供模型服务地址")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("模型服务地址无效: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// InvokeModel 实现 llm.Invoker 接口，返回响应体原文。
func (c *Client) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	endpoint := c.baseURL + "/model/" + url.PathEscape(modelID) + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeBackendInvocation, err, "构建模型请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeBackendInvocation, err, "请求模型服务失败",
			xerrors.WithMetadata("model_id", modelID))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, xerrors.New(llm.CodeBackendInvocation,
			fmt.Sprintf("模型服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("model_id", modelID),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
		)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeBackendInvocation, err, "读取模型响应失败")
	}
	return raw, nil
}
