package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Client 是 resty 的薄封装，供 discovery 与 execution 共用。
// resty 会自动从环境变量读取代理配置（HTTP_PROXY / HTTPS_PROXY）。
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端。timeout 是单次请求的硬超时。
func NewClient(host string, timeout time.Duration) *Client {
	host = strings.TrimSuffix(host, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

// RequestOptions 单次请求的可选项
type RequestOptions struct {
	Headers map[string]string
	Params  map[string]string
	Body    any
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "strikebot")
	return r
}

// Get 发送 GET 请求并将响应 JSON 解析到 out
func (c *Client) Get(ctx context.Context, endpoint string, opt *RequestOptions, out any) error {
	r := c.newRequest(ctx)
	if opt != nil {
		if opt.Headers != nil {
			r.SetHeaders(opt.Headers)
		}
		if opt.Params != nil {
			r.SetQueryParams(opt.Params)
		}
	}

	resp, err := r.Get(endpoint)
	if err != nil {
		return errors.Wrapf(err, "GET %s", endpoint)
	}
	if resp.IsError() {
		return errors.Errorf("GET %s: HTTP %d: %s", endpoint, resp.StatusCode(), truncate(resp.String(), 256))
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "GET %s: decode", endpoint)
		}
	}
	return nil
}

// Post 发送 JSON POST 请求
func (c *Client) Post(ctx context.Context, endpoint string, opt *RequestOptions, out any) error {
	r := c.newRequest(ctx)
	r.SetHeader("Content-Type", "application/json")
	if opt != nil {
		if opt.Headers != nil {
			r.SetHeaders(opt.Headers)
		}
		if opt.Body != nil {
			r.SetBody(opt.Body)
		}
	}

	resp, err := r.Post(endpoint)
	if err != nil {
		return errors.Wrapf(err, "POST %s", endpoint)
	}
	if resp.IsError() {
		return errors.Errorf("POST %s: HTTP %d: %s", endpoint, resp.StatusCode(), truncate(resp.String(), 256))
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "POST %s: decode", endpoint)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
