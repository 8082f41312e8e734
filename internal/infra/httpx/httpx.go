// Package httpx 构造 source 与翻译服务共用的出站 HTTP client。
package httpx

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultRetryMax = 2
	retryBackoff    = 500 * time.Millisecond
)

// 站点对非浏览器 UA 与缺失 Accept-Language 的请求更容易返回验证页。
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

const defaultAcceptLanguage = "ja,zh-TW;q=0.9,zh;q=0.8,en;q=0.6"

// Gate 是出站请求前的闸门（source 独占的 *ratelimit.Limiter）。
type Gate interface {
	Wait(ctx context.Context) error
}

// Transport 在一次 RoundTrip 内完成：过闸、补浏览器头、有界重试。
//
// 约束：
// - 每一次真正发出的请求（包括重试）之前都会 Gate.Wait，限流对重试同样生效
// - 只重试可重放的请求（GET/HEAD 且无 body）；网络错误与 429/502/503/504 触发重试
// - 重试耗尽时返回最后一次的响应或错误，由调用方按状态码分类
type Transport struct {
	Base *http.Transport
	Gate Gate

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int

	// DisableKeepAlives 对 Request 设置 Close=true；真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	retries := max(t.RetryMax, 0)
	if (req.Method != http.MethodGet && req.Method != http.MethodHead) || req.Body != nil {
		retries = 0
	}

	ctx := req.Context()
	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		if t.Gate != nil {
			if gerr := t.Gate.Wait(ctx); gerr != nil {
				return nil, firstErr(err, gerr)
			}
		}

		resp, err = t.Base.RoundTrip(t.prepare(req))
		if attempt >= retries || !retryable(resp, err) || ctx.Err() != nil {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
		}
		if serr := sleep(ctx, retryBackoff*time.Duration(attempt+1)); serr != nil {
			return nil, firstErr(err, serr)
		}
	}
}

// prepare 复制 request 并补齐浏览器头，不修改调用方的 Header。
func (t *Transport) prepare(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", defaultAcceptLanguage)
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return r
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewPageClient 构造 source 页面抓取用的 client。
//
// 规则：
// - proxyURL 非空：必须走代理，且禁用 keep-alive（代理池按连接轮换出口）
// - gate 非空：每次出站前先过闸
// - 有界重试 + 总超时（source 自己约束请求时长，Aggregator 层不设超时）
func NewPageClient(proxyURL string, gate Gate) (*http.Client, error) {
	return newClient(strings.TrimSpace(proxyURL), gate)
}

// NewImageClient 构造图片下载用的 client。
//
// imageProxy=false 时图片直连（忽略 proxyURL）；图片与页面共享同一个 gate。
func NewImageClient(proxyURL string, imageProxy bool, gate Gate) (*http.Client, error) {
	if !imageProxy {
		return newClient("", gate)
	}
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return nil, errors.New("image_proxy=true 但 proxy.url 为空")
	}
	return newClient(proxyURL, gate)
}

func newClient(proxyURL string, gate Gate) (*http.Client, error) {
	base := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
	}

	return &http.Client{
		Transport: &Transport{
			Base:              base,
			Gate:              gate,
			RetryMax:          defaultRetryMax,
			DisableKeepAlives: base.DisableKeepAlives,
		},
		Timeout: defaultTimeout,
	}, nil
}
