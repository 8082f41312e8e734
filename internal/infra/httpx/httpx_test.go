package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type countingGate struct{ n atomic.Int32 }

func (g *countingGate) Wait(ctx context.Context) error {
	g.n.Add(1)
	return ctx.Err()
}

func TestNewPageClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewPageClient("http://127.0.0.1:8080", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("代理模式应禁用 keep-alive：base=%v req=%v", tr.Base.DisableKeepAlives, tr.DisableKeepAlives)
	}
}

func TestNewPageClient_NoProxyKeepsDefault(t *testing.T) {
	c, err := NewPageClient("", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Base.DisableKeepAlives {
		t.Fatalf("不期望禁用 keep-alive，但 Base.DisableKeepAlives=true")
	}
}

func TestNewImageClient_ImageProxySwitch(t *testing.T) {
	c1, err := NewImageClient("http://127.0.0.1:8080", false, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c1.Transport.(*Transport).Base.Proxy != nil {
		t.Fatalf("image_proxy=false 时不应走代理")
	}

	c2, err := NewImageClient("http://127.0.0.1:8080", true, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if c2.Transport.(*Transport).Base.Proxy == nil {
		t.Fatalf("image_proxy=true 时应走代理")
	}

	if _, err := NewImageClient("", true, nil); err == nil {
		t.Fatalf("image_proxy=true 且 proxy 为空时应报错")
	}
}

func TestNewPageClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewPageClient("http://[::1", nil); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestTransport_GateBeforeEveryRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("期望自动设置 User-Agent")
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gate := &countingGate{}
	c, err := NewPageClient("", gate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	for i := 0; i < 3; i++ {
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatalf("请求失败：%v", err)
		}
		resp.Body.Close()
	}
	if got := gate.n.Load(); got != 3 {
		t.Fatalf("期望过闸 3 次，实际 %d", got)
	}
}

func TestTransport_RetriesThrottledGetThroughGate(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" {
			t.Errorf("期望自动设置 Accept-Language")
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gate := &countingGate{}
	c, err := NewPageClient("", gate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望重试后 200，实际 %d", resp.StatusCode)
	}
	if hits.Load() != 2 || gate.n.Load() != 2 {
		t.Fatalf("重试也必须过闸：hits=%d gate=%d", hits.Load(), gate.n.Load())
	}
}

func TestTransport_NoRetryOnNotFoundOrPost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewPageClient("", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()
	resp, err = c.Post(srv.URL, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()

	if hits.Load() != 2 {
		t.Fatalf("404 与 POST 都不应重试，实际请求 %d 次", hits.Load())
	}
}
