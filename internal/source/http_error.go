package source

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
// source 通过 pagex.Get 得到该错误；404 由 source 自己转换为空 Record。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// BlockedError 表示请求被站点引导到了“验证/拦截”页面（通常意味着需要浏览器执行 JS 或人工验证）。
// 产品约束：不尝试绕过，直接作为该 source 的 fetch 失败，由 Aggregator 记录后视作空贡献。
type BlockedError struct {
	URL    string
	Reason string // 例如 "driver-verify"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked"
	}
	return "blocked: " + strings.TrimSpace(e.Reason)
}

// IsNotFound 判断 err 是否为站点返回的 404（即“站点没有该 identity”）。
func IsNotFound(err error) bool {
	var he *HTTPStatusError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}
