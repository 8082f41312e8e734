// Package pagex 收拢 source 共用的页面抓取与 HTML 文本辅助函数。
package pagex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/avmerge/internal/source"
)

// maxBody 限制单次读取的响应体大小（页面与图片共用）。
const maxBody = 32 << 20

// Response 是读完 body 之后的响应快照。
type Response struct {
	URL        string // 最终请求的 URL（跟随重定向后）
	StatusCode int
	Location   string
	Body       []byte
}

// Fetch 发出 GET 并读完 body；只有传输错误才返回 error，状态码由调用方判断。
func Fetch(ctx context.Context, c *http.Client, u string) (*Response, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxBody {
		return nil, fmt.Errorf("响应体超过 %d 字节：%s", maxBody, u)
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{
		URL:        final,
		StatusCode: resp.StatusCode,
		Location:   strings.TrimSpace(resp.Header.Get("Location")),
		Body:       b,
	}, nil
}

// Get 与 Fetch 相同，但非 2xx 返回 *source.HTTPStatusError。
func Get(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	r, err := Fetch(ctx, c, u)
	if err != nil {
		return nil, err
	}
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return nil, &source.HTTPStatusError{URL: u, StatusCode: r.StatusCode, Location: r.Location}
	}
	return r.Body, nil
}

// Download 下载二进制资源（poster/fanart）；空 body 视为失败。
func Download(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	if strings.TrimSpace(u) == "" {
		return nil, errors.New("图片 URL 为空")
	}
	b, err := Get(ctx, c, u)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("图片为空：%s", u)
	}
	return b, nil
}

// Document 把 HTML 字节解析为 goquery 文档。
func Document(html []byte) (*goquery.Document, error) {
	if len(html) == 0 {
		return nil, errors.New("html 为空")
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(html))
}

// ResolveURL 把页面中的相对链接解析为绝对 URL；协议相对链接补 https。
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	ru, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(ru).String()
}

func NormSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// NormHeader 去掉信息栏表头末尾的半角/全角冒号。
func NormHeader(s string) string {
	s = NormSpace(s)
	s = strings.TrimSuffix(s, ":")
	s = strings.TrimSuffix(s, "：")
	return strings.TrimSpace(s)
}

// FirstInt 提取第一段连续数字（"155分鐘" / "160 分鍾" => 155 / 160）。
func FirstInt(s string) int {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// FirstFloat 提取第一段数字（允许一个小数点），用于 "4.5分, 由123人評價" 这类评分文本。
func FirstFloat(s string) float64 {
	var b strings.Builder
	dot := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			continue
		case r == '.' && b.Len() > 0 && !dot:
			dot = true
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(b.String(), "."), 64)
	if err != nil {
		return 0
	}
	return f
}

// Texts 收集 sel 中每个节点去空白后的文本。
func Texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := NormSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
