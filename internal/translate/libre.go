package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/John-Robertt/avmerge/internal/ratelimit"
)

// Libre 是 LibreTranslate 兼容服务的客户端（POST <URL>/translate）。
type Libre struct {
	URL    string
	APIKey string
	Source string // 例如 "ja"；为空时用 "auto"
	Target string // 例如 "zh"

	Client  *http.Client
	Limiter *ratelimit.Limiter
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (l *Libre) Translate(ctx context.Context, text string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(l.URL), "/")
	if base == "" {
		return "", errors.New("translate.url 为空")
	}
	if strings.TrimSpace(l.Target) == "" {
		return "", errors.New("translate.target 为空")
	}
	src := strings.TrimSpace(l.Source)
	if src == "" {
		src = "auto"
	}

	body, err := json.Marshal(libreRequest{Q: text, Source: src, Target: l.Target, Format: "text", APIKey: l.APIKey})
	if err != nil {
		return "", err
	}

	if err := l.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	c := l.Client
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out libreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("translate 响应不是合法 JSON（HTTP %d）：%w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return "", fmt.Errorf("translate HTTP %d：%s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("translate HTTP %d", resp.StatusCode)
	}
	return out.TranslatedText, nil
}
