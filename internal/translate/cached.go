package translate

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached 为 Translator 加一层进程内 memo：同一段原文只翻译一次（多段文件、重复标题很常见）。
// 失败结果不缓存。
type Cached struct {
	next  Translator
	store *cache.Cache
}

// NewCached 的 ttl<=0 表示条目永不过期。
func NewCached(next Translator, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Cached{next: next, store: cache.New(ttl, 10*time.Minute)}
}

func (c *Cached) Translate(ctx context.Context, text string) (string, error) {
	if v, ok := c.store.Get(text); ok {
		return v.(string), nil
	}
	out, err := c.next.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	c.store.SetDefault(text, out)
	return out, nil
}
