// Package ratelimit 提供每个外部站点独占的 token bucket。
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config 描述一个 token bucket：容量 Capacity，每 Interval 补充 Refill 个 token，初始为满。
type Config struct {
	Capacity int           `mapstructure:"capacity" json:"capacity"`
	Refill   int           `mapstructure:"refill" json:"refill"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

// DefaultConfig 是站点未声明容忍度时的保守默认值：突发 2 次，之后每秒 1 次。
func DefaultConfig() Config {
	return Config{Capacity: 2, Refill: 1, Interval: time.Second}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.Refill <= 0 {
		c.Refill = d.Refill
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// Limiter 是单个 source 的出站请求闸门。
//
// 约束：
// - 每个 source 独占一个实例，不同 source 之间互不协调
// - Acquire 只会延迟，不会丢弃或失败
// - 并发安全：同一 source 的多次聚合（不同 identity）共享同一个 Limiter
type Limiter struct {
	cfg Config
	lim *rate.Limiter
}

// New 按 cfg 构造 Limiter；非法字段回退到 DefaultConfig。
//
// 补充速率按 Refill/Interval 均匀摊开（rate.Limiter 的连续补充），长期速率与离散补充一致。
func New(cfg Config) *Limiter {
	cfg = cfg.normalized()
	// 用浮点速率：Interval/Refill 整除为 0 时 rate.Every 会变成 rate.Inf，等于关闭限流。
	perSec := rate.Limit(float64(cfg.Refill) / cfg.Interval.Seconds())
	return &Limiter{
		cfg: cfg,
		lim: rate.NewLimiter(perSec, cfg.Capacity),
	}
}

// Acquire 阻塞直到拿到一个 token。
func (l *Limiter) Acquire() {
	_ = l.Wait(context.Background())
}

// Wait 与 Acquire 相同，但允许调用方通过 ctx 放弃等待（只有 ctx 结束时才返回错误）。
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

func (l *Limiter) Config() Config { return l.cfg }
