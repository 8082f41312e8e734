// Package source 定义外部元数据站点的统一能力边界。
package source

import (
	"context"
	"fmt"

	"github.com/John-Robertt/avmerge/internal/domain"
)

// Source 把“站点变化”限制在各自的子包内部；Aggregator 只依赖这个接口与 domain.Record。
//
// 约束：
// - Supports 是纯函数：只看 identity 的 kind，不做 I/O
// - Find 自己完成 查询 -> 抓取 -> 解析，每次外发请求前都过自己的限流器
// - 站点确实没有该 identity（404 / 搜索无匹配）返回空 Record，不是错误
// - 只有传输或解析失败才返回 *Error
// - 返回的 Record 归调用方所有，Source 不再持有引用
type Source interface {
	Name() string
	Supports(id domain.Identity) bool
	Find(ctx context.Context, id domain.Identity) (*domain.Record, error)
}

// Error 是单个 source 的可追溯失败。Aggregator 记录后将其视作空贡献。
type Error struct {
	Source string // source name（小写）
	Stage  string // "search" / "fetch" / "parse"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s stage=%s: %v", e.Source, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	StageSearch = "search"
	StageFetch  = "fetch"
	StageParse  = "parse"
)
