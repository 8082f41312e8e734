// Package aggregate 并发查询所有支持某 identity 的 source，并把结果合并为一个 Record。
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/source"
)

const stagePanic = "panic"

// Outcome 是单个 source 在一次聚合中的结果（用于 report 的 sources / source_errors）。
type Outcome struct {
	Source string
	// Contributed 表示该 source 返回了非空 Record 并已并入结果。
	Contributed bool
	Err         *source.Error
}

// Aggregator 负责扇出/扇入。
//
// 约束：
// - 只查询 Supports(id) 为 true 的 source
// - 所有 Find 都结束后才返回（不短路、不设超时、不向其它 source 传播取消）
// - 单个 source 的错误或 panic 只记日志，视作空贡献；结果与“没有这个 source”完全相同
// - 合并在互斥锁下串行进行；Merge 满足交换律，因此完成顺序不影响结果
type Aggregator struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "aggregate").Logger()}
}

// Run 返回合并后的 Record（至少带有 identity 种子字段，永不为 nil）。
func (a *Aggregator) Run(ctx context.Context, id domain.Identity, sources []source.Source) *domain.Record {
	rec, _ := a.RunTrace(ctx, id, sources)
	return rec
}

// RunTrace 与 Run 相同，但额外返回每个被查询 source 的 Outcome（按 source 名排序）。
func (a *Aggregator) RunTrace(ctx context.Context, id domain.Identity, sources []source.Source) (*domain.Record, []Outcome) {
	acc := domain.NewRecord(id)

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(sources))
		g        errgroup.Group
	)
	for _, s := range sources {
		if s == nil || !s.Supports(id) {
			continue
		}
		g.Go(func() error {
			rec, err := find(ctx, s, id)

			mu.Lock()
			defer mu.Unlock()

			o := Outcome{Source: s.Name()}
			switch {
			case err != nil:
				o.Err = err
				a.log.Warn().Err(err.Err).
					Str("source", err.Source).
					Str("identity", id.String()).
					Str("stage", err.Stage).
					Msg("source 失败，按空结果处理")
			case !rec.IsEmpty():
				rec.AddSources(s.Name())
				acc.Merge(rec)
				o.Contributed = true
			}
			outcomes = append(outcomes, o)
			// 永远返回 nil：errgroup 只用作屏障，错误不得影响其它 source。
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Source < outcomes[j].Source })
	a.log.Debug().Str("identity", id.String()).Strs("sources", acc.Sources).Msg("聚合完成")
	return acc, outcomes
}

// find 调用 s.Find，并把所有失败形态（error / panic / 身份不符）统一为 *source.Error。
func find(ctx context.Context, s source.Source, id domain.Identity) (rec *domain.Record, serr *source.Error) {
	name := s.Name()
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			serr = &source.Error{Source: name, Stage: stagePanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	rec, err := s.Find(ctx, id)
	if err != nil {
		var se *source.Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, &source.Error{Source: name, Stage: source.StageFetch, Err: err}
	}
	if rec == nil {
		return nil, nil
	}
	if !rec.ID.IsZero() && !rec.ID.Equal(id) {
		return nil, &source.Error{Source: name, Stage: source.StageParse, Err: fmt.Errorf("返回了其它 identity：%s", rec.ID)}
	}
	return rec, nil
}
