package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/avmerge/internal/aggregate"
	"github.com/John-Robertt/avmerge/internal/app"
	"github.com/John-Robertt/avmerge/internal/app/planner"
	"github.com/John-Robertt/avmerge/internal/config"
	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/infra/cache"
	"github.com/John-Robertt/avmerge/internal/infra/fsx"
	"github.com/John-Robertt/avmerge/internal/nfo"
	"github.com/John-Robertt/avmerge/internal/scan"
	"github.com/John-Robertt/avmerge/internal/source"
	"github.com/John-Robertt/avmerge/internal/translate"
	"github.com/John-Robertt/avmerge/internal/validate"
)

// LockName 是 apply 模式下 <path>/cache/ 里的独占锁文件。
const LockName = ".avmerge.lock"

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 item 级失败（单条失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	started := time.Now().UTC()
	log := deps.Log.With().Str("component", "run").Logger()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 128),
	}
	log = log.With().Str("run_id", rr.RunID).Logger()

	store := cache.New(eff.Path, !eff.Apply)

	// apply：同一 <path> 同时只允许一个进程移动文件。
	if eff.Apply {
		lock, err := acquireLock(store)
		if err != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeLocked, err.Error()))
			return finish(rr, store, log)
		}
		defer func() { _ = lock.Unlock() }()
	}

	scanStarted := time.Now()
	files, err := scan.Videos(eff.Path, eff.ExcludeDirs)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		return finish(rr, store, log)
	}
	scanDur := time.Since(scanStarted)

	groupStarted := time.Now()
	items, unmatched, err := app.GroupByIdentity(files)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("分组失败：%v", err)))
		return finish(rr, store, log)
	}
	groupDur := time.Since(groupStarted)

	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"files":     len(files),
			"unmatched": len(unmatched),
		}, scanDur)
		obs.OnPhaseDone("group", map[string]any{
			"identities": len(items),
		}, groupDur)
	}

	// unmatched：每个输入文件单独形成一条 item（更可解释，便于用户逐个修复）。
	for _, u := range unmatched {
		log.Warn().Str("file", u.File.RelPath).Str("reason", u.Reason).Msg("无法解析 identity")
		rr.Items = append(rr.Items, unmatchedItem(u))
	}

	names := sourceNames(deps.Sources)
	planStarted := time.Now()
	plans := make([]domain.ItemPlan, 0, len(items))
	for _, it := range items {
		st, e := planner.ReadOutState(eff.Path, it.ID)
		if e != nil {
			rr.Items = append(rr.Items, failedPlanItem(it, files, domain.ErrCodeIOFailed, fmt.Sprintf("读取 out 状态失败：%v", e)))
			continue
		}
		p, e := planner.PlanItem(names, files, it, st)
		if e != nil {
			rr.Items = append(rr.Items, failedPlanItem(it, files, domain.ErrCodeIOFailed, fmt.Sprintf("规划失败：%v", e)))
			continue
		}
		plans = append(plans, p)
	}
	// worker 按 Key 顺序取任务，进度输出与 report 顺序一致。
	planner.SortPlans(plans)
	planDur := time.Since(planStarted)

	if obs != nil {
		var needAggregate, moves int
		for i := range plans {
			if plans[i].Need.NeedAggregate {
				needAggregate++
			}
			moves += len(plans[i].Moves)
		}
		obs.OnPhaseDone("plan", map[string]any{
			"items":          len(plans),
			"need_aggregate": needAggregate,
			"moves":          moves,
		}, planDur)
	}

	// 执行阶段：按 identity 并发（worker pool），item 内串行。
	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":     workers,
			"total_items": len(plans),
			"sources":     names,
		}, 0)
	}

	x := &executor{
		eff:   eff,
		deps:  deps,
		agg:   aggregate.New(deps.Log),
		store: store,
		log:   log,
	}

	type execResult struct {
		id  domain.Identity
		res domain.ItemResult
		dur time.Duration
	}

	jobs := make(chan domain.ItemPlan)
	results := make(chan execResult, len(plans))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if obs != nil {
					obs.OnItemStart(p.ID)
				}
				oneStarted := time.Now()
				r := x.execOne(ctx, p)
				results <- execResult{id: p.ID, res: r, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		for _, p := range plans {
			jobs <- p
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	done := 0
	for it := range results {
		done++
		rr.Items = append(rr.Items, it.res)
		if obs != nil {
			obs.OnItemDone(done, len(plans), it.id, it.res, it.dur)
		}
	}

	return finish(rr, store, log)
}

// finish 统一收尾：Finalize；apply 模式下把 report 落盘到 cache/reports/（失败只记日志）。
func finish(rr domain.RunReport, store cache.Store, log zerolog.Logger) domain.RunReport {
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()

	if !rr.DryRun {
		if err := store.WriteReport(rr); err != nil {
			log.Warn().Err(err).Msg("写入 report 失败")
		}
	}
	log.Info().
		Int("processed", rr.Summary.Processed).
		Int("skipped", rr.Summary.Skipped).
		Int("failed", rr.Summary.Failed).
		Int("unmatched", rr.Summary.Unmatched).
		Int("rejected", rr.Summary.Rejected).
		Bool("dry_run", rr.DryRun).
		Msg("run 完成")
	return rr
}

func acquireLock(store cache.Store) (*flock.Flock, error) {
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("创建 cache 目录失败：%w", err)
	}
	path := filepath.Join(store.Dir(), LockName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取运行锁失败：%w", err)
	}
	if !ok {
		return nil, fmt.Errorf("另一个 avmerge 进程正在处理该目录（锁文件 %s）", path)
	}
	return lock, nil
}

func sourceNames(sources []source.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s.Name())
		}
	}
	return out
}

func unmatchedItem(u domain.Unmatched) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusUnmatched,
		ErrorCode: domain.ErrCodeUnmatched,
		ErrorMsg:  fmt.Sprintf("无法从文件名或父目录解析出 identity（%s）；请确保文件名包含类似 STARS-804 或 FC2-PPV-3234567 的片段", u.Reason),
		Files: []domain.FileResult{{
			Src:    u.File.RelPath,
			Status: domain.FileStatusFailed,
		}},
	}
}

func failedPlanItem(it domain.WorkItem, files []domain.VideoFile, code, msg string) domain.ItemResult {
	out := domain.ItemResult{
		Code:      it.ID.Key(),
		Kind:      it.ID.Kind.String(),
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Files:     make([]domain.FileResult, 0, len(it.FileIdx)),
	}
	for _, idx := range it.FileIdx {
		if idx < 0 || idx >= len(files) {
			continue
		}
		out.Files = append(out.Files, domain.FileResult{Src: files[idx].RelPath, Status: domain.FileStatusFailed})
	}
	return out
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

type executor struct {
	eff   config.EffectiveConfig
	deps  Deps
	agg   *aggregate.Aggregator
	store cache.Store
	log   zerolog.Logger
}

// execOne 处理单个 identity。
//
// 顺序：聚合 → 翻译 → 修补与校验 → sidecar → move（最后一步）→ 写缓存。
// 任何 sidecar 失败都禁止 move；move 中途失败会回滚已移动的文件。
func (x *executor) execOne(ctx context.Context, p domain.ItemPlan) domain.ItemResult {
	log := x.log.With().Str("identity", p.ID.Key()).Logger()
	item := domain.ItemResult{
		Code:   p.ID.Key(),
		Kind:   p.ID.Kind.String(),
		Status: domain.StatusProcessed, // 失败时覆盖
		Files:  x.buildFileResults(p),
	}

	if !p.Need.NeedAggregate && len(p.Moves) == 0 {
		item.Status = domain.StatusSkipped
		return item
	}

	var rec *domain.Record
	if p.Need.NeedAggregate {
		merged, outcomes := x.agg.RunTrace(ctx, p.ID, x.deps.Sources)
		fillOutcomes(&item, outcomes)

		translate.Apply(ctx, x.deps.Translator, merged, log)

		finished, err := validate.Finish(merged, p.ID)
		if err != nil {
			var rej *validate.Rejected
			if errors.As(err, &rej) {
				item.Status = domain.StatusRejected
				item.ErrorCode = domain.ErrCodeIncomplete
				item.ErrorMsg = rej.Error()
				item.Missing = rej.Missing
			} else {
				item.Status = domain.StatusFailed
				item.ErrorCode = domain.ErrCodeIOFailed
				item.ErrorMsg = err.Error()
			}
			log.Warn().Strs("missing", item.Missing).Strs("sources", item.Sources).Msg("Record 不完整，跳过")
			failAllFiles(&item)
			return item
		}
		rec = finished
	}

	// dry-run：只做聚合与校验；不落盘、不移动。
	if !x.eff.Apply {
		return item
	}

	outDir := filepath.Join(x.eff.Path, "out", p.ID.Key())
	if err := fsx.EnsureDir(outDir); err != nil {
		setIOError(&item, err, "创建输出目录失败")
		failAllFiles(&item)
		return item
	}

	if rec != nil {
		if err := x.writeSidecars(outDir, p, rec); err != nil {
			setIOError(&item, err, "写入 sidecar 失败")
			failAllFiles(&item)
			return item
		}
	}

	var batch fsx.Batch
	moved := make([]int, 0, len(p.Moves))
	for i, mv := range p.Moves {
		if err := batch.Move(mv.SrcAbs, mv.DstAbs); err != nil {
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeMoveFailed
			item.ErrorMsg = err.Error()
			item.Files[i].Status = domain.FileStatusFailed
			for k, rerr := range batch.Rollback() {
				if rerr == nil {
					item.Files[moved[k]].Status = domain.FileStatusRolledBack
				} else {
					item.Files[moved[k]].Status = domain.FileStatusFailed
				}
			}
			log.Error().Err(err).Str("src", mv.SrcAbs).Msg("移动失败，已回滚")
			return item
		}
		moved = append(moved, i)
		item.Files[i].Status = domain.FileStatusMoved
	}

	// 缓存写入失败不影响 item 结果（下一次 run 只是需要重新访问站点）。
	if rec != nil {
		if err := x.store.WriteRecord(rec); err != nil {
			log.Warn().Err(err).Msg("写入 Record 缓存失败")
		}
	}

	log.Info().Strs("sources", item.Sources).Int("moves", len(moved)).Msg("处理完成")
	return item
}

// writeSidecars 原子写入缺失的 NFO/poster/fanart；已存在视为满足。
// poster 对 Special 不是必填：为空时不写，留给下一次 run 补齐。
// source 提供的字幕写成 <KEY>.srt，但本地已有字幕随视频移动时以本地为准。
func (x *executor) writeSidecars(outDir string, p domain.ItemPlan, rec *domain.Record) error {
	if p.Need.NeedNFO {
		b, err := nfo.Encode(rec)
		if err != nil {
			return fmt.Errorf("生成 NFO 失败：%w", err)
		}
		if err := writeNoOverwrite(outDir, planner.NFOName(p.ID), b); err != nil {
			return err
		}
	}
	if p.Need.NeedFanart && len(rec.Fanart) > 0 {
		if err := writeNoOverwrite(outDir, planner.FanartName, rec.Fanart); err != nil {
			return err
		}
	}
	if p.Need.NeedPoster && len(rec.Poster) > 0 {
		if err := writeNoOverwrite(outDir, planner.PosterName, rec.Poster); err != nil {
			return err
		}
	}
	if len(rec.Subtitle) > 0 && !hasCompanion(p.Moves) {
		if err := writeNoOverwrite(outDir, planner.SubtitleName(p.ID), rec.Subtitle); err != nil {
			return err
		}
	}
	return nil
}

func hasCompanion(moves []domain.MovePlan) bool {
	for _, m := range moves {
		if m.Companion {
			return true
		}
	}
	return false
}

func writeNoOverwrite(dir, name string, b []byte) error {
	err := fsx.CreateAtomic(dir, name, b)
	if err == nil || errors.Is(err, os.ErrExist) {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// fillOutcomes 把聚合 trace 映射为 report 的 sources / source_errors。
func fillOutcomes(item *domain.ItemResult, outcomes []aggregate.Outcome) {
	for _, o := range outcomes {
		if o.Contributed {
			item.Sources = append(item.Sources, o.Source)
		}
		if o.Err != nil {
			if item.SourceErrors == nil {
				item.SourceErrors = map[string]string{}
			}
			item.SourceErrors[o.Source] = o.Err.Error()
		}
	}
}

func setIOError(item *domain.ItemResult, err error, prefix string) {
	item.Status = domain.StatusFailed
	if fsx.IsPathTypeConflict(err) {
		item.ErrorCode = domain.ErrCodeTargetConflict
		item.ErrorMsg = err.Error()
		return
	}
	item.ErrorCode = domain.ErrCodeIOFailed
	item.ErrorMsg = fmt.Sprintf("%s：%v", prefix, err)
}

func (x *executor) buildFileResults(p domain.ItemPlan) []domain.FileResult {
	out := make([]domain.FileResult, 0, len(p.Moves))
	for _, mv := range p.Moves {
		out = append(out, domain.FileResult{
			Src:    x.rel(mv.SrcAbs),
			Dst:    x.rel(mv.DstAbs),
			Status: domain.FileStatusPlanned,
		})
	}
	return out
}

// rel 尽量输出相对 <path> 的路径；失败则输出原始 abs（至少可追溯）。
func (x *executor) rel(abs string) string {
	if r, err := filepath.Rel(x.eff.Path, abs); err == nil {
		return r
	}
	return abs
}

func failAllFiles(item *domain.ItemResult) {
	for i := range item.Files {
		item.Files[i].Status = domain.FileStatusFailed
	}
}
