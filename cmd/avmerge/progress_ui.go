package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/avmerge/internal/app/run"
	"github.com/John-Robertt/avmerge/internal/config"
	"github.com/John-Robertt/avmerge/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的逐行进度输出。
//
// 约束：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时定期输出一行，并列出仍在聚合的编号
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int
	reject  int

	active map[string]struct{}

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		active:             map[string]struct{}{},
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不写入/不下载图片到 out/、不移动)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] avmerge run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  sources: %s\n", formatSources(eff))
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  image_proxy: %s\n", onOff(eff.ImageProxy))
	if strings.TrimSpace(eff.JavDBBaseURL) != "" {
		fmt.Fprintf(p.w, "  javdb_base_url: %s\n", truncate(eff.JavDBBaseURL, 120))
	}
	if eff.Translate.Enabled() {
		fmt.Fprintf(p.w, "  translate: %s -> %s (%s)\n", orAuto(eff.Translate.Source), eff.Translate.Target, truncate(eff.Translate.URL, 80))
	}
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 out/, cache/\n", formatStringListJSON(eff.ExcludeDirs))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d unmatched=%d (%s)\n",
			intField(fields, "files"), intField(fields, "unmatched"), formatShortDuration(dur),
		)
	case "group":
		fmt.Fprintf(p.w, "分组: identities=%d (%s)\n",
			intField(fields, "identities"), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: items=%d need_aggregate=%d moves=%d (%s)\n",
			intField(fields, "items"),
			intField(fields, "need_aggregate"),
			intField(fields, "moves"),
			formatShortDuration(dur),
		)
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total_items")
		fmt.Fprintf(p.w, "执行: workers=%d total_items=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemStart(id domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id.Key()] = struct{}{}
}

func (p *progressUI) OnItemDone(idx, total int, id domain.Identity, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, id.Key())
	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusProcessed:
		p.ok++
	case domain.StatusFailed:
		p.fail++
	case domain.StatusSkipped:
		p.skip++
	case domain.StatusRejected:
		p.reject++
	}

	fmt.Fprintf(p.w, "[%d/%d] %s\n", idx, total, formatItemLine(id, res, dur))
	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopLocked()
	}
}

// Stop 幂等；run 提前结束（例如没有任何条目）时由 CLI 调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressUI) stopLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func formatItemLine(id domain.Identity, res domain.ItemResult, dur time.Duration) string {
	key := id.Key()
	switch res.Status {
	case domain.StatusFailed:
		return fmt.Sprintf("%s FAIL %s: %s (%s)", key, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur))
	case domain.StatusRejected:
		return fmt.Sprintf("%s REJECT missing=%s%s (%s)",
			key, strings.Join(res.Missing, ","), formatSourceErrors(res.SourceErrors), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		return fmt.Sprintf("%s SKIP (已完整，无需聚合/移动) (%s)", key, formatShortDuration(dur))
	default:
		sources := "-"
		if len(res.Sources) > 0 {
			sources = strings.Join(res.Sources, "+")
		}
		return fmt.Sprintf("%s OK sources=%s move=%d%s (%s)",
			key, sources, len(res.Files), formatSourceErrors(res.SourceErrors), formatShortDuration(dur),
		)
	}
}

// formatSourceErrors 只列出失败的 source 名（详细原因在日志与 report 里）。
func formatSourceErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}
	names := make([]string, 0, len(errs))
	for n := range errs {
		names = append(names, n)
	}
	sort.Strings(names)
	return " source_errors=" + strings.Join(names, ",")
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.keepaliveLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) keepaliveLineLocked() string {
	keys := make([]string, 0, len(p.active))
	for k := range p.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	line := fmt.Sprintf("进度: done=%d/%d ok=%d fail=%d reject=%d skip=%d active=%d elapsed=%s",
		p.done, p.total, p.ok, p.fail, p.reject, p.skip, len(keys), formatElapsed(time.Since(p.startedAt)),
	)
	if len(keys) > 0 {
		line += " [" + truncate(strings.Join(keys, " "), 80) + "]"
	}
	return line
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func orAuto(s string) string {
	if strings.TrimSpace(s) == "" {
		return "auto"
	}
	return s
}

// formatSources 展示启用的 source 与各自的限流参数。
func formatSources(eff config.EffectiveConfig) string {
	if len(eff.Sources) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(eff.Sources))
	for _, s := range eff.Sources {
		rl := eff.RateLimit(s)
		parts = append(parts, fmt.Sprintf("%s(burst=%d, %d/%s)", s, rl.Capacity, rl.Refill, rl.Interval))
	}
	return strings.Join(parts, " ")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// truncate 按字符截断（标题多为日文/中文，不能按字节切）。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

func intField(fields map[string]any, key string) int {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
