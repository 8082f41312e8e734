package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/avmerge/internal/app/run"
	"github.com/John-Robertt/avmerge/internal/config"
	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/infra/logging"
)

// errRunNotOK 表示 run 已完成并输出了报告，但存在需要用户处理的条目。
var errRunNotOK = errors.New("run finished with failures")

func newRunCommand() *cobra.Command {
	var (
		apply   bool
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "运行流程（默认 dry-run）",
		Long: `扫描 path 下的视频，按编号聚合各站点的元数据，生成 NFO/poster/fanart 并移动到 out/<KEY>/。

默认 dry-run：只聚合与校验，不写入、不移动。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				Apply:      apply,
				ApplySet:   cmd.Flags().Changed("apply"),
				Sources:    sources,
				SourcesSet: cmd.Flags().Changed("source"),
			}
			if len(args) == 1 {
				cli.Path = args[0]
			}
			return runCmd(cmd, cli)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "执行落盘与移动；--apply=false 可覆盖配置中的 apply=true")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "启用的 source（可重复或逗号分隔）：cache|javbus|javdb")
	return cmd
}

func runCmd(cmd *cobra.Command, cli config.CLIArgs) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("读取当前目录失败：%w", err)
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		cwdAbs, _ := filepath.Abs(cwd)
		emitReport(stdout, stderr, reportForConfigError(cwdAbs, cli, err))
		return errRunNotOK
	}

	logger := logging.New(logging.Config{
		Level:  eff.Log.Level,
		Format: eff.Log.Format,
		File:   eff.Log.File,
		Out:    stderr,
	})
	defer func() { _ = logger.Close() }()

	deps, err := run.Build(eff, logger.Logger)
	if err != nil {
		emitReport(stdout, stderr, reportForConfigError(eff.Path, cli, &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigFile, Err: err}))
		return errRunNotOK
	}

	progressW, interactive := pickProgressWriter(stdout, stderr)
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Stop()
		obs = ui
	}

	rr := run.ExecuteWithObserver(cmd.Context(), eff, deps, obs)

	emitReport(stdout, stderr, rr)
	if interactive {
		emitLocations(progressW, eff, rr)
	}
	if !rr.Summary.OK() {
		return errRunNotOK
	}
	return nil
}

// emitReport 遵守输出契约：
// - stdout 非终端：stdout 必须且仅输出一个 RunReport JSON（摘要走 stderr）
// - stdout 是终端：打印摘要；存在问题条目时在 stderr 渲染表格
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：processed=%d skipped=%d failed=%d unmatched=%d rejected=%d",
		rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Unmatched, rr.Summary.Rejected,
	)

	if !isTerminal(stdout) {
		_ = json.NewEncoder(stdout).Encode(rr)
		fmt.Fprintln(stderr, summary)
		return
	}

	fmt.Fprintln(stdout, summary)
	if rows := problemRows(rr); len(rows) > 0 {
		fmt.Fprintln(stderr, renderTable(
			[]string{"item", "status", "error_code", "message"},
			rows,
			nil,
		))
	}
}

// problemRows 列出 failed/unmatched/rejected 条目；rejected 的 message 为缺失字段列表。
func problemRows(rr domain.RunReport) [][]string {
	var rows [][]string
	for _, it := range rr.Items {
		switch it.Status {
		case domain.StatusFailed, domain.StatusUnmatched, domain.StatusRejected:
		default:
			continue
		}
		key := it.Code
		if key == "" && len(it.Files) > 0 {
			// unmatched/config 等合成条目：用首个输入文件路径做定位锚点。
			key = it.Files[0].Src
		}
		if key == "" {
			key = "<unknown>"
		}
		msg := it.ErrorMsg
		if it.Status == domain.StatusRejected {
			msg = "missing: " + strings.Join(it.Missing, ", ")
		}
		rows = append(rows, []string{key, it.Status, it.ErrorCode, truncate(msg, 100)})
	}
	return rows
}

func reportForConfigError(path string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       path,
		DryRun:     !(cli.ApplySet && cli.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

// pickProgressWriter：进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	if isTerminal(stderr) {
		return stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是终端：退化输出到 stdout。
	if isTerminal(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig, rr domain.RunReport) {
	if w == nil {
		return
	}
	if eff.Apply && rr.RunID != "" {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Path, "cache", "reports", rr.RunID+".json"))
	}
	fmt.Fprintf(w, "out: %s\n", filepath.Join(eff.Path, "out"))
}
