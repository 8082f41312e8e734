package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusUnmatched = "unmatched"
	StatusRejected  = "rejected"
)

const (
	FileStatusPlanned    = "planned"
	FileStatusMoved      = "moved"
	FileStatusRolledBack = "rolled_back"
	FileStatusFailed     = "failed"
)

const (
	ErrCodeUnmatched         = "unmatched_identity"
	ErrCodeIncomplete        = "incomplete_record"
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeMoveFailed        = "move_failed"
	ErrCodeLocked            = "locked"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Unmatched int `json:"unmatched"`
	Rejected  int `json:"rejected"`
}

// OK 表示本次运行没有任何需要用户处理的条目。
func (s ReportSummary) OK() bool { return s.Failed == 0 && s.Unmatched == 0 && s.Rejected == 0 }

type ItemResult struct {
	Code string `json:"code"`
	Kind string `json:"kind"`

	// Sources 是实际有贡献的 source；SourceErrors 是失败（已恢复）的 source 及原因。
	Sources      []string          `json:"sources"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`

	Status    string   `json:"status"`
	ErrorCode string   `json:"error_code"`
	ErrorMsg  string   `json:"error_msg"`
	Missing   []string `json:"missing"`

	Files []FileResult `json:"files"`
}

type FileResult struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Status string `json:"status"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 code 字典序；code=="" 的条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i].Code, r.Items[j].Code
		switch {
		case a == "":
			return false
		case b == "":
			return true
		default:
			return a < b
		}
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusUnmatched:
			s.Unmatched++
		case StatusRejected:
			s.Rejected++
		}
	}
	r.Summary = s
}

// MarshalJSON 集中约束输出的稳定性：nil 切片统一输出为 []。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	a.Items = append([]ItemResult{}, r.Items...)
	for i := range a.Items {
		if a.Items[i].Sources == nil {
			a.Items[i].Sources = []string{}
		}
		if a.Items[i].Missing == nil {
			a.Items[i].Missing = []string{}
		}
		if a.Items[i].Files == nil {
			a.Items[i].Files = []FileResult{}
		}
	}
	return json.Marshal(a)
}
