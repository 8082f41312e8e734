package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Path:       "/abs/path",
		DryRun:     true,
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []ItemResult{
			{Code: "B-02", Status: StatusSkipped},
			{Code: "", Status: StatusFailed}, // config/unmatched 等合成项
			{Code: "A-01", Status: StatusProcessed},
			{Code: "C-03", Status: StatusRejected, Missing: []string{"poster"}},
			{Code: "", Status: StatusUnmatched},
		},
	}

	r.Finalize()

	got := []string{r.Items[0].Code, r.Items[1].Code, r.Items[2].Code, r.Items[3].Code, r.Items[4].Code}
	want := []string{"A-01", "B-02", "C-03", "", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items 排序不符合契约：%v", got)
		}
	}
	s := r.Summary
	if s.Processed != 1 || s.Skipped != 1 || s.Failed != 1 || s.Unmatched != 1 || s.Rejected != 1 {
		t.Fatalf("summary 统计不正确：%+v", s)
	}
	if s.OK() {
		t.Fatalf("存在 failed/unmatched/rejected 时 OK() 应为 false")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte(`"started_at":"2026-02-09T02:00:00Z"`)) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_MarshalJSON_NilSlicesAsEmptyArrays(t *testing.T) {
	r := RunReport{Items: []ItemResult{{Code: "A-01", Status: StatusProcessed}}}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	for _, want := range []string{`"sources":[]`, `"missing":[]`, `"files":[]`} {
		if !bytes.Contains(b, []byte(want)) {
			t.Fatalf("期望包含 %s：%s", want, string(b))
		}
	}
}
