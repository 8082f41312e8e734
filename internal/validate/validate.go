// Package validate 对聚合后的 Record 做最后的修补与必填校验。
package validate

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/avmerge/internal/domain"
)

// 字段名同时用于 Rejected.Missing 与 report 的 missing 列表。
const (
	FieldTitle     = "title"
	FieldPlot      = "plot"
	FieldRuntime   = "runtime"
	FieldGenres    = "genres"
	FieldDirector  = "director"
	FieldPremiered = "premiered"
	FieldStudio    = "studio"
	FieldActors    = "actors"
	FieldPoster    = "poster"
	FieldFanart    = "fanart"
)

// Rejected 表示 Record 修补后仍缺少必填字段；该 identity 的处理到此为止。
type Rejected struct {
	ID      domain.Identity
	Missing []string
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("%s 缺少必填字段：%s", e.ID, strings.Join(e.Missing, ", "))
}

var (
	standardRequired = []string{
		FieldTitle, FieldPlot, FieldRuntime, FieldGenres, FieldDirector,
		FieldPremiered, FieldStudio, FieldActors, FieldPoster, FieldFanart,
	}
	// FC2 家族的页面通常没有类别，缩略图也不可靠。
	specialRequired = []string{
		FieldTitle, FieldPlot, FieldRuntime, FieldDirector,
		FieldPremiered, FieldStudio, FieldActors, FieldFanart,
	}
)

// Required 返回 kind 的必填字段（固定顺序）。
func Required(kind domain.Kind) []string {
	switch kind {
	case domain.KindSpecial:
		return append([]string(nil), specialRequired...)
	default:
		return append([]string(nil), standardRequired...)
	}
}

// Finish 修补后校验 rec。
//
// 修补（只填空字段，不覆盖已有值）：
// 1) plot 为空 => 复制 title
// 2) Special 且 actors 为空 => 以 director 作为唯一演员
//
// 返回的 Record 是修补后的副本，rec 本身不被修改。缺失字段一次性全部列出。
func Finish(rec *domain.Record, id domain.Identity) (*domain.Record, error) {
	out := domain.NewRecord(id)
	if rec != nil {
		out = rec.Clone()
	}
	if out.ID.IsZero() {
		out.ID = id
	}

	if strings.TrimSpace(out.Plot) == "" {
		out.Plot = out.Title
	}
	if id.Kind == domain.KindSpecial && len(out.Actors) == 0 {
		out.AddActors(out.Director)
	}

	if missing := MissingFields(out, id.Kind); len(missing) > 0 {
		return nil, &Rejected{ID: id, Missing: missing}
	}
	return out, nil
}

// MissingFields 按 Required(kind) 的顺序列出 rec 中为空的必填字段（不做修补）。
func MissingFields(rec *domain.Record, kind domain.Kind) []string {
	var missing []string
	for _, f := range Required(kind) {
		if !present(rec, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func present(r *domain.Record, field string) bool {
	if r == nil {
		return false
	}
	switch field {
	case FieldTitle:
		return strings.TrimSpace(r.Title) != ""
	case FieldPlot:
		return strings.TrimSpace(r.Plot) != ""
	case FieldRuntime:
		return r.RuntimeM > 0
	case FieldGenres:
		return len(r.Genres) > 0
	case FieldDirector:
		return strings.TrimSpace(r.Director) != ""
	case FieldPremiered:
		return strings.TrimSpace(r.Premiered) != ""
	case FieldStudio:
		return strings.TrimSpace(r.Studio) != ""
	case FieldActors:
		return len(r.Actors) > 0
	case FieldPoster:
		return len(r.Poster) > 0
	case FieldFanart:
		return len(r.Fanart) > 0
	default:
		return false
	}
}
