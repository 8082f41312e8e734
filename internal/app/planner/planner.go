package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/validate"
)

const (
	PosterName = "poster.jpg"
	FanartName = "fanart.jpg"
)

// NFOName 返回 identity 的 NFO 文件名（<KEY>.nfo）。
func NFOName(id domain.Identity) string { return id.Key() + ".nfo" }

// SubtitleName 是 source 提供的字幕落盘名（<KEY>.srt）。
func SubtitleName(id domain.Identity) string { return id.Key() + ".srt" }

// ReadOutState 读取 out/<KEY>/ 的现状（只做 ReadDir，不读文件内容）。
// 若 outDir 不存在，返回空状态且不报错。
func ReadOutState(root string, id domain.Identity) (domain.OutState, error) {
	outDir := filepath.Join(root, "out", id.Key())
	st := domain.OutState{
		OutDir:        outDir,
		ExistingNames: map[string]struct{}{},
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return domain.OutState{}, err
	}

	for _, e := range entries {
		st.ExistingNames[e.Name()] = struct{}{}
	}

	_, st.HasNFO = st.ExistingNames[NFOName(id)]
	_, st.HasPoster = st.ExistingNames[PosterName]
	_, st.HasFanart = st.ExistingNames[FanartName]
	return st, nil
}

// PlanItem 基于 WorkItem + OutState 生成确定性的执行计划（不做任何写入/移动）。
//
// 命名：out/<KEY>/<KEY>[-cdN]<ext>；part>0 时追加 -cdN。
// 字幕随视频移动，文件名为 视频新 Base + 字幕原有的语言后缀（例如 .zh.ass）。
// 与现有文件或本次计划冲突时追加 __N（N 从 2 开始）。
func PlanItem(sources []string, files []domain.VideoFile, item domain.WorkItem, st domain.OutState) (domain.ItemPlan, error) {
	if len(item.Parts) != 0 && len(item.Parts) != len(item.FileIdx) {
		return domain.ItemPlan{}, fmt.Errorf("parts 与 fileIdx 长度不一致：%d != %d", len(item.Parts), len(item.FileIdx))
	}

	used := make(map[string]struct{}, len(st.ExistingNames)+len(item.FileIdx))
	for n := range st.ExistingNames {
		used[n] = struct{}{}
	}

	key := item.ID.Key()
	var moves []domain.MovePlan
	for k, idx := range item.FileIdx {
		if idx < 0 || idx >= len(files) {
			return domain.ItemPlan{}, fmt.Errorf("非法 file index：%d", idx)
		}
		f := files[idx]

		base := key
		if len(item.Parts) > 0 && item.Parts[k] > 0 {
			base = fmt.Sprintf("%s-cd%d", key, item.Parts[k])
		}
		dstName := allocName(base+strings.ToLower(f.Ext), used)
		used[dstName] = struct{}{}
		moves = append(moves, domain.MovePlan{
			SrcAbs: f.AbsPath,
			DstAbs: filepath.Join(st.OutDir, dstName),
		})

		dstBase := strings.TrimSuffix(dstName, filepath.Ext(dstName))
		for _, sub := range f.Subtitles {
			subName := allocName(dstBase+subtitleSuffix(f.Base, sub), used)
			used[subName] = struct{}{}
			moves = append(moves, domain.MovePlan{
				SrcAbs:    sub,
				DstAbs:    filepath.Join(st.OutDir, subName),
				Companion: true,
			})
		}
	}

	// 缺 poster 只在它是必填字段时触发聚合；否则已完成的 Special 每次 run 都会重新访问站点。
	// 聚合因其它原因发生时，拿到的 poster 照样补写。
	posterRequired := slices.Contains(validate.Required(item.ID.Kind), validate.FieldPoster)
	need := domain.SidecarNeed{
		NeedNFO:       !st.HasNFO,
		NeedPoster:    !st.HasPoster,
		NeedFanart:    !st.HasFanart,
		NeedAggregate: !st.Complete(posterRequired),
	}

	return domain.ItemPlan{
		ID:      item.ID,
		Sources: append([]string(nil), sources...),
		Moves:   moves,
		Need:    need,
	}, nil
}

// subtitleSuffix 返回字幕文件名中视频 Base 之后的部分（".srt" / ".zh.ass"），扩展名小写。
func subtitleSuffix(videoBase, subPath string) string {
	name := filepath.Base(subPath)
	ext := filepath.Ext(name)
	rest := strings.TrimSuffix(name, ext)
	if len(rest) >= len(videoBase) && strings.EqualFold(rest[:len(videoBase)], videoBase) {
		rest = rest[len(videoBase):]
	} else {
		rest = ""
	}
	return rest + strings.ToLower(ext)
}

func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand
		}
	}
}

// SortPlans 让上层在需要时可显式保证稳定顺序（而不是依赖 map 遍历顺序）。
func SortPlans(plans []domain.ItemPlan) {
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID.Key() < plans[j].ID.Key() })
}
