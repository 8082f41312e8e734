package app

import (
	"errors"
	"sort"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/identity"
)

// GroupByIdentity 把视频文件按 identity 的 join key 分组为 WorkItem（WorkItem 只存 file index）。
//
// - items 稳定排序：按 Key() 字典序
// - item 内 FileIdx 稳定排序：先按 part，再按 RelPath 字典序
// - 文件名与父目录都无法解析的文件进入 unmatched（不影响其它文件）
func GroupByIdentity(files []domain.VideoFile) (items []domain.WorkItem, unmatched []domain.Unmatched, err error) {
	index := make(map[string]int, 128)
	items = make([]domain.WorkItem, 0, 128)
	unmatched = make([]domain.Unmatched, 0, 32)
	parts := make(map[int]uint, len(files))

	for i := range files {
		id, e := identity.Extract(files[i])
		if e != nil {
			var pe *identity.ParseError
			if errors.As(e, &pe) {
				unmatched = append(unmatched, domain.Unmatched{File: files[i], Reason: pe.Error()})
				continue
			}
			return nil, nil, e
		}
		parts[i] = id.Part

		key := id.Key()
		if idx, ok := index[key]; ok {
			items[idx].FileIdx = append(items[idx].FileIdx, i)
			continue
		}
		index[key] = len(items)
		items = append(items, domain.WorkItem{
			ID:      id.WithPart(0),
			FileIdx: []int{i},
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID.Key() < items[j].ID.Key() })
	for i := range items {
		idx := items[i].FileIdx
		sort.Slice(idx, func(a, b int) bool {
			pa, pb := parts[idx[a]], parts[idx[b]]
			if pa != pb {
				return pa < pb
			}
			return files[idx[a]].RelPath < files[idx[b]].RelPath
		})
		items[i].Parts = make([]uint, len(idx))
		for k, fi := range idx {
			items[i].Parts[k] = parts[fi]
		}
	}
	return items, unmatched, nil
}
