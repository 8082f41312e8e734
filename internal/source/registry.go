package source

import (
	"fmt"
	"strings"
)

// Registry 是 source 的只读注册表（按 name 索引，保留注册顺序）。
type Registry struct {
	byName map[string]Source
	order  []string
}

func NewRegistry(sources ...Source) (Registry, error) {
	byName := make(map[string]Source, len(sources))
	order := make([]string, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			return Registry{}, fmt.Errorf("source 不能为空")
		}
		name := normName(s.Name())
		if name == "" {
			return Registry{}, fmt.Errorf("source.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 source：%q", name)
		}
		byName[name] = s
		order = append(order, name)
	}
	return Registry{byName: byName, order: order}, nil
}

// Get 按名字（大小写、首尾空白不敏感）查找 source。
func (r Registry) Get(name string) (Source, bool) {
	if r.byName == nil {
		return nil, false
	}
	s, ok := r.byName[normName(name)]
	return s, ok
}

// Names 按注册顺序返回所有 source 名称。
func (r Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Select 按 names 的顺序挑出启用的 source；names 为空表示全部启用。
// 未注册的名字直接报错（配置错误应尽早暴露）。
func (r Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]Source, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = normName(n)
		if _, dup := seen[n]; dup {
			continue
		}
		s, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("未知 source：%q", n)
		}
		seen[n] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
