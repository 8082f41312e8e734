package domain

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultCountry / DefaultMPAA 在 Record 创建时由 identity 种子化，不参与合并。
	DefaultCountry = "JP"
	DefaultMPAA    = "R18+"
)

// Record 是多个 source 的部分结果合并的目标。
//
// 约束：
// - 每个字段都有明确的“空”状态（""/0/nil）
// - 集合字段始终保持 去空白 + 去重 + 排序（保证 Merge 的交换律可以逐字段比较）
// - 二进制字段不写入 JSON（缓存只保存文本元数据）
// - 同一时刻只允许一个写者：source 在自己的私有 Record 上解析，Aggregator 串行 fold
type Record struct {
	ID Identity `json:"id"`

	Title     string  `json:"title"`
	Plot      string  `json:"plot"`
	RuntimeM  int     `json:"runtime_m"`
	Rating    float64 `json:"rating"`
	Premiered string  `json:"premiered"` // ISO date, e.g. "2025-11-27"
	MPAA      string  `json:"mpaa"`
	Country   string  `json:"country"`
	Studio    string  `json:"studio"`
	Director  string  `json:"director"`
	Series    string  `json:"series"`

	Genres []string `json:"genres"`
	Actors []string `json:"actors"`
	// Sources 记录有实际贡献的 source 名称（由 Aggregator 填写）。
	Sources []string `json:"sources"`

	Poster []byte `json:"-"`
	Fanart []byte `json:"-"`

	// Subtitle 是 source 提供的字幕文本，落盘为 <KEY>.srt。
	Subtitle []byte `json:"-"`
}

// NewRecord 创建一个带 identity 默认值的空 Record。
func NewRecord(id Identity) *Record {
	r := &Record{ID: id}
	switch id.Kind {
	case KindStandard, KindSpecial:
		r.Country = DefaultCountry
		r.MPAA = DefaultMPAA
	}
	return r
}

// AddGenres / AddActors 是 source 解析阶段的集合 setter。
func (r *Record) AddGenres(vs ...string) { r.Genres = union(r.Genres, vs) }
func (r *Record) AddActors(vs ...string) { r.Actors = union(r.Actors, vs) }
func (r *Record) AddSources(vs ...string) { r.Sources = union(r.Sources, vs) }

// IsEmpty 判断 Record 是否没有任何可合并的信息（种子字段不计入）。
func (r *Record) IsEmpty() bool {
	if r == nil {
		return true
	}
	return r.Title == "" && r.Plot == "" && r.RuntimeM == 0 && r.Rating == 0 &&
		r.Premiered == "" && r.Studio == "" && r.Director == "" && r.Series == "" &&
		len(r.Genres) == 0 && len(r.Actors) == 0 &&
		len(r.Poster) == 0 && len(r.Fanart) == 0 && len(r.Subtitle) == 0
}

// Merge 把 o 合并进 r（r ⊕ o），返回 r 以便链式调用。
//
// 规则（逐字段，均满足交换律与幂等）：
// - 文本：字符数更长者胜；等长且不同则取字典序更小者（相同则 r 保持不变）
// - 数值：较大者胜（0 表示无信息）
// - 集合：并集
// - 二进制：字节更长者胜；等长且不同则取 bytes.Compare 更小者
// - ID/MPAA/Country：种子字段，只有 r 为空时才从 o 取（零值 Record 因此是单位元）
func (r *Record) Merge(o *Record) *Record {
	if o == nil {
		return r
	}

	if r.ID.IsZero() {
		r.ID = o.ID
	}
	if r.MPAA == "" {
		r.MPAA = o.MPAA
	}
	if r.Country == "" {
		r.Country = o.Country
	}

	r.Title = pickText(r.Title, o.Title)
	r.Plot = pickText(r.Plot, o.Plot)
	r.Premiered = pickText(r.Premiered, o.Premiered)
	r.Studio = pickText(r.Studio, o.Studio)
	r.Director = pickText(r.Director, o.Director)
	r.Series = pickText(r.Series, o.Series)

	if o.RuntimeM > r.RuntimeM {
		r.RuntimeM = o.RuntimeM
	}
	if o.Rating > r.Rating {
		r.Rating = o.Rating
	}

	r.Genres = union(r.Genres, o.Genres)
	r.Actors = union(r.Actors, o.Actors)
	r.Sources = union(r.Sources, o.Sources)

	r.Poster = pickBytes(r.Poster, o.Poster)
	r.Fanart = pickBytes(r.Fanart, o.Fanart)
	r.Subtitle = pickBytes(r.Subtitle, o.Subtitle)
	return r
}

// Clone 返回深拷贝。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Genres = append([]string(nil), r.Genres...)
	c.Actors = append([]string(nil), r.Actors...)
	c.Sources = append([]string(nil), r.Sources...)
	c.Poster = append([]byte(nil), r.Poster...)
	c.Fanart = append([]byte(nil), r.Fanart...)
	c.Subtitle = append([]byte(nil), r.Subtitle...)
	return &c
}

func pickText(a, b string) string {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	switch {
	case lb > la:
		return b
	case lb == la && b < a:
		return b
	default:
		return a
	}
}

func pickBytes(a, b []byte) []byte {
	switch {
	case len(b) > len(a):
		return b
	case len(b) == len(a) && len(b) > 0 && bytes.Compare(b, a) < 0:
		return b
	default:
		return a
	}
}

// union 返回 a ∪ b（去空白、去重、排序）；两边都为空时返回 nil。
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
