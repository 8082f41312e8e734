package domain

import (
	"fmt"
	"strings"
)

// Kind 区分 identity 的文法家族。
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindStandard：字母前缀 + 数字编号（例如 STARS-804）。
	KindStandard
	// KindSpecial：不带厂牌前缀的家族（FC2 / FC2-PPV），Code 为纯数字主体。
	KindSpecial
)

// SpecialPrefix 是 Special 家族在规范化字符串中的固定前缀。
const SpecialPrefix = "FC2-PPV"

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "standard":
		*k = KindStandard
	case "special":
		*k = KindSpecial
	case "unknown", "":
		*k = KindUnknown
	default:
		return fmt.Errorf("未知 identity kind：%q", string(b))
	}
	return nil
}

// Identity 是从文件名解析出的规范化作品标识，用作跨 source 的 join key。
//
// 不变量：
// - Prefix/Code 均为大写；Code 只含数字；Special 的 Prefix 恒为空
// - Part 只用于输出文件命名（CD2/CD3...），不参与相等性与 Key()
// - 构造后不可变（值类型，按值传递）
type Identity struct {
	Kind   Kind   `json:"kind"`
	Prefix string `json:"prefix,omitempty"`
	Code   string `json:"code"`
	Part   uint   `json:"part,omitempty"`
}

// Standard 构造 Standard identity（调用方负责传入已规范化的 prefix/code）。
func Standard(prefix, code string, part uint) Identity {
	return Identity{Kind: KindStandard, Prefix: strings.ToUpper(prefix), Code: code, Part: part}
}

// Special 构造 Special identity。
func Special(code string, part uint) Identity {
	return Identity{Kind: KindSpecial, Code: code, Part: part}
}

// Key 返回不含 part 的规范化字符串（形如 STARS-804 / FC2-PPV-3234），
// 同时用作 out/ 目录名与缓存文件名。
func (id Identity) Key() string {
	switch id.Kind {
	case KindStandard:
		return id.Prefix + "-" + id.Code
	case KindSpecial:
		return SpecialPrefix + "-" + id.Code
	default:
		return ""
	}
}

// String 在 Key 的基础上附带 part（仅用于日志）。
func (id Identity) String() string {
	if id.Part == 0 {
		return id.Key()
	}
	return fmt.Sprintf("%s#cd%d", id.Key(), id.Part)
}

// Equal 按 join key 比较：kind + prefix + code，忽略 part。
func (id Identity) Equal(o Identity) bool {
	return id.Kind == o.Kind && id.Prefix == o.Prefix && id.Code == o.Code
}

func (id Identity) IsZero() bool { return id.Kind == KindUnknown }

// WithPart 返回仅 part 不同的副本。
func (id Identity) WithPart(part uint) Identity {
	id.Part = part
	return id
}
