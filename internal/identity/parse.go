package identity

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/John-Robertt/avmerge/internal/domain"
)

// ParseError 表示文件名不满足任何已知 identity 文法（该文件单独失败，不影响其它文件）。
type ParseError struct {
	Reason string
	Input  string
}

func (e *ParseError) Error() string {
	return e.Reason + ": " + strconv.Quote(e.Input)
}

const reasonNotFound = "identity not found"

// 文法按顺序尝试，Special 优先：一旦 Special 匹配，结果一定是 Special。
//
// 分隔符 = 零个或多个 '-' / ' '；part 段为可选的 "CD" + 零个或多个数字；其后为任意尾注。
// 文法均锚定在开头（开头的非字母数字字符在 normalize 中已剥掉）。
var (
	specialRE  = regexp.MustCompile(`^FC2[- ]*(?:PPV)?[- ]*([0-9]+)[- ]*(?:CD)?([0-9]*)(.*)$`)
	standardRE = regexp.MustCompile(`^([A-Z]+)[- ]*([0-9]+)[- ]*(?:CD)?([0-9]*)(.*)$`)
)

// Parse 把去掉扩展名的文件名解析为 Identity。
//
// 规则：
// 1) 全角折叠为半角、大写化、'_' 视为 '-'
// 2) 剥掉开头的非字母数字字符与结尾的非数字字符
// 3) 依次尝试 Special、Standard 文法；文法必须从头完整匹配剩余部分
func Parse(rawName string) (domain.Identity, error) {
	s := normalize(rawName)
	if s == "" {
		return domain.Identity{}, &ParseError{Reason: reasonNotFound, Input: rawName}
	}

	// Special 一旦匹配就不再尝试 Standard（否则 "FC2..." 会被读成 FC + 2）。
	if m := specialRE.FindStringSubmatch(s); m != nil {
		return domain.Special(m[1], parsePart(m[2])), nil
	}
	if m := standardRE.FindStringSubmatch(s); m != nil {
		return domain.Standard(m[1], m[2], parsePart(m[3])), nil
	}
	return domain.Identity{}, &ParseError{Reason: reasonNotFound, Input: rawName}
}

// Matches 独立解析 candidate（例如搜索结果行里的编号片段），
// 当且仅当其 join key（kind + prefix + code）与 id 相同时返回 true；part 被忽略。
func Matches(id domain.Identity, candidate string) bool {
	got, err := Parse(candidate)
	if err != nil {
		return false
	}
	return got.Equal(id)
}

func normalize(raw string) string {
	s := width.Fold.String(raw)
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.TrimLeftFunc(s, func(r rune) bool { return !isASCIIAlnum(r) })
	return strings.TrimRightFunc(s, func(r rune) bool { return !isASCIIDigit(r) })
}

// parsePart 解析 part 段；为空或超出 uint32（例如日期串 20230101123）时视作尾注，返回 0。
func parsePart(s string) uint {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || isASCIIDigit(r)
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }
