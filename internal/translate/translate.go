// Package translate 提供可选的标题/简介翻译（best-effort）。
package translate

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/avmerge/internal/domain"
)

// Translator 把一段文本翻译为目标语言。实现自带限流；失败只影响这一段文本。
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Apply 在聚合之后、校验之前翻译 rec 的 title 与 plot。
//
// 约束：
// - tr 为 nil 时什么都不做
// - 任一字段失败只记日志并保留原文，不返回错误
// - 译文为空白时保留原文
func Apply(ctx context.Context, tr Translator, rec *domain.Record, log zerolog.Logger) {
	if tr == nil || rec == nil {
		return
	}
	rec.Title = translateField(ctx, tr, rec, "title", rec.Title, log)
	rec.Plot = translateField(ctx, tr, rec, "plot", rec.Plot, log)
}

func translateField(ctx context.Context, tr Translator, rec *domain.Record, field, text string, log zerolog.Logger) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out, err := tr.Translate(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("identity", rec.ID.String()).Str("field", field).Msg("翻译失败，保留原文")
		return text
	}
	if strings.TrimSpace(out) == "" {
		return text
	}
	return out
}
