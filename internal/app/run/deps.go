package run

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/avmerge/internal/config"
	"github.com/John-Robertt/avmerge/internal/infra/cache"
	"github.com/John-Robertt/avmerge/internal/infra/httpx"
	"github.com/John-Robertt/avmerge/internal/ratelimit"
	"github.com/John-Robertt/avmerge/internal/source"
	"github.com/John-Robertt/avmerge/internal/source/javbus"
	"github.com/John-Robertt/avmerge/internal/source/javdb"
	"github.com/John-Robertt/avmerge/internal/translate"
)

// translateMemoTTL 是进程内翻译结果的保留时间（同一标题在一次 run 里常出现多次）。
const translateMemoTTL = 30 * time.Minute

// Deps 是一次 run 的外部协作者。CLI 通过 Build 构造；测试直接注入 stub source。
type Deps struct {
	Sources []source.Source
	// Translator 为 nil 表示不翻译。
	Translator translate.Translator
	Log        zerolog.Logger
}

// Build 按 eff 构造启用的 source 与 translator。
//
// 约束：
// - 每个网络 source 独占一个 Limiter，挂在它自己的 page/image client 上
// - dry-run 时 cache source 只读
// - 返回的 Sources 顺序与 eff.Sources 一致（仅影响日志顺序；合并结果与顺序无关）
func Build(eff config.EffectiveConfig, log zerolog.Logger) (Deps, error) {
	store := cache.New(eff.Path, !eff.Apply)

	var all []source.Source
	for _, name := range eff.Sources {
		switch name {
		case cache.SourceName:
			all = append(all, cache.Source{Store: store})
		case javbus.Name:
			page, image, err := clients(eff, name)
			if err != nil {
				return Deps{}, err
			}
			all = append(all, &javbus.Source{
				Page:  page,
				Image: image,
				Log:   log.With().Str("component", "source").Str("source", name).Logger(),
			})
		case javdb.Name:
			page, image, err := clients(eff, name)
			if err != nil {
				return Deps{}, err
			}
			all = append(all, &javdb.Source{
				BaseURL: eff.JavDBBaseURL,
				Page:    page,
				Image:   image,
				Log:     log.With().Str("component", "source").Str("source", name).Logger(),
			})
		default:
			return Deps{}, fmt.Errorf("未知 source：%q", name)
		}
	}

	reg, err := source.NewRegistry(all...)
	if err != nil {
		return Deps{}, err
	}
	sources, err := reg.Select(eff.Sources)
	if err != nil {
		return Deps{}, err
	}

	deps := Deps{Sources: sources, Log: log}
	if eff.Translate.Enabled() {
		deps.Translator = translate.NewCached(&translate.Libre{
			URL:     eff.Translate.URL,
			APIKey:  eff.Translate.APIKey,
			Source:  eff.Translate.Source,
			Target:  eff.Translate.Target,
			Client:  &http.Client{Timeout: 30 * time.Second},
			Limiter: ratelimit.New(eff.Translate.Rate),
		}, translateMemoTTL)
	}
	return deps, nil
}

// clients 为 source 构造共享同一个 Limiter 的 page/image client。
func clients(eff config.EffectiveConfig, name string) (page, image *http.Client, err error) {
	lim := ratelimit.New(eff.RateLimit(name))
	page, err = httpx.NewPageClient(eff.ProxyURL, lim)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	image, err = httpx.NewImageClient(eff.ProxyURL, eff.ImageProxy, lim)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return page, image, nil
}
