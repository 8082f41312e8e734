package javdb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/identity"
	"github.com/John-Robertt/avmerge/internal/source"
	"github.com/John-Robertt/avmerge/internal/source/pagex"
)

const Name = "javdb"

const defaultBaseURL = "https://javdb.com"

// Source 实现 JavDB 的 搜索 -> 详情页 -> 图片 流程。
//
// 约束：
// - JavDB 需要先搜索再进入详情页（不能直接拼详情 URL）
// - Standard 与 Special 都支持；Special 以 "FC2-<code>" 搜索
// - 搜索结果行必须经 identity.Matches 过滤
// - 图片下载失败只记日志，不算 source 失败
type Source struct {
	// BaseURL 允许指定 JavDB 的可用域名（例如 javdb565.com），用于绕过区域不可达。
	// 为空时使用默认的 https://javdb.com。
	BaseURL string
	Page    *http.Client
	Image   *http.Client
	Log     zerolog.Logger
}

func (*Source) Name() string { return Name }

func (*Source) Supports(id domain.Identity) bool {
	return id.Kind == domain.KindStandard || id.Kind == domain.KindSpecial
}

func (s *Source) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (s *Source) imageClient() *http.Client {
	if s.Image != nil {
		return s.Image
	}
	return s.Page
}

func searchQuery(id domain.Identity) string {
	if id.Kind == domain.KindSpecial {
		return "FC2-" + id.Code
	}
	return id.Key()
}

// Find 先搜索 /search?q=<query>&f=all，再进入匹配行的详情页。
func (s *Source) Find(ctx context.Context, id domain.Identity) (*domain.Record, error) {
	rec := domain.NewRecord(id)
	if !s.Supports(id) {
		return rec, nil
	}

	base := s.baseURL()
	searchURL := base + "/search?q=" + url.QueryEscape(searchQuery(id)) + "&f=all"
	html, err := pagex.Get(ctx, s.Page, searchURL)
	if err != nil {
		if source.IsNotFound(err) {
			return rec, nil
		}
		return nil, &source.Error{Source: Name, Stage: source.StageSearch, Err: err}
	}

	h, ok, err := findHit(html, base+"/", id)
	if err != nil {
		return nil, &source.Error{Source: Name, Stage: source.StageSearch, Err: err}
	}
	if !ok {
		return rec, nil
	}

	body, err := pagex.Get(ctx, s.Page, h.detailURL)
	if err != nil {
		if source.IsNotFound(err) {
			return rec, nil
		}
		return nil, &source.Error{Source: Name, Stage: source.StageFetch, Err: err}
	}

	d, err := parseDetail(id, body, h.detailURL)
	if err != nil {
		return nil, &source.Error{Source: Name, Stage: source.StageParse, Err: err}
	}

	d.rec.Poster = s.image(ctx, id, "poster", h.posterURL)
	d.rec.Fanart = s.image(ctx, id, "fanart", d.fanartURL)
	return d.rec, nil
}

func (s *Source) image(ctx context.Context, id domain.Identity, kind, u string) []byte {
	if u == "" {
		return nil
	}
	b, err := pagex.Download(ctx, s.imageClient(), u)
	if err != nil {
		s.Log.Warn().Err(err).Str("source", Name).Str("identity", id.String()).
			Str("image", kind).Str("url", u).Msg("图片下载失败")
		return nil
	}
	return b
}

type hit struct {
	detailURL string
	posterURL string
}

// findHit 在搜索结果里找第一条编号与 id 相同的行（div.movie-list div.item a.box）。
func findHit(html []byte, base string, id domain.Identity) (hit, bool, error) {
	doc, err := pagex.Document(html)
	if err != nil {
		return hit{}, false, err
	}

	var (
		h  hit
		ok bool
	)
	doc.Find("div.movie-list div.item a.box").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		code := pagex.NormSpace(row.Find("div.video-title strong").First().Text())
		if !identity.Matches(id, code) {
			return true
		}
		href, _ := row.Attr("href")
		if strings.TrimSpace(href) == "" {
			return true
		}
		h.detailURL = pagex.ResolveURL(base, href)
		if src, exists := row.Find("div.cover img").First().Attr("src"); exists {
			h.posterURL = pagex.ResolveURL(base, src)
		}
		ok = true
		return false
	})
	return h, ok, nil
}

type detail struct {
	rec       *domain.Record
	fanartURL string
}

// parseDetail 把 JavDB 详情页 HTML 解析为 Record（纯函数：只依赖输入）。
func parseDetail(id domain.Identity, html []byte, pageURL string) (detail, error) {
	doc, err := pagex.Document(html)
	if err != nil {
		return detail{}, err
	}

	rec := domain.NewRecord(id)

	// JavDB 的标题有时会显示中文翻译（current-title），同时提供隐藏的 origin-title。
	// 优先使用原标题，不存在时回退 current-title。
	// goquery 不执行 CSS/JS，因此即使 origin-title 是 display:none，Text() 仍可读到文本。
	rec.Title = pagex.NormSpace(doc.Find("h2.title span.origin-title").First().Text())
	if rec.Title == "" {
		rec.Title = pagex.NormSpace(doc.Find("h2.title strong.current-title").First().Text())
	}

	var code string
	doc.Find("nav.movie-panel-info .panel-block").Each(func(_ int, s *goquery.Selection) {
		value := s.Find("span.value").First()
		switch pagex.NormHeader(s.Find("strong").First().Text()) {
		case "番號", "番号", "ID":
			code = pagex.NormSpace(value.Text())
		case "日期", "Date", "Released Date":
			rec.Premiered = pagex.NormSpace(value.Text())
		case "時長", "时长", "Length", "Duration":
			rec.RuntimeM = pagex.FirstInt(value.Text())
		case "導演", "导演", "Director":
			rec.Director = pagex.NormSpace(value.Find("a").First().Text())
		case "片商", "Maker", "Studio", "Manufacturer":
			rec.Studio = pagex.NormSpace(value.Find("a").First().Text())
		case "賣家", "卖家", "Seller":
			// FC2 页面没有片商，卖家即发行方。
			if rec.Studio == "" {
				rec.Studio = pagex.NormSpace(value.Find("a").First().Text())
			}
		case "系列", "Series":
			rec.Series = pagex.NormSpace(value.Find("a").First().Text())
		case "評分", "评分", "Rating":
			rec.Rating = pagex.FirstFloat(value.Text())
		case "演員", "演员", "Actor", "Actors", "Actress", "Cast":
			rec.AddActors(pagex.Texts(value.Find("a"))...)
		case "類別", "类别", "Tag", "Tags", "Genre", "Genres", "Category", "Categories":
			rec.AddGenres(pagex.Texts(value.Find("a"))...)
		}
	})

	if code != "" && !identity.Matches(id, code) {
		return detail{}, errors.New("番號不匹配（疑似跳转/返回了其它页面）")
	}
	if rec.Title == "" {
		return detail{}, errors.New("标题为空（疑似返回了验证页/非详情页内容）")
	}

	fanartURL := ""
	if href, ok := doc.Find(".column-video-cover a[data-fancybox='gallery']").First().Attr("href"); ok {
		fanartURL = pagex.ResolveURL(pageURL, href)
	}
	if fanartURL == "" {
		if src, ok := doc.Find(".column-video-cover img.video-cover").First().Attr("src"); ok {
			fanartURL = pagex.ResolveURL(pageURL, src)
		}
	}
	return detail{rec: rec, fanartURL: fanartURL}, nil
}
