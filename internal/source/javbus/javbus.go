package javbus

import (
	"bytes"
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

const Name = "javbus"

const defaultBaseURL = "https://www.javbus.com"

// Source 实现 JavBus 的 搜索 -> 详情页 -> 图片 流程。
//
// 约束：
// - 只支持 Standard identity（JavBus 不收录 FC2 家族）
// - 搜索结果必须经 identity.Matches 过滤，不信任站点的模糊匹配
// - Page/Image 由 httpx 构造，限流器挂在 Transport 上：每次外发（含重试）前都会 Acquire
// - 图片下载失败只记日志，不算 source 失败（Validator 会指出缺失）
type Source struct {
	// BaseURL 为空时使用 https://www.javbus.com（测试里指向 httptest.Server）。
	BaseURL string
	Page    *http.Client
	// Image 为空时复用 Page。
	Image *http.Client
	Log   zerolog.Logger
}

func (*Source) Name() string { return Name }

func (*Source) Supports(id domain.Identity) bool { return id.Kind == domain.KindStandard }

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

// Find 先搜索 /search/<KEY>，再进入匹配行的详情页。
func (s *Source) Find(ctx context.Context, id domain.Identity) (*domain.Record, error) {
	rec := domain.NewRecord(id)
	if !s.Supports(id) {
		return rec, nil
	}

	searchURL := s.baseURL() + "/search/" + url.PathEscape(id.Key())
	html, err := pagex.Get(ctx, s.Page, searchURL)
	if err != nil {
		if source.IsNotFound(err) {
			return rec, nil
		}
		return nil, &source.Error{Source: Name, Stage: source.StageSearch, Err: err}
	}

	h, ok, err := findHit(html, searchURL, id)
	if err != nil {
		return nil, &source.Error{Source: Name, Stage: source.StageSearch, Err: err}
	}
	if !ok {
		return rec, nil
	}

	body, err := s.fetchDetail(ctx, h.detailURL)
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

// fetchDetail 读取详情页。
//
// JavBus 在未通过“成年确认”时通常会返回 302 到 /doc/driver-verify，
// 但很多情况下 302 的 body 仍然是完整详情页 HTML。
// 因此这里禁用重定向：直接读取 302 的 body 并解析。
func (s *Source) fetchDetail(ctx context.Context, pageURL string) ([]byte, error) {
	if s.Page == nil {
		return nil, errors.New("http client 不能为空")
	}
	c := *s.Page
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	r, err := pagex.Fetch(ctx, &c, pageURL)
	if err != nil {
		return nil, err
	}
	if strings.Contains(r.URL, "/doc/driver-verify") {
		return nil, &source.BlockedError{URL: r.URL, Reason: "driver-verify"}
	}
	if r.StatusCode >= 300 && r.StatusCode < 400 && strings.Contains(r.Location, "/doc/driver-verify") {
		// 只有当 body 明确是验证页时才算 blocked；否则允许解析 302 body（常见且可用）。
		if bytes.Contains(r.Body, []byte(`id="ageVerify"`)) || bytes.Contains(r.Body, []byte("/doc/driver-verify")) {
			return nil, &source.BlockedError{URL: r.Location, Reason: "driver-verify"}
		}
	}
	if r.StatusCode < 200 || r.StatusCode >= 400 {
		return nil, &source.HTTPStatusError{URL: pageURL, StatusCode: r.StatusCode, Location: r.Location}
	}
	if len(r.Body) == 0 {
		return nil, errors.New("empty response body")
	}
	return r.Body, nil
}

type hit struct {
	detailURL string
	posterURL string
}

// findHit 在搜索结果里找第一条编号与 id 相同的行。
//
// 行结构：a.movie-box > div.photo-frame img（缩略图）+ div.photo-info date（第一个 date 是编号）。
func findHit(html []byte, searchURL string, id domain.Identity) (hit, bool, error) {
	doc, err := pagex.Document(html)
	if err != nil {
		return hit{}, false, err
	}

	var (
		h  hit
		ok bool
	)
	doc.Find("a.movie-box").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		code := pagex.NormSpace(row.Find("div.photo-info date").First().Text())
		if !identity.Matches(id, code) {
			return true
		}
		href, _ := row.Attr("href")
		if strings.TrimSpace(href) == "" {
			return true
		}
		h.detailURL = pagex.ResolveURL(searchURL, href)
		if src, exists := row.Find("div.photo-frame img").First().Attr("src"); exists {
			h.posterURL = pagex.ResolveURL(searchURL, src)
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

// parseDetail 把详情页 HTML 解析为 Record（纯函数：只依赖输入）。
func parseDetail(id domain.Identity, html []byte, pageURL string) (detail, error) {
	doc, err := pagex.Document(html)
	if err != nil {
		return detail{}, err
	}

	// 先校验“是不是详情页”：识别码必须存在且匹配（避免把验证页/拦截页当成成功解析）。
	code := findInfoValueAny(doc, "識別碼", "识别码", "ID")
	if code == "" {
		return detail{}, errors.New("未找到識別碼（疑似返回了验证页/非详情页内容）")
	}
	if !identity.Matches(id, code) {
		return detail{}, errors.New("識別碼不匹配（疑似跳转/返回了其它页面）")
	}

	rec := domain.NewRecord(id)

	title := pagex.NormSpace(doc.Find("h3").First().Text())
	if title == "" {
		return detail{}, errors.New("标题为空（疑似返回了验证页/非详情页内容）")
	}
	if strings.HasPrefix(strings.ToUpper(title), strings.ToUpper(code)) {
		title = strings.TrimSpace(title[len(code):])
	}
	rec.Title = title

	rec.Premiered = findInfoValueAny(doc, "發行日期", "发行日期", "Release Date", "発売日")
	rec.RuntimeM = pagex.FirstInt(findInfoValueAny(doc, "長度", "长度", "Length", "時長", "时长", "Duration"))
	rec.Director = findInfoValueAny(doc, "導演", "导演", "Director", "監督")

	// “發行商”更像对外的厂牌标识；缺失时再回退“製作商”。
	rec.Studio = findInfoValueAny(doc, "發行商", "发行商", "Label", "Publisher")
	maker := findInfoValueAny(doc, "製作商", "制作商", "Studio", "Maker", "Manufacturer")
	if rec.Studio == "" {
		rec.Studio = maker
	}
	rec.Series = findInfoValueAny(doc, "系列", "Series")

	rec.AddActors(pagex.Texts(doc.Find("div.star-name a"))...)

	noise := []string{code, rec.Studio, maker, rec.Series, rec.Director}
	noise = append(noise, rec.Actors...)
	genres := keywordTags(doc, noise)
	if len(genres) == 0 {
		// 兜底：keywords 缺失时回退从 /genre/ 链接提取（可能包含噪音标签）。
		doc.Find("span.genre a").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if strings.Contains(href, "/genre/") {
				genres = append(genres, pagex.NormSpace(s.Text()))
			}
		})
	}
	rec.AddGenres(genres...)

	fanartURL := ""
	if href, ok := doc.Find("a.bigImage").First().Attr("href"); ok {
		fanartURL = pagex.ResolveURL(pageURL, href)
	}
	if fanartURL == "" {
		// 极端兜底：有些页面 cover 可能缺失，但仍有样品图。
		if href, ok := doc.Find("#sample-waterfall a.sample-box").First().Attr("href"); ok {
			fanartURL = pagex.ResolveURL(pageURL, href)
		}
	}
	return detail{rec: rec, fanartURL: fanartURL}, nil
}

func findInfoValueAny(doc *goquery.Document, headers ...string) string {
	set := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		if h = pagex.NormHeader(h); h != "" {
			set[h] = struct{}{}
		}
	}

	var out string
	doc.Find("div.movie div.info p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rawHeader := pagex.NormSpace(s.Find("span.header").First().Text())
		if _, ok := set[pagex.NormHeader(rawHeader)]; !ok {
			return true
		}
		// 该 <p> 内除了 header，还有可能包含 <a>（如厂牌），或纯文本（日期/长度）。
		// 优先取 a 文本；否则取移除 header 后的剩余文本。
		if a := pagex.NormSpace(s.Find("a").First().Text()); a != "" {
			out = a
			return false
		}
		out = strings.TrimSpace(strings.TrimPrefix(pagex.NormSpace(s.Text()), rawHeader))
		return false
	})
	return out
}

// keywordTags 从 <meta name="keywords"> 取标签。
//
// keywords 通常形如：CODE,Studio,Series,Tag1,Tag2,...
// 不做“聪明猜测”，只剔除已知的非标签值，剩下的视为标签集合。
func keywordTags(doc *goquery.Document, noise []string) []string {
	content, ok := doc.Find("meta[name='keywords']").First().Attr("content")
	if !ok {
		return nil
	}
	skip := make(map[string]struct{}, len(noise))
	for _, n := range noise {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			skip[n] = struct{}{}
		}
	}

	out := make([]string, 0, 16)
	for _, p := range strings.Split(content, ",") {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		if _, ok := skip[strings.ToUpper(t)]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}
