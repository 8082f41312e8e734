package nfo

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/John-Robertt/avmerge/internal/domain"
)

type movie struct {
	XMLName xml.Name `xml:"movie"`

	Title         string `xml:"title"`
	OriginalTitle string `xml:"originaltitle,omitempty"`
	SortTitle     string `xml:"sorttitle"`
	Num           string `xml:"num"`
	Plot          string `xml:"plot,omitempty"`
	Outline       string `xml:"outline,omitempty"`

	Studio   string `xml:"studio,omitempty"`
	Director string `xml:"director,omitempty"`
	Set      string `xml:"set,omitempty"`

	Release   string `xml:"release,omitempty"`
	Premiered string `xml:"premiered,omitempty"`
	Year      int    `xml:"year,omitempty"`
	Runtime   int    `xml:"runtime,omitempty"`

	MPAA    string `xml:"mpaa,omitempty"`
	Country string `xml:"country,omitempty"`

	Poster string `xml:"poster,omitempty"`
	Thumb  string `xml:"thumb,omitempty"`
	Fanart string `xml:"fanart,omitempty"`

	Rating string `xml:"rating"`

	Actors []actor  `xml:"actor,omitempty"`
	Tags   []string `xml:"tag,omitempty"`
	Genres []string `xml:"genre,omitempty"`
}

type actor struct {
	Name string `xml:"name"`
	Role string `xml:"role,omitempty"`
}

// Encode 把合并后的 Record 转成 Kodi/Jellyfin/Emby 可读取的 NFO（XML）。
//
// 规则：
// - 字段缺失允许为空；列表已由 Record 保证去空白、去重、排序
// - title 以 KEY 开头（更利于媒体库识别与展示）；为空时回退到 KEY
// - tag 追加 actors（便于媒体库按人名过滤）
// - mpaa/country 为空时使用 domain 的默认值
func Encode(rec *domain.Record) ([]byte, error) {
	if rec == nil {
		rec = &domain.Record{}
	}
	key := rec.ID.Key()
	title := strings.TrimSpace(rec.Title)
	original := title
	if title == "" {
		title = key
	} else if key != "" && !strings.HasPrefix(strings.ToUpper(title), key) {
		title = key + " " + title
	}

	m := movie{
		Title:         title,
		OriginalTitle: original,
		SortTitle:     key,
		Num:           key,
		Plot:          strings.TrimSpace(rec.Plot),
		Outline:       strings.TrimSpace(rec.Plot),

		Studio:   strings.TrimSpace(rec.Studio),
		Director: strings.TrimSpace(rec.Director),
		Set:      strings.TrimSpace(rec.Series),

		Release:   strings.TrimSpace(rec.Premiered),
		Premiered: strings.TrimSpace(rec.Premiered),
		Year:      yearOf(rec.Premiered),
		Runtime:   rec.RuntimeM,

		MPAA:    orDefault(rec.MPAA, domain.DefaultMPAA),
		Country: orDefault(rec.Country, domain.DefaultCountry),

		Poster: "poster.jpg",
		Thumb:  "poster.jpg",
		Fanart: "fanart.jpg",

		Rating: strconv.FormatFloat(rec.Rating, 'f', -1, 64),

		Genres: rec.Genres,
		Tags:   append(append([]string(nil), rec.Genres...), rec.Actors...),
	}
	if len(m.Tags) == 0 {
		m.Tags = nil
	}

	for _, a := range rec.Actors {
		m.Actors = append(m.Actors, actor{Name: a, Role: a})
	}

	b, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	// 约定：输出带 standalone="yes" 的 XML 头，便于与常见刮削器产物兼容。
	const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"
	return append([]byte(header), b...), nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// yearOf 取 "2025-11-27" 的年份；格式不符返回 0（year 字段省略）。
func yearOf(premiered string) int {
	premiered = strings.TrimSpace(premiered)
	if len(premiered) < 4 {
		return 0
	}
	y, err := strconv.Atoi(premiered[:4])
	if err != nil || y < 1900 {
		return 0
	}
	return y
}
