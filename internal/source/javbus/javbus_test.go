package javbus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/source"
)

const searchHTML = `<html><body><div id="waterfall">
<div class="item"><a class="movie-box" href="/STARS-8040">
  <div class="photo-frame"><img src="/pics/thumb/wrong.jpg"></div>
  <div class="photo-info"><span>other<br><date>STARS-8040</date> / <date>2023-01-01</date></span></div>
</a></div>
<div class="item"><a class="movie-box" href="/STARS-804">
  <div class="photo-frame"><img src="/pics/thumb/804.jpg"></div>
  <div class="photo-info"><span>right<br><date>STARS-804</date> / <date>2023-04-13</date></span></div>
</a></div>
</div></body></html>`

const detailHTML = `<html><head>
<meta name="keywords" content="STARS-804,SODクリエイト,SODstar,青空ひかり,ドラマ,単体作品">
</head><body><div class="container">
<h3>STARS-804 青空の下で</h3>
<div class="row movie">
  <div class="col-md-9 screencap"><a class="bigImage" href="/pics/cover/804_b.jpg"><img src="/pics/cover/804_b.jpg"></a></div>
  <div class="col-md-3 info">
    <p><span class="header">識別碼:</span> <span>STARS-804</span></p>
    <p><span class="header">發行日期:</span> 2023-04-13</p>
    <p><span class="header">長度:</span> 120分鐘</p>
    <p><span class="header">導演:</span> <a href="/director/1">紋℃</a></p>
    <p><span class="header">製作商:</span> <a href="/studio/1">SODクリエイト</a></p>
    <p><span class="header">發行商:</span> <a href="/label/1">SODstar</a></p>
    <p><span class="genre"><label><a href="/genre/1">ドラマ</a></label></span></p>
    <div class="star-name"><a href="/star/1">青空ひかり</a></div>
  </div>
</div></div></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/STARS-804", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchHTML))
	})
	mux.HandleFunc("/STARS-804", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(detailHTML))
	})
	mux.HandleFunc("/STARS-8040", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("不应进入未匹配行的详情页")
	})
	mux.HandleFunc("/pics/thumb/804.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("poster"))
	})
	mux.HandleFunc("/pics/cover/804_b.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fanart-bytes"))
	})
	mux.HandleFunc("/search/ABC-123", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a class="movie-box" href="/ABC-124"><div class="photo-info"><date>ABC-124</date></div></a></body></html>`))
	})
	mux.HandleFunc("/search/XYZ-001", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a class="movie-box" href="/XYZ-001"><div class="photo-info"><date>XYZ-001</date></div></a></body></html>`))
	})
	mux.HandleFunc("/XYZ-001", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/doc/driver-verify?referer=/XYZ-001")
		w.WriteHeader(http.StatusFound)
		_, _ = w.Write([]byte(`<div id="ageVerify">verify</div>`))
	})
	mux.HandleFunc("/search/BAD-500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	// 其它路径（包括 /search/NONE-001）一律 404。
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, srv *httptest.Server) *Source {
	return &Source{BaseURL: srv.URL, Page: srv.Client(), Log: zerolog.New(zerolog.NewTestWriter(t))}
}

func TestFind_SearchFilterThenDetail(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)

	rec, err := s.Find(context.Background(), domain.Standard("STARS", "804", 2))
	require.NoError(t, err)

	assert.Equal(t, "青空の下で", rec.Title)
	assert.Equal(t, "2023-04-13", rec.Premiered)
	assert.Equal(t, 120, rec.RuntimeM)
	assert.Equal(t, "紋℃", rec.Director)
	assert.Equal(t, "SODstar", rec.Studio)
	assert.Equal(t, []string{"青空ひかり"}, rec.Actors)
	assert.Equal(t, []string{"ドラマ", "単体作品"}, rec.Genres)
	assert.Equal(t, []byte("poster"), rec.Poster)
	assert.Equal(t, []byte("fanart-bytes"), rec.Fanart)
	assert.Equal(t, domain.DefaultCountry, rec.Country)
}

func TestFind_NotFoundIsEmptyRecord(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)

	rec, err := s.Find(context.Background(), domain.Standard("NONE", "001", 0))
	require.NoError(t, err, "404 不是错误")
	assert.True(t, rec.IsEmpty())

	rec, err = s.Find(context.Background(), domain.Standard("ABC", "123", 0))
	require.NoError(t, err, "搜索无匹配行不是错误")
	assert.True(t, rec.IsEmpty())
}

func TestFind_SpecialUnsupported(t *testing.T) {
	s := &Source{}
	id := domain.Special("3234567", 0)
	require.False(t, s.Supports(id))

	rec, err := s.Find(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
}

func TestFind_BlockedIsSourceError(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)

	_, err := s.Find(context.Background(), domain.Standard("XYZ", "001", 0))
	require.Error(t, err)

	var se *source.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Name, se.Source)
	assert.Equal(t, source.StageFetch, se.Stage)

	var be *source.BlockedError
	assert.True(t, errors.As(err, &be))
}

func TestFind_ServerErrorIsSearchError(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)

	_, err := s.Find(context.Background(), domain.Standard("BAD", "500", 0))
	var se *source.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, source.StageSearch, se.Stage)

	var he *source.HTTPStatusError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
}

func TestParseDetail_RejectsOtherPage(t *testing.T) {
	_, err := parseDetail(domain.Standard("STARS", "805", 0), []byte(detailHTML), "https://www.javbus.com/STARS-805")
	require.Error(t, err)

	_, err = parseDetail(domain.Standard("STARS", "804", 0), []byte(`<html><body>verify</body></html>`), "https://www.javbus.com/STARS-804")
	require.Error(t, err)
}
