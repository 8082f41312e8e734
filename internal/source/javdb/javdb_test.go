package javdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/source"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string][]byte{
		"/v/ve39eW":               fixture(t, "detail_standard.html"),
		"/v/fc2x":                 fixture(t, "detail_special.html"),
		"/covers/ve/ve39eW.jpg":   []byte("poster-std"),
		"/covers/ve/ve39eW_b.jpg": []byte("fanart-std"),
		"/covers/fc/fc2x_b.jpg":   []byte("fanart-fc2"),
	}
	searches := map[string][]byte{
		"STARS-804":   fixture(t, "search_standard.html"),
		"FC2-3234567": fixture(t, "search_special.html"),
		"ABP-001":     []byte(`<html><body><div class="movie-list"></div></body></html>`),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			if r.URL.Query().Get("f") != "all" {
				t.Errorf("搜索应带 f=all：%s", r.URL.RawQuery)
			}
			b, ok := searches[r.URL.Query().Get("q")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(b)
			return
		}
		if r.URL.Path == "/v/wrong1" {
			t.Errorf("不应进入未匹配行的详情页")
		}
		b, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, srv *httptest.Server) *Source {
	return &Source{BaseURL: srv.URL + "/", Page: srv.Client(), Log: zerolog.New(zerolog.NewTestWriter(t))}
}

func TestFind_Standard(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)
	id := domain.Standard("STARS", "804", 0)

	got, err := s.Find(context.Background(), id)
	require.NoError(t, err)

	want := domain.NewRecord(id)
	want.Title = "青空の下で"
	want.Premiered = "2023-04-13"
	want.RuntimeM = 155
	want.Director = "紋℃"
	want.Studio = "SODクリエイト"
	want.Series = "青空シリーズ"
	want.Rating = 4.47
	want.AddGenres("單體作品", "劇情")
	want.AddActors("青空ひかり", "男優A")
	want.Poster = []byte("poster-std")
	want.Fanart = []byte("fanart-std")

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Record 不符合预期 (-want +got):\n%s", diff)
	}
}

func TestFind_SpecialSearchesFC2Prefix(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)
	id := domain.Special("3234567", 0)
	require.True(t, s.Supports(id))

	got, err := s.Find(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "素人さん", got.Title)
	assert.Equal(t, "しろうと企画", got.Studio, "FC2 的卖家作为 studio")
	assert.Equal(t, 62, got.RuntimeM)
	assert.Empty(t, got.Director)
	assert.Nil(t, got.Poster, "缩略图 404 时 poster 为空，不算失败")
	assert.Equal(t, []byte("fanart-fc2"), got.Fanart)
}

func TestFind_NoMatchIsEmptyRecord(t *testing.T) {
	srv := newSite(t)
	s := newSource(t, srv)

	for _, id := range []domain.Identity{
		domain.Standard("ABP", "001", 0), // 搜索页无结果行
		domain.Standard("ZZZ", "999", 0), // 搜索 404
	} {
		got, err := s.Find(context.Background(), id)
		require.NoError(t, err, id.String())
		assert.True(t, got.IsEmpty(), id.String())
		assert.Equal(t, id, got.ID)
	}
}

func TestFind_DetailErrorIsFetchStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			_, _ = w.Write(fixture(t, "search_standard.html"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	s := newSource(t, srv)

	_, err := s.Find(context.Background(), domain.Standard("STARS", "804", 0))
	var se *source.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Name, se.Source)
	assert.Equal(t, source.StageFetch, se.Stage)
}

func TestParseDetail_CodeMismatch(t *testing.T) {
	_, err := parseDetail(domain.Standard("STARS", "805", 0), fixture(t, "detail_standard.html"), "https://javdb.com/v/ve39eW")
	require.Error(t, err)
}

func TestFindHit_UsesMatchesNotPrefix(t *testing.T) {
	h, ok, err := findHit(fixture(t, "search_standard.html"), "https://javdb.com/", domain.Standard("STARS", "804", 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://javdb.com/v/ve39eW", h.detailURL)
	assert.Equal(t, "https://javdb.com/covers/ve/ve39eW.jpg", h.posterURL)
}
