package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() (*Record, *Record) {
	id := Standard("STARS", "804", 0)

	a := NewRecord(id)
	a.Title = "A title"
	a.Plot = "short"
	a.RuntimeM = 0
	a.Rating = 3.5
	a.Studio = "SOD"
	a.Director = "Ab"
	a.AddGenres("Drama", "Solo")
	a.AddActors("X")
	a.Poster = []byte("poster-a-long")
	a.Fanart = []byte("fa")

	b := NewRecord(id)
	b.Title = "B"
	b.Plot = "a much longer plot"
	b.RuntimeM = 120
	b.Premiered = "2023-04-13"
	b.Studio = "SODCreate"
	b.Director = "Ba" // 与 a 等长
	b.AddGenres("Solo", "Idol")
	b.AddActors("Y", "X")
	b.Poster = []byte("p")
	b.Fanart = []byte("fanart-b")
	return a, b
}

func TestMerge_Commutative(t *testing.T) {
	a, b := sampleRecords()

	ab := a.Clone().Merge(b)
	ba := b.Clone().Merge(a)

	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Fatalf("a⊕b 与 b⊕a 不一致 (-ab +ba):\n%s", diff)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	a, _ := sampleRecords()

	aa := a.Clone().Merge(a)
	if diff := cmp.Diff(a, aa); diff != "" {
		t.Fatalf("a⊕a 应等于 a (-a +aa):\n%s", diff)
	}
}

func TestMerge_Associative(t *testing.T) {
	a, b := sampleRecords()
	c := NewRecord(a.ID)
	c.Title = "CCCCCCCCCCCCCC"
	c.Rating = 4.2
	c.AddActors("Z")

	left := a.Clone().Merge(b).Merge(c)
	right := a.Clone().Merge(b.Clone().Merge(c))
	if diff := cmp.Diff(left, right); diff != "" {
		t.Fatalf("(a⊕b)⊕c 与 a⊕(b⊕c) 不一致:\n%s", diff)
	}
}

func TestMerge_EmptyIsIdentity(t *testing.T) {
	a, _ := sampleRecords()

	fromZero := (&Record{}).Merge(a)
	if diff := cmp.Diff(a, fromZero); diff != "" {
		t.Fatalf("∅⊕a 应等于 a:\n%s", diff)
	}

	withSeeded := a.Clone().Merge(NewRecord(a.ID))
	if diff := cmp.Diff(a, withSeeded); diff != "" {
		t.Fatalf("a⊕NewRecord(id) 应等于 a:\n%s", diff)
	}
}

func TestMerge_FieldRules(t *testing.T) {
	a, b := sampleRecords()
	got := a.Clone().Merge(b)

	assert.Equal(t, "A title", got.Title, "更长的标题胜出")
	assert.Equal(t, "a much longer plot", got.Plot)
	assert.Equal(t, 120, got.RuntimeM, "非零 runtime 胜过 0")
	assert.Equal(t, 3.5, got.Rating)
	assert.Equal(t, "2023-04-13", got.Premiered)
	assert.Equal(t, "SODCreate", got.Studio)
	assert.Equal(t, "Ab", got.Director, "等长时取字典序更小者")
	assert.Equal(t, []string{"Drama", "Idol", "Solo"}, got.Genres)
	assert.Equal(t, []string{"X", "Y"}, got.Actors)
	assert.Equal(t, []byte("poster-a-long"), got.Poster)
	assert.Equal(t, []byte("fanart-b"), got.Fanart)
	assert.Equal(t, DefaultCountry, got.Country)
	assert.Equal(t, DefaultMPAA, got.MPAA)
}

func TestMerge_CountsCharactersNotBytes(t *testing.T) {
	id := Standard("ABP", "123", 0)
	a := NewRecord(id)
	a.Title = "中文標題" // 4 个字符，12 字节
	b := NewRecord(id)
	b.Title = "abcde" // 5 个字符

	got := a.Clone().Merge(b)
	require.Equal(t, "abcde", got.Title)
}

func TestRecord_IsEmpty(t *testing.T) {
	r := NewRecord(Special("3234", 0))
	assert.True(t, r.IsEmpty(), "种子字段不计入")

	r.AddActors("  ")
	assert.True(t, r.IsEmpty(), "空白值会被丢弃")

	r.RuntimeM = 1
	assert.False(t, r.IsEmpty())

	var nilRec *Record
	assert.True(t, nilRec.IsEmpty())
}
