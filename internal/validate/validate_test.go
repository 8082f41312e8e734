package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/avmerge/internal/domain"
)

func fullRecord(id domain.Identity) *domain.Record {
	r := domain.NewRecord(id)
	r.Title = "t"
	r.Plot = "p"
	r.RuntimeM = 120
	r.Director = "d"
	r.Premiered = "2023-04-13"
	r.Studio = "s"
	r.AddGenres("g")
	r.AddActors("a")
	r.Poster = []byte("poster")
	r.Fanart = []byte("fanart")
	return r
}

func TestFinish_StandardMissingPoster(t *testing.T) {
	id := domain.Standard("STARS", "804", 0)
	r := fullRecord(id)
	r.Poster = nil

	_, err := Finish(r, id)
	var rej *Rejected
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, []string{FieldPoster}, rej.Missing)
	assert.Equal(t, id, rej.ID)
}

func TestFinish_SpecialWithoutPosterAndGenres(t *testing.T) {
	id := domain.Special("3234567", 0)
	r := fullRecord(id)
	r.Poster = nil
	r.Genres = nil

	got, err := Finish(r, id)
	require.NoError(t, err)
	assert.Nil(t, got.Poster)
}

func TestFinish_FixUps(t *testing.T) {
	id := domain.Special("3234567", 0)
	r := fullRecord(id)
	r.Plot = ""
	r.Actors = nil
	r.Director = "しろうと"

	got, err := Finish(r, id)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Plot, "plot 为空时复制 title")
	assert.Equal(t, []string{"しろうと"}, got.Actors, "Special 无演员时用 director 填充")

	assert.Empty(t, r.Plot, "入参不应被修改")
	assert.Nil(t, r.Actors)
}

func TestFinish_StandardDoesNotSeedActors(t *testing.T) {
	id := domain.Standard("ABP", "123", 0)
	r := fullRecord(id)
	r.Actors = nil

	_, err := Finish(r, id)
	var rej *Rejected
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, []string{FieldActors}, rej.Missing)
}

func TestFinish_ListsAllMissing(t *testing.T) {
	id := domain.Standard("ABP", "123", 0)

	_, err := Finish(domain.NewRecord(id), id)
	var rej *Rejected
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, Required(domain.KindStandard), rej.Missing)
	assert.Contains(t, err.Error(), "ABP-123")

	_, err = Finish(nil, domain.Special("1", 0))
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, Required(domain.KindSpecial), rej.Missing)
}

func TestFinish_TitleOnlyStillMissesPlotDependents(t *testing.T) {
	id := domain.Standard("ABP", "123", 0)
	r := domain.NewRecord(id)
	r.Title = "only title"

	_, err := Finish(r, id)
	var rej *Rejected
	require.True(t, errors.As(err, &rej))
	assert.NotContains(t, rej.Missing, FieldTitle)
	assert.NotContains(t, rej.Missing, FieldPlot, "plot 已由 title 修补")
	assert.Contains(t, rej.Missing, FieldRuntime)
}
