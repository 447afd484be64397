package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

var base = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func accepted(source, title, body string, observedAt time.Time) model.ClassifiedArticle {
	return model.ClassifiedArticle{
		RawArticle: model.RawArticle{
			Title:    title,
			Body:     body,
			SourceID: source,
		},
		ContentHash: fmt.Sprintf("%s|%s|%s", source, title, body),
		Verdict:     model.VerdictAccepted,
		Asset:       model.AssetTarget,
		ObservedAt:  observedAt,
	}
}

func TestDedupeExactSameSource(t *testing.T) {
	e := New(Options{})
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar Prices Rise", "Global supply tightens.", base),
		accepted("usda", "sugar prices rise", "Global  supply tightens.", base.Add(time.Hour)),
	}
	res := e.Dedupe(in)
	require.Len(t, res.Kept, 1)
	assert.Equal(t, 1, res.Dropped)
	// Default policy keeps the later-observed copy.
	assert.True(t, res.Kept[0].ObservedAt.Equal(base.Add(time.Hour)))
}

func TestDedupeIdenticalTextDifferentSourcesBothSurvive(t *testing.T) {
	e := New(Options{})
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base),
		accepted("fao", "Sugar prices rise", "Global supply tightens.", base),
	}
	res := e.Dedupe(in)
	assert.Len(t, res.Kept, 2)
	assert.Equal(t, 0, res.Dropped)
}

func TestDedupeNearDuplicateAboveThreshold(t *testing.T) {
	e := New(Options{Threshold: 0.9})
	body := "brazil center south mills crushed record cane volumes boosting raw sugar output across the key producing states this season"
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar output climbs", body, base),
		// ~95% token overlap, same leading tokens.
		accepted("usda", "Sugar output climbs", body+" again", base.Add(2*time.Hour)),
	}
	res := e.Dedupe(in)
	require.Len(t, res.Kept, 1)
	assert.True(t, res.Kept[0].ObservedAt.Equal(base.Add(2*time.Hour)), "later copy retained")
}

func TestDedupeKeepEarliestPolicy(t *testing.T) {
	e := New(Options{KeepEarliest: true})
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base),
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base.Add(time.Hour)),
	}
	res := e.Dedupe(in)
	require.Len(t, res.Kept, 1)
	assert.True(t, res.Kept[0].ObservedAt.Equal(base))
}

func TestDedupeBelowThresholdSurvives(t *testing.T) {
	e := New(Options{Threshold: 0.9})
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar report", "India exports fell on weak monsoon rains across key growing regions", base),
		accepted("usda", "Sugar report", "Brazil output rose on favorable weather and heavy mill investment", base),
	}
	res := e.Dedupe(in)
	assert.Len(t, res.Kept, 2)
}

func TestDedupeDifferentSourcesNearDuplicatesSurvive(t *testing.T) {
	e := New(Options{})
	body := "thailand cane crush accelerated in the final weeks of the season"
	in := []model.ClassifiedArticle{
		accepted("usda", "Crush update", body, base),
		accepted("fao", "Crush update", body+" overall", base),
	}
	res := e.Dedupe(in)
	assert.Len(t, res.Kept, 2)
}

func TestDedupeTriplicateCollapsesToOne(t *testing.T) {
	e := New(Options{})
	in := []model.ClassifiedArticle{
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base),
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base.Add(time.Hour)),
		accepted("usda", "Sugar prices rise", "Global supply tightens.", base.Add(2*time.Hour)),
	}
	res := e.Dedupe(in)
	require.Len(t, res.Kept, 1)
	assert.Equal(t, 2, res.Dropped)
	assert.True(t, res.Kept[0].ObservedAt.Equal(base.Add(2*time.Hour)))
}

func TestDedupeEmptyInput(t *testing.T) {
	e := New(Options{})
	res := e.Dedupe(nil)
	assert.Empty(t, res.Kept)
	assert.Equal(t, 0, res.Dropped)
}

func TestSortByObservedStable(t *testing.T) {
	in := []model.ClassifiedArticle{
		accepted("b", "t2", "b2", base.Add(time.Hour)),
		accepted("a", "t1", "b1", base),
		accepted("c", "t3", "b3", base.Add(time.Hour)),
	}
	SortByObserved(in)
	assert.True(t, in[0].ObservedAt.Equal(base))
	// Equal timestamps ordered by content hash.
	assert.Less(t, in[1].ContentHash, in[2].ContentHash)
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}, "z": {}}
	b := map[string]struct{}{"x": {}, "y": {}}
	assert.InDelta(t, 2.0/3.0, jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, jaccard(a, map[string]struct{}{}))
}
