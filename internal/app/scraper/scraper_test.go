package scraper

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

func TestSliceSections(t *testing.T) {
	text := "intro text\nAlpha section\nalpha content\nBeta section\nbeta content\nAlpha section again"
	defs := []sectionDef{
		{"alpha", regexp.MustCompile(`Alpha section`)},
		{"beta", regexp.MustCompile(`Beta section`)},
		{"gamma", regexp.MustCompile(`Gamma section`)},
	}

	sections := sliceSections(text, defs)

	require.Contains(t, sections, "alpha")
	require.Contains(t, sections, "beta")
	assert.NotContains(t, sections, "gamma")

	// Each slice runs from its boundary to the next one.
	assert.Contains(t, sections["alpha"], "alpha content")
	assert.NotContains(t, sections["alpha"], "beta content")
	assert.Contains(t, sections["beta"], "beta content")
}

func TestSectionTextFallsBackToWholeDocument(t *testing.T) {
	sections := map[string]string{"alpha": "slice"}
	assert.Equal(t, "slice", sectionText(sections, "alpha", "whole"))
	assert.Equal(t, "whole", sectionText(sections, "missing", "whole"))
}

func TestSetPathCreatesIntermediateMaps(t *testing.T) {
	rec := model.NewEmptyRecord("Testbanki", "testbanki")

	setPath(rec, []string{model.KeyDeposits, model.KeyCurrentAccounts, "einkareikningar"}, model.Rate(0.05))
	setPath(rec, []string{"ny_grein", "undirgrein", "leaf"}, model.Rate(1.5))
	setPath(rec, []string{model.KeyPenaltyInterest}, nil)

	v, ok := rec.Data.Get(model.KeyDeposits).Get(model.KeyCurrentAccounts).Get("einkareikningar").Rate()
	require.True(t, ok)
	assert.Equal(t, 0.05, v)

	v, ok = rec.Data.Get("ny_grein").Get("undirgrein").Get("leaf").Rate()
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	// A nil node is stored as an explicit null, visible to the evaluator.
	assert.True(t, rec.Data.Get(model.KeyPenaltyInterest).IsNull())
}

func TestExtractRate(t *testing.T) {
	re := regexp.MustCompile(`Einkareikningar\s+([\d,]+)%`)

	n := extractRate("Einkareikningar 0,05%", re)
	v, ok := n.Rate()
	require.True(t, ok)
	assert.Equal(t, 0.05, v)

	assert.True(t, extractRate("ekkert hér", re).IsNull())
}

func TestParseTieredAccountArity(t *testing.T) {
	tiers := []tierSpec{
		{regexp.MustCompile(`Þrep 1\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_1"},
		{regexp.MustCompile(`Þrep 2\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_2"},
		{regexp.MustCompile(`Þrep 3\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_3"},
		{regexp.MustCompile(`Þrep 4\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_4"},
	}
	section := "Þrep 1 6,50%\nÞrep 2 3,30% 6,75%\nÞrep 3 6,90% 7,00% 7,10%"

	out := parseTieredAccount(section, tiers)

	// One rate is a scalar.
	v, ok := out.Get("tier_1").Rate()
	require.True(t, ok)
	assert.Equal(t, 6.5, v)

	// Two rates are an indexed/unindexed pair.
	pair := out.Get("tier_2")
	require.NotNil(t, pair)
	v, ok = pair.Get(model.KeyIndexed).Rate()
	require.True(t, ok)
	assert.Equal(t, 3.3, v)
	v, ok = pair.Get(model.KeyUnindexed).Rate()
	require.True(t, ok)
	assert.Equal(t, 6.75, v)

	// Three rates are a tenor ladder.
	ladder := out.Get("tier_3")
	require.NotNil(t, ladder)
	v, ok = ladder.Get("unbound").Rate()
	require.True(t, ok)
	assert.Equal(t, 6.9, v)
	v, ok = ladder.Get("3_months").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
	v, ok = ladder.Get("6_months").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.1, v)

	// Unmatched tiers are absent, not null.
	assert.Nil(t, out.Get("tier_4"))
}

func TestExtractRatesSkipsUnmatchedGroups(t *testing.T) {
	re := regexp.MustCompile(`Þrep\s+([\d,]+)%(?:\s+([\d,]+)%)?`)

	assert.Equal(t, []float64{6.5}, extractRates("Þrep 6,50%", re))
	assert.Equal(t, []float64{6.5, 6.75}, extractRates("Þrep 6,50% 6,75%", re))
	assert.Nil(t, extractRates("ekkert", re))
}
