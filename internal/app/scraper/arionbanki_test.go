package scraper

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

const arionFixture = `Vaxtatafla einstaklinga
Gildir frá 1.11.2025
Veltureikningur 0,25%
1. þrep 0-1 millj. kr. 5,00%
2. þrep 1-5 millj. kr. 5,25%
Vöxtur 30 0-5 millj. kr. 7,00%
Íbúðasparnaður 7,75%
Verðtryggð íbúðalán
Breytilegir vextir Íbúðalán I 3,54%
Íbúðalán II 3,84%
Óverðtryggð íbúðalán
Breytilegir vextir Íbúðalán I 8,14%
Íbúðalán II 8,44%
Bílalán
Rafmagnsbílar < 50% lánshlutfall 8,65%
Yfirdráttarlán
Yfirdráttarlán einstaklinga 13,10%
Greiðsludreifing kreditkorta 15,75%
Dráttarvextir 14,50%`

func TestArionParse(t *testing.T) {
	a := NewArion(nil, zap.NewNop())
	rec := a.parse(arionFixture)

	d, ok := rec.Data.Get(model.KeyEffectiveDate).Date()
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2025, Month: 11, Day: 1}, d)

	v, ok := rec.Data.Get(model.KeyDeposits).Get(model.KeyCurrentAccounts).Get("veltureikningur").Rate()
	require.True(t, ok)
	assert.Equal(t, 0.25, v)

	savings := rec.Data.Get(model.KeyDeposits).Get(model.KeySavingsAccounts)
	fridindar := savings.Get("fridindareikningur")
	require.NotNil(t, fridindar)
	v, ok = fridindar.Get("tier_0_1m").Rate()
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
	v, ok = fridindar.Get("tier_1m_5m").Rate()
	require.True(t, ok)
	assert.Equal(t, 5.25, v)

	v, ok = savings.Get("voxtur_30").Get("tier_0_5m").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	v, ok = savings.Get(model.KeyOther).Get("ibudasparnadur").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.75, v)

	// The two mortgage tables reuse the same product names; each value must
	// come from its own regime's slice.
	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyIndexed).Get("breytilegir_ibudalan_i").Rate()
	require.True(t, ok)
	assert.Equal(t, 3.54, v)
	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyIndexed).Get("breytilegir_ibudalan_ii").Rate()
	require.True(t, ok)
	assert.Equal(t, 3.84, v)
	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyUnindexed).Get("breytilegir_ibudalan_i").Rate()
	require.True(t, ok)
	assert.Equal(t, 8.14, v)
	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyUnindexed).Get("breytilegir_ibudalan_ii").Rate()
	require.True(t, ok)
	assert.Equal(t, 8.44, v)

	v, ok = rec.Data.Get(model.KeyVehicleLoans).Get("rafbilar_ltv_under_50").Rate()
	require.True(t, ok)
	assert.Equal(t, 8.65, v)

	v, ok = rec.Data.Get(model.KeyOverdrafts).Get("yfirdrattarlan_einstaklinga").Rate()
	require.True(t, ok)
	assert.Equal(t, 13.1, v)

	v, ok = rec.Data.Get(model.KeyCreditCards).Get("greidsludreifing").Rate()
	require.True(t, ok)
	assert.Equal(t, 15.75, v)

	v, ok = rec.Data.Get(model.KeyPenaltyInterest).Rate()
	require.True(t, ok)
	assert.Equal(t, 14.5, v)
}

func TestArionParseWithoutMortgageSections(t *testing.T) {
	a := NewArion(nil, zap.NewNop())
	rec := a.parse("Veltureikningur 0,25%\nDráttarvextir 14,50%")

	// With neither mortgage boundary present the regime buckets stay empty
	// instead of being filled from ambiguous text.
	assert.True(t, rec.Data.Get(model.KeyMortgages).Get(model.KeyIndexed).IsEmptyMap())
	assert.True(t, rec.Data.Get(model.KeyMortgages).Get(model.KeyUnindexed).IsEmptyMap())
}

func TestArionAPIRecordRejectsNonRatePayloads(t *testing.T) {
	// An HTTP 200 with an error body must not pass as a scraped record, or the
	// run would carry an empty record with no raw text for the AI fallback.
	assert.Nil(t, recordFromAPI([]byte(`{"error": "service under maintenance"}`)))
	assert.Nil(t, recordFromAPI([]byte(`not json`)))
	assert.Nil(t, recordFromAPI([]byte(`{}`)))

	rec := recordFromAPI([]byte(`{"penalty_interest": 14.5}`))
	require.NotNil(t, rec)
	assert.Equal(t, ArionID, rec.BankID)
	v, ok := rec.Data.Get(model.KeyPenaltyInterest).Rate()
	require.True(t, ok)
	assert.Equal(t, 14.5, v)
}

func TestLinkCandidates(t *testing.T) {
	page := `<html><body>
<a href="javascript:void(0)" data-file="/library/vaxtatafla.pdf">Vaxtatafla einstaklinga</a>
<a href="/skjol/vextir.pdf">Vaxtatafla einstaklinga</a>
<a>engin slóð</a>
</body></html>`

	doc, err := htmlquery.Parse(strings.NewReader(page))
	require.NoError(t, err)
	links, err := htmlquery.QueryAll(doc, "//a")
	require.NoError(t, err)
	require.Len(t, links, 3)

	assert.Equal(t, []string{"/library/vaxtatafla.pdf"}, linkCandidates(links[0]),
		"javascript pseudo-links are skipped, file attributes kept")
	assert.Equal(t, []string{"/skjol/vextir.pdf"}, linkCandidates(links[1]))
	assert.Empty(t, linkCandidates(links[2]))
}
