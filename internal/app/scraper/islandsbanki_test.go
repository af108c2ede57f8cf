package scraper

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

const islandsbankiFixture = `<html><body>
<p>Vaxtataflan tekur gildi 1. nóvember 2025</p>
<h3>Veltureikningar</h3>
<table>
  <tr><th>Reikningur</th><th>Vextir</th></tr>
  <tr><td>Almennur veltureikningur</td><td>0,25%</td></tr>
</table>
<h3>Óverðtryggðir sparireikningar</h3>
<table>
  <tr><td>Vaxtaþrep</td><td>7,50%</td></tr>
  <tr><td>Vaxtaþrep</td><td>7,75%</td></tr>
</table>
<h3>Verðtryggðir sparireikningar</h3>
<table>
  <tr><td>Framtíðarreikningur</td><td>1,20%</td></tr>
</table>
<h3>Óverðtryggð íbúðalán</h3>
<table>
  <tr><td>Fastir vextir 3 ár</td><td>7,90%</td></tr>
</table>
<h3>Verðtryggð íbúðalán</h3>
<table>
  <tr><td>Breytilegir vextir</td><td>3,60%</td></tr>
</table>
<h3>Yfirdráttarlán</h3>
<table>
  <tr><td>Yfirdráttur einstaklinga</td><td>13,50%</td></tr>
</table>
<table>
  <tr><td>Dráttarvextir</td><td>15,25%</td></tr>
</table>
</body></html>`

func parseFixture(t *testing.T, page string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestIslandsbankiParse(t *testing.T) {
	i := NewIslandsbanki(nil, zap.NewNop())
	rec := i.parse(parseFixture(t, islandsbankiFixture))

	d, ok := rec.Data.Get(model.KeyEffectiveDate).Date()
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2025, Month: 11, Day: 1}, d)

	v, ok := rec.Data.Get(model.KeyPenaltyInterest).Rate()
	require.True(t, ok)
	assert.Equal(t, 15.25, v)

	current := rec.Data.Get(model.KeyDeposits).Get(model.KeyCurrentAccounts)
	v, ok = current.Get("almennur_veltureikningur").Rate()
	require.True(t, ok)
	assert.Equal(t, 0.25, v)

	savings := rec.Data.Get(model.KeyDeposits).Get(model.KeySavingsAccounts)

	// Identical row names collide into suffixed keys instead of overwriting.
	unindexed := savings.Get(model.KeyUnindexed)
	require.NotNil(t, unindexed)
	v, ok = unindexed.Get("vaxtathrep").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.5, v)
	v, ok = unindexed.Get("vaxtathrep_2").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.75, v)

	// "óverðtryggðir" contains "verðtrygg" as a substring; the indexed bucket
	// must only receive the genuinely indexed table.
	indexed := savings.Get(model.KeyIndexed)
	require.NotNil(t, indexed)
	assert.Nil(t, indexed.Get("vaxtathrep"))
	v, ok = indexed.Get("framtidarreikningur").Rate()
	require.True(t, ok)
	assert.Equal(t, 1.2, v)

	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyUnindexed).Get("fastir_vextir_3_ar").Rate()
	require.True(t, ok)
	assert.Equal(t, 7.9, v)
	v, ok = rec.Data.Get(model.KeyMortgages).Get(model.KeyIndexed).Get("breytilegir_vextir").Rate()
	require.True(t, ok)
	assert.Equal(t, 3.6, v)

	v, ok = rec.Data.Get(model.KeyOverdrafts).Get("yfirdrattur_einstaklinga").Rate()
	require.True(t, ok)
	assert.Equal(t, 13.5, v)
}

func TestIslandsbankiHeadingFallsBackToEmphasizedText(t *testing.T) {
	page := `<html><body>
<strong>Sparireikningar</strong>
<table><tr><td>Almennur sparireikningur</td><td>5,00%</td></tr></table>
</body></html>`

	i := NewIslandsbanki(nil, zap.NewNop())
	rec := i.parse(parseFixture(t, page))

	// No regime keyword in the heading, so the table lands in the general
	// savings bucket.
	other := rec.Data.Get(model.KeyDeposits).Get(model.KeySavingsAccounts).Get(model.KeyOther)
	require.NotNil(t, other)
	v, ok := other.Get("almennur_sparireikningur").Rate()
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestIslandsbankiGenericMortgageFallback(t *testing.T) {
	page := `<html><body>
<h3>Íbúðalán</h3>
<table><tr><td>Grunnvextir</td><td>8,10%</td></tr></table>
</body></html>`

	i := NewIslandsbanki(nil, zap.NewNop())
	rec := i.parse(parseFixture(t, page))

	v, ok := rec.Data.Get(model.KeyMortgages).Get(model.KeyUnindexed).Get("grunnvextir").Rate()
	require.True(t, ok)
	assert.Equal(t, 8.1, v)
}

func TestIslandsbankiEffectiveDateNotInventedWhenAbsent(t *testing.T) {
	page := `<html><body><h3>Veltureikningar</h3>
<table><tr><td>Reikningur</td><td>0,25%</td></tr></table>
</body></html>`

	i := NewIslandsbanki(nil, zap.NewNop())
	rec := i.parse(parseFixture(t, page))

	assert.True(t, rec.Data.Get(model.KeyEffectiveDate).IsNull())
}

func TestIslandsbankiTableWithoutHeadingIsIgnored(t *testing.T) {
	page := `<html><body>
<table><tr><td>Ónefnd tafla</td><td>9,99%</td></tr></table>
</body></html>`

	i := NewIslandsbanki(nil, zap.NewNop())
	rec := i.parse(parseFixture(t, page))

	// An unclassifiable table contributes nothing; the record stays at the
	// template's completeness.
	assert.Equal(t, 2, model.CountMissing(rec))
}

func TestTableHeadingPrefersRealHeadings(t *testing.T) {
	page := `<html><body>
<h3>Yfirdráttarlán</h3>
<p>skýringartexti um vexti</p>
<table><tr><td>Yfirdráttur</td><td>13,50%</td></tr></table>
</body></html>`

	doc := parseFixture(t, page)
	table, err := htmlquery.Query(doc, "//table")
	require.NoError(t, err)
	require.NotNil(t, table)

	assert.Equal(t, "Yfirdráttarlán", tableHeading(table))
}

func TestParseTableRowsLadder(t *testing.T) {
	page := `<html><body><table>
<tr><td>Gjaldeyrisreikningur EUR</td><td>0,10%</td><td>0,20%</td><td>0,30%</td></tr>
</table></body></html>`

	doc := parseFixture(t, page)
	table, err := htmlquery.Query(doc, "//table")
	require.NoError(t, err)

	out := parseTableRows(table)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, out.Get("gjaldeyrisreikningur_eur").Ladder())
}
