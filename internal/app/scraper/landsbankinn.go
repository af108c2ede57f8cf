package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/fetch"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/pdftext"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/textparse"
)

const (
	LandsbankinnID   = "landsbankinn"
	landsbankinnName = "Landsbankinn"
	landsbankinnURL  = "https://www.landsbankinn.is/vextir-og-verdskra"
)

var _ BankScraper = &Landsbankinn{}

// Landsbankinn publishes one consolidated rate sheet as a PDF linked from its
// pricing page. The extractor slices the sheet text into sections and applies
// an ordered table of field patterns inside each slice.
type Landsbankinn struct {
	client *fetch.Client
	logger *zap.Logger
}

func NewLandsbankinn(client *fetch.Client, logger *zap.Logger) *Landsbankinn {
	return &Landsbankinn{client: client, logger: logger}
}

func (l *Landsbankinn) BankName() string { return landsbankinnName }
func (l *Landsbankinn) BankID() string   { return LandsbankinnID }

func (l *Landsbankinn) Scrape(ctx context.Context) (*model.RateRecord, string, string, error) {
	pdfURL, err := l.findPDFURL(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("landsbankinn: locate rate sheet: %w", err)
	}

	content, err := l.client.Get(ctx, pdfURL)
	if err != nil {
		return nil, "", "", fmt.Errorf("landsbankinn: download rate sheet: %w", err)
	}

	text, err := pdftext.Extract(content)
	if err != nil {
		return nil, "", "", fmt.Errorf("landsbankinn: extract text: %w", err)
	}
	l.logger.Debug("extracted rate sheet text", zap.Int("chars", len(text)))

	rec := l.parse(text)
	return rec, text, pdfURL, nil
}

// findPDFURL locates the current rate-sheet link on the pricing page.
func (l *Landsbankinn) findPDFURL(ctx context.Context) (string, error) {
	doc, err := l.client.GetHTML(ctx, landsbankinnURL)
	if err != nil {
		return "", err
	}

	links, err := htmlquery.QueryAll(doc, "//a[@href]")
	if err != nil {
		return "", fmt.Errorf("query links: %w", err)
	}
	for _, link := range links {
		href := htmlquery.SelectAttr(link, "href")
		lower := strings.ToLower(href)
		if strings.HasSuffix(lower, ".pdf") && strings.Contains(lower, "vaxta") {
			return fetch.AbsoluteURL(landsbankinnURL, href), nil
		}
	}
	return "", fmt.Errorf("no rate sheet link on %s", landsbankinnURL)
}

// Section boundaries of the Landsbankinn sheet, in the order they appear.
var landsbankinnSections = []sectionDef{
	{"current", regexp.MustCompile(`(?i)Veltureikningar`)},
	{"savings", regexp.MustCompile(`(?i)Sparireikningar`)},
	{"fx", regexp.MustCompile(`(?i)Innstæður í erlend`)},
	{"mortgages", regexp.MustCompile(`(?i)Íbúðalán`)},
	{"vehicles", regexp.MustCompile(`(?i)Ökutækja`)},
	{"overdrafts", regexp.MustCompile(`(?i)Yfirdráttarlán`)},
	{"cards", regexp.MustCompile(`(?i)Greiðsludreifing`)},
}

var (
	lbCurrentAccounts = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"almennir_veltureikningar", regexp.MustCompile(`(?i)Almennir veltureikningar fyrirtækja\s+([\d,]+)%`)},
		{"einkareikningar", regexp.MustCompile(`(?i)Einkareikningar\s+([\d,]+)%`)},
		{"namu_og_klassareikningar", regexp.MustCompile(`(?i)Námu- og Klassareikningar\s+([\d,]+)%`)},
	}

	lbVorduTiers = []tierSpec{
		{regexp.MustCompile(`(?i)1\. þrep 0-250\.000 kr\.\s+([\d,]+)%`), "tier_1"},
		{regexp.MustCompile(`(?i)2\. þrep frá 250\.000 kr\.\s+([\d,]+)%`), "tier_2"},
	}

	lbSavingsScalar = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"kjorbok", regexp.MustCompile(`(?is)Kjörbók.*?\n.*?([\d,]+)%`)},
		{"sparireikningur_3", regexp.MustCompile(`(?i)Sparireikningur 3, 3ja mánaða binding\s+([\d,]+)%`)},
		{"sparireikningur_12", regexp.MustCompile(`(?i)Sparireikningur 12, 12 mánaða binding\s+([\d,]+)%`)},
		{"sparireikningur_24", regexp.MustCompile(`(?i)Sparireikningur 24, 24 mánaða binding\s+([\d,]+)%`)},
		{"landsbok", regexp.MustCompile(`(?is)Landsbók.*?11 mánaða binding.*?\n.*?([\d,]+)%`)},
		{"orlofsreikningar", regexp.MustCompile(`(?is)Orlofsreikningar.*?\n.*?([\d,]+)%`)},
	}

	lbFixedTermAccounts = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"3_months", regexp.MustCompile(`(?i)Fastvaxtareikningur - 3ja mánaða binding\s+([\d,]+)%`)},
		{"6_months", regexp.MustCompile(`(?i)Fastvaxtareikningur - 6 mánaða binding\s+([\d,]+)%`)},
		{"12_months", regexp.MustCompile(`(?i)Fastvaxtareikningur - 12 mánaða binding\s+([\d,]+)%`)},
		{"24_months", regexp.MustCompile(`(?i)Fastvaxtareikningur - 24 mánaða binding\s+([\d,]+)%`)},
	}

	// Accounts quoted with an indexed and an unindexed column.
	lbTwoColumnSavings = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"framtidargrunnur", regexp.MustCompile(`(?is)Framtíðargrunnur.*?\s+([\d,]+)%\s+([\d,]+)%`)},
		{"fasteignagrunnur", regexp.MustCompile(`(?is)Fasteignagrunnur.*?\s+([\d,]+)%\s+([\d,]+)%`)},
		{"lifeyrisbok", regexp.MustCompile(`(?is)Lífeyrisbók.*?\s+([\d,]+)%\s+([\d,]+)%`)},
	}

	// Balance-tier ladders shared by the Vaxtareikningur family.
	lbBalanceTiers = []tierSpec{
		{regexp.MustCompile(`(?i)0-999\.999 kr\.\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_0_1m"},
		{regexp.MustCompile(`(?i)1\.000\.000-4\.999\.999 kr\.\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_1m_5m"},
		{regexp.MustCompile(`(?i)5\.000\.000-19\.999\.999 kr\.\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_5m_20m"},
		{regexp.MustCompile(`(?i)20\.000\.000 kr\. og hærri\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_20m_plus"},
		{regexp.MustCompile(`(?i)0-20\.000\.000 kr\.\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_0_20m"},
		{regexp.MustCompile(`(?i)60\.000\.000 kr\. og hærri\s*\*?\s+([\d,]+)%(?:\s+([\d,]+)%)?(?:\s+([\d,]+)%)?`), "tier_60m_plus"},
	}

	lbTieredSavings = []struct {
		key   string
		label *regexp.Regexp
	}{
		{"vaxtareikningur", regexp.MustCompile(`(?i)Vaxtareikningur/Vaxtareikningur Sjálfbær`)},
		{"vaxtareikningur_vardan_60", regexp.MustCompile(`(?i)Vaxtareikningur Varðan 60`)},
		{"vaxtareikningur_30", regexp.MustCompile(`(?i)Vaxtareikningur 30`)},
	}

	lbMarkmidRe = regexp.MustCompile(`(?is)Markmið - Sparað í appi.*?\n.*?([\d,]+)%\s+([\d,]+)%`)

	lbCurrencies = []string{"USD", "GBP", "CAD", "DKK", "NOK", "SEK", "CHF", "JPY", "EUR", "PLN"}

	// LTV bands quoted as 1/3/5-year fixed-rate triples.
	lbMortgageBands = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"allt_ad_55_vedsetning", regexp.MustCompile(`(?i)Íbúðalán, allt að 55% veðsetning\s+([\d,]+)%\s+([\d,]+)%\s+([\d,]+)%`)},
		{"allt_ad_65_vedsetning", regexp.MustCompile(`(?i)Íbúðalán, allt að 65% veðsetning\s+([\d,]+)%\s+([\d,]+)%\s+([\d,]+)%`)},
		{"allt_ad_75_vedsetning", regexp.MustCompile(`(?i)Íbúðalán, allt að 75% veðsetning\s+([\d,]+)%\s+([\d,]+)%\s+([\d,]+)%`)},
		{"allt_ad_80_85_vedsetning", regexp.MustCompile(`(?is)Íbúðalán, allt að 80/85% veðsetning.*?\s+([\d,]+)%\s+([\d,]+)%\s+([\d,]+)%`)},
	}

	lbMortgageVariableRe = regexp.MustCompile(`(?is)Íbúðalán, allt að 85% veðsetning.*?Breytilegir.*?\s+([\d,]+)%\s+([\d,]+)%`)

	lbMortgageOldUnindexed = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"grunnlan_allt_ad_70", regexp.MustCompile(`(?is)Grunnlán allt að 70% veðsetning.*?\s+([\d,]+)%`)},
		{"vidbotarlan_70_80_85", regexp.MustCompile(`(?is)Viðbótarlán\. 70-80/85%.*?\s+([\d,]+)%`)},
	}

	lbMortgageIndexed = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"allt_ad_75_vedsetning", regexp.MustCompile(`(?i)Verðtryggð íbúðalán, allt að 75% veðsetning\s+([\d,]+)%`)},
		{"allt_ad_85_vedsetning", regexp.MustCompile(`(?is)Verðtryggð íbúðalán, allt að 85% veðsetning.*?\s+([\d,]+)%`)},
		{"grunnlan_allt_ad_70", regexp.MustCompile(`(?is)Verðtryggð grunnlán, allt að 70% veðsetning.*?\s+([\d,]+)%`)},
		{"vidbotarlan_70_80_85", regexp.MustCompile(`(?is)Verðtryggð viðbótarlán\. 70-80/85%.*?\s+([\d,]+)%`)},
	}

	// Vehicle financing bands carry an electric and a combustion column.
	lbVehicleBands = []struct {
		electricKey string
		otherKey    string
		re          *regexp.Regexp
	}{
		{"rafbilar_ltv_under_51", "adrir_ltv_under_51", regexp.MustCompile(`(?i)Lánshlutfall <51%\s+([\d,]+)%\s+([\d,]+)%`)},
		{"rafbilar_ltv_51_69", "adrir_ltv_51_69", regexp.MustCompile(`(?i)Lánshlutfall 51-69,9%\s+([\d,]+)%\s+([\d,]+)%`)},
		{"rafbilar_ltv_70_80", "adrir_ltv_70_80", regexp.MustCompile(`(?i)Lánshlutfall 70-80%\s+([\d,]+)%\s+([\d,]+)%`)},
	}

	lbOverdrafts = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"fyrirtaekja", regexp.MustCompile(`(?i)Yfirdráttarlán og reikningslán fyrirtækja\s+([\d,]+)%`)},
		{"einstaklinga", regexp.MustCompile(`(?is)Yfirdráttarlán einstaklinga.*?Einkareikningar.*?\s+([\d,]+)%`)},
		{"vordufelaga_haestu", regexp.MustCompile(`(?i)Yfirdráttarlán Vörðufélaga, hæstu vextir\s+([\d,]+)%`)},
		{"vordufelaga_laegstu", regexp.MustCompile(`(?i)Yfirdráttarlán Vörðufélaga, lægstu vextir\s+([\d,]+)%`)},
		{"naman_menntasjodur", regexp.MustCompile(`(?i)Náman vegna Menntasjóðs námsmanna\s+([\d,]+)%`)},
		{"naman_almennir", regexp.MustCompile(`(?i)Náman almennir reikningar\s+([\d,]+)%`)},
	}

	lbCreditCardsRe = regexp.MustCompile(`(?is)Greiðsludreifing kreditkorta.*?\s+([\d,]+)%`)
	lbPenaltyRe     = regexp.MustCompile(`(?is)Dráttarvextir.*?\s+([\d,]+)%`)
)

// parse applies the field-pattern tables to the sheet text and assembles the
// candidate record on top of the canonical empty template.
func (l *Landsbankinn) parse(text string) *model.RateRecord {
	rec := model.NewEmptyRecord(landsbankinnName, LandsbankinnID)
	sections := sliceSections(text, landsbankinnSections)

	if d, ok := textparse.ParseDate(text); ok {
		setPath(rec, []string{model.KeyEffectiveDate}, model.Date(d))
	}

	current := sectionText(sections, "current", text)
	for _, f := range lbCurrentAccounts {
		setPath(rec, []string{model.KeyDeposits, model.KeyCurrentAccounts, f.key}, extractRate(current, f.re))
	}
	if vordu := parseTieredAccount(current, lbVorduTiers); vordu.Len() > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeyCurrentAccounts, "vordureikningar"}, vordu)
	}

	savings := sectionText(sections, "savings", text)
	for _, f := range lbSavingsScalar {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, model.KeyOther, f.key}, extractRate(savings, f.re))
	}
	if rates := extractRates(savings, lbMarkmidRe); len(rates) >= 2 {
		markmid := model.Map()
		markmid.Set(model.KeyUnindexed, model.Rate(rates[0]))
		markmid.Set(model.KeyIndexed, model.Rate(rates[1]))
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, "markmid_sparad_i_appi"}, markmid)
	}
	for i, acct := range lbTieredSavings {
		slice := accountSlice(savings, i)
		if slice == "" {
			continue
		}
		if tiers := parseTieredAccount(slice, lbBalanceTiers); tiers.Len() > 0 {
			setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, acct.key}, tiers)
		}
	}
	fixed := model.Map()
	for _, f := range lbFixedTermAccounts {
		fixed.Set(f.key, extractRate(savings, f.re))
	}
	setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, "fastvaxtareikningar"}, fixed)
	for _, f := range lbTwoColumnSavings {
		if rates := extractRates(savings, f.re); len(rates) >= 2 {
			pair := model.Map()
			pair.Set(model.KeyIndexed, model.Rate(rates[0]))
			pair.Set(model.KeyUnindexed, model.Rate(rates[1]))
			setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, f.key}, pair)
		}
	}

	fx := sectionText(sections, "fx", text)
	for _, ccy := range lbCurrencies {
		re := regexp.MustCompile(`(?i)Innstæður í ` + ccy + `\s+([\d,]+)%\s+([\d,]+)%\s+([\d,]+)%`)
		if rates := extractRates(fx, re); len(rates) >= 3 {
			tenors := model.Map()
			tenors.Set("unbound", model.Rate(rates[0]))
			tenors.Set("3_months", model.Rate(rates[1]))
			tenors.Set("6_months", model.Rate(rates[2]))
			setPath(rec, []string{model.KeyDeposits, model.KeyForeignCurrency, ccy}, tenors)
		}
	}

	mortgages := sectionText(sections, "mortgages", text)
	for _, band := range lbMortgageBands {
		if rates := extractRates(mortgages, band.re); len(rates) >= 3 {
			terms := model.Map()
			terms.Set("1_year", model.Rate(rates[0]))
			terms.Set("3_year", model.Rate(rates[1]))
			terms.Set("5_year", model.Rate(rates[2]))
			setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed, band.key}, terms)
		}
	}
	if rates := extractRates(mortgages, lbMortgageVariableRe); len(rates) >= 2 {
		variable := model.Map()
		variable.Set("fixed_premium", model.Rate(rates[0]))
		variable.Set("total_rate", model.Rate(rates[1]))
		setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed, "breytilegir_allt_ad_85"}, variable)
	}
	for _, f := range lbMortgageOldUnindexed {
		setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed, f.key}, extractRate(mortgages, f.re))
	}
	for _, f := range lbMortgageIndexed {
		setPath(rec, []string{model.KeyMortgages, model.KeyIndexed, f.key}, extractRate(mortgages, f.re))
	}

	vehicles := sectionText(sections, "vehicles", text)
	for _, band := range lbVehicleBands {
		if rates := extractRates(vehicles, band.re); len(rates) >= 2 {
			setPath(rec, []string{model.KeyVehicleLoans, band.electricKey}, model.Rate(rates[0]))
			setPath(rec, []string{model.KeyVehicleLoans, band.otherKey}, model.Rate(rates[1]))
		}
	}

	overdrafts := sectionText(sections, "overdrafts", text)
	for _, f := range lbOverdrafts {
		setPath(rec, []string{model.KeyOverdrafts, f.key}, extractRate(overdrafts, f.re))
	}

	cards := sectionText(sections, "cards", text)
	setPath(rec, []string{model.KeyCreditCards, "greidsludreifing"}, extractRate(cards, lbCreditCardsRe))

	setPath(rec, []string{model.KeyPenaltyInterest}, extractRate(text, lbPenaltyRe))

	return rec
}

// accountSlice cuts the savings text from one tiered-account label to the
// nearest following label of the same family, so each ladder's tier patterns
// only see their own rows. The family shares identical tier labels, which is
// exactly the cross-contamination the slicing guards against.
func accountSlice(text string, idx int) string {
	loc := lbTieredSavings[idx].label.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]

	end := len(rest)
	for j, other := range lbTieredSavings {
		if j == idx {
			continue
		}
		if oloc := other.label.FindStringIndex(rest); oloc != nil && oloc[0] < end {
			end = oloc[0]
		}
	}
	return rest[:end]
}
