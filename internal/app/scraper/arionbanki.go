package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/fetch"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/pdftext"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/textparse"
)

const (
	ArionID   = "arionbanki"
	arionName = "Arion banki"
	arionURL  = "https://www.arionbanki.is/bankinn/fleira/vextir-og-verdskra/"
	arionAPI  = "https://www.arionbanki.is/api/interest-rates"
)

var _ BankScraper = &Arion{}

// Arion exposes an occasionally-available JSON feed; the scraper tries it
// first and falls back to the individual-rates PDF, which is sometimes linked
// directly and sometimes behind an intermediate detail page.
type Arion struct {
	client *fetch.Client
	logger *zap.Logger
}

func NewArion(client *fetch.Client, logger *zap.Logger) *Arion {
	return &Arion{client: client, logger: logger}
}

func (a *Arion) BankName() string { return arionName }
func (a *Arion) BankID() string   { return ArionID }

func (a *Arion) Scrape(ctx context.Context) (*model.RateRecord, string, string, error) {
	if rec := a.tryAPI(ctx); rec != nil {
		// The feed is already structured; there is no flat text to hand to
		// the AI fallback, and none is needed.
		return rec, "", arionAPI, nil
	}

	a.logger.Info("api unavailable, falling back to pdf scraping")

	pdfURL, err := a.findPDFURL(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("arionbanki: locate rate sheet: %w", err)
	}

	content, err := a.client.Get(ctx, pdfURL)
	if err != nil {
		return nil, "", "", fmt.Errorf("arionbanki: download rate sheet: %w", err)
	}

	text, err := pdftext.Extract(content)
	if err != nil {
		return nil, "", "", fmt.Errorf("arionbanki: extract text: %w", err)
	}

	rec := a.parse(text)
	return rec, text, pdfURL, nil
}

// tryAPI probes the JSON feed; any failure just means PDF fallback.
func (a *Arion) tryAPI(ctx context.Context) *model.RateRecord {
	body, err := a.client.Get(ctx, arionAPI)
	if err != nil {
		a.logger.Debug("interest rate api not reachable", zap.Error(err))
		return nil
	}

	rec := recordFromAPI(body)
	if rec == nil {
		a.logger.Debug("interest rate api payload carried no rate data")
		return nil
	}

	a.logger.Info("scraped rates from json api")
	return rec
}

// recordFromAPI decodes a feed payload into a canonical record. Any JSON
// object decodes structurally, so a payload that yields no populated rate
// leaf (an error body, an empty response) is rejected rather than passed on
// as a complete record.
func recordFromAPI(body []byte) *model.RateRecord {
	rec := &model.RateRecord{}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil
	}
	if !rec.HasData() {
		return nil
	}

	// Overlay onto the empty template so the fixed containers are present
	// even when the feed omits whole sections.
	merged := model.Merge(rec, model.NewEmptyRecord(arionName, ArionID))
	merged.BankName = arionName
	merged.BankID = ArionID
	return merged
}

// findPDFURL looks for the "Vaxtatafla einstaklinga" link on the pricing
// page. Links sometimes point at an intermediate page; those are followed one
// hop looking for the actual PDF.
func (a *Arion) findPDFURL(ctx context.Context) (string, error) {
	doc, err := a.client.GetHTML(ctx, arionURL)
	if err != nil {
		return "", err
	}

	elems, err := htmlquery.QueryAll(doc, "//a|//button")
	if err != nil {
		return "", fmt.Errorf("query links: %w", err)
	}

	for _, elem := range elems {
		text := strings.ToLower(textparse.CollapseWhitespace(htmlquery.InnerText(elem)))
		if !strings.Contains(text, "vaxtatafla") || !strings.Contains(text, "einstaklinga") {
			continue
		}

		for _, candidate := range linkCandidates(elem) {
			absolute := fetch.AbsoluteURL(arionURL, candidate)
			if absolute == "" {
				continue
			}
			if strings.HasSuffix(strings.ToLower(absolute), ".pdf") {
				a.logger.Debug("found direct pdf link", zap.String("url", absolute))
				return absolute, nil
			}
			if found := a.findPDFOnDetailPage(ctx, absolute); found != "" {
				return found, nil
			}
		}
	}

	return "", fmt.Errorf("no rate sheet link on %s", arionURL)
}

func (a *Arion) findPDFOnDetailPage(ctx context.Context, pageURL string) string {
	doc, err := a.client.GetHTML(ctx, pageURL)
	if err != nil {
		a.logger.Debug("detail page not reachable", zap.String("url", pageURL), zap.Error(err))
		return ""
	}

	elems, err := htmlquery.QueryAll(doc, "//a|//button")
	if err != nil {
		return ""
	}
	for _, elem := range elems {
		for _, candidate := range linkCandidates(elem) {
			absolute := fetch.AbsoluteURL(pageURL, candidate)
			if strings.HasSuffix(strings.ToLower(absolute), ".pdf") {
				a.logger.Debug("found pdf link on detail page", zap.String("url", absolute))
				return absolute
			}
		}
	}
	return ""
}

// linkCandidates collects the attributes banks hide file links in.
func linkCandidates(elem *html.Node) []string {
	var out []string
	for _, attr := range []string{"href", "data-file", "data-file-url", "data-url"} {
		v := strings.TrimSpace(htmlquery.SelectAttr(elem, attr))
		if v == "" || strings.HasPrefix(strings.ToLower(v), "javascript") {
			continue
		}
		out = append(out, v)
	}
	return out
}

var arionSections = []sectionDef{
	{"deposits", regexp.MustCompile(`(?i)Veltureikning`)},
	// [^ó] keeps the indexed boundary from matching inside "Óverðtryggð".
	{"mortgages_indexed", regexp.MustCompile(`(?i)(?:^|[^ó])Verðtryggð íbúðalán`)},
	{"mortgages_unindexed", regexp.MustCompile(`(?i)Óverðtryggð íbúðalán`)},
	{"vehicles", regexp.MustCompile(`(?i)Bílalán|Ökutækja`)},
	{"overdrafts", regexp.MustCompile(`(?i)Yfirdráttarlán`)},
}

var (
	arionFridindarTiers = []tierSpec{
		{regexp.MustCompile(`(?is)1\. þrep.*?0-1 millj.*?([\d,]+)%`), "tier_0_1m"},
		{regexp.MustCompile(`(?is)2\. þrep.*?1-5 millj.*?([\d,]+)%`), "tier_1m_5m"},
		{regexp.MustCompile(`(?is)3\. þrep.*?5-20 millj.*?([\d,]+)%`), "tier_5m_20m"},
		{regexp.MustCompile(`(?is)4\. þrep.*?20-100 millj.*?([\d,]+)%`), "tier_20m_100m"},
		{regexp.MustCompile(`(?is)5\. þrep.*?yfir 100 millj.*?([\d,]+)%`), "tier_100m_plus"},
	}

	arionVoxturTiers = []tierSpec{
		{regexp.MustCompile(`(?is)Vöxtur 30.*?0-5 millj.*?([\d,]+)%`), "tier_0_5m"},
		{regexp.MustCompile(`(?is)Vöxtur 30.*?5-20 millj.*?([\d,]+)%`), "tier_5m_20m"},
		{regexp.MustCompile(`(?is)Vöxtur 30.*?20-50 millj.*?([\d,]+)%`), "tier_20m_50m"},
		{regexp.MustCompile(`(?is)Vöxtur 30.*?>50 millj.*?([\d,]+)%`), "tier_50m_plus"},
	}

	arionMortgagesIndexed = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"breytilegir_ibudalan_i", regexp.MustCompile(`(?is)Breytilegir vextir.*?Íbúðalán I\b.*?([\d,]+)%`)},
		{"breytilegir_ibudalan_ii", regexp.MustCompile(`(?is)Íbúðalán II\b.*?([\d,]+)%`)},
		{"breytilegir_ibudalan_iii", regexp.MustCompile(`(?is)Íbúðalán III\b.*?([\d,]+)%`)},
		{"fastir_3_ar_ibudalan_i", regexp.MustCompile(`(?is)Fastir vextir í 3 ár.*?Íbúðalán I\b.*?([\d,]+)%`)},
		{"fastir_3_ar_ibudalan_ii", regexp.MustCompile(`(?is)Fastir vextir í 3 ár.*?Íbúðalán II\b.*?([\d,]+)%`)},
	}

	arionMortgagesUnindexed = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"breytilegir_ibudalan_i", regexp.MustCompile(`(?is)Breytilegir vextir.*?Íbúðalán I\b.*?([\d,]+)%`)},
		{"breytilegir_ibudalan_ii", regexp.MustCompile(`(?is)Íbúðalán II\b.*?([\d,]+)%`)},
	}

	arionVehicles = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"rafbilar_ltv_under_50", regexp.MustCompile(`(?is)Rafmagn.*?<\s*50%.*?([\d,]+)%`)},
		{"rafbilar_ltv_50_60", regexp.MustCompile(`(?is)Rafmagn.*?50%.*?-.*?60%.*?([\d,]+)%`)},
	}

	arionOverdrafts = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"yfirdrattarlan_einstaklinga", regexp.MustCompile(`(?is)Yfirdráttarlán einstaklinga.*?([\d,]+)%`)},
		{"framfaerslulan", regexp.MustCompile(`(?is)Framfærslulán.*?Menntasjóðs.*?([\d,]+)%`)},
	}

	arionIbudasparnadurRe = regexp.MustCompile(`(?is)Íbúðasparnaður.*?([\d,]+)%`)
	arionVelturRe         = regexp.MustCompile(`(?is)Veltureikningur.*?([\d,]+)%`)
	arionCreditCardsRe    = regexp.MustCompile(`(?is)Greiðsludreifing.*?kreditkorta.*?([\d,]+)%`)
	arionPenaltyRe        = regexp.MustCompile(`(?is)Dráttarvextir.*?([\d,]+)%`)
)

func (a *Arion) parse(text string) *model.RateRecord {
	rec := model.NewEmptyRecord(arionName, ArionID)
	sections := sliceSections(text, arionSections)

	if d, ok := textparse.ParseDate(text); ok {
		setPath(rec, []string{model.KeyEffectiveDate}, model.Date(d))
	}

	deposits := sectionText(sections, "deposits", text)
	setPath(rec, []string{model.KeyDeposits, model.KeyCurrentAccounts, "veltureikningur"},
		extractRate(deposits, arionVelturRe))
	if tiers := parseTieredAccount(deposits, arionFridindarTiers); tiers.Len() > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, "fridindareikningur"}, tiers)
	}
	if tiers := parseTieredAccount(deposits, arionVoxturTiers); tiers.Len() > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, "voxtur_30"}, tiers)
	}
	setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, model.KeyOther, "ibudasparnadur"},
		extractRate(deposits, arionIbudasparnadurRe))

	// The indexed and unindexed mortgage tables reuse identical product names
	// (Íbúðalán I/II/III), so the field patterns only ever run inside their
	// own slice; with no slice the fields stay null rather than guessing.
	if indexed, ok := sections["mortgages_indexed"]; ok {
		for _, f := range arionMortgagesIndexed {
			setPath(rec, []string{model.KeyMortgages, model.KeyIndexed, f.key}, extractRate(indexed, f.re))
		}
	}
	if unindexed, ok := sections["mortgages_unindexed"]; ok {
		for _, f := range arionMortgagesUnindexed {
			setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed, f.key}, extractRate(unindexed, f.re))
		}
	}

	vehicles := sectionText(sections, "vehicles", text)
	for _, f := range arionVehicles {
		setPath(rec, []string{model.KeyVehicleLoans, f.key}, extractRate(vehicles, f.re))
	}

	overdrafts := sectionText(sections, "overdrafts", text)
	for _, f := range arionOverdrafts {
		setPath(rec, []string{model.KeyOverdrafts, f.key}, extractRate(overdrafts, f.re))
	}

	setPath(rec, []string{model.KeyCreditCards, "greidsludreifing"}, extractRate(text, arionCreditCardsRe))
	setPath(rec, []string{model.KeyPenaltyInterest}, extractRate(text, arionPenaltyRe))

	return rec
}
