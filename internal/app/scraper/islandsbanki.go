package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/fetch"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/textparse"
)

const (
	IslandsbankiID   = "islandsbanki"
	islandsbankiName = "Íslandsbanki"
	islandsbankiURL  = "https://www.islandsbanki.is/is/grein/vaxtatafla"
)

var _ BankScraper = &Islandsbanki{}

// Islandsbanki publishes its rate table as plain HTML. Tables carry no ids,
// so each one is classified by the nearest preceding heading text matched
// against keyword groups.
type Islandsbanki struct {
	client *fetch.Client
	logger *zap.Logger
}

func NewIslandsbanki(client *fetch.Client, logger *zap.Logger) *Islandsbanki {
	return &Islandsbanki{client: client, logger: logger}
}

func (i *Islandsbanki) BankName() string { return islandsbankiName }
func (i *Islandsbanki) BankID() string   { return IslandsbankiID }

func (i *Islandsbanki) Scrape(ctx context.Context) (*model.RateRecord, string, string, error) {
	doc, err := i.client.GetHTML(ctx, islandsbankiURL)
	if err != nil {
		return nil, "", "", fmt.Errorf("islandsbanki: fetch rate page: %w", err)
	}

	rec := i.parse(doc)
	rawText := textparse.CollapseWhitespace(htmlquery.InnerText(doc))
	return rec, rawText, islandsbankiURL, nil
}

// keywordGroup classifies a heading: every pattern in the group must match.
type keywordGroup []*regexp.Regexp

func group(patterns ...string) keywordGroup {
	out := make(keywordGroup, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// classDef is one classification target with its alternative keyword groups,
// tried in order; the first class whose group matches claims the table.
type classDef struct {
	name   string
	groups []keywordGroup
}

var islandsbankiClasses = []classDef{
	// "óverðtryggð" contains "verðtrygg", so the indexed groups anchor on a
	// preceding non-ó character to stay out of the negated form.
	{"current", []keywordGroup{group(`veltureik`)}},
	{"spar_unindexed", []keywordGroup{group(`sparireik`, `óverðtrygg`)}},
	{"spar_indexed", []keywordGroup{group(`sparireik`, `(?:^|[^ó])verðtrygg`)}},
	{"spar_general", []keywordGroup{group(`sparireik`)}},
	{"foreign_currency", []keywordGroup{group(`gjaldmiðl`), group(`gjaldeyr`)}},
	{"mortgages_unindexed", []keywordGroup{group(`íbúðalán`, `óverðtrygg`), group(`óverðtrygg`, `fasteignalán`)}},
	{"mortgages_indexed", []keywordGroup{group(`íbúðalán`, `(?:^|[^ó])verðtrygg`), group(`(?:^|[^ó])verðtrygg`, `fasteignalán`)}},
	{"mortgages_generic", []keywordGroup{group(`íbúðalán`)}},
	{"overdrafts", []keywordGroup{group(`yfirdrátt`)}},
	{"credit_cards", []keywordGroup{group(`kort`), group(`kredit`)}},
	{"vehicle_loans", []keywordGroup{group(`ökutæki`), group(`bíla`), group(`bifreið`)}},
}

func (i *Islandsbanki) parse(doc *html.Node) *model.RateRecord {
	rec := model.NewEmptyRecord(islandsbankiName, IslandsbankiID)

	if d, ok := i.parseEffectiveDate(doc); ok {
		setPath(rec, []string{model.KeyEffectiveDate}, d)
	}

	grouped := i.classifyTables(doc)

	if tables := grouped["current"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeyCurrentAccounts}, mergeTables(tables))
	}
	if tables := grouped["spar_indexed"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, model.KeyIndexed}, mergeTables(tables))
	}
	if tables := grouped["spar_unindexed"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, model.KeyUnindexed}, mergeTables(tables))
	}
	// The generic savings bucket only fills in when no regime-specific table
	// was found, mirroring how the site alternates between layouts.
	if tables := grouped["spar_general"]; len(tables) > 0 &&
		len(grouped["spar_indexed"]) == 0 && len(grouped["spar_unindexed"]) == 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeySavingsAccounts, model.KeyOther}, mergeTables(tables))
	}
	if tables := grouped["foreign_currency"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyDeposits, model.KeyForeignCurrency}, mergeTables(tables))
	}

	if tables := grouped["mortgages_indexed"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyMortgages, model.KeyIndexed}, mergeTables(tables))
	}
	if tables := grouped["mortgages_unindexed"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed}, mergeTables(tables))
	}
	if tables := grouped["mortgages_generic"]; len(tables) > 0 && len(grouped["mortgages_indexed"]) == 0 {
		setPath(rec, []string{model.KeyMortgages, model.KeyUnindexed}, mergeTables(tables))
	}

	if tables := grouped["overdrafts"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyOverdrafts}, mergeTables(tables))
	}
	if tables := grouped["credit_cards"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyCreditCards}, mergeTables(tables))
	}
	if tables := grouped["vehicle_loans"]; len(tables) > 0 {
		setPath(rec, []string{model.KeyVehicleLoans}, mergeTables(tables))
	}

	setPath(rec, []string{model.KeyPenaltyInterest}, i.parsePenaltyInterest(doc))

	return rec
}

// classifyTables assigns every table on the page to the first class whose
// keyword group fully matches the table's heading.
func (i *Islandsbanki) classifyTables(doc *html.Node) map[string][]*html.Node {
	grouped := map[string][]*html.Node{}

	tables, err := htmlquery.QueryAll(doc, "//table")
	if err != nil {
		i.logger.Warn("table query failed", zap.Error(err))
		return grouped
	}

	for _, table := range tables {
		heading := strings.ToLower(tableHeading(table))
		if heading == "" {
			continue
		}

	classes:
		for _, class := range islandsbankiClasses {
			for _, g := range class.groups {
				if matchesAll(heading, g) {
					grouped[class.name] = append(grouped[class.name], table)
					break classes
				}
			}
		}
	}

	i.logger.Debug("classified rate tables", zap.Int("tables", len(tables)), zap.Int("classes", len(grouped)))
	return grouped
}

func matchesAll(heading string, g keywordGroup) bool {
	for _, re := range g {
		if !re.MatchString(heading) {
			return false
		}
	}
	return true
}

// headingPriority orders the tags considered when hunting for a table's
// heading: real headings first, emphasized or generic text only as a resort.
var headingPriority = [][]string{
	{"h2", "h3", "h4", "h5"},
	{"strong", "p", "span", "button"},
}

// tableHeading walks backwards through the document from the table and
// returns the first plausible heading text, trying higher-priority tags over
// the whole preceding document before falling back to lesser ones.
func tableHeading(table *html.Node) string {
	for _, tags := range headingPriority {
		for node := previousNode(table); node != nil; node = previousNode(node) {
			if node.Type != html.ElementNode || !containsTag(tags, node.Data) {
				continue
			}
			text := textparse.CollapseWhitespace(htmlquery.InnerText(node))
			if n := len([]rune(text)); n >= 2 && n <= 150 {
				return text
			}
		}
	}
	return ""
}

// previousNode steps to the previous node in document order: the deepest
// last descendant of the previous sibling, else the parent.
func previousNode(n *html.Node) *html.Node {
	if n.PrevSibling != nil {
		n = n.PrevSibling
		for n.LastChild != nil {
			n = n.LastChild
		}
		return n
	}
	return n.Parent
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// mergeTables combines the parsed rows of several tables classified to one
// sub-section; the first table to produce a key wins, supporting pages that
// split one logical account group across multiple DOM tables.
func mergeTables(tables []*html.Node) *model.Node {
	out := model.Map()
	for _, table := range tables {
		parsed := parseTableRows(table)
		for _, key := range parsed.Keys() {
			if out.Get(key) == nil {
				out.Set(key, parsed.Get(key))
			}
		}
	}
	return out
}

// parseTableRows turns an interest table into a mapping of normalized account
// keys to rates. A row with one numeric cell becomes a scalar, several
// numeric cells become a rate ladder. Colliding keys within one table get
// numeric suffixes instead of overwriting.
func parseTableRows(table *html.Node) *model.Node {
	out := model.Map()

	rows, err := htmlquery.QueryAll(table, "//tr")
	if err != nil {
		return out
	}

	for _, row := range rows {
		cells, err := htmlquery.QueryAll(row, "./td|./th")
		if err != nil || len(cells) < 2 {
			continue
		}

		name := textparse.CollapseWhitespace(htmlquery.InnerText(cells[0]))
		if name == "" {
			continue
		}

		var rates []float64
		for _, cell := range cells[1:] {
			if v, ok := textparse.Percentage(htmlquery.InnerText(cell)); ok {
				rates = append(rates, v)
			}
		}
		if len(rates) == 0 {
			continue
		}

		key := textparse.NormalizeKey(name)
		if key == "" {
			continue
		}
		key = textparse.UniqueKey(key, func(k string) bool { return out.Get(k) != nil })

		if len(rates) == 1 {
			out.Set(key, model.Rate(rates[0]))
		} else {
			out.Set(key, model.Ladder(rates...))
		}
	}

	return out
}

var islandsbankiDateAnchorRe = regexp.MustCompile(`(?i)(?:gildir|tekur\s+gildi)\s+(?:frá\s+)?(\d{1,2}\.\s*[\p{L}]+\s+\d{4})`)

// parseEffectiveDate prefers a date anchored to "gildir" / "tekur gildi"
// wording, falling back to the first valid date anywhere on the page.
func (i *Islandsbanki) parseEffectiveDate(doc *html.Node) (*model.Node, bool) {
	text := textparse.CollapseWhitespace(htmlquery.InnerText(doc))

	if m := islandsbankiDateAnchorRe.FindStringSubmatch(text); m != nil {
		if d, ok := textparse.ParseDate(m[1]); ok {
			return model.Date(d), true
		}
	}
	if d, ok := textparse.ParseDate(text); ok {
		return model.Date(d), true
	}
	return nil, false
}

var islandsbankiPenaltyTextRe = regexp.MustCompile(`(?i)dráttarvextir[^0-9]*(\d+[.,]\d+)\s*%`)

// parsePenaltyInterest looks for the dráttarvextir row first, then falls back
// to a free-text scan of the whole page.
func (i *Islandsbanki) parsePenaltyInterest(doc *html.Node) *model.Node {
	rows, err := htmlquery.QueryAll(doc, "//tr[td[contains(., 'Dráttarvextir')] or th[contains(., 'Dráttarvextir')]]")
	if err == nil {
		for _, row := range rows {
			cells, err := htmlquery.QueryAll(row, "./td|./th")
			if err != nil {
				continue
			}
			for j := len(cells) - 1; j >= 0; j-- {
				if v, ok := textparse.Percentage(htmlquery.InnerText(cells[j])); ok {
					return model.Rate(v)
				}
			}
		}
	}

	text := textparse.CollapseWhitespace(htmlquery.InnerText(doc))
	if m := islandsbankiPenaltyTextRe.FindStringSubmatch(text); m != nil {
		if v, ok := textparse.Percentage(m[1]); ok {
			return model.Rate(v)
		}
	}
	return model.Null()
}
