// Package scraper implements the per-bank extraction pipelines: each bank is
// a BankScraper that turns a published rate document into a candidate
// canonical record, and Service reconciles candidates with the generative
// fallback before persisting.
package scraper

import (
	"context"
	"regexp"
	"sort"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/textparse"
)

// BankScraper is the shared capability of every bank implementation: fetch
// the source document and extract a candidate record from it. rawText is the
// normalized document text the AI fallback receives when the candidate is too
// incomplete; it is empty when the source had no usable flat text.
type BankScraper interface {
	BankName() string
	BankID() string
	Scrape(ctx context.Context) (rec *model.RateRecord, rawText string, sourceURL string, err error)
}

// setPath writes a node at a slash-free path of map keys under the record's
// rate tree, creating intermediate maps as needed. Nil nodes become explicit
// nulls so a missed field stays visible to the completeness evaluator.
func setPath(rec *model.RateRecord, path []string, node *model.Node) {
	cur := rec.Data
	for _, key := range path[:len(path)-1] {
		next := cur.Get(key)
		if next == nil || next.Kind() != model.KindMap {
			next = model.Map()
			cur.Set(key, next)
		}
		cur = next
	}
	cur.Set(path[len(path)-1], node)
}

// extractRate applies one field pattern; the first capture group is parsed as
// a percentage. A non-match is a null, never an error.
func extractRate(text string, re *regexp.Regexp) *model.Node {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return model.Null()
	}
	if v, ok := textparse.Percentage(m[1]); ok {
		return model.Rate(v)
	}
	return model.Null()
}

// extractRates returns every capture group of the first match parsed as a
// percentage, dropping groups that did not participate or failed to parse.
func extractRates(text string, re *regexp.Regexp) []float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []float64
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if v, ok := textparse.Percentage(g); ok {
			out = append(out, v)
		}
	}
	return out
}

// ratePair builds the canonical {indexed, unindexed} two-column mapping, or
// an empty map when the pattern missed.
func ratePair(text string, re *regexp.Regexp) *model.Node {
	rates := extractRates(text, re)
	out := model.Map()
	if len(rates) >= 2 {
		out.Set(model.KeyIndexed, model.Rate(rates[0]))
		out.Set(model.KeyUnindexed, model.Rate(rates[1]))
	}
	return out
}

// sectionDef names a document slice by its opening keyword pattern.
type sectionDef struct {
	name  string
	start *regexp.Regexp
}

// sliceSections cuts the flat text into named slices, each running from its
// boundary match to the next section's boundary. Applying field patterns only
// inside their slice keeps look-alike subsections (indexed vs unindexed
// mortgage tables with identical product names) from contaminating each
// other. Sections that never match are simply absent.
func sliceSections(text string, defs []sectionDef) map[string]string {
	type boundary struct {
		name  string
		index int
	}

	var bounds []boundary
	for _, def := range defs {
		loc := def.start.FindStringIndex(text)
		if loc == nil {
			continue
		}
		bounds = append(bounds, boundary{name: def.name, index: loc[0]})
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].index < bounds[j].index })

	out := make(map[string]string, len(bounds))
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].index
		}
		// First boundary wins when a keyword repeats later in the text.
		if _, ok := out[b.name]; !ok {
			out[b.name] = text[b.index:end]
		}
	}
	return out
}

// sectionText returns the named slice, falling back to the whole document
// when the boundary was never found.
func sectionText(sections map[string]string, name, whole string) string {
	if s, ok := sections[name]; ok {
		return s
	}
	return whole
}

// tierSpec labels one balance band of a tiered account ladder.
type tierSpec struct {
	pattern *regexp.Regexp
	key     string
}

// parseTieredAccount extracts a balance-tier rate ladder from the account's
// text slice. The arity of the numeric groups following a tier label decides
// the shape of the value: one rate is a scalar, two are an indexed/unindexed
// pair, three or more are an unbound/3-month/6-month tenor ladder.
func parseTieredAccount(section string, tiers []tierSpec) *model.Node {
	out := model.Map()
	for _, tier := range tiers {
		rates := extractRates(section, tier.pattern)
		switch {
		case len(rates) == 0:
			continue
		case len(rates) == 1:
			out.Set(tier.key, model.Rate(rates[0]))
		case len(rates) == 2:
			pair := model.Map()
			pair.Set(model.KeyIndexed, model.Rate(rates[0]))
			pair.Set(model.KeyUnindexed, model.Rate(rates[1]))
			out.Set(tier.key, pair)
		default:
			ladder := model.Map()
			ladder.Set("unbound", model.Rate(rates[0]))
			ladder.Set("3_months", model.Rate(rates[1]))
			ladder.Set("6_months", model.Rate(rates[2]))
			out.Set(tier.key, ladder)
		}
	}
	return out
}
