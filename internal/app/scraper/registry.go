package scraper

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/fetch"
)

// Constructor builds one bank's scraper.
type Constructor func(client *fetch.Client, logger *zap.Logger) BankScraper

// registry is the explicit registration table of supported banks, built at
// startup. Adding a bank means adding an entry here.
var registry = map[string]Constructor{
	LandsbankinnID: func(c *fetch.Client, l *zap.Logger) BankScraper { return NewLandsbankinn(c, l) },
	ArionID:        func(c *fetch.Client, l *zap.Logger) BankScraper { return NewArion(c, l) },
	IslandsbankiID: func(c *fetch.Client, l *zap.Logger) BankScraper { return NewIslandsbanki(c, l) },
}

// New constructs the scraper registered under bankID.
func New(bankID string, client *fetch.Client, logger *zap.Logger) (BankScraper, error) {
	ctor, ok := registry[bankID]
	if !ok {
		return nil, fmt.Errorf("unknown bank %q, supported banks: %v", bankID, IDs())
	}
	return ctor(client, logger.Named(bankID)), nil
}

// All constructs every registered scraper.
func All(client *fetch.Client, logger *zap.Logger) []BankScraper {
	out := make([]BankScraper, 0, len(registry))
	for _, id := range IDs() {
		sc, _ := New(id, client, logger)
		out = append(out, sc)
	}
	return out
}

// IDs returns the registered bank identifiers, sorted.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
