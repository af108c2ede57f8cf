package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/store"
)

type fakeScraper struct {
	id      string
	rec     func() *model.RateRecord
	rawText string
	err     error

	mu      sync.Mutex
	scrapes int
}

func (f *fakeScraper) BankName() string { return "Banki " + f.id }
func (f *fakeScraper) BankID() string   { return f.id }

func (f *fakeScraper) Scrape(context.Context) (*model.RateRecord, string, string, error) {
	f.mu.Lock()
	f.scrapes++
	f.mu.Unlock()
	if f.err != nil {
		return nil, "", "", f.err
	}
	return f.rec(), f.rawText, "https://example.is/vextir.pdf", nil
}

func (f *fakeScraper) scrapeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrapes
}

type fakeStore struct {
	mu     sync.Mutex
	saved  []*model.RateRecord
	latest *model.RateRecord
	pruned int
}

func (f *fakeStore) Save(_ context.Context, rec *model.RateRecord, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) Latest(context.Context, string, time.Duration) (*model.RateRecord, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return nil, "", store.ErrNotFound
	}
	return f.latest, "https://example.is/cached.pdf", nil
}

func (f *fakeStore) Prune(_ context.Context, keepLatest int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = keepLatest
	return nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeFallback struct {
	mu     sync.Mutex
	calls  int
	result func(bankName, bankID string) *model.RateRecord
}

func (f *fakeFallback) Extract(_ context.Context, _ string, bankName, bankID string) *model.RateRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.result == nil {
		return model.NewEmptyRecord(bankName, bankID)
	}
	return f.result(bankName, bankID)
}

func (f *fakeFallback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func completeRecord(id string) *model.RateRecord {
	rec := model.NewEmptyRecord("Banki "+id, id)
	rec.Data.Set(model.KeyPenaltyInterest, model.Rate(15.25))
	rec.Data.Set(model.KeyEffectiveDate, model.Date(civil.Date{Year: 2025, Month: 10, Day: 24}))
	return rec
}

func sparseRecord(id string) *model.RateRecord {
	// Both template scalars null plus two null product leaves, well over the
	// default threshold.
	rec := model.NewEmptyRecord("Banki "+id, id)
	overdrafts := model.Map()
	overdrafts.Set("einstaklinga", model.Null())
	overdrafts.Set("fyrirtaekja", model.Null())
	rec.Data.Set(model.KeyOverdrafts, overdrafts)
	return rec
}

func TestServiceSkipsFallbackWhenCandidateComplete(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return completeRecord("banki") }, rawText: "texti"}
	st := &fakeStore{}
	fb := &fakeFallback{}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop(), WithFallback(fb))

	res, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)

	assert.Equal(t, 0, fb.callCount())
	assert.Equal(t, 1, st.savedCount())
	v, ok := res.Record.Data.Get(model.KeyPenaltyInterest).Rate()
	require.True(t, ok)
	assert.Equal(t, 15.25, v)
}

func TestServiceInvokesFallbackAndMerges(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return sparseRecord("banki") }, rawText: "texti"}
	st := &fakeStore{}
	fb := &fakeFallback{result: func(bankName, bankID string) *model.RateRecord {
		rec := model.NewEmptyRecord(bankName, bankID)
		rec.Data.Set(model.KeyPenaltyInterest, model.Rate(14.0))
		return rec
	}}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop(), WithFallback(fb))

	res, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)

	assert.Equal(t, 1, fb.callCount())
	v, ok := res.Record.Data.Get(model.KeyPenaltyInterest).Rate()
	require.True(t, ok)
	assert.Equal(t, 14.0, v, "fallback fills the null leaf")
}

func TestServiceFallbackFailureKeepsDeterministicData(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord {
		rec := sparseRecord("banki")
		rec.Data.Get(model.KeyOverdrafts).Set("einstaklinga", model.Rate(13.5))
		return rec
	}, rawText: "texti"}
	st := &fakeStore{}
	// A degraded fallback returns the bare template.
	fb := &fakeFallback{}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop(), WithFallback(fb))

	res, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)

	require.Equal(t, 1, fb.callCount())
	v, ok := res.Record.Data.Get(model.KeyOverdrafts).Get("einstaklinga").Rate()
	require.True(t, ok)
	assert.Equal(t, 13.5, v, "merging the empty template must not discard extracted values")
}

func TestServiceSkipsFallbackWithoutRawText(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return sparseRecord("banki") }, rawText: ""}
	st := &fakeStore{}
	fb := &fakeFallback{}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop(), WithFallback(fb))

	_, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)
	assert.Equal(t, 0, fb.callCount(), "no document text means nothing to hand the model")
}

func TestServiceThresholdOption(t *testing.T) {
	// The sparse record carries 4 missing leaves; with the threshold raised
	// above that the fallback stays idle.
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return sparseRecord("banki") }, rawText: "texti"}
	fb := &fakeFallback{}
	svc := NewService(&fakeStore{}, []BankScraper{sc}, zap.NewNop(), WithFallback(fb), WithThreshold(5))

	_, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)
	assert.Equal(t, 0, fb.callCount())
}

func TestServiceMemoryCacheAvoidsRescrape(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return completeRecord("banki") }, rawText: "texti"}
	svc := NewService(&fakeStore{}, []BankScraper{sc}, zap.NewNop())

	_, err := svc.GetRates(context.Background(), "banki", false)
	require.NoError(t, err)
	res, err := svc.GetRates(context.Background(), "banki", false)
	require.NoError(t, err)

	assert.Equal(t, 1, sc.scrapeCount())
	assert.True(t, res.Cached)
}

func TestServiceForceRefreshBypassesCaches(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return completeRecord("banki") }, rawText: "texti"}
	st := &fakeStore{latest: completeRecord("banki")}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop())

	res, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)

	assert.Equal(t, 1, sc.scrapeCount())
	assert.False(t, res.Cached)
}

func TestServiceStoreCacheHit(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return completeRecord("banki") }, rawText: "texti"}
	st := &fakeStore{latest: completeRecord("banki")}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop())

	res, err := svc.GetRates(context.Background(), "banki", false)
	require.NoError(t, err)

	assert.Equal(t, 0, sc.scrapeCount())
	assert.True(t, res.Cached)
}

func TestServiceUnknownBank(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, zap.NewNop())
	_, err := svc.GetRates(context.Background(), "enginn", false)
	assert.Error(t, err)
}

func TestServiceScrapeErrorSurfaces(t *testing.T) {
	sc := &fakeScraper{id: "banki", err: errors.New("404")}
	svc := NewService(&fakeStore{}, []BankScraper{sc}, zap.NewNop())

	_, err := svc.GetRates(context.Background(), "banki", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestServiceCrawlAll(t *testing.T) {
	ok1 := &fakeScraper{id: "fyrsti", rec: func() *model.RateRecord { return completeRecord("fyrsti") }, rawText: "t"}
	ok2 := &fakeScraper{id: "annar", rec: func() *model.RateRecord { return completeRecord("annar") }, rawText: "t"}
	bad := &fakeScraper{id: "bilun", err: errors.New("timeout")}
	st := &fakeStore{}
	svc := NewService(st, []BankScraper{ok1, ok2, bad}, zap.NewNop())

	results := svc.CrawlAll(context.Background())

	assert.Len(t, results, 2)
	assert.Contains(t, results, "fyrsti")
	assert.Contains(t, results, "annar")
	assert.NotContains(t, results, "bilun")
	assert.Equal(t, 2, st.savedCount())
}

func TestServicePrunesAfterSave(t *testing.T) {
	sc := &fakeScraper{id: "banki", rec: func() *model.RateRecord { return completeRecord("banki") }, rawText: "t"}
	st := &fakeStore{}
	svc := NewService(st, []BankScraper{sc}, zap.NewNop(), WithKeepLatest(3))

	_, err := svc.GetRates(context.Background(), "banki", true)
	require.NoError(t, err)
	assert.Equal(t, 3, st.pruned)
}
