package scraper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/store"
)

// ErrSourceUnavailable is the one hard failure a bank run can surface: the
// source document could not be retrieved or yielded no content. Every other
// failure mode degrades to a partial record.
var ErrSourceUnavailable = errors.New("scraper: could not retrieve source")

// Store is the persistence collaborator the service writes final records to.
type Store interface {
	Save(ctx context.Context, rec *model.RateRecord, sourceURL string) error
	Latest(ctx context.Context, bankID string, maxAge time.Duration) (*model.RateRecord, string, error)
	Prune(ctx context.Context, keepLatest int) error
}

// Fallback is the generative extractor invoked for incomplete candidates.
type Fallback interface {
	Extract(ctx context.Context, rawText, bankName, bankID string) *model.RateRecord
}

// Result is one finished pipeline run.
type Result struct {
	Record    *model.RateRecord
	SourceURL string
	FetchedAt time.Time
	Cached    bool
}

// Service runs the extraction pipeline per bank: acquire, extract, score,
// optionally reconcile with the AI candidate, persist. Each bank's pipeline
// is a single linear sequence; banks run concurrently and share nothing but
// the store.
type Service struct {
	scrapers   map[string]BankScraper
	store      Store
	cache      *store.MemCache
	fallback   Fallback
	threshold  int
	keepLatest int
	cacheTTL   time.Duration
	logger     *zap.Logger
}

type ServiceOption func(*Service)

// WithFallback enables the generative fallback path.
func WithFallback(f Fallback) ServiceOption {
	return func(s *Service) { s.fallback = f }
}

// WithThreshold sets the missing-leaf count at which the deterministic
// candidate is considered too incomplete and the fallback is invoked.
func WithThreshold(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cacheTTL = ttl
		s.cache = store.NewMemCache(ttl)
	}
}

func WithKeepLatest(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.keepLatest = n
		}
	}
}

func NewService(st Store, scrapers []BankScraper, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		scrapers:   make(map[string]BankScraper, len(scrapers)),
		store:      st,
		threshold:  3,
		keepLatest: 5,
		cacheTTL:   24 * time.Hour,
		logger:     logger,
	}
	for _, sc := range scrapers {
		s.scrapers[sc.BankID()] = sc
	}
	s.cache = store.NewMemCache(s.cacheTTL)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BankIDs returns the banks this service can fetch, sorted.
func (s *Service) BankIDs() []string {
	ids := make([]string, 0, len(s.scrapers))
	for id := range s.scrapers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetRates returns the newest record for one bank, consulting the in-process
// cache and the store before scraping. forceRefresh bypasses both.
func (s *Service) GetRates(ctx context.Context, bankID string, forceRefresh bool) (Result, error) {
	sc, ok := s.scrapers[bankID]
	if !ok {
		return Result{}, errors.New("unknown bank: " + bankID)
	}

	if !forceRefresh {
		if entry, ok := s.cache.Get(bankID); ok {
			s.logger.Debug("memory cache hit", zap.String("bank", bankID))
			return Result{Record: entry.Record, SourceURL: entry.SourceURL, FetchedAt: entry.FetchedAt, Cached: true}, nil
		}
		if rec, url, err := s.store.Latest(ctx, bankID, s.cacheTTL); err == nil {
			s.logger.Info("store cache hit", zap.String("bank", bankID))
			res := Result{Record: rec, SourceURL: url, FetchedAt: time.Now(), Cached: true}
			s.cache.Put(bankID, store.Entry{Record: rec, SourceURL: url, FetchedAt: res.FetchedAt})
			return res, nil
		}
	}

	return s.run(ctx, sc)
}

// CrawlAll runs every bank's pipeline concurrently and collects the results.
// Pipelines read no shared mutable state, so the only synchronization is the
// result channel.
func (s *Service) CrawlAll(ctx context.Context) map[string]Result {
	type crawled struct {
		bankID string
		res    Result
		err    error
	}

	var wg sync.WaitGroup
	results := make(chan crawled)

	for _, sc := range s.scrapers {
		wg.Add(1)
		go func(sc BankScraper) {
			defer wg.Done()
			res, err := s.run(ctx, sc)
			results <- crawled{bankID: sc.BankID(), res: res, err: err}
		}(sc)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]Result, len(s.scrapers))
	for c := range results {
		if c.err != nil {
			s.logger.Error("bank pipeline failed", zap.String("bank", c.bankID), zap.Error(c.err))
			continue
		}
		out[c.bankID] = c.res
	}
	s.logger.Info("all bank pipelines finished", zap.Int("succeeded", len(out)), zap.Int("total", len(s.scrapers)))
	return out
}

// run executes one bank's linear pipeline.
func (s *Service) run(ctx context.Context, sc BankScraper) (Result, error) {
	bankID := sc.BankID()
	s.logger.Info("scraping fresh rates", zap.String("bank", bankID))

	rec, rawText, sourceURL, err := sc.Scrape(ctx)
	if err != nil {
		s.logger.Error("acquisition failed", zap.String("bank", bankID), zap.Error(err))
		return Result{}, errors.Join(ErrSourceUnavailable, err)
	}

	missing := model.CountMissing(rec)
	s.logger.Debug("deterministic candidate scored", zap.String("bank", bankID), zap.Int("missing", missing))

	if s.fallback != nil && rawText != "" && missing >= s.threshold {
		s.logger.Info("candidate incomplete, invoking ai fallback",
			zap.String("bank", bankID), zap.Int("missing", missing), zap.Int("threshold", s.threshold))
		candidate := s.fallback.Extract(ctx, rawText, sc.BankName(), bankID)
		rec = model.Merge(rec, candidate)
		s.logger.Info("candidates reconciled",
			zap.String("bank", bankID), zap.Int("missing_after", model.CountMissing(rec)))
	}

	now := time.Now()
	if err := s.store.Save(ctx, rec, sourceURL); err != nil {
		s.logger.Error("failed to save record", zap.String("bank", bankID), zap.Error(err))
	} else if err := s.store.Prune(ctx, s.keepLatest); err != nil {
		s.logger.Warn("failed to prune old records", zap.Error(err))
	}

	s.cache.Put(bankID, store.Entry{Record: rec, SourceURL: sourceURL, FetchedAt: now})
	return Result{Record: rec, SourceURL: sourceURL, FetchedAt: now}, nil
}
