package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"metals-trader/internal/models"
	"metals-trader/internal/services/metalsapi"

	"github.com/rs/zerolog"
)

const (
	DefaultTTL      = 5 * time.Minute
	MarketDataLimit = 10

	keyMarketData = "market_data"
)

// RateSource fetches a live upstream rate for one symbol.
type RateSource interface {
	Latest(ctx context.Context, symbol string) metalsapi.Result
}

// Options tunes a Service. Zero values pick market defaults.
type Options struct {
	TTL         time.Duration
	ChangeRange float64 // 合成涨跌幅范围 (%)
	StepJitter  float64 // 历史序列每步扰动比例
	Now         func() time.Time
	Rand        *rand.Rand
}

// Service 价格缓存服务: 实时价格、批量价格、排行、行情列表与历史序列。
//
// A nil RateSource puts the service in fallback-only mode.
type Service struct {
	catalog *models.Catalog
	source  RateSource
	store   Store
	ttl     time.Duration
	synth   *synthesizer
	now     func() time.Time
	logger  zerolog.Logger
}

func NewService(catalog *models.Catalog, source RateSource, store Store, logger zerolog.Logger, opts Options) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	changeRange, stepJitter := metalsChangeRange, metalsStepJitter
	if catalog.Market() == models.MarketCrypto {
		changeRange, stepJitter = cryptoChangeRange, cryptoStepJitter
	}
	if opts.ChangeRange > 0 {
		changeRange = opts.ChangeRange
	}
	if opts.StepJitter > 0 {
		stepJitter = opts.StepJitter
	}

	return &Service{
		catalog: catalog,
		source:  source,
		store:   store,
		ttl:     opts.TTL,
		synth:   newSynthesizer(opts.Rand, changeRange, stepJitter),
		now:     opts.Now,
		logger:  logger.With().Str("component", "pricecache").Logger(),
	}
}

func (s *Service) Catalog() *models.Catalog { return s.catalog }

// LiveMode reports whether prices are fetched from the upstream API.
func (s *Service) LiveMode() bool { return s.source != nil }

func (s *Service) TTL() time.Duration { return s.ttl }

// GetPrice returns the current price of symbol. A nil price with a nil error
// means the symbol is not in the catalogue. Upstream failures never surface
// here; they are logged and replaced by a synthesized price.
func (s *Service) GetPrice(ctx context.Context, symbol string) (*models.InstrumentPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	entry, ok := s.catalog.Lookup(symbol)
	if !ok {
		return nil, nil
	}

	if cached, ok := load[models.InstrumentPrice](ctx, s, symbol); ok {
		return &cached, nil
	}

	price := s.resolve(ctx, entry)
	save(ctx, s, symbol, price)
	return &price, nil
}

func (s *Service) resolve(ctx context.Context, entry models.InstrumentCatalogEntry) models.InstrumentPrice {
	now := s.now().UTC()
	if s.source == nil {
		return s.synth.fallbackPrice(entry, now)
	}

	res := s.source.Latest(ctx, entry.Symbol)
	if !res.OK() {
		s.logger.Warn().
			Str("symbol", entry.Symbol).
			Str("reason", string(res.Err.Reason)).
			Err(res.Err.Err).
			Msg("upstream price unavailable, using fallback")
		return s.synth.fallbackPrice(entry, now)
	}

	price := usdPrice(res.Rate)
	if price <= 0 {
		s.logger.Warn().Str("symbol", entry.Symbol).Float64("rate", res.Rate).Msg("upstream rate converts to a non-positive price, using fallback")
		return s.synth.fallbackPrice(entry, now)
	}

	// 上游接口不提供24h涨跌幅, 与回退价格一样本地生成
	return models.InstrumentPrice{
		Symbol:      entry.Symbol,
		Name:        entry.Name,
		Price:       price,
		Change24h:   s.synth.change24h(),
		Unit:        entry.Unit,
		Source:      models.SourceLive,
		LastUpdated: now,
	}
}

// GetPrices resolves every symbol concurrently and drops the ones that do
// not resolve. Input order is kept.
func (s *Service) GetPrices(ctx context.Context, symbols []string) []models.InstrumentPrice {
	results := make([]*models.InstrumentPrice, len(symbols))

	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			p, err := s.GetPrice(ctx, sym)
			if err != nil {
				s.logger.Warn().Str("symbol", sym).Err(err).Msg("price lookup failed")
				return
			}
			results[i] = p
		}(i, sym)
	}
	wg.Wait()

	out := make([]models.InstrumentPrice, 0, len(symbols))
	for _, p := range results {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// GetTopInstruments resolves the first limit catalogue entries. The caller
// bounds limit.
func (s *Service) GetTopInstruments(ctx context.Context, limit int) []models.InstrumentPrice {
	if limit <= 0 {
		return []models.InstrumentPrice{}
	}

	key := fmt.Sprintf("top_%d", limit)
	if cached, ok := load[[]models.InstrumentPrice](ctx, s, key); ok {
		return cached
	}

	entries := s.catalog.Top(limit)
	symbols := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.Symbol
	}

	prices := s.GetPrices(ctx, symbols)
	if len(prices) > 0 {
		save(ctx, s, key, prices)
	}
	return prices
}

// GetMarketData maps the top instruments into list rows.
func (s *Service) GetMarketData(ctx context.Context) []models.MarketDataRow {
	if cached, ok := load[[]models.MarketDataRow](ctx, s, keyMarketData); ok {
		return cached
	}

	prices := s.GetTopInstruments(ctx, MarketDataLimit)
	rows := make([]models.MarketDataRow, 0, len(prices))
	for _, p := range prices {
		rows = append(rows, models.MarketDataRow{
			ID:                       strings.ToLower(p.Symbol),
			Symbol:                   p.Symbol,
			Name:                     p.Name,
			CurrentPrice:             p.Price,
			PriceChangePercentage24h: p.Change24h,
			Unit:                     p.Unit,
			MarketType:               s.catalog.Market(),
			LastUpdated:              p.LastUpdated,
		})
	}
	if len(rows) > 0 {
		save(ctx, s, keyMarketData, rows)
	}
	return rows
}

// GetPriceHistory returns a simulated series anchored on the current price.
// An unknown symbol yields an empty series. The caller validates period.
func (s *Service) GetPriceHistory(ctx context.Context, symbol string, period models.Period) ([]models.PricePoint, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := fmt.Sprintf("history_%s_%s", symbol, period)

	if cached, ok := load[[]models.PricePoint](ctx, s, key); ok {
		return cached, nil
	}

	current, err := s.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return []models.PricePoint{}, nil
	}

	series := s.synth.history(current.Price, period, s.now().UTC())
	save(ctx, s, key, series)
	return series, nil
}

// ClearCache drops every cached entry.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// CacheSize counts cached entries, fresh or stale.
func (s *Service) CacheSize(ctx context.Context) (int, error) {
	return s.store.Len(ctx)
}

// load returns the cached value under key when it is younger than the TTL.
// Store failures are treated as misses.
func load[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var v T
	e, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("cache read failed")
		return v, false
	}
	if !ok || s.now().Sub(e.StoredAt) > s.ttl {
		return v, false
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("cache entry corrupt")
		return v, false
	}
	return v, true
}

func save[T any](ctx context.Context, s *Service, key string, v T) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Str("key", key).Err(err).Msg("cache encode failed")
		return
	}
	if err := s.store.Set(ctx, key, Entry{Payload: payload, StoredAt: s.now()}, s.ttl); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("cache write failed")
	}
}
