package pricecache

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metals-trader/internal/models"
	"metals-trader/internal/services/metalsapi"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubSource answers from a fixed rate table and counts calls.
type stubSource struct {
	rates map[string]float64
	fail  metalsapi.FailureReason
	calls atomic.Int32
}

func (s *stubSource) Latest(_ context.Context, symbol string) metalsapi.Result {
	s.calls.Add(1)
	if s.fail != "" {
		return metalsapi.Result{Symbol: symbol, Err: &metalsapi.FetchError{Symbol: symbol, Reason: s.fail}}
	}
	rate, ok := s.rates[symbol]
	if !ok {
		return metalsapi.Result{Symbol: symbol, Err: &metalsapi.FetchError{Symbol: symbol, Reason: metalsapi.ReasonMissingRate}}
	}
	return metalsapi.Result{Symbol: symbol, Rate: rate}
}

func newTestService(t *testing.T, source RateSource, clock *fakeClock) *Service {
	t.Helper()
	return NewService(models.CatalogFor(models.MarketMetals), source, NewMemoryStore(), zerolog.Nop(), Options{
		Now:  clock.Now,
		Rand: rand.New(rand.NewSource(42)),
	})
}

func refPrice(t *testing.T, symbol string) float64 {
	t.Helper()
	e, ok := models.CatalogFor(models.MarketMetals).Lookup(symbol)
	require.True(t, ok)
	return e.ReferencePrice
}

func assertFallbackBand(t *testing.T, p *models.InstrumentPrice) {
	t.Helper()
	ref := refPrice(t, p.Symbol)
	assert.GreaterOrEqual(t, p.Price, ref*0.95-1e-4)
	assert.LessOrEqual(t, p.Price, ref*1.05+1e-4)
	assert.GreaterOrEqual(t, p.Change24h, -2.0)
	assert.LessOrEqual(t, p.Change24h, 2.0)
	assert.Equal(t, models.SourceFallback, p.Source)
}

func TestGetPriceCanonicalizesSymbol(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	lower, err := svc.GetPrice(ctx, "xau")
	require.NoError(t, err)
	require.NotNil(t, lower)
	upper, err := svc.GetPrice(ctx, "XAU")
	require.NoError(t, err)
	require.NotNil(t, upper)

	assert.Equal(t, "XAU", lower.Symbol)
	assert.Equal(t, lower.Price, upper.Price)
	assert.Equal(t, lower.Change24h, upper.Change24h)
	assert.True(t, lower.LastUpdated.Equal(upper.LastUpdated))

	size, err := svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestGetPriceRespectsTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	source := &stubSource{rates: map[string]float64{"XAU": 0.0005}}
	svc := newTestService(t, source, clock)

	first, err := svc.GetPrice(ctx, "XAU")
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	second, err := svc.GetPrice(ctx, "XAU")
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), source.calls.Load())

	clock.Advance(time.Second)
	third, err := svc.GetPrice(ctx, "XAU")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
	assert.True(t, third.LastUpdated.After(first.LastUpdated))
}

func TestFallbackPriceWithinBand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())
	require.False(t, svc.LiveMode())

	for i := 0; i < 200; i++ {
		require.NoError(t, svc.ClearCache(ctx))
		p, err := svc.GetPrice(ctx, "XAU")
		require.NoError(t, err)
		require.NotNil(t, p)
		assertFallbackBand(t, p)
	}
}

func TestLivePriceIsInverted(t *testing.T) {
	svc := newTestService(t, &stubSource{rates: map[string]float64{"XAU": 0.0005}}, newFakeClock())

	p, err := svc.GetPrice(context.Background(), "XAU")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, 2000.0, p.Price)
	assert.Equal(t, models.SourceLive, p.Source)
	assert.Equal(t, "Gold", p.Name)
	assert.Equal(t, "oz", p.Unit)
	assert.InDelta(t, 0, p.Change24h, 2)
}

func TestCryptoRatesAreInverted(t *testing.T) {
	clock := newFakeClock()
	svc := NewService(models.CatalogFor(models.MarketCrypto), &stubSource{rates: map[string]float64{"BTC": 0.0000232}},
		NewMemoryStore(), zerolog.Nop(), Options{Now: clock.Now, Rand: rand.New(rand.NewSource(1))})

	p, err := svc.GetPrice(context.Background(), "btc")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 43103.4483, p.Price)
	assert.Equal(t, models.SourceLive, p.Source)
	assert.Equal(t, "coin", p.Unit)
}

func TestUpstreamFailureFallsBack(t *testing.T) {
	for _, reason := range []metalsapi.FailureReason{
		metalsapi.ReasonTransport, metalsapi.ReasonStatus, metalsapi.ReasonMalformed, metalsapi.ReasonMissingRate,
	} {
		t.Run(string(reason), func(t *testing.T) {
			svc := newTestService(t, &stubSource{fail: reason}, newFakeClock())

			p, err := svc.GetPrice(context.Background(), "XAU")
			require.NoError(t, err)
			require.NotNil(t, p)
			assertFallbackBand(t, p)
		})
	}
}

func TestUnknownSymbol(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	p, err := svc.GetPrice(ctx, "ZZZZZ")
	require.NoError(t, err)
	assert.Nil(t, p)

	prices := svc.GetPrices(ctx, []string{"ZZZZZ", "XAU"})
	require.Len(t, prices, 1)
	assert.Equal(t, "XAU", prices[0].Symbol)
}

func TestGetPricesNeverFails(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	assert.Empty(t, svc.GetPrices(ctx, []string{"NOPE", "ALSO_NOPE"}))
	assert.NotNil(t, svc.GetPrices(ctx, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Empty(t, svc.GetPrices(cancelled, []string{"XAU", "XAG"}))
}

func TestGetPricesKeepsOrder(t *testing.T) {
	svc := newTestService(t, nil, newFakeClock())

	prices := svc.GetPrices(context.Background(), []string{"xpt", "XAU", "bogus", "xag"})

	require.Len(t, prices, 3)
	assert.Equal(t, "XPT", prices[0].Symbol)
	assert.Equal(t, "XAU", prices[1].Symbol)
	assert.Equal(t, "XAG", prices[2].Symbol)
}

func TestGetTopInstruments(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	top := svc.GetTopInstruments(ctx, 3)

	require.Len(t, top, 3)
	for i, want := range []string{"XAU", "XAG", "XPT"} {
		assert.Equal(t, want, top[i].Symbol)
		assert.Greater(t, top[i].Price, 0.0)
	}

	// three symbol entries plus top_3
	size, err := svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, size)

	again := svc.GetTopInstruments(ctx, 3)
	assert.Equal(t, top[0].Price, again[0].Price)

	assert.Len(t, svc.GetTopInstruments(ctx, 100), svc.Catalog().Len())
	assert.Empty(t, svc.GetTopInstruments(ctx, 0))
}

func TestGetMarketData(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	rows := svc.GetMarketData(ctx)

	require.Len(t, rows, MarketDataLimit)
	assert.Equal(t, "xau", rows[0].ID)
	assert.Equal(t, "XAU", rows[0].Symbol)
	assert.Equal(t, "Gold", rows[0].Name)
	assert.Equal(t, models.MarketMetals, rows[0].MarketType)
	assert.Greater(t, rows[0].CurrentPrice, 0.0)

	top, ok := load[[]models.InstrumentPrice](ctx, svc, "top_10")
	require.True(t, ok)
	assert.Equal(t, top[0].Price, rows[0].CurrentPrice)

	_, ok = load[[]models.MarketDataRow](ctx, svc, keyMarketData)
	assert.True(t, ok)
}

func TestPriceHistoryShape(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	for period, want := range map[models.Period]int{
		models.Period24h: 24,
		models.Period7d:  7,
		models.Period30d: 30,
		models.Period1y:  365,
	} {
		series, err := svc.GetPriceHistory(ctx, "XAU", period)
		require.NoError(t, err)
		require.Len(t, series, want, "period %s", period)
		for _, pt := range series {
			assert.Greater(t, pt.Price, 0.0)
			assert.NotEmpty(t, pt.Timestamp)
		}
	}
}

func TestPriceHistoryAnchoredOnCurrentPrice(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	for _, period := range []models.Period{models.Period24h, models.Period7d, models.Period30d, models.Period1y} {
		series, err := svc.GetPriceHistory(ctx, "xag", period)
		require.NoError(t, err)
		current, err := svc.GetPrice(ctx, "XAG")
		require.NoError(t, err)

		last := series[len(series)-1].Price
		assert.InEpsilon(t, current.Price, last, 0.03, "period %s", period)
	}
}

func TestPriceHistoryTimestamps(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, nil, clock)

	series, err := svc.GetPriceHistory(context.Background(), "XAU", models.Period24h)
	require.NoError(t, err)

	assert.Equal(t, "12:00", series[23].Timestamp)
	assert.Equal(t, "11:00", series[22].Timestamp)
	assert.Equal(t, "13:00", series[0].Timestamp)
}

func TestPriceHistoryUnknownSymbol(t *testing.T) {
	series, err := newTestService(t, nil, newFakeClock()).GetPriceHistory(context.Background(), "ZZZZZ", models.Period7d)
	require.NoError(t, err)
	assert.NotNil(t, series)
	assert.Empty(t, series)
}

func TestPriceHistoryIsCached(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	first, err := svc.GetPriceHistory(ctx, "XAU", models.Period7d)
	require.NoError(t, err)
	second, err := svc.GetPriceHistory(ctx, "xau", models.Period7d)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCacheAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	svc.GetMarketData(ctx)
	require.NoError(t, svc.ClearCache(ctx))
	size, err := svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	_, err = svc.GetPrice(ctx, "XAU")
	require.NoError(t, err)
	size, err = svc.CacheSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				svc.GetMarketData(ctx)
			case 1:
				_, _ = svc.GetPriceHistory(ctx, "XPT", models.Period30d)
			case 2:
				_ = svc.ClearCache(ctx)
			default:
				svc.GetPrices(ctx, []string{"XAU", "XAG"})
			}
		}(i)
	}
	wg.Wait()
}

func TestCustomChangeRange(t *testing.T) {
	clock := newFakeClock()
	svc := NewService(models.CatalogFor(models.MarketCrypto), nil, nil, zerolog.Nop(),
		Options{Now: clock.Now, Rand: rand.New(rand.NewSource(7)), ChangeRange: 0.5})

	for i := 0; i < 50; i++ {
		require.NoError(t, svc.ClearCache(context.Background()))
		p, err := svc.GetPrice(context.Background(), "ETH")
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Change24h, 0.5)
		assert.GreaterOrEqual(t, p.Change24h, -0.5)
	}
}
