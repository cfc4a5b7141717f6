package pricecache

import (
	"math/rand"
	"sync"
	"time"

	"metals-trader/internal/models"

	"github.com/shopspring/decimal"
)

const (
	fallbackJitter = 0.05 // 参考价上下浮动 ±5%

	metalsChangeRange = 2.0  // %
	cryptoChangeRange = 10.0 // %

	metalsStepJitter = 0.01
	cryptoStepJitter = 0.02
)

// synthesizer generates fallback prices, 24h changes and history series.
// math/rand.Rand is not safe for concurrent use, hence the mutex.
type synthesizer struct {
	mu          sync.Mutex
	rng         *rand.Rand
	changeRange float64
	stepJitter  float64
}

func newSynthesizer(rng *rand.Rand, changeRange, stepJitter float64) *synthesizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &synthesizer{rng: rng, changeRange: changeRange, stepJitter: stepJitter}
}

// uniform draws from [lo, hi].
func (s *synthesizer) uniform(lo, hi float64) float64 {
	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()
	return lo + f*(hi-lo)
}

// change24h returns a percentage in [-changeRange, changeRange].
func (s *synthesizer) change24h() float64 {
	return roundTo(s.uniform(-s.changeRange, s.changeRange), 2)
}

// fallbackPrice jitters the reference price so repeated calls do not show a
// frozen constant.
func (s *synthesizer) fallbackPrice(entry models.InstrumentCatalogEntry, now time.Time) models.InstrumentPrice {
	factor := s.uniform(1-fallbackJitter, 1+fallbackJitter)
	return models.InstrumentPrice{
		Symbol:      entry.Symbol,
		Name:        entry.Name,
		Price:       roundPrice(entry.ReferencePrice * factor),
		Change24h:   s.change24h(),
		Unit:        entry.Unit,
		Source:      models.SourceFallback,
		LastUpdated: now,
	}
}

// history walks backward from the seed price, perturbing before each
// recorded sample. The result is ordered oldest first, so the last point is
// within one step of the seed.
func (s *synthesizer) history(seed float64, period models.Period, now time.Time) []models.PricePoint {
	n := period.Points()
	spacing := period.Spacing()
	points := make([]models.PricePoint, n)

	price := seed
	for step := 0; step < n; step++ {
		price *= 1 + s.uniform(-s.stepJitter, s.stepJitter)
		points[n-1-step] = models.PricePoint{
			Timestamp: period.Format(now.Add(-time.Duration(step) * spacing)),
			Price:     roundPrice(price),
		}
	}
	return points
}

// roundPrice keeps four decimals, enough for sub-dollar instruments.
func roundPrice(v float64) float64 {
	return roundTo(v, 4)
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// usdPrice converts an upstream rate into a USD unit price. Rates are quoted
// against base USD (units per dollar) for metals and coins alike, so the
// rate is inverted.
func usdPrice(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	d := decimal.NewFromInt(1).DivRound(decimal.NewFromFloat(rate), 8)
	f, _ := d.Round(4).Float64()
	return f
}
