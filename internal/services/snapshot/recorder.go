package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"metals-trader/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const runTimeout = 30 * time.Second

// PriceSource is the part of the price cache the recorder samples.
type PriceSource interface {
	GetTopInstruments(ctx context.Context, limit int) []models.InstrumentPrice
}

// Recorder 定时采样价格并写入快照表
type Recorder struct {
	prices PriceSource
	store  Store
	limit  int
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewRecorder(prices PriceSource, store Store, limit int, logger zerolog.Logger) *Recorder {
	return &Recorder{
		prices: prices,
		store:  store,
		limit:  limit,
		logger: logger.With().Str("component", "snapshot").Logger(),
		now:    time.Now,
	}
}

// RunOnce samples the top instruments and stores one snapshot each.
func (r *Recorder) RunOnce(ctx context.Context) (int, error) {
	prices := r.prices.GetTopInstruments(ctx, r.limit)
	now := r.now().UTC()

	snaps := make([]models.PriceSnapshot, 0, len(prices))
	for _, p := range prices {
		snaps = append(snaps, models.PriceSnapshot{
			Symbol:    p.Symbol,
			Price:     p.Price,
			Change24h: p.Change24h,
			Source:    p.Source,
			CreatedAt: now,
		})
	}
	if err := r.store.Save(ctx, snaps); err != nil {
		return 0, fmt.Errorf("save snapshots: %w", err)
	}
	return len(snaps), nil
}

// Start runs RunOnce on a cron schedule such as "@every 5m".
func (r *Recorder) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("recorder already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, r.tick); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info().Str("schedule", schedule).Msg("snapshot recorder started")
	return nil
}

// Stop halts the schedule and waits for a running sample to finish.
func (r *Recorder) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (r *Recorder) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	n, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("snapshot run failed")
		return
	}
	r.logger.Debug().Int("count", n).Msg("snapshots stored")
}
