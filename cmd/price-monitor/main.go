package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"metals-trader/internal/config"
	"metals-trader/internal/logging"
	"metals-trader/internal/models"
	"metals-trader/internal/services/metalsapi"
	"metals-trader/internal/services/pricecache"

	"github.com/joho/godotenv"
)

var (
	interval = flag.Duration("interval", time.Minute, "刷新间隔")
	symbols  = flag.String("symbols", "", "逗号分隔的品种代码, 为空时显示前10个")
	market   = flag.String("market", "", "metals 或 crypto (默认读取 MARKET_TYPE)")
	once     = flag.Bool("once", false, "只运行一次，不循环")
)

func main() {
	flag.Parse()
	if err := checkInterval(*interval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.Environment)

	marketType := cfg.MarketType
	if *market != "" {
		marketType = *market
	}
	catalog := models.CatalogFor(models.ParseMarketType(marketType))

	var source pricecache.RateSource
	if cfg.LiveMode() {
		source = metalsapi.NewClient(cfg.MetalsAPIURL, cfg.MetalsAPIKey, cfg.UpstreamTimeout)
	}
	// 缓存不能比刷新间隔更长, 否则每次都是同一份数据
	svc := pricecache.NewService(catalog, source, pricecache.NewMemoryStore(), logger, pricecache.Options{
		TTL:         minDuration(cfg.PriceCacheTTL, *interval),
		ChangeRange: cfg.ChangeRange,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wanted := parseSymbols(*symbols)
	for {
		var prices []models.InstrumentPrice
		if len(wanted) == 0 {
			prices = svc.GetTopInstruments(ctx, pricecache.MarketDataLimit)
		} else {
			prices = svc.GetPrices(ctx, wanted)
		}
		if err := printPrices(os.Stdout, prices); err != nil {
			logger.Error().Err(err).Msg("print failed")
		}

		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}

func checkInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("-interval must be positive, got %s", d)
	}
	return nil
}

func parseSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func printPrices(w io.Writer, prices []models.InstrumentPrice) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tPRICE (USD)\tUNIT\t24H\tSOURCE")
	for _, p := range prices {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%+.2f%%\t%s\n", p.Symbol, p.Name, p.Price, p.Unit, p.Change24h, p.Source)
	}
	return tw.Flush()
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
