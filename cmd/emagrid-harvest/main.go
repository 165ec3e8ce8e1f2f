package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"emagrid/internal/api"
	"emagrid/internal/config"
	"emagrid/internal/gather"
	"emagrid/internal/gather/alpaca"
	"emagrid/internal/gather/binance"
	"emagrid/internal/store"
	"emagrid/internal/util"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("EMAGRID_CONFIG"), "path to YAML config")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides harvest.symbols")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *symbols != "" {
		cfg.Harvest.Symbols = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Harvest.Symbols = append(cfg.Harvest.Symbols, s)
			}
		}
	}
	if err := cfg.ValidateHarvest(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	h := cfg.Harvest
	var src gather.Source
	switch h.Source {
	case "alpaca":
		src = alpaca.NewSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	default:
		src = binance.NewClient(h.BaseURL, h.RatePerSec)
	}

	harvester, err := gather.NewHarvester(src, store.NewParquetStore(cfg.Storage.DataDir), gather.HarvestOptions{
		Interval:      h.Interval,
		WindowCandles: h.WindowCandles,
		PadCandles:    h.PadCandles,
		MaxAttempts:   h.MaxAttempts,
		BaseDelay:     h.BaseDelay,
		Workers:       h.Workers,
	})
	if err != nil {
		log.Fatalf("creating harvester: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := api.NewMetrics()
	srv := api.NewServer(cfg.Server, metrics)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("starting status server: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	start, _ := h.Start()
	end, _ := h.End(time.Now().UTC())

	slog.Info("starting harvest",
		"source", src.Name(),
		"symbols", len(h.Symbols),
		"interval", h.Interval,
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.RFC3339),
	)
	results, err := harvester.Harvest(ctx, h.Symbols, start, end)
	for _, r := range results {
		if r.Symbol == "" {
			continue
		}
		metrics.ObserveHarvest(r.Symbol, r.Fetched, r.Err)
		if r.Err == nil {
			fmt.Printf("%-12s %8d candles  %s\n", r.Symbol, r.Candles, r.CSVPath)
		}
	}
	srv.Linger(ctx)
	if err != nil {
		log.Fatalf("harvest error: %v", err)
	}
}
