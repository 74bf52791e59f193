package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchcore/internal/fees"
	"matchcore/internal/journal"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/matching"
	"matchcore/internal/metrics"
	"matchcore/internal/risk"
	"matchcore/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	addr := flag.String("address", "0.0.0.0", "gateway bind address")
	port := flag.Int("port", 9001, "gateway TCP port")
	metricsAddr := flag.String("metrics-address", "0.0.0.0:9101", "Prometheus /metrics bind address")
	journalDir := flag.String("journal-dir", "./data", "directory for per-market journal files")
	fsyncEvery := flag.Int("fsync-every", 1, "fsync the journal every N appended records")
	marketFlag := flag.String("market", "BTC/USD", "BASE/QUOTE market to serve")
	tickSize := flag.String("tick-size", "0.01", "minimum price increment")
	lotSize := flag.String("lot-size", "0.0001", "minimum quantity increment")
	minNotional := flag.String("min-notional", "10", "minimum order notional")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tick, err := decimal.NewFromString(*tickSize)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -tick-size")
	}
	lot, err := decimal.NewFromString(*lotSize)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -lot-size")
	}
	minNot, err := decimal.NewFromString(*minNotional)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -min-notional")
	}

	cfg := market.NewConfig(market.ID(*marketFlag), tick, lot, minNot)
	cfg.FeeTiers = fees.DefaultTiers()

	l := ledger.New()
	eng := matching.New(cfg, l, risk.AlwaysPass{}, m, log, 0)

	if err := os.MkdirAll(*journalDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create journal dir")
	}
	journalPath := fmt.Sprintf("%s/%s.journal", *journalDir, sanitizeMarketID(cfg.ID))
	jw, err := journal.NewWriter(journalPath, cfg.ID, *fsyncEvery, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open journal")
	}
	defer jw.Close()

	engines := map[market.ID]*matching.Engine{cfg.ID: eng}
	journals := map[market.ID]*journal.Writer{cfg.ID: jw}

	srv := wire.New(*addr, *port, engines, journals, time.Now().UnixNano, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("market", string(cfg.ID)).Int("port", *port).Msg("matchcore gateway starting")
	<-ctx.Done()
	srv.Shutdown()
}

func sanitizeMarketID(id market.ID) string {
	s := []byte(id.String())
	for i, c := range s {
		if c == '/' {
			s[i] = '_'
		}
	}
	return string(s)
}
