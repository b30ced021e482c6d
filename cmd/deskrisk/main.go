package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/audit"
	"github.com/meridianhft/deskrisk/internal/config"
	"github.com/meridianhft/deskrisk/internal/desk"
	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/marketdata"
	"github.com/meridianhft/deskrisk/internal/pricecache"
	"github.com/meridianhft/deskrisk/internal/risk"
	"github.com/meridianhft/deskrisk/internal/scenario"
	"github.com/meridianhft/deskrisk/internal/server"
	"github.com/meridianhft/deskrisk/internal/valuation"
	"github.com/meridianhft/deskrisk/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting deskrisk",
		zap.String("desk", cfg.DeskID),
		zap.Duration("valuation_interval", cfg.ValuationInterval),
		zap.String("http_addr", cfg.HTTPAddr))

	trail := audit.NewLog()
	prices := pricecache.New()

	book := ledger.New(ledger.Config{
		FillDelay:   cfg.FillDelay,
		SlippageBps: cfg.SlippageBps,
		Seed:        cfg.SlippageSeed,
	}, trail, log.Named("ledger"))

	wallets := make(map[string]decimal.Decimal, len(cfg.Wallets))
	for account, balance := range cfg.Wallets {
		wallets[account] = decimal.NewFromFloat(balance)
	}

	valuator := valuation.New(book, prices, wallets, cfg.ValuationInterval, log.Named("valuation"))

	limits := risk.NewLimitRegistry(trail, log.Named("limits"))
	blocks := risk.NewBlockList()
	builder := risk.NewBuilder(cfg.DeskID, limits, blocks, log.Named("risktree"))
	riskSvc := risk.NewService(builder, log.Named("risktree"))
	gate := risk.NewGate(cfg.DeskID, limits, blocks, log.Named("gate"))
	shock := scenario.NewEngine(cfg.DeskID, limits, decimal.NewFromFloat(cfg.MarginCallMultiplier), log.Named("scenario"))

	d := desk.New(book, gate, valuator, riskSvc, shock, log.Named("desk"))

	if cfg.DemoSeed {
		seedDemo(book, limits, prices, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go valuator.Run(ctx)
	go riskSvc.Run(ctx, valuator.Subscribe(4))

	if cfg.MarketDataURL != "" {
		feed := marketdata.NewFeed(cfg.MarketDataURL, cfg.MarketDataSymbols, prices, log.Named("marketdata"))
		go feed.Run(ctx)
	}

	srv := server.New(cfg.HTTPAddr, d, limits, blocks, prices, trail, log.Named("http"))
	if err := srv.Run(ctx); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// seedDemo loads a small book so the dashboard has something to show on a
// fresh start. Seeding is explicit opt-in configuration, never implicit
// module state.
func seedDemo(book *ledger.Ledger, limits *risk.LimitRegistry, prices *pricecache.Cache, log *zap.Logger) {
	limits.Seed(risk.Limit{Type: risk.LimitTypeDesk, EntityID: "MAIN_DESK", LimitNotionalUsd: decimal.NewFromInt(10_000_000), IsHardBlock: true})
	limits.Seed(risk.Limit{Type: risk.LimitTypeStrategy, EntityID: "STRAT_MOMENTUM", LimitNotionalUsd: decimal.NewFromInt(4_000_000), IsHardBlock: true})
	limits.Seed(risk.Limit{Type: risk.LimitTypeStrategy, EntityID: "STRAT_CARRY", LimitNotionalUsd: decimal.NewFromInt(3_000_000), IsHardBlock: false})
	limits.Seed(risk.Limit{Type: risk.LimitTypeSymbol, EntityID: "BTC", LimitNotionalUsd: decimal.NewFromInt(6_000_000), IsHardBlock: true})

	prices.Update("BTCUSDT", pricecache.Quote{
		Bid: decimal.NewFromInt(96790), Ask: decimal.NewFromInt(96810),
		Mark: decimal.NewFromInt(96800), FundingRate: decimal.NewFromFloat(0.0001),
	})
	prices.Update("BTC/PERP_USDT", pricecache.Quote{
		Bid: decimal.NewFromInt(96795), Ask: decimal.NewFromInt(96815),
		Mark: decimal.NewFromInt(96805), FundingRate: decimal.NewFromFloat(0.0001),
	})
	prices.Update("ETHUSDT", pricecache.Quote{
		Bid: decimal.NewFromInt(3398), Ask: decimal.NewFromInt(3402),
		Mark: decimal.NewFromInt(3400), FundingRate: decimal.NewFromFloat(0.00008),
	})

	now := time.Now().UTC()
	book.SeedPosition(ledger.Position{
		Key:           ledger.PositionKey{BaseAsset: "BTC", Symbol: "BTC/PERP_USDT", Venue: "PERP_USDT", StrategyID: "STRAT_CARRY"},
		Side:          ledger.SideShort,
		Quantity:      decimal.NewFromInt(25),
		AvgEntryPrice: decimal.NewFromInt(96800),
		TraderID:      "trader-carry-1",
		CreatedAt:     now,
	})
	book.SeedPosition(ledger.Position{
		Key:           ledger.PositionKey{BaseAsset: "BTC", Symbol: "BTCUSDT", Venue: ledger.VenueSpot, StrategyID: "STRAT_CARRY"},
		Side:          ledger.SideLong,
		Quantity:      decimal.NewFromInt(25),
		AvgEntryPrice: decimal.NewFromInt(96500),
		TraderID:      "trader-carry-1",
		CreatedAt:     now,
	})
	book.SeedPosition(ledger.Position{
		Key:           ledger.PositionKey{BaseAsset: "ETH", Symbol: "ETHUSDT", Venue: ledger.VenueSpot, StrategyID: "STRAT_MOMENTUM"},
		Side:          ledger.SideLong,
		Quantity:      decimal.NewFromInt(200),
		AvgEntryPrice: decimal.NewFromInt(3350),
		TraderID:      "trader-momo-1",
		CreatedAt:     now,
	})
	log.Info("demo book seeded")
}
