package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "sentimentflow/config"
	"sentimentflow/internal/aggregator"
	"sentimentflow/internal/archive"
	"sentimentflow/internal/channel/liq"
	"sentimentflow/internal/collector"
	"sentimentflow/internal/models"
	"sentimentflow/internal/provider"
	binancereader "sentimentflow/internal/reader/binance"
	bybitreader "sentimentflow/internal/reader/bybit"
	"sentimentflow/internal/reference"
	"sentimentflow/internal/store"
	"sentimentflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	resolvedPath := appconfig.ResolveConfigPath(*configPath, "config/config.yml")

	cfg, err := appconfig.LoadConfig(resolvedPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Sentimentflow.Name,
		"version": cfg.Sentimentflow.Version,
		"config":  resolvedPath,
	}).Info("starting sentimentflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Logging.Region, cfg.Logging.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	st, err := store.New(cfg.Storage.DataDir)
	if err != nil {
		log.WithError(err).Error("failed to initialize storage directory")
		os.Exit(1)
	}

	tracker := reference.NewTracker(st)
	tracker.Load()

	agg := aggregator.New(buildSymbolMap(cfg))

	channels := liq.NewChannels(cfg.Channels.RawBuffer)
	defer channels.Close()

	prices := provider.NewCoingecko(cfg.Source.Coingecko.URL, cfg.Collector.RequestTimeout)
	funding := buildFundingSources(cfg)

	var archiveWriter *archive.Writer
	var collectorArchive collector.Archiver
	if cfg.Storage.S3.Enabled {
		archiveWriter, err = archive.NewWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create liquidation archive")
			os.Exit(1)
		}
		collectorArchive = archiveWriter
	} else {
		log.WithComponent("main").Info("S3 archival disabled; liquidations kept in memory only")
	}

	coll := collector.New(cfg, channels, agg, tracker, st, prices, funding, collectorArchive)

	var binanceLiq *binancereader.LiquidationReader
	var bybitLiq *bybitreader.LiquidationReader
	if cfg.Source.Binance.Liquidation.Enabled {
		binanceLiq = binancereader.NewLiquidationReader(cfg, channels)
	}
	if cfg.Source.Bybit.Liquidation.Enabled {
		bybitLiq = bybitreader.NewLiquidationReader(cfg, channels)
	}

	var wg sync.WaitGroup

	if archiveWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiveWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("liquidation archive failed to start")
			}
		}()
	}

	if binanceLiq != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceLiq.Start(ctx); err != nil {
				log.WithError(err).Warn("binance liquidation reader failed to start")
			}
		}()
	}
	if bybitLiq != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitLiq.Start(ctx); err != nil {
				log.WithError(err).Warn("bybit liquidation reader failed to start")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coll.Start(ctx); err != nil {
			log.WithError(err).Error("collector failed to start")
		}
	}()

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping collector")
	coll.Stop()

	if binanceLiq != nil {
		log.Info("stopping binance liquidation reader")
		binanceLiq.Stop()
	}
	if bybitLiq != nil {
		log.Info("stopping bybit liquidation reader")
		bybitLiq.Stop()
	}

	if archiveWriter != nil {
		log.Info("stopping liquidation archive")
		archiveWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("sentimentflow stopped")
}

// buildFundingSources assembles one funding provider per enabled exchange.
func buildFundingSources(cfg *appconfig.Config) []collector.FundingSource {
	sources := make([]collector.FundingSource, 0, 3)

	if cfg.Source.Binance.Funding.Enabled {
		sources = append(sources, collector.FundingSource{
			Provider: provider.NewBinanceFunding(cfg.Collector.RequestTimeout),
			Symbols:  cfg.Source.Binance.Funding.Symbols,
		})
	}
	if cfg.Source.Bybit.Funding.Enabled {
		sources = append(sources, collector.FundingSource{
			Provider: provider.NewBybitFunding(cfg.Source.Bybit.URL, cfg.Collector.RequestTimeout),
			Symbols:  cfg.Source.Bybit.Funding.Symbols,
		})
	}
	if cfg.Source.Okx.Funding.Enabled {
		sources = append(sources, collector.FundingSource{
			Provider: provider.NewOkxFunding(cfg.Source.Okx.URL, cfg.Collector.RequestTimeout),
			Symbols:  cfg.Source.Okx.Funding.Symbols,
		})
	}

	return sources
}

// buildSymbolMap routes every configured contract symbol to its instrument id
// so the aggregator can classify stream events from any enabled exchange.
func buildSymbolMap(cfg *appconfig.Config) map[string]string {
	symbols := make(map[string]string)

	add := func(sym, instrument string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			symbols[sym] = instrument
		}
	}

	for _, fs := range []appconfig.InstrumentSymbols{
		cfg.Source.Binance.Funding.Symbols,
		cfg.Source.Bybit.Funding.Symbols,
	} {
		add(fs.Bitcoin, models.InstrumentBitcoin)
		add(fs.Ethereum, models.InstrumentEthereum)
	}

	for _, sym := range append(
		append([]string{}, cfg.Source.Binance.Liquidation.Symbols...),
		cfg.Source.Bybit.Liquidation.Symbols...,
	) {
		upper := strings.ToUpper(strings.TrimSpace(sym))
		switch {
		case strings.HasPrefix(upper, "BTC"):
			add(upper, models.InstrumentBitcoin)
		case strings.HasPrefix(upper, "ETH"):
			add(upper, models.InstrumentEthereum)
		}
	}

	return symbols
}
