// Command fetch_rules writes a symbol trading-rule file from Binance USDⓈ-M futures exchange filters.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"signalExecBot/internal/adapters/binanceclient"
	"signalExecBot/internal/adapters/logger"
	"signalExecBot/internal/rules"
)

func main() {
	out := flag.String("out", "./rules.yaml", "output YAML file")
	baseURL := flag.String("url", "", "futures API base URL (default production)")
	quote := flag.String("quote", "USDT", "quote asset of the perpetual contracts")
	symbols := flag.String("symbols", "", "comma-separated base assets to keep, e.g. BTC,ETH")
	maxLeverage := flag.Int("default-max-leverage", 20, "max leverage written for every symbol")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	appLogger := logger.New(logger.ParseLevel(*level))

	var allow []string
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			allow = append(allow, s)
		}
	}

	client, err := binanceclient.New(binanceclient.Config{
		BaseURL:            *baseURL,
		QuoteAsset:         *quote,
		DefaultMaxLeverage: *maxLeverage,
		Symbols:            allow,
		Logger:             appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	loaded, err := client.Load(ctx)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching exchange info")
		log.Fatalf("Error fetching exchange info: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Error creating %s: %v", *out, err)
	}
	if err := rules.WriteYAML(f, *maxLeverage, loaded); err != nil {
		f.Close()
		log.Fatalf("Error writing rules: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Error closing %s: %v", *out, err)
	}
	appLogger.Info(ctx, "Saved symbol trading rules", map[string]interface{}{"file": *out, "count": len(loaded)})
}
