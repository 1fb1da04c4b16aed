// Command fetch runs one collection pass against the configured primary
// provider and prints the normalized points as JSON. Useful for verifying
// credentials and vendor connectivity without starting the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"quotefeed/internal/config"
	"quotefeed/internal/httpx"
	"quotefeed/internal/model"
	"quotefeed/internal/normalize"
	"quotefeed/internal/provider"
	"quotefeed/internal/provider/alphavan"
	"quotefeed/internal/provider/finbar"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "", "comma-separated symbols (default: configured symbols)")
		vendorFlag  = flag.String("provider", "", "provider to use (default: configured primary)")
		timeoutFlag = flag.Duration("timeout", 30*time.Second, "total timeout")
	)
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	name := cfg.Providers.Primary
	if *vendorFlag != "" {
		name = *vendorFlag
	}
	symbols := cfg.Symbols
	if *symbolsFlag != "" {
		symbols = nil
		for _, s := range strings.Split(*symbolsFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
	}

	httpClient := httpx.New(10 * time.Second)
	var prov provider.Provider
	switch name {
	case "alphavan":
		prov = alphavan.New(alphavan.Config{
			Endpoint:    cfg.Providers.AlphaVan.Endpoint,
			APIKey:      cfg.Providers.AlphaVan.APIKey,
			MinInterval: cfg.Providers.AlphaVan.MinInterval,
		}, httpClient)
	case "finbar":
		prov, err = finbar.New(cfg.Providers.FinBar.APIKey,
			finbar.WithBaseURL(cfg.Providers.FinBar.Endpoint),
			finbar.WithHTTPClient(httpClient.HTTP),
			finbar.WithMinInterval(cfg.Providers.FinBar.MinInterval),
		)
		if err != nil {
			log.Fatalf("provider: %v", err)
		}
	default:
		log.Fatalf("unknown provider %q", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	if err := prov.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer prov.Disconnect(context.Background())

	points := make([]model.MarketDataPoint, 0, len(symbols))
	for _, sym := range symbols {
		point, err := prov.RealTime(ctx, sym)
		if err != nil {
			log.Printf("fetch %s: %v", sym, err)
			continue
		}
		if point == nil {
			log.Printf("fetch %s: no data", sym)
			continue
		}
		points = append(points, normalize.Point(*point))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(points); err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Fprintf(os.Stderr, "fetched %d/%d symbols from %s\n", len(points), len(symbols), prov.Name())
}
