package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/passbi/timetable_core/internal/bootstrap"
	"github.com/passbi/timetable_core/internal/config"
	"github.com/passbi/timetable_core/internal/importer"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local") // Overload forces override of existing values

	// Command-line flags
	gtfsDir := pflag.StringP("gtfs", "g", "", "Import the extracted GTFS feed in this directory")
	routes := pflag.StringP("routes", "r", "", "Comma separated route numbers to import from the GTFS feed (default: all)")
	csvDir := pflag.StringP("csv", "c", "", "Import the CSV timetables in this directory")
	validFrom := pflag.String("valid-from", "", "First day the CSV timetables are valid (yyyy-MM-dd)")
	validTo := pflag.String("valid-to", "", "Last day the CSV timetables are valid (yyyy-MM-dd)")
	storeDriver := pflag.StringP("store", "s", "", "Store driver: memory, postgres or sqlite (default from config)")

	pflag.Parse()

	if (*gtfsDir == "") == (*csvDir == "") {
		fmt.Println("Usage: timetable-import --gtfs=<dir> [--routes=10,20] | --csv=<dir> --valid-from=yyyy-MM-dd --valid-to=yyyy-MM-dd [--store=sqlite]")
		pflag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid --store: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	result, err := run(ctx, services.Importer, *gtfsDir, *routes, *csvDir, *validFrom, *validTo)
	services.Close()
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Import completed successfully: %d routes, %d stops, %d stop_times in %s",
		result.Routes, result.Stops, result.StopTimes, result.Duration)
}

func run(ctx context.Context, im *importer.Importer, gtfsDir, routes, csvDir, validFrom, validTo string) (*importer.Result, error) {
	if gtfsDir != "" {
		log.Printf("Starting GTFS import from %s...", gtfsDir)
		return im.ImportGTFS(ctx, gtfsDir, splitList(routes))
	}

	from, err := models.ParseDate(validFrom)
	if err != nil {
		return nil, fmt.Errorf("--valid-from: %w", err)
	}
	to, err := models.ParseDate(validTo)
	if err != nil {
		return nil, fmt.Errorf("--valid-to: %w", err)
	}

	log.Printf("Starting CSV import from %s (valid %s to %s)...", csvDir, from, to)
	return im.ImportCSV(ctx, csvDir, from, to)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
