package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trading-signalsync/config"
	"trading-signalsync/internal/journal"
	"trading-signalsync/internal/report"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.Load()
	outDir := flag.String("out", cfg.DataDir, "directory for result.csv and the per-instrument files")
	flag.Parse()

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		log.Fatalf("[report] targets: %v", err)
	}

	signals, err := journal.Open(journal.Config{Driver: cfg.SignalDBDriver, DSN: cfg.SignalDBDSN})
	if err != nil {
		log.Fatalf("[report] signal log: %v", err)
	}
	defer signals.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := report.Export(ctx, signals, targets, *outDir)
	if err != nil {
		log.Fatalf("[report] export: %v", err)
	}
	log.Printf("[report] wrote %d signals for %d instruments to %s", n, len(targets), *outDir)
}
