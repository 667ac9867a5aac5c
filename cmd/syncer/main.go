package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/engagement-sync/internal/app"
	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/syncer"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	mode := flag.String("mode", "full", "sync mode: full, incremental, single or export")
	campaignID := flag.String("campaign", "", "campaign id for single mode")
	resolve := flag.Bool("resolve", false, "run identity resolution before export")
	exportFiles := flag.Bool("export", false, "materialize one CSV per synced campaign")
	flag.Parse()

	m, ok := domain.ParseSyncMode(*mode)
	if !ok {
		log.Fatalf("unknown mode %q", *mode)
	}
	if *campaignID != "" && m == domain.SyncFull {
		m = domain.SyncSingle
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	log.Printf("Starting %s sync", m)
	req := syncer.Request{Mode: m, CampaignID: *campaignID, Export: *exportFiles}
	req.Resolve = *resolve || (cfg.Resolution.Enabled && req.Exports())
	run, err := a.Syncer.Run(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if run.ID != "" {
		_ = enc.Encode(run)
	}

	code := 0
	switch {
	case errors.Is(err, syncer.ErrRunInProgress):
		log.Println("Another sync run holds the lock; exiting")
		code = 2
	case err != nil:
		log.Printf("Sync failed: %v", err)
		code = 1
	case run.TotalFailures() > 0:
		log.Printf("Sync finished with %d failures", run.TotalFailures())
	default:
		log.Println("Sync finished")
	}
	a.Close()
	stop()
	os.Exit(code)
}
