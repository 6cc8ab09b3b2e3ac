// Command mu runs the Messenger Unit: the cranker that dispatches
// evaluator-produced outbound messages, and the monitor loop that polls
// each watched process's CU for scheduled messages (spec.md §4.I, §4.J).
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aonet/cu/config"
	"github.com/aonet/cu/emit"
	"github.com/aonet/cu/mu/cranker"
	"github.com/aonet/cu/mu/monitor"
	"github.com/aonet/cu/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("mu: loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter := emit.NewLogEmitter(nil, cfg.Mode == config.ModeProduction)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	retryPolicy := retry.Default

	cu := &cranker.HTTPCUClient{BaseURL: cfg.CUURL, HTTP: httpClient, Retry: retryPolicy}
	crank := &cranker.Cranker{
		SU:         &cranker.HTTPSUClient{BaseURL: cfg.SequencerURL, HTTP: httpClient, Retry: retryPolicy},
		SelectNode: func(string) cranker.CUClient { return cu },
		// Signer is the bundle/signing library boundary (spec.md §1);
		// production deployments supply a real one backed by MU_WALLET.
		MaxDepth: cfg.CrankMaxDepth,
		Emit:     emitter,
	}

	monitors, err := openMonitorStore(cfg)
	if err != nil {
		log.Fatalf("mu: opening monitor store: %v", err)
	}

	monitorCU := &monitor.HTTPCUClient{BaseURL: cfg.CUURL, HTTP: httpClient, Retry: retryPolicy}
	loop := &monitor.Loop{
		Store:      monitors,
		SelectNode: func(string) monitor.CUClient { return monitorCU },
		Cranker:    crank,
		Interval:   cfg.MonitorInterval,
		Emit:       emitter,
	}

	log.Printf("mu: starting monitor loop at %s", cfg.MonitorInterval)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("mu: monitor loop exited: %v", err)
	}
}

func openMonitorStore(cfg *config.Config) (monitor.Store, error) {
	return monitor.NewSQLiteStore(cfg.DBPath)
}
