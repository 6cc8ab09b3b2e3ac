// Command cu runs the Compute Unit's evaluation HTTP surface: a single
// handler that folds a process's message history through the WASM
// evaluator and returns its memory. The request/router layer proper is out
// of scope (spec.md §1); this wires just enough net/http to exercise eval
// end to end.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/config"
	"github.com/aonet/cu/emit"
	"github.com/aonet/cu/eval"
	"github.com/aonet/cu/evalstore"
	"github.com/aonet/cu/hydrate"
	"github.com/aonet/cu/procmem"
	"github.com/aonet/cu/retry"
	"github.com/aonet/cu/source"
	"github.com/aonet/cu/wasmproc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("cu: loading config: %v", err)
	}

	emitter := emit.NewLogEmitter(os.Stdout, cfg.Mode == config.ModeProduction)

	results, err := openResultStore(cfg)
	if err != nil {
		log.Fatalf("cu: opening result store: %v", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	retryPolicy := retry.Default

	checkpoints := &checkpoint.Store{
		Gateway: &checkpoint.HTTPGateway{BaseURL: cfg.GatewayURL, HTTP: httpClient, Retry: retryPolicy},
		// Signer is an injected external collaborator (the bundle/signing
		// library, spec.md §1): production deployments supply a real one.
	}
	onEviction := eval.PublishOnEviction(results, checkpoints, func(processID, msg string) {
		emitter.Emit(emit.Event{ProcessID: processID, Msg: msg})
	})

	evaluator := &eval.Evaluator{
		Cache:       procmem.New(cfg.ProcessMemCacheMaxSize, cfg.ProcessMemCacheTTL, onEviction),
		Checkpoints: checkpoints,
		Sources:     source.NewOpener(&source.HTTPClient{BaseURL: cfg.SequencerURL, HTTP: httpClient, Retry: retryPolicy}),
		Hydrate: hydrate.New(
			&hydrate.HTTPGatewayLoader{BaseURL: cfg.GatewayURL, HTTP: httpClient, Retry: retryPolicy},
			cfg.AOLoadMaxBlock,
			&hydrate.HTTPGatewayLoader{BaseURL: cfg.GatewayURL, HTTP: httpClient, Retry: retryPolicy},
			hydrate.DefaultAssignmentPolicy,
		),
		Results: results,
		// Proc is the WASM runtime boundary (spec.md §1, external
		// collaborator with no documented wire format): production
		// deployments supply a real wasmproc.Process.
		Proc: &wasmproc.MockProcess{},
		Emit: emitter,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/state/", stateHandler(evaluator))

	addr := ":" + strconv.Itoa(cfg.Port)
	log.Printf("cu: listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("cu: serving: %v", err)
	}
}

func openResultStore(cfg *config.Config) (evalstore.Store, error) {
	if cfg.MySQLDSN != "" {
		return evalstore.NewMySQLStore(cfg.MySQLDSN)
	}
	return evalstore.NewSQLiteStore(cfg.DBPath)
}

// stateHandler answers GET /state/{processId}?to={sortKey} by folding the
// process's message history up to the requested position.
func stateHandler(evaluator *eval.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processID := r.URL.Path[len("/state/"):]
		if processID == "" {
			http.Error(w, "missing process id", http.StatusBadRequest)
			return
		}
		to := r.URL.Query().Get("to")
		if to == "" {
			to = "18446744073709551614" // unbounded: one below the maximum block height, so the source's +1 bound adjustment cannot overflow
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
		defer cancel()

		result, err := evaluator.Eval(ctx, processID, to)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			LastSortKey string `json:"lastSortKey"`
			MemorySize  int    `json:"memorySize"`
		}{result.LastSortKey, len(result.Memory)})
	}
}

