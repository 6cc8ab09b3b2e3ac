package eval

import (
	"bytes"
	"compress/gzip"
	"context"
	"time"

	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/evalstore"
	"github.com/aonet/cu/procmem"
)

// PublishOnEviction returns a procmem.Cache eviction callback that
// publishes a Checkpoint for the evicted process's latest evaluation
// (spec.md §4.C: "Publish a Checkpoint (D) on the cache's eviction
// callback"). Publish failures are logged via emitter, never fatal
// (spec.md §4.D).
//
// The callback itself must not block the cache's internal lock, which is
// held for the duration of eviction (procmem.Cache.Set calls it
// synchronously from evictToFit); the actual network work runs in a
// detached goroutine.
func PublishOnEviction(results evalstore.Store, checkpoints *checkpoint.Store, emitter func(processID, msg string)) func(procmem.Header) {
	return func(header procmem.Header) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			e, err := results.FindLatestEvaluation(ctx, header.ProcessID)
			if err != nil {
				emitter(header.ProcessID, "checkpoint publish: no evaluation to publish: "+err.Error())
				return
			}

			gzipped, err := gzipMemory(e.Output.Memory)
			if err != nil {
				emitter(header.ProcessID, "checkpoint publish: compressing memory: "+err.Error())
				return
			}

			if _, err := checkpoints.Publish(ctx, e, "", gzipped); err != nil {
				emitter(header.ProcessID, "checkpoint publish failed: "+err.Error())
			}
		}()
	}
}

func gzipMemory(memory []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(memory); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
