package telemetry

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/openartifacts/registry/common/logger"
)

// Telemetry serves the pprof profiling endpoints on a localhost-only
// side port, away from the public API listener.
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates telemetry components
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start starts the pprof server in the background
func (t *Telemetry) Start() {
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()
}

// RecordDuration logs how long an operation took
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}
