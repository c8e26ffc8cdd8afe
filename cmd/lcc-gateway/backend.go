package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ampio/lcc-gateway/internal/can"
)

// initBackend selects the backend, starts its RX loop and returns a frame
// sender and cleanup. Every decoded frame is handed to onFrame -- main.go
// passes it to the LCC engine -- before the next read. It returns an error instead of exiting the process so the caller
// can shut down gracefully.
func initBackend(ctx context.Context, cfg *appConfig, onFrame func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, onFrame, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, onFrame, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
