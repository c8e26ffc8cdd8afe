//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ampio/lcc-gateway/internal/can"
)

// Placeholder so non-linux builds compile; socketcan not supported.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, onFrame func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	return nil, func() {}, fmt.Errorf("socketcan backend unsupported on this platform")
}
