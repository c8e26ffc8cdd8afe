package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ampio/lcc-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"socketcan_rx", snap.SocketCANRx,
					"serial_tx", snap.SerialTx,
					"socketcan_tx", snap.SocketCANTx,
					"errors", snap.Errors,
					"lcc_alias_reservations", snap.LCCAliasReservations,
					"lcc_alias_collisions", snap.LCCAliasCollisions,
					"lcc_datagram_timeouts", snap.LCCDatagramTimeouts,
					"lcc_reassembly_drops", snap.LCCReassemblyDrops,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
