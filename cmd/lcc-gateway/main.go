package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/lcc"
	"github.com/ampio/lcc-gateway/internal/metrics"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, backend.go.

// connAdapter satisfies lcc.Connection by delegating to the backend's
// frame-sending closure.
type connAdapter struct{ send func(can.Frame) error }

func (c connAdapter) SendFrame(fr can.Frame) error { return c.send(fr) }

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("lcc-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	nodeID, err := lcc.ParseNodeID(cfg.nodeID)
	if err != nil {
		l.Error("node_id_error", "error", err)
		return
	}
	engine := lcc.NewEngine(ctx)
	engine.SetFrameCallback(func(fr can.Frame, sentByUs bool) {
		l.Debug("can_frame", "sent_by_us", sentByUs, "id", fmt.Sprintf("%#X", fr.CANID&can.CAN_EFF_MASK))
	})
	engine.SetLCCFrameCallback(func(f lcc.Frame, sentByUs bool) {
		l.Debug("lcc_frame", "sent_by_us", sentByUs, "frame", lcc.FormatFrame(f))
	})
	engine.SetAdvertiseEventsHook(func() {
		l.Info("lcc_node_initialized", "alias", engine.NodeAlias(), "node_id", nodeID.String())
	})

	onFrame := func(fr can.Frame) { engine.HandleIncoming(fr) }
	sendFunc, cleanup, berr := initBackend(ctx, cfg, onFrame, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}
	engine.SetConnection(connAdapter{send: sendFunc})
	engine.UpdateNodeID(nodeID)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	var metricsPort int
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if _, p, err := net.SplitHostPort(cfg.metricsAddr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				metricsPort = pn
			}
		}
	}

	// Advertise the metrics/health endpoint via mDNS, since it is the only
	// real network service this gateway exposes.
	if cfg.mdnsEnable {
		if metricsPort == 0 {
			l.Warn("mdns_disabled", "reason", "mdns-enable requires --metrics-addr to be set")
		} else {
			cleanupMDNS, err := startMDNS(ctx, cfg, metricsPort)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", metricsPort)
				go func() { <-ctx.Done(); cleanupMDNS() }()
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	engine.Join()
	cleanup()
	wg.Wait()
}
