package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ampio/lcc-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	LCCAliasReservations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcc_alias_reservations_total",
		Help: "Total node-alias reservations started (initial plus restarts after collision).",
	})
	LCCAliasCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcc_alias_collisions_total",
		Help: "Total CID/RID or AMD collisions observed against our reserved or permitted alias.",
	})
	LCCDatagramTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcc_datagram_timeouts_total",
		Help: "Total datagram exchanges that timed out waiting for an ack or expected reply.",
	})
	LCCReassemblyDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcc_reassembly_drops_total",
		Help: "Total multi-frame reassembly buffers discarded by a stale first-frame replacement.",
	})
	LCCNodeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lcc_node_control_state",
		Help: "Current link-layer control state (1 for the active state, 0 otherwise).",
	}, []string{"state"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr, using a mux of its own.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localErrors      uint64
	localMalformed   uint64

	localLCCReservations uint64
	localLCCCollisions   uint64
	localLCCDgTimeouts   uint64
	localLCCReasmDrops   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx    uint64
	SocketCANRx uint64
	SerialTx    uint64
	SocketCANTx uint64
	Errors      uint64 // sum across error labels
	Malformed   uint64

	LCCAliasReservations uint64
	LCCAliasCollisions   uint64
	LCCDatagramTimeouts  uint64
	LCCReassemblyDrops   uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:    atomic.LoadUint64(&localSerialRx),
		SocketCANRx: atomic.LoadUint64(&localSocketCANRx),
		SerialTx:    atomic.LoadUint64(&localSerialTx),
		SocketCANTx: atomic.LoadUint64(&localSocketCANTx),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),

		LCCAliasReservations: atomic.LoadUint64(&localLCCReservations),
		LCCAliasCollisions:   atomic.LoadUint64(&localLCCCollisions),
		LCCDatagramTimeouts:  atomic.LoadUint64(&localLCCDgTimeouts),
		LCCReassemblyDrops:   atomic.LoadUint64(&localLCCReasmDrops),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

// IncSocketCANTx increments SocketCAN transmit counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// IncLCCAliasReservation records a node-alias reservation attempt
// (initial draw or a restart forced by collision).
func IncLCCAliasReservation() {
	LCCAliasReservations.Inc()
	atomic.AddUint64(&localLCCReservations, 1)
}

// IncLCCAliasCollision records a detected alias collision, whether
// during reservation (CID/RID) or after permitted (AMD).
func IncLCCAliasCollision() {
	LCCAliasCollisions.Inc()
	atomic.AddUint64(&localLCCCollisions, 1)
}

// IncLCCDatagramTimeout records a datagram exchange that timed out
// waiting for an ack or an expected reply.
func IncLCCDatagramTimeout() {
	LCCDatagramTimeouts.Inc()
	atomic.AddUint64(&localLCCDgTimeouts, 1)
}

// IncLCCReassemblyDrop records a reassembly buffer discarded because a
// new first-frame arrived before the previous sequence completed.
func IncLCCReassemblyDrop() {
	LCCReassemblyDrops.Inc()
	atomic.AddUint64(&localLCCReasmDrops, 1)
}

// SetLCCNodeState sets the node control-state gauge, clearing every
// other known state label so only the active one reads 1.
func SetLCCNodeState(states []string, active string) {
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1
		}
		LCCNodeState.WithLabelValues(s).Set(v)
	}
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
