package lcc

import (
	"context"
	"sync"
	"time"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/logging"
	"github.com/ampio/lcc-gateway/internal/transport"
)

// ControlState is the link-layer alias-reservation state (spec.md 4.D).
type ControlState string

const (
	ControlInhibited ControlState = "inhibited"
	ControlReserving ControlState = "reserving"
	ControlPermitted ControlState = "permitted"
	ControlCollision ControlState = "collision"
)

// MessageState is the independent message-layer gate.
type MessageState string

const (
	MessageReady       MessageState = "ready"
	MessageInitialized MessageState = "initialized"
)

// Connection is the minimal transport the engine needs: send a raw CAN
// frame. internal/serial and internal/socketcan both produce something
// that can be adapted to this.
type Connection interface {
	SendFrame(can.Frame) error
}

// FrameCallback is invoked for every CAN frame crossing the transport in
// either direction, and separately for every successfully parsed LCC
// frame -- mirroring the original's frame_callback/lcc_frame_callback
// pair, run on the engine's own loop goroutine (never blocking it).
type FrameCallback func(fr can.Frame, sentByUs bool)
type LCCFrameCallback func(f Frame, sentByUs bool)

// Engine is the top-level LCC protocol engine: frame codec, node-alias
// handshake, multi-frame reassembly, and the request/response API,
// confined to one dedicated goroutine (the "I/O thread" of spec.md 5).
type Engine struct {
	loop *transport.Loop

	mu           sync.Mutex
	nodeID       NodeID
	alias        Alias
	aliasGen     *aliasGenerator
	controlState ControlState
	messageState MessageState
	timer        *time.Timer
	reservation  uint64 // bumped on every reserveNodeAlias start; guards stale timers

	conn          Connection
	frameCB       FrameCallback
	lccFrameCB    LCCFrameCallback
	aliasToNodeID map[Alias]NodeID
	nodeIDToAlias map[NodeID]Alias

	addrReasm *reassembler
	dgReasm   *reassembler
	registry  *registry
	nodeLocks map[Alias]*sync.Mutex
	locksMu   sync.Mutex

	onInitialized func() // advertise_events hook
}

// NewEngine constructs an idle engine. Call SetConnection and
// UpdateNodeID (or ReserveNodeAlias directly) to bring it up.
func NewEngine(ctx context.Context) *Engine {
	e := &Engine{
		loop:          transport.NewLoop(ctx, 64),
		controlState:  ControlInhibited,
		messageState:  MessageReady,
		aliasToNodeID: make(map[Alias]NodeID),
		nodeIDToAlias: make(map[NodeID]Alias),
		addrReasm:     newReassembler(),
		dgReasm:       newReassembler(),
		registry:      newRegistry(),
		nodeLocks:     make(map[Alias]*sync.Mutex),
	}
	return e
}

// SetConnection installs the transport used for outgoing frames.
func (e *Engine) SetConnection(conn Connection) {
	e.loop.Post(func() { e.conn = conn })
}

// SetFrameCallback installs the raw-frame observer.
func (e *Engine) SetFrameCallback(fn FrameCallback) {
	e.loop.Post(func() { e.frameCB = fn })
}

// SetLCCFrameCallback installs the parsed-frame observer.
func (e *Engine) SetLCCFrameCallback(fn LCCFrameCallback) {
	e.loop.Post(func() { e.lccFrameCB = fn })
}

// SetAdvertiseEventsHook installs the extension point invoked exactly once
// per transition into control state permitted + message state initialized,
// mirroring the original's overridable advertise_events().
func (e *Engine) SetAdvertiseEventsHook(fn func()) {
	e.loop.Post(func() { e.onInitialized = fn })
}

// Join cancels all pending timers and resets to the inhibited state,
// mirroring LccProtocol.join -- used when the transport is being torn down.
func (e *Engine) Join() {
	done := make(chan struct{})
	e.loop.Post(func() {
		e.stopTimer()
		e.controlState = ControlInhibited
		e.messageState = MessageReady
		close(done)
	})
	<-done
	e.loop.Close()
}

// NodeAlias returns the currently reserved alias (0 if none).
func (e *Engine) NodeAlias() Alias {
	ch := make(chan Alias, 1)
	e.loop.Post(func() { ch <- e.alias })
	return <-ch
}

// ControlState returns the current link-layer state.
func (e *Engine) ControlState() ControlState {
	ch := make(chan ControlState, 1)
	e.loop.Post(func() { ch <- e.controlState })
	return <-ch
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// armTimer schedules fn to run on the loop after d, tagged with the
// reservation generation active when it was armed. The timer fires a
// no-op if the generation has since moved on, giving the "late-firing
// timer whose precondition no longer holds is a no-op" safety spec.md
// 5 requires without needing every call site to re-check by hand.
func (e *Engine) armTimer(d time.Duration, gen uint64, fn func()) {
	e.stopTimer()
	e.timer = time.AfterFunc(d, func() {
		e.loop.Post(func() {
			if e.reservation != gen {
				return
			}
			fn()
		})
	})
}

// nodeLockFor returns the per-destination-alias mutex used by §4.F
// operations to serialize request/response exchanges, creating it on
// first use.
func (e *Engine) nodeLockFor(dst Alias) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.nodeLocks[dst]
	if !ok {
		l = &sync.Mutex{}
		e.nodeLocks[dst] = l
	}
	return l
}

// dispatchLCC hands a parsed frame to the registry and the application
// callback, in that order -- a registered waiter always sees a frame
// before the general observer does, matching the original's handler
// dispatch happening inside parse_frame before frame_callback fires.
func (e *Engine) dispatchLCC(f Frame, sentByUs bool) {
	e.registry.Dispatch(f)
	if e.lccFrameCB != nil {
		e.lccFrameCB(f, sentByUs)
	}
}

// HandleIncoming is the entry point for every frame arriving from the
// transport. It runs the codec, feeds reassembly buffers, services
// link-layer handlers, and finally dispatches to callbacks/registry --
// all on the engine's own goroutine.
func (e *Engine) HandleIncoming(fr can.Frame) {
	e.loop.Post(func() { e.handleIncoming(fr) })
}

func (e *Engine) handleIncoming(fr can.Frame) {
	if e.frameCB != nil {
		e.frameCB(fr, false)
	}
	f, err := Parse(fr)
	if err != nil {
		logging.L().Debug("lcc_parse_error", "error", err)
		return
	}

	if !f.Complete {
		channel := e.addrReasm
		if f.Kind == KindDatagram {
			channel = e.dgReasm
		}
		body, done := channel.Feed(f.SourceAlias, f.DestAlias, f.Multipart, rawBodyOf(f))
		if !done {
			return
		}
		f = completeFrame(f, body)
	}

	e.handleCCFrame(f)
	e.handleLinkLayerQuery(f)
	e.dispatchLCC(f, false)
}

// rawBodyOf extracts the fragment bytes carried by an incomplete frame's
// opaque payload.
func rawBodyOf(f Frame) []byte {
	switch p := f.Payload.(type) {
	case OpaquePayload:
		return p.Raw
	default:
		return nil
	}
}

// completeFrame re-derives the final tagged payload once reassembly has
// produced the full byte string, rather than mutating the in-flight
// frame's inner fields as the original does.
func completeFrame(f Frame, body []byte) Frame {
	f.Complete = true
	switch f.Kind {
	case KindDatagram:
		f.Payload = buildDatagramPayload(body)
	case KindSimpleNodeIdentInfoReply:
		f.Payload = SimpleNodeIdentInfoReplyPayload{Info: ParseSimpleNodeInformation(body)}
	default:
		f.Payload = OpaquePayload{Raw: body}
	}
	return f
}

func (e *Engine) send(f Frame) error {
	fr, err := Build(f, e.alias)
	if err != nil {
		return err
	}
	if e.conn == nil {
		return ErrTransport
	}
	if err := e.conn.SendFrame(fr); err != nil {
		return err
	}
	if e.frameCB != nil {
		e.frameCB(fr, true)
	}
	if parsed, perr := Parse(fr); perr == nil {
		e.dispatchLCC(parsed, true)
	}
	return nil
}
