package lcc

import (
	"time"

	"github.com/ampio/lcc-gateway/internal/logging"
	"github.com/ampio/lcc-gateway/internal/metrics"
)

// duplicateNodeIDEvent is the fixed Producer/Consumer event reported when
// an AMD carrying our own Node ID arrives while permitted (6.2.6 Optional
// Duplicate Node ID Handling).
const duplicateNodeIDEvent EventID = 0x0101000000000201

func isCANControlKind(k Kind) bool {
	switch k {
	case KindCanControlCheckID, KindReserveID, KindAliasMapDefinition,
		KindAliasMapEnquiry, KindAliasMapReset, KindErrorInformationReport:
		return true
	}
	return false
}

// handleCCFrame implements 6.2.5 Node ID Alias Collision Handling and the
// reserving-state restart rule, both gated on the incoming frame's source
// alias colliding with our own.
func (e *Engine) handleCCFrame(f Frame) {
	if !isCANControlKind(f.Kind) || f.SourceAlias != e.alias {
		return
	}

	if e.controlState == ControlReserving {
		logging.L().Debug("lcc_alias_collision_reserving", "alias", e.alias)
		metrics.IncLCCAliasCollision()
		e.restartReservationAfter(time.Second)
		return
	}

	if f.Kind == KindCanControlCheckID {
		_ = e.send(Frame{Kind: KindReserveID, Payload: ReserveIDPayload{}})
		return
	}

	if e.controlState == ControlPermitted {
		logging.L().Debug("lcc_alias_collision_permitted", "alias", e.alias)
		metrics.IncLCCAliasCollision()
		e.setControlState(ControlInhibited)
		_ = e.send(Frame{Kind: KindAliasMapReset, Payload: AliasMapResetPayload{NodeID: e.nodeID}})
		e.restartReservationAfter(time.Second)
	}
}

func (e *Engine) restartReservationAfter(d time.Duration) {
	e.reservation++
	gen := e.reservation
	e.armTimer(d, gen, func() { e.reserveNodeAlias() })
}

// handleLinkLayerQuery services AME/AMD/AMR/VerifiedNodeId while
// permitted and maintains the alias <-> Node ID map regardless of state,
// per spec.md 4.D "Service of link-layer queries".
func (e *Engine) handleLinkLayerQuery(f Frame) {
	switch f.Kind {
	case KindAliasMapDefinition:
		p, ok := f.Payload.(AliasMapDefinitionPayload)
		if !ok {
			return
		}
		if e.controlState == ControlPermitted && p.NodeID == e.nodeID {
			_ = e.send(Frame{Kind: KindProducerConsumerReport, Payload: ProducerConsumerReportPayload{EventID: duplicateNodeIDEvent}})
			metrics.IncLCCAliasCollision()
			e.setControlState(ControlCollision)
		}
		e.addAlias(p.NodeID, f.SourceAlias)

	case KindAliasMapReset:
		p, ok := f.Payload.(AliasMapResetPayload)
		if !ok {
			return
		}
		e.removeAlias(p.NodeID, f.SourceAlias)

	case KindAliasMapEnquiry:
		if e.controlState != ControlPermitted {
			return
		}
		p, ok := f.Payload.(AliasMapEnquiryPayload)
		if !ok {
			return
		}
		if !p.HasNodeID || p.NodeID == e.nodeID {
			_ = e.send(Frame{Kind: KindAliasMapDefinition, Payload: AliasMapDefinitionPayload{NodeID: e.nodeID}})
		}

	case KindVerifiedNodeId:
		p, ok := f.Payload.(VerifiedNodeIdPayload)
		if ok {
			e.addAlias(p.NodeID, f.SourceAlias)
		}
	}
}

func (e *Engine) addAlias(nodeID NodeID, alias Alias) {
	e.nodeIDToAlias[nodeID] = alias
	e.aliasToNodeID[alias] = nodeID
}

func (e *Engine) removeAlias(nodeID NodeID, alias Alias) {
	delete(e.nodeIDToAlias, nodeID)
	delete(e.aliasToNodeID, alias)
}

// UpdateNodeID re-seeds the alias PRNG for a new Node ID and, if a
// connection is already attached, restarts reservation. Releasing a
// currently-permitted alias first mirrors update_node_id's AMR-before-
// change ordering.
func (e *Engine) UpdateNodeID(id NodeID) {
	done := make(chan struct{})
	e.loop.Post(func() {
		defer close(done)
		e.aliasGen = newAliasGenerator(id)
		if id == e.nodeID {
			return
		}
		if e.controlState == ControlPermitted {
			_ = e.send(Frame{Kind: KindAliasMapReset, Payload: AliasMapResetPayload{NodeID: e.nodeID}})
		}
		e.nodeID = id
		if e.conn != nil {
			e.reserveNodeAlias()
		}
	})
	<-done
}

// ReserveNodeAlias starts (or restarts) the alias reservation sequence.
func (e *Engine) ReserveNodeAlias() {
	done := make(chan struct{})
	e.loop.Post(func() {
		e.reserveNodeAlias()
		close(done)
	})
	<-done
}

// reserveNodeAlias implements step 1-3 of spec.md 4.D's reservation
// sequence. It must run on the loop goroutine.
func (e *Engine) reserveNodeAlias() {
	e.stopTimer()
	if e.aliasGen == nil {
		e.aliasGen = newAliasGenerator(e.nodeID)
	}
	e.alias = e.aliasGen.Next()
	e.reservation++
	gen := e.reservation
	e.setControlState(ControlReserving)
	metrics.IncLCCAliasReservation()
	logging.L().Debug("lcc_reserving_alias", "alias", e.alias)

	seq7, seq6, seq5, seq4 := cidNibblePairs(e.nodeID)
	steps := []struct {
		seq  uint8
		data uint16
	}{{7, seq7}, {6, seq6}, {5, seq5}, {4, seq4}}

	for _, s := range steps {
		if e.conn == nil {
			e.armTimer(2*time.Second, gen, func() { e.reserveNodeAlias() })
			return
		}
		fr := BuildCheckID(s.seq, s.data, e.alias)
		if err := e.conn.SendFrame(fr); err != nil {
			e.armTimer(2*time.Second, gen, func() { e.reserveNodeAlias() })
			return
		}
		if e.frameCB != nil {
			e.frameCB(fr, true)
		}
		if parsed, perr := Parse(fr); perr == nil {
			e.dispatchLCC(parsed, true)
		}
	}

	e.armTimer(200*time.Millisecond, gen, func() { e.reserveNodeAlias2(gen) })
}

// reserveNodeAlias2 implements step 4-5: after the silence window, claim
// the alias with RID then announce it with AMD.
func (e *Engine) reserveNodeAlias2(gen uint64) {
	if e.controlState != ControlReserving || e.reservation != gen {
		return
	}
	if err := e.send(Frame{Kind: KindReserveID, Payload: ReserveIDPayload{}}); err != nil {
		e.armTimer(500*time.Millisecond, gen, func() { e.reserveNodeAlias() })
		return
	}
	_ = e.send(Frame{Kind: KindAliasMapDefinition, Payload: AliasMapDefinitionPayload{NodeID: e.nodeID}})
	e.setControlState(ControlPermitted)
}

var controlStateLabels = []string{
	string(ControlInhibited), string(ControlReserving), string(ControlPermitted), string(ControlCollision),
}

func (e *Engine) setControlState(s ControlState) {
	e.controlState = s
	metrics.SetLCCNodeState(controlStateLabels, string(s))
	e.updateMessageState()
}

// updateMessageState implements the message-layer gate: initialized is
// entered exactly once per permitted entry, and any departure from
// permitted resets it to ready.
func (e *Engine) updateMessageState() {
	if e.controlState == ControlPermitted && e.messageState == MessageReady {
		if err := e.send(Frame{Kind: KindInitializationComplete, Payload: InitializationCompletePayload{NodeID: e.nodeID}}); err == nil {
			e.messageState = MessageInitialized
			if e.onInitialized != nil {
				e.onInitialized()
			}
		}
	} else if e.controlState != ControlPermitted && e.messageState == MessageInitialized {
		e.messageState = MessageReady
	}
}

// EmitEvent sends a Producer/Consumer event report. It fails with
// ErrNotInitialized if the message layer has not completed initialization.
func (e *Engine) EmitEvent(id EventID) error {
	errCh := make(chan error, 1)
	e.loop.Post(func() {
		if e.messageState != MessageInitialized {
			errCh <- ErrNotInitialized
			return
		}
		errCh <- e.send(Frame{Kind: KindProducerConsumerReport, Payload: ProducerConsumerReportPayload{EventID: id}})
	})
	return <-errCh
}
