package lcc

import (
	"context"
	"time"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/metrics"
)

const (
	inquiryTimeout  = 2 * time.Second
	datagramTimeout = 5 * time.Second
	cdiPreSleep     = 50 * time.Millisecond
	interFrameGap   = time.Millisecond
	readWriteBlock  = 64
)

// sendFrame transmits a fully-built raw CAN frame via the loop goroutine,
// the low-level primitive the request API uses for datagram chunks (which
// arrive pre-built from BuildDatagramFrame rather than as a Frame).
func (e *Engine) sendFrame(fr can.Frame) error {
	errCh := make(chan error, 1)
	e.loop.Post(func() {
		if e.conn == nil {
			errCh <- ErrTransport
			return
		}
		err := e.conn.SendFrame(fr)
		if err == nil {
			if e.frameCB != nil {
				e.frameCB(fr, true)
			}
			// Datagram chunks built directly by the request helpers only
			// carry a complete logical frame once the final chunk lands;
			// dispatch the LCC callback once reassembly is not needed.
			if parsed, perr := Parse(fr); perr == nil && parsed.Complete {
				e.dispatchLCC(parsed, true)
			}
		}
		errCh <- err
	})
	return <-errCh
}

// sendMTI transmits an addressed or global MTI Frame, honoring the
// message-layer gate: only InitializationComplete* may be sent before the
// message state reaches initialized.
func (e *Engine) sendMTI(f Frame) error {
	errCh := make(chan error, 1)
	e.loop.Post(func() {
		if e.messageState != MessageInitialized {
			errCh <- ErrNotInitialized
			return
		}
		errCh <- e.send(f)
	})
	return <-errCh
}

func waitFrame(ctx context.Context, ch <-chan Frame, timeout time.Duration) (Frame, error) {
	select {
	case f := <-ch:
		return f, nil
	case <-time.After(timeout):
		return Frame{}, ErrMissingResponse
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// ProtocolSupportInquiry sends MTI 0x828 and awaits the ProtocolSupportReply
// from dst, timing out after 2s. The per-node lock serializes this against
// any other request/response exchange addressed to the same node.
func (e *Engine) ProtocolSupportInquiry(ctx context.Context, dst Alias) (ProtocolSupport, error) {
	lock := e.nodeLockFor(dst)
	lock.Lock()
	defer lock.Unlock()

	waitCh, cancel := e.registry.Register(func(f Frame) bool {
		return f.SourceAlias == dst && f.Kind == KindProtocolSupportReply
	})
	defer cancel()

	if err := e.sendMTI(Frame{
		Kind: KindProtocolSupportInquiry, DestAlias: dst, HasDest: true,
		Multipart: MultipartOnly, Complete: true, Payload: ProtocolSupportInquiryPayload{},
	}); err != nil {
		return ProtocolSupport{}, err
	}

	f, err := waitFrame(ctx, waitCh, inquiryTimeout)
	if err != nil {
		return ProtocolSupport{}, err
	}
	p, _ := f.ProtocolSupportReply()
	return p.Support, nil
}

// SimpleNodeInformation sends MTI 0xDE8 and awaits a fully-reassembled
// SimpleNodeIdentInfoReply, timing out after 2s.
func (e *Engine) SimpleNodeInformation(ctx context.Context, dst Alias) (SimpleNodeInformation, error) {
	lock := e.nodeLockFor(dst)
	lock.Lock()
	defer lock.Unlock()

	waitCh, cancel := e.registry.Register(func(f Frame) bool {
		return f.SourceAlias == dst && f.Kind == KindSimpleNodeIdentInfoReply && f.Complete
	})
	defer cancel()

	if err := e.sendMTI(Frame{
		Kind: KindSimpleNodeIdentInfoReq, DestAlias: dst, HasDest: true,
		Multipart: MultipartOnly, Complete: true, Payload: SimpleNodeIdentInfoRequestPayload{},
	}); err != nil {
		return SimpleNodeInformation{}, err
	}

	f, err := waitFrame(ctx, waitCh, inquiryTimeout)
	if err != nil {
		return SimpleNodeInformation{}, err
	}
	p, _ := f.SimpleNodeIdentInfoReply()
	return p.Info, nil
}

// transmitDatagramChunks splits payload into <=8-byte frames and sends
// them in order, sleeping ~1ms between frames to appease slow nodes. A
// zero-length payload still emits one `only` frame with no data.
func (e *Engine) transmitDatagramChunks(dst, our Alias, payload []byte) error {
	if len(payload) <= 8 {
		return e.sendFrame(BuildDatagramFrame(MultipartOnly, dst, our, payload))
	}

	var chunks [][]byte
	for i := 0; i < len(payload); i += 8 {
		end := i + 8
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}
	for i, c := range chunks {
		m := MultipartMiddle
		switch i {
		case 0:
			m = MultipartFirst
		case len(chunks) - 1:
			m = MultipartLast
		}
		if err := e.sendFrame(BuildDatagramFrame(m, dst, our, c)); err != nil {
			return err
		}
		if i != len(chunks)-1 {
			time.Sleep(interFrameGap)
		}
	}
	return nil
}

// SendDatagram transmits payload as a datagram to dst, then awaits the
// ack (DatagramReceivedOk / DatagramRejected) within 5s, and -- if
// expectedFilter is non-nil -- a second matching frame within another 5s.
// Both waits are registered before the first byte goes on the wire so a
// fast reply can never race ahead of the registration.
func (e *Engine) SendDatagram(ctx context.Context, dst Alias, payload []byte, expectedFilter func(Frame) bool) (Frame, error) {
	lock := e.nodeLockFor(dst)
	lock.Lock()
	defer lock.Unlock()

	our := e.NodeAlias()

	ackCh, cancelAck := e.registry.Register(func(f Frame) bool {
		return f.SourceAlias == dst && f.HasDest && f.DestAlias == our &&
			(f.Kind == KindDatagramReceivedOk || f.Kind == KindDatagramRejected)
	})
	defer cancelAck()

	var expectCh <-chan Frame
	if expectedFilter != nil {
		var cancelExpect func()
		expectCh, cancelExpect = e.registry.Register(expectedFilter)
		defer cancelExpect()
	}

	if err := e.transmitDatagramChunks(dst, our, payload); err != nil {
		return Frame{}, err
	}

	ack, err := waitFrame(ctx, ackCh, datagramTimeout)
	if err != nil {
		metrics.IncLCCDatagramTimeout()
		return Frame{}, err
	}
	if ack.Kind == KindDatagramRejected {
		return Frame{}, ErrProtocol
	}

	if expectCh == nil {
		return Frame{}, nil
	}
	f, err := waitFrame(ctx, expectCh, datagramTimeout)
	if err != nil {
		metrics.IncLCCDatagramTimeout()
	}
	return f, err
}

func memConfigDatagramFilter(dst, our Alias, wantOps ...MemConfigOp) func(Frame) bool {
	return func(f Frame) bool {
		dg, ok := f.Datagram()
		if !ok || dg.MemConfig == nil || f.SourceAlias != dst || !f.HasDest || f.DestAlias != our {
			return false
		}
		for _, op := range wantOps {
			if dg.MemConfig.Op == op {
				return true
			}
		}
		return false
	}
}

// ReadMemoryConfigurationBlock issues a single memory-configuration read
// of 1..64 bytes and returns the reply's data (or *protocol-error* on a
// …Failure reply).
func (e *Engine) ReadMemoryConfigurationBlock(ctx context.Context, dst Alias, space uint8, address uint32, size uint8) ([]byte, error) {
	if size < 1 || size > readWriteBlock {
		return nil, ErrInvalidArgument
	}
	body := append([]byte{MemConfigProtocolType}, BuildMemConfigRead(space, address, size)...)
	filter := memConfigDatagramFilter(dst, e.NodeAlias(), MemConfigOpReadReply, MemConfigOpReadReplyFailure)
	f, err := e.SendDatagram(ctx, dst, body, filter)
	if err != nil {
		return nil, err
	}
	dg, _ := f.Datagram()
	if dg.MemConfig.Op == MemConfigOpReadReplyFailure {
		return nil, ErrProtocol
	}
	return dg.MemConfig.ReadReply.Data, nil
}

// WriteMemoryConfigurationBlock issues a single memory-configuration
// write of up to 64 bytes.
func (e *Engine) WriteMemoryConfigurationBlock(ctx context.Context, dst Alias, space uint8, address uint32, data []byte) error {
	if len(data) < 1 || len(data) > readWriteBlock {
		return ErrInvalidArgument
	}
	body := append([]byte{MemConfigProtocolType}, BuildMemConfigWrite(space, address, data)...)
	filter := memConfigDatagramFilter(dst, e.NodeAlias(), MemConfigOpWriteReply, MemConfigOpWriteReplyFailure)
	f, err := e.SendDatagram(ctx, dst, body, filter)
	if err != nil {
		return err
	}
	dg, _ := f.Datagram()
	if dg.MemConfig.Op == MemConfigOpWriteReplyFailure {
		return ErrProtocol
	}
	return nil
}

// ReadMemoryConfiguration iterates ReadMemoryConfigurationBlock in 64-byte
// chunks until the node returns a short block or the requested size is
// reached, firing progress with the cumulative byte count after each
// block -- see S6.
func (e *Engine) ReadMemoryConfiguration(ctx context.Context, dst Alias, space uint8, address uint32, size uint32, progress func(uint32)) ([]byte, error) {
	var result []byte
	addr := address
	remaining := size
	for remaining > 0 {
		want := remaining
		if want > readWriteBlock {
			want = readWriteBlock
		}
		data, err := e.ReadMemoryConfigurationBlock(ctx, dst, space, addr, uint8(want))
		if err != nil {
			return nil, err
		}
		result = append(result, data...)
		addr += uint32(len(data))
		if progress != nil {
			progress(uint32(len(result)))
		}
		if uint32(len(data)) < want {
			break
		}
		remaining -= uint32(len(data))
	}
	return result, nil
}

// WriteMemoryConfiguration is the symmetric write-side chunked loop.
func (e *Engine) WriteMemoryConfiguration(ctx context.Context, dst Alias, space uint8, address uint32, payload []byte, progress func(uint32)) error {
	addr := address
	written := 0
	for written < len(payload) {
		end := written + readWriteBlock
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[written:end]
		if err := e.WriteMemoryConfigurationBlock(ctx, dst, space, addr, chunk); err != nil {
			return err
		}
		written = end
		addr += uint32(len(chunk))
		if progress != nil {
			progress(uint32(written))
		}
	}
	return nil
}

// ReadMemoryOptions sends the GetMemoryConfigurationOptions datagram and
// returns the parsed reply.
func (e *Engine) ReadMemoryOptions(ctx context.Context, dst Alias) (MemConfigOptionsReply, error) {
	body := append([]byte{MemConfigProtocolType}, BuildMemConfigGetOptions()...)
	filter := memConfigDatagramFilter(dst, e.NodeAlias(), MemConfigOpGetOptionsReply)
	f, err := e.SendDatagram(ctx, dst, body, filter)
	if err != nil {
		return MemConfigOptionsReply{}, err
	}
	dg, _ := f.Datagram()
	return *dg.MemConfig.OptionsReply, nil
}

func (e *Engine) readAddrSpaceInfo(ctx context.Context, dst Alias, space uint8) (MemConfigAddrSpaceInfoReply, error) {
	body := append([]byte{MemConfigProtocolType}, BuildMemConfigGetAddrSpaceInfo(space)...)
	filter := memConfigDatagramFilter(dst, e.NodeAlias(), MemConfigOpGetAddrSpaceInfoRepl)
	f, err := e.SendDatagram(ctx, dst, body, filter)
	if err != nil {
		return MemConfigAddrSpaceInfoReply{}, err
	}
	dg, _ := f.Datagram()
	return *dg.MemConfig.AddrSpaceInfoReply, nil
}

// ReadCDI fetches a node's Configuration Description Information: a
// 50ms settling sleep (nodes that buffer the previous exchange), a check
// that address space 0xFF is present, then a chunked read that
// terminates naturally on the node's short final block.
func (e *Engine) ReadCDI(ctx context.Context, dst Alias, progress func(uint32)) ([]byte, error) {
	time.Sleep(cdiPreSleep)
	info, err := e.readAddrSpaceInfo(ctx, dst, SpaceCDI)
	if err != nil {
		return nil, err
	}
	if !info.Present {
		return nil, ErrProtocol
	}
	return e.ReadMemoryConfiguration(ctx, dst, SpaceCDI, 0, 0xFFFFFFFF, progress)
}
