package lcc

import (
	"sync"

	"github.com/ampio/lcc-gateway/internal/metrics"
)

// reassemblyKey identifies one in-flight multi-frame message.
type reassemblyKey struct {
	source Alias
	dest   Alias
}

// reassembler accumulates multi-part frames keyed by (source_alias,
// destination_alias), per spec.md 4.C. A `first` frame opens a buffer, a
// `middle` frame extends it, a `last` frame completes and removes it.
// `only` frames never touch the buffer at all. At most one message may be
// in flight per key: a `first` arriving while a buffer for that key is
// still open discards the stale buffer and starts over, since the peer
// can only mean a fresh message (the source never interleaves two
// messages to the same destination on one channel).
//
// Two independent instances exist in the engine: one for addressed MTI
// payloads, one for datagrams -- never shared, per spec.md's "addressed-
// MTI vs datagram are separate channels" invariant.
type reassembler struct {
	mu      sync.Mutex
	buffers map[reassemblyKey][]byte
}

func newReassembler() *reassembler {
	return &reassembler{buffers: make(map[reassemblyKey][]byte)}
}

// Feed applies one fragment. It returns the completed payload and true
// once a `last` or `only` fragment arrives; otherwise it returns nil,
// false while the message is still being assembled.
func (r *reassembler) Feed(source, dest Alias, m MultipartFlag, data []byte) ([]byte, bool) {
	if m == MultipartOnly {
		return data, true
	}

	key := reassemblyKey{source: source, dest: dest}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m {
	case MultipartFirst:
		if _, stale := r.buffers[key]; stale {
			metrics.IncLCCReassemblyDrop()
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		r.buffers[key] = buf
		return nil, false
	case MultipartMiddle:
		buf, ok := r.buffers[key]
		if !ok {
			// No open message for this pair: a middle fragment with no
			// preceding first is out of sequence. A buffer is started
			// anyway, so a later `last` completes with a payload that
			// begins at this fragment, visibly short to the caller.
			buf = nil
		}
		buf = append(buf, data...)
		r.buffers[key] = buf
		return nil, false
	case MultipartLast:
		buf := append(r.buffers[key], data...)
		delete(r.buffers, key)
		return buf, true
	}
	return nil, false
}

// Drop discards any in-flight buffer for a key, e.g. when an alias is
// reclaimed by a new node and stale partial messages must not survive it.
func (r *reassembler) Drop(source, dest Alias) {
	r.mu.Lock()
	delete(r.buffers, reassemblyKey{source: source, dest: dest})
	r.mu.Unlock()
}

// Pending reports how many messages are currently being assembled, for
// metrics/diagnostics.
func (r *reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
