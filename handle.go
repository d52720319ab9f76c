package gobwt

import "sync"

// Handle identifies a running session. Handles are opaque, never reused and
// safe to probe: a stale or fabricated handle fails with ErrorInvalidHandle
// instead of touching another session.
//
// The low 32 bits are a slot index, the high 32 bits a per-slot generation
// bumped on every removal.
type Handle uint64

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 { return uint32(h) }
func (h Handle) gen() uint32  { return uint32(h >> 32) }

type handleTable struct {
	mu    sync.Mutex
	slots []*session
	gens  []uint32
	free  []uint32
}

// sessions is the process-wide handle table.
var sessions handleTable

func (t *handleTable) insert(s *session) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[slot] = s
		return makeHandle(slot, t.gens[slot])
	}
	slot := uint32(len(t.slots))
	t.slots = append(t.slots, s)
	t.gens = append(t.gens, 1)
	return makeHandle(slot, 1)
}

func (t *handleTable) get(h Handle) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := h.slot()
	if int(slot) >= len(t.slots) || t.slots[slot] == nil || t.gens[slot] != h.gen() {
		return nil, false
	}
	return t.slots[slot], true
}

// remove atomically claims and clears a slot. At most one caller wins for a
// given handle, which is what makes double-Shutdown and the shutdown/boot
// failure race safe.
func (t *handleTable) remove(h Handle) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := h.slot()
	if int(slot) >= len(t.slots) || t.slots[slot] == nil || t.gens[slot] != h.gen() {
		return nil, false
	}
	s := t.slots[slot]
	t.slots[slot] = nil
	t.gens[slot]++
	t.free = append(t.free, slot)
	return s, true
}
