// Package videoassembler implements VideoAssembler (spec §4.3): fragment
// reassembly for video Packets keyed by source_record_time and ordered by
// fragment_index.
package videoassembler

import (
	"sort"
	"sync"

	"mediaclient/internal/packet"
)

// Assembler reassembles fragmented video frames. Safe for concurrent use.
type Assembler struct {
	mu     sync.Mutex
	deques map[uint64][]*packet.Packet // source_record_time -> fragments, unordered
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{deques: make(map[uint64][]*packet.Packet)}
}

// Push inserts a fragment. Duplicates (same source_record_time + fragment
// index already present) are rejected and ok=false is returned with no
// completion. Once all fragment_count pieces for a timestamp are present
// with indices forming [0..count), they are concatenated in fragment-index
// order into a single Packet, the per-timestamp entry is removed, and the
// assembled Packet is returned.
func (a *Assembler) Push(p *packet.Packet) (assembled *packet.Packet, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frags := a.deques[p.SourceRecordTime]
	for _, existing := range frags {
		if existing.FragmentIndex == p.FragmentIndex {
			return nil, false
		}
	}
	frags = append(frags, p)
	a.deques[p.SourceRecordTime] = frags

	if uint32(len(frags)) != p.FragmentCount {
		return nil, false
	}
	if !consecutive(frags) {
		return nil, false
	}

	sorted := append([]*packet.Packet(nil), frags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FragmentIndex < sorted[j].FragmentIndex })

	total := 0
	for _, f := range sorted {
		total += len(f.Data)
	}
	data := make([]byte, 0, total)
	for _, f := range sorted {
		data = append(data, f.Data...)
	}

	out := sorted[0].Clone()
	out.Data = data
	out.FrameSize = uint32(len(data))
	out.FragmentCount = 1
	out.FragmentIndex = 0

	delete(a.deques, p.SourceRecordTime)
	return out, true
}

// consecutive reports whether frags' FragmentIndex values form exactly
// [0..len(frags)), in any order.
func consecutive(frags []*packet.Packet) bool {
	seen := make(map[uint32]bool, len(frags))
	for _, f := range frags {
		if f.FragmentIndex >= uint32(len(frags)) {
			return false
		}
		seen[f.FragmentIndex] = true
	}
	return len(seen) == len(frags)
}

// Pending returns the number of in-flight (incomplete) timestamps, for
// diagnostics and bounding memory use.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deques)
}

// Prune discards any in-flight reassembly entries older than the given
// cutoff, called periodically so a sender that stalls mid-frame doesn't
// leak memory forever.
func (a *Assembler) Prune(olderThan uint64) (dropped int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ts := range a.deques {
		if ts < olderThan {
			delete(a.deques, ts)
			dropped++
		}
	}
	return dropped
}
