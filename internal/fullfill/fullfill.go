// Package fullfill implements an elastic byte reservoir that bridges the
// mismatch between incoming packet sizes and the fixed-length pulls a render
// thread makes, while preserving the source timestamp of whatever sample
// ends up at the front of a pull.
package fullfill

import "sync"

// entry is one (payload, source timestamp) pair waiting to be drained.
type entry struct {
	data []byte
	ts   uint64 // source_record_time, microseconds; 0 for synthesised (PLC) audio
}

// FullFill is a FIFO of buffers with a read cursor into the head entry.
// Safe for concurrent use; it owns its own mutex (spec §5).
//
// Invariant: readFront < len(head.data); draining exactly len(head.data)
// frees the head and resets the cursor, a partial drain advances the cursor
// and leaves the head in place.
type FullFill struct {
	mu sync.Mutex

	buffers []entry
	readFront int

	// SampleDivisor is bytes-per-sample across all channels (e.g. 2 ch *
	// 4 bytes for stereo float32). Used to translate a residual byte
	// offset into elapsed samples for timestamp interpolation.
	SampleDivisor uint32
	// SampleRate is the audio sample rate in Hz, used for the same
	// timestamp interpolation.
	SampleRate uint32
}

// New returns an empty reservoir. sampleDivisor and sampleRate are used only
// for timestamp interpolation within a partially-consumed head buffer; both
// default sensibly to the common 48 kHz mono float32 case if left zero.
func New(sampleDivisor, sampleRate uint32) *FullFill {
	if sampleDivisor == 0 {
		sampleDivisor = 4 // float32 mono
	}
	if sampleRate == 0 {
		sampleRate = 48000
	}
	return &FullFill{SampleDivisor: sampleDivisor, SampleRate: sampleRate}
}

// AddBuffer appends a (payload, timestamp) pair to the tail of the reservoir.
func (f *FullFill) AddBuffer(data []byte, timestamp uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.buffers = append(f.buffers, entry{data: cp, ts: timestamp})
}

// TotalInBuffers returns the number of bytes available to be drained, i.e.
// the sum of all buffered payloads minus the read cursor already consumed
// from the head.
func (f *FullFill) TotalInBuffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalLocked()
}

func (f *FullFill) totalLocked() int {
	total := 0
	for _, e := range f.buffers {
		total += len(e.data)
	}
	return total - f.readFront
}

// calculateTimestamp derives the timestamp of the sample at byte offset
// readFront within a head buffer whose first byte carries timestamp ts.
func (f *FullFill) calculateTimestamp(readFront int, ts uint64) uint64 {
	if readFront == 0 || ts == 0 || f.SampleDivisor == 0 || f.SampleRate == 0 {
		return ts
	}
	samples := uint64(readFront) / uint64(f.SampleDivisor)
	microsPassed := samples * 1_000_000 / uint64(f.SampleRate)
	return ts + microsPassed
}

// Fill drains exactly fillLength bytes into a freshly allocated slice, along
// with the timestamp of the first sample drained. It returns ok=false
// (leaving the reservoir untouched) if fewer than fillLength bytes are
// currently available.
func (f *FullFill) Fill(fillLength int) (data []byte, timestamp uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.totalLocked() < fillLength {
		return nil, 0, false
	}

	out := make([]byte, 0, fillLength)
	var ts uint64
	tsSet := false

	for len(out) < fillLength {
		head := &f.buffers[0]
		available := len(head.data) - f.readFront
		toFill := fillLength - len(out)

		if !tsSet {
			ts = f.calculateTimestamp(f.readFront, head.ts)
			tsSet = true
		}

		switch {
		case available == toFill:
			out = append(out, head.data[f.readFront:]...)
			f.readFront = 0
			f.buffers = f.buffers[1:]
		case available < toFill:
			out = append(out, head.data[f.readFront:]...)
			f.readFront = 0
			f.buffers = f.buffers[1:]
		default:
			out = append(out, head.data[f.readFront:f.readFront+toFill]...)
			f.readFront += toFill
		}
	}

	return out, ts, true
}

// Reset discards all buffered data.
func (f *FullFill) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = nil
	f.readFront = 0
}
