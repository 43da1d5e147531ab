// Package jittercalc implements JitterCalc (spec §4.5): a sliding-window
// estimator of inter-arrival jitter over genuine (non-concealed) media
// frames, plus the supplementary PopFrequencyCounter used for fps/delay
// reporting.
package jittercalc

import (
	"math"
	"sync"
	"time"

	"mediaclient/internal/metaqueue"
)

const (
	// windowMs is the target sliding-window duration (~1s).
	windowMs = 1000
	// defaultNumStd is k in jitter_ms = ceil(k*sigma)+1.
	defaultNumStd = 4
)

// JitterCalc tracks a sliding window of |Δrecv_ms - ms_per_packet| samples
// for consecutive genuine frames, and exposes the resulting jitter estimate.
type JitterCalc struct {
	mu sync.Mutex

	NumStd uint

	values       []uint
	prevSeq      uint64
	havePrevSeq  bool
	prevRecvTime time.Time
}

// New returns a JitterCalc with the default 4-sigma target.
func New() *JitterCalc {
	return &JitterCalc{NumStd: defaultNumStd}
}

// Update scans mq for consecutive (kind=Media, prev_kind=None) frame pairs
// and records their inter-arrival jitter, then prunes the window to
// window_ms / msPerPacket samples. msPerPacket == 0 is a no-op.
func (j *JitterCalc) Update(mq *metaqueue.MetaQueue, msPerPacket uint) {
	if msPerPacket == 0 {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, f := range mq.Frames() {
		if f.Kind != metaqueue.KindMedia || f.PrevKind != metaqueue.KindNone {
			continue
		}
		currSeq := f.Packet.EncodedSequenceNum

		if !j.havePrevSeq {
			j.prevRecvTime = f.RecvTime
			j.prevSeq = currSeq
			j.havePrevSeq = true
			continue
		}

		switch {
		case currSeq <= j.prevSeq:
			// already evaluated on a prior scan
			continue
		case currSeq == j.prevSeq+1:
			deltaMs := f.RecvTime.Sub(j.prevRecvTime).Milliseconds()
			jitter := absInt64(deltaMs - int64(msPerPacket))
			j.values = append(j.values, uint(jitter))
		}
		j.prevRecvTime = f.RecvTime
		j.prevSeq = currSeq
	}

	limit := int(windowMs / msPerPacket)
	if len(j.values) > limit {
		j.values = j.values[len(j.values)-limit:]
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// standardDeviation returns ceil(numStd * sigma) + 1 over the current
// window, or 0 if the window is empty.
func (j *JitterCalc) standardDeviation(numStd uint) uint {
	if len(j.values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range j.values {
		sum += float64(v)
	}
	n := float64(len(j.values))
	mean := sum / n

	var variance float64
	for _, v := range j.values {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= n

	sigma := math.Sqrt(variance)
	return uint(math.Ceil(float64(numStd)*sigma)) + 1
}

// JitterMs returns the current jitter estimate in milliseconds.
func (j *JitterCalc) JitterMs() uint {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.standardDeviation(j.NumStd)
}

// PopFrequencyCounter tracks the inter-pop delay of a stream to report its
// effective frame rate (spec §9 supplemental: used for adaptive reporting
// alongside JitterCalc).
type PopFrequencyCounter struct {
	mu              sync.Mutex
	popDelays       []time.Duration
	intervalSum     time.Duration
	lastPop         time.Time
	firstPop        bool
	measureInterval time.Duration
}

// NewPopFrequencyCounter returns a counter with the default 1s measurement
// window.
func NewPopFrequencyCounter() *PopFrequencyCounter {
	return &PopFrequencyCounter{firstPop: true, measureInterval: time.Second}
}

// Update records a pop event at now.
func (p *PopFrequencyCounter) Update(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.firstPop {
		p.firstPop = false
		p.lastPop = now
		return
	}

	delta := now.Sub(p.lastPop)
	p.lastPop = now

	if p.intervalSum+delta > p.measureInterval && len(p.popDelays) > 0 {
		p.intervalSum -= p.popDelays[0]
		p.popDelays = p.popDelays[1:]
	}

	p.intervalSum += delta
	p.popDelays = append(p.popDelays, delta)
}

// AveragePopDelay returns the moving-average inter-pop delay.
func (p *PopFrequencyCounter) AveragePopDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.popDelays) == 0 {
		return 0
	}
	return p.intervalSum / time.Duration(len(p.popDelays))
}

// FPS returns the moving-average frames-per-second, derived from
// AveragePopDelay.
func (p *PopFrequencyCounter) FPS() uint {
	avg := p.AveragePopDelay()
	if avg == 0 {
		return 0
	}
	return uint(time.Second / avg)
}
