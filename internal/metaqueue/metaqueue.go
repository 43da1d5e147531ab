// Package metaqueue implements the ordered, loss-aware media queue that sits
// between incoming Packets and the audio/video playout paths (spec §4.1).
package metaqueue

import (
	"sync"
	"time"

	"mediaclient/internal/packet"
)

// Kind classifies a MetaFrame's provenance.
type Kind int

const (
	// KindNone is the zero value, used only as PrevKind's "never upgraded" state.
	KindNone Kind = iota
	KindMedia
	KindPlcGenerated
	KindPlcDual
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindPlcGenerated:
		return "plc_generated"
	case KindPlcDual:
		return "plc_dual"
	default:
		return "none"
	}
}

// rank orders kinds for the upgrade rule: Media beats PlcDual beats
// PlcGenerated. Higher is better quality.
func (k Kind) rank() int {
	switch k {
	case KindMedia:
		return 3
	case KindPlcDual:
		return 2
	case KindPlcGenerated:
		return 1
	default:
		return 0
	}
}

// MetaFrame wraps a Packet with jitter-queue bookkeeping. A MetaFrame with
// Kind == KindMedia is never replaced (spec §3).
type MetaFrame struct {
	Packet   *packet.Packet
	Kind     Kind
	PrevKind Kind // kind this entry upgraded from, KindNone if never upgraded
	RecvTime time.Time
}

// Stats are the cumulative, per-queue counters from spec §4.1.
type Stats struct {
	Total                int
	TotalPopped           int
	Lost                  int
	Discarded             int
	DiscardedRepeats      int
	ConcealedInterpolated int
	ConcealedGenerated    int
	Missing               int
}

// defaultMaxAudio and defaultMaxVideo are the backpressure caps from spec §5:
// video can reach 3000 packets/frame * 30 frames/sec for one second of RAW
// 1080p30; audio needs far less headroom since frames are tiny and regular.
const (
	defaultMaxAudio = 3000
	defaultMaxVideo = 3000 * 30
)

// MetaQueue is an ordered-by-sequence-number queue of MetaFrames for one
// stream. It owns its own mutex (spec §5); Push/Pop/LostInQueue/
// InsertAudioPLCs all acquire it internally, so callers never lock directly.
type MetaQueue struct {
	mu      sync.Mutex
	frames  []*MetaFrame
	maxSize int
	stats   Stats
}

// NewAudio returns an empty queue sized for an audio stream.
func NewAudio() *MetaQueue { return &MetaQueue{maxSize: defaultMaxAudio} }

// NewVideo returns an empty queue sized for a video stream.
func NewVideo() *MetaQueue { return &MetaQueue{maxSize: defaultMaxVideo} }

// Size returns the number of frames currently queued.
func (q *MetaQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Stats returns a snapshot of the cumulative counters.
func (q *MetaQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// drainToMax discards frames from the front until the queue is within
// capacity. Must be called with mu held.
func (q *MetaQueue) drainToMax() {
	for len(q.frames) > q.maxSize {
		q.frames = q.frames[1:]
		q.stats.Discarded++
	}
}

// PushAudio inserts pkt in sequence order, applying the monotone-quality
// upgrade rule on collision. hasPopped/lastSeqPopped identify the last
// sequence number ever handed to pop_audio; pass hasPopped=false before the
// first pop.
func (q *MetaQueue) PushAudio(pkt *packet.Packet, hasPopped bool, lastSeqPopped uint64, now time.Time) {
	newSeq := pkt.EncodedSequenceNum
	if hasPopped && newSeq <= lastSeqPopped {
		q.mu.Lock()
		q.stats.Discarded++
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	frame := &MetaFrame{Packet: pkt, Kind: KindMedia, RecvTime: now}

	if len(q.frames) == 0 || newSeq > q.frames[len(q.frames)-1].Packet.EncodedSequenceNum {
		q.frames = append(q.frames, frame)
		q.stats.Total++
		q.drainToMax()
		return
	}

	for i, existing := range q.frames {
		currSeq := existing.Packet.EncodedSequenceNum
		switch {
		case newSeq < currSeq:
			q.frames = insertAt(q.frames, i, frame)
			q.stats.Total++
			q.drainToMax()
			return
		case newSeq == currSeq:
			if existing.Kind.rank() >= frame.Kind.rank() {
				if existing.Kind == KindMedia {
					q.stats.DiscardedRepeats++
				} else {
					// A media arrival can never rank lower than what's
					// queued, so this branch only fires for duplicate PLC
					// upgrades, which cannot happen since PLC is only
					// ever inserted once per gap. Treat defensively as a
					// discarded repeat.
					q.stats.DiscardedRepeats++
				}
				return
			}
			frame.PrevKind = existing.Kind
			switch existing.Kind {
			case KindPlcDual:
				q.stats.ConcealedInterpolated--
			case KindPlcGenerated:
				q.stats.ConcealedGenerated--
			}
			q.frames[i] = frame
			if frame.Kind == KindMedia {
				q.stats.Total++
			} else {
				q.stats.ConcealedInterpolated++
			}
			return
		}
	}
}

// PushVideo inserts pkt in sequence order. Video frames are opaque: there is
// no upgrade rule, only position and duplicate rejection.
func (q *MetaQueue) PushVideo(pkt *packet.Packet, hasPopped bool, lastSeqPopped uint64, now time.Time) {
	newSeq := pkt.EncodedSequenceNum
	if hasPopped && newSeq <= lastSeqPopped {
		q.mu.Lock()
		q.stats.Discarded++
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	frame := &MetaFrame{Packet: pkt, Kind: KindMedia, RecvTime: now}

	if len(q.frames) == 0 || newSeq > q.frames[len(q.frames)-1].Packet.EncodedSequenceNum {
		q.frames = append(q.frames, frame)
		q.stats.Total++
		q.drainToMax()
		return
	}

	for i, existing := range q.frames {
		currSeq := existing.Packet.EncodedSequenceNum
		if newSeq < currSeq {
			q.frames = insertAt(q.frames, i, frame)
			q.stats.Total++
			q.drainToMax()
			return
		}
		if newSeq == currSeq {
			q.stats.DiscardedRepeats++
			return
		}
	}
}

func insertAt(frames []*MetaFrame, i int, frame *MetaFrame) []*MetaFrame {
	frames = append(frames, nil)
	copy(frames[i+1:], frames[i:])
	frames[i] = frame
	return frames
}

// Pop removes and returns the head frame, or ok=false when empty.
func (q *MetaQueue) Pop(now time.Time) (*MetaFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		q.stats.Missing++
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	q.stats.TotalPopped++
	return f, true
}

// Front peeks at the head frame without removing it.
func (q *MetaQueue) Front() (*MetaFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	return q.frames[0], true
}

// Frames returns a snapshot slice of all queued frames, head first. Callers
// must not mutate the returned slice's MetaFrame pointers.
func (q *MetaQueue) Frames() []*MetaFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*MetaFrame, len(q.frames))
	copy(out, q.frames)
	return out
}

// LostInQueue counts positions where the sequence jumps by more than one
// relative to lastSeqPopped, and separately returns the number of PLC
// entries already sitting in the queue as concealment for those gaps.
func (q *MetaQueue) LostInQueue(hasPopped bool, lastSeqPopped uint64) (lost int, numPlc int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prevSeq := lastSeqPopped
	first := !hasPopped
	for _, f := range q.frames {
		seq := f.Packet.EncodedSequenceNum
		if !first && seq != prevSeq+1 {
			lost++
		}
		first = false
		prevSeq = seq
		if f.Kind == KindPlcGenerated || f.Kind == KindPlcDual {
			numPlc++
		}
	}
	return lost, numPlc
}

// PlcFactory creates a concealment Packet for the given missing sequence
// number, sized appropriately for one audio frame.
type PlcFactory func(seq uint64) *packet.Packet

// InsertAudioPLCs walks the queue and, for every gap between consecutive
// entries, inserts KindPlcGenerated frames produced by makePlc. Idempotent:
// running it again after inserting PLCs finds no remaining gaps, since the
// upgrade rule in PushAudio never lets quality regress.
func (q *MetaQueue) InsertAudioPLCs(now time.Time, makePlc PlcFactory) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) < 2 {
		return
	}

	out := make([]*MetaFrame, 0, len(q.frames))
	prevSeq := q.frames[0].Packet.EncodedSequenceNum
	out = append(out, q.frames[0])

	for _, f := range q.frames[1:] {
		currSeq := f.Packet.EncodedSequenceNum
		if diff := currSeq - prevSeq; diff > 1 {
			missing := prevSeq + 1
			for i := uint64(0); i < diff-1; i++ {
				plcPkt := makePlc(missing)
				plcPkt.EncodedSequenceNum = missing
				out = append(out, &MetaFrame{
					Packet:   plcPkt,
					Kind:     KindPlcGenerated,
					RecvTime: now,
				})
				missing++
			}
		}
		out = append(out, f)
		prevSeq = currSeq
	}

	q.frames = out
}

// TotalPacketBytes sums the payload length of every queued frame.
func (q *MetaQueue) TotalPacketBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, f := range q.frames {
		total += len(f.Packet.Data)
	}
	return total
}

// Empty reports whether the queue currently holds no frames.
func (q *MetaQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) == 0
}
