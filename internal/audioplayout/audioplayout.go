// Package audioplayout implements AudioPlayout (spec §4.7): the pop_audio
// contract that turns a per-stream MetaQueue into a steady stream of
// fixed-length audio buffers, concealing loss and tracking lip sync.
package audioplayout

import (
	"fmt"
	"time"

	"mediaclient/internal/audioassembler"
	"mediaclient/internal/fullfill"
	"mediaclient/internal/jittercalc"
	"mediaclient/internal/leakybucket"
	"mediaclient/internal/lipsync"
	"mediaclient/internal/metaqueue"
	"mediaclient/internal/packet"
	"mediaclient/internal/silence"
)

// maxDepthAdjustmentsPerCall bounds how many frames one PopAudio call may
// inject or drop to absorb silence-driven skew, mirroring the original's
// shared num_depth_adjustments counter (jitter.cc:263) so a single call
// can't drain an entire queue of silent frames at once.
const maxDepthAdjustmentsPerCall = 1

// PLCProducer creates a concealment Packet of byteLen bytes. Implemented by
// *audioassembler.Assembler; a nil PLCProducer falls back to silence via
// ZeroPayloadFunc.
type PLCProducer interface {
	CreatePLC(byteLen int) (*packet.Packet, error)
}

// ZeroPayloadFunc produces byteLen bytes of silence when no decoder is
// available.
type ZeroPayloadFunc func(byteLen int) *packet.Packet

// Resampler applies a playout speed ratio to a buffer of F32 samples,
// narrowed from github.com/tphakala/go-audio-resampler's real API so tests
// can substitute a fake instead of linking the SIMD resampler. Used to
// absorb skew continuously during active speech, as a complement to the
// silence-driven inject/drop path below (spec §4.7).
type Resampler interface {
	Resample(samples []float32, srcRate, dstRate int) []float32
}

// Playout drives pop_audio for one (client_id, source_id) audio stream.
type Playout struct {
	SourceID uint64

	MQ     *metaqueue.MetaQueue
	Bucket *leakybucket.LeakyBucket
	Jitter *jittercalc.JitterCalc
	Full   *fullfill.FullFill
	Sync   *lipsync.Sync

	// Silence is nil for non-F32 streams; every frame is then treated as
	// non-silent per spec §4.4.
	Silence *silence.Detector

	// Resampler may be nil, which leaves active-speech frames untouched on
	// the ratio!=1.0 path; that path only ever resamples MediaF32 frames.
	Resampler  Resampler
	SampleRate int

	PLC       PLCProducer
	ZeroFill  ZeroPayloadFunc
	FrameSize int // frame byte length, for PLC sizing

	MsPerPacket uint // falls back to 10 if zero

	lastSeqPopped uint64
	hasPopped     bool

	// IdleClient marks a stream the host hasn't started popping from yet;
	// while true every push trims the queue head to the recommended fill
	// level instead of letting it grow unbounded.
	IdleClient bool
}

func (p *Playout) msPerPacket() uint {
	if p.MsPerPacket == 0 {
		return 10
	}
	return p.MsPerPacket
}

// queueDepthMs approximates the queued audio in milliseconds: each queued
// frame represents one ms_per_packet interval of audio.
func (p *Playout) queueDepthMs() uint {
	return uint(p.MQ.Size()) * p.msPerPacket()
}

// queueMonitor runs the jitter and leaky-bucket ticks ahead of a pop.
func (p *Playout) queueMonitor(now time.Time) {
	p.Jitter.Update(p.MQ, p.msPerPacket())
	lost, _ := p.MQ.LostInQueue(p.hasPopped, p.lastSeqPopped)
	p.Bucket.Tick(now, p.queueDepthMs(), uint(lost), p.Jitter.JitterMs(), p.msPerPacket(), 0)
}

func (p *Playout) makePLC() *packet.Packet {
	if p.PLC != nil {
		if pkt, err := p.PLC.CreatePLC(p.FrameSize); err == nil {
			return pkt
		}
	}
	if p.ZeroFill != nil {
		return p.ZeroFill(p.FrameSize)
	}
	return &packet.Packet{Data: make([]byte, p.FrameSize)}
}

func (p *Playout) isSilence() bool {
	return p.Silence != nil && p.Silence.IsSilence()
}

// PopAudio implements the pop_audio contract for this stream. source_id
// mismatch is the caller's responsibility to check before calling.
func (p *Playout) PopAudio(now time.Time, lengthBytes int) (*packet.Packet, error) {
	p.queueMonitor(now)

	depthAdjustmentsThisCall := 0

	for p.Full.TotalInBuffers() < lengthBytes {
		jitterMs := p.Jitter.JitterMs()

		if p.Bucket.InitialFill(p.queueDepthMs(), jitterMs) {
			pkt := p.makePLC()
			p.Full.AddBuffer(pkt.Data, pkt.SourceRecordTime)
			continue
		}

		ratio := p.Bucket.ResampleRatio()

		if ratio > 1.0 && depthAdjustmentsThisCall < maxDepthAdjustmentsPerCall && p.isSilence() {
			depthAdjustmentsThisCall++
			pkt := p.makePLC()
			p.Bucket.AdjustDepthTrackerForDiscardedPackets(1)
			p.Full.AddBuffer(pkt.Data, pkt.SourceRecordTime)
			continue
		}

		frame, ok := p.MQ.Pop(now)
		if !ok {
			p.Bucket.EmptyBucket(now)
			pkt := p.makePLC()
			p.Full.AddBuffer(pkt.Data, pkt.SourceRecordTime)
			continue
		}

		if ratio < 1.0 && depthAdjustmentsThisCall < maxDepthAdjustmentsPerCall && p.isSilence() && p.MQ.Size()*p.FrameSize > lengthBytes {
			// Absorbed skew: drop this packet's audio entirely rather than
			// play it, since we're already ahead of the talk spurt.
			depthAdjustmentsThisCall++
			p.lastSeqPopped = frame.Packet.EncodedSequenceNum
			p.hasPopped = true
			continue
		}

		data := frame.Packet.Data
		if ratio != 1.0 && p.Resampler != nil && !p.isSilence() && frame.Packet.MediaType == packet.MediaF32 {
			// Active-speech skew absorption: continuously time-scale the
			// waveform by the bucket's ratio rather than drop/inject whole
			// frames, which is only applied during silence above.
			dstRate := int(float64(p.SampleRate) * ratio)
			if dstRate > 0 {
				samples := audioassembler.DecodeF32Samples(data)
				data = audioassembler.EncodeF32Samples(p.Resampler.Resample(samples, p.SampleRate, dstRate))
			}
		}

		p.lastSeqPopped = frame.Packet.EncodedSequenceNum
		p.hasPopped = true
		p.Sync.AudioPopped(frame.Packet.SourceRecordTime, frame.Packet.EncodedSequenceNum, now)
		p.Full.AddBuffer(data, frame.Packet.SourceRecordTime)
	}

	data, ts, ok := p.Full.Fill(lengthBytes)
	if !ok {
		return nil, fmt.Errorf("audioplayout: reservoir underflow after fill loop for source %d", p.SourceID)
	}

	return &packet.Packet{
		SourceID:           p.SourceID,
		EncodedSequenceNum: p.lastSeqPopped,
		SourceRecordTime:   ts,
		MediaType:          packet.MediaF32,
		Data:               data,
	}, nil
}

// PruneIfIdle trims the queue head while IdleClient is true, keeping queued
// depth at or below the bucket's recommended fill level for jitterMs.
func (p *Playout) PruneIfIdle(jitterMs uint) (dropped int) {
	if !p.IdleClient {
		return 0
	}
	target := p.Bucket.RecommendedFillLevel(jitterMs)
	for p.queueDepthMs() > target {
		if _, ok := p.MQ.Pop(time.Now()); !ok {
			break
		}
		dropped++
	}
	return dropped
}
