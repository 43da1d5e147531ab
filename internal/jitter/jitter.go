// Package jitter implements the Jitter facade (spec §4.9): the entry point
// that demuxes incoming Packets by media type, fans them out to per-stream
// MetaQueues, and serves pop_audio/pop_video for every (client_id,
// source_id) the engine has observed.
package jitter

import (
	"fmt"
	"sync"
	"time"

	"mediaclient/internal/audioassembler"
	"mediaclient/internal/audioplayout"
	"mediaclient/internal/fullfill"
	"mediaclient/internal/jittercalc"
	"mediaclient/internal/leakybucket"
	"mediaclient/internal/lipsync"
	"mediaclient/internal/metaqueue"
	"mediaclient/internal/packet"
	"mediaclient/internal/silence"
	"mediaclient/internal/videoassembler"
	"mediaclient/internal/videoplayout"
)

// StreamLifecycle is a stream's Unknown -> Active -> Idle -> Active state
// machine (spec §4.9). Removal is explicit, driven by the host, not this
// state machine.
type StreamLifecycle int

const (
	Unknown StreamLifecycle = iota
	Active
	Idle
)

// idleThreshold is how long a stream can go without a pop before it's
// considered Idle and becomes eligible for head pruning.
const idleThreshold = 2 * time.Second

// StreamKey identifies one logical stream.
type StreamKey struct {
	ClientID uint64
	SourceID uint64
}

// VideoDecoderFactory constructs a fresh per-stream video decoder. Exists
// so callers can inject a fake in tests instead of linking libav.
type VideoDecoderFactory func() (videoplayout.VideoDecoder, error)

// Config carries the engine-wide tunables sourced from spec §6's config
// surface.
type Config struct {
	SampleRate  int
	Channels    int
	Format      audioassembler.SampleFormat
	FrameSize   int // samples per channel per packet
	BucketMode  leakybucket.Mode
	NewDecoder  VideoDecoderFactory
	OnNewStream func(StreamKey)
	OnIdrNeeded func(packet.IdrRequest)
}

type audioStream struct {
	mq         *metaqueue.MetaQueue
	assembler  *audioassembler.Assembler
	bucket     *leakybucket.LeakyBucket
	jitter     *jittercalc.JitterCalc
	popFreq    *jittercalc.PopFrequencyCounter
	playout    *audioplayout.Playout
	silenceDet *silence.Detector

	lifecycle StreamLifecycle
	lastPop   time.Time
}

type videoStream struct {
	mq      *metaqueue.MetaQueue
	reasm   *videoassembler.Assembler
	playout *videoplayout.Playout

	lifecycle StreamLifecycle
	lastPop   time.Time
}

type clientState struct {
	sync  *lipsync.Sync
	audio *audioStream
	video *videoStream
}

// Engine is the Jitter facade: one instance serves every stream for a
// session. Safe for concurrent Push/PopAudio/PopVideo calls: each holds the
// engine mutex for its whole duration.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	clients map[uint64]*clientState
	seen    map[StreamKey]bool
}

// New returns an empty Engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		clients: make(map[uint64]*clientState),
		seen:    make(map[StreamKey]bool),
	}
}

func (e *Engine) msPerPacket() uint {
	if e.cfg.SampleRate == 0 || e.cfg.FrameSize == 0 {
		return 10
	}
	return uint(e.cfg.FrameSize * 1000 / e.cfg.SampleRate)
}

func (e *Engine) frameByteSize() int {
	bytesPerSample := 2
	if e.cfg.Format == audioassembler.FormatF32 {
		bytesPerSample = 4
	}
	channels := e.cfg.Channels
	if channels == 0 {
		channels = 1
	}
	return e.cfg.FrameSize * channels * bytesPerSample
}

func (e *Engine) clientFor(clientID uint64) *clientState {
	cs, ok := e.clients[clientID]
	if !ok {
		cs = &clientState{sync: lipsync.New()}
		e.clients[clientID] = cs
	}
	return cs
}

// RequestIdr implements videoplayout.IdrRequester, forwarding to the
// configured host callback.
func (e *Engine) RequestIdr(req packet.IdrRequest) {
	if e.cfg.OnIdrNeeded != nil {
		e.cfg.OnIdrNeeded(req)
	}
}

func (e *Engine) newAudioStream() *audioStream {
	format := e.cfg.Format
	var assembler *audioassembler.Assembler
	if a, err := audioassembler.New(e.cfg.SampleRate, e.cfg.Channels, e.cfg.FrameSize, format); err == nil {
		assembler = a
	}
	mq := metaqueue.NewAudio()
	bucket := leakybucket.New(e.cfg.BucketMode)
	jc := jittercalc.New()

	divisor := 2
	if format == audioassembler.FormatF32 {
		divisor = 4
	}
	full := fullfill.New(uint32(divisor), uint32(e.cfg.SampleRate))

	// Silence detection (spec §4.4/§4.7) only makes sense against raw F32
	// samples; L16/Opus streams leave Silence nil and every frame is then
	// treated as non-silent, per audioplayout.Playout's own doc comment.
	var silenceDet *silence.Detector
	if format == audioassembler.FormatF32 {
		silenceDet = silence.New(e.cfg.FrameSize, e.cfg.SampleRate)
	}

	return &audioStream{
		mq: mq, assembler: assembler, bucket: bucket, jitter: jc,
		popFreq:    jittercalc.NewPopFrequencyCounter(),
		silenceDet: silenceDet,
		playout: &audioplayout.Playout{
			MQ: mq, Bucket: bucket, Jitter: jc, Full: full,
			Silence:    silenceDet,
			Resampler:  audioplayout.LibResampler{},
			SampleRate: e.cfg.SampleRate,
			FrameSize:   e.frameByteSize(),
			MsPerPacket: e.msPerPacket(),
		},
		lifecycle: Unknown,
	}
}

func (e *Engine) newVideoStream(sourceID uint64, clientID uint64, sync *lipsync.Sync) (*videoStream, error) {
	mq := metaqueue.NewVideo()
	var dec videoplayout.VideoDecoder
	if e.cfg.NewDecoder != nil {
		d, err := e.cfg.NewDecoder()
		if err != nil {
			return nil, fmt.Errorf("jitter: new video decoder: %w", err)
		}
		dec = d
	}
	return &videoStream{
		mq:        mq,
		reasm:     videoassembler.New(),
		playout:   videoplayout.New(clientID, sourceID, mq, sync, dec, e),
		lifecycle: Unknown,
	}, nil
}

// Push demuxes p by media type into the appropriate stream and returns
// newStream=true the first time p's source_id has ever been observed.
// Per-packet decode/reassembly failures are skipped and reported, never
// fatal (spec §4.9).
func (e *Engine) Push(p *packet.Packet, now time.Time) (newStream bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := StreamKey{ClientID: p.ClientID, SourceID: p.SourceID}
	newStream = !e.seen[key]
	if newStream {
		e.seen[key] = true
		if e.cfg.OnNewStream != nil {
			e.cfg.OnNewStream(key)
		}
	}

	cs := e.clientFor(p.ClientID)

	switch {
	case p.MediaType.IsAudio():
		if cs.audio == nil {
			cs.audio = e.newAudioStream()
			cs.audio.playout.SourceID = p.SourceID
		}
		as := cs.audio
		as.lifecycle = Active

		decoded := p
		if p.MediaType == packet.MediaOpus && as.assembler != nil {
			out, decErr := as.assembler.Push(p)
			if decErr != nil {
				return newStream, fmt.Errorf("jitter: decode audio source=%d: %w", p.SourceID, decErr)
			}
			decoded = out
		}

		as.mq.PushAudio(decoded, cs.sync.HasPoppedAudio(), cs.sync.AudioSeqPopped(), now)
		as.mq.InsertAudioPLCs(now, func(seq uint64) *packet.Packet {
			if as.assembler != nil {
				if pkt, plcErr := as.assembler.CreatePLC(e.frameByteSize()); plcErr == nil {
					return pkt
				}
			}
			return audioassembler.CreateZeroPayload(e.frameByteSize())
		})
		as.jitter.Update(as.mq, e.msPerPacket())

		if as.silenceDet != nil && decoded.MediaType == packet.MediaF32 {
			as.silenceDet.Update(audioassembler.DecodeF32Samples(decoded.Data), nil)
		}

	case p.MediaType.IsVideo():
		if cs.video == nil {
			vs, vErr := e.newVideoStream(p.SourceID, p.ClientID, cs.sync)
			if vErr != nil {
				return newStream, vErr
			}
			cs.video = vs
		}
		vs := cs.video
		vs.lifecycle = Active

		assembled, ok := vs.reasm.Push(p)
		if !ok {
			return newStream, nil
		}
		vs.mq.PushVideo(assembled, cs.sync.HasPoppedVideo(), cs.sync.VideoSeqPopped(), now)

	default:
		return newStream, fmt.Errorf("jitter: unknown media type for source=%d", p.SourceID)
	}

	return newStream, nil
}

// PopAudio serves pop_audio for (clientID, sourceID). A sourceID other than
// the one the client's audio stream was created for is rejected.
func (e *Engine) PopAudio(clientID, sourceID uint64, now time.Time, lengthBytes int) (*packet.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.clients[clientID]
	if !ok || cs.audio == nil || cs.audio.playout.SourceID != sourceID {
		return nil, fmt.Errorf("jitter: no audio stream for client=%d source=%d", clientID, sourceID)
	}
	as := cs.audio
	as.playout.Sync = cs.sync

	pkt, err := as.playout.PopAudio(now, lengthBytes)
	if err != nil {
		return nil, err
	}

	as.lastPop = now
	as.popFreq.Update(now)

	return pkt, nil
}

// PopVideo serves pop_video for (clientID, sourceID). A sourceID other than
// the one the client's video stream was created for is rejected.
func (e *Engine) PopVideo(clientID, sourceID uint64, now time.Time) (videoplayout.Decoded, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.clients[clientID]
	if !ok || cs.video == nil || cs.video.playout.SourceID != sourceID {
		return videoplayout.Decoded{}, fmt.Errorf("jitter: no video stream for client=%d source=%d", clientID, sourceID)
	}
	vs := cs.video

	out := vs.playout.PopVideo(now)

	vs.lastPop = now

	return out, nil
}

// PruneIdleStreams marks streams idle after idleThreshold without a pop,
// and trims their queues toward the bucket's recommended fill level. Call
// periodically from a maintenance loop.
func (e *Engine) PruneIdleStreams(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cs := range e.clients {
		if as := cs.audio; as != nil {
			if as.lastPop.IsZero() || now.Sub(as.lastPop) > idleThreshold {
				as.lifecycle = Idle
				as.playout.IdleClient = true
				as.playout.PruneIfIdle(as.jitter.JitterMs())
			} else {
				as.playout.IdleClient = false
			}
		}
	}
}

// UpdateLinkQuality folds a freshly-measured packet loss rate into
// clientID's audio bucket target, widening its playout depth under
// sustained loss. A no-op if clientID has no audio stream yet.
func (e *Engine) UpdateLinkQuality(clientID uint64, lossRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.clients[clientID]
	if !ok || cs.audio == nil {
		return
	}
	cs.audio.bucket.ApplyLossRate(lossRate)
}

// RemoveClient destroys all per-stream state for clientID, as explicitly
// requested by the host (spec §4.9: "terminal removal is explicit").
func (e *Engine) RemoveClient(clientID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, clientID)
	for key := range e.seen {
		if key.ClientID == clientID {
			delete(e.seen, key)
		}
	}
}
