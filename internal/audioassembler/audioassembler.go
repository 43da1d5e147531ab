// Package audioassembler wraps an Opus decoder as the AudioAssembler
// component (spec §4.2): it turns a still-encoded Packet into one carrying
// decoded samples, and manufactures concealment frames when the network
// packet never arrived.
package audioassembler

import (
	"fmt"
	"math"
	"sync"

	"gopkg.in/hraban/opus.v2"

	"mediaclient/internal/packet"
)

// SampleFormat selects the decoded payload representation.
type SampleFormat int

const (
	FormatL16 SampleFormat = iota
	FormatF32
)

// opusDecoder is the subset of *opus.Decoder used here, narrowed so tests
// can substitute a fake without linking libopus.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// DecodeError wraps a negative-length report from the Opus decoder (spec
// §4.2): "Fails with DecodeError when the codec reports a negative length".
type DecodeError struct {
	SourceID uint64
	Seq      uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audioassembler: decode source=%d seq=%d: %v", e.SourceID, e.Seq, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Assembler decodes Opus payloads for one audio stream. Decoder state is
// single-threaded inside libopus, so every call serialises on mu (spec §5:
// "AudioAssembler decoder state has its own mutex").
type Assembler struct {
	mu         sync.Mutex
	decoder    opusDecoder
	format     SampleFormat
	sampleRate int
	channels   int
	frameSize  int // samples per channel per 20ms frame
}

// New returns an Assembler backed by a real libopus decoder at sampleRate/
// channels. frameSize is the number of samples per channel the decoder is
// asked to produce per call (typically 20ms worth, e.g. 960 @ 48kHz).
func New(sampleRate, channels, frameSize int, format SampleFormat) (*Assembler, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audioassembler: new decoder: %w", err)
	}
	return &Assembler{
		decoder:    dec,
		format:     format,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// newWithDecoder is used by tests to inject a fake opusDecoder.
func newWithDecoder(dec opusDecoder, channels, frameSize int, format SampleFormat) *Assembler {
	return &Assembler{decoder: dec, channels: channels, frameSize: frameSize, format: format}
}

// bytesPerSample returns the encoded width of one sample in the configured
// output format.
func (a *Assembler) bytesPerSample() int {
	if a.format == FormatF32 {
		return 4
	}
	return 2
}

// Push decodes p's Opus payload, returning a new Packet whose Data holds
// decoded samples in the configured format; p itself is not modified. On decode failure it
// returns a *DecodeError and the caller is expected to substitute silence
// (spec §4.2), typically via CreateZeroPayload.
func (a *Assembler) Push(p *packet.Packet) (*packet.Packet, error) {
	pcm := make([]int16, a.frameSize*a.channels)

	a.mu.Lock()
	n, err := a.decoder.Decode(p.Data, pcm)
	a.mu.Unlock()

	if err != nil || n < 0 {
		return nil, &DecodeError{SourceID: p.SourceID, Seq: p.EncodedSequenceNum, Err: err}
	}

	out := p.Clone()
	out.Data = encode(pcm[:n*a.channels], a.format)
	out.MediaType = formatMediaType(a.format)
	return out, nil
}

// CreatePLC produces a decoder-driven concealment frame of byteLen bytes:
// the decoder is invoked with a nil input, which in Opus triggers internal
// packet-loss concealment extrapolated from prior decoder state.
func (a *Assembler) CreatePLC(byteLen int) (*packet.Packet, error) {
	samples := byteLen / a.bytesPerSample() / a.channels
	if samples <= 0 {
		samples = a.frameSize
	}
	pcm := make([]int16, samples*a.channels)

	a.mu.Lock()
	n, err := a.decoder.Decode(nil, pcm)
	a.mu.Unlock()

	if err != nil || n < 0 {
		return nil, &DecodeError{Err: err}
	}

	return &packet.Packet{
		MediaType:        formatMediaType(a.format),
		SourceRecordTime: 0, // synthesised, per spec §4.6
		Data:             encode(pcm[:n*a.channels], a.format),
	}, nil
}

// CreateZeroPayload emits byteLen bytes of silence, for use when no decoder
// is available (e.g. the stream has no Opus source yet).
func CreateZeroPayload(byteLen int) *packet.Packet {
	return &packet.Packet{
		SourceRecordTime: 0,
		Data:             make([]byte, byteLen),
	}
}

func formatMediaType(f SampleFormat) packet.MediaType {
	if f == FormatF32 {
		return packet.MediaF32
	}
	return packet.MediaL16
}

// DecodeF32Samples unpacks F32 wire bytes (as produced by encode/EncodeF32Samples)
// back into float32 samples, for components that need the raw waveform
// itself rather than the encoded packet — silence detection and resample
// ratio application.
func DecodeF32Samples(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[4*i]) | uint32(data[4*i+1])<<8 | uint32(data[4*i+2])<<16 | uint32(data[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeF32Samples packs float32 samples into F32 wire bytes, the inverse of
// DecodeF32Samples.
func EncodeF32Samples(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}

// encode packs int16 PCM samples into the wire representation for format f.
func encode(pcm []int16, f SampleFormat) []byte {
	if f == FormatL16 {
		out := make([]byte, len(pcm)*2)
		for i, s := range pcm {
			out[2*i] = byte(s)
			out[2*i+1] = byte(s >> 8)
		}
		return out
	}
	out := make([]byte, len(pcm)*4)
	for i, s := range pcm {
		f32 := float32(s) / 32768.0
		bits := math.Float32bits(f32)
		out[4*i] = byte(bits)
		out[4*i+1] = byte(bits >> 8)
		out[4*i+2] = byte(bits >> 16)
		out[4*i+3] = byte(bits >> 24)
	}
	return out
}
