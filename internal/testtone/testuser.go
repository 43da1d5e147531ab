// Package testtone provides a synthetic publisher used to exercise a
// running engine without a real microphone: it streams either a looped WAV
// file or a generated beep pattern as Opus-encoded named objects, the
// publish-side mirror of the receive-side engine's test scenarios.
package testtone

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/hraban/opus.v2"

	"mediaclient/internal/packet"
	"mediaclient/internal/transport"
)

const (
	sampleRate  = 48000
	channels    = 1
	frameSize   = 960 // 20 ms at 48 kHz
	opusBitrate = 32000

	testFreq      = 440.0 // Hz – A4, used when no audio file is provided
	testAmplitude = 0.3   // 30% to avoid clipping
	beepOnMs      = 600
	beepOffMs     = 400

	frameInterval = 20 * time.Millisecond
)

// AudioEnvVar names the environment variable that, if set, points at a
// 48 kHz mono 16-bit PCM WAV file to loop instead of the synthetic beep.
const AudioEnvVar = "MEDIACLIENT_TEST_AUDIO"

// Publisher streams audio to the transport as a named object under
// transport.ObjectName(clientID, sourceID).
type Publisher struct {
	log *slog.Logger

	transport *transport.Transport
	clientID  uint64
	sourceID  uint64

	name         string
	audioSamples []int16 // nil -> use synthetic beep

	cancel context.CancelFunc
}

// New returns a Publisher that will stream onto tr as (clientID, sourceID).
func New(clientID, sourceID uint64, tr *transport.Transport, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		log:       log,
		transport: tr,
		clientID:  clientID,
		sourceID:  sourceID,
		name:      transport.ObjectName(clientID, sourceID),
	}
}

// Start announces the publisher's name and begins streaming. If
// AudioEnvVar is set to a loadable WAV path, that file is looped;
// otherwise a beep pattern is synthesised.
func (p *Publisher) Start(ctx context.Context) error {
	if path := os.Getenv(AudioEnvVar); path != "" {
		samples, err := LoadWAV(path)
		if err != nil {
			p.log.Warn("testtone: cannot load audio file, falling back to beep", "path", path, "err", err)
		} else {
			p.audioSamples = samples
			p.log.Info("testtone: loaded audio file", "path", path, "samples", len(samples))
		}
	}

	if err := p.transport.Announce(p.name); err != nil {
		return fmt.Errorf("testtone: announce %q: %w", p.name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.toneLoop(loopCtx)
	return nil
}

// Stop halts streaming.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// toneLoop publishes one 20ms Opus frame per tick.
func (p *Publisher) toneLoop(ctx context.Context) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		p.log.Error("testtone: encoder init failed", "err", err)
		return
	}
	enc.SetBitrate(opusBitrate)

	pcm := make([]int16, frameSize)
	opusBuf := make([]byte, 1024)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var wavPos int
	var phase float64
	cycleLen := time.Duration(beepOnMs+beepOffMs) * time.Millisecond
	beepOn := time.Duration(beepOnMs) * time.Millisecond
	start := time.Now()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fillFrame(pcm, p.audioSamples, &wavPos, &phase, time.Since(start), cycleLen, beepOn)

		n, err := enc.Encode(pcm, opusBuf)
		if err != nil {
			p.log.Warn("testtone: encode failed", "err", err)
			continue
		}

		seq++
		elapsed := time.Since(start).Microseconds()
		pkt := &packet.Packet{
			ClientID:           p.clientID,
			SourceID:           p.sourceID,
			EncodedSequenceNum: seq,
			SourceRecordTime:   uint64(elapsed),
			MediaType:          packet.MediaOpus,
			IsIntraFrame:       true,
			Data:               append([]byte(nil), opusBuf[:n]...),
		}
		if err := p.transport.Publish(p.name, pkt); err != nil {
			p.log.Warn("testtone: publish failed", "err", err)
			return
		}
	}
}

// fillFrame writes one frame of PCM into pcm: looping samples if non-empty,
// otherwise synthesising the beep pattern.
func fillFrame(pcm []int16, samples []int16, wavPos *int, phase *float64, elapsed, cycleLen, beepOn time.Duration) {
	if len(samples) > 0 {
		for i := range pcm {
			pcm[i] = samples[*wavPos]
			*wavPos = (*wavPos + 1) % len(samples)
		}
		return
	}

	if elapsed%cycleLen < beepOn {
		for i := range pcm {
			s := testAmplitude * math.Sin(2*math.Pi*testFreq*(*phase)/float64(sampleRate))
			pcm[i] = int16(s * 32767)
			*phase++
		}
	} else {
		for i := range pcm {
			pcm[i] = 0
		}
		*phase = 0 // reset to zero-crossing for the next beep
	}
}

// LoadWAV reads a WAV file and returns its samples as 16-bit signed PCM.
// The file must be 48 kHz, mono, 16-bit PCM (format tag 1).
func LoadWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV parses a WAV stream, exported separately from LoadWAV so tests
// can exercise the parser against an in-memory buffer.
func DecodeWAV(f io.Reader) ([]int16, error) {
	var riff [4]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF: %w", err)
	}
	if string(riff[:]) != "RIFF" {
		return nil, fmt.Errorf("not a RIFF file")
	}
	var chunkSize uint32
	if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
		return nil, fmt.Errorf("read RIFF size: %w", err)
	}
	var wave [4]byte
	if _, err := io.ReadFull(f, wave[:]); err != nil {
		return nil, fmt.Errorf("read WAVE: %w", err)
	}
	if string(wave[:]) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE file")
	}

	var (
		audioFormat   uint16
		numChannels   uint16
		sampleRateHz  uint32
		bitsPerSample uint16
		fmtFound      bool
	)

	for {
		var id [4]byte
		if _, err := io.ReadFull(f, id[:]); err != nil {
			break // EOF or truncated
		}
		var size uint32
		if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
			break
		}

		switch string(id[:]) {
		case "fmt ":
			binary.Read(f, binary.LittleEndian, &audioFormat)
			binary.Read(f, binary.LittleEndian, &numChannels)
			binary.Read(f, binary.LittleEndian, &sampleRateHz)
			var byteRate uint32
			binary.Read(f, binary.LittleEndian, &byteRate)
			var blockAlign uint16
			binary.Read(f, binary.LittleEndian, &blockAlign)
			binary.Read(f, binary.LittleEndian, &bitsPerSample)
			if size > 16 {
				io.CopyN(io.Discard, f, int64(size-16))
			}
			fmtFound = true
			if size%2 != 0 {
				io.CopyN(io.Discard, f, 1)
			}

		case "data":
			if !fmtFound {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			if audioFormat != 1 {
				return nil, fmt.Errorf("WAV must be PCM (format 1, got %d)", audioFormat)
			}
			if numChannels != 1 {
				return nil, fmt.Errorf("WAV must be mono (got %d channels)", numChannels)
			}
			if sampleRateHz != uint32(sampleRate) {
				return nil, fmt.Errorf("WAV must be %d Hz (got %d Hz)", sampleRate, sampleRateHz)
			}
			if bitsPerSample != 16 {
				return nil, fmt.Errorf("WAV must be 16-bit (got %d-bit)", bitsPerSample)
			}
			samples := make([]int16, size/2)
			if err := binary.Read(f, binary.LittleEndian, samples); err != nil {
				return nil, fmt.Errorf("read samples: %w", err)
			}
			return samples, nil

		default:
			skip := int64(size)
			if size%2 != 0 {
				skip++
			}
			io.CopyN(io.Discard, f, skip)
		}
	}

	return nil, fmt.Errorf("no data chunk found")
}
