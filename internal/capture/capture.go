// Package capture composes the publish-side DSP chain — echo cancellation,
// noise gating, automatic gain control and voice activity detection — into
// one Pipeline. It is the publish-side counterpart to the receive-side
// engine in internal/jitter: device I/O (opening a microphone) stays an
// external collaborator, so Pipeline only ever touches caller-supplied PCM
// frames.
package capture

import (
	"mediaclient/internal/aec"
	"mediaclient/internal/agc"
	"mediaclient/internal/noisegate"
	"mediaclient/internal/vad"
)

// Pipeline runs one mono float32 PCM frame through AEC, noise gate, AGC and
// VAD, in that order — echo cancellation first so every downstream stage
// sees a clean signal, VAD last so it makes the send/drop decision on the
// fully conditioned frame.
type Pipeline struct {
	aec  *aec.AEC
	gate *noisegate.Gate
	agc  *agc.AGC
	vad  *vad.VAD

	lastGateRMS float32
}

// New returns a Pipeline sized for frameSize mono samples per call (960 for
// 20 ms at 48 kHz).
func New(frameSize int) *Pipeline {
	return &Pipeline{
		aec:  aec.New(frameSize),
		gate: noisegate.New(),
		agc:  agc.New(),
		vad:  vad.New(),
	}
}

// FeedFarEnd records the most recent playback frame as the AEC's far-end
// reference. Call this from the playback path after filling the output
// buffer, before the next Process call on the corresponding capture frame.
func (p *Pipeline) FeedFarEnd(frame []float32) {
	p.aec.FeedFarEnd(frame)
}

// Process runs frame through the full chain in-place and reports whether it
// should be published (false means VAD classified it as silence and it
// should be dropped before encoding).
func (p *Pipeline) Process(frame []float32) (out []float32, send bool) {
	p.aec.Process(frame)

	p.lastGateRMS = p.gate.Process(frame)

	p.agc.Process(frame)

	return frame, p.vad.ShouldSend(vad.RMS(frame))
}

// InputLevel returns the frame RMS measured before the noise gate on the
// most recent Process call, useful for a level meter.
func (p *Pipeline) InputLevel() float32 {
	return p.lastGateRMS
}

// SetAECEnabled enables or disables echo cancellation.
func (p *Pipeline) SetAECEnabled(enabled bool) { p.aec.SetEnabled(enabled) }

// SetGateEnabled enables or disables the noise gate.
func (p *Pipeline) SetGateEnabled(enabled bool) { p.gate.SetEnabled(enabled) }

// SetGateThreshold sets the noise gate's RMS threshold. level is in [0,100].
func (p *Pipeline) SetGateThreshold(level int) { p.gate.SetThreshold(level) }

// SetAGCTarget sets the AGC's desired RMS level. level is in [0,100].
func (p *Pipeline) SetAGCTarget(level int) { p.agc.SetTarget(level) }

// SetVADEnabled enables or disables voice activity detection. When
// disabled, Process always reports send=true.
func (p *Pipeline) SetVADEnabled(enabled bool) { p.vad.SetEnabled(enabled) }

// SetVADThreshold sets the VAD's RMS silence threshold. level is in [0,100].
func (p *Pipeline) SetVADThreshold(level int) { p.vad.SetThreshold(level) }

// Reset clears all stateful processors (AGC gain, VAD/gate hold counters)
// without changing configured thresholds or targets.
func (p *Pipeline) Reset() {
	p.agc.Reset()
	p.vad.Reset()
	p.gate.Reset()
}
