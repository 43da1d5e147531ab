// Package silence implements SilenceDetector (spec §4.4): a two-rate
// envelope follower classifying F32 audio frames as speech or silence.
package silence

import "math"

const (
	signalAttackSec = 0.001 // 1ms
	signalDecaySec  = 0.1   // 100ms
	noiseAttackSec  = 50.0  // 50s
	noiseDecaySec   = 0.03  // 30ms

	minLevel = 5.0e-5

	// snrThreshold is the SNR below which a converged detector reports
	// silence.
	snrThreshold = 2.3

	// convergenceUpdates is the minimum number of updates before
	// IsSilence trusts the SNR estimate.
	convergenceUpdates = 20
)

// Detector tracks the two envelopes for one F32 mono or stereo stream.
// Implemented only for F32; non-F32 callers should skip silence detection
// entirely and treat every frame as non-silent (spec §4.4).
type Detector struct {
	bufferSize int
	sampleRate int

	signalAttackRate float64
	signalDecayRate  float64
	noiseAttackRate  float64
	noiseDecayRate   float64

	signalLevel float64
	noiseLevel  float64
	numUpdates  uint
}

// New returns a Detector tuned for the given frame size (samples per
// channel) and sample rate.
func New(bufferSize, sampleRate int) *Detector {
	d := &Detector{bufferSize: bufferSize, sampleRate: sampleRate}
	ratio := float64(bufferSize) / float64(sampleRate)
	d.signalAttackRate = 1 - math.Exp(-1.0/signalAttackSec*ratio)
	d.signalDecayRate = 1 - math.Exp(-1.0/signalDecaySec*ratio)
	d.noiseAttackRate = 1 - math.Exp(-1.0/noiseAttackSec*ratio)
	d.noiseDecayRate = 1 - math.Exp(-1.0/noiseDecaySec*ratio)
	return d
}

// meanAbs returns the mean absolute value of samples.
func meanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// Update feeds one frame of interleaved F32 samples (mono or stereo) into
// the envelope followers. Must be called exactly once per frame.
func (d *Detector) Update(mono []float32, stereo []float32) {
	level := meanAbs(mono)
	if stereo != nil {
		level += meanAbs(stereo)
	}

	if d.signalLevel < level {
		d.signalLevel += d.signalAttackRate * (level - d.signalLevel)
	} else {
		d.signalLevel += d.signalDecayRate * (level - d.signalLevel)
	}
	d.signalLevel = math.Max(minLevel, d.signalLevel)

	if d.noiseLevel < level {
		d.noiseLevel += d.noiseAttackRate * (level - d.noiseLevel)
	} else {
		d.noiseLevel += d.noiseDecayRate * (level - d.noiseLevel)
	}
	d.noiseLevel = math.Max(minLevel, d.noiseLevel)

	d.numUpdates++
}

// SNR returns the current signal-to-noise ratio.
func (d *Detector) SNR() float64 {
	if d.noiseLevel == 0 {
		return 0
	}
	return d.signalLevel / d.noiseLevel
}

// IsSilence reports whether the stream is currently silent: the detector
// must have converged (>20 updates) and the SNR must be below threshold.
func (d *Detector) IsSilence() bool {
	return d.numUpdates > convergenceUpdates && d.SNR() < snrThreshold
}

// SignalLevel returns the current signal envelope level.
func (d *Detector) SignalLevel() float64 { return d.signalLevel }

// NoiseLevel returns the current noise envelope level.
func (d *Detector) NoiseLevel() float64 { return d.noiseLevel }

// NumUpdates returns how many frames have been fed to Update.
func (d *Detector) NumUpdates() uint { return d.numUpdates }
