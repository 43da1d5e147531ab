package audioplayout

import (
	resampler "github.com/tphakala/go-audio-resampler"
)

// LibResampler adapts github.com/tphakala/go-audio-resampler (the domain
// dependency carried from blitss-sip-tg-bridge's go.mod) to the Resampler
// interface PopAudio drives. Kept in its own file so the real library's
// call shape touches only this one adapter.
type LibResampler struct{}

// Resample implements Resampler using the real SIMD-accelerated resampler.
func (LibResampler) Resample(samples []float32, srcRate, dstRate int) []float32 {
	r := resampler.New(srcRate, dstRate)
	return r.Process(samples)
}
