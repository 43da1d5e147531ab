// Package adapt provides adaptive Opus bitrate selection and jitter-buffer
// target tuning from measured connection quality, feeding LeakyBucket's
// configured target the way the original C++'s playout_leakybucket.hh notes
// informally ("add calculations about RTT here").
package adapt

import "math"

// Ladder is the ordered list of Opus target bitrate steps in kbps.
// The range covers from barely-intelligible emergency quality (8 kbps)
// up to high-fidelity voice (48 kbps).
var Ladder = []int{8, 12, 16, 24, 32, 48}

// DefaultKbps is the starting bitrate for a new connection.
const DefaultKbps = 32

// NextBitrate returns the next Opus target bitrate (kbps) to use, given the
// current encoder setting and the connection quality observed over the last
// measurement interval.
//
// Adaptation rules:
//   - Step DOWN one rung when packet loss exceeds 5%.
//   - Step UP  one rung when loss < 1% and RTT > 0 and RTT < 150 ms.
//     (RTT == 0 means no measurement yet; hold rather than assume a great link.)
//   - Otherwise HOLD the current rung.
//
// The function always returns a value that is in Ladder.
func NextBitrate(current int, lossRate float64, rttMs float64) int {
	idx := stepIndex(current)
	switch {
	case lossRate > 0.05 && idx > 0:
		return Ladder[idx-1]
	case lossRate < 0.01 && rttMs > 0 && rttMs < 150 && idx < len(Ladder)-1:
		return Ladder[idx+1]
	default:
		return Ladder[idx]
	}
}

// stepIndex returns the index of the Ladder rung closest to kbps.
func stepIndex(kbps int) int {
	best, bestDist := 0, iabs(kbps-Ladder[0])
	for i, step := range Ladder {
		if d := iabs(kbps - step); d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// RecommendedBucketTargetMs computes the jitter-buffer target, in
// milliseconds, that LeakyBucket.Tick should use instead of its configured
// mode default, folding in observed packet loss on top of the measured
// audio jitter. spec.md §4.6 already takes `max(configured_target,
// audio_jitter_ms)`; this goes one step further by adding loss headroom,
// since lossy links benefit from a deeper buffer to absorb retransmit-style
// bursts even when jitter alone looks fine.
//
// Result is clamped to [configuredTargetMs, maxBucketMs].
func RecommendedBucketTargetMs(configuredTargetMs, maxBucketMs uint, jitterMs float64, lossRate float64) uint {
	target := float64(configuredTargetMs)
	if jitterMs > target {
		target = jitterMs
	}
	if lossRate > 0.05 {
		target += 20 // one extra frame's worth of headroom under sustained loss
	}
	if target < float64(configuredTargetMs) {
		target = float64(configuredTargetMs)
	}
	if target > float64(maxBucketMs) {
		target = float64(maxBucketMs)
	}
	return uint(math.Round(target))
}

// SmoothLoss applies exponentially weighted moving average smoothing to a
// raw packet loss measurement. alpha controls the weight of the new sample
// (0.0 = ignore new, 1.0 = ignore old). Typical alpha: 0.3.
func SmoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}
