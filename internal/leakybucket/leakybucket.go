// Package leakybucket implements LeakyBucket (spec §4.6): the playout depth
// controller that decides how fast to drain the jitter queue and whether
// playback should still be held for initial fill.
package leakybucket

import (
	"time"

	"mediaclient/internal/adapt"
)

// Mode selects the target/max fill envelope.
type Mode int

const (
	// Active is the low-latency envelope for a speaking participant.
	Active Mode = iota
	// Listener is the higher-latency, smoother envelope for a
	// non-speaking participant.
	Listener
)

// DrainSpeed is the bucket's current playout rate regime.
type DrainSpeed int

const (
	Normal DrainSpeed = iota
	Increased
	Decreased
)

func (d DrainSpeed) String() string {
	switch d {
	case Increased:
		return "increased"
	case Decreased:
		return "decreased"
	default:
		return "normal"
	}
}

const (
	activeTargetMs  = 20
	activeMaxMs     = 150
	listenerTargetMs = 150
	listenerMaxMs    = 500

	// trackerMeasurementInterval bounds how far back depth/empty-pop
	// history is kept.
	trackerMeasurementInterval = 2 * time.Second
)

// depthSample is one (value, observed-at) pair in a pruned history.
type depthSample struct {
	value int
	at    time.Time
}

// LeakyBucket tracks playout depth for one audio stream and derives a
// resample ratio from it. Not safe for concurrent use; callers serialise
// access the same way they serialise MetaQueue access for that stream.
type LeakyBucket struct {
	mode              Mode
	baseTargetMs      uint // configured floor, before loss-rate headroom
	targetFillMs      uint
	maxBucketMs       uint
	lastJitterMs      uint
	initialFillActive bool

	currentDrain DrainSpeed
	fillChange   int

	depthTracker    []depthSample
	emptyPopTracker []depthSample
}

// New returns a LeakyBucket configured for mode, starting in initial-fill
// hold state.
func New(mode Mode) *LeakyBucket {
	lb := &LeakyBucket{mode: mode, initialFillActive: true}
	switch mode {
	case Listener:
		lb.targetFillMs = listenerTargetMs
		lb.maxBucketMs = listenerMaxMs
	default:
		lb.targetFillMs = activeTargetMs
		lb.maxBucketMs = activeMaxMs
	}
	lb.baseTargetMs = lb.targetFillMs
	return lb
}

// RecommendedFillLevel clamps max(target, jitterMs) to max_bucket_ms.
func (lb *LeakyBucket) RecommendedFillLevel(jitterMs uint) uint {
	target := lb.targetFillMs
	if jitterMs > target {
		target = jitterMs
	}
	if target > lb.maxBucketMs {
		target = lb.maxBucketMs
	}
	return target
}

// InitialFill reports whether playback should still be held: true until
// queueDepthMs reaches RecommendedFillLevel(jitterMs), after which it
// latches false permanently.
func (lb *LeakyBucket) InitialFill(queueDepthMs, jitterMs uint) bool {
	if !lb.initialFillActive {
		return false
	}
	if queueDepthMs >= lb.RecommendedFillLevel(jitterMs) {
		lb.initialFillActive = false
	}
	return lb.initialFillActive
}

func prune(samples []depthSample, now time.Time, interval time.Duration) []depthSample {
	cutoff := now.Add(-interval)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}

// Tick updates current_drain from one jitter-buffer observation. It is a
// no-op while InitialFill is still holding playback.
func (lb *LeakyBucket) Tick(now time.Time, queueDepthMs, lostInQueue, audioJitterMs, msPerPacket, fps uint) {
	lb.lastJitterMs = audioJitterMs
	if lb.InitialFill(queueDepthMs, audioJitterMs) {
		return
	}

	lb.depthTracker = append(lb.depthTracker, depthSample{value: int(queueDepthMs), at: now})
	lb.depthTracker = prune(lb.depthTracker, now, trackerMeasurementInterval)
	lb.emptyPopTracker = prune(lb.emptyPopTracker, now, trackerMeasurementInterval)

	target := lb.RecommendedFillLevel(audioJitterMs)
	lb.fillChange = int(queueDepthMs) - int(target)

	switch {
	case lb.fillChange > 10:
		lb.currentDrain = Increased
	case lb.fillChange < -10:
		lb.currentDrain = Decreased
	default:
		lb.currentDrain = Normal
	}
}

// ResampleRatio returns the playout speed multiplier for the current drain
// state: 1.0 normal, 0.9 to drain faster, 1.1 to stretch and refill.
func (lb *LeakyBucket) ResampleRatio() float64 {
	switch lb.currentDrain {
	case Increased:
		return 0.9
	case Decreased:
		return 1.1
	default:
		return 1.0
	}
}

// CurrentDrain returns the bucket's current drain-speed state.
func (lb *LeakyBucket) CurrentDrain() DrainSpeed { return lb.currentDrain }

// FillChange returns the most recent queue_depth_ms - target delta.
func (lb *LeakyBucket) FillChange() int { return lb.fillChange }

// EmptyBucket records that a pop found the queue empty, for underrun
// accounting.
func (lb *LeakyBucket) EmptyBucket(now time.Time) {
	lb.emptyPopTracker = append(lb.emptyPopTracker, depthSample{value: 1, at: now})
}

// AdjustDepthTrackerForDiscardedPackets shifts every recorded depth sample
// by n, used when packets are discovered lost after the fact and the
// historical depth needs correcting.
func (lb *LeakyBucket) AdjustDepthTrackerForDiscardedPackets(n int) {
	for i := range lb.depthTracker {
		lb.depthTracker[i].value += n
	}
}

// Mode returns the bucket's configured mode.
func (lb *LeakyBucket) Mode() Mode { return lb.mode }

// ApplyLossRate recomputes the target fill level from observed packet loss
// on top of the last-seen jitter measurement, adding headroom under
// sustained loss the way playout_leakybucket.hh's own comments call for
// ("add calculations about RTT here"). Call periodically from a link-quality
// monitoring loop; with a lossRate of 0 the target becomes the larger of the
// configured base and the last-seen jitter, clamped to the max bucket size.
func (lb *LeakyBucket) ApplyLossRate(lossRate float64) {
	lb.targetFillMs = adapt.RecommendedBucketTargetMs(lb.baseTargetMs, lb.maxBucketMs, float64(lb.lastJitterMs), lossRate)
}
