// Package lipsync implements SyncScheduler (spec §4.8): the decision table
// that keeps video playout aligned with the audio that has already been
// popped.
package lipsync

import (
	"time"

	"mediaclient/internal/metaqueue"
)

// Action is the video-playout decision for one pop_video call.
type Action int

const (
	Hold Action = iota
	Pop
	PopDiscard
	PopVideoOnly
)

func (a Action) String() string {
	switch a {
	case Pop:
		return "pop"
	case PopDiscard:
		return "pop_discard"
	case PopVideoOnly:
		return "pop_video_only"
	default:
		return "hold"
	}
}

// staleAudioTimeout is the window after which a stalled audio pop stream no
// longer gates video playout.
const staleAudioTimeout = 400 * time.Millisecond

// Sync tracks the most recent audio and video pop events for one stream
// pair and decides what pop_video should do next.
type Sync struct {
	localAudioTimePopped  time.Time
	sourceAudioTimePopped uint64
	audioSeqPopped        uint64
	hasPoppedAudio        bool

	localVideoTimePopped  time.Time
	sourceVideoTimePopped uint64
	videoSeqPopped        uint64
	hasPoppedVideo        bool
}

// New returns a Sync with no recorded pops yet.
func New() *Sync { return &Sync{} }

// AudioPopped records that an audio frame with the given source time and
// sequence was just popped.
func (s *Sync) AudioPopped(sourceTime, seq uint64, now time.Time) {
	s.sourceAudioTimePopped = sourceTime
	s.audioSeqPopped = seq
	s.localAudioTimePopped = now
	s.hasPoppedAudio = true
}

// VideoPopped records that a video frame with the given source time and
// sequence was just popped.
func (s *Sync) VideoPopped(sourceTime, seq uint64, now time.Time) {
	s.sourceVideoTimePopped = sourceTime
	s.videoSeqPopped = seq
	s.localVideoTimePopped = now
	s.hasPoppedVideo = true
}

// HasPoppedAudio reports whether an audio frame has ever been popped.
func (s *Sync) HasPoppedAudio() bool { return s.hasPoppedAudio }

// AudioSeqPopped returns the sequence number of the last popped audio
// frame. Only meaningful once HasPoppedAudio is true.
func (s *Sync) AudioSeqPopped() uint64 { return s.audioSeqPopped }

// HasPoppedVideo reports whether a video frame has ever been popped.
func (s *Sync) HasPoppedVideo() bool { return s.hasPoppedVideo }

// VideoSeqPopped returns the sequence number of the last popped video
// frame. Only meaningful once HasPoppedVideo is true.
func (s *Sync) VideoSeqPopped() uint64 { return s.videoSeqPopped }

// GetVideoAction walks mq from the head and decides the next video action,
// along with how many leading frames it applies to.
func (s *Sync) GetVideoAction(mq *metaqueue.MetaQueue, now time.Time) (action Action, numPop uint) {
	action = Hold
	numPop = 0

	for _, f := range mq.Frames() {
		if !s.hasPoppedVideo {
			if !f.Packet.IsIntraFrame {
				action = PopDiscard
				numPop++
				continue
			}
			if action != PopDiscard {
				action = Pop
				numPop++
			}
			break
		}

		if f.Packet.EncodedSequenceNum == s.videoSeqPopped+uint64(numPop)+1 {
			switch {
			case !s.hasPoppedAudio:
				action = PopVideoOnly
				numPop++
			case f.Packet.SourceRecordTime < s.sourceAudioTimePopped:
				action = Pop
				numPop++
			case now.Sub(s.localAudioTimePopped) > staleAudioTimeout:
				action = PopVideoOnly
				numPop++
				return action, numPop
			default:
				return action, numPop
			}
			continue
		}

		// out of order
		if action == Pop {
			break
		}
		if !f.Packet.IsIntraFrame {
			action = PopDiscard
			numPop++
			continue
		}
		if action != PopDiscard {
			action = Pop
			numPop++
		}
		break
	}

	return action, numPop
}
