package lipsync

import (
	"testing"
	"time"

	"mediaclient/internal/metaqueue"
	"mediaclient/internal/packet"
)

func videoPkt(seq uint64, ts uint64, idr bool) *packet.Packet {
	return &packet.Packet{
		SourceID:           9,
		EncodedSequenceNum: seq,
		SourceRecordTime:   ts,
		MediaType:          packet.MediaH264,
		IsIntraFrame:       idr,
	}
}

func TestFreshStreamDiscardsUntilIDR(t *testing.T) {
	s := New()
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(1, 100, false), false, 0, now)
	mq.PushVideo(videoPkt(2, 200, false), false, 0, now)
	mq.PushVideo(videoPkt(3, 300, true), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != PopDiscard {
		t.Fatalf("action = %v, want PopDiscard", action)
	}
	if numPop != 2 {
		t.Fatalf("numPop = %d, want 2 (leading non-IDR frames)", numPop)
	}
}

func TestFreshStreamPopsWhenHeadIsIDR(t *testing.T) {
	s := New()
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(1, 100, true), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != Pop || numPop != 1 {
		t.Fatalf("action=%v numPop=%d, want Pop/1", action, numPop)
	}
}

func TestInOrderHoldsWhenNothingToDo(t *testing.T) {
	s := New()
	s.VideoPopped(300, 3, time.Now())
	s.AudioPopped(400, 10, time.Now())
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(4, 500, false), false, 0, now)

	action, _ := s.GetVideoAction(mq, now)
	if action != Hold {
		t.Fatalf("action = %v, want Hold", action)
	}
}

func TestInOrderPopsWhenOlderThanAudio(t *testing.T) {
	s := New()
	s.VideoPopped(300, 3, time.Now())
	s.AudioPopped(1000, 10, time.Now())
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(4, 500, false), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != Pop || numPop != 1 {
		t.Fatalf("action=%v numPop=%d, want Pop/1", action, numPop)
	}
}

func TestInOrderPopVideoOnlyWhenAudioStale(t *testing.T) {
	s := New()
	s.VideoPopped(300, 3, time.Now())
	old := time.Now().Add(-time.Second)
	s.AudioPopped(200, 10, old)
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(4, 500, false), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != PopVideoOnly || numPop != 1 {
		t.Fatalf("action=%v numPop=%d, want PopVideoOnly/1", action, numPop)
	}
}

func TestInOrderPopVideoOnlyWhenNoAudioEverPopped(t *testing.T) {
	s := New()
	s.VideoPopped(300, 3, time.Now())
	mq := metaqueue.NewVideo()
	now := time.Now()
	mq.PushVideo(videoPkt(4, 500, false), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != PopVideoOnly || numPop != 1 {
		t.Fatalf("action=%v numPop=%d, want PopVideoOnly/1", action, numPop)
	}
}

func TestGettersReflectLastPoppedState(t *testing.T) {
	s := New()
	if s.HasPoppedAudio() || s.HasPoppedVideo() {
		t.Fatalf("fresh Sync should report no pops yet")
	}

	s.AudioPopped(1000, 7, time.Now())
	if !s.HasPoppedAudio() {
		t.Fatalf("expected HasPoppedAudio=true after AudioPopped")
	}
	if got := s.AudioSeqPopped(); got != 7 {
		t.Fatalf("AudioSeqPopped = %d, want 7", got)
	}

	s.VideoPopped(2000, 9, time.Now())
	if !s.HasPoppedVideo() {
		t.Fatalf("expected HasPoppedVideo=true after VideoPopped")
	}
	if got := s.VideoSeqPopped(); got != 9 {
		t.Fatalf("VideoSeqPopped = %d, want 9", got)
	}
}

func TestOutOfOrderDiscardsToNextIDR(t *testing.T) {
	s := New()
	s.VideoPopped(300, 3, time.Now())
	s.AudioPopped(1000, 10, time.Now())
	mq := metaqueue.NewVideo()
	now := time.Now()
	// head seq 6 is not the expected seq 4 -> out of order.
	mq.PushVideo(videoPkt(6, 600, false), false, 0, now)
	mq.PushVideo(videoPkt(7, 700, true), false, 0, now)

	action, numPop := s.GetVideoAction(mq, now)
	if action != PopDiscard {
		t.Fatalf("action = %v, want PopDiscard", action)
	}
	if numPop != 1 {
		t.Fatalf("numPop = %d, want 1", numPop)
	}
}
