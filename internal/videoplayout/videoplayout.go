// Package videoplayout implements VideoPlayout (spec §4.8): the pop_video
// contract that drives SyncScheduler decisions through a VideoDecoder and
// emits frames (or the last decoded frame, on hold).
package videoplayout

import (
	"time"

	"mediaclient/internal/lipsync"
	"mediaclient/internal/metaqueue"
	"mediaclient/internal/packet"
	"mediaclient/internal/videodecode"
)

// IdrRequester signals upstream that a keyframe is needed, used when
// pop_discard fires (spec §4.8: "trigger an IDR request upstream").
type IdrRequester interface {
	RequestIdr(req packet.IdrRequest)
}

// VideoDecoder is the subset of *videodecode.Decoder used here, narrowed so
// tests can substitute a fake without linking libav.
type VideoDecoder interface {
	Decode(data []byte) (videodecode.Frame, error)
}

// Decoded is one rendered output: a decoded frame plus its source
// timestamp, ready for display.
type Decoded struct {
	Frame            videodecode.Frame
	SourceRecordTime uint64
}

// Playout drives pop_video for one (client_id, source_id) video stream.
type Playout struct {
	ClientID uint64
	SourceID uint64

	MQ      *metaqueue.MetaQueue
	Sync    *lipsync.Sync
	Decoder VideoDecoder
	Idr     IdrRequester

	lastDecoded Decoded
	initialised bool
}

// midGrey is the fallback frame shown before any real frame has decoded.
func midGrey() videodecode.Frame {
	const w, h = 16, 16
	data := make([]byte, w*h+2*(w/2)*(h/2))
	for i := range data {
		data[i] = 128
	}
	return videodecode.Frame{Width: w, Height: h, Format: videodecode.PixelFormatI420, Data: data}
}

// New returns a Playout seeded with a mid-grey placeholder frame.
func New(clientID, sourceID uint64, mq *metaqueue.MetaQueue, sync *lipsync.Sync, dec VideoDecoder, idr IdrRequester) *Playout {
	return &Playout{
		ClientID: clientID, SourceID: sourceID,
		MQ: mq, Sync: sync, Decoder: dec, Idr: idr,
		lastDecoded: Decoded{Frame: midGrey()},
		initialised: true,
	}
}

// PopVideo implements the pop_video contract. sourceID mismatch checking is
// the caller's responsibility (stream routing happens one layer up).
func (p *Playout) PopVideo(now time.Time) Decoded {
	if p.MQ.Empty() {
		return p.lastDecoded
	}

	action, numPop := p.Sync.GetVideoAction(p.MQ, now)

	switch action {
	case lipsync.Hold:
		return p.lastDecoded

	case lipsync.Pop:
		p.decodeN(int(numPop), now)
		return p.lastDecoded

	case lipsync.PopDiscard:
		p.discardN(int(numPop), now)
		return p.lastDecoded

	case lipsync.PopVideoOnly:
		p.popVideoOnly(now)
		return p.lastDecoded

	default:
		return p.lastDecoded
	}
}

// decodeN pops and decodes n frames in order, updating Sync and the last
// decoded frame after each.
func (p *Playout) decodeN(n int, now time.Time) {
	for i := 0; i < n; i++ {
		frame, ok := p.MQ.Pop(now)
		if !ok {
			return
		}

		decFrame, err := p.Decoder.Decode(frame.Packet.Data)
		if err != nil {
			// Decoder retains its previous width/height/format/buffer;
			// loss is tolerable because the next IDR restarts (spec §4.8).
			continue
		}
		p.Sync.VideoPopped(frame.Packet.SourceRecordTime, frame.Packet.EncodedSequenceNum, now)
		p.lastDecoded = Decoded{Frame: decFrame, SourceRecordTime: frame.Packet.SourceRecordTime}
	}
}

// discardN drops n frames silently and requests a fresh keyframe.
func (p *Playout) discardN(n int, now time.Time) {
	for i := 0; i < n; i++ {
		if _, ok := p.MQ.Pop(now); !ok {
			break
		}
	}
	if p.Idr != nil {
		p.Idr.RequestIdr(packet.IdrRequest{ClientID: p.ClientID, SourceID: p.SourceID})
	}
}

// popVideoOnly drains the queue down to at most 2 frames, decoding the rest
// in order, used when audio has stalled and video must proceed alone.
func (p *Playout) popVideoOnly(now time.Time) {
	const maxRemaining = 2
	toDecode := p.MQ.Size() - maxRemaining
	if toDecode <= 0 {
		toDecode = 1
	}
	p.decodeN(toDecode, now)
}
