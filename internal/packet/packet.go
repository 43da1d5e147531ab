// Package packet defines Packet, the unit of transfer between the named-object
// transport layer and the jitter/playout engine. A Packet is immutable once
// the engine has accepted it: nothing downstream mutates client_id, source_id
// or encoded_sequence_num after construction.
package packet

// MediaType identifies the payload encoding carried in a Packet.
type MediaType uint8

const (
	// MediaUnknown is the zero value; never a valid packet on the wire.
	MediaUnknown MediaType = iota
	MediaOpus
	MediaL16
	MediaF32
	MediaH264
	MediaRaw
)

func (m MediaType) String() string {
	switch m {
	case MediaOpus:
		return "opus"
	case MediaL16:
		return "l16"
	case MediaF32:
		return "f32"
	case MediaH264:
		return "h264"
	case MediaRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// IsAudio reports whether m is one of the audio media types.
func (m MediaType) IsAudio() bool {
	return m == MediaOpus || m == MediaL16 || m == MediaF32
}

// IsVideo reports whether m is one of the video media types.
func (m MediaType) IsVideo() bool {
	return m == MediaH264 || m == MediaRaw
}

// IdrRequest is the payload of an upstream "please key-frame now" signal,
// sent when the video playout path discards to the next IDR.
type IdrRequest struct {
	ClientID         uint64
	SourceID         uint64
	SourceRecordTime uint64
}

// Packet is the core entity flowing through the engine: cleartext media
// metadata plus payload, already unprotected and decrypted by the transport
// and crypto layers (out of scope here, see spec.md §1).
//
// Invariants: within one SourceID, EncodedSequenceNum is strictly increasing
// over the stream's lifetime; IsIntraFrame=true implies the frame is
// self-contained; for audio, one Packet is one coded frame of fixed duration.
type Packet struct {
	ClientID         uint64
	SourceID         uint64
	EncodedSequenceNum uint64
	SourceRecordTime uint64 // microseconds at origin; used for lip sync

	MediaType    MediaType
	IsIntraFrame bool

	// Video fragmentation.
	FragmentIndex uint32
	FragmentCount uint32
	FrameSize     uint32

	// Data holds opaque cleartext bytes: still-encoded media on the way in
	// (Opus/H264/Raw), or decoded samples once AudioAssembler has run.
	Data []byte
}

// Clone returns a deep copy of p, safe to mutate independently.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	out := *p
	if p.Data != nil {
		out.Data = append([]byte(nil), p.Data...)
	}
	return &out
}
