package packet

import (
	"encoding/binary"
	"fmt"
)

// wireHeaderSize is the fixed portion of Encode's output, before Data.
const wireHeaderSize = 8 + 8 + 8 + 8 + 1 + 1 + 4 + 4 + 4

// Encode serialises p into the fixed-header wire format carried inside one
// transport datagram. Data is appended verbatim after the header.
func (p *Packet) Encode() []byte {
	buf := make([]byte, wireHeaderSize+len(p.Data))
	binary.BigEndian.PutUint64(buf[0:8], p.ClientID)
	binary.BigEndian.PutUint64(buf[8:16], p.SourceID)
	binary.BigEndian.PutUint64(buf[16:24], p.EncodedSequenceNum)
	binary.BigEndian.PutUint64(buf[24:32], p.SourceRecordTime)
	buf[32] = byte(p.MediaType)
	if p.IsIntraFrame {
		buf[33] = 1
	}
	binary.BigEndian.PutUint32(buf[34:38], p.FragmentIndex)
	binary.BigEndian.PutUint32(buf[38:42], p.FragmentCount)
	binary.BigEndian.PutUint32(buf[42:46], p.FrameSize)
	copy(buf[wireHeaderSize:], p.Data)
	return buf
}

// Decode parses the wire format produced by Encode. The returned Packet's
// Data aliases buf; callers that retain buf must Clone first.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < wireHeaderSize {
		return nil, fmt.Errorf("packet: wire buffer too short: %d bytes, want >= %d", len(buf), wireHeaderSize)
	}
	p := &Packet{
		ClientID:           binary.BigEndian.Uint64(buf[0:8]),
		SourceID:           binary.BigEndian.Uint64(buf[8:16]),
		EncodedSequenceNum: binary.BigEndian.Uint64(buf[16:24]),
		SourceRecordTime:   binary.BigEndian.Uint64(buf[24:32]),
		MediaType:          MediaType(buf[32]),
		IsIntraFrame:       buf[33] != 0,
		FragmentIndex:      binary.BigEndian.Uint32(buf[34:38]),
		FragmentCount:      binary.BigEndian.Uint32(buf[38:42]),
		FrameSize:          binary.BigEndian.Uint32(buf[42:46]),
	}
	p.Data = buf[wireHeaderSize:]
	return p, nil
}
