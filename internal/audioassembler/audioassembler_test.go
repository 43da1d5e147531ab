package audioassembler

import (
	"errors"
	"testing"

	"mediaclient/internal/packet"
)

type fakeDecoder struct {
	nextN   int
	nextErr error
	lastNil bool
}

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	f.lastNil = data == nil
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	for i := range pcm {
		if i < f.nextN {
			pcm[i] = int16(i + 1)
		}
	}
	return f.nextN, nil
}

func TestPushDecodesIntoL16(t *testing.T) {
	fd := &fakeDecoder{nextN: 4}
	a := newWithDecoder(fd, 1, 4, FormatL16)

	in := &packet.Packet{SourceID: 1, EncodedSequenceNum: 7, Data: []byte{0xAA, 0xBB}}
	out, err := a.Push(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MediaType != packet.MediaL16 {
		t.Errorf("MediaType = %v, want MediaL16", out.MediaType)
	}
	if len(out.Data) != 8 {
		t.Errorf("Data len = %d, want 8", len(out.Data))
	}
	if fd.lastNil {
		t.Errorf("expected real payload passed to decoder, got nil")
	}
}

func TestPushDecodeErrorReturnsDecodeError(t *testing.T) {
	fd := &fakeDecoder{nextErr: errors.New("corrupt stream")}
	a := newWithDecoder(fd, 1, 4, FormatL16)

	_, err := a.Push(&packet.Packet{SourceID: 2, EncodedSequenceNum: 1, Data: []byte{0x01}})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.SourceID != 2 || de.Seq != 1 {
		t.Errorf("DecodeError fields = %+v", de)
	}
}

func TestCreatePLCPassesNilToDecoder(t *testing.T) {
	fd := &fakeDecoder{nextN: 4}
	a := newWithDecoder(fd, 1, 4, FormatL16)

	pkt, err := a.CreatePLC(8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fd.lastNil {
		t.Errorf("expected CreatePLC to call Decode with nil input")
	}
	if pkt.SourceRecordTime != 0 {
		t.Errorf("expected SourceRecordTime=0 for synthesised frame, got %d", pkt.SourceRecordTime)
	}
}

func TestCreateZeroPayloadIsSilence(t *testing.T) {
	pkt := CreateZeroPayload(16)
	if len(pkt.Data) != 16 {
		t.Fatalf("len = %d, want 16", len(pkt.Data))
	}
	for i, b := range pkt.Data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestPushF32Format(t *testing.T) {
	fd := &fakeDecoder{nextN: 2}
	a := newWithDecoder(fd, 1, 2, FormatF32)

	out, err := a.Push(&packet.Packet{Data: []byte{0x01}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MediaType != packet.MediaF32 {
		t.Errorf("MediaType = %v, want MediaF32", out.MediaType)
	}
	if len(out.Data) != 8 {
		t.Errorf("Data len = %d, want 8 (2 samples * 4 bytes)", len(out.Data))
	}
}
