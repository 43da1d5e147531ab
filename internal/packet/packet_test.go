package packet

import "testing"

func TestCloneIsIndependent(t *testing.T) {
	p := &Packet{SourceID: 1, Data: []byte{1, 2, 3}}
	c := p.Clone()
	c.Data[0] = 0xFF
	if p.Data[0] == 0xFF {
		t.Fatal("Clone shares backing array with original")
	}
}

func TestCloneNil(t *testing.T) {
	var p *Packet
	if p.Clone() != nil {
		t.Fatal("Clone of nil should be nil")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Packet{
		ClientID:           1,
		SourceID:           2,
		EncodedSequenceNum: 3,
		SourceRecordTime:   123456,
		MediaType:          MediaOpus,
		IsIntraFrame:       true,
		FragmentIndex:      1,
		FragmentCount:      4,
		FrameSize:          960,
		Data:               []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	buf := p.Encode()
	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ClientID != p.ClientID || out.SourceID != p.SourceID ||
		out.EncodedSequenceNum != p.EncodedSequenceNum ||
		out.SourceRecordTime != p.SourceRecordTime ||
		out.MediaType != p.MediaType || out.IsIntraFrame != p.IsIntraFrame ||
		out.FragmentIndex != p.FragmentIndex || out.FragmentCount != p.FragmentCount ||
		out.FrameSize != p.FrameSize {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, p)
	}
	if string(out.Data) != string(p.Data) {
		t.Fatalf("Data mismatch: got %v, want %v", out.Data, p.Data)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error decoding short buffer")
	}
}

func TestMediaTypeClassification(t *testing.T) {
	cases := []struct {
		mt      MediaType
		isAudio bool
		isVideo bool
	}{
		{MediaOpus, true, false},
		{MediaL16, true, false},
		{MediaF32, true, false},
		{MediaH264, false, true},
		{MediaRaw, false, true},
		{MediaUnknown, false, false},
	}
	for _, c := range cases {
		if got := c.mt.IsAudio(); got != c.isAudio {
			t.Errorf("%s.IsAudio() = %v, want %v", c.mt, got, c.isAudio)
		}
		if got := c.mt.IsVideo(); got != c.isVideo {
			t.Errorf("%s.IsVideo() = %v, want %v", c.mt, got, c.isVideo)
		}
	}
}
