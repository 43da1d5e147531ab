package videoassembler

import (
	"testing"

	"mediaclient/internal/packet"
)

func frag(ts uint64, idx, count uint32, data []byte) *packet.Packet {
	return &packet.Packet{
		SourceRecordTime: ts,
		FragmentIndex:    idx,
		FragmentCount:    count,
		MediaType:        packet.MediaH264,
		Data:             data,
	}
}

func TestPushAssemblesInOrderRegardlessOfArrivalOrder(t *testing.T) {
	a := New()

	if _, ok := a.Push(frag(100, 1, 3, []byte{2})); ok {
		t.Fatalf("expected incomplete frame to not assemble yet")
	}
	if _, ok := a.Push(frag(100, 2, 3, []byte{3})); ok {
		t.Fatalf("expected incomplete frame to not assemble yet")
	}

	out, ok := a.Push(frag(100, 0, 3, []byte{1}))
	if !ok {
		t.Fatalf("expected third fragment to complete the frame")
	}
	if string(out.Data) != string([]byte{1, 2, 3}) {
		t.Errorf("Data = %v, want [1 2 3] (fragment-index order)", out.Data)
	}
	if out.FragmentCount != 1 {
		t.Errorf("FragmentCount = %d, want 1", out.FragmentCount)
	}
	if a.Pending() != 0 {
		t.Errorf("expected timestamp entry removed, Pending() = %d", a.Pending())
	}
}

func TestPushRejectsDuplicateFragment(t *testing.T) {
	a := New()
	a.Push(frag(100, 0, 2, []byte{1}))
	_, ok := a.Push(frag(100, 0, 2, []byte{9}))
	if ok {
		t.Fatalf("expected duplicate fragment index to be rejected")
	}
}

func TestPushNonConsecutiveIndicesNeverCompletes(t *testing.T) {
	a := New()
	a.Push(frag(100, 0, 2, []byte{1}))
	_, ok := a.Push(frag(100, 5, 2, []byte{2}))
	if ok {
		t.Fatalf("expected non-consecutive indices to never assemble")
	}
}

func TestSingleFragmentFrame(t *testing.T) {
	a := New()
	out, ok := a.Push(frag(50, 0, 1, []byte{0xFF}))
	if !ok {
		t.Fatalf("expected single-fragment frame to complete immediately")
	}
	if len(out.Data) != 1 || out.Data[0] != 0xFF {
		t.Errorf("Data = %v", out.Data)
	}
}

func TestPruneDropsOldIncompleteEntries(t *testing.T) {
	a := New()
	a.Push(frag(10, 0, 2, []byte{1}))
	a.Push(frag(200, 0, 2, []byte{1}))

	dropped := a.Prune(100)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if a.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", a.Pending())
	}
}
