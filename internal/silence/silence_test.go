package silence

import "testing"

func loudFrame(n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0.8
		} else {
			f[i] = -0.8
		}
	}
	return f
}

func quietFrame(n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0.0001
		} else {
			f[i] = -0.0001
		}
	}
	return f
}

func TestNotSilenceBeforeConvergence(t *testing.T) {
	d := New(960, 48000)
	for i := 0; i < 5; i++ {
		d.Update(quietFrame(960), nil)
	}
	if d.IsSilence() {
		t.Fatalf("expected not-converged detector to report non-silence")
	}
}

func TestQuietStreamEventuallySilence(t *testing.T) {
	d := New(960, 48000)
	for i := 0; i < 30; i++ {
		d.Update(loudFrame(960), nil)
	}
	for i := 0; i < 200; i++ {
		d.Update(quietFrame(960), nil)
	}
	if !d.IsSilence() {
		t.Fatalf("expected converged quiet stream to report silence, SNR=%f", d.SNR())
	}
}

func TestLoudStreamNeverSilence(t *testing.T) {
	d := New(960, 48000)
	for i := 0; i < 100; i++ {
		d.Update(loudFrame(960), nil)
	}
	if d.IsSilence() {
		t.Fatalf("expected sustained loud stream to report non-silence")
	}
}

func TestStereoSumsBothChannels(t *testing.T) {
	d := New(960, 48000)
	d.Update(loudFrame(960), loudFrame(960))
	if d.SignalLevel() <= 0 {
		t.Fatalf("expected nonzero signal level from stereo update")
	}
}
