package audio

import "testing"

func constantFrame(amp int16, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = amp
	}
	return s
}

func TestGate_SilenceNeverSpeech(t *testing.T) {
	g := NewGate(0)
	for i := 0; i < 20; i++ {
		if g.IsSpeech(constantFrame(0, 1024)) {
			t.Fatalf("IsSpeech(silence) = true on frame %d", i)
		}
	}
}

func TestGate_SpeechAfterCalibration(t *testing.T) {
	g := NewGate(0)

	// Establish a quiet floor.
	for i := 0; i < 10; i++ {
		g.IsSpeech(constantFrame(10, 1024))
	}

	if !g.IsSpeech(constantFrame(2000, 1024)) {
		t.Error("IsSpeech(loud frame) = false after quiet calibration")
	}
	if g.IsSpeech(constantFrame(10, 1024)) {
		t.Error("IsSpeech(quiet frame) = true after quiet calibration")
	}
}

func TestGate_FirstFrameCalibratesOnly(t *testing.T) {
	g := NewGate(0)
	if g.IsSpeech(constantFrame(5000, 1024)) {
		t.Error("IsSpeech() = true on very first frame, want calibration pass")
	}
}

func TestGate_SpeechDoesNotRaiseFloor(t *testing.T) {
	g := NewGate(0)
	for i := 0; i < 10; i++ {
		g.IsSpeech(constantFrame(10, 1024))
	}

	// Sustained talking must stay classified as speech.
	for i := 0; i < 100; i++ {
		if !g.IsSpeech(constantFrame(2000, 1024)) {
			t.Fatalf("IsSpeech(sustained speech) = false on frame %d", i)
		}
	}
}
