package changepoint

import (
	"errors"
	"testing"
)

// repeat appends n copies of v to signal.
func repeat(signal []float64, v float64, n int) []float64 {
	for i := 0; i < n; i++ {
		signal = append(signal, v)
	}
	return signal
}

func TestDetectConstantSignal(t *testing.T) {
	d := NewDetector()
	signal := repeat(nil, 4, 30)

	cps, err := d.Detect(signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Errorf("constant signal produced change points %v", cps)
	}
}

func TestDetectSingleStep(t *testing.T) {
	d := &Detector{Penalty: 10, MinSegmentLength: 2}
	signal := repeat(repeat(nil, 0, 10), 10, 10)

	cps, err := d.Detect(signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 || cps[0] != 10 {
		t.Errorf("change points = %v, want [10]", cps)
	}
}

func TestDetectTwoSteps(t *testing.T) {
	d := &Detector{Penalty: 10, MinSegmentLength: 2}
	signal := repeat(repeat(repeat(nil, 0, 8), 20, 8), -15, 8)

	cps, err := d.Detect(signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 || cps[0] != 8 || cps[1] != 16 {
		t.Errorf("change points = %v, want [8 16]", cps)
	}
}

func TestDetectHighPenaltySuppressesSplits(t *testing.T) {
	// A small step is not worth a 1000-point penalty.
	d := NewDetector()
	signal := repeat(repeat(nil, 0, 10), 3, 10)

	cps, err := d.Detect(signal)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Errorf("change points = %v, want none under default penalty", cps)
	}
}

func TestDetectExcludesFinalBoundary(t *testing.T) {
	d := &Detector{Penalty: 1, MinSegmentLength: 2}
	signal := []float64{0, 0, 0, 50, 50, 50}

	cps, err := d.Detect(signal)
	if err != nil {
		t.Fatal(err)
	}
	for _, cp := range cps {
		if cp <= 0 || cp >= len(signal) {
			t.Errorf("change point %d outside (0, %d)", cp, len(signal))
		}
	}
}

func TestDetectSeriesTooShort(t *testing.T) {
	d := NewDetector()
	_, err := d.Detect([]float64{1})
	if !errors.Is(err, ErrSeriesTooShort) {
		t.Errorf("err = %v, want ErrSeriesTooShort", err)
	}

	_, err = d.Detect(nil)
	if !errors.Is(err, ErrSeriesTooShort) {
		t.Errorf("err = %v, want ErrSeriesTooShort", err)
	}
}

func TestDetectDefaults(t *testing.T) {
	d := NewDetector()
	if d.Penalty != DefaultPenalty {
		t.Errorf("Penalty = %v, want %v", d.Penalty, DefaultPenalty)
	}
	if d.MinSegmentLength != 2 {
		t.Errorf("MinSegmentLength = %d, want 2", d.MinSegmentLength)
	}
}
