package sampler_test

import (
	"testing"

	"github.com/synthiacore/synthia/internal/sampler"
)

func f(v float64) *float64 { return &v }

func idleSignals() sampler.Signals {
	return sampler.Signals{
		CPUFrac:      f(0.05),
		MemFrac:      f(0.30),
		LoadPerCore:  f(0.10),
		APIP95MS:     f(10),
		APIInflight:  f(0),
		APIErrorRate: f(0),
		APIRPS:       f(0.1),
	}
}

func TestBusyRating_IdleIsZero(t *testing.T) {
	busy, _ := sampler.BusyRating(idleSignals(), sampler.DefaultBreakpoints())
	if busy != 0 {
		t.Fatalf("idle host rated %f, want 0", busy)
	}
}

func TestBusyRating_SingleStressedSignalDominates(t *testing.T) {
	sig := idleSignals()
	sig.APIErrorRate = f(0.50) // far past the upper breakpoint

	busy, per := sampler.BusyRating(sig, sampler.DefaultBreakpoints())
	if busy != 10 {
		t.Fatalf("stressed error rate should dominate: got %f", busy)
	}
	if per["error_rate"] != 10 {
		t.Fatalf("per-signal rating %f, want 10", per["error_rate"])
	}
	if per["cpu"] != 0 {
		t.Fatalf("idle cpu should stay 0, got %f", per["cpu"])
	}
}

func TestBusyRating_MissingSignalFailsClosed(t *testing.T) {
	sig := idleSignals()
	sig.CPUFrac = nil

	busy, per := sampler.BusyRating(sig, sampler.DefaultBreakpoints())
	if busy != 10 {
		t.Fatalf("missing cpu must rate 10, got %f", busy)
	}
	if per["cpu"] != 10 {
		t.Fatalf("missing signal rating %f, want 10", per["cpu"])
	}
}

func TestBusyRating_PiecewiseLinearMidpoint(t *testing.T) {
	sig := idleSignals()
	sig.CPUFrac = f(0.50) // midpoint of [0.10, 0.90]

	_, per := sampler.BusyRating(sig, sampler.DefaultBreakpoints())
	if per["cpu"] != 5 {
		t.Fatalf("cpu at midpoint rated %f, want 5", per["cpu"])
	}
}

func TestBusyRating_MonotonicInCPU(t *testing.T) {
	bp := sampler.DefaultBreakpoints()
	prev := -1.0
	for frac := 0.0; frac <= 1.0; frac += 0.05 {
		sig := idleSignals()
		sig.CPUFrac = f(frac)
		_, per := sampler.BusyRating(sig, bp)
		if per["cpu"] < prev {
			t.Fatalf("cpu rating decreased at frac=%f", frac)
		}
		prev = per["cpu"]
	}
}

func TestBusyRating_Clamped(t *testing.T) {
	sig := idleSignals()
	sig.CPUFrac = f(5.0)

	busy, _ := sampler.BusyRating(sig, sampler.DefaultBreakpoints())
	if busy != 10 {
		t.Fatalf("rating must clamp at 10, got %f", busy)
	}
}

func TestAssessQuiet_Buckets(t *testing.T) {
	cases := []struct {
		busy float64
		want sampler.QuietState
	}{
		{0, sampler.QuietQuiet},
		{2, sampler.QuietQuiet},
		{3, sampler.QuietNormal},
		{5, sampler.QuietNormal},
		{6, sampler.QuietBusy},
		{7, sampler.QuietBusy},
		{8, sampler.QuietPanic},
		{10, sampler.QuietPanic},
	}
	for _, tc := range cases {
		if got := sampler.AssessQuiet(tc.busy).State; got != tc.want {
			t.Errorf("busy=%f: state %s, want %s", tc.busy, got, tc.want)
		}
	}

	if score := sampler.AssessQuiet(10).QuietScore; score != 0 {
		t.Fatalf("busy=10 quiet score %d, want 0", score)
	}
	if score := sampler.AssessQuiet(0).QuietScore; score != 100 {
		t.Fatalf("busy=0 quiet score %d, want 100", score)
	}
}
