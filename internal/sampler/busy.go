package sampler

// Signal inputs for the busy rating. A nil field means the signal is
// missing and contributes the maximum rating (fail closed).
type Signals struct {
	CPUFrac      *float64 // 0..1 of total CPU
	MemFrac      *float64 // 0..1 of memory used
	LoadPerCore  *float64 // load1 / logical cores
	APIP95MS     *float64
	APIInflight  *float64
	APIErrorRate *float64 // 0..1
	APIRPS       *float64
}

// Breakpoints define the piecewise-linear mapping per signal: at or below
// Lo the signal rates 0, at or above Hi it rates 10, linear in between.
type Breakpoints struct {
	CPULo, CPUHi           float64
	MemLo, MemHi           float64
	LoadLo, LoadHi         float64
	P95Lo, P95Hi           float64
	InflightLo, InflightHi float64
	ErrLo, ErrHi           float64
	RPSLo, RPSHi           float64
}

// DefaultBreakpoints are conservative: a host at 90% CPU or an API p95 of
// 800ms rates a full 10 on that signal.
func DefaultBreakpoints() Breakpoints {
	return Breakpoints{
		CPULo: 0.10, CPUHi: 0.90,
		MemLo: 0.70, MemHi: 0.95,
		LoadLo: 0.20, LoadHi: 1.20,
		P95Lo: 50, P95Hi: 800,
		InflightLo: 1, InflightHi: 20,
		ErrLo: 0.01, ErrHi: 0.20,
		RPSLo: 0.5, RPSHi: 25,
	}
}

func ramp(x, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	r := (x - lo) / (hi - lo) * 10
	if r < 0 {
		return 0
	}
	if r > 10 {
		return 10
	}
	return r
}

func rate(v *float64, lo, hi float64) float64 {
	if v == nil {
		return 10
	}
	return ramp(*v, lo, hi)
}

// BusyRating maps each signal to [0,10] and takes the maximum: a single
// stressed signal must dominate the composite. Missing signals rate 10.
// Returns the composite and the per-signal ratings.
func BusyRating(sig Signals, bp Breakpoints) (float64, map[string]float64) {
	per := map[string]float64{
		"cpu":        rate(sig.CPUFrac, bp.CPULo, bp.CPUHi),
		"mem":        rate(sig.MemFrac, bp.MemLo, bp.MemHi),
		"load":       rate(sig.LoadPerCore, bp.LoadLo, bp.LoadHi),
		"api_p95":    rate(sig.APIP95MS, bp.P95Lo, bp.P95Hi),
		"inflight":   rate(sig.APIInflight, bp.InflightLo, bp.InflightHi),
		"error_rate": rate(sig.APIErrorRate, bp.ErrLo, bp.ErrHi),
		"rps":        rate(sig.APIRPS, bp.RPSLo, bp.RPSHi),
	}
	busy := 0.0
	for _, r := range per {
		if r > busy {
			busy = r
		}
	}
	return busy, per
}

// QuietState buckets the busy rating for consumers that want a coarse
// answer.
type QuietState string

const (
	QuietQuiet  QuietState = "quiet"
	QuietNormal QuietState = "normal"
	QuietBusy   QuietState = "busy"
	QuietPanic  QuietState = "panic"
)

type QuietAssessment struct {
	QuietScore int        `json:"quiet_score"` // 100 - busy*10
	State      QuietState `json:"state"`
}

func AssessQuiet(busy float64) QuietAssessment {
	if busy < 0 {
		busy = 0
	}
	if busy > 10 {
		busy = 10
	}
	q := QuietAssessment{QuietScore: int(100 - busy*10 + 0.5)}
	switch {
	case busy <= 2:
		q.State = QuietQuiet
	case busy <= 5:
		q.State = QuietNormal
	case busy <= 7:
		q.State = QuietBusy
	default:
		q.State = QuietPanic
	}
	return q
}
