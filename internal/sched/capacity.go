package sched

import (
	"math"
	"math/rand"
	"time"
)

// busyToPercent scales total capacity down as the host gets busier. The
// curve is conservative: anything at or above busy=8 leaves almost
// nothing for heavy work, and busy=10 shuts admission off entirely.
var busyToPercent = [11]float64{
	0:  1.00,
	1:  1.00,
	2:  1.00,
	3:  0.80,
	4:  0.65,
	5:  0.50,
	6:  0.35,
	7:  0.25,
	8:  0.15,
	9:  0.10,
	10: 0.00,
}

// UsableCapacity maps (busy, total, reserve) to the unit budget new
// leases may be granted against. Pure; busy is clamped to [0,10].
func UsableCapacity(busy int, total, reserve int) int {
	if busy < 0 {
		busy = 0
	}
	if busy > 10 {
		busy = 10
	}
	usable := int(math.Floor(float64(total)*busyToPercent[busy])) - reserve
	if usable < 0 {
		return 0
	}
	return usable
}

const maxRetryAfter = 30 * time.Second

// RetryAfter derives the deny backoff from pressure: base doubled for
// every busy point above 3, capped at 30s, with ±10% jitter.
func RetryAfter(base time.Duration, busy int) time.Duration {
	exp := busy - 3
	if exp < 0 {
		exp = 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(exp)))
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * jitter)
}
