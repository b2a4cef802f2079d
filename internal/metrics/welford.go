package metrics

import (
	"math"
	"sync"
	"time"
)

// DurationStats keeps a running mean and standard deviation of durations
// using Welford's online algorithm, in O(1) space. Safe for concurrent use.
type DurationStats struct {
	mu    sync.Mutex
	count int
	mean  float64 // seconds
	m2    float64 // sum of squared differences from the mean
	last  time.Duration
}

// Observe adds one duration
func (s *DurationStats) Observe(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x := d.Seconds()
	s.count++
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (x - s.mean)
	s.last = d
}

// Summary is a point-in-time copy of DurationStats
type Summary struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Last   time.Duration
}

// Summary returns the current statistics. StdDev is the population
// standard deviation and is zero below two observations.
func (s *DurationStats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Count: s.count,
		Mean:  seconds(s.mean),
		Last:  s.last,
	}
	if s.count >= 2 {
		sum.StdDev = seconds(math.Sqrt(s.m2 / float64(s.count)))
	}
	return sum
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
