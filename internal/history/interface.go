package history

import (
	"context"
	"time"
)

// Recorder stores engine history.
type Recorder interface {
	RecordSample(s Sample) error
	RecordAlert(a Alert) error
	RecordActionRun(r ActionRun) error
	RecentSamples(ctx context.Context, limit int) ([]Sample, error)
	Close() error
}

// Sample is one published set of readings.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	Mode        string    `json:"mode"`
	Indicator   string    `json:"indicator"`
	Frequencies []uint64  `json:"frequencies"`
}

// Stats returns the minimum, maximum and mean reading.
func (s Sample) Stats() (lo, hi uint64, avg float64) {
	if len(s.Frequencies) == 0 {
		return 0, 0, 0
	}

	lo, hi = s.Frequencies[0], s.Frequencies[0]
	var sum uint64
	for _, f := range s.Frequencies {
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
		sum += f
	}
	return lo, hi, float64(sum) / float64(len(s.Frequencies))
}

type Alert struct {
	Timestamp    time.Time
	Severity     string
	Cores        []int
	ThresholdGHz float64
}

type ActionRun struct {
	ActionID string
	Name     string
	Phase    string
	FailedAt string
	Error    string
	Started  time.Time
	Finished time.Time
}
