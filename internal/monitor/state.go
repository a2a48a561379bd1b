package monitor

import "codeberg.org/mutker/cpufreqctl/internal/sampler"

// Indicator summarizes how many cores are over the alert threshold.
type Indicator string

const (
	IndicatorNormal  Indicator = "normal"
	IndicatorWarning Indicator = "warning"
	IndicatorDanger  Indicator = "danger"
)

// Level maps the indicator to 0, 1 or 2.
func (i Indicator) Level() float64 {
	switch i {
	case IndicatorWarning:
		return 1
	case IndicatorDanger:
		return 2
	}
	return 0
}

// State is the published snapshot of the engine. Mode is the sampling mode
// the frequencies were read with.
type State struct {
	Frequencies     []uint64     `json:"frequencies"`
	Mode            sampler.Mode `json:"mode,omitempty"`
	IsRefreshing    bool         `json:"is_refreshing"`
	IndicatorStatus Indicator    `json:"indicator_status"`
	LastUpdateCount int          `json:"last_update_count"`
}

func (s State) clone() State {
	s.Frequencies = append(make([]uint64, 0, len(s.Frequencies)), s.Frequencies...)
	return s
}

// Classify returns the indicator for readings in MHz against a threshold
// in GHz, with the indices of the breaching cores. A core breaches when it
// is strictly above the threshold.
func Classify(freqs []uint64, thresholdGHz float64) (Indicator, []int) {
	breaching := make([]int, 0)
	for i, mhz := range freqs {
		if float64(mhz)/1000 > thresholdGHz {
			breaching = append(breaching, i)
		}
	}

	switch {
	case len(breaching) == 0:
		return IndicatorNormal, breaching
	case len(breaching) == len(freqs):
		return IndicatorDanger, breaching
	}
	return IndicatorWarning, breaching
}
