package monitor

// stagnation counts consecutive identical samples. It is owned by one loop
// goroutine.
type stagnation struct {
	prev  []uint64
	count int
}

// observe records cur and returns the run length of identical samples.
func (s *stagnation) observe(cur []uint64) int {
	if sameReadings(s.prev, cur) {
		s.count++
	} else {
		s.count = 0
	}
	s.prev = append(s.prev[:0], cur...)
	return s.count
}

func (s *stagnation) reset() {
	s.prev = s.prev[:0]
	s.count = 0
}

func sameReadings(a, b []uint64) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
