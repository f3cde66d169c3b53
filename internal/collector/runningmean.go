package collector

// runningMean keeps Welford's online mean, avoiding an ever-growing
// sample slice for a stat that's only ever read as an average.
type runningMean struct {
	n    int64
	mean float64
}

func (m *runningMean) Add(v float64) {
	m.n++
	m.mean += (v - m.mean) / float64(m.n)
}

func (m *runningMean) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.mean
}

func (m *runningMean) Count() int64 { return m.n }
