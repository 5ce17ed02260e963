// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package tsdb

// Series is a single named, labeled time series: strictly time-monotonic
// timestamps (nanoseconds since epoch) with one value per timestamp.
type Series struct {
	Timestamps []int64
	Values     []float64
	Labels     Labels
}

// Collection is an ordered set of series sharing a metric name, as
// returned from a Tsdb query. Its operations mirror the viewer's
// documented Collection API: Rate, AverageRate, Untyped, Sum, Labels.
type Collection struct {
	Series []*Series
}

// Rate computes the per-series instantaneous rate of change between each
// consecutive pair of points, in units per second. A decrease between two
// points is treated as a counter reset and contributes a rate of zero for
// that interval, rather than a negative rate.
func (c *Collection) Rate() *Collection {
	out := &Collection{Series: make([]*Series, len(c.Series))}
	for i, s := range c.Series {
		rates := &Series{Labels: s.Labels}
		for j := 1; j < len(s.Values); j++ {
			dt := float64(s.Timestamps[j]-s.Timestamps[j-1]) / 1e9
			if dt <= 0 {
				continue
			}
			dv := s.Values[j] - s.Values[j-1]
			if dv < 0 {
				dv = 0
			}
			rates.Timestamps = append(rates.Timestamps, s.Timestamps[j])
			rates.Values = append(rates.Values, dv/dt)
		}
		out.Series[i] = rates
	}
	return out
}

// AverageRate computes a single average rate per series across its full
// span, applying the same counter-reset handling as Rate.
func (c *Collection) AverageRate() *Collection {
	out := &Collection{Series: make([]*Series, len(c.Series))}
	for i, s := range c.Series {
		avg := &Series{Labels: s.Labels}
		if len(s.Values) < 2 {
			out.Series[i] = avg
			continue
		}

		var total float64
		for j := 1; j < len(s.Values); j++ {
			dv := s.Values[j] - s.Values[j-1]
			if dv < 0 {
				dv = 0
			}
			total += dv
		}

		dt := float64(s.Timestamps[len(s.Timestamps)-1]-s.Timestamps[0]) / 1e9
		if dt <= 0 {
			out.Series[i] = avg
			continue
		}

		avg.Timestamps = []int64{s.Timestamps[len(s.Timestamps)-1]}
		avg.Values = []float64{total / dt}
		out.Series[i] = avg
	}
	return out
}

// Untyped returns the collection unchanged, used when a selector matches
// a gauge-shaped series that a query treats as a raw value rather than a
// counter.
func (c *Collection) Untyped() *Collection {
	return c
}

// Sum collapses every series in the collection into a single series,
// summing values at matching timestamps.
func (c *Collection) Sum() *Collection {
	byTs := map[int64]float64{}
	for _, s := range c.Series {
		for i, ts := range s.Timestamps {
			byTs[ts] += s.Values[i]
		}
	}

	summed := &Series{}
	for ts, v := range byTs {
		summed.Timestamps = append(summed.Timestamps, ts)
		summed.Values = append(summed.Values, v)
	}
	sortSeriesByTime(summed)

	return &Collection{Series: []*Series{summed}}
}

// Labels returns the distinct label sets present across the collection's
// series.
func (c *Collection) Labels() []Labels {
	out := make([]Labels, 0, len(c.Series))
	for _, s := range c.Series {
		out = append(out, s.Labels)
	}
	return out
}

func sortSeriesByTime(s *Series) {
	// insertion sort is sufficient here: Sum's map iteration produces a
	// small, already-nearly-sorted set of distinct timestamps in
	// practice (one per sampling tick).
	for i := 1; i < len(s.Timestamps); i++ {
		for j := i; j > 0 && s.Timestamps[j-1] > s.Timestamps[j]; j-- {
			s.Timestamps[j-1], s.Timestamps[j] = s.Timestamps[j], s.Timestamps[j-1]
			s.Values[j-1], s.Values[j] = s.Values[j], s.Values[j-1]
		}
	}
}
