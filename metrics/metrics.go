package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// CounterSmoother turns a monotonically growing counter into an
// exponentially smoothed per-sample delta.
type CounterSmoother struct {
	lastValue float64
	smoothed  float64
	Alpha     float64
	isInit    bool
}

func (s *CounterSmoother) Update(currentTotal float64) float64 {
	if !s.isInit {
		s.lastValue = currentTotal
		s.isInit = true
		return 0
	}

	delta := currentTotal - s.lastValue
	if delta < 0 {
		delta = 0
	}

	s.smoothed = s.Alpha*delta + (1-s.Alpha)*s.smoothed
	s.lastValue = currentTotal

	return s.smoothed
}

type FetchResultTotal struct {
	Queue   string  `json:"queue"`
	Outcome string  `json:"outcome"`
	Count   float64 `json:"count"`
}

// CollectorFetchResults reads tr_trove_fetch_results_total back from the
// default registry.
func CollectorFetchResults() []*FetchResultTotal {
	totals := make([]*FetchResultTotal, 0)
	for _, mf := range Gather() {
		if mf.GetName() != "tr_trove_fetch_results_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			t := &FetchResultTotal{Count: metric.GetCounter().GetValue()}
			for _, label := range metric.GetLabel() {
				switch label.GetName() {
				case "queue":
					t.Queue = label.GetValue()
				case "outcome":
					t.Outcome = label.GetValue()
				}
			}
			if t.Count > 0 {
				totals = append(totals, t)
			}
		}
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Queue != totals[j].Queue {
			return totals[i].Queue < totals[j].Queue
		}
		return totals[i].Outcome < totals[j].Outcome
	})
	return totals
}

// CounterValue sums every series of the named counter.
func CounterValue(name string) float64 {
	var sum float64
	for _, mf := range Gather() {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
	}
	return sum
}

func Gather() []*dto.MetricFamily {
	familys, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil
	}
	return familys
}
