package chaos

import "sync/atomic"

type statsCounters struct {
	processed      atomic.Int64
	errorsInjected atomic.Int64
	totalLatencyMS atomic.Int64
}

// Stats is a point-in-time snapshot of the chaos counters.
type Stats struct {
	RequestsProcessed   int64   `json:"requestsProcessed"`
	ErrorsInjected      int64   `json:"errorsInjected"`
	TotalLatencyAddedMS int64   `json:"totalLatencyAddedMs"`
	AverageLatencyMS    float64 `json:"averageLatency"`
}

// Stats returns a snapshot. Average is total/processed, 0 when nothing was
// processed yet.
func (in *Injector) Stats() Stats {
	s := Stats{
		RequestsProcessed:   in.stats.processed.Load(),
		ErrorsInjected:      in.stats.errorsInjected.Load(),
		TotalLatencyAddedMS: in.stats.totalLatencyMS.Load(),
	}
	if s.RequestsProcessed > 0 {
		s.AverageLatencyMS = float64(s.TotalLatencyAddedMS) / float64(s.RequestsProcessed)
	}
	return s
}

// ResetStats zeroes the counters.
func (in *Injector) ResetStats() {
	in.stats.processed.Store(0)
	in.stats.errorsInjected.Store(0)
	in.stats.totalLatencyMS.Store(0)
}
