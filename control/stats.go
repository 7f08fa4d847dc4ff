// Statistics accumulates the running counters the facade exposes,
// including the testable invariant checkHits+directChecks==totalChecks
// (and the equivalent for quota), plus fail-open-rate alerting.
//
// Reduced from a fuller alerting pipeline shape down to a single threshold
// check on the cumulative fail-open rates, counted since the Statistics
// value was created; there is no sliding window.
package control

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics is safe for concurrent use; every field is updated with
// atomic operations.
type Statistics struct {
	TotalChecks  atomic.Int64
	CheckHits    atomic.Int64
	DirectChecks atomic.Int64
	FailOpenChecks atomic.Int64

	// RecachedChecks would count responses served from a cache entry that
	// was refreshed mid-flight by a concurrent singleflight caller rather
	// than by this call's own upstream round trip. Left permanently at
	// zero: no proactive refresh path is implemented, so the distinction
	// never arises (see DESIGN.md).
	RecachedChecks atomic.Int64

	TotalQuotas  atomic.Int64
	QuotaHits    atomic.Int64
	DirectQuotas atomic.Int64
	FailOpenQuotas atomic.Int64

	ReportedOperations atomic.Int64
	DirectReports      atomic.Int64
	FlushedReports     atomic.Int64
	FlushedOperations  atomic.Int64

	SchedulerRuns  atomic.Int64
	SchedulerSkips atomic.Int64

	CheckElapsedNanos  atomic.Int64
	QuotaElapsedNanos  atomic.Int64
	ReportElapsedNanos atomic.Int64
}

// String renders a single human-readable summary line suitable for
// periodic log output.
func (s *Statistics) String() string {
	return fmt.Sprintf(
		"checks(total=%d hits=%d direct=%d failOpen=%d) quotas(total=%d hits=%d direct=%d failOpen=%d) "+
			"reports(ops=%d direct=%d flushedBatches=%d flushedOps=%d) scheduler(runs=%d skips=%d)",
		s.TotalChecks.Load(), s.CheckHits.Load(), s.DirectChecks.Load(), s.FailOpenChecks.Load(),
		s.TotalQuotas.Load(), s.QuotaHits.Load(), s.DirectQuotas.Load(), s.FailOpenQuotas.Load(),
		s.ReportedOperations.Load(), s.DirectReports.Load(), s.FlushedReports.Load(), s.FlushedOperations.Load(),
		s.SchedulerRuns.Load(), s.SchedulerSkips.Load(),
	)
}

// CheckFailOpenRate returns the fraction of total checks served fail-open,
// or 0 when no checks have occurred yet.
func (s *Statistics) CheckFailOpenRate() float64 {
	total := s.TotalChecks.Load()
	if total == 0 {
		return 0
	}
	return float64(s.FailOpenChecks.Load()) / float64(total)
}

// QuotaFailOpenRate returns the fraction of total quota allocations served
// fail-open, or 0 when no allocations have occurred yet.
func (s *Statistics) QuotaFailOpenRate() float64 {
	total := s.TotalQuotas.Load()
	if total == 0 {
		return 0
	}
	return float64(s.FailOpenQuotas.Load()) / float64(total)
}

// FailOpenAlert reports whether either fail-open rate has crossed
// threshold. A zero threshold disables alerting.
func FailOpenAlert(s *Statistics, threshold float64) (triggered bool, checkRate, quotaRate float64) {
	if threshold <= 0 {
		return false, 0, 0
	}
	checkRate = s.CheckFailOpenRate()
	quotaRate = s.QuotaFailOpenRate()
	return checkRate >= threshold || quotaRate >= threshold, checkRate, quotaRate
}

func elapsedSince(start time.Time) int64 {
	return int64(time.Since(start))
}
