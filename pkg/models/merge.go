package models

import (
	"math"
	"time"
)

// MergeOperations combines two operations destined for the same report
// slot. It returns false if the merge must be declined — currently only
// when the label maps disagree on a shared key: equal keys require equal
// values, else the merge is rejected and the second operation is declined
// for separate transport.
//
// Merge is commutative and associative for the common case of matching
// labels (sums, ORs, later-value-wins on conflict-free keys); when two
// MetricValues under the same metric name carry different label sets they
// are concatenated in insertion order rather than reordered, which is the
// one place strict operand-order independence is not preserved — two
// label-complete operations never hit this path.
func MergeOperations(a, b Operation) (Operation, bool) {
	labels, ok := mergeLabels(a.Labels, b.Labels)
	if !ok {
		return Operation{}, false
	}

	out := Operation{
		OperationID:     a.OperationID,
		OperationName:   a.OperationName,
		ConsumerID:      a.ConsumerID,
		StartTime:       earlier(a.StartTime, b.StartTime),
		EndTime:         later(a.EndTime, b.EndTime),
		Labels:          labels,
		MetricValueSets: mergeMetricValueSets(a.MetricValueSets, b.MetricValueSets),
		Importance:      a.Importance,
	}
	return out, true
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func mergeLabels(a, b map[string]string) (map[string]string, bool) {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, exists := out[k]; exists && existing != v {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// mergeMetricValueSets merges by metricName, preserving a's set order and
// appending metric names introduced only by b.
func mergeMetricValueSets(a, b []MetricValueSet) []MetricValueSet {
	index := make(map[string]int, len(a))
	out := make([]MetricValueSet, 0, len(a)+len(b))
	for _, mvs := range a {
		index[mvs.MetricName] = len(out)
		out = append(out, mvs.Clone())
	}
	for _, mvs := range b {
		if i, ok := index[mvs.MetricName]; ok {
			out[i].MetricValues = mergeMetricValues(out[i].MetricValues, mvs.MetricValues)
			continue
		}
		index[mvs.MetricName] = len(out)
		out = append(out, mvs.Clone())
	}
	return out
}

// mergeMetricValues merges values whose labels match exactly; values with
// no label-identical counterpart are concatenated, a's values first.
func mergeMetricValues(a, b []MetricValue) []MetricValue {
	out := make([]MetricValue, len(a))
	copy(out, a)
	used := make([]bool, len(b))

	for i := range out {
		for j, bv := range b {
			if used[j] || !labelsEqual(out[i].Labels, bv.Labels) {
				continue
			}
			merged, ok := mergeMetricValue(out[i], bv)
			if ok {
				out[i] = merged
				used[j] = true
			}
			break
		}
	}
	for j, bv := range b {
		if !used[j] {
			out = append(out, bv.Clone())
		}
	}
	return out
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// mergeMetricValue merges two values of the same kind under matching
// labels, per §4.3: bool -> OR, int64/double -> sum, string -> later wins,
// distribution -> bucketwise add with Welford-combined mean/variance.
func mergeMetricValue(a, b MetricValue) (MetricValue, bool) {
	if a.Kind != b.Kind {
		return a, false
	}

	out := a
	out.StartTime = earlier(a.StartTime, b.StartTime)
	out.EndTime = later(a.EndTime, b.EndTime)

	switch a.Kind {
	case KindBool:
		out.BoolValue = a.BoolValue || b.BoolValue
	case KindInt64:
		out.Int64Value = a.Int64Value + b.Int64Value
	case KindDouble:
		out.DoubleValue = a.DoubleValue + b.DoubleValue
	case KindString:
		out.StringValue = b.StringValue
	case KindDistribution:
		out.Distribution = CombineDistributions(a.Distribution, b.Distribution)
	default:
		return a, false
	}
	return out, true
}

// CombineDistributions merges two running histograms using the parallel
// (Chan et al.) form of Welford's combine formula for mean and
// sum-of-squared-deviations, folding bucket counts and min/max.
func CombineDistributions(a, b *Distribution) *Distribution {
	if a == nil {
		return cloneDistribution(b)
	}
	if b == nil {
		return cloneDistribution(a)
	}

	count := a.Count + b.Count
	out := &Distribution{
		BucketBoundaries: append([]float64(nil), a.BucketBoundaries...),
		Count:            count,
	}

	if count == 0 {
		out.BucketCounts = combineBucketCounts(a.BucketCounts, b.BucketCounts)
		return out
	}

	delta := b.Mean - a.Mean
	out.Mean = a.Mean + delta*float64(b.Count)/float64(count)
	out.SumOfSquaredDeviation = a.SumOfSquaredDeviation + b.SumOfSquaredDeviation +
		delta*delta*float64(a.Count)*float64(b.Count)/float64(count)

	out.Minimum = math.Min(a.Minimum, b.Minimum)
	out.Maximum = math.Max(a.Maximum, b.Maximum)
	out.BucketCounts = combineBucketCounts(a.BucketCounts, b.BucketCounts)
	return out
}

func combineBucketCounts(a, b []int64) []int64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		var av, bv int64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = av + bv
	}
	return out
}

func cloneDistribution(d *Distribution) *Distribution {
	if d == nil {
		return nil
	}
	out := *d
	out.BucketBoundaries = append([]float64(nil), d.BucketBoundaries...)
	out.BucketCounts = append([]int64(nil), d.BucketCounts...)
	return &out
}
