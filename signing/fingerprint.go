// Package signing computes a deterministic fingerprint for an Operation:
// a fixed-width digest of its canonicalized byte form, used as the cache
// key for the check/quota/report aggregators.
//
// Design Notes:
//   - The canonical byte stream is family-specific: Check includes full
//     per-MetricValue detail, Quota includes only top-level labels plus
//     which metric names are requested (not the requested amounts
//     themselves — see the Quota constant's doc comment for why), and
//     Report-slot keys drop operationId, timestamps, and sample payloads
//     entirely so that many samples over time share one slot.
//   - Hashed with crypto/md5 for a 128-bit digest. A consistent-hash ring
//     built on FNV-1a is only 64 bits wide; nothing in the dependency set
//     offers a non-cryptographic 128-bit hash, so stdlib crypto/md5 is
//     used here instead — collision resistance is not a security
//     requirement for a cache key, only a fixed 128-bit width, which md5
//     gives for free.
package signing

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"encore.app/pkg/models"
)

// Fingerprint is an opaque 128-bit digest, compared as raw bytes.
type Fingerprint [16]byte

// Family selects which canonicalization rule to apply.
type Family int

const (
	// Check includes labels and metric-value-sets with full per-value detail.
	Check Family = iota
	// Quota includes labels and the set of requested metric names, but not
	// the requested amounts. The QuotaAggregator's remainingAmounts ledger
	// only works if repeated calls against the same allowance share one
	// fingerprint regardless of how much each individual call deducts — a
	// later call requesting a different amount must still look up the same
	// entry so it can correctly miss when it would deduct below zero.
	// Keying on the amount itself would fragment one allowance across as
	// many cache entries as there are distinct amounts ever requested
	// against it.
	Quota
	// Report excludes operationId, per-MetricValue timestamps, and value
	// payloads; two operations sharing consumer/name/labels/label-structure
	// share one report slot regardless of sample values.
	Report
)

// Sign computes the fingerprint of op under the given family.
func Sign(op models.Operation, family Family) Fingerprint {
	return md5.Sum(canonicalBytes(op, family))
}

func canonicalBytes(op models.Operation, family Family) []byte {
	var buf []byte
	buf = appendString(buf, op.ConsumerID)
	buf = appendString(buf, op.OperationName)
	buf = appendLabels(buf, op.Labels)

	switch family {
	case Check:
		for _, mvs := range op.MetricValueSets {
			buf = appendMetricValueSetFull(buf, mvs)
		}
	case Quota:
		amounts := op.Int64Amounts()
		names := make([]string, 0, len(amounts))
		for name := range amounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			buf = appendString(buf, name)
		}
	case Report:
		for _, mvs := range op.MetricValueSets {
			buf = appendMetricValueSetStructure(buf, mvs)
		}
	}
	return buf
}

func appendMetricValueSetFull(buf []byte, mvs models.MetricValueSet) []byte {
	buf = appendString(buf, mvs.MetricName)
	for _, mv := range mvs.MetricValues {
		buf = appendTime(buf, mv.StartTime)
		buf = appendTime(buf, mv.EndTime)
		buf = appendLabels(buf, mv.Labels)
		buf = append(buf, byte(mv.Kind))
		buf = appendValueBody(buf, mv)
	}
	return buf
}

// appendMetricValueSetStructure appends only the report-slot-relevant
// shape of a metric value set: the metric name, then for each value the
// label-set structure, deliberately omitting timestamps and the value
// body so that distinct samples collapse onto the same slot.
func appendMetricValueSetStructure(buf []byte, mvs models.MetricValueSet) []byte {
	buf = appendString(buf, mvs.MetricName)
	for _, mv := range mvs.MetricValues {
		buf = appendLabels(buf, mv.Labels)
	}
	return buf
}

func appendValueBody(buf []byte, mv models.MetricValue) []byte {
	switch mv.Kind {
	case models.KindBool:
		if mv.BoolValue {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case models.KindInt64:
		buf = appendInt64(buf, mv.Int64Value)
	case models.KindDouble:
		buf = appendInt64(buf, int64(math.Float64bits(mv.DoubleValue)))
	case models.KindString:
		buf = appendString(buf, mv.StringValue)
	case models.KindDistribution:
		if mv.Distribution != nil {
			for _, b := range mv.Distribution.BucketBoundaries {
				buf = appendInt64(buf, int64(math.Float64bits(b)))
			}
			for _, c := range mv.Distribution.BucketCounts {
				buf = appendInt64(buf, c)
			}
		}
	}
	return buf
}

func appendLabels(buf []byte, labels map[string]string) []byte {
	if len(labels) == 0 {
		return buf
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf = appendString(buf, name)
		buf = appendString(buf, labels[name])
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func appendTime(buf []byte, t time.Time) []byte {
	buf = appendInt64(buf, t.Unix())
	return appendInt32(buf, int32(t.Nanosecond()))
}
