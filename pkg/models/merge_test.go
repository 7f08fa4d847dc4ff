package models

import (
	"testing"
	"time"
)

func mkOp(consumer, name string, labels map[string]string, metric string, val int64, start, end time.Time) Operation {
	return Operation{
		ConsumerID:    consumer,
		OperationName: name,
		Labels:        labels,
		StartTime:     start,
		EndTime:       end,
		MetricValueSets: []MetricValueSet{
			{
				MetricName: metric,
				MetricValues: []MetricValue{
					{StartTime: start, EndTime: end, Kind: KindInt64, Int64Value: val},
				},
			},
		},
	}
}

func TestMergeOperationsArithmetic(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(1010, 0)
	t2 := time.Unix(1005, 0)
	t3 := time.Unix(1020, 0)

	a := mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", 3, t0, t1)
	b := mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", 5, t2, t3)

	merged, ok := MergeOperations(a, b)
	if !ok {
		t.Fatalf("expected merge to succeed")
	}
	if got := merged.MetricValueSets[0].MetricValues[0].Int64Value; got != 8 {
		t.Fatalf("expected merged value 8, got %d", got)
	}
	if !merged.StartTime.Equal(t0) {
		t.Fatalf("expected start = min(starts) = %v, got %v", t0, merged.StartTime)
	}
	if !merged.EndTime.Equal(t3) {
		t.Fatalf("expected end = max(ends) = %v, got %v", t3, merged.EndTime)
	}
}

func TestMergeOperationsCommutativeForMatchingLabels(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(1010, 0)

	a := mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", 3, t0, t1)
	b := mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", 5, t0, t1)

	ab, ok1 := MergeOperations(a, b)
	ba, ok2 := MergeOperations(b, a)
	if !ok1 || !ok2 {
		t.Fatalf("expected both merges to succeed")
	}
	if ab.MetricValueSets[0].MetricValues[0].Int64Value != ba.MetricValueSets[0].MetricValues[0].Int64Value {
		t.Fatalf("merge not commutative: %v vs %v", ab, ba)
	}
}

func TestMergeOperationsAssociative(t *testing.T) {
	t0 := time.Unix(1000, 0)
	mk := func(v int64) Operation {
		return mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", v, t0, t0)
	}
	a, b, c := mk(1), mk(2), mk(3)

	bc, ok := MergeOperations(b, c)
	if !ok {
		t.Fatal("b+c should merge")
	}
	leftFirst, ok := MergeOperations(a, bc)
	if !ok {
		t.Fatal("a+(b+c) should merge")
	}

	ab, ok := MergeOperations(a, b)
	if !ok {
		t.Fatal("a+b should merge")
	}
	rightFirst, ok := MergeOperations(ab, c)
	if !ok {
		t.Fatal("(a+b)+c should merge")
	}

	if leftFirst.MetricValueSets[0].MetricValues[0].Int64Value != rightFirst.MetricValueSets[0].MetricValues[0].Int64Value {
		t.Fatalf("merge not associative: %v vs %v", leftFirst, rightFirst)
	}
}

func TestMergeOperationsLabelConflictDeclined(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := mkOp("C", "OpY", map[string]string{"env": "prod"}, "m.requests", 1, t0, t0)
	b := mkOp("C", "OpY", map[string]string{"env": "staging"}, "m.requests", 1, t0, t0)

	if _, ok := MergeOperations(a, b); ok {
		t.Fatalf("expected merge to be declined on conflicting label value")
	}
}

func TestMergeMetricValuesDistinctLabelsConcatenate(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := Operation{
		ConsumerID: "C", OperationName: "Op", Labels: map[string]string{},
		MetricValueSets: []MetricValueSet{{
			MetricName: "m",
			MetricValues: []MetricValue{
				{Kind: KindInt64, Int64Value: 1, Labels: map[string]string{"region": "us"}, StartTime: t0, EndTime: t0},
			},
		}},
	}
	b := Operation{
		ConsumerID: "C", OperationName: "Op", Labels: map[string]string{},
		MetricValueSets: []MetricValueSet{{
			MetricName: "m",
			MetricValues: []MetricValue{
				{Kind: KindInt64, Int64Value: 2, Labels: map[string]string{"region": "eu"}, StartTime: t0, EndTime: t0},
			},
		}},
	}

	merged, ok := MergeOperations(a, b)
	if !ok {
		t.Fatal("expected merge to succeed")
	}
	vals := merged.MetricValueSets[0].MetricValues
	if len(vals) != 2 {
		t.Fatalf("expected 2 distinct-label values preserved, got %d", len(vals))
	}
}

func TestMergeBoolAndString(t *testing.T) {
	t0 := time.Unix(1000, 0)
	mvsBool := func(v bool) MetricValueSet {
		return MetricValueSet{MetricName: "ok", MetricValues: []MetricValue{{Kind: KindBool, BoolValue: v, StartTime: t0, EndTime: t0}}}
	}
	mvsStr := func(v string) MetricValueSet {
		return MetricValueSet{MetricName: "tag", MetricValues: []MetricValue{{Kind: KindString, StringValue: v, StartTime: t0, EndTime: t0}}}
	}

	a := Operation{ConsumerID: "C", OperationName: "Op", Labels: map[string]string{}, MetricValueSets: []MetricValueSet{mvsBool(false), mvsStr("first")}}
	b := Operation{ConsumerID: "C", OperationName: "Op", Labels: map[string]string{}, MetricValueSets: []MetricValueSet{mvsBool(true), mvsStr("second")}}

	merged, ok := MergeOperations(a, b)
	if !ok {
		t.Fatal("expected merge to succeed")
	}
	if !merged.MetricValueSets[0].MetricValues[0].BoolValue {
		t.Fatalf("expected OR of bools to be true")
	}
	if merged.MetricValueSets[1].MetricValues[0].StringValue != "second" {
		t.Fatalf("expected later string value to win")
	}
}

func TestCombineDistributionsWelford(t *testing.T) {
	a := &Distribution{Count: 2, Mean: 10, SumOfSquaredDeviation: 2, Minimum: 9, Maximum: 11, BucketCounts: []int64{1, 1}}
	b := &Distribution{Count: 3, Mean: 20, SumOfSquaredDeviation: 8, Minimum: 18, Maximum: 22, BucketCounts: []int64{0, 3}}

	combined := CombineDistributions(a, b)
	if combined.Count != 5 {
		t.Fatalf("expected combined count 5, got %d", combined.Count)
	}
	wantMean := (10.0*2 + 20.0*3) / 5
	if diff := combined.Mean - wantMean; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected mean %v, got %v", wantMean, combined.Mean)
	}
	if combined.Minimum != 9 || combined.Maximum != 22 {
		t.Fatalf("expected folded min/max 9/22, got %v/%v", combined.Minimum, combined.Maximum)
	}
	if combined.BucketCounts[0] != 1 || combined.BucketCounts[1] != 4 {
		t.Fatalf("expected bucket counts [1,4], got %v", combined.BucketCounts)
	}
}
