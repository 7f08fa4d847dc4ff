package control

import (
	"testing"
	"time"

	"encore.app/pkg/clock"
	"encore.app/pkg/models"
	"encore.app/pkg/transport"
)

func withAmount(op models.Operation, metric string, amount int64) models.Operation {
	op.MetricValueSets = append(op.MetricValueSets, models.MetricValueSet{
		MetricName: metric,
		MetricValues: []models.MetricValue{
			{Kind: models.KindInt64, Int64Value: amount},
		},
	})
	return op
}

// TestQuotaAggregatorDeductsUntilExhausted grants 100 qps, then deducts 10
// seven times (all hits), then deducts 40 more, which should miss because
// it would go negative.
func TestQuotaAggregatorDeductsUntilExhausted(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewQuotaAggregator(QuotaConfig{NumEntries: 1, ExpirationMillis: 60000, RefreshMillis: 60000}, "svc", ticker)

	op := baseOperation("c1", "CallAPI")
	// The cached allowance must be keyed under the same Quota fingerprint as
	// the deduction requests below, which is structural (requested metric
	// names only, not amounts) — so CacheResponse must be called with an
	// operation that already requests "qps", not the bare metric-less op.
	cacheReq := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: withAmount(op, "qps", 100)}
	granted := transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{"qps": 100}}
	if err := agg.CacheResponse(cacheReq, granted); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}

	for i := 0; i < 7; i++ {
		req := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: withAmount(op, "qps", 10)}
		resp, hit, err := agg.AllocateQuota(req)
		if err != nil || !hit {
			t.Fatalf("deduction %d: expected hit, got hit=%v err=%v", i, hit, err)
		}
		if resp.Status != transport.CheckOK {
			t.Fatalf("deduction %d: unexpected status %v", i, resp.Status)
		}
	}

	// 70 consumed, 30 remain. Requesting 40 more must miss (would go negative).
	overReq := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: withAmount(op, "qps", 40)}
	if _, hit, err := agg.AllocateQuota(overReq); err != nil || hit {
		t.Fatalf("expected over-allocation to miss, got hit=%v err=%v", hit, err)
	}

	// The over-allocation must have flagged the entry for refresh, so a
	// flush (even well before refreshMillis elapses) emits a request for it.
	reqs := agg.Flush()
	if len(reqs) != 1 {
		t.Fatalf("expected isRefreshing to queue exactly one refresh request, got %d", len(reqs))
	}
}

func TestQuotaAggregatorExpires(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewQuotaAggregator(QuotaConfig{NumEntries: 10, ExpirationMillis: 1000, RefreshMillis: 1000}, "svc", ticker)

	op := baseOperation("c1", "CallAPI")
	req := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: op}
	granted := transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{"apiCalls": 100}}
	_ = agg.CacheResponse(req, granted)

	ticker.Advance(1001 * time.Millisecond)
	if _, hit, _ := agg.AllocateQuota(req); hit {
		t.Fatalf("expected expired allowance to miss")
	}
}

func TestQuotaAggregatorFlushCarriesConsumedAmounts(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewQuotaAggregator(QuotaConfig{NumEntries: 10, ExpirationMillis: 60000, RefreshMillis: 1000}, "svc", ticker)

	op := baseOperation("c1", "CallAPI")
	req := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: withAmount(op, "apiCalls", 0)}
	_ = agg.CacheResponse(req, transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{"apiCalls": 100}})

	deductReq := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: withAmount(op, "apiCalls", 7)}
	if _, hit, err := agg.AllocateQuota(deductReq); err != nil || !hit {
		t.Fatalf("expected deduction to hit, got hit=%v err=%v", hit, err)
	}

	ticker.Advance(1001 * time.Millisecond)
	reqs := agg.Flush()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one refresh request, got %d", len(reqs))
	}
	if got := reqs[0].ConsumedAmounts["apiCalls"]; got != 7 {
		t.Fatalf("ConsumedAmounts[apiCalls] = %d, want 7", got)
	}
}

func TestQuotaAggregatorClearDropsAllowances(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewQuotaAggregator(DefaultQuotaConfig(), "svc", ticker)

	op := baseOperation("c1", "CallAPI")
	req := transport.AllocateQuotaRequest{ServiceName: "svc", Operation: op}
	_ = agg.CacheResponse(req, transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{"apiCalls": 10}})

	agg.Clear()
	if _, hit, _ := agg.AllocateQuota(req); hit {
		t.Fatalf("expected cleared aggregator to miss")
	}
}
