package control

import (
	"testing"
	"time"

	"encore.app/pkg/clock"
	"encore.app/pkg/models"
	"encore.app/pkg/transport"
)

func TestCheckAggregatorHitThenExpire(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewCheckAggregator(CheckConfig{NumEntries: 10, ExpirationMillis: 4000}, "svc", ticker)

	req := transport.CheckRequest{ServiceName: "svc", Operation: baseOperation("c1", "GetUser")}
	resp := transport.CheckResponse{OperationID: "op-1", Status: transport.CheckOK}

	if err := agg.AddResponse(req, resp); err != nil {
		t.Fatalf("AddResponse: %v", err)
	}

	got, hit, err := agg.Check(req)
	if err != nil || !hit {
		t.Fatalf("expected cache hit, got hit=%v err=%v", hit, err)
	}
	if got.OperationID != resp.OperationID {
		t.Fatalf("got %+v, want %+v", got, resp)
	}

	// Scenario 1: advance the ticker by expirationMillis+1 and expect a miss.
	ticker.Advance(4001 * time.Millisecond)
	_, hit, err = agg.Check(req)
	if err != nil || hit {
		t.Fatalf("expected expired entry to miss, got hit=%v err=%v", hit, err)
	}
}

func TestCheckAggregatorHighImportanceNeverCaches(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewCheckAggregator(DefaultCheckConfig(), "svc", ticker)

	op := baseOperation("c1", "DeleteEverything")
	op.Importance = models.High
	req := transport.CheckRequest{ServiceName: "svc", Operation: op}

	if err := agg.AddResponse(req, transport.CheckResponse{Status: transport.CheckOK}); err != nil {
		t.Fatalf("AddResponse: %v", err)
	}
	_, hit, err := agg.Check(req)
	if err != nil || hit {
		t.Fatalf("expected HIGH-importance operation never to hit cache, got hit=%v err=%v", hit, err)
	}
}

func TestCheckAggregatorInvalidRequest(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewCheckAggregator(DefaultCheckConfig(), "svc", ticker)

	req := transport.CheckRequest{ServiceName: "svc", Operation: models.Operation{OperationName: "GetUser"}} // missing ConsumerID
	if _, _, err := agg.Check(req); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	mismatched := transport.CheckRequest{ServiceName: "other-svc", Operation: baseOperation("c1", "GetUser")}
	if _, _, err := agg.Check(mismatched); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for serviceName mismatch, got %v", err)
	}
}

func TestCheckAggregatorDisabledNeverCaches(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewCheckAggregator(CheckConfig{NumEntries: 0}, "svc", ticker)

	if got := agg.ExpirationMillis(); got != NonCaching {
		t.Fatalf("ExpirationMillis() = %d, want NonCaching", got)
	}

	req := transport.CheckRequest{ServiceName: "svc", Operation: baseOperation("c1", "GetUser")}
	_ = agg.AddResponse(req, transport.CheckResponse{Status: transport.CheckOK})
	if _, hit, _ := agg.Check(req); hit {
		t.Fatalf("expected disabled aggregator never to hit")
	}
}

func TestCheckAggregatorEvictsLeastRecentlyUsed(t *testing.T) {
	ticker := clock.NewFake(time.Unix(0, 0))
	agg := NewCheckAggregator(CheckConfig{NumEntries: 2, ExpirationMillis: 60000}, "svc", ticker)

	reqA := transport.CheckRequest{ServiceName: "svc", Operation: baseOperation("c1", "A")}
	reqB := transport.CheckRequest{ServiceName: "svc", Operation: baseOperation("c1", "B")}
	reqC := transport.CheckRequest{ServiceName: "svc", Operation: baseOperation("c1", "C")}

	_ = agg.AddResponse(reqA, transport.CheckResponse{Status: transport.CheckOK})
	_ = agg.AddResponse(reqB, transport.CheckResponse{Status: transport.CheckOK})
	// Touch A so B becomes the least-recently-used entry.
	if _, hit, _ := agg.Check(reqA); !hit {
		t.Fatalf("expected A to hit before eviction")
	}
	_ = agg.AddResponse(reqC, transport.CheckResponse{Status: transport.CheckOK})

	if _, hit, _ := agg.Check(reqB); hit {
		t.Fatalf("expected B to have been evicted")
	}
	if _, hit, _ := agg.Check(reqA); !hit {
		t.Fatalf("expected A to survive eviction")
	}
	if _, hit, _ := agg.Check(reqC); !hit {
		t.Fatalf("expected C to survive as the newest entry")
	}
}
