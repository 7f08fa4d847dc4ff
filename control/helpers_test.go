package control

import (
	"context"
	"sync"

	"encore.app/pkg/models"
	"encore.app/pkg/transport"
)

// fakeTransport is a scriptable, call-counting Transport double shared
// across this package's tests.
type fakeTransport struct {
	mu sync.Mutex

	checkFn   func(ctx context.Context, req transport.CheckRequest) (transport.CheckResponse, error)
	quotaFn   func(ctx context.Context, req transport.AllocateQuotaRequest) (transport.AllocateQuotaResponse, error)
	reportFn  func(ctx context.Context, req transport.ReportRequest) error

	checkCalls  int
	quotaCalls  int
	reportCalls int
	reported    []models.Operation
}

func (f *fakeTransport) Check(ctx context.Context, req transport.CheckRequest) (transport.CheckResponse, error) {
	f.mu.Lock()
	f.checkCalls++
	f.mu.Unlock()
	if f.checkFn != nil {
		return f.checkFn(ctx, req)
	}
	return transport.CheckResponse{Status: transport.CheckOK}, nil
}

func (f *fakeTransport) AllocateQuota(ctx context.Context, req transport.AllocateQuotaRequest) (transport.AllocateQuotaResponse, error) {
	f.mu.Lock()
	f.quotaCalls++
	f.mu.Unlock()
	if f.quotaFn != nil {
		return f.quotaFn(ctx, req)
	}
	return transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{}}, nil
}

func (f *fakeTransport) Report(ctx context.Context, req transport.ReportRequest) error {
	f.mu.Lock()
	f.reportCalls++
	f.reported = append(f.reported, req.Operations...)
	f.mu.Unlock()
	if f.reportFn != nil {
		return f.reportFn(ctx, req)
	}
	return nil
}

func (f *fakeTransport) CheckCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

func (f *fakeTransport) QuotaCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotaCalls
}

func (f *fakeTransport) ReportCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportCalls
}

func (f *fakeTransport) Reported() []models.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Operation(nil), f.reported...)
}

func baseOperation(consumer, opName string) models.Operation {
	return models.Operation{
		OperationID:   "op-1",
		OperationName: opName,
		ConsumerID:    consumer,
		Labels:        map[string]string{"region": "us-east-1"},
	}
}
