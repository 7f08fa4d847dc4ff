// Package transport defines the Transport interface the aggregation layer
// consumes to reach the upstream control service, plus the request/response
// types carried across it. The actual wire encoding (HTTP/gRPC, protobuf,
// auth) is deliberately out of scope for this repository — it is an opaque
// operation a caller supplies via an injected interface rather than a
// concrete client.
package transport

import (
	"context"

	"encore.app/pkg/models"
)

// CheckRequest carries one access-check operation.
type CheckRequest struct {
	ServiceName string
	Operation   models.Operation
}

// CheckResponse is the upstream's verdict on a CheckRequest.
type CheckResponse struct {
	OperationID string
	Status      CheckStatus
	Message     string
}

// CheckStatus is the coarse outcome of a check.
type CheckStatus int

const (
	CheckOK CheckStatus = iota
	CheckDenied
)

// AllocateQuotaRequest carries one quota-allocation operation. Amounts
// requested are carried on Operation.MetricValueSets; on a refresh, the
// amounts consumed since the last refresh are carried in ConsumedAmounts.
type AllocateQuotaRequest struct {
	ServiceName string
	Operation   models.Operation
	// ConsumedAmounts carries accumulated consumption since the last
	// refresh, populated by QuotaAggregator.flush so the upstream sees
	// real usage rather than just the latest request.
	ConsumedAmounts map[string]int64
}

// AllocateQuotaResponse is the upstream's allocation decision.
type AllocateQuotaResponse struct {
	OperationID    string
	Status         CheckStatus
	GrantedAmounts map[string]int64
}

// ReportRequest carries a batch of report operations (already merged where
// possible by the ReportAggregator).
type ReportRequest struct {
	ServiceName string
	Operations  []models.Operation
}

// Transport performs the three RPC families against the upstream control
// service. All methods are synchronous and may block; callers (the Client
// facade) must never hold an aggregator lock while calling these.
type Transport interface {
	Check(ctx context.Context, req CheckRequest) (CheckResponse, error)
	AllocateQuota(ctx context.Context, req AllocateQuotaRequest) (AllocateQuotaResponse, error)
	Report(ctx context.Context, req ReportRequest) error
}
