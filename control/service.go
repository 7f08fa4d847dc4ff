// Encore service wiring: a package-level Service struct carrying
// //encore:service, a lazily-initialized global instance, and thin
// package-level functions carrying //encore:api that delegate to methods
// on it. The actual logic lives on Client so it can be constructed and
// tested directly, without Encore's runtime, from _test.go files in this
// package.
package control

import (
	"context"
	"errors"
	"sync"

	"encore.app/pkg/clock"
	"encore.app/pkg/threadfactory"
	"encore.app/pkg/transport"
)

// Service fronts the aggregation layer behind Encore's API surface.
//
//encore:service
type Service struct {
	client *Client
}

var (
	svc  *Service
	once sync.Once
)

// initService wires a Client with production defaults. Transport must be
// set via SetTransport before traffic is accepted; Encore calls this once
// at startup.
func initService() (*Service, error) {
	var err error
	once.Do(func() {
		svc = &Service{
			client: NewClient(DefaultConfig("encore.app"), nil, clock.Real{}, threadfactory.Goroutine{}),
		}
	})
	return svc, err
}

// SetTransport injects the upstream control-plane client. Production wiring
// calls this from the owning service's init path; tests construct a Client
// directly instead of going through Service at all.
func (s *Service) SetTransport(tr transport.Transport) {
	s.client = NewClient(s.client.cfg, tr, s.client.ticker, s.client.threads)
}

//encore:api private method=POST path=/control/check
func Check(ctx context.Context, req *transport.CheckRequest) (*transport.CheckResponse, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	return svc.client.Check(*req)
}

//encore:api private method=POST path=/control/quota
func AllocateQuota(ctx context.Context, req *transport.AllocateQuotaRequest) (*transport.AllocateQuotaResponse, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	return svc.client.AllocateQuota(*req)
}

//encore:api private method=POST path=/control/report
func Report(ctx context.Context, req *transport.ReportRequest) (*ReportAck, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	if err := svc.client.Report(*req); err != nil {
		return nil, err
	}
	return &ReportAck{Accepted: len(req.Operations)}, nil
}

// ReportAck is the HTTP response for the report endpoint; the facade's
// Client.Report itself returns only an error, since reporting is
// fire-and-forget from the caller's perspective.
type ReportAck struct {
	Accepted int `json:"accepted"`
}

//encore:api private method=GET path=/control/stats
func StatsEndpoint(ctx context.Context) (*StatsResponse, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	return &StatsResponse{Summary: svc.client.Stats().String()}, nil
}

type StatsResponse struct {
	Summary string `json:"summary"`
}

//encore:api private method=POST path=/control/flush
func FlushEndpoint(ctx context.Context) (*FlushResponse, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	svc.client.Flush()
	return &FlushResponse{Flushed: true}, nil
}

type FlushResponse struct {
	Flushed bool `json:"flushed"`
}

//encore:api private method=POST path=/control/clear
func ClearEndpoint(ctx context.Context) (*ClearResponse, error) {
	if svc == nil {
		return nil, errors.New("control: service not initialized")
	}
	if err := svc.PublishClear(ctx, "admin"); err != nil {
		return nil, err
	}
	return &ClearResponse{Cleared: true}, nil
}

type ClearResponse struct {
	Cleared bool `json:"cleared"`
}
