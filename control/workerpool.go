// FlushWorkerPool dispatches flushed batches to Transport concurrently,
// bounding both fan-out and request rate via a shared golang.org/x/time/rate
// limiter.
package control

import (
	"context"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"encore.app/pkg/transport"
)

// FlushWorkerPool is safe for concurrent use.
type FlushWorkerPool struct {
	transport   transport.Transport
	limiter     *rate.Limiter
	concurrency int
}

// NewFlushWorkerPool builds a pool dispatching up to concurrency batches at
// once, each gated by limiter before the call reaches Transport.
func NewFlushWorkerPool(tr transport.Transport, limiter *rate.Limiter, concurrency int) *FlushWorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FlushWorkerPool{transport: tr, limiter: limiter, concurrency: concurrency}
}

// DispatchReports sends every batch to Transport.Report, logging (but not
// retrying) failures: report delivery is best-effort.
func (p *FlushWorkerPool) DispatchReports(ctx context.Context, batches []transport.ReportRequest) {
	if len(batches) == 0 {
		return
	}
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, batch := range batches {
		batch := batch
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			if err := p.transport.Report(ctx, batch); err != nil {
				log.Printf("control: flushed report batch of %d operations failed: %v", len(batch.Operations), err)
			}
		}()
	}
	wg.Wait()
}

// QuotaCacher receives a refreshed allowance. QuotaAggregator.CacheResponse
// satisfies this.
type QuotaCacher func(req transport.AllocateQuotaRequest, resp transport.AllocateQuotaResponse) error

// DispatchQuotaRefresh resolves every due quota refresh against Transport
// and feeds the result back into cache via cacher.
func (p *FlushWorkerPool) DispatchQuotaRefresh(ctx context.Context, reqs []transport.AllocateQuotaRequest, cacher QuotaCacher) {
	if len(reqs) == 0 {
		return
	}
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, req := range reqs {
		req := req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			resp, err := p.transport.AllocateQuota(ctx, req)
			if err != nil {
				log.Printf("control: quota refresh for consumer %s failed: %v", req.Operation.ConsumerID, err)
				return
			}
			if err := cacher(req, resp); err != nil {
				log.Printf("control: caching refreshed quota for consumer %s failed: %v", req.Operation.ConsumerID, err)
			}
		}()
	}
	wg.Wait()
}
