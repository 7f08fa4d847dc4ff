// ReportAggregator accumulates operations into merge-on-insert slots and
// drains them to Transport on flush, instead of sending each one as it
// arrives.
//
// Backed by github.com/hashicorp/golang-lru/v2 rather than a hand-rolled
// container/list ring: the eviction semantics needed here — "the evicted
// slot's operation must be queued for the next flush, never dropped" — are
// exactly golang-lru's OnEvict callback, so there is no reason to hand-roll
// it a second time. CheckAggregator and QuotaAggregator keep a hand-rolled
// ring instead because their TTL must be evaluated against an injected
// clock.Ticker, which golang-lru's own expirable variant does not support
// (it always reads the wall clock internally).
//
// A request's operations are evaluated for mergeability one at a time,
// producing a per-operation decline list rather than one merged/declined
// verdict for the whole request — this way one unmergeable operation in a
// multi-operation batch doesn't force every other operation in the same
// batch back through a direct Transport call it didn't need. A
// single-operation request still resolves to exactly one of: merged (empty
// decline list) or declined ([]models.Operation{op}).
package control

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"sync"

	"encore.app/pkg/models"
	"encore.app/pkg/transport"
	"encore.app/signing"
)

// ReportAggregator is safe for concurrent use.
type ReportAggregator struct {
	mu          sync.Mutex
	cfg         ReportConfig
	serviceName string
	cache       *lru.Cache[signing.Fingerprint, models.Operation]
	pending     []models.Operation // evicted or drained slots awaiting the next Flush/Clear output
	disabled    bool
}

func NewReportAggregator(cfg ReportConfig, serviceName string) *ReportAggregator {
	a := &ReportAggregator{cfg: cfg, serviceName: serviceName}
	if cfg.NumEntries <= 0 || cfg.FlushIntervalMillis < 0 {
		a.disabled = true
		return a
	}
	cache, err := lru.NewWithEvict[signing.Fingerprint, models.Operation](cfg.NumEntries, a.onEvict)
	if err != nil {
		// NumEntries<=0 already handled above; any other construction
		// failure means the configuration is unusable and the aggregator
		// behaves as disabled rather than panicking.
		a.disabled = true
		return a
	}
	a.cache = cache
	return a
}

// onEvict is invoked synchronously by the cache, only ever from within a
// method that already holds a.mu (Report, via Add; Flush/Clear, via
// Remove), so it must not itself lock a.mu.
func (a *ReportAggregator) onEvict(_ signing.Fingerprint, op models.Operation) {
	a.pending = append(a.pending, op)
}

// Report attempts to merge every operation in req into its matching slot,
// creating one where none exists. It returns the subset of operations that
// could not be merged (HIGH importance, or a label conflict against the
// existing slot); the caller is responsible for sending those directly.
func (a *ReportAggregator) Report(req transport.ReportRequest) ([]models.Operation, error) {
	if a.disabled {
		return append([]models.Operation(nil), req.Operations...), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var declined []models.Operation
	for _, op := range req.Operations {
		if err := validateOperationRequest(req.ServiceName, a.serviceName, op.ConsumerID, op.OperationName); err != nil {
			return nil, err
		}
		if op.Importance == models.High {
			declined = append(declined, op)
			continue
		}

		fp := signing.Sign(op, signing.Report)
		if existing, ok := a.cache.Get(fp); ok {
			merged, ok := models.MergeOperations(existing, op)
			if !ok {
				declined = append(declined, op)
				continue
			}
			a.cache.Add(fp, merged)
		} else {
			a.cache.Add(fp, op.Clone())
		}
	}
	return declined, nil
}

// Flush drains every slot (plus anything evicted since the last
// Flush/Clear) into batches of at most MaxOperationsPerBatch operations.
func (a *ReportAggregator) Flush() []transport.ReportRequest {
	return a.drain()
}

// Clear drains the aggregator exactly like Flush, but is the shutdown path:
// callers use it to mean "empty everything, schedule nothing further."
func (a *ReportAggregator) Clear() []transport.ReportRequest {
	return a.drain()
}

func (a *ReportAggregator) drain() []transport.ReportRequest {
	if a.disabled {
		return nil
	}

	a.mu.Lock()
	keys := a.cache.Keys()
	for _, k := range keys {
		a.cache.Remove(k) // synchronously re-enters onEvict, appending to a.pending
	}
	ops := a.pending
	a.pending = nil
	a.mu.Unlock()

	return batchOperations(ops, a.serviceName, a.cfg.MaxOperationsPerBatch)
}

// FlushIntervalMillis reports the configured flush cadence, or NonCaching
// when the aggregator is disabled.
func (a *ReportAggregator) FlushIntervalMillis() int64 {
	if a.disabled {
		return NonCaching
	}
	return a.cfg.FlushIntervalMillis
}

func batchOperations(ops []models.Operation, serviceName string, maxPerBatch int) []transport.ReportRequest {
	if len(ops) == 0 {
		return nil
	}
	if maxPerBatch <= 0 {
		maxPerBatch = len(ops)
	}
	var batches []transport.ReportRequest
	for start := 0; start < len(ops); start += maxPerBatch {
		end := start + maxPerBatch
		if end > len(ops) {
			end = len(ops)
		}
		batches = append(batches, transport.ReportRequest{
			ServiceName: serviceName,
			Operations:  append([]models.Operation(nil), ops[start:end]...),
		})
	}
	return batches
}
