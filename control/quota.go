// QuotaAggregator is a local allowance cache: it deducts against a
// previously granted amount until it runs out, then reports a miss so the
// Client facade can refresh it from Transport.
//
// Shares the same container/list LRU shape as CheckAggregator, extended
// with a remaining-amount ledger and a dirty/refreshing flag that marks an
// entry for proactive refresh once it can no longer satisfy a deduction.
package control

import (
	"container/list"
	"sync"
	"time"

	"encore.app/pkg/clock"
	"encore.app/pkg/models"
	"encore.app/pkg/transport"
	"encore.app/signing"
)

type quotaEntry struct {
	fp              signing.Fingerprint
	operation       models.Operation // representative operation, used to rebuild refresh requests
	response        transport.AllocateQuotaResponse
	remaining       map[string]int64
	consumedPending map[string]int64 // accumulated since last refresh, drained into the next flush
	lastRefreshTime time.Time
	isRefreshing    bool
	element         *list.Element
}

// QuotaAggregator is safe for concurrent use.
type QuotaAggregator struct {
	mu          sync.Mutex
	cfg         QuotaConfig
	serviceName string
	ticker      clock.Ticker
	entries     map[signing.Fingerprint]*quotaEntry
	order       *list.List
}

func NewQuotaAggregator(cfg QuotaConfig, serviceName string, ticker clock.Ticker) *QuotaAggregator {
	return &QuotaAggregator{
		cfg:         cfg,
		serviceName: serviceName,
		ticker:      ticker,
		entries:     make(map[signing.Fingerprint]*quotaEntry),
		order:       list.New(),
	}
}

// AllocateQuota attempts to deduct the requested amounts from a cached
// allowance. A miss (ok=false) means the caller must consult Transport:
// either no allowance is cached yet, it expired, or it would go negative.
// HIGH-importance operations always miss.
func (a *QuotaAggregator) AllocateQuota(req transport.AllocateQuotaRequest) (transport.AllocateQuotaResponse, bool, error) {
	if err := validateOperationRequest(req.ServiceName, a.serviceName, req.Operation.ConsumerID, req.Operation.OperationName); err != nil {
		return transport.AllocateQuotaResponse{}, false, err
	}
	if a.cfg.NumEntries <= 0 || req.Operation.Importance == models.High {
		return transport.AllocateQuotaResponse{}, false, nil
	}

	fp := signing.Sign(req.Operation, signing.Quota)

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entries[fp]
	if !ok {
		return transport.AllocateQuotaResponse{}, false, nil
	}
	if a.expiredLocked(entry) {
		a.deleteLocked(fp)
		return transport.AllocateQuotaResponse{}, false, nil
	}
	if entry.response.Status != transport.CheckOK {
		return transport.AllocateQuotaResponse{}, false, nil
	}

	amounts := req.Operation.Int64Amounts()
	for metric, amount := range req.ConsumedAmounts {
		amounts[metric] += amount
	}

	for metric, amount := range amounts {
		if entry.remaining[metric]-amount < 0 {
			entry.isRefreshing = true
			return transport.AllocateQuotaResponse{}, false, nil
		}
	}
	for metric, amount := range amounts {
		entry.remaining[metric] -= amount
		if entry.consumedPending == nil {
			entry.consumedPending = make(map[string]int64, len(amounts))
		}
		entry.consumedPending[metric] += amount
	}

	a.order.MoveToFront(entry.element)
	return entry.response, true, nil
}

// CacheResponse records a fresh allowance from Transport, resetting the
// remaining ledger and the refresh flag.
func (a *QuotaAggregator) CacheResponse(req transport.AllocateQuotaRequest, resp transport.AllocateQuotaResponse) error {
	if err := validateOperationRequest(req.ServiceName, a.serviceName, req.Operation.ConsumerID, req.Operation.OperationName); err != nil {
		return err
	}
	if a.cfg.NumEntries <= 0 {
		return nil
	}

	fp := signing.Sign(req.Operation, signing.Quota)
	now := a.ticker.Now()
	remaining := make(map[string]int64, len(resp.GrantedAmounts))
	for k, v := range resp.GrantedAmounts {
		remaining[k] = v
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.entries[fp]; ok {
		existing.response = resp
		existing.remaining = remaining
		existing.consumedPending = nil
		existing.lastRefreshTime = now
		existing.isRefreshing = false
		existing.operation = req.Operation.Clone()
		a.order.MoveToFront(existing.element)
		return nil
	}

	if a.order.Len() >= a.cfg.NumEntries {
		a.evictOldestLocked()
	}

	entry := &quotaEntry{
		fp:              fp,
		operation:       req.Operation.Clone(),
		response:        resp,
		remaining:       remaining,
		lastRefreshTime: now,
	}
	entry.element = a.order.PushFront(entry)
	a.entries[fp] = entry
	return nil
}

// Flush drains every entry due for refresh (either explicitly flagged by a
// deduction that would have gone negative, or stale past RefreshMillis) into
// a batch of Transport requests, carrying forward the amounts consumed since
// the last refresh so Transport can account for them.
func (a *QuotaAggregator) Flush() []transport.AllocateQuotaRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	ttl := time.Duration(a.cfg.RefreshMillis) * time.Millisecond
	now := a.ticker.Now()

	var out []transport.AllocateQuotaRequest
	for e := a.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*quotaEntry)
		due := entry.isRefreshing || (a.cfg.RefreshMillis >= 0 && now.Sub(entry.lastRefreshTime) >= ttl)
		if !due {
			continue
		}
		out = append(out, transport.AllocateQuotaRequest{
			ServiceName:     a.serviceName,
			Operation:       entry.operation.Clone(),
			ConsumedAmounts: cloneAmounts(entry.consumedPending),
		})
		entry.consumedPending = nil
	}
	return out
}

// Clear discards all cached allowances without producing refresh requests.
func (a *QuotaAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[signing.Fingerprint]*quotaEntry)
	a.order = list.New()
}

// RefreshMillis reports the configured refresh cadence, or NonCaching when
// caching is disabled.
func (a *QuotaAggregator) RefreshMillis() int64 {
	if a.cfg.NumEntries <= 0 {
		return NonCaching
	}
	return a.cfg.RefreshMillis
}

func (a *QuotaAggregator) expiredLocked(e *quotaEntry) bool {
	if a.cfg.ExpirationMillis < 0 {
		return false
	}
	ttl := time.Duration(a.cfg.ExpirationMillis) * time.Millisecond
	return a.ticker.Now().Sub(e.lastRefreshTime) >= ttl
}

func (a *QuotaAggregator) deleteLocked(fp signing.Fingerprint) {
	if e, ok := a.entries[fp]; ok {
		a.order.Remove(e.element)
		delete(a.entries, fp)
	}
}

func (a *QuotaAggregator) evictOldestLocked() {
	oldest := a.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*quotaEntry)
	a.order.Remove(oldest)
	delete(a.entries, entry.fp)
}

func cloneAmounts(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
