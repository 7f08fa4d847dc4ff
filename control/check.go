// CheckAggregator is a pure-state TTL+LRU cache of CheckResponses keyed by
// canonical Operation fingerprint. It performs no upstream I/O — callers
// (the Client facade) own the miss path.
//
// A container/list LRU ring with a map index, built to accept an injected
// clock.Ticker instead of time.Now() so expiry is deterministically
// testable, and keyed by signing.Fingerprint instead of a string hash.
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

type checkEntry struct {
	fp              signing.Fingerprint
	response        transport.CheckResponse
	lastRefreshTime time.Time
	element         *list.Element
}

// CheckAggregator is safe for concurrent use.
type CheckAggregator struct {
	mu          sync.Mutex
	cfg         CheckConfig
	serviceName string
	ticker      clock.Ticker
	entries     map[signing.Fingerprint]*checkEntry
	order       *list.List
}

func NewCheckAggregator(cfg CheckConfig, serviceName string, ticker clock.Ticker) *CheckAggregator {
	return &CheckAggregator{
		cfg:         cfg,
		serviceName: serviceName,
		ticker:      ticker,
		entries:     make(map[signing.Fingerprint]*checkEntry),
		order:       list.New(),
	}
}

// Check returns a cached response and true on a hit, or false on a miss
// (cache disabled, entry absent, entry expired, or the operation is
// HIGH-importance and therefore never served from the cache).
func (a *CheckAggregator) Check(req transport.CheckRequest) (transport.CheckResponse, bool, error) {
	if err := validateOperationRequest(req.ServiceName, a.serviceName, req.Operation.ConsumerID, req.Operation.OperationName); err != nil {
		return transport.CheckResponse{}, false, err
	}
	if a.cfg.NumEntries <= 0 || req.Operation.Importance == models.High {
		return transport.CheckResponse{}, false, nil
	}

	fp := signing.Sign(req.Operation, signing.Check)

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entries[fp]
	if !ok {
		return transport.CheckResponse{}, false, nil
	}
	if a.expiredLocked(entry) {
		a.deleteLocked(fp)
		return transport.CheckResponse{}, false, nil
	}
	a.order.MoveToFront(entry.element)
	return entry.response, true, nil
}

// AddResponse records an upstream response, refreshing recency and TTL.
func (a *CheckAggregator) AddResponse(req transport.CheckRequest, resp transport.CheckResponse) error {
	if err := validateOperationRequest(req.ServiceName, a.serviceName, req.Operation.ConsumerID, req.Operation.OperationName); err != nil {
		return err
	}
	if a.cfg.NumEntries <= 0 {
		return nil
	}

	fp := signing.Sign(req.Operation, signing.Check)
	now := a.ticker.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.entries[fp]; ok {
		existing.response = resp
		existing.lastRefreshTime = now
		a.order.MoveToFront(existing.element)
		return nil
	}

	if a.order.Len() >= a.cfg.NumEntries {
		a.evictOldestLocked()
	}

	entry := &checkEntry{fp: fp, response: resp, lastRefreshTime: now}
	entry.element = a.order.PushFront(entry)
	a.entries[fp] = entry
	return nil
}

// Clear discards all cached responses.
func (a *CheckAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[signing.Fingerprint]*checkEntry)
	a.order = list.New()
}

// ExpirationMillis reports the configured TTL, or NonCaching when caching is
// disabled.
func (a *CheckAggregator) ExpirationMillis() int64 {
	if a.cfg.NumEntries <= 0 {
		return NonCaching
	}
	return a.cfg.ExpirationMillis
}

func (a *CheckAggregator) expiredLocked(e *checkEntry) bool {
	if a.cfg.ExpirationMillis < 0 {
		return false
	}
	ttl := time.Duration(a.cfg.ExpirationMillis) * time.Millisecond
	return a.ticker.Now().Sub(e.lastRefreshTime) >= ttl
}

func (a *CheckAggregator) deleteLocked(fp signing.Fingerprint) {
	if e, ok := a.entries[fp]; ok {
		a.order.Remove(e.element)
		delete(a.entries, fp)
	}
}

func (a *CheckAggregator) evictOldestLocked() {
	oldest := a.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*checkEntry)
	a.order.Remove(oldest)
	delete(a.entries, entry.fp)
}
