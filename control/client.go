// Client is the single facade fronting the three aggregators, the
// scheduler, and the worker pool, with fail-open error handling on every
// upstream path.
//
// A struct wiring together the local caches, a singleflight group for miss
// coalescing, and an injected upstream client, exposed behind lifecycle
// methods rather than free functions.
package control

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"encore.app/pkg/clock"
	"encore.app/pkg/middleware"
	"encore.app/pkg/models"
	"encore.app/pkg/threadfactory"
	"encore.app/pkg/transport"
	"encore.app/pkg/utils"
	"encore.app/signing"
)

// State is the facade's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

const (
	priorityReportFlush = 0
	priorityQuotaRefresh = 1
	priorityIdleCheck    = 1
)

// idlePollMillis is the cadence of the idle-shutdown heuristic's own
// recurring check; it is independent of MaxIdleSeconds, which is the
// threshold being polled for.
const idlePollMillis = 1000

// Client is safe for concurrent use.
type Client struct {
	cfg       Config
	transport transport.Transport
	ticker    clock.Ticker
	threads   threadfactory.ThreadFactory

	check  *CheckAggregator
	quota  *QuotaAggregator
	report *ReportAggregator

	scheduler *Scheduler
	pool      *FlushWorkerPool
	stats     *Statistics

	patterns      *utils.PatternMatcher
	quotaThrottle *middleware.TokenBucket
	audit         *AuditLogger

	checkGroup singleflight.Group
	quotaGroup singleflight.Group

	mu                sync.Mutex
	state             State
	inlineDrive       bool
	lastNonEmptyFlush time.Time
	reportCalls       int64
}

// NewClient builds a facade around tr, ready to Start.
func NewClient(cfg Config, tr transport.Transport, ticker clock.Ticker, threads threadfactory.ThreadFactory) *Client {
	if ticker == nil {
		ticker = clock.Real{}
	}
	if threads == nil {
		threads = threadfactory.Goroutine{}
	}
	refill := cfg.QuotaThrottleRefillPerSecond
	if refill <= 0 {
		refill = 1
	}
	burst := cfg.QuotaThrottleBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:       cfg,
		transport: tr,
		ticker:    ticker,
		threads:   threads,
		check:     NewCheckAggregator(cfg.Check, cfg.ServiceName, ticker),
		quota:     NewQuotaAggregator(cfg.Quota, cfg.ServiceName, ticker),
		report:    NewReportAggregator(cfg.Report, cfg.ServiceName),
		scheduler: NewScheduler(ticker),
		pool:      NewFlushWorkerPool(tr, rate.NewLimiter(rate.Limit(50), 50), 8),
		stats:     &Statistics{},
		patterns:  utils.NewPatternMatcher(),
		quotaThrottle: middleware.NewTokenBucket(refill, burst),
	}
}

// Stats exposes the running counters.
func (c *Client) Stats() *Statistics { return c.stats }

// SetAuditLogger attaches a durable fail-open trail. Optional: with none
// attached, fail-open events are only logged via the standard logger and
// counted in Statistics.
func (c *Client) SetAuditLogger(a *AuditLogger) { c.audit = a }

func (c *Client) recordFailOpenAudit(family, serviceName, consumerID, reason string) {
	if c.audit == nil {
		return
	}
	entry := FailOpenAuditEntry{
		Family:      family,
		ServiceName: serviceName,
		ConsumerID:  consumerID,
		Reason:      reason,
		Timestamp:   c.ticker.Now(),
	}
	go func() {
		if err := c.audit.Insert(context.Background(), entry); err != nil {
			log.Printf("control: fail-open audit insert failed: %v", err)
		}
	}()
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start transitions Stopped -> Running, spawning the scheduler's background
// thread if the environment allows it, falling back to inline-drive mode
// if not. Calling Start on an already-running or stopping facade is a
// no-op.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateRunning
	c.lastNonEmptyFlush = c.ticker.Now()
	c.mu.Unlock()

	// Enter the report flush before spawning the background thread, so its
	// Run(true) never finds an empty queue and returns at once.
	c.scheduleReportFlush()

	if err := c.threads.Start(func() { c.scheduler.Run(true) }); err != nil {
		c.mu.Lock()
		c.inlineDrive = true
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.inlineDrive = false
		c.mu.Unlock()
	}

	if !c.inlineDriveSnapshot() {
		c.scheduleQuotaRefresh()
		c.scheduleIdleCheck()
	}
	return nil
}

func (c *Client) inlineDriveSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inlineDrive
}

// Stop transitions Running -> Stopped, draining every aggregator via
// clear() and best-effort dispatching whatever it drained. Calling Stop on
// a facade that isn't Running returns ErrIllegalState.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return ErrIllegalState
	}
	c.state = StateStopping
	c.mu.Unlock()

	c.scheduler.Stop()

	reqs := c.report.Clear()
	if len(reqs) > 0 {
		c.pool.DispatchReports(context.Background(), reqs)
	}
	c.quota.Clear()
	c.check.Clear()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureStarted() {
	c.mu.Lock()
	stopped := c.state == StateStopped
	c.mu.Unlock()
	if stopped {
		_ = c.Start()
	}
}

func (c *Client) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning
}

// Check resolves a single CheckRequest, consulting the local cache first
// and falling back to Transport on a miss, with upstream calls for an
// identical fingerprint coalesced via singleflight. A Transport failure
// fails open: Check logs the error and returns (nil, nil) rather than
// propagating it.
func (c *Client) Check(req transport.CheckRequest) (*transport.CheckResponse, error) {
	c.ensureStarted()
	start := time.Now()

	if c.patterns.MatchAny(req.Operation.OperationName, c.cfg.ForceBypassPatterns) {
		req.Operation.Importance = models.High
	}

	resp, hit, err := c.check.Check(req)
	if err != nil {
		return nil, err
	}
	c.stats.TotalChecks.Add(1)
	if hit {
		c.stats.CheckHits.Add(1)
		c.stats.CheckElapsedNanos.Add(elapsedSince(start))
		return &resp, nil
	}

	c.stats.DirectChecks.Add(1)
	fp := signing.Sign(req.Operation, signing.Check)
	v, err, _ := c.checkGroup.Do(string(fp[:]), func() (any, error) {
		return c.transport.Check(context.Background(), req)
	})
	c.stats.CheckElapsedNanos.Add(elapsedSince(start))
	if err != nil {
		c.stats.FailOpenChecks.Add(1)
		log.Printf("control: check failed open for consumer %s op %s: %v", req.Operation.ConsumerID, req.Operation.OperationName, err)
		c.recordFailOpenAudit("check", req.ServiceName, req.Operation.ConsumerID, err.Error())
		return nil, nil
	}

	upstream := v.(transport.CheckResponse)
	_ = c.check.AddResponse(req, upstream)
	return &upstream, nil
}

// AllocateQuota resolves a single AllocateQuotaRequest the same way Check
// does, with a per-consumer token bucket throttling retries against an
// upstream that keeps failing: once throttled, a miss is served a cached
// empty allowance instead of hammering Transport again.
func (c *Client) AllocateQuota(req transport.AllocateQuotaRequest) (*transport.AllocateQuotaResponse, error) {
	c.ensureStarted()
	start := time.Now()

	resp, hit, err := c.quota.AllocateQuota(req)
	if err != nil {
		return nil, err
	}
	c.stats.TotalQuotas.Add(1)
	if hit {
		c.stats.QuotaHits.Add(1)
		c.stats.QuotaElapsedNanos.Add(elapsedSince(start))
		return &resp, nil
	}

	c.stats.DirectQuotas.Add(1)
	defer func() { c.stats.QuotaElapsedNanos.Add(elapsedSince(start)) }()

	if !c.quotaThrottle.Allow(req.Operation.ConsumerID) {
		c.stats.FailOpenQuotas.Add(1)
		empty := emptyQuotaResponse()
		_ = c.quota.CacheResponse(req, empty)
		return &empty, nil
	}

	fp := signing.Sign(req.Operation, signing.Quota)
	v, err, _ := c.quotaGroup.Do(string(fp[:]), func() (any, error) {
		return c.transport.AllocateQuota(context.Background(), req)
	})
	if err != nil {
		c.stats.FailOpenQuotas.Add(1)
		log.Printf("control: quota failed open for consumer %s op %s: %v", req.Operation.ConsumerID, req.Operation.OperationName, err)
		c.recordFailOpenAudit("quota", req.ServiceName, req.Operation.ConsumerID, err.Error())
		empty := emptyQuotaResponse()
		_ = c.quota.CacheResponse(req, empty)
		return &empty, nil
	}

	upstream := v.(transport.AllocateQuotaResponse)
	c.quotaThrottle.Reset(req.Operation.ConsumerID)
	_ = c.quota.CacheResponse(req, upstream)
	return &upstream, nil
}

// Report merges req's operations into the local aggregator where possible,
// sending any operation that couldn't be merged directly to Transport.
func (c *Client) Report(req transport.ReportRequest) error {
	c.ensureStarted()
	start := time.Now()

	declined, err := c.report.Report(req)
	if err != nil {
		return err
	}
	c.stats.ReportedOperations.Add(int64(len(req.Operations)))

	if len(declined) > 0 {
		direct := transport.ReportRequest{ServiceName: req.ServiceName, Operations: declined}
		if err := c.transport.Report(context.Background(), direct); err != nil {
			log.Printf("control: direct report of %d operations failed: %v", len(declined), err)
		}
		c.stats.DirectReports.Add(1)
	}
	c.stats.ReportElapsedNanos.Add(elapsedSince(start))

	c.mu.Lock()
	c.reportCalls++
	calls := c.reportCalls
	inline := c.inlineDrive
	c.mu.Unlock()

	if inline {
		c.scheduler.Run(false)
	}
	c.maybeLogStats(calls)
	return nil
}

// Flush forces an immediate report flush and quota refresh, as if the
// scheduler's recurring ticks had fired early. Intended for an admin
// endpoint.
func (c *Client) Flush() {
	c.runReportFlush()
	c.runQuotaRefresh()
}

// Clear discards all cached state in every aggregator without flushing it
// upstream. Intended for an admin endpoint and for cross-instance
// coordination (see subscriptions.go).
func (c *Client) Clear() {
	c.check.Clear()
	c.quota.Clear()
	_ = c.report.Clear()
}

func (c *Client) maybeLogStats(calls int64) {
	freq := c.cfg.StatsLogFrequency
	if freq <= 0 {
		return
	}
	if calls%int64(freq) == 0 {
		log.Println(c.stats.String())
		if triggered, checkRate, quotaRate := FailOpenAlert(c.stats, c.cfg.FailOpenAlertThreshold); triggered {
			log.Printf("control: fail-open rate alert: checkRate=%.3f quotaRate=%.3f threshold=%.3f", checkRate, quotaRate, c.cfg.FailOpenAlertThreshold)
		}
	}
}

func (c *Client) scheduleReportFlush() {
	var tick Action
	tick = func() {
		if !c.isRunning() {
			return
		}
		c.stats.SchedulerRuns.Add(1)
		c.runReportFlush()
		c.scheduler.Enter(tick, c.cfg.Report.FlushIntervalMillis, priorityReportFlush)
	}
	c.scheduler.Enter(tick, c.cfg.Report.FlushIntervalMillis, priorityReportFlush)
}

func (c *Client) runReportFlush() {
	reqs := c.report.Flush()
	if len(reqs) == 0 {
		c.stats.SchedulerSkips.Add(1)
		return
	}
	c.stats.FlushedReports.Add(int64(len(reqs)))
	var total int64
	for _, r := range reqs {
		total += int64(len(r.Operations))
	}
	c.stats.FlushedOperations.Add(total)
	c.mu.Lock()
	c.lastNonEmptyFlush = c.ticker.Now()
	c.mu.Unlock()
	c.pool.DispatchReports(context.Background(), reqs)
}

func (c *Client) scheduleQuotaRefresh() {
	var tick Action
	tick = func() {
		if !c.isRunning() {
			return
		}
		c.runQuotaRefresh()
		c.scheduler.Enter(tick, c.cfg.Quota.RefreshMillis, priorityQuotaRefresh)
	}
	c.scheduler.Enter(tick, c.cfg.Quota.RefreshMillis, priorityQuotaRefresh)
}

func (c *Client) runQuotaRefresh() {
	reqs := c.quota.Flush()
	if len(reqs) == 0 {
		return
	}
	c.pool.DispatchQuotaRefresh(context.Background(), reqs, c.quota.CacheResponse)
}

func (c *Client) scheduleIdleCheck() {
	var tick Action
	tick = func() {
		if !c.isRunning() {
			return
		}
		c.mu.Lock()
		idleFor := c.ticker.Now().Sub(c.lastNonEmptyFlush)
		c.mu.Unlock()
		if idleFor >= time.Duration(c.cfg.MaxIdleSeconds)*time.Second {
			go func() { _ = c.Stop() }()
			return
		}
		c.scheduler.Enter(tick, idlePollMillis, priorityIdleCheck)
	}
	c.scheduler.Enter(tick, idlePollMillis, priorityIdleCheck)
}

func emptyQuotaResponse() transport.AllocateQuotaResponse {
	return transport.AllocateQuotaResponse{Status: transport.CheckOK, GrantedAmounts: map[string]int64{}}
}
