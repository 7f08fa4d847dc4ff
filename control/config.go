package control

// NonCaching is the sentinel returned by an aggregator's *ExpirationMillis
// (or FlushIntervalMillis) accessor when its cache is disabled, preferring
// -1 over a pointer or an (int, bool) pair for "there is no such value" on
// a hot accessor.
const NonCaching int64 = -1

// DoNotLog disables periodic statistics logging in Config.
const DoNotLog int = -1

// CheckConfig sizes and expires the CheckAggregator's local cache.
type CheckConfig struct {
	NumEntries       int
	ExpirationMillis int64
}

// DefaultCheckConfig matches the documented defaults for the check
// endpoint.
func DefaultCheckConfig() CheckConfig {
	return CheckConfig{NumEntries: 1000, ExpirationMillis: 4000}
}

// QuotaConfig sizes, expires, and schedules background refresh for the
// QuotaAggregator.
type QuotaConfig struct {
	NumEntries       int
	ExpirationMillis int64
	RefreshMillis    int64
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{NumEntries: 1000, ExpirationMillis: 60000, RefreshMillis: 60000}
}

// ReportConfig sizes and schedules flush for the ReportAggregator.
type ReportConfig struct {
	NumEntries            int
	FlushIntervalMillis   int64
	MaxOperationsPerBatch int
}

func DefaultReportConfig() ReportConfig {
	return ReportConfig{NumEntries: 200, FlushIntervalMillis: 1000, MaxOperationsPerBatch: 1000}
}

// Config is the full facade configuration.
type Config struct {
	ServiceName string

	Check  CheckConfig
	Quota  QuotaConfig
	Report ReportConfig

	// StatsLogFrequency logs accumulated Statistics every N report() calls.
	// DoNotLog disables periodic logging entirely.
	StatsLogFrequency int

	// MaxIdleSeconds is how long the facade may go without a non-empty
	// report flush before the idle-shutdown heuristic stops it.
	MaxIdleSeconds int

	// ForceBypassPatterns names operations (by name, glob or regex via
	// pkg/utils.PatternMatcher) that always bypass the check cache:
	// Client.Check treats a matching operation as HIGH importance.
	// AllocateQuota and Report do not consult these patterns.
	ForceBypassPatterns []string

	// QuotaThrottleRefillPerSecond and QuotaThrottleBurst bound how often a
	// single consumerId may retry a failing upstream quota call.
	QuotaThrottleRefillPerSecond float64
	QuotaThrottleBurst           int64

	// FailOpenAlertThreshold triggers the fail-open alert (see
	// FailOpenAlert) when either cumulative fail-open rate reaches it. The
	// alert is only evaluated when statistics are logged, so it needs
	// StatsLogFrequency > 0. Zero disables the alert.
	FailOpenAlertThreshold float64
}

// DefaultConfig returns the facade's defaults, with the opt-in extras left
// at conservative values.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:                  serviceName,
		Check:                        DefaultCheckConfig(),
		Quota:                        DefaultQuotaConfig(),
		Report:                       DefaultReportConfig(),
		StatsLogFrequency:            DoNotLog,
		MaxIdleSeconds:               120,
		QuotaThrottleRefillPerSecond: 1,
		QuotaThrottleBurst:           5,
		FailOpenAlertThreshold:       0,
	}
}
