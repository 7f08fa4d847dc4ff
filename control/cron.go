// Flush backstop cron job.
//
// The Scheduler (scheduler.go) already drives periodic report flush and
// quota refresh off its own priority timer queue, independent of Encore.
// This is a second, much coarser safety net: if a facade instance's
// scheduler goroutine has wedged or its inline-drive fallback simply
// hasn't been ticked (no report() calls arriving to drive it), operations
// sitting in the ReportAggregator would otherwise only be bounded by
// MaxIdleSeconds' shutdown path. A periodic Encore cron job forces a flush
// regardless, so accumulated state never silently waits out a deploy
// window.
//
// cron.NewJob wired to a package-level //encore:api endpoint reaching into
// the global svc.
package control

import (
	"context"

	"encore.dev/cron"
)

var _ = cron.NewJob("control-flush-backstop", cron.JobConfig{
	Title:    "Control Facade Flush Backstop",
	Schedule: "*/5 * * * *", // every 5 minutes
	Endpoint: FlushBackstop,
})

//encore:api private
func FlushBackstop(ctx context.Context) error {
	if svc == nil {
		return nil
	}
	svc.client.Flush()
	return nil
}
