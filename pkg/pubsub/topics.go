// Package pubsub provides topic name constants for the control facade's
// optional cross-instance coordination. These are process-local cache
// resets broadcast across a fleet of facade instances — not a mechanism
// for quota-refill coordination, which stays out of scope here.
package pubsub

const (
	// TopicControlClear is published when an operator clears a facade
	// instance's local caches; other instances subscribe and clear their
	// own local state to keep the fleet's best-effort caches roughly in
	// sync after an explicit admin action.
	TopicControlClear = "control.clear"
)
