// Cross-instance cache reset broadcast: a pubsub.NewTopic plus a
// pubsub.NewSubscription wired to a package-level handler that reaches
// into the global svc. This repository only needs one event (a full
// local-cache clear), not a key-level refresh/invalidate pair, since every
// aggregator here is pure local state with no natural "delete just this
// key" operation exposed to operators.
package control

import (
	"context"
	"time"

	"encore.dev/pubsub"

	ctlpubsub "encore.app/pkg/pubsub"
)

// ClearEvent is broadcast when an operator clears one facade instance's
// local caches, so the rest of the fleet clears its own state too.
type ClearEvent struct {
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClearTopic is the control-plane's cache-clear broadcast channel.
var ClearTopic = pubsub.NewTopic[*ClearEvent](
	ctlpubsub.TopicControlClear,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

var _ = pubsub.NewSubscription(
	ClearTopic,
	"control-clear-subscriber",
	pubsub.SubscriptionConfig[*ClearEvent]{
		Handler: HandleClearEvent,
	},
)

// HandleClearEvent clears this instance's local aggregator state in
// response to a fleet-wide clear broadcast.
func HandleClearEvent(ctx context.Context, event *ClearEvent) error {
	if svc == nil {
		return nil
	}
	svc.client.Clear()
	return nil
}

// PublishClear broadcasts a clear event after this instance clears its own
// state, so the rest of the fleet follows suit.
func (s *Service) PublishClear(ctx context.Context, triggeredBy string) error {
	s.client.Clear()
	_, err := ClearTopic.Publish(ctx, &ClearEvent{TriggeredBy: triggeredBy, Timestamp: time.Now()})
	return err
}
