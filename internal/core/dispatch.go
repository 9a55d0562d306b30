package core

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/writerr/changepipeline/internal/eventbus"
)

// Notifier delivers an outbound event to a registered producer. Shipping
// events over an actual wire is a collaborator's transport concern, so the
// default Notifier only logs; real producer-registry users replace it with
// their own transport. The rate limiting in front of it is real regardless
// of which Notifier is plugged in.
type Notifier interface {
	Notify(pluginID string, topic eventbus.Topic, payload any) error
}

type slogNotifier struct{ logger *slog.Logger }

func (n slogNotifier) Notify(pluginID string, topic eventbus.Topic, payload any) error {
	n.logger.Debug("outbound producer notification", "plugin_id", pluginID, "topic", string(topic))
	return nil
}

// outboundRate is the sustained per-producer notification rate; burst
// allows a producer to catch up after a quiet period without immediately
// tripping the limiter.
const (
	outboundRate  = rate.Limit(10)
	outboundBurst = 20
)

// dispatcher rate-limits outbound event notifications to registered
// producers using golang.org/x/time/rate.Limiter directly, independent of
// internal/governor's inbound admission logic (which hand-rolls its own
// limiter because it must expose backoff_level/is_throttled as inspectable
// state; outbound dispatch has no such requirement, so the upstream limiter
// is used as-is).
type dispatcher struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	notifier Notifier
}

func newDispatcher(notifier Notifier) *dispatcher {
	return &dispatcher{limiters: make(map[string]*rate.Limiter), notifier: notifier}
}

func (d *dispatcher) limiterFor(pluginID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[pluginID]
	if !ok {
		l = rate.NewLimiter(outboundRate, outboundBurst)
		d.limiters[pluginID] = l
	}
	return l
}

// dispatch attempts delivery, dropping (not blocking or queueing) when the
// producer's outbound rate is exceeded: realtime subscribers are
// best-effort, and the canonical audit trail for every change lives in the
// Change Store / session snapshots regardless of delivery outcome.
func (d *dispatcher) dispatch(pluginID string, topic eventbus.Topic, payload any) {
	if !d.limiterFor(pluginID).Allow() {
		return
	}
	_ = d.notifier.Notify(pluginID, topic, payload)
}

// wireOutboundDispatch fans out every bus event to registered, Active
// producers that declared supports_realtime, through the rate-limited
// dispatcher.
func (c *Core) wireOutboundDispatch() {
	topics := []eventbus.Topic{
		eventbus.TopicChangeSubmitted, eventbus.TopicChangeAdmitted, eventbus.TopicChangeSuperseded,
		eventbus.TopicChangeAccepted, eventbus.TopicChangeRejected, eventbus.TopicClusterUpdated,
		eventbus.TopicBatchCreated, eventbus.TopicBatchFinalized, eventbus.TopicQuotaExceeded,
		eventbus.TopicThrottled, eventbus.TopicSensitiveData, eventbus.TopicPolicyViolation,
	}
	for _, topic := range topics {
		topic := topic
		c.bus.Subscribe(topic, func(ev eventbus.Event) error {
			c.fanOutToRealtimeProducers(topic, ev.Data)
			return nil
		})
	}
}

func (c *Core) fanOutToRealtimeProducers(topic eventbus.Topic, payload any) {
	c.mu.Lock()
	active := make([]string, 0, len(c.producers))
	for id, p := range c.producers {
		if p.Status == ProducerActive && p.Manifest.Capabilities.SupportsRealtime {
			active = append(active, id)
		}
	}
	c.mu.Unlock()

	for _, id := range active {
		c.dispatch.dispatch(id, topic, payload)
	}
}
