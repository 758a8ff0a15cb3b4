package visibility

import (
	"context"
	"sync/atomic"

	"github.com/norish-recipes/norish-sub000/internal/bus"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// Router publishes and subscribes through the bus according to the active
// policy. The policy may change at runtime; emits pick it up immediately,
// and existing subscribers keep working because they listen on all scopes.
type Router struct {
	bus    *bus.Bus
	logger log.Logger
	policy atomic.Value // PolicyLevel
}

// NewRouter creates a router with the given starting policy.
func NewRouter(b *bus.Bus, policy PolicyLevel, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewLogger()
	}
	r := &Router{bus: b, logger: logger.WithComponent("visibility")}
	r.policy.Store(policy)
	return r
}

// Policy returns the active policy level.
func (r *Router) Policy() PolicyLevel {
	return r.policy.Load().(PolicyLevel)
}

// SetPolicy switches the active policy. Takes effect for all subsequent emits
// and dedup keys.
func (r *Router) SetPolicy(p PolicyLevel) {
	r.policy.Store(p)
	r.logger.Info("visibility policy changed", log.Str("policy", string(p)))
}

// Emit publishes payload on exactly one channel chosen by the active policy.
// Returns whether anyone received it.
func (r *Router) Emit(vctx Context, event string, payload []byte) bool {
	ch := EmitChannel(r.Policy(), vctx, event)
	delivered := r.bus.Publish(ch, payload)
	r.logger.Debug("event emitted",
		log.Str("event", event),
		log.Str("channel", ch),
		log.Bool("delivered", delivered))
	return delivered
}

// EmitUser publishes on the actor's user channel regardless of policy. Used
// for personal notifications like sync status.
func (r *Router) EmitUser(userID, event string, payload []byte) bool {
	return r.bus.Publish(UserChannel(userID, event), payload)
}

// EmitGlobal publishes on the operational channel for an event.
func (r *Router) EmitGlobal(event string, payload []byte) bool {
	return r.bus.Publish(GlobalChannel(event), payload)
}

// Subscribe opens a policy-aware subscription for one event: household, user,
// and broadcast scopes merged into a single cancellable stream.
func (r *Router) Subscribe(ctx context.Context, vctx Context, event string) *bus.Subscription {
	channels := SubscribeChannels(vctx, event)
	subs := make([]*bus.Subscription, 0, len(channels))
	for _, ch := range channels {
		subs = append(subs, r.bus.Subscribe(ctx, ch))
	}
	return bus.Merge(ctx, subs...)
}

// DedupKey builds the job ID for work initiated by vctx under the active
// policy.
func (r *Router) DedupKey(vctx Context, kind, target string) string {
	return DedupKey(r.Policy(), vctx, kind, target)
}
