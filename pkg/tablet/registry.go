// Package tablet is the C2 Tablet Registry: it maintains endpoint →
// TabletInfo, driven by a MetaStore children watch on /nodes, and
// reacts to membership changes the same way the teacher's reconciler
// reacted to missed node heartbeats — except here the signal is an
// ephemeral node disappearing rather than a heartbeat timestamp aging
// out, so detection is push- rather than poll-driven.
package tablet

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

// Dialer pushes the aggregated real-endpoint map to a tablet. It is an
// interface rather than a direct dependency on pkg/client so the
// registry does not need to know about RPC transport.
type Dialer interface {
	PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error
}

// NameSink receives the same aggregate real-endpoint map PushRealEndpointMap
// sends to every tablet, for a local pkg/nameresolve.Resolver co-located in
// this process (spec §4.2a) — an interface rather than a direct dependency
// so this package does not need to know about DNS.
type NameSink interface {
	Update(m map[string]string)
}

// OnlineFunc/OfflineFunc are invoked when a tablet transitions state;
// the Failover Controller (C6) registers these.
type OnlineFunc func(endpoint string)
type OfflineFunc func(endpoint string)

// Registry tracks every tablet's liveness and real endpoint.
type Registry struct {
	mu       sync.RWMutex
	tablets  map[string]*types.Tablet
	timers   map[string]*time.Timer
	store    metastore.Client
	broker   *events.Broker
	dialer   Dialer
	debounce time.Duration
	logger   zerolog.Logger
	nameSink NameSink

	onOffline OfflineFunc
	onOnline  OnlineFunc
}

// NewRegistry builds a Registry. debounce is how long a disappeared
// endpoint is held in Offline before OnTabletOffline fires, giving a
// flapping tablet a chance to re-register first.
func NewRegistry(store metastore.Client, broker *events.Broker, dialer Dialer, debounce time.Duration) *Registry {
	if debounce == 0 {
		debounce = 5 * time.Second
	}
	return &Registry{
		tablets:  make(map[string]*types.Tablet),
		timers:   make(map[string]*time.Timer),
		store:    store,
		broker:   broker,
		dialer:   dialer,
		debounce: debounce,
		logger:   log.WithComponent("tablet-registry"),
	}
}

// OnOffline / OnOnline register the Failover Controller's reactions.
func (r *Registry) OnOffline(fn OfflineFunc) { r.onOffline = fn }
func (r *Registry) OnOnline(fn OnlineFunc)   { r.onOnline = fn }

// SetNameSink wires a local nameresolve.Resolver so PushRealEndpointMap
// updates it directly instead of only the remote tablets.
func (r *Registry) SetNameSink(sink NameSink) { r.nameSink = sink }

// Start performs the initial load and arms the children watch.
func (r *Registry) Start(ctx context.Context) error {
	children, err := r.store.Children(ctx, paths.Nodes)
	if err != nil {
		return err
	}
	r.reconcile(children)

	return r.store.WatchChildren(paths.Nodes, r.handleChildren)
}

func (r *Registry) handleChildren(children []string) {
	r.reconcile(children)
}

// reconcile diffs the live endpoint set against the registry's view,
// marking disappeared endpoints Offline at once (their OnTabletOffline
// reaction waits for the debounce) and reappeared ones Healthy again.
func (r *Registry) reconcile(live []string) {
	liveSet := make(map[string]bool, len(live))
	for _, ep := range live {
		liveSet[ep] = true
	}

	r.mu.Lock()
	now := time.Now()

	for ep := range liveSet {
		t, known := r.tablets[ep]
		if !known {
			r.tablets[ep] = &types.Tablet{Endpoint: ep, State: types.TabletHealthy, Ctime: now}
			r.logger.Info().Str("endpoint", ep).Msg("tablet registered")
			r.publish(events.EventTabletOnline, ep)
			if r.onOnline != nil {
				go r.onOnline(ep)
			}
			continue
		}
		if timer, pending := r.timers[ep]; pending {
			timer.Stop()
			delete(r.timers, ep)
		}
		if t.State == types.TabletOffline {
			t.State = types.TabletHealthy
			t.Ctime = now
			r.logger.Info().Str("endpoint", ep).Msg("tablet back online")
			r.publish(events.EventTabletOnline, ep)
			if r.onOnline != nil {
				go r.onOnline(ep)
			}
		}
	}

	for ep, t := range r.tablets {
		if liveSet[ep] || t.State == types.TabletOffline {
			continue
		}
		r.scheduleOffline(ep)
	}
	r.mu.Unlock()
}

// scheduleOffline must be called with r.mu held. It marks the tablet
// offline immediately (so GetHealthy stops returning it right away)
// and schedules the OnTabletOffline reaction after debounce, canceling
// it if the endpoint re-registers first.
func (r *Registry) scheduleOffline(ep string) {
	t := r.tablets[ep]
	t.State = types.TabletOffline
	t.Ctime = time.Now()
	r.logger.Warn().Str("endpoint", ep).Msg("tablet endpoint disappeared, debouncing")

	timer := time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		t, ok := r.tablets[ep]
		stillOffline := ok && t.State == types.TabletOffline
		delete(r.timers, ep)
		r.mu.Unlock()

		if !stillOffline {
			return
		}
		r.logger.Warn().Str("endpoint", ep).Msg("tablet offline, debounce elapsed")
		r.publish(events.EventTabletOffline, ep)
		if r.onOffline != nil {
			r.onOffline(ep)
		}
	})
	r.timers[ep] = timer
}

func (r *Registry) publish(t events.EventType, endpoint string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     t,
		Metadata: map[string]string{"endpoint": endpoint},
	})
}

// GetHealthy returns the tablet at endpoint if it is currently Healthy.
func (r *Registry) GetHealthy(endpoint string) (*types.Tablet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tablets[endpoint]
	if !ok || t.State != types.TabletHealthy {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// List returns a snapshot of every known tablet.
func (r *Registry) List() []*types.Tablet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Tablet, 0, len(r.tablets))
	for _, t := range r.tablets {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// HealthyEndpoints returns the set of currently Healthy endpoints.
func (r *Registry) HealthyEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tablets))
	for ep, t := range r.tablets {
		if t.State == types.TabletHealthy {
			out = append(out, ep)
		}
	}
	return out
}

// SetRealEndpoint records the network address backing a logical
// endpoint (name-indirection, spec §4.2a) and persists it so tablets
// dial each other correctly after a coordinator restart.
func (r *Registry) SetRealEndpoint(ctx context.Context, endpoint, realEndpoint string) error {
	r.mu.Lock()
	if t, ok := r.tablets[endpoint]; ok {
		t.RealEndpoint = realEndpoint
	}
	r.mu.Unlock()
	return r.store.Set(ctx, paths.NameMap(endpoint), []byte(realEndpoint))
}

// PushRealEndpointMap aggregates every known endpoint→real_endpoint
// pair plus peerMaps (every linked peer cluster's own real_ep_map, per
// the RealEpMap Pusher background scheduler, spec §4.9) and pushes the
// union to every Healthy tablet.
func (r *Registry) PushRealEndpointMap(ctx context.Context, peerMaps ...map[string]string) {
	r.mu.RLock()
	m := make(map[string]string, len(r.tablets))
	healthy := make([]string, 0, len(r.tablets))
	for ep, t := range r.tablets {
		if t.RealEndpoint != "" {
			m[ep] = t.RealEndpoint
		}
		if t.State == types.TabletHealthy {
			healthy = append(healthy, ep)
		}
	}
	r.mu.RUnlock()

	for _, pm := range peerMaps {
		for ep, real := range pm {
			if _, exists := m[ep]; !exists {
				m[ep] = real
			}
		}
	}

	if r.nameSink != nil {
		r.nameSink.Update(m)
	}

	if r.dialer == nil {
		return
	}
	for _, ep := range healthy {
		if err := r.dialer.PushRealEndpointMap(ctx, ep, m); err != nil {
			r.logger.Warn().Err(err).Str("endpoint", ep).Msg("failed to push real endpoint map")
		}
	}
}
