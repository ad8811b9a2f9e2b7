// Package nameresolve is the name-indirection resolver (spec §4.2a):
// an in-memory endpoint→real_endpoint and endpoint→sdk_endpoint map
// kept synced from the MetaStore's /map/names and /map/sdkendpoints
// trees, with an optional miekg/dns front end for operators who want
// to `dig` a tablet's logical endpoint and get back the address it
// actually listens on. Adapted from the teacher's container-name DNS
// resolver (pkg/dns/resolver.go), which answered the same kind of
// name→address indirection for container service names instead of
// tablet endpoints.
package nameresolve

import (
	"context"
	"strings"
	"sync"

	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/rs/zerolog"
)

// Resolver holds the in-memory view of both indirection maps and keeps
// it converged with the MetaStore via a children watch on each root.
type Resolver struct {
	mu     sync.RWMutex
	names  map[string]string // endpoint -> real_endpoint
	sdk    map[string]string // endpoint -> sdk_endpoint
	store  metastore.Client
	domain string
	logger zerolog.Logger
}

// New builds a Resolver against store. domain is the DNS search suffix
// answered by an optional Server wrapping this Resolver.
func New(store metastore.Client, domain string) *Resolver {
	return &Resolver{
		names:  make(map[string]string),
		sdk:    make(map[string]string),
		store:  store,
		domain: domain,
		logger: log.WithComponent("nameresolve"),
	}
}

// Start loads both maps and arms watches so they stay converged for
// the resolver's lifetime (metastore.Client watches are durable across
// reconnects, unlike a torn-down ZooKeeper session).
func (r *Resolver) Start(ctx context.Context) error {
	if err := r.reload(ctx, paths.MapNames, r.setNames); err != nil {
		return err
	}
	if err := r.reload(ctx, paths.MapSdkEndpoints, r.setSdk); err != nil {
		return err
	}
	if err := r.store.WatchChildren(paths.MapNames, func(children []string) {
		r.loadChildren(context.Background(), paths.MapNames, children, r.setNames)
	}); err != nil {
		return err
	}
	return r.store.WatchChildren(paths.MapSdkEndpoints, func(children []string) {
		r.loadChildren(context.Background(), paths.MapSdkEndpoints, children, r.setSdk)
	})
}

func (r *Resolver) reload(ctx context.Context, root string, set func(map[string]string)) error {
	children, err := r.store.Children(ctx, root)
	if err != nil {
		return err
	}
	r.loadChildren(ctx, root, children, set)
	return nil
}

func (r *Resolver) loadChildren(ctx context.Context, root string, children []string, set func(map[string]string)) {
	m := make(map[string]string, len(children))
	for _, endpoint := range children {
		val, err := r.store.Get(ctx, root+"/"+endpoint)
		if err != nil {
			r.logger.Warn().Err(err).Str("endpoint", endpoint).Str("root", root).Msg("read failed during reload")
			continue
		}
		m[endpoint] = string(val)
	}
	set(m)
}

func (r *Resolver) setNames(m map[string]string) {
	r.mu.Lock()
	r.names = m
	r.mu.Unlock()
}

func (r *Resolver) setSdk(m map[string]string) {
	r.mu.Lock()
	r.sdk = m
	r.mu.Unlock()
}

// Update pushes a new aggregate endpoint->real_endpoint map directly,
// bypassing the MetaStore round trip — the path Tablet Registry's
// PushRealEndpointMap uses when this Resolver lives in the same
// process as the Registry (spec §4.2a, §4.9 RealEpMap Pusher).
func (r *Resolver) Update(m map[string]string) {
	merged := make(map[string]string, len(m))
	for k, v := range m {
		merged[k] = v
	}
	r.setNames(merged)
}

// RealEndpoint returns the real endpoint registered for a logical
// endpoint, if any.
func (r *Resolver) RealEndpoint(endpoint string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.names[endpoint]
	return v, ok
}

// SdkEndpoint returns the SDK-facing endpoint registered for a logical
// endpoint, if any.
func (r *Resolver) SdkEndpoint(endpoint string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.sdk[endpoint]
	return v, ok
}

// stripDomain removes the resolver's search-domain suffix, mirroring
// the teacher's stripDomain.
func (r *Resolver) stripDomain(name string) string {
	suffix := "." + r.domain
	return strings.TrimSuffix(name, suffix)
}
