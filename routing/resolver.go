// Package routing implements the hybrid static/dynamic next-hop resolver
// described in spec.md §4.3. Routes live as RIB objects under
// /routing/static/<dst> and /routing/dynamic/<dst> (spec.md §3's own naming
// convention already implies this storage choice — see SPEC_FULL.md §3),
// so Resolver is a thin, stateless-besides-caching policy layer over a
// shared *rib.Rib handle, not a second source of truth.
package routing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arinet/corina/rib"
	"github.com/jellydator/ttlcache/v3"
)

const (
	keyNextHop   = "next_hop"
	keyEndpoint  = "endpoint"
	keyCreatedAt = "created_at"
	keyTTL       = "ttl_seconds"

	classStatic  = "route.static"
	classDynamic = "route.dynamic"
)

func staticName(dst uint64) string  { return "/routing/static/" + strconv.FormatUint(dst, 10) }
func dynamicName(dst uint64) string { return "/routing/dynamic/" + strconv.FormatUint(dst, 10) }

// Route is the resolved next hop for a destination.
type Route struct {
	NextHop  uint64
	Endpoint string
}

// Resolver resolves next hops and maintains the dynamic route table held in
// the RIB. The ttlcache instance is a performance cache that proactively
// sweeps expired dynamic routes out of the RIB between lookups — the same
// library and pattern the teacher uses for its neighbour seqno dedup cache
// (impl/router.go's Router.SeqnoDedup) — but it never overrides the
// authoritative expiry check performed on every ResolveNextHop call.
type Resolver struct {
	rib   *rib.Rib
	sweep *ttlcache.Cache[uint64, struct{}]
	now   func() time.Time
}

// New builds a Resolver over an existing RIB. Call Close when the owning
// IPCP shuts down to stop the sweep cache's background goroutine.
func New(r *rib.Rib) *Resolver {
	sweep := ttlcache.New[uint64, struct{}]()
	res := &Resolver{rib: r, sweep: sweep, now: time.Now}
	sweep.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[uint64, struct{}]) {
		_ = res.RemoveDynamicRoute(item.Key())
	})
	go sweep.Start()
	return res
}

func (r *Resolver) Close() {
	r.sweep.Stop()
}

// AddStaticRoute installs or replaces a static route (spec.md §4.3:
// "static routes take precedence over dynamic routes of the same
// destination").
func (r *Resolver) AddStaticRoute(dst, nextHop uint64, endpoint string) error {
	name := staticName(dst)
	value := routeValue(nextHop, endpoint, 0, 0)
	if _, err := r.rib.Create(name, classStatic, value); err != nil {
		if _, uerr := r.rib.Update(name, value); uerr != nil {
			return fmt.Errorf("install static route: %w", uerr)
		}
	}
	return nil
}

func (r *Resolver) RemoveStaticRoute(dst uint64) {
	_, _ = r.rib.Delete(staticName(dst))
}

// AddDynamicRoute installs or refreshes a dynamic route, resetting
// created_at on re-add (spec.md §4.3: "idempotent... re-add as update,
// resetting created_at"). ttl of 0 means it never expires.
func (r *Resolver) AddDynamicRoute(dst, nextHop uint64, endpoint string, ttl time.Duration) error {
	name := dynamicName(dst)
	created := r.now()
	ttlSecs := int64(ttl / time.Second)
	value := routeValue(nextHop, endpoint, created.Unix(), ttlSecs)

	if _, err := r.rib.Create(name, classDynamic, value); err != nil {
		if _, uerr := r.rib.Update(name, value); uerr != nil {
			return fmt.Errorf("install dynamic route: %w", uerr)
		}
	}
	if ttl > 0 {
		r.sweep.Set(dst, struct{}{}, ttl)
	} else {
		r.sweep.Delete(dst)
	}
	return nil
}

// RemoveDynamicRoute is silent on absence (spec.md §4.3).
func (r *Resolver) RemoveDynamicRoute(dst uint64) error {
	_, err := r.rib.Delete(dynamicName(dst))
	if err != nil && err != rib.ErrNotFound {
		return err
	}
	r.sweep.Delete(dst)
	return nil
}

// ResolveNextHop implements the strict lookup order from spec.md §4.3:
// static, then unexpired dynamic, else ErrRouteNotFound. An expired
// dynamic route is removed before returning ErrRouteNotFound.
func (r *Resolver) ResolveNextHop(dst uint64) (Route, error) {
	if obj, ok := r.rib.Read(staticName(dst)); ok {
		return routeFromValue(obj.Value), nil
	}

	obj, ok := r.rib.Read(dynamicName(dst))
	if !ok {
		return Route{}, ErrRouteNotFound
	}
	if r.expired(obj.Value) {
		_ = r.RemoveDynamicRoute(dst)
		return Route{}, ErrRouteNotFound
	}
	return routeFromValue(obj.Value), nil
}

func (r *Resolver) expired(v rib.Value) bool {
	m, ok := v.AsMap()
	if !ok {
		return false
	}
	ttl, _ := m[keyTTL].AsInt()
	if ttl <= 0 {
		return false
	}
	created, _ := m[keyCreatedAt].AsInt()
	deadline := time.Unix(created, 0).Add(time.Duration(ttl) * time.Second)
	return r.now().After(deadline)
}

func routeValue(nextHop uint64, endpoint string, createdAt, ttlSecs int64) rib.Value {
	return rib.Map(map[string]rib.Value{
		keyNextHop:   rib.Int(int64(nextHop)),
		keyEndpoint:  rib.Str(endpoint),
		keyCreatedAt: rib.Int(createdAt),
		keyTTL:       rib.Int(ttlSecs),
	})
}

func routeFromValue(v rib.Value) Route {
	m, _ := v.AsMap()
	nh, _ := m[keyNextHop].AsInt()
	ep, _ := m[keyEndpoint].AsStr()
	return Route{NextHop: uint64(nh), Endpoint: ep}
}
