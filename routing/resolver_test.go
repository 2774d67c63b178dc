package routing

import (
	"testing"
	"time"

	"github.com/arinet/corina/rib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	return New(rib.New(1000))
}

func TestResolveNextHopNotFound(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	_, err := r.ResolveNextHop(42)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

// Invariant 7: static routes take precedence over dynamic routes to the
// same destination.
func TestStaticRouteTakesPrecedence(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	require.NoError(t, r.AddDynamicRoute(7, 100, "10.0.0.1:9000", time.Minute))
	require.NoError(t, r.AddStaticRoute(7, 200, "10.0.0.2:9000"))

	route, err := r.ResolveNextHop(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), route.NextHop)
	assert.Equal(t, "10.0.0.2:9000", route.Endpoint)
}

func TestDynamicRouteUsedWhenNoStatic(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	require.NoError(t, r.AddDynamicRoute(9, 300, "10.0.0.9:9000", time.Minute))

	route, err := r.ResolveNextHop(9)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), route.NextHop)
}

// Invariant 8: dynamic routes expire, static routes never do.
func TestDynamicRouteExpires(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	base := time.Now()
	r.now = func() time.Time { return base }

	require.NoError(t, r.AddDynamicRoute(11, 400, "10.0.0.11:9000", 10*time.Second))

	r.now = func() time.Time { return base.Add(20 * time.Second) }
	_, err := r.ResolveNextHop(11)
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, ok := r.rib.Read(dynamicName(11))
	assert.False(t, ok, "expired dynamic route should be removed from the rib")
}

func TestStaticRouteNeverExpires(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	base := time.Now()
	r.now = func() time.Time { return base }
	require.NoError(t, r.AddStaticRoute(13, 500, "10.0.0.13:9000"))

	r.now = func() time.Time { return base.Add(365 * 24 * time.Hour) }
	route, err := r.ResolveNextHop(13)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), route.NextHop)
}

func TestAddDynamicRouteResetsCreatedAtOnReAdd(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	base := time.Now()
	r.now = func() time.Time { return base }
	require.NoError(t, r.AddDynamicRoute(21, 600, "10.0.0.21:9000", 10*time.Second))

	r.now = func() time.Time { return base.Add(8 * time.Second) }
	require.NoError(t, r.AddDynamicRoute(21, 600, "10.0.0.21:9000", 10*time.Second))

	r.now = func() time.Time { return base.Add(15 * time.Second) }
	_, err := r.ResolveNextHop(21)
	assert.NoError(t, err, "re-adding should reset the expiry window")
}

func TestRemoveDynamicRouteSilentOnAbsence(t *testing.T) {
	r := newTestResolver()
	defer r.Close()
	assert.NoError(t, r.RemoveDynamicRoute(999))
}

func TestRemoveStaticRoute(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	require.NoError(t, r.AddStaticRoute(5, 1, "a:1"))
	r.RemoveStaticRoute(5)
	_, err := r.ResolveNextHop(5)
	assert.ErrorIs(t, err, ErrRouteNotFound)
}
