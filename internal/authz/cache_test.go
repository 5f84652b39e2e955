package authz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTestCompute = errors.New("compute failed")

func newTestCache(clock *time.Time, capacity int) *DecisionCache {
	return NewDecisionCache(CacheConfig{
		PermissionTTL: 5 * time.Minute,
		MembershipTTL: 10 * time.Minute,
		Capacity:      capacity,
		Clock:         func() time.Time { return *clock },
	})
}

func TestGetPermissionMemoizesWithinTTL(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	calls := 0
	compute := func() (bool, error) {
		calls++
		return true, nil
	}

	key := PermissionKey("user-1", ResourcePoV, "pov-1", "view")

	allowed, err := cache.GetPermission(key, compute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, calls)

	allowed, err = cache.GetPermission(key, compute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, calls, "fresh entry must not recompute")

	current = current.Add(5*time.Minute + time.Second)

	allowed, err = cache.GetPermission(key, compute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 2, calls, "expired entry must recompute")
}

func TestMembershipUsesLongerTTL(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	calls := 0
	compute := func() (bool, error) {
		calls++
		return true, nil
	}

	key := MembershipKey("user-1", "team-1")
	_, err := cache.GetMembership(key, compute)
	require.NoError(t, err)

	current = current.Add(9 * time.Minute)
	_, err = cache.GetMembership(key, compute)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	current = current.Add(2 * time.Minute)
	_, err = cache.GetMembership(key, compute)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	calls := 0
	failing := func() (bool, error) {
		calls++
		return false, errTestCompute
	}

	key := PermissionKey("user-1", ResourcePoV, "pov-1", "view")

	_, err := cache.GetPermission(key, failing)
	require.ErrorIs(t, err, errTestCompute)

	_, err = cache.GetPermission(key, failing)
	require.ErrorIs(t, err, errTestCompute)
	require.Equal(t, 2, calls)
}

func TestInvalidateUserDropsBothCaches(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	permCalls, memberCalls := 0, 0

	permKey := PermissionKey("user-1", ResourcePoV, "pov-1", "view")
	memberKey := MembershipKey("user-1", "team-1")
	otherKey := PermissionKey("user-2", ResourcePoV, "pov-1", "view")

	_, _ = cache.GetPermission(permKey, func() (bool, error) { permCalls++; return true, nil })
	_, _ = cache.GetMembership(memberKey, func() (bool, error) { memberCalls++; return true, nil })
	_, _ = cache.GetPermission(otherKey, func() (bool, error) { return false, nil })

	cache.InvalidateUser("user-1")

	_, _ = cache.GetPermission(permKey, func() (bool, error) { permCalls++; return true, nil })
	_, _ = cache.GetMembership(memberKey, func() (bool, error) { memberCalls++; return true, nil })
	require.Equal(t, 2, permCalls)
	require.Equal(t, 2, memberCalls)

	// An unrelated user's entry survives.
	calls := 0
	_, _ = cache.GetPermission(otherKey, func() (bool, error) { calls++; return false, nil })
	require.Zero(t, calls)
}

func TestInvalidateResourceDropsMatchingDecisions(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	target := PermissionKey("user-1", ResourcePoV, "pov-1", "view")
	other := PermissionKey("user-1", ResourcePoV, "pov-2", "view")

	_, _ = cache.GetPermission(target, func() (bool, error) { return true, nil })
	_, _ = cache.GetPermission(other, func() (bool, error) { return true, nil })

	cache.InvalidateResource(ResourcePoV, "pov-1")

	calls := 0
	_, _ = cache.GetPermission(target, func() (bool, error) { calls++; return true, nil })
	require.Equal(t, 1, calls)

	calls = 0
	_, _ = cache.GetPermission(other, func() (bool, error) { calls++; return true, nil })
	require.Zero(t, calls)
}

func TestInvalidateTeamDropsMemberships(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 100)

	key := MembershipKey("user-1", "team-1")
	other := MembershipKey("user-1", "team-2")

	_, _ = cache.GetMembership(key, func() (bool, error) { return true, nil })
	_, _ = cache.GetMembership(other, func() (bool, error) { return true, nil })

	cache.InvalidateTeam("team-1")

	calls := 0
	_, _ = cache.GetMembership(key, func() (bool, error) { calls++; return true, nil })
	require.Equal(t, 1, calls)

	calls = 0
	_, _ = cache.GetMembership(other, func() (bool, error) { calls++; return true, nil })
	require.Zero(t, calls)
}

func TestCapacityEvictsBeforeInsert(t *testing.T) {
	current := time.Now()
	cache := newTestCache(&current, 2)

	keyA := PermissionKey("a", ResourcePoV, "1", "view")
	keyB := PermissionKey("b", ResourcePoV, "1", "view")
	keyC := PermissionKey("c", ResourcePoV, "1", "view")

	_, _ = cache.GetPermission(keyA, func() (bool, error) { return true, nil })
	current = current.Add(time.Second)
	_, _ = cache.GetPermission(keyB, func() (bool, error) { return true, nil })
	current = current.Add(time.Second)
	_, _ = cache.GetPermission(keyC, func() (bool, error) { return true, nil })

	require.LessOrEqual(t, len(cache.permissions), 2)

	// keyA expires soonest, so it is the evicted entry.
	calls := 0
	_, _ = cache.GetPermission(keyA, func() (bool, error) { calls++; return true, nil })
	require.Equal(t, 1, calls)
}
