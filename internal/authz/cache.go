package authz

import (
	"strings"
	"sync"
	"time"

	"github.com/steveterryp/copov3/pkg/metrics"
)

const (
	// DefaultPermissionTTL bounds the staleness of cached permission decisions.
	DefaultPermissionTTL = 5 * time.Minute
	// DefaultMembershipTTL bounds the staleness of cached team-membership checks.
	DefaultMembershipTTL = 10 * time.Minute
	// DefaultCacheCapacity caps each cache map; the oldest entries are evicted
	// once the cap is reached.
	DefaultCacheCapacity = 10000
)

// CacheConfig describes tunable behaviour for the DecisionCache.
type CacheConfig struct {
	PermissionTTL time.Duration
	MembershipTTL time.Duration
	Capacity      int
	Clock         func() time.Time
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// DecisionCache memoizes permission decisions and team-membership checks with
// short TTLs. It is explicitly constructed and injected rather than held in
// package state, and guarded by a mutex for concurrent request handling.
type DecisionCache struct {
	mu sync.Mutex

	permissionTTL time.Duration
	membershipTTL time.Duration
	capacity      int
	now           func() time.Time

	permissions map[string]cacheEntry
	memberships map[string]cacheEntry
}

// NewDecisionCache constructs a DecisionCache applying defaults for unset options.
func NewDecisionCache(cfg CacheConfig) *DecisionCache {
	permTTL := cfg.PermissionTTL
	if permTTL <= 0 {
		permTTL = DefaultPermissionTTL
	}
	memberTTL := cfg.MembershipTTL
	if memberTTL <= 0 {
		memberTTL = DefaultMembershipTTL
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &DecisionCache{
		permissionTTL: permTTL,
		membershipTTL: memberTTL,
		capacity:      capacity,
		now:           clock,
		permissions:   make(map[string]cacheEntry),
		memberships:   make(map[string]cacheEntry),
	}
}

// PermissionKey builds the composite key for a permission decision.
func PermissionKey(userID string, resourceType ResourceType, resourceID, action string) string {
	return userID + ":" + string(resourceType) + ":" + resourceID + ":" + action
}

// MembershipKey builds the composite key for a team-membership check.
func MembershipKey(userID, teamID string) string {
	return userID + ":" + teamID
}

// GetPermission returns the cached decision for key when fresh, otherwise it
// invokes compute, stores the result with a new TTL, and returns it. Entries
// past their TTL are never returned.
func (c *DecisionCache) GetPermission(key string, compute func() (bool, error)) (bool, error) {
	return c.get(c.permissions, "permission", key, c.permissionTTL, compute)
}

// GetMembership mirrors GetPermission for the team-membership cache.
func (c *DecisionCache) GetMembership(key string, compute func() (bool, error)) (bool, error) {
	return c.get(c.memberships, "membership", key, c.membershipTTL, compute)
}

func (c *DecisionCache) get(table map[string]cacheEntry, name, key string, ttl time.Duration, compute func() (bool, error)) (bool, error) {
	c.mu.Lock()
	if entry, ok := table[key]; ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		metrics.PermissionCacheHits.WithLabelValues(name, "hit").Inc()
		return entry.value, nil
	}
	c.mu.Unlock()

	metrics.PermissionCacheHits.WithLabelValues(name, "miss").Inc()

	// Compute outside the lock; concurrent misses may recompute, which is
	// acceptable for a memoization cache.
	value, err := compute()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.evictIfFull(table)
	table[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	return value, nil
}

// evictIfFull removes expired entries first, then the soonest-to-expire entry
// if the table is still at capacity. Caller must hold the lock.
func (c *DecisionCache) evictIfFull(table map[string]cacheEntry) {
	if len(table) < c.capacity {
		return
	}

	now := c.now()
	for key, entry := range table {
		if !now.Before(entry.expiresAt) {
			delete(table, key)
		}
	}
	if len(table) < c.capacity {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range table {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(table, oldestKey)
	}
}

// Invalidate removes a single permission decision.
func (c *DecisionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.permissions, key)
}

// InvalidateUser drops every cached decision and membership for the user.
// Called whenever a user's role or team assignments change.
func (c *DecisionCache) InvalidateUser(userID string) {
	prefix := userID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.permissions {
		if strings.HasPrefix(key, prefix) {
			delete(c.permissions, key)
		}
	}
	for key := range c.memberships {
		if strings.HasPrefix(key, prefix) {
			delete(c.memberships, key)
		}
	}
}

// InvalidateResource drops every cached decision touching the resource.
// Called when a resource's ownership or team changes.
func (c *DecisionCache) InvalidateResource(resourceType ResourceType, resourceID string) {
	fragment := ":" + string(resourceType) + ":" + resourceID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.permissions {
		if strings.Contains(key, fragment) {
			delete(c.permissions, key)
		}
	}
}

// InvalidateTeam drops every cached membership for the team.
func (c *DecisionCache) InvalidateTeam(teamID string) {
	suffix := ":" + teamID

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.memberships {
		if strings.HasSuffix(key, suffix) {
			delete(c.memberships, key)
		}
	}
}
