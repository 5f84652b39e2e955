package authz

import (
	"sort"

	"github.com/steveterryp/copov3/internal/models"
)

// RoleHierarchy maps each role to the roles whose capabilities it inherits.
// Inheritance is transitive: super_admin reaches everything admin and user can.
var RoleHierarchy = map[models.Role][]models.Role{
	models.RoleSuperAdmin: {models.RoleAdmin, models.RoleUser},
	models.RoleAdmin:      {models.RoleUser},
	models.RoleUser:       {},
}

// Route declares the roles and permission strings a route requires. The
// table is a pure declarative layer consulted by route guards independent of
// the dynamic evaluator.
type Route struct {
	Path        string
	Roles       []models.Role
	Permissions []string
}

// Policy holds the declared route table.
type Policy struct {
	routes []Route
}

// NewPolicy constructs a Policy from the supplied route declarations.
func NewPolicy(routes []Route) *Policy {
	return &Policy{routes: routes}
}

// DefaultRoutes is the application's route policy table.
var DefaultRoutes = []Route{
	{Path: "/api/povs", Roles: []models.Role{models.RoleUser}, Permissions: []string{"pov:view", "pov:create"}},
	{Path: "/api/povs/:id", Roles: []models.Role{models.RoleUser}, Permissions: []string{"pov:view", "pov:edit"}},
	{Path: "/api/povs/:id/status", Roles: []models.Role{models.RoleUser}, Permissions: []string{"pov:transition"}},
	{Path: "/api/teams", Roles: []models.Role{models.RoleAdmin}, Permissions: []string{"team:view", "team:manage"}},
	{Path: "/api/users", Roles: []models.Role{models.RoleAdmin}, Permissions: []string{"user:view", "user:edit"}},
	{Path: "/api/permissions", Roles: []models.Role{models.RoleSuperAdmin}, Permissions: []string{"permission:manage"}},
	{Path: "/api/analytics", Roles: []models.Role{models.RoleAdmin}, Permissions: []string{"analytics:view"}},
	{Path: "/api/settings", Roles: []models.Role{models.RoleAdmin}, Permissions: []string{"settings:view"}},
	{Path: "/api/audit", Roles: []models.Role{models.RoleAdmin}, Permissions: []string{"audit:view"}},
}

// ExpandRole returns the role itself plus every role it transitively inherits.
func ExpandRole(role models.Role) []models.Role {
	seen := map[models.Role]struct{}{}

	var visit func(models.Role)
	visit = func(r models.Role) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		for _, inherited := range RoleHierarchy[r] {
			visit(inherited)
		}
	}
	visit(role)

	expanded := make([]models.Role, 0, len(seen))
	for r := range seen {
		expanded = append(expanded, r)
	}
	sort.Slice(expanded, func(i, j int) bool { return expanded[i] < expanded[j] })
	return expanded
}

// HasRouteAccess reports whether any role in the expanded hierarchy appears
// in the route's required-roles list.
func (p *Policy) HasRouteAccess(role models.Role, path string) bool {
	route, ok := p.find(path)
	if !ok {
		return false
	}

	for _, expanded := range ExpandRole(role) {
		for _, required := range route.Roles {
			if expanded == required {
				return true
			}
		}
	}
	return false
}

// HasPermissions reports whether every requested permission string is
// reachable by the role's expanded hierarchy across all declared routes.
func (p *Policy) HasPermissions(role models.Role, permissions []string) bool {
	granted := p.permissionSet(role)
	for _, perm := range permissions {
		if _, ok := granted[perm]; !ok {
			return false
		}
	}
	return true
}

// GetRolePermissions returns the deduplicated permission strings reachable by
// the role, sorted for stable output.
func (p *Policy) GetRolePermissions(role models.Role) []string {
	granted := p.permissionSet(role)

	permissions := make([]string, 0, len(granted))
	for perm := range granted {
		permissions = append(permissions, perm)
	}
	sort.Strings(permissions)
	return permissions
}

func (p *Policy) permissionSet(role models.Role) map[string]struct{} {
	expanded := ExpandRole(role)
	granted := map[string]struct{}{}

	for _, route := range p.routes {
		for _, required := range route.Roles {
			if !containsRole(expanded, required) {
				continue
			}
			for _, perm := range route.Permissions {
				granted[perm] = struct{}{}
			}
			break
		}
	}
	return granted
}

func (p *Policy) find(path string) (Route, bool) {
	for _, route := range p.routes {
		if route.Path == path {
			return route, true
		}
	}
	return Route{}, false
}

func containsRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
