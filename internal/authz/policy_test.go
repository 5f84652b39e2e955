package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveterryp/copov3/internal/models"
)

func TestExpandRoleIsTransitive(t *testing.T) {
	require.Equal(t, []models.Role{models.RoleUser}, ExpandRole(models.RoleUser))
	require.Equal(t, []models.Role{models.RoleAdmin, models.RoleUser}, ExpandRole(models.RoleAdmin))
	require.Equal(t,
		[]models.Role{models.RoleAdmin, models.RoleSuperAdmin, models.RoleUser},
		ExpandRole(models.RoleSuperAdmin))
}

func TestRoleOrderIsMonotonic(t *testing.T) {
	require.True(t, models.RoleSuperAdmin.AtLeast(models.RoleAdmin))
	require.True(t, models.RoleSuperAdmin.AtLeast(models.RoleUser))
	require.True(t, models.RoleAdmin.AtLeast(models.RoleUser))
	require.True(t, models.RoleUser.AtLeast(models.RoleUser))

	require.False(t, models.RoleUser.AtLeast(models.RoleAdmin))
	require.False(t, models.RoleAdmin.AtLeast(models.RoleSuperAdmin))
}

func TestHasRouteAccessHonoursHierarchy(t *testing.T) {
	policy := NewPolicy(DefaultRoutes)

	// Admin inherits user routes.
	require.True(t, policy.HasRouteAccess(models.RoleAdmin, "/api/povs"))
	require.True(t, policy.HasRouteAccess(models.RoleSuperAdmin, "/api/povs"))
	require.True(t, policy.HasRouteAccess(models.RoleUser, "/api/povs"))

	// User cannot reach admin routes.
	require.False(t, policy.HasRouteAccess(models.RoleUser, "/api/teams"))
	require.False(t, policy.HasRouteAccess(models.RoleUser, "/api/audit"))

	// Only super admin reaches the rule admin surface.
	require.False(t, policy.HasRouteAccess(models.RoleAdmin, "/api/permissions"))
	require.True(t, policy.HasRouteAccess(models.RoleSuperAdmin, "/api/permissions"))

	// Unknown routes deny by default.
	require.False(t, policy.HasRouteAccess(models.RoleSuperAdmin, "/api/unknown"))
}

func TestGetRolePermissionsGrowsUpTheHierarchy(t *testing.T) {
	policy := NewPolicy(DefaultRoutes)

	userPerms := policy.GetRolePermissions(models.RoleUser)
	adminPerms := policy.GetRolePermissions(models.RoleAdmin)
	superPerms := policy.GetRolePermissions(models.RoleSuperAdmin)

	// Everything a role grants, the roles above it grant too.
	require.Subset(t, adminPerms, userPerms)
	require.Subset(t, superPerms, adminPerms)

	require.Contains(t, userPerms, "pov:view")
	require.NotContains(t, userPerms, "team:manage")
	require.Contains(t, adminPerms, "team:manage")
	require.NotContains(t, adminPerms, "permission:manage")
	require.Contains(t, superPerms, "permission:manage")
}

func TestHasPermissionsRequiresEveryEntry(t *testing.T) {
	policy := NewPolicy(DefaultRoutes)

	require.True(t, policy.HasPermissions(models.RoleAdmin, []string{"pov:view", "team:manage"}))
	require.False(t, policy.HasPermissions(models.RoleAdmin, []string{"pov:view", "permission:manage"}))
	require.True(t, policy.HasPermissions(models.RoleUser, nil))
}
