// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"slices"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is the coarse authorization level of a user.
type Role string

const (
	// RoleAdmin holds every permission.
	RoleAdmin Role = "admin"

	// RoleManager runs day-to-day business and can create backups.
	RoleManager Role = "manager"

	// RoleUser edits customers, invoices, and articles.
	RoleUser Role = "user"

	// RoleReadOnly can view records and reports only.
	RoleReadOnly Role = "readonly"

	// RoleAuditor is read-only plus audit trail access and report export.
	RoleAuditor Role = "auditor"
)

// AllRoles lists every role in display order.
var AllRoles = []Role{RoleAdmin, RoleManager, RoleUser, RoleReadOnly, RoleAuditor}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the five known roles.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// =============================================================================
// PERMISSIONS
// =============================================================================

// Permission is a single capability checked by the surrounding application.
type Permission string

const (
	PermCustomersRead   Permission = "customers.read"
	PermCustomersWrite  Permission = "customers.write"
	PermCustomersDelete Permission = "customers.delete"

	PermInvoicesRead   Permission = "invoices.read"
	PermInvoicesWrite  Permission = "invoices.write"
	PermInvoicesDelete Permission = "invoices.delete"
	PermInvoicesSend   Permission = "invoices.send"

	PermArticlesRead   Permission = "articles.read"
	PermArticlesWrite  Permission = "articles.write"
	PermArticlesDelete Permission = "articles.delete"

	PermSystemSettings Permission = "system.settings"
	PermSystemBackup   Permission = "system.backup"
	PermSystemUsers    Permission = "system.users"
	PermSystemAudit    Permission = "system.audit"

	PermReportsView   Permission = "reports.view"
	PermReportsExport Permission = "reports.export"

	PermFinanceView Permission = "finance.view"
	PermFinanceEdit Permission = "finance.edit"
)

// AllPermissions is the full permission universe.
var AllPermissions = []Permission{
	PermCustomersRead, PermCustomersWrite, PermCustomersDelete,
	PermInvoicesRead, PermInvoicesWrite, PermInvoicesDelete, PermInvoicesSend,
	PermArticlesRead, PermArticlesWrite, PermArticlesDelete,
	PermSystemSettings, PermSystemBackup, PermSystemUsers, PermSystemAudit,
	PermReportsView, PermReportsExport,
	PermFinanceView, PermFinanceEdit,
}

// ParsePermission validates a permission name.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !slices.Contains(AllPermissions, p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	return p, nil
}

// =============================================================================
// ROLE PERMISSIONS MATRIX
// =============================================================================

var readOnlyPermissions = []Permission{
	PermCustomersRead,
	PermInvoicesRead,
	PermArticlesRead,
	PermReportsView,
	PermFinanceView,
}

// rolePermissionTable is the declarative source of the matrix. Admin maps to
// the whole universe.
var rolePermissionTable = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleManager: {
		PermCustomersRead, PermCustomersWrite,
		PermInvoicesRead, PermInvoicesWrite, PermInvoicesSend,
		PermArticlesRead, PermArticlesWrite,
		PermReportsView, PermReportsExport,
		PermFinanceView, PermFinanceEdit,
		PermSystemBackup,
	},
	RoleUser: {
		PermCustomersRead, PermCustomersWrite,
		PermInvoicesRead, PermInvoicesWrite,
		PermArticlesRead, PermArticlesWrite,
		PermReportsView,
		PermFinanceView,
	},
	RoleReadOnly: readOnlyPermissions,
	RoleAuditor:  append(slices.Clone(readOnlyPermissions), PermReportsExport, PermSystemAudit),
}

// rolePermissions is the lookup form of rolePermissionTable.
var rolePermissions = buildRolePermissions(rolePermissionTable)

// buildRolePermissions indexes the table and panics if a role is missing or a
// permission outside AllPermissions is referenced.
func buildRolePermissions(table map[Role][]Permission) map[Role]map[Permission]struct{} {
	if err := checkRoleTable(table); err != nil {
		panic(err)
	}
	out := make(map[Role]map[Permission]struct{}, len(table))
	for role, perms := range table {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		out[role] = set
	}
	return out
}

func checkRoleTable(table map[Role][]Permission) error {
	for _, role := range AllRoles {
		if _, ok := table[role]; !ok {
			return fmt.Errorf("role %q has no permission entry", role)
		}
	}
	if len(table) != len(AllRoles) {
		return fmt.Errorf("permission table has %d roles, want %d", len(table), len(AllRoles))
	}
	for role, perms := range table {
		for _, p := range perms {
			if !slices.Contains(AllPermissions, p) {
				return fmt.Errorf("role %q references unknown permission %q", role, p)
			}
		}
	}
	if len(table[RoleAdmin]) != len(AllPermissions) {
		return fmt.Errorf("admin must hold all %d permissions", len(AllPermissions))
	}
	return nil
}

// RoleHasPermission consults only the static matrix.
func RoleHasPermission(role Role, perm Permission) bool {
	_, ok := rolePermissions[role][perm]
	return ok
}

// RolePermissions returns the role's default permissions in universe order.
func RolePermissions(role Role) []Permission {
	var out []Permission
	for _, p := range AllPermissions {
		if RoleHasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}
