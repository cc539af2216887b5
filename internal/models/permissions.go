package models

// Permissions carried in access-token claims.
const (
	PermissionWalletRead      = "wallet:read"
	PermissionWalletWrite     = "wallet:write"
	PermissionTransactionRead = "transaction:read"
	PermissionVTUPurchase     = "vtu:purchase"
	PermissionChangePassword  = "user:change-password"

	// Ledger corrections, account status and the reconciliation sweep.
	PermissionReadAdmin  = "admin:read"
	PermissionWriteAdmin = "admin:write"
)

var customerPermissions = []string{
	PermissionWalletRead,
	PermissionWalletWrite,
	PermissionTransactionRead,
	PermissionVTUPurchase,
	PermissionChangePassword,
}

var rolePermissions = map[string][]string{
	RoleUser:  customerPermissions,
	RoleAdmin: append([]string{PermissionReadAdmin, PermissionWriteAdmin}, customerPermissions...),
}

// GetDefaultPermissions returns the permissions granted to role. Unknown
// roles get none.
func GetDefaultPermissions(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
