package config

import "strings"

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAccess                      // Access token required
	SecurityAdmin                       // Access token with the admin role
)

// EndpointSecurityConfig maps gRPC methods and HTTP route templates to their
// required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Health and discovery - Public
	"/grpc.health.v1.Health/Check":                                   SecurityPublic,
	"/grpc.health.v1.Health/Watch":                                   SecurityPublic,
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo":      SecurityPublic,
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo": SecurityPublic,
	"GET /healthz":                                                   SecurityPublic,

	// LedgerService - Access Protected
	"/cark.v1.LedgerService/GetBalance":       SecurityAccess,
	"/cark.v1.LedgerService/ListTransactions": SecurityAccess,
	"/cark.v1.LedgerService/GetLedgerSummary": SecurityAccess,

	// Admin wallet operations
	"POST /api/v1/admin/wallets/{user_id}/top-up": SecurityAdmin,
}

// GetSecurityLevel returns the security level for a given method
func GetSecurityLevel(method string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[method]; exists {
		return level
	}
	if strings.Contains(method, "/api/v1/admin/") {
		return SecurityAdmin
	}
	// Default to access for unknown endpoints
	return SecurityAccess
}
