package rediskey

import "fmt"

const TenantStatusPrefix = "tenant:status"

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTenantStatusKey returns "tenant:status:{tenantID}"
func BuildTenantStatusKey(tenantID string) string {
	return NamespaceKey(TenantStatusPrefix, tenantID)
}
