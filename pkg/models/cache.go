package models

// CacheEntry is a previously generated assistant response keyed by normalized
// query text and tenant. TTL is managed by the backing key-value store.
type CacheEntry struct {
	Query     string         `json:"query"`
	TenantID  string         `json:"tenant_id"`
	Response  string         `json:"response"`
	ToolsUsed []string       `json:"tools_used,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
