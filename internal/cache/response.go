package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
)

// DefaultTTL is how long cached responses stay valid.
const DefaultTTL = time.Hour

// ResponseCache looks up and stores full assistant responses keyed by
// normalized query text and tenant. Writes are keyed by tenant so no
// cross-tenant interference is possible.
type ResponseCache struct {
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewResponseCache creates a response cache over kv. A ttl <= 0 falls back to
// DefaultTTL.
func NewResponseCache(kv KV, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Lookup returns the cached entry for query and tenant, if any. Store errors
// degrade to a miss: a broken cache must never fail a turn.
func (c *ResponseCache) Lookup(ctx context.Context, query, tenantID string) (*models.CacheEntry, bool) {
	data, ok, err := c.kv.Get(ctx, Key(query, tenantID))
	if err != nil {
		c.logger.Warn("cache lookup failed", "tenant_id", tenantID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", "tenant_id", tenantID, "error", err)
		return nil, false
	}
	return &entry, true
}

// Store saves a freshly generated response. Errors are logged and swallowed;
// the cache is an optimization, never a dependency.
func (c *ResponseCache) Store(ctx context.Context, query, response, tenantID string, toolsUsed []string, metadata map[string]any) {
	entry := models.CacheEntry{
		Query:     Normalize(query),
		TenantID:  tenantID,
		Response:  response,
		ToolsUsed: toolsUsed,
		Metadata:  metadata,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache entry encode failed", "tenant_id", tenantID, "error", err)
		return
	}
	if err := c.kv.Set(ctx, Key(query, tenantID), data, c.ttl); err != nil {
		c.logger.Warn("cache store failed", "tenant_id", tenantID, "error", err)
	}
}

// Key builds the tenant-scoped cache key for a query.
func Key(query, tenantID string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return fmt.Sprintf("resp:%s:%s", tenantID, hex.EncodeToString(sum[:]))
}

// Normalize canonicalizes query text so trivially different phrasings share a
// key: lowercase, trimmed, internal whitespace collapsed, trailing punctuation
// stripped.
func Normalize(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.Join(strings.Fields(q), " ")
	q = strings.TrimRight(q, ".!? ")
	return q
}
