package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type brokenKV struct{}

func (brokenKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("kv down")
}
func (brokenKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("kv down")
}
func (brokenKV) Delete(ctx context.Context, key string) error { return errors.New("kv down") }

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What is our Q3 pipeline?", "what is our q3 pipeline"},
		{"  what   is our q3   pipeline  ", "what is our q3 pipeline"},
		{"WHAT IS OUR Q3 PIPELINE?!", "what is our q3 pipeline"},
		{"hello.", "hello"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey_VariantsCollide(t *testing.T) {
	a := Key("What is our Q3 pipeline?", "tenant-1")
	b := Key("  what   is our q3 pipeline ", "tenant-1")
	if a != b {
		t.Errorf("case/whitespace variants should share a key: %s != %s", a, b)
	}
}

func TestKey_TenantScoped(t *testing.T) {
	a := Key("same question", "tenant-1")
	b := Key("same question", "tenant-2")
	if a == b {
		t.Error("keys from different tenants must differ")
	}
}

func TestResponseCache_StoreAndLookup(t *testing.T) {
	c := NewResponseCache(NewMemoryKV(0), time.Minute, nil)
	ctx := context.Background()

	c.Store(ctx, "What is our Q3 pipeline?", "Your pipeline is $1.2M.", "tenant-1",
		[]string{"search_crm"}, map[string]any{"model": "gpt-4o"})

	entry, ok := c.Lookup(ctx, "what is our q3 pipeline", "tenant-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.Response != "Your pipeline is $1.2M." {
		t.Errorf("response = %q", entry.Response)
	}
	if len(entry.ToolsUsed) != 1 || entry.ToolsUsed[0] != "search_crm" {
		t.Errorf("toolsUsed = %v", entry.ToolsUsed)
	}

	if _, ok := c.Lookup(ctx, "what is our q3 pipeline", "tenant-2"); ok {
		t.Error("other tenant must not see the entry")
	}
}

func TestResponseCache_BrokenKVDegradesToMiss(t *testing.T) {
	c := NewResponseCache(brokenKV{}, time.Minute, nil)
	ctx := context.Background()

	// Store must not panic or propagate.
	c.Store(ctx, "q", "r", "tenant", nil, nil)

	if _, ok := c.Lookup(ctx, "q", "tenant"); ok {
		t.Error("broken KV should read as miss")
	}
}

func TestMemoryKV_TTLExpiry(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()

	if err := kv.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("expected miss after expiry")
	}
}

func TestMemoryKV_MaxSizePrunes(t *testing.T) {
	kv := NewMemoryKV(2)
	ctx := context.Background()

	_ = kv.Set(ctx, "a", []byte("1"), time.Minute)
	_ = kv.Set(ctx, "b", []byte("2"), 2*time.Minute)
	_ = kv.Set(ctx, "c", []byte("3"), 3*time.Minute)

	count := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, _ := kv.Get(ctx, k); ok {
			count++
		}
	}
	if count != 2 {
		t.Errorf("kept %d entries, want 2", count)
	}
	// The soonest-expiring entry is the one evicted.
	if _, ok, _ := kv.Get(ctx, "a"); ok {
		t.Error("oldest-expiring entry should have been pruned")
	}
}

func TestMemoryKV_Delete(t *testing.T) {
	kv := NewMemoryKV(0)
	ctx := context.Background()
	_ = kv.Set(ctx, "k", []byte("v"), 0)
	_ = kv.Delete(ctx, "k")
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}
