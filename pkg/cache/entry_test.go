package cache

import (
	"testing"
	"time"
)

func TestCacheEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"future", time.Now().Add(time.Minute), false},
		{"past", time.Now().Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &CacheEntry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	entry := &CacheEntry{Expires: time.Now().Add(-time.Second)}
	if ttl := entry.TTL(); ttl != 0 {
		t.Errorf("TTL() = %v, want 0 for expired entry", ttl)
	}

	entry = NewEntry([]byte("{}"), "application/json", 200, 30*time.Second)
	if ttl := entry.TTL(); ttl <= 29*time.Second || ttl > 30*time.Second {
		t.Errorf("TTL() = %v, want ~30s", ttl)
	}
}

func TestETag(t *testing.T) {
	a := ETag([]byte(`{"total":5}`))
	b := ETag([]byte(`{"total":5}`))
	c := ETag([]byte(`{"total":6}`))

	if a != b {
		t.Error("ETag should be stable for equal bodies")
	}
	if a == c {
		t.Error("ETag should differ for different bodies")
	}
	if a[0] != '"' || a[len(a)-1] != '"' {
		t.Errorf("ETag %s is not quoted", a)
	}
}
