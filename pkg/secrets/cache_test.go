package secrets

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache_PutAndGet(t *testing.T) {
	cache := NewCache[map[string]string](2 * time.Second)
	key := "kirogate|credentials"

	// should miss initially
	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Put(key, map[string]string{"refresh_token": "rt-123"})

	// immediate hit
	if creds, ok := cache.Get(key); !ok {
		t.Fatal("expected cache hit")
	} else if creds["refresh_token"] != "rt-123" {
		t.Errorf("expected refresh_token=rt-123, got %s", creds["refresh_token"])
	}
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[string](100 * time.Millisecond)
	cache.Put("token", "abc")

	time.Sleep(150 * time.Millisecond)

	if _, ok := cache.Get("token"); ok {
		t.Fatal("expected expired cache entry")
	}
}

func TestCache_PutTTL_OverridesDefault(t *testing.T) {
	cache := NewCache[string](50 * time.Millisecond)
	cache.PutTTL("token", "abc", 5*time.Second)

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get("token"); !ok {
		t.Fatal("expected entry with explicit TTL to survive default TTL")
	}
}

func TestCache_Bust(t *testing.T) {
	cache := NewCache[string](5 * time.Second)
	cache.Put("token", "abc")

	cache.Bust("token")
	if _, ok := cache.Get("token"); ok {
		t.Fatal("expected cache miss after bust")
	}
}

func TestCache_Len(t *testing.T) {
	cache := NewCache[int](time.Minute)
	for i := 0; i < 5; i++ {
		cache.Put(fmt.Sprintf("k%d", i), i)
	}
	if got := cache.Len(); got != 5 {
		t.Errorf("expected 5 entries, got %d", got)
	}
}

func TestCache_StartCleanerRemovesExpired(t *testing.T) {
	cache := NewCache[string](20 * time.Millisecond)
	cache.Put("token", "abc")

	stop := make(chan struct{})
	defer close(stop)
	go cache.StartCleaner(10*time.Millisecond, stop)

	deadline := time.After(500 * time.Millisecond)
	for cache.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("expected cleaner to drop the expired entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache[int](2 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%10)
			cache.Put(key, n)
			cache.Get(key)
		}(i)
	}
	wg.Wait()
}
