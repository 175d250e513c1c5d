package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type cachedThing struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func newTestHelper(t *testing.T) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, "test:"), mr
}

func TestCacheSetGet(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	want := cachedThing{ID: 1, Name: "algebra"}
	if err := helper.Set(ctx, "thing:1", want, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got cachedThing
	if err := helper.Get(ctx, "thing:1", &got); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCacheGetMissing(t *testing.T) {
	helper, _ := newTestHelper(t)

	var got cachedThing
	err := helper.Get(context.Background(), "absent", &got)
	if !errors.Is(err, ErrCacheNotFound) {
		t.Fatalf("err = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheDelete(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if err := helper.Set(ctx, key, cachedThing{ID: 1}, time.Minute); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}
	if err := helper.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		if ok, _ := helper.Exists(ctx, key); ok {
			t.Errorf("key %s survived delete", key)
		}
	}
}

func TestCacheInvalidatePattern(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	keys := []string{"assessment:1", "assessment:2", "question:1"}
	for _, key := range keys {
		if err := helper.Set(ctx, key, cachedThing{ID: 1}, time.Minute); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}

	if err := helper.InvalidatePattern(ctx, "assessment:*"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	for _, key := range []string{"assessment:1", "assessment:2"} {
		if ok, _ := helper.Exists(ctx, key); ok {
			t.Errorf("key %s survived pattern invalidation", key)
		}
	}
	if ok, _ := helper.Exists(ctx, "question:1"); !ok {
		t.Error("unrelated key was invalidated")
	}
}

func TestCacheOrExecute(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	t.Run("miss executes and returns", func(t *testing.T) {
		calls := 0
		var got cachedThing
		err := helper.CacheOrExecute(ctx, "miss", &got, time.Minute, func() (interface{}, error) {
			calls++
			return cachedThing{ID: 7, Name: "geometry"}, nil
		})
		if err != nil {
			t.Fatalf("CacheOrExecute failed: %v", err)
		}
		if calls != 1 || got.ID != 7 {
			t.Errorf("calls=%d got=%+v", calls, got)
		}
	})

	t.Run("hit skips the fetch", func(t *testing.T) {
		if err := helper.Set(ctx, "hit", cachedThing{ID: 3}, time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		var got cachedThing
		err := helper.CacheOrExecute(ctx, "hit", &got, time.Minute, func() (interface{}, error) {
			t.Fatal("fetch ran on a cache hit")
			return nil, nil
		})
		if err != nil {
			t.Fatalf("CacheOrExecute failed: %v", err)
		}
		if got.ID != 3 {
			t.Errorf("got %+v, want the cached value", got)
		}
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		wantErr := errors.New("boom")
		var got cachedThing
		err := helper.CacheOrExecute(ctx, "err", &got, time.Minute, func() (interface{}, error) {
			return nil, wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("err = %v, want fetch error", err)
		}
	})
}

func TestCacheNilClientDegrades(t *testing.T) {
	helper := NewCacheHelper(nil, "test:")
	ctx := context.Background()

	if err := helper.Set(ctx, "k", cachedThing{}, time.Minute); err != nil {
		t.Errorf("set on nil client: %v, want graceful nil", err)
	}
	var got cachedThing
	if err := helper.Get(ctx, "k", &got); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("get on nil client: %v, want ErrCacheNotAvailable", err)
	}

	// CacheOrExecute still serves the fetched value.
	err := helper.CacheOrExecute(ctx, "k", &got, time.Minute, func() (interface{}, error) {
		return cachedThing{ID: 5}, nil
	})
	if err != nil || got.ID != 5 {
		t.Errorf("CacheOrExecute on nil client: err=%v got=%+v", err, got)
	}
}
