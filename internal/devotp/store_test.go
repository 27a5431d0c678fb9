package devotp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"authgate/internal/platform/clock"
)

var (
	t0      = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	signup  = Key{UserID: "u1", Factor: "SMS", Context: "SIGNUP"}
	signupE = Key{UserID: "u1", Factor: "EMAIL", Context: "SIGNUP"}
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(clock.NewFake(t0))
	ctx := context.Background()

	store.Put(ctx, signup, "123456", t0.Add(5*time.Minute))

	otp, ok := store.Get(ctx, signup)
	if !ok {
		t.Fatal("Get should return OTP after Put")
	}
	if otp != "123456" {
		t.Errorf("otp = %q, want %q", otp, "123456")
	}
	if _, ok := store.Get(ctx, signupE); ok {
		t.Error("a different factor of the same context must not share the code")
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore(clock.NewFake(t0))
	ctx := context.Background()

	store.Put(ctx, signup, "111111", t0.Add(time.Minute))
	store.Put(ctx, signup, "222222", t0.Add(time.Minute))

	if otp, _ := store.Get(ctx, signup); otp != "222222" {
		t.Errorf("otp = %q, want the latest code", otp)
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenMissing(t *testing.T) {
	store := NewMemoryStore(nil)
	otp, ok := store.Get(context.Background(), Key{UserID: "nobody"})
	if ok {
		t.Error("Get should return false when OTP is missing")
	}
	if otp != "" {
		t.Errorf("otp = %q, want empty string", otp)
	}
}

func TestMemoryStore_Get_ExpiresAndEvicts(t *testing.T) {
	clk := clock.NewFake(t0)
	store := NewMemoryStore(clk)
	ctx := context.Background()

	store.Put(ctx, signup, "123456", t0.Add(time.Minute))
	clk.Advance(time.Minute)

	if _, ok := store.Get(ctx, signup); ok {
		t.Fatal("Get should return false once expiresAt is reached")
	}
	store.mu.RLock()
	_, still := store.m[signup]
	store.mu.RUnlock()
	if still {
		t.Error("expired entry should be removed on Get")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore(clock.NewFake(t0))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := Key{UserID: fmt.Sprintf("u%d", i), Factor: "EMAIL", Context: "LOGIN"}
			store.Put(ctx, k, fmt.Sprintf("%06d", i), t0.Add(time.Minute))
			store.Get(ctx, k)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		k := Key{UserID: fmt.Sprintf("u%d", i), Factor: "EMAIL", Context: "LOGIN"}
		if otp, ok := store.Get(ctx, k); !ok || otp != fmt.Sprintf("%06d", i) {
			t.Errorf("Get(%v) = %q, %v", k, otp, ok)
		}
	}
}
