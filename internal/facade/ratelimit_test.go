package facade

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("wallet1|1.2.3.4")
		if !ok {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}

	ok, retryAfter := rl.Allow("wallet1|1.2.3.4")
	if ok {
		t.Fatalf("expected 4th request to be rate limited")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", retryAfter)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	ok, _ := rl.Allow("walletA|1.2.3.4")
	if !ok {
		t.Fatalf("expected first request for walletA to be allowed")
	}
	ok, _ = rl.Allow("walletA|1.2.3.4")
	if ok {
		t.Fatalf("expected second request for walletA to be rate limited")
	}

	ok, _ = rl.Allow("walletB|1.2.3.4")
	if !ok {
		t.Fatalf("expected walletB's bucket to be untouched by walletA's usage")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(60, 1) // 1 token/sec, burst 1

	ok, _ := rl.Allow("k")
	if !ok {
		t.Fatalf("expected first request to be allowed")
	}
	ok, _ = rl.Allow("k")
	if ok {
		t.Fatalf("expected immediate second request to be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	ok, _ = rl.Allow("k")
	if !ok {
		t.Fatalf("expected request to be allowed again after refill window")
	}
}
