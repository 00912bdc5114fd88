package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiter(t *testing.T) {
	l := NewInMemory(time.Minute)
	for i := 1; i <= 3; i++ {
		d := l.Allow("user123", 3)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Fatalf("request %d: remaining=%d", i, d.Remaining)
		}
	}
	if d := l.Allow("user123", 3); d.Allowed {
		t.Fatal("fourth request must be rejected")
	}
	// Other keys are unaffected.
	if d := l.Allow("user456", 3); !d.Allowed {
		t.Fatal("separate key must have its own window")
	}
}

func TestInMemoryWindowReset(t *testing.T) {
	l := NewInMemory(10 * time.Millisecond)
	l.Allow("k", 1)
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("second request within window must be rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("request after window reset must be allowed")
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, time.Minute)
	for i := 1; i <= 2; i++ {
		if d := l.Allow("user123", 2); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d := l.Allow("user123", 2); d.Allowed {
		t.Fatal("over-limit request must be rejected")
	}
	got, err := mr.Get("rl:user123")
	if err != nil || got != "3" {
		t.Fatalf("unexpected redis counter %q (%v)", got, err)
	}
}

func TestRedisLimiterFallsBackWhenUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	l := NewRedis(client, time.Minute)
	l.Allow("k", 1)
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("fallback limiter must still enforce the limit")
	}
}
