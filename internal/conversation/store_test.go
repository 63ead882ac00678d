package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/walletbot/internal/payment"
	"github.com/m3rciful/walletbot/internal/testdb"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLStore(testdb.Open(t)),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := s.Get(ctx, 1)
			if err != nil || !st.IsIdle() {
				t.Fatalf("empty store = %+v, %v", st, err)
			}

			want := AwaitingCustomAmount(payment.ProviderCrypto, "btc")
			want.Version = "v1"
			want.ExpiresAt = time.Unix(1_900_000_000, 0).UTC()
			if err := s.Put(ctx, 1, want); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := s.Get(ctx, 1)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Kind != want.Kind || got.Provider != want.Provider || got.Currency != "btc" || got.Version != "v1" || !got.ExpiresAt.Equal(want.ExpiresAt) {
				t.Fatalf("got %+v, want %+v", got, want)
			}

			other, _ := s.Get(ctx, 2)
			if !other.IsIdle() {
				t.Fatalf("state leaked to another user: %+v", other)
			}

			if ok, err := s.CompareAndClear(ctx, 1, "stale"); err != nil || ok {
				t.Fatalf("stale clear = %v, %v", ok, err)
			}
			if ok, err := s.CompareAndClear(ctx, 1, "v1"); err != nil || !ok {
				t.Fatalf("clear = %v, %v", ok, err)
			}
			if ok, _ := s.CompareAndClear(ctx, 1, "v1"); ok {
				t.Fatal("second clear must lose")
			}
			if got, _ := s.Get(ctx, 1); !got.IsIdle() {
				t.Fatalf("state not cleared: %+v", got)
			}

			if err := s.Put(ctx, 3, AwaitingBroadcast()); err != nil {
				t.Fatalf("put broadcast: %v", err)
			}
			if err := s.Put(ctx, 3, Idle()); err != nil {
				t.Fatalf("put idle: %v", err)
			}
			if got, _ := s.Get(ctx, 3); !got.IsIdle() {
				t.Fatalf("idle put did not clear: %+v", got)
			}
		})
	}
}

func TestSQLStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewSQLStore(testdb.Open(t))
	old := AwaitingBroadcast()
	old.Version = "a"
	old.ExpiresAt = time.Unix(100, 0)
	fresh := AwaitingBroadcast()
	fresh.Version = "b"
	fresh.ExpiresAt = time.Unix(10_000, 0)
	_ = s.Put(ctx, 1, old)
	_ = s.Put(ctx, 2, fresh)
	n, err := s.PurgeExpired(ctx, 5_000)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, %v", n, err)
	}
	if got, _ := s.Get(ctx, 2); got.Version != "b" {
		t.Fatalf("fresh state purged: %+v", got)
	}
}

func TestRedisStoreKeyAndTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewRedisStore(nil, "")
	s.now = func() time.Time { return now }
	if got := s.key(42); got != "walletbot:state:42" {
		t.Fatalf("key = %s", got)
	}
	if ttl := s.ttl(Idle()); ttl != 0 {
		t.Fatalf("ttl without deadline = %s", ttl)
	}
	st := AwaitingBroadcast()
	st.ExpiresAt = now.Add(15 * time.Minute)
	if ttl := s.ttl(st); ttl != 15*time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}
	st.ExpiresAt = now.Add(-time.Minute)
	if ttl := s.ttl(st); ttl != time.Second {
		t.Fatalf("past deadline ttl = %s", ttl)
	}
}
