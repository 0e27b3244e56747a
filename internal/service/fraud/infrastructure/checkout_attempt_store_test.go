package infrastructure

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	redisclient "fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/fraud/domain"
)

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redisclient.Wrap(red.NewClient(&red.Options{Addr: server.Addr()}))

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestCheckoutAttemptStore_RecordAndCount(t *testing.T) {
	client, server := newTestRedis(t)
	store, err := NewCheckoutAttemptStore(client, 2*time.Hour)
	if err != nil {
		t.Fatalf("NewCheckoutAttemptStore returned error: %v", err)
	}

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	phone := domain.PhoneIdentity(domain.MustPhone("01712345678"))
	ip := domain.IPIdentity("203.0.113.9")

	if err := store.RecordAttempt(ctx, "a-1", []domain.Identity{phone, ip, domain.IPIdentity("0.0.0.0")}, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := store.RecordAttempt(ctx, "a-2", []domain.Identity{phone}, now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	if server.Exists("fraud:attempts:ip:0.0.0.0") {
		t.Fatalf("placeholder identities must not be stored")
	}
	if ttl := server.TTL("fraud:attempts:phone:01712345678"); ttl <= 0 || ttl > 2*time.Hour {
		t.Fatalf("expected ttl within (0, 2h], got %v", ttl)
	}

	tests := []struct {
		name   string
		id     domain.Identity
		window domain.MatchWindow
		want   int64
	}{
		{"phone last hour", phone, domain.NewMatchWindow(now, time.Hour), 1},
		{"phone last two hours", phone, domain.NewMatchWindow(now, 2*time.Hour), 2},
		{"phone with exclusion", phone, domain.NewMatchWindow(now, 2*time.Hour, "a-1"), 1},
		{"ip", ip, domain.NewMatchWindow(now, time.Hour), 1},
		{"unknown ip", domain.IPIdentity("198.51.100.1"), domain.NewMatchWindow(now, time.Hour), 0},
		{"placeholder", domain.IPIdentity("::1"), domain.NewMatchWindow(now, time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := store.CountAttempts(ctx, tt.id, tt.window)
			if err != nil {
				t.Fatalf("CountAttempts returned error: %v", err)
			}
			if n != tt.want {
				t.Fatalf("CountAttempts = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestCheckoutAttemptStore_TrimsExpiredMembers(t *testing.T) {
	client, server := newTestRedis(t)
	store, err := NewCheckoutAttemptStore(client, time.Hour)
	if err != nil {
		t.Fatalf("NewCheckoutAttemptStore returned error: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	phone := domain.PhoneIdentity(domain.MustPhone("01812345678"))

	_ = store.RecordAttempt(ctx, "old", []domain.Identity{phone}, now.Add(-3*time.Hour))
	_ = store.RecordAttempt(ctx, "new", []domain.Identity{phone}, now)

	members, err := server.ZMembers("fraud:attempts:phone:01812345678")
	if err != nil {
		t.Fatalf("ZMembers returned error: %v", err)
	}
	if len(members) != 1 || members[0] != "new" {
		t.Fatalf("expected only the recent attempt to survive, got %v", members)
	}
}
