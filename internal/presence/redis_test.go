package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestNewTrackerWithClient_DefaultTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tr := NewTrackerWithClient(client, 0)
	if tr.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", tr.ttl, DefaultTTL)
	}
}

func TestKey(t *testing.T) {
	if got := key("buyer-1"); got != "dealroom:presence:buyer-1" {
		t.Errorf("key() = %q", got)
	}
}

func TestOnline_NoUsers(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	got, err := NewTrackerWithClient(client, 0).Online(context.Background(), nil)
	if err != nil {
		t.Fatalf("Online() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Online() = %v, want empty", got)
	}
}
