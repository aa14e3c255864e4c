package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

func TestKey(t *testing.T) {
	k := Key(ticket.Conservative, "检票口1")
	if !strings.HasPrefix(k, "ticket:parse:conservative:") || len(k) != len("ticket:parse:conservative:")+64 {
		t.Fatalf("unexpected key %q", k)
	}
	if Key(ticket.Loose, "检票口1") == k {
		t.Fatalf("policy must be part of the key")
	}
	if Key(ticket.Conservative, "检票口2") == k {
		t.Fatalf("text must be part of the key")
	}
}

func TestNopNeverHits(t *testing.T) {
	var c ParseCache = Nop{}
	if err := c.Set(context.Background(), ticket.Conservative, "x", ticket.Record{Seat: "1车1号"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), ticket.Conservative, "x"); ok || err != nil {
		t.Fatalf("nop cache hit: %v %v", ok, err)
	}
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// port 1 is never a redis server
	if _, err := NewRedisCache(ctx, Options{Addr: "127.0.0.1:1"}, nil); err == nil {
		t.Fatalf("expected ping error")
	}
}
