package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) (*AuditAlerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditAlerter(client, "test:alerts"), mr
}

func TestAuditAlerterObserveTriggers(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	var lastTriggered bool
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if i < 9 && result.Triggered {
			t.Fatalf("triggered early at attempt %d", i+1)
		}
		lastTriggered = result.Triggered
	}
	if !lastTriggered {
		t.Fatalf("expected alert threshold to trigger")
	}
}

func TestAuditAlerterCountsPerIP(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := alerter.Observe(ctx, EventRenew, OutcomeFail, "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	result, err := alerter.Observe(ctx, EventRenew, OutcomeFail, "10.0.0.2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1", result.Count)
	}
}

func TestAuditAlerterWindowExpires(t *testing.T) {
	alerter, mr := newTestAlerter(t)
	ctx := context.Background()
	if _, err := alerter.Observe(ctx, EventLogin, OutcomeFail, "127.0.0.1"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > 5*time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestAuditAlerterObserveIgnoresUnknownRule(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	result, err := alerter.Observe(context.Background(), "auth.custom", OutcomeSuccess, "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for unknown rule: %+v", result)
	}
}

func TestNilAlerterIsNoop(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter for nil client")
	}
	result, err := alerter.Observe(context.Background(), EventLogin, OutcomeFail, "127.0.0.1")
	if err != nil || result.Triggered {
		t.Fatalf("nil alerter: %+v %v", result, err)
	}
}
