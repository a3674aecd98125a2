package execution

import (
	"testing"
	"time"
)

func TestInFlightGuard_BlocksWithinTTL(t *testing.T) {
	g := newInFlightGuard(2 * time.Second)
	now := time.Now()

	if err := g.tryAcquire("k", now); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := g.tryAcquire("k", now.Add(time.Second)); err != ErrDuplicateInFlight {
		t.Fatalf("duplicate within ttl must be blocked, got %v", err)
	}
	if err := g.tryAcquire("k", now.Add(3*time.Second)); err != nil {
		t.Fatalf("after ttl must pass: %v", err)
	}
}

func TestInFlightGuard_ReleaseAllowsRetry(t *testing.T) {
	g := newInFlightGuard(time.Minute)
	now := time.Now()

	if err := g.tryAcquire("k", now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.release("k")
	if err := g.tryAcquire("k", now); err != nil {
		t.Fatalf("release must allow immediate retry: %v", err)
	}
}

func TestInFlightGuard_KeysIndependent(t *testing.T) {
	g := newInFlightGuard(time.Minute)
	now := time.Now()

	if err := g.tryAcquire("a", now); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if err := g.tryAcquire("b", now); err != nil {
		t.Fatalf("different key must not be blocked: %v", err)
	}
}
