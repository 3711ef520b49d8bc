package app

import (
	"context"
	"testing"
	"time"
)

func TestMemoryEventDeduplicator(t *testing.T) {
	clock := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	dedup := NewMemoryEventDeduplicator(time.Hour)
	dedup.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	seen, err := dedup.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("expected unseen event")
	}

	if err := dedup.MarkSeen(ctx, "evt_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen, err = dedup.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("expected event to be seen after marking")
	}

	// Entries expire after the TTL.
	clock = clock.Add(2 * time.Hour)
	seen, err = dedup.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("expected event to expire after ttl")
	}
}

func TestMemoryEventDeduplicator_EmptyIDIsIgnored(t *testing.T) {
	dedup := NewMemoryEventDeduplicator(time.Hour)
	ctx := context.Background()

	if err := dedup.MarkSeen(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen, err := dedup.Seen(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("expected empty id to never read as seen")
	}
}
