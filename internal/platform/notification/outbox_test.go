package notification

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testStream = "test:alerts:outbox"

func setupTestOutbox(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisOutbox) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client, NewRedisOutbox(client, testStream, zerolog.Nop())
}

func TestRedisOutbox_AppendReadAck(t *testing.T) {
	_, _, outbox := setupTestOutbox(t)
	ctx := context.Background()

	r1, r2 := uuid.New(), uuid.New()
	p1, p2 := testPayload(), testPayload()
	if err := outbox.Append(ctx, r1, p1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := outbox.Append(ctx, r2, p2); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, _, err := outbox.Read(ctx, "", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RecipientID != r1 || entries[0].Alert.ID != p1.ID {
		t.Errorf("entries out of order: %+v", entries[0])
	}
	if !entries[0].Alert.CreatedAt.Equal(p1.CreatedAt) || entries[0].Alert.Severity != "high" {
		t.Errorf("payload not round-tripped: %+v", entries[0].Alert)
	}

	if err := outbox.Ack(ctx, entries[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	entries, _, err = outbox.Read(ctx, "", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 || entries[0].RecipientID != r2 {
		t.Fatalf("expected only the second entry to remain, got %+v", entries)
	}
}

func TestRedisOutbox_ReadRespectsCount(t *testing.T) {
	_, _, outbox := setupTestOutbox(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := outbox.Append(ctx, uuid.New(), testPayload()); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, _, err := outbox.Read(ctx, "", 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestRedisOutbox_ReadAfterCursor(t *testing.T) {
	_, _, outbox := setupTestOutbox(t)
	ctx := context.Background()

	recipients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, r := range recipients {
		if err := outbox.Append(ctx, r, testPayload()); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, next, err := outbox.Read(ctx, "", 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first) != 2 || next != first[1].ID {
		t.Fatalf("expected 2 entries ending at the cursor, got %+v next=%q", first, next)
	}

	tests := []struct {
		name     string
		after    string
		wantIDs  int
		wantNext bool
	}{
		{name: "from head", after: "", wantIDs: 3, wantNext: true},
		{name: "after first", after: first[0].ID, wantIDs: 2, wantNext: true},
		{name: "after cursor", after: next, wantIDs: 1, wantNext: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, n, err := outbox.Read(ctx, tt.after, 10)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(entries) != tt.wantIDs {
				t.Fatalf("expected %d entries, got %d", tt.wantIDs, len(entries))
			}
			if (n != "") != tt.wantNext {
				t.Errorf("unexpected next %q", n)
			}
			if entries[len(entries)-1].RecipientID != recipients[2] {
				t.Errorf("expected the walk to end at the newest entry")
			}
		})
	}

	entries, n, err := outbox.Read(ctx, first[1].ID, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, end, err := outbox.Read(ctx, entries[0].ID, 10); err != nil || end != "" {
		t.Fatalf("expected exhausted stream, got next=%q err=%v", end, err)
	}
	if n != entries[0].ID {
		t.Errorf("expected next %q, got %q", entries[0].ID, n)
	}
}

func TestRedisOutbox_EmptyStream(t *testing.T) {
	_, _, outbox := setupTestOutbox(t)
	entries, _, err := outbox.Read(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestRedisOutbox_DropsMalformedEntries(t *testing.T) {
	_, client, outbox := setupTestOutbox(t)
	ctx := context.Background()

	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: testStream,
		Values: map[string]interface{}{"recipient": "not-a-uuid", "data": "{}"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
	if err := outbox.Append(ctx, uuid.New(), testPayload()); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, _, err := outbox.Read(ctx, "", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 valid entry, got %d", len(entries))
	}
	n, err := client.XLen(ctx, testStream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Errorf("expected malformed entry to be removed, stream length %d", n)
	}
}

func TestRedisOutbox_AppendFailsWhenRedisDown(t *testing.T) {
	mr, _, outbox := setupTestOutbox(t)
	mr.Close()
	if err := outbox.Append(context.Background(), uuid.New(), testPayload()); err == nil {
		t.Fatal("expected error with redis unavailable")
	}
}
