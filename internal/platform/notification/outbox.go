package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutboxEntry is one queued alert read back from the stream.
type OutboxEntry struct {
	ID          string
	RecipientID uuid.UUID
	Alert       AlertPayload
}

// RedisOutbox keeps undelivered alerts in a Redis stream. Entries stay in the
// stream until Ack removes them, so a crash between Read and Ack replays them.
type RedisOutbox struct {
	client *redis.Client
	stream string
	logger zerolog.Logger
}

func NewRedisOutbox(client *redis.Client, stream string, logger zerolog.Logger) *RedisOutbox {
	return &RedisOutbox{
		client: client,
		stream: stream,
		logger: logger.With().Str("component", "outbox").Str("stream", stream).Logger(),
	}
}

// Append adds an alert to the stream.
func (o *RedisOutbox) Append(ctx context.Context, recipientID uuid.UUID, p AlertPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	_, err = o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]interface{}{
			"recipient": recipientID.String(),
			"data":      string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", o.stream, err)
	}
	return nil
}

// Read returns up to count entries with IDs after the given one, oldest
// first. An empty after starts at the head of the stream. next is the last ID
// scanned and is empty once the stream is exhausted. Malformed entries are
// logged and removed so they cannot block the stream.
func (o *RedisOutbox) Read(ctx context.Context, after string, count int64) (entries []OutboxEntry, next string, err error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}
	msgs, err := o.client.XRangeN(ctx, o.stream, start, "+", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("xrange %s: %w", o.stream, err)
	}
	if len(msgs) == 0 {
		return nil, "", nil
	}

	entries = make([]OutboxEntry, 0, len(msgs))
	var bad []string
	for _, msg := range msgs {
		entry, err := parseEntry(msg)
		if err != nil {
			o.logger.Warn().Err(err).Str("entry_id", msg.ID).Msg("dropping malformed outbox entry")
			bad = append(bad, msg.ID)
			continue
		}
		entries = append(entries, entry)
	}
	next = msgs[len(msgs)-1].ID
	if len(bad) > 0 {
		if err := o.Ack(ctx, bad...); err != nil {
			return entries, next, err
		}
	}
	return entries, next, nil
}

// Ack deletes delivered entries.
func (o *RedisOutbox) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := o.client.XDel(ctx, o.stream, ids...).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", o.stream, err)
	}
	return nil
}

func parseEntry(msg redis.XMessage) (OutboxEntry, error) {
	rawRecipient, _ := msg.Values["recipient"].(string)
	recipient, err := uuid.Parse(rawRecipient)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("invalid recipient %q: %w", rawRecipient, err)
	}
	rawData, _ := msg.Values["data"].(string)
	var p AlertPayload
	if err := json.Unmarshal([]byte(rawData), &p); err != nil {
		return OutboxEntry{}, fmt.Errorf("invalid alert payload: %w", err)
	}
	return OutboxEntry{ID: msg.ID, RecipientID: recipient, Alert: p}, nil
}
