package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbrisk/tbrisk/internal/platform/metrics"
)

const defaultDigestBatch = 500

// OutboxReader is the consuming side of the outbox.
type OutboxReader interface {
	Read(ctx context.Context, after string, count int64) (entries []OutboxEntry, next string, err error)
	Ack(ctx context.Context, ids ...string) error
}

// DigestBatcher periodically drains the outbox and sends one digest e-mail
// per recipient. Entries are acknowledged only after their recipient's
// digest was sent; failed recipients are retried on the next flush.
type DigestBatcher struct {
	outbox    OutboxReader
	sender    EmailSender
	templates *TemplateEngine
	interval  time.Duration
	batch     int64
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewDigestBatcher(outbox OutboxReader, sender EmailSender, templates *TemplateEngine, interval time.Duration, logger zerolog.Logger, m *metrics.Metrics) *DigestBatcher {
	return &DigestBatcher{
		outbox:    outbox,
		sender:    sender,
		templates: templates,
		interval:  interval,
		batch:     defaultDigestBatch,
		logger:    logger.With().Str("component", "digest").Logger(),
		metrics:   m,
	}
}

// Start flushes on every tick until ctx is cancelled.
func (d *DigestBatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Flush(ctx)
			if err != nil {
				d.logger.Error().Err(err).Int("sent", n).Msg("digest flush failed")
				continue
			}
			if n > 0 {
				d.logger.Info().Int("sent", n).Msg("digests sent")
			}
		}
	}
}

// Flush walks the outbox batch by batch and returns the number of digests
// sent. A failed recipient's entries stay in the stream for the next flush
// while the walk moves on to later entries; delivery failures are joined.
func (d *DigestBatcher) Flush(ctx context.Context) (int, error) {
	sent := 0
	after := ""
	var errs []error
	for {
		entries, next, err := d.outbox.Read(ctx, after, d.batch)
		if err != nil {
			return sent, errors.Join(append(errs, err)...)
		}
		if next == "" {
			return sent, errors.Join(errs...)
		}

		n, err := d.sendBatch(ctx, entries)
		sent += n
		if err != nil {
			errs = append(errs, err)
		}
		after = next
	}
}

func (d *DigestBatcher) sendBatch(ctx context.Context, entries []OutboxEntry) (int, error) {
	var order []uuid.UUID
	groups := make(map[uuid.UUID][]OutboxEntry)
	for _, e := range entries {
		if _, ok := groups[e.RecipientID]; !ok {
			order = append(order, e.RecipientID)
		}
		groups[e.RecipientID] = append(groups[e.RecipientID], e)
	}

	sent := 0
	var errs []error
	for _, recipient := range order {
		group := groups[recipient]
		subject, body, err := d.templates.Render(TemplateDigest, digestData(group))
		if err != nil {
			return sent, err
		}
		if err := d.sender.SendEmail(ctx, recipient.String(), subject, body); err != nil {
			d.metrics.ObserveNotification(ChannelEmail, "failed")
			errs = append(errs, &DeliveryError{Channel: ChannelEmail, Err: fmt.Errorf("recipient %s: %w", recipient, err)})
			continue
		}
		d.metrics.ObserveNotification(ChannelEmail, "sent")

		ids := make([]string, len(group))
		for i, e := range group {
			ids[i] = e.ID
		}
		if err := d.outbox.Ack(ctx, ids...); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func digestData(group []OutboxEntry) map[string]string {
	since := group[0].Alert.CreatedAt
	var b strings.Builder
	for i, e := range group {
		if e.Alert.CreatedAt.Before(since) {
			since = e.Alert.CreatedAt
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s: %s", strings.ToUpper(e.Alert.Severity), e.Alert.Category, e.Alert.Description)
	}
	return map[string]string{
		"count":  strconv.Itoa(len(group)),
		"since":  since.UTC().Format(time.RFC3339),
		"alerts": b.String(),
	}
}
