// Package notification delivers newly created risk alerts to the responsible
// doctor. Delivery is best effort: a live push to every open WebSocket
// session of the recipient plus an append to the offline outbox, which the
// DigestBatcher later drains into one e-mail digest per recipient.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbrisk/tbrisk/internal/platform/metrics"
)

// EventAlertCreated is the live event type written to WebSocket sessions.
const EventAlertCreated = "alert.created"

// Delivery channels, also used as metric labels.
const (
	ChannelLive   = "live"
	ChannelOutbox = "outbox"
	ChannelEmail  = "email"
)

// AlertPayload is what a recipient receives about a new alert.
type AlertPayload struct {
	ID          uuid.UUID `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Publisher pushes an alert to a recipient.
type Publisher interface {
	Publish(ctx context.Context, recipientID uuid.UUID, p AlertPayload) error
}

// LiveChannel is the real-time session registry. It returns how many open
// sessions accepted the event.
type LiveChannel interface {
	Deliver(recipient, eventType string, data interface{}) (int, error)
}

// Outbox stores alerts for later offline delivery.
type Outbox interface {
	Append(ctx context.Context, recipientID uuid.UUID, p AlertPayload) error
}

// DeliveryError reports a failure on one channel. Callers log it; it never
// affects the alert itself.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Fanout publishes to the live channel and the outbox. Either may be nil.
type Fanout struct {
	live    LiveChannel
	outbox  Outbox
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewFanout(live LiveChannel, outbox Outbox, logger zerolog.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{
		live:    live,
		outbox:  outbox,
		logger:  logger.With().Str("component", "notification").Logger(),
		metrics: m,
	}
}

// Publish attempts every configured channel. Failures are returned as
// *DeliveryError values joined together; a failed channel does not stop
// the others.
func (f *Fanout) Publish(ctx context.Context, recipientID uuid.UUID, p AlertPayload) error {
	var errs []error

	if f.live != nil {
		n, err := f.live.Deliver(recipientID.String(), EventAlertCreated, p)
		switch {
		case err != nil:
			f.metrics.ObserveNotification(ChannelLive, "failed")
			errs = append(errs, &DeliveryError{Channel: ChannelLive, Err: err})
		case n == 0:
			f.metrics.ObserveNotification(ChannelLive, "offline")
		default:
			f.metrics.ObserveNotification(ChannelLive, "delivered")
		}
		f.logger.Debug().
			Str("recipient_id", recipientID.String()).
			Str("alert_id", p.ID.String()).
			Int("sessions", n).
			Msg("live alert delivered")
	}

	if f.outbox != nil {
		if err := f.outbox.Append(ctx, recipientID, p); err != nil {
			f.metrics.ObserveNotification(ChannelOutbox, "failed")
			errs = append(errs, &DeliveryError{Channel: ChannelOutbox, Err: err})
		} else {
			f.metrics.ObserveNotification(ChannelOutbox, "queued")
		}
	}

	return errors.Join(errs...)
}
