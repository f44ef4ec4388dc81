// Package notify owns the dispatch decision and delivery-state tracking for
// outbound case notifications. Delivery transport is pluggable; failures are
// recorded on the notification record and never surface to the triggering
// transition.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
)

// Result reports a delivery attempt's outcome.
type Result struct {
	Delivered bool
	Reason    string
}

// Notifier sends one message on a channel. Implementations must respect ctx's
// deadline.
type Notifier interface {
	Send(ctx context.Context, ntype models.NotificationType, channel models.ChannelType, recipient, message string) (Result, error)
}

// LoggerNotifier is a stub transport that writes notifications to the logger.
// Used in development and tests; production wires the real SMS/WhatsApp sender.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger and reports delivery.
func (n *LoggerNotifier) Send(_ context.Context, ntype models.NotificationType, channel models.ChannelType, recipient, message string) (Result, error) {
	if n != nil && n.logger != nil {
		n.logger.Info("notification",
			"type", ntype,
			"channel", channel,
			"recipient", recipient,
			"message", message,
		)
	}
	return Result{Delivered: true}, nil
}

// Store is the slice of the case store the dispatcher needs.
type Store interface {
	AppendNotification(ctx context.Context, n models.KycNotification) error
	PutNotification(ctx context.Context, n models.KycNotification) error
	ListNotifications(ctx context.Context, caseRef string) ([]models.KycNotification, error)
}

// Dispatcher builds a KycNotification per dispatch, calls the notifier with a
// bounded timeout and records the outcome. Best-effort by contract: errors are
// logged and stored, never returned to the transition that triggered them.
type Dispatcher struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	clock    models.Clock
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock function for testability.
func WithClock(clock models.Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTimeout bounds each notifier call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher builds a dispatcher over the given store and transport.
func NewDispatcher(store Store, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		notifier: notifier,
		clock:    time.Now,
		logger:   slog.Default(),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch records and sends one notification. The returned record reflects
// the stored delivery state; dispatch never fails the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, caseRef string, channel models.ChannelType, recipient string, ntype models.NotificationType, message string) models.KycNotification {
	now := d.clock()
	record := models.KycNotification{
		ID:      uuid.NewString(),
		CaseRef: caseRef,
		Type:    ntype,
		Message: message,
		SentAt:  now,
	}
	if err := d.store.AppendNotification(ctx, record); err != nil {
		d.logger.Error("failed to persist notification record", "case", caseRef, "type", ntype, "error", err)
		return record
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.notifier.Send(sendCtx, ntype, channel, recipient, message)
	deliveredAt := d.clock()
	switch {
	case err != nil:
		record.ErrorMessage = err.Error()
	case !result.Delivered:
		record.ErrorMessage = result.Reason
	default:
		record.Delivered = true
		record.DeliveredAt = &deliveredAt
	}

	d.metrics.RecordNotification(string(ntype), record.Delivered)
	if err := d.store.PutNotification(ctx, record); err != nil {
		d.logger.Error("failed to record delivery outcome", "case", caseRef, "type", ntype, "error", err)
	}
	if record.ErrorMessage != "" {
		d.logger.Warn("notification delivery failed",
			"case", caseRef, "type", ntype, "channel", channel, "reason", record.ErrorMessage)
	}
	return record
}

// AlreadySent reports whether a notification of the given type exists for the
// case. Used to keep warning-style notifications idempotent across sweeps.
func (d *Dispatcher) AlreadySent(ctx context.Context, caseRef string, ntype models.NotificationType) (bool, error) {
	existing, err := d.store.ListNotifications(ctx, caseRef)
	if err != nil {
		return false, err
	}
	for _, n := range existing {
		if n.Type == ntype {
			return true, nil
		}
	}
	return false, nil
}

// Recipient picks the delivery address for a channel from the customer's
// identifiers: the primary phone for messaging channels, the primary email on
// the web. Falls back to any identifier of the wanted type.
func Recipient(channel models.ChannelType, identifiers []models.CustomerIdentifier) string {
	want := models.IdentifierPhoneNumber
	if channel == models.ChannelWeb {
		want = models.IdentifierEmail
	}
	fallback := ""
	for _, id := range identifiers {
		if id.Type != want {
			continue
		}
		if id.Primary {
			return id.Value
		}
		if fallback == "" {
			fallback = id.Value
		}
	}
	return fallback
}
