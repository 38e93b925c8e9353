// Package dispatch turns detected transitions into durable notifications,
// live updates, and (preference-gated) text messages.
package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/internal/livefeed"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/store"
	"github.com/pawtrail/tracker/internal/utils"
	"github.com/pawtrail/tracker/pkg/geocode"
	"github.com/pawtrail/tracker/pkg/sms"
)

const (
	deliverTimeout = 15 * time.Second
	geocodeTimeout = 3 * time.Second
)

// RetryPolicy bounds per-operation store retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Dispatcher consumes events raised by the transition engine. Every event
// unconditionally produces a persisted notification and a live update to
// the owning user's channel; an SMS goes out only when the owner's global
// and per-event flags are both enabled. All side effects run on the worker
// pool and their failures are logged, never propagated.
type Dispatcher struct {
	store    store.Store
	sender   sms.Sender        // nil disables SMS entirely
	feed     livefeed.Emitter
	geocoder geocode.Reverser  // nil disables address enrichment
	pool     *utils.WorkerPool
	retry    RetryPolicy
	logger   zerolog.Logger
}

// NewDispatcher creates a new Dispatcher instance.
func NewDispatcher(st store.Store, sender sms.Sender, feed livefeed.Emitter,
	geocoder geocode.Reverser, pool *utils.WorkerPool, retry RetryPolicy, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		sender:   sender,
		feed:     feed,
		geocoder: geocoder,
		pool:     pool,
		retry:    retry,
		logger:   logger,
	}
}

// Dispatch hands the event to the worker pool. The caller's report
// handling continues regardless of what happens downstream.
func (d *Dispatcher) Dispatch(_ context.Context, ev models.Event) {
	if ev.OwnerID == "" {
		d.logger.Debug().
			Str("device_id", ev.DeviceID).
			Str("kind", string(ev.Kind)).
			Msg("Dropping event with no resolvable owner")
		return
	}
	d.pool.Submit(func() { d.deliver(ev) })
}

// Broadcast emits a live update without creating a notification record.
// The proximity path uses this for repeat sightings of an already-notified
// grouping.
func (d *Dispatcher) Broadcast(_ context.Context, ownerID, event string, payload any) {
	d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		if err := d.feed.EmitToOwner(ctx, ownerID, event, payload); err != nil {
			d.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Live broadcast failed")
		}
	})
}

func (d *Dispatcher) deliver(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	message := d.enrich(ctx, ev)

	record := models.Notification{
		ID:        uuid.NewString(),
		OwnerID:   ev.OwnerID,
		DeviceID:  ev.DeviceID,
		Message:   message,
		Severity:  ev.Severity,
		CreatedAt: time.Now(),
	}

	err := utils.Retry(ctx, d.logger, "persist notification",
		d.retry.MaxAttempts, d.retry.BaseDelay, d.retry.MaxDelay,
		func() error { return d.store.SaveNotification(ctx, record) })
	if err != nil {
		d.logger.Error().Err(err).
			Str("owner_id", ev.OwnerID).
			Str("kind", string(ev.Kind)).
			Msg("Failed to persist notification")
	}

	if err := d.feed.EmitToOwner(ctx, ev.OwnerID, string(ev.Kind), record); err != nil {
		d.logger.Warn().Err(err).Str("owner_id", ev.OwnerID).Msg("Live update failed")
	}

	d.maybeSendSMS(ctx, ev, message)
}

// enrich appends a reverse-geocoded address to the message when the event
// carries a position and a geocoder is configured.
func (d *Dispatcher) enrich(ctx context.Context, ev models.Event) string {
	if d.geocoder == nil || !ev.HasLocation {
		return ev.Message
	}

	gctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()

	address, err := d.geocoder.Reverse(gctx, ev.Latitude, ev.Longitude)
	if err != nil {
		d.logger.Debug().Err(err).Str("device_id", ev.DeviceID).Msg("Reverse geocode unavailable")
		return ev.Message
	}
	return ev.Message + " near " + address
}

func (d *Dispatcher) maybeSendSMS(ctx context.Context, ev models.Event, message string) {
	if d.sender == nil {
		return
	}

	prefs, err := d.store.NotificationPrefs(ctx, ev.OwnerID)
	if err != nil {
		d.logger.Warn().Err(err).Str("owner_id", ev.OwnerID).Msg("SMS preference lookup failed")
		return
	}
	if !utils.Truthy(prefs.Enabled) || !utils.Truthy(prefs.PerEvent[string(ev.Kind)]) {
		return
	}

	phone, err := d.store.OwnerPhone(ctx, ev.OwnerID)
	if err != nil {
		d.logger.Warn().Err(err).Str("owner_id", ev.OwnerID).Msg("Phone lookup failed")
		return
	}

	number, ok := NormalizePhone(phone)
	if !ok {
		d.logger.Info().Str("owner_id", ev.OwnerID).Msg("No usable phone number, skipping SMS")
		return
	}

	if err := d.sender.Send(ctx, number, message); err != nil {
		d.logger.Error().Err(err).
			Str("owner_id", ev.OwnerID).
			Str("kind", string(ev.Kind)).
			Msg("SMS send failed")
	}
}

// NormalizePhone rewrites a leading "0" to the country code prefix and
// rejects numbers that cannot be dialed.
func NormalizePhone(phone string) (string, bool) {
	p := strings.TrimSpace(phone)
	if p == "" || p == "0" {
		return "", false
	}
	if strings.HasPrefix(p, "0") {
		p = constants.SMSCountryPrefix + p[1:]
	}
	return p, true
}
