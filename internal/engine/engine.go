// Package engine implements the per-report state transition pipeline:
// liveness, battery, geofence containment, and proximity transitions are
// recomputed for every inbound report, diffed against prior state, and
// turned into events for the notification dispatcher.
package engine

import (
	"context"
	"fmt"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/internal/liveness"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/proximity"
	"github.com/pawtrail/tracker/internal/store"
	"github.com/pawtrail/tracker/internal/utils"
	"github.com/pawtrail/tracker/pkg/geo"
)

// Dispatcher receives the events the engine raises. Dispatch creates the
// durable notification plus live update; Broadcast is live-update only.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.Event)
	Broadcast(ctx context.Context, ownerID, event string, payload any)
}

// Config holds the engine tunables.
type Config struct {
	LowBatteryThreshold int
	DefaultRadiusMeters float64
	StoreMaxAttempts    int
	StoreBaseDelay      time.Duration
	StoreMaxDelay       time.Duration
}

// Engine orchestrates one pipeline run per inbound report. Steps are
// sequential but independently failable: a geofence lookup failure never
// blocks battery or online event processing. There is no cross-device
// locking; concurrent reports for the same device are last-write-wins.
type Engine struct {
	tracker     *liveness.Tracker
	evaluator   *geo.Evaluator
	store       store.Store
	latch       *proximity.Latch
	dispatcher  Dispatcher
	containment cmap.ConcurrentMap[string, map[string]bool]
	cfg         Config
	logger      zerolog.Logger
}

// New creates a new Engine instance.
func New(tracker *liveness.Tracker, evaluator *geo.Evaluator, st store.Store,
	latch *proximity.Latch, dispatcher Dispatcher, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.LowBatteryThreshold <= 0 {
		cfg.LowBatteryThreshold = constants.DefaultLowBatteryThreshold
	}
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = constants.DefaultProximityRadiusMeters
	}
	if cfg.StoreMaxAttempts <= 0 {
		cfg.StoreMaxAttempts = 3
	}
	if cfg.StoreBaseDelay <= 0 {
		cfg.StoreBaseDelay = 200 * time.Millisecond
	}
	if cfg.StoreMaxDelay <= 0 {
		cfg.StoreMaxDelay = 2 * time.Second
	}
	return &Engine{
		tracker:     tracker,
		evaluator:   evaluator,
		store:       st,
		latch:       latch,
		dispatcher:  dispatcher,
		containment: cmap.New[map[string]bool](),
		cfg:         cfg,
		logger:      logger,
	}
}

// ProcessReport runs the full pipeline for one device report. It returns
// an error only when the payload is malformed; downstream step failures
// are isolated and logged so the reporting device still gets its ack.
func (e *Engine) ProcessReport(ctx context.Context, report models.Report) error {
	if err := report.Validate(); err != nil {
		return err
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = time.Now()
	}

	logger := e.logger.With().Str("device_id", report.DeviceID).Logger()

	// Step 1: resolve ownership, cache-first. A failure here only limits
	// the owner-dependent steps below.
	ownerID, err := e.resolveOwner(ctx, report)
	if err != nil {
		logger.Warn().Err(err).Msg("Owner resolution failed, continuing without owner")
	}
	report.OwnerID = ownerID

	// Step 2: snapshot upsert plus battery edge.
	prev, curr := e.tracker.Upsert(report)
	e.checkBattery(ctx, prev, curr, logger)

	// Step 3: online edge. Offline transitions belong to the sweep alone.
	e.checkOnline(ctx, prev, curr, logger)

	// Step 4: per-region containment diff.
	e.checkGeofences(ctx, curr, logger)

	// Step 5: proximity, only when the report resolved to an owner.
	if curr.OwnerID != "" {
		e.checkProximity(ctx, curr, logger)
	}

	return nil
}

// InvalidateOwner drops the device's cached owner. Exposed for the
// management layer's unassign/delete hooks.
func (e *Engine) InvalidateOwner(deviceID string) {
	e.tracker.InvalidateOwner(deviceID)
}

func (e *Engine) resolveOwner(ctx context.Context, report models.Report) (string, error) {
	var ownerID string
	err := e.retryStore(ctx, "resolve owner", func() error {
		var rerr error
		ownerID, rerr = e.tracker.ResolveOwner(ctx, report.DeviceID, report.OwnerID)
		return rerr
	})
	return ownerID, err
}

// checkBattery fires on a strictly-decreasing crossing of the threshold:
// current at or below it while the previous known reading was above it or
// unknown. Repeated low readings do not re-fire.
func (e *Engine) checkBattery(ctx context.Context, prev *models.DeviceSnapshot, curr models.DeviceSnapshot, logger zerolog.Logger) {
	if curr.Battery == nil || *curr.Battery > e.cfg.LowBatteryThreshold {
		return
	}
	if prev != nil && prev.Battery != nil && *prev.Battery <= e.cfg.LowBatteryThreshold {
		return
	}

	logger.Info().Int("battery", *curr.Battery).Msg("Low battery transition")
	e.dispatcher.Dispatch(ctx, e.locatedEvent(curr, models.Event{
		Kind:     constants.EventLowBattery,
		Message:  fmt.Sprintf("Tracker %s battery is down to %d%%", curr.DeviceID, *curr.Battery),
		Severity: constants.SeverityAlert,
	}))
}

// checkOnline raises the online event on the first-ever report and on an
// offline→online edge. The previous derived flag is re-checked against
// the threshold so a device that went silent between sweeps still counts
// as having been offline.
func (e *Engine) checkOnline(ctx context.Context, prev *models.DeviceSnapshot, curr models.DeviceSnapshot, logger zerolog.Logger) {
	wasOnline := prev != nil && prev.Online && time.Since(prev.LastReport) <= e.tracker.Threshold()
	if wasOnline {
		return
	}

	logger.Info().Bool("first_report", prev == nil).Msg("Online transition")
	e.dispatcher.Dispatch(ctx, e.locatedEvent(curr, models.Event{
		Kind:     constants.EventOnline,
		Message:  fmt.Sprintf("Tracker %s is online", curr.DeviceID),
		Severity: constants.SeverityNormal,
	}))
}

func (e *Engine) checkGeofences(ctx context.Context, curr models.DeviceSnapshot, logger zerolog.Logger) {
	var fences []models.Geofence
	err := e.retryStore(ctx, "fetch geofences", func() error {
		var ferr error
		fences, ferr = e.store.GeofencesForDevice(ctx, curr.DeviceID)
		return ferr
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Geofence lookup failed, skipping containment")
		return
	}
	if len(fences) == 0 {
		// A device with no fences has no containment state to maintain.
		return
	}

	previous, _ := e.containment.Get(curr.DeviceID)
	next := make(map[string]bool, len(fences))
	point := curr.Point()

	for _, fence := range fences {
		inside, distance, err := e.evaluator.EvaluateRegion(point, fence.Region)
		if err != nil {
			logger.Warn().Str("geofence_id", fence.ID).Msg("Skipping malformed geofence")
			continue
		}
		next[fence.ID] = inside

		wasInside := previous[fence.ID]
		switch {
		case inside && !wasInside:
			logger.Info().Str("geofence_id", fence.ID).Msg("Entered geofence")
			e.dispatcher.Dispatch(ctx, e.locatedEvent(curr, models.Event{
				Kind:     constants.EventInGeofence,
				Message:  fmt.Sprintf("Tracker %s entered %s", curr.DeviceID, fence.Name),
				Severity: constants.SeverityNormal,
			}))
		case !inside && wasInside:
			logger.Info().
				Str("geofence_id", fence.ID).
				Float64("distance_m", distance).
				Msg("Left geofence")
			e.dispatcher.Dispatch(ctx, e.locatedEvent(curr, models.Event{
				Kind:     constants.EventOutGeofence,
				Message:  fmt.Sprintf("Tracker %s left %s", curr.DeviceID, fence.Name),
				Severity: constants.SeverityAlert,
			}))
		case !inside:
			// Still outside: no event, but the distance is useful
			// operationally.
			logger.Debug().
				Str("geofence_id", fence.ID).
				Float64("distance_m", distance).
				Msg("Outside geofence")
		}
	}

	e.containment.Set(curr.DeviceID, next)
}

func (e *Engine) checkProximity(ctx context.Context, curr models.DeviceSnapshot, logger zerolog.Logger) {
	radius := e.ownerRadius(ctx, curr.OwnerID, logger)

	nearby := proximity.Nearby(curr, e.tracker.Snapshots(), radius)
	if len(nearby) == 0 {
		return
	}

	group := append([]models.DeviceSnapshot{curr}, nearby...)

	owners := make(map[string][]string) // ownerID -> their device ids in the group
	ids := make([]string, 0, len(group))
	for _, snap := range group {
		ids = append(ids, snap.DeviceID)
		if snap.OwnerID != "" {
			owners[snap.OwnerID] = append(owners[snap.OwnerID], snap.DeviceID)
		}
	}
	if len(owners) < 2 {
		// Pets of a single owner travelling together are not a proximity
		// interaction.
		return
	}

	key := proximity.GroupKey(ids)
	payload := map[string]any{
		"devices": ids,
		"lat":     curr.Latitude,
		"lng":     curr.Longitude,
	}

	// The live broadcast goes out on every qualifying report; the durable
	// notification and SMS are gated by the latch.
	for ownerID := range owners {
		e.dispatcher.Broadcast(ctx, ownerID, string(constants.EventNearbyPet), payload)
	}

	if !e.latch.FirstSeen(key) {
		logger.Debug().Str("group", key).Msg("Proximity grouping already notified")
		return
	}

	names := e.petNames(ctx, ids, logger)
	for ownerID, ownDevices := range owners {
		message := proximityMessage(ownDevices, ids, names)
		e.dispatcher.Dispatch(ctx, e.locatedEvent(curr, models.Event{
			Kind:     constants.EventNearbyPet,
			OwnerID:  ownerID,
			Message:  message,
			Severity: constants.SeverityAlert,
		}))
	}
}

func (e *Engine) ownerRadius(ctx context.Context, ownerID string, logger zerolog.Logger) float64 {
	var prefs models.NotificationPrefs
	err := e.retryStore(ctx, "fetch prefs", func() error {
		var perr error
		prefs, perr = e.store.NotificationPrefs(ctx, ownerID)
		return perr
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Preference lookup failed, using default radius")
		return e.cfg.DefaultRadiusMeters
	}
	if prefs.RadiusMeters > 0 {
		return prefs.RadiusMeters
	}
	return e.cfg.DefaultRadiusMeters
}

// petNames resolves display names for the devices in a proximity group.
// Lookup failures degrade to the device id.
func (e *Engine) petNames(ctx context.Context, deviceIDs []string, logger zerolog.Logger) map[string]string {
	names := make(map[string]string, len(deviceIDs))
	for _, id := range deviceIDs {
		names[id] = id
		owners, err := e.store.OwnersForDevice(ctx, id)
		if err != nil {
			logger.Debug().Err(err).Str("device_id", id).Msg("Pet name lookup failed")
			continue
		}
		if len(owners) > 0 && owners[0].PetName != "" {
			names[id] = owners[0].PetName
		}
	}
	return names
}

// proximityMessage builds the per-owner notification text. Owners with
// several pets in the grouping get a single grouped message instead of
// one per pet.
func proximityMessage(ownDevices, allDevices []string, names map[string]string) string {
	own := make(map[string]bool, len(ownDevices))
	for _, id := range ownDevices {
		own[id] = true
	}
	var others []string
	for _, id := range allDevices {
		if !own[id] {
			others = append(others, names[id])
		}
	}

	ownName := names[ownDevices[0]]
	if len(ownDevices) > 1 {
		ownName = fmt.Sprintf("%s and %d more of your pets", ownName, len(ownDevices)-1)
	}

	switch len(others) {
	case 0:
		return fmt.Sprintf("%s is near another pet", ownName)
	case 1:
		return fmt.Sprintf("%s is near %s", ownName, others[0])
	default:
		return fmt.Sprintf("%s is near %d other pets", ownName, len(others))
	}
}

// locatedEvent stamps device, owner, and position onto an event skeleton.
func (e *Engine) locatedEvent(snap models.DeviceSnapshot, ev models.Event) models.Event {
	ev.DeviceID = snap.DeviceID
	if ev.OwnerID == "" {
		ev.OwnerID = snap.OwnerID
	}
	ev.Latitude = snap.Latitude
	ev.Longitude = snap.Longitude
	ev.HasLocation = true
	return ev
}

func (e *Engine) retryStore(ctx context.Context, op string, fn func() error) error {
	return utils.Retry(ctx, e.logger, op, e.cfg.StoreMaxAttempts,
		e.cfg.StoreBaseDelay, e.cfg.StoreMaxDelay, fn)
}
