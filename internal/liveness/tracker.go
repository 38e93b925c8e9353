// Package liveness maintains the freshest known state per device and
// derives online/offline status from report recency.
package liveness

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/models"
)

// OwnerResolver is the slice of the store the tracker needs to resolve
// device ownership.
type OwnerResolver interface {
	OwnerForDevice(ctx context.Context, deviceID string) (string, error)
}

// Tracker owns the per-device snapshot map and the device→owner cache.
// Snapshots are values: readers get copies and never mutate shared state.
// Concurrent reports for the same device are last-write-wins.
type Tracker struct {
	snapshots cmap.ConcurrentMap[string, models.DeviceSnapshot]
	owners    cmap.ConcurrentMap[string, string]
	threshold time.Duration
	resolver  OwnerResolver
	logger    zerolog.Logger
}

// NewTracker creates a tracker with the given offline threshold.
func NewTracker(threshold time.Duration, resolver OwnerResolver, logger zerolog.Logger) *Tracker {
	return &Tracker{
		snapshots: cmap.New[models.DeviceSnapshot](),
		owners:    cmap.New[string](),
		threshold: threshold,
		resolver:  resolver,
		logger:    logger,
	}
}

// Threshold returns the configured offline threshold.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// Upsert records a fresh report for the device and returns the previous
// snapshot (nil on first report) along with the new one. The new snapshot
// is always online; battery carries over when the report omits it.
func (t *Tracker) Upsert(report models.Report) (*models.DeviceSnapshot, models.DeviceSnapshot) {
	now := report.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	curr := models.DeviceSnapshot{
		DeviceID:   report.DeviceID,
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
		Battery:    report.Battery,
		OwnerID:    report.OwnerID,
		LastReport: now,
		Online:     true,
	}

	var prev *models.DeviceSnapshot
	if existing, ok := t.snapshots.Get(report.DeviceID); ok {
		prev = &existing
		if curr.Battery == nil {
			curr.Battery = existing.Battery
		}
		if curr.OwnerID == "" {
			curr.OwnerID = existing.OwnerID
		}
	}

	t.snapshots.Set(report.DeviceID, curr)
	return prev, curr
}

// Snapshot returns the current snapshot for a device.
func (t *Tracker) Snapshot(deviceID string) (models.DeviceSnapshot, bool) {
	return t.snapshots.Get(deviceID)
}

// Snapshots returns a copy of every known device snapshot. The sweep and
// the proximity detector iterate this copy, never the live map.
func (t *Tracker) Snapshots() []models.DeviceSnapshot {
	out := make([]models.DeviceSnapshot, 0, t.snapshots.Count())
	for item := range t.snapshots.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

// IsFresh reports whether a snapshot is within the offline threshold.
func (t *Tracker) IsFresh(snap models.DeviceSnapshot) bool {
	return time.Since(snap.LastReport) <= t.threshold
}

// MarkOffline flips the device's derived online flag off, returning the
// updated snapshot. Used only by the periodic sweep.
func (t *Tracker) MarkOffline(deviceID string) (models.DeviceSnapshot, bool) {
	snap, ok := t.snapshots.Get(deviceID)
	if !ok || !snap.Online {
		return snap, false
	}
	snap.Online = false
	t.snapshots.Set(deviceID, snap)
	return snap, true
}

// ResolveOwner resolves the device's owner cache-first, falling back to
// the store. A resolved owner stays cached for the process lifetime until
// InvalidateOwner is called. hint, when non-empty, is trusted and cached
// directly (reports may carry the owner id).
func (t *Tracker) ResolveOwner(ctx context.Context, deviceID, hint string) (string, error) {
	if hint != "" {
		t.owners.Set(deviceID, hint)
		return hint, nil
	}

	if ownerID, ok := t.owners.Get(deviceID); ok {
		return ownerID, nil
	}

	ownerID, err := t.resolver.OwnerForDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if ownerID != "" {
		t.owners.Set(deviceID, ownerID)
	}
	return ownerID, nil
}

// InvalidateOwner drops the cached owner for a device. Called by the
// management layer when a device is deleted or reassigned.
func (t *Tracker) InvalidateOwner(deviceID string) {
	t.owners.Remove(deviceID)
	t.logger.Debug().Str("device_id", deviceID).Msg("Owner cache invalidated")
}
