// Package store defines the persistent-store interface the core consumes
// and its Postgres implementation.
package store

import (
	"context"

	"github.com/pawtrail/tracker/internal/models"
)

// OwnerPet pairs an owner id with the pet name the device is registered
// under for that owner.
type OwnerPet struct {
	OwnerID string
	PetName string
}

// Store is the core-facing interface to the relational store. Absence of
// data (no owner, no geofences, no settings row) is never an error; errors
// are reserved for infrastructure failures. Implementations wrap
// connection-class failures with utils.Transient so callers can retry.
type Store interface {
	// GeofencesForDevice returns all geofence regions applicable to the
	// device, possibly empty.
	GeofencesForDevice(ctx context.Context, deviceID string) ([]models.Geofence, error)

	// OwnerForDevice resolves the device's primary owner, or "" when the
	// device is unassigned.
	OwnerForDevice(ctx context.Context, deviceID string) (string, error)

	// OwnersForDevice returns every owner of the device together with the
	// device's pet name.
	OwnersForDevice(ctx context.Context, deviceID string) ([]OwnerPet, error)

	// NotificationPrefs returns the owner's notification settings. A
	// missing settings row yields the zero value, which disables SMS.
	NotificationPrefs(ctx context.Context, ownerID string) (models.NotificationPrefs, error)

	// OwnerPhone returns the owner's phone number, or "" when none is on
	// record.
	OwnerPhone(ctx context.Context, ownerID string) (string, error)

	// SaveNotification persists a notification record.
	SaveNotification(ctx context.Context, n models.Notification) error

	// SaveDeviceLastKnown persists the device's last-known position and
	// battery, used when a device goes offline.
	SaveDeviceLastKnown(ctx context.Context, deviceID string, battery *int, lat, lng float64) error
}
