package constants

import "time"

// EventKind identifies the type of state transition detected for a device.
type EventKind string

const (
	EventOnline      EventKind = "online"
	EventOffline     EventKind = "offline"
	EventInGeofence  EventKind = "in_geofence"
	EventOutGeofence EventKind = "out_geofence"
	EventLowBattery  EventKind = "low_battery"
	EventNearbyPet   EventKind = "nearby_pet"
)

// Severity is the sound/severity tag carried by a notification record.
type Severity string

const (
	SeverityNormal  Severity = "normal"
	SeverityAlert   Severity = "alert"
	SeverityOffline Severity = "offline"
)

// Tunables. All of these can be overridden through configuration; the
// values here are the deployment defaults.
const (
	// DefaultOfflineThreshold is the maximum silence before a device is
	// considered offline.
	DefaultOfflineThreshold = 15 * time.Second

	// DefaultSweepInterval is how often the liveness sweep re-evaluates
	// every known device.
	DefaultSweepInterval = 5 * time.Second

	// DefaultLowBatteryThreshold is the battery percentage at or below
	// which a low-battery transition fires.
	DefaultLowBatteryThreshold = 20

	// DefaultProximityRadiusMeters is the nearby-pet radius used when an
	// owner has no configured override.
	DefaultProximityRadiusMeters = 10.0

	// DefaultProximityCooldown bounds how long a proximity grouping stays
	// latched before it may notify again.
	DefaultProximityCooldown = time.Hour
)

// SMSCountryPrefix replaces a leading "0" in stored phone numbers before
// handing them to the SMS gateway.
const SMSCountryPrefix = "63"
