// Package models defines the domain objects shared across the tracker
// services.
package models

import (
	"errors"
	"math"
	"time"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/pkg/geo"
)

// Report is a single location/battery update from a tracking device.
// DeviceID is mandatory; Battery and OwnerID are optional.
type Report struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Battery    *int      `json:"battery,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	ReceivedAt time.Time `json:"-"`
}

var ErrMalformedReport = errors.New("malformed report")

// Validate rejects reports that must not reach the core pipeline.
func (r Report) Validate() error {
	if r.DeviceID == "" {
		return ErrMalformedReport
	}
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) ||
		math.IsInf(r.Latitude, 0) || math.IsInf(r.Longitude, 0) {
		return ErrMalformedReport
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return ErrMalformedReport
	}
	if r.Battery != nil && (*r.Battery < 0 || *r.Battery > 100) {
		return ErrMalformedReport
	}
	return nil
}

// DeviceSnapshot is the freshest known state of a device. It lives only in
// process memory, owned by the liveness tracker; readers must treat it as
// a value, never mutate it in place.
type DeviceSnapshot struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Battery    *int      `json:"battery,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	LastReport time.Time `json:"last_report"`
	Online     bool      `json:"online"`
}

// Point returns the snapshot position as a geometry point.
func (s DeviceSnapshot) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

// Geofence couples a stored geofence's identity with its geometry.
type Geofence struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Region geo.Region `json:"region"`
}

// Notification is the durable, user-facing record created for every
// qualifying transition.
type Notification struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	DeviceID  string             `json:"device_id"`
	Message   string             `json:"message"`
	Severity  constants.Severity `json:"severity"`
	Read      bool               `json:"read"`
	CreatedAt time.Time          `json:"created_at"`
}

// Event is a detected state transition handed from the transition engine
// to the notification dispatcher.
type Event struct {
	Kind     constants.EventKind `json:"kind"`
	DeviceID string              `json:"device_id"`
	OwnerID  string              `json:"owner_id"`
	Message  string              `json:"message"`
	Severity constants.Severity  `json:"severity"`

	// Position of the device when the transition was detected, when known.
	Latitude    float64 `json:"lat,omitempty"`
	Longitude   float64 `json:"lng,omitempty"`
	HasLocation bool    `json:"-"`
}

// NotificationPrefs is an owner's stored notification configuration.
// Flag values come from the store as loosely-typed data; absence of a row
// or a flag means the feature is disabled, never an error.
type NotificationPrefs struct {
	Enabled      any            `json:"enabled"`
	PerEvent     map[string]any `json:"per_event"`
	RadiusMeters float64        `json:"radius_meters"`
}

// Radius returns the owner's proximity radius, falling back to the
// deployment default when unset.
func (p NotificationPrefs) Radius() float64 {
	if p.RadiusMeters > 0 {
		return p.RadiusMeters
	}
	return constants.DefaultProximityRadiusMeters
}
