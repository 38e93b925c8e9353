// Package proximity detects nearby devices and suppresses duplicate
// notifications for groupings that were already announced.
package proximity

import (
	"sort"
	"strings"

	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/pkg/geo"
)

// Nearby returns the candidates within radiusMeters of the subject. The
// subject itself is excluded. Proximity is always a plain radius test
// between two points, never a region shape.
func Nearby(subject models.DeviceSnapshot, candidates []models.DeviceSnapshot, radiusMeters float64) []models.DeviceSnapshot {
	var out []models.DeviceSnapshot
	for _, c := range candidates {
		if c.DeviceID == subject.DeviceID {
			continue
		}
		if geo.HaversineMeters(subject.Point(), c.Point()) <= radiusMeters {
			out = append(out, c)
		}
	}
	return out
}

// GroupKey computes the stable key for an unordered set of device ids:
// sorted and comma-joined.
func GroupKey(deviceIDs []string) string {
	ids := make([]string, len(deviceIDs))
	copy(ids, deviceIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
