package proximity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/proximity"
)

func snap(id string, lat, lng float64) models.DeviceSnapshot {
	return models.DeviceSnapshot{DeviceID: id, Latitude: lat, Longitude: lng}
}

func TestNearby_RadiusFilter(t *testing.T) {
	subject := snap("dev-1", 0, 0)
	candidates := []models.DeviceSnapshot{
		snap("dev-2", 0, 0.00005), // ~5.6 m
		snap("dev-3", 0, 0.0005),  // ~55 m
		snap("dev-4", 0, 0),       // same spot
	}

	got := proximity.Nearby(subject, candidates, 10)

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.DeviceID)
	}
	assert.Equal(t, []string{"dev-2", "dev-4"}, ids)
}

func TestNearby_ExcludesSubject(t *testing.T) {
	subject := snap("dev-1", 0, 0)
	candidates := []models.DeviceSnapshot{subject, snap("dev-2", 0, 0)}

	got := proximity.Nearby(subject, candidates, 10)

	assert.Len(t, got, 1)
	assert.Equal(t, "dev-2", got[0].DeviceID)
}

func TestNearby_NoneInRange(t *testing.T) {
	got := proximity.Nearby(snap("dev-1", 0, 0), []models.DeviceSnapshot{snap("dev-2", 1, 1)}, 10)
	assert.Empty(t, got)
}

func TestGroupKey_OrderIndependent(t *testing.T) {
	a := proximity.GroupKey([]string{"c", "a", "b"})
	b := proximity.GroupKey([]string{"b", "c", "a"})

	assert.Equal(t, "a,b,c", a)
	assert.Equal(t, a, b)
}

func TestGroupKey_DoesNotMutateInput(t *testing.T) {
	ids := []string{"z", "a"}
	proximity.GroupKey(ids)
	assert.Equal(t, []string{"z", "a"}, ids)
}

func TestLatch_FirstSeenOncePerCooldown(t *testing.T) {
	latch := proximity.NewLatch(time.Hour)

	assert.True(t, latch.FirstSeen("a,b"))
	assert.False(t, latch.FirstSeen("a,b"))
	assert.True(t, latch.FirstSeen("a,c"))
	assert.Equal(t, 2, latch.Len())
}

func TestLatch_ExpiryAllowsRenotify(t *testing.T) {
	latch := proximity.NewLatch(20 * time.Millisecond)

	assert.True(t, latch.FirstSeen("a,b"))
	time.Sleep(40 * time.Millisecond)
	assert.True(t, latch.FirstSeen("a,b"))
}

func TestLatch_PruneDropsExpiredOnly(t *testing.T) {
	latch := proximity.NewLatch(30 * time.Millisecond)

	latch.FirstSeen("old")
	time.Sleep(50 * time.Millisecond)
	latch.FirstSeen("fresh")

	latch.Prune()
	assert.Equal(t, 1, latch.Len())
	assert.False(t, latch.FirstSeen("fresh"))
}
