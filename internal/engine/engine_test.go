package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/liveness"
	"github.com/pawtrail/tracker/internal/mocks"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/proximity"
	"github.com/pawtrail/tracker/internal/store"
	"github.com/pawtrail/tracker/pkg/geo"
)

type harness struct {
	store      *mocks.MockStore
	dispatcher *mocks.MockDispatcher
	tracker    *liveness.Tracker
	engine     *engine.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := new(mocks.MockStore)
	disp := new(mocks.MockDispatcher)
	disp.On("Dispatch", mock.Anything, mock.Anything).Return()
	disp.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	tracker := liveness.NewTracker(time.Minute, st, zerolog.Nop())
	eng := engine.New(
		tracker,
		geo.NewEvaluator(zerolog.Nop()),
		st,
		proximity.NewLatch(time.Hour),
		disp,
		engine.Config{StoreBaseDelay: time.Millisecond, StoreMaxDelay: time.Millisecond},
		zerolog.Nop(),
	)
	return &harness{store: st, dispatcher: disp, tracker: tracker, engine: eng}
}

// eventsOfKind extracts the dispatched events of one kind, in order.
func (h *harness) eventsOfKind(kind constants.EventKind) []models.Event {
	var out []models.Event
	for _, call := range h.dispatcher.Calls {
		if call.Method != "Dispatch" {
			continue
		}
		ev := call.Arguments.Get(1).(models.Event)
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) broadcasts() int {
	n := 0
	for _, call := range h.dispatcher.Calls {
		if call.Method == "Broadcast" {
			n++
		}
	}
	return n
}

func report(deviceID string, lat, lng float64, battery *int) models.Report {
	return models.Report{DeviceID: deviceID, Latitude: lat, Longitude: lng, Battery: battery}
}

func intPtr(v int) *int { return &v }

func TestProcessReport_MalformedReportRejected(t *testing.T) {
	h := newHarness(t)

	err := h.engine.ProcessReport(context.Background(), report("", 1, 2, nil))

	assert.ErrorIs(t, err, models.ErrMalformedReport)
	h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestProcessReport_OnlineFiresOncePerEdge(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	// First-ever report raises online.
	assert.NoError(t, h.engine.ProcessReport(context.Background(), report("dev-1", 1, 1, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventOnline), 1)

	// Repeated reports while already online raise nothing further.
	assert.NoError(t, h.engine.ProcessReport(context.Background(), report("dev-1", 1, 1, nil)))
	assert.NoError(t, h.engine.ProcessReport(context.Background(), report("dev-1", 1, 1, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventOnline), 1)

	// The synchronous path never raises offline.
	assert.Empty(t, h.eventsOfKind(constants.EventOffline))
}

func TestProcessReport_LowBatteryEdgeTrigger(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	ctx := context.Background()

	// Above the threshold: nothing.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(80))))
	assert.Empty(t, h.eventsOfKind(constants.EventLowBattery))

	// Crossing through the threshold fires once.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(18))))
	assert.Len(t, h.eventsOfKind(constants.EventLowBattery), 1)

	// Staying low does not re-fire.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(12))))
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(5))))
	assert.Len(t, h.eventsOfKind(constants.EventLowBattery), 1)

	// Recovering and crossing again fires again.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(90))))
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, intPtr(20))))
	assert.Len(t, h.eventsOfKind(constants.EventLowBattery), 2)
}

func TestProcessReport_LowBatteryFiresWhenPreviousUnknown(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	assert.NoError(t, h.engine.ProcessReport(context.Background(), report("dev-1", 1, 1, intPtr(15))))
	assert.Len(t, h.eventsOfKind(constants.EventLowBattery), 1)
}

func TestProcessReport_GeofenceEnterAndLeave(t *testing.T) {
	h := newHarness(t)
	fences := []models.Geofence{{
		ID:   "fence-1",
		Name: "Home",
		Region: geo.Region{
			Kind:         geo.RegionCircle,
			Center:       geo.Point{Lat: 0, Lng: 0},
			RadiusMeters: 100,
		},
	}}
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(fences, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	ctx := context.Background()

	// ~99 m from center: inside, raises entered.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0.00089, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventInGeofence), 1)

	// Identical position again: steady state, no repeat events.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0.00089, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventInGeofence), 1)
	assert.Empty(t, h.eventsOfKind(constants.EventOutGeofence))

	// ~122 m from center: exactly one left event.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0.0011, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventOutGeofence), 1)

	// Still outside: no repeat.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0.0011, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventOutGeofence), 1)
}

func TestProcessReport_GeofenceLookupFailureDoesNotBlockBattery(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, errors.New("table missing"))
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	err := h.engine.ProcessReport(context.Background(), report("dev-1", 1, 1, intPtr(10)))

	assert.NoError(t, err)
	assert.Len(t, h.eventsOfKind(constants.EventLowBattery), 1)
	assert.Len(t, h.eventsOfKind(constants.EventOnline), 1)
}

func TestProcessReport_ProximityNotifiesOncePerGrouping(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("OwnerForDevice", mock.Anything, "dev-2").Return("owner-2", nil)
	h.store.On("GeofencesForDevice", mock.Anything, mock.Anything).Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, mock.Anything).Return(models.NotificationPrefs{}, nil)
	h.store.On("OwnersForDevice", mock.Anything, "dev-1").
		Return([]store.OwnerPet{{OwnerID: "owner-1", PetName: "Buddy"}}, nil)
	h.store.On("OwnersForDevice", mock.Anything, "dev-2").
		Return([]store.OwnerPet{{OwnerID: "owner-2", PetName: "Max"}}, nil)

	ctx := context.Background()

	// dev-1 reports alone: no proximity.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0, nil)))
	assert.Empty(t, h.eventsOfKind(constants.EventNearbyPet))

	// dev-2 reports ~5.5 m away: one notification per owner plus a live
	// broadcast to both.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-2", 0, 0.00005, nil)))
	nearby := h.eventsOfKind(constants.EventNearbyPet)
	assert.Len(t, nearby, 2)
	owners := map[string]bool{}
	for _, ev := range nearby {
		owners[ev.OwnerID] = true
	}
	assert.True(t, owners["owner-1"])
	assert.True(t, owners["owner-2"])
	assert.Equal(t, 2, h.broadcasts())

	// Same grouping again: live broadcasts repeat, records do not.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-2", 0, 0.00005, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventNearbyPet), 2)
	assert.Equal(t, 4, h.broadcasts())
}

func TestProcessReport_SingleOwnerGroupIgnored(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, mock.Anything).Return("owner-1", nil)
	h.store.On("GeofencesForDevice", mock.Anything, mock.Anything).Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	ctx := context.Background()
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0, nil)))
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-2", 0, 0.00005, nil)))

	assert.Empty(t, h.eventsOfKind(constants.EventNearbyPet))
	assert.Zero(t, h.broadcasts())
}

func TestProcessReport_OwnerRadiusOverride(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	h.store.On("OwnerForDevice", mock.Anything, "dev-2").Return("owner-2", nil)
	h.store.On("GeofencesForDevice", mock.Anything, mock.Anything).Return(nil, nil)
	// owner-2 widened their radius to 100 m.
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-2").
		Return(models.NotificationPrefs{RadiusMeters: 100}, nil)
	h.store.On("OwnersForDevice", mock.Anything, mock.Anything).Return(nil, nil)

	ctx := context.Background()

	// ~55 m apart: outside the default radius, inside owner-2's.
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 0, 0, nil)))
	assert.Empty(t, h.eventsOfKind(constants.EventNearbyPet))

	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-2", 0, 0.0005, nil)))
	assert.Len(t, h.eventsOfKind(constants.EventNearbyPet), 2)
}

func TestProcessReport_OwnerResolutionCached(t *testing.T) {
	h := newHarness(t)
	h.store.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil).Once()
	h.store.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, nil)
	h.store.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)

	ctx := context.Background()
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, nil)))
	assert.NoError(t, h.engine.ProcessReport(ctx, report("dev-1", 1, 1, nil)))

	// The store was only consulted once; the second report hit the cache.
	h.store.AssertNumberOfCalls(t, "OwnerForDevice", 1)
}
