package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/liveness"
	"github.com/pawtrail/tracker/internal/mocks"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/proximity"
	"github.com/pawtrail/tracker/pkg/geo"
)

func newHTTPFixture(st *mocks.MockStore) *HTTPService {
	disp := new(mocks.MockDispatcher)
	disp.On("Dispatch", mock.Anything, mock.Anything).Return()
	disp.On("Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	tracker := liveness.NewTracker(time.Minute, st, zerolog.Nop())
	eng := engine.New(tracker, geo.NewEvaluator(zerolog.Nop()), st,
		proximity.NewLatch(time.Hour), disp,
		engine.Config{StoreBaseDelay: time.Millisecond, StoreMaxDelay: time.Millisecond},
		zerolog.Nop())

	return NewHTTPService(0, eng, nil, nil, zerolog.Nop())
}

func TestHandleReport_Accepted(t *testing.T) {
	st := new(mocks.MockStore)
	st.On("OwnerForDevice", mock.Anything, "dev-1").Return("owner-1", nil)
	st.On("GeofencesForDevice", mock.Anything, "dev-1").Return(nil, nil)
	st.On("NotificationPrefs", mock.Anything, "owner-1").Return(models.NotificationPrefs{}, nil)
	svc := newHTTPFixture(st)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports",
		strings.NewReader(`{"device_id": "dev-1", "lat": 1, "lng": 2}`))
	rec := httptest.NewRecorder()
	svc.handleReport(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted")
}

func TestHandleReport_MalformedPayload(t *testing.T) {
	svc := newHTTPFixture(new(mocks.MockStore))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	svc.handleReport(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReport_MissingDeviceID(t *testing.T) {
	svc := newHTTPFixture(new(mocks.MockStore))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports",
		strings.NewReader(`{"lat": 1, "lng": 2}`))
	rec := httptest.NewRecorder()
	svc.handleReport(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth_ReflectsDependencyState(t *testing.T) {
	svc := newHTTPFixture(new(mocks.MockStore))
	svc.started = time.Now()
	svc.pingers = map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
	}

	rec := httptest.NewRecorder()
	svc.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.pingers["redis"] = PingerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	rec = httptest.NewRecorder()
	svc.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
