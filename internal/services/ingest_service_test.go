package services

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/pawtrail/tracker/internal/models"
)

func TestParseReport_JSONPayload(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	report, err := svc.parseReport("trackers/dev-1/report",
		[]byte(`{"lat": 14.5995, "lng": 120.9842, "battery": 73}`))

	assert.NoError(t, err)
	assert.Equal(t, "dev-1", report.DeviceID)
	assert.InDelta(t, 14.5995, report.Latitude, 1e-9)
	assert.InDelta(t, 120.9842, report.Longitude, 1e-9)
	if assert.NotNil(t, report.Battery) {
		assert.Equal(t, 73, *report.Battery)
	}
}

func TestParseReport_JSONDeviceIDOverridesTopic(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	report, err := svc.parseReport("trackers/dev-1/report",
		[]byte(`{"device_id": "dev-9", "lat": 1, "lng": 2}`))

	assert.NoError(t, err)
	assert.Equal(t, "dev-9", report.DeviceID)
}

func TestParseReport_InvalidJSONRejected(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	_, err := svc.parseReport("trackers/dev-1/report", []byte(`{not json`))

	assert.Error(t, err)
}

func TestParseReport_CoordinatesOutOfRangeRejected(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	_, err := svc.parseReport("trackers/dev-1/report",
		[]byte(`{"lat": 123.0, "lng": 0}`))

	assert.ErrorIs(t, err, models.ErrMalformedReport)
}

func TestParseReport_NMEARMCSentence(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	report, err := svc.parseReport("trackers/dev-1/report",
		[]byte("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"))

	assert.NoError(t, err)
	assert.Equal(t, "dev-1", report.DeviceID)
	assert.InDelta(t, 48.1173, report.Latitude, 1e-3)
	assert.InDelta(t, 11.5166, report.Longitude, 1e-3)
	assert.Nil(t, report.Battery)
}

func TestParseReport_NMEAInvalidFixRejected(t *testing.T) {
	svc := &IngestService{logger: zerolog.Nop()}

	// Validity flag V means the receiver has no fix.
	_, err := svc.parseReport("trackers/dev-1/report",
		[]byte("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"))

	assert.Error(t, err)
}

func TestDeviceIDFromTopic(t *testing.T) {
	assert.Equal(t, "dev-1", deviceIDFromTopic("trackers/dev-1/report"))
	assert.Equal(t, "dev-1", deviceIDFromTopic("trackers/dev-1"))
	assert.Empty(t, deviceIDFromTopic("trackers"))
}
