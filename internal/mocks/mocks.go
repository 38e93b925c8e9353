// Package mocks provides testify mocks for the core interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/store"
)

// MockStore is a mock implementation of the store.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GeofencesForDevice(ctx context.Context, deviceID string) ([]models.Geofence, error) {
	args := m.Called(ctx, deviceID)
	fences, _ := args.Get(0).([]models.Geofence)
	return fences, args.Error(1)
}

func (m *MockStore) OwnerForDevice(ctx context.Context, deviceID string) (string, error) {
	args := m.Called(ctx, deviceID)
	return args.String(0), args.Error(1)
}

func (m *MockStore) OwnersForDevice(ctx context.Context, deviceID string) ([]store.OwnerPet, error) {
	args := m.Called(ctx, deviceID)
	owners, _ := args.Get(0).([]store.OwnerPet)
	return owners, args.Error(1)
}

func (m *MockStore) NotificationPrefs(ctx context.Context, ownerID string) (models.NotificationPrefs, error) {
	args := m.Called(ctx, ownerID)
	prefs, _ := args.Get(0).(models.NotificationPrefs)
	return prefs, args.Error(1)
}

func (m *MockStore) OwnerPhone(ctx context.Context, ownerID string) (string, error) {
	args := m.Called(ctx, ownerID)
	return args.String(0), args.Error(1)
}

func (m *MockStore) SaveNotification(ctx context.Context, n models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockStore) SaveDeviceLastKnown(ctx context.Context, deviceID string, battery *int, lat, lng float64) error {
	args := m.Called(ctx, deviceID, battery, lat, lng)
	return args.Error(0)
}

// MockSender is a mock implementation of the sms.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, phone, message string) error {
	args := m.Called(ctx, phone, message)
	return args.Error(0)
}

// MockEmitter is a mock implementation of the livefeed.Emitter interface.
type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) EmitToOwner(ctx context.Context, ownerID, event string, payload any) error {
	args := m.Called(ctx, ownerID, event, payload)
	return args.Error(0)
}

// MockDispatcher is a mock implementation of the engine.Dispatcher
// interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, ev models.Event) {
	m.Called(ctx, ev)
}

func (m *MockDispatcher) Broadcast(ctx context.Context, ownerID, event string, payload any) {
	m.Called(ctx, ownerID, event, payload)
}
