package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/liveness"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/proximity"
	"github.com/pawtrail/tracker/internal/store"
	"github.com/pawtrail/tracker/internal/utils"
)

// SweepService periodically re-evaluates every known device against the
// offline threshold. It is the only path that produces online→offline
// transitions: a device that simply stops reporting can only be noticed
// here. Each tick iterates a snapshot copy and never blocks report
// ingestion.
type SweepService struct {
	interval   time.Duration
	tracker    *liveness.Tracker
	store      store.Store
	dispatcher engine.Dispatcher
	latch      *proximity.Latch
	retry      RetryPolicy
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RetryPolicy bounds per-operation store retries inside services.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewSweepService creates a new SweepService instance.
func NewSweepService(interval time.Duration, tracker *liveness.Tracker, st store.Store,
	dispatcher engine.Dispatcher, latch *proximity.Latch, retry RetryPolicy, logger zerolog.Logger) *SweepService {
	return &SweepService{
		interval:   interval,
		tracker:    tracker,
		store:      st,
		dispatcher: dispatcher,
		latch:      latch,
		retry:      retry,
		logger:     logger,
	}
}

// Start launches the sweep loop in a separate goroutine.
func (s *SweepService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SweepService is already running")
		return errors.New("sweep service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweepLoop()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("SweepService started")
	return nil
}

// Stop gracefully stops the sweep service.
func (s *SweepService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SweepService is not running")
		return errors.New("sweep service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("SweepService stopped")
	return nil
}

func (s *SweepService) runSweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			s.logger.Info().Msg("SweepService stopping gracefully")
			return
		}
	}
}

// sweep flips stale devices offline, persists their last-known state, and
// raises the offline notification. Failures on one device never stop the
// rest of the pass.
func (s *SweepService) sweep() {
	for _, snap := range s.tracker.Snapshots() {
		if !snap.Online || s.tracker.IsFresh(snap) {
			continue
		}

		updated, flipped := s.tracker.MarkOffline(snap.DeviceID)
		if !flipped {
			// A racing report brought the device back; leave it alone.
			continue
		}

		s.logger.Info().
			Str("device_id", updated.DeviceID).
			Time("last_report", updated.LastReport).
			Msg("Offline transition")

		err := utils.Retry(s.ctx, s.logger, "persist last known",
			s.retry.MaxAttempts, s.retry.BaseDelay, s.retry.MaxDelay,
			func() error {
				return s.store.SaveDeviceLastKnown(s.ctx, updated.DeviceID,
					updated.Battery, updated.Latitude, updated.Longitude)
			})
		if err != nil {
			s.logger.Error().Err(err).Str("device_id", updated.DeviceID).
				Msg("Failed to persist last-known state")
		}

		s.dispatcher.Dispatch(s.ctx, models.Event{
			Kind:        constants.EventOffline,
			DeviceID:    updated.DeviceID,
			OwnerID:     updated.OwnerID,
			Message:     fmt.Sprintf("Tracker %s went offline", updated.DeviceID),
			Severity:    constants.SeverityOffline,
			Latitude:    updated.Latitude,
			Longitude:   updated.Longitude,
			HasLocation: true,
		})
	}

	s.latch.Prune()
}
