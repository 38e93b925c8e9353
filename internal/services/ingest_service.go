package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/adrianmo/go-nmea"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/pkg/mqtt"
)

// IngestService subscribes to the device-report topic and feeds each
// report into the transition engine. Reports are processed concurrently;
// the engine's own semantics handle same-device races.
//
// Two payload shapes are accepted: the JSON report format and raw NMEA
// RMC sentences from trackers that forward their GPS output unparsed. In
// both cases the device id comes from the topic, e.g. trackers/{id}/report.
type IngestService struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	engine     *engine.Engine
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestService creates a new IngestService instance.
func NewIngestService(topic string, qos int, mqttClient mqtt.MQTTClient,
	eng *engine.Engine, logger zerolog.Logger) *IngestService {
	return &IngestService{
		topic:      topic,
		qos:        qos,
		mqttClient: mqttClient,
		engine:     eng,
		logger:     logger,
	}
}

// Start subscribes to the report topic.
func (s *IngestService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("IngestService is already running")
		return errors.New("ingest service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	token := s.mqttClient.Subscribe(s.topic, byte(s.qos), s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.ctx = nil
		s.cancel = nil
		return err
	}

	s.logger.Info().Str("topic", s.topic).Msg("IngestService started")
	return nil
}

// Stop unsubscribes and waits for in-flight reports to finish.
func (s *IngestService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("IngestService is not running")
		return errors.New("ingest service is not running")
	}

	token := s.mqttClient.Unsubscribe(s.topic)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", s.topic).Msg("Failed to unsubscribe")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("IngestService stopped")
	return nil
}

func (s *IngestService) handleMessage(_ MQTT.Client, msg MQTT.Message) {
	report, err := s.parseReport(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Rejecting malformed report payload")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.ProcessReport(s.ctx, report); err != nil {
			s.logger.Warn().Err(err).Str("device_id", report.DeviceID).Msg("Report rejected")
		}
	}()
}

// parseReport decodes either a JSON report or a raw NMEA RMC line.
func (s *IngestService) parseReport(topic string, payload []byte) (models.Report, error) {
	deviceID := deviceIDFromTopic(topic)

	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "$") {
		return parseNMEAReport(deviceID, trimmed)
	}

	var report models.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return models.Report{}, err
	}
	if report.DeviceID == "" {
		report.DeviceID = deviceID
	}
	return report, report.Validate()
}

func parseNMEAReport(deviceID, line string) (models.Report, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return models.Report{}, err
	}

	rmc, ok := sentence.(nmea.RMC)
	if !ok {
		return models.Report{}, errors.New("unsupported NMEA sentence type")
	}
	if rmc.Validity != nmea.ValidRMC {
		return models.Report{}, errors.New("NMEA fix not valid")
	}

	report := models.Report{
		DeviceID:  deviceID,
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
	}
	return report, report.Validate()
}

// deviceIDFromTopic extracts the id segment from trackers/{id}/report.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
