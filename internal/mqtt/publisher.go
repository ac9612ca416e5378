// Package mqtt publishes summary sensors for the device grid over
// Home Assistant MQTT discovery: device count, weak-signal count, and
// the last name sync outcome. The daemon appears as a native HA device
// with availability tracking.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads and a
// birth message to the availability topic; a will message flips the
// availability topic to "offline" on unexpected disconnects.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rmfaria/rssigrid/internal/config"
)

// GridSource provides the current grid summary. Wired to the web view
// in main.go so this package stays decoupled from the grid engine.
type GridSource interface {
	// Counts returns total rendered devices and how many are weak.
	Counts() (total, weak int)
}

// SyncOutcome is the last name sync result, published as a sensor.
type SyncOutcome struct {
	At      time.Time
	Applied int
	Errors  int
}

// Publisher manages the MQTT connection and pushes grid summary state
// to the broker whenever the grid changes plus on a slow heartbeat.
type Publisher struct {
	cfg    config.MQTTConfig
	source GridSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	mu       sync.Mutex
	lastSync *SyncOutcome
	kick     chan struct{}
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, source GridSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		source: source,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Start connects to the MQTT broker and blocks publishing state until
// ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.BrokerURL)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "rssigrid-" + p.cfg.TopicBase,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// GridChanged requests a state publish. Called from the grid render
// path; non-blocking, and bursts collapse into one publish.
func (p *Publisher) GridChanged() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// RecordSync records a name sync outcome for the last_sync sensor and
// triggers a publish.
func (p *Publisher) RecordSync(outcome SyncOutcome) {
	p.mu.Lock()
	p.lastSync = &outcome
	p.mu.Unlock()
	p.GridChanged()
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicBase
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return "homeassistant/sensor/" + p.cfg.TopicBase + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	return []sensorDef{
		{
			entitySuffix: "device_count",
			config: SensorConfig{
				Name:              p.cfg.DeviceName + " Device Count",
				UniqueID:          p.cfg.TopicBase + "_device_count",
				StateTopic:        p.stateTopic("device_count"),
				AvailabilityTopic: avail,
				Device:            NewDeviceInfo(p.cfg.TopicBase, p.cfg.DeviceName),
				Icon:              "mdi:devices",
				StateClass:        "measurement",
			},
		},
		{
			entitySuffix: "weak_count",
			config: SensorConfig{
				Name:              p.cfg.DeviceName + " Weak Signal Count",
				UniqueID:          p.cfg.TopicBase + "_weak_count",
				StateTopic:        p.stateTopic("weak_count"),
				AvailabilityTopic: avail,
				Device:            NewDeviceInfo(p.cfg.TopicBase, p.cfg.DeviceName),
				Icon:              "mdi:wifi-strength-1-alert",
				StateClass:        "measurement",
			},
		},
		{
			entitySuffix: "last_sync",
			config: SensorConfig{
				Name:              p.cfg.DeviceName + " Last Name Sync",
				UniqueID:          p.cfg.TopicBase + "_last_sync",
				StateTopic:        p.stateTopic("last_sync"),
				AvailabilityTopic: avail,
				Device:            NewDeviceInfo(p.cfg.TopicBase, p.cfg.DeviceName),
				Icon:              "mdi:sync",
				EntityCategory:    "diagnostic",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic(s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State publishing ---

// heartbeatInterval bounds how stale the sensors can get when the
// grid is quiet.
const heartbeatInterval = 5 * time.Minute

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.publishStates(ctx)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	total, weak := p.source.Counts()
	states := map[string]string{
		"device_count": strconv.Itoa(total),
		"weak_count":   strconv.Itoa(weak),
	}

	p.mu.Lock()
	last := p.lastSync
	p.mu.Unlock()
	if last != nil {
		states["last_sync"] = fmt.Sprintf("%s: %d renamed, %d errors",
			last.At.Format(time.RFC3339), last.Applied, last.Errors)
	} else {
		states["last_sync"] = "never"
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
