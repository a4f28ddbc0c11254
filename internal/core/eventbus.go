// Package core provides the process-internal messaging backbone. An
// embedded NATS server carries pipeline events to the API layer and any
// external subscribers.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Pipeline event subjects.
const (
	SubjectDetection = "sentry.detection"
	SubjectAlert     = "sentry.alert"
	SubjectTamper    = "sentry.tamper"
	SubjectAnomaly   = "sentry.anomaly"
	SubjectRecording = "sentry.recording"
	SubjectShutdown  = "sentry.shutdown"
)

// EventBus is a pub/sub bus over an embedded NATS server.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the embedded server.
type EventBusConfig struct {
	Host string
	Port int
	// StoreDir enables JetStream persistence when set.
	StoreDir        string
	EnableJetStream bool
}

// DefaultEventBusConfig returns the default bus configuration.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host: "127.0.0.1",
		Port: 12001,
	}
}

// NewEventBus starts an embedded NATS server and connects to it.
func NewEventBus(cfg EventBusConfig) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 12001
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}
	if cfg.EnableJetStream {
		opts.JetStream = true
		if cfg.StoreDir != "" {
			opts.StoreDir = cfg.StoreDir
		}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: slog.Default().With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL(), "jetstream", cfg.EnableJetStream)
	return eb, nil
}

// Publish marshals data as JSON and publishes it to a subject.
func (eb *EventBus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// Flush waits until all published messages have been processed by the
// server.
func (eb *EventBus) Flush() error {
	return eb.conn.Flush()
}

// Stop drains the connection and shuts the server down.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// HealthCheck verifies the bus connection is alive.
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	_, err := eb.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		return nil
	}
	return err
}

// DetectionEvent is published for every zone-matched detection.
type DetectionEvent struct {
	Zone       string    `json:"zone"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertEvent is published for every accepted alert.
type AlertEvent struct {
	Zone      string    `json:"zone"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// TamperEvent is published on tamper state transitions.
type TamperEvent struct {
	Kind      string    `json:"kind"` // "covered" or "moved"
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyEvent is published when the behavior model flags a detection.
type AnomalyEvent struct {
	Zone      string    `json:"zone"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordingEvent is published when a recording starts or completes.
type RecordingEvent struct {
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	State     string    `json:"state"` // "started" or "completed"
	Timestamp time.Time `json:"timestamp"`
}
