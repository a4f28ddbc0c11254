package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sentrycam/sentrycam/internal/core"
)

// BusBridge relays pipeline events from the event bus to the WebSocket hub.
type BusBridge struct {
	bus    *core.EventBus
	hub    *Hub
	logger *slog.Logger
}

// NewBusBridge creates a bridge between the bus and the hub.
func NewBusBridge(bus *core.EventBus, hub *Hub) *BusBridge {
	return &BusBridge{
		bus:    bus,
		hub:    hub,
		logger: slog.Default().With("component", "bus-bridge"),
	}
}

// Start subscribes to every pipeline subject.
func (b *BusBridge) Start() error {
	routes := map[string]MessageType{
		core.SubjectDetection: MessageTypeDetection,
		core.SubjectAlert:     MessageTypeAlert,
		core.SubjectTamper:    MessageTypeTamper,
		core.SubjectAnomaly:   MessageTypeAnomaly,
		core.SubjectRecording: MessageTypeRecording,
	}

	for subject, kind := range routes {
		kind := kind
		_, err := b.bus.Subscribe(subject, func(msg *nats.Msg) {
			var payload map[string]any
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				b.logger.Error("Malformed bus event", "subject", msg.Subject, "error", err)
				return
			}
			b.hub.Broadcast(Message{
				Type:      kind,
				Timestamp: time.Now(),
				Data:      payload,
			})
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}
	return nil
}

// Stop removes the bridge subscriptions.
func (b *BusBridge) Stop() {
	for _, subject := range []string{
		core.SubjectDetection,
		core.SubjectAlert,
		core.SubjectTamper,
		core.SubjectAnomaly,
		core.SubjectRecording,
	} {
		b.bus.Unsubscribe(subject)
	}
}
