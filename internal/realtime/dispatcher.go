package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Dispatcher resolves a logical audience (one user, a participant list, or a
// room) to live connections and delivers an event to each. Delivery is
// at-most-once and unordered: no retries, no deduplication, and a failed
// send to one connection never aborts the rest of the fan-out.
type Dispatcher struct {
	registry *Registry
	rooms    *Rooms
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry and room index
func NewDispatcher(registry *Registry, rooms *Rooms, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
	}
}

func (d *Dispatcher) marshal(eventType string, payload interface{}) ([]byte, bool) {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		d.logger.Error("failed to build event", "event", eventType, "error", err)
		return nil, false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("failed to marshal event", "event", eventType, "error", err)
		return nil, false
	}
	return data, true
}

// SendToUser delivers the event to every live connection of one user.
// Zero connections is a valid, silent no-op: the user is offline and the
// payload remains only in persisted storage for later fetch.
func (d *Dispatcher) SendToUser(userID uuid.UUID, eventType string, payload interface{}) {
	data, ok := d.marshal(eventType, payload)
	if !ok {
		return
	}
	d.deliver(d.registry.ConnectionsFor(userID), data, uuid.Nil)
}

// SendToConversation delivers the event to every participant's connections,
// skipping excludeUserID (uuid.Nil excludes nobody). Used both ways: read
// receipts exclude nobody, typing excludes the typist.
func (d *Dispatcher) SendToConversation(participantIDs []uuid.UUID, eventType string, payload interface{}, excludeUserID uuid.UUID) {
	data, ok := d.marshal(eventType, payload)
	if !ok {
		return
	}
	for _, userID := range participantIDs {
		if userID == excludeUserID {
			continue
		}
		d.deliver(d.registry.ConnectionsFor(userID), data, uuid.Nil)
	}
}

// SendToRoom delivers the event to every connection subscribed to the topic,
// skipping connections owned by excludeUserID.
func (d *Dispatcher) SendToRoom(roomID uuid.UUID, eventType string, payload interface{}, excludeUserID uuid.UUID) {
	data, ok := d.marshal(eventType, payload)
	if !ok {
		return
	}
	d.deliver(d.rooms.Clients(roomID), data, excludeUserID)
}

// SendRawToRoom forwards an already-encoded payload to a room; used by the
// pubsub bridge, which receives payloads it does not need to re-decode.
func (d *Dispatcher) SendRawToRoom(roomID uuid.UUID, eventType string, payload json.RawMessage, excludeUserID uuid.UUID) {
	data, ok := d.marshal(eventType, payload)
	if !ok {
		return
	}
	d.deliver(d.rooms.Clients(roomID), data, excludeUserID)
}

// SendRawToUser forwards an already-encoded payload to one user's connections
func (d *Dispatcher) SendRawToUser(userID uuid.UUID, eventType string, payload json.RawMessage) {
	data, ok := d.marshal(eventType, payload)
	if !ok {
		return
	}
	d.deliver(d.registry.ConnectionsFor(userID), data, uuid.Nil)
}

// deliver pushes the bytes to each connection. A connection that is closed
// or backed up simply misses the event; it will prune itself through its own
// disconnect path.
func (d *Dispatcher) deliver(clients []*Client, data []byte, excludeUserID uuid.UUID) {
	for _, c := range clients {
		if excludeUserID != uuid.Nil && c.UserID() == excludeUserID {
			continue
		}
		c.enqueue(data)
	}
}
