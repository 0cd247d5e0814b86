package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/metrics"
)

// DefaultChannel is the pub/sub channel instances relay events over.
const DefaultChannel = "chat_messages"

const publishTimeout = 2 * time.Second

// Envelope types mirrored across instances.
const (
	EnvelopeNewMessage = "new_message"
	EnvelopeUserStatus = "user_status"
	EnvelopeUserTyping = "user_typing"
)

// EventBus is a broker-agnostic publish/subscribe transport.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads until ctx is cancelled or the subscription
	// drops, at which point the channel is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Envelope is the cross-instance form of a notification.
type Envelope struct {
	Type        string          `json:"type"`
	Origin      string          `json:"origin"`
	UserID      string          `json:"user_id,omitempty"`
	RecipientID string          `json:"recipient_id,omitempty"`
	SenderID    string          `json:"sender_id,omitempty"`
	MessageData json.RawMessage `json:"message_data,omitempty"`
	IsTyping    bool            `json:"is_typing,omitempty"`
	Status      string          `json:"status,omitempty"`
}

// Dispatcher pushes notifications to the connections held in a Registry.
// Delivery is best-effort: offline users are skipped and send failures are
// logged, never returned.
type Dispatcher struct {
	registry *Registry
	logger   zerolog.Logger

	bus        EventBus
	channel    string
	instanceID string
}

func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		channel:  DefaultChannel,
	}
}

// UseBus mirrors every notification onto bus, tagged with instanceID. It
// must be called before the dispatcher is shared.
func (d *Dispatcher) UseBus(bus EventBus, channel, instanceID string) {
	if channel == "" {
		channel = DefaultChannel
	}
	d.bus = bus
	d.channel = channel
	d.instanceID = instanceID
}

// Registry returns the registry the dispatcher delivers through.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// InstanceID identifies this process on the bus.
func (d *Dispatcher) InstanceID() string { return d.instanceID }

// Channel is the bus channel envelopes are published on.
func (d *Dispatcher) Channel() string { return d.channel }

// NotifyNewMessage pushes new_message to the recipient and
// message_delivered to the sender, each only if online here.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, payload MessagePayload, senderID, recipientID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("failed to encode message payload")
		return
	}

	d.deliverMessage(data, payload.MessageID, senderID, recipientID)
	d.publish(ctx, Envelope{
		Type:        EnvelopeNewMessage,
		SenderID:    senderID,
		RecipientID: recipientID,
		MessageData: data,
	})
}

// BroadcastPresence sends user_status to every connection except the
// user's own.
func (d *Dispatcher) BroadcastPresence(ctx context.Context, userID, status string) {
	d.broadcastPresence(userID, status)
	d.publish(ctx, Envelope{Type: EnvelopeUserStatus, UserID: userID, Status: status})
}

// RelayTyping forwards a typing indicator to the recipient if online.
func (d *Dispatcher) RelayTyping(ctx context.Context, userID, recipientID string, isTyping bool) {
	d.relayTyping(userID, recipientID, isTyping)
	d.publish(ctx, Envelope{Type: EnvelopeUserTyping, UserID: userID, RecipientID: recipientID, IsTyping: isTyping})
}

// SendOnlineUsers sends the online user list to one connection.
func (d *Dispatcher) SendOnlineUsers(c Conn) {
	d.send(c, EventOnlineUsers, onlineUsersPayload{Users: d.registry.Online()})
}

// HandleEnvelope applies an envelope received from another instance to the
// local connections. Envelopes from this instance are ignored.
func (d *Dispatcher) HandleEnvelope(env Envelope) {
	if d.instanceID != "" && env.Origin == d.instanceID {
		return
	}
	metrics.RelayEvents.WithLabelValues("in", env.Type).Inc()

	switch env.Type {
	case EnvelopeNewMessage:
		var msg struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(env.MessageData, &msg); err != nil {
			d.logger.Warn().Err(err).Msg("dropping relayed message with bad payload")
			return
		}
		d.deliverMessage(env.MessageData, msg.MessageID, env.SenderID, env.RecipientID)
	case EnvelopeUserStatus:
		d.broadcastPresence(env.UserID, env.Status)
	case EnvelopeUserTyping:
		d.relayTyping(env.UserID, env.RecipientID, env.IsTyping)
	default:
		d.logger.Debug().Str("type", env.Type).Msg("ignoring unknown relay envelope")
	}
}

func (d *Dispatcher) deliverMessage(data json.RawMessage, messageID, senderID, recipientID string) {
	if c, ok := d.registry.Lookup(recipientID); ok {
		d.sendRaw(c, Event{Name: EventNewMessage, Data: data})
	}
	if c, ok := d.registry.Lookup(senderID); ok {
		d.send(c, EventMessageDelivered, deliveredPayload{MessageID: messageID, RecipientID: recipientID})
	}
}

func (d *Dispatcher) broadcastPresence(userID, status string) {
	own, _ := d.registry.Lookup(userID)
	ev, err := NewEvent(EventUserStatus, statusPayload{UserID: userID, Status: status})
	if err != nil {
		return
	}
	for _, c := range d.registry.Conns() {
		if own != nil && c.ID() == own.ID() {
			continue
		}
		d.sendRaw(c, ev)
	}
}

func (d *Dispatcher) relayTyping(userID, recipientID string, isTyping bool) {
	c, ok := d.registry.Lookup(recipientID)
	if !ok {
		return
	}
	d.send(c, EventUserTyping, typingPayload{UserID: userID, IsTyping: isTyping})
}

func (d *Dispatcher) send(c Conn, name string, data any) {
	ev, err := NewEvent(name, data)
	if err != nil {
		d.logger.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}
	d.sendRaw(c, ev)
}

func (d *Dispatcher) sendRaw(c Conn, ev Event) {
	if err := c.Send(ev); err != nil {
		metrics.EventsDropped.WithLabelValues(ev.Name).Inc()
		d.logger.Warn().
			Err(err).
			Str("conn_id", c.ID()).
			Str("event", ev.Name).
			Msg("failed to push event")
		return
	}
	metrics.EventsSent.WithLabelValues(ev.Name).Inc()
}

func (d *Dispatcher) publish(ctx context.Context, env Envelope) {
	if d.bus == nil {
		return
	}
	env.Origin = d.instanceID

	data, err := json.Marshal(env)
	if err != nil {
		d.logger.Error().Err(err).Str("type", env.Type).Msg("failed to encode relay envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := d.bus.Publish(ctx, d.channel, data); err != nil {
		metrics.RelayErrors.Inc()
		d.logger.Warn().Err(err).Str("type", env.Type).Msg("failed to publish relay envelope")
		return
	}
	metrics.RelayEvents.WithLabelValues("out", env.Type).Inc()
}
