package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *Registry) {
	reg := NewRegistry()
	return NewDispatcher(reg, zerolog.Nop()), reg
}

func TestNotifyNewMessageRoundTrip(t *testing.T) {
	d, reg := newTestDispatcher()
	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	reg.Register("A", a)
	reg.Register("B", b)

	payload := MessagePayload{MessageID: "msg-1", SenderID: "A", Text: "dinner at 7", Confidence: 0.9}
	d.NotifyNewMessage(context.Background(), payload, "A", "B")

	got := b.received(EventNewMessage)
	require.Len(t, got, 1)
	assert.Equal(t, 1, b.total())
	var decoded MessagePayload
	require.NoError(t, json.Unmarshal(got[0].Data, &decoded))
	assert.Equal(t, payload, decoded)

	receipts := a.received(EventMessageDelivered)
	require.Len(t, receipts, 1)
	assert.Equal(t, 1, a.total())
	assert.Equal(t, "msg-1", decode(t, receipts[0])["message_id"])
}

func TestNotifyNewMessageOfflineRecipient(t *testing.T) {
	d, reg := newTestDispatcher()
	a := newFakeConn("conn-a")
	reg.Register("A", a)

	assert.NotPanics(t, func() {
		d.NotifyNewMessage(context.Background(), MessagePayload{MessageID: "m"}, "A", "B")
	})

	assert.Empty(t, a.received(EventNewMessage))
	assert.Len(t, a.received(EventMessageDelivered), 1)
}

func TestNotifyNewMessageBothOffline(t *testing.T) {
	d, _ := newTestDispatcher()
	assert.NotPanics(t, func() {
		d.NotifyNewMessage(context.Background(), MessagePayload{MessageID: "m"}, "A", "B")
	})
}

func TestNotifySwallowsSendFailures(t *testing.T) {
	d, reg := newTestDispatcher()
	b := newFakeConn("conn-b")
	b.err = ErrSendQueueFull
	a := newFakeConn("conn-a")
	reg.Register("A", a)
	reg.Register("B", b)

	d.NotifyNewMessage(context.Background(), MessagePayload{MessageID: "m"}, "A", "B")
	assert.Len(t, a.received(EventMessageDelivered), 1)
}

func TestBroadcastPresenceSkipsOwnConnection(t *testing.T) {
	d, reg := newTestDispatcher()
	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	anon := newFakeConn("conn-anon")
	reg.Register("A", a)
	reg.Register("B", b)
	reg.Attach(anon)

	d.BroadcastPresence(context.Background(), "A", StatusOnline)

	assert.Empty(t, a.received(EventUserStatus))
	for _, c := range []*fakeConn{b, anon} {
		got := c.received(EventUserStatus)
		require.Len(t, got, 1)
		data := decode(t, got[0])
		assert.Equal(t, "A", data["user_id"])
		assert.Equal(t, StatusOnline, data["status"])
	}
}

func TestRelayTyping(t *testing.T) {
	d, reg := newTestDispatcher()
	b := newFakeConn("conn-b")
	reg.Register("B", b)

	d.RelayTyping(context.Background(), "A", "B", true)
	d.RelayTyping(context.Background(), "A", "C", true)

	got := b.received(EventUserTyping)
	require.Len(t, got, 1)
	data := decode(t, got[0])
	assert.Equal(t, "A", data["user_id"])
	assert.Equal(t, true, data["is_typing"])
}

func TestSendOnlineUsers(t *testing.T) {
	d, reg := newTestDispatcher()
	a := newFakeConn("conn-a")
	reg.Register("B", newFakeConn("conn-b"))
	reg.Register("A", a)

	d.SendOnlineUsers(a)
	got := a.received(EventOnlineUsers)
	require.Len(t, got, 1)
	assert.Equal(t, []any{"A", "B"}, decode(t, got[0])["users"])
}

func TestDispatcherPublishesEnvelopes(t *testing.T) {
	d, _ := newTestDispatcher()
	bus := &fakeBus{}
	d.UseBus(bus, "", "node-1")

	ctx := context.Background()
	d.NotifyNewMessage(ctx, MessagePayload{MessageID: "m1"}, "A", "B")
	d.BroadcastPresence(ctx, "A", StatusOffline)
	d.RelayTyping(ctx, "A", "B", false)

	envs := bus.envelopes(t)
	require.Len(t, envs, 3)
	assert.Equal(t, EnvelopeNewMessage, envs[0].Type)
	assert.Equal(t, "B", envs[0].RecipientID)
	assert.Equal(t, EnvelopeUserStatus, envs[1].Type)
	assert.Equal(t, StatusOffline, envs[1].Status)
	assert.Equal(t, EnvelopeUserTyping, envs[2].Type)
	for _, env := range envs {
		assert.Equal(t, "node-1", env.Origin)
	}
	assert.Equal(t, DefaultChannel, d.Channel())
}

func TestDispatcherIgnoresPublishFailure(t *testing.T) {
	d, reg := newTestDispatcher()
	b := newFakeConn("conn-b")
	reg.Register("B", b)
	d.UseBus(&fakeBus{publishErr: errors.New("redis down")}, "", "node-1")

	d.NotifyNewMessage(context.Background(), MessagePayload{MessageID: "m"}, "A", "B")
	assert.Len(t, b.received(EventNewMessage), 1)
}

func TestHandleEnvelope(t *testing.T) {
	d, reg := newTestDispatcher()
	d.UseBus(&fakeBus{}, "", "node-1")
	a := newFakeConn("conn-a")
	b := newFakeConn("conn-b")
	reg.Register("A", a)
	reg.Register("B", b)

	msg, err := json.Marshal(MessagePayload{MessageID: "m9", Text: "hi"})
	require.NoError(t, err)

	d.HandleEnvelope(Envelope{Type: EnvelopeNewMessage, Origin: "node-1", SenderID: "A", RecipientID: "B", MessageData: msg})
	assert.Zero(t, b.total())

	d.HandleEnvelope(Envelope{Type: EnvelopeNewMessage, Origin: "node-2", SenderID: "A", RecipientID: "B", MessageData: msg})
	assert.Len(t, b.received(EventNewMessage), 1)
	assert.Len(t, a.received(EventMessageDelivered), 1)

	d.HandleEnvelope(Envelope{Type: EnvelopeUserStatus, Origin: "node-2", UserID: "C", Status: StatusOnline})
	assert.Len(t, a.received(EventUserStatus), 1)
	assert.Len(t, b.received(EventUserStatus), 1)

	d.HandleEnvelope(Envelope{Type: EnvelopeUserTyping, Origin: "node-2", UserID: "A", RecipientID: "B", IsTyping: true})
	assert.Len(t, b.received(EventUserTyping), 1)

	d.HandleEnvelope(Envelope{Type: "bogus", Origin: "node-2"})
}
