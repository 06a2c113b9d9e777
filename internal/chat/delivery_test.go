package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	interactionErr error
	webhookErr     error
	directErr      error
	calls          []string
}

func (f *fakeTransport) SendMessage(_ context.Context, channelID string, _ Message) (string, error) {
	f.calls = append(f.calls, "send:"+channelID)
	return "msg-1", nil
}

func (f *fakeTransport) EditMessage(_ context.Context, _, _ string, _ Message) error {
	f.calls = append(f.calls, "direct")
	return f.directErr
}

func (f *fakeTransport) EditInteractionResponse(_ context.Context, _, _ string, _ Message) error {
	f.calls = append(f.calls, "interaction")
	return f.interactionErr
}

func (f *fakeTransport) EditWebhookMessage(_ context.Context, _, _, _ string, _ Message) error {
	f.calls = append(f.calls, "webhook")
	return f.webhookErr
}

func newChain(transport *fakeTransport, now time.Time) *DeliveryChain {
	chain := NewDeliveryChain(transport, "app-1")
	chain.now = func() time.Time { return now }
	return chain
}

func liveHandle(now time.Time) Handle {
	return Handle{
		ChannelID:        "chan-1",
		MessageID:        "msg-1",
		InteractionToken: "itoken",
		WebhookID:        "wh-1",
		WebhookToken:     "wtoken",
		TokenExpiry:      now.Add(10 * time.Minute),
	}
}

func TestEditPrefersInteraction(t *testing.T) {
	now := time.Now()
	transport := &fakeTransport{}
	chain := newChain(transport, now)

	require.NoError(t, chain.Edit(context.Background(), liveHandle(now), Message{Content: "hi"}))
	assert.Equal(t, []string{"interaction"}, transport.calls)
}

func TestEditFallsBackToWebhookThenDirect(t *testing.T) {
	now := time.Now()
	transport := &fakeTransport{
		interactionErr: errors.New("interaction expired"),
		webhookErr:     errors.New("webhook gone"),
	}
	chain := newChain(transport, now)

	require.NoError(t, chain.Edit(context.Background(), liveHandle(now), Message{Content: "hi"}))
	assert.Equal(t, []string{"interaction", "webhook", "direct"}, transport.calls)
}

func TestEditSkipsExpiredTokens(t *testing.T) {
	now := time.Now()
	transport := &fakeTransport{}
	chain := newChain(transport, now)

	h := liveHandle(now)
	h.TokenExpiry = now.Add(-time.Minute)

	require.NoError(t, chain.Edit(context.Background(), h, Message{Content: "hi"}))
	assert.Equal(t, []string{"direct"}, transport.calls)
}

func TestEditReturnsLastError(t *testing.T) {
	now := time.Now()
	directErr := errors.New("direct failed")
	transport := &fakeTransport{
		interactionErr: errors.New("a"),
		webhookErr:     errors.New("b"),
		directErr:      directErr,
	}
	chain := newChain(transport, now)

	err := chain.Edit(context.Background(), liveHandle(now), Message{Content: "hi"})
	assert.ErrorIs(t, err, directErr)
}

func TestEditNoRoutes(t *testing.T) {
	chain := newChain(&fakeTransport{}, time.Now())

	err := chain.Edit(context.Background(), Handle{MessageID: "msg-1"}, Message{})
	assert.Error(t, err)
	assert.Empty(t, chain.transport.(*fakeTransport).calls)
}

func TestPost(t *testing.T) {
	transport := &fakeTransport{}
	chain := newChain(transport, time.Now())

	id, err := chain.Post(context.Background(), "chan-1", Message{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, []string{"send:chan-1"}, transport.calls)
}
