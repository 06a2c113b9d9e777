// Package chat abstracts how the bot posts and edits progress messages.
// Discord interaction and webhook tokens expire after fifteen minutes, so
// edits walk a fallback chain: interaction response, then webhook message,
// then a direct edit with the bot token.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"
)

// File is a binary attachment, typically a rendered progress image
type File struct {
	Name string
	Data []byte
}

// Button is an interactive component attached to a message
type Button struct {
	Label    string
	CustomID string
}

// Message is the renderable payload for a channel message
type Message struct {
	Content string
	Files   []File
	Buttons []Button
}

// Handle carries every route by which a posted message can later be edited.
// Interaction and webhook tokens are optional and expire.
type Handle struct {
	ChannelID        string
	MessageID        string
	InteractionToken string
	WebhookID        string
	WebhookToken     string
	TokenExpiry      time.Time
}

// tokenValid reports whether the ephemeral tokens are still usable
func (h Handle) tokenValid(now time.Time) bool {
	return !h.TokenExpiry.IsZero() && now.Before(h.TokenExpiry)
}

// Transport performs raw message operations against the chat platform
type Transport interface {
	SendMessage(ctx context.Context, channelID string, msg Message) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	EditInteractionResponse(ctx context.Context, applicationID, token string, msg Message) error
	EditWebhookMessage(ctx context.Context, webhookID, webhookToken, messageID string, msg Message) error
}

// DeliveryChain edits messages through the cheapest still-valid route
type DeliveryChain struct {
	transport     Transport
	applicationID string
	now           func() time.Time
}

func NewDeliveryChain(transport Transport, applicationID string) *DeliveryChain {
	return &DeliveryChain{
		transport:     transport,
		applicationID: applicationID,
		now:           time.Now,
	}
}

// Post sends a fresh message and returns its id
func (d *DeliveryChain) Post(ctx context.Context, channelID string, msg Message) (string, error) {
	return d.transport.SendMessage(ctx, channelID, msg)
}

// Edit updates an existing message, falling back route by route. It
// returns the last error when no route succeeds.
func (d *DeliveryChain) Edit(ctx context.Context, h Handle, msg Message) error {
	now := d.now()
	var lastErr error

	if h.InteractionToken != "" && h.tokenValid(now) {
		if err := d.transport.EditInteractionResponse(ctx, d.applicationID, h.InteractionToken, msg); err == nil {
			return nil
		} else {
			log.Printf("Interaction edit failed for message %s, falling back: %v", h.MessageID, err)
			lastErr = err
		}
	}

	if h.WebhookID != "" && h.WebhookToken != "" && h.tokenValid(now) {
		if err := d.transport.EditWebhookMessage(ctx, h.WebhookID, h.WebhookToken, h.MessageID, msg); err == nil {
			return nil
		} else {
			log.Printf("Webhook edit failed for message %s, falling back: %v", h.MessageID, err)
			lastErr = err
		}
	}

	if h.ChannelID != "" && h.MessageID != "" {
		if err := d.transport.EditMessage(ctx, h.ChannelID, h.MessageID, msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no delivery route for message %s", h.MessageID)
	}
	return lastErr
}
