package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ernie/synapse/internal/chat"
)

// REST is a minimal Discord REST client covering the message operations
// the bot needs. It implements chat.Transport.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewREST(baseURL, botToken string) *REST {
	return &REST{
		baseURL: baseURL,
		token:   botToken,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type messagePayload struct {
	Content     string       `json:"content"`
	Attachments []attachment `json:"attachments,omitempty"`
	Components  []component  `json:"components,omitempty"`
}

type attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// component is either an action row or a button
type component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Components []component `json:"components,omitempty"`
}

func buildComponents(buttons []chat.Button) []component {
	if len(buttons) == 0 {
		return nil
	}
	row := component{Type: 1} // action row
	for _, b := range buttons {
		row.Components = append(row.Components, component{
			Type:     2, // button
			Style:    1, // primary
			Label:    b.Label,
			CustomID: b.CustomID,
		})
	}
	return []component{row}
}

// encodeMessage builds the request body. Messages with files go out as
// multipart with a payload_json part, plain messages as JSON.
func encodeMessage(msg chat.Message) (body io.Reader, contentType string, err error) {
	payload := messagePayload{Content: msg.Content, Components: buildComponents(msg.Buttons)}
	for i, f := range msg.Files {
		payload.Attachments = append(payload.Attachments, attachment{ID: i, Filename: f.Name})
	}

	if len(msg.Files) == 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	part, err := writer.CreateFormField("payload_json")
	if err != nil {
		return nil, "", err
	}
	part.Write(data)

	for i, f := range msg.Files {
		part, err := writer.CreateFormFile(fmt.Sprintf("files[%d]", i), f.Name)
		if err != nil {
			return nil, "", err
		}
		part.Write(f.Data)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func (r *REST) do(ctx context.Context, method, path string, msg *chat.Message, out interface{}) error {
	var body io.Reader
	contentType := ""
	if msg != nil {
		var err error
		body, contentType, err = encodeMessage(*msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bot "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *REST) SendMessage(ctx context.Context, channelID string, msg chat.Message) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := r.do(ctx, http.MethodPost, path, &msg, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (r *REST) EditMessage(ctx context.Context, channelID, messageID string, msg chat.Message) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return r.do(ctx, http.MethodPatch, path, &msg, nil)
}

func (r *REST) EditInteractionResponse(ctx context.Context, applicationID, token string, msg chat.Message) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, token)
	return r.do(ctx, http.MethodPatch, path, &msg, nil)
}

func (r *REST) EditWebhookMessage(ctx context.Context, webhookID, webhookToken, messageID string, msg chat.Message) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/%s", webhookID, webhookToken, messageID)
	return r.do(ctx, http.MethodPatch, path, &msg, nil)
}

const flagEphemeral = 1 << 6

// CreateInteractionResponse acknowledges an interaction with a message,
// visible to everyone or only to the invoking user
func (r *REST) CreateInteractionResponse(ctx context.Context, interactionID, token, content string, ephemeral bool) error {
	flags := 0
	if ephemeral {
		flags = flagEphemeral
	}
	payload := struct {
		Type int `json:"type"`
		Data struct {
			Content string `json:"content"`
			Flags   int    `json:"flags,omitempty"`
		} `json:"data"`
	}{
		Type: 4, // CHANNEL_MESSAGE_WITH_SOURCE
	}
	payload.Data.Content = content
	payload.Data.Flags = flags
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("interaction callback failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("interaction callback returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// OriginalResponseID resolves the message id behind an interaction
// response so it can be edited after the token expires
func (r *REST) OriginalResponseID(ctx context.Context, applicationID, token string) (string, error) {
	var msg struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, token)
	if err := r.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}
