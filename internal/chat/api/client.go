// Package api is the JSON-over-HTTP client for the chat request/response
// boundary: history fetch, message send and read marking. The boundary is
// consumed, not redefined here; the server stays an opaque collaborator.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roamio/tripchat/internal/chat"
	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
	"github.com/roamio/tripchat/internal/platform/timeouts"
)

// Config defines the inputs for the REST boundary client.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client calls the chat REST boundary.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient builds a client with sane defaults.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = timeouts.HTTPRequest
	}
	return &Client{
		baseURL:   baseURL,
		authToken: strings.TrimSpace(config.AuthToken),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer("tripchat/api"),
	}, nil
}

type wireSender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type wireMessage struct {
	ID              string     `json:"id"`
	TripID          string     `json:"trip_id"`
	Content         string     `json:"content"`
	Sender          wireSender `json:"sender"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	ClientMessageID string     `json:"client_message_id,omitempty"`
}

type historyResponse struct {
	Messages   []wireMessage `json:"messages"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

type sendRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

type sendResponse struct {
	Message wireMessage `json:"message"`
}

type markReadRequest struct {
	MessageID string `json:"message_id"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (m wireMessage) toDomain() chat.Message {
	msg := chat.Message{
		ID:      m.ID,
		TripID:  m.TripID,
		Content: m.Content,
		Sender: chat.Sender{
			ID:        m.Sender.ID,
			Name:      m.Sender.Name,
			AvatarURL: m.Sender.AvatarURL,
		},
		CreatedAt:       m.CreatedAt,
		ClientMessageID: m.ClientMessageID,
	}
	if m.UpdatedAt != nil {
		msg.UpdatedAt = *m.UpdatedAt
	}
	return msg
}

// FetchHistory requests one page of older messages. An empty cursor requests
// the newest page.
func (c *Client) FetchHistory(ctx context.Context, tripID string, cursor string, limit int) (chat.HistoryPage, error) {
	ctx, span := c.tracer.Start(ctx, "chat.fetch_history",
		trace.WithAttributes(attribute.String("trip.id", tripID)))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	endpoint := fmt.Sprintf("%s/trips/%s/messages?limit=%s", c.baseURL, url.PathEscape(tripID), strconv.Itoa(limit))
	if strings.TrimSpace(cursor) != "" {
		endpoint += "&cursor=" + url.QueryEscape(cursor)
	}

	var payload historyResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return chat.HistoryPage{}, err
	}

	page := chat.HistoryPage{
		Messages:   make([]chat.Message, 0, len(payload.Messages)),
		NextCursor: strings.TrimSpace(payload.NextCursor),
	}
	for _, m := range payload.Messages {
		page.Messages = append(page.Messages, m.toDomain())
	}
	page.HasMore = payload.HasMore && page.NextCursor != ""
	return page, nil
}

// SendMessage stores a message, correlated by the client-chosen token, and
// returns the canonical stored message.
func (c *Client) SendMessage(ctx context.Context, tripID string, content string, clientMessageID string) (chat.Message, error) {
	ctx, span := c.tracer.Start(ctx, "chat.send_message",
		trace.WithAttributes(attribute.String("trip.id", tripID)))
	defer span.End()

	endpoint := fmt.Sprintf("%s/trips/%s/messages", c.baseURL, url.PathEscape(tripID))
	var payload sendResponse
	err := c.do(ctx, http.MethodPost, endpoint, sendRequest{
		Content:         content,
		ClientMessageID: clientMessageID,
	}, &payload)
	if err != nil {
		return chat.Message{}, err
	}
	return payload.Message.toDomain(), nil
}

// MarkRead records the caller's read position for a trip.
func (c *Client) MarkRead(ctx context.Context, tripID string, messageID string) error {
	ctx, span := c.tracer.Start(ctx, "chat.mark_read",
		trace.WithAttributes(attribute.String("trip.id", tripID)))
	defer span.End()

	endpoint := fmt.Sprintf("%s/trips/%s/read", c.baseURL, url.PathEscape(tripID))
	return c.do(ctx, http.MethodPost, endpoint, markReadRequest{MessageID: messageID}, nil)
}

// do issues one request and decodes the response into out when non-nil.
// Transport failures map to NETWORK; 4xx responses map to SERVER_REJECTED
// with the server-provided reason; 5xx responses are treated as transient.
func (c *Client) do(ctx context.Context, method string, endpoint string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return platformerrors.Wrap(platformerrors.CodeNetwork, "request "+method+" "+endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		reason := serverReason(resp)
		return platformerrors.WithMetadata(platformerrors.CodeServerRejected, reason, map[string]string{
			"status": strconv.Itoa(resp.StatusCode),
		})
	}
	if resp.StatusCode >= 500 {
		return platformerrors.New(platformerrors.CodeNetwork,
			fmt.Sprintf("server status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return platformerrors.Wrap(platformerrors.CodeNetwork, "decode response", err)
	}
	return nil
}

func serverReason(resp *http.Response) string {
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		if reason := strings.TrimSpace(payload.Error.Message); reason != "" {
			return reason
		}
	}
	return fmt.Sprintf("server rejected request with status %d", resp.StatusCode)
}
