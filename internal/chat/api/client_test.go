package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, AuthToken: "token-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchHistoryDecodesPage(t *testing.T) {
	created := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/trip-1/messages" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "cur-1" {
			t.Fatalf("cursor = %q, want %q", got, "cur-1")
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Fatalf("limit = %q, want %q", got, "20")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{
					"id":         "m1",
					"trip_id":    "trip-1",
					"content":    "hello",
					"sender":     map[string]any{"id": "user-1", "name": "Ana"},
					"created_at": created,
				},
			},
			"next_cursor": "cur-2",
			"has_more":    true,
		})
	}))

	page, err := client.FetchHistory(context.Background(), "trip-1", "cur-1", 20)
	if err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v", page.Messages)
	}
	if !page.Messages[0].CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", page.Messages[0].CreatedAt, created)
	}
	if page.NextCursor != "cur-2" || !page.HasMore {
		t.Fatalf("pagination = %+v", page)
	}
}

func TestFetchHistoryHasMoreFalseWithoutCursor(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{},
			"has_more": true,
		})
	}))

	page, err := client.FetchHistory(context.Background(), "trip-1", "", 0)
	if err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	if page.HasMore {
		t.Fatal("has_more without next_cursor must resolve to false")
	}
}

func TestSendMessageReturnsCanonical(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %q", r.Method)
		}
		var req struct {
			Content         string `json:"content"`
			ClientMessageID string `json:"client_message_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ClientMessageID != "tmp_abc" {
			t.Fatalf("client_message_id = %q", req.ClientMessageID)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"id":                "m7",
				"trip_id":           "trip-1",
				"content":           req.Content,
				"sender":            map[string]any{"id": "user-1", "name": "Ana"},
				"created_at":        time.Now().UTC(),
				"client_message_id": req.ClientMessageID,
			},
		})
	}))

	msg, err := client.SendMessage(context.Background(), "trip-1", "Hello", "tmp_abc")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.ID != "m7" || msg.ClientMessageID != "tmp_abc" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestServerRejectionCarriesReason(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "message too long"},
		})
	}))

	_, err := client.SendMessage(context.Background(), "trip-1", "Hello", "tmp_abc")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := platformerrors.CodeOf(err); code != platformerrors.CodeServerRejected {
		t.Fatalf("code = %q, want %q", code, platformerrors.CodeServerRejected)
	}
	if err.Error() != "message too long" {
		t.Fatalf("reason = %q, want server-provided reason", err.Error())
	}
}

func TestServerErrorMapsToNetwork(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.MarkRead(context.Background(), "trip-1", "m1")
	if code := platformerrors.CodeOf(err); code != platformerrors.CodeNetwork {
		t.Fatalf("code = %q, want %q", code, platformerrors.CodeNetwork)
	}
}

func TestTransportFailureMapsToNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchHistory(context.Background(), "trip-1", "", 10)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeNetwork, "")) {
		t.Fatalf("err = %v, want NETWORK", err)
	}
}

func TestMarkReadSendsMessageID(t *testing.T) {
	var got string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MessageID string `json:"message_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		got = req.MessageID
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.MarkRead(context.Background(), "trip-1", "m42"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got != "m42" {
		t.Fatalf("message_id = %q, want %q", got, "m42")
	}
}
