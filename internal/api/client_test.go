package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendMessageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chats/c1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Content != "hello" || req.ClientID != "temp_1" {
			t.Errorf("request body = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(MessageRecord{
			ID: "m1", ChatID: "c1", SenderID: "u1", Content: req.Content, Type: "text", CreatedAt: 1000,
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	rec, err := c.SendMessage(context.Background(), "c1", SendRequest{ClientID: "temp_1", Content: "hello", MessageType: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "m1" {
		t.Errorf("server id = %q, want m1", rec.ID)
	}
}

func TestSendMessageDecodesWithoutContentType(t *testing.T) {
	// Some backends omit the content-type header; the client must still
	// decode the JSON body instead of relying on sniffing.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m1","chat_id":"c1","sender_id":"u1","content":"hello","message_type":"text","created_at":1000}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	rec, err := c.SendMessage(context.Background(), "c1", SendRequest{ClientID: "temp_1", Content: "hello", MessageType: "text"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "m1" {
		t.Errorf("server id = %q, want m1", rec.ID)
	}
}

func TestSendMessageValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"content too long"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	_, err := c.SendMessage(context.Background(), "c1", SendRequest{Content: "x"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Kind != KindValidation {
		t.Errorf("kind = %s, want validation", apiErr.Kind)
	}
	if apiErr.Retryable() {
		t.Error("validation errors must not be retryable")
	}
	if apiErr.Message != "content too long" {
		t.Errorf("message = %q, want server-provided reason", apiErr.Message)
	}
}

func TestSendMessageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	_, err := c.SendMessage(context.Background(), "c1", SendRequest{Content: "x"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Kind != KindServer || !apiErr.Retryable() {
		t.Errorf("got %+v, want retryable server error", apiErr)
	}
}

func TestSendMessageTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 50*time.Millisecond)
	_, err := c.SendMessage(context.Background(), "c1", SendRequest{Content: "x"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Kind != KindTimeout || !apiErr.Retryable() {
		t.Errorf("got %+v, want retryable timeout", apiErr)
	}
}

func TestSendMessageNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewRESTClient(srv.URL, "tok", time.Second)
	_, err := c.SendMessage(context.Background(), "c1", SendRequest{Content: "x"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Kind != KindNetwork || !apiErr.Retryable() {
		t.Errorf("got %+v, want retryable network error", apiErr)
	}
}

func TestGetUserChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"c1","type":"direct","participants":["u1","u2"],"unread_count":2,
			 "last_message":{"id":"m1","content":"hi","sender_id":"u2","created_at":1000},
			 "created_at":500,"updated_at":900},
			{"id":"c2","type":"group","participants":["u1","u2","u3"],"created_at":100,"updated_at":100}
		]`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	chats, err := c.GetUserChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.Preview != "hi" {
		t.Errorf("c1 last message = %+v", chats[0].LastMessage)
	}
	if chats[1].LastMessage != nil {
		t.Error("c2 should have no last message")
	}
}

func TestGetChatMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q", got)
		}
		if got := r.URL.Query().Get("before_id"); got != "m9" {
			t.Errorf("before_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"m1","chat_id":"c1","sender_id":"u2","content":"hi","message_type":"text","status":"seen","created_at":1000}
		]`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok", 2*time.Second)
	msgs, err := c.GetChatMessages(context.Background(), "c1", PageOptions{Limit: 10, BeforeID: "m9"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ServerID != "m1" || m.ClientID != "m1" {
		t.Errorf("ids = (%q, %q), want canonical m1", m.ClientID, m.ServerID)
	}
	if string(m.Status) != "seen" {
		t.Errorf("status = %s", m.Status)
	}
}
