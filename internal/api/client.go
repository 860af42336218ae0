// Package api is the client for the REST backend: the authoritative
// create path for outbound messages and the fetch paths for chats and
// message history. Failures surface as typed errors the delivery
// pipeline inspects to decide retry-worthiness.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"chatcore/internal/message"
)

// SendRequest is the body of an authoritative message create.
type SendRequest struct {
	ClientID    string `json:"client_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

// MessageRecord is the server's view of a created message.
type MessageRecord struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Type      string `json:"message_type"`
	CreatedAt int64  `json:"created_at"`
}

// PageOptions selects a page of chat history.
type PageOptions struct {
	Limit    int
	BeforeID string
}

// Client is the remote API surface the core depends on.
type Client interface {
	SendMessage(ctx context.Context, chatID string, req SendRequest) (*MessageRecord, error)
	GetUserChats(ctx context.Context) ([]message.Chat, error)
	GetChatMessages(ctx context.Context, chatID string, opts PageOptions) ([]message.Message, error)
}

// RESTClient implements Client against the HTTP backend.
type RESTClient struct {
	http *resty.Client
}

// NewRESTClient creates a client for the given base URL. Every request
// carries the bearer token and is bounded by timeout.
func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &RESTClient{http: client}
}

type errorBody struct {
	Error string `json:"error"`
}

// SendMessage creates a message on the server and returns the
// authoritative record carrying the server-assigned id.
func (c *RESTClient) SendMessage(ctx context.Context, chatID string, req SendRequest) (*MessageRecord, error) {
	var rec MessageRecord
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rec).
		SetError(&errBody).
		ForceContentType("application/json").
		Post(fmt.Sprintf("/v1/chats/%s/messages", chatID))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), errorText(errBody, resp))
	}
	if rec.ID == "" {
		return nil, &Error{Kind: KindServer, StatusCode: resp.StatusCode(), Message: "response missing message id"}
	}
	return &rec, nil
}

// GetUserChats fetches the caller's chat list.
func (c *RESTClient) GetUserChats(ctx context.Context) ([]message.Chat, error) {
	var dtos []chatDTO
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&dtos).
		SetError(&errBody).
		ForceContentType("application/json").
		Get("/v1/chats")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), errorText(errBody, resp))
	}
	chats := make([]message.Chat, 0, len(dtos))
	for _, d := range dtos {
		chats = append(chats, d.toChat())
	}
	return chats, nil
}

// GetChatMessages fetches a page of a chat's history, newest-first
// pagination by BeforeID.
func (c *RESTClient) GetChatMessages(ctx context.Context, chatID string, opts PageOptions) ([]message.Message, error) {
	req := c.http.R().SetContext(ctx)
	if opts.Limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.BeforeID != "" {
		req.SetQueryParam("before_id", opts.BeforeID)
	}
	var dtos []messageDTO
	var errBody errorBody
	resp, err := req.
		SetResult(&dtos).
		SetError(&errBody).
		ForceContentType("application/json").
		Get(fmt.Sprintf("/v1/chats/%s/messages", chatID))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), errorText(errBody, resp))
	}
	msgs := make([]message.Message, 0, len(dtos))
	for _, d := range dtos {
		msgs = append(msgs, d.toMessage())
	}
	return msgs, nil
}

func errorText(body errorBody, resp *resty.Response) string {
	if body.Error != "" {
		return body.Error
	}
	return resp.Status()
}

type lastMessageDTO struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SenderID  string `json:"sender_id"`
	CreatedAt int64  `json:"created_at"`
}

type chatDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Participants []string        `json:"participants"`
	LastMessage  *lastMessageDTO `json:"last_message"`
	UnreadCount  int             `json:"unread_count"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
}

func (d chatDTO) toChat() message.Chat {
	c := message.Chat{
		ID:           d.ID,
		Type:         message.ChatType(d.Type),
		Participants: d.Participants,
		UnreadCount:  d.UnreadCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.LastMessage != nil {
		c.LastMessage = &message.LastMessage{
			ID:        d.LastMessage.ID,
			Preview:   d.LastMessage.Content,
			SenderID:  d.LastMessage.SenderID,
			CreatedAt: d.LastMessage.CreatedAt,
		}
	}
	return c
}

type messageDTO struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

func (d messageDTO) toMessage() message.Message {
	clientID := d.ClientID
	if clientID == "" {
		// A record fetched from the server is canonical under its server id.
		clientID = d.ID
	}
	status := message.Status(d.Status)
	if !status.Valid() {
		status = message.StatusSent
	}
	return message.Message{
		ClientID:  clientID,
		ServerID:  d.ID,
		ChatID:    d.ChatID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Type:      message.Type(d.MessageType),
		MediaURL:  d.MediaURL,
		Status:    status,
		CreatedAt: d.CreatedAt,
	}
}
