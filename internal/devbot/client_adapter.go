package devbot

import (
	"context"
	"net/http"
)

// Client binds the API helpers to a base URL, token and HTTP client so that
// callers can hold a single value instead of threading connection details
// through every call.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Token      string
}

// NewClient constructs a Client. A nil httpClient falls back to http.DefaultClient.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTPClient: httpClient, BaseURL: baseURL, Token: token}
}

func (c *Client) CreateChat(ctx context.Context, title string) (ChatMeta, error) {
	meta, err := CreateChat(ctx, c.HTTPClient, c.BaseURL, c.Token, title)
	if err != nil {
		return ChatMeta{}, err
	}
	return *meta, nil
}

func (c *Client) ListChats(ctx context.Context) ([]ChatMeta, error) {
	return ListChats(ctx, c.HTTPClient, c.BaseURL, c.Token)
}

func (c *Client) ChatHistory(ctx context.Context, chatID int64) ([]HistoryMessage, error) {
	return GetChatHistory(ctx, c.HTTPClient, c.BaseURL, c.Token, chatID)
}

func (c *Client) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	return GetChatTitle(ctx, c.HTTPClient, c.BaseURL, c.Token, chatID)
}

func (c *Client) Respond(ctx context.Context, req RespondRequest) (RespondResult, error) {
	result, err := Respond(ctx, c.HTTPClient, c.BaseURL, c.Token, req)
	if err != nil {
		return RespondResult{}, err
	}
	return *result, nil
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	status, err := GetTaskStatus(ctx, c.HTTPClient, c.BaseURL, c.Token, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	return *status, nil
}

func (c *Client) RenameChat(ctx context.Context, chatID int64, newTitle string) error {
	return RenameChat(ctx, c.HTTPClient, c.BaseURL, c.Token, chatID, newTitle)
}

func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return DeleteChat(ctx, c.HTTPClient, c.BaseURL, c.Token, chatID)
}

func (c *Client) Models(ctx context.Context) ([]string, error) {
	return GetModels(ctx, c.HTTPClient, c.BaseURL, c.Token)
}
