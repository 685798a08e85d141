// Package devbot implements the HTTP client for the DevBot conversation API.
package devbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devbot/devbotctl/internal/meta"
)

const (
	modelsPathSegment      = "api/get_models"
	listChatsPathSegment   = "api/list_chats"
	chatHistoryPathSegment = "api/chat_history"
	chatTitlePathSegment   = "api/chat_title"
	createChatPathSegment  = "api/create_chat"
	deleteChatPathSegment  = "api/delete_chat"
	renameChatPathSegment  = "api/rename_chat"
	respondPathSegment     = "api/respond"
	taskStatusPathSegment  = "api/task_status"

	snippetLimit = 512
)

// DefaultChatTitle is the placeholder title assigned to freshly created chats
// until the server derives a real one from the first exchange.
const DefaultChatTitle = "New Chat"

// Task states reported by the task_status endpoint. Anything other than done
// or error means the task is still in flight.
const (
	TaskStateDone  = "done"
	TaskStateError = "error"
)

// ChatMeta describes a single chat as reported by the directory endpoints.
type ChatMeta struct {
	ID        int64    `json:"id"         yaml:"id"`
	Title     string   `json:"title"      yaml:"title"`
	CreatedAt FlexTime `json:"created_at" yaml:"created_at"`
}

type chatListPayload struct {
	Chats []ChatMeta `json:"chats"`
}

type createChatPayload struct {
	Title string `json:"title"`
}

type createChatResult struct {
	Success bool   `json:"success"`
	ChatID  int64  `json:"chat_id"`
	Title   string `json:"title"`
}

type renameChatPayload struct {
	ChatID   int64  `json:"chat_id"`
	NewTitle string `json:"new_title"`
}

// HistoryMessage is one persisted turn entry from the chat_history endpoint.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Upload carries an attachment to be sent alongside a prompt.
type Upload struct {
	Filename string
	Content  io.Reader
}

// RespondRequest bundles everything the respond endpoint needs for one turn.
type RespondRequest struct {
	ChatID     int64
	Prompt     string
	Model      string
	Attachment *Upload
}

// RespondResult is the respond endpoint's answer. Exactly one of Response or
// TaskID is populated: TaskID means the reply is computed asynchronously and
// must be collected via GetTaskStatus.
type RespondResult struct {
	Response string `json:"response"`
	TaskID   string `json:"task_id"`
	ChatID   int64  `json:"chat_id"`
	Title    string `json:"title"`
}

// TaskStatus reports the state of an asynchronous response task.
type TaskStatus struct {
	Status   string `json:"status"`
	Response string `json:"response"`
	Message  string `json:"message"`
}

// Terminal reports whether the task has finished, successfully or not.
func (s *TaskStatus) Terminal() bool {
	return s != nil && (s.Status == TaskStateDone || s.Status == TaskStateError)
}

// FlexTime decodes the handful of timestamp layouts the backend emits.
type FlexTime struct {
	time.Time
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range flexTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

// MarshalJSON implements json.Marshaler.
func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// GetModels retrieves the list of models the server can route prompts to.
func GetModels(ctx context.Context, client *http.Client, baseURL, token string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, modelsPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct models endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build models request: %w", err)
	}
	applyHeaders(req, token)

	logDebug(ctx, "devbot list models request",
		slog.String("endpoint", endpoint))

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot list models request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, wrapIfTransient(fmt.Errorf("failed to execute models request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot list models", endpoint, resp)
	}

	var payload struct {
		Response [][]string `json:"response"`
		Error    string     `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("model discovery failed: %s", payload.Error)
	}

	var models []string
	for _, group := range payload.Response {
		models = append(models, group...)
	}
	return models, nil
}

// ListChats retrieves the chat directory ordered most-recent first.
func ListChats(ctx context.Context, client *http.Client, baseURL, token string) ([]ChatMeta, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, listChatsPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct chats endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chats request: %w", err)
	}
	applyHeaders(req, token)

	logDebug(ctx, "devbot list chats request",
		slog.String("endpoint", endpoint))

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot list chats request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, wrapIfTransient(fmt.Errorf("failed to execute chats request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot list chats", endpoint, resp)
	}

	var payload chatListPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode chats response: %w", err)
	}

	logDebug(ctx, "devbot list chats",
		slog.Int("count", len(payload.Chats)))

	return payload.Chats, nil
}

// GetChatHistory retrieves every persisted message of a chat in chronological order.
func GetChatHistory(ctx context.Context, client *http.Client, baseURL, token string, chatID int64) (
	[]HistoryMessage, error,
) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := chatEndpoint(baseURL, chatHistoryPathSegment, chatID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	applyHeaders(req, token)

	logDebug(ctx, "devbot chat history request",
		slog.Int64("chat_id", chatID))

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot chat history request failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return nil, wrapIfTransient(fmt.Errorf("failed to execute history request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot chat history", endpoint, resp)
	}

	var history []HistoryMessage
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	logDebug(ctx, "devbot chat history",
		slog.Int64("chat_id", chatID),
		slog.Int("messages", len(history)))

	return history, nil
}

// GetChatTitle retrieves the current server-side title for a chat.
func GetChatTitle(ctx context.Context, client *http.Client, baseURL, token string, chatID int64) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := chatEndpoint(baseURL, chatTitlePathSegment, chatID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build title request: %w", err)
	}
	applyHeaders(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", wrapIfTransient(fmt.Errorf("failed to execute title request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(ctx, "devbot chat title", endpoint, resp)
	}

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode title response: %w", err)
	}
	return payload.Title, nil
}

// CreateChat creates a new chat and returns its directory entry.
func CreateChat(ctx context.Context, client *http.Client, baseURL, token, title string) (*ChatMeta, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}

	endpoint, err := url.JoinPath(baseURL, createChatPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct create endpoint: %w", err)
	}

	body, err := json.Marshal(createChatPayload{Title: title})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	applyHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	logDebug(ctx, "devbot create chat request",
		slog.String("endpoint", endpoint),
		slog.String("title", title))

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot create chat request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, wrapIfTransient(fmt.Errorf("failed to execute create request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot create chat", endpoint, resp)
	}

	var result createChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}

	logInfo(ctx, "devbot chat created",
		slog.Int64("chat_id", result.ChatID),
		slog.String("title", result.Title))

	return &ChatMeta{
		ID:        result.ChatID,
		Title:     result.Title,
		CreatedAt: FlexTime{Time: time.Now()},
	}, nil
}

// RenameChat sets a new title for an existing chat.
func RenameChat(ctx context.Context, client *http.Client, baseURL, token string, chatID int64, newTitle string) error {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, renameChatPathSegment)
	if err != nil {
		return fmt.Errorf("failed to construct rename endpoint: %w", err)
	}

	body, err := json.Marshal(renameChatPayload{ChatID: chatID, NewTitle: newTitle})
	if err != nil {
		return fmt.Errorf("failed to encode rename payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rename request: %w", err)
	}
	applyHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot rename chat request failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return wrapIfTransient(fmt.Errorf("failed to execute rename request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(ctx, "devbot rename chat", endpoint, resp)
	}

	logInfo(ctx, "devbot chat renamed",
		slog.Int64("chat_id", chatID),
		slog.String("title", newTitle))

	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// DeleteChat removes a chat and all of its messages.
func DeleteChat(ctx context.Context, client *http.Client, baseURL, token string, chatID int64) error {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := chatEndpoint(baseURL, deleteChatPathSegment, chatID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	applyHeaders(req, token)

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot delete chat request failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return wrapIfTransient(fmt.Errorf("failed to execute delete request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(ctx, "devbot delete chat", endpoint, resp)
	}

	logInfo(ctx, "devbot chat deleted",
		slog.Int64("chat_id", chatID))

	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// Respond submits a prompt for a chat. The reply arrives either inline or,
// when the server offloads generation to a worker, as a task id to poll.
func Respond(ctx context.Context, client *http.Client, baseURL, token string, reqBody RespondRequest) (
	*RespondResult, error,
) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, respondPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct respond endpoint: %w", err)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("prompt", reqBody.Prompt); err != nil {
		return nil, fmt.Errorf("failed to encode prompt field: %w", err)
	}
	if err := form.WriteField("model", reqBody.Model); err != nil {
		return nil, fmt.Errorf("failed to encode model field: %w", err)
	}
	if err := form.WriteField("chat_id", strconv.FormatInt(reqBody.ChatID, 10)); err != nil {
		return nil, fmt.Errorf("failed to encode chat_id field: %w", err)
	}
	if att := reqBody.Attachment; att != nil {
		part, err := form.CreateFormFile("file", att.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := io.Copy(part, att.Content); err != nil {
			return nil, fmt.Errorf("failed to copy attachment %q: %w", att.Filename, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to build respond request: %w", err)
	}
	applyHeaders(req, token)
	req.Header.Set("Content-Type", form.FormDataContentType())

	logDebug(ctx, "devbot respond request",
		slog.Int64("chat_id", reqBody.ChatID),
		slog.String("model", reqBody.Model),
		slog.Int("prompt_length", len(reqBody.Prompt)),
		slog.Bool("attachment", reqBody.Attachment != nil))

	resp, err := client.Do(req)
	if err != nil {
		logError(ctx, "devbot respond request failed",
			slog.Int64("chat_id", reqBody.ChatID),
			slog.String("error", err.Error()))
		return nil, wrapIfTransient(fmt.Errorf("failed to execute respond request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot respond", endpoint, resp)
	}

	var result RespondResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode respond response: %w", err)
	}

	logDebug(ctx, "devbot respond",
		slog.Int64("chat_id", result.ChatID),
		slog.Bool("async", result.TaskID != ""),
		slog.Int("response_length", len(result.Response)))

	return &result, nil
}

// GetTaskStatus polls the state of an asynchronous response task.
func GetTaskStatus(ctx context.Context, client *http.Client, baseURL, token, taskID string) (*TaskStatus, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint, err := url.JoinPath(baseURL, taskStatusPathSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to construct task status endpoint: %w", err)
	}
	endpoint += "?task_id=" + url.QueryEscape(taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build task status request: %w", err)
	}
	applyHeaders(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapIfTransient(fmt.Errorf("failed to execute task status request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(ctx, "devbot task status", endpoint, resp)
	}

	var status TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode task status response: %w", err)
	}

	logDebug(ctx, "devbot task status",
		slog.String("task_id", taskID),
		slog.String("status", status.Status))

	return &status, nil
}

func chatEndpoint(baseURL, segment string, chatID int64) (string, error) {
	endpoint, err := url.JoinPath(baseURL, segment)
	if err != nil {
		return "", fmt.Errorf("failed to construct %s endpoint: %w", segment, err)
	}
	return endpoint + "?chat_id=" + strconv.FormatInt(chatID, 10), nil
}

func applyHeaders(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	req.Header.Set("User-Agent", meta.CLIName)
	// Correlates a CLI request with server-side logs.
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func unexpectedStatus(ctx context.Context, label, endpoint string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	trimmed := strings.TrimSpace(string(snippet))
	logError(ctx, label+" unexpected status",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.String("snippet", truncateSnippet(trimmed, snippetLimit)))
	return &StatusError{StatusCode: resp.StatusCode, Snippet: trimmed}
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
