package devbot

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func TestListChatsDecodesDirectory(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(http.MethodGet, req.Method)
			require.Equal("/api/list_chats", req.URL.Path)
			require.Equal("Bearer test-token", req.Header.Get("Authorization"))

			body := `{"chats":[` +
				`{"id":7,"title":"Build pipeline","created_at":"2026-08-30T10:15:00"},` +
				`{"id":3,"title":"New Chat","created_at":"2026-08-29 08:00:00"}]}`
			return jsonResponse(http.StatusOK, body), nil
		}),
	}

	chats, err := ListChats(context.Background(), client, "https://example.com", "test-token")
	require.NoError(err)
	require.Len(chats, 2)
	require.Equal(int64(7), chats[0].ID)
	require.Equal("Build pipeline", chats[0].Title)
	require.Equal(2026, chats[0].CreatedAt.Year())
	require.Equal("New Chat", chats[1].Title)
}

func TestCreateChatDefaultsTitle(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(http.MethodPost, req.Method)
			require.Equal("/api/create_chat", req.URL.Path)

			payload, err := io.ReadAll(req.Body)
			require.NoError(err)
			req.Body.Close()
			require.JSONEq(`{"title":"New Chat"}`, string(payload))

			return jsonResponse(http.StatusOK, `{"success":true,"chat_id":42,"title":"New Chat"}`), nil
		}),
	}

	meta, err := CreateChat(context.Background(), client, "https://example.com", "tok", "  ")
	require.NoError(err)
	require.Equal(int64(42), meta.ID)
	require.Equal("New Chat", meta.Title)
}

func TestGetChatHistoryOrdersMessages(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal("/api/chat_history", req.URL.Path)
			require.Equal("9", req.URL.Query().Get("chat_id"))

			body := `[{"role":"user","content":"Hi"},{"role":"assistant","content":"Hello!"}]`
			return jsonResponse(http.StatusOK, body), nil
		}),
	}

	history, err := GetChatHistory(context.Background(), client, "https://example.com", "tok", 9)
	require.NoError(err)
	require.Len(history, 2)
	require.Equal("user", history[0].Role)
	require.Equal("Hello!", history[1].Content)
}

func TestRespondSendsMultipartForm(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(http.MethodPost, req.Method)
			require.Equal("/api/respond", req.URL.Path)

			mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
			require.NoError(err)
			require.Equal("multipart/form-data", mediaType)

			reader := multipart.NewReader(req.Body, params["boundary"])
			form, err := reader.ReadForm(1 << 20)
			require.NoError(err)
			require.Equal("explain goroutines", form.Value["prompt"][0])
			require.Equal("llama3:8b", form.Value["model"][0])
			require.Equal("12", form.Value["chat_id"][0])
			require.Empty(form.File)

			return jsonResponse(http.StatusOK, `{"response":"Goroutines are...","chat_id":12,"title":"New Chat"}`), nil
		}),
	}

	result, err := Respond(context.Background(), client, "https://example.com", "tok", RespondRequest{
		ChatID: 12,
		Prompt: "explain goroutines",
		Model:  "llama3:8b",
	})
	require.NoError(err)
	require.Equal("Goroutines are...", result.Response)
	require.Empty(result.TaskID)
}

func TestRespondIncludesAttachment(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
			require.NoError(err)

			reader := multipart.NewReader(req.Body, params["boundary"])
			form, err := reader.ReadForm(1 << 20)
			require.NoError(err)
			require.Len(form.File["file"], 1)
			require.Equal("deck.pptx", form.File["file"][0].Filename)

			part, err := form.File["file"][0].Open()
			require.NoError(err)
			content, err := io.ReadAll(part)
			require.NoError(err)
			require.Equal("slide bytes", string(content))

			return jsonResponse(http.StatusOK, `{"task_id":"abc-123","chat_id":5,"title":"New Chat"}`), nil
		}),
	}

	result, err := Respond(context.Background(), client, "https://example.com", "tok", RespondRequest{
		ChatID: 5,
		Prompt: "summarize this deck",
		Model:  "mistral:7b",
		Attachment: &Upload{
			Filename: "deck.pptx",
			Content:  strings.NewReader("slide bytes"),
		},
	})
	require.NoError(err)
	require.Equal("abc-123", result.TaskID)
	require.Empty(result.Response)
}

func TestRespondSurfacesStatusError(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusForbidden, `{"detail":"Forbidden"}`), nil
		}),
	}

	_, err := Respond(context.Background(), client, "https://example.com", "tok", RespondRequest{
		ChatID: 1,
		Prompt: "hi",
		Model:  "gemma:2b",
	})
	require.Error(err)

	var statusErr *StatusError
	require.ErrorAs(err, &statusErr)
	require.Equal(http.StatusForbidden, statusErr.StatusCode)
	require.Contains(statusErr.Snippet, "Forbidden")
}

func TestGetTaskStatusTerminalStates(t *testing.T) {
	require := require.New(t)

	responses := map[string]string{
		"t-pending": `{"status":"pending"}`,
		"t-done":    `{"status":"done","response":"All set."}`,
		"t-error":   `{"status":"error","message":"worker crashed"}`,
	}

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal("/api/task_status", req.URL.Path)
			return jsonResponse(http.StatusOK, responses[req.URL.Query().Get("task_id")]), nil
		}),
	}

	pending, err := GetTaskStatus(context.Background(), client, "https://example.com", "tok", "t-pending")
	require.NoError(err)
	require.False(pending.Terminal())

	done, err := GetTaskStatus(context.Background(), client, "https://example.com", "tok", "t-done")
	require.NoError(err)
	require.True(done.Terminal())
	require.Equal("All set.", done.Response)

	failed, err := GetTaskStatus(context.Background(), client, "https://example.com", "tok", "t-error")
	require.NoError(err)
	require.True(failed.Terminal())
	require.Equal("worker crashed", failed.Message)
}

func TestGetModelsFlattensGroups(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal("/api/get_models", req.URL.Path)
			return jsonResponse(http.StatusOK, `{"response":[["llama3:8b","mistral:7b"]]}`), nil
		}),
	}

	models, err := GetModels(context.Background(), client, "https://example.com", "tok")
	require.NoError(err)
	require.Equal([]string{"llama3:8b", "mistral:7b"}, models)
}

func TestRenameChatSendsPayload(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal("/api/rename_chat", req.URL.Path)

			payload, err := io.ReadAll(req.Body)
			require.NoError(err)
			req.Body.Close()
			require.JSONEq(`{"chat_id":4,"new_title":"Deploy notes"}`, string(payload))

			return jsonResponse(http.StatusOK, `{"success":true}`), nil
		}),
	}

	err := RenameChat(context.Background(), client, "https://example.com", "tok", 4, "Deploy notes")
	require.NoError(err)
}

func TestDeleteChatUsesQueryParam(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(http.MethodPost, req.Method)
			require.Equal("/api/delete_chat", req.URL.Path)
			require.Equal("4", req.URL.Query().Get("chat_id"))
			return jsonResponse(http.StatusOK, `{"success":true}`), nil
		}),
	}

	err := DeleteChat(context.Background(), client, "https://example.com", "tok", 4)
	require.NoError(err)
}

func TestTransientErrorClassification(t *testing.T) {
	require := require.New(t)

	client := &http.Client{
		Transport: roundTripFunc(func(_ *http.Request) (*http.Response, error) {
			return nil, io.ErrUnexpectedEOF
		}),
	}

	_, err := ListChats(context.Background(), client, "https://example.com", "tok")
	require.Error(err)
	require.True(IsTransientError(err))

	require.False(IsTransientError(errors.New("boom")))
}
