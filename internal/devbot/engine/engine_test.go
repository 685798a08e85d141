package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devbot/devbotctl/internal/devbot"
)

// fakeBackend scripts each API operation with a function field; unset
// operations fail loudly so a test only exercises what it configured.
type fakeBackend struct {
	createChat  func(ctx context.Context, title string) (devbot.ChatMeta, error)
	listChats   func(ctx context.Context) ([]devbot.ChatMeta, error)
	chatHistory func(ctx context.Context, chatID int64) ([]devbot.HistoryMessage, error)
	chatTitle   func(ctx context.Context, chatID int64) (string, error)
	respond     func(ctx context.Context, req devbot.RespondRequest) (devbot.RespondResult, error)
	taskStatus  func(ctx context.Context, taskID string) (devbot.TaskStatus, error)
	renameChat  func(ctx context.Context, chatID int64, newTitle string) error
	deleteChat  func(ctx context.Context, chatID int64) error
	models      func(ctx context.Context) ([]string, error)
}

var errUnscripted = errors.New("unscripted backend call")

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

func (f *fakeBackend) CreateChat(ctx context.Context, title string) (devbot.ChatMeta, error) {
	if f.createChat == nil {
		return devbot.ChatMeta{}, errUnscripted
	}
	return f.createChat(ctx, title)
}

func (f *fakeBackend) ListChats(ctx context.Context) ([]devbot.ChatMeta, error) {
	if f.listChats == nil {
		return nil, errUnscripted
	}
	return f.listChats(ctx)
}

func (f *fakeBackend) ChatHistory(ctx context.Context, chatID int64) ([]devbot.HistoryMessage, error) {
	if f.chatHistory == nil {
		return nil, errUnscripted
	}
	return f.chatHistory(ctx, chatID)
}

func (f *fakeBackend) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	if f.chatTitle == nil {
		return "", errUnscripted
	}
	return f.chatTitle(ctx, chatID)
}

func (f *fakeBackend) Respond(ctx context.Context, req devbot.RespondRequest) (devbot.RespondResult, error) {
	if f.respond == nil {
		return devbot.RespondResult{}, errUnscripted
	}
	return f.respond(ctx, req)
}

func (f *fakeBackend) TaskStatus(ctx context.Context, taskID string) (devbot.TaskStatus, error) {
	if f.taskStatus == nil {
		return devbot.TaskStatus{}, errUnscripted
	}
	return f.taskStatus(ctx, taskID)
}

func (f *fakeBackend) RenameChat(ctx context.Context, chatID int64, newTitle string) error {
	if f.renameChat == nil {
		return errUnscripted
	}
	return f.renameChat(ctx, chatID, newTitle)
}

func (f *fakeBackend) DeleteChat(ctx context.Context, chatID int64) error {
	if f.deleteChat == nil {
		return errUnscripted
	}
	return f.deleteChat(ctx, chatID)
}

func (f *fakeBackend) Models(ctx context.Context) ([]string, error) {
	if f.models == nil {
		return nil, errUnscripted
	}
	return f.models(ctx)
}

func newTestEngine(t *testing.T, backend *fakeBackend) *Engine {
	t.Helper()
	eng, err := New(Config{
		Backend:      backend,
		Directory:    NewDirectory(backend, nil),
		Model:        "llama3:8b",
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	if backend.chatHistory == nil {
		// Server history that always matches the local log, for tests that
		// exercise the lifecycle rather than reconciliation.
		backend.chatHistory = func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			var history []devbot.HistoryMessage
			for _, msg := range eng.Messages() {
				role := "assistant"
				if msg.Role == RoleSender {
					role = "user"
				}
				history = append(history, devbot.HistoryMessage{Role: role, Content: msg.Content})
			}
			return history, nil
		}
	}
	return eng
}

func contents(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.Content)
	}
	return out
}

func TestSubmitCreatesSessionLazily(t *testing.T) {
	require := require.New(t)

	var createdTitle string
	backend := &fakeBackend{
		createChat: func(_ context.Context, title string) (devbot.ChatMeta, error) {
			createdTitle = title
			return devbot.ChatMeta{ID: 42, Title: title}, nil
		},
		respond: func(_ context.Context, req devbot.RespondRequest) (devbot.RespondResult, error) {
			require.Equal(int64(42), req.ChatID)
			require.Equal("Hello", req.Prompt)
			return devbot.RespondResult{Response: "Hi", ChatID: 42, Title: "New Chat"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	eng.StartDraft()

	require.NoError(eng.Submit(context.Background(), "Hello", nil))

	require.Equal("New Chat", createdTitle)
	require.Equal([]string{"Hello", "Hi"}, contents(eng.Messages()))
	require.Equal(StateIdle, eng.State())

	sess, ok := eng.Session()
	require.True(ok)
	require.Equal(int64(42), sess.ID)
	require.False(sess.Provisional())
}

func TestSubmitValidation(t *testing.T) {
	require := require.New(t)

	eng := newTestEngine(t, &fakeBackend{})
	eng.StartDraft()

	require.ErrorIs(eng.Submit(context.Background(), "   ", nil), ErrNothingToSubmit)
	require.Empty(eng.Messages())

	eng.SelectModel("")
	require.ErrorIs(eng.Submit(context.Background(), "hello", nil), ErrNothingToSubmit)
	require.Empty(eng.Messages())
	require.Equal(StateIdle, eng.State())
}

func TestSubmitSingleFlight(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	backend := &fakeBackend{
		respond: func(ctx context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			once.Do(func() { close(entered) })
			select {
			case <-release:
			case <-ctx.Done():
				return devbot.RespondResult{}, ctx.Err()
			}
			return devbot.RespondResult{Response: "done"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	first := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		if err := eng.Submit(context.Background(), "first", nil); err == nil {
			accepted.Add(1)
		}
	}()

	<-first
	<-entered

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.Submit(context.Background(), "late", nil); errors.Is(err, ErrRequestInFlight) {
				rejected.Add(1)
			}
		}()
	}

	// Let the stragglers hit the in-flight rejection before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(int32(1), accepted.Load())
	require.Equal(int32(4), rejected.Load())
	require.Equal([]string{"first", "done"}, contents(eng.Messages()))
}

func TestSubmitPollsTaskUntilDone(t *testing.T) {
	require := require.New(t)

	var polls atomic.Int32
	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{TaskID: "t1", ChatID: 7}, nil
		},
		taskStatus: func(_ context.Context, taskID string) (devbot.TaskStatus, error) {
			require.Equal("t1", taskID)
			if polls.Add(1) < 3 {
				return devbot.TaskStatus{Status: "pending"}, nil
			}
			return devbot.TaskStatus{Status: devbot.TaskStateDone, Response: "Done"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 7, Title: "t"}))

	require.NoError(eng.Submit(context.Background(), "work", nil))
	require.Equal(int32(3), polls.Load())

	messages := eng.Messages()
	require.Equal("Done", messages[len(messages)-1].Content)
	require.Equal(RoleReceiver, messages[len(messages)-1].Role)
	require.Equal(StateIdle, eng.State())
}

func TestSubmitTaskErrorAppendsMarker(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{TaskID: "t-err"}, nil
		},
		taskStatus: func(_ context.Context, _ string) (devbot.TaskStatus, error) {
			return devbot.TaskStatus{Status: devbot.TaskStateError, Message: "worker crashed"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 2, Title: "t"}))

	err := eng.Submit(context.Background(), "work", nil)
	var taskErr *TaskError
	require.ErrorAs(err, &taskErr)
	require.Equal("worker crashed", taskErr.Message)

	messages := eng.Messages()
	require.Equal(ErrorMarker, messages[len(messages)-1].Content)
	require.Equal(StateIdle, eng.State())
}

func TestSubmitPollBudgetExhaustion(t *testing.T) {
	require := require.New(t)

	var polls atomic.Int32
	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{TaskID: "t-slow"}, nil
		},
		taskStatus: func(_ context.Context, _ string) (devbot.TaskStatus, error) {
			polls.Add(1)
			return devbot.TaskStatus{Status: "pending"}, nil
		},
		chatHistory: func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			return nil, nil
		},
	}

	eng, err := New(Config{
		Backend:      backend,
		Directory:    NewDirectory(backend, nil),
		Model:        "llama3:8b",
		PollInterval: time.Millisecond,
		PollAttempts: 5,
	})
	require.NoError(err)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 3, Title: "t"}))

	submitErr := eng.Submit(context.Background(), "work", nil)
	var timeoutErr *TimeoutError
	require.ErrorAs(submitErr, &timeoutErr)
	require.Equal(5, timeoutErr.Attempts)
	require.Equal(int32(5), polls.Load())

	messages := eng.Messages()
	require.Equal(ErrorMarker, messages[len(messages)-1].Content)
	require.Equal(StateIdle, eng.State())
}

func TestCancelStopsPolling(t *testing.T) {
	require := require.New(t)

	var polls atomic.Int32
	firstPoll := make(chan struct{})
	var once sync.Once

	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{TaskID: "t-cancel"}, nil
		},
		taskStatus: func(_ context.Context, _ string) (devbot.TaskStatus, error) {
			polls.Add(1)
			once.Do(func() { close(firstPoll) })
			return devbot.TaskStatus{Status: "pending"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 4, Title: "t"}))

	done := make(chan error, 1)
	go func() {
		done <- eng.Submit(context.Background(), "work", nil)
	}()

	<-firstPoll
	eng.Cancel()

	require.ErrorIs(<-done, ErrCancelled)
	require.Equal(StateIdle, eng.State())

	seen := polls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(seen, polls.Load())

	// Cancellation leaves the Sender unanswered, with no synthetic reply.
	messages := eng.Messages()
	require.Len(messages, 1)
	require.Equal(RoleSender, messages[0].Role)
}

func TestTransportFailureAppendsMarker(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{}, errors.New("connection refused")
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 5, Title: "t"}))

	err := eng.Submit(context.Background(), "hello", nil)
	var terr *TransportError
	require.ErrorAs(err, &terr)

	require.Equal([]string{"hello", ErrorMarker}, contents(eng.Messages()))
	require.Equal(StateIdle, eng.State())
}

func TestLateResponseNotRenderedAfterSwitch(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			<-release
			return devbot.RespondResult{Response: "late reply", ChatID: 10}, nil
		},
		chatHistory: func(_ context.Context, chatID int64) ([]devbot.HistoryMessage, error) {
			if chatID == 11 {
				return []devbot.HistoryMessage{{Role: "user", Content: "older"}}, nil
			}
			return nil, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 10, Title: "a"}))

	done := make(chan error, 1)
	go func() {
		done <- eng.Submit(context.Background(), "hello", nil)
	}()

	// Wait for the turn to be in flight, then switch sessions under it.
	require.Eventually(func() bool {
		return eng.State() == StateSubmitting
	}, time.Second, time.Millisecond)

	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 11, Title: "b"}))
	close(release)
	require.NoError(<-done)

	require.Equal([]string{"older"}, contents(eng.Messages()))
	require.Equal(StateIdle, eng.State())
}

type fakeRecorder struct {
	mu      sync.Mutex
	turns   int
	session Session
}

func (f *fakeRecorder) RecordTurn(session Session, _, _ Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns++
	f.session = session
	return nil
}

func (f *fakeRecorder) SetSessionInfo(session Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
	return nil
}

func (f *fakeRecorder) snapshot() (int, Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns, f.session
}

func TestAdoptTitleUpdatesRecorderMetadata(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		chatHistory: func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			return nil, nil
		},
	}
	recorder := &fakeRecorder{}
	eng, err := New(Config{
		Backend:   backend,
		Directory: NewDirectory(backend, nil),
		Model:     "llama3:8b",
		Recorder:  recorder,
	})
	require.NoError(err)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 12, Title: "New Chat"}))

	eng.AdoptTitle(12, "Sorting algorithms")

	_, recorded := recorder.snapshot()
	require.Equal(int64(12), recorded.ID)
	require.Equal("Sorting algorithms", recorded.Title)

	sess, ok := eng.Session()
	require.True(ok)
	require.Equal("Sorting algorithms", sess.Title)

	// A stale watch for another session must not relabel anything.
	eng.AdoptTitle(99, "Unrelated")
	_, recorded = recorder.snapshot()
	require.Equal("Sorting algorithms", recorded.Title)
}

func TestCompletedTurnRefreshesHistory(t *testing.T) {
	require := require.New(t)

	var fetches atomic.Int32
	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{Response: "4", ChatID: 9}, nil
		},
		chatHistory: func(_ context.Context, chatID int64) ([]devbot.HistoryMessage, error) {
			require.Equal(int64(9), chatID)
			if fetches.Add(1) == 1 {
				return nil, nil
			}
			// The server trimmed the prompt on persist.
			return []devbot.HistoryMessage{
				{Role: "user", Content: "2+2?"},
				{Role: "assistant", Content: "4"},
			}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 9, Title: "t"}))
	require.Equal(int32(1), fetches.Load())

	require.NoError(eng.Submit(context.Background(), "  2+2?  ", nil))

	require.Equal(int32(2), fetches.Load())
	require.Equal([]string{"2+2?", "4"}, contents(eng.Messages()))
	require.Equal(StateIdle, eng.State())
}

func TestSubmitUpdatesSessionTitle(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{Response: "hi", ChatID: 6, Title: "Goroutine basics"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 6, Title: "New Chat"}))

	require.NoError(eng.Submit(context.Background(), "explain goroutines", nil))

	sess, ok := eng.Session()
	require.True(ok)
	require.Equal("Goroutine basics", sess.Title)
}
