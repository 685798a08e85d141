package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devbot/devbotctl/internal/devbot"
)

func TestReconcileMapsRoles(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		chatHistory: func(_ context.Context, chatID int64) ([]devbot.HistoryMessage, error) {
			require.Equal(int64(8), chatID)
			return []devbot.HistoryMessage{
				{Role: "user", Content: "Hello"},
				{Role: "assistant", Content: "Hi"},
			}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 8, Title: "t"}))

	messages := eng.Messages()
	require.Len(messages, 2)
	require.Equal(RoleSender, messages[0].Role)
	require.Equal(RoleReceiver, messages[1].Role)
}

func TestReconcileIsIdempotent(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		chatHistory: func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			return []devbot.HistoryMessage{
				{Role: "user", Content: "a"},
				{Role: "assistant", Content: "b"},
			}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	first := eng.Messages()
	require.NoError(eng.Reconcile(context.Background()))
	second := eng.Messages()
	require.Equal(first, second)
}

func TestReconcilePreservesPendingSender(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		chatHistory: func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			return []devbot.HistoryMessage{
				{Role: "user", Content: "old prompt"},
				{Role: "assistant", Content: "old reply"},
			}, nil
		},
		respond: func(ctx context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			<-ctx.Done()
			return devbot.RespondResult{}, ctx.Err()
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	// Leave an unanswered Sender behind by cancelling an in-flight turn.
	done := make(chan error, 1)
	go func() { done <- eng.Submit(context.Background(), "pending prompt", nil) }()
	require.Eventually(func() bool { return eng.State() == StateSubmitting }, waitFor, tick)
	eng.Cancel()
	require.ErrorIs(<-done, ErrCancelled)

	require.NoError(eng.Reconcile(context.Background()))
	require.Equal([]string{"old prompt", "old reply", "pending prompt"}, contents(eng.Messages()))

	// Idempotent with the pending Sender in place too.
	require.NoError(eng.Reconcile(context.Background()))
	require.Equal([]string{"old prompt", "old reply", "pending prompt"}, contents(eng.Messages()))
}

func TestReconcileDropsConfirmedDuplicate(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		chatHistory: func(context.Context, int64) ([]devbot.HistoryMessage, error) {
			// The backend already saved the prompt but no reply yet.
			return []devbot.HistoryMessage{
				{Role: "user", Content: "pending prompt"},
			}, nil
		},
		respond: func(ctx context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			<-ctx.Done()
			return devbot.RespondResult{}, ctx.Err()
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	done := make(chan error, 1)
	go func() { done <- eng.Submit(context.Background(), "pending prompt", nil) }()
	require.Eventually(func() bool { return eng.State() == StateSubmitting }, waitFor, tick)
	eng.Cancel()
	require.ErrorIs(<-done, ErrCancelled)

	require.NoError(eng.Reconcile(context.Background()))
	require.Equal([]string{"pending prompt"}, contents(eng.Messages()))
}

func TestReconcileNoopForProvisionalSession(t *testing.T) {
	require := require.New(t)

	eng := newTestEngine(t, &fakeBackend{})
	eng.StartDraft()

	require.NoError(eng.Reconcile(context.Background()))
	require.Empty(eng.Messages())
}
