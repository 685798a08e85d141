package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devbot/devbotctl/internal/devbot"
)

func TestEditAndResubmitReplacesTurn(t *testing.T) {
	require := require.New(t)

	var prompts []string
	var truncatedView []string
	backend := &fakeBackend{
		respond: func(_ context.Context, req devbot.RespondRequest) (devbot.RespondResult, error) {
			prompts = append(prompts, req.Prompt)
			if req.Prompt == "Hi there" {
				return devbot.RespondResult{Response: "Hello again"}, nil
			}
			return devbot.RespondResult{Response: "Hi"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	require.NoError(eng.Submit(context.Background(), "Hello", nil))
	require.Equal([]string{"Hello", "Hi"}, contents(eng.Messages()))

	// Capture the truncated state the moment the resubmission hits the wire:
	// the stale reply must already be gone.
	backend.respond = func(_ context.Context, req devbot.RespondRequest) (devbot.RespondResult, error) {
		truncatedView = contents(eng.Messages())
		prompts = append(prompts, req.Prompt)
		return devbot.RespondResult{Response: "Hello again"}, nil
	}

	require.NoError(eng.EditAndResubmit(context.Background(), 0, "Hi there"))

	require.Equal([]string{"Hi there"}, truncatedView)
	require.Equal([]string{"Hi there", "Hello again"}, contents(eng.Messages()))
	require.Equal([]string{"Hello", "Hi there"}, prompts)
}

func TestEditAndResubmitRejectsReceiver(t *testing.T) {
	require := require.New(t)

	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			return devbot.RespondResult{Response: "Hi"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))
	require.NoError(eng.Submit(context.Background(), "Hello", nil))

	require.ErrorIs(eng.EditAndResubmit(context.Background(), 1, "nope"), ErrNotEditable)
	require.ErrorIs(eng.EditAndResubmit(context.Background(), 9, "nope"), ErrNotEditable)
	require.ErrorIs(eng.EditAndResubmit(context.Background(), 0, "  "), ErrNothingToSubmit)

	// Rejected edits leave the log untouched.
	require.Equal([]string{"Hello", "Hi"}, contents(eng.Messages()))
}

func TestEditAndResubmitRequiresIdle(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	backend := &fakeBackend{
		respond: func(_ context.Context, _ devbot.RespondRequest) (devbot.RespondResult, error) {
			<-release
			return devbot.RespondResult{Response: "slow"}, nil
		},
	}

	eng := newTestEngine(t, backend)
	require.NoError(eng.SwitchSession(context.Background(), Session{ID: 1, Title: "t"}))

	done := make(chan error, 1)
	go func() {
		done <- eng.Submit(context.Background(), "Hello", nil)
	}()

	require.Eventually(func() bool {
		return eng.State() == StateSubmitting
	}, time.Second, time.Millisecond)

	require.ErrorIs(eng.EditAndResubmit(context.Background(), 0, "edited"), ErrRequestInFlight)

	close(release)
	require.NoError(<-done)
}
