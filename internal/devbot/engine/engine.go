package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devbot/devbotctl/internal/devbot"
)

const (
	// DefaultPollInterval is how often a pending background task is queried.
	DefaultPollInterval = time.Second

	// DefaultPollAttempts bounds the poll loop; exhausting it fails the turn
	// with a timeout.
	DefaultPollAttempts = 60
)

// Backend is the remote conversation API the engine drives. *devbot.Client
// satisfies it; tests substitute scripted fakes.
type Backend interface {
	CreateChat(ctx context.Context, title string) (devbot.ChatMeta, error)
	ListChats(ctx context.Context) ([]devbot.ChatMeta, error)
	ChatHistory(ctx context.Context, chatID int64) ([]devbot.HistoryMessage, error)
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	Respond(ctx context.Context, req devbot.RespondRequest) (devbot.RespondResult, error)
	TaskStatus(ctx context.Context, taskID string) (devbot.TaskStatus, error)
	RenameChat(ctx context.Context, chatID int64, newTitle string) error
	DeleteChat(ctx context.Context, chatID int64) error
	Models(ctx context.Context) ([]string, error)
}

// TurnRecorder receives each completed turn, e.g. for local transcript files.
type TurnRecorder interface {
	RecordTurn(session Session, sender, receiver Message) error
}

// SessionInfoRecorder is implemented by recorders that can refresh session
// metadata between turns, such as when a server-generated title lands.
type SessionInfoRecorder interface {
	SetSessionInfo(session Session) error
}

// Config assembles an Engine. Backend and Directory are required; everything
// else has working defaults.
type Config struct {
	Backend      Backend
	Directory    *Directory
	Model        string
	PollInterval time.Duration
	PollAttempts int
	Recorder     TurnRecorder
	Logger       *slog.Logger
}

// turn is the unit of in-flight work. The engine compares turn pointers to
// decide whether a completing request still belongs to the active session;
// switching sessions detaches the turn so its completion is dropped instead
// of being rendered into the wrong log.
type turn struct {
	sessionID int64
	prompt    string
	att       *Attachment
	cancel    context.CancelFunc
}

// Engine owns the message log and lifecycle state for the active session and
// drives submissions against the backend. All exported methods are safe for
// concurrent use; the mutex is held only across state and log mutation, never
// across network calls.
type Engine struct {
	backend   Backend
	directory *Directory
	recorder  TurnRecorder
	logger    *slog.Logger

	pollInterval time.Duration
	pollAttempts int

	mu      sync.Mutex
	state   State
	session *Session
	log     *MessageLog
	active  *turn
	model   string
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("engine requires a backend")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("engine requires a session directory")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		backend:      cfg.Backend,
		directory:    cfg.Directory,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		state:        StateIdle,
		log:          NewMessageLog(),
		model:        cfg.Model,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns a copy of the active session, or false when none is
// selected (not even a provisional one).
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Messages returns a copy of the active session's log.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Snapshot()
}

// Model returns the selected model.
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// SelectModel picks the model used for subsequent submissions.
func (e *Engine) SelectModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = strings.TrimSpace(model)
}

// AdoptTitle records a resolved title for the active session. It is a no-op
// when the caller's session is no longer the active one, so a stale title
// watch cannot relabel an unrelated conversation.
func (e *Engine) AdoptTitle(sessionID int64, title string) {
	if title == "" {
		return
	}
	e.mu.Lock()
	if e.session == nil || e.session.ID != sessionID {
		e.mu.Unlock()
		return
	}
	e.session.Title = title
	sess := *e.session
	e.mu.Unlock()

	if setter, ok := e.recorder.(SessionInfoRecorder); ok {
		if err := setter.SetSessionInfo(sess); err != nil {
			e.logger.LogAttrs(context.Background(), slog.LevelWarn, "session metadata not updated",
				slog.Int64("session_id", sess.ID),
				slog.String("error", err.Error()))
		}
	}
}

// StartDraft makes a provisional, not-yet-persisted session active. The
// session is created on the backend when the first message is sent.
func (e *Engine) StartDraft() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = &Session{Title: devbot.DefaultChatTitle}
	e.detachLocked()
	e.log = NewMessageLog()
}

// SwitchSession makes sess the active session and loads its history. An
// in-flight turn for the previous session is not cancelled; it completes
// server-side, but its result is no longer rendered locally.
func (e *Engine) SwitchSession(ctx context.Context, sess Session) error {
	e.mu.Lock()
	e.session = &sess
	e.detachLocked()
	e.log = NewMessageLog()
	e.mu.Unlock()

	e.logger.LogAttrs(ctx, slog.LevelDebug, "session switched",
		slog.Int64("session_id", sess.ID),
		slog.String("title", sess.Title))

	if sess.Provisional() {
		return nil
	}
	return e.Reconcile(ctx)
}

// Submit drives one full turn: optimistic Sender append, lazy session
// creation, the remote call, task polling if the backend deferred the
// response, and the final log update. It blocks until the turn resolves;
// callers run it from their own goroutine and use Cancel to interrupt.
func (e *Engine) Submit(ctx context.Context, prompt string, att *Attachment) error {
	return e.submitTurn(ctx, prompt, att, true)
}

// Cancel interrupts the in-flight turn, if any. The submitting goroutine
// observes the cancellation, finalizes the lifecycle back to Idle, and leaves
// the Sender message unanswered: stopping a turn is not an error.
func (e *Engine) Cancel() {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active != nil {
		active.cancel()
	}
}

func (e *Engine) submitTurn(ctx context.Context, prompt string, att *Attachment, appendSender bool) error {
	e.mu.Lock()
	if e.model == "" || (strings.TrimSpace(prompt) == "" && att == nil) {
		e.mu.Unlock()
		return ErrNothingToSubmit
	}
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrRequestInFlight
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{prompt: prompt, att: att, cancel: cancel}
	e.transitionLocked(StateSubmitting)
	e.active = t
	if appendSender {
		e.log.Append(Message{Role: RoleSender, Content: prompt, Attachment: att})
	}
	sess := e.session
	model := e.model
	e.mu.Unlock()
	defer cancel()

	e.logger.LogAttrs(ctx, slog.LevelDebug, "turn submitted",
		slog.Int("prompt_length", len(prompt)),
		slog.String("model", model),
		slog.Bool("attachment", att != nil))

	if sess == nil || sess.Provisional() {
		created, err := e.directory.Create(turnCtx, devbot.DefaultChatTitle)
		if err != nil {
			if canceled(turnCtx, err) {
				return e.resolveCancelled(t)
			}
			return e.resolveErrored(ctx, t, transportErr(err))
		}
		e.mu.Lock()
		if e.active == t {
			e.session = &created
		}
		e.mu.Unlock()
		sess = &created
	}
	t.sessionID = sess.ID

	req := devbot.RespondRequest{
		ChatID: sess.ID,
		Prompt: prompt,
		Model:  model,
	}
	if att != nil {
		file, err := os.Open(att.Path)
		if err != nil {
			return e.resolveErrored(ctx, t, transportErr(err))
		}
		defer file.Close()
		req.Attachment = &devbot.Upload{Filename: att.Name, Content: file}
	}

	result, err := e.backend.Respond(turnCtx, req)
	if err != nil {
		if canceled(turnCtx, err) {
			return e.resolveCancelled(t)
		}
		return e.resolveErrored(ctx, t, transportErr(err))
	}

	response := result.Response
	if result.TaskID != "" {
		e.applyTransition(t, StateAwaitingAsyncTask)
		response, err = e.pollTask(turnCtx, result.TaskID)
		if err != nil {
			if canceled(turnCtx, err) {
				return e.resolveCancelled(t)
			}
			return e.resolveErrored(ctx, t, err)
		}
	}

	return e.resolveCompleted(ctx, t, *sess, response, result.Title)
}

// pollTask queries task status at a fixed interval until the task resolves,
// the context is cancelled, or the attempt budget runs out. Cancellation is
// checked on every tick, not only inside the HTTP call.
func (e *Engine) pollTask(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= e.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := e.backend.TaskStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", transportErr(err)
		}

		e.logger.LogAttrs(ctx, slog.LevelDebug, "task poll",
			slog.String("task_id", taskID),
			slog.Int("attempt", attempt),
			slog.String("status", status.Status))

		if status.Terminal() {
			if status.Status == devbot.TaskStateError {
				return "", &TaskError{Message: status.Message}
			}
			return status.Response, nil
		}
	}
	return "", &TimeoutError{TaskID: taskID, Attempts: e.pollAttempts}
}

func (e *Engine) resolveCompleted(ctx context.Context, t *turn, sess Session, response, title string) error {
	var sender, receiver Message
	recorded := false

	e.mu.Lock()
	if e.active != t {
		e.mu.Unlock()
		e.logger.LogAttrs(ctx, slog.LevelDebug, "stale turn response dropped",
			slog.Int64("session_id", t.sessionID))
		e.directory.noteTitle(sess.ID, title)
		return nil
	}
	if response != "" {
		receiver = Message{Role: RoleReceiver, Content: response}
		e.log.Append(receiver)
		sender = Message{Role: RoleSender, Content: t.prompt, Attachment: t.att}
		recorded = true
	}
	if title != "" && e.session != nil && e.session.ID == sess.ID {
		e.session.Title = title
		sess.Title = title
	}
	e.transitionLocked(StateIdle)
	e.detachLocked()
	e.mu.Unlock()

	e.directory.noteTitle(sess.ID, title)

	if recorded && e.recorder != nil {
		if err := e.recorder.RecordTurn(sess, sender, receiver); err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "turn not recorded",
				slog.Int64("session_id", sess.ID),
				slog.String("error", err.Error()))
		}
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "turn completed",
		slog.Int64("session_id", sess.ID),
		slog.Int("response_length", len(response)))

	// Refresh the log from the server so locally unseen mutations, such as
	// backend-side trimming or formatting, land right after the turn. The
	// optimistic messages stay in place if the fetch fails.
	if err := e.Reconcile(ctx); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "history refresh failed",
			slog.Int64("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (e *Engine) resolveErrored(ctx context.Context, t *turn, cause error) error {
	e.mu.Lock()
	if e.active == t {
		e.transitionLocked(StateErrored)
		e.log.Append(Message{Role: RoleReceiver, Content: ErrorMarker})
		e.transitionLocked(StateIdle)
		e.detachLocked()
	}
	e.mu.Unlock()

	e.logger.LogAttrs(ctx, slog.LevelError, "turn failed",
		slog.Int64("session_id", t.sessionID),
		slog.String("error", cause.Error()))
	return cause
}

func (e *Engine) resolveCancelled(t *turn) error {
	e.mu.Lock()
	if e.active == t {
		e.transitionLocked(StateCancelled)
		e.transitionLocked(StateIdle)
		e.detachLocked()
	}
	e.mu.Unlock()
	return ErrCancelled
}

// applyTransition moves the lifecycle only while the turn still owns it.
func (e *Engine) applyTransition(t *turn, to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == t {
		e.transitionLocked(to)
	}
}

func (e *Engine) transitionLocked(to State) {
	if !validTransition(e.state, to) {
		e.logger.LogAttrs(context.Background(), slog.LevelWarn, "illegal lifecycle transition rejected",
			slog.String("from", e.state.String()),
			slog.String("to", to.String()))
		return
	}
	e.state = to
}

func (e *Engine) detachLocked() {
	e.active = nil
	if e.state != StateIdle {
		e.state = StateIdle
	}
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func transportErr(err error) error {
	var terr *TransportError
	if errors.As(err, &terr) {
		return err
	}
	return &TransportError{Err: err}
}
