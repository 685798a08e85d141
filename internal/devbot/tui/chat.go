// Package tui implements the interactive chat surface over the
// conversation engine.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	cursor "github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/devbot/devbotctl/internal/devbot"
	"github.com/devbot/devbotctl/internal/devbot/engine"
	"github.com/devbot/devbotctl/internal/devbot/render"
	"github.com/devbot/devbotctl/internal/iostreams"
	"github.com/devbot/devbotctl/internal/meta"
	"github.com/devbot/devbotctl/internal/theme"
)

// Options configure the interactive chat experience.
type Options struct {
	Engine    *engine.Engine
	Directory *engine.Directory
	UseColor  bool
	Version   string
	Theme     theme.Palette
	Logger    *slog.Logger
}

type slashCommand struct {
	name        string
	description string
}

var defaultSlashCommands = []slashCommand{
	{name: "/new", description: "Start a fresh conversation"},
	{name: "/sessions", description: "List saved conversations"},
	{name: "/switch", description: "Switch to a conversation by number"},
	{name: "/edit", description: "Edit an earlier prompt and resubmit"},
	{name: "/model", description: "Select the model for new prompts"},
	{name: "/models", description: "List available models"},
	{name: "/attach", description: "Attach a file to the next prompt"},
	{name: "/rename", description: "Rename the current conversation"},
	{name: "/quit", description: "Exit the chat"},
}

type themeStyles struct {
	statusStyle       lipgloss.Style
	thinkingStyle     lipgloss.Style
	senderStyle       lipgloss.Style
	errorStyle        lipgloss.Style
	noticeStyle       lipgloss.Style
	promptAccent      lipgloss.AdaptiveColor
	promptPlaceholder lipgloss.AdaptiveColor
	promptBorderStyle lipgloss.Style
	bannerHeading     lipgloss.Style
}

const (
	defaultPrompt      = "Ask anything... Ctrl+C to exit, Esc to stop a reply"
	promptSymbol       = "› "
	promptMinHeight    = 1
	promptMaxHeight    = 8
	defaultPromptWidth = 60
)

func buildThemeStyles(p theme.Palette) themeStyles {
	return themeStyles{
		statusStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorPrimaryText)).
			Background(p.Adaptive(theme.ColorPrimary)).
			Padding(0),
		thinkingStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorHighlight)),
		senderStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorAccent)),
		errorStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorDanger)),
		noticeStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorTextMuted)),
		promptAccent:      p.Adaptive(theme.ColorAccent),
		promptPlaceholder: p.Adaptive(theme.ColorTextMuted),
		promptBorderStyle: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorBorder)),
		bannerHeading: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorTextPrimary)).
			Bold(true),
	}
}

type (
	readyMsg        struct{}
	turnResolvedMsg struct {
		err error
	}
	sessionsLoadedMsg struct {
		sessions []engine.Session
		err      error
	}
	sessionSwitchedMsg struct {
		err error
	}
	modelsLoadedMsg struct {
		models []string
		err    error
	}
	titleResolvedMsg struct {
		title string
	}
	renameDoneMsg struct {
		title string
		err   error
	}
)

type model struct {
	ctx  context.Context
	opts Options

	engine    *engine.Engine
	directory *engine.Directory
	logger    *slog.Logger

	palette theme.Palette
	styles  themeStyles

	input            textarea.Model
	spinner          spinner.Model
	width            int
	notices          []string
	pendingAtt       *engine.Attachment
	sessionChoices   []engine.Session
	filteredCommands []slashCommand
	titleCancel      context.CancelFunc
	quitting         bool
}

// Run launches the interactive chat session and blocks until it exits.
func Run(ctx context.Context, streams *iostreams.IOStreams, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Engine == nil || opts.Directory == nil {
		return errors.New("chat requires an engine and a session directory")
	}

	m := newModel(ctx, opts)
	program := tea.NewProgram(m,
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithoutSignalHandler(),
	)

	_, err := program.Run()
	m.stopTitleWatch()

	if m.logger != nil {
		m.logger.LogAttrs(ctx, slog.LevelInfo, "chat session end",
			slog.Bool("had_error", err != nil))
	}
	return err
}

func newModel(ctx context.Context, opts Options) *model {
	pal := opts.Theme
	if strings.TrimSpace(pal.Name) == "" {
		pal = theme.FromContext(ctx)
	}
	if strings.TrimSpace(pal.Name) == "" {
		pal = theme.Current()
	}
	styles := buildThemeStyles(pal)

	input := textarea.New()
	input.Placeholder = defaultPrompt
	input.Prompt = promptSymbol
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = promptMaxHeight
	input.SetHeight(promptMinHeight)
	input.Focus()
	input.Cursor.SetMode(cursor.CursorStatic)
	focusedStyle, blurredStyle := textarea.DefaultStyles()
	resetTextareaStyle := func(style *textarea.Style) {
		style.Base = lipgloss.NewStyle()
		style.CursorLine = lipgloss.NewStyle()
		style.CursorLineNumber = lipgloss.NewStyle()
		style.EndOfBuffer = lipgloss.NewStyle()
		style.LineNumber = lipgloss.NewStyle()
		style.Text = lipgloss.NewStyle()
		style.Placeholder = lipgloss.NewStyle().Foreground(styles.promptPlaceholder)
		style.Prompt = lipgloss.NewStyle().Foreground(styles.promptAccent)
	}
	resetTextareaStyle(&focusedStyle)
	resetTextareaStyle(&blurredStyle)
	input.FocusedStyle = focusedStyle
	input.BlurredStyle = blurredStyle
	input.Cursor.Style = lipgloss.NewStyle().Foreground(styles.promptAccent)
	input.SetWidth(defaultPromptWidth)

	sp := spinner.New()
	sp.Style = styles.thinkingStyle

	logger := opts.Logger
	if logger == nil {
		logger = devbot.ContextLogger(ctx)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &model{
		ctx:       ctx,
		opts:      opts,
		engine:    opts.Engine,
		directory: opts.Directory,
		logger:    logger,
		palette:   pal,
		styles:    styles,
		input:     input,
		spinner:   sp,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return readyMsg{} })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case readyMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			width := msg.Width - 4
			if width < 20 {
				width = 20
			}
			m.input.SetWidth(width)
			m.adjustInputHeight()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case turnResolvedMsg:
		return m.handleTurnResolved(msg.err)

	case sessionsLoadedMsg:
		if msg.err != nil {
			m.notifyError(msg.err)
			return m, nil
		}
		m.sessionChoices = msg.sessions
		if len(msg.sessions) == 0 {
			m.notify("No saved conversations yet.")
			return m, nil
		}
		lines := make([]string, 0, len(msg.sessions)+1)
		lines = append(lines, "Conversations (use /switch <number>):")
		for i, sess := range msg.sessions {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, sess.Title))
		}
		m.notify(strings.Join(lines, "\n"))
		return m, nil

	case sessionSwitchedMsg:
		if msg.err != nil {
			m.notifyError(msg.err)
			return m, nil
		}
		m.notices = nil
		return m, m.maybeWatchTitle()

	case modelsLoadedMsg:
		if msg.err != nil {
			m.notifyError(msg.err)
			return m, nil
		}
		if len(msg.models) == 0 {
			m.notify("No models reported by the server.")
			return m, nil
		}
		m.notify("Models: " + strings.Join(msg.models, ", "))
		return m, nil

	case titleResolvedMsg:
		// Rendering pulls the title from the engine; the message only exists
		// to trigger a repaint once auto-naming lands.
		return m, nil

	case renameDoneMsg:
		if msg.err != nil {
			m.notifyError(msg.err)
			return m, nil
		}
		m.notify(fmt.Sprintf("Renamed to %q.", msg.title))
		return m, nil
	}

	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.engine.Cancel()
		m.stopTitleWatch()
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.engine.State().InFlight() {
			m.engine.Cancel()
		}
		return m, nil

	case tea.KeyEnter:
		// The send affordance is disabled, not merely advisory, while a turn
		// is in flight.
		if m.engine.State().InFlight() {
			return m, nil
		}
		raw := m.input.Value()
		if cmd, handled := m.executeSlashCommand(raw); handled {
			m.input.SetValue("")
			m.input.CursorEnd()
			m.updateSuggestions()
			m.adjustInputHeight()
			return m, cmd
		}

		value := strings.TrimSpace(raw)
		if value == "" && m.pendingAtt == nil {
			return m, nil
		}

		att := m.pendingAtt
		m.pendingAtt = nil
		m.notices = nil
		m.input.SetValue("")
		m.adjustInputHeight()
		return m, m.submitCmd(value, att)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.updateSuggestions()
	m.adjustInputHeight()
	return m, cmd
}

func (m *model) handleTurnResolved(err error) (tea.Model, tea.Cmd) {
	switch {
	case err == nil:
		return m, m.maybeWatchTitle()
	case errors.Is(err, engine.ErrCancelled):
		m.notify("Stopped.")
		return m, nil
	case errors.Is(err, engine.ErrNothingToSubmit):
		if m.engine.Model() == "" {
			m.notify("No model selected. Use /model <name> first.")
		}
		return m, nil
	case errors.Is(err, engine.ErrRequestInFlight):
		return m, nil
	default:
		// The engine already terminated the turn visually; surface the cause
		// in the notice area for detail.
		m.notifyError(err)
		return m, nil
	}
}

func (m *model) executeSlashCommand(raw string) (tea.Cmd, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, false
	}
	name, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit":
		m.engine.Cancel()
		m.stopTitleWatch()
		m.quitting = true
		return tea.Quit, true

	case "/new":
		m.stopTitleWatch()
		m.engine.StartDraft()
		m.notices = nil
		m.notify("Started a new conversation.")
		return nil, true

	case "/sessions":
		return m.loadSessionsCmd(), true

	case "/switch":
		index, err := strconv.Atoi(rest)
		if err != nil || index < 1 || index > len(m.sessionChoices) {
			m.notify("Usage: /switch <number> (run /sessions first)")
			return nil, true
		}
		m.stopTitleWatch()
		return m.switchSessionCmd(m.sessionChoices[index-1]), true

	case "/edit":
		numText, newText, _ := strings.Cut(rest, " ")
		index, err := strconv.Atoi(numText)
		newText = strings.TrimSpace(newText)
		if err != nil || newText == "" {
			m.notify("Usage: /edit <message-number> <new text>")
			return nil, true
		}
		return m.editCmd(index-1, newText), true

	case "/model":
		if rest == "" {
			m.notify(fmt.Sprintf("Current model: %s", m.engine.Model()))
			return nil, true
		}
		m.engine.SelectModel(rest)
		m.notify(fmt.Sprintf("Model set to %s.", rest))
		return nil, true

	case "/models":
		return m.loadModelsCmd(), true

	case "/attach":
		if rest == "" {
			m.notify("Usage: /attach <path>")
			return nil, true
		}
		m.pendingAtt = &engine.Attachment{Name: filepath.Base(rest), Path: rest}
		m.notify(fmt.Sprintf("Will attach %s to the next prompt.", m.pendingAtt.Name))
		return nil, true

	case "/rename":
		if rest == "" {
			m.notify("Usage: /rename <new title>")
			return nil, true
		}
		sess, ok := m.engine.Session()
		if !ok || sess.Provisional() {
			m.notify("Nothing to rename yet; send a message first.")
			return nil, true
		}
		return m.renameCmd(sess.ID, rest), true
	}
	return nil, false
}

func (m *model) submitCmd(prompt string, att *engine.Attachment) tea.Cmd {
	return func() tea.Msg {
		return turnResolvedMsg{err: m.engine.Submit(m.ctx, prompt, att)}
	}
}

func (m *model) editCmd(index int, newText string) tea.Cmd {
	return func() tea.Msg {
		return turnResolvedMsg{err: m.engine.EditAndResubmit(m.ctx, index, newText)}
	}
}

func (m *model) loadSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.directory.List(m.ctx)
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func (m *model) switchSessionCmd(sess engine.Session) tea.Cmd {
	return func() tea.Msg {
		return sessionSwitchedMsg{err: m.engine.SwitchSession(m.ctx, sess)}
	}
}

func (m *model) loadModelsCmd() tea.Cmd {
	return func() tea.Msg {
		models, err := m.directory.Models(m.ctx)
		return modelsLoadedMsg{models: models, err: err}
	}
}

func (m *model) renameCmd(id int64, title string) tea.Cmd {
	return func() tea.Msg {
		return renameDoneMsg{title: title, err: m.directory.Rename(m.ctx, id, title)}
	}
}

// maybeWatchTitle starts a background poll while the active session still
// carries the placeholder title. The watch is cancelled on switch or exit so
// no timer outlives its session.
func (m *model) maybeWatchTitle() tea.Cmd {
	sess, ok := m.engine.Session()
	if !ok || sess.Provisional() || sess.Title != devbot.DefaultChatTitle {
		return nil
	}
	m.stopTitleWatch()
	watchCtx, cancel := context.WithCancel(m.ctx)
	m.titleCancel = cancel

	eng := m.engine
	dir := m.directory
	return func() tea.Msg {
		title, err := dir.WatchTitle(watchCtx, sess.ID, devbot.DefaultChatTitle)
		if err != nil || title == devbot.DefaultChatTitle {
			return titleResolvedMsg{title: ""}
		}
		eng.AdoptTitle(sess.ID, title)
		return titleResolvedMsg{title: title}
	}
}

func (m *model) stopTitleWatch() {
	if m.titleCancel != nil {
		m.titleCancel()
		m.titleCancel = nil
	}
}

func (m *model) notify(text string) {
	m.notices = append(m.notices, text)
}

func (m *model) notifyError(err error) {
	if err == nil {
		return
	}
	text := err.Error()
	if devbot.IsTransientError(err) {
		text += " (temporary, try again)"
	}
	if m.opts.UseColor {
		text = m.styles.errorStyle.Render(text)
	}
	m.notices = append(m.notices, text)
	m.logger.LogAttrs(m.ctx, slog.LevelError, "chat error",
		slog.String("error", err.Error()))
}

func (m *model) updateSuggestions() {
	value := strings.TrimSpace(m.input.Value())
	m.filteredCommands = nil
	if !strings.HasPrefix(value, "/") || strings.Contains(value, " ") {
		return
	}
	for _, cmd := range defaultSlashCommands {
		if strings.HasPrefix(cmd.name, value) {
			m.filteredCommands = append(m.filteredCommands, cmd)
		}
	}
}

func (m *model) adjustInputHeight() {
	trimmed := strings.TrimRight(m.input.View(), "\n")
	lines := 1
	if trimmed != "" {
		lines = strings.Count(trimmed, "\n") + 1
	}
	height := lines
	if height < promptMinHeight {
		height = promptMinHeight
	}
	if height > promptMaxHeight {
		height = promptMaxHeight
	}
	if m.input.Height() != height {
		m.input.SetHeight(height)
	}
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderBanner())
	b.WriteString("\n\n")

	messages := m.engine.Messages()
	for i, msg := range messages {
		b.WriteString(m.renderMessage(i, msg))
		b.WriteString("\n")
		if i < len(messages)-1 {
			b.WriteString("\n")
		}
	}

	state := m.engine.State()
	if state.InFlight() {
		label := "Thinking"
		if state == engine.StateAwaitingAsyncTask {
			label = "Working in the background"
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s %s", label, m.spinner.View()))
		b.WriteString("\n")
	}

	for _, notice := range m.notices {
		b.WriteString("\n")
		if m.opts.UseColor {
			b.WriteString(m.styles.noticeStyle.Render(notice))
		} else {
			b.WriteString(notice)
		}
		b.WriteString("\n")
	}

	if suggestions := m.renderSuggestions(); suggestions != "" {
		b.WriteString(suggestions)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderPrompt())
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")

	return b.String()
}

func (m *model) renderBanner() string {
	heading := fmt.Sprintf("%s chat", meta.ProductName)
	if m.opts.Version != "" {
		heading += " " + m.opts.Version
	}
	if m.opts.UseColor {
		heading = m.styles.bannerHeading.Render(heading)
	}
	modelName := m.engine.Model()
	if modelName == "" {
		modelName = "none (/model <name>)"
	}
	sub := fmt.Sprintf("model: %s", modelName)
	if m.opts.UseColor {
		sub = m.styles.noticeStyle.Render(sub)
	}
	return heading + "\n" + sub
}

func (m *model) renderMessage(index int, msg engine.Message) string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	if msg.Role == engine.RoleSender {
		label := fmt.Sprintf("You [%d]", index+1)
		if m.opts.UseColor {
			label = m.styles.senderStyle.Render(label)
		}
		line := msg.Content
		if msg.Attachment != nil {
			line += fmt.Sprintf(" (attached: %s)", msg.Attachment.Name)
		}
		return label + " " + wordwrap.String(line, width-2)
	}

	if msg.Content == engine.ErrorMarker {
		if m.opts.UseColor {
			return m.styles.errorStyle.Render(msg.Content)
		}
		return msg.Content
	}
	return render.Message(msg, render.Options{NoColor: !m.opts.UseColor, Width: width - 2})
}

func (m *model) renderSuggestions() string {
	if len(m.filteredCommands) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, cmd := range m.filteredCommands {
		line := fmt.Sprintf("  %-10s %s", cmd.name, cmd.description)
		if m.opts.UseColor {
			line = m.styles.noticeStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *model) renderPrompt() string {
	view := m.input.View()
	width := m.input.Width()
	if width <= 0 {
		width = defaultPromptWidth
	}
	border := strings.Repeat("─", width)
	if m.opts.UseColor {
		border = m.styles.promptBorderStyle.Render(border)
	}
	return fmt.Sprintf("%s\n%s\n%s", border, view, border)
}

func (m *model) renderStatusLine() string {
	left := "No conversation"
	if sess, ok := m.engine.Session(); ok {
		if sess.Provisional() {
			left = "New conversation (unsaved)"
		} else {
			left = fmt.Sprintf("%s (#%d)", sess.Title, sess.ID)
		}
	}
	if m.pendingAtt != nil {
		left += fmt.Sprintf("  attach: %s", m.pendingAtt.Name)
	}

	right := ""
	switch m.engine.State() {
	case engine.StateSubmitting:
		right = "Sending..."
	case engine.StateAwaitingAsyncTask:
		right = "Polling task..."
	}

	width := m.width
	if min := lipgloss.Width(left) + lipgloss.Width(right) + 1; width < min {
		width = min
	}
	space := width - lipgloss.Width(left) - lipgloss.Width(right)
	if space < 1 {
		space = 1
	}
	content := left + strings.Repeat(" ", space) + right
	if !m.opts.UseColor {
		return content
	}
	return m.styles.statusStyle.Render(content)
}
