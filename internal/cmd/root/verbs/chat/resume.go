package chat

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/cmd"
	cmdcommon "github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/devbot/engine"
	"github.com/devbot/devbotctl/internal/devbot/tui"
	"github.com/devbot/devbotctl/internal/iostreams"
	"github.com/devbot/devbotctl/internal/log"
	"github.com/devbot/devbotctl/internal/theme"
)

const maxResumeSessions = 10

func newResumeCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "resume [chat-id]",
		Short: "Resume a previous conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			var rawID string
			if len(args) > 0 {
				rawID = strings.TrimSpace(args[0])
			}
			return runResume(helper, rawID)
		},
	}

	command.Aliases = []string{"res"}
	command.Example = "devbotctl chat resume\ndevbotctl chat resume 42"

	return command
}

func runResume(helper cmd.Helper, rawID string) error {
	streams := helper.GetStreams()
	if !isTerminal(streams.Out) {
		return cmd.PrepareExecutionError(
			"interactive session resume requires a TTY",
			fmt.Errorf("output stream is not a terminal"),
			helper.GetCmd(),
		)
	}

	eng, directory, version, err := buildEngine(helper)
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	var target engine.Session
	if rawID != "" {
		id, err := parseResumeID(rawID)
		if err != nil {
			return cmd.PrepareExecutionError("invalid chat id", err, helper.GetCmd())
		}
		title, err := directory.Title(ctx, id)
		if err != nil {
			return cmd.PrepareExecutionError("failed to load conversation", err, helper.GetCmd())
		}
		target = engine.Session{ID: id, Title: title}
	} else {
		sessions, err := directory.List(ctx)
		if err != nil {
			return cmd.PrepareExecutionError("failed to list conversations", err, helper.GetCmd())
		}
		if len(sessions) == 0 {
			return cmd.PrepareExecutionError("no conversations available",
				fmt.Errorf("no conversations found"), helper.GetCmd())
		}

		target, err = selectSession(ctx, streams, directory, sessions)
		if err != nil {
			return cmd.PrepareExecutionError("conversation selection failed", err, helper.GetCmd())
		}
		clearScreen(streams.Out)
	}

	if err := eng.SwitchSession(ctx, target); err != nil {
		return cmd.PrepareExecutionError("failed to load conversation history", err, helper.GetCmd())
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	colorMode, err := cmdcommon.ColorModeStringToIota(cfg.GetString(cmdcommon.ColorConfigPath))
	if err != nil {
		return err
	}
	useColor := shouldUseColor(colorMode, streams.Out)

	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}

	log.DisableErrorMirroring()
	defer log.EnableErrorMirroring()

	return tui.Run(ctx, streams, tui.Options{
		Engine:    eng,
		Directory: directory,
		UseColor:  useColor,
		Version:   version,
		Theme:     theme.FromContext(ctx),
		Logger:    logger,
	})
}

func selectSession(
	ctx context.Context,
	streams *iostreams.IOStreams,
	directory *engine.Directory,
	sessions []engine.Session,
) (engine.Session, error) {
	if len(sessions) > maxResumeSessions {
		sessions = sessions[:maxResumeSessions]
	}

	model := newSelectModel(ctx, directory, streams, sessions)
	prog := tea.NewProgram(model,
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithoutSignalHandler(),
	)

	result, err := prog.Run()
	if err != nil {
		return engine.Session{}, err
	}

	res, ok := result.(selectModel)
	if !ok || res.cancelled || res.index < 0 || res.index >= len(res.sessions) {
		return engine.Session{}, fmt.Errorf("selection cancelled")
	}

	return res.sessions[res.index], nil
}

func renderSessionLine(sess engine.Session) string {
	created := ""
	if !sess.CreatedAt.IsZero() {
		created = sess.CreatedAt.Local().Format("2006-01-02 15:04")
	}

	title := collapseWhitespace(strings.TrimSpace(sess.Title))
	if title == "" {
		title = fmt.Sprintf("#%d", sess.ID)
	}

	title = truncateString(title, 60)
	if created == "" {
		return title
	}
	return fmt.Sprintf("%s  %s", created, title)
}

type selectModel struct {
	ctx        context.Context
	directory  *engine.Directory
	streams    *iostreams.IOStreams
	sessions   []engine.Session
	cursor     int
	index      int
	cancelled  bool
	confirmDel bool
}

func newSelectModel(
	ctx context.Context,
	directory *engine.Directory,
	streams *iostreams.IOStreams,
	sessions []engine.Session,
) selectModel {
	return selectModel{
		ctx:       ctx,
		directory: directory,
		streams:   streams,
		sessions:  sessions,
		index:     -1,
		cursor:    0,
	}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if m.confirmDel {
				return m, nil
			}
			m.index = m.cursor
			return m, tea.Quit
		case "q", "esc", "ctrl+c":
			if m.confirmDel {
				m.confirmDel = false
				return m, nil
			}
			m.cancelled = true
			return m, tea.Quit
		case "up", "k":
			if !m.confirmDel && m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if !m.confirmDel && m.cursor < len(m.sessions)-1 {
				m.cursor++
			}
		case "d":
			if len(m.sessions) == 0 {
				return m, nil
			}
			if !m.confirmDel {
				m.confirmDel = true
				return m, nil
			}
			if err := m.directory.Delete(m.ctx, m.sessions[m.cursor].ID); err != nil {
				fmt.Fprintf(m.streams.Out, "\nFailed to delete conversation: %v\n", err)
				m.confirmDel = false
				return m, nil
			}
			m.sessions = append(m.sessions[:m.cursor], m.sessions[m.cursor+1:]...)
			if m.cursor >= len(m.sessions) && m.cursor > 0 {
				m.cursor--
			}
			if len(m.sessions) == 0 {
				m.cancelled = true
				return m, tea.Quit
			}
			m.confirmDel = false
			return m, nil
		}
	case tea.WindowSizeMsg:
		// no-op
	}

	return m, nil
}

func (m selectModel) View() string {
	var b strings.Builder
	b.WriteString("Resume a previous conversation\n")
	b.WriteString("Use ↑/↓ to move, Enter to resume, d to delete, q to cancel\n\n")

	for i, sess := range m.sessions {
		marker := " "
		if i == m.cursor {
			marker = "›"
		}
		b.WriteString(fmt.Sprintf("%s %s\n", marker, renderSessionLine(sess)))
	}

	if m.confirmDel && len(m.sessions) > 0 {
		b.WriteString("\nPress d again to confirm deletion, Esc to cancel\n")
	}

	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateString(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}

func parseResumeID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("chat id must be a positive integer, got %q", raw)
	}
	return id, nil
}

func clearScreen(out io.Writer) {
	if isTerminal(out) {
		fmt.Fprint(out, "\033[2J\033[H")
	} else {
		fmt.Fprintln(out)
	}
}
