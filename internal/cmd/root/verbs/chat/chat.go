package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/build"
	"github.com/devbot/devbotctl/internal/cmd"
	cmdcommon "github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs"
	"github.com/devbot/devbotctl/internal/devbot"
	"github.com/devbot/devbotctl/internal/devbot/engine"
	"github.com/devbot/devbotctl/internal/devbot/render"
	"github.com/devbot/devbotctl/internal/devbot/storage"
	"github.com/devbot/devbotctl/internal/devbot/tui"
	"github.com/devbot/devbotctl/internal/log"
	"github.com/devbot/devbotctl/internal/theme"
	"github.com/devbot/devbotctl/internal/util/i18n"
	"github.com/devbot/devbotctl/internal/util/normalizers"
)

const (
	Verb        = verbs.Chat
	askFlagName = "ask"
)

var (
	chatShort = i18n.T("root.verbs.chat.short", "Start an interactive DevBot chat session")
	chatLong  = normalizers.LongDesc(i18n.T(
		"root.verbs.chat.long",
		"Open an interactive chat with the DevBot assistant, or send a single prompt with --ask.",
	))
)

func addFlags(command *cobra.Command) {
	command.Flags().String(cmdcommon.BaseURLFlagName, "",
		fmt.Sprintf(`Base URL for DevBot API requests.
- Config path: [ %s ]`,
			cmdcommon.BaseURLConfigPath))

	command.Flags().String(cmdcommon.TokenFlagName, "",
		fmt.Sprintf(`Bearer token used to authenticate against the DevBot service.
- Config path: [ %s ]`,
			cmdcommon.TokenConfigPath))

	command.Flags().String(cmdcommon.ModelFlagName, "",
		fmt.Sprintf(`Model used for new prompts.
- Config path: [ %s ]`,
			cmdcommon.ModelConfigPath))

	colorMode := cmd.NewEnum([]string{
		cmdcommon.ColorModeAuto.String(),
		cmdcommon.ColorModeAlways.String(),
		cmdcommon.ColorModeNever.String(),
	},
		cmdcommon.DefaultColorMode)

	command.Flags().Var(colorMode, cmdcommon.ColorFlagName,
		fmt.Sprintf(`Controls colorized terminal output.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			cmdcommon.ColorConfigPath, strings.Join(colorMode.Allowed, "|")))

	command.Flags().BoolP(askFlagName, "a", false,
		"Send a single prompt and print the response instead of opening the chat UI")
}

func bindFlags(c *cobra.Command, _ []string) error {
	helper := cmd.BuildHelper(c, nil)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	for flagName, configPath := range map[string]string{
		cmdcommon.BaseURLFlagName: cmdcommon.BaseURLConfigPath,
		cmdcommon.TokenFlagName:   cmdcommon.TokenConfigPath,
		cmdcommon.ModelFlagName:   cmdcommon.ModelConfigPath,
		cmdcommon.ColorFlagName:   cmdcommon.ColorConfigPath,
	} {
		f := c.Flags().Lookup(flagName)
		if f == nil {
			continue
		}
		if err := cfg.BindFlag(configPath, f); err != nil {
			return err
		}
	}

	return nil
}

func NewChatCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   Verb.String(),
		Short: chatShort,
		Long:  chatLong,
		Args:  validateArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = context.WithValue(ctx, verbs.Verb, Verb)
			c.SetContext(ctx)
			return bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			isAsk, err := c.Flags().GetBool(askFlagName)
			if err != nil {
				return err
			}
			if isAsk {
				return runAsk(helper)
			}
			return runInteractive(helper)
		},
	}

	addFlags(command)
	command.AddCommand(newResumeCmd())

	return command, nil
}

func validateArgs(cmd *cobra.Command, args []string) error {
	isAsk, err := cmd.Flags().GetBool(askFlagName)
	if err != nil {
		return err
	}

	if isAsk {
		return cobra.MinimumNArgs(1)(cmd, args)
	}

	return cobra.NoArgs(cmd, args)
}

// buildEngine assembles the client, directory, transcript recorder and
// conversation engine from the resolved configuration.
func buildEngine(helper cmd.Helper) (*engine.Engine, *engine.Directory, string, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, nil, "", err
	}

	logger, err := helper.GetLogger()
	if err != nil {
		return nil, nil, "", err
	}

	baseURL := strings.TrimSpace(cfg.GetString(cmdcommon.BaseURLConfigPath))
	if baseURL == "" {
		return nil, nil, "", cmd.PrepareExecutionError(
			"no DevBot base URL configured",
			fmt.Errorf("set %s via flag or config", cmdcommon.BaseURLFlagName),
			helper.GetCmd(),
		)
	}
	token := cfg.GetString(cmdcommon.TokenConfigPath)

	client := devbot.NewClient(nil, baseURL, token)
	directory := engine.NewDirectory(client, logger)

	version := resolveVersion(helper)

	pollInterval := time.Duration(cfg.GetIntOrElse(cmdcommon.PollIntervalConfigPath, 1)) * time.Second
	pollAttempts := cfg.GetIntOrElse(cmdcommon.PollAttemptsConfigPath, engine.DefaultPollAttempts)

	eng, err := engine.New(engine.Config{
		Backend:      client,
		Directory:    directory,
		Model:        cfg.GetString(cmdcommon.ModelConfigPath),
		PollInterval: pollInterval,
		PollAttempts: pollAttempts,
		Recorder:     storage.NewHub(version),
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, "", err
	}

	return eng, directory, version, nil
}

func resolveVersion(helper cmd.Helper) string {
	ctx := helper.GetContext()
	if ctx == nil {
		return "dev"
	}
	if info, ok := ctx.Value(build.InfoKey).(*build.Info); ok && info != nil {
		if v := strings.TrimSpace(info.Version); v != "" {
			return v
		}
	}
	return "dev"
}

func runInteractive(helper cmd.Helper) error {
	streams := helper.GetStreams()
	if !isTerminal(streams.Out) {
		return cmd.PrepareExecutionError(
			"interactive chat requires a TTY",
			fmt.Errorf("output stream is not a terminal"),
			helper.GetCmd(),
		)
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

	eng, directory, version, err := buildEngine(helper)
	if err != nil {
		return err
	}

	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	// Error records would otherwise be echoed to stderr mid-frame.
	log.DisableErrorMirroring()
	defer log.EnableErrorMirroring()

	eng.StartDraft()

	return tui.Run(ctx, streams, tui.Options{
		Engine:    eng,
		Directory: directory,
		UseColor:  useColor,
		Version:   version,
		Theme:     theme.FromContext(ctx),
		Logger:    logger,
	})
}

func runAsk(helper cmd.Helper) error {
	prompt := strings.TrimSpace(strings.Join(helper.GetArgs(), " "))
	if prompt == "" {
		return cmd.PrepareExecutionError("prompt is required",
			fmt.Errorf("prompt cannot be empty"), helper.GetCmd())
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	eng, _, _, err := buildEngine(helper)
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	eng.StartDraft()
	if err := eng.Submit(ctx, prompt, nil); err != nil {
		return cmd.PrepareExecutionError("failed to get a response", err, helper.GetCmd())
	}

	messages := eng.Messages()
	if len(messages) == 0 || messages[len(messages)-1].Role != engine.RoleReceiver {
		return cmd.PrepareExecutionError("failed to get a response",
			fmt.Errorf("no reply received"), helper.GetCmd())
	}
	response := messages[len(messages)-1].Content

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()

	colorMode, err := cmdcommon.ColorModeStringToIota(cfg.GetString(cmdcommon.ColorConfigPath))
	if err != nil {
		return err
	}
	useColor := shouldUseColor(colorMode, streams.Out)

	switch outType {
	case cmdcommon.TEXT:
		formatted := render.Markdown(response, render.Options{NoColor: !useColor})
		_, err := fmt.Fprintln(streams.Out, formatted)
		return err
	case cmdcommon.JSON, cmdcommon.YAML:
		printer, err := cli.Format(outType.String(), streams.Out)
		if err != nil {
			return err
		}
		defer printer.Flush()
		result := map[string]any{"response": response}
		if sess, ok := eng.Session(); ok && !sess.Provisional() {
			result["chat_id"] = sess.ID
			result["title"] = sess.Title
		}
		printer.Print(result)
		return nil
	default:
		return &cmd.ConfigurationError{
			Err: fmt.Errorf("unsupported output format %s for %s command",
				outType.String(), helper.GetCmd().CommandPath()),
		}
	}
}

func shouldUseColor(mode cmdcommon.ColorMode, out io.Writer) bool {
	switch mode {
	case cmdcommon.ColorModeAlways:
		return true
	case cmdcommon.ColorModeNever:
		return false
	default:
		if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
			return false
		}
		return isTerminal(out)
	}
}

var terminalDetector = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isTerminal(w io.Writer) bool {
	type fdWriter interface {
		Fd() uintptr
	}
	if fw, ok := w.(fdWriter); ok {
		return terminalDetector(fw.Fd())
	}
	return false
}
