package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/build"
	"github.com/devbot/devbotctl/internal/cmd"
	"github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs/chat"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs/models"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs/sessions"
	"github.com/devbot/devbotctl/internal/cmd/root/version"
	"github.com/devbot/devbotctl/internal/config"
	"github.com/devbot/devbotctl/internal/iostreams"
	"github.com/devbot/devbotctl/internal/log"
	"github.com/devbot/devbotctl/internal/meta"
	"github.com/devbot/devbotctl/internal/profile"
	"github.com/devbot/devbotctl/internal/theme"
	"github.com/devbot/devbotctl/internal/util"
	"github.com/devbot/devbotctl/internal/util/i18n"
	"github.com/devbot/devbotctl/internal/util/normalizers"
)

const ThemeFlagName = "theme"

var (
	rootLong = normalizers.LongDesc(i18n.T("root.rootLong", `
  devbotctl is the command line client for the DevBot conversation service.

  Chat interactively, send one-shot prompts, and manage saved conversations.`))

	rootShort = i18n.T("root/rootShort", fmt.Sprintf("%s talks to DevBot", meta.CLIName))

	rootCmd *cobra.Command

	// Stores the global runtime value for the Configuration file path,
	configFilePath = config.ExpandDefaultConfigFilePath()
	currProfile    = profile.DefaultProfile

	currConfig   config.Hook
	streams      *iostreams.IOStreams
	pMgr         profile.Manager
	outputFormat = cmd.NewEnum([]string{"json", "yaml", "text"}, "text")
	logLevel     = cmd.NewEnum([]string{"trace", "debug", "info", "warn", "error"},
		common.DefaultLogLevel)
	themeFlag = theme.NewFlag(theme.DefaultName)

	buildInfo *build.Info
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   meta.CLIName,
		Short: rootShort,
		Long:  rootLong,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctx := context.WithValue(cmd.Context(), config.ConfigKey, currConfig)
			ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
			ctx = context.WithValue(ctx, profile.ProfileManagerKey, pMgr)
			ctx = context.WithValue(ctx, build.InfoKey, buildInfo)
			ctx = context.WithValue(ctx, log.LoggerKey, buildLogger())
			ctx = theme.ContextWithPalette(ctx, resolvePalette())
			cmd.SetContext(ctx)
		},
	}

	// parses all flags not just the target command
	rootCmd.TraverseChildren = true

	rootCmd.PersistentFlags().StringVar(&configFilePath, common.ConfigFilePathFlagName,
		config.ExpandDefaultConfigFilePath(),
		i18n.T("root."+common.ConfigFilePathFlagName, "Path to the configuration file to load."))

	rootCmd.PersistentFlags().StringVarP(&currProfile, common.ProfileFlagName, common.ProfileFlagShort,
		profile.DefaultProfile,
		"Specify the profile to use for this command.")

	rootCmd.PersistentFlags().VarP(outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.OutputConfigPath, strings.Join(outputFormat.Allowed, "|")))

	rootCmd.PersistentFlags().Var(logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Configures the logging verbosity.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.LogLevelConfigPath, strings.Join(logLevel.Allowed, "|")))

	rootCmd.PersistentFlags().Var(themeFlag, ThemeFlagName,
		fmt.Sprintf("Color theme for interactive output. Allowed: [ %s ]",
			strings.Join(theme.Available(), "|")))

	return rootCmd
}

// addCommands adds the root subcommands to the command.
func addCommands() error {
	rootCmd.AddCommand(version.NewVersionCmd())

	c, e := chat.NewChatCmd()
	if e != nil {
		return e
	}
	rootCmd.AddCommand(c)

	c, e = sessions.NewSessionsCmd()
	if e != nil {
		return e
	}
	rootCmd.AddCommand(c)

	c, e = models.NewModelsCmd()
	if e != nil {
		return e
	}
	rootCmd.AddCommand(c)

	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()
	err := addCommands()
	util.CheckError(err)

	// Because the profile is not part of the configuration, we can't use viper
	// to read it following it's built in priorities.  So here we look for a well known
	// profile variable and set our package level variable if it's set before
	// continuing to process the command run.  This creates a ENV_VAR < CLI_FLAG priority
	profileEnvVar, found := os.LookupEnv(fmt.Sprintf("%s_PROFILE", strings.ToUpper(meta.CLIName)))
	if found {
		currProfile = profileEnvVar
	}
}

func initConfig() {
	cfg, e1 := config.GetConfig(configFilePath, currProfile, config.ExpandDefaultConfigFilePath())
	util.CheckError(e1)
	currConfig = cfg

	pMgr = profile.NewManager(cfg.Viper)

	f := rootCmd.Flags().Lookup(common.OutputFlagName)
	util.CheckError(cfg.BindFlag(common.OutputConfigPath, f))

	f = rootCmd.Flags().Lookup(common.LogLevelFlagName)
	util.CheckError(cfg.BindFlag(common.LogLevelConfigPath, f))
}

// buildLogger assembles the process logger. Structured records go to stderr
// only at debug verbosity and below; errors are always surfaced through the
// friendly handler unless an interactive surface disables mirroring.
func buildLogger() *slog.Logger {
	level := log.ConfigLevelStringToSlogLevel(common.DefaultLogLevel)
	if currConfig != nil {
		if configured := currConfig.GetString(common.LogLevelConfigPath); configured != "" {
			level = log.ConfigLevelStringToSlogLevel(configured)
		}
	}

	out := io.Discard
	if level <= slog.LevelDebug {
		out = streams.ErrOut
	}

	primary := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(log.NewDualHandler(primary, log.NewFriendlyErrorHandler(streams.ErrOut)))
}

func resolvePalette() theme.Palette {
	name := themeFlag.String()
	if err := theme.SetCurrent(name); err != nil {
		return theme.Current()
	}
	p, _ := theme.Get(name)
	return p
}

func Execute(ctx context.Context, s *iostreams.IOStreams, bi *build.Info) {
	buildInfo = bi
	cobra.EnableTraverseRunHooks = true
	streams = s
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var executionError *cmd.ExecutionError
		if errors.As(err, &executionError) {
			printer, _ := cli.Format(outputFormat.String(), s.ErrOut)
			printer.Print(err)
			os.Exit(1)
		}
		os.Exit(1)
	}
}
