package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/cmd"
	cmdcommon "github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs"
	"github.com/devbot/devbotctl/internal/devbot"
	"github.com/devbot/devbotctl/internal/util/i18n"
)

const Verb = verbs.Models

var modelsShort = i18n.T("root.verbs.models.short", "List models available on the DevBot server")

func NewModelsCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   Verb.String(),
		Short: modelsShort,
		Args:  cobra.NoArgs,
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
			return run(cmd.BuildHelper(c, args))
		},
	}

	command.Flags().String(cmdcommon.BaseURLFlagName, "",
		fmt.Sprintf(`Base URL for DevBot API requests.
- Config path: [ %s ]`,
			cmdcommon.BaseURLConfigPath))

	command.Flags().String(cmdcommon.TokenFlagName, "",
		fmt.Sprintf(`Bearer token used to authenticate against the DevBot service.
- Config path: [ %s ]`,
			cmdcommon.TokenConfigPath))

	return command, nil
}

func bindFlags(c *cobra.Command, _ []string) error {
	helper := cmd.BuildHelper(c, nil)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	if f := c.Flags().Lookup(cmdcommon.BaseURLFlagName); f != nil {
		if err := cfg.BindFlag(cmdcommon.BaseURLConfigPath, f); err != nil {
			return err
		}
	}
	if f := c.Flags().Lookup(cmdcommon.TokenFlagName); f != nil {
		if err := cfg.BindFlag(cmdcommon.TokenConfigPath, f); err != nil {
			return err
		}
	}
	return nil
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	baseURL := strings.TrimSpace(cfg.GetString(cmdcommon.BaseURLConfigPath))
	if baseURL == "" {
		return cmd.PrepareExecutionError(
			"no DevBot base URL configured",
			fmt.Errorf("set %s via flag or config", cmdcommon.BaseURLFlagName),
			helper.GetCmd(),
		)
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	client := devbot.NewClient(nil, baseURL, cfg.GetString(cmdcommon.TokenConfigPath))
	models, err := client.Models(ctx)
	if err != nil {
		return cmd.PrepareExecutionError("failed to list models", err, helper.GetCmd())
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()

	if outType == cmdcommon.TEXT {
		if len(models) == 0 {
			_, err := fmt.Fprintln(streams.Out, "No models available.")
			return err
		}
		for _, name := range models {
			if _, err := fmt.Fprintln(streams.Out, name); err != nil {
				return err
			}
		}
		return nil
	}

	printer, err := cli.Format(outType.String(), streams.Out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(models)
	return nil
}
