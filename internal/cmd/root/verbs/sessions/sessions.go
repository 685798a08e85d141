package sessions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/cmd"
	cmdcommon "github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/cmd/root/verbs"
	"github.com/devbot/devbotctl/internal/devbot"
	"github.com/devbot/devbotctl/internal/util/i18n"
	"github.com/devbot/devbotctl/internal/util/normalizers"
)

const (
	Verb        = verbs.Sessions
	yesFlagName = "yes"
)

var (
	sessionsShort = i18n.T("root.verbs.sessions.short", "Manage saved DevBot conversations")
	sessionsLong  = normalizers.LongDesc(i18n.T(
		"root.verbs.sessions.long",
		"List, rename, and delete conversations stored on the DevBot server.",
	))
)

func addFlags(command *cobra.Command) {
	command.PersistentFlags().String(cmdcommon.BaseURLFlagName, "",
		fmt.Sprintf(`Base URL for DevBot API requests.
- Config path: [ %s ]`,
			cmdcommon.BaseURLConfigPath))

	command.PersistentFlags().String(cmdcommon.TokenFlagName, "",
		fmt.Sprintf(`Bearer token used to authenticate against the DevBot service.
- Config path: [ %s ]`,
			cmdcommon.TokenConfigPath))
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

func NewSessionsCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   Verb.String(),
		Short: sessionsShort,
		Long:  sessionsLong,
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
			return runList(cmd.BuildHelper(c, args))
		},
	}

	addFlags(command)
	command.AddCommand(newListCmd())
	command.AddCommand(newRenameCmd())
	command.AddCommand(newDeleteCmd())

	return command, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runList(cmd.BuildHelper(c, args))
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <new-title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return runRename(cmd.BuildHelper(c, args))
		},
	}
}

func newDeleteCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "delete <chat-id>",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			autoApprove, err := c.Flags().GetBool(yesFlagName)
			if err != nil {
				return err
			}
			cmd.SetDeleteAutoApprove(c, autoApprove)
			return runDelete(helper)
		},
	}

	command.Flags().Bool(yesFlagName, false, "Skip the confirmation prompt")

	return command
}

func buildClient(helper cmd.Helper) (*devbot.Client, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(cfg.GetString(cmdcommon.BaseURLConfigPath))
	if baseURL == "" {
		return nil, cmd.PrepareExecutionError(
			"no DevBot base URL configured",
			fmt.Errorf("set %s via flag or config", cmdcommon.BaseURLFlagName),
			helper.GetCmd(),
		)
	}

	return devbot.NewClient(nil, baseURL, cfg.GetString(cmdcommon.TokenConfigPath)), nil
}

func runList(helper cmd.Helper) error {
	client, err := buildClient(helper)
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	chats, err := client.ListChats(ctx)
	if err != nil {
		return cmd.PrepareExecutionError("failed to list conversations", err, helper.GetCmd())
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()

	if outType == cmdcommon.TEXT {
		if len(chats) == 0 {
			_, err := fmt.Fprintln(streams.Out, "No conversations found.")
			return err
		}
		w := tabwriter.NewWriter(streams.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCREATED")
		for _, chat := range chats {
			created := ""
			if !chat.CreatedAt.IsZero() {
				created = chat.CreatedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", chat.ID, chat.Title, created)
		}
		return w.Flush()
	}

	printer, err := cli.Format(outType.String(), streams.Out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(chats)
	return nil
}

func runRename(helper cmd.Helper) error {
	args := helper.GetArgs()
	id, err := parseChatID(args[0])
	if err != nil {
		return cmd.PrepareExecutionError("invalid chat id", err, helper.GetCmd())
	}
	newTitle := strings.TrimSpace(strings.Join(args[1:], " "))
	if newTitle == "" {
		return cmd.PrepareExecutionError("invalid title",
			fmt.Errorf("title cannot be empty"), helper.GetCmd())
	}

	client, err := buildClient(helper)
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := client.RenameChat(ctx, id, newTitle); err != nil {
		return cmd.PrepareExecutionError("failed to rename conversation", err, helper.GetCmd())
	}

	_, err = fmt.Fprintf(helper.GetStreams().Out, "Renamed conversation %d to %q\n", id, newTitle)
	return err
}

func runDelete(helper cmd.Helper) error {
	id, err := parseChatID(helper.GetArgs()[0])
	if err != nil {
		return cmd.PrepareExecutionError("invalid chat id", err, helper.GetCmd())
	}

	client, err := buildClient(helper)
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	description := fmt.Sprintf("conversation %d", id)
	if title, err := client.ChatTitle(ctx, id); err == nil && title != "" {
		description = fmt.Sprintf("conversation %d (%q)", id, title)
	}

	if err := cmd.ConfirmDelete(helper, description,
		"This removes the conversation and its history from the server."); err != nil {
		return err
	}

	if err := client.DeleteChat(ctx, id); err != nil {
		return cmd.PrepareExecutionError("failed to delete conversation", err, helper.GetCmd())
	}

	_, err = fmt.Fprintf(helper.GetStreams().Out, "Deleted conversation %d\n", id)
	return err
}

func parseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("chat id must be a positive integer, got %q", raw)
	}
	return id, nil
}
