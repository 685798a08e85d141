package version

import (
	"fmt"
	"io"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/cmd"
	cmdcommon "github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/meta"
	"github.com/devbot/devbotctl/internal/util"
	"github.com/devbot/devbotctl/internal/util/i18n"
	"github.com/devbot/devbotctl/internal/util/normalizers"
)

const (
	ShowCommitFlagName   = "show-commit"
	ShowCommitConfigPath = "version." + ShowCommitFlagName
)

var (
	versionUse   = "version"
	versionShort = i18n.T("root.version.versionShort",
		fmt.Sprintf("Print the %s version", meta.CLIName))
	versionLong = normalizers.LongDesc(i18n.T("root.version.versionLong",
		`The version command prints the version and other optional information`))
	versionExample = normalizers.Examples(i18n.T("root.version.versionExamples",
		fmt.Sprintf(`
		# Print the simple version
		%[1]s version
		# Print the version and the git commit hash
		%[1]s version --show-commit
		`, meta.CLIName)))
)

// Build a new instance of the version command
func NewVersionCmd() *cobra.Command {
	rv := &cobra.Command{
		Use:     versionUse,
		Short:   versionShort,
		Long:    versionLong,
		Example: versionExample,
		PreRun: func(c *cobra.Command, args []string) {
			bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	rv.Flags().Bool(ShowCommitFlagName, false,
		i18n.T(fmt.Sprintf("root.%s", ShowCommitConfigPath),
			fmt.Sprintf("True to show the git commit hash when built.\n (config path = '%s')", ShowCommitConfigPath)))

	return rv
}

func bindFlags(c *cobra.Command, args []string) {
	helper := cmd.BuildHelper(c, args)
	cfg, e := helper.GetConfig()
	util.CheckError(e)
	f := c.Flags().Lookup(ShowCommitFlagName)
	err := cfg.BindFlag(ShowCommitConfigPath, f)
	util.CheckError(err)
}

func run(helper cmd.Helper) error {
	info, err := helper.GetBuildInfo()
	if err != nil {
		return err
	}

	result := map[string]any{
		"version": info.Version,
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	if cfg.GetBool(ShowCommitConfigPath) {
		result["commit"] = info.Commit
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	if outType == cmdcommon.TEXT {
		return printText(result, helper.GetStreams().Out)
	}

	p, err := cli.Format(outType.String(), helper.GetStreams().Out)
	if err != nil {
		return err
	}
	defer p.Flush()
	p.Print(result)

	return nil
}

// printText is a custom print function for the version command. Not really necessary
// but it shows how you can override the default printers per command.
func printText(data map[string]any, out io.Writer) error {
	if ver, ok := data["version"]; ok {
		if _, e := fmt.Fprintf(out, "%s", ver); e != nil {
			return e
		}
	}
	if commit, ok := data["commit"]; ok {
		if _, e := fmt.Fprintf(out, " (%s)", commit); e != nil {
			return e
		}
	}
	_, err := fmt.Fprintf(out, "\n")
	return err
}
