package util

import "github.com/spf13/cobra"

// CheckError aborts the process on setup errors that leave the CLI unusable,
// such as failed flag binding.
func CheckError(err error) {
	cobra.CheckErr(err)
}
