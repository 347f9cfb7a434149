package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fbcqbe",
	Short: "fbcqbe - a BASIC compiler targeting the QBE intermediate language",
	Long: `fbcqbe compiles a structured dialect of line-numbered BASIC into
QBE SSA intermediate code ready for the native backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}
