package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use: "pagesim",
	Short: "Pagesim simulates the virtual-memory core of a bare-metal " +
		"32-bit kernel.",
	Long: `Pagesim simulates the virtual-memory core of a bare-metal 32-bit ` +
		`kernel: page-table construction and activation, and demand paging ` +
		`driven by a hardware-style page walker. The boot subcommand brings ` +
		`the simulated machine up and touches virtual addresses to trigger ` +
		`page faults.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env file can preset the boot flags. Missing files are fine.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
