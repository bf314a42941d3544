package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echoservice",
	Short: "HTTP echo and connectivity diagnostics service",
	Long: `echoservice echoes HTTP requests back as JSON, answers canned error
status codes, and verifies that named connection strings and cloud identities
can reach their backends (storage, messaging, key vaults, databases, caches).

Running echoservice without a subcommand starts the HTTP service.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(versionCmd)

	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
