// Package cli is the chatsync-cli command tree: token minting, sending
// and tailing through the sync engine, history browsing and benchmarks.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync-cli",
	Short: "Command line client for chatsync",
	Long: `chatsync-cli talks to a chatsync server through the same sync engine an
app would use: messages are cached locally, queued while offline and replayed
in order once the server is reachable.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// SetVersion overrides the build information printed by --version.
func SetVersion(v, c string) {
	version, commit = v, c
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $HOME/.chatsync.yaml)")
	rootCmd.PersistentFlags().String("server", "", "server base url, overrides the config file")
	rootCmd.PersistentFlags().String("user", "", "user id, overrides the config file")
}
