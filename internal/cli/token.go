package cli

import (
	"bufio"
	"fmt"
	"os"

	"chatsync/pkg/auth"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a connection token with a server signing key",
	Long: `token signs a user id with one of the server's signing keys. The key
is read from CHATSYNC_SIGNING_KEY, the config file, or prompted for.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		key := cfg.SigningKey
		if key == "" {
			if key, err = promptSecret(bufio.NewReader(os.Stdin), "Signing key"); err != nil {
				return err
			}
		}
		fmt.Println(auth.Sign(key, args[0]))
		return nil
	},
}
