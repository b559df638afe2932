package cli

import (
	"bufio"
	"fmt"
	"os"

	"chatsync/pkg/auth"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().Bool("mint", false, "mint the token locally from a signing key instead of pasting one")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store server address and credentials in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reader := bufio.NewReader(os.Stdin)
		if cfg.Server, err = promptLine(reader, "Server", cfg.Server); err != nil {
			return err
		}
		if cfg.UserID, err = promptLine(reader, "User id", cfg.UserID); err != nil {
			return err
		}
		if mint, _ := cmd.Flags().GetBool("mint"); mint {
			if cfg.SigningKey == "" {
				if cfg.SigningKey, err = promptSecret(reader, "Signing key"); err != nil {
					return err
				}
			}
			cfg.Token = auth.Sign(cfg.SigningKey, cfg.UserID)
		} else if cfg.Token, err = promptSecret(reader, "Token"); err != nil {
			return err
		}
		if err := SaveToFile(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Saved %s (user %s, token %s)\n", path, cfg.UserID, maskKey(cfg.Token))
		return nil
	},
}
