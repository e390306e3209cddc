package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/turngate/internal/config"
	"github.com/kuuji/turngate/internal/restauth"
)

var credLifetime time.Duration

var credCmd = &cobra.Command{
	Use:   "cred <caller-id>",
	Short: "Mint time-limited TURN credentials",
	Long: `Generate a TURN REST API username/password pair from the shared
secret in the config file. Hand these to a client (or a signaling server
that passes them on); they authenticate against a turnd running with the
same shared secret until the encoded expiry passes.`,
	Args: cobra.ExactArgs(1),
	RunE: runCred,
}

func init() {
	credCmd.Flags().DurationVar(&credLifetime, "lifetime", restauth.DefaultCredentialLifetime, "credential validity period")
}

func runCred(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		return err
	}
	if cfg.Auth.SharedSecret == "" {
		return fmt.Errorf("config has no auth.shared_secret; static users don't need minted credentials")
	}

	username, password := restauth.GenerateCredentials(cfg.Auth.SharedSecret, args[0], credLifetime)
	fmt.Printf("username: %s\npassword: %s\n", username, password)
	return nil
}
