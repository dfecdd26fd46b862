package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"specsync/api/internal/auth"
	"specsync/api/internal/config"
)

var (
	tokenUser string
	tokenName string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Long:  `Sign a bearer token with the configured secret. Useful for local clients and smoke tests.`,
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the token subject")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(tokenUser) == "" {
		return fmt.Errorf("--user must not be empty")
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), tokenUser, tokenName, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
