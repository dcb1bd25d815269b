// Command line of the Shipper realtime server.

package main

import (
	"Shipper/internal/auth"
	"Shipper/internal/config"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "shipper-realtime",
	Short: "shipper-realtime - realtime event fan-out over Server-Sent Events",
	Long: `shipper-realtime streams project, workspace and file events to browsers.

  shipper-realtime serve     Run the HTTP server
  shipper-realtime token     Mint an access token for local testing
  shipper-realtime version   Print the version`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shipper-realtime %s\n", Version)
	},
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with JWT_SECRET",
	Example: `  shipper-realtime token --user alice
  shipper-realtime token --user alice --ttl 1h --env-file config/dev.env`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if enverr := config.LoadEnvFile(envFile); enverr != nil {
			return enverr
		}
		cfg, cfgerr := config.Load()
		if cfgerr != nil {
			return cfgerr
		}
		token, tokenerr := auth.CreateToken(cfg.JWTSecret, tokenUser, tokenTTL)
		if tokenerr != nil {
			return tokenerr
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file loaded before reading the environment")

	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command line with ver as the reported version.
func Execute(ver string) error {
	Version = ver
	return rootCmd.Execute()
}
