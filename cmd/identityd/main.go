// Command identityd serves the identity API and runs its maintenance tasks.
//
// @title                      Identity API
// @version                    1.0
// @description                Registration, login, session tokens and profiles.
// @BasePath                   /api
// @securityDefinitions.apikey SessionToken
// @in                         header
// @name                       Authorization
// @description                Session token, raw or as "Bearer <token>".
package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-identity-backend/internal/config"
	"github.com/tbourn/go-identity-backend/internal/sysutil"
)

// Version information set at build time.
var (
	version = ""
	commit  = "none"
	date    = "unknown"
)

var (
	envFiles []string
	logLevel string
	cfg      config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "identityd",
	Short:         "Identity, session and uniqueness-index service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			c.LogLevel = logLevel
		}
		cfg = c

		sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
		gin.SetMode(cfg.GinMode)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "identityd %s\n", sysutil.Version(version))
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}
