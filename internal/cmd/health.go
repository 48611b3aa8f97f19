package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/archive"
	errwrap "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/respondent"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that the configuration, roster and archive are usable before serving.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewInternalError("version information missing"))
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		cfg := loadConfig()
		log.Info("✅ Configuration valid")

		roster, err := respondent.Load(cfg.Roster.Path)
		if err != nil {
			ExitWithCode(log, foundry.ExitFileNotFound, "Roster unreadable", err)
		}
		if roster.Len() == 0 {
			log.Warn("⚠️  Roster is empty", zap.String("path", cfg.Roster.Path))
		} else {
			log.Info("✅ Roster loaded", zap.Int("respondents", roster.Len()))
		}

		if cfg.Store.Enabled {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			arc, err := archive.Open(ctx, cfg.Store)
			if err != nil {
				log.Warn("⚠️  Batch archive unavailable; bulk runs will not be persisted", zap.Error(err))
			} else {
				_ = arc.Close()
				log.Info("✅ Batch archive ready", zap.String("driver", arc.Driver()))
			}
		}

		if cfg.LLM.APIKey == "" {
			log.Warn("⚠️  No generation API key configured", zap.String("provider", cfg.LLM.Provider))
		} else {
			log.Info("✅ Generation API key present", zap.String("provider", cfg.LLM.Provider))
		}

		log.Info("")
		log.Info("✅ Health check complete")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
