package cmd

import (
	"fmt"
	goruntime "runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/quota"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== " + identity.BinaryName + " environment ===")
		log.Info("")
		log.Info("Application:")
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("  Go:         "+goruntime.Version()+" "+goruntime.GOOS+"/"+goruntime.GOARCH, zap.String("go_version", goruntime.Version()))
		log.Info("")

		cfg := loadConfig()
		log.Info("Configuration:")
		log.Info("  Config File:    " + viper.ConfigFileUsed())
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info("  Roster:         " + cfg.Roster.Path)
		if !cfg.Store.Enabled {
			log.Info("  Archive:        disabled")
		} else if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  Archive:        " + cfg.Store.Driver + " " + redactURL(cfg.Store.URL))
		} else {
			log.Info("  Archive:        " + cfg.Store.Driver + " " + cfg.Store.Path)
		}
		log.Info("  Stats:          " + cfg.Stats.Backend)
		log.Info("")

		log.Info("Generation service:")
		log.Info("  Provider:       " + cfg.LLM.Provider)
		log.Info("  Model:          " + cfg.LLM.Model)
		log.Info(fmt.Sprintf("  API Key:        %t", strings.TrimSpace(cfg.LLM.APIKey) != ""))
		log.Info(fmt.Sprintf("  RPM / RPD:      %d / %d", cfg.Quota.RPMLimit, cfg.Quota.RPDLimit))
		log.Info(fmt.Sprintf("  Concurrency:    %d requested, %d effective",
			cfg.Dispatch.Concurrency, quota.EffectiveConcurrency(cfg.Dispatch.Concurrency, cfg.Quota.RPMLimit)))
	},
}

// redactURL hides the userinfo of a connection URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return raw
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
