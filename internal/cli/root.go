// Package cli implements jmlctl, a thin command-line demonstration of
// the jml library: connect, create, bulk create, retry, and search.
package cli

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jira-magic-library/jml/pkg/config"
)

// BuildInfo carries ldflags-injected build metadata into the root
// command's version string.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var buildInfo BuildInfo

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jmlctl",
	Short: "Create and search JIRA Server issues from human-readable field names and values",
	Long: `jmlctl is a command-line client for jml, a library that resolves
human-readable field names and values against a JIRA Server project's
discovered schema before creating or searching issues.

Configuration:
  Create a .env file (or export the equivalent environment variables):
    JIRA_BASE_URL=https://jira.example.com
    JIRA_TOKEN=your-personal-access-token
    REDIS_HOST=localhost
    REDIS_PORT=6379

Getting Started:
  jmlctl create --project=ENG --issuetype=Task --field Summary="fix the thing"
  jmlctl bulk --project=ENG --issuetype=Task --file=rows.csv
  jmlctl search --project=ENG --status=Open`,
	Version: buildInfo.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
	return rootCmd.Execute()
}

func init() {
	// Global flags can be added here
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
}

// newLogger builds a logr.Logger backed by zap, matching level to the
// root command's --log-level flag.
func newLogger(cmd *cobra.Command) (logr.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")

	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zapLevel
	zapCfg.Encoding = "console"
	zapCfg.EncoderConfig.TimeKey = ""

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// loadConfig loads jml's configuration from .env and the environment.
func loadConfig() (*config.Config, error) {
	loader := config.NewDotEnvLoader()
	return loader.Load()
}
