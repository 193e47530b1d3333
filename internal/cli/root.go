package cli

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-sync-client/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	sessionID   string
	displayName string
	token       string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:          "quiz-client",
		Short:        "Real-time client for sudden-death quiz sessions",
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", envConfig, "path to YAML config")
	pf.StringVar(&flags.sessionID, "session", os.Getenv("QUIZ_SESSION_ID"), "session id")
	pf.StringVar(&flags.displayName, "name", os.Getenv("QUIZ_DISPLAY_NAME"), "display name")
	pf.StringVar(&flags.token, "token", os.Getenv("QUIZ_TOKEN"), "bearer token")

	cmd.AddCommand(newPlayCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newReplayCmd(flags))
	cmd.AddCommand(newAdminCmd(flags))
	cmd.AddCommand(newMigrateCmd(flags))
	return cmd
}

// loadConfig reads the config file and configures the global logger from it.
func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
