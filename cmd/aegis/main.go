// aegis is the CLI entry point: serve runs the agent with the health
// scheduler and the metrics endpoint, ask answers a single query, health
// prints the current report.
package main

import (
	"errors"
	"fmt"
	"os"

	"aegis/internal/aerr"
	"aegis/internal/agent"
	"aegis/internal/config"
	"aegis/internal/embedding"
	"aegis/internal/logging"
	"aegis/internal/secure"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes for the service layer.
const (
	exitOK          = 0
	exitConfig      = 64
	exitPersistence = 70
	exitBackend     = 74
	exitInterrupt   = 130
)

var (
	version = "dev"

	configPath string
	dataDir    string
	modeFlag   string
	verbose    bool
)

// errInterrupted marks a shutdown triggered by SIGINT/SIGTERM.
var errInterrupted = errors.New("interrupted")

var rootCmd = &cobra.Command{
	Use:           "aegis",
	Short:         "aegis - cybersecurity assistant runtime",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return logging.Initialize(logging.Options{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			OutputPath:  cfg.Logging.OutputPath,
		})
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logging.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(*cobra.Command, []string) {
		fmt.Println("aegis", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "runtime mode: beginner, pro, safe, simulation, training")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, askCmd, healthCmd, versionCmd)
}

// loadConfig merges the yaml file, environment overrides and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if modeFlag != "" {
		m := config.Mode(modeFlag)
		if !m.Valid() {
			return nil, aerr.Errorf(aerr.KindConfig, "main", "invalid mode %q", modeFlag)
		}
		cfg.Runtime.Mode = m
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// buildAgent constructs the full runtime from the environment's master key.
func buildAgent(cfg *config.Config) (*agent.Agent, error) {
	key := []byte(os.Getenv("MASTER_ENCRYPTION_KEY"))
	if len(key) < secure.MinMasterKeyLen {
		return nil, aerr.Errorf(aerr.KindConfig, "main",
			"MASTER_ENCRYPTION_KEY must be set to at least %d bytes", secure.MinMasterKeyLen)
	}
	opts := agent.Options{Config: cfg, MasterKey: key}
	if os.Getenv("AEGIS_LOCAL_EMBEDDINGS") == "true" {
		opts.Engine = embedding.NewLocalEngine(cfg.LLM.EmbeddingDimensions)
	}
	return agent.New(opts)
}

// exitCodeFor maps the error taxonomy onto process exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted):
		return exitInterrupt
	case aerr.Is(err, aerr.KindConfig):
		return exitConfig
	case aerr.Is(err, aerr.KindPersistenceCorrupt):
		return exitPersistence
	case aerr.Is(err, aerr.KindBackendUnavailable), aerr.Is(err, aerr.KindGenerationUnavailable):
		return exitBackend
	default:
		return 1
	}
}

func main() {
	// A missing .env is normal outside container deployments.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, "aegis:", err)
		}
		os.Exit(exitCodeFor(err))
	}
}
