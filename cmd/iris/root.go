package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Doitordead/Intel-irris/internal/config"
	"github.com/Doitordead/Intel-irris/internal/logging"
)

// cli holds state shared by the subcommands once setup has run.
type cli struct {
	configFile string
	cfg        config.Config
}

// flagKeys maps command line flags onto configuration keys. A flag is only
// bound when the running command defines it.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "addr",
	"source":     "source.kind",
	"domains":    "source.domains",
	"trees":      "source.trees",
	"encoding":   "import.encoding",
	"rules":      "rules.path",
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "iris",
		Short: "SCM governance importer",
		Long: `iris reads the domains and git trees exports of the SCM governance
files and reconciles the governance database with them.

Configuration comes from iris.yaml (or --config), IRIS_* environment
variables and .env files, in increasing order of precedence, with command
line flags on top.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "configuration file (default ./iris.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: json, console or auto")

	root.AddCommand(
		newImportCmd(c),
		newMigrateCmd(c),
		newServeCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	loadEnvFiles()

	v, err := config.NewViper(c.configFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	cfg := config.FromViper(v)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	logging.SetDefault(logger)
	cmd.SetContext(logging.WithLogger(cmd.Context(), &logger))
	return nil
}

// loadEnvFiles loads .env.local and .env. godotenv never overrides a set
// variable, so the environment beats .env.local, which beats .env.
func loadEnvFiles() {
	for _, name := range []string{".env.local", ".env"} {
		_ = godotenv.Load(name)
	}
}
