package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"secuflow/config"
	"secuflow/internal/logger"
)

type globalParams struct {
	configPath string
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var params globalParams
	root := &cobra.Command{
		Use:          "secuflow [command]",
		Short:        "SecuFlow triages Windows event logs.",
		Long:         `SecuFlow summarizes recent Windows event logs, raises threshold incidents and explains them in plain language.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&params.configPath, "config", "c", "", "path to secuflow.yml (default: ./secuflow.yml or next to the binary)")

	root.AddCommand(
		serveCommand(&params),
		analyzeCommand(&params),
		templateCommand(&params),
		sampleCommand(&params),
		prepareCommand(&params),
	)
	return root
}

// loadConfig resolves the config file and initializes logging.
func loadConfig(params *globalParams) (*config.Config, error) {
	cfg, path, err := config.Load(params.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	l := cfg.SecuFlow.Logging
	if err := logger.Init(l.Enabled, l.Level, l.File, l.Console); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	if path != "" {
		logger.Infof("Config loaded from: %s", path)
	} else {
		logger.Infof("No config file found, using defaults")
	}
	return cfg, nil
}
