package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tunneljohn/internal/config"
	"github.com/dropDatabas3/tunneljohn/internal/observability/logger"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// .env es opcional; el entorno real siempre gana.
	_ = godotenv.Load()

	cfgPath := envOr("TUNNELJOHN_CONFIG", "")

	root := &cobra.Command{
		Use:           "tunneljohn",
		Short:         "Motor de ciclo de vida y provisioning de cuentas VPN",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath,
		"path del config YAML (env TUNNELJOHN_CONFIG)")

	loadCfg := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.App.LogLevel,
			ServiceName: "tunneljohn",
		})
		return cfg, nil
	}

	root.AddCommand(serveCmd(loadCfg))
	root.AddCommand(accountCmd(loadCfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}
