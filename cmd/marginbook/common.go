package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"marginbook/internal/config"
	"marginbook/internal/exchange"
	"marginbook/internal/logging"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	envFiles, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path, envFiles...)
}

func newLogger(cfg config.Config) *logging.Logger {
	log := logging.NewLoggerFromEnv(cfg.Env)
	log.SetLevel(cfg.Logging.Level.Get())
	return log
}

func newExchange(cfg config.Config, log *logging.Logger) (*exchange.Exchange, error) {
	ex := exchange.New(exchange.WithLogger(log))
	for _, m := range cfg.MarketConfigs() {
		if _, err := ex.AddMarket(m); err != nil {
			return nil, errors.Wrapf(err, "adding market %s", m.ID)
		}
	}
	return ex, nil
}
