package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodewire/nodewire/internal/config"
	"github.com/nodewire/nodewire/internal/observability"
	"github.com/nodewire/nodewire/pkg/session"
)

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	config.BindCommonFlags(cmd, v)
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(v, cfgFile)
}

func openSession(cmd *cobra.Command, v *viper.Viper) (*session.Session, *observability.Observability, error) {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return nil, nil, err
	}

	obs := observability.New(observability.Config{
		LogLevel:    cfg.Observability.LogLevel,
		LogFormat:   cfg.Observability.LogFormat,
		MetricsAddr: cfg.Observability.MetricsAddr,
	}, os.Stderr)

	s, err := session.New(cfg,
		session.WithLogger(obs.Logger),
		session.WithMetrics(obs.Metrics),
	)
	if err != nil {
		_ = obs.Close(context.Background())
		return nil, nil, err
	}
	return s, obs, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
