package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodewire/nodewire/internal/config"
	"github.com/nodewire/nodewire/internal/transport"
)

func newProbeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [host:port ...]",
		Short: "Check basic network reachability",
		Long:  "Dials the given endpoints (or the configured probe endpoints) and reports whether any accepts a TCP connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			endpoints := args
			if len(endpoints) == 0 {
				endpoints = cfg.Probe.Endpoints
			}
			if err := transport.Probe(endpoints, cfg.Probe.Timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "network reachable")
			return nil
		},
	}
	config.AddCommonFlags(cmd)
	return cmd
}
