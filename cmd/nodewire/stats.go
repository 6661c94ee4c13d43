package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodewire/nodewire/internal/config"
)

func newStatsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Connect and print a session statistics snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, obs, err := openSession(cmd, v)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			defer func() {
				_ = s.Close()
				_ = obs.Close(ctx)
			}()

			if err := s.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			out, err := json.MarshalIndent(s.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	config.AddCommonFlags(cmd)
	return cmd
}
