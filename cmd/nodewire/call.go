package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodewire/nodewire/internal/config"
)

func newCallCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Perform one JSON-RPC call and print the result",
		Args:  cobra.RangeArgs(1, 2),
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

			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("parse params: %w", err)
				}
			}

			result, err := s.Call(ctx, args[0], params)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
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
