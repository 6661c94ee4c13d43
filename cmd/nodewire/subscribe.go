package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodewire/nodewire/internal/config"
	"github.com/nodewire/nodewire/pkg/jsonrpc"
)

func newSubscribeCmd(v *viper.Viper) *cobra.Command {
	var unsubMethod string

	cmd := &cobra.Command{
		Use:   "subscribe <method> [params-json]",
		Short: "Open a server-side subscription and print updates until interrupted",
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

			out := cmd.OutOrStdout()
			handle, err := s.SubscribeRPC(ctx, args[0], params,
				func(id jsonrpc.SubscriptionID, result json.RawMessage) {
					fmt.Fprintf(out, "%s\n", result)
				})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "subscribed: %s\n", handle)

			<-ctx.Done()

			if unsubMethod != "" {
				// The signal context is spent; give the unsubscribe its own.
				cleanup, cancel := signalContext()
				defer cancel()
				if _, err := s.UnsubscribeRPC(cleanup, unsubMethod, handle); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "unsubscribe: %v\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&unsubMethod, "unsubscribe-method", "", "method to call on exit to close the subscription")
	config.AddCommonFlags(cmd)
	return cmd
}
