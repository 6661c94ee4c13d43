package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/nodewire/nodewire/internal/spill/badger"
	_ "github.com/nodewire/nodewire/internal/spill/fs"
	_ "github.com/nodewire/nodewire/internal/spill/redis"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "nodewire",
		Short: "Resilient JSON-RPC session to a remote node",
	}

	rootCmd.AddCommand(newCallCmd(v))
	rootCmd.AddCommand(newSubscribeCmd(v))
	rootCmd.AddCommand(newProbeCmd(v))
	rootCmd.AddCommand(newStatsCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
