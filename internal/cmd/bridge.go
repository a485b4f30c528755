package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/citadel/internal/bridge"
)

var (
	bridgeServer     string
	bridgeSessionID  string
	bridgeClientName string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the stdio JSON-RPC bridge against a gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Logs go to stderr; stdout carries protocol traffic only.
		logger := log.New(os.Stderr, "[bridge] ", log.LstdFlags)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		client := bridge.NewClient(bridgeServer)
		b := bridge.New(client, os.Stdin, os.Stdout, bridgeSessionID, bridgeClientName, logger)
		return b.Run(ctx)
	},
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeServer, "server", "http://127.0.0.1:24282", "gateway server base URL")
	bridgeCmd.Flags().StringVar(&bridgeSessionID, "session-id", "", "existing session id to resume")
	bridgeCmd.Flags().StringVar(&bridgeClientName, "client-name", "", "client display name")
	rootCmd.AddCommand(bridgeCmd)
}
