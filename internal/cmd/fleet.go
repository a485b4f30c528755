package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/citadel/internal/config"
	"github.com/steveyegge/citadel/internal/fleet"
	"github.com/steveyegge/citadel/internal/registry"
)

var fleetPort int

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Run the fleet dashboard over all gateway instances on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.UserDir()
		if err != nil {
			return err
		}
		logger := log.New(os.Stderr, "[fleet] ", log.LstdFlags)
		reg := registry.New(dir, logger)

		d := fleet.New(reg, logger)
		port, existing, err := d.Start(fleetPort)
		if err != nil {
			return fmt.Errorf("starting fleet dashboard: %w", err)
		}
		if existing {
			fmt.Printf("fleet dashboard already running on port %d\n", port)
			return nil
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Printf("signal received, shutting down")
			d.Stop()
		}()

		d.Wait()
		return nil
	},
}

func init() {
	fleetCmd.Flags().IntVar(&fleetPort, "port", config.DefaultFleetPort, "preferred dashboard port")
	rootCmd.AddCommand(fleetCmd)
}
