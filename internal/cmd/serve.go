package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/citadel/internal/config"
	"github.com/steveyegge/citadel/internal/registry"
	"github.com/steveyegge/citadel/internal/server"
)

var (
	servePort    int
	serveContext string
	serveModes   []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the central gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUser()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveContext != "" {
			cfg.Server.Context = serveContext
		}
		if len(serveModes) > 0 {
			cfg.Modes = serveModes
		}

		dir, err := config.UserDir()
		if err != nil {
			return err
		}
		logger := log.New(os.Stderr, "[citadel] ", log.LstdFlags)
		reg := registry.New(dir, logger)

		srv := server.New(cfg, reg, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting server: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Printf("signal received, shutting down")
			srv.Stop()
		}()

		srv.Wait()
		srv.Shutdown(10 * time.Second)
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().StringVar(&serveContext, "context", "", "execution context name")
	serveCmd.Flags().StringArrayVar(&serveModes, "mode", nil, "mode to activate (repeatable)")
	rootCmd.AddCommand(serveCmd)
}
