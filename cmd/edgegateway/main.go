package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/decub/edgemesh/internal/config"
	"github.com/decub/edgemesh/internal/gateway"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgegateway",
		Short: "Run the fleet-observing gateway for the disaster-response telemetry mesh",
		RunE:  runGateway,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to gateway config file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("edgegateway: %v", err)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGatewayConfig(cfgFile)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("edgegateway: exited with error: %v", err)
		}
	case <-sigCh:
		log.Println("edgegateway: shutting down...")
	}

	gw.Stop()
	return nil
}
