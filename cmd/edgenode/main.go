package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/decub/edgemesh/internal/config"
	"github.com/decub/edgemesh/internal/node"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgenode",
		Short: "Run one disaster-response telemetry mesh node",
		RunE:  runNode,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to node config file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("edgenode: %v", err)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadNodeConfig(cfgFile)
	if err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("edgenode: node exited with error: %v", err)
		}
	case <-sigCh:
		log.Println("edgenode: shutting down...")
	}

	n.Stop()
	return nil
}
