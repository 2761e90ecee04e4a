package main

import (
	"fmt"

	"github.com/ethpandaops/resultsdb/pkg/api"
	"github.com/spf13/cobra"
)

var apiListen string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the read-only query API server",
	Long:  `Serve the recorded test cases and executions over HTTP as JSON.`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().StringVar(&apiListen, "listen", "", "listen address, overrides api.listen")
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := requireDatabase(cfg); err != nil {
		return err
	}

	if apiListen != "" {
		cfg.API.Listen = apiListen
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	srv := api.NewServer(log, &cfg.API, cfg.Database)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
