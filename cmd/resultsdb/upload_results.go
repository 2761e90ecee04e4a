package main

import (
	"fmt"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadMethod    string
	uploadName      string
	uploadPreflight bool
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload the SQLite results database to remote storage",
	Long:  `Upload the configured SQLite database file to S3-compatible storage using the config file settings.`,
	RunE:  runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadResultsCmd.Flags().StringVar(&uploadName, "name", "",
		"Object name under the configured prefix (defaults to the database file name)")
	uploadResultsCmd.Flags().BoolVar(&uploadPreflight, "preflight", true,
		"Write a test object before uploading")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Database.Driver != config.DriverSQLite || cfg.Database.SQLite.Path == "" {
		return fmt.Errorf("only SQLite database files can be uploaded (use --db_path)")
	}

	if !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	if uploadPreflight {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	log.WithField("path", cfg.Database.SQLite.Path).Info("Uploading results")

	key, err := uploader.UploadFile(ctx, cfg.Database.SQLite.Path, uploadName)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.WithFields(logrus.Fields{
		"bucket": cfg.Upload.S3.Bucket,
		"key":    key,
	}).Info("Upload completed successfully")

	return nil
}
