package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/gosrc"
	"github.com/ethpandaops/resultsdb/pkg/gotest"
	"github.com/ethpandaops/resultsdb/pkg/recorder"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	recordInput  string
	stackResults bool
	sourceDir    string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a go test -json stream",
	Long: `Read go test -json output from a file or stdin and record every test
into the configured database, for example:

  go test -json ./... | resultsdb record --db_path results.db --source-dir .`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordInput, "input", "-",
		"go test -json output to read (\"-\" for stdin)")
	addRecordingFlags(recordCmd)
}

// addRecordingFlags registers the flags shared by the commands that record.
func addRecordingFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&stackResults, "db_stack_results", false,
		"keep results of earlier runs instead of clearing the tables")
	cmd.Flags().StringVar(&sourceDir, "source-dir", "",
		"module root to read test doc comments and resultsdb directives from")
}

func applyRecordingFlags(cfg *config.Config) {
	if stackResults {
		cfg.Database.Stack = true
	}

	if sourceDir != "" {
		cfg.Recorder.SourceDir = sourceDir
	}
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applyRecordingFlags(cfg)

	if err := requireDatabase(cfg); err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()

	if recordInput != "-" {
		f, err := os.Open(recordInput)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer func() { _ = f.Close() }()

		in = f
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rec, err := startRecorder(ctx, cfg)
	if err != nil {
		return err
	}

	_, err = recordStream(ctx, rec, cfg, in, nil)

	return err
}

func startRecorder(ctx context.Context, cfg *config.Config) (recorder.Recorder, error) {
	rec := recorder.New(log, store.NewStore(log, &cfg.Database))
	if err := rec.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting recorder: %w", err)
	}

	return rec, nil
}

// recordStream records one go test -json stream through rec and stops it.
// When echo is set, test output is written to it as it arrives.
func recordStream(
	ctx context.Context, rec recorder.Recorder, cfg *config.Config, in io.Reader, echo io.Writer,
) (gotest.Summary, error) {
	collector := gotest.NewCollector(log, rec, loadSourceIndex(cfg.Recorder.SourceDir))
	process := collector.Process(ctx)

	malformed, streamErr := gotest.Stream(ctx, in, func(ev gotest.TestEvent) {
		if echo != nil && ev.Action == gotest.ActionOutput {
			_, _ = io.WriteString(echo, ev.Output)
		}

		process(ev)
	})

	if streamErr != nil {
		// Keep the producer from blocking on a full pipe.
		_, _ = io.Copy(io.Discard, in)
	}

	summary := collector.Summary()

	log.WithFields(logrus.Fields{
		"packages":   summary.Packages,
		"passed":     summary.Passed,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
		"unfinished": summary.Unfinished,
		"malformed":  malformed,
	}).Info("Test stream processed")

	if err := rec.Stop(); err != nil {
		return summary, fmt.Errorf("stopping recorder: %w", err)
	}

	if streamErr != nil {
		return summary, fmt.Errorf("reading test stream: %w", streamErr)
	}

	return summary, nil
}

// loadSourceIndex scans dir for test metadata. Recording continues without
// metadata when the scan fails.
func loadSourceIndex(dir string) *gosrc.Index {
	if dir == "" {
		return nil
	}

	idx, err := gosrc.Scan(dir)
	if err != nil {
		log.WithError(err).WithField("dir", dir).
			Warn("Failed to read test sources, recording without doc comments and markers")

		return nil
	}

	log.WithFields(logrus.Fields{
		"module":   idx.ModulePath,
		"packages": idx.Len(),
	}).Debug("Loaded test source metadata")

	return idx
}
