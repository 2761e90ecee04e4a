package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/gotest"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var goBinary string

var runCmd = &cobra.Command{
	Use:   "run [packages] [-- go test flags]",
	Short: "Run go test and record its results",
	Long: `Run go test -json with the configured arguments, print the test output
and record every test as it finishes. Arguments replace the configured package
patterns. The command fails when go test fails.`,
	RunE: runGoTest,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&goBinary, "go", "go", "go binary to run")
	addRecordingFlags(runCmd)
}

// goTestArgs builds the go test command line: configured arguments first,
// then the packages given on the command line or the configured patterns.
func goTestArgs(cfg *config.RecorderConfig, args []string) ([]string, error) {
	extra, err := shellwords.Parse(cfg.GoTestArgs)
	if err != nil {
		return nil, fmt.Errorf("parsing go_test_args: %w", err)
	}

	out := make([]string, 0, 2+len(extra)+len(args)+len(cfg.Packages))
	out = append(out, "test", "-json")
	out = append(out, extra...)

	if len(args) > 0 {
		return append(out, args...), nil
	}

	return append(out, cfg.Packages...), nil
}

func runGoTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applyRecordingFlags(cfg)

	if err := requireDatabase(cfg); err != nil {
		return err
	}

	testArgs, err := goTestArgs(&cfg.Recorder, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rec, err := startRecorder(ctx, cfg)
	if err != nil {
		return err
	}

	goTest := exec.CommandContext(ctx, goBinary, testArgs...)
	goTest.Dir = cfg.Recorder.SourceDir
	goTest.Env = os.Environ()

	stdout, err := goTest.StdoutPipe()
	if err != nil {
		_ = rec.Stop()

		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	stderr, err := goTest.StderrPipe()
	if err != nil {
		_ = rec.Stop()

		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	log.WithFields(logrus.Fields{
		"command": goBinary,
		"args":    testArgs,
		"dir":     goTest.Dir,
	}).Info("Starting go test")

	if err := goTest.Start(); err != nil {
		_ = rec.Stop()

		return fmt.Errorf("starting go test: %w", err)
	}

	var (
		g       errgroup.Group
		summary gotest.Summary
	)

	g.Go(func() error {
		s, err := recordStream(ctx, rec, cfg, stdout, cmd.OutOrStdout())
		summary = s

		return err
	})

	g.Go(func() error {
		if _, err := io.Copy(cmd.ErrOrStderr(), stderr); err != nil {
			return fmt.Errorf("copying go test stderr: %w", err)
		}

		return nil
	})

	groupErr := g.Wait()
	waitErr := goTest.Wait()

	if groupErr != nil {
		return groupErr
	}

	if waitErr != nil {
		return fmt.Errorf("go test failed (%d passed, %d failed, %d skipped): %w",
			summary.Passed, summary.Failed, summary.Skipped, waitErr)
	}

	return nil
}
