package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

var (
	exportFormat string
	exportOutput string
)

// exportDocument is the serialised form of the whole database.
type exportDocument struct {
	TestCases []store.TestCase `json:"test_cases" yaml:"test_cases"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded test cases and executions as YAML or JSON",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", formatYAML, "output format (yaml, json)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "output file (\"-\" for stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	if exportFormat != formatYAML && exportFormat != formatJSON {
		return fmt.Errorf("unsupported format %q (use %s or %s)", exportFormat, formatYAML, formatJSON)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStoreForReading(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Stop() }()

	doc, err := buildExport(ctx, st)
	if err != nil {
		return err
	}

	if exportOutput == "-" {
		err = writeExport(cmd.OutOrStdout(), doc, exportFormat)
	} else {
		err = writeExportFile(exportOutput, doc, exportFormat)
	}

	if err != nil {
		return err
	}

	log.WithField("test_cases", len(doc.TestCases)).Debug("Export written")

	return nil
}

func buildExport(ctx context.Context, st store.Store) (*exportDocument, error) {
	cases, err := st.ListTestCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	doc := &exportDocument{TestCases: make([]store.TestCase, 0, len(cases))}

	for _, c := range cases {
		tc, err := st.GetTestCase(ctx, c.Name)
		if err != nil {
			return nil, fmt.Errorf("loading test case %q: %w", c.Name, err)
		}

		doc.TestCases = append(doc.TestCases, *tc)
	}

	return doc, nil
}

// writeExportFile writes doc to path. A failed close is reported since the
// file may be incomplete.
func writeExportFile(path string, doc *exportDocument, format string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing output file: %w", closeErr)
		}
	}()

	return writeExport(f, doc, format)
}

func writeExport(w io.Writer, doc *exportDocument, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
	}

	return nil
}
