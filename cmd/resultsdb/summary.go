package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/docker/go-units"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/spf13/cobra"
)

const (
	summaryFormatTable    = "table"
	summaryFormatMarkdown = "markdown"
)

var (
	summaryTop    int
	summaryStatus string
	summaryFormat string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print recorded results per status and the slowest executions",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().IntVar(&summaryTop, "top", 10, "number of slowest executions to list")
	summaryCmd.Flags().StringVar(&summaryStatus, "status", "",
		"only list slowest executions with this status")
	summaryCmd.Flags().StringVar(&summaryFormat, "format", summaryFormatTable,
		"output format (table, markdown); markdown suits CI job summaries")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	if summaryFormat != summaryFormatTable && summaryFormat != summaryFormatMarkdown {
		return fmt.Errorf("unsupported format %q (use %s or %s)",
			summaryFormat, summaryFormatTable, summaryFormatMarkdown)
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

	return writeSummary(ctx, cmd.OutOrStdout(), st, summaryTop, summaryStatus, summaryFormat)
}

// summaryData is what the summary command reports.
type summaryData struct {
	total   int64
	counts  []store.StatusCount
	slowest []store.ExecutionRecord
}

func loadSummary(ctx context.Context, st store.Store, top int, status string) (*summaryData, error) {
	counts, err := st.StatusSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarising executions: %w", err)
	}

	total, err := st.CountExecutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}

	data := &summaryData{total: total, counts: counts}

	if top <= 0 {
		return data, nil
	}

	data.slowest, err = st.ListExecutions(ctx, store.ExecutionFilter{
		Status:       status,
		Limit:        top,
		SlowestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing slowest executions: %w", err)
	}

	return data, nil
}

func writeSummary(
	ctx context.Context, w io.Writer, st store.Store, top int, status, format string,
) error {
	data, err := loadSummary(ctx, st, top, status)
	if err != nil {
		return err
	}

	if format == summaryFormatMarkdown {
		_, err = io.WriteString(w, renderMarkdownSummary(data))

		return err
	}

	statusTable := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STATUS", "EXECUTIONS", "TOTAL TIME")

	for _, c := range data.counts {
		statusTable.Row(c.Status, strconv.FormatInt(c.Count, 10), humanSeconds(c.TotalDuration))
	}

	fmt.Fprintf(w, "%d executions recorded\n", data.total)
	fmt.Fprintln(w, statusTable.Render())

	if len(data.slowest) == 0 {
		return nil
	}

	slowTable := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TEST", "PARAMS", "STATUS", "DURATION", "RECORDED")

	for _, e := range data.slowest {
		slowTable.Row(
			e.TestName,
			e.Params,
			e.Status,
			humanSeconds(e.Duration),
			units.HumanDuration(time.Since(e.Timestamp))+" ago",
		)
	}

	fmt.Fprintln(w, "Slowest executions")
	fmt.Fprintln(w, slowTable.Render())

	return nil
}

// renderMarkdownSummary renders the summary as GitHub flavoured markdown.
func renderMarkdownSummary(data *summaryData) string {
	var sb strings.Builder

	sb.WriteString("## Test results\n\n")
	fmt.Fprintf(&sb, "**%d** executions recorded.\n\n", data.total)

	sb.WriteString("| Status | Executions | Total time |\n")
	sb.WriteString("|--------|-----------:|-----------:|\n")

	for _, c := range data.counts {
		fmt.Fprintf(&sb, "| %s | %d | %s |\n", c.Status, c.Count, humanSeconds(c.TotalDuration))
	}

	if len(data.slowest) == 0 {
		return sb.String()
	}

	sb.WriteString("\n### Slowest executions\n\n")
	sb.WriteString("| Test | Params | Status | Duration |\n")
	sb.WriteString("|------|--------|--------|---------:|\n")

	for _, e := range data.slowest {
		fmt.Fprintf(&sb, "| `%s` | `%s` | %s | %s |\n",
			escapeMarkdownCell(e.TestName), escapeMarkdownCell(e.Params), e.Status, humanSeconds(e.Duration))
	}

	return sb.String()
}

// escapeMarkdownCell keeps pipes from splitting a table cell.
func escapeMarkdownCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// humanSeconds renders a duration in seconds. Sub-second values keep
// millisecond precision; longer ones use go-units' human form.
func humanSeconds(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return units.HumanDuration(d)
}
