package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: config.DriverSQLite,
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	s := store.NewStore(newLogger(), cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func openFileStore(t *testing.T, path string, stack bool) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Stack:  stack,
		SQLite: config.SQLiteDatabaseConfig{Path: path},
	}

	s := store.NewStore(newLogger(), cfg)
	require.NoError(t, s.Start(context.Background()))

	return s
}

func TestStore_RecordExecution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tc := &store.TestCase{
		Name:        "TestParse",
		Markers:     "slow",
		Description: "Parses input.",
		ClsName:     "parser",
	}
	exec := &store.ExecutionRecord{
		Params:   "{}",
		Status:   store.StatusPassed,
		Duration: 0.25,
		Extras:   `{"capstdout":"ok"}`,
	}

	require.NoError(t, s.RecordExecution(ctx, tc, exec))
	assert.NotZero(t, exec.ExecutionID)
	assert.Equal(t, "TestParse", exec.TestName, "test name defaults to the case name")

	got, err := s.GetTestCase(ctx, "TestParse")
	require.NoError(t, err)
	assert.Equal(t, "slow", got.Markers)
	assert.Equal(t, "Parses input.", got.Description)
	assert.Equal(t, "parser", got.ClsName)
	require.Len(t, got.Executions, 1)
	assert.Equal(t, store.StatusPassed, got.Executions[0].Status)
	assert.InDelta(t, 0.25, got.Executions[0].Duration, 1e-9)
	assert.False(t, got.Executions[0].Timestamp.IsZero(), "timestamp comes from the database default")
}

func TestStore_UpsertReplacesMetadata(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i, desc := range []string{"first", "second", "third"} {
		tc := &store.TestCase{Name: "TestA", Description: desc, Markers: "m"}
		exec := &store.ExecutionRecord{
			Status: store.StatusPassed,
			Params: []string{`{"a":0}`, `{"a":1}`, `{"a":2}`}[i],
		}
		require.NoError(t, s.RecordExecution(ctx, tc, exec))
	}

	cases, err := s.ListTestCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1, "upsert must not duplicate the row")
	assert.Equal(t, "third", cases[0].Description, "latest metadata wins")

	execs, err := s.ListExecutions(ctx, store.ExecutionFilter{TestName: "TestA"})
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, `{"a":0}`, execs[0].Params)
	assert.Equal(t, `{"a":2}`, execs[2].Params)
}

func TestStore_ListTestCasesOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	names := []string{"test_pass", "test_failed", "test_skipped"}
	for _, name := range names {
		require.NoError(t, s.RecordExecution(ctx,
			&store.TestCase{Name: name},
			&store.ExecutionRecord{Status: store.StatusPassed},
		))
	}

	// Re-recording the first test must not move it.
	require.NoError(t, s.RecordExecution(ctx,
		&store.TestCase{Name: "test_pass"},
		&store.ExecutionRecord{Status: store.StatusPassed},
	))

	cases, err := s.ListTestCases(ctx)
	require.NoError(t, err)

	got := make([]string, 0, len(cases))
	for _, c := range cases {
		got = append(got, c.Name)
	}

	assert.Equal(t, names, got)
}

func TestStore_ListExecutionsFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	records := []struct {
		name     string
		status   string
		duration float64
	}{
		{"TestA", store.StatusPassed, 0.1},
		{"TestA", store.StatusFailed, 0.5},
		{"TestB", store.StatusSkipped, 0.0},
		{"TestB", store.StatusPassed, 0.3},
	}

	for _, r := range records {
		require.NoError(t, s.RecordExecution(ctx,
			&store.TestCase{Name: r.name},
			&store.ExecutionRecord{Status: r.status, Duration: r.duration},
		))
	}

	tests := []struct {
		name      string
		filter    store.ExecutionFilter
		wantCount int
		wantFirst float64
	}{
		{name: "no filter", filter: store.ExecutionFilter{}, wantCount: 4, wantFirst: 0.1},
		{name: "by test name", filter: store.ExecutionFilter{TestName: "TestB"}, wantCount: 2, wantFirst: 0.0},
		{name: "by status", filter: store.ExecutionFilter{Status: store.StatusPassed}, wantCount: 2, wantFirst: 0.1},
		{name: "limit", filter: store.ExecutionFilter{Limit: 1}, wantCount: 1, wantFirst: 0.1},
		{name: "slowest first", filter: store.ExecutionFilter{SlowestFirst: true, Limit: 2}, wantCount: 2, wantFirst: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execs, err := s.ListExecutions(ctx, tt.filter)
			require.NoError(t, err)
			require.Len(t, execs, tt.wantCount)
			assert.InDelta(t, tt.wantFirst, execs[0].Duration, 1e-9)
		})
	}
}

func TestStore_StatusSummary(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, status := range []string{store.StatusPassed, store.StatusFailed, store.StatusPassed} {
		require.NoError(t, s.RecordExecution(ctx,
			&store.TestCase{Name: "TestA"},
			&store.ExecutionRecord{Status: status, Duration: 1},
		))
	}

	summary, err := s.StatusSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, store.StatusFailed, summary[0].Status)
	assert.Equal(t, int64(1), summary[0].Count)
	assert.Equal(t, store.StatusPassed, summary[1].Status)
	assert.Equal(t, int64(2), summary[1].Count)
	assert.InDelta(t, 2.0, summary[1].TotalDuration, 1e-9)

	count, err := s.CountExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStore_GetTestCaseNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetTestCase(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_StackAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		s := openFileStore(t, path, true)
		require.NoError(t, s.RecordExecution(ctx,
			&store.TestCase{Name: "test_1"},
			&store.ExecutionRecord{Status: store.StatusPassed},
		))
		require.NoError(t, s.Stop())
	}

	s := openFileStore(t, path, true)
	defer func() { _ = s.Stop() }()

	cases, err := s.ListTestCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	count, err := s.CountExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_ClearsWithoutStack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	ctx := context.Background()

	first := openFileStore(t, path, false)
	require.NoError(t, first.RecordExecution(ctx,
		&store.TestCase{Name: "test_1"},
		&store.ExecutionRecord{Status: store.StatusPassed},
	))
	require.NoError(t, first.Stop())

	second := openFileStore(t, path, false)
	defer func() { _ = second.Stop() }()

	count, err := second.CountExecutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_ForeignKeyViolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Inserting an execution directly against a missing case must fail and
	// leave nothing behind.
	err := s.RecordExecution(ctx,
		&store.TestCase{Name: ""},
		&store.ExecutionRecord{TestName: "ghost", Status: store.StatusPassed},
	)
	require.Error(t, err)

	count, err := s.CountExecutions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(newLogger(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
