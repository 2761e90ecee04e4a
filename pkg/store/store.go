package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// sqliteBusyTimeoutMs lets concurrent writer processes (for example several
// go test binaries recording into one file) wait for the lock.
const sqliteBusyTimeoutMs = 5000

// Store provides persistence for recorded test results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// RecordExecution upserts the test case and inserts the execution in
	// one transaction. Nothing is written when either step fails.
	RecordExecution(ctx context.Context, tc *TestCase, exec *ExecutionRecord) error
	UpsertTestCase(ctx context.Context, tc *TestCase) error

	GetTestCase(ctx context.Context, name string) (*TestCase, error)
	ListTestCases(ctx context.Context) ([]TestCase, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error)
	CountExecutions(ctx context.Context) (int64, error)
	StatusSummary(ctx context.Context) ([]StatusCount, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// IsIntegrityError reports whether err is a uniqueness or foreign key
// violation raised by the database.
func IsIntegrityError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated)
}

// Start opens the database connection and prepares the schema. Unless
// stacking is enabled both tables are dropped first.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case config.DriverSQLite, "":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DriverPostgres:
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.Driver != config.DriverPostgres {
		if err := s.configureSQLite(ctx); err != nil {
			return err
		}
	}

	if !s.cfg.Stack {
		// Child table first so the foreign key never dangles.
		if err := s.db.WithContext(ctx).Migrator().DropTable(
			&ExecutionRecord{},
			&TestCase{},
		); err != nil {
			return fmt.Errorf("dropping tables: %w", err)
		}

		s.log.Debug("Dropped previous results")
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&TestCase{},
		&ExecutionRecord{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"driver": s.cfg.Driver,
		"stack":  s.cfg.Stack,
	}).Info("Database connected")

	return nil
}

// configureSQLite pins the pool to one connection, which keeps in-memory
// databases coherent and serialises writes within the process.
func (s *store) configureSQLite(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMs),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if err := s.db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// RecordExecution writes both rows of one invocation.
func (s *store) RecordExecution(
	ctx context.Context, tc *TestCase, exec *ExecutionRecord,
) error {
	if exec.TestName == "" {
		exec.TestName = tc.Name
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertTestCase(tx, tc); err != nil {
			return err
		}

		if err := tx.Create(exec).Error; err != nil {
			return fmt.Errorf("inserting execution: %w", err)
		}

		return nil
	})
}

// UpsertTestCase inserts a test case or replaces the row with the same name.
func (s *store) UpsertTestCase(ctx context.Context, tc *TestCase) error {
	return upsertTestCase(s.db.WithContext(ctx), tc)
}

func upsertTestCase(db *gorm.DB, tc *TestCase) error {
	result := db.
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns(
				[]string{"markers", "description", "cls_name"},
			),
		}).
		Create(tc)
	if result.Error != nil {
		return fmt.Errorf("upserting test case: %w", result.Error)
	}

	return nil
}

// GetTestCase returns a test case with its executions in insertion order.
func (s *store) GetTestCase(
	ctx context.Context, name string,
) (*TestCase, error) {
	var tc TestCase

	err := s.db.WithContext(ctx).
		Preload("Executions", func(db *gorm.DB) *gorm.DB {
			return db.Order("execution_id ASC")
		}).
		Where("name = ?", name).
		First(&tc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("test case %q: %w", name, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("getting test case: %w", err)
	}

	return &tc, nil
}

// ListTestCases returns all test cases ordered by their first recorded
// execution. Cases without executions come first, by name.
func (s *store) ListTestCases(ctx context.Context) ([]TestCase, error) {
	firstSeen := s.db.
		Model(&ExecutionRecord{}).
		Select("test_name, MIN(execution_id) AS first_id").
		Group("test_name")

	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Table("test_cases").
		Select("test_cases.*").
		Joins("LEFT JOIN (?) AS first_seen ON first_seen.test_name = test_cases.name", firstSeen).
		Order("COALESCE(first_seen.first_id, 0) ASC").
		Order("test_cases.name ASC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	return cases, nil
}

// ListExecutions returns executions matching filter.
func (s *store) ListExecutions(
	ctx context.Context, filter ExecutionFilter,
) ([]ExecutionRecord, error) {
	query := s.db.WithContext(ctx).Model(&ExecutionRecord{})

	if filter.TestName != "" {
		query = query.Where("test_name = ?", filter.TestName)
	}

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if filter.SlowestFirst {
		query = query.Order("duration DESC").Order("execution_id ASC")
	} else {
		query = query.Order("execution_id ASC")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var execs []ExecutionRecord
	if err := query.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return execs, nil
}

// CountExecutions returns the total number of execution rows.
func (s *store) CountExecutions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting executions: %w", err)
	}

	return count, nil
}

// StatusSummary groups executions by status.
func (s *store) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(duration), 0) AS total_duration").
		Group("status").
		Order("status ASC").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("summarising executions: %w", err)
	}

	return counts, nil
}
