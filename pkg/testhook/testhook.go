// Package testhook records test results from inside a go test binary.
//
// Wire it into a package with a TestMain and attach from each leaf test:
//
//	func TestMain(m *testing.M) {
//		os.Exit(testhook.Main(m))
//	}
//
//	func TestCompute(t *testing.T) {
//		att := testhook.Attach(t)
//		att.Expected = "42"
//		att.AppendResult(compute())
//	}
//
// Recording is opt-in: it only happens when -db_path is given, or a database
// is configured through RESULTSDB_* environment variables.
package testhook

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/resultsdb/pkg/attachment"
	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/ethpandaops/resultsdb/pkg/gosrc"
	"github.com/ethpandaops/resultsdb/pkg/recorder"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/sirupsen/logrus"
)

// Flag names registered on the test binary's command line.
const (
	FlagDBPath       = "db_path"
	FlagStackResults = "db_stack_results"
)

var (
	dbPath = flag.String(FlagDBPath, "",
		"SQLite database to record test results into; recording is disabled when empty")
	stackResults = flag.Bool(FlagStackResults, false,
		"keep results of earlier runs instead of clearing the tables")
)

var (
	activeMu sync.RWMutex
	active   *Session
)

// Main parses flags, opens a recording session when one is configured, runs
// the tests and closes the session. The returned code is m.Run's.
//
// A session that cannot be opened is logged and the tests run unrecorded.
func Main(m *testing.M) int {
	if !flag.Parsed() {
		flag.Parse()
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := sessionConfig(log)
	if err != nil {
		log.WithError(err).Error("Invalid result recording configuration, results will not be recorded")

		return m.Run()
	}

	if !cfg.Database.Enabled() {
		return m.Run()
	}

	s := NewSession(log, recorder.New(log, store.NewStore(log, &cfg.Database)))

	if err := s.Start(context.Background()); err != nil {
		log.WithError(err).Error("Failed to open result store, results will not be recorded")

		return m.Run()
	}

	setActive(s)

	code := m.Run()

	setActive(nil)

	if err := s.Stop(); err != nil {
		log.WithError(err).Error("Failed to close result store")
	}

	return code
}

// sessionConfig merges RESULTSDB_* environment configuration with the
// command line flags, flags taking precedence.
func sessionConfig(log *logrus.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if level, err := logrus.ParseLevel(cfg.Global.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if *dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLite.Path = *dbPath
	}

	if *stackResults {
		cfg.Database.Stack = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setActive(s *Session) {
	activeMu.Lock()
	defer activeMu.Unlock()

	active = s
}

func current() *Session {
	activeMu.RLock()
	defer activeMu.RUnlock()

	return active
}

// Attach returns a fresh attachment for t and records t when it finishes.
// Without an active session the attachment is returned but nothing is
// recorded.
//
// Call it from leaf tests only: a parent that attaches is recorded in
// addition to its subtests.
//
// The recorded duration runs from the Attach call to the test's cleanup, so
// call Attach first to cover the whole test body.
func Attach(t testing.TB) *attachment.Attachment {
	t.Helper()

	s := current()
	if s == nil {
		return attachment.New()
	}

	return s.attach(t, 2)
}

// Session records the tests of one test binary run.
type Session struct {
	log      logrus.FieldLogger
	recorder recorder.Recorder

	mu       sync.Mutex
	packages map[string]*gosrc.Package
}

// NewSession creates a session recording through rec.
func NewSession(log logrus.FieldLogger, rec recorder.Recorder) *Session {
	return &Session{
		log:      log.WithField("component", "testhook"),
		recorder: rec,
		packages: make(map[string]*gosrc.Package),
	}
}

// Start opens the recorder.
func (s *Session) Start(ctx context.Context) error {
	return s.recorder.Start(ctx)
}

// Stop closes the recorder.
func (s *Session) Stop() error {
	return s.recorder.Stop()
}

// Attach is the session-bound form of the package level Attach.
func (s *Session) Attach(t testing.TB) *attachment.Attachment {
	t.Helper()

	return s.attach(t, 2)
}

func (s *Session) attach(t testing.TB, skip int) *attachment.Attachment {
	att := attachment.New()
	start := time.Now()

	_, file, _, ok := runtime.Caller(skip)
	if !ok {
		file = ""
	}

	t.Cleanup(func() {
		inv := &recorder.Invocation{
			Report: recorder.Report{
				When:     recorder.WhenCall,
				Outcome:  outcomeOf(t),
				Duration: time.Since(start),
			},
			Item:       s.item(t.Name(), file),
			Attachment: att,
		}

		if err := s.recorder.Record(context.Background(), inv); err != nil {
			s.log.WithError(err).WithField("test", t.Name()).Error("Failed to record test")
		}
	})

	return att
}

func (s *Session) item(id, file string) recorder.Item {
	if file == "" {
		return recorder.NewItem(id, nil, "")
	}

	dir := filepath.Dir(file)

	return recorder.NewItem(id, s.sourcePackage(dir), filepath.Base(dir))
}

// sourcePackage loads and caches the metadata of the test's directory.
// Failures are cached as nil so each directory is parsed once.
func (s *Session) sourcePackage(dir string) *gosrc.Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkg, ok := s.packages[dir]; ok {
		return pkg
	}

	pkg, err := gosrc.LoadDir(dir)
	if err != nil {
		s.log.WithError(err).WithField("dir", dir).Debug("Source metadata unavailable")

		pkg = nil
	}

	s.packages[dir] = pkg

	return pkg
}

func outcomeOf(t testing.TB) string {
	switch {
	case t.Skipped():
		return store.StatusSkipped
	case t.Failed():
		return store.StatusFailed
	default:
		return store.StatusPassed
	}
}
