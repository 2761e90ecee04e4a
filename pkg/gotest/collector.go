package gotest

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/ethpandaops/resultsdb/pkg/gosrc"
	"github.com/ethpandaops/resultsdb/pkg/recorder"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/sirupsen/logrus"
)

// framingPrefixes mark the lines go test prints around tests.
var framingPrefixes = []string{
	"=== RUN", "=== PAUSE", "=== CONT", "=== NAME",
	"--- PASS", "--- FAIL", "--- SKIP",
}

// Collector folds a go test -json stream into per-test invocations and hands
// them to a recorder. It is not safe for concurrent use.
type Collector struct {
	log      logrus.FieldLogger
	recorder recorder.Recorder
	index    *gosrc.Index

	packages map[string]*pkgState
	summary  Summary
}

type pkgState struct {
	output []string
	tests  map[string]*testState
	order  []string
}

type testState struct {
	output      []string
	hasChildren bool
	done        bool
}

// NewCollector creates a collector. index may be nil, in which case tests
// are recorded without doc comments or markers.
func NewCollector(log logrus.FieldLogger, rec recorder.Recorder, index *gosrc.Index) *Collector {
	return &Collector{
		log:      log.WithField("component", "gotest"),
		recorder: rec,
		index:    index,
		packages: make(map[string]*pkgState),
	}
}

// Summary returns the counts seen so far.
func (c *Collector) Summary() Summary {
	return c.summary
}

// Handle processes one event.
func (c *Collector) Handle(ctx context.Context, ev TestEvent) {
	pkg := c.pkg(ev.Package)

	if ev.Test == "" {
		c.handlePackage(ctx, ev, pkg)

		return
	}

	switch ev.Action {
	case ActionRun:
		pkg.restart(ev.Test)

		if parent, ok := parentName(ev.Test); ok {
			pkg.test(parent).hasChildren = true
		}
	case ActionOutput:
		ts := pkg.test(ev.Test)
		ts.output = append(ts.output, ev.Output)
	case ActionPass, ActionFail, ActionSkip:
		ts := pkg.test(ev.Test)
		ts.done = true

		if ts.hasChildren {
			c.log.WithField("test", ev.Test).Debug("Skipping parent test, subtests are recorded instead")

			return
		}

		c.record(ctx, ev.Package, ev.Test, outcome(ev.Action), ev, ts.output)
	}
}

// Process returns a ProcessFunc bound to ctx for use with Stream.
func (c *Collector) Process(ctx context.Context) ProcessFunc {
	return func(ev TestEvent) {
		c.Handle(ctx, ev)
	}
}

func (c *Collector) handlePackage(ctx context.Context, ev TestEvent, pkg *pkgState) {
	switch ev.Action {
	case ActionStart:
		c.emitPhase(ctx, recorder.WhenSetup, ev, "")
	case ActionOutput:
		pkg.output = append(pkg.output, ev.Output)
	case ActionPass, ActionFail, ActionSkip:
		c.summary.Packages++

		for _, name := range pkg.order {
			ts := pkg.tests[name]
			if ts.done || ts.hasChildren {
				continue
			}

			ts.done = true
			c.summary.Unfinished++

			c.log.WithFields(logrus.Fields{
				"package": ev.Package,
				"test":    name,
			}).Warn("Test did not finish before its package, recording as failed")

			c.record(ctx, ev.Package, name, store.StatusFailed, ev, slices.Concat(ts.output, pkg.output))
		}

		c.emitPhase(ctx, recorder.WhenTeardown, ev, strings.Join(pkg.output, ""))
		delete(c.packages, ev.Package)
	}
}

func (c *Collector) emitPhase(ctx context.Context, when string, ev TestEvent, output string) {
	inv := &recorder.Invocation{
		Report: recorder.Report{
			When:     when,
			Outcome:  outcome(ev.Action),
			Duration: ev.Duration(),
			LongRepr: output,
		},
		Item: recorder.NewItem("", c.index.Package(ev.Package), path.Base(ev.Package)),
	}

	if err := c.recorder.Record(ctx, inv); err != nil {
		c.log.WithError(err).WithField("package", ev.Package).Warn("Failed to handle package event")
	}
}

func (c *Collector) record(
	ctx context.Context, pkgPath, testID, status string, ev TestEvent, output []string,
) {
	switch status {
	case store.StatusPassed:
		c.summary.Passed++
	case store.StatusFailed:
		c.summary.Failed++
	case store.StatusSkipped:
		c.summary.Skipped++
	}

	captured := CleanOutput(output)

	report := recorder.Report{
		When:      recorder.WhenCall,
		Outcome:   status,
		Duration:  ev.Duration(),
		CapStdout: captured,
	}

	if status == store.StatusFailed {
		report.LongRepr = captured
	}

	item := recorder.NewItem(testID, c.index.Package(pkgPath), path.Base(pkgPath))

	if err := c.recorder.Record(ctx, &recorder.Invocation{Report: report, Item: item}); err != nil {
		c.log.WithError(err).WithField("test", testID).Warn("Failed to record test")
	}
}

func (c *Collector) pkg(name string) *pkgState {
	if pkg, ok := c.packages[name]; ok {
		return pkg
	}

	pkg := &pkgState{tests: make(map[string]*testState)}
	c.packages[name] = pkg

	return pkg
}

func (p *pkgState) test(name string) *testState {
	if ts, ok := p.tests[name]; ok {
		return ts
	}

	ts := &testState{}
	p.tests[name] = ts
	p.order = append(p.order, name)

	return ts
}

// restart resets the state of name for a new run of it, as go test -count
// reruns tests under the same name.
func (p *pkgState) restart(name string) {
	ts := p.test(name)
	ts.output = nil
	ts.hasChildren = false
	ts.done = false
}

func parentName(test string) (string, bool) {
	idx := strings.LastIndex(test, "/")
	if idx <= 0 {
		return "", false
	}

	return test[:idx], true
}

func outcome(action string) string {
	switch action {
	case ActionPass:
		return store.StatusPassed
	case ActionSkip:
		return store.StatusSkipped
	default:
		return store.StatusFailed
	}
}

// CleanOutput joins captured output lines, dropping the framing lines go test
// prints around each test.
func CleanOutput(lines []string) string {
	var b strings.Builder

	for _, line := range lines {
		if !isFraming(line) {
			b.WriteString(line)
		}
	}

	return b.String()
}

func isFraming(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "PASS" || trimmed == "FAIL" {
		return true
	}

	for _, prefix := range framingPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}

	return false
}
