package recorder

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/ethpandaops/resultsdb/pkg/attachment"
	"github.com/ethpandaops/resultsdb/pkg/store"
	"github.com/sirupsen/logrus"
)

// Recorder persists finished test invocations for one test session.
type Recorder interface {
	// Start opens the store session.
	Start(ctx context.Context) error
	// Stop logs the session summary and closes the store.
	Stop() error

	// Record persists a call-phase invocation. Write failures are logged,
	// rolled back and counted, never returned; the only error is a missing
	// test identity.
	Record(ctx context.Context, inv *Invocation) error

	Stats() Stats
}

// Stats counts what happened during a session.
type Stats struct {
	Recorded     int
	FailedWrites int
	// Ignored counts setup and teardown reports.
	Ignored int
}

// Compile-time interface check.
var _ Recorder = (*recorder)(nil)

type recorder struct {
	log   logrus.FieldLogger
	store store.Store

	// mu serialises writes from parallel tests in one process.
	mu    sync.Mutex
	stats Stats
}

// New creates a recorder writing into st.
func New(log logrus.FieldLogger, st store.Store) Recorder {
	return &recorder{
		log:   log.WithField("component", "recorder"),
		store: st,
	}
}

func (r *recorder) Start(ctx context.Context) error {
	if err := r.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	return nil
}

func (r *recorder) Stop() error {
	stats := r.Stats()

	fields := logrus.Fields{
		"recorded":      stats.Recorded,
		"failed_writes": stats.FailedWrites,
	}

	if stats.FailedWrites > 0 {
		r.log.WithFields(fields).
			Warn("Some test results could not be recorded, check the storage configuration")
	} else {
		r.log.WithFields(fields).Info("Recording session finished")
	}

	if err := r.store.Stop(); err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}

func (r *recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

func (r *recorder) Record(ctx context.Context, inv *Invocation) error {
	if inv.Report.When != WhenCall {
		r.mu.Lock()
		r.stats.Ignored++
		r.mu.Unlock()

		return nil
	}

	name, err := attachment.RequireBaseName(inv.Item.ID)
	if err != nil {
		return fmt.Errorf("recording %q: %w", inv.Item.ID, err)
	}

	att := inv.Attachment
	if att == nil {
		att = attachment.New()
	}

	att.MergeExtras(map[string]any{
		attachment.ExtraCapLog:    inv.Report.CapLog + att.CapturedLog(),
		attachment.ExtraCapStderr: inv.Report.CapStderr,
		attachment.ExtraCapStdout: inv.Report.CapStdout,
		attachment.ExtraRepr:      inv.Report.LongRepr,
	})

	tc := &store.TestCase{
		Name:        name,
		Markers:     PickMarkers(&inv.Item, att),
		Description: PickDocstring(&inv.Item, att),
		ClsName:     inv.Item.Group.Name,
	}

	exec := &store.ExecutionRecord{
		TestName: name,
		Params:   RenderParams(&inv.Item, att),
		Status:   inv.Report.Outcome,
		Expected: PickExpected(&inv.Item, att),
		Result:   att.Result(),
		Duration: inv.Report.Duration.Seconds(),
		HTML:     att.HTML,
		Text:     att.Text,
		Picture:  att.Picture,
		Extras:   att.RenderExtras(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.RecordExecution(ctx, tc, exec); err != nil {
		r.stats.FailedWrites++

		entry := r.log.WithError(err).WithFields(logrus.Fields{
			"test":     inv.Item.ID,
			"severity": "critical",
		})

		if store.IsIntegrityError(err) {
			entry.Error("Integrity violation while recording test, transaction rolled back")
		} else {
			entry.Error("Failed to record test, transaction rolled back")
		}

		return nil
	}

	r.stats.Recorded++

	r.log.WithFields(logrus.Fields{
		"test":   inv.Item.ID,
		"status": exec.Status,
	}).Debug("Recorded test")

	return nil
}

// PickDocstring resolves the description: the attachment's explicit
// docstring, then the enclosing group's doc, then the test's own doc.
func PickDocstring(item *Item, att *attachment.Attachment) string {
	if att != nil && att.Docstring != "" {
		return att.Docstring
	}

	if doc := strings.TrimSpace(item.Group.Doc); doc != "" {
		return doc
	}

	return strings.TrimSpace(item.Doc)
}

// PickExpected resolves the expected value: the attachment's explicit value,
// then the enclosing group's.
func PickExpected(item *Item, att *attachment.Attachment) string {
	if att != nil && att.Expected != "" {
		return att.Expected
	}

	return item.Group.Expected
}

// PickMarkers joins the test's own markers, the inherited group markers and
// the runtime markers, dropping duplicates.
func PickMarkers(item *Item, att *attachment.Attachment) string {
	all := make([]string, 0, len(item.Markers)+len(item.Group.Markers))
	all = append(all, item.Markers...)
	all = append(all, item.Group.Markers...)

	if att != nil {
		all = append(all, att.Markers()...)
	}

	seen := make(map[string]struct{}, len(all))
	markers := make([]string, 0, len(all))

	for _, m := range all {
		if m == "" {
			continue
		}

		if _, ok := seen[m]; ok {
			continue
		}

		seen[m] = struct{}{}
		markers = append(markers, m)
	}

	return strings.Join(markers, " ")
}

// RenderParams renders the invocation's parametrization mapping. Attachment
// params override item params with the same key.
func RenderParams(item *Item, att *attachment.Attachment) string {
	params := maps.Clone(item.Params)
	if params == nil {
		params = make(map[string]any)
	}

	if att != nil {
		maps.Copy(params, att.Params())
	}

	return attachment.Render(params)
}
