// Package attachment holds the per-invocation record through which test code
// hands results, expectations and rich attachments to the recorder.
package attachment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// Extra keys filled from the runner's captured output.
const (
	ExtraCapLog    = "caplog"
	ExtraCapStderr = "capstderr"
	ExtraCapStdout = "capstdout"
	ExtraRepr      = "repr"
)

// Attachment is owned by exactly one test invocation. It is not safe for
// concurrent use; parallel subtests each get their own.
type Attachment struct {
	Expected  string
	HTML      string
	Text      string
	Picture   string
	Docstring string

	// Extras is rendered as a JSON object into the execution's extras column.
	Extras map[string]any

	results []any
	markers []string
	params  map[string]any

	logBuf bytes.Buffer
	logger *logrus.Logger
}

// New returns an empty attachment.
func New() *Attachment {
	return &Attachment{
		Extras: make(map[string]any, 4),
		params: make(map[string]any, 2),
	}
}

// AppendResult appends v to the ordered sequence of results produced by this
// invocation. Earlier values are never overwritten.
func (a *Attachment) AppendResult(v any) {
	a.results = append(a.results, v)
}

// Results returns every value appended so far, oldest first.
func (a *Attachment) Results() []any {
	return slices.Clone(a.results)
}

// Result renders the latest appended value, or "" when none was appended.
func (a *Attachment) Result() string {
	if len(a.results) == 0 {
		return ""
	}

	return fmt.Sprint(a.results[len(a.results)-1])
}

// Mark attaches marker names decided at run time.
func (a *Attachment) Mark(names ...string) {
	a.markers = append(a.markers, names...)
}

// Markers returns the runtime markers in the order they were added.
func (a *Attachment) Markers() []string {
	return slices.Clone(a.markers)
}

// SetParam records one parametrization argument of this invocation.
func (a *Attachment) SetParam(key string, value any) {
	if a.params == nil {
		a.params = make(map[string]any, 2)
	}

	a.params[key] = value
}

// SetParams records the parametrization arguments from a map or a struct,
// typically the case of a table-driven test. Struct fields are keyed by their
// mapstructure tag or field name.
func (a *Attachment) SetParams(v any) error {
	decoded := make(map[string]any)
	if err := mapstructure.Decode(v, &decoded); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}

	for k, val := range decoded {
		a.SetParam(k, val)
	}

	return nil
}

// Params returns a copy of the recorded parametrization arguments.
func (a *Attachment) Params() map[string]any {
	return maps.Clone(a.params)
}

// Logger returns a logger whose output is captured into the caplog extra.
func (a *Attachment) Logger() logrus.FieldLogger {
	if a.logger == nil {
		a.logger = logrus.New()
		a.logger.SetOutput(&a.logBuf)
		a.logger.SetLevel(logrus.DebugLevel)
		a.logger.SetFormatter(&logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
		})
	}

	return a.logger
}

// CapturedLog returns everything written through Logger.
func (a *Attachment) CapturedLog() string {
	return a.logBuf.String()
}

// MergeExtras copies kv into Extras, overwriting existing keys.
func (a *Attachment) MergeExtras(kv map[string]any) {
	if a.Extras == nil {
		a.Extras = make(map[string]any, len(kv))
	}

	maps.Copy(a.Extras, kv)
}

// RenderExtras renders Extras as a JSON object with sorted keys.
func (a *Attachment) RenderExtras() string {
	return Render(a.Extras)
}

// Render renders a mapping as a JSON object with sorted keys. Values that
// cannot be encoded fall back to their fmt representation.
func Render(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}

	data, err := json.Marshal(m)
	if err == nil {
		return string(data)
	}

	fallback := make(map[string]string, len(m))
	for k, v := range m {
		fallback[k] = fmt.Sprint(v)
	}

	data, _ = json.Marshal(fallback)

	return string(data)
}
