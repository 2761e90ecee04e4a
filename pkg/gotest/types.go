// Package gotest turns go test -json event streams into recorder invocations.
package gotest

import "time"

// Actions reported by go test -json.
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPause  = "pause"
	ActionCont   = "cont"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
	ActionBench  = "bench"
)

// TestEvent is a single event from go test -json output.
type TestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// Terminal reports whether the action ends a test or package.
func (e TestEvent) Terminal() bool {
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	default:
		return false
	}
}

// Duration converts Elapsed seconds.
func (e TestEvent) Duration() time.Duration {
	return time.Duration(e.Elapsed * float64(time.Second))
}

// Summary counts terminal test events seen by a collector.
type Summary struct {
	Packages int
	Passed   int
	Failed   int
	Skipped  int
	// Unfinished counts tests that never reported a terminal action before
	// their package ended, usually because of a panic or timeout.
	Unfinished int
}

// Total returns the number of recorded leaf tests.
func (s Summary) Total() int {
	return s.Passed + s.Failed + s.Skipped
}
