package recorder

import (
	"time"

	"github.com/ethpandaops/resultsdb/pkg/attachment"
	"github.com/ethpandaops/resultsdb/pkg/gosrc"
)

// Runner phases. Only the call phase is recorded; setup and teardown
// failures never produce rows.
const (
	WhenSetup    = "setup"
	WhenCall     = "call"
	WhenTeardown = "teardown"
)

// Report is the runner's outcome report for one phase of an invocation.
type Report struct {
	When     string
	Outcome  string
	Duration time.Duration

	CapLog    string
	CapStdout string
	CapStderr string
	// LongRepr is the failure representation, empty for passing tests.
	LongRepr string
}

// Group describes the scope that encloses a test: a package for top-level Go
// tests.
type Group struct {
	Name     string
	Doc      string
	Expected string
	Markers  []string
}

// Item describes the test being invoked.
type Item struct {
	// ID is the fully qualified identifier, including any subtest path.
	ID      string
	Doc     string
	Markers []string
	Group   Group
	Params  map[string]any
}

// Invocation is everything the recorder needs about one finished phase.
type Invocation struct {
	Report     Report
	Item       Item
	Attachment *attachment.Attachment
}

// ParamSubtest is the params key holding a subtest path.
const ParamSubtest = "subtest"

// NewItem builds the item for test id from the source metadata of its
// package. pkg may be nil; the group is then named fallbackGroup. A subtest
// path in id becomes the "subtest" parameter.
func NewItem(id string, pkg *gosrc.Package, fallbackGroup string) Item {
	item := Item{
		ID:    id,
		Group: Group{Name: fallbackGroup},
	}

	if pkg != nil {
		item.Group = Group{
			Name:     pkg.Name,
			Doc:      pkg.Doc,
			Expected: pkg.Expected,
			Markers:  pkg.Markers,
		}
	}

	if fn := pkg.Func(attachment.BaseName(id)); fn != nil {
		item.Doc = fn.Doc
		item.Markers = fn.Markers

		if fn.Package != "" {
			item.Group.Name = fn.Package
		}
	}

	if sub := attachment.SubtestPath(id); sub != "" {
		item.Params = map[string]any{ParamSubtest: sub}
	}

	return item
}
