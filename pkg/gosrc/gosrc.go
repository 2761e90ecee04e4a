// Package gosrc extracts test metadata from Go source: doc comments of test
// functions and packages, and resultsdb directives.
//
// Directives are comment lines without a space after the slashes, so gofmt
// and go doc leave them out of the documentation text:
//
//	//resultsdb:mark slow network
//	//resultsdb:expected 42
//
// A mark directive in a test function's doc applies to that test; in the
// package comment of a _test.go file it applies to every test of the package.
// The expected directive is only read from those package comments. Package
// comments of non-test files document the code under test and are ignored.
package gosrc

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// Directive prefixes.
const (
	DirectiveMark     = "//resultsdb:mark"
	DirectiveExpected = "//resultsdb:expected"
)

// testPrefixes are the function name prefixes go test reports events for.
var testPrefixes = []string{"Test", "Benchmark", "Example", "Fuzz"}

// Func is the metadata of one test function.
type Func struct {
	Name string
	// Package is the package clause of the declaring file, which differs from
	// the directory's package for external _test packages.
	Package string
	Doc     string
	Markers []string
}

// Package is the metadata of one package directory, internal and external
// test files merged.
type Package struct {
	ImportPath string
	Name       string
	Doc        string
	Expected   string
	Markers    []string
	Funcs      map[string]*Func
}

// Func returns the metadata of the named test function, or nil.
func (p *Package) Func(name string) *Func {
	if p == nil {
		return nil
	}

	return p.Funcs[name]
}

// LoadDir parses the Go files of one directory.
func LoadDir(dir string) (*Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	pkg := &Package{Funcs: make(map[string]*Func)}
	fset := token.NewFileSet()

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}

		file, err := parser.ParseFile(
			fset, filepath.Join(dir, name), nil, parser.ParseComments,
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		pkg.addFile(file, strings.HasSuffix(name, "_test.go"))
	}

	return pkg, nil
}

func (p *Package) addFile(file *ast.File, isTest bool) {
	pkgName := file.Name.Name

	// Prefer the non-test package name.
	if p.Name == "" || (!strings.HasSuffix(pkgName, "_test") && strings.HasSuffix(p.Name, "_test")) {
		p.Name = pkgName
	}

	if !isTest {
		return
	}

	if file.Doc != nil {
		if doc := strings.TrimSpace(file.Doc.Text()); doc != "" && p.Doc == "" {
			p.Doc = doc
		}

		markers, expected := parseDirectives(file.Doc)
		p.Markers = appendUnique(p.Markers, markers...)

		if expected != "" && p.Expected == "" {
			p.Expected = expected
		}
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || !isTestFunc(fn.Name.Name) {
			continue
		}

		f := &Func{Name: fn.Name.Name, Package: pkgName}

		if fn.Doc != nil {
			f.Doc = strings.TrimSpace(fn.Doc.Text())
			f.Markers, _ = parseDirectives(fn.Doc)
		}

		p.Funcs[f.Name] = f
	}
}

func isTestFunc(name string) bool {
	for _, prefix := range testPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

func parseDirectives(group *ast.CommentGroup) (markers []string, expected string) {
	for _, c := range group.List {
		switch {
		case strings.HasPrefix(c.Text, DirectiveMark):
			markers = appendUnique(markers, strings.Fields(strings.TrimPrefix(c.Text, DirectiveMark))...)
		case strings.HasPrefix(c.Text, DirectiveExpected):
			expected = strings.TrimSpace(strings.TrimPrefix(c.Text, DirectiveExpected))
		}
	}

	return markers, expected
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false

		for _, existing := range dst {
			if existing == v {
				found = true

				break
			}
		}

		if !found {
			dst = append(dst, v)
		}
	}

	return dst
}
