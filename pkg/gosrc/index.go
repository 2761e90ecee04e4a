package gosrc

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// Index maps package import paths to their metadata for one module.
type Index struct {
	ModulePath string
	packages   map[string]*Package
}

// Scan walks the module rooted at root and loads every directory holding
// test files. Directories ignored by the go tool and nested modules are
// skipped.
func Scan(root string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil, fmt.Errorf("reading go.mod: %w", err)
	}

	modulePath := modfile.ModulePath(data)
	if modulePath == "" {
		return nil, fmt.Errorf("no module path in %s", filepath.Join(root, "go.mod"))
	}

	idx := &Index{
		ModulePath: modulePath,
		packages:   make(map[string]*Package),
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if p != root {
			name := d.Name()
			if name == "vendor" || name == "testdata" ||
				strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				return filepath.SkipDir
			}

			if _, err := os.Stat(filepath.Join(p, "go.mod")); err == nil {
				return filepath.SkipDir
			}
		}

		if !hasTestFiles(p) {
			return nil
		}

		pkg, err := LoadDir(p)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		pkg.ImportPath = modulePath
		if rel != "." {
			pkg.ImportPath = path.Join(modulePath, filepath.ToSlash(rel))
		}

		idx.packages[pkg.ImportPath] = pkg

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	return idx, nil
}

// Package returns the metadata of the package with the given import path.
func (idx *Index) Package(importPath string) *Package {
	if idx == nil {
		return nil
	}

	return idx.packages[importPath]
}

// Len returns the number of indexed packages.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}

	return len(idx.packages)
}

func hasTestFiles(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "*_test.go"))

	return err == nil && len(matches) > 0
}
