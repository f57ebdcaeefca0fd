// Package runner provides implementations of the external test-runner
// contract: a manifest-driven runner for previews and tests, and an
// exec-based runner that drives the go toolchain one test at a time.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fenwick-dev/samplebox/internal/sample"
)

// GoTest runs tests through `go test`, one identity per invocation.
// Collection walks the project's _test.go files so every identity
// carries the relative path of the file that defines it.
//
// go tests have no separate teardown channel; cleanup failures inside
// a test surface as a failed run, so TeardownOK is always true here.
type GoTest struct {
	// Root is the project root; file paths in identities are relative
	// to it.
	Root string

	// Packages restricts collection, e.g. "./...". Only the directory
	// part is honored; "./pkg/..." collects under pkg.
	Packages string

	Logger *slog.Logger
}

var _ sample.Runner = (*GoTest)(nil)

// Collect walks _test.go files under Root and returns one identity per
// top-level Test function, in file walk order.
func (r *GoTest) Collect(ctx context.Context) ([]sample.TestID, error) {
	base := r.Root
	if base == "" {
		base = "."
	}
	start := filepath.Join(base, r.packageDir())

	var ids []sample.TestID
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip vendored and hidden trees.
			name := d.Name()
			if name == "vendor" || name == "testdata" || (len(name) > 1 && name[0] == '.') {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		names, err := testFuncs(path)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", rel, err)
		}
		for _, name := range names {
			ids = append(ids, sample.TestID{File: filepath.ToSlash(rel), Name: name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting tests: %w", err)
	}
	return ids, nil
}

// Run executes one test via `go test -run`. The process always runs to
// completion; ctx only gates the start.
func (r *GoTest) Run(ctx context.Context, id sample.TestID) (sample.Result, error) {
	pkgDir := "./" + filepath.ToSlash(filepath.Dir(id.File))

	cmd := exec.CommandContext(ctx, "go", "test", "-count=1", "-run", "^"+id.Name+"$", pkgDir)
	cmd.Dir = r.Root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if r.Logger != nil {
		r.Logger.Debug("running test", "test", id.String(), "pkg", pkgDir)
	}

	err := cmd.Run()
	return parseGoTestOutput(out.String(), err), nil
}

// Skip is a no-op: `go test` was never invoked for the identity.
func (r *GoTest) Skip(id sample.TestID) {
	if r.Logger != nil {
		r.Logger.Debug("skipping test", "test", id.String())
	}
}

func (r *GoTest) packageDir() string {
	pkgs := strings.TrimPrefix(r.Packages, "./")
	pkgs = strings.TrimSuffix(pkgs, "...")
	pkgs = strings.TrimSuffix(pkgs, "/")
	if pkgs == "" {
		return "."
	}
	return pkgs
}

// parseGoTestOutput maps go test output and exit status to a result.
func parseGoTestOutput(output string, runErr error) sample.Result {
	switch {
	case strings.Contains(output, "no tests to run"):
		return sample.Result{Outcome: sample.Skipped, TeardownOK: true}
	case strings.Contains(output, "--- SKIP"):
		return sample.Result{Outcome: sample.Skipped, TeardownOK: true}
	case runErr == nil:
		return sample.Result{Outcome: sample.Passed, TeardownOK: true}
	case strings.Contains(output, "[build failed]") || strings.Contains(output, "setup failed"):
		return sample.Result{Outcome: sample.Errored, TeardownOK: true}
	default:
		return sample.Result{Outcome: sample.Failed, TeardownOK: true}
	}
}

// testFuncs returns the names of top-level Test functions declared in
// the file, sorted for deterministic collection within a file.
func testFuncs(path string) ([]string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		name := fn.Name.Name
		if !strings.HasPrefix(name, "Test") || name == "TestMain" {
			continue
		}
		// Test functions take exactly one parameter, *testing.T.
		if fn.Type.Params == nil || len(fn.Type.Params.List) != 1 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
