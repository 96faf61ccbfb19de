package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SourceReader is the file-loader collaborator spec §1 places out of
// core scope: given an absolute path, return its source text.
type SourceReader func(absPath string) (string, error)

// Unit is one parsed translation unit plus the built-in module names
// and sibling files it imports.
type Unit struct {
	AbsPath string
	File    *File
}

// LoadProgram parses entryPath and every source file it (transitively)
// imports, per spec §6: `Import "path"` is resolved relative to the
// importing file, and cyclic imports are detected by absolute-path
// equality against a visited set.
//
// Sibling imports discovered at a given depth are independent
// translation units, so they are parsed concurrently with
// errgroup.Group before the (single-threaded) semantic/emit/VM phases
// ever run — spec §5's single-threaded *execution* model is about the
// running program, not the compiler's own fan-out.
func LoadProgram(entryPath string, read SourceReader) (map[string]*Unit, []string, error) {
	units := make(map[string]*Unit)
	var mu sync.Mutex
	var modules []string
	seenModules := make(map[string]bool)

	var visit func(ctx context.Context, abs string) error
	visit = func(ctx context.Context, abs string) error {
		mu.Lock()
		if _, ok := units[abs]; ok {
			mu.Unlock()
			return nil
		}
		units[abs] = nil // reserve: marks "in progress" for cycle detection
		mu.Unlock()

		src, err := read(abs)
		if err != nil {
			return fmt.Errorf("reading %s: %w", abs, err)
		}
		file, errs := ParseFile(abs, src)
		if len(errs) > 0 {
			return fmt.Errorf("parsing %s: %v", abs, errs[0])
		}

		mu.Lock()
		units[abs] = &Unit{AbsPath: abs, File: file}
		var siblings []string
		for _, imp := range file.Imports {
			if imp.ModuleName != "" {
				if !seenModules[imp.ModuleName] {
					seenModules[imp.ModuleName] = true
					modules = append(modules, imp.ModuleName)
				}
				continue
			}
			sib := filepath.Join(filepath.Dir(abs), imp.Path)
			sib, _ = filepath.Abs(sib)
			if _, inProgress := units[sib]; inProgress {
				continue // already visited or a cycle; either way skip
			}
			siblings = append(siblings, sib)
		}
		mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		for _, sib := range siblings {
			sib := sib
			g.Go(func() error { return visit(gctx, sib) })
		}
		return g.Wait()
	}

	abs, err := filepath.Abs(entryPath)
	if err != nil {
		return nil, nil, err
	}
	if err := visit(context.Background(), abs); err != nil {
		return nil, nil, err
	}
	return units, modules, nil
}
