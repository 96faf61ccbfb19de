// cmd/thalis/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"thalis/internal/bytecode"
	"thalis/internal/cache"
	"thalis/internal/compiler"
	"thalis/internal/debugserver"
	"thalis/internal/parser"
	"thalis/internal/resolve"
	"thalis/internal/semantic"
	"thalis/internal/vm"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Println("thalis", version)
	case "run":
		if err := runCommand(args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "build":
		if err := buildCommand(args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "cache":
		if err := cacheCommand(args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`thalis - compiler and VM for the Thalis language

Usage:
  thalis run [--debug=addr] [path]   parse, resolve, emit and run Main() (default Main.tls)
  thalis build [path]     compile and warm the build cache without running
  thalis cache clear       remove the local build cache
  thalis version           print the version
  thalis help              show this message`)
}

// entryPath returns args[0] if present, else the spec's default entry
// file name (§6: "a path to the entry source file (default Main.tls)").
func entryPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "Main.tls"
}

func readSource(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// loadAndCompile runs the frontend→semantic→emit pipeline for entry.
// After parsing, it checks the local sqlite cache (SPEC_FULL.md §2):
// a hit skips the semantic and emit phases, a miss populates it.
func loadAndCompile(entry string) (*resolve.Program, *bytecode.Program, *cache.Store, error) {
	units, modules, err := parser.LoadProgram(entry, readSource)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading %s: %w", entry, err)
	}

	sources := make(map[string]string, len(units))
	var files []*parser.File
	for abs, u := range units {
		if u == nil {
			continue
		}
		files = append(files, u.File)
		if src, err := readSource(abs); err == nil {
			sources[abs] = src
		}
	}

	cacheDir, err := os.UserCacheDir()
	var store *cache.Store
	if err == nil {
		cachePath := filepath.Join(cacheDir, "thalis", "build-cache.db")
		os.MkdirAll(filepath.Dir(cachePath), 0o755)
		if s, err := cache.Open(cachePath); err == nil {
			store = s
		}
	}

	hash := cache.SourceHash(entry, sources)
	if store != nil {
		if e, ok, err := store.Load(hash); err == nil && ok {
			return &resolve.Program{Registry: e.Registry}, e.Program, store, nil
		}
	}

	prog, err := resolve.Resolve(files, modules)
	if err != nil {
		return nil, nil, store, err
	}
	bc, err := compiler.Compile(prog)
	if err != nil {
		return nil, nil, store, err
	}
	if store != nil {
		store.Store(hash, entry, cache.Entry{Registry: prog.Registry, Program: bc})
	}
	return prog, bc, store, nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	debugAddr := fs.String("debug", "", "listen address for the live VM telemetry websocket (e.g. :7777); empty disables it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entry := entryPath(fs.Args())
	prog, bc, store, err := loadAndCompile(entry)
	if store != nil {
		defer store.Close()
	}
	if err != nil {
		return err
	}

	machine := vm.New(prog, bc)
	mainClass, err := findMainClass(prog.Registry)
	if err != nil {
		return err
	}

	if *debugAddr != "" {
		dbg := debugserver.New(machine.Bump, machine.Heap, *debugAddr)
		machine.Hook = dbg
		go func() {
			if err := dbg.Serve(); err != nil {
				log.Printf("debugserver: %v", err)
			}
		}()
		defer dbg.Close()
		fmt.Printf("-- debug telemetry on ws://%s/vm\n", *debugAddr)
	}

	start := time.Now()
	_, runErr := machine.RunFunction(mainClass, "Main", nil)
	elapsed := time.Since(start)

	allocs, frees, liveNow, peakLive := machine.Heap.Stats()
	fmt.Printf(
		"\n-- thalis: %s in %s, heap peak %s (%d allocs, %d frees, %d live)\n",
		filepath.Base(entry), elapsed.Round(time.Microsecond),
		humanize.Bytes(uint64(peakLive)*8), allocs, frees, liveNow,
	)
	fmt.Printf("-- scratch stack peak %s\n", humanize.Bytes(uint64(machine.Bump.Peak())*8))

	if runErr != nil {
		return runErr
	}
	return nil
}

func buildCommand(args []string) error {
	entry := entryPath(args)
	_, _, store, err := loadAndCompile(entry)
	if store != nil {
		defer store.Close()
	}
	if err != nil {
		return err
	}
	fmt.Printf("built %s\n", entry)
	return nil
}

// findMainClass implements spec §6: "calls the Main() static method on
// whichever class declared it" — the entry point is a function name,
// not a fixed class name.
func findMainClass(reg *semantic.Registry) (string, error) {
	var found *semantic.Class
	for _, cls := range reg.AllClasses() {
		for _, fnID := range cls.Overloads["Main"] {
			fn := cls.FunctionByID(fnID)
			if fn != nil && fn.Static && len(fn.Params) == 0 {
				if found != nil {
					return "", fmt.Errorf("multiple classes declare a static Main(): %s and %s", found.Name, cls.Name)
				}
				found = cls
			}
		}
	}
	if found == nil {
		return "", fmt.Errorf("no class declares a static Main()")
	}
	return found.Name, nil
}

func cacheCommand(args []string) error {
	if len(args) == 0 || args[0] != "clear" {
		return fmt.Errorf("usage: thalis cache clear")
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(cacheDir, "thalis"))
}
