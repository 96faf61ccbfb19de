// Package cache implements the persisted compiled-program cache
// SPEC_FULL.md §2 adds to the core: re-running the same entry file skips
// the semantic/emit phases when its source tree has not changed (the
// sources are still parsed, to find the imported files that form the
// key). Grounded on the teacher's internal/database/database.go
// (database/sql plus a blank driver import), narrowed to the one
// pure-Go driver (modernc.org/sqlite) that needs no cgo, since nothing
// here talks to a network database server — only one local file.
//
// A cache entry is keyed by a blake2b-256 hash of every source file
// transitively reached by `Import "path"`, plus the entry path itself.
// The value is a snapshot of the resolved Registry (classes, functions,
// field layouts, VTables, the static-init prologue) and the emitted
// bytecode.Program — everything internal/vm needs to run Main, with the
// AST and the template engine's working state dropped: both are
// parse-time-only per spec §1/§4.F, so a cache hit has nothing left for
// them to do.
package cache

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"thalis/internal/bytecode"
	"thalis/internal/parser"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

// Store is one open cache database. The schema is a single table keyed
// by content hash; entries are immutable once written (a hash collision
// can only mean byte-identical source).
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite-backed cache at path.
// Pass ":memory:" for an ephemeral in-process cache, e.g. in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	entry      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SourceHash implements the cache key: blake2b-256 over the entry path
// and every transitively-imported unit's absolute path and bytes, each
// pair sorted by path so hash order does not depend on import-discovery
// order (LoadProgram's errgroup fan-out is concurrent and unordered).
func SourceHash(entryPath string, sources map[string]string) string {
	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "entry:%s\n", entryPath)
	for _, p := range paths {
		fmt.Fprintf(h, "file:%s\nlen:%d\n", p, len(sources[p]))
		h.Write([]byte(sources[p]))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Entry is what Store and Load exchange: the registry/program pair a
// fresh VM can run against directly.
type Entry struct {
	Registry *semantic.Registry
	Program  *bytecode.Program
}

// snapshot is the gob wire format. It mirrors the subset of
// internal/semantic's and internal/bytecode's types the VM touches at
// run time, with AST pointers (Function.Body, Field.StaticInit) and the
// template engine's instantiation-command bookkeeping dropped — both
// are fully consumed by the time a compile finishes.
type snapshot struct {
	Classes   []classSnap
	Code      []byte
	Constants []string
	Debug     map[int]bytecode.DebugInfo
}

type classSnap struct {
	ID       types.TypeID
	Name     string
	BaseID   types.TypeID // 0 = no base
	Members  []fieldSnap
	Statics  []fieldSnap

	Overloads   map[string][]uint32
	BySignature map[string]uint32
	Functions   []funcSnap

	Destructor         uint32
	CopyConstructor    uint32
	AssignOperator     uint32
	DefaultConstructor uint32

	VTableSlots []types.FuncRef

	HasStaticInit       bool
	StaticInitPC        int
	StaticInitNumLocals int
}

type fieldSnap struct {
	Name        string
	Type        types.TypeInfo
	IsArray     bool
	Dims        []int
	ByteOffset  uint64
	ClassElemID types.TypeID // 0 = not a class-typed field
}

type funcSnap struct {
	ID          uint32
	Name        string
	Access      parser.Access
	Static      bool
	Virtual     bool
	ReturnType  types.TypeInfo
	ReturnByRef bool
	Params      []paramSnap
	NumLocals   int
	OwnerClass  types.TypeID
	PC          int
	Signature   string
}

type paramSnap struct {
	Type  types.TypeInfo
	ByRef bool
	Slot  int
	Name  string
}

// Store persists e under hash, generating a fresh entry id with
// google/uuid the way the teacher's websocket connections and the debug
// server's sessions are identified.
func (s *Store) Store(hash, entryPath string, e Entry) error {
	snap := toSnapshot(e)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO programs (hash, id, entry, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		hash, uuid.NewString(), entryPath, time.Now().Unix(), buf.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Load looks up hash, returning ok=false on a clean miss.
func (s *Store) Load(hash string) (Entry, bool, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM programs WHERE hash = ?`, hash).Scan(&payload)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return fromSnapshot(snap), true, nil
}

func toSnapshot(e Entry) snapshot {
	snap := snapshot{
		Code:      e.Program.Code,
		Constants: constantStrings(e.Program.Constants),
		Debug:     e.Program.Debug,
	}
	for _, c := range e.Registry.AllClasses() {
		if c.TemplateDef != nil {
			continue // uninstantiated generic: parse-time-only, nothing for the VM to run
		}
		cs := classSnap{
			ID: c.ID, Name: c.Name,
			Overloads: c.Overloads, BySignature: c.BySignature,
			Destructor: c.Destructor, CopyConstructor: c.CopyConstructor,
			AssignOperator: c.AssignOperator, DefaultConstructor: c.DefaultConstructor,
		}
		if c.Base != nil {
			cs.BaseID = c.Base.ID
		}
		for _, f := range c.Members {
			cs.Members = append(cs.Members, toFieldSnap(f))
		}
		for _, f := range c.Statics {
			cs.Statics = append(cs.Statics, toFieldSnap(f))
		}
		for _, fn := range c.Functions {
			cs.Functions = append(cs.Functions, funcSnap{
				ID: fn.ID, Name: fn.Name, Access: fn.Access, Static: fn.Static, Virtual: fn.Virtual,
				ReturnType: fn.ReturnType, ReturnByRef: fn.ReturnByRef, NumLocals: fn.NumLocals,
				OwnerClass: fn.OwnerClass, PC: fn.PC, Signature: fn.Signature,
				Params: toParamSnaps(fn.Params),
			})
		}
		if c.VTable != nil {
			cs.VTableSlots = c.VTable.Slots
		}
		if c.StaticInitFn != nil {
			cs.HasStaticInit = true
			cs.StaticInitPC = c.StaticInitFn.PC
			cs.StaticInitNumLocals = c.StaticInitFn.NumLocals
		}
		snap.Classes = append(snap.Classes, cs)
	}
	return snap
}

func toFieldSnap(f semantic.Field) fieldSnap {
	fs := fieldSnap{Name: f.Name, Type: f.Type, IsArray: f.IsArray, Dims: f.Dims, ByteOffset: f.ByteOffset}
	if f.ClassElem != nil {
		fs.ClassElemID = f.ClassElem.ID
	}
	return fs
}

func toParamSnaps(params []semantic.Param) []paramSnap {
	out := make([]paramSnap, len(params))
	for i, p := range params {
		out[i] = paramSnap{Type: p.Type, ByRef: p.ByRef, Slot: p.Slot, Name: p.Name}
	}
	return out
}

func constantStrings(consts []interface{}) []string {
	out := make([]string, len(consts))
	for i, c := range consts {
		if s, ok := c.(string); ok {
			out[i] = s
		}
	}
	return out
}

// fromSnapshot rebuilds a Registry good enough for internal/vm: every
// class is registered with its original id (two passes, since a field's
// ClassElem and a class's Base are forward references by id), then
// Members/Statics/Functions/VTable are filled in on the second pass.
func fromSnapshot(snap snapshot) Entry {
	reg := semantic.NewRegistry()
	byID := make(map[types.TypeID]*semantic.Class, len(snap.Classes))
	var maxID types.TypeID
	for _, cs := range snap.Classes {
		c := &semantic.Class{
			ID: cs.ID, Name: cs.Name,
			Overloads: cs.Overloads, BySignature: cs.BySignature,
			Destructor: cs.Destructor, CopyConstructor: cs.CopyConstructor,
			AssignOperator: cs.AssignOperator, DefaultConstructor: cs.DefaultConstructor,
			Instantiations: make(map[string]types.TypeID),
		}
		byID[cs.ID] = c
		reg.RegisterClass(c)
		if cs.ID > maxID {
			maxID = cs.ID
		}
	}
	reg.ReserveClassIDsThrough(maxID)

	for _, cs := range snap.Classes {
		c := byID[cs.ID]
		if cs.BaseID != 0 {
			c.Base = byID[cs.BaseID]
		}
		for _, fs := range cs.Members {
			c.Members = append(c.Members, fromFieldSnap(fs, byID))
		}
		for _, fs := range cs.Statics {
			c.Statics = append(c.Statics, fromFieldSnap(fs, byID))
		}
		for _, funcs := range cs.Functions {
			c.Functions = append(c.Functions, &semantic.Function{
				ID: funcs.ID, Name: funcs.Name, Access: funcs.Access, Static: funcs.Static, Virtual: funcs.Virtual,
				ReturnType: funcs.ReturnType, ReturnByRef: funcs.ReturnByRef, NumLocals: funcs.NumLocals,
				OwnerClass: funcs.OwnerClass, PC: funcs.PC, Signature: funcs.Signature,
				Params: fromParamSnaps(funcs.Params),
				Body:   &parser.Block{}, // sentinel: vm.invoke only checks Body != nil
			})
		}
		if len(cs.VTableSlots) > 0 {
			c.VTable = &types.VTable{ClassID: c.ID, Slots: cs.VTableSlots}
		}
		if cs.HasStaticInit {
			c.StaticInitFn = &semantic.Function{
				Name: c.Name + "#staticinit", OwnerClass: c.ID, Static: true,
				Body: &parser.Block{}, PC: cs.StaticInitPC, NumLocals: cs.StaticInitNumLocals,
			}
		}
	}

	prog := bytecode.NewProgram()
	prog.Code = snap.Code
	prog.Debug = snap.Debug
	for _, s := range snap.Constants {
		prog.AddConstant(s)
	}
	return Entry{Registry: reg, Program: prog}
}

func fromFieldSnap(fs fieldSnap, byID map[types.TypeID]*semantic.Class) semantic.Field {
	f := semantic.Field{Name: fs.Name, Type: fs.Type, IsArray: fs.IsArray, Dims: fs.Dims, ByteOffset: fs.ByteOffset}
	if fs.ClassElemID != 0 {
		f.ClassElem = byID[fs.ClassElemID]
	}
	return f
}

func fromParamSnaps(params []paramSnap) []semantic.Param {
	out := make([]semantic.Param, len(params))
	for i, p := range params {
		out[i] = semantic.Param{Type: p.Type, ByRef: p.ByRef, Slot: p.Slot, Name: p.Name}
	}
	return out
}
