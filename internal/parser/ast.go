// Package parser implements the recursive-descent parser and AST of
// spec §4.D: ~35 expression/statement node kinds, two-pass class body
// parsing, and template-argument capture.
//
// AST nodes are plain data (Expr/Stmt are empty marker interfaces); the
// compiler package dispatches on concrete type with a type switch
// instead of a virtual EmitCode method, which keeps the parser package
// free of a dependency on bytecode/compiler types (the teacher's
// AST nodes call back into a global compiled-program singleton to emit
// their own code — here that responsibility moves one layer up, into
// the compiler, to avoid the import cycle that would otherwise force).
package parser

// Expr is any expression node.
type Expr interface{ exprNode() }

// Stmt is any statement node.
type Stmt interface{ stmtNode() }

// Pos is the source position carried by every node for diagnostics.
type Pos struct {
	File   string
	Line   int
	Column int
}

// TypeRef is a parsed, not-yet-resolved type reference: a name plus
// pointer level and, for a templated name, either concrete template
// arguments or a deferred instantiation recipe (spec §4.F).
type TypeRef struct {
	Pos          Pos
	Name         string
	PointerLevel uint8
	TemplateArgs []TemplateArg // nil if not a template instantiation
}

// TemplateArg is either a concrete type/int argument or, when one of
// the enclosing class's own template parameters is used as an argument,
// a TypeRef that must be resolved per-instantiation (spec §4.F).
type TemplateArg struct {
	TypeArg *TypeRef
	IntArg  *int64
	IntExpr Expr // non-constant int argument, evaluated at instantiation time
}

// ---- Expressions ----

type IntLit struct {
	Pos Pos
	Val int64
}

type RealLit struct {
	Pos Pos
	Val float64
}

type StringLit struct {
	Pos Pos
	Val string
}

type CharLit struct {
	Pos Pos
	Val rune
}

type BoolLit struct {
	Pos Pos
	Val bool
}

type NullLit struct{ Pos Pos }
type ThisExpr struct{ Pos Pos }

// Ident is a bare identifier reference, resolved at compile time
// against locals / module names / class names / this-members / statics
// per the §4.D resolution order. TemplateArgs is non-nil for `Name<...>`.
type Ident struct {
	Pos          Pos
	Name         string
	TemplateArgs []TemplateArg
}

type UnaryOp string

const (
	UnaryDeref   UnaryOp = "*"
	UnaryAddr    UnaryOp = "&"
	UnaryNot     UnaryOp = "!"
	UnaryNeg     UnaryOp = "-"
	UnaryPreInc  UnaryOp = "++pre"
	UnaryPreDec  UnaryOp = "--pre"
	UnaryPostInc UnaryOp = "post++"
	UnaryPostDec UnaryOp = "post--"
	UnaryInvert  UnaryOp = "~"
)

type Unary struct {
	Pos Pos
	Op  UnaryOp
	X   Expr
}

type BinaryOp string

const (
	BinAdd BinaryOp = "+"
	BinSub BinaryOp = "-"
	BinMul BinaryOp = "*"
	BinDiv BinaryOp = "/"
	BinMod BinaryOp = "%"
	BinShl BinaryOp = "<<"
	BinShr BinaryOp = ">>"
	BinLt  BinaryOp = "<"
	BinLe  BinaryOp = "<="
	BinGt  BinaryOp = ">"
	BinGe  BinaryOp = ">="
	BinEq  BinaryOp = "=="
	BinNe  BinaryOp = "!="
	BinAnd BinaryOp = "&"
	BinOr  BinaryOp = "|"
	BinLAnd BinaryOp = "&&"
	BinLOr  BinaryOp = "||"
)

type Binary struct {
	Pos Pos
	Op  BinaryOp
	L, R Expr
}

// CompoundAssign is `+= -= *= /= %=`, desugared by the compiler into
// a Binary followed by an Assign against the same lvalue.
type CompoundAssign struct {
	Pos Pos
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

type Assign struct {
	Pos Pos
	LHS Expr
	RHS Expr
}

type Cast struct {
	Pos  Pos
	Type TypeRef
	X    Expr
}

// New constructs an object: New.Type with New.Args (constructor call).
type New struct {
	Pos  Pos
	Type TypeRef
	Args []Expr
}

// NewArray allocates a heap array: `new T[n][m]...`.
type NewArray struct {
	Pos  Pos
	Type TypeRef
	Dims []Expr
}

type SizeofExpr struct {
	Pos  Pos
	Type TypeRef
}

type StrlenExpr struct {
	Pos Pos
	X   Expr
}

type OffsetofExpr struct {
	Pos   Pos
	Type  TypeRef
	Field string
}

type Call struct {
	Pos    Pos
	Callee Expr // Ident or Member
	Args   []Expr
}

type Index struct {
	Pos     Pos
	X       Expr
	Indices []Expr
}

// MemberAccess is one hop of a chained `.`/`->` access; Member chains
// these into a PushMember sequence resolved against class field offsets
// at compile time (spec §4.D).
type MemberAccess struct {
	Name  string
	Arrow bool // true for `->`, false for `.`
}

type Member struct {
	Pos     Pos
	Base    Expr
	Members []MemberAccess
}

func (*IntLit) exprNode()         {}
func (*RealLit) exprNode()        {}
func (*StringLit) exprNode()      {}
func (*CharLit) exprNode()        {}
func (*BoolLit) exprNode()        {}
func (*NullLit) exprNode()        {}
func (*ThisExpr) exprNode()       {}
func (*Ident) exprNode()          {}
func (*Unary) exprNode()          {}
func (*Binary) exprNode()         {}
func (*CompoundAssign) exprNode() {}
func (*Assign) exprNode()         {}
func (*Cast) exprNode()           {}
func (*New) exprNode()            {}
func (*NewArray) exprNode()       {}
func (*SizeofExpr) exprNode()     {}
func (*StrlenExpr) exprNode()     {}
func (*OffsetofExpr) exprNode()   {}
func (*Call) exprNode()           {}
func (*Index) exprNode()          {}
func (*Member) exprNode()         {}

// ---- Statements ----

type VarDecl struct {
	Pos     Pos
	Type    TypeRef
	Name    string
	Dims    []Expr // non-nil for array declarations
	Init    Expr   // nil if uninitialized
	InitList []Expr // non-nil for `= {a,b,c}` array literal init
}

type ExprStmt struct {
	Pos Pos
	X   Expr
}

type Block struct {
	Pos   Pos
	Stmts []Stmt
}

type If struct {
	Pos       Pos
	Cond      Expr
	Then      *Block
	Else      Stmt // *Block or *If, nil if no else
}

type For struct {
	Pos  Pos
	Init Stmt
	Cond Expr
	Post Stmt
	Body *Block
}

type While struct {
	Pos  Pos
	Cond Expr
	Body *Block
}

type Return struct {
	Pos Pos
	X   Expr // nil for a bare return
}

type Break struct{ Pos Pos }
type Continue struct{ Pos Pos }

type Delete struct {
	Pos   Pos
	X     Expr
	Array bool // true for `delete[]`
}

type Breakpoint struct{ Pos Pos }

func (*VarDecl) stmtNode()    {}
func (*ExprStmt) stmtNode()   {}
func (*Block) stmtNode()      {}
func (*If) stmtNode()         {}
func (*For) stmtNode()        {}
func (*While) stmtNode()      {}
func (*Return) stmtNode()     {}
func (*Break) stmtNode()      {}
func (*Continue) stmtNode()   {}
func (*Delete) stmtNode()     {}
func (*Breakpoint) stmtNode() {}

// ---- Top-level declarations ----

type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

type FieldDecl struct {
	Pos      Pos
	Access   Access
	Static   bool
	Type     TypeRef
	Name     string
	Dims     []int // constant array dims, fixed at parse time
	Init     Expr  // static field initializer, nil otherwise
}

type Param struct {
	Pos       Pos
	Type      TypeRef
	ByRef     bool
	Name      string
	Slot      int
}

type FunctionDecl struct {
	Pos          Pos
	Access       Access
	Static       bool
	Virtual      bool
	IsDestructor bool
	Name         string
	ReturnType   TypeRef
	ReturnByRef  bool
	Params       []Param
	Body         *Block
	NumLocals    int
}

type TemplateParamKind string

const (
	TemplateParamType TemplateParamKind = "type"
	TemplateParamInt  TemplateParamKind = "int"
)

type TemplateParam struct {
	Kind TemplateParamKind
	Name string
}

type ClassDecl struct {
	Pos         Pos
	Name        string
	TemplateParams []TemplateParam
	Inherits    string // base class name, "" if none
	Fields      []*FieldDecl
	Functions   []*FunctionDecl
}

type ImportDecl struct {
	Pos       Pos
	ModuleName string // set when Import names a bare identifier (built-in module)
	Path      string // set when Import names a string literal (source file)
}

type File struct {
	Path    string
	Imports []*ImportDecl
	Classes []*ClassDecl
}
