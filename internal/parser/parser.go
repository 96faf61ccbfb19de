package parser

import (
	"fmt"
	"strconv"

	"thalis/internal/diag"
	"thalis/internal/lexer"
)

// Parser drives a Scanner through the grammar of spec §4.D.
type Parser struct {
	file string
	sc   *lexer.Scanner
	cur  lexer.Token

	// recordBuf, while non-nil, accumulates every token consumed by
	// advance() — used by parseClass's two-pass layout to replay the
	// class body's token stream for pass 2 without needing the scanner
	// to support rewinding to an arbitrary byte offset.
	recordBuf *[]lexer.Token
}

func NewParser(file, source string) (*Parser, error) {
	p := &Parser{file: file, sc: lexer.New(file, source)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	if p.recordBuf != nil {
		*p.recordBuf = append(*p.recordBuf, p.cur)
	}
	t, err := p.sc.Next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *Parser) pos() Pos { return Pos{File: p.file, Line: p.cur.Line, Column: p.cur.Column} }

func (p *Parser) check(k lexer.TokenType) bool { return p.cur.Kind == k }

func (p *Parser) match(k lexer.TokenType) (bool, error) {
	if p.check(k) {
		if err := p.advance(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) expect(k lexer.TokenType) (lexer.Token, error) {
	if !p.check(k) {
		return p.cur, diag.NewParseError(fmt.Sprintf("expected %s, got %s %q", k, p.cur.Kind, p.cur.Text), p.file, p.cur.Line, p.cur.Column)
	}
	t := p.cur
	err := p.advance()
	return t, err
}

// SkipStatement implements the §7 parse-error recovery rule: consume
// until the next `;` or a balanced `}`.
func (p *Parser) SkipStatement() {
	depth := 0
	for {
		switch p.cur.Kind {
		case lexer.TokenEOF:
			return
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			if depth == 0 {
				return
			}
			depth--
		case lexer.TokenSemicolon:
			if depth == 0 {
				p.advance()
				return
			}
		}
		if err := p.advance(); err != nil {
			return
		}
	}
}

// ParseFile parses `(import | class)*`.
func ParseFile(path, source string) (*File, []error) {
	p, err := NewParser(path, source)
	if err != nil {
		return nil, []error{err}
	}
	f := &File{Path: path}
	var errs []error
	for !p.check(lexer.TokenEOF) {
		if p.check(lexer.TokenImport) {
			imp, err := p.parseImport()
			if err != nil {
				errs = append(errs, err)
				p.SkipStatement()
				continue
			}
			f.Imports = append(f.Imports, imp)
			continue
		}
		if p.check(lexer.TokenClass) {
			cls, err := p.parseClass()
			if err != nil {
				errs = append(errs, err)
				p.SkipStatement()
				continue
			}
			f.Classes = append(f.Classes, cls)
			continue
		}
		errs = append(errs, diag.NewParseError(fmt.Sprintf("expected Import or class, got %s", p.cur.Kind), p.file, p.cur.Line, p.cur.Column))
		p.SkipStatement()
		if p.check(lexer.TokenRBrace) {
			p.advance() // a stray top-level `}` stops SkipStatement without being consumed
		}
	}
	return f, errs
}

func (p *Parser) parseImport() (*ImportDecl, error) {
	pos := p.pos()
	if _, err := p.expect(lexer.TokenImport); err != nil {
		return nil, err
	}
	imp := &ImportDecl{Pos: pos}
	if p.check(lexer.TokenString) {
		imp.Path = p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		t, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		imp.ModuleName = t.Text
	}
	_, err := p.expect(lexer.TokenSemicolon)
	return imp, err
}

// parseClass implements the two-pass class body parse of spec §4.D:
// pass 1 walks only field declarations to fix member/static layout;
// pass 2 rewinds to the class body's `{` and parses functions with all
// member names already known (enabling forward references).
//
// The lexer here is a streaming cursor rather than a pre-tokenized
// buffer, so pass 1 records the body's tokens as it reads them and
// "rewinding" replays those recorded tokens through SetPeek; the source
// is not lexed a second time.
func (p *Parser) parseClass() (*ClassDecl, error) {
	pos := p.pos()
	if _, err := p.expect(lexer.TokenClass); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return nil, err
	}
	cls := &ClassDecl{Pos: pos, Name: nameTok.Text}

	for p.check(lexer.TokenArrow) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.check(lexer.TokenTemplate) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.TokenLBracket); err != nil {
				return nil, err
			}
			for !p.check(lexer.TokenRBracket) {
				kind := TemplateParamType
				if p.check(lexer.TokenIdent) && p.cur.Text == "int" {
					kind = TemplateParamInt
					if err := p.advance(); err != nil {
						return nil, err
					}
				} else if p.check(lexer.TokenClass) {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
				nt, err := p.expect(lexer.TokenIdent)
				if err != nil {
					return nil, err
				}
				cls.TemplateParams = append(cls.TemplateParams, TemplateParam{Kind: kind, Name: nt.Text})
				if ok, err := p.match(lexer.TokenComma); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(lexer.TokenRBracket); err != nil {
				return nil, err
			}
		} else if p.check(lexer.TokenInherit) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.TokenLBracket); err != nil {
				return nil, err
			}
			bt, err := p.expect(lexer.TokenIdent)
			if err != nil {
				return nil, err
			}
			cls.Inherits = bt.Text
			if _, err := p.expect(lexer.TokenRBracket); err != nil {
				return nil, err
			}
		} else {
			return nil, diag.NewParseError("expected 'template' or 'inherit' after '->'", p.file, p.cur.Line, p.cur.Column)
		}
	}

	if _, err := p.expect(lexer.TokenLBrace); err != nil {
		return nil, err
	}

	// Pass 1: fields only, recording every token of the class body so
	// pass 2 can replay it without re-lexing from a byte offset.
	var body []lexer.Token
	p.recordBuf = &body
	for !p.check(lexer.TokenRBrace) {
		if p.check(lexer.TokenEOF) {
			p.recordBuf = nil
			return nil, diag.NewParseError("unterminated class body", p.file, p.cur.Line, p.cur.Column)
		}
		access, static, virtual, isField, err := p.peekMemberShape()
		if err != nil {
			p.recordBuf = nil
			return nil, err
		}
		if isField && !virtual {
			fd, err := p.parseFieldDecl(access, static)
			if err != nil {
				p.recordBuf = nil
				return nil, err
			}
			cls.Fields = append(cls.Fields, fd)
			continue
		}
		if err := p.skipFunctionDecl(); err != nil {
			p.recordBuf = nil
			return nil, err
		}
	}
	body = append(body, p.cur) // the closing '}'
	p.recordBuf = nil

	// Pass 2: replay the recorded class-body tokens and parse
	// functions now that every field name is in cls.Fields.
	for i := len(body) - 1; i >= 0; i-- {
		p.sc.SetPeek(body[i])
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for !p.check(lexer.TokenRBrace) {
		access, static, virtual, isField, err := p.peekMemberShape()
		if err != nil {
			return nil, err
		}
		if isField && !virtual {
			if _, err := p.parseFieldDecl(access, static); err != nil {
				return nil, err
			}
			continue
		}
		fn, err := p.parseFunctionDecl(access, static, virtual)
		if err != nil {
			return nil, err
		}
		cls.Functions = append(cls.Functions, fn)
	}
	if _, err := p.expect(lexer.TokenRBrace); err != nil {
		return nil, err
	}
	return cls, nil
}

func isMemberStart(k lexer.TokenType) bool {
	switch k {
	case lexer.TokenPublic, lexer.TokenPrivate, lexer.TokenStatic, lexer.TokenVirtual, lexer.TokenTilde, lexer.TokenOperator:
		return true
	}
	return isTypeStart(k) || k == lexer.TokenIdent
}

func isTypeStart(k lexer.TokenType) bool {
	switch k {
	case lexer.TokenU8, lexer.TokenU16, lexer.TokenU32, lexer.TokenU64,
		lexer.TokenI8, lexer.TokenI16, lexer.TokenI32, lexer.TokenI64,
		lexer.TokenF32, lexer.TokenF64, lexer.TokenBool, lexer.TokenCharKW, lexer.TokenVoid:
		return true
	}
	return false
}

// peekMemberShape consumes the access/static/virtual modifiers, then
// looks ahead (without consuming) and decides field vs function by
// checking whether, after the name, `(` follows.
// Because the scanner is a simple cursor, "peeking ahead" is done by
// recording tokens and pushing them back via SetPeek.
func (p *Parser) peekMemberShape() (access Access, static, virtual, isField bool, err error) {
	// The modifiers are consumed for good (and recorded for pass 2), so
	// the parseFieldDecl/skipFunctionDecl/parseFunctionDecl call that
	// follows starts at the type. The lookahead after them must not
	// pollute parseClass's pass-1 token recording: every token it
	// consumes gets pushed back, then re-consumed (and correctly
	// recorded) by that call, so recording here would duplicate it.
	access = AccessPublic
	var saved []lexer.Token
	take := func() (lexer.Token, error) {
		t := p.cur
		saved = append(saved, t)
		if e := p.advance(); e != nil {
			return t, e
		}
		return t, nil
	}

	if p.check(lexer.TokenPublic) {
		access = AccessPublic
		if e := p.advance(); e != nil {
			return access, static, virtual, isField, e
		}
	} else if p.check(lexer.TokenPrivate) {
		access = AccessPrivate
		if e := p.advance(); e != nil {
			return access, static, virtual, isField, e
		}
	}
	if p.check(lexer.TokenStatic) {
		static = true
		if e := p.advance(); e != nil {
			return access, static, virtual, isField, e
		}
	}
	if p.check(lexer.TokenVirtual) {
		virtual = true
		if e := p.advance(); e != nil {
			return access, static, virtual, isField, e
		}
	}
	savedRecorder := p.recordBuf
	p.recordBuf = nil
	defer func() { p.recordBuf = savedRecorder }()
	if p.check(lexer.TokenTilde) {
		// destructor: ~Name(...)
		isField = false
		p.pushback(saved)
		return access, static, virtual, isField, nil
	}
	// consume the type token
	if _, e := take(); e != nil {
		return access, static, virtual, isField, e
	}
	for p.check(lexer.TokenStar) {
		if _, e := take(); e != nil {
			return access, static, virtual, isField, e
		}
	}
	if p.check(lexer.TokenLt) {
		// template args on the type; skip to matching '>'
		depth := 0
		for {
			if p.check(lexer.TokenLt) {
				depth++
			} else if p.check(lexer.TokenGt) {
				depth--
			}
			if _, e := take(); e != nil {
				return access, static, virtual, isField, e
			}
			if depth == 0 {
				break
			}
		}
	}
	if !p.check(lexer.TokenIdent) {
		// constructor/function with no explicit return type, or a
		// bare `void name(...)` already consumed as the type token.
		isField = false
		p.pushback(saved)
		return access, static, virtual, isField, nil
	}
	if _, e := take(); e != nil {
		return access, static, virtual, isField, e
	}
	isField = !p.check(lexer.TokenLParen)
	p.pushback(saved)
	return access, static, virtual, isField, nil
}

// pushback restores p.cur to saved[0] and requeues saved[1:] followed
// by whatever p.cur held when pushback was called, so that replaying
// advance() calls reproduces exactly the token sequence peekMemberShape
// consumed.
func (p *Parser) pushback(saved []lexer.Token) {
	if len(saved) == 0 {
		return
	}
	old := p.cur
	p.sc.SetPeek(old)
	for i := len(saved) - 1; i >= 1; i-- {
		p.sc.SetPeek(saved[i])
	}
	p.cur = saved[0]
}

func (p *Parser) parseFieldDecl(access Access, static bool) (*FieldDecl, error) {
	pos := p.pos()
	ty, err := p.parseTypeRef()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return nil, err
	}
	fd := &FieldDecl{Pos: pos, Access: access, Static: static, Type: ty, Name: nameTok.Text}
	for p.check(lexer.TokenLBracket) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expect(lexer.TokenInt)
		if err != nil {
			return nil, err
		}
		v, _ := strconv.ParseInt(n.Text, 10, 64)
		fd.Dims = append(fd.Dims, int(v))
		if _, err := p.expect(lexer.TokenRBracket); err != nil {
			return nil, err
		}
	}
	if ok, err := p.match(lexer.TokenAssign); err != nil {
		return nil, err
	} else if ok {
		init, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fd.Init = init
	}
	_, err = p.expect(lexer.TokenSemicolon)
	return fd, err
}

// skipFunctionDecl consumes a function during pass 1 without building
// its body AST (the layout walker only needs fields).
func (p *Parser) skipFunctionDecl() error {
	depth := 0
	for {
		if p.check(lexer.TokenEOF) {
			return diag.NewParseError("unterminated function", p.file, p.cur.Line, p.cur.Column)
		}
		if p.check(lexer.TokenLBrace) {
			depth++
		}
		if p.check(lexer.TokenRBrace) {
			depth--
			if depth == 0 {
				return p.advance()
			}
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
}

func (p *Parser) parseFunctionDecl(access Access, static, virtual bool) (*FunctionDecl, error) {
	pos := p.pos()
	fn := &FunctionDecl{Pos: pos, Access: access, Static: static, Virtual: virtual}

	if p.check(lexer.TokenTilde) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		fn.IsDestructor = true
		nameTok, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		fn.Name = "~" + nameTok.Text
	} else if p.check(lexer.TokenOperator) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		opTok := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		fn.Name = "operator" + opTok.Text
	} else if isTypeStart(p.cur.Kind) || (p.check(lexer.TokenIdent) && p.isConstructorOrTypedFn()) {
		ty, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		fn.ReturnType = ty
		if p.check(lexer.TokenOperator) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			opTok := p.cur
			if err := p.advance(); err != nil {
				return nil, err
			}
			fn.Name = "operator" + opTok.Text
		} else {
			nameTok, err := p.expect(lexer.TokenIdent)
			if err != nil {
				return nil, err
			}
			fn.Name = nameTok.Text
		}
	} else {
		// constructor: bare `Name(...)`
		nameTok, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		fn.Name = nameTok.Text
	}

	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	slot := 0
	for !p.check(lexer.TokenRParen) {
		byRef := false
		pty, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		if p.check(lexer.TokenAmp) {
			byRef = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		pn, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, Param{Pos: p.pos(), Type: pty, ByRef: byRef, Name: pn.Text, Slot: slot})
		slot++
		if ok, err := p.match(lexer.TokenComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	fn.NumLocals = slot
	return fn, nil
}

// isConstructorOrTypedFn disambiguates `Foo(...)` constructor from
// `ClassName name(...)` (a function returning a class type): it's a
// typed function iff an identifier follows the first identifier.
func (p *Parser) isConstructorOrTypedFn() bool {
	// The caller already knows p.cur is an identifier; a constructor's
	// next significant token is '(' while a typed declaration's is
	// another identifier (possibly through '*'/template brackets).
	// We approximate by requiring exact two-identifier shape via the
	// scanner's one-token lookahead.
	t, err := p.sc.Peek()
	if err != nil {
		return false
	}
	return t.Kind == lexer.TokenIdent || t.Kind == lexer.TokenStar || t.Kind == lexer.TokenLt || t.Kind == lexer.TokenOperator
}

func (p *Parser) parseTypeRef() (TypeRef, error) {
	pos := p.pos()
	name := p.cur.Text
	if isTypeStart(p.cur.Kind) {
		name = string(p.cur.Kind)
	}
	if err := p.advance(); err != nil {
		return TypeRef{}, err
	}
	tr := TypeRef{Pos: pos, Name: name}
	if p.check(lexer.TokenLt) {
		if err := p.advance(); err != nil {
			return tr, err
		}
		for !p.check(lexer.TokenGt) {
			arg, err := p.parseTemplateArg()
			if err != nil {
				return tr, err
			}
			tr.TemplateArgs = append(tr.TemplateArgs, arg)
			if ok, err := p.match(lexer.TokenComma); err != nil {
				return tr, err
			} else if !ok {
				break
			}
		}
		if _, err := p.expect(lexer.TokenGt); err != nil {
			return tr, err
		}
	}
	for p.check(lexer.TokenStar) {
		tr.PointerLevel++
		if err := p.advance(); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

func (p *Parser) parseTemplateArg() (TemplateArg, error) {
	if p.check(lexer.TokenInt) {
		t := p.cur
		if err := p.advance(); err != nil {
			return TemplateArg{}, err
		}
		v, _ := strconv.ParseInt(t.Text, 10, 64)
		return TemplateArg{IntArg: &v}, nil
	}
	ty, err := p.parseTypeRef()
	if err != nil {
		return TemplateArg{}, err
	}
	return TemplateArg{TypeArg: &ty}, nil
}

func (p *Parser) parseBlock() (*Block, error) {
	pos := p.pos()
	if _, err := p.expect(lexer.TokenLBrace); err != nil {
		return nil, err
	}
	b := &Block{Pos: pos}
	for !p.check(lexer.TokenRBrace) {
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, st)
	}
	_, err := p.expect(lexer.TokenRBrace)
	return b, err
}
