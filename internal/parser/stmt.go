package parser

import (
	"thalis/internal/lexer"
)

func (p *Parser) parseStmt() (Stmt, error) {
	pos := p.pos()
	switch p.cur.Kind {
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenReturn:
		p.advance()
		if p.check(lexer.TokenSemicolon) {
			p.advance()
			return &Return{Pos: pos}, nil
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenSemicolon)
		return &Return{Pos: pos, X: x}, err
	case lexer.TokenBreak:
		p.advance()
		_, err := p.expect(lexer.TokenSemicolon)
		return &Break{Pos: pos}, err
	case lexer.TokenContinue:
		p.advance()
		_, err := p.expect(lexer.TokenSemicolon)
		return &Continue{Pos: pos}, err
	case lexer.TokenDelete:
		p.advance()
		arr := false
		if p.check(lexer.TokenLBracket) {
			p.advance()
			if _, err := p.expect(lexer.TokenRBracket); err != nil {
				return nil, err
			}
			arr = true
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenSemicolon)
		return &Delete{Pos: pos, X: x, Array: arr}, err
	case lexer.TokenBreakpoint:
		p.advance()
		_, err := p.expect(lexer.TokenSemicolon)
		return &Breakpoint{Pos: pos}, err
	}
	if isTypeStart(p.cur.Kind) || (p.check(lexer.TokenIdent) && p.identStartsVarDecl()) {
		return p.parseVarDecl()
	}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	_, err = p.expect(lexer.TokenSemicolon)
	return &ExprStmt{Pos: pos, X: x}, err
}

// identStartsVarDecl disambiguates `Foo bar = ...;` (a variable of
// class type Foo) from an expression statement starting with an
// identifier: it's a declaration iff an identifier (the variable name)
// follows immediately, or follows a `<...>` template-argument list or
// `*` pointer suffix.
func (p *Parser) identStartsVarDecl() bool {
	var saved []lexer.Token
	saved = append(saved, p.cur)
	if err := p.advance(); err != nil {
		p.restoreAfterProbe(saved)
		return false
	}
	if p.cur.Kind == lexer.TokenLt {
		depth := 0
		for {
			if p.cur.Kind == lexer.TokenLt {
				depth++
			} else if p.cur.Kind == lexer.TokenGt {
				depth--
			} else if p.cur.Kind == lexer.TokenEOF || p.cur.Kind == lexer.TokenSemicolon {
				break
			}
			saved = append(saved, p.cur)
			if err := p.advance(); err != nil {
				p.restoreAfterProbe(saved)
				return false
			}
			if depth == 0 {
				break
			}
		}
	}
	for p.cur.Kind == lexer.TokenStar {
		saved = append(saved, p.cur)
		if err := p.advance(); err != nil {
			p.restoreAfterProbe(saved)
			return false
		}
	}
	result := p.cur.Kind == lexer.TokenIdent
	p.restoreAfterProbe(saved)
	return result
}

func (p *Parser) parseVarDecl() (Stmt, error) {
	pos := p.pos()
	ty, err := p.parseTypeRef()
	if err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.TokenIdent)
	if err != nil {
		return nil, err
	}
	vd := &VarDecl{Pos: pos, Type: ty, Name: name.Text}
	for p.check(lexer.TokenLBracket) {
		p.advance()
		if p.check(lexer.TokenRBracket) {
			vd.Dims = append(vd.Dims, nil)
		} else {
			d, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vd.Dims = append(vd.Dims, d)
		}
		if _, err := p.expect(lexer.TokenRBracket); err != nil {
			return nil, err
		}
	}
	if ok, err := p.match(lexer.TokenAssign); err != nil {
		return nil, err
	} else if ok {
		if p.check(lexer.TokenLBrace) {
			p.advance()
			for !p.check(lexer.TokenRBrace) {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				vd.InitList = append(vd.InitList, e)
				if ok, err := p.match(lexer.TokenComma); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(lexer.TokenRBrace); err != nil {
				return nil, err
			}
		} else {
			init, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vd.Init = init
		}
	}
	_, err = p.expect(lexer.TokenSemicolon)
	return vd, err
}

func (p *Parser) parseIf() (Stmt, error) {
	pos := p.pos()
	p.advance()
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	ifs := &If{Pos: pos, Cond: cond, Then: then}
	if ok, err := p.match(lexer.TokenElse); err != nil {
		return nil, err
	} else if ok {
		if p.check(lexer.TokenIf) {
			els, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			ifs.Else = els
		} else {
			els, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			ifs.Else = els
		}
	}
	return ifs, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	pos := p.pos()
	p.advance()
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &While{Pos: pos, Cond: cond, Body: body}, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	pos := p.pos()
	p.advance()
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	f := &For{Pos: pos}
	if !p.check(lexer.TokenSemicolon) {
		init, err := p.parseForClauseStmt()
		if err != nil {
			return nil, err
		}
		f.Init = init
	} else {
		p.advance()
	}
	if !p.check(lexer.TokenSemicolon) {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		f.Cond = cond
	}
	if _, err := p.expect(lexer.TokenSemicolon); err != nil {
		return nil, err
	}
	if !p.check(lexer.TokenRParen) {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		f.Post = &ExprStmt{Pos: p.pos(), X: x}
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

// parseForClauseStmt parses the `for(init; ...)` initializer clause,
// which is either a var decl or an expression, terminated by the `;`
// the caller expects next.
func (p *Parser) parseForClauseStmt() (Stmt, error) {
	pos := p.pos()
	if isTypeStart(p.cur.Kind) || (p.check(lexer.TokenIdent) && p.identStartsVarDecl()) {
		ty, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		name, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		vd := &VarDecl{Pos: pos, Type: ty, Name: name.Text}
		if ok, err := p.match(lexer.TokenAssign); err != nil {
			return nil, err
		} else if ok {
			init, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vd.Init = init
		}
		_, err = p.expect(lexer.TokenSemicolon)
		return vd, err
	}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	_, err = p.expect(lexer.TokenSemicolon)
	return &ExprStmt{Pos: pos, X: x}, err
}
