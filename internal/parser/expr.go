package parser

import (
	"strconv"

	"thalis/internal/diag"
	"thalis/internal/lexer"
)

// binPrec implements the precedence table of spec §4.D: higher binds
// tighter; the climb uses `tokenPrec < nextPrec` to recurse, so no
// right-associativity handling is needed for this operator set.
func binPrec(k lexer.TokenType) (BinaryOp, int, bool) {
	switch k {
	case lexer.TokenStar:
		return BinMul, 20, true
	case lexer.TokenSlash:
		return BinDiv, 20, true
	case lexer.TokenPercent:
		return BinMod, 20, true
	case lexer.TokenPlus:
		return BinAdd, 10, true
	case lexer.TokenMinus:
		return BinSub, 10, true
	case lexer.TokenShl:
		return BinShl, 9, true
	case lexer.TokenShr:
		return BinShr, 9, true
	case lexer.TokenLt:
		return BinLt, 8, true
	case lexer.TokenLe:
		return BinLe, 8, true
	case lexer.TokenGt:
		return BinGt, 8, true
	case lexer.TokenGe:
		return BinGe, 8, true
	case lexer.TokenEq:
		return BinEq, 7, true
	case lexer.TokenNotEq:
		return BinNe, 7, true
	case lexer.TokenAmp:
		return BinAnd, 6, true
	case lexer.TokenPipe:
		return BinOr, 5, true
	case lexer.TokenAndAnd:
		return BinLAnd, 3, true
	case lexer.TokenOrOr:
		return BinLOr, 2, true
	}
	return "", 0, false
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseAssign()
}

// parseAssign handles `=` and the compound-assignment operators, which
// bind looser than any binary operator in the precedence table and are
// right-associative by construction (a single recursive call on the
// RHS).
func (p *Parser) parseAssign() (Expr, error) {
	lhs, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	pos := p.pos()
	switch p.cur.Kind {
	case lexer.TokenAssign:
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &Assign{Pos: pos, LHS: lhs, RHS: rhs}, nil
	case lexer.TokenPlusEq, lexer.TokenMinusEq, lexer.TokenStarEq, lexer.TokenSlashEq, lexer.TokenPercentEq:
		op := compoundOp(p.cur.Kind)
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &CompoundAssign{Pos: pos, Op: op, LHS: lhs, RHS: rhs}, nil
	}
	return lhs, nil
}

func compoundOp(k lexer.TokenType) BinaryOp {
	switch k {
	case lexer.TokenPlusEq:
		return BinAdd
	case lexer.TokenMinusEq:
		return BinSub
	case lexer.TokenStarEq:
		return BinMul
	case lexer.TokenSlashEq:
		return BinDiv
	case lexer.TokenPercentEq:
		return BinMod
	}
	return ""
}

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, prec, ok := binPrec(p.cur.Kind)
		if !ok || prec < minPrec {
			return lhs, nil
		}
		pos := p.pos()
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Pos: pos, Op: op, L: lhs, R: rhs}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	pos := p.pos()
	switch p.cur.Kind {
	case lexer.TokenStar:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryDeref, X: x}, err
	case lexer.TokenAmp:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryAddr, X: x}, err
	case lexer.TokenBang:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryNot, X: x}, err
	case lexer.TokenMinus:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryNeg, X: x}, err
	case lexer.TokenTilde:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryInvert, X: x}, err
	case lexer.TokenPlusPlus:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryPreInc, X: x}, err
	case lexer.TokenMinusMinus:
		p.advance()
		x, err := p.parseUnary()
		return &Unary{Pos: pos, Op: UnaryPreDec, X: x}, err
	case lexer.TokenLParen:
		if p.looksLikeCastAhead() {
			p.advance()
			ty, err := p.parseTypeRef()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.TokenRParen); err != nil {
				return nil, err
			}
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &Cast{Pos: pos, Type: ty, X: x}, nil
		}
	}
	return p.parsePostfix()
}

// looksLikeCastAhead resolves the §9(b) ambiguity explicitly: `(X) y`
// parses as a cast only when X is syntactically a type name (a
// primitive keyword or identifier, optionally `*`-suffixed) AND the
// token after the matching `)` can start a unary expression. Anything
// else — including `(expr)` — is a parenthesized expression.
func (p *Parser) looksLikeCastAhead() bool {
	// p.cur is '('. We need two tokens of lookahead beyond it, which
	// the single-token-lookahead scanner doesn't give directly; buffer
	// via Next()+SetPeek to inspect then restore, matching pushback.
	var saved []lexer.Token
	start := p.cur
	saved = append(saved, start)
	if err := p.advance(); err != nil {
		p.restoreAfterProbe(saved)
		return false
	}
	isType := isTypeStart(p.cur.Kind)
	if p.cur.Kind == lexer.TokenIdent {
		isType = true
	}
	if !isType {
		p.restoreAfterProbe(saved)
		return false
	}
	saved = append(saved, p.cur)
	if err := p.advance(); err != nil {
		p.restoreAfterProbe(saved)
		return false
	}
	for p.cur.Kind == lexer.TokenStar {
		saved = append(saved, p.cur)
		if err := p.advance(); err != nil {
			p.restoreAfterProbe(saved)
			return false
		}
	}
	result := p.cur.Kind == lexer.TokenRParen
	if result {
		saved = append(saved, p.cur)
		if err := p.advance(); err != nil {
			p.restoreAfterProbe(saved)
			return false
		}
		switch p.cur.Kind {
		case lexer.TokenIdent, lexer.TokenInt, lexer.TokenReal, lexer.TokenString, lexer.TokenChar,
			lexer.TokenTrue, lexer.TokenFalse, lexer.TokenNull, lexer.TokenThis, lexer.TokenNew, lexer.TokenSizeof,
			lexer.TokenStrlen, lexer.TokenOffsetof, lexer.TokenLParen, lexer.TokenStar, lexer.TokenAmp,
			lexer.TokenBang, lexer.TokenMinus, lexer.TokenTilde, lexer.TokenPlusPlus, lexer.TokenMinusMinus:
		default:
			result = false
		}
	}
	p.restoreAfterProbe(saved)
	return result
}

func (p *Parser) restoreAfterProbe(saved []lexer.Token) {
	p.pushback(saved)
}

func (p *Parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.pos()
		switch p.cur.Kind {
		case lexer.TokenPlusPlus:
			p.advance()
			x = &Unary{Pos: pos, Op: UnaryPostInc, X: x}
		case lexer.TokenMinusMinus:
			p.advance()
			x = &Unary{Pos: pos, Op: UnaryPostDec, X: x}
		case lexer.TokenLParen:
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &Call{Pos: pos, Callee: x, Args: args}
		case lexer.TokenLBracket:
			var indices []Expr
			for p.check(lexer.TokenLBracket) {
				p.advance()
				idx, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				indices = append(indices, idx)
				if _, err := p.expect(lexer.TokenRBracket); err != nil {
					return nil, err
				}
			}
			x = &Index{Pos: pos, X: x, Indices: indices}
		case lexer.TokenDot, lexer.TokenArrow:
			arrow := p.cur.Kind == lexer.TokenArrow
			p.advance()
			name, err := p.expect(lexer.TokenIdent)
			if err != nil {
				return nil, err
			}
			if m, ok := x.(*Member); ok {
				m.Members = append(m.Members, MemberAccess{Name: name.Text, Arrow: arrow})
			} else {
				x = &Member{Pos: pos, Base: x, Members: []MemberAccess{{Name: name.Text, Arrow: arrow}}}
			}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parseArgs() ([]Expr, error) {
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	var args []Expr
	for !p.check(lexer.TokenRParen) {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if ok, err := p.match(lexer.TokenComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	_, err := p.expect(lexer.TokenRParen)
	return args, err
}

func (p *Parser) parsePrimary() (Expr, error) {
	pos := p.pos()
	switch p.cur.Kind {
	case lexer.TokenInt:
		v, _ := strconv.ParseInt(p.cur.Text, 10, 64)
		p.advance()
		return &IntLit{Pos: pos, Val: v}, nil
	case lexer.TokenReal:
		v, _ := strconv.ParseFloat(p.cur.Text, 64)
		p.advance()
		return &RealLit{Pos: pos, Val: v}, nil
	case lexer.TokenString:
		s := p.cur.Text
		p.advance()
		return &StringLit{Pos: pos, Val: s}, nil
	case lexer.TokenChar:
		r := []rune(p.cur.Text)[0]
		p.advance()
		return &CharLit{Pos: pos, Val: r}, nil
	case lexer.TokenTrue:
		p.advance()
		return &BoolLit{Pos: pos, Val: true}, nil
	case lexer.TokenFalse:
		p.advance()
		return &BoolLit{Pos: pos, Val: false}, nil
	case lexer.TokenNull:
		p.advance()
		return &NullLit{Pos: pos}, nil
	case lexer.TokenThis:
		p.advance()
		return &ThisExpr{Pos: pos}, nil
	case lexer.TokenNew:
		return p.parseNew()
	case lexer.TokenSizeof:
		p.advance()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		ty, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenRParen)
		return &SizeofExpr{Pos: pos, Type: ty}, err
	case lexer.TokenStrlen:
		p.advance()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenRParen)
		return &StrlenExpr{Pos: pos, X: x}, err
	case lexer.TokenOffsetof:
		p.advance()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		ty, err := p.parseTypeRef()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenDot); err != nil {
			return nil, err
		}
		field, err := p.expect(lexer.TokenIdent)
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenRParen)
		return &OffsetofExpr{Pos: pos, Type: ty, Field: field.Text}, err
	case lexer.TokenLParen:
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.TokenRParen)
		return x, err
	case lexer.TokenIdent:
		name := p.cur.Text
		p.advance()
		id := &Ident{Pos: pos, Name: name}
		if p.check(lexer.TokenLt) && p.identLooksLikeTemplateCall() {
			p.advance()
			for !p.check(lexer.TokenGt) {
				arg, err := p.parseTemplateArg()
				if err != nil {
					return nil, err
				}
				id.TemplateArgs = append(id.TemplateArgs, arg)
				if ok, err := p.match(lexer.TokenComma); err != nil {
					return nil, err
				} else if !ok {
					break
				}
			}
			if _, err := p.expect(lexer.TokenGt); err != nil {
				return nil, err
			}
		}
		return id, nil
	}
	return nil, diag.NewParseError("expected expression, got "+string(p.cur.Kind), p.file, p.cur.Line, p.cur.Column)
}

// identLooksLikeTemplateCall disambiguates `Name<T>(...)` from
// `name < other` by requiring the bracketed content to parse as
// type/int arguments followed by `>`.
func (p *Parser) identLooksLikeTemplateCall() bool {
	var saved []lexer.Token
	for depth := 0; ; {
		switch k := p.cur.Kind; {
		case k == lexer.TokenLt:
			depth++
		case k == lexer.TokenGt:
			depth--
		case !(isTypeStart(k) || k == lexer.TokenIdent || k == lexer.TokenInt || k == lexer.TokenStar || k == lexer.TokenComma):
			p.restoreAfterProbe(saved)
			return false
		}
		if depth == 0 {
			p.restoreAfterProbe(saved)
			return len(saved) > 1
		}
		saved = append(saved, p.cur)
		if err := p.advance(); err != nil {
			p.restoreAfterProbe(saved)
			return false
		}
	}
}

func (p *Parser) parseNew() (Expr, error) {
	pos := p.pos()
	p.advance()
	ty, err := p.parseTypeRef()
	if err != nil {
		return nil, err
	}
	if p.check(lexer.TokenLBracket) {
		var dims []Expr
		for p.check(lexer.TokenLBracket) {
			p.advance()
			d, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			dims = append(dims, d)
			if _, err := p.expect(lexer.TokenRBracket); err != nil {
				return nil, err
			}
		}
		return &NewArray{Pos: pos, Type: ty, Dims: dims}, nil
	}
	var args []Expr
	if p.check(lexer.TokenLParen) {
		args, err = p.parseArgs()
		if err != nil {
			return nil, err
		}
	}
	return &New{Pos: pos, Type: ty, Args: args}, nil
}
