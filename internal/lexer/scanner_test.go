package lexer

import "testing"

func scanAll(t *testing.T, src string) []Token {
	t.Helper()
	sc := New("test.tls", src)
	var toks []Token
	for {
		tok, err := sc.Next()
		if err != nil {
			t.Fatalf("scanning %q: %v", src, err)
		}
		toks = append(toks, tok)
		if tok.Kind == TokenEOF {
			break
		}
	}
	return toks
}

func TestKeywordsAndIdents(t *testing.T) {
	tests := []struct {
		src  string
		kind TokenType
	}{
		{"class", TokenClass},
		{"static", TokenStatic},
		{"virtual", TokenVirtual},
		{"inherit", TokenInherit},
		{"template", TokenTemplate},
		{"breakpoint", TokenBreakpoint},
		{"int32", TokenIdent}, // not a keyword: primitives are u*/i*/f*, not "int32"
		{"i32", TokenI32},
		{"fib", TokenIdent},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			toks := scanAll(t, test.src)
			if len(toks) < 1 || toks[0].Kind != test.kind {
				t.Fatalf("scanning %q: got %v, want kind %s", test.src, toks, test.kind)
			}
		})
	}
}

func TestOperatorsAndCompoundAssign(t *testing.T) {
	toks := scanAll(t, "+= -= *= /= %= ++ -- == != <= >= << >> && || ->")
	wantKinds := []TokenType{
		TokenPlusEq, TokenMinusEq, TokenStarEq, TokenSlashEq, TokenPercentEq,
		TokenPlusPlus, TokenMinusMinus, TokenEq, TokenNotEq, TokenLe, TokenGe,
		TokenShl, TokenShr, TokenAndAnd, TokenOrOr, TokenArrow, TokenEOF,
	}
	if len(toks) != len(wantKinds) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(wantKinds), toks)
	}
	for i, want := range wantKinds {
		if toks[i].Kind != want {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Kind, want)
		}
	}
}

func TestLineComment(t *testing.T) {
	toks := scanAll(t, "i32 x // this is a comment\n= 5;")
	kinds := []TokenType{TokenI32, TokenIdent, TokenAssign, TokenInt, TokenSemicolon, TokenEOF}
	if len(toks) != len(kinds) {
		t.Fatalf("got %v", toks)
	}
	for i, k := range kinds {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Kind, k)
		}
	}
}

func TestNestedBlockComment(t *testing.T) {
	// spec §4.C: block comments "may be nested by depth counting".
	toks := scanAll(t, "/* outer /* inner */ still-comment */ i32")
	if len(toks) != 2 || toks[0].Kind != TokenI32 || toks[1].Kind != TokenEOF {
		t.Fatalf("nested comment not fully skipped: %v", toks)
	}
}

func TestStringAndCharEscapes(t *testing.T) {
	toks := scanAll(t, `"a\nb" 'c' '\t'`)
	if len(toks) != 4 {
		t.Fatalf("got %v", toks)
	}
	if toks[0].Kind != TokenString || toks[1].Kind != TokenChar || toks[2].Kind != TokenChar {
		t.Fatalf("unexpected kinds: %v", toks)
	}
}

func TestNumberLiterals(t *testing.T) {
	toks := scanAll(t, "42 3.14 0")
	if toks[0].Kind != TokenInt || toks[1].Kind != TokenReal || toks[2].Kind != TokenInt {
		t.Fatalf("got %v", toks)
	}
}

func TestPeekAndSetPeek(t *testing.T) {
	sc := New("test.tls", "i32 x;")
	first, err := sc.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != TokenI32 {
		t.Fatalf("peek: got %s", first.Kind)
	}
	// Peek must not consume: the next Next() sees the same token.
	next, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if next.Kind != TokenI32 {
		t.Fatalf("next after peek: got %s", next.Kind)
	}
	// SetPeek rewinds the cursor to replay a token.
	sc.SetPeek(next)
	replay, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if replay.Kind != TokenI32 || replay.Text != next.Text {
		t.Fatalf("replay after SetPeek: got %v, want %v", replay, next)
	}
}

func TestExpectMismatch(t *testing.T) {
	sc := New("test.tls", "x")
	if _, err := sc.Expect(TokenClass); err == nil {
		t.Fatal("expected a mismatch error")
	}
}
