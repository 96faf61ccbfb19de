package diag

import (
	"strings"
	"testing"
)

func TestErrorRendersLocationAndCaret(t *testing.T) {
	err := NewParseError("unexpected token", "m.tls", 3, 5).WithSource("i32 x = ;")
	s := err.Error()
	if !strings.Contains(s, "ParseError: unexpected token") {
		t.Fatalf("missing header: %s", s)
	}
	if !strings.Contains(s, "at m.tls:3:5") {
		t.Fatalf("missing location: %s", s)
	}
	lines := strings.Split(s, "\n")
	var srcLine, caretLine string
	for i, l := range lines {
		if strings.Contains(l, "i32 x = ;") {
			srcLine = l
			if i+1 < len(lines) {
				caretLine = lines[i+1]
			}
		}
	}
	if srcLine == "" {
		t.Fatalf("source line not rendered: %s", s)
	}
	if !strings.HasSuffix(caretLine, "^") {
		t.Fatalf("caret line = %q, want a trailing ^", caretLine)
	}
}

func TestErrorWithStackRendersFrames(t *testing.T) {
	err := NewRuntimeError("division by zero").
		PushFrame("M::fib", "m.tls", 4).
		PushFrame("M::Main", "m.tls", 9)
	s := err.Error()
	if !strings.Contains(s, "Call Stack:") {
		t.Fatalf("missing call stack header: %s", s)
	}
	if !strings.Contains(s, "M::fib (m.tls:4)") || !strings.Contains(s, "M::Main (m.tls:9)") {
		t.Fatalf("missing frames: %s", s)
	}
}

func TestRuntimeErrorHasNoLocationLine(t *testing.T) {
	err := NewRuntimeError("bound check failed")
	if strings.Contains(err.Error(), " at ") {
		t.Fatalf("a location-less runtime error must not render an 'at' line: %s", err.Error())
	}
}
