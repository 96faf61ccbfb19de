// Package diag implements the error taxonomy described in spec.md §7:
// lex, parse, resolve, link, and runtime errors, each carrying a source
// location so the CLI can render a caret-pointed diagnostic.
package diag

import (
	"fmt"
	"strings"
)

// ErrorType distinguishes the five error categories the core can raise.
type ErrorType string

const (
	LexError     ErrorType = "LexError"
	ParseError   ErrorType = "ParseError"
	ResolveError ErrorType = "ResolveError"
	LinkError    ErrorType = "LinkError"
	RuntimeError ErrorType = "RuntimeError"
)

// SourceLocation pinpoints a file/line/column triple.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// StackFrame records one call-site for a runtime error's call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// ThalisError is the single error type produced anywhere in the core.
type ThalisError struct {
	Type      ErrorType
	Message   string
	Location  SourceLocation
	CallStack []StackFrame
	Source    string // the offending source line, for caret rendering
}

func (e *ThalisError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s\n", e.Type, e.Message))
	if e.Location.File != "" {
		sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n", e.Location.File, e.Location.Line, e.Location.Column))
		if e.Source != "" {
			prefix := fmt.Sprintf("  %d | ", e.Location.Line)
			sb.WriteString(prefix + e.Source + "\n")
			sb.WriteString(strings.Repeat(" ", len(prefix)))
			if e.Location.Column > 0 {
				sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			}
			sb.WriteString("^\n")
		}
	}
	if len(e.CallStack) > 0 {
		sb.WriteString("Call Stack:\n")
		for _, f := range e.CallStack {
			if f.Function != "" {
				sb.WriteString(fmt.Sprintf("  at %s (%s:%d)\n", f.Function, f.File, f.Line))
			} else {
				sb.WriteString(fmt.Sprintf("  at %s:%d\n", f.File, f.Line))
			}
		}
	}
	return sb.String()
}

func NewLexError(msg, file string, line, col int) *ThalisError {
	return &ThalisError{Type: LexError, Message: msg, Location: SourceLocation{File: file, Line: line, Column: col}}
}

func NewParseError(msg, file string, line, col int) *ThalisError {
	return &ThalisError{Type: ParseError, Message: msg, Location: SourceLocation{File: file, Line: line, Column: col}}
}

func NewResolveError(msg, file string, line, col int) *ThalisError {
	return &ThalisError{Type: ResolveError, Message: msg, Location: SourceLocation{File: file, Line: line, Column: col}}
}

func NewLinkError(msg, file string, line, col int) *ThalisError {
	return &ThalisError{Type: LinkError, Message: msg, Location: SourceLocation{File: file, Line: line, Column: col}}
}

func NewRuntimeError(msg string) *ThalisError {
	return &ThalisError{Type: RuntimeError, Message: msg}
}

func (e *ThalisError) WithSource(src string) *ThalisError {
	e.Source = src
	return e
}

func (e *ThalisError) WithStack(stack []StackFrame) *ThalisError {
	e.CallStack = stack
	return e
}

func (e *ThalisError) PushFrame(function, file string, line int) *ThalisError {
	e.CallStack = append(e.CallStack, StackFrame{Function: function, File: file, Line: line})
	return e
}
