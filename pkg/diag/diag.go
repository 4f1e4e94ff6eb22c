// Package diag carries the three diagnostic tiers of the lowering pass:
// fatal internal errors (earlier-phase contract violations), user-facing
// semantic errors, and warnings. The first two are returned as catchable
// error values that unwind the whole translation-unit pass; warnings are
// logged and lowering continues.
package diag

import (
	"fmt"
	"os"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

// Sentinels for errors.Is. Every error produced by Internal or Semantic
// matches exactly one of these.
var (
	ErrInternal = errors.New("internal error")
	ErrSemantic = errors.New("semantic error")
)

type Warning int

const (
	WarnFallback Warning = iota // optional intrinsic lowered as a no-op
	WarnUnreachableCode
	WarnExtra
	warnCount
)

type warningInfo struct {
	Name    string
	Enabled bool
}

var warnings = [warnCount]warningInfo{
	WarnFallback:        {"fallback", true},
	WarnUnreachableCode: {"unreachable-code", true},
	WarnExtra:           {"extra", true},
}

// SourceFileRecord tracks the name and content of one input file so
// diagnostics can render the offending line with a caret.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// Error is a located diagnostic. Kind is one of the sentinels above.
type Error struct {
	Kind error
	Tok  token.Token
	Msg  string
	PC   loc.PC
}

func (e *Error) Error() string {
	if e.Tok.Valid() {
		return fmt.Sprintf("%v: %s", e.Tok, e.Msg)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

// Bag owns the diagnostic state for one translation unit.
type Bag struct {
	Log   *tlog.Logger
	files []SourceFileRecord
	color bool

	enabled [warnCount]bool
	warned  int
}

func New(l *tlog.Logger) *Bag {
	if l == nil {
		l = tlog.DefaultLogger
	}
	b := &Bag{Log: l}
	for i := range warnings {
		b.enabled[i] = warnings[i].Enabled
	}
	return b
}

// SetSourceFiles stores input file contents for caret rendering.
func (b *Bag) SetSourceFiles(files []SourceFileRecord) { b.files = files }

// SetColor enables ANSI color in caret output; cmd decides via the tty.
func (b *Bag) SetColor(on bool) { b.color = on }

func (b *Bag) SetWarning(w Warning, on bool) { b.enabled[w] = on }

func (b *Bag) WarningCount() int { return b.warned }

// Internal reports a violated invariant that earlier compiler phases were
// supposed to guarantee. It is a bug, not a user error, and aborts the pass.
func (b *Bag) Internal(tok token.Token, format string, args ...interface{}) error {
	return &Error{
		Kind: ErrInternal,
		Tok:  tok,
		Msg:  fmt.Sprintf(format, args...),
		PC:   loc.Caller(1),
	}
}

// Semantic reports an error caused by the user's source, carrying a
// location for reporting. It aborts the pass like Internal does, but is
// distinguishable via errors.Is(err, ErrSemantic).
func (b *Bag) Semantic(tok token.Token, format string, args ...interface{}) error {
	return &Error{
		Kind: ErrSemantic,
		Tok:  tok,
		Msg:  fmt.Sprintf(format, args...),
		PC:   loc.Caller(1),
	}
}

// Warn logs a warning of the given class and continues.
func (b *Bag) Warn(w Warning, tok token.Token, format string, args ...interface{}) {
	if !b.enabled[w] {
		return
	}
	b.warned++

	name, line, col := b.locate(tok)
	b.Log.Printw(fmt.Sprintf(format, args...),
		"warning", warnings[w].Name, "file", name, "line", line, "col", col)

	b.printCaretLine(os.Stderr, tok)
}

func (b *Bag) locate(tok token.Token) (name string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(b.files) {
		return "unknown", tok.Line, tok.Column
	}
	return b.files[tok.FileIndex].Name, tok.Line, tok.Column
}

// printCaretLine prints the source line and a caret under the token.
func (b *Bag) printCaretLine(stream *os.File, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(b.files) || tok.Line == 0 {
		return
	}

	content := b.files[tok.FileIndex].Content
	lineNum := tok.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(stream, "  %s\n", string(content[lineStart:lineEnd]))

	// Synthesized tokens may carry column 0.
	col := tok.Column
	if col < 1 {
		col = 1
	}
	pad := strings.Repeat(" ", col-1)
	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	if b.color {
		fmt.Fprintf(stream, "  %s\033[32m%s\033[0m\n", pad, caret)
	} else {
		fmt.Fprintf(stream, "  %s%s\n", pad, caret)
	}
}

// Explain renders a located error for the user, including the caret line.
func (b *Bag) Explain(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	name, line, col := b.locate(e.Tok)
	kind := "error"
	if errors.Is(e, ErrInternal) {
		kind = "internal error"
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", name, line, col, kind, e.Msg)
}
