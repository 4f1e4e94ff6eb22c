package token

import "fmt"

// Token records where a construct came from in the original source.
// The middle-end never re-reads source text; tokens only ride along on
// IR instructions so diagnostics can point back at a file position.
type Token struct {
	FileIndex int
	Line      int
	Column    int
	Len       int
}

// None is the zero token, used for synthesized constructs that have no
// source position (implicit returns, compiler-generated members).
var None = Token{FileIndex: -1}

func (t Token) Valid() bool { return t.FileIndex >= 0 && t.Line > 0 }

func (t Token) String() string {
	if !t.Valid() {
		return "<synth>"
	}
	return fmt.Sprintf("%d:%d:%d", t.FileIndex, t.Line, t.Column)
}
