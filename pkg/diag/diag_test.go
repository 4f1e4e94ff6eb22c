package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/GregorGullwi/FlashCpp-sub002/pkg/token"
)

func testTok() token.Token { return token.Token{Line: 3, Column: 5, Len: 4} }

func TestErrorKindsAreDistinguishable(t *testing.T) {
	b := New(nil)

	in := b.Internal(testTok(), "register %d escaped its function", 7)
	sem := b.Semantic(testTok(), "no member %q in %q", "z", "Point")

	assert.True(t, errors.Is(in, ErrInternal))
	assert.False(t, errors.Is(in, ErrSemantic))
	assert.True(t, errors.Is(sem, ErrSemantic))
	assert.False(t, errors.Is(sem, ErrInternal))
}

func TestErrorMessageCarriesLocation(t *testing.T) {
	b := New(nil)
	err := b.Semantic(testTok(), "bad thing")
	assert.Contains(t, err.Error(), "bad thing")

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Tok.Line)
	assert.Equal(t, 5, e.Tok.Column)
}

func TestWrappedErrorsKeepTheirKind(t *testing.T) {
	b := New(nil)
	err := errors.Wrap(b.Semantic(testTok(), "inner"), "func %v", "main")
	assert.True(t, errors.Is(err, ErrSemantic))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "inner", e.Msg)
}

func TestWarningGating(t *testing.T) {
	b := New(nil)

	b.Warn(WarnFallback, testTok(), "intrinsic %q dropped", "__assume")
	assert.Equal(t, 1, b.WarningCount())

	b.SetWarning(WarnFallback, false)
	b.Warn(WarnFallback, testTok(), "intrinsic %q dropped", "__assume")
	assert.Equal(t, 1, b.WarningCount(), "disabled classes do not count")

	b.Warn(WarnUnreachableCode, testTok(), "code after return")
	assert.Equal(t, 2, b.WarningCount(), "other classes stay enabled")
}

func TestExplainRendersKindAndPosition(t *testing.T) {
	b := New(nil)
	b.SetSourceFiles([]SourceFileRecord{{Name: "main.cpp", Content: []rune("int x;\nint y;\nint z!!;\n")}})

	msg := b.Explain(b.Semantic(testTok(), "stray token"))
	assert.Equal(t, "main.cpp:3:5: error: stray token", msg)

	msg = b.Explain(b.Internal(testTok(), "broken"))
	assert.Contains(t, msg, "internal error")
}

func TestCaretLineToleratesZeroColumn(t *testing.T) {
	b := New(nil)
	b.SetSourceFiles([]SourceFileRecord{{Name: "gen.cpp", Content: []rune("int x;\n")}})

	// Synthesized tokens carry no column; the caret renders at the line
	// start instead of panicking.
	assert.NotPanics(t, func() {
		b.Warn(WarnExtra, token.Token{Line: 1, Column: 0, Len: 1}, "synthesized token")
	})
	assert.Equal(t, 1, b.WarningCount())
}
