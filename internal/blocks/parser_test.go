package blocks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFields = MustFieldMap(
	Field{Code: "D", Name: "DOMAIN"},
	Field{Code: "N", Name: "PARENT"},
	Field{Code: "O", Name: "DESCRIPTION"},
	Field{Code: "T", Name: "TREE PATH"},
	Field{Code: "R", Name: "REVIEWER", Repeatable: true},
	Field{Code: "L", Name: "LICENSES", Repeatable: true},
	Field{Code: "SL", Name: "SUBDOMAIN_LEADER", Repeatable: true},
)

func TestParseContinuationJoinsPreviousField(t *testing.T) {
	got, err := ParseAll("D: foo\n  bar\nD: baz", "D", testFields)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "foo bar", got[0].Value("DOMAIN"))
	assert.Equal(t, "baz", got[1].Value("DOMAIN"))
	assert.Equal(t, 1, got[0].Line())
	assert.Equal(t, 3, got[1].Line())
	assert.Equal(t, "DOMAIN", got[1].Marker())
}

func TestParseRepeatableFieldKeepsOrder(t *testing.T) {
	text := "T: platform/core\nR: Alice <a@x.com>\nR: Bob <b@x.com>\nR: Carol <c@x.com>\n"
	got, err := ParseAll(text, "T", testFields)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Alice <a@x.com>", "Bob <b@x.com>", "Carol <c@x.com>"}, got[0].Values("REVIEWER"))
}

func TestParseSingularFieldLastWriteWins(t *testing.T) {
	got, err := ParseAll("D: Base\nO: first\nO: second\n", "D", testFields)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Value("DESCRIPTION"))
	assert.Equal(t, []string{"second"}, got[0].Values("DESCRIPTION"))
}

func TestParseContinuationOfRepeatableAppendsToLastValue(t *testing.T) {
	text := "T: a\nL: Apache-2.0\nL: BSD-3-Clause\n   with exceptions\n"
	got, err := ParseAll(text, "T", testFields)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apache-2.0", "BSD-3-Clause with exceptions"}, got[0].Values("LICENSES"))
}

func TestParseSkipsBlankAndCommentLinesWithoutClosingField(t *testing.T) {
	text := "# header comment\n\nD: Graphics\n# inline\n\n   stack\nSL: Dan <d@x.com>\n"
	got, err := ParseAll(text, "D", testFields, WithCommentPrefix("#"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Graphics stack", got[0].Value("DOMAIN"))
	assert.Equal(t, []string{"DOMAIN", "SUBDOMAIN_LEADER"}, got[0].Names())
}

func TestParseEmptyValueThenContinuation(t *testing.T) {
	got, err := ParseAll("D:\n  Multimedia\n", "D", testFields)
	require.NoError(t, err)
	assert.Equal(t, "Multimedia", got[0].Value("DOMAIN"))
}

func TestParseUnknownFieldStopsAtFailingBlock(t *testing.T) {
	text := "D: Base\nR: a <a@x.com>\nD: Broken\nX: nope\nD: Never\n"
	var seen []string
	var gotErr error
	for block, err := range Parse(text, "D", testFields) {
		if err != nil {
			gotErr = err
			break
		}
		seen = append(seen, block.Value("DOMAIN"))
	}
	assert.Equal(t, []string{"Base"}, seen)
	require.Error(t, gotErr)
	assert.True(t, errors.Is(gotErr, ErrUnknownField))
	assert.False(t, errors.Is(gotErr, ErrMalformedLine))

	var unknown *UnknownFieldError
	require.True(t, errors.As(gotErr, &unknown))
	assert.Equal(t, "X", unknown.Code)
	assert.Equal(t, 4, unknown.Line)

	_, err := ParseAll(text, "D", testFields)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestParseMalformedLines(t *testing.T) {
	cases := map[string]string{
		"continuation first": "  dangling\nD: Base\n",
		"field before marker": "R: a <a@x.com>\nD: Base\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAll(text, "D", testFields)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedLine)
			assert.NotErrorIs(t, err, ErrUnknownField)
		})
	}
}

func TestParseUnknownMarker(t *testing.T) {
	_, err := ParseAll("D: Base\n", "Q", testFields)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestParseIsRestartableAndDoesNotShareState(t *testing.T) {
	seq := Parse("D: a\nR: x <x@x.com>\nD: b\n", "D", testFields)
	first := collect(t, seq)
	second := collect(t, seq)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.False(t, first[1].Has("REVIEWER"))

	vals := first[0].Values("REVIEWER")
	vals[0] = "mutated"
	assert.Equal(t, "x <x@x.com>", first[0].Value("REVIEWER"))
}

func TestParseHandlesCRLF(t *testing.T) {
	got, err := ParseAll("D: Base\r\n  Layer\r\nD: Apps\r\n", "D", testFields)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Base Layer", got[0].Value("DOMAIN"))
}

func TestParseEmptyInput(t *testing.T) {
	got, err := ParseAll("\n\n", "D", testFields)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewFieldMapValidation(t *testing.T) {
	_, err := NewFieldMap(Field{Code: "D", Name: "DOMAIN"}, Field{Code: "D", Name: "OTHER"})
	assert.Error(t, err)
	_, err = NewFieldMap(Field{Code: "D", Name: "DOMAIN"}, Field{Code: "E", Name: "DOMAIN"})
	assert.Error(t, err)
	_, err = NewFieldMap(Field{Code: "D-1", Name: "DOMAIN"})
	assert.Error(t, err)
	_, err = NewFieldMap(Field{Code: "", Name: "DOMAIN"})
	assert.Error(t, err)

	m, err := NewFieldMap(Field{Code: "SL", Name: "SUBDOMAIN_LEADER", Repeatable: true})
	require.NoError(t, err)
	assert.Equal(t, "SUBDOMAIN_LEADER", m.NameOf("SL"))
	assert.Equal(t, "", m.NameOf("XX"))
	require.Len(t, m.Fields(), 1)
	assert.True(t, m.Fields()[0].Repeatable)
}

func collect(t *testing.T, seq func(func(Block, error) bool)) []Block {
	t.Helper()
	var out []Block
	for block, err := range seq {
		require.NoError(t, err)
		out = append(out, block)
	}
	return out
}
