// Package cypher - lexer.
package cypher

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent           // bare identifier or keyword
	tokInt             // integer literal
	tokFloat           // float literal
	tokString          // quoted string literal, Text holds the decoded value
	tokParam           // $name, Text holds name
	tokSymbol          // punctuation and operators, Text holds the exact symbol
)

// token is one lexical unit with its byte offset in the query text.
type token struct {
	Kind tokenKind
	Text string
	Pos  int
}

// isKeyword matches case-insensitively against a Cypher keyword.
func (t token) isKeyword(kw string) bool {
	return t.Kind == tokIdent && strings.EqualFold(t.Text, kw)
}

func (t token) isSymbol(sym string) bool {
	return t.Kind == tokSymbol && t.Text == sym
}

// lexer tokenizes Cypher text. It is a plain byte scanner; multi-byte
// runes are only valid inside string literals and identifiers.
type lexer struct {
	src    string
	pos    int
	tokens []token
}

// lex scans the whole input up front. Queries are short; one slice of
// tokens is simpler than a streaming scanner and lets the parser peek
// freely.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.Kind == tokEOF {
			return l.tokens, nil
		}
	}
}

// multi-character symbols, longest first so ".." beats "." and "<=" beats "<".
var multiSymbols = []string{"<=", ">=", "<>", "..", "+=", "->", "<-"}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{Kind: tokEOF, Pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '\'' || c == '"':
		return l.scanString(c)
	case c >= '0' && c <= '9':
		return l.scanNumber()
	case c == '$':
		l.pos++
		id := l.scanIdentText()
		if id == "" {
			return token{}, syntaxErrorf(start, "$", "expected parameter name after '$'")
		}
		return token{Kind: tokParam, Text: id, Pos: start}, nil
	case c == '`':
		return l.scanBacktickIdent()
	case isIdentStart(rune(c)) || c >= utf8.RuneSelf:
		id := l.scanIdentText()
		return token{Kind: tokIdent, Text: id, Pos: start}, nil
	}

	for _, sym := range multiSymbols {
		if strings.HasPrefix(l.src[l.pos:], sym) {
			l.pos += len(sym)
			return token{Kind: tokSymbol, Text: sym, Pos: start}, nil
		}
	}

	switch c {
	case '(', ')', '[', ']', '{', '}', ',', ':', '.', '+', '-', '*', '/', '%', '=', '<', '>', '|':
		l.pos++
		return token{Kind: tokSymbol, Text: string(c), Pos: start}, nil
	}
	return token{}, syntaxErrorf(start, string(c), "unexpected character")
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		// Line comments.
		if c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) scanString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{Kind: tokString, Text: b.String(), Pos: start}, nil
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, syntaxErrorf(start, "", "unterminated string literal")
			}
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(esc)
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, syntaxErrorf(start, "", "unterminated string literal")
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
	kind := tokInt
	// A '.' starts a fraction only when followed by a digit; "1..3" is a
	// range in variable-length patterns, not a float.
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
		kind = tokFloat
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		mark := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			kind = tokFloat
			for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
				l.pos++
			}
		} else {
			l.pos = mark
		}
	}
	return token{Kind: kind, Text: l.src[start:l.pos], Pos: start}, nil
}

func (l *lexer) scanIdentText() string {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(r) {
			break
		}
		l.pos += size
	}
	return l.src[start:l.pos]
}

func (l *lexer) scanBacktickIdent() (token, error) {
	start := l.pos
	l.pos++ // opening backtick
	idStart := l.pos
	for l.pos < len(l.src) {
		if l.src[l.pos] == '`' {
			text := l.src[idStart:l.pos]
			l.pos++
			return token{Kind: tokIdent, Text: text, Pos: start}, nil
		}
		l.pos++
	}
	return token{}, syntaxErrorf(start, "`", "unterminated backtick identifier")
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
