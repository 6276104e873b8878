package cypher

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType classifies a lexer token.
type TokenType int

const (
	// Keywords
	TokMatch TokenType = iota
	TokWhere
	TokReturn
	TokOrder
	TokBy
	TokLimit
	TokAnd
	TokOr
	TokAs
	TokDistinct
	TokCount
	TokContains
	TokStarts
	TokWith
	TokNot
	TokAsc
	TokDesc
	TokTrue
	TokFalse

	// Symbols
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokDash
	TokGT
	TokLT
	TokColon
	TokDot
	TokLBrace
	TokRBrace
	TokStar
	TokComma
	TokEQ
	TokNEQ
	TokRegex
	TokGTE
	TokLTE
	TokPipe
	TokDotDot

	// Literals
	TokIdent
	TokString
	TokNumber
	TokParam

	TokEOF
)

// Token is a single lexer token. Keywords carry their upper-cased Value
// and the spelling used in the query as Raw.
type Token struct {
	Type  TokenType
	Value string
	Raw   string
	Pos   int
}

// isKeyword reports whether t is a keyword token.
func (t Token) isKeyword() bool {
	return t.Type < TokLParen
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%d, %q, pos=%d)", t.Type, t.Value, t.Pos)
}

var keywords = map[string]TokenType{
	"MATCH":    TokMatch,
	"WHERE":    TokWhere,
	"RETURN":   TokReturn,
	"ORDER":    TokOrder,
	"BY":       TokBy,
	"LIMIT":    TokLimit,
	"AND":      TokAnd,
	"OR":       TokOr,
	"AS":       TokAs,
	"DISTINCT": TokDistinct,
	"COUNT":    TokCount,
	"CONTAINS": TokContains,
	"STARTS":   TokStarts,
	"WITH":     TokWith,
	"NOT":      TokNot,
	"ASC":      TokAsc,
	"DESC":     TokDesc,
	"TRUE":     TokTrue,
	"FALSE":    TokFalse,
}

var singleCharTokens = map[byte]TokenType{
	'(': TokLParen,
	')': TokRParen,
	'[': TokLBracket,
	']': TokRBracket,
	'{': TokLBrace,
	'}': TokRBrace,
	'*': TokStar,
	',': TokComma,
	'|': TokPipe,
	':': TokColon,
	'-': TokDash,
}

// Lexer tokenizes a Cypher query string.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// Lex tokenizes the input string into a slice of tokens.
func Lex(input string) ([]Token, error) {
	l := &Lexer{input: input}
	if err := l.tokenize(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *Lexer) tokenize() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		if l.skipWhitespaceAndComments(ch) {
			continue
		}

		if err := l.lexNextToken(ch); err != nil {
			return err
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokEOF, Pos: l.pos})
	return nil
}

func (l *Lexer) skipWhitespaceAndComments(ch byte) bool {
	if unicode.IsSpace(rune(ch)) {
		l.pos++
		return true
	}
	if ch == '/' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '/' {
		for l.pos < len(l.input) && l.input[l.pos] != '\n' {
			l.pos++
		}
		return true
	}
	return false
}

func (l *Lexer) lexNextToken(ch byte) error {
	if tok, ok := singleCharTokens[ch]; ok {
		l.emit(tok, string(ch))
		l.pos++
		return nil
	}

	switch {
	case ch == '.':
		l.lexTwoChar('.', TokDotDot, TokDot, ".")
	case ch == '>':
		l.lexTwoChar('=', TokGTE, TokGT, ">")
	case ch == '<':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '>' {
			l.emit(TokNEQ, "<>")
			l.pos += 2
			return nil
		}
		l.lexTwoChar('=', TokLTE, TokLT, "<")
	case ch == '=':
		l.lexTwoChar('~', TokRegex, TokEQ, "=")
	case ch == '"' || ch == '\'':
		return l.lexString(ch)
	case ch == '$':
		return l.lexParam()
	case isDigit(ch):
		l.lexNumber()
	case isIdentStart(ch):
		l.lexIdent()
	case ch == '`':
		return l.lexQuotedIdent()
	default:
		return fmt.Errorf("unexpected char %q at pos %d", string(ch), l.pos)
	}
	return nil
}

func (l *Lexer) lexTwoChar(second byte, compoundTok, singleTok TokenType, singleVal string) {
	if l.pos+1 < len(l.input) && l.input[l.pos+1] == second {
		l.emit(compoundTok, singleVal+string(second))
		l.pos += 2
	} else {
		l.emit(singleTok, singleVal)
		l.pos++
	}
}

func (l *Lexer) emit(typ TokenType, val string) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: val, Pos: l.pos})
}

func (l *Lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			sb.WriteByte(l.input[l.pos])
			l.pos++
			continue
		}
		if ch == quote {
			l.tokens = append(l.tokens, Token{Type: TokString, Value: sb.String(), Pos: start})
			l.pos++
			return nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return fmt.Errorf("unterminated string at pos %d", start)
}

func (l *Lexer) lexParam() error {
	start := l.pos
	l.pos++
	if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
		return fmt.Errorf("expected parameter name at pos %d", start)
	}
	begin := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	l.tokens = append(l.tokens, Token{Type: TokParam, Value: l.input[begin:l.pos], Pos: start})
	return nil
}

func (l *Lexer) lexQuotedIdent() error {
	start := l.pos
	end := strings.IndexByte(l.input[l.pos+1:], '`')
	if end < 0 {
		return fmt.Errorf("unterminated identifier at pos %d", start)
	}
	l.tokens = append(l.tokens, Token{Type: TokIdent, Value: l.input[l.pos+1 : l.pos+1+end], Pos: start})
	l.pos += end + 2
	return nil
}

func (l *Lexer) lexNumber() {
	start := l.pos
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	// A decimal point, but not the ".." range operator.
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	l.tokens = append(l.tokens, Token{Type: TokNumber, Value: l.input[start:l.pos], Pos: start})
}

func (l *Lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	upper := strings.ToUpper(word)
	if tok, ok := keywords[upper]; ok {
		l.tokens = append(l.tokens, Token{Type: tok, Value: upper, Raw: word, Pos: start})
	} else {
		l.tokens = append(l.tokens, Token{Type: TokIdent, Value: word, Raw: word, Pos: start})
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
