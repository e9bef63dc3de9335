package sqlsafe

import "strings"

// Lexer tokenizes SQL input. String literals and comments are handled here so
// the validator never has to pattern-match inside them.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// Scan tokenizes the whole input.
func Scan(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TOKEN_EOF {
			return toks
		}
	}
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	var tok Token

	switch l.ch {
	case 0:
		return Token{Type: TOKEN_EOF}
	case '(':
		tok = Token{Type: TOKEN_LPAREN, Literal: "("}
	case ')':
		tok = Token{Type: TOKEN_RPAREN, Literal: ")"}
	case ',':
		tok = Token{Type: TOKEN_COMMA, Literal: ","}
	case '.':
		tok = Token{Type: TOKEN_DOT, Literal: "."}
	case ';':
		tok = Token{Type: TOKEN_SEMICOLON, Literal: ";"}
	case '*':
		tok = Token{Type: TOKEN_STAR, Literal: "*"}
	case '?':
		tok = Token{Type: TOKEN_PARAM, Literal: "?"}
	case '\'':
		lit := l.readString()
		return Token{Type: TOKEN_STRING, Literal: lit, Lower: lit}
	case '"':
		lit := l.readQuotedIdentifier()
		return Token{Type: TOKEN_IDENT, Literal: lit, Lower: strings.ToLower(lit), Quoted: true}
	case '=', '+', '-', '/', '%', '^', '~', '&':
		tok = Token{Type: TOKEN_OP, Literal: string(l.ch)}
	case '<':
		switch l.peekChar() {
		case '=', '>', '<':
			op := string(l.ch) + string(l.peekChar())
			l.readChar()
			tok = Token{Type: TOKEN_OP, Literal: op}
		default:
			tok = Token{Type: TOKEN_OP, Literal: "<"}
		}
	case '>':
		switch l.peekChar() {
		case '=', '>':
			op := string(l.ch) + string(l.peekChar())
			l.readChar()
			tok = Token{Type: TOKEN_OP, Literal: op}
		default:
			tok = Token{Type: TOKEN_OP, Literal: ">"}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TOKEN_OP, Literal: "!="}
		} else {
			tok = Token{Type: TOKEN_ILLEGAL, Literal: string(l.ch)}
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = Token{Type: TOKEN_OP, Literal: "||"}
		} else {
			tok = Token{Type: TOKEN_OP, Literal: "|"}
		}
	case ':':
		if l.peekChar() == ':' {
			l.readChar()
			tok = Token{Type: TOKEN_OP, Literal: "::"}
		} else {
			tok = Token{Type: TOKEN_ILLEGAL, Literal: ":"}
		}
	case '$':
		l.readChar()
		start := l.pos
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		return Token{Type: TOKEN_PARAM, Literal: "$" + l.input[start:l.pos]}
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			lit := l.readIdentifier()
			lower := strings.ToLower(lit)
			return Token{Type: lookupWord(lower), Literal: lit, Lower: lower}
		case isDigit(l.ch):
			lit := l.readNumber()
			return Token{Type: TOKEN_NUMBER, Literal: lit, Lower: lit}
		default:
			tok = Token{Type: TOKEN_ILLEGAL, Literal: string(l.ch)}
		}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			if l.ch == 0 {
				return
			}
		default:
			return
		}
	}
}

// readString reads a single-quoted string literal. A doubled quote ('') is
// the SQL escape for a literal quote.
func (l *Lexer) readString() string {
	var b strings.Builder
	l.readChar() // skip opening quote
	for {
		if l.ch == 0 {
			break // unterminated string: treat remainder as the literal
		}
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				b.WriteByte('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			break
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return b.String()
}

// readQuotedIdentifier reads a double-quoted identifier. A doubled quote ("")
// escapes a literal quote.
func (l *Lexer) readQuotedIdentifier() string {
	var b strings.Builder
	l.readChar() // skip opening quote
	for {
		if l.ch == 0 {
			break
		}
		if l.ch == '"' {
			if l.peekChar() == '"' {
				b.WriteByte('"')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			break
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return b.String()
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' {
		if (l.ch == 'e' || l.ch == 'E') && (l.peekChar() == '+' || l.peekChar() == '-') {
			l.readChar()
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
