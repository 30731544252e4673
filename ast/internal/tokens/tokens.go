// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package tokens

// Token represents a single policy language token.
type Token int

func (t Token) String() string {
	if t < 0 || int(t) >= len(strings) {
		return "unknown"
	}
	return strings[t]
}

// All tokens must be defined here
const (
	Illegal Token = iota
	EOF
	Whitespace
	Ident
	Comment

	Not

	Number
	String

	LParen
	RParen
	Comma
	Colon
	Dot
	Assign
	If
	Add
	Sub
)

var strings = [...]string{
	Illegal:    "illegal",
	EOF:        "eof",
	Whitespace: "whitespace",
	Comment:    "comment",
	Ident:      "identifier",
	Not:        "not",
	Number:     "number",
	String:     "string",
	LParen:     "(",
	RParen:     ")",
	Comma:      ",",
	Colon:      ":",
	Dot:        ".",
	Assign:     "=",
	If:         ":-",
	Add:        "plus",
	Sub:        "minus",
}

var keywords = map[string]Token{
	"not": Not,
}

// Keyword will return a token for the passed in
// literal value. If the value is a policy language keyword
// then the appropriate token is returned. Everything else is
// an Ident.
func Keyword(lit string) Token {
	if tok, ok := keywords[lit]; ok {
		return tok
	}
	return Ident
}
