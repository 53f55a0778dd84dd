package httpsig

import (
	"errors"
	"strings"
)

// errMalformedParams is the only parse failure ever surfaced; raw parser
// diagnostics are never exposed to callers.
var errMalformedParams = errors.New("could not parse signature parameters")

// legacyPrefix is emitted by some older clients that prepend the header
// scheme name to the parameter list.
const legacyPrefix = "Signature "

// ParseSignatureHeader parses a raw Signature header into its parameter
// map. The grammar is a comma-separated list of key=value pairs with
// optional whitespace; values are bare tokens or double-quoted strings with
// backslash escapes. Empty input, trailing garbage, unterminated quotes and
// keys without '=' are all rejected with the same generic error.
func ParseSignatureHeader(raw string) (Params, error) {
	raw = strings.TrimPrefix(raw, legacyPrefix)

	p := &paramParser{input: raw}
	params, err := p.parse()
	if err != nil {
		return nil, errMalformedParams
	}
	return params, nil
}

type paramParser struct {
	input string
	pos   int
}

var errSyntax = errors.New("syntax error")

func (p *paramParser) parse() (Params, error) {
	params := make(Params)

	p.skipSpace()
	if p.done() {
		return nil, errSyntax
	}

	for {
		key, err := p.readKey()
		if err != nil {
			return nil, err
		}
		value, err := p.readValue()
		if err != nil {
			return nil, err
		}
		params[key] = value

		p.skipSpace()
		if p.done() {
			return params, nil
		}
		if !p.consume(',') {
			return nil, errSyntax // trailing garbage after a parameter
		}
		p.skipSpace()
	}
}

// readKey consumes a parameter name up to and including '='.
func (p *paramParser) readKey() (string, error) {
	start := p.pos
	for !p.done() && isTokenChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", errSyntax
	}
	key := p.input[start:p.pos]
	p.skipSpace()
	if !p.consume('=') {
		return "", errSyntax // key with no '='
	}
	return key, nil
}

func (p *paramParser) readValue() (string, error) {
	p.skipSpace()
	if p.done() {
		return "", errSyntax
	}
	if p.input[p.pos] == '"' {
		return p.readQuoted()
	}
	return p.readToken()
}

func (p *paramParser) readQuoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.done() {
		c := p.input[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\\':
			p.pos++
			if p.done() {
				return "", errSyntax
			}
			b.WriteByte(p.input[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", errSyntax // unterminated quoted string
}

func (p *paramParser) readToken() (string, error) {
	start := p.pos
	for !p.done() && isTokenChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", errSyntax
	}
	return p.input[start:p.pos], nil
}

func (p *paramParser) skipSpace() {
	for !p.done() && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *paramParser) consume(c byte) bool {
	if p.done() || p.input[p.pos] != c {
		return false
	}
	p.pos++
	return true
}

func (p *paramParser) done() bool { return p.pos >= len(p.input) }

// isTokenChar matches the bare-token character set: anything except
// separators, quotes and whitespace.
func isTokenChar(c byte) bool {
	switch c {
	case ' ', '\t', ',', '"', '=':
		return false
	}
	return c > 0x20 && c < 0x7f
}
