// Package sizeexpr parses the small arithmetic expressions accepted by the
// erase and image flags: integers, + - * / ( ), and an optional binary-unit
// suffix (K, M, G, optionally written KiB/MB/etc). The grammar is deliberately
// narrow; it is not a general expression evaluator.
package sizeexpr

import (
	"fmt"
	"strings"
)

const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
)

// ParseError reports a malformed expression. It is always raised before any
// device is touched.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Input, e.Reason)
}

// ParseSize evaluates an expression with an optional unit suffix and returns
// the byte count. The result must be positive.
func ParseSize(input string) (int64, error) {
	expr, mult, err := splitSuffix(input)
	if err != nil {
		return 0, err
	}
	n, err := eval(input, expr)
	if err != nil {
		return 0, err
	}
	n, ok := mul64(n, mult)
	if !ok {
		return 0, &ParseError{Input: input, Reason: "size overflows"}
	}
	if n <= 0 {
		return 0, &ParseError{Input: input, Reason: "size must be positive"}
	}
	return n, nil
}

// ParsePasses evaluates a pass-count expression. No unit suffix is accepted
// and the result must be at least 1.
func ParsePasses(input string) (int, error) {
	n, err := eval(input, strings.TrimSpace(input))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, &ParseError{Input: input, Reason: "passes must be a positive integer"}
	}
	return int(n), nil
}

// splitSuffix peels a trailing K/M/G unit (with optional iB/B tail) off the
// expression and returns the multiplier.
func splitSuffix(input string) (expr string, mult int64, err error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", 0, &ParseError{Input: input, Reason: "empty expression"}
	}
	lower := strings.ToLower(s)
	for _, tail := range []string{"ib", "b", ""} {
		for unit, m := range map[string]int64{"k": KiB, "m": MiB, "g": GiB} {
			suffix := unit + tail
			if strings.HasSuffix(lower, suffix) {
				head := strings.TrimSpace(s[:len(s)-len(suffix)])
				if head == "" {
					return "", 0, &ParseError{Input: input, Reason: "missing number before unit"}
				}
				// Reject things like "1kb" matched as "1k"+"b" leftovers; the
				// outer loop ordering (ib, b, bare) makes the match maximal.
				return head, m, nil
			}
		}
	}
	return s, 1, nil
}

// eval runs a recursive-descent evaluation over expr. input is carried only
// for error messages.
func eval(input, expr string) (int64, error) {
	p := &parser{input: input, src: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, &ParseError{Input: input, Reason: fmt.Sprintf("unexpected %q", p.src[p.pos:])}
	}
	return v, nil
}

type parser struct {
	input string
	src   string
	pos   int
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Input: p.input, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

// expr := term (('+'|'-') term)*
func (p *parser) parseExpr() (int64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			v, ok = add64(v, rhs)
		} else {
			v, ok = sub64(v, rhs)
		}
		if !ok {
			return 0, p.errf("result overflows")
		}
	}
}

// term := factor (('*'|'/') factor)*
func (p *parser) parseTerm() (int64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			var ok bool
			if v, ok = mul64(v, rhs); !ok {
				return 0, p.errf("result overflows")
			}
		} else {
			if rhs == 0 {
				return 0, p.errf("division by zero")
			}
			v /= rhs
		}
	}
}

// factor := number | '(' expr ')'
func (p *parser) parseFactor() (int64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, p.errf("unexpected end of expression")
	}
	if c == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, p.errf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	if c < '0' || c > '9' {
		return 0, p.errf("unexpected %q", string(c))
	}
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	var v int64
	for _, d := range p.src[start:p.pos] {
		var ok bool
		if v, ok = mul64(v, 10); ok {
			v, ok = add64(v, int64(d-'0'))
		}
		if !ok {
			return 0, p.errf("number overflows")
		}
	}
	return v, nil
}

func add64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

func sub64(a, b int64) (int64, bool) {
	c := a - b
	if (b > 0 && c > a) || (b < 0 && c < a) {
		return 0, false
	}
	return c, true
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}
