package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lyzr/planrunner/common/planerr"
)

// parser is a hand-written recursive-descent parser over the closed grammar
// in spec.md §4.3. Precedence, low to high: or, and, not, comparison,
// unary minus, primary.
type parser struct {
	toks []token
	pos  int
}

// Parse compiles expr into an AST, or returns a planerr.CodeUnsafeExpression
// error for anything outside the grammar.
func Parse(expr string) (Expr, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, planerr.Wrap(planerr.CodeUnsafeExpression, err, fmt.Sprintf("invalid guard expression %q", expr))
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, planerr.Wrap(planerr.CodeUnsafeExpression, err, fmt.Sprintf("invalid guard expression %q", expr))
	}
	if p.peek().kind != tokEOF {
		return nil, planerr.New(planerr.CodeUnsafeExpression, fmt.Sprintf("unexpected trailing input in guard expression %q", expr))
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = BinaryExpr{Op: "or", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = BinaryExpr{Op: "and", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().kind == tokNot {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.advance().text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: op, L: l, R: r}, nil
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokMinus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		if t.num == float64(int64(t.num)) {
			return Literal{Value: int64(t.num)}, nil
		}
		return Literal{Value: t.num}, nil
	case tokString:
		p.advance()
		return Literal{Value: t.text}, nil
	case tokTrue:
		p.advance()
		return Literal{Value: true}, nil
	case tokFalse:
		p.advance()
		return Literal{Value: false}, nil
	case tokNull:
		p.advance()
		return Literal{Value: nil}, nil
	case tokLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		p.advance()
		return e, nil
	case tokIdent:
		return p.parsePath()
	default:
		return nil, fmt.Errorf("unexpected token in expression")
	}
}

// parsePath builds a PathExpr from an identifier followed by any run of
// `.member` or `[index]` accessors, flattened to a dotted string.
func (p *parser) parsePath() (Expr, error) {
	var segs []string
	segs = append(segs, p.advance().text)

	for {
		switch p.peek().kind {
		case tokDot:
			p.advance()
			if p.peek().kind != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.'")
			}
			segs = append(segs, p.advance().text)
		case tokLBracket:
			p.advance()
			if p.peek().kind != tokNumber {
				return nil, fmt.Errorf("expected integer index in '[...]'")
			}
			idx := p.advance().num
			segs = append(segs, strconv.Itoa(int(idx)))
			if p.peek().kind != tokRBracket {
				return nil, fmt.Errorf("expected ']'")
			}
			p.advance()
		default:
			return PathExpr{Path: strings.Join(segs, ".")}, nil
		}
	}
}
