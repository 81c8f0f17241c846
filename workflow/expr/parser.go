package expr

import (
	"strconv"

	"github.com/BaSui01/flowcore/types"
)

// parse turns source text into a syntax tree. It performs no policy checks;
// see validate for those.
func parse(src string) (Node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.errorf(t, "unexpected token %q", t.value)
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	if t.kind == tkEOF {
		return types.NewError(types.ErrEvaluation, "unexpected end of expression")
	}
	return types.Errorf(types.ErrEvaluation, format+" at position %d", append(args, t.pos)...)
}

func (p *parser) expect(kind tokenKind, value string) error {
	t := p.peek()
	if t.kind != kind {
		return p.errorf(t, "expected %q, got %q", value, t.value)
	}
	p.advance()
	return nil
}

// parseOr handles: a || b, a or b
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is(tkOp, "||") && !t.is(tkIdent, "or") {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{At: t.pos, Op: "||", Left: left, Right: right}
	}
}

// parseAnd handles: a && b, a and b
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is(tkOp, "&&") && !t.is(tkIdent, "and") {
			return left, nil
		}
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{At: t.pos, Op: "&&", Left: left, Right: right}
	}
}

// parseNot handles the keyword form: not a
func (p *parser) parseNot() (Node, error) {
	if t := p.peek(); t.is(tkIdent, "not") {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{At: t.pos, Op: "!", X: x}, nil
	}
	return p.parseCompare()
}

// compareOp reports the comparison operator at the cursor and how many tokens it spans.
func (p *parser) compareOp() (string, int) {
	t := p.peek()
	switch {
	case t.kind == tkOp:
		switch t.value {
		case "==", "!=", "<", "<=", ">", ">=":
			return t.value, 1
		}
	case t.is(tkIdent, "in"):
		return "in", 1
	case t.is(tkIdent, "not") && p.peekAt(1).is(tkIdent, "in"):
		return "not in", 2
	}
	return "", 0
}

// parseCompare handles: a == b, a < b <= c, a in b, a not in b
func (p *parser) parseCompare() (Node, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, width := p.compareOp()
	if width == 0 {
		return first, nil
	}

	cmp := &Compare{At: p.peek().pos, Operands: []Node{first}}
	for width > 0 {
		p.pos += width
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Operands = append(cmp.Operands, right)
		op, width = p.compareOp()
	}
	return cmp, nil
}

// parseAdditive handles: a + b, a - b
func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is(tkOp, "+") && !t.is(tkOp, "-") {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{At: t.pos, Op: t.value, Left: left, Right: right}
	}
}

// parseMultiplicative handles: a * b, a / b, a % b
func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.is(tkOp, "**") {
			return nil, p.errorf(t, "unsupported operator %q", t.value)
		}
		if t.kind != tkOp || (t.value != "*" && t.value != "/" && t.value != "%") {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{At: t.pos, Op: t.value, Left: left, Right: right}
	}
}

// parseUnary handles: -a, +a, !a
func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.kind == tkOp && (t.value == "-" || t.value == "+" || t.value == "!") {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{At: t.pos, Op: t.value, X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles: a.b, a[b], f(args)
func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch t.kind {
		case tkDot:
			p.advance()
			name := p.peek()
			if name.kind != tkIdent {
				return nil, p.errorf(name, "expected attribute name, got %q", name.value)
			}
			p.advance()
			x = &Attr{At: t.pos, X: x, Name: name.value}
		case tkLBrack:
			p.advance()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tkRBrack, "]"); err != nil {
				return nil, err
			}
			x = &Index{At: t.pos, X: x, Index: idx}
		case tkLParen:
			p.advance()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &Call{At: t.pos, Fn: x, Args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs() ([]Node, error) {
	var args []Node
	for p.peek().kind != tkRParen {
		t := p.peek()
		var arg Node
		if t.kind == tkOp && (t.value == "*" || t.value == "**" || t.value == "...") {
			p.advance()
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			arg = &Spread{At: t.pos, X: x}
		} else {
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			arg = x
		}
		args = append(args, arg)
		if p.peek().kind != tkComma {
			break
		}
		p.advance()
	}
	if err := p.expect(tkRParen, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

// parsePrimary handles literals, identifiers, parenthesised expressions and lists.
func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tkInt:
		p.advance()
		v, err := strconv.ParseInt(t.value, 10, 64)
		if err != nil {
			// 超出 int64 范围时退化为浮点数
			f, ferr := strconv.ParseFloat(t.value, 64)
			if ferr != nil {
				return nil, p.errorf(t, "invalid number %q", t.value)
			}
			return &Literal{At: t.pos, Value: f}, nil
		}
		return &Literal{At: t.pos, Value: v}, nil

	case tkFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.value)
		}
		return &Literal{At: t.pos, Value: f}, nil

	case tkString:
		p.advance()
		return &Literal{At: t.pos, Value: t.value}, nil

	case tkIdent:
		if keywordOps[t.value] {
			return nil, p.errorf(t, "unexpected keyword %q", t.value)
		}
		p.advance()
		switch t.value {
		case "true", "True":
			return &Literal{At: t.pos, Value: true}, nil
		case "false", "False":
			return &Literal{At: t.pos, Value: false}, nil
		case "nil", "null", "none", "None":
			return &Literal{At: t.pos, Value: nil}, nil
		}
		return &Ident{At: t.pos, Name: t.value}, nil

	case tkLParen:
		p.advance()
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tkRParen, ")"); err != nil {
			return nil, err
		}
		return x, nil

	case tkLBrack:
		p.advance()
		list := &List{At: t.pos}
		for p.peek().kind != tkRBrack {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, item)
			if p.peek().kind != tkComma {
				break
			}
			p.advance()
		}
		if err := p.expect(tkRBrack, "]"); err != nil {
			return nil, err
		}
		return list, nil
	}

	return nil, p.errorf(t, "unexpected token %q", t.value)
}
