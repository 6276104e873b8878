package cypher

import (
	"fmt"
	"strconv"
)

// Parser converts a token stream into a Query.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a Cypher query string.
func Parse(input string) (*Query, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}
	p := &Parser{tokens: tokens}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Type != TokEOF {
		return nil, fmt.Errorf("unexpected %q at pos %d", t.Value, t.Pos)
	}
	return q, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	t := p.peek()
	p.pos++
	return t
}

func (p *Parser) accept(typ TokenType) bool {
	if p.peek().Type == typ {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType, what string) (Token, error) {
	t := p.advance()
	if t.Type != typ {
		return t, fmt.Errorf("expected %s, got %q at pos %d", what, t.Value, t.Pos)
	}
	return t, nil
}

// expectName reads a label, relationship type or property key. Keywords
// are names in these positions, so `:Contains` is the Contains type.
func (p *Parser) expectName(what string) (Token, error) {
	t := p.advance()
	switch {
	case t.Type == TokIdent:
		return t, nil
	case t.isKeyword():
		return Token{Type: TokIdent, Value: t.Raw, Raw: t.Raw, Pos: t.Pos}, nil
	}
	return t, fmt.Errorf("expected %s, got %q at pos %d", what, t.Value, t.Pos)
}

func (p *Parser) parseQuery() (*Query, error) {
	if _, err := p.expect(TokMatch, "MATCH"); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, fmt.Errorf("match pattern: %w", err)
	}
	q := &Query{Match: &MatchClause{Pattern: pat}}

	if p.accept(TokWhere) {
		if q.Where, err = p.parseWhere(); err != nil {
			return nil, err
		}
	}
	if p.accept(TokReturn) {
		if q.Return, err = p.parseReturn(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (p *Parser) parsePattern() (*Pattern, error) {
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pat := &Pattern{Elements: []PatternElement{node}}

	for t := p.peek().Type; t == TokDash || t == TokLT; t = p.peek().Type {
		rel, err := p.parseRelPattern()
		if err != nil {
			return nil, err
		}
		next, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		pat.Elements = append(pat.Elements, rel, next)
	}
	return pat, nil
}

// parseRelPattern reads -[...]->, <-[...]- or -[...]-.
func (p *Parser) parseRelPattern() (*RelPattern, error) {
	rel := &RelPattern{MinHops: 1, MaxHops: 1}

	leading := p.accept(TokLT)
	if _, err := p.expect(TokDash, "'-' in relationship"); err != nil {
		return nil, err
	}
	if p.accept(TokLBracket) {
		if err := p.parseRelBracket(rel); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokDash, "'-' after relationship"); err != nil {
		return nil, err
	}
	trailing := p.accept(TokGT)

	switch {
	case leading && trailing:
		return nil, fmt.Errorf("relationship cannot point both ways at pos %d", p.peek().Pos)
	case trailing:
		rel.Direction = Outbound
	case leading:
		rel.Direction = Inbound
	default:
		rel.Direction = Any
	}
	return rel, nil
}

func (p *Parser) parseRelBracket(rel *RelPattern) error {
	if p.peek().Type == TokIdent {
		rel.Variable = p.advance().Value
	}

	if p.accept(TokColon) {
		for {
			t, err := p.expectName("relationship type")
			if err != nil {
				return err
			}
			rel.Types = append(rel.Types, t.Value)
			if !p.accept(TokPipe) {
				break
			}
			p.accept(TokColon)
		}
	}

	if p.accept(TokStar) {
		rel.MinHops, rel.MaxHops = p.parseHopRange()
	}

	_, err := p.expect(TokRBracket, "']' to close relationship")
	return err
}

// parseHopRange reads the part after '*'. A max of 0 means unbounded.
func (p *Parser) parseHopRange() (minHops, maxHops int) {
	minHops = 1
	if p.peek().Type == TokNumber {
		n, _ := strconv.Atoi(p.advance().Value)
		if !p.accept(TokDotDot) {
			return 1, n
		}
		minHops = n
	} else if !p.accept(TokDotDot) {
		return 1, 0
	}
	if p.peek().Type == TokNumber {
		maxHops, _ = strconv.Atoi(p.advance().Value)
	}
	return minHops, maxHops
}

func (p *Parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(TokLParen, "'(' for node pattern"); err != nil {
		return nil, err
	}
	node := &NodePattern{}

	if p.peek().Type == TokIdent {
		node.Variable = p.advance().Value
	}
	if p.accept(TokColon) {
		t, err := p.expectName("label name after ':'")
		if err != nil {
			return nil, err
		}
		node.Label = t.Value
	}
	if p.accept(TokLBrace) {
		props, err := p.parseInlineProps()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}

	if _, err := p.expect(TokRParen, "')' to close node pattern"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *Parser) parseInlineProps() (map[string]Value, error) {
	props := make(map[string]Value)
	for !p.accept(TokRBrace) {
		if len(props) > 0 {
			if _, err := p.expect(TokComma, "',' between properties"); err != nil {
				return nil, err
			}
		}
		key, err := p.expectName("property key")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokColon, "':' after property key"); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key.Value, err)
		}
		props[key.Value] = v
	}
	return props, nil
}

func (p *Parser) parseValue() (Value, error) {
	t := p.advance()
	switch t.Type {
	case TokString:
		return Value{Literal: t.Value}, nil
	case TokNumber:
		if i, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			return Value{Literal: i}, nil
		}
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", t.Value)
		}
		return Value{Literal: f}, nil
	case TokTrue:
		return Value{Literal: true}, nil
	case TokFalse:
		return Value{Literal: false}, nil
	case TokParam:
		return Value{Param: t.Value}, nil
	case TokDash:
		v, err := p.parseValue()
		if err != nil {
			return v, err
		}
		switch n := v.Literal.(type) {
		case int64:
			return Value{Literal: -n}, nil
		case float64:
			return Value{Literal: -n}, nil
		}
		return Value{}, fmt.Errorf("expected number after '-' at pos %d", t.Pos)
	}
	return Value{}, fmt.Errorf("expected value, got %q at pos %d", t.Value, t.Pos)
}

func (p *Parser) parseWhere() (*WhereClause, error) {
	w := &WhereClause{Operator: "AND"}
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		w.Conditions = append(w.Conditions, cond)

		switch {
		case p.accept(TokAnd):
		case p.accept(TokOr):
			w.Operator = "OR"
		default:
			return w, nil
		}
	}
}

var comparisonOps = map[TokenType]string{
	TokEQ:       "=",
	TokNEQ:      "<>",
	TokRegex:    "=~",
	TokGT:       ">",
	TokLT:       "<",
	TokGTE:      ">=",
	TokLTE:      "<=",
	TokContains: "CONTAINS",
}

func (p *Parser) parseCondition() (Condition, error) {
	c := Condition{Negate: p.accept(TokNot)}

	v, err := p.expect(TokIdent, "variable name in condition")
	if err != nil {
		return c, err
	}
	c.Variable = v.Value
	if _, err := p.expect(TokDot, "'.' after variable in condition"); err != nil {
		return c, err
	}
	prop, err := p.expectName("property name in condition")
	if err != nil {
		return c, err
	}
	c.Property = prop.Value

	op := p.advance()
	if name, ok := comparisonOps[op.Type]; ok {
		c.Operator = name
	} else if op.Type == TokStarts {
		if _, err := p.expect(TokWith, "WITH after STARTS"); err != nil {
			return c, err
		}
		c.Operator = "STARTS WITH"
	} else {
		return c, fmt.Errorf("expected comparison operator, got %q at pos %d", op.Value, op.Pos)
	}

	c.Value, err = p.parseValue()
	return c, err
}

func (p *Parser) parseReturn() (*ReturnClause, error) {
	r := &ReturnClause{OrderDir: "ASC", Distinct: p.accept(TokDistinct)}

	for {
		item, err := p.parseReturnItem()
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, item)
		if !p.accept(TokComma) {
			break
		}
	}

	if p.accept(TokOrder) {
		if _, err := p.expect(TokBy, "BY after ORDER"); err != nil {
			return nil, err
		}
		field, err := p.expect(TokIdent, "field name for ORDER BY")
		if err != nil {
			return nil, err
		}
		r.OrderBy = field.Value
		if p.accept(TokDot) {
			prop, err := p.expectName("property after '.'")
			if err != nil {
				return nil, err
			}
			r.OrderBy += "." + prop.Value
		}
		if p.accept(TokDesc) {
			r.OrderDir = "DESC"
		} else {
			p.accept(TokAsc)
		}
	}

	if p.accept(TokLimit) {
		n, err := p.expect(TokNumber, "number after LIMIT")
		if err != nil {
			return nil, err
		}
		r.Limit, _ = strconv.Atoi(n.Value)
	}
	return r, nil
}

func (p *Parser) parseReturnItem() (ReturnItem, error) {
	item := ReturnItem{}

	if p.accept(TokCount) {
		item.Func = "COUNT"
		if _, err := p.expect(TokLParen, "'(' after COUNT"); err != nil {
			return item, err
		}
		v, err := p.expect(TokIdent, "variable in COUNT()")
		if err != nil {
			return item, err
		}
		item.Variable = v.Value
		if _, err := p.expect(TokRParen, "')' after COUNT variable"); err != nil {
			return item, err
		}
	} else {
		v, err := p.expect(TokIdent, "variable in RETURN item")
		if err != nil {
			return item, err
		}
		item.Variable = v.Value
		if p.accept(TokDot) {
			prop, err := p.expectName("property after '.'")
			if err != nil {
				return item, err
			}
			item.Property = prop.Value
		}
	}

	if p.accept(TokAs) {
		alias, err := p.expect(TokIdent, "alias after AS")
		if err != nil {
			return item, err
		}
		item.Alias = alias.Value
	}
	return item, nil
}
