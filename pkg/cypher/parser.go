// Package cypher - recursive descent parser.
package cypher

import (
	"strconv"
	"strings"
)

// Parse lexes and parses one statement. The returned Statement is either a
// UNION chain of single queries or an admin (catalog) statement. Errors are
// always *SyntaxError with a byte position.
//
// The parser performs no semantic validation: unknown functions, unbound
// variables and column mismatches are the planner's responsibility.
func Parse(src string) (*Statement, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}

	if admin, ok, err := p.tryAdminStatement(); err != nil {
		return nil, err
	} else if ok {
		if err := p.expectEOF(); err != nil {
			return nil, err
		}
		return &Statement{Admin: admin}, nil
	}

	stmt := &Statement{}
	for {
		q, err := p.parseSingleQuery()
		if err != nil {
			return nil, err
		}
		stmt.Branches = append(stmt.Branches, q)

		if !p.peek().isKeyword("UNION") {
			break
		}
		p.advance()
		all := false
		if p.peek().isKeyword("ALL") {
			p.advance()
			all = true
		}
		stmt.UnionAll = append(stmt.UnionAll, all)
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return stmt, nil
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token  { return p.tokens[p.pos] }
func (p *parser) peek2() token { // one past current, EOF-safe
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectSymbol(sym string) error {
	t := p.peek()
	if !t.isSymbol(sym) {
		return syntaxErrorf(t.Pos, t.Text, "expected %q", sym)
	}
	p.advance()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	t := p.peek()
	if !t.isKeyword(kw) {
		return syntaxErrorf(t.Pos, t.Text, "expected %s", kw)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (token, error) {
	t := p.peek()
	if t.Kind != tokIdent {
		return token{}, syntaxErrorf(t.Pos, t.Text, "expected identifier")
	}
	p.advance()
	return t, nil
}

func (p *parser) expectEOF() error {
	t := p.peek()
	if t.Kind != tokEOF {
		return syntaxErrorf(t.Pos, t.Text, "unexpected input after statement")
	}
	return nil
}

// exprText slices the source text covered by tokens [from, to).
func (p *parser) exprText(from, to int) string {
	if from >= len(p.tokens) || from >= to {
		return ""
	}
	start := p.tokens[from].Pos
	end := len(p.src)
	if to < len(p.tokens) && p.tokens[to].Kind != tokEOF {
		end = p.tokens[to].Pos
	}
	return strings.TrimSpace(p.src[start:end])
}

// =============================================================================
// Admin statements
// =============================================================================

// tryAdminStatement recognizes the catalog statements that share the query
// entry point: CREATE INDEX, SHOW INDEXES, CREATE/DROP/SHOW FUNCTION.
func (p *parser) tryAdminStatement() (AdminStatement, bool, error) {
	t := p.peek()
	switch {
	case t.isKeyword("SHOW"):
		next := p.peek2()
		switch {
		case next.isKeyword("INDEXES") || next.isKeyword("INDEX"):
			p.advance()
			p.advance()
			return &ShowIndexesStatement{}, true, nil
		case next.isKeyword("FUNCTIONS"):
			p.advance()
			p.advance()
			return &ShowFunctionsStatement{}, true, nil
		}
		return nil, false, syntaxErrorf(next.Pos, next.Text, "expected INDEXES or FUNCTIONS after SHOW")

	case t.isKeyword("DROP"):
		p.advance()
		if err := p.expectKeyword("FUNCTION"); err != nil {
			return nil, false, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, false, err
		}
		return &DropFunctionStatement{Name: name.Text}, true, nil

	case t.isKeyword("CREATE"):
		next := p.peek2()
		if next.isKeyword("INDEX") {
			p.advance()
			p.advance()
			return p.parseCreateIndex()
		}
		if next.isKeyword("FUNCTION") {
			p.advance()
			p.advance()
			return p.parseCreateFunction()
		}
	}
	return nil, false, nil
}

func (p *parser) parseCreateIndex() (AdminStatement, bool, error) {
	stmt := &CreateIndexStatement{}
	if p.peek().isKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, false, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, false, err
		}
		stmt.IfNotExists = true
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, false, err
	}
	if err := p.expectSymbol(":"); err != nil {
		return nil, false, err
	}
	label, err := p.expectIdent()
	if err != nil {
		return nil, false, err
	}
	stmt.Label = label.Text
	if err := p.expectSymbol("("); err != nil {
		return nil, false, err
	}
	prop, err := p.expectIdent()
	if err != nil {
		return nil, false, err
	}
	stmt.Property = prop.Text
	if err := p.expectSymbol(")"); err != nil {
		return nil, false, err
	}
	return stmt, true, nil
}

func (p *parser) parseCreateFunction() (AdminStatement, bool, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, false, err
	}
	stmt := &CreateFunctionStatement{Name: name.Text}
	if err := p.expectSymbol("("); err != nil {
		return nil, false, err
	}
	for !p.peek().isSymbol(")") {
		arg, err := p.expectIdent()
		if err != nil {
			return nil, false, err
		}
		stmt.Args = append(stmt.Args, arg.Text)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, false, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, false, err
	}
	bodyStart := p.pos
	body, err := p.parseExpr()
	if err != nil {
		return nil, false, err
	}
	stmt.Body = body
	stmt.BodyText = p.exprText(bodyStart, p.pos)
	return stmt, true, nil
}

// =============================================================================
// Clauses
// =============================================================================

func (p *parser) parseSingleQuery() (*SingleQuery, error) {
	q := &SingleQuery{}
	for {
		t := p.peek()
		switch {
		case t.isKeyword("MATCH"):
			p.advance()
			c, err := p.parseMatch(false)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("OPTIONAL"):
			p.advance()
			if err := p.expectKeyword("MATCH"); err != nil {
				return nil, err
			}
			c, err := p.parseMatch(true)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("CREATE"):
			p.advance()
			c, err := p.parseCreate()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("MERGE"):
			p.advance()
			c, err := p.parseMerge()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("SET"):
			p.advance()
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, &SetClause{Items: items})
		case t.isKeyword("REMOVE"):
			p.advance()
			c, err := p.parseRemove()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("DELETE"):
			p.advance()
			c, err := p.parseDelete(false)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("DETACH"):
			p.advance()
			if err := p.expectKeyword("DELETE"); err != nil {
				return nil, err
			}
			c, err := p.parseDelete(true)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("UNWIND"):
			p.advance()
			c, err := p.parseUnwind()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("WITH"):
			p.advance()
			c, err := p.parseWith()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
		case t.isKeyword("RETURN"):
			p.advance()
			c, err := p.parseReturn()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
			return q, nil
		default:
			if len(q.Clauses) == 0 {
				return nil, syntaxErrorf(t.Pos, t.Text, "expected a clause keyword")
			}
			return q, nil
		}
	}
}

func (p *parser) parseMatch(optional bool) (*MatchClause, error) {
	c := &MatchClause{Optional: optional}
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		c.Patterns = append(c.Patterns, part)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if p.peek().isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = where
	}
	return c, nil
}

func (p *parser) parseCreate() (*CreateClause, error) {
	c := &CreateClause{}
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		c.Patterns = append(c.Patterns, part)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return c, nil
}

func (p *parser) parseMerge() (*MergeClause, error) {
	part, err := p.parsePatternPart()
	if err != nil {
		return nil, err
	}
	c := &MergeClause{Pattern: part}
	for p.peek().isKeyword("ON") {
		p.advance()
		t := p.peek()
		var branch *[]SetItem
		switch {
		case t.isKeyword("CREATE"):
			branch = &c.OnCreate
		case t.isKeyword("MATCH"):
			branch = &c.OnMatch
		default:
			return nil, syntaxErrorf(t.Pos, t.Text, "expected CREATE or MATCH after ON")
		}
		p.advance()
		if err := p.expectKeyword("SET"); err != nil {
			return nil, err
		}
		items, err := p.parseSetItems()
		if err != nil {
			return nil, err
		}
		*branch = append(*branch, items...)
	}
	return c, nil
}

func (p *parser) parseSetItems() ([]SetItem, error) {
	var items []SetItem
	for {
		item, err := p.parseSetItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		return items, nil
	}
}

func (p *parser) parseSetItem() (SetItem, error) {
	name, err := p.expectIdent()
	if err != nil {
		return SetItem{}, err
	}
	t := p.peek()
	switch {
	case t.isSymbol("."):
		// SET n.key[.key2...] = expr; nested keys resolve left to right.
		target := &PropertyExpr{Subject: &Variable{Name: name.Text, Pos: name.Pos}, Pos: t.Pos}
		p.advance()
		key, err := p.expectIdent()
		if err != nil {
			return SetItem{}, err
		}
		target.Key = key.Text
		for p.peek().isSymbol(".") {
			dot := p.advance()
			key, err := p.expectIdent()
			if err != nil {
				return SetItem{}, err
			}
			target = &PropertyExpr{Subject: target, Key: key.Text, Pos: dot.Pos}
		}
		if err := p.expectSymbol("="); err != nil {
			return SetItem{}, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return SetItem{}, err
		}
		return SetItem{Property: target, Value: value}, nil

	case t.isSymbol("+="):
		p.advance()
		value, err := p.parseExpr()
		if err != nil {
			return SetItem{}, err
		}
		return SetItem{Variable: name.Text, MapValue: value}, nil

	case t.isSymbol(":"):
		var labels []string
		for p.peek().isSymbol(":") {
			p.advance()
			label, err := p.expectIdent()
			if err != nil {
				return SetItem{}, err
			}
			labels = append(labels, label.Text)
		}
		return SetItem{Variable: name.Text, Labels: labels}, nil
	}
	return SetItem{}, syntaxErrorf(t.Pos, t.Text, "expected '.', '+=' or ':' in SET")
}

func (p *parser) parseRemove() (*RemoveClause, error) {
	c := &RemoveClause{}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		t := p.peek()
		switch {
		case t.isSymbol("."):
			p.advance()
			key, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			c.Items = append(c.Items, RemoveItem{
				Property: &PropertyExpr{Subject: &Variable{Name: name.Text, Pos: name.Pos}, Key: key.Text, Pos: t.Pos},
			})
		case t.isSymbol(":"):
			var labels []string
			for p.peek().isSymbol(":") {
				p.advance()
				label, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				labels = append(labels, label.Text)
			}
			c.Items = append(c.Items, RemoveItem{Variable: name.Text, Labels: labels})
		default:
			return nil, syntaxErrorf(t.Pos, t.Text, "expected '.' or ':' in REMOVE")
		}
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		return c, nil
	}
}

func (p *parser) parseDelete(detach bool) (*DeleteClause, error) {
	c := &DeleteClause{Detach: detach}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Exprs = append(c.Exprs, e)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		return c, nil
	}
}

func (p *parser) parseUnwind() (*UnwindClause, error) {
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	alias, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &UnwindClause{Expr: e, Alias: alias.Text}, nil
}

func (p *parser) parseWith() (*WithClause, error) {
	c := &WithClause{}
	if p.peek().isKeyword("DISTINCT") {
		p.advance()
		c.Distinct = true
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	c.OrderBy, c.Skip, c.Limit, err = p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	if p.peek().isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = where
	}
	return c, nil
}

func (p *parser) parseReturn() (*ReturnClause, error) {
	c := &ReturnClause{}
	if p.peek().isKeyword("DISTINCT") {
		p.advance()
		c.Distinct = true
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	c.OrderBy, c.Skip, c.Limit, err = p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseReturnItems() ([]*ReturnItem, error) {
	var items []*ReturnItem
	for {
		start := p.pos
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := &ReturnItem{Expr: e, Alias: p.exprText(start, p.pos)}
		if p.peek().isKeyword("AS") {
			p.advance()
			alias, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			item.Alias = alias.Text
		}
		items = append(items, item)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		return items, nil
	}
}

func (p *parser) parseOrderSkipLimit() ([]SortItem, Expr, Expr, error) {
	var orderBy []SortItem
	var skip, limit Expr

	if p.peek().isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			item := SortItem{Expr: e}
			t := p.peek()
			switch {
			case t.isKeyword("DESC") || t.isKeyword("DESCENDING"):
				p.advance()
				item.Desc = true
			case t.isKeyword("ASC") || t.isKeyword("ASCENDING"):
				p.advance()
			}
			orderBy = append(orderBy, item)
			if p.peek().isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.peek().isKeyword("SKIP") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		skip = e
	}
	if p.peek().isKeyword("LIMIT") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		limit = e
	}
	return orderBy, skip, limit, nil
}

// =============================================================================
// Patterns
// =============================================================================

func (p *parser) parsePatternPart() (*PatternPart, error) {
	part := &PatternPart{}
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	part.Nodes = append(part.Nodes, node)
	for {
		rel, ok, err := p.tryRelPattern()
		if err != nil {
			return nil, err
		}
		if !ok {
			return part, nil
		}
		next, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		part.Rels = append(part.Rels, rel)
		part.Nodes = append(part.Nodes, next)
	}
}

func (p *parser) parseNodePattern() (*NodePattern, error) {
	open := p.peek()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	node := &NodePattern{Pos: open.Pos}
	if p.peek().Kind == tokIdent && !p.peek().isKeyword("WHERE") {
		node.Variable = p.advance().Text
	}
	for p.peek().isSymbol(":") {
		p.advance()
		label, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		node.Labels = append(node.Labels, label.Text)
	}
	if p.peek().isSymbol("{") {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return node, nil
}

// tryRelPattern recognizes -[r:T]->, <-[r]-, -[]-, and the bare arrow
// forms -->, <--, --.
func (p *parser) tryRelPattern() (*RelPattern, bool, error) {
	t := p.peek()
	rel := &RelPattern{Pos: t.Pos, MinHops: 1, MaxHops: 1}

	switch {
	case t.isSymbol("<-"):
		rel.Direction = RelLeft
	case t.isSymbol("-"):
		rel.Direction = RelUndirected
	default:
		return nil, false, nil
	}
	p.advance()

	if p.peek().isSymbol("[") {
		p.advance()
		if p.peek().Kind == tokIdent {
			rel.Variable = p.advance().Text
		}
		if p.peek().isSymbol(":") {
			p.advance()
			relType, err := p.expectIdent()
			if err != nil {
				return nil, false, err
			}
			rel.Type = relType.Text
		}
		if p.peek().isSymbol("*") {
			p.advance()
			if err := p.parseHopRange(rel); err != nil {
				return nil, false, err
			}
		}
		if p.peek().isSymbol("{") {
			props, err := p.parsePropertyMap()
			if err != nil {
				return nil, false, err
			}
			rel.Props = props
		}
		if err := p.expectSymbol("]"); err != nil {
			return nil, false, err
		}
	}

	closing := p.peek()
	switch {
	case closing.isSymbol("->"):
		if rel.Direction == RelLeft {
			return nil, false, syntaxErrorf(closing.Pos, closing.Text, "relationship cannot point both ways")
		}
		rel.Direction = RelRight
		p.advance()
	case closing.isSymbol("-"):
		p.advance()
	default:
		return nil, false, syntaxErrorf(closing.Pos, closing.Text, "expected '-' or '->' to close relationship pattern")
	}
	return rel, true, nil
}

// parseHopRange handles the *, *n, *n..m, *..m, *n.. forms. The '*' has
// already been consumed.
func (p *parser) parseHopRange(rel *RelPattern) error {
	rel.VarLength = true
	rel.MinHops = 1
	rel.MaxHops = -1

	if p.peek().Kind == tokInt {
		n, err := strconv.Atoi(p.advance().Text)
		if err != nil {
			return err
		}
		rel.MinHops = n
		rel.MaxHops = n
	}
	if p.peek().isSymbol("..") {
		p.advance()
		rel.MaxHops = -1
		if p.peek().Kind == tokInt {
			m, err := strconv.Atoi(p.advance().Text)
			if err != nil {
				return err
			}
			rel.MaxHops = m
		}
	}
	return nil
}

func (p *parser) parsePropertyMap() (map[string]Expr, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	props := make(map[string]Expr)
	for !p.peek().isSymbol("}") {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		props[key.Text] = value
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return props, nil
}

// =============================================================================
// Expressions, precedence climbing: OR < XOR < AND < NOT < comparison
// < additive < multiplicative < unary < postfix < primary.
// =============================================================================

func (p *parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("OR") {
		t := p.advance()
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right, Pos: t.Pos}
	}
	return left, nil
}

func (p *parser) parseXor() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("XOR") {
		t := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "XOR", Left: left, Right: right, Pos: t.Pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("AND") {
		t := p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right, Pos: t.Pos}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().isKeyword("NOT") {
		t := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand, Pos: t.Pos}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.isSymbol("=") || t.isSymbol("<>") || t.isSymbol("<") ||
			t.isSymbol("<=") || t.isSymbol(">") || t.isSymbol(">="):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: t.Text, Left: left, Right: right, Pos: t.Pos}

		case t.isKeyword("IN"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: "IN", Left: left, Right: right, Pos: t.Pos}

		case t.isKeyword("STARTS"):
			p.advance()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: "STARTS WITH", Left: left, Right: right, Pos: t.Pos}

		case t.isKeyword("ENDS"):
			p.advance()
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: "ENDS WITH", Left: left, Right: right, Pos: t.Pos}

		case t.isKeyword("CONTAINS"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: "CONTAINS", Left: left, Right: right, Pos: t.Pos}

		case t.isKeyword("IS"):
			p.advance()
			negate := false
			if p.peek().isKeyword("NOT") {
				p.advance()
				negate = true
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &IsNullExpr{Operand: left, Negate: negate}

		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.isSymbol("+") && !t.isSymbol("-") {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: t.Text, Left: left, Right: right, Pos: t.Pos}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.isSymbol("*") && !t.isSymbol("/") && !t.isSymbol("%") {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: t.Text, Left: left, Right: right, Pos: t.Pos}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.isSymbol("-") || t.isSymbol("+") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: t.Text, Operand: operand, Pos: t.Pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.isSymbol("."):
			p.advance()
			key, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			e = &PropertyExpr{Subject: e, Key: key.Text, Pos: t.Pos}
		case t.isSymbol("["):
			p.advance()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			e = &IndexExpr{Subject: e, Index: index, Pos: t.Pos}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.Kind {
	case tokInt:
		p.advance()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, syntaxErrorf(t.Pos, t.Text, "invalid integer literal")
		}
		return &Literal{Value: n}, nil

	case tokFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, syntaxErrorf(t.Pos, t.Text, "invalid float literal")
		}
		return &Literal{Value: f}, nil

	case tokString:
		p.advance()
		return &Literal{Value: t.Text}, nil

	case tokParam:
		p.advance()
		return &Parameter{Name: t.Text, Pos: t.Pos}, nil

	case tokSymbol:
		switch t.Text {
		case "(":
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			p.advance()
			list := &ListExpr{}
			for !p.peek().isSymbol("]") {
				item, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				list.Items = append(list.Items, item)
				if p.peek().isSymbol(",") {
					p.advance()
					continue
				}
				break
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			return list, nil
		case "{":
			return p.parseMapLiteral()
		}

	case tokIdent:
		switch {
		case t.isKeyword("true"):
			p.advance()
			return &Literal{Value: true}, nil
		case t.isKeyword("false"):
			p.advance()
			return &Literal{Value: false}, nil
		case t.isKeyword("null"):
			p.advance()
			return &Literal{Value: nil}, nil
		case t.isKeyword("CASE"):
			p.advance()
			return p.parseCase()
		}
		if p.peek2().isSymbol("(") {
			return p.parseFuncCall()
		}
		p.advance()
		return &Variable{Name: t.Text, Pos: t.Pos}, nil
	}
	return nil, syntaxErrorf(t.Pos, t.Text, "expected expression")
}

func (p *parser) parseMapLiteral() (Expr, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	m := &MapExpr{}
	for !p.peek().isSymbol("}") {
		key, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key.Text)
		m.Values = append(m.Values, value)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) parseFuncCall() (Expr, error) {
	name := p.advance()
	call := &FuncCall{Name: name.Text, Pos: name.Pos}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.peek().isSymbol("*") {
		p.advance()
		call.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
	if p.peek().isKeyword("DISTINCT") {
		p.advance()
		call.Distinct = true
	}
	for !p.peek().isSymbol(")") {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.peek().isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseCase() (Expr, error) {
	c := &CaseExpr{}
	if !p.peek().isKeyword("WHEN") {
		input, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Input = input
	}
	for p.peek().isKeyword("WHEN") {
		p.advance()
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, CaseWhen{When: when, Then: then})
	}
	if len(c.Whens) == 0 {
		t := p.peek()
		return nil, syntaxErrorf(t.Pos, t.Text, "CASE requires at least one WHEN")
	}
	if p.peek().isKeyword("ELSE") {
		p.advance()
		elseExpr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = elseExpr
	}
	return c, p.expectKeyword("END")
}
