// Package cypher - abstract syntax tree.
//
// The parser produces one Statement per query. A Statement is either a
// chain of UNION branches over SingleQuery clause lists, or an admin
// statement (index and function catalog commands). The tree carries byte
// positions on the nodes that can fail semantic checks later, so planner
// errors can still point into the source text.
package cypher

// Statement is the root of a parsed query.
type Statement struct {
	// Branches holds the UNION branches; a plain query has exactly one.
	Branches []*SingleQuery
	// UnionAll[i] is true when branch i+1 was joined with UNION ALL.
	UnionAll []bool
	// Admin is non-nil for schema/catalog statements, in which case
	// Branches is empty.
	Admin AdminStatement
}

// SingleQuery is one ordered clause list.
type SingleQuery struct {
	Clauses []Clause
}

// Clause is a marker interface over the clause node types.
type Clause interface{ clause() }

// MatchClause covers MATCH and OPTIONAL MATCH with an optional WHERE.
type MatchClause struct {
	Optional bool
	Patterns []*PatternPart
	Where    Expr
}

// CreateClause covers CREATE over one or more pattern parts.
type CreateClause struct {
	Patterns []*PatternPart
}

// MergeClause covers MERGE with its conditional SET actions.
type MergeClause struct {
	Pattern  *PatternPart
	OnCreate []SetItem
	OnMatch  []SetItem
}

// SetClause covers standalone SET.
type SetClause struct {
	Items []SetItem
}

// RemoveClause covers REMOVE of properties and labels.
type RemoveClause struct {
	Items []RemoveItem
}

// DeleteClause covers DELETE and DETACH DELETE.
type DeleteClause struct {
	Detach bool
	Exprs  []Expr
}

// UnwindClause covers UNWIND expr AS var.
type UnwindClause struct {
	Expr  Expr
	Alias string
}

// WithClause carries a projection mid-query, with optional trailing
// DISTINCT, WHERE, ORDER BY, SKIP and LIMIT.
type WithClause struct {
	Distinct bool
	Items    []*ReturnItem
	Where    Expr
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

// ReturnClause is the terminal projection.
type ReturnClause struct {
	Distinct bool
	Items    []*ReturnItem
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

func (*MatchClause) clause()  {}
func (*CreateClause) clause() {}
func (*MergeClause) clause()  {}
func (*SetClause) clause()    {}
func (*RemoveClause) clause() {}
func (*DeleteClause) clause() {}
func (*UnwindClause) clause() {}
func (*WithClause) clause()   {}
func (*ReturnClause) clause() {}

// ReturnItem is one projected expression with its output column name.
type ReturnItem struct {
	Expr  Expr
	Alias string // output column name; defaults to the expression text
}

// SortItem is one ORDER BY key.
type SortItem struct {
	Expr Expr
	Desc bool
}

// SetItem is one SET action. Exactly one of the three forms is populated:
// property assignment, map merge (+=), or label addition.
type SetItem struct {
	Property *PropertyExpr // SET n.key = Value
	Value    Expr

	Variable string // SET n += MapValue  /  SET n:Label:Label2
	MapValue Expr
	Labels   []string
}

// RemoveItem is one REMOVE action: a property or labels on a variable.
type RemoveItem struct {
	Property *PropertyExpr
	Variable string
	Labels   []string
}

// PatternPart is one comma-separated element of a MATCH/CREATE/MERGE
// pattern: a node chain with len(Rels) = len(Nodes)-1.
type PatternPart struct {
	Nodes []*NodePattern
	Rels  []*RelPattern
}

// NodePattern is one (v:Label {k: expr}) element.
type NodePattern struct {
	Variable string // "" when anonymous
	Labels   []string
	Props    map[string]Expr
	Pos      int
}

// RelDirection is the arrow direction of a relationship pattern.
type RelDirection int

const (
	RelRight      RelDirection = iota // -[]->
	RelLeft                           // <-[]-
	RelUndirected                     // -[]-
)

// RelPattern is one -[r:TYPE*1..3 {k: expr}]-> element.
//
// MinHops/MaxHops describe the variable-length range; a fixed single hop is
// VarLength=false with both set to 1. MaxHops -1 means unbounded.
type RelPattern struct {
	Variable  string
	Type      string // "" matches any type
	Props     map[string]Expr
	Direction RelDirection
	VarLength bool
	MinHops   int
	MaxHops   int
	Pos       int
}

// AdminStatement is a marker interface over catalog statements.
type AdminStatement interface{ adminStatement() }

// CreateIndexStatement is CREATE INDEX [IF NOT EXISTS] ON :Label(prop).
type CreateIndexStatement struct {
	Label       string
	Property    string
	IfNotExists bool
}

// ShowIndexesStatement is SHOW INDEXES.
type ShowIndexesStatement struct{}

// CreateFunctionStatement is CREATE FUNCTION name(arg, ...) AS expr.
type CreateFunctionStatement struct {
	Name string
	Args []string
	Body Expr
	// BodyText preserves the expression source for SHOW FUNCTIONS.
	BodyText string
}

// DropFunctionStatement is DROP FUNCTION name.
type DropFunctionStatement struct {
	Name string
}

// ShowFunctionsStatement is SHOW FUNCTIONS.
type ShowFunctionsStatement struct{}

func (*CreateIndexStatement) adminStatement()    {}
func (*ShowIndexesStatement) adminStatement()    {}
func (*CreateFunctionStatement) adminStatement() {}
func (*DropFunctionStatement) adminStatement()   {}
func (*ShowFunctionsStatement) adminStatement()  {}

// =============================================================================
// Expressions
// =============================================================================

// Expr is a marker interface over expression nodes.
type Expr interface{ expr() }

// Literal is a constant value: int64, float64, string, bool or nil.
type Literal struct {
	Value any
}

// ListExpr is a [a, b, c] literal.
type ListExpr struct {
	Items []Expr
}

// MapExpr is a {k: v} literal with source key order preserved.
type MapExpr struct {
	Keys   []string
	Values []Expr
}

// Parameter is a $name reference resolved at execution time.
type Parameter struct {
	Name string
	Pos  int
}

// Variable references a bound pattern variable.
type Variable struct {
	Name string
	Pos  int
}

// PropertyExpr is subject.key access.
type PropertyExpr struct {
	Subject Expr
	Key     string
	Pos     int
}

// IndexExpr is subject[index] list access.
type IndexExpr struct {
	Subject Expr
	Index   Expr
	Pos     int
}

// UnaryExpr covers NOT and arithmetic negation.
type UnaryExpr struct {
	Op      string // "NOT", "-", "+"
	Operand Expr
	Pos     int
}

// BinaryExpr covers arithmetic, comparison, boolean and string operators.
// Op is one of: + - * / % = <> < <= > >= AND OR XOR IN
// STARTS WITH, ENDS WITH, CONTAINS.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   int
}

// IsNullExpr covers IS NULL / IS NOT NULL.
type IsNullExpr struct {
	Operand Expr
	Negate  bool
}

// FuncCall is a function invocation. Star marks count(*); Distinct marks
// an aggregate with DISTINCT.
type FuncCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
	Pos      int
}

// CaseWhen is one WHEN ... THEN ... arm.
type CaseWhen struct {
	When Expr
	Then Expr
}

// CaseExpr covers both the simple form (CASE input WHEN v THEN r ...) and
// the searched form (CASE WHEN cond THEN r ...); Input is nil for the
// searched form.
type CaseExpr struct {
	Input Expr
	Whens []CaseWhen
	Else  Expr
}

func (*Literal) expr()      {}
func (*ListExpr) expr()     {}
func (*MapExpr) expr()      {}
func (*Parameter) expr()    {}
func (*Variable) expr()     {}
func (*PropertyExpr) expr() {}
func (*IndexExpr) expr()    {}
func (*UnaryExpr) expr()    {}
func (*BinaryExpr) expr()   {}
func (*IsNullExpr) expr()   {}
func (*FuncCall) expr()     {}
func (*CaseExpr) expr()     {}
