// Package cypher - logical plan operators.
//
// A Plan is a tree of operators describing what to compute; the executor
// in exec.go compiles each operator into a pull cursor. Operators chain
// through their Input field; leaves are RowSource (one empty row) and
// Argument (the outer row, inside Optional/Merge subplans). Scans and
// expands extend their input rows, so a cartesian product of disjoint
// pattern fragments is just two scans chained together.
package cypher

import "github.com/tveitane/hugindb/pkg/storage"

// Operator is a marker interface over plan nodes.
type Operator interface{ operator() }

// RowSource emits exactly one empty row. Every top-level chain starts here.
type RowSource struct{}

// Argument passes through the outer row inside a correlated subplan.
type Argument struct{}

// ScanAll binds every node in the store to Slot, extending each input row.
type ScanAll struct {
	Input Operator
	Slot  int
}

// ScanLabel binds every node with Label to Slot.
type ScanLabel struct {
	Input Operator
	Slot  int
	Label string
}

// IndexSeek binds the nodes matching a (label, property, value) point
// lookup to Slot. Falls back to a label scan when the index is missing
// (the planner only emits it when the index exists at plan time, but the
// index can be dropped between plan and run in a future version).
type IndexSeek struct {
	Input    Operator
	Slot     int
	Label    string
	Property string
	Value    Expr
}

// Expand traverses relationships from the node bound at FromSlot. RelSlot
// and ToSlot receive the fresh bindings; when ToSlot is already bound in
// the input row the expansion filters to that endpoint instead of binding.
//
// UniqueWith lists the relationship slots bound earlier in the same MATCH
// clause; relationships already present there are skipped (relationship
// uniqueness within a pattern).
//
// VarLength expansions bind RelSlot (a scalar slot) to the list of
// traversed relationships.
type Expand struct {
	Input      Operator
	FromSlot   int
	RelSlot    int
	ToSlot     int
	Direction  storage.Direction
	RelType    string
	VarLength  bool
	MinHops    int
	MaxHops    int // -1 = unbounded
	UniqueWith []int
	// Props are inline relationship property predicates, checked against
	// every traversed relationship (each hop of a variable-length path).
	Props map[string]Expr
}

// LabelFilter keeps rows whose node at Slot carries all Labels.
type LabelFilter struct {
	Input  Operator
	Slot   int
	Labels []string
}

// Filter keeps rows for which Predicate is true; null and type errors
// exclude the row.
type Filter struct {
	Input     Operator
	Predicate Expr
}

// Optional runs Sub (rooted at Argument) once per input row. Rows from the
// subplan pass through; when the subplan yields nothing the input row is
// emitted with every slot in IntroducedSlots bound to null.
type Optional struct {
	Input           Operator
	Sub             Operator
	IntroducedSlots []int
}

// Unwind evaluates List per row and emits one row per element bound to
// Slot. A null or empty list produces no rows.
type Unwind struct {
	Input Operator
	List  Expr
	Slot  int
}

// ProjectItem computes one expression into an output slot.
type ProjectItem struct {
	Expr Expr
	Slot int
}

// Project evaluates its items against each input row and binds the output
// slots. WITH and RETURN both lower to Project.
type Project struct {
	Input Operator
	Items []ProjectItem
}

// AggSpec is one aggregate call within an Aggregate operator.
type AggSpec struct {
	Func     string // count, sum, avg, min, max, collect
	Arg      Expr   // nil for count(*)
	Star     bool
	Distinct bool
	Slot     int
}

// Aggregate groups its input by the GroupBy items and computes the
// aggregate specs per group. Blocking.
type Aggregate struct {
	Input   Operator
	GroupBy []ProjectItem
	Aggs    []AggSpec
}

// Distinct removes duplicate rows, comparing the values at Slots
// structurally. Blocking.
type Distinct struct {
	Input Operator
	Slots []int
}

// SortKey is one ORDER BY key.
type SortKey struct {
	Expr Expr
	Desc bool
}

// Sort orders its input by Keys; nulls sort last. Blocking.
type Sort struct {
	Input Operator
	Keys  []SortKey
}

// Skip drops the first N rows.
type Skip struct {
	Input Operator
	Count Expr
}

// Limit stops after N rows.
type Limit struct {
	Input Operator
	Count Expr
}

// Union concatenates branch outputs: all rows of branch 0 before branch 1,
// and so on. Each branch's output slots are copied into OutSlots so the
// union has one column layout. Distinct applies set semantics over the
// combined rows. Blocking.
type Union struct {
	Branches    []Operator
	BranchSlots [][]int
	OutSlots    []int
	Distinct    bool
}

// =============================================================================
// Mutation operators
// =============================================================================

// CreateNodeSpec describes one node element of a CREATE pattern part.
// Bound marks a reuse of an already-bound variable (endpoint reference);
// otherwise the node is created and bound to Slot.
type CreateNodeSpec struct {
	Slot   int // -1 for anonymous
	Bound  bool
	Labels []string
	Props  map[string]Expr
}

// CreateRelSpec describes one relationship element of a CREATE pattern
// part. FromNode/ToNode index into the part's node list and already honor
// the arrow direction.
type CreateRelSpec struct {
	Slot     int // -1 for anonymous
	Type     string
	Props    map[string]Expr
	FromNode int
	ToNode   int
}

// Create materializes one pattern part per input row, eagerly, extending
// the row with the created entities. Endpoints resolve only against the
// current row's bindings and the nodes created for that same row.
type Create struct {
	Input Operator
	Nodes []CreateNodeSpec
	Rels  []CreateRelSpec
}

// Merge matches Sub (rooted at Argument) per input row; on a match it
// emits every matched row after applying OnMatch, otherwise it creates the
// pattern (Nodes/Rels as in Create), applies OnCreate, and emits one row.
type Merge struct {
	Input    Operator
	Sub      Operator
	Nodes    []CreateNodeSpec
	Rels     []CreateRelSpec
	OnCreate []SetSpec
	OnMatch  []SetSpec
}

// SetSpec is one compiled SET action.
type SetSpec struct {
	// Property assignment: entity at Slot, property Key set to Value.
	Slot  int
	Key   string
	Value Expr

	// Map merge (SET n += {...}).
	MapValue Expr

	// Label addition (SET n:Label).
	Labels []string
}

// SetProps applies SET actions eagerly per row.
type SetProps struct {
	Input Operator
	Items []SetSpec
}

// RemoveSpec is one compiled REMOVE action.
type RemoveSpec struct {
	Slot   int
	Key    string   // property removal when non-empty
	Labels []string // label removal otherwise
}

// RemoveProps applies REMOVE actions eagerly per row.
type RemoveProps struct {
	Input Operator
	Items []RemoveSpec
}

// Delete removes the entities bound at Slots, eagerly per row. Without
// Detach, deleting a node with incident relationships fails.
type Delete struct {
	Input  Operator
	Detach bool
	Slots  []int
}

func (*RowSource) operator()   {}
func (*Argument) operator()    {}
func (*ScanAll) operator()     {}
func (*ScanLabel) operator()   {}
func (*IndexSeek) operator()   {}
func (*Expand) operator()      {}
func (*LabelFilter) operator() {}
func (*Filter) operator()      {}
func (*Optional) operator()    {}
func (*Unwind) operator()      {}
func (*Project) operator()     {}
func (*Aggregate) operator()   {}
func (*Distinct) operator()    {}
func (*Sort) operator()        {}
func (*Skip) operator()        {}
func (*Limit) operator()       {}
func (*Union) operator()       {}
func (*Create) operator()      {}
func (*Merge) operator()       {}
func (*SetProps) operator()    {}
func (*RemoveProps) operator() {}
func (*Delete) operator()      {}

// Plan is a compiled statement ready for execution. Admin is non-nil for
// catalog statements, in which case Root is nil.
type Plan struct {
	Root    Operator
	Admin   AdminStatement
	Columns []string
	// OutSlots are the row slots projected into result rows, aligned
	// with Columns.
	OutSlots []int
	// ReadOnly is true when the plan contains no mutation or catalog
	// operators; the coordinator admits read-only plans concurrently.
	ReadOnly bool

	slots *slotTable
}
