// Package cypher - logical planner.
//
// The planner lowers a parsed Statement into a Plan. It owns all semantic
// validation the parser defers: variable scoping, slot kinds, function
// resolution and UNION column compatibility. Planning never touches graph
// data; it only consults the index catalog (for drive-node selection) and
// the function registry, so a PlanError guarantees no side effects.
//
// Drive-node choice is a fixed heuristic, not a cost model: per disjoint
// pattern fragment, prefer a label + equality-property node with an
// existing index (point lookup), then a labeled node (label scan), then a
// full scan. Ties break by pattern order so identical input always yields
// the identical plan.
package cypher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tveitane/hugindb/pkg/storage"
)

// Planner compiles statements against an engine's index catalog and a
// function registry.
type Planner struct {
	engine   storage.Engine
	registry *FunctionRegistry
}

func NewPlanner(engine storage.Engine, registry *FunctionRegistry) *Planner {
	return &Planner{engine: engine, registry: registry}
}

// Plan compiles one statement.
func (p *Planner) Plan(stmt *Statement) (*Plan, error) {
	if stmt.Admin != nil {
		return p.planAdmin(stmt.Admin)
	}

	plan := &Plan{slots: newSlotTable()}

	if len(stmt.Branches) == 1 {
		b := &branchPlanner{p: p, slots: plan.slots, scope: map[string]bool{}}
		root, cols, outSlots, err := b.planQuery(stmt.Branches[0])
		if err != nil {
			return nil, err
		}
		plan.Root = root
		plan.Columns = cols
		plan.OutSlots = outSlots
	} else {
		// Mixing UNION and UNION ALL is ambiguous; reject it outright.
		for _, all := range stmt.UnionAll {
			if all != stmt.UnionAll[0] {
				return nil, planErrorf("cannot mix UNION and UNION ALL")
			}
		}
		union := &Union{Distinct: !stmt.UnionAll[0]}
		var cols []string
		for i, branch := range stmt.Branches {
			b := &branchPlanner{
				p:      p,
				slots:  plan.slots,
				scope:  map[string]bool{},
				prefix: fmt.Sprintf("%d:", i),
			}
			root, branchCols, outSlots, err := b.planQuery(branch)
			if err != nil {
				return nil, err
			}
			if len(branchCols) == 0 {
				return nil, planErrorf("every UNION branch must end in RETURN")
			}
			if i == 0 {
				cols = branchCols
				union.OutSlots = outSlots
			} else if !equalColumns(cols, branchCols) {
				return nil, planErrorf("UNION column mismatch: %v vs %v", cols, branchCols)
			}
			union.Branches = append(union.Branches, root)
			union.BranchSlots = append(union.BranchSlots, outSlots)
		}
		plan.Root = union
		plan.Columns = cols
		plan.OutSlots = union.OutSlots
	}

	plan.ReadOnly = isReadOnly(plan.Root)
	return plan, nil
}

func (p *Planner) planAdmin(admin AdminStatement) (*Plan, error) {
	plan := &Plan{Admin: admin, slots: newSlotTable()}
	switch a := admin.(type) {
	case *ShowIndexesStatement:
		plan.Columns = []string{"label", "property"}
		plan.ReadOnly = true
	case *ShowFunctionsStatement:
		plan.Columns = []string{"name", "arguments", "body"}
		plan.ReadOnly = true
	case *CreateFunctionStatement:
		seen := map[string]bool{}
		for _, arg := range a.Args {
			if seen[arg] {
				return nil, planErrorf("duplicate argument %q in function %s()", arg, a.Name)
			}
			seen[arg] = true
		}
	case *CreateIndexStatement, *DropFunctionStatement:
		// No plan-time validation beyond parsing.
	}
	return plan, nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isReadOnly(op Operator) bool {
	switch x := op.(type) {
	case nil:
		return true
	case *Create, *Merge, *SetProps, *RemoveProps, *Delete:
		return false
	case *Union:
		for _, b := range x.Branches {
			if !isReadOnly(b) {
				return false
			}
		}
		return true
	case *Optional:
		return isReadOnly(x.Input) && isReadOnly(x.Sub)
	}
	if in := inputOf(op); in != nil {
		return isReadOnly(in)
	}
	return true
}

func inputOf(op Operator) Operator {
	switch x := op.(type) {
	case *ScanAll:
		return x.Input
	case *ScanLabel:
		return x.Input
	case *IndexSeek:
		return x.Input
	case *Expand:
		return x.Input
	case *LabelFilter:
		return x.Input
	case *Filter:
		return x.Input
	case *Optional:
		return x.Input
	case *Unwind:
		return x.Input
	case *Project:
		return x.Input
	case *Aggregate:
		return x.Input
	case *Distinct:
		return x.Input
	case *Sort:
		return x.Input
	case *Skip:
		return x.Input
	case *Limit:
		return x.Input
	case *Create:
		return x.Input
	case *Merge:
		return x.Input
	case *SetProps:
		return x.Input
	case *RemoveProps:
		return x.Input
	case *Delete:
		return x.Input
	}
	return nil
}

// =============================================================================
// Branch planning
// =============================================================================

type branchPlanner struct {
	p     *Planner
	slots *slotTable
	// scope is the set of variable names currently visible. Slots persist
	// physically across WITH boundaries; scope is what the user can name.
	scope  map[string]bool
	prefix string // per-UNION-branch slot namespace
	anonN  int
}

func (b *branchPlanner) slotName(name string) string {
	return b.prefix + name
}

func (b *branchPlanner) anonName(kind string) string {
	b.anonN++
	return fmt.Sprintf("%s #%s%d", b.prefix, kind, b.anonN)
}

func (b *branchPlanner) declare(name string, kind SlotKind) (int, error) {
	return b.slots.declare(b.slotName(name), kind)
}

func (b *branchPlanner) lookup(name string) (int, bool) {
	return b.slots.lookup(b.slotName(name))
}

// planQuery lowers one clause list. Returns the root operator plus
// columns/output slots when the query ends in RETURN.
func (b *branchPlanner) planQuery(q *SingleQuery) (Operator, []string, []int, error) {
	var op Operator = &RowSource{}
	var err error

	for i, clause := range q.Clauses {
		switch c := clause.(type) {
		case *MatchClause:
			op, err = b.planMatch(op, c)
		case *CreateClause:
			op, err = b.planCreate(op, c)
		case *MergeClause:
			op, err = b.planMerge(op, c)
		case *SetClause:
			op, err = b.planSet(op, c.Items)
		case *RemoveClause:
			op, err = b.planRemove(op, c)
		case *DeleteClause:
			op, err = b.planDelete(op, c)
		case *UnwindClause:
			op, err = b.planUnwind(op, c)
		case *WithClause:
			op, err = b.planProjection(op, c.Items, c.Distinct, c.OrderBy, c.Skip, c.Limit, c.Where)
		case *ReturnClause:
			if i != len(q.Clauses)-1 {
				return nil, nil, nil, planErrorf("RETURN must be the final clause")
			}
			var cols []string
			var outSlots []int
			op, cols, outSlots, err = b.planReturn(op, c)
			if err != nil {
				return nil, nil, nil, err
			}
			return op, cols, outSlots, nil
		}
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return op, nil, nil, nil
}

// =============================================================================
// MATCH
// =============================================================================

// matchCtx tracks relationship slots bound so far within one MATCH clause,
// for the relationship-uniqueness rule.
type matchCtx struct {
	relSlots []int
}

func (b *branchPlanner) planMatch(op Operator, c *MatchClause) (Operator, error) {
	if c.Optional {
		before := b.slots.size()
		sub, err := b.planMatchBody(&Argument{}, c)
		if err != nil {
			return nil, err
		}
		var introduced []int
		for i := before; i < b.slots.size(); i++ {
			introduced = append(introduced, i)
		}
		return &Optional{Input: op, Sub: sub, IntroducedSlots: introduced}, nil
	}
	return b.planMatchBody(op, c)
}

func (b *branchPlanner) planMatchBody(op Operator, c *MatchClause) (Operator, error) {
	mc := &matchCtx{}
	var err error
	for _, part := range c.Patterns {
		op, err = b.planPatternPart(op, part, mc)
		if err != nil {
			return nil, err
		}
	}
	if c.Where != nil {
		pred, err := b.resolveExpr(c.Where)
		if err != nil {
			return nil, err
		}
		op = &Filter{Input: op, Predicate: pred}
	}
	return op, nil
}

// patternNode is the planner's view of one node element: its slot and
// whether it was bound before this pattern part.
type patternNode struct {
	slot       int
	wasBound   bool
	guaranteed struct {
		label string // label established by the scan, "" otherwise
		prop  string // property consumed by an index seek
	}
}

func (b *branchPlanner) planPatternPart(op Operator, part *PatternPart, mc *matchCtx) (Operator, error) {
	// Resolve slots for every node in the part.
	nodes := make([]*patternNode, len(part.Nodes))
	for i, np := range part.Nodes {
		pn := &patternNode{}
		name := np.Variable
		if name == "" {
			name = b.anonName("node")
		} else if b.scope[name] {
			pn.wasBound = true
		}
		slot, err := b.declare(name, SlotNode)
		if err != nil {
			return nil, err
		}
		pn.slot = slot
		if np.Variable != "" {
			b.scope[np.Variable] = true
		}
		nodes[i] = pn

		if err := b.resolveProps(np.Props); err != nil {
			return nil, err
		}
	}

	// Relationship variables must be fresh within the statement.
	relSlots := make([]int, len(part.Rels))
	for i, rp := range part.Rels {
		name := rp.Variable
		if name != "" && b.scope[name] {
			return nil, planErrorf("relationship variable %q already bound", name)
		}
		if name == "" {
			name = b.anonName("rel")
		}
		kind := SlotRel
		if rp.VarLength {
			// A variable-length traversal binds the list of crossed
			// relationships, which is a scalar (list) value.
			kind = SlotScalar
		}
		slot, err := b.declare(name, kind)
		if err != nil {
			return nil, err
		}
		relSlots[i] = slot
		if rp.Variable != "" {
			b.scope[rp.Variable] = true
		}
		if err := b.resolveProps(rp.Props); err != nil {
			return nil, err
		}
		if rp.VarLength && rp.MinHops < 0 {
			return nil, planErrorf("variable-length lower bound must be non-negative")
		}
	}

	// Drive-node selection.
	drive := b.chooseDriveNode(part, nodes)
	dn := nodes[drive]
	np := part.Nodes[drive]
	if !dn.wasBound {
		switch {
		case b.indexedProperty(np) != "":
			prop := b.indexedProperty(np)
			op = &IndexSeek{Input: op, Slot: dn.slot, Label: np.Labels[0], Property: prop, Value: np.Props[prop]}
			dn.guaranteed.label = np.Labels[0]
			dn.guaranteed.prop = prop
		case len(np.Labels) > 0:
			op = &ScanLabel{Input: op, Slot: dn.slot, Label: np.Labels[0]}
			dn.guaranteed.label = np.Labels[0]
		default:
			op = &ScanAll{Input: op, Slot: dn.slot}
		}
	}

	// Expand right of the drive node, then left. Walking left traverses
	// each relationship pattern against its arrow, so the direction flips.
	for i := drive; i < len(part.Rels); i++ {
		op = b.emitExpand(op, part.Rels[i], relSlots[i], nodes[i].slot, nodes[i+1].slot, false, mc)
	}
	for i := drive - 1; i >= 0; i-- {
		op = b.emitExpand(op, part.Rels[i], relSlots[i], nodes[i+1].slot, nodes[i].slot, true, mc)
	}

	// Residual label and property filters for every node not already
	// guaranteed by the scan.
	for i, pn := range nodes {
		np := part.Nodes[i]
		var labels []string
		for _, l := range np.Labels {
			if l != pn.guaranteed.label {
				labels = append(labels, l)
			}
		}
		if len(labels) > 0 {
			op = &LabelFilter{Input: op, Slot: pn.slot, Labels: labels}
		}
		for _, key := range sortedKeys(np.Props) {
			if key == pn.guaranteed.prop {
				continue
			}
			op = &Filter{Input: op, Predicate: &BinaryExpr{
				Op:   "=",
				Left: &PropertyExpr{Subject: &slotRef{slot: pn.slot}, Key: key},
				// The inline predicate expression.
				Right: np.Props[key],
			}}
		}
	}
	return op, nil
}

// chooseDriveNode picks the starting element of a pattern part. A node
// bound by an earlier clause always wins (no scan needed); otherwise the
// index > label > full-scan preference applies, first match in pattern
// order.
func (b *branchPlanner) chooseDriveNode(part *PatternPart, nodes []*patternNode) int {
	for i, pn := range nodes {
		if pn.wasBound {
			return i
		}
	}
	best, bestCat := 0, 3
	for i, np := range part.Nodes {
		cat := 2
		if b.indexedProperty(np) != "" {
			cat = 0
		} else if len(np.Labels) > 0 {
			cat = 1
		}
		if cat < bestCat {
			best, bestCat = i, cat
		}
	}
	return best
}

// indexedProperty returns the first (sorted) inline property key covered
// by an existing index on the node's first label, or "".
func (b *branchPlanner) indexedProperty(np *NodePattern) string {
	if len(np.Labels) == 0 || len(np.Props) == 0 {
		return ""
	}
	for _, key := range sortedKeys(np.Props) {
		if b.p.engine.HasIndex(np.Labels[0], key) {
			return key
		}
	}
	return ""
}

func (b *branchPlanner) emitExpand(op Operator, rp *RelPattern, relSlot, fromSlot, toSlot int, reversed bool, mc *matchCtx) Operator {
	dir := storage.DirectionBoth
	switch rp.Direction {
	case RelRight:
		dir = storage.DirectionOutgoing
	case RelLeft:
		dir = storage.DirectionIncoming
	}
	if reversed {
		switch dir {
		case storage.DirectionOutgoing:
			dir = storage.DirectionIncoming
		case storage.DirectionIncoming:
			dir = storage.DirectionOutgoing
		}
	}
	ex := &Expand{
		Input:      op,
		FromSlot:   fromSlot,
		RelSlot:    relSlot,
		ToSlot:     toSlot,
		Direction:  dir,
		RelType:    rp.Type,
		VarLength:  rp.VarLength,
		MinHops:    rp.MinHops,
		MaxHops:    rp.MaxHops,
		UniqueWith: append([]int(nil), mc.relSlots...),
		Props:      rp.Props,
	}
	mc.relSlots = append(mc.relSlots, relSlot)
	return ex
}

// slotRef is a planner-internal expression that reads a slot directly.
// resolveExpr lowers every in-scope variable to one; the planner also
// emits them for pattern elements with no user-visible name.
type slotRef struct {
	slot int
}

func (*slotRef) expr() {}

// =============================================================================
// CREATE / MERGE
// =============================================================================

func (b *branchPlanner) planCreate(op Operator, c *CreateClause) (Operator, error) {
	for _, part := range c.Patterns {
		create, err := b.compileCreatePart(part)
		if err != nil {
			return nil, err
		}
		create.Input = op
		op = create
	}
	return op, nil
}

func (b *branchPlanner) compileCreatePart(part *PatternPart) (*Create, error) {
	create := &Create{}
	for _, np := range part.Nodes {
		spec := CreateNodeSpec{Slot: -1, Labels: np.Labels, Props: np.Props}
		if np.Variable != "" && b.scope[np.Variable] {
			if len(np.Labels) > 0 || len(np.Props) > 0 {
				return nil, planErrorf("variable %q already bound; a reused CREATE endpoint cannot carry labels or properties", np.Variable)
			}
			slot, _ := b.lookup(np.Variable)
			spec.Slot = slot
			spec.Bound = true
		} else {
			name := np.Variable
			if name == "" {
				name = b.anonName("node")
			}
			slot, err := b.declare(name, SlotNode)
			if err != nil {
				return nil, err
			}
			spec.Slot = slot
			if np.Variable != "" {
				b.scope[np.Variable] = true
			}
			if err := b.resolveProps(np.Props); err != nil {
				return nil, err
			}
		}
		create.Nodes = append(create.Nodes, spec)
	}

	for i, rp := range part.Rels {
		if rp.Type == "" {
			return nil, planErrorf("CREATE requires a relationship type")
		}
		if rp.Direction == RelUndirected {
			return nil, planErrorf("CREATE requires a directed relationship")
		}
		if rp.VarLength {
			return nil, planErrorf("cannot CREATE a variable-length relationship")
		}
		spec := CreateRelSpec{Slot: -1, Type: rp.Type, Props: rp.Props, FromNode: i, ToNode: i + 1}
		if rp.Direction == RelLeft {
			spec.FromNode, spec.ToNode = i+1, i
		}
		if rp.Variable != "" {
			if b.scope[rp.Variable] {
				return nil, planErrorf("relationship variable %q already bound", rp.Variable)
			}
			slot, err := b.declare(rp.Variable, SlotRel)
			if err != nil {
				return nil, err
			}
			spec.Slot = slot
			b.scope[rp.Variable] = true
		}
		if err := b.resolveProps(rp.Props); err != nil {
			return nil, err
		}
		create.Rels = append(create.Rels, spec)
	}
	return create, nil
}

func (b *branchPlanner) planMerge(op Operator, c *MergeClause) (Operator, error) {
	// The match side plans against a snapshot of the current scope; the
	// create side reuses the same slots, so both branches bind the same
	// variables.
	preScope := make(map[string]bool, len(b.scope))
	for k, v := range b.scope {
		preScope[k] = v
	}

	sub, err := b.planMatchBody(&Argument{}, &MatchClause{Patterns: []*PatternPart{c.Pattern}})
	if err != nil {
		return nil, err
	}

	merge := &Merge{Input: op, Sub: sub}

	// Compile the create side against the pre-merge scope, reusing the
	// slots the match side declared.
	for _, np := range c.Pattern.Nodes {
		spec := CreateNodeSpec{Slot: -1, Labels: np.Labels, Props: np.Props}
		if np.Variable != "" && preScope[np.Variable] {
			slot, _ := b.lookup(np.Variable)
			spec.Slot = slot
			spec.Bound = true
		} else {
			name := np.Variable
			if name == "" {
				// The match side declared an anonymous slot; the create
				// side makes its own, both invisible to the user.
				name = b.anonName("node")
				slot, err := b.declare(name, SlotNode)
				if err != nil {
					return nil, err
				}
				spec.Slot = slot
			} else {
				slot, _ := b.lookup(np.Variable)
				spec.Slot = slot
			}
		}
		merge.Nodes = append(merge.Nodes, spec)
	}
	for i, rp := range c.Pattern.Rels {
		if rp.Type == "" {
			return nil, planErrorf("MERGE requires a relationship type")
		}
		if rp.Direction == RelUndirected {
			return nil, planErrorf("MERGE requires a directed relationship")
		}
		if rp.VarLength {
			return nil, planErrorf("cannot MERGE a variable-length relationship")
		}
		spec := CreateRelSpec{Slot: -1, Type: rp.Type, Props: rp.Props, FromNode: i, ToNode: i + 1}
		if rp.Direction == RelLeft {
			spec.FromNode, spec.ToNode = i+1, i
		}
		if rp.Variable != "" {
			slot, _ := b.lookup(rp.Variable)
			spec.Slot = slot
		}
		merge.Rels = append(merge.Rels, spec)
	}

	if merge.OnCreate, err = b.compileSetItems(c.OnCreate); err != nil {
		return nil, err
	}
	if merge.OnMatch, err = b.compileSetItems(c.OnMatch); err != nil {
		return nil, err
	}
	return merge, nil
}

// =============================================================================
// SET / REMOVE / DELETE / UNWIND
// =============================================================================

func (b *branchPlanner) planSet(op Operator, items []SetItem) (Operator, error) {
	specs, err := b.compileSetItems(items)
	if err != nil {
		return nil, err
	}
	return &SetProps{Input: op, Items: specs}, nil
}

func (b *branchPlanner) compileSetItems(items []SetItem) ([]SetSpec, error) {
	var specs []SetSpec
	for _, item := range items {
		switch {
		case item.Property != nil:
			v, ok := item.Property.Subject.(*Variable)
			if !ok {
				return nil, planErrorf("SET target must be a variable property")
			}
			slot, bound := b.lookup(v.Name)
			if !bound || !b.scope[v.Name] {
				return nil, planErrorf("unknown variable %q in SET", v.Name)
			}
			value, err := b.resolveExpr(item.Value)
			if err != nil {
				return nil, err
			}
			specs = append(specs, SetSpec{Slot: slot, Key: item.Property.Key, Value: value})

		case item.MapValue != nil:
			slot, bound := b.lookup(item.Variable)
			if !bound || !b.scope[item.Variable] {
				return nil, planErrorf("unknown variable %q in SET", item.Variable)
			}
			value, err := b.resolveExpr(item.MapValue)
			if err != nil {
				return nil, err
			}
			specs = append(specs, SetSpec{Slot: slot, MapValue: value})

		default:
			slot, bound := b.lookup(item.Variable)
			if !bound || !b.scope[item.Variable] {
				return nil, planErrorf("unknown variable %q in SET", item.Variable)
			}
			specs = append(specs, SetSpec{Slot: slot, Labels: item.Labels})
		}
	}
	return specs, nil
}

func (b *branchPlanner) planRemove(op Operator, c *RemoveClause) (Operator, error) {
	var specs []RemoveSpec
	for _, item := range c.Items {
		if item.Property != nil {
			v, ok := item.Property.Subject.(*Variable)
			if !ok {
				return nil, planErrorf("REMOVE target must be a variable property")
			}
			slot, bound := b.lookup(v.Name)
			if !bound || !b.scope[v.Name] {
				return nil, planErrorf("unknown variable %q in REMOVE", v.Name)
			}
			specs = append(specs, RemoveSpec{Slot: slot, Key: item.Property.Key})
		} else {
			slot, bound := b.lookup(item.Variable)
			if !bound || !b.scope[item.Variable] {
				return nil, planErrorf("unknown variable %q in REMOVE", item.Variable)
			}
			specs = append(specs, RemoveSpec{Slot: slot, Labels: item.Labels})
		}
	}
	return &RemoveProps{Input: op, Items: specs}, nil
}

func (b *branchPlanner) planDelete(op Operator, c *DeleteClause) (Operator, error) {
	del := &Delete{Input: op, Detach: c.Detach}
	for _, e := range c.Exprs {
		v, ok := e.(*Variable)
		if !ok {
			return nil, planErrorf("DELETE requires a bound variable")
		}
		slot, bound := b.lookup(v.Name)
		if !bound || !b.scope[v.Name] {
			return nil, planErrorf("unknown variable %q in DELETE", v.Name)
		}
		del.Slots = append(del.Slots, slot)
	}
	return del, nil
}

func (b *branchPlanner) planUnwind(op Operator, c *UnwindClause) (Operator, error) {
	list, err := b.resolveExpr(c.Expr)
	if err != nil {
		return nil, err
	}
	slot, err := b.declare(c.Alias, SlotScalar)
	if err != nil {
		return nil, err
	}
	b.scope[c.Alias] = true
	return &Unwind{Input: op, List: list, Slot: slot}, nil
}

// =============================================================================
// WITH / RETURN
// =============================================================================

func (b *branchPlanner) planReturn(op Operator, c *ReturnClause) (Operator, []string, []int, error) {
	op, err := b.planProjection(op, c.Items, c.Distinct, c.OrderBy, c.Skip, c.Limit, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	cols := make([]string, len(c.Items))
	outSlots := make([]int, len(c.Items))
	for i, item := range c.Items {
		cols[i] = item.Alias
		slot, _ := b.lookup(item.Alias)
		outSlots[i] = slot
	}
	return op, cols, outSlots, nil
}

func (b *branchPlanner) planProjection(op Operator, items []*ReturnItem, distinct bool, orderBy []SortItem, skip, limit Expr, where Expr) (Operator, error) {
	hasAgg := false
	for _, item := range items {
		if containsAggregate(item.Expr) {
			hasAgg = true
			break
		}
	}

	oldScope := b.scope
	newScope := map[string]bool{}
	var outSlots []int

	// Every item expression resolves against the input scope before any
	// alias is declared, so one item cannot observe a sibling's output and
	// an alias may rebind an input name (WITH n.name AS n).
	if hasAgg {
		agg := &Aggregate{Input: op}
		groupExprs := make([]Expr, len(items))
		aggCalls := make([]*FuncCall, len(items))
		for i, item := range items {
			if item.Alias == "" {
				return nil, planErrorf("projection item requires a name")
			}
			if call, ok := item.Expr.(*FuncCall); ok && isAggregateFunc(call.Name) {
				if !call.Star && len(call.Args) != 1 {
					return nil, planErrorf("%s() takes exactly one argument", call.Name)
				}
				for j := range call.Args {
					arg, err := b.resolveExpr(call.Args[j])
					if err != nil {
						return nil, err
					}
					call.Args[j] = arg
				}
				aggCalls[i] = call
				continue
			}
			if containsAggregate(item.Expr) {
				return nil, planErrorf("aggregate calls must be top-level projection items")
			}
			e, err := b.resolveExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			groupExprs[i] = e
		}
		for i, item := range items {
			if call := aggCalls[i]; call != nil {
				slot, err := b.declareProjected(item.Alias, SlotScalar)
				if err != nil {
					return nil, err
				}
				spec := AggSpec{Func: strings.ToLower(call.Name), Star: call.Star, Distinct: call.Distinct, Slot: slot}
				if !call.Star {
					spec.Arg = call.Args[0]
				}
				agg.Aggs = append(agg.Aggs, spec)
				outSlots = append(outSlots, slot)
			} else {
				slot, err := b.declareProjected(item.Alias, b.inferKind(groupExprs[i]))
				if err != nil {
					return nil, err
				}
				agg.GroupBy = append(agg.GroupBy, ProjectItem{Expr: groupExprs[i], Slot: slot})
				outSlots = append(outSlots, slot)
			}
			newScope[item.Alias] = true
		}
		op = agg
	} else {
		proj := &Project{Input: op}
		exprs := make([]Expr, len(items))
		for i, item := range items {
			if item.Alias == "" {
				return nil, planErrorf("projection item requires a name")
			}
			e, err := b.resolveExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			exprs[i] = e
		}
		for i, item := range items {
			slot, err := b.declareProjected(item.Alias, b.inferKind(exprs[i]))
			if err != nil {
				return nil, err
			}
			proj.Items = append(proj.Items, ProjectItem{Expr: exprs[i], Slot: slot})
			outSlots = append(outSlots, slot)
			newScope[item.Alias] = true
		}
		op = proj
	}

	b.scope = newScope

	if distinct {
		op = &Distinct{Input: op, Slots: outSlots}
	}
	if len(orderBy) > 0 {
		sortOp := &Sort{Input: op}
		for _, key := range orderBy {
			if containsAggregate(key.Expr) {
				return nil, planErrorf("aggregate calls are not allowed in ORDER BY")
			}
			// After an aggregation sort keys may only reference the
			// projected names; a streaming projection additionally exposes
			// the pre-projection variables that are still physically bound
			// (ORDER BY n.age after RETURN n.name).
			scope := newScope
			if !hasAgg {
				scope = make(map[string]bool, len(oldScope)+len(newScope))
				for k := range oldScope {
					scope[k] = true
				}
				for k := range newScope {
					scope[k] = true
				}
			}
			e, err := b.resolveVarsIn(key.Expr, scope)
			if err != nil {
				return nil, err
			}
			sortOp.Keys = append(sortOp.Keys, SortKey{Expr: e, Desc: key.Desc})
		}
		op = sortOp
	}
	if skip != nil {
		op = &Skip{Input: op, Count: skip}
	}
	if limit != nil {
		op = &Limit{Input: op, Count: limit}
	}
	if where != nil {
		pred, err := b.resolveExpr(where)
		if err != nil {
			return nil, err
		}
		op = &Filter{Input: op, Predicate: pred}
	}
	return op, nil
}

// inferKind decides the slot kind of a projection alias: passing a node or
// relationship variable through keeps its kind, everything else is scalar.
// Callers pass resolved expressions, so variables appear as slot reads.
func (b *branchPlanner) inferKind(e Expr) SlotKind {
	if ref, ok := e.(*slotRef); ok {
		return b.slots.slots[ref.slot].Kind
	}
	return SlotScalar
}

// declareProjected declares a projection alias. Unlike pattern variables,
// an alias may shadow an existing name of a different kind (WITH n.name
// AS n); the old slot is retired to an internal name and the alias moves
// to a fresh slot. Expressions planned before the projection keep their
// direct reads of the retired slot.
func (b *branchPlanner) declareProjected(name string, kind SlotKind) (int, error) {
	if slot, ok := b.lookup(name); ok && b.slots.slots[slot].Kind != kind {
		b.slots.retire(b.slotName(name), b.anonName("shadow"))
	}
	return b.declare(name, kind)
}

// =============================================================================
// Expression resolution
// =============================================================================

// resolveExpr checks variable scoping and function resolution, rewriting
// every in-scope variable into a direct slot read. Stored plan expressions
// therefore never resolve names at execution time; a UNION branch's slot
// namespace and a WITH alias that shadows an older binding both stay
// unambiguous. Aggregate calls are rejected here; projection items lift
// them into the Aggregate operator before resolving their arguments.
func (b *branchPlanner) resolveExpr(e Expr) (Expr, error) {
	switch x := e.(type) {
	case nil:
		return nil, nil
	case *Literal, *Parameter, *slotRef:
		return e, nil
	case *Variable:
		if !b.scope[x.Name] {
			return nil, planErrorf("unknown variable %q", x.Name)
		}
		slot, ok := b.lookup(x.Name)
		if !ok {
			return nil, planErrorf("unknown variable %q", x.Name)
		}
		return &slotRef{slot: slot}, nil
	case *ListExpr:
		for i := range x.Items {
			item, err := b.resolveExpr(x.Items[i])
			if err != nil {
				return nil, err
			}
			x.Items[i] = item
		}
		return x, nil
	case *MapExpr:
		for i := range x.Values {
			v, err := b.resolveExpr(x.Values[i])
			if err != nil {
				return nil, err
			}
			x.Values[i] = v
		}
		return x, nil
	case *PropertyExpr:
		subject, err := b.resolveExpr(x.Subject)
		if err != nil {
			return nil, err
		}
		x.Subject = subject
		return x, nil
	case *IndexExpr:
		subject, err := b.resolveExpr(x.Subject)
		if err != nil {
			return nil, err
		}
		index, err := b.resolveExpr(x.Index)
		if err != nil {
			return nil, err
		}
		x.Subject, x.Index = subject, index
		return x, nil
	case *UnaryExpr:
		operand, err := b.resolveExpr(x.Operand)
		if err != nil {
			return nil, err
		}
		x.Operand = operand
		return x, nil
	case *BinaryExpr:
		left, err := b.resolveExpr(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.resolveExpr(x.Right)
		if err != nil {
			return nil, err
		}
		x.Left, x.Right = left, right
		return x, nil
	case *IsNullExpr:
		operand, err := b.resolveExpr(x.Operand)
		if err != nil {
			return nil, err
		}
		x.Operand = operand
		return x, nil
	case *FuncCall:
		if isAggregateFunc(x.Name) {
			return nil, planErrorf("aggregate function %s() is not allowed here", x.Name)
		}
		if !isBuiltinFunc(x.Name) {
			if _, ok := b.p.registry.Get(x.Name); !ok {
				return nil, planErrorf("unknown function %s()", x.Name)
			}
		}
		for i := range x.Args {
			arg, err := b.resolveExpr(x.Args[i])
			if err != nil {
				return nil, err
			}
			x.Args[i] = arg
		}
		return x, nil
	case *CaseExpr:
		input, err := b.resolveExpr(x.Input)
		if err != nil {
			return nil, err
		}
		x.Input = input
		for i := range x.Whens {
			when, err := b.resolveExpr(x.Whens[i].When)
			if err != nil {
				return nil, err
			}
			then, err := b.resolveExpr(x.Whens[i].Then)
			if err != nil {
				return nil, err
			}
			x.Whens[i].When, x.Whens[i].Then = when, then
		}
		els, err := b.resolveExpr(x.Else)
		if err != nil {
			return nil, err
		}
		x.Else = els
		return x, nil
	}
	return nil, planErrorf("unsupported expression %T", e)
}

// resolveProps resolves every inline property expression in place.
func (b *branchPlanner) resolveProps(props map[string]Expr) error {
	for key, e := range props {
		re, err := b.resolveExpr(e)
		if err != nil {
			return err
		}
		props[key] = re
	}
	return nil
}

// resolveVarsIn resolves e with an explicit scope substituted.
func (b *branchPlanner) resolveVarsIn(e Expr, scope map[string]bool) (Expr, error) {
	saved := b.scope
	b.scope = scope
	defer func() { b.scope = saved }()
	return b.resolveExpr(e)
}

func containsAggregate(e Expr) bool {
	found := false
	walkExpr(e, func(x Expr) {
		if call, ok := x.(*FuncCall); ok && isAggregateFunc(call.Name) {
			found = true
		}
	})
	return found
}

func walkExpr(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch x := e.(type) {
	case *ListExpr:
		for _, item := range x.Items {
			walkExpr(item, visit)
		}
	case *MapExpr:
		for _, v := range x.Values {
			walkExpr(v, visit)
		}
	case *PropertyExpr:
		walkExpr(x.Subject, visit)
	case *IndexExpr:
		walkExpr(x.Subject, visit)
		walkExpr(x.Index, visit)
	case *UnaryExpr:
		walkExpr(x.Operand, visit)
	case *BinaryExpr:
		walkExpr(x.Left, visit)
		walkExpr(x.Right, visit)
	case *IsNullExpr:
		walkExpr(x.Operand, visit)
	case *FuncCall:
		for _, arg := range x.Args {
			walkExpr(arg, visit)
		}
	case *CaseExpr:
		walkExpr(x.Input, visit)
		for _, arm := range x.Whens {
			walkExpr(arm.When, visit)
			walkExpr(arm.Then, visit)
		}
		walkExpr(x.Else, visit)
	}
}

// sortedKeys gives inline property predicates a fixed order so identical
// queries always produce identical plans.
func sortedKeys(m map[string]Expr) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
