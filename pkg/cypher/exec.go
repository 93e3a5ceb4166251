// Package cypher - pull-based execution engine.
//
// Every plan operator compiles to a cursor with next(ctx) (Row, bool,
// error). A parent pulls from its child on demand; only the blocking
// operators (Aggregate, Distinct, Sort, Union; see blocking.go) buffer
// their whole input. Cancellation is cooperative: cursors check the
// context at next() boundaries, and a deadline surfaces as *TimeoutError.
// Mutations already applied before an abort are not rolled back.
package cypher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tveitane/hugindb/pkg/storage"
)

// Result is the caller-facing output of a statement: named columns and
// value rows. Node and relationship values appear as *storage.Node and
// *storage.Relationship; the transport layer decides their wire shape.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Run executes a compiled plan. Admin plans mutate or list the catalogs;
// everything else pulls rows from the operator tree.
func Run(ctx context.Context, engine storage.Engine, registry *FunctionRegistry, plan *Plan, params map[string]any) (*Result, error) {
	if plan.Admin != nil {
		return runAdmin(engine, registry, plan)
	}

	normParams := make(map[string]any, len(params))
	for k, v := range params {
		normParams[k] = normalizeValue(v)
	}

	e := &executor{
		engine: engine,
		slots:  plan.slots,
		ec:     &evalCtx{slots: plan.slots, params: normParams, registry: registry},
	}
	cur, err := e.compile(plan.Root, Row{})
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: plan.Columns}
	if result.Columns == nil {
		result.Columns = []string{}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, timeoutFrom(err)
		}
		row, ok, err := cur.next(ctx)
		if err != nil {
			return nil, normalizeExecErr(err)
		}
		if !ok {
			return result, nil
		}
		if len(plan.OutSlots) > 0 {
			out := make([]any, len(plan.OutSlots))
			for i, slot := range plan.OutSlots {
				if row.isBound(slot) {
					out[i] = row.get(slot)
				}
			}
			result.Rows = append(result.Rows, out)
		}
	}
}

func timeoutFrom(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Msg: "statement deadline exceeded"}
	}
	return &TimeoutError{Msg: "statement canceled"}
}

func normalizeExecErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeoutFrom(err)
	}
	return err
}

// executor carries the per-statement execution state shared by cursors.
type executor struct {
	engine storage.Engine
	slots  *slotTable
	ec     *evalCtx
}

// compile builds the cursor tree for op. argRow is the outer row an
// Argument leaf passes through; correlated subplans (Optional, Merge) are
// compiled afresh per outer row.
func (e *executor) compile(op Operator, argRow Row) (cursor, error) {
	switch x := op.(type) {
	case *RowSource:
		return &rowSourceCursor{width: e.slots.size()}, nil
	case *Argument:
		return &argumentCursor{row: argRow}, nil
	case *ScanAll:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &scanCursor{e: e, in: in, slot: x.Slot, fetch: e.engine.AllNodes}, nil
	case *ScanLabel:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		label := x.Label
		return &scanCursor{e: e, in: in, slot: x.Slot, fetch: func() ([]*storage.Node, error) {
			return e.engine.NodesByLabel(label)
		}}, nil
	case *IndexSeek:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &indexSeekCursor{e: e, in: in, op: x}, nil
	case *Expand:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &expandCursor{e: e, in: in, op: x}, nil
	case *LabelFilter:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &labelFilterCursor{in: in, op: x}, nil
	case *Filter:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &filterCursor{e: e, in: in, pred: x.Predicate}, nil
	case *Optional:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &optionalCursor{e: e, in: in, op: x, argRow: argRow}, nil
	case *Unwind:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &unwindCursor{e: e, in: in, op: x}, nil
	case *Project:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &projectCursor{e: e, in: in, op: x}, nil
	case *Aggregate:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &aggregateCursor{e: e, in: in, op: x}, nil
	case *Distinct:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &distinctCursor{in: in, slots: x.Slots}, nil
	case *Sort:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &sortCursor{e: e, in: in, op: x}, nil
	case *Skip:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &skipCursor{e: e, in: in, count: x.Count}, nil
	case *Limit:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &limitCursor{e: e, in: in, count: x.Count}, nil
	case *Union:
		return &unionCursor{e: e, op: x, argRow: argRow}, nil
	case *Create:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &createCursor{e: e, in: in, op: x}, nil
	case *Merge:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &mergeCursor{e: e, in: in, op: x, argRow: argRow}, nil
	case *SetProps:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &setCursor{e: e, in: in, items: x.Items}, nil
	case *RemoveProps:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &removeCursor{e: e, in: in, op: x}, nil
	case *Delete:
		in, err := e.compile(x.Input, argRow)
		if err != nil {
			return nil, err
		}
		return &deleteCursor{e: e, in: in, op: x}, nil
	}
	return nil, fmt.Errorf("internal: no cursor for operator %T", op)
}

// cursor is the pull interface every operator compiles to.
type cursor interface {
	next(ctx context.Context) (Row, bool, error)
}

// rowSourceCursor emits a single empty row.
type rowSourceCursor struct {
	width int
	done  bool
}

func (c *rowSourceCursor) next(ctx context.Context) (Row, bool, error) {
	if c.done {
		return Row{}, false, nil
	}
	c.done = true
	return newRow(c.width), true, nil
}

// argumentCursor emits the outer row once.
type argumentCursor struct {
	row  Row
	done bool
}

func (c *argumentCursor) next(ctx context.Context) (Row, bool, error) {
	if c.done {
		return Row{}, false, nil
	}
	c.done = true
	return c.row, true, nil
}

// scanCursor binds each node from fetch to slot, per input row. The node
// list materializes on first use, giving the scan snapshot semantics.
type scanCursor struct {
	e     *executor
	in    cursor
	slot  int
	fetch func() ([]*storage.Node, error)

	cur    Row
	active bool
	nodes  []*storage.Node
	idx    int
}

func (c *scanCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if !c.active {
			row, ok, err := c.in.next(ctx)
			if err != nil || !ok {
				return Row{}, false, err
			}
			nodes, err := c.fetch()
			if err != nil {
				return Row{}, false, err
			}
			c.cur, c.nodes, c.idx, c.active = row, nodes, 0, true
		}
		if c.idx >= len(c.nodes) {
			c.active = false
			continue
		}
		node := c.nodes[c.idx]
		c.idx++
		out := c.cur.clone()
		if err := c.e.slots.bind(out, c.slot, node); err != nil {
			return Row{}, false, err
		}
		return out, true, nil
	}
}

// indexSeekCursor resolves a point lookup per input row. When the index
// has disappeared since planning it falls back to the label scan the
// planner would otherwise have chosen.
type indexSeekCursor struct {
	e  *executor
	in cursor
	op *IndexSeek

	cur    Row
	active bool
	nodes  []*storage.Node
	idx    int
}

func (c *indexSeekCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if !c.active {
			row, ok, err := c.in.next(ctx)
			if err != nil || !ok {
				return Row{}, false, err
			}
			value, err := c.e.ec.withRow(row).eval(c.op.Value)
			if err != nil {
				return Row{}, false, err
			}
			nodes, err := c.e.engine.IndexLookup(c.op.Label, c.op.Property, value)
			if errors.Is(err, storage.ErrIndexNotFound) {
				nodes, err = c.fallbackScan(value)
			}
			if err != nil {
				return Row{}, false, err
			}
			c.cur, c.nodes, c.idx, c.active = row, nodes, 0, true
		}
		if c.idx >= len(c.nodes) {
			c.active = false
			continue
		}
		node := c.nodes[c.idx]
		c.idx++
		out := c.cur.clone()
		if err := c.e.slots.bind(out, c.op.Slot, node); err != nil {
			return Row{}, false, err
		}
		return out, true, nil
	}
}

func (c *indexSeekCursor) fallbackScan(value any) ([]*storage.Node, error) {
	all, err := c.e.engine.NodesByLabel(c.op.Label)
	if err != nil {
		return nil, err
	}
	var out []*storage.Node
	for _, n := range all {
		eq, isNull := valueEquals(n.Properties[c.op.Property], value)
		if !isNull && eq {
			out = append(out, n)
		}
	}
	return out, nil
}

// expandCursor traverses relationships from the node at FromSlot. For each
// input row it materializes the matching (rels, endpoint) extensions and
// streams them.
type expandCursor struct {
	e  *executor
	in cursor
	op *Expand

	buf []Row
	idx int
}

func (c *expandCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if c.idx < len(c.buf) {
			row := c.buf[c.idx]
			c.idx++
			return row, true, nil
		}
		row, ok, err := c.in.next(ctx)
		if err != nil || !ok {
			return Row{}, false, err
		}
		c.buf, err = c.expandRow(row)
		if err != nil {
			return Row{}, false, err
		}
		c.idx = 0
	}
}

func (c *expandCursor) expandRow(row Row) ([]Row, error) {
	fromVal := row.get(c.op.FromSlot)
	from, ok := fromVal.(*storage.Node)
	if !ok || from == nil {
		// A null endpoint (from an unmatched OPTIONAL MATCH) expands to
		// nothing.
		return nil, nil
	}

	if c.op.VarLength {
		return c.expandVarLength(row, from)
	}

	traversals, err := c.e.engine.Expand(from.ID, c.op.Direction, c.op.RelType)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, t := range traversals {
		keep, err := c.admitRel(row, t.Rel)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		ext, ok, err := c.bindEndpoint(row, []*storage.Relationship{t.Rel}, t.Neighbor)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ext)
		}
	}
	return out, nil
}

// expandVarLength enumerates paths of MinHops..MaxHops relationships,
// depth first, never crossing the same relationship twice within one path.
func (c *expandCursor) expandVarLength(row Row, from *storage.Node) ([]Row, error) {
	var out []Row
	var path []*storage.Relationship
	seen := map[storage.RelID]bool{}

	var walk func(at storage.NodeID) error
	walk = func(at storage.NodeID) error {
		if len(path) >= c.op.MinHops {
			ext, ok, err := c.bindEndpoint(row, path, at)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, ext)
			}
		}
		if c.op.MaxHops >= 0 && len(path) >= c.op.MaxHops {
			return nil
		}
		traversals, err := c.e.engine.Expand(at, c.op.Direction, c.op.RelType)
		if err != nil {
			return err
		}
		for _, t := range traversals {
			if seen[t.Rel.ID] {
				continue
			}
			keep, err := c.admitRel(row, t.Rel)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
			seen[t.Rel.ID] = true
			path = append(path, t.Rel)
			if err := walk(t.Neighbor); err != nil {
				return err
			}
			path = path[:len(path)-1]
			delete(seen, t.Rel.ID)
		}
		return nil
	}
	if err := walk(from.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// admitRel applies the inline property predicates and the
// relationship-uniqueness rule.
func (c *expandCursor) admitRel(row Row, rel *storage.Relationship) (bool, error) {
	for _, slot := range c.op.UniqueWith {
		if !row.isBound(slot) {
			continue
		}
		switch v := row.get(slot).(type) {
		case *storage.Relationship:
			if v != nil && v.ID == rel.ID {
				return false, nil
			}
		case []any:
			for _, item := range v {
				if r, ok := item.(*storage.Relationship); ok && r.ID == rel.ID {
					return false, nil
				}
			}
		}
	}
	for key, expr := range c.op.Props {
		want, err := c.e.ec.withRow(row).eval(expr)
		if err != nil {
			return false, err
		}
		eq, isNull := valueEquals(rel.Properties[key], want)
		if isNull || !eq {
			return false, nil
		}
	}
	return true, nil
}

// bindEndpoint extends row with the relationship binding and the endpoint
// node. A pre-bound endpoint turns the expansion into a join filter.
func (c *expandCursor) bindEndpoint(row Row, path []*storage.Relationship, neighbor storage.NodeID) (Row, bool, error) {
	if row.isBound(c.op.ToSlot) {
		bound, ok := row.get(c.op.ToSlot).(*storage.Node)
		if !ok || bound == nil || bound.ID != neighbor {
			return Row{}, false, nil
		}
		out := row.clone()
		if err := c.bindRel(out, path); err != nil {
			return Row{}, false, err
		}
		return out, true, nil
	}

	node, err := c.e.engine.GetNode(neighbor)
	if err != nil {
		return Row{}, false, err
	}
	out := row.clone()
	if err := c.e.slots.bind(out, c.op.ToSlot, node); err != nil {
		return Row{}, false, err
	}
	if err := c.bindRel(out, path); err != nil {
		return Row{}, false, err
	}
	return out, true, nil
}

func (c *expandCursor) bindRel(row Row, path []*storage.Relationship) error {
	if c.op.VarLength {
		list := make([]any, len(path))
		for i, r := range path {
			list[i] = r
		}
		return c.e.slots.bind(row, c.op.RelSlot, list)
	}
	return c.e.slots.bind(row, c.op.RelSlot, path[0])
}

type labelFilterCursor struct {
	in cursor
	op *LabelFilter
}

func (c *labelFilterCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		row, ok, err := c.in.next(ctx)
		if err != nil || !ok {
			return Row{}, false, err
		}
		node, isNode := row.get(c.op.Slot).(*storage.Node)
		if !isNode || node == nil {
			continue
		}
		match := true
		for _, label := range c.op.Labels {
			if !node.HasLabel(label) {
				match = false
				break
			}
		}
		if match {
			return row, true, nil
		}
	}
}

type filterCursor struct {
	e    *executor
	in   cursor
	pred Expr
}

func (c *filterCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		row, ok, err := c.in.next(ctx)
		if err != nil || !ok {
			return Row{}, false, err
		}
		keep, err := c.e.ec.withRow(row).evalPredicate(c.pred)
		if err != nil {
			return Row{}, false, err
		}
		if keep {
			return row, true, nil
		}
	}
}

// optionalCursor runs the subplan per input row, falling back to a
// null-extended passthrough row when the subplan produces nothing.
type optionalCursor struct {
	e      *executor
	in     cursor
	op     *Optional
	argRow Row

	sub     cursor
	cur     Row
	matched bool
}

func (c *optionalCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if c.sub == nil {
			row, ok, err := c.in.next(ctx)
			if err != nil || !ok {
				return Row{}, false, err
			}
			sub, err := c.e.compile(c.op.Sub, row)
			if err != nil {
				return Row{}, false, err
			}
			c.sub, c.cur, c.matched = sub, row, false
		}
		row, ok, err := c.sub.next(ctx)
		if err != nil {
			return Row{}, false, err
		}
		if ok {
			c.matched = true
			return row, true, nil
		}
		c.sub = nil
		if !c.matched {
			out := c.cur.clone()
			for _, slot := range c.op.IntroducedSlots {
				if !out.isBound(slot) {
					if err := c.e.slots.bind(out, slot, nil); err != nil {
						return Row{}, false, err
					}
				}
			}
			return out, true, nil
		}
	}
}

type unwindCursor struct {
	e  *executor
	in cursor
	op *Unwind

	cur    Row
	active bool
	items  []any
	idx    int
}

func (c *unwindCursor) next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if !c.active {
			row, ok, err := c.in.next(ctx)
			if err != nil || !ok {
				return Row{}, false, err
			}
			v, err := c.e.ec.withRow(row).eval(c.op.List)
			if err != nil {
				return Row{}, false, err
			}
			var items []any
			switch list := v.(type) {
			case nil:
				items = nil
			case []any:
				items = list
			default:
				return Row{}, false, typeErrorf("UNWIND requires a list, got %s", typeName(v))
			}
			c.cur, c.items, c.idx, c.active = row, items, 0, true
		}
		if c.idx >= len(c.items) {
			c.active = false
			continue
		}
		item := c.items[c.idx]
		c.idx++
		out := c.cur.clone()
		if err := c.e.slots.bind(out, c.op.Slot, item); err != nil {
			return Row{}, false, err
		}
		return out, true, nil
	}
}

type projectCursor struct {
	e  *executor
	in cursor
	op *Project
}

func (c *projectCursor) next(ctx context.Context) (Row, bool, error) {
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	// Evaluate every item against the input row before binding, so one
	// item cannot observe another's output.
	values := make([]any, len(c.op.Items))
	ec := c.e.ec.withRow(row)
	for i, item := range c.op.Items {
		v, err := ec.eval(item.Expr)
		if err != nil {
			return Row{}, false, err
		}
		values[i] = v
	}
	out := row.clone()
	for i, item := range c.op.Items {
		if err := c.e.slots.rebind(out, item.Slot, values[i]); err != nil {
			return Row{}, false, err
		}
	}
	return out, true, nil
}

type skipCursor struct {
	e       *executor
	in      cursor
	count   Expr
	skipped bool
}

func (c *skipCursor) next(ctx context.Context) (Row, bool, error) {
	if !c.skipped {
		c.skipped = true
		n, err := c.e.evalCount(c.count, "SKIP")
		if err != nil {
			return Row{}, false, err
		}
		for i := int64(0); i < n; i++ {
			_, ok, err := c.in.next(ctx)
			if err != nil || !ok {
				return Row{}, false, err
			}
		}
	}
	return c.in.next(ctx)
}

type limitCursor struct {
	e       *executor
	in      cursor
	count   Expr
	limit   int64
	seen    int64
	started bool
}

func (c *limitCursor) next(ctx context.Context) (Row, bool, error) {
	if !c.started {
		c.started = true
		n, err := c.e.evalCount(c.count, "LIMIT")
		if err != nil {
			return Row{}, false, err
		}
		c.limit = n
	}
	if c.seen >= c.limit {
		return Row{}, false, nil
	}
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	c.seen++
	return row, true, nil
}

func (e *executor) evalCount(expr Expr, clause string) (int64, error) {
	v, err := e.ec.withRow(newRow(e.slots.size())).eval(expr)
	if err != nil {
		return 0, err
	}
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return 0, typeErrorf("%s requires a non-negative integer", clause)
	}
	return n, nil
}

// =============================================================================
// Admin execution
// =============================================================================

func runAdmin(engine storage.Engine, registry *FunctionRegistry, plan *Plan) (*Result, error) {
	switch a := plan.Admin.(type) {
	case *CreateIndexStatement:
		err := engine.CreateIndex(a.Label, a.Property)
		if errors.Is(err, storage.ErrIndexExists) && a.IfNotExists {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{}}, nil

	case *ShowIndexesStatement:
		result := &Result{Columns: plan.Columns}
		for _, desc := range engine.Indexes() {
			result.Rows = append(result.Rows, []any{desc.Label, desc.Property})
		}
		return result, nil

	case *CreateFunctionStatement:
		err := registry.Register(&UserFunction{
			Name:     a.Name,
			Args:     a.Args,
			Body:     a.Body,
			BodyText: a.BodyText,
			Created:  time.Now(),
		})
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{}}, nil

	case *DropFunctionStatement:
		if err := registry.Drop(a.Name); err != nil {
			return nil, err
		}
		return &Result{Columns: []string{}}, nil

	case *ShowFunctionsStatement:
		result := &Result{Columns: plan.Columns}
		for _, fn := range registry.List() {
			args := ""
			for i, arg := range fn.Args {
				if i > 0 {
					args += ", "
				}
				args += arg
			}
			result.Rows = append(result.Rows, []any{fn.Name, args, fn.BodyText})
		}
		return result, nil
	}
	return nil, fmt.Errorf("internal: unknown admin statement %T", plan.Admin)
}
