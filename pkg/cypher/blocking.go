// Package cypher - blocking executors.
//
// Aggregate, Distinct, Sort and Union consume their entire input before
// emitting anything; grouping, global order, duplicate elimination and
// branch ordering all depend on having seen every row.
package cypher

import (
	"context"
	"sort"
)

// aggregateCursor groups its input by the GroupBy values and folds the
// aggregate specs per group. Groups emit in first-seen order, so identical
// inputs produce identical outputs.
type aggregateCursor struct {
	e  *executor
	in cursor
	op *Aggregate

	built  bool
	groups []*aggGroup
	order  []string
	byKey  map[string]*aggGroup
	idx    int
}

type aggGroup struct {
	groupValues []any
	accs        []*aggAccumulator
}

func (c *aggregateCursor) next(ctx context.Context) (Row, bool, error) {
	if !c.built {
		if err := c.build(ctx); err != nil {
			return Row{}, false, err
		}
		c.built = true
	}
	if c.idx >= len(c.groups) {
		return Row{}, false, nil
	}
	g := c.groups[c.idx]
	c.idx++

	out := newRow(c.e.slots.size())
	for i, item := range c.op.GroupBy {
		if err := c.e.slots.bind(out, item.Slot, g.groupValues[i]); err != nil {
			return Row{}, false, err
		}
	}
	for i, spec := range c.op.Aggs {
		if err := c.e.slots.bind(out, spec.Slot, g.accs[i].result()); err != nil {
			return Row{}, false, err
		}
	}
	return out, true, nil
}

func (c *aggregateCursor) build(ctx context.Context) error {
	c.byKey = make(map[string]*aggGroup)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, ok, err := c.in.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		ec := c.e.ec.withRow(row)

		groupValues := make([]any, len(c.op.GroupBy))
		for i, item := range c.op.GroupBy {
			v, err := ec.eval(item.Expr)
			if err != nil {
				return err
			}
			groupValues[i] = v
		}
		key := groupKeyOf(groupValues)
		g := c.byKey[key]
		if g == nil {
			g = &aggGroup{groupValues: groupValues}
			for _, spec := range c.op.Aggs {
				g.accs = append(g.accs, newAggAccumulator(spec))
			}
			c.byKey[key] = g
			c.groups = append(c.groups, g)
		}
		for i, spec := range c.op.Aggs {
			if spec.Star {
				g.accs[i].addRow()
				continue
			}
			v, err := ec.eval(spec.Arg)
			if err != nil {
				return err
			}
			if err := g.accs[i].add(v); err != nil {
				return err
			}
		}
	}

	// An aggregation with no grouping keys over an empty input still
	// emits one row (count(*) over nothing is 0).
	if len(c.op.GroupBy) == 0 && len(c.groups) == 0 {
		g := &aggGroup{}
		for _, spec := range c.op.Aggs {
			g.accs = append(g.accs, newAggAccumulator(spec))
		}
		c.groups = append(c.groups, g)
	}
	return nil
}

// distinctCursor buffers its input and emits the first occurrence of each
// distinct row, preserving arrival order.
type distinctCursor struct {
	in    cursor
	slots []int

	built bool
	rows  []Row
	idx   int
}

func (c *distinctCursor) next(ctx context.Context) (Row, bool, error) {
	if !c.built {
		seen := map[string]bool{}
		for {
			if err := ctx.Err(); err != nil {
				return Row{}, false, err
			}
			row, ok, err := c.in.next(ctx)
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				break
			}
			values := make([]any, len(c.slots))
			for i, slot := range c.slots {
				if row.isBound(slot) {
					values[i] = row.get(slot)
				}
			}
			key := groupKeyOf(values)
			if seen[key] {
				continue
			}
			seen[key] = true
			c.rows = append(c.rows, row)
		}
		c.built = true
	}
	if c.idx >= len(c.rows) {
		return Row{}, false, nil
	}
	row := c.rows[c.idx]
	c.idx++
	return row, true, nil
}

// sortCursor buffers its input and emits it ordered by the sort keys,
// nulls last, stable for equal keys.
type sortCursor struct {
	e  *executor
	in cursor
	op *Sort

	built bool
	rows  []Row
	keys  [][]any
	idx   int
}

func (c *sortCursor) next(ctx context.Context) (Row, bool, error) {
	if !c.built {
		for {
			if err := ctx.Err(); err != nil {
				return Row{}, false, err
			}
			row, ok, err := c.in.next(ctx)
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				break
			}
			ec := c.e.ec.withRow(row)
			keys := make([]any, len(c.op.Keys))
			for i, key := range c.op.Keys {
				v, err := ec.eval(key.Expr)
				if err != nil {
					return Row{}, false, err
				}
				keys[i] = v
			}
			c.rows = append(c.rows, row)
			c.keys = append(c.keys, keys)
		}
		indices := make([]int, len(c.rows))
		for i := range indices {
			indices[i] = i
		}
		sort.SliceStable(indices, func(a, b int) bool {
			for k, key := range c.op.Keys {
				cmp := sortValues(c.keys[indices[a]][k], c.keys[indices[b]][k])
				if cmp == 0 {
					continue
				}
				if key.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
		ordered := make([]Row, len(c.rows))
		for i, src := range indices {
			ordered[i] = c.rows[src]
		}
		c.rows = ordered
		c.keys = nil
		c.built = true
	}
	if c.idx >= len(c.rows) {
		return Row{}, false, nil
	}
	row := c.rows[c.idx]
	c.idx++
	return row, true, nil
}

// unionCursor concatenates its branches in declaration order (every row
// of branch 0 precedes branch 1), remapping each branch's output slots
// onto the union's canonical slots. With Distinct it additionally drops
// duplicate output rows.
type unionCursor struct {
	e      *executor
	op     *Union
	argRow Row

	branch int
	cur    cursor
	seen   map[string]bool
}

func (c *unionCursor) next(ctx context.Context) (Row, bool, error) {
	if c.seen == nil && c.op.Distinct {
		c.seen = map[string]bool{}
	}
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		if c.cur == nil {
			if c.branch >= len(c.op.Branches) {
				return Row{}, false, nil
			}
			cur, err := c.e.compile(c.op.Branches[c.branch], c.argRow)
			if err != nil {
				return Row{}, false, err
			}
			c.cur = cur
		}
		row, ok, err := c.cur.next(ctx)
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			c.cur = nil
			c.branch++
			continue
		}

		out := newRow(c.e.slots.size())
		branchSlots := c.op.BranchSlots[c.branch]
		values := make([]any, len(branchSlots))
		for i, slot := range branchSlots {
			if row.isBound(slot) {
				values[i] = row.get(slot)
			}
		}
		if c.op.Distinct {
			key := groupKeyOf(values)
			if c.seen[key] {
				continue
			}
			c.seen[key] = true
		}
		// Branch columns align by name, not by kind, so the copy bypasses
		// the kind check; the values go straight to result projection.
		for i, slot := range c.op.OutSlots {
			out.vals[slot] = values[i]
			out.bound[slot] = true
		}
		return out, true, nil
	}
}
