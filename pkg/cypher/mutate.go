// Package cypher - mutation executors.
//
// Mutations run eagerly against the store for each row they consume, and
// emit the row extended with the created entities so RETURN can project
// them. Endpoints resolve strictly against the current row's bindings;
// nothing is ever taken from a previous statement or a sibling row. There
// is no rollback: a store error aborts the statement, but mutations
// already applied for earlier rows stay applied.
package cypher

import (
	"context"
	"errors"
	"fmt"

	"github.com/tveitane/hugindb/pkg/storage"
)

type createCursor struct {
	e  *executor
	in cursor
	op *Create
}

func (c *createCursor) next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	out, _, err := c.e.createPattern(row, c.op.Nodes, c.op.Rels)
	if err != nil {
		return Row{}, false, err
	}
	return out, true, nil
}

// createPattern materializes one pattern part against a row, returning the
// extended row and the node values in pattern order (for MERGE's SET
// branches). Shared with mergeCursor.
func (e *executor) createPattern(row Row, nodeSpecs []CreateNodeSpec, relSpecs []CreateRelSpec) (Row, []*storage.Node, error) {
	out := row.clone()
	nodes := make([]*storage.Node, len(nodeSpecs))

	for i, spec := range nodeSpecs {
		if spec.Bound {
			node, ok := out.get(spec.Slot).(*storage.Node)
			if !ok || node == nil {
				return Row{}, nil, typeErrorf("cannot use null as a relationship endpoint")
			}
			nodes[i] = node
			continue
		}
		props, err := e.evalProps(out, spec.Props)
		if err != nil {
			return Row{}, nil, err
		}
		node, err := e.engine.CreateNode(spec.Labels, props)
		if err != nil {
			return Row{}, nil, fmt.Errorf("create node: %w", err)
		}
		if err := e.slots.bind(out, spec.Slot, node); err != nil {
			return Row{}, nil, err
		}
		nodes[i] = node
	}

	for _, spec := range relSpecs {
		props, err := e.evalProps(out, spec.Props)
		if err != nil {
			return Row{}, nil, err
		}
		rel, err := e.engine.CreateRelationship(nodes[spec.FromNode].ID, nodes[spec.ToNode].ID, spec.Type, props)
		if err != nil {
			return Row{}, nil, fmt.Errorf("create relationship: %w", err)
		}
		if spec.Slot >= 0 {
			if err := e.slots.bind(out, spec.Slot, rel); err != nil {
				return Row{}, nil, err
			}
		}
	}
	return out, nodes, nil
}

func (e *executor) evalProps(row Row, props map[string]Expr) (map[string]any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	ec := e.ec.withRow(row)
	out := make(map[string]any, len(props))
	for _, key := range sortedKeys(props) {
		v, err := ec.eval(props[key])
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out[key] = v
	}
	return out, nil
}

// mergeCursor matches its subplan per input row; every match passes
// through with ON MATCH applied, and a miss creates the pattern with
// ON CREATE applied.
type mergeCursor struct {
	e      *executor
	in     cursor
	op     *Merge
	argRow Row

	buf []Row
	idx int
}

func (c *mergeCursor) next(ctx context.Context) (Row, bool, error) {
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
		c.buf, err = c.mergeRow(ctx, row)
		if err != nil {
			return Row{}, false, err
		}
		c.idx = 0
	}
}

func (c *mergeCursor) mergeRow(ctx context.Context, row Row) ([]Row, error) {
	sub, err := c.e.compile(c.op.Sub, row)
	if err != nil {
		return nil, err
	}
	var matched []Row
	for {
		m, ok, err := sub.next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		matched = append(matched, m)
	}

	if len(matched) > 0 {
		for _, m := range matched {
			if err := c.e.applySetSpecs(m, c.op.OnMatch); err != nil {
				return nil, err
			}
		}
		return matched, nil
	}

	out, _, err := c.e.createPattern(row, c.op.Nodes, c.op.Rels)
	if err != nil {
		return nil, err
	}
	if err := c.e.applySetSpecs(out, c.op.OnCreate); err != nil {
		return nil, err
	}
	return []Row{out}, nil
}

type setCursor struct {
	e     *executor
	in    cursor
	items []SetSpec
}

func (c *setCursor) next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	if err := c.e.applySetSpecs(row, c.items); err != nil {
		return Row{}, false, err
	}
	return row, true, nil
}

// applySetSpecs mutates the entities bound in the row, eagerly, persisting
// each change. SET on a null entity is a no-op, matching OPTIONAL MATCH
// semantics. Assigning null removes the property.
func (e *executor) applySetSpecs(row Row, items []SetSpec) error {
	ec := e.ec.withRow(row)
	for _, item := range items {
		entity := row.get(item.Slot)
		if entity == nil {
			continue
		}
		switch target := entity.(type) {
		case *storage.Node:
			switch {
			case item.Key != "":
				v, err := ec.eval(item.Value)
				if err != nil {
					return err
				}
				setProperty(&target.Properties, item.Key, v)
			case item.MapValue != nil:
				if err := e.mergeProps(ec, &target.Properties, item.MapValue); err != nil {
					return err
				}
			default:
				for _, label := range item.Labels {
					if !target.HasLabel(label) {
						target.Labels = append(target.Labels, label)
					}
				}
			}
			if err := e.engine.UpdateNode(target); err != nil {
				return fmt.Errorf("set on node %d: %w", target.ID, err)
			}

		case *storage.Relationship:
			switch {
			case item.Key != "":
				v, err := ec.eval(item.Value)
				if err != nil {
					return err
				}
				setProperty(&target.Properties, item.Key, v)
			case item.MapValue != nil:
				if err := e.mergeProps(ec, &target.Properties, item.MapValue); err != nil {
					return err
				}
			default:
				return typeErrorf("cannot set labels on a relationship")
			}
			if err := e.engine.UpdateRelationship(target); err != nil {
				return fmt.Errorf("set on relationship %d: %w", target.ID, err)
			}

		default:
			return typeErrorf("SET requires a node or relationship, got %s", typeName(entity))
		}
	}
	return nil
}

func setProperty(props *map[string]any, key string, v any) {
	if *props == nil {
		*props = make(map[string]any)
	}
	if v == nil {
		delete(*props, key)
		return
	}
	(*props)[key] = v
}

func (e *executor) mergeProps(ec *evalCtx, props *map[string]any, mapExpr Expr) error {
	v, err := ec.eval(mapExpr)
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return typeErrorf("SET += requires a map, got %s", typeName(v))
	}
	for key, val := range m {
		setProperty(props, key, val)
	}
	return nil
}

type removeCursor struct {
	e  *executor
	in cursor
	op *RemoveProps
}

func (c *removeCursor) next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	for _, item := range c.op.Items {
		entity := row.get(item.Slot)
		if entity == nil {
			continue
		}
		switch target := entity.(type) {
		case *storage.Node:
			if item.Key != "" {
				delete(target.Properties, item.Key)
			} else {
				target.Labels = removeLabels(target.Labels, item.Labels)
			}
			if err := c.e.engine.UpdateNode(target); err != nil {
				return Row{}, false, fmt.Errorf("remove on node %d: %w", target.ID, err)
			}
		case *storage.Relationship:
			if item.Key == "" {
				return Row{}, false, typeErrorf("cannot remove labels from a relationship")
			}
			delete(target.Properties, item.Key)
			if err := c.e.engine.UpdateRelationship(target); err != nil {
				return Row{}, false, fmt.Errorf("remove on relationship %d: %w", target.ID, err)
			}
		default:
			return Row{}, false, typeErrorf("REMOVE requires a node or relationship, got %s", typeName(entity))
		}
	}
	return row, true, nil
}

func removeLabels(labels, drop []string) []string {
	out := labels[:0]
	for _, l := range labels {
		keep := true
		for _, d := range drop {
			if l == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, l)
		}
	}
	return out
}

// deleteCursor removes bound entities per row. Entities already deleted by
// an earlier row of the same statement are skipped silently; a node that
// still has relationships fails without Detach.
type deleteCursor struct {
	e  *executor
	in cursor
	op *Delete
}

func (c *deleteCursor) next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	row, ok, err := c.in.next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	for _, slot := range c.op.Slots {
		entity := row.get(slot)
		if entity == nil {
			continue
		}
		switch target := entity.(type) {
		case *storage.Node:
			err := c.e.engine.DeleteNode(target.ID, c.op.Detach)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return Row{}, false, fmt.Errorf("delete node %d: %w", target.ID, err)
			}
		case *storage.Relationship:
			err := c.e.engine.DeleteRelationship(target.ID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return Row{}, false, fmt.Errorf("delete relationship %d: %w", target.ID, err)
			}
		default:
			return Row{}, false, typeErrorf("DELETE requires a node or relationship, got %s", typeName(entity))
		}
	}
	return row, true, nil
}
