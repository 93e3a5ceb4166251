// Package cypher - binding rows and the plan slot table.
package cypher

import (
	"fmt"

	"github.com/tveitane/hugindb/pkg/storage"
)

// SlotKind is the declared kind of a pattern variable, fixed at plan time.
// Executors refuse to bind a value of the wrong kind, so a variable from
// one part of a query can never be silently overwritten by an unrelated
// entity of a different shape.
type SlotKind int

const (
	SlotScalar SlotKind = iota
	SlotNode
	SlotRel
)

func (k SlotKind) String() string {
	switch k {
	case SlotNode:
		return "node"
	case SlotRel:
		return "relationship"
	default:
		return "scalar"
	}
}

type slotInfo struct {
	Name string
	Kind SlotKind
}

// slotTable maps variable names to row slots. It is built while planning
// and immutable during execution.
type slotTable struct {
	slots  []slotInfo
	byName map[string]int
}

func newSlotTable() *slotTable {
	return &slotTable{byName: make(map[string]int)}
}

// declare registers a variable, returning its slot. Re-declaring with the
// same kind returns the existing slot (shared variables join on it);
// re-declaring with a different kind is a planning error.
func (st *slotTable) declare(name string, kind SlotKind) (int, error) {
	if idx, ok := st.byName[name]; ok {
		if st.slots[idx].Kind != kind {
			return 0, planErrorf("variable %q already declared as %s, cannot rebind as %s",
				name, st.slots[idx].Kind, kind)
		}
		return idx, nil
	}
	st.slots = append(st.slots, slotInfo{Name: name, Kind: kind})
	idx := len(st.slots) - 1
	st.byName[name] = idx
	return idx, nil
}

func (st *slotTable) lookup(name string) (int, bool) {
	idx, ok := st.byName[name]
	return idx, ok
}

// retire re-registers a slot under an internal name, freeing its user name
// for a fresh declaration. Projection uses it when an alias shadows an
// input variable of a different kind; the old slot keeps its storage, and
// expressions planned earlier keep reading it by index.
func (st *slotTable) retire(name, hidden string) {
	idx, ok := st.byName[name]
	if !ok {
		return
	}
	delete(st.byName, name)
	st.byName[hidden] = idx
	st.slots[idx].Name = hidden
}

func (st *slotTable) size() int { return len(st.slots) }

// Row is one binding context: an append-only assignment of values to the
// plan's slots. Executors extend a row by cloning and binding fresh slots;
// they never replace an existing binding.
type Row struct {
	vals  []any
	bound []bool
}

func newRow(width int) Row {
	return Row{vals: make([]any, width), bound: make([]bool, width)}
}

func (r Row) clone() Row {
	out := Row{vals: make([]any, len(r.vals)), bound: make([]bool, len(r.bound))}
	copy(out.vals, r.vals)
	copy(out.bound, r.bound)
	return out
}

func (r Row) isBound(slot int) bool {
	return slot < len(r.bound) && r.bound[slot]
}

func (r Row) get(slot int) any {
	return r.vals[slot]
}

// bind sets a slot, enforcing the slot's declared kind and the append-only
// discipline. Kind violations are bugs in the planner, never user errors,
// and surface as internal errors rather than silent substitution.
func (st *slotTable) bind(r Row, slot int, value any) error {
	if r.bound[slot] {
		return fmt.Errorf("internal: slot %q already bound", st.slots[slot].Name)
	}
	if err := st.checkKind(slot, value); err != nil {
		return err
	}
	r.vals[slot] = value
	r.bound[slot] = true
	return nil
}

// rebind overwrites a slot with a same-kind value. Only projection uses it,
// when a WITH alias shadows an input variable of the same kind.
func (st *slotTable) rebind(r Row, slot int, value any) error {
	if err := st.checkKind(slot, value); err != nil {
		return err
	}
	r.vals[slot] = value
	r.bound[slot] = true
	return nil
}

func (st *slotTable) checkKind(slot int, value any) error {
	kind := st.slots[slot].Kind
	// Null is a member of every kind; OPTIONAL MATCH binds it to node and
	// relationship slots alike.
	if value == nil {
		return nil
	}
	switch value.(type) {
	case *storage.Node:
		if kind != SlotNode {
			return fmt.Errorf("internal: cannot bind node to %s slot %q", kind, st.slots[slot].Name)
		}
	case *storage.Relationship:
		if kind != SlotRel {
			return fmt.Errorf("internal: cannot bind relationship to %s slot %q", kind, st.slots[slot].Name)
		}
	default:
		if kind != SlotScalar {
			return fmt.Errorf("internal: cannot bind %T to %s slot %q", value, kind, st.slots[slot].Name)
		}
	}
	return nil
}
