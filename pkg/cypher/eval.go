// Package cypher - expression evaluation and value semantics.
//
// Runtime values are: nil, int64, float64, string, bool, []any,
// map[string]any, time.Time, *storage.Node and *storage.Relationship.
// Comparisons follow Cypher's three-valued logic: any comparison touching
// null, and any comparison of incompatible types, yields null rather than
// an error. Integers and floats compare numerically (30 = 30.0).
package cypher

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tveitane/hugindb/pkg/storage"
)

// evalCtx carries everything expression evaluation needs: the current row,
// the plan's slot table, query parameters and the function registry.
type evalCtx struct {
	slots    *slotTable
	row      Row
	params   map[string]any
	registry *FunctionRegistry
	// locals shadow row bindings inside user-defined function bodies.
	locals map[string]any
}

func (ec *evalCtx) withRow(row Row) *evalCtx {
	return &evalCtx{slots: ec.slots, row: row, params: ec.params, registry: ec.registry}
}

// eval computes an expression against the current row.
func (ec *evalCtx) eval(e Expr) (any, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Value, nil

	case *ListExpr:
		out := make([]any, len(x.Items))
		for i, item := range x.Items {
			v, err := ec.eval(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *MapExpr:
		out := make(map[string]any, len(x.Keys))
		for i, key := range x.Keys {
			v, err := ec.eval(x.Values[i])
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil

	case *Parameter:
		v, ok := ec.params[x.Name]
		if !ok {
			return nil, typeErrorf("missing parameter $%s", x.Name)
		}
		return normalizeValue(v), nil

	case *Variable:
		// Only user-defined function bodies reach here; the planner
		// rewrites every other variable into a direct slot read.
		if ec.locals != nil {
			if v, ok := ec.locals[x.Name]; ok {
				return v, nil
			}
		}
		slot, ok := ec.slots.lookup(x.Name)
		if !ok || !ec.row.isBound(slot) {
			return nil, typeErrorf("variable %q is not bound", x.Name)
		}
		return ec.row.get(slot), nil

	case *slotRef:
		if !ec.row.isBound(x.slot) {
			return nil, typeErrorf("internal: slot %d is not bound", x.slot)
		}
		return ec.row.get(x.slot), nil

	case *PropertyExpr:
		subject, err := ec.eval(x.Subject)
		if err != nil {
			return nil, err
		}
		return propertyOf(subject, x.Key)

	case *IndexExpr:
		return ec.evalIndex(x)

	case *UnaryExpr:
		return ec.evalUnary(x)

	case *BinaryExpr:
		return ec.evalBinary(x)

	case *IsNullExpr:
		v, err := ec.eval(x.Operand)
		if err != nil {
			return nil, err
		}
		isNull := v == nil
		if x.Negate {
			return !isNull, nil
		}
		return isNull, nil

	case *FuncCall:
		return ec.evalCall(x)

	case *CaseExpr:
		return ec.evalCase(x)
	}
	return nil, typeErrorf("unsupported expression %T", e)
}

// evalPredicate evaluates a WHERE-position expression. Null results and
// type errors exclude the row instead of aborting the statement.
func (ec *evalCtx) evalPredicate(e Expr) (bool, error) {
	v, err := ec.eval(e)
	if err != nil {
		if _, ok := err.(*TypeError); ok {
			return false, nil
		}
		return false, err
	}
	b, isNull := truthOf(v)
	if isNull {
		return false, nil
	}
	return b, nil
}

func propertyOf(subject any, key string) (any, error) {
	switch s := subject.(type) {
	case nil:
		return nil, nil
	case *storage.Node:
		return s.Properties[key], nil
	case *storage.Relationship:
		return s.Properties[key], nil
	case map[string]any:
		return s[key], nil
	}
	return nil, typeErrorf("cannot access property %q on %s", key, typeName(subject))
}

func (ec *evalCtx) evalIndex(x *IndexExpr) (any, error) {
	subject, err := ec.eval(x.Subject)
	if err != nil {
		return nil, err
	}
	index, err := ec.eval(x.Index)
	if err != nil {
		return nil, err
	}
	if subject == nil || index == nil {
		return nil, nil
	}
	switch s := subject.(type) {
	case []any:
		i, ok := toInt64(index)
		if !ok {
			return nil, typeErrorf("list index must be an integer, got %s", typeName(index))
		}
		if i < 0 {
			i += int64(len(s))
		}
		if i < 0 || i >= int64(len(s)) {
			return nil, nil
		}
		return s[i], nil
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, typeErrorf("map key must be a string, got %s", typeName(index))
		}
		return s[key], nil
	}
	return nil, typeErrorf("cannot index into %s", typeName(subject))
}

func (ec *evalCtx) evalUnary(x *UnaryExpr) (any, error) {
	v, err := ec.eval(x.Operand)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "NOT":
		b, isNull := truthOf(v)
		if isNull {
			return nil, nil
		}
		return !b, nil
	case "-":
		switch n := v.(type) {
		case nil:
			return nil, nil
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, typeErrorf("cannot negate %s", typeName(v))
	case "+":
		switch v.(type) {
		case nil, int64, float64:
			return v, nil
		}
		return nil, typeErrorf("unary + requires a number, got %s", typeName(v))
	}
	return nil, typeErrorf("unsupported unary operator %q", x.Op)
}

func (ec *evalCtx) evalBinary(x *BinaryExpr) (any, error) {
	// Short-circuit logic first; AND/OR must not evaluate the right side
	// when the left side decides the outcome.
	switch x.Op {
	case "AND", "OR", "XOR":
		return ec.evalLogic(x)
	}

	left, err := ec.eval(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := ec.eval(x.Right)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case "+", "-", "*", "/", "%":
		return arith(x.Op, left, right)
	case "=", "<>":
		eq, isNull := valueEquals(left, right)
		if isNull {
			return nil, nil
		}
		if x.Op == "<>" {
			return !eq, nil
		}
		return eq, nil
	case "<", "<=", ">", ">=":
		cmp, isNull := orderValues(left, right)
		if isNull {
			return nil, nil
		}
		switch x.Op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "IN":
		return evalIn(left, right)
	case "STARTS WITH", "ENDS WITH", "CONTAINS":
		if left == nil || right == nil {
			return nil, nil
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return nil, nil
		}
		switch x.Op {
		case "STARTS WITH":
			return strings.HasPrefix(ls, rs), nil
		case "ENDS WITH":
			return strings.HasSuffix(ls, rs), nil
		default:
			return strings.Contains(ls, rs), nil
		}
	}
	return nil, typeErrorf("unsupported operator %q", x.Op)
}

// evalLogic implements three-valued AND/OR/XOR.
func (ec *evalCtx) evalLogic(x *BinaryExpr) (any, error) {
	left, err := ec.eval(x.Left)
	if err != nil {
		return nil, err
	}
	lb, lNull := truthOf(left)

	switch x.Op {
	case "AND":
		if !lNull && !lb {
			return false, nil
		}
	case "OR":
		if !lNull && lb {
			return true, nil
		}
	}

	right, err := ec.eval(x.Right)
	if err != nil {
		return nil, err
	}
	rb, rNull := truthOf(right)

	switch x.Op {
	case "AND":
		if !rNull && !rb {
			return false, nil
		}
		if lNull || rNull {
			return nil, nil
		}
		return true, nil
	case "OR":
		if !rNull && rb {
			return true, nil
		}
		if lNull || rNull {
			return nil, nil
		}
		return false, nil
	default: // XOR
		if lNull || rNull {
			return nil, nil
		}
		return lb != rb, nil
	}
}

func evalIn(left, right any) (any, error) {
	if right == nil {
		return nil, nil
	}
	list, ok := right.([]any)
	if !ok {
		return nil, typeErrorf("IN requires a list, got %s", typeName(right))
	}
	if left == nil {
		return nil, nil
	}
	sawNull := false
	for _, item := range list {
		eq, isNull := valueEquals(left, item)
		if isNull {
			sawNull = true
			continue
		}
		if eq {
			return true, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return false, nil
}

func (ec *evalCtx) evalCase(x *CaseExpr) (any, error) {
	if x.Input != nil {
		input, err := ec.eval(x.Input)
		if err != nil {
			return nil, err
		}
		for _, arm := range x.Whens {
			when, err := ec.eval(arm.When)
			if err != nil {
				return nil, err
			}
			eq, isNull := valueEquals(input, when)
			if !isNull && eq {
				return ec.eval(arm.Then)
			}
		}
	} else {
		for _, arm := range x.Whens {
			cond, err := ec.eval(arm.When)
			if err != nil {
				return nil, err
			}
			b, isNull := truthOf(cond)
			if !isNull && b {
				return ec.eval(arm.Then)
			}
		}
	}
	if x.Else != nil {
		return ec.eval(x.Else)
	}
	return nil, nil
}

// =============================================================================
// Value semantics
// =============================================================================

// truthOf converts a value to three-valued boolean: (truth, isNull).
func truthOf(v any) (bool, bool) {
	switch b := v.(type) {
	case nil:
		return false, true
	case bool:
		return b, false
	}
	return false, true
}

// valueEquals is Cypher equality: null-propagating, numerically unified,
// structural over lists and maps, identity over graph entities.
func valueEquals(a, b any) (equal bool, isNull bool) {
	if a == nil || b == nil {
		return false, true
	}
	if an, aok := toFloat64(a); aok {
		if bn, bok := toFloat64(b); bok {
			return an == bn, false
		}
		return false, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false, true
		}
		return av == bv, false
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, true
		}
		return av == bv, false
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return false, true
		}
		return av.Equal(bv), false
	case *storage.Node:
		bv, ok := b.(*storage.Node)
		if !ok {
			return false, true
		}
		return av.ID == bv.ID, false
	case *storage.Relationship:
		bv, ok := b.(*storage.Relationship)
		if !ok {
			return false, true
		}
		return av.ID == bv.ID, false
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return false, true
		}
		if len(av) != len(bv) {
			return false, false
		}
		for i := range av {
			eq, null := valueEquals(av[i], bv[i])
			if null {
				return false, true
			}
			if !eq {
				return false, false
			}
		}
		return true, false
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false, true
		}
		if len(av) != len(bv) {
			return false, false
		}
		for k, v := range av {
			bval, present := bv[k]
			if !present {
				return false, false
			}
			eq, null := valueEquals(v, bval)
			if null {
				return false, true
			}
			if !eq {
				return false, false
			}
		}
		return true, false
	}
	return false, true
}

// orderValues gives the < ordering for comparable pairs: numbers with
// numbers, strings with strings, booleans with booleans, temporals with
// temporals. Everything else is incomparable and yields null.
func orderValues(a, b any) (cmp int, isNull bool) {
	if a == nil || b == nil {
		return 0, true
	}
	if an, aok := toFloat64(a); aok {
		if bn, bok := toFloat64(b); bok {
			switch {
			case an < bn:
				return -1, false
			case an > bn:
				return 1, false
			default:
				return 0, false
			}
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), false
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, false
			case !av:
				return -1, false
			default:
				return 1, false
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), false
		}
	}
	return 0, true
}

// sortValues is the total order ORDER BY uses: comparable pairs follow
// orderValues; nulls sort last; incomparable pairs order by type name so
// sorting stays deterministic.
func sortValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	if cmp, isNull := orderValues(a, b); !isNull {
		return cmp
	}
	return strings.Compare(typeName(a), typeName(b))
}

func arith(op string, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}

	// String and list concatenation ride on '+'.
	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				out := make([]any, 0, len(ll)+len(rl))
				out = append(out, ll...)
				return append(out, rl...), nil
			}
		}
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, typeErrorf("division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, typeErrorf("division by zero")
			}
			return li % ri, nil
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, typeErrorf("cannot apply %q to %s and %s", op, typeName(left), typeName(right))
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, typeErrorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, typeErrorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, typeErrorf("unsupported operator %q", op)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// normalizeValue converts caller-supplied parameter values (typically from
// JSON decoding) into the engine's canonical runtime types.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	case float64:
		// JSON decodes every number as float64; fold integral values back.
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return int64(n)
		}
		return n
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, item := range n {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return v
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int64, int:
		return "integer"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case time.Time:
		return "temporal"
	case *storage.Node:
		return "node"
	case *storage.Relationship:
		return "relationship"
	}
	return "value"
}

// groupKey renders a value as a canonical string so DISTINCT and grouping
// can hash full rows structurally. Graph entities key by identity; numbers
// share a keyspace with the same unification the indexes use.
func groupKey(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("~")
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(x))
	case int64:
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
	case float64:
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(x))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(x.UTC().Format(time.RFC3339Nano))
	case *storage.Node:
		b.WriteString("N:")
		b.WriteString(strconv.FormatInt(int64(x.ID), 10))
	case *storage.Relationship:
		b.WriteString("R:")
		b.WriteString(strconv.FormatInt(int64(x.ID), 10))
	case []any:
		b.WriteString("[")
		for _, item := range x {
			groupKey(b, item)
			b.WriteString(",")
		}
		b.WriteString("]")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for _, k := range keys {
			b.WriteString(strconv.Quote(k))
			b.WriteString("=")
			groupKey(b, x[k])
			b.WriteString(",")
		}
		b.WriteString("}")
	default:
		b.WriteString("?")
	}
}

func groupKeyOf(values []any) string {
	var b strings.Builder
	for _, v := range values {
		groupKey(&b, v)
		b.WriteString("|")
	}
	return b.String()
}
