// Package cypher - built-in scalar functions and the user-defined
// function registry.
package cypher

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tveitane/hugindb/pkg/storage"
)

// aggregateNames are resolved by the Aggregate operator, never by scalar
// evaluation.
var aggregateNames = map[string]bool{
	"count":   true,
	"sum":     true,
	"avg":     true,
	"min":     true,
	"max":     true,
	"collect": true,
}

func isAggregateFunc(name string) bool {
	return aggregateNames[strings.ToLower(name)]
}

type scalarFunc struct {
	minArgs int
	maxArgs int // -1 for variadic
	call    func(args []any) (any, error)
}

// isBuiltinFunc reports whether name resolves to a built-in (scalar or
// aggregate), case-insensitively.
func isBuiltinFunc(name string) bool {
	lower := strings.ToLower(name)
	if aggregateNames[lower] {
		return true
	}
	_, ok := builtinScalars[lower]
	return ok
}

func (ec *evalCtx) evalCall(x *FuncCall) (any, error) {
	lower := strings.ToLower(x.Name)
	if aggregateNames[lower] {
		// The planner lifts aggregate calls into the Aggregate operator;
		// reaching one here means it sits outside a RETURN/WITH item.
		return nil, typeErrorf("aggregate function %s() is not allowed in this context", x.Name)
	}

	args := make([]any, len(x.Args))
	for i, arg := range x.Args {
		v, err := ec.eval(arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if fn, ok := builtinScalars[lower]; ok {
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return nil, typeErrorf("wrong argument count for %s()", x.Name)
		}
		return fn.call(args)
	}

	if ec.registry != nil {
		if udf, ok := ec.registry.Get(x.Name); ok {
			return ec.callUserFunction(udf, args)
		}
	}
	return nil, typeErrorf("unknown function %s()", x.Name)
}

// callUserFunction evaluates a single-expression function body with the
// call arguments bound as locals shadowing outer variables.
func (ec *evalCtx) callUserFunction(udf *UserFunction, args []any) (any, error) {
	if len(args) != len(udf.Args) {
		return nil, typeErrorf("function %s() expects %d arguments, got %d", udf.Name, len(udf.Args), len(args))
	}
	locals := make(map[string]any, len(args))
	for i, name := range udf.Args {
		locals[name] = args[i]
	}
	inner := &evalCtx{slots: ec.slots, row: ec.row, params: ec.params, registry: ec.registry, locals: locals}
	return inner.eval(udf.Body)
}

var builtinScalars = map[string]scalarFunc{
	"id": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Node:
			return int64(v.ID), nil
		case *storage.Relationship:
			return int64(v.ID), nil
		}
		return nil, typeErrorf("id() requires a node or relationship, got %s", typeName(args[0]))
	}},
	"labels": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Node:
			out := make([]any, len(v.Labels))
			for i, l := range v.Labels {
				out[i] = l
			}
			return out, nil
		}
		return nil, typeErrorf("labels() requires a node, got %s", typeName(args[0]))
	}},
	"type": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Relationship:
			return v.Type, nil
		}
		return nil, typeErrorf("type() requires a relationship, got %s", typeName(args[0]))
	}},
	"startnode": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Relationship:
			return int64(v.StartNode), nil
		}
		return nil, typeErrorf("startNode() requires a relationship, got %s", typeName(args[0]))
	}},
	"endnode": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Relationship:
			return int64(v.EndNode), nil
		}
		return nil, typeErrorf("endNode() requires a relationship, got %s", typeName(args[0]))
	}},
	"properties": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Node:
			return storage.CopyProperties(v.Properties), nil
		case *storage.Relationship:
			return storage.CopyProperties(v.Properties), nil
		case map[string]any:
			return v, nil
		}
		return nil, typeErrorf("properties() requires an entity or map, got %s", typeName(args[0]))
	}},
	"keys": {1, 1, func(args []any) (any, error) {
		var props map[string]any
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case *storage.Node:
			props = v.Properties
		case *storage.Relationship:
			props = v.Properties
		case map[string]any:
			props = v
		default:
			return nil, typeErrorf("keys() requires an entity or map, got %s", typeName(args[0]))
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}},
	"coalesce": {1, -1, func(args []any) (any, error) {
		for _, v := range args {
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	}},
	"tostring": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano), nil
		}
		return nil, typeErrorf("toString() cannot convert %s", typeName(args[0]))
	}},
	"tointeger": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, nil
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return int64(f), nil
			}
			return nil, nil
		}
		return nil, nil
	}},
	"tofloat": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
			return nil, nil
		}
		return nil, nil
	}},
	"toboolean": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return nil, nil
		}
		return nil, nil
	}},
	"toupper": {1, 1, stringFunc(strings.ToUpper)},
	"tolower": {1, 1, stringFunc(strings.ToLower)},
	"trim":    {1, 1, stringFunc(strings.TrimSpace)},
	"ltrim": {1, 1, stringFunc(func(s string) string {
		return strings.TrimLeft(s, " \t\n\r")
	})},
	"rtrim": {1, 1, stringFunc(func(s string) string {
		return strings.TrimRight(s, " \t\n\r")
	})},
	"replace": {3, 3, func(args []any) (any, error) {
		s, ok1 := args[0].(string)
		old, ok2 := args[1].(string)
		new_, ok3 := args[2].(string)
		if args[0] == nil || args[1] == nil || args[2] == nil {
			return nil, nil
		}
		if !ok1 || !ok2 || !ok3 {
			return nil, typeErrorf("replace() requires strings")
		}
		return strings.ReplaceAll(s, old, new_), nil
	}},
	"split": {2, 2, func(args []any) (any, error) {
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		s, ok1 := args[0].(string)
		sep, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, typeErrorf("split() requires strings")
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, part := range parts {
			out[i] = part
		}
		return out, nil
	}},
	"substring": {2, 3, func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, typeErrorf("substring() requires a string")
		}
		start, ok := toInt64(args[1])
		if !ok || start < 0 {
			return nil, typeErrorf("substring() start must be a non-negative integer")
		}
		runes := []rune(s)
		if start >= int64(len(runes)) {
			return "", nil
		}
		end := int64(len(runes))
		if len(args) == 3 {
			length, ok := toInt64(args[2])
			if !ok || length < 0 {
				return nil, typeErrorf("substring() length must be a non-negative integer")
			}
			if start+length < end {
				end = start + length
			}
		}
		return string(runes[start:end]), nil
	}},
	"left": {2, 2, func(args []any) (any, error) {
		return sideString(args, true)
	}},
	"right": {2, 2, func(args []any) (any, error) {
		return sideString(args, false)
	}},
	"size": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return int64(len([]rune(v))), nil
		case []any:
			return int64(len(v)), nil
		case map[string]any:
			return int64(len(v)), nil
		}
		return nil, typeErrorf("size() requires a string, list or map, got %s", typeName(args[0]))
	}},
	"length": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return int64(len([]rune(v))), nil
		case []any:
			return int64(len(v)), nil
		}
		return nil, typeErrorf("length() requires a string or list, got %s", typeName(args[0]))
	}},
	"reverse": {1, 1, func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			runes := []rune(v)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		case []any:
			out := make([]any, len(v))
			for i, item := range v {
				out[len(v)-1-i] = item
			}
			return out, nil
		}
		return nil, typeErrorf("reverse() requires a string or list, got %s", typeName(args[0]))
	}},
	"head": {1, 1, func(args []any) (any, error) {
		list, err := listArg("head", args[0])
		if list == nil || err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}},
	"last": {1, 1, func(args []any) (any, error) {
		list, err := listArg("last", args[0])
		if list == nil || err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[len(list)-1], nil
	}},
	"tail": {1, 1, func(args []any) (any, error) {
		list, err := listArg("tail", args[0])
		if list == nil || err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return []any{}, nil
		}
		out := make([]any, len(list)-1)
		copy(out, list[1:])
		return out, nil
	}},
	"range": {2, 3, func(args []any) (any, error) {
		start, ok1 := toInt64(args[0])
		end, ok2 := toInt64(args[1])
		if !ok1 || !ok2 {
			return nil, typeErrorf("range() requires integer bounds")
		}
		step := int64(1)
		if len(args) == 3 {
			s, ok := toInt64(args[2])
			if !ok || s == 0 {
				return nil, typeErrorf("range() step must be a non-zero integer")
			}
			step = s
		}
		var out []any
		if step > 0 {
			for i := start; i <= end; i += step {
				out = append(out, i)
			}
		} else {
			for i := start; i >= end; i += step {
				out = append(out, i)
			}
		}
		return out, nil
	}},
	"abs": {1, 1, numericFunc(math.Abs, func(n int64) int64 {
		if n < 0 {
			return -n
		}
		return n
	})},
	"sign": {1, 1, func(args []any) (any, error) {
		f, ok := toFloat64(args[0])
		if args[0] == nil {
			return nil, nil
		}
		if !ok {
			return nil, typeErrorf("sign() requires a number, got %s", typeName(args[0]))
		}
		switch {
		case f > 0:
			return int64(1), nil
		case f < 0:
			return int64(-1), nil
		default:
			return int64(0), nil
		}
	}},
	"round": {1, 1, floatFunc(math.Round)},
	"floor": {1, 1, floatFunc(math.Floor)},
	"ceil":  {1, 1, floatFunc(math.Ceil)},
	"sqrt": {1, 1, func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		f, ok := toFloat64(args[0])
		if !ok {
			return nil, typeErrorf("sqrt() requires a number, got %s", typeName(args[0]))
		}
		if f < 0 {
			return nil, nil
		}
		return math.Sqrt(f), nil
	}},
	"timestamp": {0, 0, func(args []any) (any, error) {
		return time.Now().UnixMilli(), nil
	}},
}

func stringFunc(fn func(string) string) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return fn(v), nil
		}
		return nil, typeErrorf("expected a string, got %s", typeName(args[0]))
	}
}

func floatFunc(fn func(float64) float64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		f, ok := toFloat64(args[0])
		if !ok {
			return nil, typeErrorf("expected a number, got %s", typeName(args[0]))
		}
		return fn(f), nil
	}
}

func numericFunc(ffn func(float64) float64, ifn func(int64) int64) func(args []any) (any, error) {
	return func(args []any) (any, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case int64:
			return ifn(v), nil
		case float64:
			return ffn(v), nil
		}
		return nil, typeErrorf("expected a number, got %s", typeName(args[0]))
	}
}

func listArg(name string, v any) ([]any, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return list, nil
	}
	return nil, typeErrorf("%s() requires a list, got %s", name, typeName(v))
}

func sideString(args []any, fromLeft bool) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeErrorf("expected a string, got %s", typeName(args[0]))
	}
	n, ok := toInt64(args[1])
	if !ok || n < 0 {
		return nil, typeErrorf("expected a non-negative integer length")
	}
	runes := []rune(s)
	if n > int64(len(runes)) {
		n = int64(len(runes))
	}
	if fromLeft {
		return string(runes[:n]), nil
	}
	return string(runes[len(runes)-int(n):]), nil
}

// =============================================================================
// User-defined functions
// =============================================================================

// UserFunction is a named single-expression function created by
// CREATE FUNCTION and invoked like a built-in.
type UserFunction struct {
	Name     string
	Args     []string
	Body     Expr
	BodyText string
	Created  time.Time
}

// FunctionRegistry holds user-defined functions. Lookups are
// case-insensitive, matching built-in resolution.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]*UserFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]*UserFunction)}
}

// Register adds a function. Names colliding with built-ins or already
// registered functions are rejected.
func (r *FunctionRegistry) Register(fn *UserFunction) error {
	if isBuiltinFunc(fn.Name) {
		return planErrorf("cannot redefine built-in function %s()", fn.Name)
	}
	key := strings.ToLower(fn.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[key]; exists {
		return planErrorf("function %s() already exists", fn.Name)
	}
	r.funcs[key] = fn
	return nil
}

// Drop removes a function by name.
func (r *FunctionRegistry) Drop(name string) error {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[key]; !exists {
		return planErrorf("function %s() does not exist", name)
	}
	delete(r.funcs, key)
	return nil
}

// Get looks up a function case-insensitively.
func (r *FunctionRegistry) Get(name string) (*UserFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[strings.ToLower(name)]
	return fn, ok
}

// List returns all functions sorted by name.
func (r *FunctionRegistry) List() []*UserFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UserFunction, 0, len(r.funcs))
	for _, fn := range r.funcs {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
