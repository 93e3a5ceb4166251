// Package cypher - aggregate accumulators.
package cypher

import "strings"

// aggAccumulator folds one aggregate call over a group's rows.
//
// Null handling follows Cypher: count(*) counts rows unconditionally;
// count(expr), sum, avg, min, max and collect all ignore null inputs.
// sum over no (non-null) values is 0, avg/min/max are null, collect is
// the empty list.
type aggAccumulator struct {
	spec AggSpec

	rows    int64
	count   int64
	sum     float64
	sumInt  int64
	allInts bool
	minVal  any
	maxVal  any
	values  []any
	seen    map[string]bool // distinct filter, nil unless DISTINCT
}

func newAggAccumulator(spec AggSpec) *aggAccumulator {
	acc := &aggAccumulator{spec: spec, allInts: true}
	if spec.Distinct {
		acc.seen = map[string]bool{}
	}
	return acc
}

// addRow feeds a count(*) accumulator.
func (a *aggAccumulator) addRow() {
	a.rows++
}

func (a *aggAccumulator) add(v any) error {
	if v == nil {
		return nil
	}
	if a.seen != nil {
		var b strings.Builder
		groupKey(&b, v)
		key := b.String()
		if a.seen[key] {
			return nil
		}
		a.seen[key] = true
	}

	switch a.spec.Func {
	case "count":
		a.count++
	case "sum", "avg":
		f, ok := toFloat64(v)
		if !ok {
			return typeErrorf("%s() requires numeric input, got %s", a.spec.Func, typeName(v))
		}
		if n, isInt := v.(int64); isInt {
			a.sumInt += n
		} else {
			a.allInts = false
		}
		a.sum += f
		a.count++
	case "min":
		if a.minVal == nil || sortValues(v, a.minVal) < 0 {
			a.minVal = v
		}
	case "max":
		if a.maxVal == nil || sortValues(v, a.maxVal) > 0 {
			a.maxVal = v
		}
	case "collect":
		a.values = append(a.values, v)
	}
	return nil
}

func (a *aggAccumulator) result() any {
	switch a.spec.Func {
	case "count":
		if a.spec.Star {
			return a.rows
		}
		return a.count
	case "sum":
		if a.allInts {
			return a.sumInt
		}
		return a.sum
	case "avg":
		if a.count == 0 {
			return nil
		}
		return a.sum / float64(a.count)
	case "min":
		return a.minVal
	case "max":
		return a.maxVal
	case "collect":
		if a.values == nil {
			return []any{}
		}
		return a.values
	}
	return nil
}
