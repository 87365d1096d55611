// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package memds is an in-memory datasource adapter. It serves fixture
// tables with the full request semantics: DNF filters, ordering,
// pagination, per-parent-key limits and naive fulltext search. It backs
// the engine's tests and small examples.
package memds

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/datasource"
)

// Adapter serves in-memory tables. Safe for concurrent use; rows are
// never mutated, only copied into results.
type Adapter struct {
	mu     sync.RWMutex
	tables map[string][]datasource.Row
}

// New creates an adapter over the given tables.
func New(tables map[string][]datasource.Row) *Adapter {
	if tables == nil {
		tables = map[string][]datasource.Row{}
	}
	return &Adapter{tables: tables}
}

// SetTable replaces the rows of one table.
func (a *Adapter) SetTable(name string, rows []datasource.Row) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tables[name] = rows
}

func tableName(req *datasource.Request) string {
	name, _ := req.Config["table"].(string)
	return name
}

// Prepare validates that the request addresses a known table.
func (a *Adapter) Prepare(req *datasource.Request) error {
	name := tableName(req)
	if name == "" {
		return fmt.Errorf("memory datasource needs a table")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.tables[name]; !ok {
		return fmt.Errorf("unknown table %s", name)
	}
	return nil
}

// Process evaluates the request against the table. The total count is
// taken after filtering and before pagination.
func (a *Adapter) Process(ctx context.Context, req *datasource.Request) (*datasource.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	rows := a.tables[tableName(req)]
	a.mu.RUnlock()

	var matched []datasource.Row
	for _, row := range rows {
		if matchFilter(row, req.Filter) && matchSearch(row, req.Search) {
			matched = append(matched, row)
		}
	}

	if len(req.Order) > 0 {
		matched = sortRows(matched, req.Order)
	}

	total := len(matched)

	if req.LimitPer != "" && req.Limit > 0 {
		matched = limitPerGroup(matched, strings.Split(req.LimitPer, ","), req.Limit)
	} else if req.Limit > 0 {
		offset := 0
		if req.Page > 1 {
			offset = (req.Page - 1) * req.Limit
		}
		if offset >= len(matched) {
			matched = nil
		} else {
			end := offset + req.Limit
			if end > len(matched) {
				end = len(matched)
			}
			matched = matched[offset:end]
		}
	}

	out := make([]datasource.Row, len(matched))
	for i, row := range matched {
		projected := datasource.Row{}
		for _, col := range req.Attributes {
			if value, ok := row[col]; ok {
				projected[col] = value
			}
		}
		out[i] = projected
	}
	return &datasource.Result{Rows: out, TotalCount: &total}, nil
}

// Close implements the adapter contract; there is nothing to release.
func (a *Adapter) Close() error {
	return nil
}

func matchFilter(row datasource.Row, filter [][]datasource.Condition) bool {
	if len(filter) == 0 {
		return true
	}
	for _, group := range filter {
		all := true
		for _, cond := range group {
			if !matchCondition(row, cond) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func matchCondition(row datasource.Row, cond datasource.Condition) bool {
	cols := cond.Columns()
	if len(cols) > 1 {
		return matchTuple(row, cols, cond.Value)
	}
	value, ok := row[cols[0]]
	if !ok {
		return false
	}
	switch cond.Operator {
	case core.OperatorEqual:
		return containsValue(cond.Value, value)
	case core.OperatorNotEqual:
		return !containsValue(cond.Value, value)
	case core.OperatorLess:
		return compareValues(value, cond.Value) < 0
	case core.OperatorLessOrEqual:
		return compareValues(value, cond.Value) <= 0
	case core.OperatorGreater:
		return compareValues(value, cond.Value) > 0
	case core.OperatorGreaterOrEqual:
		return compareValues(value, cond.Value) >= 0
	case core.OperatorLike:
		return matchLike(value, cond.Value)
	case core.OperatorBetween:
		bounds, ok := cond.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		return compareValues(value, bounds[0]) >= 0 && compareValues(value, bounds[1]) <= 0
	}
	return false
}

func matchTuple(row datasource.Row, cols []string, value any) bool {
	tuple := make([]any, len(cols))
	for i, col := range cols {
		v, ok := row[col]
		if !ok {
			return false
		}
		tuple[i] = v
	}
	list, ok := value.([]any)
	if !ok {
		return false
	}
	for _, candidate := range list {
		other, ok := candidate.([]any)
		if !ok || len(other) != len(tuple) {
			continue
		}
		match := true
		for i := range tuple {
			if fmt.Sprint(tuple[i]) != fmt.Sprint(other[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// containsValue compares loosely by printed form, so fixture ints match
// filter strings and vice versa.
func containsValue(candidate, value any) bool {
	if list, ok := candidate.([]any); ok {
		for _, entry := range list {
			if fmt.Sprint(entry) == fmt.Sprint(value) {
				return true
			}
		}
		return false
	}
	return fmt.Sprint(candidate) == fmt.Sprint(value)
}

func compareValues(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// matchLike interprets % as a wildcard, the SQL way.
func matchLike(value, pattern any) bool {
	str, _ := pattern.(string)
	parts := strings.Split(str, "%")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(value))
}

func matchSearch(row datasource.Row, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, value := range row {
		if str, ok := value.(string); ok && strings.Contains(strings.ToLower(str), needle) {
			return true
		}
	}
	return false
}

func sortRows(rows []datasource.Row, order []datasource.OrderItem) []datasource.Row {
	sorted := append([]datasource.Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, item := range order {
			c := compareValues(sorted[i][item.Attribute], sorted[j][item.Attribute])
			if c == 0 {
				continue
			}
			if item.Direction == core.DirectionDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sorted
}

// limitPerGroup keeps the first n rows of every partition, preserving
// row order.
func limitPerGroup(rows []datasource.Row, cols []string, n int) []datasource.Row {
	counts := map[string]int{}
	var out []datasource.Row
	for _, row := range rows {
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = fmt.Sprint(row[col])
		}
		key := strings.Join(parts, "\x00")
		if counts[key] >= n {
			continue
		}
		counts[key]++
		out = append(out, row)
	}
	return out
}
