// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package sqlds is the relational datasource adapter. It translates the
// engine's physical requests into parameterized SELECT statements
// against postgres.
//
// The datasource configuration provides "table", optionally "schema",
// and optionally "searchColumns" for fulltext search via ILIKE.
package sqlds

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/csql"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/logger"
)

// Adapter executes physical requests against a postgres database. The
// underlying pool is safe for concurrent use.
type Adapter struct {
	db *csql.DB
}

// New creates an adapter over an open database.
func New(db *csql.DB) *Adapter {
	return &Adapter{db: db}
}

// Prepare validates the adapter-native configuration of the request.
func (a *Adapter) Prepare(req *datasource.Request) error {
	if table, _ := req.Config["table"].(string); table == "" {
		return fmt.Errorf("sql datasource needs a table")
	}
	if len(req.Attributes) == 0 {
		return fmt.Errorf("sql datasource needs a projection")
	}
	if req.Search != "" {
		if columns := searchColumns(req); len(columns) == 0 {
			return fmt.Errorf("sql datasource needs searchColumns for search")
		}
	}
	return nil
}

// Process builds and runs the SELECT. Row order is the database order.
func (a *Adapter) Process(ctx context.Context, req *datasource.Request) (*datasource.Result, error) {
	query, args, withTotal := a.buildQuery(req)
	logger.FromContext(ctx).Debugln("sql query:", query)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &datasource.Result{}
	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			values[i] = new(any)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := datasource.Row{}
		for i, col := range columns {
			value := *(values[i].(*any))
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			if withTotal && col == "full_count" {
				if count, ok := toInt(value); ok {
					result.TotalCount = &count
				}
				continue
			}
			row[col] = value
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if withTotal && result.TotalCount == nil {
		zero := 0
		result.TotalCount = &zero
	}
	return result, nil
}

// Close releases the database pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func searchColumns(req *datasource.Request) []string {
	raw, _ := req.Config["searchColumns"].([]any)
	columns := make([]string, 0, len(raw))
	for _, entry := range raw {
		if col, ok := entry.(string); ok {
			columns = append(columns, col)
		}
	}
	return columns
}

// queryBuilder accumulates the statement and its parameters.
type queryBuilder struct {
	args []any
}

func (q *queryBuilder) param(value any) string {
	q.args = append(q.args, value)
	return "$" + strconv.Itoa(len(q.args))
}

func quoted(col string) string {
	return `"` + col + `"`
}

func quotedList(cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = quoted(col)
	}
	return strings.Join(parts, ", ")
}

// buildQuery renders the physical request as a parameterized SELECT.
// The third return reports whether a full_count window column is
// included.
func (a *Adapter) buildQuery(req *datasource.Request) (string, []any, bool) {
	q := &queryBuilder{}
	table, _ := req.Config["table"].(string)
	schema, _ := req.Config["schema"].(string)
	if schema == "" {
		schema = a.db.Schema
	}
	from := fmt.Sprintf("%s.\"%s\"", schema, table)

	withTotal := req.Limit > 0 && req.LimitPer == ""
	selectList := quotedList(req.Attributes)
	if withTotal {
		selectList += ", count(*) OVER() AS full_count"
	}

	where := q.whereClause(req)
	orderBy := orderClause(req.Order)

	if req.LimitPer != "" && req.Limit > 0 {
		// per-parent-key TOP-N via a row_number window over the partition
		partition := quotedList(strings.Split(req.LimitPer, ","))
		inner := fmt.Sprintf("SELECT %s, row_number() OVER (PARTITION BY %s%s) AS _rn FROM %s%s",
			quotedList(req.Attributes), partition, orderBy, from, where)
		query := fmt.Sprintf("SELECT %s FROM (%s) _sub WHERE _rn <= %s;",
			quotedList(req.Attributes), inner, q.param(req.Limit))
		return query, q.args, false
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s%s", selectList, from, where, orderBy)
	if req.Limit > 0 {
		query += " LIMIT " + q.param(req.Limit)
		if req.Page > 1 {
			query += " OFFSET " + q.param((req.Page-1)*req.Limit)
		}
	}
	return query + ";", q.args, withTotal
}

func (q *queryBuilder) whereClause(req *datasource.Request) string {
	var groups []string
	for _, group := range req.Filter {
		var conds []string
		for _, cond := range group {
			conds = append(conds, q.condition(cond))
		}
		if len(conds) > 0 {
			groups = append(groups, strings.Join(conds, " AND "))
		}
	}
	if req.Search != "" {
		var likes []string
		for _, col := range searchColumns(req) {
			likes = append(likes, fmt.Sprintf("%s ILIKE %s", quoted(col), q.param("%"+req.Search+"%")))
		}
		search := "(" + strings.Join(likes, " OR ") + ")"
		if len(groups) == 0 {
			groups = []string{search}
		} else {
			for i := range groups {
				groups[i] = groups[i] + " AND " + search
			}
		}
	}
	if len(groups) == 0 {
		return ""
	}
	if len(groups) == 1 {
		return " WHERE " + groups[0]
	}
	return " WHERE (" + strings.Join(groups, ") OR (") + ")"
}

func (q *queryBuilder) condition(cond datasource.Condition) string {
	cols := cond.Columns()
	if len(cols) > 1 {
		return q.tupleCondition(cols, cond.Value)
	}
	col := quoted(cols[0])
	list, isList := cond.Value.([]any)
	switch cond.Operator {
	case core.OperatorEqual:
		if isList {
			return fmt.Sprintf("%s = ANY(%s)", col, q.param(pq.Array(list)))
		}
		return fmt.Sprintf("%s = %s", col, q.param(cond.Value))
	case core.OperatorNotEqual:
		if isList {
			return fmt.Sprintf("NOT (%s = ANY(%s))", col, q.param(pq.Array(list)))
		}
		return fmt.Sprintf("%s <> %s", col, q.param(cond.Value))
	case core.OperatorLess:
		return fmt.Sprintf("%s < %s", col, q.param(cond.Value))
	case core.OperatorLessOrEqual:
		return fmt.Sprintf("%s <= %s", col, q.param(cond.Value))
	case core.OperatorGreater:
		return fmt.Sprintf("%s > %s", col, q.param(cond.Value))
	case core.OperatorGreaterOrEqual:
		return fmt.Sprintf("%s >= %s", col, q.param(cond.Value))
	case core.OperatorLike:
		return fmt.Sprintf("%s LIKE %s", col, q.param(cond.Value))
	case core.OperatorBetween:
		if isList && len(list) == 2 {
			return fmt.Sprintf("%s BETWEEN %s AND %s", col, q.param(list[0]), q.param(list[1]))
		}
	}
	// an unsupported operator never matches anything
	return "FALSE"
}

// tupleCondition renders a composite-key membership test:
// (a,b) IN ((...),(...)).
func (q *queryBuilder) tupleCondition(cols []string, value any) string {
	tuples, ok := value.([]any)
	if !ok || len(tuples) == 0 {
		return "FALSE"
	}
	var rendered []string
	for _, entry := range tuples {
		tuple, ok := entry.([]any)
		if !ok || len(tuple) != len(cols) {
			continue
		}
		params := make([]string, len(tuple))
		for i, v := range tuple {
			params[i] = q.param(v)
		}
		rendered = append(rendered, "("+strings.Join(params, ",")+")")
	}
	if len(rendered) == 0 {
		return "FALSE"
	}
	return fmt.Sprintf("(%s) IN (%s)", quotedList(cols), strings.Join(rendered, ","))
}

func orderClause(order []datasource.OrderItem) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, item := range order {
		direction := "ASC"
		if item.Direction == core.DirectionDesc {
			direction = "DESC"
		}
		parts[i] = quoted(item.Attribute) + " " + direction
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
