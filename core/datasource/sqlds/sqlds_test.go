// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package sqlds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/csql"
	"github.com/tessella-io/facet/core/datasource"
)

func testAdapter() *Adapter {
	return New(&csql.DB{Schema: "facet"})
}

func TestBuildQuerySimple(t *testing.T) {
	query, args, withTotal := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id", "title"},
		Config:     map[string]any{"table": "article"},
	})
	assert.Equal(t, `SELECT "id", "title" FROM facet."article";`, query)
	assert.Empty(t, args)
	assert.False(t, withTotal)
}

func TestBuildQueryFilterAndPagination(t *testing.T) {
	query, args, withTotal := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "article", "schema": "content"},
		Filter: [][]datasource.Condition{{
			{Attribute: "type", Operator: core.OperatorEqual, Value: "news"},
			{Attribute: "rank", Operator: core.OperatorGreaterOrEqual, Value: 5},
		}},
		Order: []datasource.OrderItem{{Attribute: "date", Direction: core.DirectionDesc}},
		Limit: 10,
		Page:  3,
	})
	assert.Equal(t,
		`SELECT "id", count(*) OVER() AS full_count FROM content."article"`+
			` WHERE "type" = $1 AND "rank" >= $2 ORDER BY "date" DESC LIMIT $3 OFFSET $4;`,
		query)
	assert.Equal(t, []any{"news", 5, 10, 20}, args)
	assert.True(t, withTotal)
}

func TestBuildQueryDisjunction(t *testing.T) {
	query, _, _ := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "article"},
		Filter: [][]datasource.Condition{
			{{Attribute: "type", Operator: core.OperatorEqual, Value: "news"}},
			{{Attribute: "type", Operator: core.OperatorEqual, Value: "special"}},
		},
	})
	assert.Contains(t, query, `WHERE ("type" = $1) OR ("type" = $2)`)
}

func TestBuildQueryInList(t *testing.T) {
	query, args, _ := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "article"},
		Filter: [][]datasource.Condition{{{
			Attribute: "id", Operator: core.OperatorEqual, Value: []any{1, 2, 3},
		}}},
	})
	assert.Contains(t, query, `"id" = ANY($1)`)
	require.Len(t, args, 1)
}

func TestBuildQueryTupleIn(t *testing.T) {
	query, args, _ := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"articleId", "versionId"},
		Config:     map[string]any{"table": "article_version"},
		Filter: [][]datasource.Condition{{{
			Attribute: []string{"articleId", "versionId"},
			Operator:  core.OperatorEqual,
			Value:     []any{[]any{1, 1}, []any{1, 2}},
		}}},
	})
	assert.Contains(t, query, `("articleId", "versionId") IN (($1,$2),($3,$4))`)
	assert.Equal(t, []any{1, 1, 1, 2}, args)
}

func TestBuildQueryLimitPer(t *testing.T) {
	query, args, withTotal := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id", "articleId", "text"},
		Config:     map[string]any{"table": "comment"},
		Filter: [][]datasource.Condition{{{
			Attribute: "articleId", Operator: core.OperatorEqual, Value: []any{1, 2},
		}}},
		Order:    []datasource.OrderItem{{Attribute: "id", Direction: core.DirectionAsc}},
		Limit:    3,
		LimitPer: "articleId",
	})
	assert.Contains(t, query, `row_number() OVER (PARTITION BY "articleId" ORDER BY "id" ASC)`)
	assert.Contains(t, query, `WHERE _rn <= $2`)
	assert.False(t, withTotal, "per-group limits cannot count the whole set")
	require.Len(t, args, 2)
	assert.Equal(t, 3, args[1])
}

func TestBuildQuerySearch(t *testing.T) {
	query, args, _ := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id"},
		Config: map[string]any{
			"table":         "article",
			"searchColumns": []any{"title", "body"},
		},
		Search: "climate",
	})
	assert.Contains(t, query, `"title" ILIKE $1 OR "body" ILIKE $2`)
	assert.Equal(t, []any{"%climate%", "%climate%"}, args)
}

func TestBuildQueryBetween(t *testing.T) {
	query, args, _ := testAdapter().buildQuery(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "article"},
		Filter: [][]datasource.Condition{{{
			Attribute: "rank", Operator: core.OperatorBetween, Value: []any{1, 10},
		}}},
	})
	assert.Contains(t, query, `"rank" BETWEEN $1 AND $2`)
	assert.Equal(t, []any{1, 10}, args)
}

func TestPrepareValidation(t *testing.T) {
	a := testAdapter()

	err := a.Prepare(&datasource.Request{Attributes: []string{"id"}, Config: map[string]any{}})
	assert.Error(t, err, "missing table")

	err = a.Prepare(&datasource.Request{Config: map[string]any{"table": "x"}})
	assert.Error(t, err, "missing projection")

	err = a.Prepare(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "x"},
		Search:     "y",
	})
	assert.Error(t, err, "search without searchColumns")

	err = a.Prepare(&datasource.Request{
		Attributes: []string{"id"},
		Config:     map[string]any{"table": "x", "searchColumns": []any{"title"}},
		Search:     "y",
	})
	assert.NoError(t, err)
}
