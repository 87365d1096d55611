// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/datasource/memds"
	"github.com/tessella-io/facet/core/fault"
)

func memAdapter() *memds.Adapter {
	return memds.New(map[string][]datasource.Row{
		"article": {
			{"id": 1, "title": "one", "authorId": 11},
			{"id": 2, "title": "two", "authorId": 12},
			{"id": 3, "title": "three", "authorId": 11},
		},
		"user": {
			{"id": 11, "name": "ann"},
			{"id": 12, "name": "bob"},
			{"id": 13, "name": "cid"},
		},
		"comment": {
			{"id": 100, "articleId": 1, "text": "first"},
			{"id": 101, "articleId": 1, "text": "second"},
			{"id": 102, "articleId": 3, "text": "third"},
		},
	})
}

func articleNode() *datasource.TreeNode {
	return &datasource.TreeNode{
		ResourceName:   "article",
		DataSourceName: "primary",
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"id", "title", "authorId"},
			Config:     map[string]any{"table": "article"},
		},
	}
}

func TestExecuteSingleNode(t *testing.T) {
	e := New(map[string]datasource.Adapter{"memory": memAdapter()})
	results, err := e.Execute(context.Background(), articleNode())
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, "article", result.ResourceName)
	require.Len(t, result.Data, 3)
	// adapter row order is preserved
	assert.Equal(t, 1, result.Data[0]["id"])
	assert.Equal(t, 3, result.Data[2]["id"])
	require.NotNil(t, result.TotalCount)
	assert.Equal(t, 3, *result.TotalCount)
}

func TestExecuteParentKeySubstitution(t *testing.T) {
	root := articleNode()
	root.SubRequests = []*datasource.TreeNode{{
		ResourceName:   "comment",
		AttributePath:  []string{"comments"},
		DataSourceName: "primary",
		ParentKey:      []string{"id"},
		ChildKey:       []string{"articleId"},
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"id", "articleId", "text"},
			Config:     map[string]any{"table": "comment"},
			Filter: [][]datasource.Condition{{{
				Attribute:          "articleId",
				Operator:           core.OperatorEqual,
				ValueFromParentKey: true,
			}}},
		},
	}}

	e := New(map[string]datasource.Adapter{"memory": memAdapter()})
	results, err := e.Execute(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var comments *datasource.RawResult
	for _, r := range results {
		if r.ResourceName == "comment" {
			comments = r
		}
	}
	require.NotNil(t, comments)
	assert.Len(t, comments.Data, 3)
	assert.Equal(t, []any{1, 2, 3}, root.SubRequests[0].Request.Filter[0][0].Value)
}

func TestExecuteEmptyParentSkipsSubtree(t *testing.T) {
	adapter := memds.New(map[string][]datasource.Row{
		"article": {},
		"comment": {{"id": 1, "articleId": 1, "text": "x"}},
	})
	root := articleNode()
	sub := &datasource.TreeNode{
		ResourceName:   "comment",
		AttributePath:  []string{"comments"},
		DataSourceName: "primary",
		ParentKey:      []string{"id"},
		ChildKey:       []string{"articleId"},
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"id", "articleId"},
			Config:     map[string]any{"table": "comment"},
			Filter: [][]datasource.Condition{{{
				Attribute:          "articleId",
				Operator:           core.OperatorEqual,
				ValueFromParentKey: true,
			}}},
		},
	}
	root.SubRequests = []*datasource.TreeNode{sub}

	e := New(map[string]datasource.Adapter{"memory": adapter})
	results, err := e.Execute(context.Background(), root)
	require.NoError(t, err)
	// the subtree still reports a (empty) result
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Empty(t, r.Data)
	}
}

func TestExecuteSubFilter(t *testing.T) {
	root := articleNode()
	idx := 0
	root.Request.Filter = [][]datasource.Condition{{{
		Attribute:          "authorId",
		Operator:           core.OperatorEqual,
		ValueFromSubFilter: &idx,
	}}}
	root.SubFilters = []*datasource.TreeNode{{
		ResourceName:   "user",
		DataSourceName: "primary",
		ChildKey:       []string{"id"},
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"id"},
			Config:     map[string]any{"table": "user"},
			Filter: [][]datasource.Condition{{{
				Attribute: "name",
				Operator:  core.OperatorEqual,
				Value:     "ann",
			}}},
		},
	}}

	e := New(map[string]datasource.Adapter{"memory": memAdapter()})
	results, err := e.Execute(context.Background(), root)
	require.NoError(t, err)
	// sub-filter results never surface
	require.Len(t, results, 1)
	require.Len(t, results[0].Data, 2, "articles of author ann")
	assert.Equal(t, []any{11}, root.Request.Filter[0][0].Value)
}

func TestExecuteSubFilterProjectionMissesKey(t *testing.T) {
	root := articleNode()
	idx := 0
	root.Request.Filter = [][]datasource.Condition{{{
		Attribute:          "authorId",
		Operator:           core.OperatorEqual,
		ValueFromSubFilter: &idx,
	}}}
	root.SubFilters = []*datasource.TreeNode{{
		ResourceName:   "user",
		DataSourceName: "primary",
		ChildKey:       []string{"id"},
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"name"}, // projection misses the child key
			Config:     map[string]any{"table": "user"},
		},
	}}

	e := New(map[string]datasource.Adapter{"memory": memAdapter()})
	_, err := e.Execute(context.Background(), root)
	assert.True(t, fault.ErrMissingKeyColumn.Is(err))
}

func TestExecuteMultiValuedParentKey(t *testing.T) {
	adapter := memds.New(map[string][]datasource.Row{
		"article": {
			{"id": 1, "categoryIds": "10,20"},
			{"id": 2, "categoryIds": "20,30"},
		},
		"category": {
			{"id": "10"}, {"id": "20"}, {"id": "30"}, {"id": "40"},
		},
	})
	root := &datasource.TreeNode{
		ResourceName:   "article",
		DataSourceName: "primary",
		Request: &datasource.Request{
			Type:       "memory",
			Attributes: []string{"id", "categoryIds"},
			Config:     map[string]any{"table": "article"},
		},
		SubRequests: []*datasource.TreeNode{{
			ResourceName:         "category",
			AttributePath:        []string{"categories"},
			DataSourceName:       "primary",
			ParentKey:            []string{"categoryIds"},
			ChildKey:             []string{"id"},
			MultiValuedParentKey: true,
			Delimiter:            ",",
			Request: &datasource.Request{
				Type:       "memory",
				Attributes: []string{"id"},
				Config:     map[string]any{"table": "category"},
				Filter: [][]datasource.Condition{{{
					Attribute:          "id",
					Operator:           core.OperatorEqual,
					ValueFromParentKey: true,
				}}},
			},
		}},
	}

	e := New(map[string]datasource.Adapter{"memory": adapter})
	results, err := e.Execute(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []any{"10", "20", "30"},
		root.SubRequests[0].Request.Filter[0][0].Value,
		"delimited parent values are split and deduplicated")
	for _, r := range results {
		if r.ResourceName == "category" {
			assert.Len(t, r.Data, 3)
		}
	}
}

// failingAdapter fails on demand, either during prepare or during
// process.
type failingAdapter struct {
	prepareErr error
	processErr error

	mu       sync.Mutex
	prepared int
}

func (f *failingAdapter) Prepare(req *datasource.Request) error {
	f.mu.Lock()
	f.prepared++
	f.mu.Unlock()
	return f.prepareErr
}

func (f *failingAdapter) Process(ctx context.Context, req *datasource.Request) (*datasource.Result, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &datasource.Result{}, nil
}

func (f *failingAdapter) Close() error {
	return nil
}

func TestExecutePrepareFailsBeforeIO(t *testing.T) {
	adapter := &failingAdapter{prepareErr: errors.New("bad request payload")}
	root := articleNode()
	root.Request.Type = "failing"
	root.SubRequests = []*datasource.TreeNode{{
		ResourceName:   "comment",
		DataSourceName: "primary",
		Request:        &datasource.Request{Type: "failing", Config: map[string]any{}},
	}}

	e := New(map[string]datasource.Adapter{"failing": adapter})
	_, err := e.Execute(context.Background(), root)
	assert.True(t, fault.ErrAdapter.Is(err))
	assert.Equal(t, 1, adapter.prepared, "prepare fails fast, the subtree is not prepared")
}

func TestExecuteAdapterErrorAborts(t *testing.T) {
	adapter := &failingAdapter{processErr: errors.New("connection lost")}
	root := articleNode()
	root.Request.Type = "failing"

	e := New(map[string]datasource.Adapter{"failing": adapter})
	results, err := e.Execute(context.Background(), root)
	assert.True(t, fault.ErrAdapter.Is(err))
	assert.Nil(t, results, "partial results are discarded")
}

func TestExecuteUnknownAdapterType(t *testing.T) {
	e := New(map[string]datasource.Adapter{})
	_, err := e.Execute(context.Background(), articleNode())
	assert.True(t, fault.ErrUnknownAdapterType.Is(err))
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(map[string]datasource.Adapter{"memory": memAdapter()})
	_, err := e.Execute(ctx, articleNode())
	assert.Error(t, err)
}
