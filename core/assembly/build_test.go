// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package assembly

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/datasource/memds"
	"github.com/tessella-io/facet/core/executor"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/request"
	"github.com/tessella-io/facet/core/resolver"
)

func testResources() map[string]*config.Node {
	return config.MustParse(map[string]string{
		"article": `{
			"primaryKey": "id",
			"defaultLimit": 10,
			"dataSources": {
				"primary": {"type": "memory", "table": "article"},
				"articleBody": {"type": "memory", "table": "article_body"}
			},
			"attributes": {
				"id": {"type": "int", "filter": ["equal"],
					"map": {"default": {"primary": "id", "articleBody": "articleId"}}},
				"title": {},
				"sourceName": {"value": "Test-Source"},
				"authorId": {"type": "int", "hidden": true},
				"author": {"resource": "user", "parentKey": "authorId", "childKey": "id"},
				"body": {"map": {"default": {"articleBody": "body"}}},
				"teaser": {"attributes": {"text": {"map": {"default": {"primary": "teaserText"}}}}},
				"comments": {"resource": "comment", "parentKey": "id", "childKey": "articleId", "many": true},
				"preview": {"depends": {"{root}": {"select": {"title": {}}}}}
			}
		}`,
		"user": `{
			"primaryKey": "id",
			"dataSources": {"primary": {"type": "memory", "table": "user"}},
			"attributes": {"id": {"type": "int"}, "name": {}}
		}`,
		"comment": `{
			"primaryKey": "id",
			"dataSources": {"primary": {"type": "memory", "table": "comment"}},
			"attributes": {"id": {"type": "int"}, "articleId": {"type": "int"}, "text": {}}
		}`,
	})
}

func testAdapter() *memds.Adapter {
	return memds.New(map[string][]datasource.Row{
		"article": {
			{"id": 1, "title": "one", "teaserText": "t-one", "preview": "p1", "authorId": 11},
			{"id": 2, "title": "two", "teaserText": "t-two", "preview": "p2", "authorId": nil},
			{"id": 3, "title": "three", "teaserText": "t-three", "preview": "p3", "authorId": 99},
		},
		"article_body": {
			{"articleId": 1, "body": "body one"},
			{"articleId": 3, "body": "body three"},
		},
		"user": {
			{"id": 11, "name": "ann"},
		},
		"comment": {
			{"id": 100, "articleId": 1, "text": "first"},
			{"id": 101, "articleId": 1, "text": "second"},
		},
	})
}

// runPipeline resolves the request, executes it against the fixtures and
// assembles the response.
func runPipeline(t *testing.T, req *request.Request, hooks map[string]ItemHook) (*Response, error) {
	t.Helper()
	resolved, err := resolver.Resolve(req, testResources())
	require.NoError(t, err)
	exec := executor.New(map[string]datasource.Adapter{"memory": testAdapter()})
	raw, err := exec.Execute(context.Background(), resolved.Tree)
	require.NoError(t, err)
	return Build(context.Background(), req, raw, resolved.Config, hooks)
}

func sel(t *testing.T, s string) *request.SelectTree {
	t.Helper()
	tree, err := request.ParseSelect(s)
	require.NoError(t, err)
	return tree
}

func TestBuildList(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "title,sourceName,teaser[text]"),
	}, nil)
	require.NoError(t, err)

	items, ok := response.Data.([]*Item)
	require.True(t, ok)
	require.Len(t, items, 3)
	require.NotNil(t, response.Cursor)
	require.NotNil(t, response.Cursor.TotalCount)
	assert.Equal(t, 3, *response.Cursor.TotalCount)

	first := items[0]
	// field order follows attribute declaration order: id, title,
	// sourceName, teaser
	assert.Equal(t, []string{"id", "title", "sourceName", "teaser"}, first.Keys())
	title, _ := first.Get("title")
	assert.Equal(t, "one", title)
	source, _ := first.Get("sourceName")
	assert.Equal(t, "Test-Source", source)
	teaser, _ := first.Get("teaser")
	text, _ := teaser.(*Item).Get("text")
	assert.Equal(t, "t-one", text)
}

func TestBuildSingleItem(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		ID:       "1",
		Select:   sel(t, "title"),
	}, nil)
	require.NoError(t, err)

	item, ok := response.Data.(*Item)
	require.True(t, ok)
	id, _ := item.Get("id")
	assert.Equal(t, 1, id)
	assert.Nil(t, response.Cursor, "single items carry no cursor")
}

func TestBuildSingleItemNotFound(t *testing.T) {
	_, err := runPipeline(t, &request.Request{Resource: "article", ID: "99999"}, nil)
	assert.True(t, fault.ErrNotFound.Is(err))
	assert.Equal(t, "Requested item not found", err.Error())
}

func TestBuildSecondaryDataSource(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "title,body"),
	}, nil)
	require.NoError(t, err)

	items := response.Data.([]*Item)
	body1, _ := items[0].Get("body")
	assert.Equal(t, "body one", body1)
	// article 2 has no body row: null, not an error
	body2, _ := items[1].Get("body")
	assert.Nil(t, body2)
}

func TestBuildRelationCardinality(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "author[name],comments[text]"),
	}, nil)
	require.NoError(t, err)

	items := response.Data.([]*Item)
	require.Len(t, items, 3)

	// article 1: author present, two comments in adapter order
	author1, _ := items[0].Get("author")
	name, _ := author1.(*Item).Get("name")
	assert.Equal(t, "ann", name)
	comments1, _ := items[0].Get("comments")
	require.Len(t, comments1.([]*Item), 2)
	text0, _ := comments1.([]*Item)[0].Get("text")
	assert.Equal(t, "first", text0)

	// article 2: all-null parent key, silent null; empty comment list
	author2, _ := items[1].Get("author")
	assert.Nil(t, author2)
	comments2, _ := items[1].Get("comments")
	assert.Empty(t, comments2.([]*Item))

	// article 3: non-null parent key without a matching row, null
	author3, _ := items[2].Get("author")
	assert.Nil(t, author3)
}

func TestBuildStripsInternalAttributes(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "preview"),
	}, nil)
	require.NoError(t, err)

	items := response.Data.([]*Item)
	_, hasTitle := items[0].Get("title")
	assert.False(t, hasTitle, "dependency selections must not leak")
	preview, _ := items[0].Get("preview")
	assert.Equal(t, "p1", preview)
}

func TestBuildInternalJoinKeysStripped(t *testing.T) {
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "author[name]"),
	}, nil)
	require.NoError(t, err)

	items := response.Data.([]*Item)
	_, hasAuthorID := items[0].Get("authorId")
	assert.False(t, hasAuthorID, "join key attributes must not leak")
}

func TestBuildItemHook(t *testing.T) {
	hooks := map[string]ItemHook{
		"article": func(ctx context.Context, req *request.Request, item *Item) error {
			if title, ok := item.Get("title"); ok {
				item.Set("title", title.(string)+"!")
			}
			item.Set("hooked", true)
			return nil
		},
	}
	response, err := runPipeline(t, &request.Request{
		Resource: "article",
		Select:   sel(t, "title"),
	}, hooks)
	require.NoError(t, err)

	items := response.Data.([]*Item)
	title, _ := items[0].Get("title")
	assert.Equal(t, "one!", title)
	hooked, _ := items[0].Get("hooked")
	assert.Equal(t, true, hooked)
}

func TestBuildMissingChildKeyColumnIsFatal(t *testing.T) {
	req := &request.Request{Resource: "article", Select: sel(t, "comments[text]")}
	resolved, err := resolver.Resolve(req, testResources())
	require.NoError(t, err)

	raw := []*datasource.RawResult{
		{
			ResourceName:   "article",
			DataSourceName: "primary",
			Data:           []datasource.Row{{"id": 1}},
		},
		{
			ResourceName:   "comment",
			AttributePath:  []string{"comments"},
			DataSourceName: "primary",
			ParentKey:      []string{"id"},
			ChildKey:       []string{"articleId"},
			Data:           []datasource.Row{{"id": 100, "text": "no key"}},
		},
	}
	_, err = Build(context.Background(), req, raw, resolved.Config, nil)
	assert.True(t, fault.ErrMissingKeyColumn.Is(err))
}

func TestBuildMissingSecondaryResultIsFatal(t *testing.T) {
	req := &request.Request{Resource: "article", Select: sel(t, "body")}
	resolved, err := resolver.Resolve(req, testResources())
	require.NoError(t, err)

	// the resolver planned an articleBody request, but its result is
	// missing entirely: a contract violation
	raw := []*datasource.RawResult{{
		ResourceName:   "article",
		DataSourceName: "primary",
		Data:           []datasource.Row{{"id": 1}},
	}}
	_, err = Build(context.Background(), req, raw, resolved.Config, nil)
	assert.True(t, fault.ErrMissingResult.Is(err))
}

func TestBuildMissingRootResult(t *testing.T) {
	req := &request.Request{Resource: "article"}
	resolved, err := resolver.Resolve(req, testResources())
	require.NoError(t, err)
	_, err = Build(context.Background(), req, nil, resolved.Config, nil)
	assert.True(t, fault.ErrMissingResult.Is(err))
}

func TestBuildDuplicateUniqueChildKeyLastWins(t *testing.T) {
	req := &request.Request{Resource: "article", Select: sel(t, "body")}
	resolved, err := resolver.Resolve(req, testResources())
	require.NoError(t, err)

	raw := []*datasource.RawResult{
		{
			ResourceName:   "article",
			DataSourceName: "primary",
			Data:           []datasource.Row{{"id": 1}},
		},
		{
			ResourceName:   "article",
			DataSourceName: "articleBody",
			ParentKey:      []string{"id"},
			ChildKey:       []string{"articleId"},
			UniqueChildKey: true,
			Data: []datasource.Row{
				{"articleId": 1, "body": "first write"},
				{"articleId": 1, "body": "last write"},
			},
		},
	}
	response, err := Build(context.Background(), req, raw, resolved.Config, nil)
	require.NoError(t, err)
	items := response.Data.([]*Item)
	body, _ := items[0].Get("body")
	assert.Equal(t, "last write", body)
}

func TestItemJSONOrder(t *testing.T) {
	item := NewItem()
	item.Set("z", 1)
	item.Set("a", 2)
	item.Set("m", nil)
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2,"m":null}`, string(data))

	item.Delete("a")
	data, err = json.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"m":null}`, string(data))
}
