// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package request

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/fault"
)

func TestParseSelectSimple(t *testing.T) {
	tree, err := ParseSelect("id,title,date")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "date"}, tree.Keys())
}

func TestParseSelectNested(t *testing.T) {
	tree, err := ParseSelect("title,author[firstname,lastname],comments(limit=3,order=date:desc)[id,user.name]")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "author", "comments"}, tree.Keys())

	author, ok := tree.Get("author")
	require.True(t, ok)
	assert.Equal(t, []string{"firstname", "lastname"}, author.Select.Keys())

	comments, ok := tree.Get("comments")
	require.True(t, ok)
	require.NotNil(t, comments.Limit)
	assert.Equal(t, 3, *comments.Limit)
	require.Len(t, comments.Order, 1)
	assert.Equal(t, []string{"date"}, comments.Order[0].Attribute)
	assert.Equal(t, core.DirectionDesc, comments.Order[0].Direction)

	user, ok := comments.Select.Get("user")
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, user.Select.Keys())
}

func TestParseSelectDotDescent(t *testing.T) {
	tree, err := ParseSelect("author.address.city")
	require.NoError(t, err)
	author, _ := tree.Get("author")
	address, ok := author.Select.Get("address")
	require.True(t, ok)
	city, ok := address.Select.Get("city")
	require.True(t, ok)
	assert.Nil(t, city.Select)
}

func TestParseSelectMergesDuplicates(t *testing.T) {
	tree, err := ParseSelect("author[firstname],author[lastname]")
	require.NoError(t, err)
	author, _ := tree.Get("author")
	assert.Equal(t, []string{"firstname", "lastname"}, author.Select.Keys())
}

func TestParseSelectErrors(t *testing.T) {
	for _, input := range []string{"", ",", "a[", "a[b", "a(", "a(limit)", "a(limit=x)", "a(nope=1)", "a..b"} {
		_, err := ParseSelect(input)
		assert.True(t, fault.ErrInvalidSyntax.Is(err), "input %q", input)
	}
}

func TestParseFilter(t *testing.T) {
	filter, err := ParseFilter("type=news AND author.id=11,12 OR type=special")
	require.NoError(t, err)
	require.Len(t, filter, 2)
	require.Len(t, filter[0], 2)

	assert.Equal(t, []string{"type"}, filter[0][0].Attribute)
	assert.Equal(t, core.OperatorEqual, filter[0][0].Operator)
	assert.Equal(t, "news", filter[0][0].Value)

	assert.Equal(t, []string{"author", "id"}, filter[0][1].Attribute)
	assert.Equal(t, []any{11, 12}, filter[0][1].Value)

	require.Len(t, filter[1], 1)
	assert.Equal(t, "special", filter[1][0].Value)
}

func TestParseFilterOperators(t *testing.T) {
	cases := map[string]core.Operator{
		"a=1":  core.OperatorEqual,
		"a!=1": core.OperatorNotEqual,
		"a<1":  core.OperatorLess,
		"a<=1": core.OperatorLessOrEqual,
		"a>1":  core.OperatorGreater,
		"a>=1": core.OperatorGreaterOrEqual,
		"a~x%": core.OperatorLike,
	}
	for input, op := range cases {
		filter, err := ParseFilter(input)
		require.NoError(t, err, input)
		assert.Equal(t, op, filter[0][0].Operator, input)
	}
}

func TestParseFilterValues(t *testing.T) {
	filter, err := ParseFilter(`flag=true AND score=1.5 AND name="quoted" AND missing=null`)
	require.NoError(t, err)
	group := filter[0]
	assert.Equal(t, true, group[0].Value)
	assert.Equal(t, 1.5, group[1].Value)
	assert.Equal(t, "quoted", group[2].Value)
	assert.Nil(t, group[3].Value)
}

func TestParseFilterErrors(t *testing.T) {
	for _, input := range []string{"", "nonsense", "=1", "a="} {
		_, err := ParseFilter(input)
		assert.True(t, fault.ErrInvalidSyntax.Is(err), "input %q", input)
	}
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder("date:desc,name")
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, []string{"date"}, order[0].Attribute)
	assert.Equal(t, core.DirectionDesc, order[0].Direction)
	assert.Equal(t, core.DirectionAsc, order[1].Direction)

	_, err = ParseOrder("date:sideways")
	assert.True(t, fault.ErrInvalidSyntax.Is(err))
}

func TestRequestUnmarshalCompactForms(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{
		"resource": "article",
		"select": "title,author[name]",
		"filter": "type=news",
		"order": "date:desc",
		"limit": 5
	}`), &req)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "author"}, req.Select.Keys())
	assert.Equal(t, "news", req.Filter[0][0].Value)
	assert.Equal(t, core.DirectionDesc, req.Order[0].Direction)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 5, *req.Limit)
}

func TestRequestUnmarshalStructuredForms(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{
		"resource": "article",
		"select": {"title": {}, "comments": {"select": {"text": {}}, "limit": 2}},
		"filter": [[{"attribute": ["author", "id"], "operator": "equal", "value": [11, 12]}]],
		"order": [{"attribute": "date", "direction": "desc"}]
	}`), &req)
	require.NoError(t, err)

	comments, ok := req.Select.Get("comments")
	require.True(t, ok)
	require.NotNil(t, comments.Limit)
	assert.Equal(t, 2, *comments.Limit)

	assert.Equal(t, []string{"author", "id"}, req.Filter[0][0].Attribute)
	assert.Equal(t, []string{"date"}, req.Order[0].Attribute)
}

func TestSelectTreeRoundTrip(t *testing.T) {
	tree, err := ParseSelect("title,author[firstname,lastname]")
	require.NoError(t, err)
	data, err := json.Marshal(tree)
	require.NoError(t, err)

	restored := NewSelectTree()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, tree.Keys(), restored.Keys())
	author, _ := restored.Get("author")
	assert.Equal(t, []string{"firstname", "lastname"}, author.Select.Keys())
}

func TestRequestDefaults(t *testing.T) {
	req := &Request{Resource: "article"}
	assert.Equal(t, "retrieve", req.EffectiveAction())
	assert.Equal(t, "json", req.EffectiveFormat())
	assert.False(t, req.IsSingle())
	req.ID = "42"
	assert.True(t, req.IsSingle())
}
