// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/fault"
)

func TestParseJSONPreservesAttributeOrder(t *testing.T) {
	node, err := ParseJSON([]byte(`{
		"primaryKey": "id",
		"dataSources": {"primary": {"type": "memory", "table": "t"}},
		"attributes": {"id": {}, "zulu": {}, "alpha": {}, "mike": {}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "zulu", "alpha", "mike"}, node.Attributes.Keys())
}

func TestParseYAMLPreservesAttributeOrder(t *testing.T) {
	node, err := ParseYAML([]byte(`
primaryKey: id
dataSources:
  primary:
    type: memory
    table: t
attributes:
  id: {}
  zulu: {}
  alpha: {}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "zulu", "alpha"}, node.Attributes.Keys())
	ds, ok := node.DataSources.Get("primary")
	require.True(t, ok)
	assert.Equal(t, "memory", ds.Type())
	assert.Equal(t, "t", ds["table"])
}

func TestKeyShapes(t *testing.T) {
	var k Key
	require.NoError(t, json.Unmarshal([]byte(`"id"`), &k))
	assert.Equal(t, Key{{"id"}}, k)

	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &k))
	assert.Equal(t, Key{{"a"}, {"b"}}, k, "flat lists are alternative key groups")

	require.NoError(t, json.Unmarshal([]byte(`[["a", "b"]]`), &k))
	assert.Equal(t, Key{{"a", "b"}}, k, "nested lists are composite keys")
	assert.Equal(t, []string{"a", "b"}, k.Attributes())
}

func TestOrderSpecShapes(t *testing.T) {
	var o OrderSpec
	require.NoError(t, json.Unmarshal([]byte(`true`), &o))
	assert.True(t, o.Permits(core.DirectionAsc))
	assert.True(t, o.Permits(core.DirectionDesc))

	require.NoError(t, json.Unmarshal([]byte(`false`), &o))
	assert.False(t, o.Permits(core.DirectionAsc))

	require.NoError(t, json.Unmarshal([]byte(`"asc"`), &o))
	assert.True(t, o.Permits(core.DirectionAsc))
	assert.False(t, o.Permits(core.DirectionDesc))

	require.NoError(t, json.Unmarshal([]byte(`["desc"]`), &o))
	assert.True(t, o.Permits(core.DirectionDesc))

	assert.Error(t, json.Unmarshal([]byte(`"sideways"`), &o))
}

func TestNormalizeMaterializesDefaultMap(t *testing.T) {
	resources := MustParse(map[string]string{
		"thing": `{
			"primaryKey": "id",
			"dataSources": {"primary": {"type": "memory", "table": "thing"}},
			"attributes": {"id": {}, "name": {}}
		}`,
	})
	name, _ := resources["thing"].Attributes.Get("name")
	col, ok := name.MappedColumn("primary")
	require.True(t, ok)
	assert.Equal(t, "name", col)
	assert.Equal(t, []string{"id"}, resources["thing"].ResolvedPrimaryKey["primary"])
}

func TestNormalizeRejectsUnknownDataSourceInMap(t *testing.T) {
	resources := map[string]*Node{}
	node, err := ParseJSON([]byte(`{
		"primaryKey": "id",
		"dataSources": {"primary": {"type": "memory"}},
		"attributes": {"id": {}, "bad": {"map": {"default": {"elsewhere": "x"}}}}
	}`))
	require.NoError(t, err)
	resources["thing"] = node
	err = Normalize(resources)
	assert.True(t, fault.ErrUnknownDataSource.Is(err))
}

func TestNormalizeRequiresDataSources(t *testing.T) {
	node, err := ParseJSON([]byte(`{"primaryKey": "id", "attributes": {"id": {}}}`))
	require.NoError(t, err)
	err = Normalize(map[string]*Node{"thing": node})
	assert.True(t, fault.ErrNoDataSources.Is(err))
}

func TestNormalizeRequiresPrimaryKey(t *testing.T) {
	node, err := ParseJSON([]byte(`{
		"dataSources": {"primary": {"type": "memory"}},
		"attributes": {"id": {}}
	}`))
	require.NoError(t, err)
	err = Normalize(map[string]*Node{"thing": node})
	assert.True(t, fault.ErrInvalidConfig.Is(err))
}

func TestIncludeTargetCycle(t *testing.T) {
	a, _ := ParseJSON([]byte(`{"resource": "b"}`))
	b, _ := ParseJSON([]byte(`{"resource": "a"}`))
	_, err := IncludeTarget(map[string]*Node{"a": a, "b": b}, a)
	assert.True(t, fault.ErrInclusionDepth.Is(err))
}

func TestIncludeTargetUnknown(t *testing.T) {
	a, _ := ParseJSON([]byte(`{"resource": "ghost"}`))
	_, err := IncludeTarget(map[string]*Node{"a": a}, a)
	assert.True(t, fault.ErrUnknownIncludedResource.Is(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestDataSourceMapPrimary(t *testing.T) {
	m := &DataSourceMap{}
	m.Set("first", DataSourceConfig{"type": "memory"})
	m.Set("second", DataSourceConfig{"type": "memory", "primary": true})
	assert.Equal(t, "second", m.Primary(), "the primary tag wins over declaration order")

	m2 := &DataSourceMap{}
	m2.Set("only", DataSourceConfig{"type": "memory"})
	assert.Equal(t, "only", m2.Primary())
}

func TestCloneIsDeep(t *testing.T) {
	resources := MustParse(map[string]string{
		"thing": `{
			"primaryKey": "id",
			"dataSources": {"primary": {"type": "memory", "table": "thing"}},
			"attributes": {"id": {}, "name": {}}
		}`,
	})
	original := resources["thing"]
	before, err := json.Marshal(original)
	require.NoError(t, err)

	clone := original.Clone()
	clone.Selected = true
	name, _ := clone.Attributes.Get("name")
	name.Selected = true
	name.Map["default"]["primary"] = "mutated"
	clone.Attributes.Set("extra", &Node{})
	clone.ResolvedPrimaryKey["primary"][0] = "mutated"

	after, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "clone mutation leaked into the original")
}

func TestLoadResources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "article"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "admin", "stats"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ignored"), 0o755))

	articleJSON := `{
		"primaryKey": "id",
		"dataSources": {"primary": {"type": "memory", "table": "article"}},
		"attributes": {"id": {}}
	}`
	statsYAML := `
primaryKey: id
dataSources:
  primary:
    type: memory
    table: stats
attributes:
  id: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "article", "config.json"), []byte(articleJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin", "stats", "config.yaml"), []byte(statsYAML), 0o644))

	resources, err := LoadResources(dir, nil)
	require.NoError(t, err)
	assert.Len(t, resources, 2)
	assert.Contains(t, resources, "article")
	assert.Contains(t, resources, "admin/stats", "nested directories yield slash-separated names")
	assert.NotContains(t, resources, "ignored")
}
