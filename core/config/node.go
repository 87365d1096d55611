// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package config holds the parsed, normalized description of resources:
// attributes, relations, datasources and keys. The parsed configuration
// is loaded once, validated, and shared read-only between all requests;
// the resolver clones the subtrees it needs per request.
package config

import (
	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/request"
)

// DataSourceConfig is the opaque, adapter-specific configuration of one
// datasource. The engine interprets only the keys "type" and "primary";
// everything else belongs to the adapter.
type DataSourceConfig map[string]any

// Type returns the adapter type of the datasource.
func (c DataSourceConfig) Type() string {
	t, _ := c["type"].(string)
	return t
}

// Key is a list of key groups. A composite key is one group of several
// attribute names, a multi-alternative key is several groups of one name
// each.
type Key [][]string

// Attributes returns the flat concatenation of all key groups.
func (k Key) Attributes() []string {
	var flat []string
	for _, group := range k {
		flat = append(flat, group...)
	}
	return flat
}

// ResolvedKey maps a datasource name to the ordered physical columns of
// a key in that datasource.
type ResolvedKey map[string][]string

// OrderSpec is the set of directions an attribute may be ordered by.
// In the configuration it is written as a boolean or as a list of
// directions.
type OrderSpec struct {
	Allowed []core.Direction
}

// Permits reports whether ordering in the given direction is allowed.
func (o *OrderSpec) Permits(d core.Direction) bool {
	if o == nil {
		return false
	}
	for _, allowed := range o.Allowed {
		if allowed == d {
			return true
		}
	}
	return false
}

// SubFilterConfig declares how a filter on a foreign attribute path is
// resolved. With RewriteTo set, the filter is rewritten to a local
// attribute; otherwise an independent sub-request tree is emitted.
type SubFilterConfig struct {
	Attribute string `json:"attribute"`
	RewriteTo string `json:"rewriteTo,omitempty"`
}

// Node is the recursive shape shared by resources and attributes. A node
// is a resource iff it owns one or more datasources, or references one
// through inclusion.
type Node struct {
	// leaf attribute metadata
	Type    string                       `json:"type,omitempty"`
	Map     map[string]map[string]string `json:"map,omitempty"`
	Filter  []core.Operator              `json:"filter,omitempty"`
	Order   *OrderSpec                   `json:"order,omitempty"`
	Hidden  bool                         `json:"hidden,omitempty"`
	Depends *request.SelectTree          `json:"depends,omitempty"`
	Value   any                          `json:"value,omitempty"`

	// resource fields
	Resource           string         `json:"resource,omitempty"`
	DataSources        *DataSourceMap `json:"dataSources,omitempty"`
	PrimaryKey         Key            `json:"primaryKey,omitempty"`
	ResolvedPrimaryKey ResolvedKey    `json:"resolvedPrimaryKey,omitempty"`
	Attributes         *AttrMap       `json:"attributes,omitempty"`
	DefaultLimit       int            `json:"defaultLimit,omitempty"`
	MaxLimit           int            `json:"maxLimit,omitempty"`
	DefaultOrder       request.OrderList `json:"defaultOrder,omitempty"`
	SubFilters         []SubFilterConfig `json:"subFilters,omitempty"`

	// relation fields
	ParentKey         Key         `json:"parentKey,omitempty"`
	ChildKey          Key         `json:"childKey,omitempty"`
	ResolvedParentKey ResolvedKey `json:"resolvedParentKey,omitempty"`
	ResolvedChildKey  ResolvedKey `json:"resolvedChildKey,omitempty"`
	Many              bool        `json:"many,omitempty"`
	MultiValued       bool        `json:"multiValued,omitempty"`
	Delimiter         string      `json:"delimiter,omitempty"`

	// m:n via a join table. JoinVia names the join resource;
	// JoinParentKey and JoinChildKey name the join resource's attributes
	// linking to the parent and child side.
	JoinVia               string      `json:"joinVia,omitempty"`
	JoinParentKey         Key         `json:"joinParentKey,omitempty"`
	JoinChildKey          Key         `json:"joinChildKey,omitempty"`
	ResolvedJoinParentKey ResolvedKey `json:"resolvedJoinParentKey,omitempty"`
	ResolvedJoinChildKey  ResolvedKey `json:"resolvedJoinChildKey,omitempty"`

	// resolver annotations, only ever set on per-request clones
	Selected           bool   `json:"-"`
	Internal           bool   `json:"-"`
	SelectedDataSource string `json:"-"`
	ParentDataSource   string `json:"-"`
	SourceResource     string `json:"-"`
	JoinDataSource     string `json:"-"`
}

// IsResource reports whether the node owns datasources or references a
// resource through inclusion.
func (n *Node) IsResource() bool {
	return n.DataSources.Len() > 0 || n.Resource != ""
}

// IsRelation reports whether the node is a sub-resource joined by keys.
func (n *Node) IsRelation() bool {
	return len(n.ParentKey) > 0 || len(n.ChildKey) > 0
}

// MappedColumn returns the physical column of the attribute in the given
// datasource, using the default mapping context. An unmapped leaf
// attribute defaults to its own name in the primary datasource; that
// default is materialized by Normalize.
func (n *Node) MappedColumn(dataSource string) (string, bool) {
	if n.Map == nil {
		return "", false
	}
	byDS, ok := n.Map["default"]
	if !ok {
		return "", false
	}
	col, ok := byDS[dataSource]
	return col, ok
}

// MappedDataSources returns the datasource names of the default mapping
// context, in no particular order.
func (n *Node) MappedDataSources() []string {
	if n.Map == nil {
		return nil
	}
	byDS := n.Map["default"]
	names := make([]string, 0, len(byDS))
	for name := range byDS {
		names = append(names, name)
	}
	return names
}

// Clone returns a deep clone of the node. Datasource adapter
// configurations are shared by reference, they are read-only by
// contract. Depends trees, default orders and static values are shared
// as well; the resolver never mutates them.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Map != nil {
		out.Map = make(map[string]map[string]string, len(n.Map))
		for ctx, byDS := range n.Map {
			inner := make(map[string]string, len(byDS))
			for ds, col := range byDS {
				inner[ds] = col
			}
			out.Map[ctx] = inner
		}
	}
	out.Filter = append([]core.Operator(nil), n.Filter...)
	if n.Order != nil {
		out.Order = &OrderSpec{Allowed: append([]core.Direction(nil), n.Order.Allowed...)}
	}
	out.DataSources = n.DataSources.Clone()
	out.PrimaryKey = cloneKey(n.PrimaryKey)
	out.ResolvedPrimaryKey = cloneResolvedKey(n.ResolvedPrimaryKey)
	out.Attributes = n.Attributes.Clone()
	out.SubFilters = append([]SubFilterConfig(nil), n.SubFilters...)
	out.ParentKey = cloneKey(n.ParentKey)
	out.ChildKey = cloneKey(n.ChildKey)
	out.ResolvedParentKey = cloneResolvedKey(n.ResolvedParentKey)
	out.ResolvedChildKey = cloneResolvedKey(n.ResolvedChildKey)
	out.JoinParentKey = cloneKey(n.JoinParentKey)
	out.JoinChildKey = cloneKey(n.JoinChildKey)
	out.ResolvedJoinParentKey = cloneResolvedKey(n.ResolvedJoinParentKey)
	out.ResolvedJoinChildKey = cloneResolvedKey(n.ResolvedJoinChildKey)
	return &out
}

func cloneKey(k Key) Key {
	if k == nil {
		return nil
	}
	out := make(Key, len(k))
	for i, group := range k {
		out[i] = append([]string(nil), group...)
	}
	return out
}

func cloneResolvedKey(k ResolvedKey) ResolvedKey {
	if k == nil {
		return nil
	}
	out := make(ResolvedKey, len(k))
	for ds, cols := range k {
		out[ds] = append([]string(nil), cols...)
	}
	return out
}
