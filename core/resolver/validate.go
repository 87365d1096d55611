// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resolver

import (
	"strings"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/request"
)

// pathTarget is the outcome of resolving a dotted attribute path within
// one resource level.
type pathTarget struct {
	leaf *config.Node // set when the path ends on a local attribute
	rel  *config.Node // set when the path crosses into a sub-resource
	rest []string     // remaining path behind the sub-resource
}

// resolveLocalPath walks a dotted path through the attribute tree of one
// resource, descending through nested attribute groups and stopping at
// the first sub-resource boundary.
func resolveLocalPath(res *config.Node, path []string) (pathTarget, bool) {
	node := res
	for i, name := range path {
		attr, ok := node.Attributes.Get(name)
		if !ok {
			return pathTarget{}, false
		}
		if attr.IsResource() {
			if i == len(path)-1 {
				// a filter or order on a sub-resource itself is not a thing
				return pathTarget{}, false
			}
			return pathTarget{rel: attr, rest: path[i+1:]}, true
		}
		if i == len(path)-1 {
			return pathTarget{leaf: attr}, true
		}
		if attr.Attributes.Len() == 0 {
			return pathTarget{}, false
		}
		node = attr
	}
	return pathTarget{}, false
}

// resolveCondition translates one logical filter condition into its
// physical form on the level's primary datasource. Conditions on foreign
// paths are either rewritten to a local attribute, when the resource
// declares a matching subFilters entry, or turned into an independent
// sub-filter tree whose key set feeds a placeholder condition.
func (r *resolver) resolveCondition(res *config.Node, primaryDS string, cond request.Condition, attrPath []string) (datasource.Condition, *datasource.TreeNode, error) {
	dotted := core.JoinPath(cond.Attribute)
	operator := cond.Operator
	if operator == "" {
		operator = core.OperatorEqual
	}

	target, found := resolveLocalPath(res, cond.Attribute)
	if !found {
		return datasource.Condition{}, nil, fault.ErrUnknownAttribute.New(dotted)
	}

	if target.rel != nil {
		for _, sf := range res.SubFilters {
			if sf.Attribute == dotted && sf.RewriteTo != "" {
				rewritten := cond
				rewritten.Attribute = strings.Split(sf.RewriteTo, ".")
				return r.resolveCondition(res, primaryDS, rewritten, attrPath)
			}
		}
		subTree, parentCols, err := r.buildSubFilterTree(res, target.rel, target.rest, cond, primaryDS)
		if err != nil {
			return datasource.Condition{}, nil, err
		}
		return datasource.Condition{
			Attribute: singleOrTuple(parentCols),
			Operator:  core.OperatorEqual,
		}, subTree, nil
	}

	leaf := target.leaf
	if leaf.Value != nil || len(leaf.Filter) == 0 {
		return datasource.Condition{}, nil, fault.ErrUnfilterable.New(dotted)
	}
	if !operatorAllowed(leaf.Filter, operator) {
		return datasource.Condition{}, nil, fault.ErrInvalidOperator.New(
			dotted, operator, operatorList(leaf.Filter))
	}
	col, ok := leaf.MappedColumn(primaryDS)
	if !ok {
		return datasource.Condition{}, nil, fault.ErrUnfilterable.New(dotted)
	}
	return datasource.Condition{
		Attribute: col,
		Operator:  operator,
		Value:     cond.Value,
	}, nil, nil
}

// buildSubFilterTree plans the independent sub-request tree for a filter
// on a foreign path. The returned columns are the parent's local columns
// the placeholder condition compares against the sub-filter's key set.
func (r *resolver) buildSubFilterTree(res, rel *config.Node, rest []string, cond request.Condition, primaryDS string) (*datasource.TreeNode, []string, error) {
	parentCols, ok := rel.ResolvedParentKey[primaryDS]
	if !ok {
		return nil, nil, fault.ErrUnfilterable.New(core.JoinPath(cond.Attribute))
	}

	target := rel
	if rel.Resource != "" {
		merged, err := r.mergeInclude(rel, rel.Resource, nil)
		if err != nil {
			return nil, nil, err
		}
		target = merged
	}

	inner, err := r.buildSubFilterTarget(rel, target, rest, cond)
	if err != nil {
		return nil, nil, err
	}

	if rel.JoinVia == "" {
		return inner, parentCols, nil
	}

	// m:n: the join table is filtered by the target's key set, the
	// parent by the join table's key set
	joinNode, ok := r.resources[rel.JoinVia]
	if !ok {
		return nil, nil, fault.ErrUnknownIncludedResource.New(rel.JoinVia, core.JoinPath(cond.Attribute))
	}
	joinRes, err := config.IncludeTarget(r.resources, joinNode)
	if err != nil {
		return nil, nil, err
	}
	joinDS := joinRes.DataSources.Primary()
	joinParentCols, ok := rel.ResolvedJoinParentKey[joinDS]
	if !ok {
		return nil, nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.JoinParentKey.Attributes(), ","), joinDS)
	}
	joinChildCols, ok := rel.ResolvedJoinChildKey[joinDS]
	if !ok {
		return nil, nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.JoinChildKey.Attributes(), ","), joinDS)
	}
	dsConfig, _ := joinRes.DataSources.Get(joinDS)
	first := 0
	join := &datasource.TreeNode{
		ResourceName:     rel.JoinVia,
		DataSourceName:   joinDS,
		ChildKey:         joinParentCols,
		AttributeOptions: map[string]datasource.AttributeOption{},
		SubFilters:       []*datasource.TreeNode{inner},
		Request: &datasource.Request{
			Type:   dsConfig.Type(),
			Config: dsConfig,
			Filter: [][]datasource.Condition{{{
				Attribute:          singleOrTuple(joinChildCols),
				Operator:           core.OperatorEqual,
				ValueFromSubFilter: &first,
			}}},
		},
	}
	for i, col := range joinParentCols {
		r.projectColumn(join, col, keyAttributeType(joinRes, rel.JoinParentKey, i))
	}
	return join, parentCols, nil
}

// buildSubFilterTarget plans the sub-filter request against the relation
// target itself: project the child key, filter by the remaining path.
// Deeper foreign paths recurse into nested sub-filters.
func (r *resolver) buildSubFilterTarget(rel, target *config.Node, rest []string, cond request.Condition) (*datasource.TreeNode, error) {
	childDS := target.DataSources.Primary()
	childCols, ok := rel.ResolvedChildKey[childDS]
	if !ok {
		return nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.ChildKey.Attributes(), ","), childDS)
	}
	dsConfig, _ := target.DataSources.Get(childDS)
	node := &datasource.TreeNode{
		ResourceName:     target.SourceResource,
		DataSourceName:   childDS,
		ChildKey:         childCols,
		AttributeOptions: map[string]datasource.AttributeOption{},
		Request: &datasource.Request{
			Type:   dsConfig.Type(),
			Config: dsConfig,
		},
	}
	for i, col := range childCols {
		r.projectColumn(node, col, keyAttributeType(target, rel.ChildKey, i))
	}

	innerCond := request.Condition{Attribute: rest, Operator: cond.Operator, Value: cond.Value}
	resolved, subTree, err := r.resolveCondition(target, childDS, innerCond, nil)
	if err != nil {
		return nil, err
	}
	if subTree != nil {
		idx := len(node.SubFilters)
		node.SubFilters = append(node.SubFilters, subTree)
		resolved.ValueFromSubFilter = &idx
	}
	node.Request.Filter = [][]datasource.Condition{{resolved}}
	return node, nil
}

// resolveOrder validates one order item against the attribute's allowed
// directions and translates it to its physical column.
func (r *resolver) resolveOrder(res *config.Node, primaryDS string, item request.OrderItem, attrPath []string) (datasource.OrderItem, error) {
	dotted := core.JoinPath(item.Attribute)
	direction := item.Direction
	if direction == "" {
		direction = core.DirectionAsc
	}
	target, found := resolveLocalPath(res, item.Attribute)
	if !found || target.rel != nil {
		return datasource.OrderItem{}, fault.ErrUnorderable.New(dotted)
	}
	leaf := target.leaf
	if !leaf.Order.Permits(direction) {
		if leaf.Order == nil || len(leaf.Order.Allowed) == 0 {
			return datasource.OrderItem{}, fault.ErrUnorderable.New(dotted)
		}
		return datasource.OrderItem{}, fault.ErrInvalidDirection.New(dotted, direction)
	}
	col, ok := leaf.MappedColumn(primaryDS)
	if !ok {
		return datasource.OrderItem{}, fault.ErrUnorderable.New(dotted)
	}
	return datasource.OrderItem{Attribute: col, Direction: direction}, nil
}

func singleOrTuple(cols []string) any {
	if len(cols) == 1 {
		return cols[0]
	}
	return cols
}

func operatorAllowed(allowed []core.Operator, op core.Operator) bool {
	for _, a := range allowed {
		if a == op {
			return true
		}
	}
	return false
}

func operatorList(allowed []core.Operator) string {
	names := make([]string, len(allowed))
	for i, op := range allowed {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}
