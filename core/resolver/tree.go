// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resolver

import (
	"fmt"
	"strings"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/request"
)

// nodeOptions are the request options that apply to one resource level:
// the root options of the request, or the select-node options of a
// sub-resource.
type nodeOptions struct {
	id     string
	filter request.Filter
	order  request.OrderList
	limit  *int
	page   *int
	search string
	isRoot bool
}

func (r *resolver) buildTree(root *config.Node) (*datasource.TreeNode, error) {
	return r.buildResourceNode(root, nil, nodeOptions{
		id:     r.req.ID,
		filter: r.req.Filter,
		order:  r.req.Order,
		limit:  r.req.Limit,
		page:   r.req.Page,
		search: r.req.Search,
		isRoot: true,
	})
}

// buildResourceNode plans the requests of one resource level: the
// request against its primary datasource, one sub-request per selected
// secondary datasource, and one sub-request per selected sub-resource.
// Join keys and placeholder filters are attached by the caller's
// context.
func (r *resolver) buildResourceNode(res *config.Node, attrPath []string, opts nodeOptions) (*datasource.TreeNode, error) {
	primaryDS := res.DataSources.Primary()
	if opts.search != "" {
		if _, ok := res.DataSources.Get(FulltextDataSource); !ok {
			return nil, fault.ErrNoFulltextSearch.New(res.SourceResource)
		}
		primaryDS = FulltextDataSource
	}
	res.SelectedDataSource = primaryDS
	rpk, ok := res.ResolvedPrimaryKey[primaryDS]
	if !ok {
		return nil, fault.ErrUnmappedAttribute.New(
			strings.Join(res.PrimaryKey.Attributes(), ","), primaryDS)
	}

	projections, err := r.collectColumns(res, res, primaryDS, attrPath)
	if err != nil {
		return nil, err
	}

	dsConfig, _ := res.DataSources.Get(primaryDS)
	node := &datasource.TreeNode{
		ResourceName:     res.SourceResource,
		AttributePath:    attrPath,
		DataSourceName:   primaryDS,
		AttributeOptions: map[string]datasource.AttributeOption{},
		Request: &datasource.Request{
			Type:   dsConfig.Type(),
			Config: dsConfig,
			Search: opts.search,
		},
	}
	for i, col := range rpk {
		r.projectColumn(node, col, keyAttributeType(res, res.PrimaryKey, i))
	}
	for _, p := range projections.byDS[primaryDS] {
		r.projectColumn(node, p.column, p.attrType)
	}

	// filters
	if opts.id != "" {
		node.Request.Filter = append(node.Request.Filter, idConditions(rpk, opts.id))
	}
	for _, group := range opts.filter {
		var conjunction []datasource.Condition
		for _, cond := range group {
			resolved, subTree, err := r.resolveCondition(res, primaryDS, cond, attrPath)
			if err != nil {
				return nil, err
			}
			if subTree != nil {
				idx := len(node.SubFilters)
				node.SubFilters = append(node.SubFilters, subTree)
				resolved.ValueFromSubFilter = &idx
			}
			conjunction = append(conjunction, resolved)
		}
		node.Request.Filter = append(node.Request.Filter, conjunction)
	}

	// ordering
	order := opts.order
	if len(order) == 0 && (opts.isRoot || res.Many) {
		order = res.DefaultOrder
	}
	for _, item := range order {
		resolved, err := r.resolveOrder(res, primaryDS, item, attrPath)
		if err != nil {
			return nil, err
		}
		node.Request.Order = append(node.Request.Order, resolved)
	}

	if err := r.applyLimits(res, node, opts); err != nil {
		return nil, err
	}

	// one sub-request per selected secondary datasource, joined on the
	// primary key
	hosts := map[string]*datasource.TreeNode{primaryDS: node}
	for _, ds := range projections.order {
		if ds == primaryDS {
			continue
		}
		secondary, err := r.buildSecondaryNode(res, attrPath, primaryDS, ds, rpk, projections.byDS[ds])
		if err != nil {
			return nil, err
		}
		node.SubRequests = append(node.SubRequests, secondary)
		hosts[ds] = secondary
	}

	// one sub-request per selected sub-resource, attached to the
	// datasource node that owns its parent key
	if err := r.buildRelationNodes(res, res, node, hosts, attrPath, primaryDS); err != nil {
		return nil, err
	}
	return node, nil
}

// hostNode returns the tree node serving the given datasource of the
// current resource level, creating the secondary node on demand when
// only a join key needs it.
func (r *resolver) hostNode(res *config.Node, hosts map[string]*datasource.TreeNode, primary *datasource.TreeNode, primaryDS, ds string, attrPath []string) (*datasource.TreeNode, error) {
	if host, ok := hosts[ds]; ok {
		return host, nil
	}
	rpk := res.ResolvedPrimaryKey[primaryDS]
	secondary, err := r.buildSecondaryNode(res, attrPath, primaryDS, ds, rpk, nil)
	if err != nil {
		return nil, err
	}
	primary.SubRequests = append(primary.SubRequests, secondary)
	hosts[ds] = secondary
	return secondary, nil
}

// projection of one leaf attribute onto a physical column
type projection struct {
	column   string
	attrType string
}

type projectionSet struct {
	order []string // datasource encounter order
	byDS  map[string][]projection
}

// collectColumns gathers the physical columns of all selected leaf
// attributes, choosing the primary datasource where an attribute is
// mapped in several. The chosen datasource is recorded on the attribute
// for the result builder.
func (r *resolver) collectColumns(res, node *config.Node, primaryDS string, attrPath []string) (*projectionSet, error) {
	set := &projectionSet{byDS: map[string][]projection{}}
	err := r.collectColumnsInto(res, node, primaryDS, attrPath, set)
	return set, err
}

func (r *resolver) collectColumnsInto(res, node *config.Node, primaryDS string, attrPath []string, set *projectionSet) error {
	var firstErr error
	node.Attributes.Range(func(name string, attr *config.Node) bool {
		path := append(append([]string(nil), attrPath...), name)
		if !attr.Selected || attr.IsResource() {
			return true
		}
		if attr.Attributes.Len() > 0 {
			if err := r.collectColumnsInto(res, attr, primaryDS, path, set); err != nil {
				firstErr = err
				return false
			}
			return true
		}
		if attr.Value != nil {
			// static attributes have no physical column
			return true
		}
		ds, col, ok := chooseDataSource(res, attr, primaryDS)
		if !ok {
			firstErr = fault.ErrUnmappedAttribute.New(pathKey(path), primaryDS)
			return false
		}
		attr.SelectedDataSource = ds
		if _, seen := set.byDS[ds]; !seen {
			set.order = append(set.order, ds)
		}
		set.byDS[ds] = append(set.byDS[ds], projection{column: col, attrType: attr.Type})
		return true
	})
	return firstErr
}

// chooseDataSource picks the datasource serving a selected leaf: the
// level's primary datasource when the attribute is mapped there, else
// the first declaring datasource.
func chooseDataSource(res, attr *config.Node, primaryDS string) (string, string, bool) {
	if col, ok := attr.MappedColumn(primaryDS); ok {
		return primaryDS, col, true
	}
	for _, ds := range res.DataSources.Keys() {
		if col, ok := attr.MappedColumn(ds); ok {
			return ds, col, true
		}
	}
	return "", "", false
}

func (r *resolver) projectColumn(node *datasource.TreeNode, col, attrType string) {
	if _, ok := node.AttributeOptions[col]; ok {
		return
	}
	node.Request.Attributes = append(node.Request.Attributes, col)
	node.AttributeOptions[col] = datasource.AttributeOption{Type: attrType}
}

// keyAttributeType returns the declared type of the i-th attribute of a
// key's flat form.
func keyAttributeType(res *config.Node, key config.Key, i int) string {
	attrs := key.Attributes()
	if i >= len(attrs) {
		return ""
	}
	if attr, ok := res.Attributes.Get(attrs[i]); ok {
		return attr.Type
	}
	return ""
}

// idConditions translates the request id into a filter on the primary
// key columns. Composite keys accept a dash-separated id.
func idConditions(rpk []string, id string) []datasource.Condition {
	if len(rpk) == 1 {
		return []datasource.Condition{{Attribute: rpk[0], Operator: core.OperatorEqual, Value: id}}
	}
	parts := strings.SplitN(id, "-", len(rpk))
	conds := make([]datasource.Condition, 0, len(rpk))
	for i, col := range rpk {
		value := ""
		if i < len(parts) {
			value = parts[i]
		}
		conds = append(conds, datasource.Condition{Attribute: col, Operator: core.OperatorEqual, Value: value})
	}
	return conds
}

func (r *resolver) applyLimits(res *config.Node, node *datasource.TreeNode, opts nodeOptions) error {
	single := (opts.isRoot && opts.id != "") || (!opts.isRoot && !res.Many)
	if single {
		if opts.limit != nil {
			return fault.ErrLimitOnSingle.New()
		}
		if opts.page != nil {
			return fault.ErrPageWithoutLimit.New()
		}
		return nil
	}
	if opts.limit != nil {
		if res.MaxLimit > 0 && *opts.limit > res.MaxLimit {
			return fault.ErrInvalidLimit.New(*opts.limit, res.MaxLimit)
		}
		node.Request.Limit = *opts.limit
		if !opts.isRoot {
			// per-parent-key TOP-N for 1:n sub-resources; the partition
			// columns are filled in when the join keys are attached
			node.Request.LimitPer = "*"
		}
	} else if opts.isRoot {
		switch {
		case res.DefaultLimit > 0:
			node.Request.Limit = res.DefaultLimit
		case res.MaxLimit > 0:
			node.Request.Limit = res.MaxLimit
		default:
			node.Request.Limit = core.DefaultLimit
		}
	}
	if opts.page != nil {
		if opts.limit == nil && res.DefaultLimit == 0 {
			return fault.ErrPageWithoutLimit.New()
		}
		node.Request.Page = *opts.page
	}
	return nil
}

// buildSecondaryNode plans the request against one secondary datasource
// of the same resource, joined 1:1 on the primary key.
func (r *resolver) buildSecondaryNode(res *config.Node, attrPath []string, primaryDS, ds string, parentKey []string, projections []projection) (*datasource.TreeNode, error) {
	childKey, ok := res.ResolvedPrimaryKey[ds]
	if !ok {
		return nil, fault.ErrUnmappedAttribute.New(
			strings.Join(res.PrimaryKey.Attributes(), ","), ds)
	}
	dsConfig, _ := res.DataSources.Get(ds)
	node := &datasource.TreeNode{
		ResourceName:     res.SourceResource,
		AttributePath:    attrPath,
		DataSourceName:   ds,
		AttributeOptions: map[string]datasource.AttributeOption{},
		ParentKey:        parentKey,
		ChildKey:         childKey,
		UniqueChildKey:   true,
		Request: &datasource.Request{
			Type:   dsConfig.Type(),
			Config: dsConfig,
		},
	}
	for i, col := range childKey {
		r.projectColumn(node, col, keyAttributeType(res, res.PrimaryKey, i))
	}
	for _, p := range projections {
		r.projectColumn(node, p.column, p.attrType)
	}
	node.Request.Filter = [][]datasource.Condition{{parentKeyCondition(childKey)}}
	return node, nil
}

// parentKeyCondition is the placeholder filter of a joined sub-request:
// the child key columns match the key set extracted from the parent
// result.
func parentKeyCondition(childKey []string) datasource.Condition {
	var attribute any = childKey[0]
	if len(childKey) > 1 {
		attribute = childKey
	}
	return datasource.Condition{
		Attribute:          attribute,
		Operator:           core.OperatorEqual,
		ValueFromParentKey: true,
	}
}

// buildRelationNodes plans the sub-requests of every selected
// sub-resource below node, walking through nested attribute groups.
func (r *resolver) buildRelationNodes(res, group *config.Node, primary *datasource.TreeNode, hosts map[string]*datasource.TreeNode, attrPath []string, primaryDS string) error {
	var firstErr error
	group.Attributes.Range(func(name string, attr *config.Node) bool {
		path := append(append([]string(nil), attrPath...), name)
		if !attr.Selected {
			return true
		}
		if attr.IsResource() {
			sub, host, err := r.buildRelationNode(res, attr, primary, hosts, path, primaryDS)
			if err != nil {
				firstErr = err
				return false
			}
			host.SubRequests = append(host.SubRequests, sub...)
			return true
		}
		if attr.Attributes.Len() > 0 {
			if err := r.buildRelationNodes(res, attr, primary, hosts, path, primaryDS); err != nil {
				firstErr = err
				return false
			}
		}
		return true
	})
	return firstErr
}

// buildRelationNode plans one selected sub-resource. It returns the
// nodes to attach, and the datasource node of the parent level they
// attach to: a single node for a plain relation, or the join-table node
// (with the target nested below it) for m:n relations.
func (r *resolver) buildRelationNode(res, rel *config.Node, primary *datasource.TreeNode, hosts map[string]*datasource.TreeNode, path []string, primaryDS string) ([]*datasource.TreeNode, *datasource.TreeNode, error) {
	parentCols, ok := rel.ResolvedParentKey[primaryDS]
	if ok {
		rel.ParentDataSource = primaryDS
	} else {
		// the parent key may live on a secondary datasource of the parent
		for _, ds := range res.DataSources.Keys() {
			if cols, found := rel.ResolvedParentKey[ds]; found {
				rel.ParentDataSource = ds
				parentCols = cols
				ok = true
				break
			}
		}
		if !ok {
			return nil, nil, fault.ErrUnmappedAttribute.New(
				strings.Join(rel.ParentKey.Attributes(), ","), primaryDS)
		}
	}
	host, err := r.hostNode(res, hosts, primary, primaryDS, rel.ParentDataSource, primary.AttributePath)
	if err != nil {
		return nil, nil, err
	}

	// the parent's datasource node must project the join columns
	for i, col := range parentCols {
		r.projectColumn(host, col, keyAttributeType(res, rel.ParentKey, i))
	}
	r.markKeyAttributesInternal(res, rel.ParentKey)

	opts := nodeOptions{}
	if selNode, ok := r.options[pathKey(path)]; ok {
		opts = nodeOptions{
			filter: selNode.Filter,
			order:  selNode.Order,
			limit:  selNode.Limit,
			page:   selNode.Page,
		}
	}

	child, err := r.buildResourceNode(rel, path, opts)
	if err != nil {
		return nil, nil, err
	}
	childDS := rel.SelectedDataSource
	childCols, ok := rel.ResolvedChildKey[childDS]
	if !ok {
		return nil, nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.ChildKey.Attributes(), ","), childDS)
	}

	if rel.JoinVia != "" {
		nodes, err := r.buildJoinViaNodes(rel, child, parentCols, childCols, path)
		return nodes, host, err
	}

	if len(parentCols) != len(childCols) {
		return nil, nil, fault.ErrInvalidConfig.New(fmt.Sprintf(
			"relation %s: parentKey and childKey have different lengths", pathKey(path)))
	}
	child.ParentKey = parentCols
	child.ChildKey = childCols
	child.UniqueChildKey = !rel.Many
	child.MultiValuedParentKey = rel.MultiValued
	child.Delimiter = rel.Delimiter
	for i, col := range childCols {
		r.projectColumn(child, col, keyAttributeType(rel, rel.ChildKey, i))
	}
	r.markKeyAttributesInternal(rel, rel.ChildKey)
	prependParentKeyFilter(child)
	if child.Request.LimitPer == "*" {
		child.Request.LimitPer = strings.Join(childCols, ",")
	}
	return []*datasource.TreeNode{child}, host, nil
}

// buildJoinViaNodes plans an m:n relation: the join table becomes an
// intermediate sub-request, with the target resource nested below it.
func (r *resolver) buildJoinViaNodes(rel *config.Node, child *datasource.TreeNode, parentCols, childCols []string, path []string) ([]*datasource.TreeNode, error) {
	joinNode, ok := r.resources[rel.JoinVia]
	if !ok {
		return nil, fault.ErrUnknownIncludedResource.New(rel.JoinVia, pathKey(path))
	}
	joinRes, err := config.IncludeTarget(r.resources, joinNode)
	if err != nil {
		return nil, err
	}
	joinDS := joinRes.DataSources.Primary()
	joinParentCols, ok := rel.ResolvedJoinParentKey[joinDS]
	if !ok {
		return nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.JoinParentKey.Attributes(), ","), joinDS)
	}
	joinChildCols, ok := rel.ResolvedJoinChildKey[joinDS]
	if !ok {
		return nil, fault.ErrUnmappedAttribute.New(
			strings.Join(rel.JoinChildKey.Attributes(), ","), joinDS)
	}
	rel.JoinDataSource = joinDS
	dsConfig, _ := joinRes.DataSources.Get(joinDS)
	join := &datasource.TreeNode{
		ResourceName:     rel.JoinVia,
		AttributePath:    path,
		DataSourceName:   joinDS,
		AttributeOptions: map[string]datasource.AttributeOption{},
		ParentKey:        parentCols,
		ChildKey:         joinParentCols,
		UniqueChildKey:   false,
		Request: &datasource.Request{
			Type:   dsConfig.Type(),
			Config: dsConfig,
		},
	}
	for i, col := range joinParentCols {
		r.projectColumn(join, col, keyAttributeType(joinRes, rel.JoinParentKey, i))
	}
	for i, col := range joinChildCols {
		r.projectColumn(join, col, keyAttributeType(joinRes, rel.JoinChildKey, i))
	}
	prependParentKeyFilter(join)

	child.ParentKey = joinChildCols
	child.ChildKey = childCols
	child.UniqueChildKey = true
	for i, col := range childCols {
		r.projectColumn(child, col, keyAttributeType(rel, rel.ChildKey, i))
	}
	if child.Request.LimitPer == "*" {
		child.Request.LimitPer = strings.Join(childCols, ",")
	}
	prependParentKeyFilter(child)
	join.SubRequests = append(join.SubRequests, child)
	return []*datasource.TreeNode{join}, nil
}

// prependParentKeyFilter puts the placeholder join condition in front of
// the node's own filter. The placeholder must hold in every disjunction
// group, so it is distributed over them.
func prependParentKeyFilter(node *datasource.TreeNode) {
	cond := parentKeyCondition(node.ChildKey)
	if len(node.Request.Filter) == 0 {
		node.Request.Filter = [][]datasource.Condition{{cond}}
		return
	}
	for i := range node.Request.Filter {
		node.Request.Filter[i] = append([]datasource.Condition{cond}, node.Request.Filter[i]...)
	}
}

// markKeyAttributesInternal selects the attributes backing join key
// columns without exposing them in the response, unless the client
// selected them explicitly.
func (r *resolver) markKeyAttributesInternal(res *config.Node, key config.Key) {
	for _, attrName := range key.Attributes() {
		if attr, ok := res.Attributes.Get(attrName); ok && !attr.Selected {
			attr.Selected = true
			attr.Internal = true
		}
	}
}
