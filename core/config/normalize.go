// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"strings"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/fault"
)

// MaxInclusionDepth bounds transitive resource inclusion. Inclusion
// cycles run into this limit instead of looping forever.
const MaxInclusionDepth = 10

// IncludeTarget follows the inclusion chain of a node until it reaches a
// node with its own datasources. Nodes without a resource reference are
// returned as-is.
func IncludeTarget(resources map[string]*Node, node *Node) (*Node, error) {
	cur := node
	var chain []string
	for depth := 0; cur.Resource != ""; depth++ {
		if depth >= MaxInclusionDepth {
			return nil, fault.ErrInclusionDepth.New(strings.Join(chain, ", "))
		}
		chain = append(chain, cur.Resource)
		next, ok := resources[cur.Resource]
		if !ok {
			return nil, fault.ErrUnknownIncludedResource.New(cur.Resource, strings.Join(chain, ", "))
		}
		cur = next
	}
	return cur, nil
}

// Normalize validates all resources and pre-computes the physical key
// projections. It materializes default attribute mappings, resolves
// primary, parent and child keys per datasource, and enforces the
// configuration invariants: key and defaultOrder attributes must exist,
// mapped datasources must be declared, and the primary datasource must
// map every primary-key attribute. The attributes named by subFilters
// entries are not checked here.
//
// Normalize mutates the given nodes; it runs once at load time, before
// the configuration is shared.
func Normalize(resources map[string]*Node) error {
	for name, node := range resources {
		if node.Resource != "" {
			// a pure include; the target normalizes on its own and the
			// local overrides merge at resolve time
			if _, err := IncludeTarget(resources, node); err != nil {
				return err
			}
			continue
		}
		if err := NormalizeResource(resources, node, name); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeResource normalizes a single resource node. The resolver uses
// it to re-resolve keys after merging inclusion-site overrides into a
// per-request clone.
func NormalizeResource(resources map[string]*Node, node *Node, path string) error {
	if node.DataSources.Len() == 0 {
		return fault.ErrNoDataSources.New(path)
	}
	primary := node.DataSources.Primary()

	if err := normalizeAttributes(resources, node, node, path); err != nil {
		return err
	}

	if len(node.PrimaryKey) == 0 {
		return fault.ErrInvalidConfig.New("resource " + path + " has no primaryKey")
	}
	rk, err := resolveKey(node, node.PrimaryKey, path)
	if err != nil {
		return err
	}
	if _, ok := rk[primary]; !ok {
		return fault.ErrUnmappedAttribute.New(
			core.JoinPath([]string{path, strings.Join(node.PrimaryKey.Attributes(), ",")}), primary)
	}
	node.ResolvedPrimaryKey = rk

	for _, item := range node.DefaultOrder {
		attr, ok := node.Attributes.Get(item.Attribute[0])
		if !ok {
			return fault.ErrInvalidConfig.New(
				"defaultOrder of " + path + " references unknown attribute " + core.JoinPath(item.Attribute))
		}
		if !attr.Order.Permits(item.Direction) {
			return fault.ErrInvalidConfig.New(
				"defaultOrder of " + path + " is not permitted on " + core.JoinPath(item.Attribute))
		}
	}
	return nil
}

// normalizeAttributes walks the attribute tree of one resource context.
// Leaf attributes get their default mapping materialized, relation nodes
// get their parent and child keys resolved.
func normalizeAttributes(resources map[string]*Node, resource *Node, node *Node, path string) error {
	var firstErr error
	node.Attributes.Range(func(name string, attr *Node) bool {
		attrPath := path + "." + name
		if attr.IsResource() {
			if err := normalizeRelation(resources, resource, attr, attrPath); err != nil {
				firstErr = err
				return false
			}
			return true
		}
		if attr.Attributes.Len() > 0 {
			// nested attribute group, leaves map against the same resource
			if err := normalizeAttributes(resources, resource, attr, attrPath); err != nil {
				firstErr = err
				return false
			}
			return true
		}
		if err := normalizeLeaf(resource, attr, name, attrPath); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

func normalizeLeaf(resource *Node, attr *Node, name, path string) error {
	if attr.Value != nil {
		// static attributes have no physical column
		return nil
	}
	if attr.Map == nil {
		attr.Map = map[string]map[string]string{
			"default": {resource.DataSources.Primary(): name},
		}
		return nil
	}
	for _, byDS := range attr.Map {
		for ds := range byDS {
			if _, ok := resource.DataSources.Get(ds); !ok {
				return fault.ErrUnknownDataSource.New(ds, path)
			}
		}
	}
	return nil
}

func normalizeRelation(resources map[string]*Node, parent *Node, rel *Node, path string) error {
	target := rel
	if rel.Resource != "" {
		var err error
		target, err = IncludeTarget(resources, rel)
		if err != nil {
			return err
		}
	} else {
		if err := NormalizeResource(resources, rel, path); err != nil {
			return err
		}
	}

	if len(rel.ParentKey) == 0 && len(rel.ChildKey) == 0 {
		return nil
	}
	if len(rel.ParentKey) == 0 || len(rel.ChildKey) == 0 {
		return fault.ErrInvalidConfig.New("relation " + path + " must declare both parentKey and childKey")
	}

	rpk, err := resolveKey(parent, rel.ParentKey, path)
	if err != nil {
		return err
	}
	rel.ResolvedParentKey = rpk

	// the child key resolves against the target resource's datasources;
	// for included targets the physical projection is identical for every
	// inclusion site
	rck := ResolvedKey{}
	for _, ds := range target.DataSources.Keys() {
		cols, ok := mapKeyColumns(target, rel.ChildKey, ds)
		if ok {
			rck[ds] = cols
		}
	}
	if _, ok := rck[target.DataSources.Primary()]; !ok {
		return fault.ErrUnmappedAttribute.New(
			path+"."+strings.Join(rel.ChildKey.Attributes(), ","), target.DataSources.Primary())
	}
	rel.ResolvedChildKey = rck

	if rel.MultiValued && rel.Delimiter == "" {
		rel.Delimiter = ","
	}

	if rel.JoinVia != "" {
		joinNode, ok := resources[rel.JoinVia]
		if !ok {
			return fault.ErrUnknownIncludedResource.New(rel.JoinVia, path)
		}
		joinRes, err := IncludeTarget(resources, joinNode)
		if err != nil {
			return err
		}
		if len(rel.JoinParentKey) == 0 || len(rel.JoinChildKey) == 0 {
			return fault.ErrInvalidConfig.New("relation " + path + " with joinVia must declare joinParentKey and joinChildKey")
		}
		rel.ResolvedJoinParentKey, err = resolveKey(joinRes, rel.JoinParentKey, path)
		if err != nil {
			return err
		}
		rel.ResolvedJoinChildKey, err = resolveKey(joinRes, rel.JoinChildKey, path)
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveKey computes the physical columns of the key for every
// datasource of the resource that maps all key attributes. Missing key
// attributes are an error.
func resolveKey(resource *Node, key Key, path string) (ResolvedKey, error) {
	for _, attrName := range key.Attributes() {
		if _, ok := resource.Attributes.Get(attrName); !ok {
			return nil, fault.ErrInvalidConfig.New("key of " + path + " references unknown attribute " + attrName)
		}
	}
	rk := ResolvedKey{}
	for _, ds := range resource.DataSources.Keys() {
		cols, ok := mapKeyColumns(resource, key, ds)
		if ok {
			rk[ds] = cols
		}
	}
	return rk, nil
}

// mapKeyColumns maps all key attributes to physical columns of one
// datasource. The second return is false if any attribute is not mapped
// there.
func mapKeyColumns(resource *Node, key Key, ds string) ([]string, bool) {
	var cols []string
	for _, attrName := range key.Attributes() {
		attr, ok := resource.Attributes.Get(attrName)
		if !ok {
			return nil, false
		}
		col, ok := attr.MappedColumn(ds)
		if !ok {
			if ds == resource.DataSources.Primary() && attr.Map == nil && attr.Value == nil {
				col = attrName
			} else {
				return nil, false
			}
		}
		cols = append(cols, col)
	}
	return cols, true
}
