// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package resolver translates a validated client request and the parsed
// resource configuration into a per-request resolved configuration and
// the data-source tree, the physical execution plan.
//
// The resolver never mutates the parsed configuration. It clones the
// subtrees it touches and annotates the clones with selection markers
// the result builder reads later.
package resolver

import (
	"strings"

	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/request"
)

// FulltextDataSource is the name of the datasource that serves fulltext
// search requests when a resource declares one.
const FulltextDataSource = "fulltextSearch"

// Result is the outcome of resolving one request: the selection-annotated
// clone of the resource tree and the physical execution plan.
type Result struct {
	Config *config.Node
	Tree   *datasource.TreeNode
}

type resolver struct {
	req       *request.Request
	resources map[string]*config.Node

	// per sub-resource request options, keyed by joined attribute path
	options map[string]*request.SelectNode

	// depends expansion bookkeeping
	dependsDone map[*config.Node]bool
}

// Resolve merges the request with the resource configuration. It returns
// a request error for invalid client input and an implementation error
// for configuration defects.
func Resolve(req *request.Request, resources map[string]*config.Node) (*Result, error) {
	node, ok := resources[req.Resource]
	if !ok {
		return nil, fault.ErrUnknownResource.New(req.Resource)
	}
	r := &resolver{
		req:         req,
		resources:   resources,
		options:     make(map[string]*request.SelectNode),
		dependsDone: make(map[*config.Node]bool),
	}
	root, err := r.mergeInclude(node, req.Resource, nil)
	if err != nil {
		return nil, err
	}
	if root.DataSources.Len() == 0 {
		return nil, fault.ErrNoDataSources.New(req.Resource)
	}
	if err := r.buildSelection(root, req.Select, nil); err != nil {
		return nil, err
	}
	if err := r.expandDependencies(root); err != nil {
		return nil, err
	}
	tree, err := r.buildTree(root)
	if err != nil {
		return nil, err
	}
	return &Result{Config: root, Tree: tree}, nil
}

func pathKey(path []string) string {
	return strings.Join(path, ".")
}

// mergeInclude resolves the inclusion chain of a node into a deep clone.
// Attributes and datasources declared at an inclusion site are merged
// into the included resource; relation fields of the inclusion site are
// carried over. Adapter configurations stay shared by reference.
func (r *resolver) mergeInclude(node *config.Node, name string, chain []string) (*config.Node, error) {
	if node.Resource == "" {
		clone := node.Clone()
		if clone.SourceResource == "" {
			clone.SourceResource = name
		}
		return clone, nil
	}
	if len(chain) >= config.MaxInclusionDepth {
		return nil, fault.ErrInclusionDepth.New(strings.Join(chain, ", "))
	}
	target, ok := r.resources[node.Resource]
	if !ok {
		return nil, fault.ErrUnknownIncludedResource.New(node.Resource, strings.Join(append(chain, name), ", "))
	}
	merged, err := r.mergeInclude(target, node.Resource, append(chain, name))
	if err != nil {
		return nil, err
	}
	merged.SourceResource = node.Resource

	// attributes declared at the inclusion site are added; overwriting is
	// a configuration defect
	var mergeErr error
	node.Attributes.Range(func(attrName string, attr *config.Node) bool {
		if _, exists := merged.Attributes.Get(attrName); exists {
			mergeErr = fault.ErrOverwriteAttribute.New(attrName, name)
			return false
		}
		merged.Attributes.Set(attrName, attr.Clone())
		return true
	})
	if mergeErr != nil {
		return nil, mergeErr
	}

	// datasources may be added; overriding requires an explicit inherit
	// mode
	for _, dsName := range node.DataSources.Keys() {
		override, _ := node.DataSources.Get(dsName)
		existing, exists := merged.DataSources.Get(dsName)
		if !exists {
			merged.DataSources.Set(dsName, override)
			continue
		}
		inherit, _ := override["inherit"].(string)
		switch inherit {
		case "inherit":
			combined := make(config.DataSourceConfig, len(existing)+len(override))
			for k, v := range existing {
				combined[k] = v
			}
			for k, v := range override {
				if k != "inherit" {
					combined[k] = v
				}
			}
			merged.DataSources.Set(dsName, combined)
		case "replace":
			combined := make(config.DataSourceConfig, len(override))
			for k, v := range override {
				if k != "inherit" {
					combined[k] = v
				}
			}
			merged.DataSources.Set(dsName, combined)
		default:
			return nil, fault.ErrOverwriteDataSource.New(dsName, name)
		}
	}

	// scalar overrides of the inclusion site win
	if node.DefaultLimit != 0 {
		merged.DefaultLimit = node.DefaultLimit
	}
	if node.MaxLimit != 0 {
		merged.MaxLimit = node.MaxLimit
	}
	if len(node.DefaultOrder) > 0 {
		merged.DefaultOrder = node.DefaultOrder
	}
	if len(node.SubFilters) > 0 {
		merged.SubFilters = append(append([]config.SubFilterConfig(nil), merged.SubFilters...), node.SubFilters...)
	}
	if len(node.PrimaryKey) > 0 {
		merged.PrimaryKey = node.PrimaryKey
	}
	if node.Depends != nil {
		merged.Depends = node.Depends
	}

	// relation fields always belong to the inclusion site
	merged.Resource = ""
	merged.ParentKey = node.ParentKey
	merged.ChildKey = node.ChildKey
	merged.ResolvedParentKey = node.ResolvedParentKey
	merged.ResolvedChildKey = node.ResolvedChildKey
	merged.Many = node.Many
	merged.MultiValued = node.MultiValued
	merged.Delimiter = node.Delimiter
	merged.JoinVia = node.JoinVia
	merged.JoinParentKey = node.JoinParentKey
	merged.JoinChildKey = node.JoinChildKey
	merged.ResolvedJoinParentKey = node.ResolvedJoinParentKey
	merged.ResolvedJoinChildKey = node.ResolvedJoinChildKey
	merged.Hidden = node.Hidden

	// additions may have changed the physical key projections
	if err := config.NormalizeResource(r.resources, merged, name); err != nil {
		return nil, err
	}
	return merged, nil
}
