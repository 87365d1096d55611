// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resolver

import (
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/request"
)

// RootSelector addresses the top-level resource in a depends selection.
const RootSelector = "{root}"

// buildSelection walks the requested selection against the attribute
// tree of res, marking visited nodes selected. The primary key of every
// visited resource is selected implicitly; it is needed for joining and
// serves as item identity.
func (r *resolver) buildSelection(res *config.Node, sel *request.SelectTree, path []string) error {
	r.selectPrimaryKey(res)
	return r.applySelection(res, res, sel, path, false)
}

func (r *resolver) selectPrimaryKey(res *config.Node) {
	for _, attrName := range res.PrimaryKey.Attributes() {
		if attr, ok := res.Attributes.Get(attrName); ok {
			attr.Selected = true
		}
	}
}

// applySelection marks the attributes of one selection level. res is the
// resource owning the current level, node the current attribute group
// (res itself, or a nested plain attribute node). With internal set,
// newly selected attributes are flagged internal and hidden attributes
// are legal; this is the depends expansion mode.
func (r *resolver) applySelection(res *config.Node, node *config.Node, sel *request.SelectTree, path []string, internal bool) error {
	if sel == nil {
		return nil
	}
	var firstErr error
	sel.Range(func(name string, selNode *request.SelectNode) bool {
		firstErr = r.applySelectionEntry(res, node, name, selNode, path, internal)
		return firstErr == nil
	})
	return firstErr
}

func (r *resolver) applySelectionEntry(res *config.Node, node *config.Node, name string, selNode *request.SelectNode, path []string, internal bool) error {
	attrPath := append(append([]string(nil), path...), name)
	attr, ok := node.Attributes.Get(name)
	if !ok {
		return fault.ErrUnknownAttribute.New(pathKey(attrPath))
	}
	if attr.Hidden && !internal && !attr.Selected {
		return fault.ErrHiddenAttribute.New(pathKey(attrPath))
	}
	if selNode == nil {
		selNode = &request.SelectNode{}
	}
	if selNode.ID != nil {
		return fault.ErrIDOnlyAtRoot.New(pathKey(attrPath))
	}

	if attr.IsResource() {
		// resolve the inclusion chain in place so the resolved config
		// carries the full sub-resource
		if attr.Resource != "" {
			merged, err := r.mergeInclude(attr, name, nil)
			if err != nil {
				return err
			}
			merged.Selected = attr.Selected
			merged.Internal = attr.Internal
			node.Attributes.Set(name, merged)
			attr = merged
		}
		if attr.SourceResource == "" {
			attr.SourceResource = name
		}
		r.markSelected(attr, internal)
		if selNode.HasOptions() {
			if existing, ok := r.options[pathKey(attrPath)]; !ok || existing != selNode {
				r.options[pathKey(attrPath)] = selNode
			}
		}
		r.selectPrimaryKey(attr)
		return r.applySelection(attr, attr, selNode.Select, attrPath, internal)
	}

	if selNode.HasOptions() {
		return fault.ErrInvalidOption.New(firstOptionName(selNode), pathKey(attrPath))
	}

	if attr.Attributes.Len() > 0 {
		// nested attribute group of the same resource
		r.markSelected(attr, internal)
		return r.applySelection(res, attr, selNode.Select, attrPath, internal)
	}

	// leaf attribute
	if selNode.Select.Len() > 0 {
		child := selNode.Select.Keys()[0]
		return fault.ErrUnknownAttribute.New(pathKey(append(attrPath, child)))
	}
	r.markSelected(attr, internal)
	return nil
}

func (r *resolver) markSelected(attr *config.Node, internal bool) {
	if !attr.Selected {
		attr.Selected = true
		attr.Internal = internal
	} else if !internal {
		attr.Internal = false
	}
}

func firstOptionName(n *request.SelectNode) string {
	switch {
	case n.Filter != nil:
		return "filter"
	case n.Order != nil:
		return "order"
	case n.Limit != nil:
		return "limit"
	case n.Page != nil:
		return "page"
	}
	return "option"
}

// expandDependencies applies the depends declarations of all selected
// attributes until a pass adds no new selection, the fixed-point closure
// over possibly cyclic dependencies.
func (r *resolver) expandDependencies(root *config.Node) error {
	for pass := 0; ; pass++ {
		if pass > 2*config.MaxInclusionDepth {
			return fault.ErrInvalidConfig.New("depends expansion does not converge")
		}
		changed, err := r.expandNode(root, root, root, map[string]bool{root.SourceResource: true})
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
}

// expandNode walks one attribute group. res is the owning resource node,
// node the current group. The chain guards against unbounded expansion
// through dependency cycles between resources: a resource already being
// expanded does not apply its resource-level depends again.
func (r *resolver) expandNode(root, res, node *config.Node, chain map[string]bool) (bool, error) {
	changed := false
	if node == res && res.Depends != nil && !r.dependsDone[res] {
		r.dependsDone[res] = true
		c, err := r.applyDepends(root, res, res, res.Depends)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	var firstErr error
	node.Attributes.Range(func(name string, attr *config.Node) bool {
		if !attr.Selected {
			return true
		}
		if attr.Depends != nil && !r.dependsDone[attr] {
			r.dependsDone[attr] = true
			c, err := r.applyDepends(root, res, node, attr.Depends)
			if err != nil {
				firstErr = err
				return false
			}
			changed = changed || c
		}
		if attr.IsResource() {
			sub := attr.SourceResource
			if chain[sub] {
				return true
			}
			subChain := make(map[string]bool, len(chain)+1)
			for k := range chain {
				subChain[k] = true
			}
			if sub != "" {
				subChain[sub] = true
			}
			c, err := r.expandNode(root, attr, attr, subChain)
			if err != nil {
				firstErr = err
				return false
			}
			changed = changed || c
		} else if attr.Attributes.Len() > 0 {
			c, err := r.expandNode(root, res, attr, chain)
			if err != nil {
				firstErr = err
				return false
			}
			changed = changed || c
		}
		return true
	})
	return changed, firstErr
}

// applyDepends applies one depends declaration. Dependencies address
// local sibling attributes of the declaring node, or the top-level
// resource through the {root} selector. Newly selected attributes are
// internal: part of the physical plan, stripped from the response.
func (r *resolver) applyDepends(root, res, scope *config.Node, depends *request.SelectTree) (bool, error) {
	changed := false
	var firstErr error
	depends.Range(func(name string, selNode *request.SelectNode) bool {
		target := scope
		targetRes := res
		if name == RootSelector {
			target = root
			targetRes = root
			if selNode == nil || selNode.Select == nil {
				return true
			}
			before := countSelected(root)
			if err := r.applySelection(targetRes, target, selNode.Select, nil, true); err != nil {
				firstErr = err
				return false
			}
			changed = changed || countSelected(root) != before
			return true
		}
		before := countSelected(root)
		one := request.NewSelectTree()
		one.Set(name, selNode)
		if err := r.applySelection(targetRes, target, one, nil, true); err != nil {
			firstErr = err
			return false
		}
		changed = changed || countSelected(root) != before
		return true
	})
	return changed, firstErr
}

// countSelected is the change detector of the depends fixed point: the
// number of selected nodes only ever grows.
func countSelected(node *config.Node) int {
	count := 0
	if node.Selected {
		count = 1
	}
	node.Attributes.Range(func(_ string, attr *config.Node) bool {
		count += countSelected(attr)
		return true
	})
	return count
}
