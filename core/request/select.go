// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package request

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// SelectNode carries the per-attribute options of a selection. Options
// other than Select are only legal on sub-resource attributes, which the
// resolver enforces.
type SelectNode struct {
	Select *SelectTree `json:"select,omitempty"`
	Filter Filter      `json:"filter,omitempty"`
	Order  OrderList   `json:"order,omitempty"`
	Limit  *int        `json:"limit,omitempty"`
	Page   *int        `json:"page,omitempty"`

	// ID is never legal below the request root. It is decoded so the
	// resolver can produce a proper error instead of ignoring it.
	ID *string `json:"id,omitempty"`
}

// HasOptions reports whether the node carries any option besides a
// nested selection.
func (n *SelectNode) HasOptions() bool {
	return n != nil && (n.Filter != nil || n.Order != nil || n.Limit != nil || n.Page != nil)
}

// SelectTree is an ordered mapping from attribute name to its selection
// node. Order is the request order, which becomes response field order
// for attributes the resource configuration does not already pin.
type SelectTree struct {
	keys  []string
	nodes map[string]*SelectNode
}

// NewSelectTree creates an empty selection.
func NewSelectTree() *SelectTree {
	return &SelectTree{nodes: make(map[string]*SelectNode)}
}

// Len returns the number of selected attributes.
func (t *SelectTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the selected attribute names in request order.
func (t *SelectTree) Keys() []string {
	if t == nil {
		return nil
	}
	return t.keys
}

// Get returns the selection node for an attribute.
func (t *SelectTree) Get(name string) (*SelectNode, bool) {
	if t == nil {
		return nil, false
	}
	n, ok := t.nodes[name]
	return n, ok
}

// Set adds or replaces an attribute selection.
func (t *SelectTree) Set(name string, node *SelectNode) {
	if t.nodes == nil {
		t.nodes = make(map[string]*SelectNode)
	}
	if _, ok := t.nodes[name]; !ok {
		t.keys = append(t.keys, name)
	}
	t.nodes[name] = node
}

// Range calls f for every selected attribute in request order until f
// returns false.
func (t *SelectTree) Range(f func(name string, node *SelectNode) bool) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		if !f(k, t.nodes[k]) {
			return
		}
	}
}

// Merge adds all selections of other into t. Nested selections merge
// recursively; options of existing nodes win over merged ones.
func (t *SelectTree) Merge(other *SelectTree) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		on := other.nodes[k]
		existing, ok := t.Get(k)
		if !ok {
			t.Set(k, cloneSelectNode(on))
			continue
		}
		if on.Select != nil {
			if existing.Select == nil {
				existing.Select = NewSelectTree()
			}
			existing.Select.Merge(on.Select)
		}
	}
}

func cloneSelectNode(n *SelectNode) *SelectNode {
	if n == nil {
		return &SelectNode{}
	}
	out := &SelectNode{
		Filter: n.Filter,
		Order:  n.Order,
		Limit:  n.Limit,
		Page:   n.Page,
		ID:     n.ID,
	}
	if n.Select != nil {
		out.Select = NewSelectTree()
		out.Select.Merge(n.Select)
	}
	return out
}

// UnmarshalJSON accepts the structured object form and the compact
// string form.
func (t *SelectTree) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseSelect(s)
		if err != nil {
			return err
		}
		*t = *parsed
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("select must be an object")
	}
	t.keys = nil
	t.nodes = make(map[string]*SelectNode)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid attribute name %v", tok)
		}
		node := &SelectNode{}
		if err := dec.Decode(node); err != nil {
			return fmt.Errorf("select %q: %w", key, err)
		}
		t.Set(key, node)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the selection as an object in request order.
func (t *SelectTree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		node, err := json.Marshal(t.nodes[k])
		if err != nil {
			return nil, err
		}
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
