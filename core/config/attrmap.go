// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// AttrMap is an ordered mapping from attribute name to node. Attribute
// order determines response field order, so plain Go maps are not an
// option here.
type AttrMap struct {
	keys  []string
	nodes map[string]*Node
}

// NewAttrMap creates an empty attribute map.
func NewAttrMap() *AttrMap {
	return &AttrMap{nodes: make(map[string]*Node)}
}

// Len returns the number of attributes.
func (m *AttrMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the attribute names in declaration order. The returned
// slice must not be modified.
func (m *AttrMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Get returns the node for the given attribute name.
func (m *AttrMap) Get(name string) (*Node, bool) {
	if m == nil {
		return nil, false
	}
	n, ok := m.nodes[name]
	return n, ok
}

// Set adds or replaces an attribute. New attributes are appended at the
// end, replaced attributes keep their position.
func (m *AttrMap) Set(name string, node *Node) {
	if m.nodes == nil {
		m.nodes = make(map[string]*Node)
	}
	if _, ok := m.nodes[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.nodes[name] = node
}

// Range calls f for every attribute in declaration order until f returns
// false.
func (m *AttrMap) Range(f func(name string, node *Node) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !f(k, m.nodes[k]) {
			return
		}
	}
}

// Clone returns a deep clone of the map. Datasource adapter
// configurations are shared, everything else is copied.
func (m *AttrMap) Clone() *AttrMap {
	if m == nil {
		return nil
	}
	out := &AttrMap{
		keys:  append([]string(nil), m.keys...),
		nodes: make(map[string]*Node, len(m.nodes)),
	}
	for k, n := range m.nodes {
		out.nodes[k] = n.Clone()
	}
	return out
}

// UnmarshalJSON decodes a JSON object into the map, preserving key order.
func (m *AttrMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes must be an object")
	}
	m.keys = nil
	m.nodes = make(map[string]*Node)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid attribute name %v", tok)
		}
		node := &Node{}
		if err := dec.Decode(node); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		m.Set(key, node)
	}
	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON encodes the map as a JSON object in declaration order.
func (m *AttrMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		node, err := json.Marshal(m.nodes[k])
		if err != nil {
			return nil, err
		}
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}


// DataSourceMap is an ordered mapping from datasource name to its opaque
// adapter configuration. The first entry, or the one tagged primary, is
// the resource's primary datasource.
type DataSourceMap struct {
	keys    []string
	configs map[string]DataSourceConfig
}

// Len returns the number of datasources.
func (m *DataSourceMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the datasource names in declaration order.
func (m *DataSourceMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Get returns the configuration of the named datasource.
func (m *DataSourceMap) Get(name string) (DataSourceConfig, bool) {
	if m == nil {
		return nil, false
	}
	c, ok := m.configs[name]
	return c, ok
}

// Set adds or replaces a datasource configuration.
func (m *DataSourceMap) Set(name string, cfg DataSourceConfig) {
	if m.configs == nil {
		m.configs = make(map[string]DataSourceConfig)
	}
	if _, ok := m.configs[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.configs[name] = cfg
}

// Delete removes a datasource configuration.
func (m *DataSourceMap) Delete(name string) {
	if m == nil || m.configs == nil {
		return
	}
	if _, ok := m.configs[name]; !ok {
		return
	}
	delete(m.configs, name)
	for i, k := range m.keys {
		if k == name {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Primary returns the name of the primary datasource: the one tagged
// primary, or the first declared one.
func (m *DataSourceMap) Primary() string {
	if m == nil {
		return ""
	}
	for _, k := range m.keys {
		if primary, ok := m.configs[k]["primary"].(bool); ok && primary {
			return k
		}
	}
	if len(m.keys) > 0 {
		return m.keys[0]
	}
	return ""
}

// Clone returns a copy of the map. The adapter configurations themselves
// are shared by reference, they are read-only by contract.
func (m *DataSourceMap) Clone() *DataSourceMap {
	if m == nil {
		return nil
	}
	out := &DataSourceMap{
		keys:    append([]string(nil), m.keys...),
		configs: make(map[string]DataSourceConfig, len(m.configs)),
	}
	for k, c := range m.configs {
		out.configs[k] = c
	}
	return out
}

// UnmarshalJSON decodes a JSON object into the map, preserving key order.
func (m *DataSourceMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("dataSources must be an object")
	}
	m.keys = nil
	m.configs = make(map[string]DataSourceConfig)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid datasource name %v", tok)
		}
		cfg := DataSourceConfig{}
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("datasource %q: %w", key, err)
		}
		m.Set(key, cfg)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the map as a JSON object in declaration order.
func (m *DataSourceMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		cfg, err := json.Marshal(m.configs[k])
		if err != nil {
			return nil, err
		}
		buf.Write(cfg)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

