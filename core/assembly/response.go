// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package assembly stitches the flat raw results of the executor back
// into the nested response object the client selected.
package assembly

import (
	"bytes"
	"net/http"

	"github.com/goccy/go-json"
)

// Cursor carries list pagination metadata. TotalCount is null when the
// backend cannot cheaply count.
type Cursor struct {
	TotalCount *int `json:"totalCount"`
}

// Meta carries transport metadata of a response. It is not part of the
// serialized body.
type Meta struct {
	StatusCode int
	Headers    http.Header
}

// Response is the assembled outcome of one request.
type Response struct {
	Data   any     `json:"data"`
	Cursor *Cursor `json:"cursor,omitempty"`
	Meta   Meta    `json:"-"`
}

// Item is one assembled response object. Field order follows the
// declared attribute order of the resource configuration, which plain
// maps cannot preserve.
type Item struct {
	keys   []string
	values map[string]any
}

// NewItem creates an empty item.
func NewItem() *Item {
	return &Item{values: make(map[string]any)}
}

// Set adds or replaces a field. New fields append at the end.
func (it *Item) Set(name string, value any) {
	if it.values == nil {
		it.values = make(map[string]any)
	}
	if _, ok := it.values[name]; !ok {
		it.keys = append(it.keys, name)
	}
	it.values[name] = value
}

// Get returns a field value.
func (it *Item) Get(name string) (any, bool) {
	v, ok := it.values[name]
	return v, ok
}

// Delete removes a field.
func (it *Item) Delete(name string) {
	if _, ok := it.values[name]; !ok {
		return
	}
	delete(it.values, name)
	for i, k := range it.keys {
		if k == name {
			it.keys = append(it.keys[:i], it.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in declaration order.
func (it *Item) Keys() []string {
	return it.keys
}

// Len returns the number of fields.
func (it *Item) Len() int {
	return len(it.keys)
}

// MarshalJSON encodes the item as an object in field order.
func (it *Item) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range it.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(it.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
