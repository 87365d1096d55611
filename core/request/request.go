// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package request models the validated client intent: which resource to
// read, which attributes to select, filters, ordering, pagination and
// fulltext search.
//
// The package also implements the compact query syntaxes used on the
// wire. Select trees, filters and order lists unmarshal from either
// their structured JSON form or from the compact string form, so the
// same types serve HTTP query parameters and JSON payloads.
package request

import (
	"github.com/goccy/go-json"

	"github.com/tessella-io/facet/core"
)

// Request is one client read request against a resource.
type Request struct {
	Resource string          `json:"resource"`
	ID       string          `json:"id,omitempty"`
	Action   string          `json:"action,omitempty"`
	Format   string          `json:"format,omitempty"`
	Select   *SelectTree     `json:"select,omitempty"`
	Filter   Filter          `json:"filter,omitempty"`
	Order    OrderList       `json:"order,omitempty"`
	Limit    *int            `json:"limit,omitempty"`
	Page     *int            `json:"page,omitempty"`
	Search   string          `json:"search,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	// Options holds additional query parameters that are not part of the
	// request grammar. Reserved names never end up here.
	Options map[string]string `json:"-"`

	// AuthToken is an opaque token propagated to extensions and adapters.
	// The engine itself never interprets it.
	AuthToken string `json:"-"`
}

// EffectiveAction returns the requested action, defaulting to retrieve.
func (r *Request) EffectiveAction() string {
	if r.Action == "" {
		return core.DefaultAction
	}
	return r.Action
}

// EffectiveFormat returns the requested format, defaulting to json.
func (r *Request) EffectiveFormat() string {
	if r.Format == "" {
		return core.DefaultFormat
	}
	return r.Format
}

// IsSingle reports whether the request addresses a single item by id.
func (r *Request) IsSingle() bool {
	return r.ID != ""
}

// Condition is one comparison within a filter conjunction. The attribute
// is a dotted path into the resource tree.
type Condition struct {
	Attribute []string      `json:"attribute"`
	Operator  core.Operator `json:"operator"`
	Value     any           `json:"value"`
}

// UnmarshalJSON accepts the attribute both as a path array and as a
// dotted string.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Attribute json.RawMessage `json:"attribute"`
		Operator  core.Operator   `json:"operator"`
		Value     any             `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Operator = raw.Operator
	if c.Operator == "" {
		c.Operator = core.OperatorEqual
	}
	c.Value = raw.Value
	if len(raw.Attribute) == 0 {
		return nil
	}
	if raw.Attribute[0] == '"' {
		var s string
		if err := json.Unmarshal(raw.Attribute, &s); err != nil {
			return err
		}
		c.Attribute = splitPath(s)
		return nil
	}
	return json.Unmarshal(raw.Attribute, &c.Attribute)
}

// Filter is a disjunction of conjunctions of conditions.
type Filter [][]Condition

// UnmarshalJSON accepts the structured DNF form and the compact string
// form.
func (f *Filter) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseFilter(s)
		if err != nil {
			return err
		}
		*f = parsed
		return nil
	}
	var groups [][]Condition
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}
	*f = groups
	return nil
}

// OrderItem is one entry of an order list.
type OrderItem struct {
	Attribute []string       `json:"attribute"`
	Direction core.Direction `json:"direction"`
}

// UnmarshalJSON accepts the attribute both as a path array and as a
// dotted string.
func (o *OrderItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Attribute json.RawMessage `json:"attribute"`
		Direction core.Direction  `json:"direction"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Direction = raw.Direction
	if o.Direction == "" {
		o.Direction = core.DirectionAsc
	}
	if len(raw.Attribute) == 0 {
		return nil
	}
	if raw.Attribute[0] == '"' {
		var s string
		if err := json.Unmarshal(raw.Attribute, &s); err != nil {
			return err
		}
		o.Attribute = splitPath(s)
		return nil
	}
	return json.Unmarshal(raw.Attribute, &o.Attribute)
}

// OrderList is a list of order items.
type OrderList []OrderItem

// UnmarshalJSON accepts the structured list form and the compact string
// form.
func (l *OrderList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseOrder(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var items []OrderItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}
