// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package datasource defines the narrow contract between the engine and
// pluggable datasource adapters, and the shapes the engine components
// exchange: the physical request, the data-source tree the resolver
// plans, and the raw results the executor collects.
package datasource

import (
	"context"

	"github.com/tessella-io/facet/core"
)

// Row is one flat result row, keyed by physical column name.
type Row map[string]any

// Condition is one comparison over physical columns. Attribute is a
// single column name, or a list of column names for a tuple comparison
// over a composite key.
//
// Exactly one of Value, ValueFromParentKey and ValueFromSubFilter is
// meaningful. The executor fills placeholder values before the request
// reaches the adapter.
type Condition struct {
	Attribute          any           `json:"attribute"`
	Operator           core.Operator `json:"operator"`
	Value              any           `json:"value,omitempty"`
	ValueFromParentKey bool          `json:"valueFromParentKey,omitempty"`
	ValueFromSubFilter *int          `json:"valueFromSubFilter,omitempty"`
}

// Columns returns the attribute as a column list, wrapping a single
// column.
func (c *Condition) Columns() []string {
	switch attr := c.Attribute.(type) {
	case string:
		return []string{attr}
	case []string:
		return attr
	}
	return nil
}

// OrderItem orders by one physical column.
type OrderItem struct {
	Attribute string         `json:"attribute"`
	Direction core.Direction `json:"direction"`
}

// Request is the physical request the engine hands to an adapter. The
// engine fills the common fields; Config carries the adapter-native
// configuration of the datasource (table, database, index, ...) which
// the engine never interprets.
type Request struct {
	Type       string         `json:"type"`
	Attributes []string       `json:"attributes"`
	Filter     [][]Condition  `json:"filter,omitempty"`
	Order      []OrderItem    `json:"order,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Page       int            `json:"page,omitempty"`
	LimitPer   string         `json:"limitPer,omitempty"`
	Search     string         `json:"search,omitempty"`
	Config     map[string]any `json:"-"`
}

// Result is the outcome of one adapter call. Row order is preserved all
// the way to the response. TotalCount is nil when the adapter cannot
// cheaply count.
type Result struct {
	Rows       []Row
	TotalCount *int
}

// Adapter is a pluggable datasource. Prepare is called exactly once per
// request payload before any I/O, so adapters can compile and validate
// upfront. Process executes the request; it must honor context
// cancellation. Close releases adapter-owned resources.
//
// Adapters are shared between concurrent requests and must be safe for
// concurrent use.
type Adapter interface {
	Prepare(req *Request) error
	Process(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// AttributeOption carries per-column metadata for downstream decoding.
type AttributeOption struct {
	Type string `json:"type,omitempty"`
}

// TreeNode is one node of the data-source tree, the physical execution
// plan the resolver produces. Sub-requests join to their parent by key
// after the parent result is known; sub-filters are independent sibling
// trees whose key sets feed placeholder conditions of this node's
// filter.
type TreeNode struct {
	ResourceName   string                     `json:"resourceName"`
	AttributePath  []string                   `json:"attributePath"`
	DataSourceName string                     `json:"dataSourceName"`
	Request        *Request                   `json:"request"`
	AttributeOptions map[string]AttributeOption `json:"attributeOptions,omitempty"`

	ParentKey            []string `json:"parentKey,omitempty"`
	ChildKey             []string `json:"childKey,omitempty"`
	MultiValuedParentKey bool     `json:"multiValuedParentKey,omitempty"`
	UniqueChildKey       bool     `json:"uniqueChildKey,omitempty"`
	Delimiter            string   `json:"delimiter,omitempty"`

	SubRequests []*TreeNode `json:"subRequests,omitempty"`
	SubFilters  []*TreeNode `json:"subFilters,omitempty"`
}

// RawResult is the flat output of one adapter call, tagged with the
// position in the resource tree it belongs to and the join keys copied
// from the plan node.
type RawResult struct {
	ResourceName   string
	AttributePath  []string
	DataSourceName string
	Data           []Row
	TotalCount     *int
	ParentKey      []string
	ChildKey       []string
	MultiValuedParentKey bool
	UniqueChildKey       bool
}
