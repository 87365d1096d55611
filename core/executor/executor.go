// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package executor walks the data-source tree, dispatches the physical
// requests to the registered adapters and collects the raw results.
//
// Execution is depth-first: sibling sub-requests run concurrently, one
// goroutine each with no limit on their number, parent to child
// dependencies serialize through the
// parent-key substitution. Sub-filters of a node run before the node
// itself, their key sets fill the node's placeholder conditions. Any
// adapter error cancels outstanding work and discards partial results.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
)

// Executor dispatches data-source trees to adapters, which are
// registered by datasource type. Adapters are shared between concurrent
// requests; the executor itself is stateless.
type Executor struct {
	adapters map[string]datasource.Adapter
}

// New creates an executor over the given adapter registry.
func New(adapters map[string]datasource.Adapter) *Executor {
	return &Executor{adapters: adapters}
}

// Adapter returns the adapter registered for a datasource type.
func (e *Executor) Adapter(dsType string) (datasource.Adapter, error) {
	adapter, ok := e.adapters[dsType]
	if !ok {
		return nil, fault.ErrUnknownAdapterType.New(dsType)
	}
	return adapter, nil
}

// Close closes all registered adapters.
func (e *Executor) Close() error {
	var firstErr error
	for _, adapter := range e.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Execute runs the whole tree and returns the collected raw results.
// The prepare phase walks the complete tree synchronously before any
// I/O, so adapters can reject broken requests upfront.
func (e *Executor) Execute(ctx context.Context, tree *datasource.TreeNode) ([]*datasource.RawResult, error) {
	if err := e.prepare(tree); err != nil {
		return nil, err
	}
	c := &collector{}
	if err := e.executeNode(ctx, tree, c); err != nil {
		return nil, err
	}
	return c.results, nil
}

func (e *Executor) prepare(node *datasource.TreeNode) error {
	adapter, err := e.Adapter(node.Request.Type)
	if err != nil {
		return err
	}
	if err := adapter.Prepare(node.Request); err != nil {
		return fault.ErrAdapter.Wrap(err, node.DataSourceName)
	}
	for _, sub := range node.SubFilters {
		if err := e.prepare(sub); err != nil {
			return err
		}
	}
	for _, sub := range node.SubRequests {
		if err := e.prepare(sub); err != nil {
			return err
		}
	}
	return nil
}

type collector struct {
	mu      sync.Mutex
	results []*datasource.RawResult
}

func (c *collector) add(result *datasource.RawResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

// executeNode runs one node: sub-filters first, then the node's own
// request, then the joined sub-requests in parallel.
func (e *Executor) executeNode(ctx context.Context, node *datasource.TreeNode, c *collector) error {
	if len(node.SubFilters) > 0 {
		keySets := make([]any, len(node.SubFilters))
		g, subCtx := errgroup.WithContext(ctx)
		for i, sub := range node.SubFilters {
			i, sub := i, sub
			g.Go(func() error {
				values, err := e.executeSubFilter(subCtx, sub)
				if err != nil {
					return err
				}
				keySets[i] = values
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		fillSubFilterValues(node.Request, keySets)
	}

	result, err := e.process(ctx, node)
	if err != nil {
		return err
	}
	c.add(&datasource.RawResult{
		ResourceName:         node.ResourceName,
		AttributePath:        node.AttributePath,
		DataSourceName:       node.DataSourceName,
		Data:                 result.Rows,
		TotalCount:           result.TotalCount,
		ParentKey:            node.ParentKey,
		ChildKey:             node.ChildKey,
		MultiValuedParentKey: node.MultiValuedParentKey,
		UniqueChildKey:       node.UniqueChildKey,
	})

	if len(node.SubRequests) == 0 {
		return nil
	}
	g, subCtx := errgroup.WithContext(ctx)
	for _, sub := range node.SubRequests {
		values, err := parentKeyValues(result.Rows, sub.ParentKey, sub.MultiValuedParentKey, sub.Delimiter)
		if err != nil {
			return fault.ErrMissingKeyColumn.New(
				core.JoinPath(node.AttributePath), node.DataSourceName, strings.Join(sub.ParentKey, ","))
		}
		if len(values) == 0 {
			// no parent rows, nothing to join; the subtree still reports
			// empty results so the builder sees every planned datasource
			emitEmpty(sub, c)
			continue
		}
		fillParentKeyValues(sub.Request, values)
		sub := sub
		g.Go(func() error {
			return e.executeNode(subCtx, sub, c)
		})
	}
	return g.Wait()
}

// executeSubFilter runs an independent sub-filter tree and extracts its
// child-key value set. Sub-filter results never surface as raw results.
func (e *Executor) executeSubFilter(ctx context.Context, node *datasource.TreeNode) ([]any, error) {
	if len(node.SubFilters) > 0 {
		keySets := make([]any, len(node.SubFilters))
		g, subCtx := errgroup.WithContext(ctx)
		for i, sub := range node.SubFilters {
			i, sub := i, sub
			g.Go(func() error {
				values, err := e.executeSubFilter(subCtx, sub)
				if err != nil {
					return err
				}
				keySets[i] = values
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		fillSubFilterValues(node.Request, keySets)
	}
	result, err := e.process(ctx, node)
	if err != nil {
		return nil, err
	}
	values, err := parentKeyValues(result.Rows, node.ChildKey, false, "")
	if err != nil {
		return nil, fault.ErrMissingKeyColumn.New(
			core.JoinPath(node.AttributePath), node.DataSourceName, strings.Join(node.ChildKey, ","))
	}
	return values, nil
}

// process runs one adapter call inside a tracing span.
func (e *Executor) process(ctx context.Context, node *datasource.TreeNode) (*datasource.Result, error) {
	adapter, err := e.Adapter(node.Request.Type)
	if err != nil {
		return nil, err
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "datasource.process")
	span.SetTag("resource", node.ResourceName)
	span.SetTag("datasource", node.DataSourceName)
	defer span.Finish()

	rlog := logger.FromContext(ctx)
	rlog.Debugf("execute %s on datasource %s (%d columns)",
		node.ResourceName, node.DataSourceName, len(node.Request.Attributes))

	result, err := adapter.Process(ctx, node.Request)
	if err != nil {
		span.SetTag("error", true)
		return nil, fault.ErrAdapter.Wrap(err, node.DataSourceName)
	}
	return result, nil
}

// emitEmpty reports empty results for a whole subtree without touching
// any adapter.
func emitEmpty(node *datasource.TreeNode, c *collector) {
	c.add(&datasource.RawResult{
		ResourceName:         node.ResourceName,
		AttributePath:        node.AttributePath,
		DataSourceName:       node.DataSourceName,
		Data:                 nil,
		ParentKey:            node.ParentKey,
		ChildKey:             node.ChildKey,
		MultiValuedParentKey: node.MultiValuedParentKey,
		UniqueChildKey:       node.UniqueChildKey,
	})
	for _, sub := range node.SubRequests {
		emitEmpty(sub, c)
	}
}

// parentKeyValues extracts the distinct key values of the given columns
// from a result, in row order. A single column yields scalars, a
// composite key yields tuples. Multi-valued keys are split on the
// delimiter first.
func parentKeyValues(rows []datasource.Row, cols []string, multiValued bool, delimiter string) ([]any, error) {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rows {
		if len(cols) == 1 {
			value, ok := row[cols[0]]
			if !ok {
				return nil, fmt.Errorf("missing key column %s", cols[0])
			}
			if multiValued {
				str, _ := value.(string)
				for _, part := range strings.Split(str, delimiter) {
					if part == "" || seen[part] {
						continue
					}
					seen[part] = true
					values = append(values, part)
				}
				continue
			}
			key := fmt.Sprint(value)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, value)
			continue
		}
		tuple := make([]any, len(cols))
		keyParts := make([]string, len(cols))
		for i, col := range cols {
			value, ok := row[col]
			if !ok {
				return nil, fmt.Errorf("missing key column %s", col)
			}
			tuple[i] = value
			keyParts[i] = fmt.Sprint(value)
		}
		key := strings.Join(keyParts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, tuple)
	}
	return values, nil
}

// fillParentKeyValues substitutes the parent key set into the
// placeholder conditions of a sub-request. The placeholder compares with
// set-in semantics: attribute IN (keys...).
func fillParentKeyValues(req *datasource.Request, values []any) {
	for gi := range req.Filter {
		for ci := range req.Filter[gi] {
			if req.Filter[gi][ci].ValueFromParentKey {
				req.Filter[gi][ci].Value = values
			}
		}
	}
}

// fillSubFilterValues substitutes the sub-filter key sets into the
// placeholder conditions referencing them.
func fillSubFilterValues(req *datasource.Request, keySets []any) {
	for gi := range req.Filter {
		for ci := range req.Filter[gi] {
			if idx := req.Filter[gi][ci].ValueFromSubFilter; idx != nil && *idx < len(keySets) {
				req.Filter[gi][ci].Value = keySets[*idx]
			}
		}
	}
}
