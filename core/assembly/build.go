// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package assembly

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/config"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
	"github.com/tessella-io/facet/core/request"
)

// keySeparator joins composite key values into index keys.
const keySeparator = "-"

// ItemHook is a per-item extension: it may inspect and mutate every
// assembled item of its resource before the response is emitted.
type ItemHook func(ctx context.Context, req *request.Request, item *Item) error

// Build stitches the raw results into the nested response. The resolved
// configuration provides the selection markers and the datasource
// choices the resolver made; itemHooks are keyed by resource name.
func Build(ctx context.Context, req *request.Request, rawResults []*datasource.RawResult, resolved *config.Node, itemHooks map[string]ItemHook) (*Response, error) {
	b := &builder{
		ctx:   ctx,
		req:   req,
		hooks: itemHooks,
		index: make(map[string]*indexedResult),
	}
	for _, raw := range rawResults {
		if err := b.link(raw); err != nil {
			return nil, err
		}
	}

	rootDS := resolved.SelectedDataSource
	root, ok := b.index[resultKey(resolved.SourceResource, nil, rootDS)]
	if !ok {
		return nil, fault.ErrMissingResult.New(req.Resource, rootDS)
	}

	if req.IsSingle() {
		if len(root.raw.Data) == 0 {
			return nil, fault.ErrNotFound.New()
		}
		item, err := b.buildItem(resolved, root.raw.Data[0], nil)
		if err != nil {
			return nil, err
		}
		return &Response{
			Data: item,
			Meta: Meta{StatusCode: http.StatusOK, Headers: http.Header{}},
		}, nil
	}

	items := make([]*Item, 0, len(root.raw.Data))
	for _, row := range root.raw.Data {
		item, err := b.buildItem(resolved, row, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &Response{
		Data:   items,
		Cursor: &Cursor{TotalCount: root.raw.TotalCount},
		Meta:   Meta{StatusCode: http.StatusOK, Headers: http.Header{}},
	}, nil
}

type builder struct {
	ctx   context.Context
	req   *request.Request
	hooks map[string]ItemHook
	index map[string]*indexedResult
}

// indexedResult is one raw result, indexed by its child key for O(1)
// joins. byKey values are a single row for unique child keys and a row
// list otherwise.
type indexedResult struct {
	raw   *datasource.RawResult
	byKey map[string]any
}

func resultKey(resource string, path []string, dataSource string) string {
	return resource + "|" + core.JoinPath(path) + "|" + dataSource
}

// link indexes one raw result by its position in the resource tree. A
// row missing a child key column is a data defect of the backend and
// fatal.
func (b *builder) link(raw *datasource.RawResult) error {
	idx := &indexedResult{raw: raw}
	if len(raw.ChildKey) > 0 {
		idx.byKey = make(map[string]any, len(raw.Data))
		for _, row := range raw.Data {
			key, err := rowKey(row, raw.ChildKey)
			if err != nil {
				return fault.ErrMissingKeyColumn.New(
					core.JoinPath(raw.AttributePath), raw.DataSourceName, err.Error())
			}
			if raw.UniqueChildKey {
				// duplicates silently overwrite, last write wins
				idx.byKey[key] = row
			} else {
				rows, _ := idx.byKey[key].([]datasource.Row)
				idx.byKey[key] = append(rows, row)
			}
		}
	}
	b.index[resultKey(raw.ResourceName, raw.AttributePath, raw.DataSourceName)] = idx
	return nil
}

// rowKey joins the values of the key columns into the index key.
func rowKey(row datasource.Row, cols []string) (string, error) {
	parts := make([]string, len(cols))
	for i, col := range cols {
		value, ok := row[col]
		if !ok {
			return "", fmt.Errorf("%s", col)
		}
		parts[i] = fmt.Sprint(value)
	}
	return strings.Join(parts, keySeparator), nil
}

// buildItem assembles one response object from its primary-datasource
// row, joining in secondary rows and recursing into sub-resources.
func (b *builder) buildItem(res *config.Node, row datasource.Row, path []string) (*Item, error) {
	primaryDS := res.SelectedDataSource
	pk, err := rowKey(row, res.ResolvedPrimaryKey[primaryDS])
	if err != nil {
		return nil, fault.ErrMissingKeyColumn.New(core.JoinPath(path), primaryDS, err.Error())
	}

	// look up this item's row in every secondary datasource result
	secondaryRows := map[string]datasource.Row{}
	for _, ds := range res.DataSources.Keys() {
		if ds == primaryDS {
			continue
		}
		idx, ok := b.index[resultKey(res.SourceResource, path, ds)]
		if !ok {
			continue
		}
		secondary, ok := idx.byKey[pk].(datasource.Row)
		if !ok {
			logger.FromContext(b.ctx).Debugf(
				"missing row %s in secondary datasource %s of %s", pk, ds, core.JoinPath(path))
			continue
		}
		secondaryRows[ds] = secondary
	}

	item := NewItem()
	if err := b.buildAttributes(res, res, row, secondaryRows, item, path, path); err != nil {
		return nil, err
	}

	if hook, ok := b.hooks[res.SourceResource]; ok && hook != nil {
		if err := hook(b.ctx, b.req, item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// buildAttributes emits the selected attributes of one attribute group
// in declaration order.
func (b *builder) buildAttributes(res, group *config.Node, row datasource.Row, secondaryRows map[string]datasource.Row, item *Item, resPath, path []string) error {
	var firstErr error
	group.Attributes.Range(func(name string, attr *config.Node) bool {
		if !attr.Selected || attr.Internal {
			return true
		}
		attrPath := append(append([]string(nil), path...), name)

		if attr.IsResource() {
			value, err := b.buildRelation(res, attr, row, secondaryRows, attrPath)
			if err != nil {
				firstErr = err
				return false
			}
			item.Set(name, value)
			return true
		}

		if attr.Value != nil {
			item.Set(name, attr.Value)
			return true
		}

		if attr.Attributes.Len() > 0 {
			nested := NewItem()
			if err := b.buildAttributes(res, attr, row, secondaryRows, nested, resPath, attrPath); err != nil {
				firstErr = err
				return false
			}
			item.Set(name, nested)
			return true
		}

		value, err := b.leafValue(res, attr, row, secondaryRows, resPath, attrPath)
		if err != nil {
			firstErr = err
			return false
		}
		item.Set(name, value)
		return true
	})
	return firstErr
}

// leafValue reads one leaf attribute from the row of its selected
// datasource. A missing secondary row yields null; a missing column in a
// present row is a data defect.
func (b *builder) leafValue(res, attr *config.Node, row datasource.Row, secondaryRows map[string]datasource.Row, resPath, path []string) (any, error) {
	ds := attr.SelectedDataSource
	if ds == "" {
		ds = res.SelectedDataSource
	}
	source := row
	if ds != res.SelectedDataSource {
		if _, planned := b.index[resultKey(res.SourceResource, resPath, ds)]; !planned {
			return nil, fault.ErrMissingResult.New(core.JoinPath(path), ds)
		}
		source = secondaryRows[ds]
		if source == nil {
			return nil, nil
		}
	}
	col, _ := attr.MappedColumn(ds)
	value, ok := source[col]
	if !ok {
		return nil, fault.ErrMissingColumn.New(core.JoinPath(path), ds, col)
	}
	return value, nil
}

// buildRelation assembles the value of one selected sub-resource:
// a list for 1:n and m:n relations, a single item or null for 1:1.
func (b *builder) buildRelation(res, rel *config.Node, row datasource.Row, secondaryRows map[string]datasource.Row, path []string) (any, error) {
	parentDS := rel.ParentDataSource
	source := row
	if parentDS != "" && parentDS != res.SelectedDataSource {
		source = secondaryRows[parentDS]
		if source == nil {
			if rel.Many {
				return []*Item{}, nil
			}
			return nil, nil
		}
	}
	parentCols := rel.ResolvedParentKey[parentDS]
	linkValues := make([]any, len(parentCols))
	allNull := true
	for i, col := range parentCols {
		value, ok := source[col]
		if !ok {
			return nil, fault.ErrMissingColumn.New(core.JoinPath(path), parentDS, col)
		}
		linkValues[i] = value
		if value != nil {
			allNull = false
		}
	}

	if rel.JoinVia != "" {
		return b.buildJoinViaRelation(rel, linkValues, path)
	}
	if rel.MultiValued {
		return b.buildMultiValuedRelation(rel, linkValues, path)
	}

	childDS := rel.SelectedDataSource
	idx, ok := b.index[resultKey(rel.SourceResource, path, childDS)]
	if !ok {
		return nil, fault.ErrMissingResult.New(core.JoinPath(path), childDS)
	}
	entry := idx.byKey[joinKeyValues(linkValues)]

	if rel.Many {
		rows, _ := entry.([]datasource.Row)
		items := make([]*Item, 0, len(rows))
		for _, subRow := range rows {
			item, err := b.buildItem(rel, subRow, path)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	subRow, ok := entry.(datasource.Row)
	if !ok {
		if !allNull {
			logger.FromContext(b.ctx).Debugf(
				"missing linked item %v in %s", linkValues, core.JoinPath(path))
		}
		return nil, nil
	}
	return b.buildItem(rel, subRow, path)
}

// buildJoinViaRelation traverses an m:n relation in two steps: the join
// table rows for this parent, then the target item per join row.
func (b *builder) buildJoinViaRelation(rel *config.Node, linkValues []any, path []string) (any, error) {
	joinIdx, ok := b.index[resultKey(rel.JoinVia, path, rel.JoinDataSource)]
	if !ok {
		return nil, fault.ErrMissingResult.New(core.JoinPath(path), rel.JoinDataSource)
	}

	joinRows, _ := joinIdx.byKey[joinKeyValues(linkValues)].([]datasource.Row)
	childIdx, ok := b.index[resultKey(rel.SourceResource, path, rel.SelectedDataSource)]
	if !ok {
		return nil, fault.ErrMissingResult.New(core.JoinPath(path), rel.SelectedDataSource)
	}

	joinChildCols := rel.ResolvedJoinChildKey[joinIdx.raw.DataSourceName]
	items := make([]*Item, 0, len(joinRows))
	for _, joinRow := range joinRows {
		key, err := rowKey(joinRow, joinChildCols)
		if err != nil {
			return nil, fault.ErrMissingKeyColumn.New(
				core.JoinPath(path), joinIdx.raw.DataSourceName, err.Error())
		}
		subRow, ok := childIdx.byKey[key].(datasource.Row)
		if !ok {
			logger.FromContext(b.ctx).Debugf(
				"missing joined item %s in %s", key, core.JoinPath(path))
			continue
		}
		item, err := b.buildItem(rel, subRow, path)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// buildMultiValuedRelation resolves an m:n relation backed by a
// delimited list column on the parent.
func (b *builder) buildMultiValuedRelation(rel *config.Node, linkValues []any, path []string) (any, error) {
	childIdx, ok := b.index[resultKey(rel.SourceResource, path, rel.SelectedDataSource)]
	if !ok {
		return nil, fault.ErrMissingResult.New(core.JoinPath(path), rel.SelectedDataSource)
	}
	list, _ := linkValues[0].(string)
	items := make([]*Item, 0)
	if list == "" {
		return items, nil
	}
	for _, part := range strings.Split(list, rel.Delimiter) {
		subRow, ok := childIdx.byKey[part].(datasource.Row)
		if !ok {
			logger.FromContext(b.ctx).Debugf(
				"missing multi-valued item %s in %s", part, core.JoinPath(path))
			continue
		}
		item, err := b.buildItem(rel, subRow, path)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// joinKeyValues renders link values the same way rowKey renders child
// key columns, so lookups match the index.
func joinKeyValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, keySeparator)
}
