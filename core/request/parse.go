// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package request

import (
	"strconv"
	"strings"

	"github.com/tessella-io/facet/core"
	"github.com/tessella-io/facet/core/fault"
)

// ParseSelect parses the compact selection syntax:
//
//	id,title,author[firstname,lastname],comments(limit=3)[id,user.name]
//
// A dot descends into a single child, brackets select several children,
// parentheses carry the options limit, page and order.
func ParseSelect(s string) (*SelectTree, error) {
	p := &parser{s: s}
	tree, err := p.parseSelectTree()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, fault.ErrInvalidSyntax.New("select", p.rest())
	}
	return tree, nil
}

// ParseFilter parses the compact filter syntax, a disjunctive normal
// form over comparisons:
//
//	type=news AND author.id=11,12 OR type=special
//
// Comparison operators are = != < <= > >= and ~ for like. Comma-separated
// values form a list.
func ParseFilter(s string) (Filter, error) {
	var filter Filter
	for _, group := range strings.Split(s, " OR ") {
		var conjunction []Condition
		for _, term := range strings.Split(group, " AND ") {
			cond, err := parseCondition(strings.TrimSpace(term))
			if err != nil {
				return nil, err
			}
			conjunction = append(conjunction, cond)
		}
		filter = append(filter, conjunction)
	}
	return filter, nil
}

// ParseOrder parses the compact order syntax:
//
//	date:desc,name
//
// A missing direction means ascending.
func ParseOrder(s string) (OrderList, error) {
	var list OrderList
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fault.ErrInvalidSyntax.New("order", s)
		}
		item := OrderItem{Direction: core.DirectionAsc}
		if idx := strings.LastIndexByte(part, ':'); idx >= 0 {
			item.Direction = core.Direction(part[idx+1:])
			if !item.Direction.IsValid() {
				return nil, fault.ErrInvalidSyntax.New("order", part)
			}
			part = part[:idx]
		}
		item.Attribute = splitPath(part)
		list = append(list, item)
	}
	return list, nil
}

func splitPath(s string) []string {
	return strings.Split(s, ".")
}

var compactOperators = []struct {
	token string
	op    core.Operator
}{
	// longest first, the scan is greedy
	{"<=", core.OperatorLessOrEqual},
	{">=", core.OperatorGreaterOrEqual},
	{"!=", core.OperatorNotEqual},
	{"<", core.OperatorLess},
	{">", core.OperatorGreater},
	{"=", core.OperatorEqual},
	{"~", core.OperatorLike},
}

func parseCondition(term string) (Condition, error) {
	for _, candidate := range compactOperators {
		idx := strings.Index(term, candidate.token)
		if idx <= 0 {
			continue
		}
		attr := strings.TrimSpace(term[:idx])
		value := strings.TrimSpace(term[idx+len(candidate.token):])
		if attr == "" || value == "" {
			return Condition{}, fault.ErrInvalidSyntax.New("filter", term)
		}
		return Condition{
			Attribute: splitPath(attr),
			Operator:  candidate.op,
			Value:     parseValueList(value),
		}, nil
	}
	return Condition{}, fault.ErrInvalidSyntax.New("filter", term)
}

// parseValueList converts a comma-separated value string. A single value
// stays scalar, several values become a list.
func parseValueList(s string) any {
	parts := strings.Split(s, ",")
	values := make([]any, len(parts))
	for i, p := range parts {
		values[i] = parseValue(strings.TrimSpace(p))
	}
	if len(values) == 1 {
		return values[0]
	}
	return values
}

func parseValue(s string) any {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

type parser struct {
	s   string
	pos int
}

func (p *parser) rest() string {
	if p.pos >= len(p.s) {
		return ""
	}
	return p.s[p.pos:]
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) parseSelectTree() (*SelectTree, error) {
	tree := NewSelectTree()
	for {
		name, node, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		if existing, ok := tree.Get(name); ok {
			// the same attribute may appear twice, selections merge
			if node.Select != nil {
				if existing.Select == nil {
					existing.Select = NewSelectTree()
				}
				existing.Select.Merge(node.Select)
			}
		} else {
			tree.Set(name, node)
		}
		if p.peek() != ',' {
			return tree, nil
		}
		p.pos++
	}
}

func (p *parser) parseSelectItem() (string, *SelectNode, error) {
	name := p.parseIdentifier()
	if name == "" {
		return "", nil, fault.ErrInvalidSyntax.New("select", p.rest())
	}
	node := &SelectNode{}
	if p.peek() == '(' {
		if err := p.parseSelectOptions(node); err != nil {
			return "", nil, err
		}
	}
	switch p.peek() {
	case '.':
		p.pos++
		childName, childNode, err := p.parseSelectItem()
		if err != nil {
			return "", nil, err
		}
		node.Select = NewSelectTree()
		node.Select.Set(childName, childNode)
	case '[':
		p.pos++
		sub, err := p.parseSelectTree()
		if err != nil {
			return "", nil, err
		}
		if p.peek() != ']' {
			return "", nil, fault.ErrInvalidSyntax.New("select", p.rest())
		}
		p.pos++
		node.Select = sub
	}
	return name, node, nil
}

func (p *parser) parseSelectOptions(node *SelectNode) error {
	p.pos++ // consume '('
	for {
		key := p.parseIdentifier()
		if key == "" || p.peek() != '=' {
			return fault.ErrInvalidSyntax.New("select", p.rest())
		}
		p.pos++
		value := p.parseOptionValue()
		switch key {
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fault.ErrInvalidSyntax.New("select", value)
			}
			node.Limit = &n
		case "page":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fault.ErrInvalidSyntax.New("select", value)
			}
			node.Page = &n
		case "order":
			order, err := ParseOrder(value)
			if err != nil {
				return err
			}
			node.Order = order
		default:
			return fault.ErrInvalidSyntax.New("select", key)
		}
		if p.peek() == ')' {
			p.pos++
			return nil
		}
		if p.peek() != ',' {
			return fault.ErrInvalidSyntax.New("select", p.rest())
		}
		p.pos++
	}
}

func (p *parser) parseIdentifier() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	return p.s[start:p.pos]
}

// parseOptionValue reads until the next ',' or ')' on the current
// nesting level. Order values contain ':' which is fine here.
func (p *parser) parseOptionValue() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == ',' || c == ')' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}
