// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
)

// ParseFunc parses one resource configuration document into a node.
type ParseFunc func(data []byte) (*Node, error)

// DefaultParsers returns the built-in parser registry, keyed by file
// extension without the dot.
func DefaultParsers() map[string]ParseFunc {
	return map[string]ParseFunc{
		"json": ParseJSON,
		"yaml": ParseYAML,
		"yml":  ParseYAML,
	}
}

// ParseJSON parses a JSON resource configuration.
func ParseJSON(data []byte) (*Node, error) {
	node := &Node{}
	if err := json.Unmarshal(data, node); err != nil {
		return nil, fault.ErrInvalidConfig.New(err.Error())
	}
	return node, nil
}

// ParseYAML parses a YAML resource configuration. The document is
// converted to JSON first, preserving mapping order, so both formats
// share one decode path.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fault.ErrInvalidConfig.New(err.Error())
	}
	jsonData, err := yamlToJSON(&doc)
	if err != nil {
		return nil, fault.ErrInvalidConfig.New(err.Error())
	}
	return ParseJSON(jsonData)
}

// yamlToJSON renders a yaml document as JSON, keeping mapping key order.
func yamlToJSON(n *yaml.Node) ([]byte, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return []byte("null"), nil
		}
		return yamlToJSON(n.Content[0])
	case yaml.MappingNode:
		var buf strings.Builder
		buf.WriteByte('{')
		for i := 0; i < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			value, err := yamlToJSON(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			buf.Write(value)
		}
		buf.WriteByte('}')
		return []byte(buf.String()), nil
	case yaml.SequenceNode:
		var buf strings.Builder
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			value, err := yamlToJSON(c)
			if err != nil {
				return nil, err
			}
			buf.Write(value)
		}
		buf.WriteByte(']')
		return []byte(buf.String()), nil
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!int", "!!float", "!!bool":
			return []byte(n.Value), nil
		case "!!null":
			return []byte("null"), nil
		default:
			return json.Marshal(n.Value)
		}
	case yaml.AliasNode:
		return yamlToJSON(n.Alias)
	}
	return nil, fmt.Errorf("unsupported yaml node kind %d", n.Kind)
}

// LoadResources reads all resource configurations below dir. Every
// directory containing a config.<ext> file with a registered parser
// becomes a resource; nested directories produce slash-separated
// resource names. Directories without a config file are ignored.
//
// The returned map is normalized and ready to serve requests.
func LoadResources(dir string, parsers map[string]ParseFunc) (map[string]*Node, error) {
	if parsers == nil {
		parsers = DefaultParsers()
	}
	resources := make(map[string]*Node)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), "config.") {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(info.Name()), ".")
		parse, ok := parsers[ext]
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == "." {
			return nil
		}
		if _, ok := resources[name]; ok {
			return fault.ErrInvalidConfig.New("resource " + name + " is configured twice")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		node, err := parse(data)
		if err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		resources[name] = node
		logger.Default().Debugln("loaded resource configuration:", name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := Normalize(resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// MustParse parses and normalizes a literal configuration mapping of
// resource name to JSON document. It panics on error and exists for
// tests and small services that embed their configuration.
func MustParse(docs map[string]string) map[string]*Node {
	resources := make(map[string]*Node, len(docs))
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node, err := ParseJSON([]byte(docs[name]))
		if err != nil {
			panic("resource " + name + ": " + err.Error())
		}
		resources[name] = node
	}
	if err := Normalize(resources); err != nil {
		panic(err)
	}
	return resources
}
