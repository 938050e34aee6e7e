package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v2"
)

// yamlConfig resolves flag defaults from a YAML document. Keys are flag
// names, either at the top level or in a section named after the command:
//
//	cell-size: 0.0003
//	run:
//	  tile-cache: 8
func yamlConfig(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	top := make(map[any]any, len(values))
	for k, v := range values {
		top[k] = v
	}

	var resolver kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		if node := parent.Node(); node != nil && node.Type == kong.CommandNode {
			if section, ok := values[node.Name].(map[any]any); ok {
				if v, ok := lookup(section, flag.Name); ok {
					return v, nil
				}
			}
		}
		if v, ok := lookup(top, flag.Name); ok {
			return v, nil
		}
		return nil, nil
	}
	return resolver, nil
}

func lookup(section map[any]any, name string) (string, bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		v, ok := section[key]
		if !ok {
			continue
		}
		switch v := v.(type) {
		case map[any]any, []any:
			return "", false
		case nil:
			return "", false
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}
